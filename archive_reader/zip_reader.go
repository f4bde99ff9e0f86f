package archive_reader

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/jfrog/go-stream-extractor/utils"
)

type zipReader struct {
	config  *readerConfiguration
	session *session
	files   []*zip.File
	next    int
}

func newZipReader(data []byte, config *readerConfiguration) (*zipReader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	// entry names are sanitized by consumers, insecure paths are still listed
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, err
	}
	if err := config.checkEntryCount(len(zr.File)); err != nil {
		return nil, err
	}
	return &zipReader{
		config:  config,
		session: newSession(false, maxBytesLimit(len(data), config.MaxCompressRatio)),
		files:   zr.File,
	}, nil
}

func (zr *zipReader) Format() string {
	return "zip"
}

func (zr *zipReader) EntryCount() int {
	return len(zr.files)
}

func (zr *zipReader) Next(ctx context.Context) (*ArchiveHeader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if zr.next >= len(zr.files) {
		return nil, io.EOF
	}
	f := zr.files[zr.next]
	zr.next++
	gen, err := zr.session.advance(func() error { return nil })
	if err != nil {
		return nil, err
	}
	header := NewArchiveHeader(f.Name, f.Modified.Unix(), int64(f.UncompressedSize64),
		f.FileInfo().IsDir() || utils.IsFolder(f.Name))
	header.gen = gen
	header.ref = f
	return header, nil
}

func (zr *zipReader) OpenEntry(header *ArchiveHeader) (io.ReadCloser, error) {
	f, ok := header.ref.(*zip.File)
	if !ok {
		return nil, ErrEntryExpired
	}
	// fails on a bad local header or an unknown method, the decoder is
	// created again on first read
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	if err := rc.Close(); err != nil {
		return nil, err
	}
	return zr.session.entry(header, f.Open)
}

func (zr *zipReader) Close() error {
	zr.session.close()
	return nil
}
