package archive_reader

import (
	"archive/tar"
	"context"
	"errors"
	"io"

	"github.com/jfrog/go-stream-extractor/compression"
	"github.com/jfrog/go-stream-extractor/utils"
)

type tarReader struct {
	config  *readerConfiguration
	session *session
	tr      *tar.Reader
	source  io.Closer
	method  compression.Method
	seen    int
}

func newTarReader(source io.ReadCloser, method compression.Method, limit *LimitAggregatingReadCloserProvider,
	config *readerConfiguration) *tarReader {
	return &tarReader{
		config:  config,
		session: newSession(true, limit),
		tr:      tar.NewReader(source),
		source:  source,
		method:  method,
	}
}

func (ta *tarReader) Format() string {
	if ta.method == compression.None {
		return "tar"
	}
	return "tar+" + string(ta.method)
}

func (ta *tarReader) Next(ctx context.Context) (*ArchiveHeader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var th *tar.Header
	gen, err := ta.session.advance(func() error {
		var err error
		th, err = ta.tr.Next()
		if errors.Is(err, tar.ErrInsecurePath) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	ta.seen++
	if err := ta.config.checkEntryCount(ta.seen); err != nil {
		return nil, err
	}
	isFolder := th.Typeflag == tar.TypeDir || utils.IsFolder(th.Name)
	size := th.Size
	if isFolder {
		size = 0
	}
	header := NewArchiveHeader(th.Name, th.ModTime.Unix(), size, isFolder)
	header.gen = gen
	return header, nil
}

func (ta *tarReader) OpenEntry(header *ArchiveHeader) (io.ReadCloser, error) {
	return ta.session.entry(header, func() (io.ReadCloser, error) {
		return io.NopCloser(ta.tr), nil
	})
}

func (ta *tarReader) Close() error {
	ta.session.close()
	return ta.source.Close()
}
