package archive_reader

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/blakesmith/ar"
)

var arMagic = []byte("!<arch>\n")

type arReader struct {
	config  *readerConfiguration
	session *session
	ar      *ar.Reader
	seen    int
}

func newArReader(data []byte, config *readerConfiguration) *arReader {
	return &arReader{
		config:  config,
		session: newSession(true, maxBytesLimit(len(data), config.MaxCompressRatio)),
		ar:      ar.NewReader(bytes.NewReader(data)),
	}
}

func (a *arReader) Format() string {
	return "ar"
}

func (a *arReader) Next(ctx context.Context) (*ArchiveHeader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ah *ar.Header
	gen, err := a.session.advance(func() error {
		var err error
		ah, err = a.ar.Next()
		return err
	})
	if err != nil {
		return nil, err
	}
	a.seen++
	if err := a.config.checkEntryCount(a.seen); err != nil {
		return nil, err
	}
	// GNU ar terminates member names with a slash
	name := strings.TrimSuffix(strings.TrimSpace(ah.Name), "/")
	header := NewArchiveHeader(name, ah.ModTime.Unix(), ah.Size, false)
	header.gen = gen
	return header, nil
}

func (a *arReader) OpenEntry(header *ArchiveHeader) (io.ReadCloser, error) {
	return a.session.entry(header, func() (io.ReadCloser, error) {
		return io.NopCloser(a.ar), nil
	})
}

func (a *arReader) Close() error {
	a.session.close()
	return nil
}
