package archive_reader

import (
	"bytes"
	"context"
	"io"

	"github.com/cavaliercoder/go-cpio"

	"github.com/jfrog/go-stream-extractor/utils"
)

var cpioMagic = []byte("07070")

type cpioReader struct {
	config  *readerConfiguration
	session *session
	cr      *cpio.Reader
	seen    int
}

func newCpioReader(data []byte, config *readerConfiguration) *cpioReader {
	return &cpioReader{
		config:  config,
		session: newSession(true, maxBytesLimit(len(data), config.MaxCompressRatio)),
		cr:      cpio.NewReader(bytes.NewReader(data)),
	}
}

func (c *cpioReader) Format() string {
	return "cpio"
}

func (c *cpioReader) Next(ctx context.Context) (*ArchiveHeader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ch *cpio.Header
	gen, err := c.session.advance(func() error {
		var err error
		ch, err = c.cr.Next()
		return err
	})
	if err != nil {
		return nil, err
	}
	c.seen++
	if err := c.config.checkEntryCount(c.seen); err != nil {
		return nil, err
	}
	isFolder := ch.Mode.IsDir() || utils.IsFolder(ch.Name)
	size := ch.Size
	if isFolder {
		size = 0
	}
	header := NewArchiveHeader(ch.Name, ch.ModTime.Unix(), size, isFolder)
	header.gen = gen
	return header, nil
}

func (c *cpioReader) OpenEntry(header *ArchiveHeader) (io.ReadCloser, error) {
	return c.session.entry(header, func() (io.ReadCloser, error) {
		return io.NopCloser(c.cr), nil
	})
}

func (c *cpioReader) Close() error {
	c.session.close()
	return nil
}
