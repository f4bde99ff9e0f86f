package archive_reader

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/mholt/archives"

	"github.com/jfrog/go-stream-extractor/compression"
)

const (
	tarMagicOffset = 257
	tarBlockSize   = 512
	peekBufSize    = 32 * 1024
)

var (
	zipMagic      = []byte("PK\x03\x04")
	zipEmptyMagic = []byte("PK\x05\x06")
	tarMagic      = []byte("ustar")
)

// Open detects the container format of data and returns a Reader over it.
// Supported containers are zip, tar (plain or compressed), ar, cpio and a
// bare compressed stream, which surfaces as a single entry.
func Open(ctx context.Context, data []byte, options ...Option) (Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	config := newConfiguration(options)
	if len(data) == 0 {
		return nil, ErrEmptyArchive
	}
	switch {
	case bytes.HasPrefix(data, zipMagic), bytes.HasPrefix(data, zipEmptyMagic):
		return newZipReader(data, config)
	case bytes.HasPrefix(data, arMagic):
		return newArReader(data, config), nil
	case bytes.HasPrefix(data, cpioMagic):
		return newCpioReader(data, config), nil
	case isTar(data):
		source := io.NopCloser(bytes.NewReader(data))
		return newTarReader(source, compression.None, maxBytesLimit(len(data), config.MaxCompressRatio), config), nil
	}
	decompressed, method, err := compression.NewBytesReader(data, compression.WithName(config.Name))
	if err != nil {
		return nil, err
	}
	if method != compression.None {
		return openCompressed(decompressed, method, len(data), config)
	}
	return nil, identify(ctx, data, config)
}

func openCompressed(decompressed io.ReadCloser, method compression.Method, archiveSize int,
	config *readerConfiguration) (Reader, error) {
	br := bufio.NewReaderSize(decompressed, peekBufSize)
	source := &bufferedReadCloser{Reader: br, Closer: decompressed}
	limit := maxBytesLimit(archiveSize, config.MaxCompressRatio)
	head, err := br.Peek(tarBlockSize)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		decompressed.Close()
		return nil, fmt.Errorf("reading %s stream: %w", method, err)
	}
	if isTar(head) {
		return newTarReader(source, method, limit, config), nil
	}
	return newSingleReader(source, method, limit, config), nil
}

func isTar(data []byte) bool {
	if len(data) >= tarMagicOffset+len(tarMagic) &&
		bytes.Equal(data[tarMagicOffset:tarMagicOffset+len(tarMagic)], tarMagic) {
		return true
	}
	if len(data) < tarBlockSize {
		return false
	}
	// an empty tar is only its zero end-of-archive blocks
	if isZeroBlock(data[:tarBlockSize]) {
		return true
	}
	// pre-POSIX tar has no magic, a parseable first header is the best hint
	_, err := tar.NewReader(bytes.NewReader(data[:tarBlockSize])).Next()
	return err == nil
}

func isZeroBlock(block []byte) bool {
	for _, b := range block {
		if b != 0 {
			return false
		}
	}
	return true
}

// identify names the format of data when it is a container this package
// cannot traverse.
func identify(ctx context.Context, data []byte, config *readerConfiguration) error {
	format, _, err := archives.Identify(ctx, config.Name, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format.Extension())
}

type bufferedReadCloser struct {
	io.Reader
	io.Closer
}
