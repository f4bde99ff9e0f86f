package compression

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/flate"
	"compress/gzip"
	"compress/lzw"
	"compress/zlib"
	"errors"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/mholt/archives"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

const (
	bz2Ext   = ".bz2"
	tbz2Ext  = ".tbz2"
	gzExt    = ".gz"
	tgzExt   = ".tgz"
	lzwExt   = ".Z"
	inflExt  = ".infl"
	zlibExt  = ".xp3"
	xzExt    = ".xz"
	txzExt   = ".txz"
	lzmaExt  = ".lzma"
	tlzmaExt = ".tlzma"
	zstdExt  = ".zst"
	tzstExt  = ".tzst"
	lzipExt  = ".lz"

	maxMagicBytes = 6 // 6 is the biggest used here (xz)
)

var (
	gzipMagic = []byte{0x1F, 0x8B}
	bz2Magic  = []byte{0x42, 0x5A, 0x68}
	xzMagic   = []byte{0xFD, 0x37, 0x7A, 0x58, 0x5A, 0x00}
	lzmaMagic = []byte{0x5D, 0x00, 0x00}
	zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}
	lzipMagic = []byte{0x4C, 0x5A, 0x49, 0x50} // "LZIP"
)

const defaultBufSize = 32 * 1024

// Method names the detected compression of a stream.
type Method string

const (
	None  Method = "none"
	Bzip2 Method = "bzip2"
	Gzip  Method = "gzip"
	Xz    Method = "xz"
	Lzma  Method = "lzma"
	Zstd  Method = "zstd"
	Lzip  Method = "lzip"
	Lzw   Method = "lzw"
	Flate Method = "flate"
	Zlib  Method = "zlib"
)

type readerConfiguration struct {
	BufSize   int
	SkipBytes int64
	Name      string
}

type Option func(*readerConfiguration)

func WithSkipBytes(skipBytes int64) Option {
	return func(c *readerConfiguration) {
		c.SkipBytes = skipBytes
	}
}

func WithBufSize(size int) Option {
	return func(c *readerConfiguration) {
		c.BufSize = size
	}
}

// WithName gives the stream a file name so formats without magic bytes
// can be recognized by extension.
func WithName(name string) Option {
	return func(c *readerConfiguration) {
		c.Name = name
	}
}

// NewReader wraps src with a decompressing reader. The method is chosen by
// magic bytes first and by the configured name's extension second. When no
// compression is recognized the returned reader yields src unchanged and
// method is None.
func NewReader(src io.Reader, options ...Option) (reader io.ReadCloser, method Method, err error) {
	config := &readerConfiguration{BufSize: defaultBufSize, SkipBytes: 0}
	for _, option := range options {
		option(config)
	}
	if config.SkipBytes > 0 {
		if _, err = io.CopyN(io.Discard, src, config.SkipBytes); err != nil {
			return nil, None, err
		}
	}
	br := bufio.NewReaderSize(src, config.BufSize)
	method = Detect(br, config.Name)
	reader, err = initReader(br, method)
	return reader, method, err
}

// NewBytesReader is NewReader over an in-memory buffer.
func NewBytesReader(data []byte, options ...Option) (io.ReadCloser, Method, error) {
	return NewReader(bytes.NewReader(data), options...)
}

// Detect peeks at the head of br and returns the compression method. The
// peeked bytes stay buffered in br.
func Detect(br *bufio.Reader, name string) Method {
	ext := filepath.Ext(name)
	//these types has no defined magic bytes
	switch ext {
	case lzwExt:
		return Lzw
	case inflExt:
		return Flate
	case zlibExt:
		return Zlib
	case lzipExt:
		return Lzip
	}
	// if possible init by magic bytes
	if magic, magicErr := br.Peek(maxMagicBytes); magicErr == nil || len(magic) > 0 {
		switch {
		case bytes.HasPrefix(magic, bz2Magic):
			return Bzip2
		case bytes.HasPrefix(magic, gzipMagic):
			return Gzip
		case bytes.HasPrefix(magic, xzMagic):
			return Xz
		case bytes.HasPrefix(magic, lzmaMagic):
			return Lzma
		case bytes.HasPrefix(magic, lzipMagic):
			return Lzip
		case bytes.HasPrefix(magic, zstdMagic):
			return Zstd
		}
	}
	// fallback to init by extension
	switch strings.ToLower(ext) {
	case bz2Ext, tbz2Ext:
		return Bzip2
	case gzExt, tgzExt:
		return Gzip
	case xzExt, txzExt:
		return Xz
	case lzmaExt, tlzmaExt:
		return Lzma
	case zstdExt, tzstExt:
		return Zstd
	default:
		return None
	}
}

// TrimExt removes a known compression extension from name.
func TrimExt(name string) string {
	ext := filepath.Ext(name)
	switch ext {
	case tgzExt, tbz2Ext, txzExt, tlzmaExt, tzstExt:
		return strings.TrimSuffix(name, ext) + ".tar"
	case bz2Ext, gzExt, lzwExt, inflExt, zlibExt, xzExt, lzmaExt, zstdExt, lzipExt:
		return strings.TrimSuffix(name, ext)
	}
	return name
}

func initReader(r io.Reader, method Method) (io.ReadCloser, error) {
	getReader := fileReader
	switch method {
	case Bzip2:
		getReader = bz2Reader
	case Gzip:
		getReader = gzipReader
	case Xz:
		getReader = xzReader
	case Lzma:
		getReader = lzmaReader
	case Zstd:
		getReader = zstdReader
	case Lzip:
		getReader = lzipReader
	case Lzw:
		getReader = lzwReader
	case Flate:
		getReader = flateReader
	case Zlib:
		getReader = zlibReader
	}
	cr, err := getReader(r)
	if err != nil {
		return nil, &ErrGetReader{err}
	}
	return cr, nil
}

type ErrGetReader struct {
	err error
}

func (e *ErrGetReader) Error() string {
	return e.err.Error()
}

func (e *ErrGetReader) Unwrap() error {
	return e.err
}

func IsGetReaderError(err error) bool {
	var target *ErrGetReader
	return errors.As(err, &target)
}

func bz2Reader(reader io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(bzip2.NewReader(reader)), nil
}

func flateReader(reader io.Reader) (io.ReadCloser, error) {
	return flate.NewReader(reader), nil
}

func gzipReader(reader io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(reader)
}

func lzwReader(reader io.Reader) (io.ReadCloser, error) {
	return lzw.NewReader(reader, lzw.LSB, 8), nil
}

func zlibReader(reader io.Reader) (io.ReadCloser, error) {
	return zlib.NewReader(reader)
}

func xzReader(reader io.Reader) (io.ReadCloser, error) {
	r, err := xz.NewReader(reader)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(r), nil
}

func lzmaReader(reader io.Reader) (io.ReadCloser, error) {
	r, err := lzma.NewReader(reader)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(r), nil
}

func lzipReader(reader io.Reader) (io.ReadCloser, error) {
	r, err := archives.Lzip{}.OpenReader(reader)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func zstdReader(reader io.Reader) (io.ReadCloser, error) {
	r, err := zstd.NewReader(reader, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return r.IOReadCloser(), nil
}

func fileReader(reader io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(reader), nil
}
