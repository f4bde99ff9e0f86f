package archive_reader

import (
	"context"
	"errors"
	"io"
	"iter"
)

var (
	ErrEntryExpired         = errors.New("entry stream is no longer valid")
	ErrTooManyEntries       = errors.New("too many entries in archive")
	ErrCompressLimitReached = errors.New("decompressed bytes limit reached")
	ErrUnsupportedFormat    = errors.New("unsupported archive format")
	ErrEmptyArchive         = errors.New("archive is empty")
)

func IsErrCompressLimitReached(err error) bool {
	return errors.Is(err, ErrCompressLimitReached)
}

func IsErrEntryExpired(err error) bool {
	return errors.Is(err, ErrEntryExpired)
}

// ArchiveHeader describes one entry as emitted by a Reader.
type ArchiveHeader struct {
	Name     string
	ModTime  int64
	Size     int64
	IsFolder bool

	gen uint64
	ref any
}

func NewArchiveHeader(name string, modTime int64, size int64, isFolder bool) *ArchiveHeader {
	return &ArchiveHeader{Name: name, ModTime: modTime, Size: size, IsFolder: isFolder}
}

// Reader is a single-consumer, single-pass cursor over the entries of an
// archive. Next returns io.EOF after the last entry.
type Reader interface {
	Next(ctx context.Context) (*ArchiveHeader, error)
	// OpenEntry opens the data of the header most recently returned by Next.
	// Handles of sequential formats expire when Next is called again and
	// every handle expires once the Reader is closed.
	OpenEntry(header *ArchiveHeader) (io.ReadCloser, error)
	Close() error
}

// Counter is implemented by readers that know their entry count up front.
type Counter interface {
	EntryCount() int
}

// Format is implemented by readers to name their container format.
type Format interface {
	Format() string
}

// OpenFunc opens a Reader over in-memory archive bytes.
type OpenFunc func(ctx context.Context, data []byte, options ...Option) (Reader, error)

// Entries exposes r as a finite pull sequence. Iteration stops at the end
// of the archive or after yielding the first error.
func Entries(ctx context.Context, r Reader) iter.Seq2[*ArchiveHeader, error] {
	return func(yield func(*ArchiveHeader, error) bool) {
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			header, err := r.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(header, nil) {
				return
			}
		}
	}
}

type readerConfiguration struct {
	Name               string
	MaxCompressRatio   int64
	MaxNumberOfEntries int
}

type Option func(*readerConfiguration)

// WithArchiveName sets the file name used for extension based detection
// and for naming the entry of a single compressed stream.
func WithArchiveName(name string) Option {
	return func(c *readerConfiguration) {
		c.Name = name
	}
}

// WithMaxCompressRatio caps the decompressed bytes of all entries at
// ratio times the archive size. Zero disables the check.
func WithMaxCompressRatio(ratio int64) Option {
	return func(c *readerConfiguration) {
		c.MaxCompressRatio = ratio
	}
}

// WithMaxNumberOfEntries fails traversal once more than max entries are seen.
// Zero disables the check.
func WithMaxNumberOfEntries(max int) Option {
	return func(c *readerConfiguration) {
		c.MaxNumberOfEntries = max
	}
}

func newConfiguration(options []Option) *readerConfiguration {
	config := &readerConfiguration{}
	for _, option := range options {
		option(config)
	}
	return config
}

func (c *readerConfiguration) checkEntryCount(seen int) error {
	if c.MaxNumberOfEntries > 0 && seen > c.MaxNumberOfEntries {
		return ErrTooManyEntries
	}
	return nil
}
