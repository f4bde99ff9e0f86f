package archive_reader

import (
	"context"
	"io"
	"path"

	"github.com/jfrog/go-stream-extractor/compression"
)

const defaultSingleEntryName = "data"

// singleReader presents a bare compressed stream as an archive holding one
// entry named after the archive minus its compression extension. The
// uncompressed size is not known ahead of time and is reported as zero.
type singleReader struct {
	session *session
	source  io.ReadCloser
	method  compression.Method
	name    string
	done    bool
}

func newSingleReader(source io.ReadCloser, method compression.Method, limit *LimitAggregatingReadCloserProvider,
	config *readerConfiguration) *singleReader {
	name := defaultSingleEntryName
	if config.Name != "" {
		// removing the compression extension since the entry is the decompressed file
		name = compression.TrimExt(path.Base(config.Name))
	}
	return &singleReader{
		session: newSession(true, limit),
		source:  source,
		method:  method,
		name:    name,
	}
}

func (s *singleReader) Format() string {
	return string(s.method)
}

func (s *singleReader) EntryCount() int {
	return 1
}

func (s *singleReader) Next(ctx context.Context) (*ArchiveHeader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.done {
		return nil, io.EOF
	}
	s.done = true
	gen, err := s.session.advance(func() error { return nil })
	if err != nil {
		return nil, err
	}
	header := NewArchiveHeader(s.name, 0, 0, false)
	header.gen = gen
	return header, nil
}

func (s *singleReader) OpenEntry(header *ArchiveHeader) (io.ReadCloser, error) {
	return s.session.entry(header, func() (io.ReadCloser, error) {
		return io.NopCloser(s.source), nil
	})
}

func (s *singleReader) Close() error {
	s.session.close()
	return s.source.Close()
}
