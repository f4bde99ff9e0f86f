package archive_extractor

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/jfrog/go-stream-extractor/archive_reader"
	"github.com/jfrog/go-stream-extractor/memory"
)

// ArchiveData captures what a handler observed of one entry.
type ArchiveData struct {
	Name     string
	IsFolder bool
	ModTime  int64
	Size     int64
	Content  string
}

type collector struct {
	mu      sync.Mutex
	entries []ArchiveData
}

// processingFunc records every entry's metadata without reading its data.
func (c *collector) processingFunc(_ context.Context, entry *Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, ArchiveData{
		Name:     entry.Name,
		IsFolder: entry.IsDirectory,
		ModTime:  entry.ModTime,
		Size:     entry.Size,
	})
	return nil
}

// processingReadingFunc records every entry along with its full content.
func (c *collector) processingReadingFunc(_ context.Context, entry *Entry) error {
	b, err := io.ReadAll(entry)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, ArchiveData{
		Name:     entry.Name,
		IsFolder: entry.IsDirectory,
		ModTime:  entry.ModTime,
		Size:     entry.Size,
		Content:  string(b),
	})
	return nil
}

func (c *collector) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		names = append(names, e.Name)
	}
	return names
}

func heapSampler(heapUsed uint64) memory.Sampler {
	return memory.SamplerFunc(func() memory.Usage {
		return memory.Usage{HeapUsed: heapUsed}
	})
}

// newTestExtractor pins memory samples well under the default ceiling.
func newTestExtractor(options ...Option) *StreamingExtractor {
	return NewStreamingExtractor(append([]Option{WithMemorySampler(heapSampler(1024))}, options...)...)
}

// fakeReader serves fixed headers and fails on demand.
type fakeReader struct {
	headers []*archive_reader.ArchiveHeader
	pos     int
	nextErr error
	openErr error
	closed  bool
}

func (f *fakeReader) Next(context.Context) (*archive_reader.ArchiveHeader, error) {
	if f.pos < len(f.headers) {
		h := f.headers[f.pos]
		f.pos++
		return h, nil
	}
	if f.nextErr != nil {
		return nil, f.nextErr
	}
	return nil, io.EOF
}

func (f *fakeReader) OpenEntry(h *archive_reader.ArchiveHeader) (io.ReadCloser, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return io.NopCloser(strings.NewReader(strings.Repeat("x", int(h.Size)))), nil
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

func (f *fakeReader) opener() Option {
	return WithOpenFunc(func(context.Context, []byte, ...archive_reader.Option) (archive_reader.Reader, error) {
		return f, nil
	})
}

func fileHeaders(sizes ...int64) []*archive_reader.ArchiveHeader {
	headers := make([]*archive_reader.ArchiveHeader, 0, len(sizes))
	for i, size := range sizes {
		headers = append(headers, archive_reader.NewArchiveHeader(string(rune('a'+i))+".bin", 0, size, false))
	}
	return headers
}

type closeRecorder struct {
	io.Reader
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}
