// Package chunking splits byte sequences into bounded-size slices, either
// all at once or incrementally with a carry-over remainder.
package chunking

import (
	"context"
	"errors"
	"io"
	"mime"
	"path"
	"strings"
)

const (
	TextChunkSize    = 32 * 1024
	ImageChunkSize   = 128 * 1024
	VideoChunkSize   = 512 * 1024
	DefaultChunkSize = 64 * 1024

	readBufSize = 32 * 1024
)

var ErrChunkerFlushed = errors.New("chunker already flushed")

// Category is a coarse content classification that drives chunk sizing.
type Category string

const (
	CategoryText    Category = "text"
	CategoryImage   Category = "image"
	CategoryVideo   Category = "video"
	CategoryDefault Category = "default"
)

var extCategories = map[string]Category{
	".txt": CategoryText, ".md": CategoryText, ".csv": CategoryText, ".json": CategoryText,
	".xml": CategoryText, ".yaml": CategoryText, ".yml": CategoryText, ".html": CategoryText,
	".css": CategoryText, ".js": CategoryText, ".go": CategoryText, ".log": CategoryText,
	".png": CategoryImage, ".jpg": CategoryImage, ".jpeg": CategoryImage, ".gif": CategoryImage,
	".webp": CategoryImage, ".bmp": CategoryImage, ".svg": CategoryImage,
	".mp4": CategoryVideo, ".mkv": CategoryVideo, ".mov": CategoryVideo, ".webm": CategoryVideo,
	".avi": CategoryVideo,
}

// CategoryForName classifies an entry name by its extension.
func CategoryForName(name string) Category {
	ext := strings.ToLower(path.Ext(name))
	if c, ok := extCategories[ext]; ok {
		return c
	}
	mediaType := mime.TypeByExtension(ext)
	switch {
	case strings.HasPrefix(mediaType, "text/"):
		return CategoryText
	case strings.HasPrefix(mediaType, "image/"):
		return CategoryImage
	case strings.HasPrefix(mediaType, "video/"):
		return CategoryVideo
	}
	return CategoryDefault
}

// DetermineOptimalChunkSize picks the chunk size for content of the given
// category, never larger than dataSize.
func DetermineOptimalChunkSize(category Category, dataSize int) int {
	size := DefaultChunkSize
	switch category {
	case CategoryText:
		size = TextChunkSize
	case CategoryImage:
		size = ImageChunkSize
	case CategoryVideo:
		size = VideoChunkSize
	}
	return min(size, dataSize)
}

// SplitFixed returns consecutive slices of data, each chunkSize long except
// possibly the last. The slices share data's backing array.
func SplitFixed(data []byte, chunkSize int) [][]byte {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	chunks := make([][]byte, 0, (len(data)+chunkSize-1)/chunkSize)
	for len(data) > 0 {
		n := min(chunkSize, len(data))
		chunks = append(chunks, data[:n:n])
		data = data[n:]
	}
	return chunks
}

// EmitFunc receives a chunk. The chunk is owned by the receiver.
type EmitFunc func(chunk []byte) error

// Chunker reassembles arbitrarily sized writes into fixed-size chunks. Bytes
// that do not fill a chunk are carried over to the next Write; Flush emits
// what is left as a final, possibly undersized, chunk.
type Chunker struct {
	size    int
	emit    EmitFunc
	buf     []byte
	emitted int64
	flushed bool
}

func NewChunker(chunkSize int, emit EmitFunc) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Chunker{size: chunkSize, emit: emit}
}

// NewAdaptiveChunker sizes chunks from the entry name and declared size. An
// unknown (zero) size falls back to DefaultChunkSize.
func NewAdaptiveChunker(name string, declaredSize int64, emit EmitFunc) *Chunker {
	size := DetermineOptimalChunkSize(CategoryForName(name), int(min(declaredSize, VideoChunkSize)))
	return NewChunker(size, emit)
}

func (c *Chunker) ChunkSize() int {
	return c.size
}

// Pending is the size of the carried-over remainder.
func (c *Chunker) Pending() int {
	return len(c.buf)
}

// Emitted is the number of bytes handed to the emit function so far.
func (c *Chunker) Emitted() int64 {
	return c.emitted
}

func (c *Chunker) Write(p []byte) (int, error) {
	if c.flushed {
		return 0, ErrChunkerFlushed
	}
	written := 0
	for len(p) > 0 {
		if c.buf == nil {
			c.buf = make([]byte, 0, c.size)
		}
		n := min(c.size-len(c.buf), len(p))
		c.buf = append(c.buf, p[:n]...)
		p = p[n:]
		written += n
		if len(c.buf) == c.size {
			if err := c.send(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

// Flush emits the remainder, if any. Further writes fail.
func (c *Chunker) Flush() error {
	if c.flushed {
		return nil
	}
	c.flushed = true
	if len(c.buf) == 0 {
		return nil
	}
	return c.send()
}

func (c *Chunker) send() error {
	chunk := c.buf
	c.buf = nil
	c.emitted += int64(len(chunk))
	return c.emit(chunk)
}

// SplitReader reads r to the end and emits its content in chunkSize chunks.
func SplitReader(ctx context.Context, r io.Reader, chunkSize int, emit EmitFunc) (int64, error) {
	c := NewChunker(chunkSize, emit)
	buf := make([]byte, readBufSize)
	for {
		if err := ctx.Err(); err != nil {
			return c.Emitted(), err
		}
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := c.Write(buf[:n]); werr != nil {
				return c.Emitted(), werr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return c.Emitted(), err
		}
	}
	err := c.Flush()
	return c.Emitted(), err
}
