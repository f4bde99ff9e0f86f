package archive_extractor

import (
	"bytes"
	"io"
)

// Entry is one archive member as surfaced to callbacks. Reading it yields
// the member's decompressed bytes. File entries are bound to the reader
// session that produced them and fail with archive_reader.ErrEntryExpired
// once that session moved past them or closed. Entries are built by the
// extractor, a zero Entry reads as empty.
type Entry struct {
	Name        string
	Size        int64
	IsDirectory bool
	ModTime     int64

	data io.ReadCloser
}

func (e *Entry) Read(p []byte) (int, error) {
	if e.data == nil {
		return 0, io.EOF
	}
	return e.data.Read(p)
}

// Reader returns the entry's data stream.
func (e *Entry) Reader() io.Reader {
	if e.data == nil {
		return bytes.NewReader(nil)
	}
	return e.data
}

func (e *Entry) Close() error {
	if e.data == nil {
		return nil
	}
	return e.data.Close()
}

func (e *Entry) Info() EntryInfo {
	return EntryInfo{Name: e.Name, Size: e.Size, IsDirectory: e.IsDirectory}
}

// EntryInfo is the retained description of a processed entry.
type EntryInfo struct {
	Name        string
	Size        int64
	IsDirectory bool
}

// ExtractionResult summarizes a completed ExtractEntries call. Entries holds
// at most MaxEntriesInMemory descriptors, the most recent ones in archive
// order.
type ExtractionResult struct {
	ProcessedCount int
	TotalBytes     int64
	Entries        []EntryInfo
	Warnings       []string
}

func emptySource() io.ReadCloser {
	return io.NopCloser(bytes.NewReader(nil))
}
