package archive_extractor

import (
	"context"
	"log/slog"

	"github.com/jfrog/go-stream-extractor/archive_reader"
	"github.com/jfrog/go-stream-extractor/memory"
)

const (
	DefaultMaxEntriesInMemory      = 1000
	DefaultMemoryLimitBytes        = 100 * 1024 * 1024
	DefaultWarningThresholdPercent = memory.DefaultWarningThresholdPercent
)

// EntryHandler consumes one entry. Traversal advances only after it returns.
// Returning an *archiver_errors.Warning records the warning and continues,
// any other error aborts the extraction and is returned as is.
type EntryHandler func(ctx context.Context, entry *Entry) error

// ProcessingOptions configures one extraction. Zero values select defaults.
type ProcessingOptions struct {
	// MaxEntriesInMemory caps the entries ExtractEntries retains.
	MaxEntriesInMemory int
	// HighWaterMark paces each file entry's stream once more than this many
	// bytes are read ahead. Zero disables pacing.
	HighWaterMark int
	// AdaptiveBackpressure paces file entry streams by memory usage relative
	// to MemoryLimitBytes instead of HighWaterMark.
	AdaptiveBackpressure bool
	// MemoryLimitBytes is the heap ceiling checked before every entry.
	// Negative disables the ceiling.
	MemoryLimitBytes        int64
	WarningThresholdPercent int
	// MaxEntrySize skips entries declaring a larger size, with a warning.
	// Zero means unlimited.
	MaxEntrySize int64

	OnProgress       func(percent int)
	OnEntry          EntryHandler
	OnEntryExtracted func(entry *Entry)
	OnMemoryWarning  func(usage memory.Usage)
}

func (o ProcessingOptions) withDefaults() ProcessingOptions {
	if o.MaxEntriesInMemory <= 0 {
		o.MaxEntriesInMemory = DefaultMaxEntriesInMemory
	}
	if o.MemoryLimitBytes == 0 {
		o.MemoryLimitBytes = DefaultMemoryLimitBytes
	}
	if o.WarningThresholdPercent <= 0 {
		o.WarningThresholdPercent = DefaultWarningThresholdPercent
	}
	if o.HighWaterMark < 0 {
		o.HighWaterMark = 0
	}
	return o
}

func (o ProcessingOptions) memoryLimit() uint64 {
	if o.MemoryLimitBytes < 0 {
		return memory.Unbounded
	}
	return uint64(o.MemoryLimitBytes)
}

type Option func(*StreamingExtractor)

// WithOpenFunc replaces archive_reader.Open.
func WithOpenFunc(open archive_reader.OpenFunc) Option {
	return func(e *StreamingExtractor) {
		if open != nil {
			e.open = open
		}
	}
}

// WithReaderOptions are passed to the open function on every extraction.
func WithReaderOptions(options ...archive_reader.Option) Option {
	return func(e *StreamingExtractor) {
		e.readerOptions = append(e.readerOptions, options...)
	}
}

// WithMemorySampler makes every extraction's memory monitor sample through s.
func WithMemorySampler(s memory.Sampler) Option {
	return func(e *StreamingExtractor) {
		e.sampler = s
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *StreamingExtractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}
