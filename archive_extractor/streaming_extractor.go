// Package archive_extractor walks in-memory archives entry by entry under a
// memory ceiling, surfacing each entry's data as a lazily opened stream.
package archive_extractor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/docker/go-units"

	"github.com/jfrog/go-stream-extractor/archive_extractor/archiver_errors"
	"github.com/jfrog/go-stream-extractor/archive_reader"
	"github.com/jfrog/go-stream-extractor/backpressure"
	"github.com/jfrog/go-stream-extractor/memory"
	"github.com/jfrog/go-stream-extractor/progress"
)

var ErrNilEntryHandler = errors.New("entry handler is required")

// StreamingExtractor drives extractions. It holds no per-extraction state
// and may run several extractions at once.
type StreamingExtractor struct {
	open          archive_reader.OpenFunc
	readerOptions []archive_reader.Option
	sampler       memory.Sampler
	logger        *slog.Logger
}

func NewStreamingExtractor(options ...Option) *StreamingExtractor {
	e := &StreamingExtractor{
		open:   archive_reader.Open,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, option := range options {
		option(e)
	}
	return e
}

// ExtractEntries traverses the archive in data, retaining the most recent
// MaxEntriesInMemory entries, and returns the aggregate result. On failure
// no partial result is returned.
func (e *StreamingExtractor) ExtractEntries(ctx context.Context, data []byte, opts ProcessingOptions) (*ExtractionResult, error) {
	opts = opts.withDefaults()
	buffer := newEntryBuffer(opts.MaxEntriesInMemory)
	defer buffer.closeAll()

	t := e.newTraversal(opts)
	err := t.run(ctx, data, func(ctx context.Context, entry *Entry) error {
		buffer.push(entry)
		return t.deliver(ctx, entry, opts.OnEntry)
	})
	if err != nil {
		return nil, err
	}
	return &ExtractionResult{
		ProcessedCount: t.processed,
		TotalBytes:     t.totalBytes,
		Entries:        buffer.infos(),
		Warnings:       t.warnings,
	}, nil
}

// ProcessEntries hands every entry to onEntry and retains nothing. Each
// entry's stream is closed as soon as its callbacks return.
func (e *StreamingExtractor) ProcessEntries(ctx context.Context, data []byte, onEntry EntryHandler, opts ProcessingOptions) error {
	if onEntry == nil {
		return ErrNilEntryHandler
	}
	opts = opts.withDefaults()
	t := e.newTraversal(opts)
	return t.run(ctx, data, func(ctx context.Context, entry *Entry) error {
		defer entry.Close()
		return t.deliver(ctx, entry, onEntry)
	})
}

// traversal is the state of one extraction. It is confined to the calling
// goroutine.
type traversal struct {
	open          archive_reader.OpenFunc
	readerOptions []archive_reader.Option
	opts          ProcessingOptions
	monitor       *memory.Monitor
	logger        *slog.Logger

	tracker      *progress.Tracker
	lastProgress int
	processed    int
	totalBytes   int64
	warnings     []string
}

func (e *StreamingExtractor) newTraversal(opts ProcessingOptions) *traversal {
	t := &traversal{
		open:          e.open,
		readerOptions: e.readerOptions,
		opts:          opts,
		logger:        e.logger,
		lastProgress:  -1,
	}
	t.monitor = memory.NewMonitor(
		memory.WithLimit(opts.memoryLimit()),
		memory.WithWarningThreshold(opts.WarningThresholdPercent),
		memory.WithSampler(e.sampler),
	)
	t.monitor.SetAlertCallback(func(u memory.Usage) {
		t.logger.Warn("memory usage above warning threshold",
			"heap_used", units.BytesSize(float64(u.HeapUsed)),
			"limit", units.BytesSize(float64(t.monitor.Limit())),
			"threshold_percent", opts.WarningThresholdPercent)
		if opts.OnMemoryWarning != nil {
			opts.OnMemoryWarning(u)
		}
	})
	return t
}

func (t *traversal) run(ctx context.Context, data []byte, handle EntryHandler) error {
	start := time.Now()
	reader, err := t.open(ctx, data, t.readerOptions...)
	if err != nil {
		if isContextError(ctx, err) {
			return err
		}
		return archiver_errors.NewArchiveOpenError(err)
	}
	defer func() {
		if err := reader.Close(); err != nil {
			t.logger.Debug("closing archive reader", "error", err)
		}
	}()

	format := "unknown"
	if f, ok := reader.(archive_reader.Format); ok {
		format = f.Format()
	}
	t.logger = t.logger.With("format", format)
	if c, ok := reader.(archive_reader.Counter); ok {
		t.tracker = progress.NewTracker(int64(c.EntryCount()))
	}
	t.logger.Info("extracting archive",
		"size", units.HumanSize(float64(len(data))),
		"memory_limit", units.BytesSize(float64(t.monitor.Limit())))

	for header, err := range archive_reader.Entries(ctx, reader) {
		if err != nil {
			if isContextError(ctx, err) {
				return err
			}
			t.logger.Debug("archive traversal failed", "processed", t.processed, "error", err)
			return archiver_errors.NewArchiveRuntimeError(err)
		}
		if err := t.step(ctx, reader, header, handle); err != nil {
			return err
		}
	}
	t.completeProgress()
	t.logger.Info("archive extracted",
		"entries", t.processed,
		"bytes", units.HumanSize(float64(t.totalBytes)),
		"warnings", len(t.warnings),
		"duration", time.Since(start))
	return nil
}

func (t *traversal) step(ctx context.Context, reader archive_reader.Reader, header *archive_reader.ArchiveHeader, handle EntryHandler) error {
	usage, exceeded := t.monitor.Exceeded()
	if exceeded {
		t.logger.Debug("memory limit exceeded", "entry", header.Name, "heap_used", usage.HeapUsed)
		return archiver_errors.NewMemoryLimitExceededError(usage.HeapUsed, t.monitor.Limit())
	}
	t.monitor.CheckAndAlertUsage(usage)
	t.processed++

	if t.opts.MaxEntrySize > 0 && header.Size > t.opts.MaxEntrySize {
		t.warn("skipped %s: size %s exceeds the entry size limit %s", header.Name,
			units.BytesSize(float64(header.Size)), units.BytesSize(float64(t.opts.MaxEntrySize)))
		t.reportProgress()
		return nil
	}

	entry, err := t.openEntry(reader, header)
	if err != nil {
		return archiver_errors.NewEntryStreamOpenError(header.Name, err)
	}
	if !entry.IsDirectory {
		t.totalBytes += entry.Size
	}
	t.logger.Debug("entry", "name", entry.Name, "size", entry.Size, "dir", entry.IsDirectory)
	if err := handle(ctx, entry); err != nil {
		return err
	}
	t.reportProgress()
	return nil
}

func (t *traversal) openEntry(reader archive_reader.Reader, header *archive_reader.ArchiveHeader) (*Entry, error) {
	entry := &Entry{
		Name:        header.Name,
		Size:        header.Size,
		IsDirectory: header.IsFolder,
		ModTime:     header.ModTime,
	}
	if header.IsFolder {
		entry.data = emptySource()
		return entry, nil
	}
	rc, err := reader.OpenEntry(header)
	if err != nil {
		return nil, err
	}
	entry.data = t.pace(rc)
	return entry, nil
}

func (t *traversal) pace(rc io.ReadCloser) io.ReadCloser {
	options := []backpressure.Option{
		backpressure.WithLogger(t.logger),
		backpressure.WithBufferTracker(t.monitor),
	}
	switch {
	case t.opts.AdaptiveBackpressure && t.monitor.Limit() != memory.Unbounded:
		return backpressure.ApplyAdaptiveBackpressure(rc, t.monitor, options...)
	case t.opts.HighWaterMark > 0:
		return backpressure.ApplyBackpressure(rc, t.opts.HighWaterMark, options...)
	}
	return rc
}

// deliver runs the per-entry callbacks. A Warning from handler is recorded
// and swallowed.
func (t *traversal) deliver(ctx context.Context, entry *Entry, handler EntryHandler) error {
	if handler != nil {
		if err := handler(ctx, entry); err != nil {
			w, ok := archiver_errors.AsWarning(err)
			if !ok {
				return err
			}
			t.warn("%s", w.Error())
		}
	}
	if t.opts.OnEntryExtracted != nil {
		t.opts.OnEntryExtracted(entry)
	}
	return nil
}

func (t *traversal) warn(format string, args ...interface{}) {
	w := archiver_errors.NewWarning(format, args...)
	t.warnings = append(t.warnings, w.Error())
	t.logger.Warn("entry warning", "warning", w.Error())
}

func (t *traversal) reportProgress() {
	if t.tracker == nil {
		return
	}
	t.tracker.Update(int64(t.processed))
	t.emitProgress(t.tracker.Progress())
}

// completeProgress reports 100 once traversal ends. Without an up-front
// entry count this is the only report.
func (t *traversal) completeProgress() {
	t.emitProgress(100)
}

func (t *traversal) emitProgress(percent int) {
	if t.opts.OnProgress == nil || percent == t.lastProgress {
		return
	}
	t.lastProgress = percent
	t.opts.OnProgress(percent)
}

func isContextError(ctx context.Context, err error) bool {
	ctxErr := ctx.Err()
	return ctxErr != nil && errors.Is(err, ctxErr)
}
