// Package destination writes extracted entries below a directory.
package destination

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jfrog/go-stream-extractor/archive_extractor"
	"github.com/jfrog/go-stream-extractor/archive_extractor/archiver_errors"
	"github.com/jfrog/go-stream-extractor/backpressure"
	"github.com/jfrog/go-stream-extractor/chunking"
	"github.com/jfrog/go-stream-extractor/utils"
)

const (
	dirMode  = 0o755
	fileMode = 0o644
)

// DirSink materializes entries as files and directories under a root.
// Existing paths are never overwritten: collisions are reported as
// archiver_errors.Warning and the entry is skipped.
type DirSink struct {
	root          string
	highWaterMark int
	logger        *slog.Logger
	onProgress    func(name string, percent int)
}

type Option func(*DirSink)

// WithHighWaterMark bounds the bytes queued for the file writer of one entry.
func WithHighWaterMark(hwm int) Option {
	return func(d *DirSink) {
		d.highWaterMark = hwm
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *DirSink) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithProgress reports per-entry write progress.
func WithProgress(fn func(name string, percent int)) Option {
	return func(d *DirSink) {
		d.onProgress = fn
	}
}

func NewDirSink(root string, options ...Option) (*DirSink, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, dirMode); err != nil {
		return nil, err
	}
	d := &DirSink{
		root:          abs,
		highWaterMark: backpressure.DefaultSinkHighWaterMark,
		logger:        slog.New(slog.DiscardHandler),
	}
	for _, option := range options {
		option(d)
	}
	return d, nil
}

func (d *DirSink) Root() string {
	return d.root
}

// WriteEntry is an archive_extractor.EntryHandler.
func (d *DirSink) WriteEntry(ctx context.Context, entry *archive_extractor.Entry) error {
	name := utils.CleanEntryName(entry.Name)
	if name == "" || !utils.IsWithinRoot(d.root, name) {
		return archiver_errors.NewWarning("skipped %q: not a valid path below the destination", entry.Name)
	}
	target := filepath.FromSlash(utils.JoinPathKeepingUnixSlash(d.root, name))
	if entry.IsDirectory {
		return d.writeDir(name, target)
	}
	if _, err := os.Lstat(target); err == nil {
		return archiver_errors.NewWarning("skipped %s: name collision with an existing path", name)
	}
	if err := os.MkdirAll(filepath.Dir(target), dirMode); err != nil {
		return archiver_errors.NewProcessError(name, err)
	}
	written, err := d.writeFile(ctx, name, target, entry)
	if err != nil {
		if rmErr := os.Remove(target); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			d.logger.Debug("removing partial file", "path", target, "error", rmErr)
		}
		return archiver_errors.NewProcessError(name, err)
	}
	if entry.ModTime > 0 {
		mtime := time.Unix(entry.ModTime, 0)
		if err := os.Chtimes(target, mtime, mtime); err != nil {
			d.logger.Debug("setting modification time", "path", target, "error", err)
		}
	}
	d.logger.Debug("entry written", "name", name, "bytes", written)
	return nil
}

func (d *DirSink) writeDir(name, target string) error {
	info, err := os.Stat(target)
	switch {
	case err == nil && info.IsDir():
		return archiver_errors.NewWarning("directory %s already present", name)
	case err == nil:
		return archiver_errors.NewWarning("skipped directory %s: name collision with an existing file", name)
	}
	if err := os.MkdirAll(target, dirMode); err != nil {
		return archiver_errors.NewProcessError(name, err)
	}
	return nil
}

// writeFile pipes the entry through a chunker into a serialized file writer.
func (d *DirSink) writeFile(ctx context.Context, name, target string, entry *archive_extractor.Entry) (written int64, err error) {
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fileMode)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	sink := backpressure.CreateControlledWritable(ctx, func(_ context.Context, p []byte) error {
		_, err := f.Write(p)
		return err
	}, d.highWaterMark)
	chunker := chunking.NewAdaptiveChunker(name, entry.Size, func(chunk []byte) error {
		_, err := sink.Write(chunk)
		return err
	})

	flow := backpressure.FlowOptions{TotalBytes: entry.Size}
	if d.onProgress != nil {
		flow.OnProgress = func(percent int) { d.onProgress(name, percent) }
	}
	_, err = backpressure.MonitorStreamFlow(ctx, entry, chunker, flow)
	if err == nil {
		err = chunker.Flush()
	}
	if cerr := sink.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, err
	}
	if entry.Size > 0 && sink.Written() != entry.Size {
		return sink.Written(), fmt.Errorf("wrote %d bytes, entry declares %d", sink.Written(), entry.Size)
	}
	return sink.Written(), nil
}
