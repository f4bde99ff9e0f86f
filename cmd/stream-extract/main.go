package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/docker/go-units"

	"github.com/jfrog/go-stream-extractor/archive_extractor"
	"github.com/jfrog/go-stream-extractor/destination"
)

const usage = `Expected 'extract' or 'list' command
Usage:
  extract -archive <file> -dest <dir> [-config <file>] [options]
  list -archive <file> [-config <file>] [options]
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type commandFlags struct {
	archive              string
	dest                 string
	config               string
	memoryLimit          string
	highWaterMark        string
	maxEntrySize         string
	logLevel             string
	maxEntriesInMemory   int
	warningThreshold     int
	maxEntries           int
	maxCompressRatio     int64
	adaptiveBackpressure bool
	progress             bool
}

func newFlagSet(name string, stderr io.Writer) (*flag.FlagSet, *commandFlags) {
	cf := &commandFlags{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cf.archive, "archive", "", "Archive file to read")
	fs.StringVar(&cf.config, "config", "", "YAML configuration file")
	fs.StringVar(&cf.memoryLimit, "memory-limit", "", "Heap ceiling, e.g. 100MB, or 'unlimited'")
	fs.StringVar(&cf.highWaterMark, "high-water-mark", "", "Read-ahead bytes per entry before pacing, e.g. 64KB")
	fs.StringVar(&cf.maxEntrySize, "max-entry-size", "", "Skip entries declaring a larger size")
	fs.StringVar(&cf.logLevel, "log-level", "", "debug, info, warn or error")
	fs.IntVar(&cf.maxEntriesInMemory, "max-entries-in-memory", 0, "Entries retained for the summary")
	fs.IntVar(&cf.warningThreshold, "warning-threshold", 0, "Memory warning threshold in percent of the limit")
	fs.IntVar(&cf.maxEntries, "max-entries", 0, "Fail on archives with more entries (0 disables)")
	fs.Int64Var(&cf.maxCompressRatio, "max-compress-ratio", 0, "Fail past this decompressed to archive size ratio (0 disables)")
	fs.BoolVar(&cf.adaptiveBackpressure, "adaptive", false, "Pace entry streams by memory usage")
	fs.BoolVar(&cf.progress, "progress", false, "Print progress to stderr")
	if name == "extract" {
		fs.StringVar(&cf.dest, "dest", "", "Destination directory")
	}
	return fs, cf
}

// resolve loads the configuration file and applies the flags set on the
// command line over it.
func (cf *commandFlags) resolve(fs *flag.FlagSet) (Config, error) {
	cfg, err := LoadConfig(cf.config)
	if err != nil {
		return cfg, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "memory-limit":
			cfg.MemoryLimit = cf.memoryLimit
		case "high-water-mark":
			cfg.HighWaterMark = cf.highWaterMark
		case "max-entry-size":
			cfg.MaxEntrySize = cf.maxEntrySize
		case "log-level":
			cfg.LogLevel = cf.logLevel
		case "max-entries-in-memory":
			cfg.MaxEntriesInMemory = cf.maxEntriesInMemory
		case "warning-threshold":
			cfg.WarningThresholdPercent = cf.warningThreshold
		case "max-entries":
			cfg.MaxEntries = cf.maxEntries
		case "max-compress-ratio":
			cfg.MaxCompressRatio = cf.maxCompressRatio
		case "adaptive":
			cfg.AdaptiveBackpressure = cf.adaptiveBackpressure
		}
	})
	return cfg, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprint(stderr, usage)
		return 1
	}
	name := args[0]
	if name != "extract" && name != "list" {
		fmt.Fprintf(stderr, "Unknown command: %s\n", name)
		fmt.Fprint(stderr, usage)
		return 1
	}
	fs, cf := newFlagSet(name, stderr)
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	if cf.archive == "" || (name == "extract" && cf.dest == "") {
		fmt.Fprintln(stderr, "Archive file is required, extract also requires a destination")
		fs.PrintDefaults()
		return 1
	}
	cfg, err := cf.resolve(fs)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := execute(ctx, name, cf, cfg, stdout, stderr); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func execute(ctx context.Context, name string, cf *commandFlags, cfg Config, stdout, stderr io.Writer) error {
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	opts, err := cfg.ProcessingOptions()
	if err != nil {
		return err
	}
	if cf.progress {
		opts.OnProgress = func(percent int) {
			fmt.Fprintf(stderr, "progress: %d%%\n", percent)
		}
	}
	data, err := os.ReadFile(cf.archive)
	if err != nil {
		return err
	}
	extractor := archive_extractor.NewStreamingExtractor(
		archive_extractor.WithReaderOptions(cfg.ReaderOptions(filepath.Base(cf.archive))...),
		archive_extractor.WithLogger(logger),
	)

	if name == "list" {
		return extractor.ProcessEntries(ctx, data, func(_ context.Context, e *archive_extractor.Entry) error {
			kind := "f"
			if e.IsDirectory {
				kind = "d"
			}
			_, err := fmt.Fprintf(stdout, "%s\t%d\t%s\n", kind, e.Size, e.Name)
			return err
		}, opts)
	}

	sink, err := destination.NewDirSink(cf.dest,
		destination.WithLogger(logger),
		destination.WithHighWaterMark(opts.HighWaterMark))
	if err != nil {
		return err
	}
	opts.OnEntry = sink.WriteEntry
	result, err := extractor.ExtractEntries(ctx, data, opts)
	if err != nil {
		return err
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(stdout, "warning: %s\n", w)
	}
	fmt.Fprintf(stdout, "extracted %d entries (%s) to %s\n",
		result.ProcessedCount, units.HumanSize(float64(result.TotalBytes)), sink.Root())
	return nil
}
