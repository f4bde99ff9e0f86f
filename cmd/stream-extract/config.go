package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"

	"github.com/jfrog/go-stream-extractor/archive_extractor"
	"github.com/jfrog/go-stream-extractor/archive_reader"
)

const unlimited = "unlimited"

// Config is the on-disk configuration. Byte sizes are human readable
// strings such as "64KB" or "100MiB".
type Config struct {
	MaxEntriesInMemory      int    `yaml:"max_entries_in_memory"`
	HighWaterMark           string `yaml:"high_water_mark"`
	AdaptiveBackpressure    bool   `yaml:"adaptive_backpressure"`
	MemoryLimit             string `yaml:"memory_limit"`
	WarningThresholdPercent int    `yaml:"warning_threshold_percent"`
	MaxEntrySize            string `yaml:"max_entry_size"`
	MaxCompressRatio        int64  `yaml:"max_compress_ratio"`
	MaxEntries              int    `yaml:"max_entries"`
	LogLevel                string `yaml:"log_level"`
}

func DefaultConfig() Config {
	return Config{
		MaxEntriesInMemory:      archive_extractor.DefaultMaxEntriesInMemory,
		MemoryLimit:             units.BytesSize(archive_extractor.DefaultMemoryLimitBytes),
		WarningThresholdPercent: archive_extractor.DefaultWarningThresholdPercent,
		LogLevel:                "info",
	}
}

// LoadConfig reads path over the defaults. Unknown keys are rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) ProcessingOptions() (archive_extractor.ProcessingOptions, error) {
	hwm, err := parseSize("high_water_mark", c.HighWaterMark)
	if err != nil {
		return archive_extractor.ProcessingOptions{}, err
	}
	maxEntrySize, err := parseSize("max_entry_size", c.MaxEntrySize)
	if err != nil {
		return archive_extractor.ProcessingOptions{}, err
	}
	memoryLimit := int64(-1)
	if !strings.EqualFold(strings.TrimSpace(c.MemoryLimit), unlimited) {
		if memoryLimit, err = parseSize("memory_limit", c.MemoryLimit); err != nil {
			return archive_extractor.ProcessingOptions{}, err
		}
	}
	return archive_extractor.ProcessingOptions{
		MaxEntriesInMemory:      c.MaxEntriesInMemory,
		HighWaterMark:           int(hwm),
		AdaptiveBackpressure:    c.AdaptiveBackpressure,
		MemoryLimitBytes:        memoryLimit,
		WarningThresholdPercent: c.WarningThresholdPercent,
		MaxEntrySize:            maxEntrySize,
	}, nil
}

func (c Config) ReaderOptions(archiveName string) []archive_reader.Option {
	return []archive_reader.Option{
		archive_reader.WithArchiveName(archiveName),
		archive_reader.WithMaxCompressRatio(c.MaxCompressRatio),
		archive_reader.WithMaxNumberOfEntries(c.MaxEntries),
	}
}

func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// parseSize accepts human sizes. Empty means zero.
func parseSize(key, value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	n, err := units.RAMInBytes(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s: negative size %q", key, value)
	}
	return n, nil
}
