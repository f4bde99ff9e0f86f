package archive_extractor

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfrog/go-stream-extractor/archive_extractor/archiver_errors"
	"github.com/jfrog/go-stream-extractor/archive_reader"
	"github.com/jfrog/go-stream-extractor/internal/testutil"
	"github.com/jfrog/go-stream-extractor/memory"
)

var nestedFiles = []testutil.File{
	{Name: "a.txt", Content: "hello world"},
	{Name: "b.txt", Content: "hello world!"},
	{Name: "dir/c.txt", Content: "nested content"},
}

func numberedFiles(n int) []testutil.File {
	files := make([]testutil.File, 0, n)
	for i := 0; i < n; i++ {
		files = append(files, testutil.File{Name: fmt.Sprintf("file-%03d.txt", i), Content: strings.Repeat("x", i)})
	}
	return files
}

func TestExtractEntriesNestedZip(t *testing.T) {
	result, err := newTestExtractor().ExtractEntries(context.Background(), testutil.Zip(t, nestedFiles...), ProcessingOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, result.ProcessedCount)
	assert.Equal(t, int64(37), result.TotalBytes)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, []EntryInfo{
		{Name: "a.txt", Size: 11},
		{Name: "b.txt", Size: 12},
		{Name: "dir/c.txt", Size: 14},
	}, result.Entries)
}

func TestExtractEntriesMemoryLimitExceeded(t *testing.T) {
	data := testutil.Zip(t, testutil.File{Name: "big.bin", Content: strings.Repeat("z", 1000)})
	var delivered int
	result, err := NewStreamingExtractor().ExtractEntries(context.Background(), data, ProcessingOptions{
		MemoryLimitBytes: 1,
		OnEntry: func(context.Context, *Entry) error {
			delivered++
			return nil
		},
	})
	assert.Nil(t, result)
	require.Error(t, err)
	assert.True(t, archiver_errors.IsMemoryLimitExceeded(err))
	assert.Contains(t, err.Error(), "Memory limit exceeded during processing")
	assert.Zero(t, delivered)
}

func TestExtractEntriesReadsContent(t *testing.T) {
	formats := map[string][]byte{
		"zip":     testutil.Zip(t, nestedFiles...),
		"tar":     testutil.Tar(t, nestedFiles...),
		"tar.gz":  testutil.TarGz(t, nestedFiles...),
		"tar.zst": testutil.TarZst(t, nestedFiles...),
		"tar.xz":  testutil.TarXz(t, nestedFiles...),
		"ar":      testutil.Ar(t, testutil.File{Name: "a.txt", Content: "hello world"}),
		"cpio":    testutil.Cpio(t, nestedFiles...),
	}
	for name, data := range formats {
		t.Run(name, func(t *testing.T) {
			c := &collector{}
			result, err := newTestExtractor().ExtractEntries(context.Background(), data, ProcessingOptions{
				OnEntry: c.processingReadingFunc,
			})
			require.NoError(t, err)
			require.NotEmpty(t, c.entries)
			assert.Equal(t, len(c.entries), result.ProcessedCount)
			assert.Equal(t, "a.txt", c.entries[0].Name)
			assert.Equal(t, "hello world", c.entries[0].Content)
			for _, e := range c.entries {
				assert.Equal(t, e.Size, int64(len(e.Content)), e.Name)
			}
		})
	}
}

func TestExtractEntriesWithBackpressure(t *testing.T) {
	files := []testutil.File{
		{Name: "large.bin", Content: strings.Repeat("0123456789", 20_000)},
		{Name: "small.txt", Content: "tail"},
	}
	for _, adaptive := range []bool{false, true} {
		t.Run(fmt.Sprintf("adaptive=%v", adaptive), func(t *testing.T) {
			c := &collector{}
			_, err := newTestExtractor().ExtractEntries(context.Background(), testutil.Tar(t, files...), ProcessingOptions{
				HighWaterMark:        1024,
				AdaptiveBackpressure: adaptive,
				OnEntry:              c.processingReadingFunc,
			})
			require.NoError(t, err)
			require.Len(t, c.entries, 2)
			assert.Equal(t, files[0].Content, c.entries[0].Content)
			assert.Equal(t, files[1].Content, c.entries[1].Content)
		})
	}
}

func TestExtractEntriesDirectories(t *testing.T) {
	files := []testutil.File{
		{Name: "dir/"},
		{Name: "dir/a.txt", Content: "hello world"},
		{Name: "dir/sub/"},
	}
	c := &collector{}
	result, err := newTestExtractor().ExtractEntries(context.Background(), testutil.Tar(t, files...), ProcessingOptions{
		OnEntry: c.processingReadingFunc,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.ProcessedCount)
	assert.Equal(t, int64(11), result.TotalBytes)
	require.Len(t, c.entries, 3)
	assert.True(t, c.entries[0].IsFolder)
	assert.Empty(t, c.entries[0].Content)
	assert.False(t, c.entries[1].IsFolder)
	assert.True(t, c.entries[2].IsFolder)
	assert.True(t, result.Entries[0].IsDirectory)
}

func TestExtractEntriesEviction(t *testing.T) {
	files := numberedFiles(25)
	var extracted []string
	result, err := newTestExtractor().ExtractEntries(context.Background(), testutil.Zip(t, files...), ProcessingOptions{
		MaxEntriesInMemory: 4,
		OnEntryExtracted:   func(e *Entry) { extracted = append(extracted, e.Name) },
	})
	require.NoError(t, err)
	assert.Equal(t, 25, result.ProcessedCount)
	assert.Equal(t, testutil.Names(files...), extracted)
	require.Len(t, result.Entries, 4)
	for i, info := range result.Entries {
		assert.Equal(t, files[21+i].Name, info.Name)
	}
}

func TestEntryBufferBoundAndOrder(t *testing.T) {
	b := newEntryBuffer(3)
	var sources []*closeRecorder
	for i := 0; i < 10; i++ {
		rec := &closeRecorder{Reader: strings.NewReader("")}
		sources = append(sources, rec)
		evicted := b.push(&Entry{Name: fmt.Sprint(i), data: rec})
		assert.LessOrEqual(t, b.count(), 3)
		if i < 3 {
			assert.Nil(t, evicted)
		} else {
			require.NotNil(t, evicted)
			assert.Equal(t, fmt.Sprint(i-3), evicted.Name)
		}
	}
	var names []string
	for _, e := range b.entries() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"7", "8", "9"}, names)
	for i, rec := range sources {
		assert.Equal(t, i < 7, rec.closed, "entry %d", i)
	}
	b.closeAll()
	for _, rec := range sources {
		assert.True(t, rec.closed)
	}
}

func TestExtractEntriesDeterministic(t *testing.T) {
	data := testutil.TarGz(t, numberedFiles(12)...)
	opts := ProcessingOptions{MaxEntriesInMemory: 5}
	first, err := newTestExtractor().ExtractEntries(context.Background(), data, opts)
	require.NoError(t, err)
	second, err := newTestExtractor().ExtractEntries(context.Background(), data, opts)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestExtractEntriesProgress(t *testing.T) {
	var percents []int
	_, err := newTestExtractor().ExtractEntries(context.Background(), testutil.Zip(t, numberedFiles(4)...), ProcessingOptions{
		OnProgress: func(p int) { percents = append(percents, p) },
	})
	require.NoError(t, err)
	assert.Equal(t, []int{25, 50, 75, 100}, percents)

	percents = nil
	_, err = newTestExtractor().ExtractEntries(context.Background(), testutil.Tar(t, numberedFiles(4)...), ProcessingOptions{
		OnProgress: func(p int) { percents = append(percents, p) },
	})
	require.NoError(t, err)
	assert.Equal(t, []int{100}, percents)
}

func TestExtractEntriesProgressIsMonotone(t *testing.T) {
	var percents []int
	_, err := newTestExtractor().ExtractEntries(context.Background(), testutil.Zip(t, numberedFiles(37)...), ProcessingOptions{
		OnProgress: func(p int) { percents = append(percents, p) },
	})
	require.NoError(t, err)
	require.NotEmpty(t, percents)
	for i := 1; i < len(percents); i++ {
		assert.Greater(t, percents[i], percents[i-1])
	}
	assert.Equal(t, 100, percents[len(percents)-1])
}

func TestExtractEntriesCallbackErrorUnchanged(t *testing.T) {
	boom := errors.New("boom")
	reader := &fakeReader{headers: fileHeaders(1, 2, 3)}
	calls := 0
	result, err := newTestExtractor(reader.opener()).ExtractEntries(context.Background(), nil, ProcessingOptions{
		OnEntry: func(context.Context, *Entry) error {
			calls++
			if calls == 2 {
				return boom
			}
			return nil
		},
	})
	assert.Nil(t, result)
	assert.Same(t, boom, err)
	assert.Equal(t, 2, calls)
	assert.True(t, reader.closed)
}

func TestExtractEntriesWarnings(t *testing.T) {
	result, err := newTestExtractor().ExtractEntries(context.Background(), testutil.Zip(t, nestedFiles...), ProcessingOptions{
		OnEntry: func(_ context.Context, e *Entry) error {
			if e.Name == "b.txt" {
				return archiver_errors.NewWarning("%s already exists", e.Name)
			}
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.ProcessedCount)
	assert.Equal(t, []string{"b.txt already exists"}, result.Warnings)
}

func TestExtractEntriesMaxEntrySize(t *testing.T) {
	c := &collector{}
	result, err := newTestExtractor().ExtractEntries(context.Background(), testutil.Zip(t, nestedFiles...), ProcessingOptions{
		MaxEntrySize: 12,
		OnEntry:      c.processingFunc,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.ProcessedCount)
	assert.Equal(t, int64(23), result.TotalBytes)
	assert.Equal(t, []string{"a.txt", "b.txt"}, c.names())
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "dir/c.txt")
}

func TestExtractEntriesOpenErrors(t *testing.T) {
	_, err := newTestExtractor().ExtractEntries(context.Background(), []byte("definitely not an archive"), ProcessingOptions{})
	require.Error(t, err)
	assert.True(t, archiver_errors.IsArchiveOpenError(err))
	assert.True(t, strings.HasPrefix(err.Error(), "Failed to open archive"))

	_, err = newTestExtractor().ExtractEntries(context.Background(), nil, ProcessingOptions{})
	assert.ErrorIs(t, err, archive_reader.ErrEmptyArchive)
	assert.True(t, archiver_errors.IsArchiveOpenError(err))
}

func TestExtractEntriesEntryStreamOpenError(t *testing.T) {
	cause := errors.New("bad local header")
	reader := &fakeReader{headers: fileHeaders(4), openErr: cause}
	_, err := newTestExtractor(reader.opener()).ExtractEntries(context.Background(), nil, ProcessingOptions{})
	require.Error(t, err)
	assert.True(t, archiver_errors.IsEntryStreamOpenError(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "Failed to open entry stream for a.bin")
	assert.True(t, reader.closed)
}

func TestExtractEntriesUnknownZipMethod(t *testing.T) {
	data := testutil.ZipMethod(t, 99, testutil.File{Name: "odd.bin", Content: "data"})
	var handled int
	result, err := newTestExtractor().ExtractEntries(context.Background(), data, ProcessingOptions{
		OnEntry: func(context.Context, *Entry) error {
			handled++
			return nil
		},
	})
	require.Error(t, err)
	assert.True(t, archiver_errors.IsEntryStreamOpenError(err))
	assert.ErrorIs(t, err, zip.ErrAlgorithm)
	assert.Contains(t, err.Error(), "Failed to open entry stream for odd.bin")
	assert.Zero(t, handled)
	assert.Nil(t, result)
}

func TestExtractEntriesEmptyTar(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, tar.NewWriter(&buf).Close())
	var progress []int
	result, err := newTestExtractor().ExtractEntries(context.Background(), buf.Bytes(), ProcessingOptions{
		OnProgress: func(p int) { progress = append(progress, p) },
	})
	require.NoError(t, err)
	assert.Zero(t, result.ProcessedCount)
	assert.Zero(t, result.TotalBytes)
	assert.Empty(t, result.Entries)
	assert.Equal(t, []int{100}, progress)
}

func TestExtractEntriesSamplesMemoryOncePerEntry(t *testing.T) {
	var samples int
	sampler := memory.SamplerFunc(func() memory.Usage {
		samples++
		return memory.Usage{HeapUsed: 90}
	})
	var warnings int
	_, err := newTestExtractor(WithMemorySampler(sampler)).
		ExtractEntries(context.Background(), testutil.Zip(t, nestedFiles...), ProcessingOptions{
			MemoryLimitBytes: 100,
			OnMemoryWarning:  func(memory.Usage) { warnings++ },
		})
	require.NoError(t, err)
	assert.Equal(t, 3, samples)
	assert.Equal(t, 3, warnings)
}

func TestZeroEntryReadsEmpty(t *testing.T) {
	var e Entry
	b, err := io.ReadAll(&e)
	require.NoError(t, err)
	assert.Empty(t, b)
	b, err = io.ReadAll(e.Reader())
	require.NoError(t, err)
	assert.Empty(t, b)
	assert.NoError(t, e.Close())
}

func TestExtractEntriesRuntimeError(t *testing.T) {
	cause := io.ErrUnexpectedEOF
	reader := &fakeReader{headers: fileHeaders(1, 1), nextErr: cause}
	var seen int
	_, err := newTestExtractor(reader.opener()).ExtractEntries(context.Background(), nil, ProcessingOptions{
		OnEntryExtracted: func(*Entry) { seen++ },
	})
	require.Error(t, err)
	assert.True(t, archiver_errors.IsArchiveRuntimeError(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 2, seen)
	assert.True(t, reader.closed)
}

func TestExtractEntriesTruncatedTar(t *testing.T) {
	data := testutil.Tar(t, numberedFiles(5)...)
	_, err := newTestExtractor().ExtractEntries(context.Background(), data[:700], ProcessingOptions{})
	require.Error(t, err)
	assert.True(t, archiver_errors.IsArchiveRuntimeError(err))
}

func TestExtractEntriesReaderLimits(t *testing.T) {
	files := numberedFiles(3)
	_, err := newTestExtractor(WithReaderOptions(archive_reader.WithMaxNumberOfEntries(2))).
		ExtractEntries(context.Background(), testutil.Zip(t, files...), ProcessingOptions{})
	assert.ErrorIs(t, err, archive_reader.ErrTooManyEntries)
	assert.True(t, archiver_errors.IsArchiveOpenError(err))

	_, err = newTestExtractor(WithReaderOptions(archive_reader.WithMaxNumberOfEntries(2))).
		ExtractEntries(context.Background(), testutil.Tar(t, files...), ProcessingOptions{})
	assert.ErrorIs(t, err, archive_reader.ErrTooManyEntries)
	assert.True(t, archiver_errors.IsArchiveRuntimeError(err))

	big := testutil.Zip(t, testutil.File{Name: "zeros.bin", Content: string(make([]byte, 64*1024))})
	c := &collector{}
	_, err = newTestExtractor(WithReaderOptions(archive_reader.WithMaxCompressRatio(1))).
		ExtractEntries(context.Background(), big, ProcessingOptions{OnEntry: c.processingReadingFunc})
	assert.True(t, archive_reader.IsErrCompressLimitReached(err))
}

func TestExtractEntriesMemoryWarning(t *testing.T) {
	var warnings []memory.Usage
	_, err := newTestExtractor(WithMemorySampler(heapSampler(90))).
		ExtractEntries(context.Background(), testutil.Zip(t, nestedFiles...), ProcessingOptions{
			MemoryLimitBytes: 100,
			OnMemoryWarning:  func(u memory.Usage) { warnings = append(warnings, u) },
		})
	require.NoError(t, err)
	require.Len(t, warnings, 3)
	assert.Equal(t, uint64(90), warnings[0].HeapUsed)
}

func TestExtractEntriesUnboundedMemory(t *testing.T) {
	result, err := NewStreamingExtractor(WithMemorySampler(heapSampler(1<<50))).
		ExtractEntries(context.Background(), testutil.Zip(t, nestedFiles...), ProcessingOptions{MemoryLimitBytes: -1})
	require.NoError(t, err)
	assert.Equal(t, 3, result.ProcessedCount)
}

func TestExtractEntriesCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := 0
	_, err := newTestExtractor().ExtractEntries(ctx, testutil.Tar(t, numberedFiles(5)...), ProcessingOptions{
		OnEntry: func(context.Context, *Entry) error {
			calls++
			cancel()
			return nil
		},
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, archiver_errors.IsArchiveRuntimeError(err))
	assert.Equal(t, 1, calls)
}

func TestProcessEntries(t *testing.T) {
	c := &collector{}
	err := newTestExtractor().ProcessEntries(context.Background(), testutil.TarGz(t, nestedFiles...), c.processingReadingFunc, ProcessingOptions{})
	require.NoError(t, err)
	assert.Equal(t, testutil.Names(nestedFiles...), c.names())
	assert.Equal(t, "nested content", c.entries[2].Content)
}

func TestProcessEntriesClosesEachEntry(t *testing.T) {
	var kept []*Entry
	err := newTestExtractor().ProcessEntries(context.Background(), testutil.Zip(t, nestedFiles...), func(_ context.Context, e *Entry) error {
		kept = append(kept, e)
		return nil
	}, ProcessingOptions{})
	require.NoError(t, err)
	require.Len(t, kept, 3)
	for _, e := range kept {
		_, err := e.Read(make([]byte, 1))
		assert.True(t, archive_reader.IsErrEntryExpired(err), e.Name)
	}
}

func TestExtractEntriesSequentialHandleExpires(t *testing.T) {
	var first *Entry
	_, err := newTestExtractor().ExtractEntries(context.Background(), testutil.Tar(t, nestedFiles...), ProcessingOptions{
		OnEntry: func(_ context.Context, e *Entry) error {
			if first == nil {
				first = e
				return nil
			}
			_, err := io.ReadAll(first)
			assert.True(t, archive_reader.IsErrEntryExpired(err))
			return nil
		},
	})
	require.NoError(t, err)
}

func TestProcessEntriesCallbackError(t *testing.T) {
	boom := errors.New("boom")
	err := newTestExtractor().ProcessEntries(context.Background(), testutil.Zip(t, nestedFiles...), func(context.Context, *Entry) error {
		return boom
	}, ProcessingOptions{})
	assert.Same(t, boom, err)
}

func TestProcessEntriesNilHandler(t *testing.T) {
	err := newTestExtractor().ProcessEntries(context.Background(), testutil.Zip(t, nestedFiles...), nil, ProcessingOptions{})
	assert.ErrorIs(t, err, ErrNilEntryHandler)
}

func TestProcessEntriesMemoryLimit(t *testing.T) {
	err := newTestExtractor(WithMemorySampler(heapSampler(2048))).
		ProcessEntries(context.Background(), testutil.Zip(t, nestedFiles...), func(context.Context, *Entry) error { return nil },
			ProcessingOptions{MemoryLimitBytes: 1024})
	var limitErr *archiver_errors.MemoryLimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, uint64(2048), limitErr.HeapUsed)
	assert.Equal(t, uint64(1024), limitErr.Limit)
}
