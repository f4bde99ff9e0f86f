package archive_reader

import (
	"io"
	"sync/atomic"
)

// LimitAggregatingReadCloserProvider hands out readers that share a single
// byte budget, so the limit applies to the archive as a whole.
type LimitAggregatingReadCloserProvider struct {
	Limit int64
	total atomic.Int64
}

func (p *LimitAggregatingReadCloserProvider) CreateLimitAggregatingReadCloser(r io.ReadCloser) io.ReadCloser {
	return &limitAggregatingReadCloser{reader: r, provider: p}
}

// Total is the number of bytes read through all readers of p.
func (p *LimitAggregatingReadCloserProvider) Total() int64 {
	return p.total.Load()
}

type limitAggregatingReadCloser struct {
	reader   io.ReadCloser
	provider *LimitAggregatingReadCloserProvider
}

func (l *limitAggregatingReadCloser) Read(p []byte) (int, error) {
	n, err := l.reader.Read(p)
	if l.provider.total.Add(int64(n)) > l.provider.Limit {
		return n, ErrCompressLimitReached
	}
	return n, err
}

func (l *limitAggregatingReadCloser) Close() error {
	return l.reader.Close()
}

func maxBytesLimit(archiveSize int, maxCompressRatio int64) *LimitAggregatingReadCloserProvider {
	if maxCompressRatio <= 0 {
		return nil
	}
	return &LimitAggregatingReadCloserProvider{Limit: int64(archiveSize) * maxCompressRatio}
}
