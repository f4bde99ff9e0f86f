package backpressure

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

const DefaultSinkHighWaterMark = 16 * 1024

var ErrSinkClosed = errors.New("backpressure: sink closed")

// WriteFunc performs one write step. Calls never overlap.
type WriteFunc func(ctx context.Context, p []byte) error

// Sink queues writes for a single worker that hands them to a WriteFunc in
// order. Write blocks while the queued bytes are at or over the high-water
// mark. A nil error from Write means the bytes were accepted into the
// queue, not that they were written: only Close confirms that every
// accepted byte reached the WriteFunc. The first WriteFunc failure halts
// the sink: queued writes are dropped and every later Write and Close
// report that failure.
type Sink struct {
	writeFn WriteFunc
	hwm     int

	mu      sync.Mutex
	cond    *sync.Cond
	queue   [][]byte
	queued  int
	written int64
	err     error
	closing bool

	group *errgroup.Group
	stop  func() bool
}

// CreateControlledWritable starts a Sink over writeFn. A non-positive
// highWaterMark selects DefaultSinkHighWaterMark.
func CreateControlledWritable(ctx context.Context, writeFn WriteFunc, highWaterMark int) *Sink {
	if highWaterMark <= 0 {
		highWaterMark = DefaultSinkHighWaterMark
	}
	s := &Sink{writeFn: writeFn, hwm: highWaterMark}
	s.cond = sync.NewCond(&s.mu)
	group, gctx := errgroup.WithContext(ctx)
	s.group = group
	s.stop = context.AfterFunc(ctx, func() {
		s.fail(ctx.Err())
	})
	group.Go(func() error {
		return s.drain(gctx)
	})
	return s
}

func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.err == nil && !s.closing && s.queued > 0 && s.queued >= s.hwm {
		s.cond.Wait()
	}
	if s.err != nil {
		return 0, s.err
	}
	if s.closing {
		return 0, ErrSinkClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	s.queue = append(s.queue, bytes.Clone(p))
	s.queued += len(p)
	s.cond.Broadcast()
	return len(p), nil
}

// Written is the number of bytes whose write step completed.
func (s *Sink) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Close waits until every queued write settled and returns the first failure.
func (s *Sink) Close() error {
	s.mu.Lock()
	s.closing = true
	s.cond.Broadcast()
	s.mu.Unlock()

	err := s.group.Wait()
	s.stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	return err
}

func (s *Sink) drain(ctx context.Context) error {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closing && s.err == nil {
			s.cond.Wait()
		}
		if s.err != nil {
			err := s.err
			s.mu.Unlock()
			return err
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return nil
		}
		p := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		err := s.writeFn(ctx, p)

		s.mu.Lock()
		s.queued = max(0, s.queued-len(p))
		if err == nil {
			s.written += int64(len(p))
		}
		s.cond.Broadcast()
		s.mu.Unlock()
		if err != nil {
			s.fail(err)
			return err
		}
	}
}

func (s *Sink) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
	s.queue = nil
	s.queued = 0
	s.cond.Broadcast()
}
