// Package backpressure paces byte producers against slow consumers.
//
// A controlled Source reads ahead from its underlying reader on a private
// goroutine and buffers what it read until the consumer asks for it. Once the
// buffer grows past the high-water mark the producer pauses for a delay that
// grows with the overshoot, then re-checks. A controlled Sink does the same on
// the write side by queueing writes for a single worker.
package backpressure

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

const (
	MinDelay  = 10 * time.Millisecond
	MaxDelay  = 100 * time.Millisecond
	delayUnit = 50 * time.Millisecond

	defaultReadSize = 32 * 1024
)

var ErrClosed = errors.New("backpressure: stream closed")

// WatermarkDelay is the pause applied when buffered bytes exceed the
// high-water mark: (buffered-hwm)/hwm * 50ms clamped to [10ms, 100ms]. It
// is zero at or under the mark.
func WatermarkDelay(buffered, highWaterMark int) time.Duration {
	if highWaterMark <= 0 || buffered <= highWaterMark {
		return 0
	}
	d := time.Duration(float64(buffered-highWaterMark) / float64(highWaterMark) * float64(delayUnit))
	return min(max(d, MinDelay), MaxDelay)
}

// AdaptiveDelay maps memory usage, as a percentage of the limit, to a pause.
func AdaptiveDelay(usagePercent int) time.Duration {
	switch {
	case usagePercent > 90:
		return 100 * time.Millisecond
	case usagePercent > 75:
		return 50 * time.Millisecond
	case usagePercent > 60:
		return 25 * time.Millisecond
	default:
		return 0
	}
}

// UsageReporter reports memory usage as a percentage of a limit.
type UsageReporter interface {
	UsagePercentage() int
}

// BufferTracker is told about every change to the amount of buffered bytes.
type BufferTracker interface {
	AddBufferBytes(delta int64)
}

// Stats describes the pauses a Source went through.
type Stats struct {
	Pauses      int
	PausedFor   time.Duration
	MaxBuffered int
}

type pacing struct {
	delay func(buffered int) time.Duration
	// repeat keeps pausing until delay reports zero
	repeat bool
}

type Option func(*Source)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		s.logger = logger
	}
}

func WithBufferTracker(tracker BufferTracker) Option {
	return func(s *Source) {
		s.tracker = tracker
	}
}

// WithReadSize sets how many bytes the producer asks for per read.
func WithReadSize(size int) Option {
	return func(s *Source) {
		if size > 0 {
			s.readSize = size
		}
	}
}

// WithPauseHook observes every pause before it starts.
func WithPauseHook(hook func(delay time.Duration, buffered int)) Option {
	return func(s *Source) {
		s.onPause = hook
	}
}

// Source is an io.ReadCloser with the same content as the reader it wraps.
// Reading starts the producer; a Source that is never read never touches
// the underlying reader.
type Source struct {
	src      io.Reader
	pacing   pacing
	readSize int
	tracker  BufferTracker
	logger   *slog.Logger
	onPause  func(time.Duration, int)

	mu      sync.Mutex
	cond    *sync.Cond
	buf     bytes.Buffer
	err     error
	closed  bool
	started bool
	stats   Stats

	done   chan struct{}
	exited chan struct{}
}

// ApplyBackpressure wraps src so that read-ahead pauses whenever more than
// highWaterMark bytes are buffered.
func ApplyBackpressure(src io.Reader, highWaterMark int, opts ...Option) *Source {
	return newSource(src, pacing{
		delay: func(buffered int) time.Duration {
			return WatermarkDelay(buffered, highWaterMark)
		},
		repeat: true,
	}, opts)
}

// ApplyAdaptiveBackpressure wraps src so that every read-ahead step waits
// for a delay derived from the monitor's memory usage.
func ApplyAdaptiveBackpressure(src io.Reader, monitor UsageReporter, opts ...Option) *Source {
	return newSource(src, pacing{
		delay: func(int) time.Duration {
			return AdaptiveDelay(monitor.UsagePercentage())
		},
	}, opts)
}

func newSource(src io.Reader, p pacing, opts []Option) *Source {
	s := &Source{
		src:      src,
		pacing:   p,
		readSize: defaultReadSize,
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *Source) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started && !s.closed {
		s.started = true
		go s.produce()
	}
	for s.buf.Len() == 0 && s.err == nil && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return 0, ErrClosed
	}
	if s.buf.Len() > 0 {
		n, _ := s.buf.Read(p)
		s.track(-n)
		s.cond.Broadcast()
		return n, nil
	}
	return 0, s.err
}

// Buffered is the number of bytes read ahead but not yet consumed.
func (s *Source) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Len()
}

func (s *Source) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close stops the producer, drops buffered bytes and closes the underlying
// reader when it is an io.Closer. It waits for an in-flight read of the
// underlying reader to return.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.track(-s.buf.Len())
	s.buf.Reset()
	s.cond.Broadcast()
	s.mu.Unlock()

	close(s.done)
	var err error
	if c, ok := s.src.(io.Closer); ok {
		err = c.Close()
	}
	if started {
		<-s.exited
	}
	return err
}

func (s *Source) produce() {
	defer close(s.exited)
	chunk := make([]byte, s.readSize)
	for {
		n, err := s.src.Read(chunk)

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		if n > 0 {
			s.buf.Write(chunk[:n])
			s.track(n)
			s.stats.MaxBuffered = max(s.stats.MaxBuffered, s.buf.Len())
		}
		if err != nil {
			s.err = err
		}
		buffered := s.buf.Len()
		s.cond.Broadcast()
		s.mu.Unlock()

		if err != nil || !s.pause(buffered) {
			return
		}
	}
}

// pause sleeps according to the pacing policy. It returns false when the
// source was closed while paused.
func (s *Source) pause(buffered int) bool {
	for {
		delay := s.pacing.delay(buffered)
		if delay <= 0 {
			return true
		}
		if s.onPause != nil {
			s.onPause(delay, buffered)
		}
		s.logger.Debug("pausing producer", "buffered", buffered, "delay", delay)
		timer := time.NewTimer(delay)
		select {
		case <-s.done:
			timer.Stop()
			return false
		case <-timer.C:
		}

		s.mu.Lock()
		s.stats.Pauses++
		s.stats.PausedFor += delay
		buffered = s.buf.Len()
		s.mu.Unlock()

		if !s.pacing.repeat {
			return true
		}
	}
}

func (s *Source) track(delta int) {
	if s.tracker != nil && delta != 0 {
		s.tracker.AddBufferBytes(int64(delta))
	}
}
