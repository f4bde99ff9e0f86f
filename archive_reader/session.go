package archive_reader

import (
	"io"
	"sync"
)

// session ties entry handles to the lifetime of a reader. For sequential
// formats every advance bumps the generation and invalidates older handles.
// The lock also serializes handle reads with the reader's own advance since
// both share one underlying stream.
type session struct {
	mu         sync.Mutex
	gen        uint64
	closed     bool
	sequential bool
	limit      *LimitAggregatingReadCloserProvider
}

func newSession(sequential bool, limit *LimitAggregatingReadCloserProvider) *session {
	return &session{sequential: sequential, limit: limit}
}

// advance runs next under the session lock after invalidating the handles
// of the previous generation.
func (s *session) advance(next func() error) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.gen, ErrEntryExpired
	}
	s.gen++
	return s.gen, next()
}

func (s *session) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *session) valid(gen uint64) bool {
	if s.closed {
		return false
	}
	return !s.sequential || gen == s.gen
}

// entry opens a handle for header. open is deferred until the first read so
// that buffered but unread entries hold no decoder state.
func (s *session) entry(header *ArchiveHeader, open func() (io.ReadCloser, error)) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid(header.gen) {
		return nil, ErrEntryExpired
	}
	return &entryHandle{session: s, gen: header.gen, open: open}, nil
}

type entryHandle struct {
	session *session
	gen     uint64
	open    func() (io.ReadCloser, error)
	rc      io.ReadCloser
	closed  bool
}

func (h *entryHandle) Read(p []byte) (int, error) {
	s := h.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.closed || !s.valid(h.gen) {
		return 0, ErrEntryExpired
	}
	if h.rc == nil {
		rc, err := h.open()
		if err != nil {
			return 0, err
		}
		if s.limit != nil {
			rc = s.limit.CreateLimitAggregatingReadCloser(rc)
		}
		h.rc = rc
	}
	return h.rc.Read(p)
}

func (h *entryHandle) Close() error {
	s := h.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if h.rc != nil {
		return h.rc.Close()
	}
	return nil
}
