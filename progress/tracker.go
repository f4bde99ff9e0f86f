package progress

import (
	"math"
	"sync/atomic"
)

// Tracker turns a processed count into a percent-complete value.
type Tracker struct {
	total     int64
	processed atomic.Int64
}

func NewTracker(total int64) *Tracker {
	return &Tracker{total: total}
}

func (t *Tracker) Update(processed int64) {
	t.processed.Store(processed)
}

// Add advances the processed count by delta and returns the new count.
func (t *Tracker) Add(delta int64) int64 {
	return t.processed.Add(delta)
}

func (t *Tracker) Total() int64 {
	return t.total
}

// Progress returns round(processed/total*100) capped at 100, or 100 when
// total is zero.
func (t *Tracker) Progress() int {
	if t.total <= 0 {
		return 100
	}
	p := int(math.Round(float64(t.processed.Load()) / float64(t.total) * 100))
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return p
}
