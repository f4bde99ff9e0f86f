// Package memory samples process memory against a configured ceiling.
//
// A Monitor never schedules checks on its own. Callers sample it at their
// decision points, typically once per processed archive entry.
package memory

import (
	"math"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/shirou/gopsutil/v4/process"
)

const (
	// Unbounded disables the memory ceiling.
	Unbounded uint64 = 0

	DefaultWarningThresholdPercent = 80
)

// Usage is a point-in-time memory sample. It is recomputed on every query.
type Usage struct {
	// HeapUsed is the number of bytes of allocated heap objects.
	HeapUsed uint64
	// HeapTotal is the heap memory obtained from the OS.
	HeapTotal uint64
	// External is runtime memory outside the heap (stacks, GC metadata, ...).
	External uint64
	// Resident is the resident set size of the process, zero when unknown.
	Resident uint64
	// BufferBytes is the amount currently held in tracked stream buffers.
	BufferBytes uint64
}

// Sampler produces memory samples.
type Sampler interface {
	Sample() Usage
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func() Usage

func (f SamplerFunc) Sample() Usage {
	return f()
}

// AlertFunc observes a usage sample past the warning threshold. It must not
// mutate state owned by the component that runs the check.
type AlertFunc func(Usage)

type Monitor struct {
	limit            uint64
	warningThreshold int
	sampler          Sampler
	bufferBytes      atomic.Int64

	mu    sync.Mutex
	alert AlertFunc
}

type Option func(*Monitor)

// WithLimit sets the heap ceiling in bytes. Unbounded disables it.
func WithLimit(limit uint64) Option {
	return func(m *Monitor) {
		m.limit = limit
	}
}

// WithWarningThreshold sets the warning threshold as a percentage of the limit.
func WithWarningThreshold(percent int) Option {
	return func(m *Monitor) {
		if percent > 0 {
			m.warningThreshold = percent
		}
	}
}

// WithSampler replaces the runtime sampler.
func WithSampler(s Sampler) Option {
	return func(m *Monitor) {
		if s != nil {
			m.sampler = s
		}
	}
}

func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		limit:            Unbounded,
		warningThreshold: DefaultWarningThresholdPercent,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sampler == nil {
		m.sampler = newRuntimeSampler()
	}
	return m
}

func (m *Monitor) Limit() uint64 {
	return m.limit
}

// CurrentUsage returns a fresh sample with the tracked buffer bytes filled in.
func (m *Monitor) CurrentUsage() Usage {
	u := m.sampler.Sample()
	if b := m.bufferBytes.Load(); b > 0 {
		u.BufferBytes = uint64(b)
	}
	return u
}

func (m *Monitor) IsLimitExceeded() bool {
	_, exceeded := m.Exceeded()
	return exceeded
}

// Exceeded is IsLimitExceeded that also returns the sample it judged.
func (m *Monitor) Exceeded() (Usage, bool) {
	u := m.CurrentUsage()
	if m.limit == Unbounded {
		return u, false
	}
	return u, u.HeapUsed > m.limit
}

func (m *Monitor) IsWarningThresholdExceeded() bool {
	return m.warningExceeded(m.CurrentUsage())
}

func (m *Monitor) warningExceeded(u Usage) bool {
	if m.limit == Unbounded {
		return false
	}
	return float64(u.HeapUsed) > float64(m.limit)*float64(m.warningThreshold)/100
}

// UsagePercentage is the heap usage as a rounded percentage of the limit,
// zero when unbounded.
func (m *Monitor) UsagePercentage() int {
	if m.limit == Unbounded {
		return 0
	}
	return int(math.Round(float64(m.CurrentUsage().HeapUsed) / float64(m.limit) * 100))
}

func (m *Monitor) SetAlertCallback(fn AlertFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alert = fn
}

// CheckAndAlert samples once and invokes the alert callback when the warning
// threshold is exceeded. It reports whether the threshold was exceeded.
func (m *Monitor) CheckAndAlert() bool {
	return m.CheckAndAlertUsage(m.CurrentUsage())
}

// CheckAndAlertUsage is CheckAndAlert over a sample the caller already took,
// typically the one returned by Exceeded.
func (m *Monitor) CheckAndAlertUsage(u Usage) bool {
	if !m.warningExceeded(u) {
		return false
	}
	m.mu.Lock()
	alert := m.alert
	m.mu.Unlock()
	if alert != nil {
		alert(u)
	}
	return true
}

// AddBufferBytes adjusts the tracked stream buffer gauge by delta.
func (m *Monitor) AddBufferBytes(delta int64) {
	m.bufferBytes.Add(delta)
}

type runtimeSampler struct {
	proc *process.Process
}

func newRuntimeSampler() *runtimeSampler {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		proc = nil
	}
	return &runtimeSampler{proc: proc}
}

func (s *runtimeSampler) Sample() Usage {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	u := Usage{
		HeapUsed:  ms.HeapAlloc,
		HeapTotal: ms.HeapSys,
		External:  ms.Sys - ms.HeapSys,
	}
	if s.proc != nil {
		if info, err := s.proc.MemoryInfo(); err == nil {
			u.Resident = info.RSS
		}
	}
	return u
}
