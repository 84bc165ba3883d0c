// Package profiler measures wall-clock duration and heap growth of named
// operations during a migration run and derives tuning recommendations from
// the collected samples.
package profiler

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	logger "github.com/kurobane/migrata/pkg/etl/support/logger"
)

const (
	// slowOperationThreshold is the average duration above which an operation
	// is flagged as a tuning candidate.
	slowOperationThreshold = 5 * time.Second
	// highMemoryThreshold is the per-sample heap growth above which an
	// operation is flagged as a memory hotspot.
	highMemoryThreshold = 100 * 1024 * 1024
)

// Sample is a single completed measurement of a profiled operation.
type Sample struct {
	Operation   string
	Duration    time.Duration
	MemoryDelta int64 // Heap growth in bytes; negative when the GC ran mid-operation.
	StartedAt   time.Time
}

// OperationStats aggregates all samples recorded for one operation name.
type OperationStats struct {
	Operation      string
	Count          int
	TotalDuration  time.Duration
	AvgDuration    time.Duration
	MinDuration    time.Duration
	MaxDuration    time.Duration
	AvgMemoryDelta int64
	MaxMemoryDelta int64
}

// Report is the aggregated view over every operation profiled so far.
type Report struct {
	GeneratedAt     time.Time
	Operations      []OperationStats
	Recommendations []string
}

// Profiler collects timing and memory samples for named operations.
// It is safe for use from a single run goroutine; the engine never shares one
// profiler across concurrent runs.
type Profiler struct {
	mu      sync.Mutex
	samples []Sample
}

// New creates an empty Profiler.
func New() *Profiler {
	return &Profiler{}
}

// Profile starts measuring the named operation and returns a stop function.
// The stop function records exactly one sample; calling it again is a no-op.
// Heap growth is read from runtime.MemStats, so a concurrent GC can yield a
// negative delta, which is recorded as observed.
func (p *Profiler) Profile(operation string) func() {
	var before runtime.MemStats
	runtime.ReadMemStats(&before)
	start := time.Now()

	var once sync.Once
	return func() {
		once.Do(func() {
			elapsed := time.Since(start)
			var after runtime.MemStats
			runtime.ReadMemStats(&after)

			sample := Sample{
				Operation:   operation,
				Duration:    elapsed,
				MemoryDelta: int64(after.HeapAlloc) - int64(before.HeapAlloc),
				StartedAt:   start,
			}

			p.mu.Lock()
			p.samples = append(p.samples, sample)
			p.mu.Unlock()

			logger.Debugf("Profiled operation '%s': duration=%s memory_delta=%d bytes", operation, elapsed, sample.MemoryDelta)
		})
	}
}

// Samples returns a copy of all recorded samples in recording order.
func (p *Profiler) Samples() []Sample {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Sample, len(p.samples))
	copy(out, p.samples)
	return out
}

// Report aggregates the recorded samples per operation and derives
// recommendations for slow or memory-hungry operations. Operations are
// ordered by name for stable output.
func (p *Profiler) Report() *Report {
	p.mu.Lock()
	defer p.mu.Unlock()

	byOp := make(map[string]*OperationStats)
	for _, s := range p.samples {
		st, ok := byOp[s.Operation]
		if !ok {
			st = &OperationStats{
				Operation:   s.Operation,
				MinDuration: s.Duration,
			}
			byOp[s.Operation] = st
		}
		st.Count++
		st.TotalDuration += s.Duration
		if s.Duration < st.MinDuration {
			st.MinDuration = s.Duration
		}
		if s.Duration > st.MaxDuration {
			st.MaxDuration = s.Duration
		}
		st.AvgMemoryDelta += s.MemoryDelta
		if s.MemoryDelta > st.MaxMemoryDelta {
			st.MaxMemoryDelta = s.MemoryDelta
		}
	}

	report := &Report{GeneratedAt: time.Now()}
	names := make([]string, 0, len(byOp))
	for name := range byOp {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		st := byOp[name]
		st.AvgDuration = st.TotalDuration / time.Duration(st.Count)
		st.AvgMemoryDelta /= int64(st.Count)
		report.Operations = append(report.Operations, *st)

		if st.AvgDuration > slowOperationThreshold {
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("Operation '%s' averages %s per call; consider smaller batches or indexed lookups.", name, st.AvgDuration))
		}
		if st.MaxMemoryDelta > highMemoryThreshold {
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("Operation '%s' allocated up to %d MB in one call; consider streaming instead of loading full collections.", name, st.MaxMemoryDelta/(1024*1024)))
		}
	}
	return report
}

// Summary renders the report as a human-readable multi-line string for log
// output at the end of a run.
func (r *Report) Summary() string {
	if len(r.Operations) == 0 {
		return "No operations were profiled."
	}
	out := "Profiling summary:\n"
	for _, op := range r.Operations {
		out += fmt.Sprintf("  %-40s count=%-4d total=%-12s avg=%-12s min=%-12s max=%s\n",
			op.Operation, op.Count, op.TotalDuration, op.AvgDuration, op.MinDuration, op.MaxDuration)
	}
	for _, rec := range r.Recommendations {
		out += "  recommendation: " + rec + "\n"
	}
	return out
}
