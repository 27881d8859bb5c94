// Package profiler - Rolling timing and value statistics for pipeline stages.
package profiler

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultWindow is the number of samples kept per series.
const DefaultWindow = 600

// Options configures a Profiler.
type Options struct {
	// Window is the number of most recent samples kept per series.
	Window int
	// ReportInterval enables periodic log reports when positive.
	ReportInterval time.Duration
}

// series is a bounded window of samples plus lifetime extremes.
type series struct {
	values []float64
	sum    float64
	min    float64
	max    float64
	count  int64
}

func (s *series) add(v float64, window int) {
	if s.count == 0 || v < s.min {
		s.min = v
	}
	if s.count == 0 || v > s.max {
		s.max = v
	}
	s.count++
	s.values = append(s.values, v)
	s.sum += v
	if len(s.values) > window {
		s.sum -= s.values[0]
		s.values = s.values[1:]
	}
}

func (s *series) stats() SeriesStats {
	out := SeriesStats{Min: s.min, Max: s.max, Count: s.count, Samples: len(s.values)}
	if len(s.values) > 0 {
		out.Avg = s.sum / float64(len(s.values))
	}
	return out
}

// SeriesStats summarises one series. Avg covers the window; Min, Max and
// Count cover the profiler's lifetime.
type SeriesStats struct {
	Avg     float64 `json:"avg"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Count   int64   `json:"count"`
	Samples int     `json:"samples"`
}

// Stats is a point-in-time snapshot.
type Stats struct {
	Uptime     time.Duration          `json:"uptime"`
	Goroutines int                    `json:"goroutines"`
	HeapAlloc  uint64                 `json:"heap_alloc"`
	GCCycles   uint32                 `json:"gc_cycles"`
	Operations map[string]SeriesStats `json:"operations_ms"`
	Metrics    map[string]SeriesStats `json:"metrics"`
}

// Profiler tracks operation durations and arbitrary numeric metrics. It is
// safe for concurrent use. A nil *Profiler ignores every call.
type Profiler struct {
	window   int
	interval time.Duration
	logger   *zap.Logger
	start    time.Time

	mu         sync.Mutex
	operations map[string]*series
	metrics    map[string]*series

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Profiler.
func New(opts Options, logger *zap.Logger) *Profiler {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Profiler{
		window:     opts.Window,
		interval:   opts.ReportInterval,
		logger:     logger,
		start:      time.Now(),
		operations: make(map[string]*series),
		metrics:    make(map[string]*series),
	}
}

// StartOperation begins timing name and returns the function that stops it.
//
// @example
// done := prof.StartOperation("segment")
// defer done()
func (p *Profiler) StartOperation(name string) func() {
	if p == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		p.record(p.operations, name, float64(time.Since(start))/float64(time.Millisecond))
	}
}

// RecordMetric adds one sample to the named metric.
func (p *Profiler) RecordMetric(name string, value float64) {
	if p == nil {
		return
	}
	p.record(p.metrics, name, value)
}

func (p *Profiler) record(m map[string]*series, name string, v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := m[name]
	if !ok {
		s = &series{}
		m[name] = s
	}
	s.add(v, p.window)
}

// Snapshot returns the current statistics.
func (p *Profiler) Snapshot() Stats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	out := Stats{
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  mem.HeapAlloc,
		GCCycles:   mem.NumGC,
		Operations: map[string]SeriesStats{},
		Metrics:    map[string]SeriesStats{},
	}
	if p == nil {
		return out
	}

	out.Uptime = time.Since(p.start)
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, s := range p.operations {
		out.Operations[name] = s.stats()
	}
	for name, s := range p.metrics {
		out.Metrics[name] = s.stats()
	}
	return out
}

// Start emits a report every ReportInterval until Stop. It does nothing when
// no interval is configured or the profiler is already running.
func (p *Profiler) Start() {
	if p == nil || p.interval <= 0 {
		return
	}
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Report()
			}
		}
	}()
}

// Stop halts periodic reporting and waits for the reporter to exit.
func (p *Profiler) Stop() {
	if p == nil {
		return
	}
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
		p.wg.Wait()
	}
}

// Report logs the current snapshot, one line per series.
func (p *Profiler) Report() {
	if p == nil {
		return
	}
	st := p.Snapshot()
	p.logger.Info("runtime status",
		zap.Duration("uptime", st.Uptime.Truncate(time.Second)),
		zap.Int("goroutines", st.Goroutines),
		zap.Uint64("heap_alloc", st.HeapAlloc),
		zap.Uint32("gc_cycles", st.GCCycles))

	for _, name := range sortedKeys(st.Operations) {
		s := st.Operations[name]
		p.logger.Info("operation timing",
			zap.String("operation", name),
			zap.Float64("avg_ms", s.Avg),
			zap.Float64("min_ms", s.Min),
			zap.Float64("max_ms", s.Max),
			zap.Int64("count", s.Count))
	}
	for _, name := range sortedKeys(st.Metrics) {
		s := st.Metrics[name]
		p.logger.Info("metric",
			zap.String("metric", name),
			zap.Float64("avg", s.Avg),
			zap.Float64("min", s.Min),
			zap.Float64("max", s.Max),
			zap.Int64("count", s.Count))
	}
}

func sortedKeys(m map[string]SeriesStats) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
