package driver

import (
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/smallsmt/internal/monitoring"
)

// latencyWindow is the number of recent dispatch latencies kept for summaries.
const latencyWindow = 512

// DispatchStats records the outcome and round-trip latency of every dispatch.
type DispatchStats struct {
	mu sync.Mutex

	latencies []float64 // ring buffer, milliseconds
	next      int
	full      bool

	ok           int64
	timeouts     int64
	fatal        int64
	sendErrors   int64
	provisionals int64
}

// StatsSnapshot summarises DispatchStats at a point in time. Latencies are in
// milliseconds over the most recent window of successful dispatches.
type StatsSnapshot struct {
	OK           int64   `json:"ok"`
	Timeouts     int64   `json:"timeouts"`
	Fatal        int64   `json:"fatal"`
	SendErrors   int64   `json:"send_errors"`
	Provisionals int64   `json:"provisionals"`
	Samples      int     `json:"samples"`
	MeanMs       float64 `json:"mean_ms"`
	StdDevMs     float64 `json:"stddev_ms"`
	P50Ms        float64 `json:"p50_ms"`
	P95Ms        float64 `json:"p95_ms"`
	MaxMs        float64 `json:"max_ms"`
}

func NewDispatchStats() *DispatchStats {
	return &DispatchStats{latencies: make([]float64, 0, latencyWindow)}
}

func (s *DispatchStats) record(state dispatchState, provisionals int, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.provisionals += int64(provisionals)
	switch state {
	case dispatchDone:
		s.ok++
		s.addLatency(float64(elapsed) / float64(time.Millisecond))
	case dispatchTimedOut:
		s.timeouts++
	case dispatchAborted:
		s.fatal++
	case dispatchSendFailed:
		s.sendErrors++
	}
}

func (s *DispatchStats) addLatency(ms float64) {
	if len(s.latencies) < latencyWindow {
		s.latencies = append(s.latencies, ms)
		return
	}
	s.latencies[s.next] = ms
	s.next = (s.next + 1) % latencyWindow
	s.full = true
}

// Latencies returns the recorded latency window in arrival order.
func (s *DispatchStats) Latencies() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, 0, len(s.latencies))
	if s.full {
		out = append(out, s.latencies[s.next:]...)
		out = append(out, s.latencies[:s.next]...)
		return out
	}
	return append(out, s.latencies...)
}

func (s *DispatchStats) Snapshot() StatsSnapshot {
	lat := s.Latencies()

	s.mu.Lock()
	snap := StatsSnapshot{
		OK:           s.ok,
		Timeouts:     s.timeouts,
		Fatal:        s.fatal,
		SendErrors:   s.sendErrors,
		Provisionals: s.provisionals,
		Samples:      len(lat),
	}
	s.mu.Unlock()

	if len(lat) == 0 {
		return snap
	}
	sort.Float64s(lat)
	snap.MeanMs = stat.Mean(lat, nil)
	if len(lat) > 1 {
		snap.StdDevMs = stat.StdDev(lat, nil)
	}
	snap.P50Ms = stat.Quantile(0.5, stat.Empirical, lat, nil)
	snap.P95Ms = stat.Quantile(0.95, stat.Empirical, lat, nil)
	snap.MaxMs = lat[len(lat)-1]
	if math.IsNaN(snap.StdDevMs) {
		snap.StdDevMs = 0
	}
	return snap
}

func (s *DispatchStats) LogStats() {
	snap := s.Snapshot()
	monitoring.Logf("dispatch: ok=%d timeouts=%d fatal=%d send_errors=%d provisionals=%d mean=%.2fms p95=%.2fms max=%.2fms",
		snap.OK, snap.Timeouts, snap.Fatal, snap.SendErrors, snap.Provisionals, snap.MeanMs, snap.P95Ms, snap.MaxMs)
}
