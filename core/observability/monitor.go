// Package observability aggregates per-route request metrics and
// connection lifecycle counters for the server's stats report.
package observability

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Thresholds for bottleneck reports.
const (
	SlowRouteThreshold = 100 * time.Millisecond
	ErrorRateThreshold = 0.05
)

// LatencyBounds are the upper bounds of the latency histogram buckets;
// the last bucket is unbounded.
var LatencyBounds = [...]time.Duration{
	time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	5 * time.Second,
	10 * time.Second,
}

// Monitor is safe for concurrent use by every worker.
type Monitor struct {
	enabled atomic.Bool
	routes  sync.Map // string -> *routeMetrics

	totalRequests atomic.Uint64
	totalDuration atomic.Uint64

	conns struct {
		accepted atomic.Uint64
		rejected atomic.Uint64
		timedOut atomic.Uint64
		closed   atomic.Uint64
	}
}

type routeMetrics struct {
	name          string
	count         atomic.Uint64
	errors        atomic.Uint64
	totalDuration atomic.Uint64
	minDuration   atomic.Uint64
	maxDuration   atomic.Uint64
	buckets       [len(LatencyBounds) + 1]atomic.Uint64
}

// RouteSnapshot is a point-in-time copy of one route's metrics.
type RouteSnapshot struct {
	Route   string        `json:"route"`
	Count   uint64        `json:"count"`
	Errors  uint64        `json:"errors"`
	Avg     time.Duration `json:"avg_ns"`
	Min     time.Duration `json:"min_ns"`
	Max     time.Duration `json:"max_ns"`
	Buckets []uint64      `json:"buckets"`
}

// ConnSnapshot holds the connection lifecycle counters.
type ConnSnapshot struct {
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
	TimedOut uint64 `json:"timed_out"`
	Closed   uint64 `json:"closed"`
}

// Bottleneck describes a route that is slow or failing.
type Bottleneck struct {
	Type     string  `json:"type"`
	Route    string  `json:"route"`
	Severity int     `json:"severity"`
	Impact   float64 `json:"impact"`
	Details  string  `json:"details"`
}

// NewMonitor creates an enabled monitor.
func NewMonitor() *Monitor {
	m := &Monitor{}
	m.enabled.Store(true)
	return m
}

// SetEnabled turns request recording on or off.
func (m *Monitor) SetEnabled(on bool) {
	m.enabled.Store(on)
}

// RecordRequest records one served request under route.
func (m *Monitor) RecordRequest(route string, d time.Duration, isError bool) {
	if m == nil || !m.enabled.Load() {
		return
	}

	val, ok := m.routes.Load(route)
	if !ok {
		val, _ = m.routes.LoadOrStore(route, &routeMetrics{name: route})
	}
	r := val.(*routeMetrics)

	r.count.Add(1)
	if isError {
		r.errors.Add(1)
	}
	ns := uint64(max(d, 0))
	r.totalDuration.Add(ns)
	updateMin(&r.minDuration, ns)
	updateMax(&r.maxDuration, ns)
	r.buckets[bucketFor(d)].Add(1)

	m.totalRequests.Add(1)
	m.totalDuration.Add(ns)
}

func (m *Monitor) RecordAccept() {
	if m != nil {
		m.conns.accepted.Add(1)
	}
}

func (m *Monitor) RecordReject() {
	if m != nil {
		m.conns.rejected.Add(1)
	}
}

func (m *Monitor) RecordTimeout() {
	if m != nil {
		m.conns.timedOut.Add(1)
	}
}

func (m *Monitor) RecordClose() {
	if m != nil {
		m.conns.closed.Add(1)
	}
}

// TotalRequests returns the number of recorded requests.
func (m *Monitor) TotalRequests() uint64 {
	return m.totalRequests.Load()
}

// AvgLatency returns the mean latency over all routes.
func (m *Monitor) AvgLatency() time.Duration {
	n := m.totalRequests.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(m.totalDuration.Load() / n)
}

// Conns returns the connection lifecycle counters.
func (m *Monitor) Conns() ConnSnapshot {
	return ConnSnapshot{
		Accepted: m.conns.accepted.Load(),
		Rejected: m.conns.rejected.Load(),
		TimedOut: m.conns.timedOut.Load(),
		Closed:   m.conns.closed.Load(),
	}
}

// Snapshot returns every route sorted by name.
func (m *Monitor) Snapshot() []RouteSnapshot {
	var out []RouteSnapshot
	m.routes.Range(func(_, value any) bool {
		r := value.(*routeMetrics)
		count := r.count.Load()
		s := RouteSnapshot{
			Route:   r.name,
			Count:   count,
			Errors:  r.errors.Load(),
			Min:     time.Duration(r.minDuration.Load()),
			Max:     time.Duration(r.maxDuration.Load()),
			Buckets: make([]uint64, len(r.buckets)),
		}
		if count > 0 {
			s.Avg = time.Duration(r.totalDuration.Load() / count)
		}
		for i := range r.buckets {
			s.Buckets[i] = r.buckets[i].Load()
		}
		out = append(out, s)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Route < out[j].Route })
	return out
}

// Bottlenecks reports routes whose average latency or error rate is over
// the thresholds.
func (m *Monitor) Bottlenecks() []Bottleneck {
	var out []Bottleneck
	for _, s := range m.Snapshot() {
		if s.Count == 0 {
			continue
		}
		if s.Avg > SlowRouteThreshold {
			out = append(out, Bottleneck{
				Type:     "latency",
				Route:    s.Route,
				Severity: 8,
				Impact:   float64(s.Avg) / float64(SlowRouteThreshold) * 100,
				Details:  fmt.Sprintf("High latency (%v avg)", s.Avg),
			})
		}
		rate := float64(s.Errors) / float64(s.Count)
		if s.Errors > 0 && rate > ErrorRateThreshold {
			out = append(out, Bottleneck{
				Type:     "errors",
				Route:    s.Route,
				Severity: 10,
				Impact:   rate * 100,
				Details:  fmt.Sprintf("%.1f%% error rate", rate*100),
			})
		}
	}
	return out
}

func bucketFor(d time.Duration) int {
	for i, bound := range LatencyBounds {
		if d < bound {
			return i
		}
	}
	return len(LatencyBounds)
}

func updateMin(v *atomic.Uint64, d uint64) {
	for {
		cur := v.Load()
		if cur != 0 && d >= cur {
			return
		}
		if v.CompareAndSwap(cur, d) {
			return
		}
	}
}

func updateMax(v *atomic.Uint64, d uint64) {
	for {
		cur := v.Load()
		if d <= cur {
			return
		}
		if v.CompareAndSwap(cur, d) {
			return
		}
	}
}
