package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/azhanglai/LaiWebServer/core/observability"
	"github.com/azhanglai/LaiWebServer/core/pools"
)

// Stats is a point-in-time report of the engine.
type Stats struct {
	Uptime        time.Duration                 `json:"uptime"`
	ActiveConns   int64                         `json:"active_conns"`
	PendingTimers int                           `json:"pending_timers"`
	TotalRequests uint64                        `json:"total_requests"`
	AvgLatency    time.Duration                 `json:"avg_latency"`
	Conns         observability.ConnSnapshot    `json:"conns"`
	Workers       pools.WorkerPoolStats         `json:"workers"`
	Routes        []observability.RouteSnapshot `json:"routes"`
	Bottlenecks   []observability.Bottleneck    `json:"bottlenecks,omitempty"`
	GC            pools.GCStats                 `json:"gc"`
}

// Stats collects engine statistics.
func (e *Engine) Stats() Stats {
	s := Stats{
		ActiveConns:   e.users.Load(),
		PendingTimers: e.timer.Len(),
		TotalRequests: e.monitor.TotalRequests(),
		AvgLatency:    e.monitor.AvgLatency(),
		Conns:         e.monitor.Conns(),
		Workers:       e.pool.Stats(),
		Routes:        e.monitor.Snapshot(),
		Bottlenecks:   e.monitor.Bottlenecks(),
		GC:            pools.GetGCStats(),
	}
	if !e.started.IsZero() {
		s.Uptime = time.Since(e.started)
	}
	return s
}

// StatsJSON returns engine statistics as JSON string
func (e *Engine) StatsJSON() string {
	data, _ := json.MarshalIndent(e.Stats(), "", "  ")
	return string(data)
}

// StatsText returns engine statistics as human-readable text
func (e *Engine) StatsText() string {
	s := e.Stats()

	var b strings.Builder
	fmt.Fprintf(&b, `Server Statistics
=================

Uptime:          %v
Active Conns:    %d
Pending Timers:  %d
Accepted:        %d
Rejected (busy): %d
Timed Out:       %d
Closed:          %d

Workers:         %d
Tasks Submitted: %d
Tasks Completed: %d
Tasks Queued:    %d

Requests:        %d
Avg Latency:     %v
`,
		s.Uptime.Round(time.Millisecond), s.ActiveConns, s.PendingTimers,
		s.Conns.Accepted, s.Conns.Rejected, s.Conns.TimedOut, s.Conns.Closed,
		s.Workers.NumWorkers, s.Workers.TasksSubmitted, s.Workers.TasksCompleted, s.Workers.TasksQueued,
		s.TotalRequests, s.AvgLatency,
	)

	if len(s.Routes) > 0 {
		b.WriteString("\nRoutes:\n")
		for _, r := range s.Routes {
			fmt.Fprintf(&b, "  %-12s count=%d errors=%d avg=%v max=%v\n", r.Route, r.Count, r.Errors, r.Avg, r.Max)
		}
	}
	for _, bn := range s.Bottlenecks {
		fmt.Fprintf(&b, "  ⚠️  [%s] %s: %s\n", bn.Type, bn.Route, bn.Details)
	}
	return b.String()
}
