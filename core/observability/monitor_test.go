package observability

import (
	"sync"
	"testing"
	"time"
)

func TestMonitorRecordRequest(t *testing.T) {
	m := NewMonitor()

	m.RecordRequest("GET 200", 10*time.Millisecond, false)
	m.RecordRequest("GET 200", 20*time.Millisecond, false)
	m.RecordRequest("GET 200", 30*time.Millisecond, false)
	m.RecordRequest("GET 404", 2*time.Millisecond, true)

	snap := m.Snapshot()
	if len(snap) != 2 || snap[0].Route != "GET 200" || snap[1].Route != "GET 404" {
		t.Fatalf("Unexpected snapshot %+v", snap)
	}
	get := snap[0]
	if get.Count != 3 || get.Avg != 20*time.Millisecond {
		t.Errorf("Expected 3 requests at 20ms avg, got %d at %v", get.Count, get.Avg)
	}
	if get.Min != 10*time.Millisecond || get.Max != 30*time.Millisecond {
		t.Errorf("Unexpected min/max %v/%v", get.Min, get.Max)
	}
	// 10ms and 20ms fall in [10ms,50ms), 30ms too.
	if get.Buckets[3] != 3 {
		t.Errorf("Expected 3 samples in the 10-50ms bucket, got %v", get.Buckets)
	}
	if m.TotalRequests() != 4 {
		t.Errorf("Expected 4 total requests, got %d", m.TotalRequests())
	}
}

func TestMonitorDisabled(t *testing.T) {
	m := NewMonitor()
	m.SetEnabled(false)
	m.RecordRequest("GET 200", time.Millisecond, false)
	if m.TotalRequests() != 0 || len(m.Snapshot()) != 0 {
		t.Error("Disabled monitor recorded a request")
	}

	var nilMonitor *Monitor
	nilMonitor.RecordRequest("GET 200", time.Millisecond, false)
	nilMonitor.RecordAccept()
}

func TestBottleneckDetection(t *testing.T) {
	m := NewMonitor()

	for i := 0; i < 100; i++ {
		m.RecordRequest("GET 200", 150*time.Millisecond, false)
		m.RecordRequest("POST 400", time.Millisecond, i%10 == 0)
		m.RecordRequest("GET 304", time.Millisecond, false)
	}

	found := map[string]string{}
	for _, b := range m.Bottlenecks() {
		found[b.Route] = b.Type
	}
	if found["GET 200"] != "latency" {
		t.Error("Expected latency bottleneck for slow route")
	}
	if found["POST 400"] != "errors" {
		t.Error("Expected error bottleneck for failing route")
	}
	if _, ok := found["GET 304"]; ok {
		t.Error("Healthy route reported as bottleneck")
	}
}

func TestMonitorConnCounters(t *testing.T) {
	m := NewMonitor()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordAccept()
			m.RecordClose()
		}()
	}
	wg.Wait()
	m.RecordReject()
	m.RecordTimeout()

	c := m.Conns()
	if c.Accepted != 50 || c.Closed != 50 || c.Rejected != 1 || c.TimedOut != 1 {
		t.Errorf("Unexpected counters %+v", c)
	}
}

func BenchmarkRecordRequest(b *testing.B) {
	m := NewMonitor()
	d := 10 * time.Millisecond

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.RecordRequest("GET 200", d, false)
		}
	})
}
