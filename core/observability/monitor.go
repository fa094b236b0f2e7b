package observability

import (
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Upper bounds of the latency buckets; the last bucket is open-ended
var latencyBounds = [...]time.Duration{
	time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// Monitor counts connections and requests for one worker process
type Monitor struct {
	accepted  atomic.Uint64
	rejected  atomic.Uint64
	closed    atomic.Uint64
	requests  atomic.Uint64
	bytesSent atomic.Uint64
	totalNs   atomic.Uint64

	statuses sync.Map // int -> *atomic.Uint64
	buckets  [len(latencyBounds) + 1]atomic.Uint64
}

// NewMonitor creates a monitor
func NewMonitor() *Monitor {
	return &Monitor{}
}

func (m *Monitor) ConnAccepted() { m.accepted.Add(1) }
func (m *Monitor) ConnRejected() { m.rejected.Add(1) }
func (m *Monitor) ConnClosed()   { m.closed.Add(1) }

// RecordRequest records one answered request
func (m *Monitor) RecordRequest(status int, bytes int, duration time.Duration) {
	m.requests.Add(1)
	m.bytesSent.Add(uint64(bytes))
	m.totalNs.Add(uint64(duration.Nanoseconds()))

	val, _ := m.statuses.LoadOrStore(status, new(atomic.Uint64))
	val.(*atomic.Uint64).Add(1)

	m.buckets[bucketFor(duration)].Add(1)
}

func bucketFor(d time.Duration) int {
	for i, bound := range latencyBounds {
		if d < bound {
			return i
		}
	}
	return len(latencyBounds)
}

// Snapshot is a point-in-time copy of the counters
type Snapshot struct {
	Accepted    uint64         `json:"accepted"`
	Rejected    uint64         `json:"rejected"`
	Closed      uint64         `json:"closed"`
	Requests    uint64         `json:"requests"`
	BytesSent   uint64         `json:"bytes_sent"`
	AvgLatency  time.Duration  `json:"avg_latency_ns"`
	Statuses    map[int]uint64 `json:"statuses"`
	LatencyHist []uint64       `json:"latency_hist"`
}

// Snapshot copies the current counters
func (m *Monitor) Snapshot() Snapshot {
	s := Snapshot{
		Accepted:    m.accepted.Load(),
		Rejected:    m.rejected.Load(),
		Closed:      m.closed.Load(),
		Requests:    m.requests.Load(),
		BytesSent:   m.bytesSent.Load(),
		Statuses:    make(map[int]uint64),
		LatencyHist: make([]uint64, len(m.buckets)),
	}
	if s.Requests > 0 {
		s.AvgLatency = time.Duration(m.totalNs.Load() / s.Requests)
	}
	m.statuses.Range(func(key, value any) bool {
		s.Statuses[key.(int)] = value.(*atomic.Uint64).Load()
		return true
	})
	for i := range m.buckets {
		s.LatencyHist[i] = m.buckets[i].Load()
	}
	return s
}

// LogValue renders the snapshot as a slog group
func (s Snapshot) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Uint64("accepted", s.Accepted),
		slog.Uint64("rejected", s.Rejected),
		slog.Uint64("closed", s.Closed),
		slog.Uint64("requests", s.Requests),
		slog.Uint64("bytes", s.BytesSent),
		slog.Duration("avg_latency", s.AvgLatency),
	}

	codes := make([]int, 0, len(s.Statuses))
	for code := range s.Statuses {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		attrs = append(attrs, slog.Uint64("status_"+strconv.Itoa(code), s.Statuses[code]))
	}

	return slog.GroupValue(attrs...)
}
