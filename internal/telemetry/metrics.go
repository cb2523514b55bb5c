package telemetry

import (
	"sync"
	"sync/atomic"
	"time"
)

type Counter struct {
	val atomic.Int64
}

func (c *Counter) Inc()         { c.val.Add(1) }
func (c *Counter) Add(n int64)  { c.val.Add(n) }
func (c *Counter) Value() int64 { return c.val.Load() }

type Gauge struct {
	val atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.val.Store(v) }
func (g *Gauge) Inc()         { g.val.Add(1) }
func (g *Gauge) Dec()         { g.val.Add(-1) }
func (g *Gauge) Value() int64 { return g.val.Load() }

// RateWindow counts events in per-second buckets over a sliding window,
// used for the 1m/5m messages-per-second readings.
type RateWindow struct {
	mu      sync.Mutex
	buckets []int64
	last    int64 // unix second of the most recent Mark
}

func NewRateWindow(seconds int) *RateWindow {
	return &RateWindow{buckets: make([]int64, seconds)}
}

func (rw *RateWindow) Mark(now time.Time) {
	sec := now.Unix()
	rw.mu.Lock()
	defer rw.mu.Unlock()
	rw.advance(sec)
	rw.buckets[sec%int64(len(rw.buckets))]++
}

// Rate returns events per second averaged over the window.
func (rw *RateWindow) Rate(now time.Time) float64 {
	sec := now.Unix()
	rw.mu.Lock()
	defer rw.mu.Unlock()
	rw.advance(sec)
	var sum int64
	for _, b := range rw.buckets {
		sum += b
	}
	return float64(sum) / float64(len(rw.buckets))
}

// advance zeroes buckets for the seconds that elapsed since the last
// mark. Caller must hold mu.
func (rw *RateWindow) advance(sec int64) {
	n := int64(len(rw.buckets))
	if rw.last == 0 {
		rw.last = sec
		return
	}
	gap := sec - rw.last
	if gap <= 0 {
		return
	}
	if gap >= n {
		for i := range rw.buckets {
			rw.buckets[i] = 0
		}
	} else {
		for s := rw.last + 1; s <= sec; s++ {
			rw.buckets[s%n] = 0
		}
	}
	rw.last = sec
}

// ErrorCounters tracks named error counts for /api/metrics.
type ErrorCounters struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (ec *ErrorCounters) Inc(name string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.counts == nil {
		ec.counts = make(map[string]int64)
	}
	ec.counts[name]++
}

func (ec *ErrorCounters) Snapshot() map[string]int64 {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make(map[string]int64, len(ec.counts))
	for k, v := range ec.counts {
		out[k] = v
	}
	return out
}

// ValidationCounters tracks per-schema ok/fail validation results.
// The total is monotonic and always equals the sum of all ok+fail.
type ValidationCounters struct {
	mu       sync.Mutex
	total    Counter
	perEvent map[string]*OKFail
}

type OKFail struct {
	OK   Counter
	Fail Counter
}

func (vc *ValidationCounters) Record(schemaKey string, ok bool) {
	vc.mu.Lock()
	of := vc.perEvent[schemaKey]
	if of == nil {
		if vc.perEvent == nil {
			vc.perEvent = make(map[string]*OKFail)
		}
		of = &OKFail{}
		vc.perEvent[schemaKey] = of
	}
	vc.mu.Unlock()

	if ok {
		of.OK.Inc()
	} else {
		of.Fail.Inc()
	}
	vc.total.Inc()
}

func (vc *ValidationCounters) Total() int64 { return vc.total.Value() }

// Snapshot returns {key: {ok, fail}} for the metrics endpoint.
func (vc *ValidationCounters) Snapshot() map[string]map[string]int64 {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	out := make(map[string]map[string]int64, len(vc.perEvent))
	for k, of := range vc.perEvent {
		out[k] = map[string]int64{"ok": of.OK.Value(), "fail": of.Fail.Value()}
	}
	return out
}

// Metrics is the global metrics registry. Initialized at startup,
// exposed by reference to /api/metrics, never reset during a session.
var Metrics = struct {
	StartedAt time.Time

	// LastEventUnixMs is the receive time of the most recent upstream
	// event, zero until the first one arrives.
	LastEventUnixMs Gauge

	MessagesProcessed Counter
	TradesStored      Counter
	GamesTracked      Counter
	UpstreamDropped   Counter
	PersistDropped    Counter
	WSSlowClientDrops Counter
	WSSubscribers     Gauge
	SocketConnected   Gauge

	Rate1m *RateWindow
	Rate5m *RateWindow

	Errors           ErrorCounters
	SchemaValidation ValidationCounters
}{
	StartedAt: time.Now(),
	Rate1m:    NewRateWindow(60),
	Rate5m:    NewRateWindow(300),
}
