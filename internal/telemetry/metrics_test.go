package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounter(t *testing.T) {
	var c Counter
	c.Inc()
	c.Add(4)
	assert.Equal(t, int64(5), c.Value())
}

func TestGauge(t *testing.T) {
	var g Gauge
	g.Set(10)
	g.Inc()
	g.Dec()
	g.Dec()
	assert.Equal(t, int64(9), g.Value())
}

func TestRateWindowAverages(t *testing.T) {
	rw := NewRateWindow(60)
	base := time.Unix(10_000, 0)

	for i := 0; i < 120; i++ {
		rw.Mark(base)
	}
	assert.InDelta(t, 2.0, rw.Rate(base), 1e-9)
}

func TestRateWindowSlides(t *testing.T) {
	rw := NewRateWindow(60)
	base := time.Unix(10_000, 0)

	for i := 0; i < 60; i++ {
		rw.Mark(base.Add(time.Duration(i) * time.Second))
	}
	assert.InDelta(t, 1.0, rw.Rate(base.Add(59*time.Second)), 1e-9)

	// The whole window elapses without new marks.
	assert.Zero(t, rw.Rate(base.Add(200*time.Second)))
}

func TestRateWindowExpiresOldBuckets(t *testing.T) {
	rw := NewRateWindow(60)
	base := time.Unix(10_000, 0)

	rw.Mark(base)
	rw.Mark(base)
	rw.Mark(base.Add(30 * time.Second))

	// 61s after base, the two oldest marks have fallen out.
	assert.InDelta(t, 1.0/60.0, rw.Rate(base.Add(61*time.Second)), 1e-9)
}

func TestErrorCounters(t *testing.T) {
	var ec ErrorCounters
	ec.Inc("parseTrade")
	ec.Inc("parseTrade")
	ec.Inc("upstreamSession")

	snap := ec.Snapshot()
	assert.Equal(t, int64(2), snap["parseTrade"])
	assert.Equal(t, int64(1), snap["upstreamSession"])

	// Snapshot is a copy.
	snap["parseTrade"] = 99
	assert.Equal(t, int64(2), ec.Snapshot()["parseTrade"])
}

func TestValidationCounters(t *testing.T) {
	var vc ValidationCounters
	vc.Record("gameStateUpdate", true)
	vc.Record("gameStateUpdate", true)
	vc.Record("gameStateUpdate", false)
	vc.Record("newTrade", true)

	assert.Equal(t, int64(4), vc.Total())

	snap := vc.Snapshot()
	require.Contains(t, snap, "gameStateUpdate")
	assert.Equal(t, int64(2), snap["gameStateUpdate"]["ok"])
	assert.Equal(t, int64(1), snap["gameStateUpdate"]["fail"])
	assert.Equal(t, int64(1), snap["newTrade"]["ok"])

	var sum int64
	for _, of := range snap {
		sum += of["ok"] + of["fail"]
	}
	assert.Equal(t, vc.Total(), sum)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, ParseLogLevel("debug").String(), "DEBUG")
	assert.Equal(t, ParseLogLevel("warn").String(), "WARN")
	assert.Equal(t, ParseLogLevel("error").String(), "ERROR")
	assert.Equal(t, ParseLogLevel("anything").String(), "INFO")
}
