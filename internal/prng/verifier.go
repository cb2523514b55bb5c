package prng

import (
	"math"
	"time"
)

// PriceTolerance is the absolute per-price tolerance when comparing a
// re-simulated trajectory against the recorded one.
const PriceTolerance = 1e-6

// Report is the comparison result persisted on games and prng_tracking.
type Report struct {
	GameID           string    `bson:"gameId" json:"gameId"`
	Version          string    `bson:"version" json:"version"`
	TicksMatch       bool      `bson:"ticksMatch" json:"ticksMatch"`
	PeakMatch        bool      `bson:"peakMatch" json:"peakMatch"`
	ArrayMatch       bool      `bson:"arrayMatch" json:"arrayMatch"`
	FullVerification bool      `bson:"fullVerification" json:"fullVerification"`
	ExpectedTicks    int       `bson:"expectedTicks" json:"expectedTicks"`
	ActualTicks      int       `bson:"actualTicks" json:"actualTicks"`
	ExpectedPeak     float64   `bson:"expectedPeak" json:"expectedPeak"`
	ActualPeak       float64   `bson:"actualPeak" json:"actualPeak"`
	FirstDivergence  *int      `bson:"firstDivergence,omitempty" json:"firstDivergence,omitempty"`
	MaxAbsDiff       float64   `bson:"maxAbsDiff" json:"maxAbsDiff"`
	VerifiedAt       time.Time `bson:"verifiedAt" json:"verifiedAt"`
}

// Verify re-simulates from the revealed seed and compares against the
// recorded trajectory. Tick counts must match exactly; prices within
// PriceTolerance. Deterministic: re-running with the same inputs
// produces an identical report (modulo VerifiedAt).
func Verify(serverSeed, gameID, version string, prices []float64, peakMultiplier float64) Report {
	sim := Simulate(serverSeed, gameID, version)

	rep := Report{
		GameID:        gameID,
		Version:       version,
		ExpectedTicks: len(prices) - 1,
		ActualTicks:   sim.TotalTicks,
		ExpectedPeak:  peakMultiplier,
		ActualPeak:    sim.PeakMultiplier,
		VerifiedAt:    time.Now().UTC(),
	}

	rep.TicksMatch = rep.ExpectedTicks == rep.ActualTicks
	rep.PeakMatch = math.Abs(rep.ExpectedPeak-rep.ActualPeak) <= PriceTolerance

	rep.ArrayMatch = true
	n := len(prices)
	if len(sim.Prices) < n {
		n = len(sim.Prices)
	}
	for i := 0; i < n; i++ {
		diff := math.Abs(prices[i] - sim.Prices[i])
		if diff > rep.MaxAbsDiff {
			rep.MaxAbsDiff = diff
		}
		if diff > PriceTolerance && rep.FirstDivergence == nil {
			at := i
			rep.FirstDivergence = &at
			rep.ArrayMatch = false
		}
	}
	if len(prices) != len(sim.Prices) {
		rep.ArrayMatch = false
		if rep.FirstDivergence == nil {
			at := n
			rep.FirstDivergence = &at
		}
	}

	rep.FullVerification = rep.TicksMatch && rep.PeakMatch && rep.ArrayMatch
	return rep
}
