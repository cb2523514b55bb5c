// Package prng re-simulates a game's price trajectory from its
// revealed server seed so the recorded history can be verified offline.
package prng

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// Generator parameters. v3 adds the god-candle branch and caps the
// volatility term; v1 predates both.
const (
	RugProb       = 0.005
	GodCandleProb = 0.00001
	GodCandleMove = 10.0
	GodCandleCap  = 100.0
	BigMoveProb   = 0.125
	BigMoveMin    = 0.15
	BigMoveMax    = 0.25
	DriftMin      = -0.02
	DriftMax      = 0.03
	BaseVol       = 0.005
	StartPrice    = 1.0
	MaxTicks      = 5000
)

// Rand is a deterministic uniform stream over a seed string: draw n is
// derived from SHA-256(seed || n). Platform-independent, so the same
// seed always replays the same trajectory.
type Rand struct {
	seed    []byte
	counter uint64
	block   [sha256.Size]byte
	off     int
}

func NewRand(seed string) *Rand {
	r := &Rand{seed: []byte(seed), off: sha256.Size}
	return r
}

// Float64 returns a uniform draw in [0, 1) with 53 bits of precision.
func (r *Rand) Float64() float64 {
	if r.off+8 > sha256.Size {
		r.refill()
	}
	u := binary.BigEndian.Uint64(r.block[r.off : r.off+8])
	r.off += 8
	return float64(u>>11) / (1 << 53)
}

func (r *Rand) refill() {
	h := sha256.New()
	h.Write(r.seed)
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], r.counter)
	h.Write(ctr[:])
	h.Sum(r.block[:0])
	r.counter++
	r.off = 0
}

// SimResult is a re-simulated trajectory.
type SimResult struct {
	Prices         []float64 `json:"prices"`
	PeakMultiplier float64   `json:"peakMultiplier"`
	TotalTicks     int       `json:"totalTicks"`
	Rugged         bool      `json:"rugged"`
	RugTick        int       `json:"rugTick"`
}

// SeedFor builds the generator seed for a game.
func SeedFor(serverSeed, gameID string) string {
	return serverSeed + "-" + gameID
}

// Simulate replays the price trajectory for a game. Draw order per
// tick is fixed: rug check, god candle (v3), big move, then
// drift+volatility; big move and the default branch share the two
// magnitude/sign draws.
func Simulate(serverSeed, gameID, version string) SimResult {
	rng := NewRand(SeedFor(serverSeed, gameID))
	v3 := version != "v1"

	price := StartPrice
	peak := StartPrice
	prices := make([]float64, 1, 256)
	prices[0] = StartPrice

	res := SimResult{}
	for tick := 1; tick <= MaxTicks; tick++ {
		if rng.Float64() < RugProb {
			res.Rugged = true
			res.RugTick = tick - 1
			break
		}

		if v3 && rng.Float64() < GodCandleProb && price <= GodCandleCap {
			price *= GodCandleMove
		} else if rng.Float64() < BigMoveProb {
			magnitude := BigMoveMin + rng.Float64()*(BigMoveMax-BigMoveMin)
			change := magnitude
			if rng.Float64() < 0.5 {
				change = -magnitude
			}
			price *= 1 + change
		} else {
			drift := DriftMin + rng.Float64()*(DriftMax-DriftMin)
			vol := BaseVol * math.Sqrt(price)
			if v3 {
				vol = BaseVol * math.Min(10, math.Sqrt(price))
			}
			change := drift + vol*(2*rng.Float64()-1)
			price *= 1 + change
		}

		price = math.Max(0, price)
		if price > peak {
			peak = price
		}
		prices = append(prices, price)
	}

	res.Prices = prices
	res.PeakMultiplier = peak
	res.TotalTicks = len(prices) - 1
	if !res.Rugged {
		res.RugTick = res.TotalTicks
	}
	return res
}
