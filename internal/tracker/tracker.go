// Package tracker owns the game lifecycle state machine: phase
// detection, per-game identity, derived ticks/OHLC/god candles,
// quality flags, and the live_state singleton.
package tracker

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/rugslab/rugs-data-service/internal/events"
	"github.com/rugslab/rugs-data-service/internal/store"
	"github.com/rugslab/rugs-data-service/internal/telemetry"
	"github.com/rugslab/rugs-data-service/internal/worker"
)

// Game phases.
const (
	PhaseWaiting   = "WAITING"
	PhaseCooldown  = "COOLDOWN"
	PhasePreRound  = "PRE_ROUND"
	PhaseActive    = "ACTIVE"
	PhaseRug       = "RUG"
	PhaseCompleted = "COMPLETED"
)

// preRoundGate: cooldownTimer at or below this (and above zero, with
// pre-round buys allowed) means the next round is accepting entries.
const preRoundGate = 10000

// godCandleRatio and godCandleCap mirror the generator's v3 branch.
const (
	godCandleRatio = 10.0
	godCandleCap   = 100.0
)

// largeGapTicks flags a quality problem when consecutive snapshots
// skip more than this many ticks.
const largeGapTicks = 10

// Persister is the slice of the store the tracker owns writes to.
type Persister interface {
	UpsertGame(ctx context.Context, gameID string, set bson.M) error
	AppendGamePhase(ctx context.Context, gameID string, p store.Phase) error
	UpsertTick(ctx context.Context, gameID string, tick int, price float64) error
	UpsertOHLC(ctx context.Context, gameID string, index, tick int, price float64) error
	UpsertGodCandle(ctx context.Context, g *store.GodCandleDoc) error
	UpsertLiveState(ctx context.Context, ls *store.LiveState) error
	UpsertPRNGTracking(ctx context.Context, gameID string, set bson.M) error
}

// Publisher fans a derived frame out to stream subscribers.
type Publisher interface {
	Publish(frame any)
}

// JobSink accepts persistence work items.
type JobSink interface {
	Submit(worker.Job) bool
}

// Tracker is driven by the single router task; OnSnapshot is never
// called concurrently. The mutex only guards the live snapshot read
// by REST handlers.
type Tracker struct {
	store Persister
	jobs  JobSink
	pub   Publisher

	trackedGameID string
	phase         string
	lastTick      int
	prevPrice     float64
	havePrev      bool
	quality       store.Quality
	version       string

	mu   sync.RWMutex
	live store.LiveState
}

func New(p Persister, jobs JobSink, pub Publisher) *Tracker {
	return &Tracker{
		store:    p,
		jobs:     jobs,
		pub:      pub,
		phase:    PhaseWaiting,
		lastTick: -1,
	}
}

// Live returns a by-value snapshot of the current live state.
func (t *Tracker) Live() (store.LiveState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.live, t.live.GameID != "" || !t.live.UpdatedAt.IsZero()
}

// TrackedGame returns the gameId currently tagged by the tracker.
func (t *Tracker) TrackedGame() string {
	return t.trackedGameID
}

// OnSnapshot applies one gameStateUpdate and returns the phase it
// derived for that snapshot.
func (t *Tracker) OnSnapshot(snap *events.GameStateUpdate, now time.Time) string {
	switch {
	case snap.Rugged:
		t.onRugged(snap, now)
	case snap.Active:
		t.onActive(snap, now)
	default:
		t.onInactive(snap, now)
	}

	phase := t.phase
	t.updateLive(snap, phase, now)
	return phase
}

// onActive handles the ACTIVE gate and per-tick derivation.
func (t *Tracker) onActive(snap *events.GameStateUpdate, now time.Time) {
	if t.trackedGameID != "" && snap.GameID != t.trackedGameID {
		// Identity violation: a different game went active while one
		// was still tracked. Reset and admit the new game.
		telemetry.Errorf("tracker: active gameId %s while tracking %s, resetting", snap.GameID, t.trackedGameID)
		telemetry.Metrics.Errors.Inc("trackerIdentityMismatch")
		t.resetTracking()
	}

	if t.trackedGameID == "" {
		t.startGame(snap, now)
	}
	t.phase = PhaseActive
	t.processTick(snap, now)
}

func (t *Tracker) startGame(snap *events.GameStateUpdate, now time.Time) {
	gameID := snap.GameID
	t.trackedGameID = gameID
	t.lastTick = -1
	t.havePrev = false
	t.prevPrice = 0
	t.quality = store.Quality{}
	t.version = ""

	set := bson.M{
		"phase":      PhaseActive,
		"startTime":  now,
		"lastSeenAt": now,
	}
	seedHash := ""
	if pf := snap.ProvablyFair; pf != nil {
		seedHash = pf.ServerSeedHash
		set["serverSeedHash"] = pf.ServerSeedHash
		if pf.Version != "" {
			t.version = pf.Version
			set["version"] = pf.Version
		}
	}

	t.submitCritical(gameID, "gameStart", func(ctx context.Context) error {
		return t.store.UpsertGame(ctx, gameID, set)
	})
	t.submitCritical(gameID, "gamePhase", func(ctx context.Context) error {
		return t.store.AppendGamePhase(ctx, gameID, store.Phase{Phase: PhaseActive, At: now})
	})
	t.submitCritical(gameID, "prngTracking", func(ctx context.Context) error {
		return t.store.UpsertPRNGTracking(ctx, gameID, bson.M{
			"status":         store.PRNGTracking,
			"serverSeedHash": seedHash,
		})
	})

	telemetry.Metrics.GamesTracked.Inc()
	telemetry.Infof("tracker: game %s started", gameID)
}

// processTick derives tick, OHLC, god-candle, and quality artifacts
// for a new tick of the tracked game.
func (t *Tracker) processTick(snap *events.GameStateUpdate, now time.Time) {
	if snap.TickCount == nil || snap.Price == nil {
		return
	}
	gameID := t.trackedGameID
	tick := *snap.TickCount
	price := *snap.Price

	dirty := false
	if t.lastTick >= 0 && tick <= t.lastTick {
		if !t.quality.DuplicateOrOutOfOrder {
			t.quality.DuplicateOrOutOfOrder = true
			dirty = true
		}
	}
	if t.lastTick >= 0 && tick-t.lastTick > largeGapTicks {
		if !t.quality.LargeGap {
			t.quality.LargeGap = true
			dirty = true
		}
	}
	if price <= 0 {
		if !t.quality.PriceNonPositive {
			t.quality.PriceNonPositive = true
			dirty = true
		}
	}
	// lastCheckedAt advances on every evaluation but is flushed only on
	// flag changes and again at rug/finalize; in between, the stored
	// copy reads as the time of the last persisted change.
	t.quality.LastCheckedAt = now
	if dirty {
		q := t.quality
		t.submitCritical(gameID, "gameQuality", func(ctx context.Context) error {
			return t.store.UpsertGame(ctx, gameID, bson.M{"quality": q})
		})
	}

	if tick > t.lastTick {
		t.submitTick(gameID, tick, price)

		if t.havePrev && t.prevPrice > 0 && price/t.prevPrice >= godCandleRatio {
			t.onGodCandle(gameID, tick, t.prevPrice, price, now)
		}

		t.lastTick = tick
		t.prevPrice = price
		t.havePrev = true
	}

	t.submitCritical(gameID, "gameSeen", func(ctx context.Context) error {
		return t.store.UpsertGame(ctx, gameID, bson.M{"lastSeenAt": now})
	})
}

func (t *Tracker) submitTick(gameID string, tick int, price float64) {
	index := tick / 5
	t.jobs.Submit(worker.Job{Key: gameID, Name: "gameTick", Do: func(ctx context.Context) error {
		return t.store.UpsertTick(ctx, gameID, tick, price)
	}})
	t.jobs.Submit(worker.Job{Key: gameID, Name: "gameIndex", Do: func(ctx context.Context) error {
		return t.store.UpsertOHLC(ctx, gameID, index, tick, price)
	}})
}

func (t *Tracker) onGodCandle(gameID string, tick int, from, to float64, now time.Time) {
	underCap := from <= godCandleCap
	doc := &store.GodCandleDoc{
		GameID:    gameID,
		TickIndex: tick,
		FromPrice: from,
		ToPrice:   to,
		Ratio:     to / from,
		Version:   t.version,
		UnderCap:  underCap,
		CreatedAt: now,
	}
	t.jobs.Submit(worker.Job{Key: gameID, Name: "godCandle", Do: func(ctx context.Context) error {
		return t.store.UpsertGodCandle(ctx, doc)
	}})
	// The generator only produces god candles off a <=100x base, so the
	// game-level marker follows that guard; moves off a higher base keep
	// their document but never tag the game.
	if underCap {
		t.submitCritical(gameID, "gameGodCandle", func(ctx context.Context) error {
			return t.store.UpsertGame(ctx, gameID, bson.M{"hasGodCandle": true})
		})
	}

	t.pub.Publish(events.GodCandleFrame{
		Schema:    events.FrameSchema,
		Type:      events.TypeGodCandle,
		GameID:    gameID,
		Tick:      tick,
		FromPrice: from,
		ToPrice:   to,
		Ratio:     to / from,
		TS:        now,
	})
	telemetry.Infof("tracker: god candle on %s tick %d (%.2fx)", gameID, tick, to/from)
}

// onRugged marks the rug transition once and emits the rug frame.
func (t *Tracker) onRugged(snap *events.GameStateUpdate, now time.Time) {
	if t.trackedGameID == "" || snap.GameID != t.trackedGameID {
		return
	}
	if t.phase == PhaseRug {
		return
	}
	t.phase = PhaseRug

	gameID := t.trackedGameID
	tick := t.lastTick
	if snap.TickCount != nil {
		tick = *snap.TickCount
	}
	endPrice := t.prevPrice
	if snap.Price != nil {
		endPrice = *snap.Price
	}

	set := bson.M{
		"phase":      PhaseRug,
		"endTime":    now,
		"rugTick":    tick,
		"endPrice":   endPrice,
		"quality":    t.quality,
		"lastSeenAt": now,
	}
	t.submitCritical(gameID, "gameRug", func(ctx context.Context) error {
		return t.store.UpsertGame(ctx, gameID, set)
	})
	t.submitCritical(gameID, "gamePhase", func(ctx context.Context) error {
		return t.store.AppendGamePhase(ctx, gameID, store.Phase{Phase: PhaseRug, Tick: &tick, At: now})
	})

	t.pub.Publish(events.RugFrame{
		Schema:   events.FrameSchema,
		Type:     events.TypeRug,
		GameID:   gameID,
		Tick:     tick,
		EndPrice: endPrice,
		TS:       now,
	})
	telemetry.Infof("tracker: game %s rugged at tick %d", gameID, tick)
}

// onInactive handles cooldown phases and, after a rug, the history
// hand-off that finalizes the ended game.
func (t *Tracker) onInactive(snap *events.GameStateUpdate, now time.Time) {
	if t.phase == PhaseRug && len(snap.GameHistory) > 0 {
		t.finalizeFromHistory(snap.GameHistory, now)
	}

	cooldown := 0
	if snap.CooldownTimer != nil {
		cooldown = *snap.CooldownTimer
	}
	switch {
	case cooldown > preRoundGate:
		t.phase = PhaseCooldown
	case cooldown > 0 && cooldown <= preRoundGate && snap.AllowPreRoundBuys:
		t.phase = PhasePreRound
	case t.phase == PhaseActive || t.phase == PhaseRug:
		// Inactive without a usable cooldown reading: fall back to
		// cooldown rather than staying in a live phase.
		t.phase = PhaseCooldown
	}
}

// finalizeFromHistory extracts the ended game from the snapshot's
// gameHistory by matching gameId, never by position.
func (t *Tracker) finalizeFromHistory(history []events.GameHistoryEntry, now time.Time) {
	gameID := t.trackedGameID
	if gameID == "" {
		return
	}

	var entry *events.GameHistoryEntry
	for i := range history {
		if history[i].Key() == gameID {
			entry = &history[i]
			break
		}
	}
	if entry == nil {
		telemetry.Errorf("tracker: history missing tracked game %s, resetting", gameID)
		telemetry.Metrics.Errors.Inc("trackerHistoryMissing")
		t.submitCritical(gameID, "prngTracking", func(ctx context.Context) error {
			return t.store.UpsertPRNGTracking(ctx, gameID, bson.M{"status": store.PRNGMissingExpected})
		})
		t.resetTracking()
		return
	}

	set := bson.M{
		"phase":      PhaseCompleted,
		"quality":    t.quality,
		"lastSeenAt": now,
	}
	if len(entry.Prices) > 0 {
		set["prices"] = entry.Prices
		set["totalTicks"] = len(entry.Prices) - 1
	}
	if entry.PeakMultiplier > 0 {
		set["peakMultiplier"] = entry.PeakMultiplier
	}
	if entry.GameVersion != "" {
		set["version"] = entry.GameVersion
	}

	prngSet := bson.M{"status": store.PRNGAwaitingSeed}
	if pf := entry.ProvablyFair; pf != nil {
		if pf.ServerSeedHash != "" {
			set["serverSeedHash"] = pf.ServerSeedHash
			prngSet["serverSeedHash"] = pf.ServerSeedHash
		}
		if pf.ServerSeed != "" {
			// Revealed seed is immutable once set.
			set["serverSeed"] = pf.ServerSeed
			prngSet["serverSeed"] = pf.ServerSeed
			prngSet["status"] = store.PRNGComplete
		}
		if pf.Version != "" {
			set["version"] = pf.Version
		}
	}

	t.submitCritical(gameID, "gameFinalize", func(ctx context.Context) error {
		return t.store.UpsertGame(ctx, gameID, set)
	})
	t.submitCritical(gameID, "gamePhase", func(ctx context.Context) error {
		return t.store.AppendGamePhase(ctx, gameID, store.Phase{Phase: PhaseCompleted, At: now})
	})
	t.submitCritical(gameID, "prngTracking", func(ctx context.Context) error {
		return t.store.UpsertPRNGTracking(ctx, gameID, prngSet)
	})

	telemetry.Infof("tracker: game %s finalized from history (ticks=%d)", gameID, len(entry.Prices))
	t.resetTracking()
}

func (t *Tracker) resetTracking() {
	t.trackedGameID = ""
	t.lastTick = -1
	t.havePrev = false
	t.prevPrice = 0
	t.quality = store.Quality{}
}

func (t *Tracker) updateLive(snap *events.GameStateUpdate, phase string, now time.Time) {
	ls := store.LiveState{
		GameID:        snap.GameID,
		Phase:         phase,
		Active:        snap.Active,
		Rugged:        snap.Rugged,
		Price:         snap.Price,
		TickCount:     snap.TickCount,
		CooldownTimer: snap.CooldownTimer,
		UpdatedAt:     now,
	}
	if snap.ProvablyFair != nil {
		ls.ProvablyFair = snap.ProvablyFair
	}

	t.mu.Lock()
	t.live = ls
	t.mu.Unlock()

	t.jobs.Submit(worker.Job{Key: "live_state", Name: "liveState", Do: func(ctx context.Context) error {
		return t.store.UpsertLiveState(ctx, &ls)
	}})
}

func (t *Tracker) submitCritical(key, name string, fn func(ctx context.Context) error) {
	t.jobs.Submit(worker.Job{Key: key, Name: name, Critical: true, Do: fn})
}
