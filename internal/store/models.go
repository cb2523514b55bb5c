package store

import (
	"time"

	"github.com/rugslab/rugs-data-service/internal/events"
)

// Document primary keys are service-chosen UUID strings, not
// store-generated ObjectIDs, so JSON responses stay flat.

// Snapshot is one persisted gameStateUpdate, payload included.
type Snapshot struct {
	ID            string             `bson:"_id" json:"id"`
	GameID        string             `bson:"gameId" json:"gameId"`
	TickCount     *int               `bson:"tickCount" json:"tickCount"`
	Active        bool               `bson:"active" json:"active"`
	Rugged        bool               `bson:"rugged" json:"rugged"`
	Price         *float64           `bson:"price" json:"price"`
	CooldownTimer *int               `bson:"cooldownTimer" json:"cooldownTimer"`
	ProvablyFair  any                `bson:"provablyFair,omitempty" json:"provablyFair,omitempty"`
	Phase         string             `bson:"phase" json:"phase"`
	Payload       any                `bson:"payload,omitempty" json:"payload,omitempty"`
	Validation    *events.Validation `bson:"validation,omitempty" json:"validation,omitempty"`
	CreatedAt     time.Time          `bson:"createdAt" json:"createdAt"`
}

// Game is the per-game aggregate owned by the state tracker.
type Game struct {
	DocID          string     `bson:"_id" json:"-"`
	ID             string     `bson:"id" json:"id"`
	Phase          string     `bson:"phase,omitempty" json:"phase,omitempty"`
	Version        string     `bson:"version,omitempty" json:"version,omitempty"`
	ServerSeedHash string     `bson:"serverSeedHash,omitempty" json:"serverSeedHash,omitempty"`
	ServerSeed     string     `bson:"serverSeed,omitempty" json:"serverSeed,omitempty"`
	StartTime      *time.Time `bson:"startTime,omitempty" json:"startTime,omitempty"`
	EndTime        *time.Time `bson:"endTime,omitempty" json:"endTime,omitempty"`
	RugTick        *int       `bson:"rugTick,omitempty" json:"rugTick,omitempty"`
	EndPrice       *float64   `bson:"endPrice,omitempty" json:"endPrice,omitempty"`
	PeakMultiplier *float64   `bson:"peakMultiplier,omitempty" json:"peakMultiplier,omitempty"`
	TotalTicks     *int       `bson:"totalTicks,omitempty" json:"totalTicks,omitempty"`
	Prices         []float64  `bson:"prices,omitempty" json:"prices,omitempty"`
	HasGodCandle   bool       `bson:"hasGodCandle" json:"hasGodCandle"`
	PRNGVerified   *bool      `bson:"prngVerified,omitempty" json:"prngVerified,omitempty"`
	Verification   any        `bson:"prngVerificationData,omitempty" json:"prngVerificationData,omitempty"`
	Quality        *Quality   `bson:"quality,omitempty" json:"quality,omitempty"`
	History        []Phase    `bson:"history,omitempty" json:"history,omitempty"`
	LastSeenAt     time.Time  `bson:"lastSeenAt" json:"lastSeenAt"`
}

// Phase is one append-only phase transition on a game's history.
type Phase struct {
	Phase string    `bson:"phase" json:"phase"`
	Tick  *int      `bson:"tick,omitempty" json:"tick,omitempty"`
	At    time.Time `bson:"at" json:"at"`
}

// Quality flags are updated by the tracker on each relevant tick.
type Quality struct {
	DuplicateOrOutOfOrder bool      `bson:"duplicateOrOutOfOrder" json:"duplicateOrOutOfOrder"`
	LargeGap              bool      `bson:"largeGap" json:"largeGap"`
	PriceNonPositive      bool      `bson:"priceNonPositive" json:"priceNonPositive"`
	LastCheckedAt         time.Time `bson:"lastCheckedAt" json:"lastCheckedAt"`
}

// TradeDoc is keyed by the caller-provided eventId; inserts are
// strictly at-most-once.
type TradeDoc struct {
	ID         string             `bson:"_id" json:"id"`
	EventID    string             `bson:"eventId" json:"eventId"`
	GameID     string             `bson:"gameId" json:"gameId"`
	PlayerID   string             `bson:"playerId" json:"playerId"`
	Type       string             `bson:"type" json:"type"`
	TickIndex  int                `bson:"tickIndex" json:"tickIndex"`
	Amount     float64            `bson:"amount" json:"amount"`
	Qty        float64            `bson:"qty" json:"qty"`
	Price      *float64           `bson:"price,omitempty" json:"price,omitempty"`
	Coin       string             `bson:"coin,omitempty" json:"coin,omitempty"`
	Validation *events.Validation `bson:"validation,omitempty" json:"validation,omitempty"`
	CreatedAt  time.Time          `bson:"createdAt" json:"createdAt"`
}

type SideBetDoc struct {
	ID               string             `bson:"_id" json:"id"`
	GameID           string             `bson:"gameId" json:"gameId"`
	PlayerID         string             `bson:"playerId" json:"playerId"`
	StartTick        *int               `bson:"startTick,omitempty" json:"startTick,omitempty"`
	EndTick          *int               `bson:"endTick,omitempty" json:"endTick,omitempty"`
	BetAmount        *float64           `bson:"betAmount,omitempty" json:"betAmount,omitempty"`
	TargetMultiplier *float64           `bson:"targetMultiplier,omitempty" json:"targetMultiplier,omitempty"`
	PayoutRatio      *float64           `bson:"payoutRatio,omitempty" json:"payoutRatio,omitempty"`
	Won              *bool              `bson:"won,omitempty" json:"won,omitempty"`
	PnL              *float64           `bson:"pnl,omitempty" json:"pnl,omitempty"`
	Event            string             `bson:"event" json:"event"`
	Validation       *events.Validation `bson:"validation,omitempty" json:"validation,omitempty"`
	CreatedAt        time.Time          `bson:"createdAt" json:"createdAt"`
}

// GodCandleDoc records a >=10x single-tick jump; unique (gameId, tickIndex).
type GodCandleDoc struct {
	ID        string    `bson:"_id" json:"id"`
	GameID    string    `bson:"gameId" json:"gameId"`
	TickIndex int       `bson:"tickIndex" json:"tickIndex"`
	FromPrice float64   `bson:"fromPrice" json:"fromPrice"`
	ToPrice   float64   `bson:"toPrice" json:"toPrice"`
	Ratio     float64   `bson:"ratio" json:"ratio"`
	Version   string    `bson:"version,omitempty" json:"version,omitempty"`
	UnderCap  bool      `bson:"underCap" json:"underCap"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

// TickDoc is the source of truth for derived OHLC; unique (gameId, tick).
type TickDoc struct {
	ID        string    `bson:"_id" json:"id"`
	GameID    string    `bson:"gameId" json:"gameId"`
	Tick      int       `bson:"tick" json:"tick"`
	Price     float64   `bson:"price" json:"price"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

// OHLCDoc aggregates 5 consecutive ticks; unique (gameId, index).
type OHLCDoc struct {
	ID        string    `bson:"_id" json:"id"`
	GameID    string    `bson:"gameId" json:"gameId"`
	Index     int       `bson:"index" json:"index"`
	Open      float64   `bson:"open" json:"open"`
	High      float64   `bson:"high" json:"high"`
	Low       float64   `bson:"low" json:"low"`
	Close     float64   `bson:"close" json:"close"`
	StartTick int       `bson:"startTick" json:"startTick"`
	EndTick   int       `bson:"endTick" json:"endTick"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// EventDoc is the raw event archive (30-day TTL).
type EventDoc struct {
	ID         string             `bson:"_id" json:"id"`
	Type       string             `bson:"type" json:"type"`
	Payload    any                `bson:"payload,omitempty" json:"payload,omitempty"`
	Validation *events.Validation `bson:"validation,omitempty" json:"validation,omitempty"`
	CreatedAt  time.Time          `bson:"createdAt" json:"createdAt"`
}

// ConnectionEventDoc records upstream session lifecycle transitions.
type ConnectionEventDoc struct {
	ID          string    `bson:"_id" json:"id"`
	SocketID    string    `bson:"socketId,omitempty" json:"socketId,omitempty"`
	EventType   string    `bson:"eventType" json:"eventType"`
	Metadata    any       `bson:"metadata,omitempty" json:"metadata,omitempty"`
	TimestampMs int64     `bson:"timestampMs" json:"timestampMs"`
	CreatedAt   time.Time `bson:"createdAt" json:"createdAt"`
}

// PRNG tracking statuses.
const (
	PRNGTracking        = "TRACKING"
	PRNGComplete        = "COMPLETE"
	PRNGAwaitingSeed    = "AWAITING_SEED"
	PRNGMissingExpected = "MISSING_EXPECTED"
	PRNGVerifiedStatus  = "VERIFIED"
	PRNGFailed          = "FAILED"
)

// PRNGTrackingDoc is the per-game verification record; unique gameId.
type PRNGTrackingDoc struct {
	ID             string    `bson:"_id" json:"id"`
	GameID         string    `bson:"gameId" json:"gameId"`
	Status         string    `bson:"status" json:"status"`
	ServerSeedHash string    `bson:"serverSeedHash,omitempty" json:"serverSeedHash,omitempty"`
	ServerSeed     string    `bson:"serverSeed,omitempty" json:"serverSeed,omitempty"`
	Verification   any       `bson:"verification,omitempty" json:"verification,omitempty"`
	CreatedAt      time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time `bson:"updatedAt" json:"updatedAt"`
}

// LiveState is the meta singleton behind GET /api/live.
type LiveState struct {
	GameID        string    `bson:"gameId" json:"gameId"`
	Phase         string    `bson:"phase" json:"phase"`
	Active        bool      `bson:"active" json:"active"`
	Rugged        bool      `bson:"rugged" json:"rugged"`
	Price         *float64  `bson:"price" json:"price"`
	TickCount     *int      `bson:"tickCount" json:"tickCount"`
	CooldownTimer *int      `bson:"cooldownTimer" json:"cooldownTimer"`
	ProvablyFair  any       `bson:"provablyFair,omitempty" json:"provablyFair,omitempty"`
	UpdatedAt     time.Time `bson:"updatedAt" json:"updatedAt"`
}

// StatusCheck mirrors the status-check probe records.
type StatusCheck struct {
	ID         string    `bson:"_id" json:"id"`
	ClientName string    `bson:"client_name" json:"client_name"`
	Timestamp  time.Time `bson:"timestamp" json:"timestamp"`
}
