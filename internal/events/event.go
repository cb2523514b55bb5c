package events

import (
	"encoding/json"
	"time"
)

// RawFrame is the (eventName, payload, receivedAt) tuple surfaced by the
// upstream consumer. Payload is kept as raw JSON until validation.
type RawFrame struct {
	Name       string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// Schema keys. Each key names one canonical JSON Schema in the registry.
const (
	SchemaGameStateUpdate       = "gameStateUpdate"
	SchemaNewTrade              = "newTrade"
	SchemaCurrentSideBet        = "currentSideBet"
	SchemaNewSideBet            = "newSideBet"
	SchemaGameStatePlayerUpdate = "gameStatePlayerUpdate"
	SchemaPlayerUpdate          = "playerUpdate"
)

// schemaKeys maps inbound event names to schema keys. The table is fixed:
// two distinct side-bet families map to two distinct schemas.
var schemaKeys = map[string]string{
	"gameStateUpdate":        SchemaGameStateUpdate,
	"standard/newTrade":      SchemaNewTrade,
	"standard/sideBetPlaced": SchemaCurrentSideBet,
	"sideBet":                SchemaNewSideBet,
	"standard/sideBetResult": SchemaNewSideBet,
	"gameStatePlayerUpdate":  SchemaGameStatePlayerUpdate,
	"playerUpdate":           SchemaPlayerUpdate,
}

// SchemaKeyFor returns the schema key for an inbound event name.
// Unmapped events (rugPool, leaderboard, ...) are archived unvalidated.
func SchemaKeyFor(name string) (string, bool) {
	key, ok := schemaKeys[name]
	return key, ok
}

// GameStateUpdate is the per-tick authoritative snapshot from upstream.
// Pointer fields distinguish absent from zero-valued; the tracker's
// phase gates depend on that distinction.
type GameStateUpdate struct {
	GameID            string             `json:"gameId"`
	Active            bool               `json:"active"`
	Rugged            bool               `json:"rugged"`
	Price             *float64           `json:"price"`
	TickCount         *int               `json:"tickCount"`
	CooldownTimer     *int               `json:"cooldownTimer"`
	AllowPreRoundBuys bool               `json:"allowPreRoundBuys"`
	ProvablyFair      *ProvablyFair      `json:"provablyFair"`
	GameHistory       []GameHistoryEntry `json:"gameHistory"`
}

// ProvablyFair carries the commitment (hash) during a game and the
// revealed seed once the game is in history.
type ProvablyFair struct {
	ServerSeedHash string `json:"serverSeedHash"`
	ServerSeed     string `json:"serverSeed,omitempty"`
	Version        string `json:"version,omitempty"`
}

// GameHistoryEntry is one completed game inside a snapshot's
// gameHistory array. Matched by ID, never by position.
type GameHistoryEntry struct {
	ID             string        `json:"id"`
	GameID         string        `json:"gameId"`
	Prices         []float64     `json:"prices"`
	PeakMultiplier float64       `json:"peakMultiplier"`
	Rugged         bool          `json:"rugged"`
	GameVersion    string        `json:"gameVersion,omitempty"`
	ProvablyFair   *ProvablyFair `json:"provablyFair"`
}

// Key returns whichever of id/gameId identifies the entry.
func (e GameHistoryEntry) Key() string {
	if e.ID != "" {
		return e.ID
	}
	return e.GameID
}

// Trade is a standard/newTrade payload.
type Trade struct {
	ID        string   `json:"id"`
	GameID    string   `json:"gameId"`
	PlayerID  string   `json:"playerId"`
	Type      string   `json:"type"` // "buy" | "sell"
	TickIndex int      `json:"tickIndex"`
	Amount    float64  `json:"amount"`
	Qty       float64  `json:"qty"`
	Price     *float64 `json:"price"`
	Coin      string   `json:"coin"`
}

// SideBet covers both placement (standard/sideBetPlaced) and
// resolution (sideBet, standard/sideBetResult) payloads.
type SideBet struct {
	GameID           string   `json:"gameId"`
	PlayerID         string   `json:"playerId"`
	StartTick        *int     `json:"startTick"`
	EndTick          *int     `json:"endTick"`
	BetAmount        *float64 `json:"betAmount"`
	TargetMultiplier *float64 `json:"targetMultiplier"`
	PayoutRatio      *float64 `json:"payoutRatio"`
	Won              *bool    `json:"won"`
	PnL              *float64 `json:"pnl"`
}

func ParseGameStateUpdate(raw json.RawMessage) (*GameStateUpdate, error) {
	var s GameStateUpdate
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func ParseTrade(raw json.RawMessage) (*Trade, error) {
	var t Trade
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func ParseSideBet(raw json.RawMessage) (*SideBet, error) {
	var b SideBet
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, err
	}
	return &b, nil
}
