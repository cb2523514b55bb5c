package events

import (
	"encoding/json"
	"time"
)

// Outbound frame types for the downstream stream.
const (
	TypeHello           = "hello"
	TypeHeartbeat       = "heartbeat"
	TypeGameStateUpdate = "game_state_update"
	TypeTrade           = "trade"
	TypeSideBet         = "side_bet"
	TypeGodCandle       = "god_candle"
	TypeRug             = "rug"
)

// FrameSchema tags every normalized outbound frame.
const FrameSchema = "v1"

// Validation is the warn-only validation summary embedded in persisted
// records and outbound frames. A failed validation never drops data.
type Validation struct {
	OK     bool   `json:"ok"`
	Schema string `json:"schema"`
	Error  string `json:"error,omitempty"`
}

// OutboundTypeFor maps a schema key to its outbound frame type.
// god_candle and rug are derived by the tracker, not mapped here.
func OutboundTypeFor(schemaKey string) (string, bool) {
	switch schemaKey {
	case SchemaGameStateUpdate:
		return TypeGameStateUpdate, true
	case SchemaNewTrade:
		return TypeTrade, true
	case SchemaCurrentSideBet, SchemaNewSideBet:
		return TypeSideBet, true
	}
	return "", false
}

type HelloFrame struct {
	Type string    `json:"type"`
	TS   time.Time `json:"ts"`
}

type HeartbeatFrame struct {
	Type string    `json:"type"`
	TS   time.Time `json:"ts"`
}

type GameStateFrame struct {
	Schema     string     `json:"schema"`
	Type       string     `json:"type"`
	GameID     string     `json:"gameId"`
	Tick       int        `json:"tick"`
	Price      float64    `json:"price"`
	Phase      string     `json:"phase"`
	Validation Validation `json:"validation"`
	TS         time.Time  `json:"ts"`
}

type TradeFrame struct {
	Schema     string     `json:"schema"`
	Type       string     `json:"type"`
	GameID     string     `json:"gameId"`
	PlayerID   string     `json:"playerId"`
	TradeType  string     `json:"tradeType"`
	TickIndex  int        `json:"tickIndex"`
	Amount     float64    `json:"amount"`
	Qty        float64    `json:"qty"`
	Price      *float64   `json:"price,omitempty"`
	Validation Validation `json:"validation"`
	TS         time.Time  `json:"ts"`
}

// SideBetFrame keeps the inbound event name in Event so consumers can
// tell placement from resolution; both share the side_bet type.
type SideBetFrame struct {
	Schema     string     `json:"schema"`
	Type       string     `json:"type"`
	Event      string     `json:"event"`
	GameID     string     `json:"gameId"`
	PlayerID   string     `json:"playerId"`
	Validation Validation `json:"validation"`
	TS         time.Time  `json:"ts"`
}

type GodCandleFrame struct {
	Schema    string    `json:"schema"`
	Type      string    `json:"type"`
	GameID    string    `json:"gameId"`
	Tick      int       `json:"tick"`
	FromPrice float64   `json:"fromPrice"`
	ToPrice   float64   `json:"toPrice"`
	Ratio     float64   `json:"ratio"`
	TS        time.Time `json:"ts"`
}

type RugFrame struct {
	Schema   string    `json:"schema"`
	Type     string    `json:"type"`
	GameID   string    `json:"gameId"`
	Tick     int       `json:"tick"`
	EndPrice float64   `json:"endPrice"`
	TS       time.Time `json:"ts"`
}

// Marshal serializes any outbound frame for the wire.
func Marshal(frame any) ([]byte, error) {
	return json.Marshal(frame)
}
