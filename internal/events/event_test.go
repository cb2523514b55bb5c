package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaKeyFor(t *testing.T) {
	cases := map[string]string{
		"gameStateUpdate":        SchemaGameStateUpdate,
		"standard/newTrade":      SchemaNewTrade,
		"standard/sideBetPlaced": SchemaCurrentSideBet,
		"sideBet":                SchemaNewSideBet,
		"standard/sideBetResult": SchemaNewSideBet,
		"gameStatePlayerUpdate":  SchemaGameStatePlayerUpdate,
		"playerUpdate":           SchemaPlayerUpdate,
	}
	for name, want := range cases {
		key, ok := SchemaKeyFor(name)
		require.True(t, ok, name)
		assert.Equal(t, want, key, name)
	}

	for _, name := range []string{"rugPool", "leaderboard", ""} {
		_, ok := SchemaKeyFor(name)
		assert.False(t, ok, name)
	}
}

func TestOutboundTypeFor(t *testing.T) {
	cases := map[string]string{
		SchemaGameStateUpdate: TypeGameStateUpdate,
		SchemaNewTrade:        TypeTrade,
		SchemaCurrentSideBet:  TypeSideBet,
		SchemaNewSideBet:      TypeSideBet,
	}
	for key, want := range cases {
		typ, ok := OutboundTypeFor(key)
		require.True(t, ok, key)
		assert.Equal(t, want, typ, key)
	}

	_, ok := OutboundTypeFor(SchemaPlayerUpdate)
	assert.False(t, ok)
}

func TestParseGameStateUpdateAbsentFields(t *testing.T) {
	snap, err := ParseGameStateUpdate([]byte(`{"gameId":"g1","active":false,"rugged":false}`))
	require.NoError(t, err)
	assert.Equal(t, "g1", snap.GameID)
	assert.Nil(t, snap.Price)
	assert.Nil(t, snap.TickCount)
	assert.Nil(t, snap.CooldownTimer)
}

func TestParseGameStateUpdateZeroVsAbsent(t *testing.T) {
	snap, err := ParseGameStateUpdate([]byte(`{"gameId":"g1","active":true,"rugged":false,"price":0,"tickCount":0,"cooldownTimer":0}`))
	require.NoError(t, err)
	require.NotNil(t, snap.Price)
	require.NotNil(t, snap.TickCount)
	require.NotNil(t, snap.CooldownTimer)
	assert.Zero(t, *snap.Price)
	assert.Zero(t, *snap.TickCount)
	assert.Zero(t, *snap.CooldownTimer)
}

func TestParseGameStateUpdateHistory(t *testing.T) {
	payload := `{
		"gameId": "g2",
		"active": false,
		"rugged": false,
		"gameHistory": [
			{"id": "g1", "prices": [1.0, 1.2, 0.1], "peakMultiplier": 1.2,
			 "provablyFair": {"serverSeed": "s", "serverSeedHash": "h"}}
		]
	}`
	snap, err := ParseGameStateUpdate([]byte(payload))
	require.NoError(t, err)
	require.Len(t, snap.GameHistory, 1)
	entry := snap.GameHistory[0]
	assert.Equal(t, "g1", entry.Key())
	assert.Equal(t, []float64{1.0, 1.2, 0.1}, entry.Prices)
	require.NotNil(t, entry.ProvablyFair)
	assert.Equal(t, "s", entry.ProvablyFair.ServerSeed)
}

func TestGameHistoryEntryKey(t *testing.T) {
	assert.Equal(t, "a", GameHistoryEntry{ID: "a", GameID: "b"}.Key())
	assert.Equal(t, "b", GameHistoryEntry{GameID: "b"}.Key())
	assert.Equal(t, "", GameHistoryEntry{}.Key())
}

func TestParseTrade(t *testing.T) {
	raw := []byte(`{"id":"t1","gameId":"g1","playerId":"p1","type":"buy","tickIndex":42,"amount":1.5,"qty":3.0,"coin":"sol"}`)
	tr, err := ParseTrade(raw)
	require.NoError(t, err)
	assert.Equal(t, "t1", tr.ID)
	assert.Equal(t, "buy", tr.Type)
	assert.Equal(t, 42, tr.TickIndex)
	assert.Nil(t, tr.Price)
}

func TestParseSideBet(t *testing.T) {
	raw := []byte(`{"gameId":"g1","playerId":"p1","startTick":10,"betAmount":0.5,"won":true,"pnl":0.75}`)
	b, err := ParseSideBet(raw)
	require.NoError(t, err)
	require.NotNil(t, b.StartTick)
	assert.Equal(t, 10, *b.StartTick)
	require.NotNil(t, b.Won)
	assert.True(t, *b.Won)
	assert.Nil(t, b.EndTick)
}

func TestMarshalFrameShape(t *testing.T) {
	f := GameStateFrame{
		Schema: FrameSchema,
		Type:   TypeGameStateUpdate,
		GameID: "g1",
		Tick:   7,
		Price:  1.25,
		Phase:  "ACTIVE",
		Validation: Validation{
			OK:     true,
			Schema: SchemaGameStateUpdate,
		},
	}
	data, err := Marshal(f)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "v1", got["schema"])
	assert.Equal(t, "game_state_update", got["type"])
	assert.Equal(t, "g1", got["gameId"])
	assert.Equal(t, "ACTIVE", got["phase"])
}
