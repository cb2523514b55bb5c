package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rugslab/rugs-data-service/internal/events"
	"github.com/rugslab/rugs-data-service/internal/telemetry"
)

const validSnapshot = `{
	"gameId": "20240101-abc",
	"active": true,
	"rugged": false,
	"price": 1.5,
	"tickCount": 42,
	"cooldownTimer": 0
}`

func mustLoad(t *testing.T) *Registry {
	t.Helper()
	r, err := Load()
	require.NoError(t, err)
	return r
}

func TestLoadCompilesAllSchemas(t *testing.T) {
	r := mustLoad(t)
	list := r.List()
	require.Len(t, list, 6)

	seen := make(map[string]bool)
	for _, d := range list {
		seen[d.Key] = true
		assert.NotEmpty(t, d.Title, d.Key)
		assert.NotEmpty(t, d.Properties, d.Key)
	}
	for _, key := range []string{
		events.SchemaGameStateUpdate,
		events.SchemaNewTrade,
		events.SchemaCurrentSideBet,
		events.SchemaNewSideBet,
		events.SchemaGameStatePlayerUpdate,
		events.SchemaPlayerUpdate,
	} {
		assert.True(t, seen[key], key)
	}
}

func TestDescriptorCarriesOutboundType(t *testing.T) {
	r := mustLoad(t)
	for _, d := range r.List() {
		switch d.Key {
		case events.SchemaGameStateUpdate:
			assert.Equal(t, events.TypeGameStateUpdate, d.OutboundType)
		case events.SchemaNewTrade:
			assert.Equal(t, events.TypeTrade, d.OutboundType)
		case events.SchemaPlayerUpdate, events.SchemaGameStatePlayerUpdate:
			assert.Empty(t, d.OutboundType)
		}
	}
}

func TestValidateSnapshot(t *testing.T) {
	r := mustLoad(t)

	v := r.Validate(events.SchemaGameStateUpdate, []byte(validSnapshot))
	assert.True(t, v.OK)
	assert.Equal(t, events.SchemaGameStateUpdate, v.Schema)
	assert.Empty(t, v.Error)
}

func TestValidateNullPriceFails(t *testing.T) {
	r := mustLoad(t)

	payload := `{
		"gameId": "20240101-abc",
		"active": true,
		"rugged": false,
		"price": null,
		"tickCount": 42,
		"cooldownTimer": 0
	}`
	v := r.Validate(events.SchemaGameStateUpdate, []byte(payload))
	assert.False(t, v.OK)
	assert.NotEmpty(t, v.Error)
}

func TestValidateMissingRequiredFails(t *testing.T) {
	r := mustLoad(t)

	v := r.Validate(events.SchemaNewTrade, []byte(`{"id":"t1","gameId":"g1"}`))
	assert.False(t, v.OK)
}

func TestValidateTradeEnum(t *testing.T) {
	r := mustLoad(t)

	ok := `{"id":"t1","gameId":"g1","playerId":"p1","type":"buy","tickIndex":0,"amount":1,"qty":1}`
	assert.True(t, r.Validate(events.SchemaNewTrade, []byte(ok)).OK)

	bad := `{"id":"t1","gameId":"g1","playerId":"p1","type":"hold","tickIndex":0,"amount":1,"qty":1}`
	assert.False(t, r.Validate(events.SchemaNewTrade, []byte(bad)).OK)
}

func TestValidateMalformedJSON(t *testing.T) {
	r := mustLoad(t)
	v := r.Validate(events.SchemaGameStateUpdate, []byte(`{not json`))
	assert.False(t, v.OK)
	assert.Contains(t, v.Error, "invalid JSON")
}

func TestValidateUnknownKey(t *testing.T) {
	r := mustLoad(t)
	v := r.Validate("nope", []byte(`{}`))
	assert.False(t, v.OK)
}

func TestValidateRecordsCounters(t *testing.T) {
	r := mustLoad(t)
	before := telemetry.Metrics.SchemaValidation.Total()

	r.Validate(events.SchemaGameStateUpdate, []byte(validSnapshot))
	r.Validate(events.SchemaGameStateUpdate, []byte(`{}`))

	assert.Equal(t, before+2, telemetry.Metrics.SchemaValidation.Total())
	snap := telemetry.Metrics.SchemaValidation.Snapshot()
	require.Contains(t, snap, events.SchemaGameStateUpdate)
	assert.GreaterOrEqual(t, snap[events.SchemaGameStateUpdate]["ok"], int64(1))
	assert.GreaterOrEqual(t, snap[events.SchemaGameStateUpdate]["fail"], int64(1))
}
