package upstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWSURL(t *testing.T) {
	u, err := wsURL("https://backend.rugs.fun")
	require.NoError(t, err)
	assert.Equal(t, "wss://backend.rugs.fun/socket.io/?EIO=4&frontend-version=1.0&transport=websocket", u)
}

func TestWSURLKeepsExistingQuery(t *testing.T) {
	u, err := wsURL("https://backend.rugs.fun?frontend-version=2.1")
	require.NoError(t, err)
	assert.Contains(t, u, "frontend-version=2.1")
	assert.Contains(t, u, "EIO=4")
}

func TestWSURLPlainHTTP(t *testing.T) {
	u, err := wsURL("http://localhost:9000")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:9000/socket.io/?EIO=4&frontend-version=1.0&transport=websocket", u)
}

func TestWSURLRejectsBadScheme(t *testing.T) {
	_, err := wsURL("ftp://backend.rugs.fun")
	assert.Error(t, err)
}

func TestParseEvent(t *testing.T) {
	name, payload, err := parseEvent([]byte(`42["gameStateUpdate",{"gameId":"g1","active":true}]`))
	require.NoError(t, err)
	assert.Equal(t, "gameStateUpdate", name)
	assert.JSONEq(t, `{"gameId":"g1","active":true}`, string(payload))
}

func TestParseEventWithAckID(t *testing.T) {
	name, payload, err := parseEvent([]byte(`4213["standard/newTrade",{"id":"t1"}]`))
	require.NoError(t, err)
	assert.Equal(t, "standard/newTrade", name)
	assert.JSONEq(t, `{"id":"t1"}`, string(payload))
}

func TestParseEventNameOnly(t *testing.T) {
	name, payload, err := parseEvent([]byte(`42["rugPool"]`))
	require.NoError(t, err)
	assert.Equal(t, "rugPool", name)
	assert.Nil(t, payload)
}

func TestParseEventMalformed(t *testing.T) {
	_, _, err := parseEvent([]byte(`42{not an array}`))
	assert.Error(t, err)

	_, _, err = parseEvent([]byte(`42[]`))
	assert.Error(t, err)
}

func TestIsEvent(t *testing.T) {
	assert.True(t, isEvent([]byte(`42["x"]`)))
	assert.False(t, isEvent([]byte(`40`)))
	assert.False(t, isEvent([]byte(`2`)))
	assert.False(t, isEvent([]byte(``)))
}

func TestNamespaceSID(t *testing.T) {
	assert.Equal(t, "abc123", namespaceSID([]byte(`40{"sid":"abc123"}`)))
	assert.Empty(t, namespaceSID([]byte(`40`)))
}
