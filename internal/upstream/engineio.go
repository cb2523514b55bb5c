package upstream

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Engine.IO v4 packet types (first byte of a websocket text message).
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'
)

// Socket.IO packet types (second byte, inside an Engine.IO message).
const (
	sioConnect      = '0'
	sioDisconnect   = '1'
	sioEvent        = '2'
	sioConnectError = '4'
)

// openPayload is the handshake the server sends in the Engine.IO open
// packet.
type openPayload struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
}

// wsURL converts the configured upstream base URL into the websocket
// endpoint for an Engine.IO v4 session, preserving any query the base
// carries and pinning the frontend-version the feed expects.
func wsURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse upstream url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "wss", "ws":
	default:
		return "", fmt.Errorf("unsupported upstream scheme %q", u.Scheme)
	}
	u.Path = "/socket.io/"

	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	if q.Get("frontend-version") == "" {
		q.Set("frontend-version", "1.0")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// parseEvent decodes a "42..." event packet into its event name and
// payload. An optional ack id between the type bytes and the array is
// skipped; payload is nil for name-only events.
func parseEvent(msg []byte) (name string, payload json.RawMessage, err error) {
	body := msg[2:]
	for len(body) > 0 && body[0] >= '0' && body[0] <= '9' {
		body = body[1:]
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil {
		return "", nil, fmt.Errorf("decode event packet: %w", err)
	}
	if len(parts) == 0 {
		return "", nil, fmt.Errorf("empty event packet")
	}
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return "", nil, fmt.Errorf("decode event name: %w", err)
	}
	if len(parts) > 1 {
		payload = parts[1]
	}
	return name, payload, nil
}

// isEvent reports whether msg is a Socket.IO event packet ("42...").
func isEvent(msg []byte) bool {
	return len(msg) >= 2 && msg[0] == eioMessage && msg[1] == sioEvent
}

func errUnexpectedPacket(msg []byte) error {
	if len(msg) > 32 {
		msg = msg[:32]
	}
	return fmt.Errorf("unexpected packet %q", msg)
}

func jsonUnmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode handshake: %w", err)
	}
	return nil
}

// namespaceSID pulls the session id out of a "40{...}" connect ack.
func namespaceSID(msg []byte) string {
	rest := strings.TrimPrefix(string(msg), "40")
	var ack struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal([]byte(rest), &ack); err != nil {
		return ""
	}
	return ack.SID
}
