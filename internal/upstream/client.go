// Package upstream maintains the read-only Socket.IO session against
// the game feed and surfaces every event as a RawFrame. The client
// never emits application events upstream; only protocol frames
// (pong, namespace connect) go out.
package upstream

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rugslab/rugs-data-service/internal/events"
	"github.com/rugslab/rugs-data-service/internal/telemetry"
	"github.com/rugslab/rugs-data-service/internal/worker"
)

// Connection lifecycle event types written to connection_events.
const (
	ConnConnected            = "CONNECTED"
	ConnDisconnected         = "DISCONNECTED"
	ConnError                = "ERROR"
	ConnMaxReconnectsReached = "MAX_RECONNECTS_REACHED"
)

const (
	readLimit    = 8 << 20
	writeTimeout = 10 * time.Second
	// handshakeTimeout bounds the open-packet and namespace-ack reads.
	handshakeTimeout = 15 * time.Second
)

// Recorder persists connection lifecycle events.
type Recorder interface {
	InsertConnectionEvent(ctx context.Context, socketID, eventType string, meta any) error
}

// JobSink accepts persistence work items.
type JobSink interface {
	Submit(worker.Job) bool
}

type Options struct {
	URL           string
	MaxReconnects int // 0 = unlimited
	BackoffMin    time.Duration
	BackoffMax    time.Duration
	QueueSize     int
}

type Client struct {
	opts Options
	rec  Recorder
	jobs JobSink
	out  chan events.RawFrame

	connected      atomic.Bool
	mu             sync.RWMutex
	socketID       string
	connectedSince time.Time
}

func NewClient(opts Options, rec Recorder, jobs JobSink) *Client {
	if opts.QueueSize < 1 {
		opts.QueueSize = 1024
	}
	return &Client{
		opts: opts,
		rec:  rec,
		jobs: jobs,
		out:  make(chan events.RawFrame, opts.QueueSize),
	}
}

// Frames is the bounded raw event stream consumed by the router.
func (c *Client) Frames() <-chan events.RawFrame { return c.out }

func (c *Client) Connected() bool { return c.connected.Load() }

// Session returns the current socket id and the time the session was
// established; zero values when disconnected.
func (c *Client) Session() (string, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.socketID, c.connectedSince
}

// Run drives the connect/consume/reconnect loop until ctx is
// cancelled. The out channel is closed on return.
func (c *Client) Run(ctx context.Context) {
	defer close(c.out)

	endpoint, err := wsURL(c.opts.URL)
	if err != nil {
		telemetry.Errorf("upstream: %v", err)
		c.record(ConnError, map[string]any{"error": err.Error()})
		return
	}

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		err := c.runSession(ctx, endpoint)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			telemetry.Warnf("upstream: session ended: %v", err)
			telemetry.Metrics.Errors.Inc("upstreamSession")
			c.record(ConnError, map[string]any{"error": err.Error()})
		}

		attempt++
		if c.opts.MaxReconnects > 0 && attempt > c.opts.MaxReconnects {
			telemetry.Errorf("upstream: giving up after %d reconnect attempts", c.opts.MaxReconnects)
			c.record(ConnMaxReconnectsReached, map[string]any{"attempts": attempt})
			return
		}

		delay := c.backoff(attempt)
		telemetry.Infof("upstream: reconnecting in %s (attempt %d)", delay.Round(time.Millisecond), attempt)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// runSession wraps one session so a panic surfaces as a reconnectable
// error instead of killing the consumer.
func (c *Client) runSession(ctx context.Context, endpoint string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.Metrics.Errors.Inc("upstreamPanic")
			err = fmt.Errorf("session panic: %v", r)
		}
	}()
	return c.session(ctx, endpoint)
}

// session runs one websocket connection end to end: Engine.IO open,
// namespace connect, then the read loop.
func (c *Client) session(ctx context.Context, endpoint string) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetReadLimit(readLimit)

	open, err := c.handshake(conn)
	if err != nil {
		return err
	}

	// The server pings on pingInterval; if nothing arrives within
	// interval+timeout the session is dead.
	readDeadline := time.Duration(open.PingInterval+open.PingTimeout) * time.Millisecond
	if readDeadline <= 0 {
		readDeadline = 60 * time.Second
	}

	c.markConnected(open.SID)
	defer c.markDisconnected()

	// Unblock the blocking read when ctx is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if len(msg) == 0 {
			continue
		}

		switch msg[0] {
		case eioPing:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte{eioPong}); err != nil {
				return err
			}
		case eioClose:
			return nil
		case eioMessage:
			if isEvent(msg) {
				c.dispatch(msg)
			} else if len(msg) >= 2 && msg[1] == sioDisconnect {
				return nil
			}
		}
	}
}

// handshake consumes the Engine.IO open packet and connects the
// default namespace.
func (c *Client) handshake(conn *websocket.Conn) (*openPayload, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if len(msg) == 0 || msg[0] != eioOpen {
		return nil, errUnexpectedPacket(msg)
	}
	var open openPayload
	if err := jsonUnmarshal(msg[1:], &open); err != nil {
		return nil, err
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, []byte("40")); err != nil {
		return nil, err
	}

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, ack, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if len(ack) < 2 || ack[0] != eioMessage || ack[1] != sioConnect {
		return nil, errUnexpectedPacket(ack)
	}
	if sid := namespaceSID(ack); sid != "" {
		open.SID = sid
	}
	return &open, nil
}

// dispatch parses an event packet and enqueues it, shedding the oldest
// frame when the queue is full so the consumer always sees fresh data.
func (c *Client) dispatch(msg []byte) {
	name, payload, err := parseEvent(msg)
	if err != nil {
		telemetry.Warnf("upstream: %v", err)
		telemetry.Metrics.Errors.Inc("upstreamDecode")
		return
	}

	frame := events.RawFrame{Name: name, Payload: payload, ReceivedAt: time.Now().UTC()}
	select {
	case c.out <- frame:
		return
	default:
	}
	select {
	case <-c.out:
		telemetry.Metrics.UpstreamDropped.Inc()
	default:
	}
	select {
	case c.out <- frame:
	default:
		telemetry.Metrics.UpstreamDropped.Inc()
	}
}

func (c *Client) markConnected(sid string) {
	now := time.Now().UTC()
	c.mu.Lock()
	c.socketID = sid
	c.connectedSince = now
	c.mu.Unlock()
	c.connected.Store(true)
	telemetry.Metrics.SocketConnected.Set(1)
	telemetry.Infof("upstream: connected (sid=%s)", sid)
	c.record(ConnConnected, map[string]any{"sid": sid})
}

func (c *Client) markDisconnected() {
	c.mu.Lock()
	sid := c.socketID
	c.socketID = ""
	c.connectedSince = time.Time{}
	c.mu.Unlock()
	c.connected.Store(false)
	telemetry.Metrics.SocketConnected.Set(0)
	c.record(ConnDisconnected, map[string]any{"sid": sid})
}

// record persists a connection lifecycle event through the worker pool
// so a slow store never stalls the read loop.
func (c *Client) record(eventType string, meta map[string]any) {
	sid, _ := c.Session()
	c.jobs.Submit(worker.Job{Key: "connection", Name: "connectionEvent", Do: func(ctx context.Context) error {
		return c.rec.InsertConnectionEvent(ctx, sid, eventType, meta)
	}})
}

// backoff doubles from the minimum up to the cap, with +/-50% jitter
// so a fleet of restarts does not thunder in lockstep.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.opts.BackoffMin
	for i := 1; i < attempt && d < c.opts.BackoffMax; i++ {
		d *= 2
	}
	if d > c.opts.BackoffMax {
		d = c.opts.BackoffMax
	}
	jitter := 0.5 + rand.Float64()
	out := time.Duration(float64(d) * jitter)
	if out < c.opts.BackoffMin {
		out = c.opts.BackoffMin
	}
	if out > c.opts.BackoffMax {
		out = c.opts.BackoffMax
	}
	return out
}
