// Package broadcast fans the normalized frame stream out to WebSocket
// subscribers. Slow consumers are evicted rather than allowed to
// backpressure the pipeline.
package broadcast

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rugslab/rugs-data-service/internal/events"
	"github.com/rugslab/rugs-data-service/internal/telemetry"
)

const (
	writeDeadline = 5 * time.Second
	pongWait      = 60 * time.Second
	pingInterval  = 45 * time.Second
)

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (s *subscriber) evict() {
	s.once.Do(func() { close(s.done) })
}

// Hub owns the subscriber set. Publish is called from the router and
// tracker goroutines and never blocks.
type Hub struct {
	sendBuf   int
	heartbeat time.Duration
	upgrader  websocket.Upgrader

	mu   sync.Mutex
	subs map[*subscriber]struct{}

	stop     chan struct{}
	stopOnce sync.Once
}

// NewHub builds a hub. allowOrigin gates browser upgrades; nil allows
// every origin.
func NewHub(sendBuf int, heartbeat time.Duration, allowOrigin func(origin string) bool) *Hub {
	if sendBuf < 1 {
		sendBuf = 256
	}
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	check := func(r *http.Request) bool {
		if allowOrigin == nil {
			return true
		}
		origin := r.Header.Get("Origin")
		// Non-browser clients send no Origin header.
		return origin == "" || allowOrigin(origin)
	}
	return &Hub{
		sendBuf:   sendBuf,
		heartbeat: heartbeat,
		upgrader:  websocket.Upgrader{CheckOrigin: check},
		subs:      make(map[*subscriber]struct{}),
		stop:      make(chan struct{}),
	}
}

// Run emits the periodic heartbeat frame until Shutdown.
func (h *Hub) Run() {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.Publish(events.HeartbeatFrame{Type: events.TypeHeartbeat, TS: time.Now().UTC()})
		}
	}
}

// Publish serializes a frame and enqueues it to every subscriber. A
// subscriber whose buffer is full is evicted on the spot.
func (h *Hub) Publish(frame any) {
	data, err := events.Marshal(frame)
	if err != nil {
		telemetry.Warnf("broadcast: marshal error: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.subs {
		select {
		case s.send <- data:
		default:
			telemetry.Metrics.WSSlowClientDrops.Inc()
			telemetry.Warnf("broadcast: evicting slow subscriber")
			s.evict()
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// HandleWS upgrades the request and attaches a subscriber. The hello
// frame is the first message every subscriber receives.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		telemetry.Warnf("broadcast: upgrade failed: %v", err)
		return
	}

	s := &subscriber{
		conn: conn,
		send: make(chan []byte, h.sendBuf),
		done: make(chan struct{}),
	}

	hello, err := events.Marshal(events.HelloFrame{Type: events.TypeHello, TS: time.Now().UTC()})
	if err == nil {
		s.send <- hello
	}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	telemetry.Metrics.WSSubscribers.Set(int64(n))
	telemetry.Infof("broadcast: subscriber connected (%d total)", n)

	go h.writePump(s)
	go h.readPump(s)
}

// writePump drains the send channel onto the connection. It owns the
// subscriber lifecycle: on exit it removes the subscriber and closes
// the connection, so Publish never hits a stale channel.
func (h *Hub) writePump(s *subscriber) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		h.remove(s)
		s.conn.Close()
	}()

	for {
		select {
		case msg := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-s.done:
			return
		case <-h.stop:
			s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			return
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump keeps the connection alive by consuming pongs and close
// frames; subscribers never send application data. On exit it signals
// writePump via done.
func (h *Hub) readPump(s *subscriber) {
	defer s.evict()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	n := len(h.subs)
	h.mu.Unlock()
	telemetry.Metrics.WSSubscribers.Set(int64(n))
	telemetry.Infof("broadcast: subscriber disconnected (%d total)", n)
}

// Shutdown closes every subscriber connection and stops the heartbeat.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() { close(h.stop) })
}
