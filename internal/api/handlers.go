package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/rugslab/rugs-data-service/internal/store"
	"github.com/rugslab/rugs-data-service/internal/telemetry"
)

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Hello World"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ping, err := s.st.Ping(r.Context())
	dbOK := err == nil
	upOK := s.up.Connected()
	writeJSON(w, readinessStatus(dbOK, upOK), map[string]any{
		"dbOk":              dbOK,
		"upstreamConnected": upOK,
		"time":              time.Now().UTC(),
		"dbPingMs":          ping.Milliseconds(),
	})
}

// readinessStatus: the service is ready only when the store answers
// and the upstream session is up.
func readinessStatus(dbOK, upstreamOK bool) int {
	if dbOK && upstreamOK {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m := &telemetry.Metrics
	now := time.Now()
	sid, _ := s.up.Session()

	var dbPingMs int64 = -1
	if ping, err := s.st.Ping(r.Context()); err == nil {
		dbPingMs = ping.Milliseconds()
	}

	var lastEventAt *time.Time
	if ms := m.LastEventUnixMs.Value(); ms > 0 {
		t := time.UnixMilli(ms).UTC()
		lastEventAt = &t
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"serviceUptimeSec":       int64(now.Sub(m.StartedAt).Seconds()),
		"currentSocketConnected": s.up.Connected(),
		"socketId":               sid,
		"lastEventAt":            lastEventAt,
		"totalMessagesProcessed": m.MessagesProcessed.Value(),
		"totalTrades":            m.TradesStored.Value(),
		"totalGamesTracked":      m.GamesTracked.Value(),
		"messagesPerSecond1m":    m.Rate1m.Rate(now),
		"messagesPerSecond5m":    m.Rate5m.Rate(now),
		"wsSubscribers":          m.WSSubscribers.Value(),
		"wsSlowClientDrops":      m.WSSlowClientDrops.Value(),
		"upstreamDropped":        m.UpstreamDropped.Value(),
		"persistDropped":         m.PersistDropped.Value(),
		"dbPingMs":               dbPingMs,
		"errorCounters":          m.Errors.Snapshot(),
		"schemaValidation": map[string]any{
			"total":    m.SchemaValidation.Total(),
			"perEvent": m.SchemaValidation.Snapshot(),
		},
	})
}

func (s *Server) handleConnection(w http.ResponseWriter, _ *http.Request) {
	sid, since := s.up.Session()
	var sinceMs int64
	if !since.IsZero() {
		sinceMs = time.Since(since).Milliseconds()
	}
	var lastEventAt *time.Time
	if ms := telemetry.Metrics.LastEventUnixMs.Value(); ms > 0 {
		t := time.UnixMilli(ms).UTC()
		lastEventAt = &t
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connected":        s.up.Connected(),
		"socketId":         sid,
		"sinceConnectedMs": sinceMs,
		"lastEventAt":      lastEventAt,
	})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if ls, ok := s.tracker.Live(); ok {
		writeJSON(w, http.StatusOK, ls)
		return
	}
	// Nothing seen yet this session; fall back to the persisted record.
	ls, err := s.st.GetLiveState(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ls == nil {
		writeError(w, http.StatusNotFound, "no live state yet")
		return
	}
	writeJSON(w, http.StatusOK, ls)
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.st.RecentSnapshots(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleGames(w http.ResponseWriter, r *http.Request) {
	games, err := s.st.RecentGames(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, games)
}

func (s *Server) handleCurrentGame(w http.ResponseWriter, r *http.Request) {
	game, err := s.st.CurrentGame(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if game == nil {
		writeError(w, http.StatusNotFound, "no active game")
		return
	}
	writeJSON(w, http.StatusOK, game)
}

func (s *Server) handleGame(w http.ResponseWriter, r *http.Request) {
	game, err := s.st.GameByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if game == nil {
		writeError(w, http.StatusNotFound, "game not found")
		return
	}
	writeJSON(w, http.StatusOK, game)
}

func (s *Server) handleGameQuality(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	game, err := s.st.GameByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if game == nil {
		writeError(w, http.StatusNotFound, "game not found")
		return
	}
	quality := game.Quality
	if quality == nil {
		quality = &store.Quality{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"gameId": id, "quality": quality})
}

func (s *Server) handleGameVerification(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	game, err := s.st.GameByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if game == nil {
		writeError(w, http.StatusNotFound, "game not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"gameId":       id,
		"prngVerified": game.PRNGVerified,
		"verification": game.Verification,
	})
}

func (s *Server) handleOHLC(w http.ResponseWriter, r *http.Request) {
	gameID := r.URL.Query().Get("gameId")
	if gameID == "" {
		writeError(w, http.StatusBadRequest, "gameId is required")
		return
	}
	if win := r.URL.Query().Get("window"); win != "" && win != "5" {
		writeError(w, http.StatusBadRequest, "only window=5 is supported")
		return
	}
	docs, err := s.st.OHLCByGame(r.Context(), gameID, queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleGodCandles(w http.ResponseWriter, r *http.Request) {
	gameID := r.URL.Query().Get("gameId")
	if gameID == "" {
		writeError(w, http.StatusBadRequest, "gameId is required")
		return
	}
	docs, err := s.st.GodCandlesByGame(r.Context(), gameID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handlePRNGTracking(w http.ResponseWriter, r *http.Request) {
	docs, err := s.st.PRNGTrackingList(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleSchemas(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.List())
}

func (s *Server) handleStatusCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ClientName string `json:"client_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ClientName == "" {
		writeError(w, http.StatusBadRequest, "client_name is required")
		return
	}
	sc := &store.StatusCheck{
		ID:         uuid.NewString(),
		ClientName: body.ClientName,
		Timestamp:  time.Now().UTC(),
	}
	if err := s.st.InsertStatusCheck(r.Context(), sc); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleStatusList(w http.ResponseWriter, r *http.Request) {
	checks, err := s.st.StatusChecks(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, checks)
}

func queryLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}
