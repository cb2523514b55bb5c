package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/rugslab/rugs-data-service/internal/prng"
	"github.com/rugslab/rugs-data-service/internal/store"
	"github.com/rugslab/rugs-data-service/internal/telemetry"
)

// handleVerify re-simulates a completed game from its revealed seed
// and persists the comparison. Re-running it for the same game and
// seed produces identical verification content.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
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

	if game.ServerSeed == "" {
		if err := s.st.UpsertPRNGTracking(r.Context(), id, bson.M{"status": store.PRNGAwaitingSeed}); err != nil {
			telemetry.Warnf("api: mark awaiting seed for %s: %v", id, err)
		}
		writeError(w, http.StatusConflict, "server seed not yet revealed")
		return
	}
	if len(game.Prices) == 0 {
		writeError(w, http.StatusConflict, "no recorded price trajectory")
		return
	}

	select {
	case s.verifySem <- struct{}{}:
		defer func() { <-s.verifySem }()
	case <-r.Context().Done():
		writeError(w, http.StatusServiceUnavailable, "verification cancelled")
		return
	}

	version := game.Version
	if version == "" {
		version = "v3"
	}
	peak := 0.0
	if game.PeakMultiplier != nil {
		peak = *game.PeakMultiplier
	}

	report := prng.Verify(game.ServerSeed, id, version, game.Prices, peak)

	status := store.PRNGVerifiedStatus
	if !report.FullVerification {
		status = store.PRNGFailed
		telemetry.Warnf("api: verification failed for %s (ticks=%v peak=%v array=%v)",
			id, report.TicksMatch, report.PeakMatch, report.ArrayMatch)
	}

	if err := s.st.UpsertGame(r.Context(), id, bson.M{
		"prngVerified":         report.FullVerification,
		"prngVerificationData": report,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.st.UpsertPRNGTracking(r.Context(), id, bson.M{
		"status":       status,
		"verification": report,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"gameId":       id,
		"status":       status,
		"verification": report,
	})
}
