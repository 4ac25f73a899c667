package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/satsduel/satsduel/internal/gateway"
	"github.com/satsduel/satsduel/internal/httputil"
	"github.com/satsduel/satsduel/internal/middleware"
	"github.com/satsduel/satsduel/internal/service"
	"github.com/satsduel/satsduel/internal/store"
	"github.com/satsduel/satsduel/internal/wager"
)

func newRouter(settlements *service.SettlementService) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Post("/matches", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Kind       string     `json:"kind"`
			Creator    string     `json:"creator"`
			Stake      int64      `json:"stake"`
			Opponent   string     `json:"opponent"`
			MaxPlayers int        `json:"max_players"`
			Deadline   *time.Time `json:"deadline"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.BadRequest(w, "Invalid request body", err)
			return
		}

		pending, err := settlements.CreateMatch(r.Context(), service.CreateMatchInput{
			Kind:       wager.Kind(req.Kind),
			Creator:    req.Creator,
			Stake:      req.Stake,
			Opponent:   req.Opponent,
			MaxPlayers: req.MaxPlayers,
			Deadline:   req.Deadline,
		})
		if err != nil {
			writeSettlementError(w, "Failed to create match", err)
			return
		}
		writeJSON(w, http.StatusCreated, pending)
	})

	r.Get("/matches", func(w http.ResponseWriter, r *http.Request) {
		var (
			matches []wager.Match
			err     error
		)
		if player := r.URL.Query().Get("player"); player != "" {
			matches, err = settlements.GetPlayerMatches(r.Context(), player)
		} else {
			matches, err = settlements.GetOpenMatches(r.Context())
		}
		if err != nil {
			httputil.InternalServerError(w, "Failed to list matches", err)
			return
		}
		writeJSON(w, http.StatusOK, matches)
	})

	r.Get("/matches/changes", func(w http.ResponseWriter, r *http.Request) {
		since, err := time.Parse(time.RFC3339, r.URL.Query().Get("since"))
		if err != nil {
			httputil.BadRequest(w, "Invalid since timestamp, want RFC 3339", err)
			return
		}
		matches, err := settlements.Changes(r.Context(), since)
		if err != nil {
			httputil.InternalServerError(w, "Failed to list changed matches", err)
			return
		}
		writeJSON(w, http.StatusOK, matches)
	})

	r.Get("/matches/{id}", func(w http.ResponseWriter, r *http.Request) {
		match, err := settlements.GetMatch(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeSettlementError(w, "Failed to get match", err)
			return
		}
		writeJSON(w, http.StatusOK, match)
	})

	r.Post("/matches/{id}/join", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Player string `json:"player"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.BadRequest(w, "Invalid request body", err)
			return
		}
		pending, err := settlements.Join(r.Context(), chi.URLParam(r, "id"), req.Player)
		if err != nil {
			writeSettlementError(w, "Failed to join match", err)
			return
		}
		writeJSON(w, http.StatusOK, pending)
	})

	r.Post("/matches/{id}/confirm", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Player string `json:"player"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.BadRequest(w, "Invalid request body", err)
			return
		}
		match, enrolled, err := settlements.ConfirmStake(r.Context(), chi.URLParam(r, "id"), req.Player)
		if err != nil {
			writeSettlementError(w, "Failed to confirm stake", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"match":    match,
			"enrolled": enrolled,
		})
	})

	r.Post("/matches/{id}/scores", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Player string `json:"player"`
			Score  int64  `json:"score"`
			TimeMs int64  `json:"time_ms"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.BadRequest(w, "Invalid request body", err)
			return
		}
		match, err := settlements.SubmitScore(r.Context(), chi.URLParam(r, "id"), req.Player, req.Score, req.TimeMs)
		if err != nil {
			writeSettlementError(w, "Failed to submit score", err)
			return
		}
		writeJSON(w, http.StatusOK, match)
	})

	r.Post("/matches/{id}/claim", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Claimant string `json:"claimant"`
			Amount   int64  `json:"amount"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.BadRequest(w, "Invalid request body", err)
			return
		}
		match, err := settlements.ClaimPayout(r.Context(), chi.URLParam(r, "id"), req.Claimant, req.Amount)
		if err != nil {
			writeSettlementError(w, "Failed to claim payout", err)
			return
		}
		writeJSON(w, http.StatusOK, match)
	})

	r.Post("/claims", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Token  string `json:"token"`
			Amount int64  `json:"amount"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.BadRequest(w, "Invalid request body", err)
			return
		}
		match, err := settlements.ClaimByToken(r.Context(), req.Token, req.Amount)
		if err != nil {
			writeSettlementError(w, "Failed to claim payout", err)
			return
		}
		writeJSON(w, http.StatusOK, match)
	})

	r.Post("/matches/{id}/refund", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Participant string `json:"participant"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.BadRequest(w, "Invalid request body", err)
			return
		}
		match, err := settlements.ClaimRefund(r.Context(), chi.URLParam(r, "id"), req.Participant)
		if err != nil {
			writeSettlementError(w, "Failed to claim refund", err)
			return
		}
		writeJSON(w, http.StatusOK, match)
	})

	r.Get("/matches/{id}/token", func(w http.ResponseWriter, r *http.Request) {
		token, err := settlements.WinnerToken(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("player"))
		if err != nil {
			writeSettlementError(w, "Failed to get claim token", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"token": token})
	})

	r.Get("/matches/{id}/payout", func(w http.ResponseWriter, r *http.Request) {
		consumed, err := settlements.PayoutConsumed(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeSettlementError(w, "Failed to check payout status", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"consumed": consumed})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireCronSecret)

		r.Post("/internal/sweep", func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			finalized, err := settlements.FinalizeDue(r.Context(), now)
			if err != nil {
				writeSettlementError(w, "Deadline sweep failed", err)
				return
			}
			closed, err := settlements.SweepStaleOpen(r.Context(), now)
			if err != nil {
				writeSettlementError(w, "Stale sweep failed", err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]int{
				"finalized": finalized,
				"closed":    closed,
			})
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeSettlementError maps domain errors onto HTTP statuses. Claim races
// surface as 409 so callers can tell a lost race from a malformed request.
func writeSettlementError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		httputil.NotFound(w, "Match not found", err)
	case errors.Is(err, wager.ErrInvalidTransition), errors.Is(err, wager.ErrInvalidAmount):
		httputil.BadRequest(w, err.Error(), err)
	case errors.Is(err, wager.ErrAlreadyClaimed), errors.Is(err, wager.ErrAlreadyRefunded), errors.Is(err, store.ErrConflict):
		httputil.Conflict(w, err.Error(), err)
	case errors.Is(err, gateway.ErrUnavailable):
		httputil.ServiceUnavailable(w, "Payment gateway unavailable, retry later", err)
	default:
		httputil.InternalServerError(w, msg, err)
	}
}
