// Package httpapi serves the read-only admin API: health, metrics, battle
// listings and player progression.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"battlezone/internal/battle"
	"battlezone/internal/metrics"
	"battlezone/internal/model"
	"battlezone/internal/progression"
)

// Battles is the battle read side.
type Battles interface {
	List(ctx context.Context, view battle.View, limit int) ([]*battle.Summary, error)
	Summary(ctx context.Context, id uuid.UUID) (*battle.Summary, error)
}

// Ranks reads rank progress.
type Ranks interface {
	GetRankProgress(ctx context.Context, playerID int64) (*progression.RankProgress, error)
}

// Achievements lists a player's achievements.
type Achievements interface {
	List(ctx context.Context, playerID int64) ([]*model.PlayerAchievement, error)
}

// Players reads player accounts.
type Players interface {
	GetPlayer(ctx context.Context, playerID int64) (*model.Player, error)
	TopByRank(ctx context.Context, limit int) ([]*model.Player, error)
}

// Server holds the handler dependencies.
type Server struct {
	Battles      Battles
	Ranks        Ranks
	Achievements Achievements
	Players      Players
	Health       func(ctx context.Context) error
	Metrics      *metrics.Metrics
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.Metrics.Middleware)

	r.Get("/healthz", s.health)
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())
	}

	r.Route("/battles", func(r chi.Router) {
		r.Get("/", s.listBattles)
		r.Get("/{battleID}", s.getBattle)
	})
	r.Route("/players/{playerID}", func(r chi.Router) {
		r.Get("/", s.getPlayer)
		r.Get("/rank", s.getRank)
		r.Get("/achievements", s.getAchievements)
	})
	r.Get("/leaderboard", s.leaderboard)

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.Health != nil {
		if err := s.Health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listBattles(w http.ResponseWriter, r *http.Request) {
	viewName := r.URL.Query().Get("view")
	if viewName == "" {
		viewName = string(battle.ViewUpcoming)
	}
	view, err := battle.ParseView(viewName)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	list, err := s.Battles.List(r.Context(), view, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getBattle(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "battleID"))
	if err != nil {
		http.Error(w, "invalid battle id", http.StatusBadRequest)
		return
	}

	summary, err := s.Battles.Summary(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) getPlayer(w http.ResponseWriter, r *http.Request) {
	id, ok := playerID(w, r)
	if !ok {
		return
	}
	p, err := s.Players.GetPlayer(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) getRank(w http.ResponseWriter, r *http.Request) {
	id, ok := playerID(w, r)
	if !ok {
		return
	}
	rp, err := s.Ranks.GetRankProgress(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rp)
}

func (s *Server) getAchievements(w http.ResponseWriter, r *http.Request) {
	id, ok := playerID(w, r)
	if !ok {
		return
	}
	list, err := s.Achievements.List(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 10)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	top, err := s.Players.TopByRank(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, top)
}

func playerID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "playerID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid player id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 100 {
		return 0, fmt.Errorf("%s must be between 1 and 100", key)
	}
	return n, nil
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case model.IsDomainError(err):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		log.Error().Err(err).Msg("HTTP request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}
