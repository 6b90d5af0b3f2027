package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/arbiterlabs/arbiter/pkg/models"
	"github.com/arbiterlabs/arbiter/pkg/router"
	"github.com/arbiterlabs/arbiter/pkg/seat"
	"github.com/arbiterlabs/arbiter/pkg/store"
)

// SubmitDebate handles POST /api/v1/debates: validate, gate by quota and
// plan, route a model, and enqueue.
func (s *Server) SubmitDebate(c *gin.Context) {
	var req SubmitDebateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	mode := models.DebateMode(req.Mode)
	if req.Mode == "" {
		mode = models.ModeDebate
	}
	if !validModes[mode] {
		respondError(c, http.StatusBadRequest, "unknown mode "+req.Mode)
		return
	}
	if err := req.Panel.Validate(); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	user := userID(c)
	ctx, cancel := timeoutCtx(c)
	defer cancel()

	if s.quota != nil {
		if err := s.quota.ReserveRunSlot(ctx, user); err != nil {
			rateLimited.WithLabelValues("runs_per_hour").Inc()
			respondRateLimited(c, err)
			return
		}
		if err := s.quota.EnsureDailyTokenHeadroom(ctx, user); err != nil {
			rateLimited.WithLabelValues("tokens_per_day").Inc()
			respondRateLimited(c, err)
			return
		}
	}

	id := uuid.NewString()
	prompt := req.Prompt
	if s.masker != nil {
		prompt = s.masker.MaskPrompt(prompt)
	}
	seat.ScanForInjection(id, "submit", prompt)

	decision, err := s.router.Route(router.RouteContext{
		UserID:         user,
		TeamID:         req.TeamID,
		RequestedModel: req.Model,
		RoutingPolicy:  req.RoutingPolicy,
		DebateType:     string(mode),
	})
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	if m, ok := s.catalog.Get(decision.ModelID); ok && !router.AllowedForPlan(m, req.PlanTiers) {
		respondError(c, http.StatusForbidden, "model "+m.ID+" is not available on this plan")
		return
	}

	d := &models.Debate{
		ID:            id,
		Prompt:        prompt,
		Status:        models.StatusQueued,
		Mode:          mode,
		Panel:         req.Panel,
		Config:        req.Config,
		ModelID:       req.Model,
		RoutedModel:   decision.ModelID,
		RoutingPolicy: decision.Policy,
		RoutingMeta:   map[string]any{"candidates": decision.Candidates},
		UserID:        user,
		TeamID:        req.TeamID,
	}
	if err := s.store.CreateDebate(ctx, d); err != nil {
		respondError(c, http.StatusInternalServerError, "failed to create debate")
		return
	}

	debatesSubmitted.WithLabelValues(string(mode)).Inc()
	c.JSON(http.StatusCreated, gin.H{
		"id":           d.ID,
		"status":       d.Status,
		"mode":         d.Mode,
		"routed_model": d.RoutedModel,
		"policy":       d.RoutingPolicy,
	})
}

// GetDebate handles GET /api/v1/debates/:id.
func (s *Server) GetDebate(c *gin.Context) {
	ctx, cancel := timeoutCtx(c)
	defer cancel()

	d, err := s.store.GetDebate(ctx, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		respondError(c, http.StatusNotFound, "debate not found")
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load debate")
		return
	}
	c.JSON(http.StatusOK, toDebateResponse(d))
}

// ListDebates handles GET /api/v1/debates for the calling user.
func (s *Server) ListDebates(c *gin.Context) {
	ctx, cancel := timeoutCtx(c)
	defer cancel()

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	debates, err := s.store.ListDebates(ctx, userID(c), limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to list debates")
		return
	}

	out := make([]DebateResponse, len(debates))
	for i, d := range debates {
		out[i] = toDebateResponse(d)
	}
	c.JSON(http.StatusOK, gin.H{"debates": out, "count": len(out)})
}

// GetTranscript handles GET /api/v1/debates/:id/transcript.
func (s *Server) GetTranscript(c *gin.Context) {
	ctx, cancel := timeoutCtx(c)
	defer cancel()
	id := c.Param("id")

	if _, err := s.store.GetDebate(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(c, http.StatusNotFound, "debate not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "failed to load debate")
		return
	}

	rounds, err := s.store.ListRounds(ctx, id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load rounds")
		return
	}
	messages, err := s.store.ListMessages(ctx, id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load messages")
		return
	}
	scores, err := s.store.ListScores(ctx, id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load scores")
		return
	}

	c.JSON(http.StatusOK, TranscriptResponse{
		DebateID: id,
		Rounds:   rounds,
		Messages: messages,
		Scores:   scores,
	})
}

// CancelDebate handles POST /api/v1/debates/:id/cancel. Only debates
// running on this pod can be cancelled here.
func (s *Server) CancelDebate(c *gin.Context) {
	id := c.Param("id")
	if s.pool != nil && s.pool.CancelDebate(id) {
		c.JSON(http.StatusOK, gin.H{"id": id, "cancelled": true})
		return
	}
	respondError(c, http.StatusNotFound, "debate is not running on this instance")
}

// ListModels handles GET /api/v1/models.
func (s *Server) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": s.catalog.Enabled()})
}

// Leaderboard handles GET /api/v1/leaderboard.
func (s *Server) Leaderboard(c *gin.Context) {
	ctx, cancel := timeoutCtx(c)
	defer cancel()

	category := c.DefaultQuery("category", "general")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	ratings, err := s.store.ListRatings(ctx, category, limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load leaderboard")
		return
	}

	entries := make([]LeaderboardEntry, len(ratings))
	for i, r := range ratings {
		entries[i] = LeaderboardEntry{
			Persona:  r.Persona,
			Category: r.Category,
			Elo:      r.Elo,
			NMatches: r.NMatches,
			WinRate:  r.WinRate,
			CILow:    r.CILow,
			CIHigh:   r.CIHigh,
		}
	}
	c.JSON(http.StatusOK, gin.H{"category": category, "leaderboard": entries})
}
