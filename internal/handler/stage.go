package handler

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/stagedoor/handoff-server-go/internal/broker"
	apperrors "github.com/stagedoor/handoff-server-go/internal/errors"
	"github.com/stagedoor/handoff-server-go/internal/httputil"
	"github.com/stagedoor/handoff-server-go/internal/middleware"
	"github.com/stagedoor/handoff-server-go/internal/repository"
)

// ActionRequester routes one action to a named instance and returns the
// correlated response data.
type ActionRequester interface {
	Request(ctx context.Context, targetInstanceID, event string, data any) (json.RawMessage, error)
}

// StageHandler is the control tier's stage surface. It owns no stage state:
// create is dispatched to a configured interaction instance, join to the
// instance already hosting the stage, and the routed response is relayed
// back to the caller.
type StageHandler struct {
	router         ActionRequester
	stages         repository.StageRepository
	instances      []string
	authMiddleware *middleware.AuthMiddleware
}

func NewStageHandler(
	router ActionRequester,
	stages repository.StageRepository,
	instances []string,
	authMiddleware *middleware.AuthMiddleware,
) *StageHandler {
	return &StageHandler{
		router:         router,
		stages:         stages,
		instances:      instances,
		authMiddleware: authMiddleware,
	}
}

func (h *StageHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(h.authMiddleware.Handler)
	r.Post("/", h.Create)
	r.Post("/{code}", h.Join)

	return r
}

// POST /stages
func (h *StageHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		httputil.WriteError(w, apperrors.Unauthorized("Not authenticated"))
		return
	}

	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.BadRequest("Invalid request body"))
		return
	}

	if len(h.instances) == 0 {
		httputil.WriteError(w, apperrors.Internal("No interaction instances configured"))
		return
	}
	target := h.instances[rand.Intn(len(h.instances))]

	data, err := h.router.Request(r.Context(), target, broker.EventStageCreate, map[string]string{
		"title":  req.Title,
		"hostId": user.ID,
	})
	if err != nil {
		log.Warn().Err(err).Str("target", target).Msg("stage create dispatch failed")
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, data)
}

// POST /stages/{code}
func (h *StageHandler) Join(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		httputil.WriteError(w, apperrors.Unauthorized("Not authenticated"))
		return
	}

	code := chi.URLParam(r, "code")
	if code == "" {
		httputil.WriteError(w, apperrors.MissingRequired("code"))
		return
	}

	// The stage row names the interaction instance that owns its live
	// connections; the join must land there and nowhere else.
	stage, err := h.stages.FindLiveByCode(r.Context(), code)
	if err != nil {
		httputil.WriteError(w, apperrors.Database(err))
		return
	}
	if stage == nil {
		httputil.WriteError(w, apperrors.NotFound("Stage"))
		return
	}

	data, err := h.router.Request(r.Context(), stage.InstanceID, broker.EventStageJoin, map[string]string{
		"code":   code,
		"joinId": user.ID,
	})
	if err != nil {
		log.Warn().Err(err).Str("target", stage.InstanceID).Msg("stage join dispatch failed")
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, data)
}
