package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/stagedoor/handoff-server-go/internal/broker"
	"github.com/stagedoor/handoff-server-go/internal/model"
	"github.com/stagedoor/handoff-server-go/internal/repository"
)

const stageCodeLength = 6

// StageService serves the stage actions routed to this interaction
// instance: creating a stage pins it here, joining resolves a live stage by
// its code. Both respond with the stage and a token the client presents on
// its stage connection.
type StageService struct {
	stages     repository.StageRepository
	tokens     *TokenService
	instanceID string
}

func NewStageService(stages repository.StageRepository, tokens *TokenService, instanceID string) *StageService {
	return &StageService{
		stages:     stages,
		tokens:     tokens,
		instanceID: instanceID,
	}
}

// RegisterHandlers binds the stage events onto the router. Call before the
// router starts.
func (s *StageService) RegisterHandlers(r *broker.Router) {
	r.Handle(broker.EventStageCreate, s.handleCreate)
	r.Handle(broker.EventStageJoin, s.handleJoin)
}

type stageResponse struct {
	Stage *model.Stage `json:"stage"`
	Token string       `json:"token"`
}

type createStageRequest struct {
	Title  string `json:"title"`
	HostID string `json:"hostId"`
}

func (s *StageService) handleCreate(ctx context.Context, env broker.Envelope) (any, *broker.ErrorPayload) {
	var req createStageRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		return nil, &broker.ErrorPayload{Code: broker.CodeBadRequest, Error: "malformed stage create request"}
	}

	fields := map[string]string{}
	if strings.TrimSpace(req.Title) == "" {
		fields["title"] = "required"
	}
	if req.HostID == "" {
		fields["hostId"] = "required"
	}
	if len(fields) > 0 {
		return nil, &broker.ErrorPayload{Code: broker.CodeValidationError, Error: fields}
	}

	code, err := generateStageCode()
	if err != nil {
		return nil, &broker.ErrorPayload{Code: broker.CodeBadRequest, Error: "code generation failed"}
	}

	stage, err := s.stages.Create(ctx, model.CreateStageParams{
		Code:       code,
		Title:      strings.TrimSpace(req.Title),
		HostID:     req.HostID,
		InstanceID: s.instanceID,
	})
	if err != nil {
		log.Error().Err(err).Str("title", req.Title).Msg("stage create failed")
		return nil, &broker.ErrorPayload{Code: broker.CodeBadRequest, Error: "stage could not be created"}
	}

	token, err := s.tokens.IssueAccessToken(req.HostID)
	if err != nil {
		return nil, &broker.ErrorPayload{Code: broker.CodeBadRequest, Error: "token issue failed"}
	}

	log.Info().
		Str("stageId", stage.ID).
		Str("code", stage.Code).
		Str("hostId", stage.HostID).
		Msg("stage created")

	return stageResponse{Stage: stage, Token: token}, nil
}

type joinStageRequest struct {
	Code   string `json:"code"`
	JoinID string `json:"joinId"`
}

func (s *StageService) handleJoin(ctx context.Context, env broker.Envelope) (any, *broker.ErrorPayload) {
	var req joinStageRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		return nil, &broker.ErrorPayload{Code: broker.CodeBadRequest, Error: "malformed stage join request"}
	}
	if req.Code == "" || req.JoinID == "" {
		return nil, &broker.ErrorPayload{Code: broker.CodeValidationError, Error: map[string]string{
			"code": "required", "joinId": "required",
		}}
	}

	stage, err := s.stages.FindLiveByCode(ctx, req.Code)
	if err != nil {
		log.Error().Err(err).Str("code", req.Code).Msg("stage lookup failed")
		return nil, &broker.ErrorPayload{Code: broker.CodeBadRequest, Error: "stage lookup failed"}
	}
	if stage == nil {
		return nil, &broker.ErrorPayload{Code: broker.CodeBadRequest, Error: "stage not found"}
	}

	token, err := s.tokens.IssueAccessToken(req.JoinID)
	if err != nil {
		return nil, &broker.ErrorPayload{Code: broker.CodeBadRequest, Error: "token issue failed"}
	}

	log.Info().
		Str("stageId", stage.ID).
		Str("joinId", req.JoinID).
		Msg("stage joined")

	return stageResponse{Stage: stage, Token: token}, nil
}

// EndStage marks a stage finished; the sweep job reclaims the row later.
func (s *StageService) EndStage(ctx context.Context, stageID string) error {
	return s.stages.MarkEnded(ctx, stageID)
}

func generateStageCode() (string, error) {
	var b strings.Builder
	for i := 0; i < stageCodeLength; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("generate stage code: %w", err)
		}
		fmt.Fprintf(&b, "%d", n.Int64())
	}
	return b.String(), nil
}
