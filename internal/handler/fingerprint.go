package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stagedoor/handoff-server-go/internal/audit"
	apperrors "github.com/stagedoor/handoff-server-go/internal/errors"
	"github.com/stagedoor/handoff-server-go/internal/httputil"
	"github.com/stagedoor/handoff-server-go/internal/middleware"
	"github.com/stagedoor/handoff-server-go/internal/model"
	"github.com/stagedoor/handoff-server-go/internal/service"
)

// PairingDirectory is the pairing surface the fingerprint endpoints drive.
type PairingDirectory interface {
	Validate(fingerprint string, scanner *model.User) bool
	Accept(fingerprint string) bool
	Decline(fingerprint string) bool
}

// FingerprintHandler is the interaction tier's HTTP surface for the scanner
// device (validate/accept/decline) and for the primary device's ticket
// redemption. The scan endpoints require an authenticated scanner; the
// ticket endpoint requires only the client identity cookie the ticket was
// issued against.
type FingerprintHandler struct {
	sessions       PairingDirectory
	auth           *service.AuthService
	tokens         *service.TokenService
	authMiddleware *middleware.AuthMiddleware
}

func NewFingerprintHandler(
	sessions PairingDirectory,
	auth *service.AuthService,
	tokens *service.TokenService,
	authMiddleware *middleware.AuthMiddleware,
) *FingerprintHandler {
	return &FingerprintHandler{
		sessions:       sessions,
		auth:           auth,
		tokens:         tokens,
		authMiddleware: authMiddleware,
	}
}

func (h *FingerprintHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/ticket", h.Ticket)

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware.Handler)
		r.Post("/", h.Validate)
		r.Post("/accept", h.Accept)
		r.Post("/decline", h.Decline)
	})

	return r
}

func decodeFingerprint(r *http.Request) (string, error) {
	var req struct {
		Fingerprint string `json:"fingerprint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", apperrors.BadRequest("Invalid request body")
	}
	if req.Fingerprint == "" {
		return "", apperrors.MissingRequired("fingerprint")
	}
	return req.Fingerprint, nil
}

// POST /auth/fp
// The response never distinguishes "unknown fingerprint" from "wrong
// state"; both are validated:false.
func (h *FingerprintHandler) Validate(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		httputil.WriteError(w, apperrors.Unauthorized("Not authenticated"))
		return
	}

	fingerprint, err := decodeFingerprint(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	validated := h.sessions.Validate(fingerprint, user)
	writeJSON(w, http.StatusOK, map[string]bool{"validated": validated})
}

// POST /auth/fp/accept
func (h *FingerprintHandler) Accept(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		httputil.WriteError(w, apperrors.Unauthorized("Not authenticated"))
		return
	}

	fingerprint, err := decodeFingerprint(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result := h.sessions.Accept(fingerprint)
	if result {
		audit.LogFromRequest(r, audit.Event{Type: audit.EventPairingAccept, UserID: user.ID})
	}
	writeJSON(w, http.StatusOK, map[string]bool{"result": result})
}

// POST /auth/fp/decline
func (h *FingerprintHandler) Decline(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		httputil.WriteError(w, apperrors.Unauthorized("Not authenticated"))
		return
	}

	fingerprint, err := decodeFingerprint(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result := h.sessions.Decline(fingerprint)
	if result {
		audit.LogFromRequest(r, audit.Event{Type: audit.EventPairingDecline, UserID: user.ID})
	}
	writeJSON(w, http.StatusOK, map[string]bool{"result": result})
}

// POST /auth/fp/ticket
func (h *FingerprintHandler) Ticket(w http.ResponseWriter, r *http.Request) {
	clientID := middleware.ClientIDFromRequest(r)
	if clientID == "" {
		httputil.WriteError(w, apperrors.Unauthorized("Client identity required"))
		return
	}

	var req struct {
		Ticket string `json:"ticket"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.BadRequest("Invalid request body"))
		return
	}
	if req.Ticket == "" {
		httputil.WriteError(w, apperrors.MissingRequired("ticket"))
		return
	}

	result, err := h.auth.LoginWithTicket(r.Context(), clientID, req.Ticket)
	if err != nil {
		audit.LogFromRequest(r, audit.Event{Type: audit.EventTicketRejected, ClientID: clientID})
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:     audit.EventTicketLogin,
		UserID:   result.User.ID,
		ClientID: clientID,
	})

	h.tokens.SetAuthCookies(w, result.AccessToken, result.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]any{"user": result.User})
}
