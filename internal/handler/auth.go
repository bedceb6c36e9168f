package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stagedoor/handoff-server-go/internal/audit"
	apperrors "github.com/stagedoor/handoff-server-go/internal/errors"
	"github.com/stagedoor/handoff-server-go/internal/httputil"
	"github.com/stagedoor/handoff-server-go/internal/middleware"
	"github.com/stagedoor/handoff-server-go/internal/service"
)

// AuthHandler is the control tier's session surface: password login, token
// verification and refresh, logout.
type AuthHandler struct {
	auth           *service.AuthService
	tokens         *service.TokenService
	authMiddleware *middleware.AuthMiddleware
}

func NewAuthHandler(
	auth *service.AuthService,
	tokens *service.TokenService,
	authMiddleware *middleware.AuthMiddleware,
) *AuthHandler {
	return &AuthHandler{
		auth:           auth,
		tokens:         tokens,
		authMiddleware: authMiddleware,
	}
}

func (h *AuthHandler) Routes(loginLimiter *middleware.LoginRateLimiter) chi.Router {
	r := chi.NewRouter()

	r.With(loginLimiter.Handler).Post("/login", h.Login)
	r.Post("/refresh", h.Refresh)

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware.Handler)
		r.Get("/verify", h.Verify)
		r.Post("/logout", h.Logout)
	})

	return r
}

// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EmailOrPhone string `json:"emailOrPhone"`
		Password     string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.BadRequest("Invalid request body"))
		return
	}
	if req.EmailOrPhone == "" || req.Password == "" {
		httputil.WriteError(w, apperrors.MissingRequired("emailOrPhone and password"))
		return
	}

	result, err := h.auth.Login(r.Context(), req.EmailOrPhone, req.Password)
	if err != nil {
		audit.LogFromRequest(r, audit.Event{
			Type:    audit.EventLoginFailure,
			Details: map[string]interface{}{"identifier": req.EmailOrPhone},
		})
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventLoginSuccess, UserID: result.User.ID})

	h.tokens.SetAuthCookies(w, result.AccessToken, result.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]any{"user": result.User})
}

// GET /auth/verify
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		httputil.WriteError(w, apperrors.Unauthorized("Not authenticated"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

// POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(service.RefreshTokenCookie)
	if err != nil || cookie.Value == "" {
		httputil.WriteError(w, apperrors.Unauthorized("Missing refresh token"))
		return
	}

	result, err := h.auth.Refresh(r.Context(), cookie.Value)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventTokenRefresh, UserID: result.User.ID})

	h.tokens.SetAuthCookies(w, result.AccessToken, result.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]any{"user": result.User})
}

// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		httputil.WriteError(w, apperrors.Unauthorized("Not authenticated"))
		return
	}

	if err := h.auth.Logout(r.Context(), user.ID); err != nil {
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventLogout, UserID: user.ID})

	h.tokens.ClearAuthCookies(w)
	writeJSON(w, http.StatusOK, map[string]any{"result": true})
}
