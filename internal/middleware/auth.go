package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/stagedoor/handoff-server-go/internal/audit"
	"github.com/stagedoor/handoff-server-go/internal/httputil"
	"github.com/stagedoor/handoff-server-go/internal/model"
	"github.com/stagedoor/handoff-server-go/internal/service"
)

type contextKey string

const UserContextKey contextKey = "user"

func GetUser(ctx context.Context) *model.User {
	if user, ok := ctx.Value(UserContextKey).(*model.User); ok {
		return user
	}
	return nil
}

// UserVerifier resolves an access token to its active user.
type UserVerifier interface {
	Verify(ctx context.Context, accessToken string) (*model.User, error)
}

type AuthMiddleware struct {
	auth UserVerifier
}

func NewAuthMiddleware(auth UserVerifier) *AuthMiddleware {
	return &AuthMiddleware{auth: auth}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Missing authentication token",
			})
			return
		}

		user, err := m.auth.Verify(r.Context(), token)
		if err != nil {
			log.Warn().Err(err).Msg("auth middleware: token rejected")
			audit.LogFromRequest(r, audit.Event{Type: audit.EventAuthFailure})
			httputil.WriteError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken prefers the auth cookie; a bearer header covers non-browser
// clients.
func extractToken(r *http.Request) string {
	if cookie, err := r.Cookie(service.AccessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return ""
}
