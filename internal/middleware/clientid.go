package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ClientIDCookie carries the stable per-device identity. The browser keeps
// it across reconnects, so tickets issued against it survive a dropped
// websocket.
const ClientIDCookie = "clientId"

const clientIDMaxAge = 365 * 24 * time.Hour

// ClientIDFromRequest returns the device identity carried by the request,
// or the empty string when none is present.
func ClientIDFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(ClientIDCookie)
	if err != nil || cookie.Value == "" {
		return ""
	}
	return cookie.Value
}

// EnsureClientID assigns a device identity to requests that do not carry
// one yet. The assigned value is visible to downstream handlers on the same
// request, not just on the next one.
func EnsureClientID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ClientIDFromRequest(r) == "" {
			id := uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     ClientIDCookie,
				Value:    id,
				Path:     "/",
				MaxAge:   int(clientIDMaxAge.Seconds()),
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
			r.AddCookie(&http.Cookie{Name: ClientIDCookie, Value: id})
		}
		next.ServeHTTP(w, r)
	})
}
