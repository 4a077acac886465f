package session

import (
	"net/http"

	"github.com/google/uuid"
)

// DefaultCookieName is the session identity cookie.
const DefaultCookieName = "hs_session"

// EnsureCookie returns the request's session id, minting a fresh one
// and setting the cookie when this is the client's first contact. The
// cookie is stable for the session's lifetime and is not renewed per
// request.
func EnsureCookie(w http.ResponseWriter, r *http.Request, name string) string {
	if name == "" {
		name = DefaultCookieName
	}
	if c, err := r.Cookie(name); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// FromRequest returns the session id carried by the request cookie, or
// "" if none is present.
func FromRequest(r *http.Request, name string) string {
	if name == "" {
		name = DefaultCookieName
	}
	if c, err := r.Cookie(name); err == nil {
		return c.Value
	}
	return ""
}
