package httppresentation

import (
	"context"
	"net/http"
	"time"
)

const (
	cookieSessionID = "sid"
	cookieMaxAge    = 48 * time.Hour
)

type ctxKeySessionID struct{}

// IDGenerator mints and validates session ids.
type IDGenerator interface {
	NewID() string
	Valid(id string) bool
}

// SessionMiddleware makes sure every request carries a session id, issuing the sid cookie on
// first contact or when the presented value is not one we could have minted.
func SessionMiddleware(ids IDGenerator, secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var sid string
			if c, err := r.Cookie(cookieSessionID); err == nil && ids.Valid(c.Value) {
				sid = c.Value
			} else {
				sid = ids.NewID()
				http.SetCookie(w, &http.Cookie{
					Name:     cookieSessionID,
					Value:    sid,
					Path:     "/",
					MaxAge:   int(cookieMaxAge.Seconds()),
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}
			ctx := context.WithValue(r.Context(), ctxKeySessionID{}, sid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func sessionID(r *http.Request) string {
	if v, ok := r.Context().Value(ctxKeySessionID{}).(string); ok {
		return v
	}
	return ""
}
