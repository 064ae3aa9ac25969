package core

import (
	"context"
	"net/http"
	"strings"

	"github.com/putto11262002/lobby/pkg/router"
)

const (
	key            sessionKey = "session"
	AuthCookieName            = "auth_token"
)

type sessionKey string

func ContextWithSession(ctx context.Context, session Session) context.Context {
	return context.WithValue(ctx, key, session)
}

func sessionFromContext(ctx context.Context) (Session, bool) {
	session, ok := ctx.Value(key).(Session)
	return session, ok
}

// SessionFromRequest extracts the session from the request context.
// It must be called in handlers that are protected by the JWTMiddleware.
// It panics if the session is not found in the request context.
func SessionFromRequest(r *http.Request) Session {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		panic("session not found in request context: call this function in handlers that are protected by JWTMiddleware")
	}
	return session
}

// tokenFromRequest looks for the token in the auth cookie, the Authorization header
// and finally the token query parameter, which browsers need for websocket upgrades.
func tokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(AuthCookieName); err == nil && cookie.Valid() == nil && cookie.Value != "" {
		return cookie.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// JWTMiddleware validates the JWT token of the request and attaches the session to the request context.
// The session is guaranteed to be attached to the request context for subsequent handlers.
func JWTMiddleware(secret []byte) router.Middleware {

	return func(next http.Handler) router.HandlerFunc {

		authErr := router.NewJsonError(http.StatusUnauthorized, ErrUnauthenticated.Error())

		return router.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
			token := tokenFromRequest(r)
			if token == "" {
				return authErr
			}

			claims, err := VerifyToken(token, secret)
			if err != nil {
				return authErr
			}

			session := Session{
				UserID:    claims.UserID,
				Username:  claims.Username,
				ExpiresAt: claims.ExpiresAt.Time,
			}

			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), session)))
			return nil
		})
	}
}
