package lobby

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/putto11262002/lobby/core"
	"github.com/putto11262002/lobby/pkg/router"
)

type AuthHandler struct {
	store    core.UserStore
	secret   []byte
	tokenTTL time.Duration
	secure   bool
}

func NewAuthHandler(store core.UserStore, secret []byte, tokenTTL time.Duration, secure bool) *AuthHandler {
	return &AuthHandler{store: store, secret: secret, tokenTTL: tokenTTL, secure: secure}
}

type SigninPayload struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type SigninResponse struct {
	Token     string                  `json:"token"`
	ExpiresAt time.Time               `json:"expires_at"`
	User      core.UserWithoutSecrets `json:"user"`
}

// SigninHandler checks the credentials and issues a token, both in the auth cookie and the body.
func (h *AuthHandler) SigninHandler(w http.ResponseWriter, r *http.Request) error {
	var payload SigninPayload
	if err := decodeBody(r, &payload); err != nil {
		return err
	}

	ok, err := h.store.ComparePassword(r.Context(), payload.Username, payload.Password)
	if err != nil && !errors.Is(err, core.ErrInvalidUser) {
		return err
	}
	if !ok {
		return core.ErrBadCredentials
	}
	user, err := h.store.GetUserByUsername(r.Context(), payload.Username)
	if err != nil {
		return err
	}
	if user == nil {
		return core.ErrBadCredentials
	}

	token, exp, err := core.NewToken(*user, h.tokenTTL, h.secret)
	if err != nil {
		return fmt.Errorf("NewToken: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     core.AuthCookieName,
		Value:    token,
		Expires:  exp,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
	})
	return router.WriteJSON(w, http.StatusOK, SigninResponse{Token: token, ExpiresAt: exp, User: *user})
}

// SignoutHandler expires the auth cookie. Tokens stay valid until they expire.
func (h *AuthHandler) SignoutHandler(w http.ResponseWriter, r *http.Request) error {
	http.SetCookie(w, &http.Cookie{
		Name:     core.AuthCookieName,
		Value:    "",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   h.secure,
		Path:     "/",
	})
	w.WriteHeader(http.StatusOK)
	return nil
}
