package lobby

import (
	"net/http"

	"github.com/putto11262002/lobby/core"
	"github.com/putto11262002/lobby/pkg/router"
)

type UserHandler struct {
	store core.UserStore
}

func NewUserHandler(store core.UserStore) *UserHandler {
	return &UserHandler{store: store}
}

func (h *UserHandler) MeHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	r.SetPathValue("userID", session.UserID)
	return h.GetUserHandler(w, r)
}

func (h *UserHandler) GetUserHandler(w http.ResponseWriter, r *http.Request) error {
	user, err := h.store.Lookup(r.Context(), r.PathValue("userID"))
	if err != nil {
		return err
	}
	if user == nil {
		return router.NewJsonError(http.StatusNotFound, "user not found")
	}
	return router.WriteJSON(w, http.StatusOK, user)
}
