package lobby

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/putto11262002/lobby/core"
	"github.com/putto11262002/lobby/pkg/router"
)

// MaxUploadSize is the largest attachment accepted by the upload endpoint.
const MaxUploadSize = 20 << 20

var errFileTooLarge = router.Errorf(http.StatusRequestEntityTooLarge, "file exceeds %d MiB", MaxUploadSize>>20)

type ChatHandler struct {
	relay     *core.Relay
	chatStore core.ChatStore
	userStore core.UserStore
	blobs     core.BlobStore
}

func NewChatHandler(relay *core.Relay, chatStore core.ChatStore, userStore core.UserStore, blobs core.BlobStore) *ChatHandler {
	return &ChatHandler{relay: relay, chatStore: chatStore, userStore: userStore, blobs: blobs}
}

// decodeBody decodes and validates a JSON request body.
func decodeBody(r *http.Request, v any) error {
	if err := router.DecodeJSON(r, v); err != nil {
		return err
	}
	r.Body.Close()
	if err := validatePayload(v); err != nil {
		return router.NewJsonError(http.StatusBadRequest, core.ClientMessage(err))
	}
	return nil
}

func (h *ChatHandler) GetMyRoomsHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	rooms, err := h.relay.Rooms(r.Context(), session.UserID)
	if err != nil {
		return err
	}
	return router.WriteJSON(w, http.StatusOK, rooms)
}

func (h *ChatHandler) GetRoomByIDHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	room, err := h.chatStore.GetRoomByID(r.Context(), r.PathValue("roomID"))
	if err != nil {
		return err
	}
	if room == nil {
		return core.ErrInvalidRoom
	}
	if !room.HasParticipant(session.UserID) {
		return core.ErrNotParticipant
	}
	room.ClearedFor = nil
	return router.WriteJSON(w, http.StatusOK, room)
}

// GetRoomMessagesHandler returns a page of the room's history. Pages start at 0.
func (h *ChatHandler) GetRoomMessagesHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	page := 0
	if s := r.URL.Query().Get("page"); s != "" {
		var err error
		page, err = strconv.Atoi(s)
		if err != nil {
			return core.ErrInvalidPage
		}
	}

	messages, err := h.relay.History(r.Context(), session.UserID, r.PathValue("roomID"), page)
	if err != nil {
		return err
	}
	return router.WriteJSON(w, http.StatusOK, messages)
}

type CreatePrivateRoomPayload struct {
	UserID string `json:"user_id" validate:"required"`
}

func (h *ChatHandler) CreatePrivateRoomHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	var payload CreatePrivateRoomPayload
	if err := decodeBody(r, &payload); err != nil {
		return err
	}

	other, err := h.userStore.Lookup(r.Context(), payload.UserID)
	if err != nil {
		return err
	}
	if other == nil {
		return core.ErrInvalidUser
	}

	room, err := h.chatStore.CreatePrivateRoom(r.Context(), session.UserID, other.ID)
	if err != nil {
		return err
	}
	return router.WriteJSON(w, http.StatusOK, room)
}

type CreateTribeRoomPayload struct {
	ID      string   `json:"id" validate:"required"`
	Members []string `json:"members" validate:"dive,required"`
}

// CreateTribeRoomHandler creates the room of a tribe. The caller is always a member.
func (h *ChatHandler) CreateTribeRoomHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	var payload CreateTribeRoomPayload
	if err := decodeBody(r, &payload); err != nil {
		return err
	}

	members := []string{session.UserID}
	for _, m := range payload.Members {
		if m == session.UserID {
			continue
		}
		user, err := h.userStore.Lookup(r.Context(), m)
		if err != nil {
			return err
		}
		if user == nil {
			return core.ErrInvalidUser
		}
		members = append(members, m)
	}

	existing, err := h.chatStore.GetRoomByID(r.Context(), payload.ID)
	if err != nil {
		return err
	}
	if existing != nil && !existing.HasParticipant(session.UserID) {
		return core.ErrNotParticipant
	}

	room, err := h.chatStore.CreateTribeRoom(r.Context(), payload.ID, members)
	if err != nil {
		return err
	}
	return router.WriteJSON(w, http.StatusCreated, room)
}

type AddParticipantPayload struct {
	UserID string `json:"user_id" validate:"required"`
}

// participantOf checks the caller participates in the room in the path.
func (h *ChatHandler) participantOf(r *http.Request) (*core.Room, error) {
	session := core.SessionFromRequest(r)
	room, err := h.chatStore.GetRoomByID(r.Context(), r.PathValue("roomID"))
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, core.ErrInvalidRoom
	}
	if !room.HasParticipant(session.UserID) {
		return nil, core.ErrNotParticipant
	}
	return room, nil
}

func (h *ChatHandler) AddParticipantHandler(w http.ResponseWriter, r *http.Request) error {
	room, err := h.participantOf(r)
	if err != nil {
		return err
	}
	var payload AddParticipantPayload
	if err := decodeBody(r, &payload); err != nil {
		return err
	}

	user, err := h.userStore.Lookup(r.Context(), payload.UserID)
	if err != nil {
		return err
	}
	if user == nil {
		return core.ErrInvalidUser
	}

	if err := h.chatStore.AddParticipant(r.Context(), room.ID, user.ID); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// RemoveParticipantHandler lets a participant leave a tribe room. Nobody can remove
// someone else.
func (h *ChatHandler) RemoveParticipantHandler(w http.ResponseWriter, r *http.Request) error {
	room, err := h.participantOf(r)
	if err != nil {
		return err
	}
	if room.Kind != core.TribeRoom {
		return core.ErrDisAllowedOperation
	}
	userID := r.PathValue("userID")
	if userID != core.SessionFromRequest(r).UserID {
		return core.ErrUnauthorized
	}
	if err := h.chatStore.RemoveParticipant(r.Context(), room.ID, userID); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

type MarkRoomSeenResponse struct {
	Marked int `json:"marked"`
}

// MarkRoomSeenHandler marks the unseen messages at the start of the room seen, up to
// the first message that already is.
func (h *ChatHandler) MarkRoomSeenHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	n, err := h.relay.MarkRoomSeen(r.Context(), session.UserID, r.PathValue("roomID"))
	if err != nil {
		return err
	}
	return router.WriteJSON(w, http.StatusOK, MarkRoomSeenResponse{Marked: n})
}

// ClearConversationHandler hides the whole conversation for the caller.
func (h *ChatHandler) ClearConversationHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	if err := h.relay.ClearConversation(r.Context(), session.UserID, r.PathValue("roomID")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

type UploadResponse struct {
	URL string `json:"url"`
}

// UploadHandler stores the multipart "file" field in the blob store. The returned url
// is then sent with a send_file event.
func (h *ChatHandler) UploadHandler(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errFileTooLarge
		}
		return router.NewJsonError(http.StatusBadRequest, "file is required")
	}
	defer file.Close()
	if header.Size > MaxUploadSize {
		return errFileTooLarge
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	url, err := h.blobs.Upload(r.Context(), header.Filename, contentType, file, header.Size)
	if err != nil {
		return err
	}
	return router.WriteJSON(w, http.StatusCreated, UploadResponse{URL: url})
}
