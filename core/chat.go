package core

import (
	"context"
	"errors"
	"slices"
	"time"
)

// RoomKind separates 1:1 lobbies from tribe rooms.
// Both share the message shape but use different buffer keys.
type RoomKind string

const (
	// PrivateRoom is a 1:1 lobby. Only one private room can exist between two users.
	PrivateRoom RoomKind = "private"
	// TribeRoom is the chat room of a tribe. Its participants mirror the tribe membership.
	TribeRoom RoomKind = "tribe"
)

// MessageKind determines which fields of a message carry its content.
type MessageKind string

const (
	// TextMessage carries its content in Body.
	TextMessage MessageKind = "text"
	// FileMessage carries its content in AttachmentURL and an optional Caption.
	FileMessage MessageKind = "file"
)

type AttachmentKind string

const (
	ImageAttachment   AttachmentKind = "image"
	VideoAttachment   AttachmentKind = "video"
	GenericAttachment AttachmentKind = "generic"
)

const (
	// PageSize is the number of messages returned per history page.
	PageSize = 20
	// EditWindow is how long after sending a sender may edit or delete a message for everyone.
	EditWindow = 7 * time.Minute
)

// ReplyRef links a message to the message it replies to.
// It only holds ids and a snippet, the referenced message may no longer exist.
type ReplyRef struct {
	MessageID string `json:"message_id"`
	AuthorID  string `json:"author_id"`
	Snippet   string `json:"snippet"`
	IsMedia   bool   `json:"is_media"`
}

// Message is a chat unit in a room. The same shape is used while the message sits
// in the room buffer and after it has been flushed to the message store.
type Message struct {
	ID             string         `json:"id"`
	RoomID         string         `json:"room_id"`
	SenderID       string         `json:"sender_id"`
	SenderName     string         `json:"sender_name,omitempty"`
	Kind           MessageKind    `json:"kind"`
	Body           string         `json:"body,omitempty"`
	AttachmentURL  string         `json:"attachment_url,omitempty"`
	AttachmentKind AttachmentKind `json:"attachment_kind,omitempty"`
	Caption        string         `json:"caption,omitempty"`
	ReplyTo        *ReplyRef      `json:"reply_to,omitempty"`
	Seen           bool           `json:"seen"`
	Edited         bool           `json:"edited"`
	Forwarded      bool           `json:"forwarded"`
	DeletedFor     []string       `json:"deleted_for,omitempty"`
	SentAt         time.Time      `json:"sent_at"`
	// Seq orders messages of a room that share the same SentAt.
	Seq int64 `json:"seq"`
}

// VisibleTo reports whether the user has not hidden the message.
func (m *Message) VisibleTo(userID string) bool {
	return !slices.Contains(m.DeletedFor, userID)
}

// HideFor adds the user to DeletedFor.
func (m *Message) HideFor(userID string) {
	if m.VisibleTo(userID) {
		m.DeletedFor = append(m.DeletedFor, userID)
	}
}

// HiddenForAll reports whether every one of the participants has hidden the message.
// Users that hid it and have since left do not count.
func (m *Message) HiddenForAll(participants []string) bool {
	for _, p := range participants {
		if m.VisibleTo(p) {
			return false
		}
	}
	return true
}

// Room is a 1:1 lobby or a tribe room.
type Room struct {
	ID           string      `json:"id"`
	Kind         RoomKind    `json:"kind"`
	Participants []string    `json:"participants"`
	Summary      RoomSummary `json:"summary"`
	ClearedFor   []string    `json:"cleared_for,omitempty"`
}

func (r *Room) HasParticipant(userID string) bool {
	return slices.Contains(r.Participants, userID)
}

// RoomSummary is the denormalized last message preview of a room.
// LastMessageID is nil when the room is empty or its last message was deleted.
type RoomSummary struct {
	RoomID          string    `json:"room_id"`
	Kind            RoomKind  `json:"kind,omitempty"`
	LastMessageText string    `json:"last_message_text"`
	LastMessageID   *string   `json:"last_message_id"`
	LastUpdatedAt   time.Time `json:"last_updated_at"`
}

// MessagePage is one page of room history, oldest message first.
type MessagePage struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}

var (
	// ErrInvalidUser is returned when a user is not found or is invalid.
	ErrInvalidUser = errors.New("invalid user")
	// ErrInvalidRoom is returned when a room is not found.
	ErrInvalidRoom = errors.New("invalid room")
	// ErrNotParticipant is returned when a user acts on a room they do not participate in.
	ErrNotParticipant = errors.New("not a participant of the room")
	// ErrInvalidMessage is returned when a message is malformed or the operation does not apply to its kind.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrEmptyMessage is returned when a text message has no text.
	ErrEmptyMessage = errors.New("message text is required")
	// ErrMissingAttachment is returned when a file message has no attachment url.
	ErrMissingAttachment = errors.New("attachment url is required")
	// ErrMessageNotFound is returned when a message is neither buffered nor stored.
	ErrMessageNotFound = errors.New("message not found")
	// ErrNotSender is returned when someone other than the sender edits or deletes a message for everyone.
	ErrNotSender = errors.New("only the sender can change this message")
	// ErrWindowExpired is returned when an edit or delete for everyone comes later than EditWindow.
	ErrWindowExpired = errors.New("message can no longer be changed")
	// ErrInvalidScope is returned for a delete scope other than "me" or "everyone".
	ErrInvalidScope = errors.New("invalid delete scope")
	// ErrNotJoined is returned when a connection acts before joining a room.
	ErrNotJoined = errors.New("join a room first")
	// ErrJoinFieldsRequired is returned when a join misses its display name, room or user.
	ErrJoinFieldsRequired = errors.New("Name, room, and userId are required.")
	// ErrInvalidPage is returned for a negative history page.
	ErrInvalidPage         = errors.New("invalid page")
	ErrDisAllowedOperation = errors.New("disallowed operation")
)

type ChatStore interface {
	// CreatePrivateRoom returns the private room between the two users, creating it if needed.
	// If both ids are the same, it returns ErrInvalidUser.
	CreatePrivateRoom(ctx context.Context, userA, userB string) (*Room, error)

	// CreateTribeRoom creates the room of a tribe with the given members.
	// Creating an existing tribe room adds the missing members.
	CreateTribeRoom(ctx context.Context, tribeID string, members []string) (*Room, error)

	// AddParticipant adds a user to a tribe room.
	// If the room is not found, it returns ErrInvalidRoom.
	// If the room is private, it returns ErrDisAllowedOperation.
	AddParticipant(ctx context.Context, roomID, userID string) error

	// RemoveParticipant removes a user from a tribe room.
	// If the user is not a participant, it returns ErrNotParticipant.
	RemoveParticipant(ctx context.Context, roomID, userID string) error

	// GetRoomByID returns the room with its participants, summary and cleared set.
	// If the room is not found, it returns nil.
	GetRoomByID(ctx context.Context, roomID string) (*Room, error)

	// GetRoomSummaries returns the summaries of the user's rooms, most recently updated first.
	// Rooms the user cleared are left out.
	GetRoomSummaries(ctx context.Context, userID string) ([]RoomSummary, error)

	// UpdateSummary overwrites the room summary and empties the room's cleared set.
	UpdateSummary(ctx context.Context, summary RoomSummary) error

	// ReplaceSummaryText sets the summary text only if the summary currently points at messageID.
	// When clearID is set the summary id becomes null.
	// It returns the updated summary, or nil if the summary points at another message.
	ReplaceSummaryText(ctx context.Context, roomID, messageID, text string, clearID bool, at time.Time) (*RoomSummary, error)

	// ClearForUser hides the room from the user's room list until the next message arrives.
	ClearForUser(ctx context.Context, roomID, userID string) error

	// SaveMessages upserts the messages by id and empties the room's cleared set in one transaction.
	// Saving the same messages twice leaves a single copy of each.
	SaveMessages(ctx context.Context, roomID string, msgs []Message) error

	// GetMessage returns a stored message.
	// If the message is not found, it returns nil.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// GetRoomMessages returns the messages of the room visible to the user, newest first.
	GetRoomMessages(ctx context.Context, roomID, userID string, offset, limit int) ([]Message, error)

	// UpdateMessageBody replaces the text of a stored message and marks it edited.
	// If the message is not found, it returns ErrMessageNotFound.
	UpdateMessageBody(ctx context.Context, id, body string) error

	// MarkSeen sets the seen flag of a stored message.
	// If the message is not found, it returns ErrMessageNotFound.
	MarkSeen(ctx context.Context, id string) error

	// LatestUnseen returns the most recent unseen message of the room that the reader
	// can see. If there is none, it returns nil.
	LatestUnseen(ctx context.Context, roomID, readerID string) (*Message, error)

	// MarkLeadingUnseen marks the oldest messages of the room seen, up to the first one
	// already seen. It returns the marked messages oldest first and whether the run
	// reached the newest stored message.
	MarkLeadingUnseen(ctx context.Context, roomID string) (marked []Message, reachedEnd bool, err error)

	// HideMessage adds the user to the message's deleted-for set and reports whether
	// every current participant of the room has now hidden it.
	// If the message is not found, it returns ErrMessageNotFound.
	HideMessage(ctx context.Context, id, userID string) (bool, error)

	// HideRoomMessages hides every stored message of the room for the user and erases the
	// messages every current participant has hidden. The erased messages are returned.
	HideRoomMessages(ctx context.Context, roomID, userID string) ([]Message, error)

	// DeleteMessage erases a stored message.
	// If the message is not found, it returns ErrMessageNotFound.
	DeleteMessage(ctx context.Context, id string) error
}
