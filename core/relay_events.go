package core

import "encoding/json"

// Inbound events.
const (
	JoinEvent           = "join"
	SendMessageEvent    = "send_message"
	SendFileEvent       = "send_file"
	ForwardMessageEvent = "forward_message"
	EditMessageEvent    = "edit_message"
	DeleteMessageEvent  = "delete_message"
	MarkSeenEvent       = "mark_seen"
	TypingEvent         = "typing"
	StopTypingEvent     = "stop_typing"
)

// Call signaling events are relayed under the same name they arrive with.
const (
	CallInitEvent     = "call_init"
	CallAcceptEvent   = "call_accept"
	CallEndEvent      = "call_end"
	CallBusyEvent     = "call_busy"
	CallDeclinedEvent = "call_declined"
)

var CallEvents = []string{CallInitEvent, CallAcceptEvent, CallEndEvent, CallBusyEvent, CallDeclinedEvent}

// Outbound events.
const (
	PresenceUpdatedEvent    = "presence_updated"
	NewMessageEvent         = "new_message"
	MessageUpdatedEvent     = "message_updated"
	MessageDeletedEvent     = "message_deleted"
	RoomSummaryUpdatedEvent = "room_summary_updated"
	UserTypingEvent         = "user_typing"
	UserStoppedTypingEvent  = "user_stopped_typing"
)

type PresenceUpdatedPayload struct {
	Names []string `json:"names"`
}

type MessageDeletedPayload struct {
	MessageID string `json:"message_id"`
	RoomID    string `json:"room_id"`
}

type TypingPayload struct {
	UserID string `json:"user_id"`
}

// SignalPayload wraps an opaque call signaling payload with its sender.
type SignalPayload struct {
	From    PresenceEntry   `json:"from"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
