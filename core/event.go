package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// AckEvent is the type of the event answering an inbound event that carried an ack id.
const AckEvent = "ack"

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrRateLimited  = errors.New("rate limited")
)

// Event is the envelope of every websocket frame in both directions.
// An inbound event with a non-zero Ack expects an AckEvent carrying the same Ack.
type Event struct {
	// Dispatcher is the user id of the connection the event came from.
	Dispatcher string `json:"-"`
	// Conn is the id of the connection the event came from.
	Conn    string          `json:"-"`
	Type    string          `json:"type"`
	Ack     int             `json:"ack,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AckPayload carries the outcome of an acknowledged event. Error is nil on success.
type AckPayload struct {
	Error *string `json:"error"`
}

func (e Event) String() string {
	return fmt.Sprintf("Event{Conn: %s, Dispatcher: %s, Type: %s, Ack: %d, Payload.Size: %d}",
		e.Conn, e.Dispatcher, e.Type, e.Ack, len(e.Payload))
}

func EncodeEvent(w io.Writer, e *Event) error {
	if err := json.NewEncoder(w).Encode(e); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return nil
}

func DecodeEvent(r io.Reader, e *Event) error {
	if err := json.NewDecoder(r).Decode(e); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	return nil
}

func NewEvent(t string, payload any) (*Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	return &Event{Type: t, Payload: b}, nil
}

// NewAckEvent builds the answer to an event. A nil err acknowledges success.
func NewAckEvent(ack int, err error) *Event {
	var payload AckPayload
	if err != nil {
		msg := ClientMessage(err)
		payload.Error = &msg
	}
	e, _ := NewEvent(AckEvent, payload)
	e.Ack = ack
	return e
}

type EventTransport interface {
	Send(event *Event)
	SendToUsers(event *Event, userIDs ...string)
	SendToConns(event *Event, connIDs ...string)
}

type EventHandler func(context.Context, *Event) error

// EventRouter dispatches inbound events to their handlers and emits outbound events
// through the transport.
type EventRouter struct {
	listeners map[string]EventHandler
	transport EventTransport
	logger    *slog.Logger
}

func NewEventRouter(logger *slog.Logger, transport EventTransport) *EventRouter {
	return &EventRouter{
		listeners: make(map[string]EventHandler),
		transport: transport,
		logger:    logger,
	}
}

func (em *EventRouter) On(eventName string, handler EventHandler) {
	em.listeners[eventName] = handler
}

// Dispatch runs the handler of the event on the calling goroutine and acknowledges
// the event when it asked for it. Handler errors that are not meant for clients are logged.
func (em *EventRouter) Dispatch(ctx context.Context, e *Event) {
	handler, ok := em.listeners[e.Type]
	var err error
	if !ok {
		err = ErrUnknownEvent
	} else {
		err = handler(ctx, e)
	}

	result := "ok"
	if err != nil {
		result = "error"
		if IsClientError(err) {
			em.logger.Debug(fmt.Sprintf("%s handler: %s", e.Type, err), slog.String("connection", e.Conn))
		} else {
			em.logger.Error(fmt.Sprintf("%s handler: %s", e.Type, err), slog.String("connection", e.Conn))
		}
	}
	eventType := e.Type
	if !ok {
		eventType = "unknown"
	}
	inboundEvents.WithLabelValues(eventType, result).Inc()

	if e.Ack != 0 {
		em.Ack(e.Conn, e.Ack, err)
	}
}

// Ack answers an inbound event on the connection it came from.
func (em *EventRouter) Ack(connID string, ack int, err error) {
	em.transport.SendToConns(NewAckEvent(ack, err), connID)
}

// Emit sends an event to every connection.
func (em *EventRouter) Emit(t string, payload any) error {
	e, err := NewEvent(t, payload)
	if err != nil {
		return err
	}
	em.transport.Send(e)
	return nil
}

// EmitTo sends an event to every connection of the users.
func (em *EventRouter) EmitTo(t string, payload any, userIDs ...string) error {
	e, err := NewEvent(t, payload)
	if err != nil {
		return err
	}
	em.transport.SendToUsers(e, userIDs...)
	return nil
}

// EmitToConns sends an event to specific connections.
func (em *EventRouter) EmitToConns(t string, payload any, connIDs ...string) error {
	e, err := NewEvent(t, payload)
	if err != nil {
		return err
	}
	em.transport.SendToConns(e, connIDs...)
	return nil
}
