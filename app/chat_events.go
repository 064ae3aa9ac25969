package lobby

import (
	"context"
	"encoding/json"

	"github.com/putto11262002/lobby/core"
)

var errInvalidPayload = core.NewInsensitiveError("invalid payload")

type JoinPayload struct {
	DisplayName string `json:"display_name"`
	RoomID      string `json:"room_id"`
	UserID      string `json:"user_id"`
}

type SendMessagePayload struct {
	Text    string `json:"text" validate:"max=4096"`
	ReplyTo string `json:"reply_to"`
}

type SendFilePayload struct {
	AttachmentURL string `json:"attachment_url" validate:"required,max=2048"`
	MimeType      string `json:"mime_type"`
	Caption       string `json:"caption" validate:"max=4096"`
	ReplyTo       string `json:"reply_to"`
}

type ForwardMessagePayload struct {
	MessageID string `json:"message_id" validate:"required"`
	ToUserID  string `json:"to_user_id" validate:"required"`
}

type EditMessagePayload struct {
	MessageID string `json:"message_id" validate:"required"`
	NewText   string `json:"new_text" validate:"max=4096"`
}

type DeleteMessagePayload struct {
	MessageID string           `json:"message_id" validate:"required"`
	Scope     core.DeleteScope `json:"scope"`
}

type MarkSeenPayload struct {
	MessageID string `json:"message_id"`
	RoomID    string `json:"room_id"`
}

// decodePayload unmarshals and validates the payload of an inbound event.
func decodePayload(e *core.Event, v any) error {
	if len(e.Payload) == 0 {
		return errInvalidPayload
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return errInvalidPayload
	}
	return validatePayload(v)
}

// registerEvents binds the inbound websocket events to the relay.
func (app *App) registerEvents() {
	app.eventRouter.On(core.JoinEvent, app.JoinHandler)
	app.eventRouter.On(core.SendMessageEvent, app.SendMessageHandler)
	app.eventRouter.On(core.SendFileEvent, app.SendFileHandler)
	app.eventRouter.On(core.ForwardMessageEvent, app.ForwardMessageHandler)
	app.eventRouter.On(core.EditMessageEvent, app.EditMessageHandler)
	app.eventRouter.On(core.DeleteMessageEvent, app.DeleteMessageHandler)
	app.eventRouter.On(core.MarkSeenEvent, app.MarkSeenHandler)
	app.eventRouter.On(core.TypingEvent, app.typingHandler(true))
	app.eventRouter.On(core.StopTypingEvent, app.typingHandler(false))
	for _, name := range core.CallEvents {
		app.eventRouter.On(name, app.SignalHandler)
	}
}

func (app *App) JoinHandler(ctx context.Context, e *core.Event) error {
	var payload JoinPayload
	if err := decodePayload(e, &payload); err != nil {
		return err
	}
	_, err := app.relay.Join(ctx, e.Conn, e.Dispatcher, core.JoinInput{
		DisplayName: payload.DisplayName,
		RoomID:      payload.RoomID,
		UserID:      payload.UserID,
	})
	return err
}

func (app *App) SendMessageHandler(ctx context.Context, e *core.Event) error {
	var payload SendMessagePayload
	if err := decodePayload(e, &payload); err != nil {
		return err
	}
	_, err := app.relay.Send(ctx, e.Conn, core.SendInput{Text: payload.Text, ReplyTo: payload.ReplyTo})
	return err
}

func (app *App) SendFileHandler(ctx context.Context, e *core.Event) error {
	var payload SendFilePayload
	if err := decodePayload(e, &payload); err != nil {
		return err
	}
	_, err := app.relay.SendFile(ctx, e.Conn, core.SendFileInput{
		AttachmentURL: payload.AttachmentURL,
		MimeType:      payload.MimeType,
		Caption:       payload.Caption,
		ReplyTo:       payload.ReplyTo,
	})
	return err
}

func (app *App) ForwardMessageHandler(ctx context.Context, e *core.Event) error {
	var payload ForwardMessagePayload
	if err := decodePayload(e, &payload); err != nil {
		return err
	}
	_, err := app.relay.Forward(ctx, e.Conn, core.ForwardInput{MessageID: payload.MessageID, ToUserID: payload.ToUserID})
	return err
}

func (app *App) EditMessageHandler(ctx context.Context, e *core.Event) error {
	var payload EditMessagePayload
	if err := decodePayload(e, &payload); err != nil {
		return err
	}
	_, err := app.relay.Edit(ctx, e.Conn, core.EditInput{MessageID: payload.MessageID, NewText: payload.NewText})
	return err
}

func (app *App) DeleteMessageHandler(ctx context.Context, e *core.Event) error {
	var payload DeleteMessagePayload
	if err := decodePayload(e, &payload); err != nil {
		return err
	}
	return app.relay.Delete(ctx, e.Conn, core.DeleteInput{MessageID: payload.MessageID, Scope: payload.Scope})
}

func (app *App) MarkSeenHandler(ctx context.Context, e *core.Event) error {
	var payload MarkSeenPayload
	if err := decodePayload(e, &payload); err != nil {
		return err
	}
	return app.relay.MarkSeen(ctx, e.Conn, core.MarkSeenInput{MessageID: payload.MessageID, RoomID: payload.RoomID})
}

func (app *App) typingHandler(typing bool) core.EventHandler {
	return func(ctx context.Context, e *core.Event) error {
		return app.relay.Typing(ctx, e.Conn, typing)
	}
}

// SignalHandler relays call signaling without looking at the payload.
func (app *App) SignalHandler(ctx context.Context, e *core.Event) error {
	return app.relay.Signal(ctx, e.Conn, e.Type, e.Payload)
}
