package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const notifyTimeout = 10 * time.Second

// Emitter sends outbound events. It is implemented by EventRouter.
type Emitter interface {
	// Emit sends to every connection.
	Emit(t string, payload any) error
	// EmitTo sends to every connection of the users.
	EmitTo(t string, payload any, userIDs ...string) error
	// EmitToConns sends to the given connections.
	EmitToConns(t string, payload any, connIDs ...string) error
}

type DeleteScope string

const (
	DeleteForMe       DeleteScope = "me"
	DeleteForEveryone DeleteScope = "everyone"
)

type JoinInput struct {
	DisplayName string
	RoomID      string
	UserID      string
}

type SendInput struct {
	Text    string
	ReplyTo string
}

type SendFileInput struct {
	AttachmentURL string
	MimeType      string
	Caption       string
	ReplyTo       string
}

type ForwardInput struct {
	MessageID string
	ToUserID  string
}

type EditInput struct {
	MessageID string
	NewText   string
}

type DeleteInput struct {
	MessageID string
	Scope     DeleteScope
}

type MarkSeenInput struct {
	// MessageID is optional. Without it the most recent unseen message is marked.
	MessageID string
	RoomID    string
}

type RelayOptions struct {
	Presence Presence
	Buffer   RoomBuffer
	Store    ChatStore
	Users    UserDirectory
	Blobs    BlobStore
	Notifier NotificationSink
	Emitter  Emitter
	// Locks is shared with the flusher. A new set is created when nil.
	Locks  *RoomLocks
	Logger *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Relay runs the message lifecycle of rooms: joining, sending, editing, deleting,
// read receipts, typing and call signaling. Sends go to the room buffer, are broadcast
// right away and reach the message store when the room is flushed.
type Relay struct {
	presence Presence
	buffer   RoomBuffer
	store    ChatStore
	users    UserDirectory
	blobs    BlobStore
	notifier NotificationSink
	emitter  Emitter
	locks    *RoomLocks
	flusher  *Flusher
	logger   *slog.Logger
	now      func() time.Time

	// notifications in flight
	wg sync.WaitGroup
}

func NewRelay(opts RelayOptions) *Relay {
	r := &Relay{
		presence: opts.Presence,
		buffer:   opts.Buffer,
		store:    opts.Store,
		users:    opts.Users,
		blobs:    opts.Blobs,
		notifier: opts.Notifier,
		emitter:  opts.Emitter,
		locks:    opts.Locks,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.locks == nil {
		r.locks = NewRoomLocks()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.blobs == nil {
		r.blobs = NopBlobStore{}
	}
	if r.notifier == nil {
		r.notifier = LogSink{Logger: r.logger}
	}
	r.flusher = NewFlusher(r.buffer, r.store, r.locks, r.logger)
	r.logger = r.logger.With(slog.String("component", "relay"))
	return r
}

// Flusher returns the flusher sharing the relay's room locks.
func (r *Relay) Flusher() *Flusher {
	return r.flusher
}

// Wait blocks until in-flight notifications are delivered or dropped.
func (r *Relay) Wait() {
	r.wg.Wait()
}

func (r *Relay) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Millisecond)
}

func (r *Relay) room(ctx context.Context, roomID string) (*Room, error) {
	room, err := r.store.GetRoomByID(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("GetRoomByID: %w", err)
	}
	if room == nil {
		return nil, ErrInvalidRoom
	}
	return room, nil
}

func (r *Relay) participantRoom(ctx context.Context, roomID, userID string) (*Room, error) {
	room, err := r.room(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return room, nil
}

// joined returns the connection's presence entry and the room it joined.
func (r *Relay) joined(ctx context.Context, connID string) (*PresenceEntry, *Room, error) {
	entry, err := r.presence.Get(ctx, connID)
	if err != nil {
		return nil, nil, fmt.Errorf("Get(presence): %w", err)
	}
	if entry == nil {
		return nil, nil, ErrNotJoined
	}
	room, err := r.participantRoom(ctx, entry.RoomID, entry.UserID)
	if err != nil {
		return nil, nil, err
	}
	return entry, room, nil
}

// broadcast sends an event to the connections present in the room, leaving out the
// connections of exceptUser when it is set.
func (r *Relay) broadcast(ctx context.Context, roomID, t string, payload any, exceptUser string) {
	entries, err := r.presence.List(ctx, roomID)
	if err != nil {
		r.logger.Error("listing room presence", slog.String("room", roomID), slog.String("error", err.Error()))
		return
	}
	connIDs := make([]string, 0, len(entries))
	for _, e := range entries {
		if exceptUser != "" && e.UserID == exceptUser {
			continue
		}
		connIDs = append(connIDs, e.ConnectionID)
	}
	if len(connIDs) == 0 {
		return
	}
	if err := r.emitter.EmitToConns(t, payload, connIDs...); err != nil {
		r.logger.Error(fmt.Sprintf("emit %s", t), slog.String("room", roomID), slog.String("error", err.Error()))
	}
}

func (r *Relay) broadcastPresence(ctx context.Context, roomID string) {
	names, err := r.presence.ListNames(ctx, roomID)
	if err != nil {
		r.logger.Error("listing room names", slog.String("room", roomID), slog.String("error", err.Error()))
		return
	}
	if names == nil {
		names = []string{}
	}
	r.broadcast(ctx, roomID, PresenceUpdatedEvent, PresenceUpdatedPayload{Names: names}, "")
}

func (r *Relay) emitSummary(summary RoomSummary) {
	if err := r.emitter.Emit(RoomSummaryUpdatedEvent, summary); err != nil {
		r.logger.Error("emit summary", slog.String("room", summary.RoomID), slog.String("error", err.Error()))
	}
}

// Join puts the connection in a room, moving it out of the room it was in.
// authUserID is the user the connection authenticated as.
func (r *Relay) Join(ctx context.Context, connID, authUserID string, in JoinInput) (PresenceEntry, error) {
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	if in.DisplayName == "" || in.RoomID == "" || in.UserID == "" {
		return PresenceEntry{}, ErrJoinFieldsRequired
	}
	if in.UserID != authUserID {
		return PresenceEntry{}, ErrUnauthorized
	}
	room, err := r.participantRoom(ctx, in.RoomID, in.UserID)
	if err != nil {
		return PresenceEntry{}, err
	}

	prev, err := r.presence.Get(ctx, connID)
	if err != nil {
		return PresenceEntry{}, fmt.Errorf("Get(presence): %w", err)
	}
	entry, err := r.presence.Join(ctx, PresenceEntry{
		ConnectionID: connID,
		DisplayName:  in.DisplayName,
		RoomID:       room.ID,
		UserID:       in.UserID,
	})
	if err != nil {
		return PresenceEntry{}, fmt.Errorf("Join(presence): %w", err)
	}

	r.broadcastPresence(ctx, room.ID)
	if prev != nil && prev.RoomID != room.ID {
		r.broadcastPresence(ctx, prev.RoomID)
	}
	return entry, nil
}

// Leave drops the connection's presence and flushes the room it was in.
// Flush failures are logged and leave the buffer for the next trigger.
func (r *Relay) Leave(ctx context.Context, connID string) error {
	entry, err := r.presence.Leave(ctx, connID)
	if err != nil {
		return fmt.Errorf("Leave(presence): %w", err)
	}
	if entry == nil {
		return nil
	}
	r.broadcastPresence(ctx, entry.RoomID)

	room, err := r.store.GetRoomByID(ctx, entry.RoomID)
	if err != nil {
		return fmt.Errorf("GetRoomByID: %w", err)
	}
	if room == nil {
		return nil
	}
	r.flusher.Flush(ctx, room.Kind, room.ID)
	return nil
}

// findMessage looks a message of the room up in the buffer and then in the store.
// buffered reports where it was found.
func (r *Relay) findMessage(ctx context.Context, room *Room, messageID string) (msg *Message, buffered bool, err error) {
	if messageID == "" {
		return nil, false, ErrMessageNotFound
	}
	msg, err = r.buffer.Find(ctx, room.Kind, room.ID, messageID)
	if err != nil {
		return nil, false, fmt.Errorf("Find: %w", err)
	}
	if msg != nil {
		return msg, true, nil
	}
	msg, err = r.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, false, fmt.Errorf("GetMessage: %w", err)
	}
	if msg == nil || msg.RoomID != room.ID {
		return nil, false, ErrMessageNotFound
	}
	return msg, false, nil
}

func (r *Relay) replyRef(ctx context.Context, room *Room, userID, messageID string) (*ReplyRef, error) {
	if messageID == "" {
		return nil, nil
	}
	target, _, err := r.findMessage(ctx, room, messageID)
	if err != nil {
		return nil, err
	}
	if !target.VisibleTo(userID) {
		return nil, ErrMessageNotFound
	}
	snippet, isMedia := replySnippet(target)
	return &ReplyRef{
		MessageID: target.ID,
		AuthorID:  target.SenderID,
		Snippet:   snippet,
		IsMedia:   isMedia,
	}, nil
}

func (r *Relay) newMessage(entry *PresenceEntry, room *Room, kind MessageKind) *Message {
	return &Message{
		ID:         uuid.New().String(),
		RoomID:     room.ID,
		SenderID:   entry.UserID,
		SenderName: entry.DisplayName,
		Kind:       kind,
	}
}

// Send posts a text message to the room the connection joined.
func (r *Relay) Send(ctx context.Context, connID string, in SendInput) (*Message, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	entry, room, err := r.joined(ctx, connID)
	if err != nil {
		return nil, err
	}
	msg := r.newMessage(entry, room, TextMessage)
	msg.Body = text
	if msg.ReplyTo, err = r.replyRef(ctx, room, entry.UserID, in.ReplyTo); err != nil {
		return nil, err
	}
	if err := r.publish(ctx, room, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// SendFile posts an attachment, already uploaded to the blob store, to the room the connection joined.
func (r *Relay) SendFile(ctx context.Context, connID string, in SendFileInput) (*Message, error) {
	url := strings.TrimSpace(in.AttachmentURL)
	if url == "" {
		return nil, ErrMissingAttachment
	}
	entry, room, err := r.joined(ctx, connID)
	if err != nil {
		return nil, err
	}
	msg := r.newMessage(entry, room, FileMessage)
	msg.AttachmentURL = url
	msg.AttachmentKind = DetectAttachmentKind(in.MimeType, url)
	msg.Caption = strings.TrimSpace(in.Caption)
	if msg.ReplyTo, err = r.replyRef(ctx, room, entry.UserID, in.ReplyTo); err != nil {
		return nil, err
	}
	if err := r.publish(ctx, room, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Forward copies a message of the joined room into the private room between the
// sender and another user, creating that room when needed.
func (r *Relay) Forward(ctx context.Context, connID string, in ForwardInput) (*Message, error) {
	entry, room, err := r.joined(ctx, connID)
	if err != nil {
		return nil, err
	}
	src, _, err := r.findMessage(ctx, room, in.MessageID)
	if err != nil {
		return nil, err
	}
	if !src.VisibleTo(entry.UserID) {
		return nil, ErrMessageNotFound
	}

	to, err := r.users.Lookup(ctx, in.ToUserID)
	if err != nil {
		return nil, fmt.Errorf("Lookup: %w", err)
	}
	if to == nil {
		return nil, ErrInvalidUser
	}
	target, err := r.store.CreatePrivateRoom(ctx, entry.UserID, to.ID)
	if err != nil {
		return nil, fmt.Errorf("CreatePrivateRoom: %w", err)
	}

	msg := r.newMessage(entry, target, src.Kind)
	msg.Body = src.Body
	msg.AttachmentURL = src.AttachmentURL
	msg.AttachmentKind = src.AttachmentKind
	msg.Caption = src.Caption
	msg.Forwarded = true
	if err := r.publish(ctx, target, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// publish appends the message to the room buffer, broadcasts it, points the room
// summary at it and notifies the other participants.
func (r *Relay) publish(ctx context.Context, room *Room, msg *Message) error {
	unlock := r.locks.Lock(room.ID)
	defer unlock()

	// stamped under the lock so sent_at follows broadcast order
	msg.SentAt = r.timestamp()
	if err := r.buffer.Append(ctx, room.Kind, msg); err != nil {
		return fmt.Errorf("Append: %w", err)
	}
	bufferAppends.Inc()
	r.broadcast(ctx, room.ID, NewMessageEvent, msg, "")

	id := msg.ID
	summary := RoomSummary{
		RoomID:          room.ID,
		Kind:            room.Kind,
		LastMessageText: Preview(msg),
		LastMessageID:   &id,
		LastUpdatedAt:   msg.SentAt,
	}
	// the message is already out, a stale summary is not worth failing the send for
	if err := r.store.UpdateSummary(ctx, summary); err != nil {
		r.logger.Error("updating room summary", slog.String("room", room.ID), slog.String("error", err.Error()))
	} else {
		r.emitSummary(summary)
	}

	r.notify(ctx, room, msg)
	return nil
}

// notify pushes a notification to every other participant in the background.
// Failures are logged only.
func (r *Relay) notify(ctx context.Context, room *Room, msg *Message) {
	recipients := slices.DeleteFunc(slices.Clone(room.Participants), func(id string) bool {
		return id == msg.SenderID
	})
	if len(recipients) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()

		name := msg.SenderName
		if u, err := r.users.Lookup(ctx, msg.SenderID); err != nil {
			r.logger.Warn("looking up sender for notification", slog.String("user", msg.SenderID), slog.String("error", err.Error()))
		} else if u != nil && u.DisplayName != "" {
			name = u.DisplayName
		}
		text := "New message from " + name

		for _, id := range recipients {
			if err := r.notifier.Push(ctx, id, text); err != nil {
				notificationFailures.Inc()
				r.logger.Warn("pushing notification", slog.String("user", id), slog.String("error", err.Error()))
			}
		}
	}()
}

func (r *Relay) checkWindow(msg *Message) error {
	if r.now().Sub(msg.SentAt) > EditWindow {
		return ErrWindowExpired
	}
	return nil
}

// replaceSummary swaps the summary text when the summary points at the message.
func (r *Relay) replaceSummary(ctx context.Context, roomID, messageID, text string, clearID bool) {
	summary, err := r.store.ReplaceSummaryText(ctx, roomID, messageID, text, clearID, r.timestamp())
	if err != nil {
		r.logger.Error("replacing summary text", slog.String("room", roomID), slog.String("error", err.Error()))
		return
	}
	if summary != nil {
		r.emitSummary(*summary)
	}
}

// Edit replaces the text of a message. Only the sender can edit, only text
// messages, and only within EditWindow of sending.
func (r *Relay) Edit(ctx context.Context, connID string, in EditInput) (*Message, error) {
	text := strings.TrimSpace(in.NewText)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	entry, room, err := r.joined(ctx, connID)
	if err != nil {
		return nil, err
	}

	unlock := r.locks.Lock(room.ID)
	defer unlock()

	msg, buffered, err := r.findMessage(ctx, room, in.MessageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != entry.UserID {
		return nil, ErrNotSender
	}
	if msg.Kind != TextMessage {
		return nil, ErrInvalidMessage
	}
	if err := r.checkWindow(msg); err != nil {
		return nil, err
	}

	msg.Body = text
	msg.Edited = true
	if buffered {
		err := r.buffer.Replace(ctx, room.Kind, *msg)
		switch {
		case errors.Is(err, ErrMessageNotFound):
			// flushed by another process since it was read
			buffered = false
		case err != nil:
			return nil, fmt.Errorf("Replace: %w", err)
		}
	}
	if !buffered {
		if err := r.store.UpdateMessageBody(ctx, msg.ID, text); err != nil {
			return nil, fmt.Errorf("UpdateMessageBody: %w", err)
		}
	}

	r.broadcast(ctx, room.ID, MessageUpdatedEvent, msg, "")
	r.replaceSummary(ctx, room.ID, msg.ID, EditedMarker, false)
	return msg, nil
}

// Delete hides a message for the requester or erases it for everyone.
func (r *Relay) Delete(ctx context.Context, connID string, in DeleteInput) error {
	switch in.Scope {
	case DeleteForMe:
		return r.deleteForMe(ctx, connID, in.MessageID)
	case DeleteForEveryone:
		return r.deleteForEveryone(ctx, connID, in.MessageID)
	default:
		return ErrInvalidScope
	}
}

func (r *Relay) deleteForMe(ctx context.Context, connID, messageID string) error {
	entry, room, err := r.joined(ctx, connID)
	if err != nil {
		return err
	}

	unlock := r.locks.Lock(room.ID)
	defer unlock()

	msg, buffered, err := r.findMessage(ctx, room, messageID)
	if err != nil {
		return err
	}
	if !msg.VisibleTo(entry.UserID) {
		return ErrMessageNotFound
	}

	erased, err := r.hide(ctx, room, msg, buffered, entry.UserID)
	if err != nil {
		return err
	}
	if erased {
		r.deleteBlob(ctx, msg)
		r.replaceSummary(ctx, room.ID, msg.ID, DeletedMarker, true)
	}

	payload := MessageDeletedPayload{MessageID: msg.ID, RoomID: room.ID}
	if err := r.emitter.EmitTo(MessageDeletedEvent, payload, entry.UserID); err != nil {
		r.logger.Error("emit message deleted", slog.String("room", room.ID), slog.String("error", err.Error()))
	}
	return nil
}

// hide adds the user to the message's deleted-for set and erases the message once
// every participant has hidden it. It reports whether the message was erased.
func (r *Relay) hide(ctx context.Context, room *Room, msg *Message, buffered bool, userID string) (bool, error) {
	if buffered {
		msg.HideFor(userID)
		if msg.HiddenForAll(room.Participants) {
			removed, err := r.buffer.Remove(ctx, room.Kind, room.ID, msg.ID)
			if err != nil {
				return false, fmt.Errorf("Remove: %w", err)
			}
			if removed != nil {
				return true, r.eraseStored(ctx, msg.ID)
			}
		} else {
			err := r.buffer.Replace(ctx, room.Kind, *msg)
			if err == nil {
				return false, nil
			}
			if !errors.Is(err, ErrMessageNotFound) {
				return false, fmt.Errorf("Replace: %w", err)
			}
		}
		// flushed by another process since it was read
	}

	all, err := r.store.HideMessage(ctx, msg.ID, userID)
	if err != nil {
		return false, fmt.Errorf("HideMessage: %w", err)
	}
	if !all {
		return false, nil
	}
	if err := r.store.DeleteMessage(ctx, msg.ID); err != nil {
		return false, fmt.Errorf("DeleteMessage: %w", err)
	}
	return true, nil
}

// eraseStored deletes the stored copy of a message erased from the buffer. A flush
// whose trim failed leaves the message in both places.
func (r *Relay) eraseStored(ctx context.Context, messageID string) error {
	err := r.store.DeleteMessage(ctx, messageID)
	if err != nil && !errors.Is(err, ErrMessageNotFound) {
		return fmt.Errorf("DeleteMessage: %w", err)
	}
	return nil
}

func (r *Relay) deleteForEveryone(ctx context.Context, connID, messageID string) error {
	entry, room, err := r.joined(ctx, connID)
	if err != nil {
		return err
	}

	unlock := r.locks.Lock(room.ID)
	defer unlock()

	msg, buffered, err := r.findMessage(ctx, room, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != entry.UserID {
		return ErrNotSender
	}
	if err := r.checkWindow(msg); err != nil {
		return err
	}

	if buffered {
		removed, err := r.buffer.Remove(ctx, room.Kind, room.ID, msg.ID)
		if err != nil {
			return fmt.Errorf("Remove: %w", err)
		}
		buffered = removed != nil
	}
	if buffered {
		if err := r.eraseStored(ctx, msg.ID); err != nil {
			return err
		}
	} else if err := r.store.DeleteMessage(ctx, msg.ID); err != nil {
		return fmt.Errorf("DeleteMessage: %w", err)
	}
	r.deleteBlob(ctx, msg)

	r.broadcast(ctx, room.ID, MessageDeletedEvent, MessageDeletedPayload{MessageID: msg.ID, RoomID: room.ID}, "")
	r.replaceSummary(ctx, room.ID, msg.ID, DeletedMarker, true)
	return nil
}

// deleteBlob removes the attachment of an erased message. A failure leaves an
// orphaned object and is only logged.
func (r *Relay) deleteBlob(ctx context.Context, msg *Message) {
	if msg.Kind != FileMessage || msg.AttachmentURL == "" {
		return
	}
	if err := r.blobs.Delete(ctx, msg.AttachmentURL); err != nil {
		blobDeleteFailures.Inc()
		r.logger.Warn("deleting attachment", slog.String("message", msg.ID), slog.String("error", err.Error()))
	}
}

// MarkSeen sets the seen flag of a message. Without a message id it marks the most
// recent unseen message of the room, if there is one.
func (r *Relay) MarkSeen(ctx context.Context, connID string, in MarkSeenInput) error {
	entry, err := r.presence.Get(ctx, connID)
	if err != nil {
		return fmt.Errorf("Get(presence): %w", err)
	}
	if entry == nil {
		return ErrNotJoined
	}
	roomID := in.RoomID
	if roomID == "" {
		roomID = entry.RoomID
	}
	room, err := r.participantRoom(ctx, roomID, entry.UserID)
	if err != nil {
		return err
	}

	unlock := r.locks.Lock(room.ID)
	defer unlock()

	var (
		msg      *Message
		buffered bool
	)
	if in.MessageID != "" {
		msg, buffered, err = r.findMessage(ctx, room, in.MessageID)
	} else {
		msg, buffered, err = r.latestUnseen(ctx, room, entry.UserID)
	}
	if err != nil {
		return err
	}
	if msg == nil {
		return nil
	}

	msg.Seen = true
	if buffered {
		err := r.buffer.Replace(ctx, room.Kind, *msg)
		switch {
		case errors.Is(err, ErrMessageNotFound):
			buffered = false
		case err != nil:
			return fmt.Errorf("Replace: %w", err)
		}
	}
	if !buffered {
		if err := r.store.MarkSeen(ctx, msg.ID); err != nil {
			return fmt.Errorf("MarkSeen: %w", err)
		}
	}

	r.broadcast(ctx, room.ID, MessageUpdatedEvent, msg, "")
	return nil
}

// latestUnseen searches the buffer from its tail and then the store.
// Buffered messages are always newer than stored ones.
func (r *Relay) latestUnseen(ctx context.Context, room *Room, readerID string) (*Message, bool, error) {
	msgs, err := r.buffer.List(ctx, room.Kind, room.ID)
	if err != nil {
		return nil, false, fmt.Errorf("List: %w", err)
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if !m.Seen && m.VisibleTo(readerID) {
			return &m, true, nil
		}
	}
	msg, err := r.store.LatestUnseen(ctx, room.ID, readerID)
	if err != nil {
		return nil, false, fmt.Errorf("LatestUnseen: %w", err)
	}
	return msg, false, nil
}

// MarkRoomSeen marks the leading run of unseen messages of the room seen, oldest first,
// stopping at the first message that is already seen. Stored messages come before
// buffered ones. It returns the number of messages marked.
func (r *Relay) MarkRoomSeen(ctx context.Context, userID, roomID string) (int, error) {
	room, err := r.participantRoom(ctx, roomID, userID)
	if err != nil {
		return 0, err
	}

	unlock := r.locks.Lock(room.ID)
	defer unlock()

	marked, reachedEnd, err := r.store.MarkLeadingUnseen(ctx, room.ID)
	if err != nil {
		return 0, fmt.Errorf("MarkLeadingUnseen: %w", err)
	}
	if reachedEnd {
		buffered, err := r.markBufferedSeen(ctx, room, marked)
		if err != nil {
			return 0, err
		}
		marked = append(marked, buffered...)
	}

	for i := range marked {
		r.broadcast(ctx, room.ID, MessageUpdatedEvent, &marked[i], "")
	}
	return len(marked), nil
}

// markBufferedSeen continues the run of MarkRoomSeen into the buffer. Messages that
// were already marked in the store are skipped.
func (r *Relay) markBufferedSeen(ctx context.Context, room *Room, stored []Message) ([]Message, error) {
	msgs, err := r.buffer.List(ctx, room.Kind, room.ID)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	done := make(map[string]bool, len(stored))
	for _, m := range stored {
		done[m.ID] = true
	}

	var marked []Message
	for _, m := range msgs {
		if done[m.ID] {
			continue
		}
		if m.Seen {
			break
		}
		m.Seen = true
		err := r.buffer.Replace(ctx, room.Kind, m)
		switch {
		case errors.Is(err, ErrMessageNotFound):
			// flushed since it was listed
			if err := r.store.MarkSeen(ctx, m.ID); err != nil && !errors.Is(err, ErrMessageNotFound) {
				return nil, fmt.Errorf("MarkSeen: %w", err)
			}
		case err != nil:
			return nil, fmt.Errorf("Replace: %w", err)
		}
		marked = append(marked, m)
	}
	return marked, nil
}

// Typing tells the rest of the room that the user started or stopped typing.
func (r *Relay) Typing(ctx context.Context, connID string, typing bool) error {
	entry, err := r.presence.Get(ctx, connID)
	if err != nil {
		return fmt.Errorf("Get(presence): %w", err)
	}
	if entry == nil {
		return ErrNotJoined
	}
	t := UserTypingEvent
	if !typing {
		t = UserStoppedTypingEvent
	}
	r.broadcast(ctx, entry.RoomID, t, TypingPayload{UserID: entry.UserID}, entry.UserID)
	return nil
}

// Signal relays a call signaling event to the rest of the room. The payload is not inspected.
func (r *Relay) Signal(ctx context.Context, connID, event string, payload json.RawMessage) error {
	if !slices.Contains(CallEvents, event) {
		return ErrUnknownEvent
	}
	entry, err := r.presence.Get(ctx, connID)
	if err != nil {
		return fmt.Errorf("Get(presence): %w", err)
	}
	if entry == nil {
		return ErrNotJoined
	}
	r.broadcast(ctx, entry.RoomID, event, SignalPayload{From: *entry, Payload: payload}, entry.UserID)
	return nil
}

// History returns a page of the room's messages visible to the user, oldest first.
// Reading the first page flushes the room so it includes the newest messages.
func (r *Relay) History(ctx context.Context, userID, roomID string, page int) (*MessagePage, error) {
	if page < 0 {
		return nil, ErrInvalidPage
	}
	room, err := r.participantRoom(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if page == 0 {
		// failures are logged by the flusher, the buffer is kept for the next trigger
		r.flusher.Flush(ctx, room.Kind, room.ID)
	}

	msgs, err := r.store.GetRoomMessages(ctx, room.ID, userID, page*PageSize, PageSize+1)
	if err != nil {
		return nil, fmt.Errorf("GetRoomMessages: %w", err)
	}
	hasMore := len(msgs) > PageSize
	if hasMore {
		msgs = msgs[:PageSize]
	}
	slices.Reverse(msgs)
	if msgs == nil {
		msgs = []Message{}
	}
	return &MessagePage{Messages: msgs, HasMore: hasMore}, nil
}

// Rooms returns the summaries of the user's rooms, most recently updated first.
func (r *Relay) Rooms(ctx context.Context, userID string) ([]RoomSummary, error) {
	summaries, err := r.store.GetRoomSummaries(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("GetRoomSummaries: %w", err)
	}
	if summaries == nil {
		summaries = []RoomSummary{}
	}
	return summaries, nil
}

// ClearConversation hides every message of the room for the user and hides the room
// from the user's room list until a new message arrives. Messages every participant
// has hidden are erased with their attachments.
func (r *Relay) ClearConversation(ctx context.Context, userID, roomID string) error {
	room, err := r.participantRoom(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if _, err := r.flusher.Flush(ctx, room.Kind, room.ID); err != nil {
		return fmt.Errorf("Flush: %w", err)
	}

	unlock := r.locks.Lock(room.ID)
	defer unlock()

	// the summary may have moved on while flushing
	if room, err = r.room(ctx, roomID); err != nil {
		return err
	}
	erased, err := r.store.HideRoomMessages(ctx, room.ID, userID)
	if err != nil {
		return fmt.Errorf("HideRoomMessages: %w", err)
	}
	for i := range erased {
		r.deleteBlob(ctx, &erased[i])
		if id := room.Summary.LastMessageID; id != nil && *id == erased[i].ID {
			r.replaceSummary(ctx, room.ID, erased[i].ID, DeletedMarker, true)
		}
	}

	if err := r.store.ClearForUser(ctx, room.ID, userID); err != nil {
		return fmt.Errorf("ClearForUser: %w", err)
	}
	return nil
}
