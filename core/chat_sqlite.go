package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

const messageColumns = `id, room_id, sender_id, sender_name, kind, body, attachment_url, attachment_kind,
	caption, reply_message_id, reply_author_id, reply_snippet, reply_is_media, seen, edited, forwarded,
	deleted_for, sent_at, seq`

// visibleTo filters out messages the @user_id has hidden.
const visibleTo = `NOT EXISTS (SELECT 1 FROM json_each(messages.deleted_for) WHERE json_each.value = @user_id)`

// hiddenForAll matches messages that every current participant of their room has hidden.
const hiddenForAll = `NOT EXISTS (
	SELECT 1 FROM room_participants p
	WHERE p.room_id = messages.room_id
		AND NOT EXISTS (SELECT 1 FROM json_each(messages.deleted_for) d WHERE d.value = p.user_id))`

type SQLiteChatStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteChatStore(db *sql.DB) *SQLiteChatStore {
	return &SQLiteChatStore{
		db:  db,
		now: time.Now,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var (
		m          Message
		replyID    sql.NullString
		reply      ReplyRef
		deletedFor string
		sentAt     int64
	)
	err := row.Scan(
		&m.ID, &m.RoomID, &m.SenderID, &m.SenderName, &m.Kind, &m.Body, &m.AttachmentURL,
		&m.AttachmentKind, &m.Caption, &replyID, &reply.AuthorID, &reply.Snippet, &reply.IsMedia,
		&m.Seen, &m.Edited, &m.Forwarded, &deletedFor, &sentAt, &m.Seq,
	)
	if err != nil {
		return nil, err
	}
	if replyID.Valid {
		reply.MessageID = replyID.String
		m.ReplyTo = &reply
	}
	if err := json.Unmarshal([]byte(deletedFor), &m.DeletedFor); err != nil {
		return nil, fmt.Errorf("Unmarshal(deleted_for): %w", err)
	}
	if len(m.DeletedFor) == 0 {
		m.DeletedFor = nil
	}
	m.SentAt = fromMillis(sentAt)
	return &m, nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()
	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanMessage: %w", err)
		}
		msgs = append(msgs, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}
	return msgs, nil
}

func messageArgs(m Message) ([]any, error) {
	deletedFor := m.DeletedFor
	if deletedFor == nil {
		deletedFor = []string{}
	}
	encoded, err := json.Marshal(deletedFor)
	if err != nil {
		return nil, fmt.Errorf("Marshal(deleted_for): %w", err)
	}
	var (
		replyID sql.NullString
		reply   ReplyRef
	)
	if m.ReplyTo != nil {
		reply = *m.ReplyTo
		replyID = sql.NullString{String: reply.MessageID, Valid: true}
	}
	return []any{
		sql.Named("id", m.ID), sql.Named("room_id", m.RoomID),
		sql.Named("sender_id", m.SenderID), sql.Named("sender_name", m.SenderName),
		sql.Named("kind", m.Kind), sql.Named("body", m.Body),
		sql.Named("attachment_url", m.AttachmentURL), sql.Named("attachment_kind", m.AttachmentKind),
		sql.Named("caption", m.Caption), sql.Named("reply_message_id", replyID),
		sql.Named("reply_author_id", reply.AuthorID), sql.Named("reply_snippet", reply.Snippet),
		sql.Named("reply_is_media", reply.IsMedia), sql.Named("seen", m.Seen),
		sql.Named("edited", m.Edited), sql.Named("forwarded", m.Forwarded),
		sql.Named("deleted_for", string(encoded)), sql.Named("sent_at", millis(m.SentAt)),
		sql.Named("seq", m.Seq),
	}, nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func pairKey(a, b string) string {
	pair := []string{a, b}
	slices.Sort(pair)
	return strings.Join(pair, ":")
}

func (s *SQLiteChatStore) CreatePrivateRoom(ctx context.Context, userA, userB string) (*Room, error) {
	if userA == "" || userB == "" || userA == userB {
		return nil, ErrInvalidUser
	}
	key := pairKey(userA, userB)
	now := millis(s.now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rooms (id, kind, pair_key, last_updated_at)
		VALUES (@id, @kind, @pair_key, @now)
		ON CONFLICT (pair_key) DO NOTHING`,
		sql.Named("id", uuid.New().String()), sql.Named("kind", PrivateRoom),
		sql.Named("pair_key", key), sql.Named("now", now))
	if err != nil {
		return nil, fmt.Errorf("ExecContext(insert room): %w", err)
	}

	var id string
	if err := tx.QueryRowContext(ctx, "SELECT id FROM rooms WHERE pair_key = @pair_key",
		sql.Named("pair_key", key)).Scan(&id); err != nil {
		return nil, fmt.Errorf("QueryRowContext(room id): %w", err)
	}

	for _, user := range []string{userA, userB} {
		if err := insertParticipant(ctx, tx, id, user, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Commit: %w", err)
	}
	return s.GetRoomByID(ctx, id)
}

func (s *SQLiteChatStore) CreateTribeRoom(ctx context.Context, tribeID string, members []string) (*Room, error) {
	if tribeID == "" {
		return nil, ErrInvalidRoom
	}
	if len(members) == 0 {
		return nil, ErrInvalidUser
	}
	now := millis(s.now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rooms (id, kind, last_updated_at) VALUES (@id, @kind, @now)
		ON CONFLICT (id) DO NOTHING`,
		sql.Named("id", tribeID), sql.Named("kind", TribeRoom), sql.Named("now", now))
	if err != nil {
		return nil, fmt.Errorf("ExecContext(insert room): %w", err)
	}

	kind, err := roomKind(ctx, tx, tribeID)
	if err != nil {
		return nil, err
	}
	if kind != TribeRoom {
		return nil, ErrDisAllowedOperation
	}

	for _, member := range members {
		if member == "" {
			return nil, ErrInvalidUser
		}
		if err := insertParticipant(ctx, tx, tribeID, member, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Commit: %w", err)
	}
	return s.GetRoomByID(ctx, tribeID)
}

type execQueryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertParticipant(ctx context.Context, db execQueryer, roomID, userID string, now int64) error {
	_, err := db.ExecContext(ctx, `
		INSERT OR IGNORE INTO room_participants (room_id, user_id, joined_at)
		VALUES (@room_id, @user_id, @joined_at)`,
		sql.Named("room_id", roomID), sql.Named("user_id", userID), sql.Named("joined_at", now))
	if err != nil {
		return fmt.Errorf("ExecContext(insert participant): %w", err)
	}
	return nil
}

// roomKind returns ErrInvalidRoom if the room does not exist.
func roomKind(ctx context.Context, db execQueryer, roomID string) (RoomKind, error) {
	var kind RoomKind
	err := db.QueryRowContext(ctx, "SELECT kind FROM rooms WHERE id = @id", sql.Named("id", roomID)).Scan(&kind)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrInvalidRoom
		}
		return "", fmt.Errorf("QueryRowContext(room kind): %w", err)
	}
	return kind, nil
}

func (s *SQLiteChatStore) AddParticipant(ctx context.Context, roomID, userID string) error {
	kind, err := roomKind(ctx, s.db, roomID)
	if err != nil {
		return err
	}
	if kind != TribeRoom {
		return ErrDisAllowedOperation
	}
	return insertParticipant(ctx, s.db, roomID, userID, millis(s.now()))
}

func (s *SQLiteChatStore) RemoveParticipant(ctx context.Context, roomID, userID string) error {
	kind, err := roomKind(ctx, s.db, roomID)
	if err != nil {
		return err
	}
	if kind != TribeRoom {
		return ErrDisAllowedOperation
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM room_participants WHERE room_id = @room_id AND user_id = @user_id",
		sql.Named("room_id", roomID), sql.Named("user_id", userID))
	if err != nil {
		return fmt.Errorf("ExecContext(delete participant): %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotParticipant
	}
	return nil
}

func (s *SQLiteChatStore) GetRoomByID(ctx context.Context, roomID string) (*Room, error) {
	room := Room{ID: roomID}
	var (
		lastID        sql.NullString
		lastUpdatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT kind, last_message_text, last_message_id, last_updated_at FROM rooms WHERE id = @id`,
		sql.Named("id", roomID)).Scan(&room.Kind, &room.Summary.LastMessageText, &lastID, &lastUpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("QueryRowContext(room): %w", err)
	}
	room.Summary.RoomID = roomID
	room.Summary.Kind = room.Kind
	room.Summary.LastUpdatedAt = fromMillis(lastUpdatedAt)
	if lastID.Valid {
		room.Summary.LastMessageID = &lastID.String
	}

	room.Participants, err = s.queryUserIDs(ctx,
		"SELECT user_id FROM room_participants WHERE room_id = @room_id ORDER BY joined_at, user_id", roomID)
	if err != nil {
		return nil, err
	}
	room.ClearedFor, err = s.queryUserIDs(ctx,
		"SELECT user_id FROM room_cleared WHERE room_id = @room_id ORDER BY user_id", roomID)
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *SQLiteChatStore) queryUserIDs(ctx context.Context, query, roomID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, sql.Named("room_id", roomID))
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteChatStore) GetRoomSummaries(ctx context.Context, userID string) ([]RoomSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.kind, r.last_message_text, r.last_message_id, r.last_updated_at
		FROM rooms r
		JOIN room_participants p ON p.room_id = r.id
		WHERE p.user_id = @user_id
		AND NOT EXISTS (SELECT 1 FROM room_cleared c WHERE c.room_id = r.id AND c.user_id = @user_id)
		ORDER BY r.last_updated_at DESC, r.id`,
		sql.Named("user_id", userID))
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}
	defer rows.Close()

	var summaries []RoomSummary
	for rows.Next() {
		var (
			summary   RoomSummary
			lastID    sql.NullString
			updatedAt int64
		)
		if err := rows.Scan(&summary.RoomID, &summary.Kind, &summary.LastMessageText, &lastID, &updatedAt); err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}
		if lastID.Valid {
			summary.LastMessageID = &lastID.String
		}
		summary.LastUpdatedAt = fromMillis(updatedAt)
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

func (s *SQLiteChatStore) UpdateSummary(ctx context.Context, summary RoomSummary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	var lastID sql.NullString
	if summary.LastMessageID != nil {
		lastID = sql.NullString{String: *summary.LastMessageID, Valid: true}
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE rooms SET last_message_text = @text, last_message_id = @last_id, last_updated_at = @at
		WHERE id = @id`,
		sql.Named("text", summary.LastMessageText), sql.Named("last_id", lastID),
		sql.Named("at", millis(summary.LastUpdatedAt)), sql.Named("id", summary.RoomID))
	if err != nil {
		return fmt.Errorf("ExecContext(update summary): %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInvalidRoom
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM room_cleared WHERE room_id = @room_id",
		sql.Named("room_id", summary.RoomID)); err != nil {
		return fmt.Errorf("ExecContext(reset cleared): %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Commit: %w", err)
	}
	return nil
}

func (s *SQLiteChatStore) ReplaceSummaryText(ctx context.Context, roomID, messageID, text string, clearID bool, at time.Time) (*RoomSummary, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE rooms SET last_message_text = @text,
			last_message_id = CASE WHEN @clear_id THEN NULL ELSE last_message_id END,
			last_updated_at = @at
		WHERE id = @id AND last_message_id = @message_id`,
		sql.Named("text", text), sql.Named("clear_id", clearID), sql.Named("at", millis(at)),
		sql.Named("id", roomID), sql.Named("message_id", messageID))
	if err != nil {
		return nil, fmt.Errorf("ExecContext(replace summary): %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}

	room, err := s.GetRoomByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, ErrInvalidRoom
	}
	return &room.Summary, nil
}

func (s *SQLiteChatStore) ClearForUser(ctx context.Context, roomID, userID string) error {
	_, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO room_cleared (room_id, user_id) VALUES (@room_id, @user_id)",
		sql.Named("room_id", roomID), sql.Named("user_id", userID))
	if err != nil {
		return fmt.Errorf("ExecContext(insert cleared): %w", err)
	}
	return nil
}

func (s *SQLiteChatStore) SaveMessages(ctx context.Context, roomID string, msgs []Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (@id, @room_id, @sender_id, @sender_name, @kind, @body, @attachment_url, @attachment_kind,
			@caption, @reply_message_id, @reply_author_id, @reply_snippet, @reply_is_media, @seen, @edited,
			@forwarded, @deleted_for, @sent_at, @seq)
		ON CONFLICT (id) DO UPDATE SET
			body = excluded.body,
			caption = excluded.caption,
			seen = excluded.seen,
			edited = excluded.edited,
			forwarded = excluded.forwarded,
			deleted_for = excluded.deleted_for`)
	if err != nil {
		return fmt.Errorf("PrepareContext: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		if m.RoomID != roomID {
			return fmt.Errorf("message %s belongs to room %s: %w", m.ID, m.RoomID, ErrInvalidMessage)
		}
		args, err := messageArgs(m)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("ExecContext(upsert message): %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM room_cleared WHERE room_id = @room_id",
		sql.Named("room_id", roomID)); err != nil {
		return fmt.Errorf("ExecContext(reset cleared): %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Commit: %w", err)
	}
	return nil
}

func (s *SQLiteChatStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+messageColumns+" FROM messages WHERE id = @id", sql.Named("id", id))
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanMessage: %w", err)
	}
	return m, nil
}

func (s *SQLiteChatStore) GetRoomMessages(ctx context.Context, roomID, userID string, offset, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = PageSize
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE room_id = @room_id AND `+visibleTo+`
		ORDER BY sent_at DESC, seq DESC
		LIMIT @limit OFFSET @offset`,
		sql.Named("room_id", roomID), sql.Named("user_id", userID),
		sql.Named("limit", limit), sql.Named("offset", offset))
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}
	return scanMessages(rows)
}

func (s *SQLiteChatStore) updateOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("ExecContext: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (s *SQLiteChatStore) UpdateMessageBody(ctx context.Context, id, body string) error {
	return s.updateOne(ctx, "UPDATE messages SET body = @body, edited = 1 WHERE id = @id",
		sql.Named("body", body), sql.Named("id", id))
}

func (s *SQLiteChatStore) MarkSeen(ctx context.Context, id string) error {
	return s.updateOne(ctx, "UPDATE messages SET seen = 1 WHERE id = @id", sql.Named("id", id))
}

func (s *SQLiteChatStore) LatestUnseen(ctx context.Context, roomID, readerID string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE room_id = @room_id AND seen = 0 AND `+visibleTo+`
		ORDER BY sent_at DESC, seq DESC
		LIMIT 1`,
		sql.Named("room_id", roomID), sql.Named("user_id", readerID))
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanMessage: %w", err)
	}
	return m, nil
}

func (s *SQLiteChatStore) MarkLeadingUnseen(ctx context.Context, roomID string) ([]Message, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	// the oldest seen message ends the run
	var (
		boundarySentAt int64
		boundarySeq    int64
	)
	reachedEnd := false
	err = tx.QueryRowContext(ctx, `
		SELECT sent_at, seq FROM messages
		WHERE room_id = @room_id AND seen = 1
		ORDER BY sent_at, seq
		LIMIT 1`,
		sql.Named("room_id", roomID)).Scan(&boundarySentAt, &boundarySeq)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		reachedEnd = true
	case err != nil:
		return nil, false, fmt.Errorf("QueryRowContext(first seen): %w", err)
	}

	before := `room_id = @room_id AND seen = 0`
	if !reachedEnd {
		before += ` AND (sent_at < @sent_at OR (sent_at = @sent_at AND seq < @seq))`
	}
	args := []any{sql.Named("room_id", roomID), sql.Named("sent_at", boundarySentAt), sql.Named("seq", boundarySeq)}

	rows, err := tx.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE `+before+` ORDER BY sent_at, seq`, args...)
	if err != nil {
		return nil, false, fmt.Errorf("QueryContext(leading unseen): %w", err)
	}
	marked, err := scanMessages(rows)
	if err != nil {
		return nil, false, err
	}
	if len(marked) == 0 {
		return nil, reachedEnd, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE messages SET seen = 1 WHERE `+before, args...); err != nil {
		return nil, false, fmt.Errorf("ExecContext(mark seen): %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("Commit: %w", err)
	}
	for i := range marked {
		marked[i].Seen = true
	}
	return marked, reachedEnd, nil
}

func (s *SQLiteChatStore) HideMessage(ctx context.Context, id, userID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE messages SET deleted_for = json_insert(deleted_for, '$[#]', @user_id)
		WHERE id = @id AND `+visibleTo,
		sql.Named("id", id), sql.Named("user_id", userID))
	if err != nil {
		return false, fmt.Errorf("ExecContext(hide message): %w", err)
	}

	var all bool
	err = tx.QueryRowContext(ctx, "SELECT "+hiddenForAll+" FROM messages WHERE id = @id",
		sql.Named("id", id)).Scan(&all)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrMessageNotFound
		}
		return false, fmt.Errorf("QueryRowContext(hidden for all): %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("Commit: %w", err)
	}
	return all, nil
}

func (s *SQLiteChatStore) HideRoomMessages(ctx context.Context, roomID, userID string) ([]Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE messages SET deleted_for = json_insert(deleted_for, '$[#]', @user_id)
		WHERE room_id = @room_id AND `+visibleTo,
		sql.Named("room_id", roomID), sql.Named("user_id", userID))
	if err != nil {
		return nil, fmt.Errorf("ExecContext(hide messages): %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE room_id = @room_id AND `+hiddenForAll+`
		ORDER BY sent_at, seq`,
		sql.Named("room_id", roomID))
	if err != nil {
		return nil, fmt.Errorf("QueryContext(erasable): %w", err)
	}
	erased, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE room_id = @room_id AND `+hiddenForAll,
		sql.Named("room_id", roomID))
	if err != nil {
		return nil, fmt.Errorf("ExecContext(erase messages): %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Commit: %w", err)
	}
	return erased, nil
}

func (s *SQLiteChatStore) DeleteMessage(ctx context.Context, id string) error {
	return s.updateOne(ctx, "DELETE FROM messages WHERE id = @id", sql.Named("id", id))
}
