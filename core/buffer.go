package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const bufferRoomsKey = "chat:buffer:rooms"

// maxReplaceAttempts bounds how often Replace re-reads a list that changed under it.
const maxReplaceAttempts = 3

// BufferedRoom identifies a room with messages waiting in the buffer.
type BufferedRoom struct {
	Kind RoomKind
	ID   string
}

// RoomBuffer holds messages that are not yet in the message store, one ordered list per room.
type RoomBuffer interface {
	// Append assigns the message its room sequence number and pushes it to the tail of the room's list.
	Append(ctx context.Context, kind RoomKind, m *Message) error

	// List returns the buffered messages of the room in insertion order.
	List(ctx context.Context, kind RoomKind, roomID string) ([]Message, error)

	// Find returns a buffered message.
	// If the message is not buffered, it returns nil.
	Find(ctx context.Context, kind RoomKind, roomID, messageID string) (*Message, error)

	// Replace overwrites a buffered message in place, keeping its position.
	// If the message is not buffered, it returns ErrMessageNotFound.
	Replace(ctx context.Context, kind RoomKind, m Message) error

	// Remove drops a buffered message and returns it.
	// If the message is not buffered, it returns nil.
	Remove(ctx context.Context, kind RoomKind, roomID, messageID string) (*Message, error)

	// Trim drops the first n messages of the room's list, leaving anything appended after them.
	Trim(ctx context.Context, kind RoomKind, roomID string, n int) error

	// Rooms returns the rooms that have buffered messages.
	Rooms(ctx context.Context) ([]BufferedRoom, error)
}

func bufferKey(kind RoomKind, roomID string) string {
	if kind == TribeRoom {
		return "tribe:buffer:" + roomID
	}
	return "chat:buffer:" + roomID
}

func seqKey(roomID string) string {
	return "chat:seq:" + roomID
}

func bufferMember(kind RoomKind, roomID string) string {
	return string(kind) + ":" + roomID
}

// trimScript drops the flushed prefix and forgets the room once its list is empty.
var trimScript = redis.NewScript(`
redis.call('LTRIM', KEYS[1], ARGV[1], -1)
if redis.call('LLEN', KEYS[1]) == 0 then
	redis.call('SREM', KEYS[2], ARGV[2])
end
return 1
`)

// replaceScript swaps the item at an index only if it still holds the expected value.
var replaceScript = redis.NewScript(`
if redis.call('LINDEX', KEYS[1], ARGV[1]) == ARGV[2] then
	redis.call('LSET', KEYS[1], ARGV[1], ARGV[3])
	return 1
end
return 0
`)

// RedisRoomBuffer keeps each room's buffer in a Redis list of JSON encoded messages.
type RedisRoomBuffer struct {
	rdb redis.UniversalClient
}

func NewRedisRoomBuffer(rdb redis.UniversalClient) *RedisRoomBuffer {
	return &RedisRoomBuffer{rdb: rdb}
}

func (b *RedisRoomBuffer) Append(ctx context.Context, kind RoomKind, m *Message) error {
	seq, err := b.rdb.Incr(ctx, seqKey(m.RoomID)).Result()
	if err != nil {
		return fmt.Errorf("Incr: %w", err)
	}
	m.Seq = seq

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("Marshal: %w", err)
	}

	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, bufferKey(kind, m.RoomID), data)
		pipe.SAdd(ctx, bufferRoomsKey, bufferMember(kind, m.RoomID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("TxPipelined: %w", err)
	}
	return nil
}

func (b *RedisRoomBuffer) raw(ctx context.Context, kind RoomKind, roomID string) ([]string, error) {
	items, err := b.rdb.LRange(ctx, bufferKey(kind, roomID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("LRange: %w", err)
	}
	return items, nil
}

func decodeBuffered(item string) (*Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(item), &m); err != nil {
		return nil, fmt.Errorf("Unmarshal(buffered message): %w", err)
	}
	return &m, nil
}

// locate returns the index, raw value and decoded message of a buffered message, or -1.
func (b *RedisRoomBuffer) locate(ctx context.Context, kind RoomKind, roomID, messageID string) (int, string, *Message, error) {
	items, err := b.raw(ctx, kind, roomID)
	if err != nil {
		return -1, "", nil, err
	}
	for i, item := range items {
		m, err := decodeBuffered(item)
		if err != nil {
			return -1, "", nil, err
		}
		if m.ID == messageID {
			return i, item, m, nil
		}
	}
	return -1, "", nil, nil
}

func (b *RedisRoomBuffer) List(ctx context.Context, kind RoomKind, roomID string) ([]Message, error) {
	items, err := b.raw(ctx, kind, roomID)
	if err != nil {
		return nil, err
	}
	msgs := make([]Message, 0, len(items))
	for _, item := range items {
		m, err := decodeBuffered(item)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, nil
}

func (b *RedisRoomBuffer) Find(ctx context.Context, kind RoomKind, roomID, messageID string) (*Message, error) {
	_, _, m, err := b.locate(ctx, kind, roomID, messageID)
	return m, err
}

func (b *RedisRoomBuffer) Replace(ctx context.Context, kind RoomKind, m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("Marshal: %w", err)
	}

	for attempt := 0; attempt < maxReplaceAttempts; attempt++ {
		idx, old, _, err := b.locate(ctx, kind, m.RoomID, m.ID)
		if err != nil {
			return err
		}
		if idx < 0 {
			return ErrMessageNotFound
		}
		swapped, err := replaceScript.Run(ctx, b.rdb, []string{bufferKey(kind, m.RoomID)}, idx, old, data).Int()
		if err != nil {
			return fmt.Errorf("replaceScript: %w", err)
		}
		if swapped == 1 {
			return nil
		}
	}
	return fmt.Errorf("buffer of room %s kept changing during replace", m.RoomID)
}

func (b *RedisRoomBuffer) Remove(ctx context.Context, kind RoomKind, roomID, messageID string) (*Message, error) {
	idx, old, m, err := b.locate(ctx, kind, roomID, messageID)
	if err != nil || idx < 0 {
		return nil, err
	}
	n, err := b.rdb.LRem(ctx, bufferKey(kind, roomID), 1, old).Result()
	if err != nil {
		return nil, fmt.Errorf("LRem: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	return m, nil
}

func (b *RedisRoomBuffer) Trim(ctx context.Context, kind RoomKind, roomID string, n int) error {
	if n <= 0 {
		return nil
	}
	keys := []string{bufferKey(kind, roomID), bufferRoomsKey}
	if err := trimScript.Run(ctx, b.rdb, keys, n, bufferMember(kind, roomID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("trimScript: %w", err)
	}
	return nil
}

func (b *RedisRoomBuffer) Rooms(ctx context.Context) ([]BufferedRoom, error) {
	members, err := b.rdb.SMembers(ctx, bufferRoomsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("SMembers: %w", err)
	}
	rooms := make([]BufferedRoom, 0, len(members))
	for _, member := range members {
		kind, id, ok := strings.Cut(member, ":")
		if !ok {
			continue
		}
		rooms = append(rooms, BufferedRoom{Kind: RoomKind(kind), ID: id})
	}
	return rooms, nil
}
