package core

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const presenceSeqKey = "presence:seq"

// DefaultPresenceTTL is how long a Redis presence entry survives without a refresh.
const DefaultPresenceTTL = 90 * time.Second

func presenceConnKey(connID string) string {
	return "presence:conn:" + connID
}

func presenceRoomKey(roomID string) string {
	return "presence:room:" + roomID
}

// RedisPresence shares presence between processes. Each connection is a hash with a TTL
// and each room a sorted set of connection ids scored by join order. Room members whose
// hash expired, because their process died without a disconnect, are pruned on read.
type RedisPresence struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisPresence(rdb redis.UniversalClient, ttl time.Duration) *RedisPresence {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	return &RedisPresence{rdb: rdb, ttl: ttl}
}

func entryFromHash(connID string, h map[string]string) *PresenceEntry {
	if len(h) == 0 {
		return nil
	}
	return &PresenceEntry{
		ConnectionID: connID,
		DisplayName:  h["display_name"],
		RoomID:       h["room_id"],
		UserID:       h["user_id"],
	}
}

func (p *RedisPresence) Join(ctx context.Context, entry PresenceEntry) (PresenceEntry, error) {
	prev, err := p.Get(ctx, entry.ConnectionID)
	if err != nil {
		return entry, err
	}

	order, err := p.rdb.Incr(ctx, presenceSeqKey).Result()
	if err != nil {
		return entry, fmt.Errorf("Incr: %w", err)
	}

	connKey := presenceConnKey(entry.ConnectionID)
	_, err = p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if prev != nil {
			pipe.ZRem(ctx, presenceRoomKey(prev.RoomID), entry.ConnectionID)
		}
		pipe.Del(ctx, connKey)
		pipe.HSet(ctx, connKey,
			"display_name", entry.DisplayName,
			"room_id", entry.RoomID,
			"user_id", entry.UserID,
		)
		pipe.Expire(ctx, connKey, p.ttl)
		pipe.ZAdd(ctx, presenceRoomKey(entry.RoomID), redis.Z{Score: float64(order), Member: entry.ConnectionID})
		return nil
	})
	if err != nil {
		return entry, fmt.Errorf("TxPipelined: %w", err)
	}
	return entry, nil
}

func (p *RedisPresence) Leave(ctx context.Context, connID string) (*PresenceEntry, error) {
	entry, err := p.Get(ctx, connID)
	if err != nil || entry == nil {
		return nil, err
	}
	_, err = p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, presenceConnKey(connID))
		pipe.ZRem(ctx, presenceRoomKey(entry.RoomID), connID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("TxPipelined: %w", err)
	}
	return entry, nil
}

func (p *RedisPresence) Get(ctx context.Context, connID string) (*PresenceEntry, error) {
	h, err := p.rdb.HGetAll(ctx, presenceConnKey(connID)).Result()
	if err != nil {
		return nil, fmt.Errorf("HGetAll: %w", err)
	}
	return entryFromHash(connID, h), nil
}

func (p *RedisPresence) List(ctx context.Context, roomID string) ([]PresenceEntry, error) {
	roomKey := presenceRoomKey(roomID)
	connIDs, err := p.rdb.ZRange(ctx, roomKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("ZRange: %w", err)
	}
	if len(connIDs) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(connIDs))
	_, err = p.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range connIDs {
			cmds[i] = pipe.HGetAll(ctx, presenceConnKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Pipelined: %w", err)
	}

	var (
		entries []PresenceEntry
		stale   []any
	)
	for i, cmd := range cmds {
		entry := entryFromHash(connIDs[i], cmd.Val())
		if entry == nil || entry.RoomID != roomID {
			stale = append(stale, connIDs[i])
			continue
		}
		entries = append(entries, *entry)
	}
	if len(stale) > 0 {
		if err := p.rdb.ZRem(ctx, roomKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("ZRem: %w", err)
		}
	}
	return entries, nil
}

func (p *RedisPresence) ListNames(ctx context.Context, roomID string) ([]string, error) {
	entries, err := p.List(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return entryNames(entries), nil
}

func (p *RedisPresence) Refresh(ctx context.Context, connIDs ...string) error {
	if len(connIDs) == 0 {
		return nil
	}
	_, err := p.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range connIDs {
			pipe.Expire(ctx, presenceConnKey(id), p.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("Pipelined: %w", err)
	}
	return nil
}
