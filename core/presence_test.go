package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func presenceBackends(t *testing.T) map[string]func() Presence {
	return map[string]func() Presence{
		"memory": func() Presence { return NewMemoryPresence() },
		"redis":  func() Presence { return NewRedisPresence(NewRedisFixture(t).rdb, time.Minute) },
	}
}

func TestPresence(t *testing.T) {
	for name, newPresence := range presenceBackends(t) {
		t.Run(name+"/join replaces the connection's entry", func(t *testing.T) {
			ctx := context.Background()
			p := newPresence()

			_, err := p.Join(ctx, PresenceEntry{ConnectionID: "c1", DisplayName: "Alice", RoomID: "r1", UserID: alice.ID})
			require.Nil(t, err)
			_, err = p.Join(ctx, PresenceEntry{ConnectionID: "c1", DisplayName: "Alice", RoomID: "r2", UserID: alice.ID})
			require.Nil(t, err)

			names, err := p.ListNames(ctx, "r1")
			require.Nil(t, err)
			assert.Empty(t, names)
			names, err = p.ListNames(ctx, "r2")
			require.Nil(t, err)
			assert.Equal(t, []string{"Alice"}, names)
		})

		t.Run(name+"/list in join order", func(t *testing.T) {
			ctx := context.Background()
			p := newPresence()
			for _, e := range []PresenceEntry{
				{ConnectionID: "c2", DisplayName: "Bob", RoomID: "r1", UserID: bob.ID},
				{ConnectionID: "c1", DisplayName: "Alice", RoomID: "r1", UserID: alice.ID},
				{ConnectionID: "c3", DisplayName: "Carol", RoomID: "r2", UserID: carol.ID},
			} {
				_, err := p.Join(ctx, e)
				require.Nil(t, err)
			}

			entries, err := p.List(ctx, "r1")
			require.Nil(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, "c2", entries[0].ConnectionID)
			assert.Equal(t, "c1", entries[1].ConnectionID)
			assert.Equal(t, bob.ID, entries[0].UserID)
		})

		t.Run(name+"/leave", func(t *testing.T) {
			ctx := context.Background()
			p := newPresence()
			joined, err := p.Join(ctx, PresenceEntry{ConnectionID: "c1", DisplayName: "Alice", RoomID: "r1", UserID: alice.ID})
			require.Nil(t, err)

			left, err := p.Leave(ctx, "c1")
			require.Nil(t, err)
			require.NotNil(t, left)
			assert.Equal(t, joined, *left)

			left, err = p.Leave(ctx, "c1")
			require.Nil(t, err)
			assert.Nil(t, left)

			got, err := p.Get(ctx, "c1")
			require.Nil(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestRedisPresenceExpiry(t *testing.T) {
	ctx := context.Background()
	rf := NewRedisFixture(t)
	p := NewRedisPresence(rf.rdb, time.Minute)
	_, err := p.Join(ctx, PresenceEntry{ConnectionID: "stale", DisplayName: "Alice", RoomID: "r1", UserID: alice.ID})
	require.Nil(t, err)
	_, err = p.Join(ctx, PresenceEntry{ConnectionID: "live", DisplayName: "Bob", RoomID: "r1", UserID: bob.ID})
	require.Nil(t, err)

	rf.mr.FastForward(40 * time.Second)
	require.Nil(t, p.Refresh(ctx, "live"))
	rf.mr.FastForward(40 * time.Second)

	names, err := p.ListNames(ctx, "r1")
	require.Nil(t, err)
	assert.Equal(t, []string{"Bob"}, names)

	members, err := rf.rdb.ZRange(ctx, presenceRoomKey("r1"), 0, -1).Result()
	require.Nil(t, err)
	assert.Equal(t, []string{"live"}, members, "expired members are pruned")
}
