package core

import (
	"context"
	"slices"
	"sync"
)

// PresenceEntry records which room a connection has joined and under which name.
type PresenceEntry struct {
	ConnectionID string `json:"connection_id"`
	DisplayName  string `json:"display_name"`
	RoomID       string `json:"room_id"`
	UserID       string `json:"user_id"`
}

// Presence tracks the room each connection has joined.
type Presence interface {
	// Join replaces any entry of the connection with the given one and returns it.
	Join(ctx context.Context, entry PresenceEntry) (PresenceEntry, error)

	// Leave removes the connection's entry and returns it.
	// If the connection has no entry, it returns nil.
	Leave(ctx context.Context, connID string) (*PresenceEntry, error)

	// Get returns the connection's entry.
	// If the connection has no entry, it returns nil.
	Get(ctx context.Context, connID string) (*PresenceEntry, error)

	// List returns the entries of a room in the order they joined.
	List(ctx context.Context, roomID string) ([]PresenceEntry, error)

	// ListNames returns the display names of a room's entries in the order they joined.
	ListNames(ctx context.Context, roomID string) ([]string, error)

	// Refresh keeps the entries of live connections from expiring.
	Refresh(ctx context.Context, connIDs ...string) error
}

func entryNames(entries []PresenceEntry) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.DisplayName)
	}
	return names
}

// MemoryPresence keeps entries in process memory. It is lost on restart and
// only sees the connections of its own process.
type MemoryPresence struct {
	entries []PresenceEntry
	mu      sync.RWMutex
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{}
}

func (p *MemoryPresence) Join(_ context.Context, entry PresenceEntry) (PresenceEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = slices.DeleteFunc(p.entries, func(e PresenceEntry) bool {
		return e.ConnectionID == entry.ConnectionID
	})
	p.entries = append(p.entries, entry)
	return entry, nil
}

func (p *MemoryPresence) Leave(_ context.Context, connID string) (*PresenceEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := slices.IndexFunc(p.entries, func(e PresenceEntry) bool { return e.ConnectionID == connID })
	if i < 0 {
		return nil, nil
	}
	entry := p.entries[i]
	p.entries = slices.Delete(p.entries, i, i+1)
	return &entry, nil
}

func (p *MemoryPresence) Get(_ context.Context, connID string) (*PresenceEntry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	i := slices.IndexFunc(p.entries, func(e PresenceEntry) bool { return e.ConnectionID == connID })
	if i < 0 {
		return nil, nil
	}
	entry := p.entries[i]
	return &entry, nil
}

func (p *MemoryPresence) List(_ context.Context, roomID string) ([]PresenceEntry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var entries []PresenceEntry
	for _, e := range p.entries {
		if e.RoomID == roomID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (p *MemoryPresence) ListNames(ctx context.Context, roomID string) ([]string, error) {
	entries, err := p.List(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return entryNames(entries), nil
}

func (p *MemoryPresence) Refresh(context.Context, ...string) error {
	return nil
}
