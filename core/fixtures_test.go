package core

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/putto11262002/lobby/migrations"
	"github.com/redis/go-redis/v9"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type BaseFixture struct {
	ctx      context.Context
	db       *sql.DB
	t        *testing.T
	tearDown func()
}

// NewBaseFixture opens a private in-memory database with every migration applied.
func NewBaseFixture(t *testing.T) *BaseFixture {

	ctx, cancel := context.WithCancel(context.Background())

	// a named shared-cache database lives as long as one connection is open
	db, err := sql.Open("sqlite3", "file:"+uuid.New().String()+"?mode=memory&cache=shared&_foreign_keys=1")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)

	if err := Migrate(db, migrations.FS); err != nil {
		t.Fatal(err)
	}

	return &BaseFixture{
		ctx: ctx,
		db:  db,
		t:   t,
		tearDown: func() {
			cancel()
			db.Close()
		},
	}
}

type RedisFixture struct {
	mr  *miniredis.Miniredis
	rdb *redis.Client
}

func NewRedisFixture(t *testing.T) *RedisFixture {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return &RedisFixture{mr: mr, rdb: rdb}
}

type ChatFixture struct {
	*BaseFixture
	userStore *SQLiteUserStore
	chatStore *SQLiteChatStore
}

func NewChatFixture(t *testing.T) *ChatFixture {
	base := NewBaseFixture(t)
	return &ChatFixture{
		BaseFixture: base,
		userStore:   NewSQLiteUserStore(base.db),
		chatStore:   NewSQLiteChatStore(base.db),
	}
}

// emitted is an event captured by recordingEmitter.
type emitted struct {
	Type    string
	Payload any
	// Users is set for EmitTo, Conns for EmitToConns, neither for Emit.
	Users []string
	Conns []string
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (e *recordingEmitter) record(ev emitted) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

func (e *recordingEmitter) Emit(t string, payload any) error {
	return e.record(emitted{Type: t, Payload: payload})
}

func (e *recordingEmitter) EmitTo(t string, payload any, userIDs ...string) error {
	return e.record(emitted{Type: t, Payload: payload, Users: userIDs})
}

func (e *recordingEmitter) EmitToConns(t string, payload any, connIDs ...string) error {
	return e.record(emitted{Type: t, Payload: payload, Conns: connIDs})
}

// ofType returns the captured events of the type in emission order.
func (e *recordingEmitter) ofType(t string) []emitted {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []emitted
	for _, ev := range e.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (e *recordingEmitter) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = nil
}

type fakeBlobStore struct {
	mu        sync.Mutex
	deleted   []string
	deleteErr error
}

func (b *fakeBlobStore) Upload(_ context.Context, name, _ string, _ io.Reader, _ int64) (string, error) {
	return "http://blob.test/attachments/" + name, nil
}

func (b *fakeBlobStore) Delete(_ context.Context, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, url)
	return b.deleteErr
}

func (b *fakeBlobStore) deletedURLs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.deleted...)
}

type pushed struct {
	UserID string
	Text   string
}

type fakeSink struct {
	mu     sync.Mutex
	pushes []pushed
	err    error
}

func (s *fakeSink) Push(_ context.Context, userID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushes = append(s.pushes, pushed{UserID: userID, Text: text})
	return s.err
}

func (s *fakeSink) all() []pushed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pushed(nil), s.pushes...)
}

// clock is a settable time source. With a step set, every reading moves it forward.
type clock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 11, 20, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

func (c *clock) tick(step time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = step
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type RelayFixture struct {
	*ChatFixture
	redis    *RedisFixture
	buffer   *RedisRoomBuffer
	presence *MemoryPresence
	emitter  *recordingEmitter
	blobs    *fakeBlobStore
	sink     *fakeSink
	clock    *clock
	relay    *Relay
}

func NewRelayFixture(t *testing.T) *RelayFixture {
	chat := NewChatFixture(t)
	rf := NewRedisFixture(t)
	f := &RelayFixture{
		ChatFixture: chat,
		redis:       rf,
		buffer:      NewRedisRoomBuffer(rf.rdb),
		presence:    NewMemoryPresence(),
		emitter:     &recordingEmitter{},
		blobs:       &fakeBlobStore{},
		sink:        &fakeSink{},
		clock:       newClock(),
	}
	f.relay = NewRelay(RelayOptions{
		Presence: f.presence,
		Buffer:   f.buffer,
		Store:    f.chatStore,
		Users:    f.userStore,
		Blobs:    f.blobs,
		Notifier: f.sink,
		Emitter:  f.emitter,
		Logger:   discardLogger,
		Now:      f.clock.Now,
	})
	tearDown := chat.tearDown
	f.tearDown = func() {
		f.relay.Wait()
		tearDown()
	}
	return f
}
