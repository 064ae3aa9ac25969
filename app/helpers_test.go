package lobby

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/putto11262002/lobby/core"
	"github.com/putto11262002/lobby/migrations"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const baseTimeout = 2 * time.Second

var (
	alice = core.User{ID: "u-alice", Username: "alice", Password: "password", DisplayName: "Alice"}
	bob   = core.User{ID: "u-bob", Username: "bob", Password: "password", DisplayName: "Bob"}
	carol = core.User{ID: "u-carol", Username: "carol", Password: "password", DisplayName: "Carol"}
)

type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func (s *fakeBlobStore) Upload(_ context.Context, name, _ string, r io.Reader, _ int64) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	url := "http://blobs.test/lobby/attachments/" + uuid.New().String() + "-" + name
	s.objects[url] = b
	return url, nil
}

func (s *fakeBlobStore) Delete(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, url)
	s.deleted = append(s.deleted, url)
	return nil
}

type AppFixture struct {
	t      *testing.T
	ctx    context.Context
	app    *App
	server *httptest.Server
	db     *sql.DB
	mr     *miniredis.Miniredis
	blobs  *fakeBlobStore
	secret []byte
	cancel context.CancelFunc
}

func testConfig(t *testing.T) *Config {
	config, err := (&DefaultConfigLoader{}).Load()
	require.NoError(t, err)
	config.LogLevel = "error"
	return config
}

// newAppFixture serves the app over httptest with an in-memory database and miniredis.
func newAppFixture(t *testing.T, opts ...Option) *AppFixture {
	ctx, cancel := context.WithCancel(context.Background())

	db, err := sql.Open("sqlite3", "file:"+uuid.New().String()+"?mode=memory&cache=shared&_foreign_keys=1")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	require.NoError(t, core.Migrate(db, migrations.FS))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	blobs := &fakeBlobStore{objects: make(map[string][]byte)}
	config := testConfig(t)

	opts = append([]Option{
		WithDB(db),
		WithRedis(rdb),
		WithBlobStore(blobs),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	app, err := New(ctx, config, opts...)
	require.NoError(t, err)

	f := &AppFixture{
		t:      t,
		ctx:    ctx,
		app:    app,
		server: httptest.NewServer(app.Handler()),
		db:     db,
		mr:     mr,
		blobs:  blobs,
		secret: []byte(config.Auth.Secret),
		cancel: cancel,
	}
	t.Cleanup(func() {
		f.server.Close()
		closeCtx, closeCancel := context.WithTimeout(context.Background(), baseTimeout)
		defer closeCancel()
		f.app.Shutdown(closeCtx)
		cancel()
		rdb.Close()
		db.Close()
	})

	for _, u := range []core.User{alice, bob, carol} {
		_, err := app.userStore.CreateUser(ctx, u)
		require.NoError(t, err)
	}
	return f
}

func (f *AppFixture) token(u core.User) string {
	token, _, err := core.NewToken(core.UserWithoutSecrets{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName},
		time.Hour, f.secret)
	require.NoError(f.t, err)
	return token
}

func (f *AppFixture) privateRoom(a, b core.User) *core.Room {
	room, err := f.app.chatStore.CreatePrivateRoom(f.ctx, a.ID, b.ID)
	require.NoError(f.t, err)
	return room
}

// do sends a request as the user. A zero user sends it without a token.
func (f *AppFixture) do(method, path string, u core.User, body any) *http.Response {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(f.t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.server.URL+path, r)
	require.NoError(f.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if u.ID != "" {
		req.Header.Set("Authorization", "Bearer "+f.token(u))
	}
	res, err := f.server.Client().Do(req)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { res.Body.Close() })
	return res
}

func decodeResponse[T any](t *testing.T, res *http.Response) T {
	var v T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&v))
	return v
}

type wsClient struct {
	t      *testing.T
	conn   *websocket.Conn
	events chan *core.Event
}

// dial opens a websocket as the user. The token goes in the query string like browsers send it.
func (f *AppFixture) dial(u core.User) *wsClient {
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?token=" + f.token(u)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(f.t, err)

	c := &wsClient{t: f.t, conn: conn, events: make(chan *core.Event, 64)}
	go func() {
		defer close(c.events)
		for {
			var e core.Event
			if err := conn.ReadJSON(&e); err != nil {
				return
			}
			c.events <- &e
		}
	}()
	f.t.Cleanup(func() { conn.Close() })
	return c
}

func (c *wsClient) emit(t string, ack int, payload any) {
	b, err := json.Marshal(payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(map[string]any{"type": t, "ack": ack, "payload": json.RawMessage(b)}))
}

// expect skips events until one of type t arrives.
func (c *wsClient) expect(t string) *core.Event {
	timeout := time.After(baseTimeout)
	for {
		select {
		case e, ok := <-c.events:
			if !ok {
				c.t.Fatalf("connection closed while waiting for %s", t)
			}
			if e.Type == t {
				return e
			}
		case <-timeout:
			c.t.Fatalf("timed out waiting for %s", t)
		}
	}
}

// ack waits for the answer to the event with the ack id and returns its error text.
func (c *wsClient) ack(id int) *string {
	timeout := time.After(baseTimeout)
	for {
		select {
		case e, ok := <-c.events:
			if !ok {
				c.t.Fatalf("connection closed while waiting for ack %d", id)
			}
			if e.Type != core.AckEvent || e.Ack != id {
				continue
			}
			var payload core.AckPayload
			require.NoError(c.t, json.Unmarshal(e.Payload, &payload))
			return payload.Error
		case <-timeout:
			c.t.Fatalf("timed out waiting for ack %d", id)
		}
	}
}

func (c *wsClient) join(u core.User, roomID string) {
	c.emit(core.JoinEvent, 100, JoinPayload{DisplayName: u.DisplayName, RoomID: roomID, UserID: u.ID})
	require.Nil(c.t, c.ack(100))
}
