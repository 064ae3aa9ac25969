package core

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var baseTimeout = time.Second

type wsFixture struct {
	t      *testing.T
	cancel context.CancelFunc
	connWg sync.WaitGroup
	cm     *ConnManager
	router *EventRouter
	server *httptest.Server
	opened chan *Conn
	closed chan *Conn
	conns  []*testWSClient
}

// newWSFixture serves a ConnManager whose events go through an EventRouter.
// Clients pick their user id with the user query parameter.
func newWSFixture(t *testing.T, opts ...ManagerOption) *wsFixture {
	ctx, cancel := context.WithCancel(context.Background())
	f := &wsFixture{
		t:      t,
		cancel: cancel,
		opened: make(chan *Conn, 16),
		closed: make(chan *Conn, 16),
	}
	f.cm = NewConnManager(ctx, &f.connWg, discardLogger, opts...)
	f.router = NewEventRouter(discardLogger, f.cm)
	f.cm.OnEvent(f.router.Dispatch)
	f.cm.OnConnectionOpened(func(c *Conn) { f.opened <- c })
	f.cm.OnConnectionClosed(func(c *Conn) { f.closed <- c })

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.cm.Connect(r.URL.Query().Get("user"), w, r)
	}))
	return f
}

func (f *wsFixture) tearDown() {
	for _, c := range f.conns {
		c.conn.Close()
	}
	f.cancel()
	f.cm.Close()
	waitOrTimeout(f.t, f.connWg.Wait, baseTimeout, "timeout waiting for connection loops to stop")
	f.server.Close()
}

// connect dials the server as the user and waits until the manager tracks the connection.
func (f *wsFixture) connect(userID string) (*testWSClient, *Conn) {
	url := strings.Replace(f.server.URL, "http://", "ws://", 1) + "?user=" + userID
	conn, res, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(f.t, err)
	require.Equal(f.t, http.StatusSwitchingProtocols, res.StatusCode)

	c := &testWSClient{conn: conn, events: make(chan *Event, 64), done: make(chan struct{})}
	go c.readLoop()
	f.conns = append(f.conns, c)

	select {
	case sc := <-f.opened:
		return c, sc
	case <-time.After(baseTimeout):
		f.t.Fatal("timeout waiting for the connection to open")
	}
	return nil, nil
}

func (f *wsFixture) waitClosed() *Conn {
	select {
	case c := <-f.closed:
		return c
	case <-time.After(baseTimeout):
		f.t.Fatal("timeout waiting for the connection to close")
	}
	return nil
}

type testWSClient struct {
	conn   *websocket.Conn
	events chan *Event
	// done is closed when the connection stops reading.
	done chan struct{}
}

func (c *testWSClient) readLoop() {
	defer close(c.done)
	for {
		var e Event
		if err := c.conn.ReadJSON(&e); err != nil {
			return
		}
		c.events <- &e
	}
}

func (c *testWSClient) send(t *testing.T, e Event) {
	require.NoError(t, c.conn.WriteJSON(e))
}

func (c *testWSClient) next(t *testing.T) *Event {
	select {
	case e := <-c.events:
		return e
	case <-time.After(baseTimeout):
		t.Fatal("timeout waiting for an event")
	}
	return nil
}

// quiet fails if an event arrives within d.
func (c *testWSClient) quiet(t *testing.T, d time.Duration) {
	select {
	case e := <-c.events:
		t.Fatalf("unexpected event: %s", e)
	case <-time.After(d):
	}
}

func ackError(t *testing.T, e *Event) *string {
	require.Equal(t, AckEvent, e.Type)
	var p AckPayload
	require.NoError(t, json.Unmarshal(e.Payload, &p))
	return p.Error
}

// waitOrTimeout waits for fn to return or fails the test.
func waitOrTimeout(t *testing.T, fn func(), timeout time.Duration, s string, args ...interface{}) {
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		require.Failf(t, "timeout", s, args...)
	}
}
