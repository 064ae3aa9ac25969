package core

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 << 10
)

// ConnManager upgrades requests to websocket connections, keeps track of them per user
// and implements EventTransport on top of them.
type ConnManager struct {
	conns   map[string][]*Conn
	byID    map[string]*Conn
	mu      sync.RWMutex
	connWg  *sync.WaitGroup
	context context.Context
	logger  *slog.Logger

	onConnectionOpened func(*Conn)
	onConnectionClosed func(*Conn)

	dispatch func(context.Context, *Event)

	upgrader        websocket.Upgrader
	eventRate       rate.Limit
	eventBurst      int
	WriteStreamSize int
}

var defaultUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type ManagerOption func(*ConnManager)

func WithCheckOrigin(f func(r *http.Request) bool) ManagerOption {
	return func(m *ConnManager) {
		m.upgrader.CheckOrigin = f
	}
}

// WithRateLimit caps the inbound events of each connection. A zero limit disables it.
func WithRateLimit(limit rate.Limit, burst int) ManagerOption {
	return func(m *ConnManager) {
		m.eventRate = limit
		m.eventBurst = burst
	}
}

func WithWriteStreamSize(size int) ManagerOption {
	return func(m *ConnManager) {
		if size > 0 {
			m.WriteStreamSize = size
		}
	}
}

func NewConnManager(ctx context.Context, wg *sync.WaitGroup, logger *slog.Logger, opts ...ManagerOption) *ConnManager {

	m := &ConnManager{
		connWg:             wg,
		conns:              make(map[string][]*Conn),
		byID:               make(map[string]*Conn),
		logger:             logger,
		context:            ctx,
		upgrader:           defaultUpgrader,
		WriteStreamSize:    100,
		onConnectionOpened: func(*Conn) {},
		onConnectionClosed: func(*Conn) {},
		dispatch:           func(context.Context, *Event) {},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *ConnManager) OnConnectionOpened(f func(*Conn)) {
	m.onConnectionOpened = f
}

func (m *ConnManager) OnConnectionClosed(f func(*Conn)) {
	m.onConnectionClosed = f
}

// OnEvent sets the function every inbound event is dispatched to.
func (m *ConnManager) OnEvent(f func(context.Context, *Event)) {
	m.dispatch = f
}

func (m *ConnManager) IsUserConnected(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.conns[userID]
	return ok
}

// ConnIDs returns the ids of all open connections.
func (m *ConnManager) ConnIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.byID))
	for id := range m.byID {
		ids = append(ids, id)
	}
	return ids
}

func (m *ConnManager) Connect(userID string, w http.ResponseWriter, r *http.Request) error {

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied with an error
		return err
	}

	id := uuid.New().String()
	wsConn := &Conn{
		userID:      userID,
		id:          id,
		conn:        conn,
		context:     m.context,
		writeStream: make(chan *Event, m.WriteStreamSize),
		dispatch:    m.dispatch,
		ticker:      time.NewTicker(pingPeriod),
		logger:      m.logger.With(slog.String("connection", id), slog.String("user", userID)),
		notifyDisconnect: func() {
			m.disconnect(id)
		},
	}
	wsConn.reply = func(e *Event) {
		m.SendToConns(e, id)
	}
	if m.eventRate > 0 {
		wsConn.limiter = rate.NewLimiter(m.eventRate, m.eventBurst)
	}

	m.mu.Lock()
	m.conns[userID] = append(m.conns[userID], wsConn)
	m.byID[id] = wsConn
	m.mu.Unlock()
	wsConnections.Inc()

	m.onConnectionOpened(wsConn)

	m.connWg.Add(1)
	go func() {
		defer m.connWg.Done()
		wsConn.readLoop()
	}()
	m.connWg.Add(1)
	go func() {
		defer m.connWg.Done()
		wsConn.writeLoop()
	}()

	return nil
}

func (m *ConnManager) disconnect(id string) {
	m.mu.Lock()
	c, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.byID, id)
	conns := slices.DeleteFunc(m.conns[c.userID], func(other *Conn) bool { return other.id == id })
	if len(conns) == 0 {
		delete(m.conns, c.userID)
	} else {
		m.conns[c.userID] = conns
	}
	c.close()
	m.mu.Unlock()
	wsConnections.Dec()

	m.onConnectionClosed(c)
}

// Close closes every connection. Their close callbacks run as their read loops exit.
func (m *ConnManager) Close() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.byID {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
		c.conn.Close()
	}
}

func (m *ConnManager) Send(e *Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, conn := range m.byID {
		conn.trySend(e)
	}
}

func (m *ConnManager) SendToUsers(e *Event, userIDs ...string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range userIDs {
		for _, conn := range m.conns[u] {
			conn.trySend(e)
		}
	}
}

func (m *ConnManager) SendToConns(e *Event, connIDs ...string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range connIDs {
		if conn, ok := m.byID[id]; ok {
			conn.trySend(e)
		}
	}
}
