package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Conn is one websocket connection of a user.
type Conn struct {
	conn             *websocket.Conn
	context          context.Context
	userID           string
	id               string
	writeStream      chan *Event
	dispatch         func(context.Context, *Event)
	reply            func(*Event)
	limiter          *rate.Limiter
	notifyDisconnect func()
	ticker           *time.Ticker
	logger           *slog.Logger
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) UserID() string {
	return c.userID
}

func (c *Conn) close() {
	close(c.writeStream)
}

// trySend queues an event without blocking. A full write stream drops the event.
func (c *Conn) trySend(e *Event) {
	select {
	case c.writeStream <- e:
	default:
		droppedEvents.WithLabelValues("slow_consumer").Inc()
		c.logger.Warn("write stream full, dropping event", slog.String("type", e.Type))
	}
}

var errSkipFrame = errors.New("skip frame")

// nextEvent reads the next text frame. errSkipFrame means the frame was unusable but
// the connection is still healthy.
func (c *Conn) nextEvent() (*Event, error) {
	format, r, err := c.conn.NextReader()
	if err != nil {
		return nil, err
	}
	if format != websocket.TextMessage {
		c.logger.Warn("ignoring non text frame", slog.Int("format", format))
		return nil, errSkipFrame
	}

	var e Event
	if err := DecodeEvent(r, &e); err != nil {
		droppedEvents.WithLabelValues("malformed").Inc()
		c.logger.Warn("dropping malformed event", slog.String("error", err.Error()))
		return nil, errSkipFrame
	}
	e.Dispatcher = c.userID
	e.Conn = c.id
	return &e, nil
}

// allow applies the rate limit. A limited event with an ack id is answered with an error.
func (c *Conn) allow(e *Event) bool {
	if c.limiter == nil || c.limiter.Allow() {
		return true
	}
	droppedEvents.WithLabelValues("rate_limited").Inc()
	if e.Ack != 0 {
		c.reply(NewAckEvent(e.Ack, ErrRateLimited))
	}
	return false
}

func (c *Conn) readLoop() {
	c.logger.Info("read loop started")
	defer func() {
		c.notifyDisconnect()
		c.conn.Close()
		c.logger.Info("read loop stopped")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		e, err := c.nextEvent()
		switch {
		case errors.Is(err, errSkipFrame):
			continue
		case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
			c.logger.Info("peer closed the connection")
			return
		case err != nil:
			c.logger.Error(fmt.Sprintf("reading frame: %v", err))
			return
		}

		if !c.allow(e) {
			continue
		}
		c.logger.Debug(e.String())

		// one event at a time, in arrival order
		c.dispatch(c.context, e)
	}
}

// writeEvent writes e as a single text frame.
func (c *Conn) writeEvent(e *Event) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return fmt.Errorf("NextWriter: %w", err)
	}
	if err := EncodeEvent(w, e); err != nil {
		c.logger.Error(err.Error())
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("flushing frame: %w", err)
	}
	return nil
}

func (c *Conn) writeLoop() {
	c.logger.Info("write loop started")
	defer func() {
		c.ticker.Stop()
		c.conn.Close()
		c.logger.Info("write loop stopped")
	}()

	for {
		select {
		case e, ok := <-c.writeStream:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.writeEvent(e); err != nil {
				c.logger.Error(err.Error())
				return
			}
		case <-c.ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error(fmt.Sprintf("writing ping: %v", err))
				return
			}
		case <-c.context.Done():
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return
		}
	}
}
