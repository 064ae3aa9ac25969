package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/putto11262002/lobby/core")

// Flusher moves buffered messages into the message store.
type Flusher struct {
	buffer RoomBuffer
	store  ChatStore
	locks  *RoomLocks
	logger *slog.Logger
}

func NewFlusher(buffer RoomBuffer, store ChatStore, locks *RoomLocks, logger *slog.Logger) *Flusher {
	return &Flusher{
		buffer: buffer,
		store:  store,
		locks:  locks,
		logger: logger.With(slog.String("component", "flusher")),
	}
}

// Flush saves every buffered message of the room and then drops them from the buffer.
// When saving fails the buffer is left untouched so a later flush retries the same
// messages. Saving is an upsert by message id, so retries never duplicate messages.
// It returns the number of messages flushed.
func (f *Flusher) Flush(ctx context.Context, kind RoomKind, roomID string) (int, error) {
	ctx, span := tracer.Start(ctx, "Flusher.Flush")
	defer span.End()
	span.SetAttributes(attribute.String("room.id", roomID), attribute.String("room.kind", string(kind)))

	unlock := f.locks.Lock(roomID)
	defer unlock()

	start := time.Now()
	n, err := f.flush(ctx, kind, roomID)
	flushDuration.Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		flushes.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		f.logger.Error("flush failed, buffer kept for retry",
			slog.String("room", roomID), slog.String("error", err.Error()))
	case n == 0:
		flushes.WithLabelValues("empty").Inc()
	default:
		flushes.WithLabelValues("ok").Inc()
		flushedMessages.Add(float64(n))
		f.logger.Debug("flushed room", slog.String("room", roomID), slog.Int("messages", n))
	}
	span.SetAttributes(attribute.Int("messages", n))
	return n, err
}

func (f *Flusher) flush(ctx context.Context, kind RoomKind, roomID string) (int, error) {
	msgs, err := f.buffer.List(ctx, kind, roomID)
	if err != nil {
		return 0, fmt.Errorf("List: %w", err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	if err := f.store.SaveMessages(ctx, roomID, msgs); err != nil {
		return 0, fmt.Errorf("SaveMessages: %w", err)
	}

	// saved; until the trim succeeds the messages are in the buffer and the store
	if err := f.buffer.Trim(ctx, kind, roomID, len(msgs)); err != nil {
		return len(msgs), fmt.Errorf("Trim: %w", err)
	}
	return len(msgs), nil
}

// FlushAll flushes every room that has buffered messages. A failing room does not
// stop the others. It returns the number of messages flushed.
func (f *Flusher) FlushAll(ctx context.Context) (int, error) {
	rooms, err := f.buffer.Rooms(ctx)
	if err != nil {
		return 0, fmt.Errorf("Rooms: %w", err)
	}
	var (
		total  int
		failed int
	)
	for _, room := range rooms {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		n, err := f.Flush(ctx, room.Kind, room.ID)
		total += n
		if err != nil {
			failed++
		}
	}
	if failed > 0 {
		return total, fmt.Errorf("%d of %d rooms failed to flush", failed, len(rooms))
	}
	return total, nil
}

// DefaultFlushCron runs the flush sweep every minute.
const DefaultFlushCron = "* * * * *"

// FlushScheduler runs FlushAll on a cron schedule so rooms whose users never
// disconnect or reopen history still reach the message store.
type FlushScheduler struct {
	flusher  *Flusher
	cronExpr string
	logger   *slog.Logger
}

func NewFlushScheduler(flusher *Flusher, cronExpr string, logger *slog.Logger) (*FlushScheduler, error) {
	if cronExpr == "" {
		cronExpr = DefaultFlushCron
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid flush cron expression: %s", cronExpr)
	}
	return &FlushScheduler{
		flusher:  flusher,
		cronExpr: cronExpr,
		logger:   logger.With(slog.String("component", "flush_scheduler")),
	}, nil
}

// Run blocks until ctx is done, sweeping on every tick of the schedule.
func (s *FlushScheduler) Run(ctx context.Context) {
	s.logger.Info("flush scheduler started", slog.String("cron", s.cronExpr))
	for {
		next, err := gronx.NextTickAfter(s.cronExpr, time.Now(), false)
		if err != nil {
			s.logger.Error("computing next flush tick", slog.String("error", err.Error()))
			next = time.Now().Add(time.Minute)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("flush scheduler stopped")
			return
		case <-time.After(time.Until(next)):
		}

		n, err := s.flusher.FlushAll(ctx)
		if err != nil {
			s.logger.Error("flush sweep", slog.String("error", err.Error()), slog.Int("messages", n))
			continue
		}
		if n > 0 {
			s.logger.Info("flush sweep", slog.Int("messages", n))
		}
	}
}
