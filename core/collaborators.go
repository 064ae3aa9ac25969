package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

var ErrBlobStoreDisabled = errors.New("blob store is not configured")

// BlobStore keeps message attachments.
type BlobStore interface {
	// Upload stores the content under a name derived from name and returns its public url.
	Upload(ctx context.Context, name, contentType string, r io.Reader, size int64) (string, error)
	// Delete removes the object behind a url returned by Upload.
	Delete(ctx context.Context, url string) error
}

// NotificationSink delivers a short text to a user outside the socket.
type NotificationSink interface {
	Push(ctx context.Context, userID, text string) error
}

// NopBlobStore is used when no blob store is configured. Deletes succeed and uploads fail.
type NopBlobStore struct{}

func (NopBlobStore) Upload(context.Context, string, string, io.Reader, int64) (string, error) {
	return "", ErrBlobStoreDisabled
}

func (NopBlobStore) Delete(context.Context, string) error {
	return nil
}

// LogSink writes notifications to the log instead of delivering them.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Push(ctx context.Context, userID, text string) error {
	if s.Logger != nil {
		s.Logger.DebugContext(ctx, "notification", slog.String("user_id", userID), slog.Int("length", len(text)))
	}
	return nil
}
