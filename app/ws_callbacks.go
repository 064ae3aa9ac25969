package lobby

import (
	"context"
	"log/slog"
	"time"

	"github.com/putto11262002/lobby/core"
)

const leaveTimeout = 10 * time.Second

func (app *App) onConnectionOpened(c *core.Conn) {
	app.logger.Debug("connection opened", slog.String("connection", c.ID()), slog.String("user", c.UserID()))
}

// onConnectionClosed leaves the connection's room, which flushes the room's buffer.
// It runs after the manager context may already be cancelled.
func (app *App) onConnectionClosed(c *core.Conn) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(app.context), leaveTimeout)
	defer cancel()
	if err := app.relay.Leave(ctx, c.ID()); err != nil {
		app.logger.Error("leave on disconnect", slog.String("connection", c.ID()), slog.String("error", err.Error()))
	}
}
