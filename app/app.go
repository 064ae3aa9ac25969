package lobby

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/putto11262002/lobby/core"
	"github.com/putto11262002/lobby/migrations"
	"github.com/putto11262002/lobby/pkg/blob"
	"github.com/putto11262002/lobby/pkg/notify"
	"github.com/putto11262002/lobby/pkg/router"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config      *Config
	context     context.Context
	server      *http.Server
	logger      *slog.Logger
	router      *router.Router
	eventRouter *core.EventRouter
	wsManager   *core.ConnManager

	db        *sql.DB
	rdb       redis.UniversalClient
	userStore core.UserStore
	chatStore core.ChatStore
	presence  core.Presence
	blobs     core.BlobStore
	notifier  core.NotificationSink
	relay     *core.Relay
	scheduler *core.FlushScheduler

	chatHandler *ChatHandler
	userHandler *UserHandler
	authHandler *AuthHandler

	cleanupFuncs []func(context.Context)

	// open websocket connections
	wg sync.WaitGroup
}

type Option func(*App)

// WithDB uses an already migrated database instead of opening sqlite.file.
func WithDB(db *sql.DB) Option {
	return func(a *App) {
		a.db = db
	}
}

func WithRedis(rdb redis.UniversalClient) Option {
	return func(a *App) {
		a.rdb = rdb
	}
}

func WithBlobStore(blobs core.BlobStore) Option {
	return func(a *App) {
		a.blobs = blobs
	}
}

func WithNotificationSink(sink core.NotificationSink) Option {
	return func(a *App) {
		a.notifier = sink
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *App) {
		a.logger = logger
	}
}

// NewLogger returns the text logger used by the server and the admin commands.
func NewLogger(w io.Writer, level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				source, _ := a.Value.Any().(*slog.Source)
				if source != nil {
					source.File = filepath.Base(source.File)
				}
			}
			return a
		},
	}))
}

// OpenDB opens and migrates the sqlite database.
func OpenDB(config *Config) (*sql.DB, error) {
	db, err := core.NewSQLiteDB(config.SQLite.File, migrations.FS, &core.SQLiteDBOption{
		Mode:        "rwc",
		Cache:       "shared",
		JournalMode: "WAL",
		BusyTimeout: 5000,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db.DB, nil
}

// OpenRedis connects to redis and checks the connection.
func OpenRedis(ctx context.Context, config *Config) (redis.UniversalClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// New wires the relay from the config. Collaborators given as options are used as they are
// and are not closed on shutdown.
func New(ctx context.Context, config *Config, opts ...Option) (*App, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.New(FormatValidationErrors(err))
	}
	app := &App{config: config, context: ctx}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		app.logger = NewLogger(os.Stdout, config.LogLevel)
	}
	if err := app.init(ctx); err != nil {
		for _, f := range slices.Backward(app.cleanupFuncs) {
			f(ctx)
		}
		return nil, err
	}
	return app, nil
}

func (app *App) init(ctx context.Context) error {
	config := app.config
	shutdownTracing, err := initTracing(ctx, config)
	if err != nil {
		return err
	}
	app.AddCleanupFunc(func(ctx context.Context) {
		shutdownTracing(ctx)
	})

	if app.db == nil {
		if app.db, err = OpenDB(config); err != nil {
			return err
		}
		app.AddCleanupFunc(func(ctx context.Context) {
			app.db.Close()
		})
	}

	if app.rdb == nil {
		if app.rdb, err = OpenRedis(ctx, config); err != nil {
			return err
		}
		app.AddCleanupFunc(func(ctx context.Context) {
			app.rdb.Close()
		})
	}

	switch config.Presence.Backend {
	case RedisPresence:
		app.presence = core.NewRedisPresence(app.rdb, config.Presence.TTL)
	default:
		app.presence = core.NewMemoryPresence()
	}

	if app.blobs == nil {
		app.blobs = core.NopBlobStore{}
		if config.Blob.Endpoint != "" {
			store, err := blob.New(config.Blob)
			if err != nil {
				return fmt.Errorf("blob store: %w", err)
			}
			if err := store.EnsureBucket(ctx); err != nil {
				return fmt.Errorf("blob store: %w", err)
			}
			app.blobs = store
		}
	}

	if app.notifier == nil {
		app.notifier = core.LogSink{Logger: app.logger}
		if len(config.Kafka.Brokers) > 0 {
			sink := notify.NewKafkaSink(config.Kafka.Brokers, config.Kafka.Topic)
			app.notifier = sink
			app.AddCleanupFunc(func(ctx context.Context) {
				if err := sink.Close(); err != nil {
					app.logger.Error("closing kafka writer", slog.String("error", err.Error()))
				}
			})
		}
	}

	userStore := core.NewSQLiteUserStore(app.db)
	app.userStore = userStore
	app.chatStore = core.NewSQLiteChatStore(app.db)

	app.wsManager = core.NewConnManager(ctx, &app.wg, app.logger,
		core.WithCheckOrigin(app.checkOrigin),
		core.WithRateLimit(rate.Limit(config.WS.Rate), config.WS.Burst),
		core.WithWriteStreamSize(config.WS.WriteStreamSize))
	app.eventRouter = core.NewEventRouter(app.logger, app.wsManager)
	app.wsManager.OnEvent(app.eventRouter.Dispatch)
	app.wsManager.OnConnectionOpened(app.onConnectionOpened)
	app.wsManager.OnConnectionClosed(app.onConnectionClosed)

	app.relay = core.NewRelay(core.RelayOptions{
		Presence: app.presence,
		Buffer:   core.NewRedisRoomBuffer(app.rdb),
		Store:    app.chatStore,
		Users:    userStore,
		Blobs:    app.blobs,
		Notifier: app.notifier,
		Emitter:  app.eventRouter,
		Logger:   app.logger,
	})
	app.registerEvents()

	app.scheduler, err = core.NewFlushScheduler(app.relay.Flusher(), config.Flush.Cron, app.logger)
	if err != nil {
		return err
	}

	app.chatHandler = NewChatHandler(app.relay, app.chatStore, app.userStore, app.blobs)
	app.userHandler = NewUserHandler(app.userStore)
	app.authHandler = NewAuthHandler(app.userStore, []byte(config.Auth.Secret), config.Auth.TokenTTL,
		config.TLS.Crt != "")
	app.routes()

	app.server = &http.Server{
		Addr:    config.Addr(),
		Handler: app.Handler(),
		BaseContext: func(listener net.Listener) context.Context {
			return app.context
		},
	}
	if app.config.Mode == ProdMode {
		app.server.TLSConfig = serverTLSConfig()
	}

	return nil
}

func (app *App) routes() {
	secret := []byte(app.config.Auth.Secret)
	authMiddleware := core.JWTMiddleware(secret)

	app.router = router.New(router.WithLogger(app.logger))
	app.router.RegisterStatus(http.StatusBadRequest,
		core.ErrInvalidUser, core.ErrInvalidMessage, core.ErrEmptyMessage, core.ErrMissingAttachment,
		core.ErrInvalidScope, core.ErrInvalidPage, core.ErrJoinFieldsRequired)
	app.router.RegisterStatus(http.StatusUnauthorized, core.ErrUnauthenticated, core.ErrBadCredentials)
	app.router.RegisterStatus(http.StatusForbidden,
		core.ErrNotParticipant, core.ErrNotSender, core.ErrUnauthorized, core.ErrDisAllowedOperation)
	app.router.RegisterStatus(http.StatusNotFound, core.ErrInvalidRoom, core.ErrMessageNotFound)
	app.router.RegisterStatus(http.StatusServiceUnavailable, core.ErrBlobStoreDisabled)

	app.router.UseHTTP(cors.Handler(cors.Options{
		AllowedOrigins:   app.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	app.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) error {
		if err := app.rdb.Ping(r.Context()).Err(); err != nil {
			return router.NewJsonError(http.StatusServiceUnavailable, "redis unavailable")
		}
		if err := app.db.PingContext(r.Context()); err != nil {
			return router.NewJsonError(http.StatusServiceUnavailable, "database unavailable")
		}
		return router.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	app.router.Router.Handle("/metrics", promhttp.Handler())

	app.router.With(authMiddleware).Get("/ws", func(w http.ResponseWriter, r *http.Request) error {
		session := core.SessionFromRequest(r)
		if err := app.wsManager.Connect(session.UserID, w, r); err != nil {
			// the upgrader has already replied
			app.logger.Debug("websocket upgrade", slog.String("error", err.Error()))
		}
		return nil
	})

	app.router.Route("/api", func(api *router.Router) {
		api.Post("/auth/signin", app.authHandler.SigninHandler)
		api.Post("/auth/signout", app.authHandler.SignoutHandler)

		api.Group(func(r *router.Router) {
			r.Use(authMiddleware)
			r.Get("/users/me", app.userHandler.MeHandler)
			r.Get("/users/me/rooms", app.chatHandler.GetMyRoomsHandler)
			r.Get("/users/{userID}", app.userHandler.GetUserHandler)
			r.Post("/rooms/private", app.chatHandler.CreatePrivateRoomHandler)
			r.Post("/rooms/tribe", app.chatHandler.CreateTribeRoomHandler)
			r.Get("/rooms/{roomID}", app.chatHandler.GetRoomByIDHandler)
			r.Get("/rooms/{roomID}/messages", app.chatHandler.GetRoomMessagesHandler)
			r.Post("/rooms/{roomID}/participants", app.chatHandler.AddParticipantHandler)
			r.Delete("/rooms/{roomID}/participants/{userID}", app.chatHandler.RemoveParticipantHandler)
			r.Patch("/rooms/{roomID}/seen", app.chatHandler.MarkRoomSeenHandler)
			r.Delete("/rooms/{roomID}/conversation", app.chatHandler.ClearConversationHandler)
			r.Post("/uploads", app.chatHandler.UploadHandler)
		})
	})
}

// Handler is the instrumented HTTP handler of the app.
func (app *App) Handler() http.Handler {
	return otelhttp.NewHandler(app.router, "lobby",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/healthz" && r.URL.Path != "/metrics"
		}))
}

// checkOrigin accepts requests without an Origin header and origins listed in AllowedOrigins.
func (app *App) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(app.config.AllowedOrigins, "*") {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range app.config.AllowedOrigins {
		if strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

// heartbeat keeps the redis presence entries of this instance's connections alive.
func (app *App) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(app.config.Presence.TTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := app.presence.Refresh(ctx, app.wsManager.ConnIDs()...); err != nil {
				app.logger.Error("refreshing presence", slog.String("error", err.Error()))
			}
		}
	}
}

// Start serves until the app context is done, then drains connections, flushes every
// buffered room and runs the cleanup functions.
func (app *App) Start() error {
	go app.scheduler.Run(app.context)
	if app.config.Presence.Backend == RedisPresence {
		go app.heartbeat(app.context)
	}

	serveErr := make(chan error, 1)
	go func() {
		app.logger.Info(fmt.Sprintf("app running in %s mode on: %s", app.config.Mode, app.config.Addr()))
		var err error
		if app.config.TLS.Key != "" && app.config.TLS.Crt != "" {
			err = app.server.ListenAndServeTLS(app.config.TLS.Crt, app.config.TLS.Key)
		} else {
			err = app.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var err error
	select {
	case <-app.context.Done():
	case err = <-serveErr:
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer closeCancel()
	if shutdownErr := app.Shutdown(closeCtx); shutdownErr != nil {
		return errors.Join(err, shutdownErr)
	}
	return err
}

// Shutdown stops the server and the websocket connections, flushes the room buffers
// and releases the collaborators the app opened.
func (app *App) Shutdown(ctx context.Context) error {
	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("server shutdown", slog.String("error", err.Error()))
	}

	app.wsManager.Close()
	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		app.relay.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.New("app shutdown timed out")
	}

	if n, flushErr := app.relay.Flusher().FlushAll(ctx); flushErr != nil {
		app.logger.Error("final flush", slog.String("error", flushErr.Error()), slog.Int("messages", n))
	}

	for _, f := range slices.Backward(app.cleanupFuncs) {
		f(ctx)
	}
	if err == nil {
		app.logger.Info("app shutdown gracefully")
	}
	return err
}

func (app *App) AddCleanupFunc(f func(context.Context)) {
	app.cleanupFuncs = append(app.cleanupFuncs, f)
}
