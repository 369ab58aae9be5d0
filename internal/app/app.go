package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/groupchat-server/internal/auth"
	"github.com/vovakirdan/groupchat-server/internal/config"
	"github.com/vovakirdan/groupchat-server/internal/core"
	applog "github.com/vovakirdan/groupchat-server/internal/log"
	"github.com/vovakirdan/groupchat-server/internal/store"
	"github.com/vovakirdan/groupchat-server/internal/store/badgerstore"
	"github.com/vovakirdan/groupchat-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/groupchat-server/internal/transport/http"
)

const tokenTTL = 24 * time.Hour

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	closers         []namedCloser
	log             *zerolog.Logger
}

type namedCloser struct {
	name  string
	close func() error
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	a := &App{
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             logger,
	}

	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, namedCloser{"sqlite", st.Close})
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	var messages store.MessageStore = st
	if cfg.HistoryBackend == config.BackendBadger {
		history, err := badgerstore.New(cfg.BadgerPath, applog.Component(logger, "badger"))
		if err != nil {
			a.cleanup()
			return nil, fmt.Errorf("init badger history: %w", err)
		}
		a.closers = append(a.closers, namedCloser{"badger", history.Close})
		messages = history
		logger.Info().Str("badger_path", cfg.BadgerPath).Msg("message history stored in badger")
	}

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      tokenTTL,
	})

	a.hub = core.NewHub(st, messages, core.Options{
		HistoryLimit:  cfg.HistoryLimit,
		SendQueueSize: cfg.SendQueueSize,
	}, applog.Component(logger, "hub"))
	a.server = transporthttp.NewServer(a.hub, authService, st, messages, cfg, applog.Component(logger, "http"))

	return a, nil
}

// OpenStore opens the SQLite database and applies the schema.
func OpenStore(ctx context.Context, cfg *config.Config) (*sqlite.SQLiteStore, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() stdhttp.Handler {
	return a.server.Handler
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go a.hub.Run(hubCtx)

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		// Shutdown does not wait for hijacked sockets; the hub closes them.
		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes stores in reverse order of opening.
func (a *App) cleanup() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.log.Warn().Err(err).Str("store", c.name).Msg("failed to close store")
		} else {
			a.log.Info().Str("store", c.name).Msg("store closed")
		}
	}
	a.closers = nil
}
