package http

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/groupchat-server/internal/auth"
	"github.com/vovakirdan/groupchat-server/internal/channel"
	"github.com/vovakirdan/groupchat-server/internal/config"
	"github.com/vovakirdan/groupchat-server/internal/core"
	"github.com/vovakirdan/groupchat-server/internal/store"
	"github.com/vovakirdan/groupchat-server/internal/store/sqlite"
)

const testSecret = "test-secret-change-me"

type testEnv struct {
	ts    *httptest.Server
	store *sqlite.SQLiteStore
	auth  *auth.Service
	hub   *core.Hub
	stop  context.CancelFunc
}

// createTestStore creates an in-memory SQLite store with schema applied.
func createTestStore(t *testing.T) *sqlite.SQLiteStore {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.ApplySchema)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// createTestAuthService creates an auth service for testing.
func createTestAuthService(st store.UserStore) *auth.Service {
	return auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(testSecret),
		Issuer:   "test",
		Audience: "test",
		TTL:      24 * time.Hour,
	})
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.ReadHeaderTimeout = time.Second
	cfg.ShutdownTimeout = time.Second
	cfg.WriteTimeout = time.Second
	cfg.JWTSecret = testSecret
	return cfg
}

// startTestServer runs the full HTTP stack over an in-memory store.
func startTestServer(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	st := createTestStore(t)
	authService := createTestAuthService(st)
	logger := zerolog.Nop()
	hub := core.NewHub(st, st, core.Options{
		HistoryLimit:  cfg.HistoryLimit,
		SendQueueSize: cfg.SendQueueSize,
	}, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := NewServer(hub, authService, st, st, &cfg, &logger)
	ts := httptest.NewServer(server.Handler)
	// Cleanups run in reverse: kick sessions first so ts.Close does not wait on open sockets.
	t.Cleanup(ts.Close)
	t.Cleanup(cancel)

	return &testEnv{ts: ts, store: st, auth: authService, hub: hub, stop: cancel}
}

func (e *testEnv) wsURL(path string) string {
	return strings.Replace(e.ts.URL, "http", "ws", 1) + path
}

func (e *testEnv) mustUser(t *testing.T, name string) *store.User {
	t.Helper()
	u, err := e.store.CreateUser(context.Background(), name, "")
	if err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return u
}

func (e *testEnv) mustRoom(t *testing.T, name string) *store.Room {
	t.Helper()
	r, err := e.store.CreateRoom(context.Background(), name)
	if err != nil {
		t.Fatalf("create room %s: %v", name, err)
	}
	return r
}

func (e *testEnv) mustGroup(t *testing.T, name string) *store.Group {
	t.Helper()
	g, err := e.store.CreateGroup(context.Background(), name)
	if err != nil {
		t.Fatalf("create group %s: %v", name, err)
	}
	return g
}

// waitMembers blocks until key has n registered sessions.
func (e *testEnv) waitMembers(t *testing.T, key channel.Key, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for e.hub.Registry().Size(key) != n {
		if time.Now().After(deadline) {
			t.Fatalf("channel %s: want %d members, have %d", key, n, e.hub.Registry().Size(key))
		}
		time.Sleep(5 * time.Millisecond)
	}
}
