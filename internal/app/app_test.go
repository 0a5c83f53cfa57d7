package app

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketbot/internal/config"
	"marketbot/internal/db"
	"marketbot/internal/gateway"
	"marketbot/internal/jobs"
	"marketbot/internal/migrate"
	"marketbot/internal/scheduler"
)

type fakeSession struct {
	ready   chan struct{}
	handler gateway.Handler
	opened  atomic.Bool
	closed  atomic.Bool
}

func (s *fakeSession) Open(context.Context) error { s.opened.Store(true); return nil }
func (s *fakeSession) Close() error               { s.closed.Store(true); return nil }
func (s *fakeSession) Ready() <-chan struct{}     { return s.ready }

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))
	t.Cleanup(func() { conn.Close() })
	return conn
}

func newTestApp(t *testing.T, cfg *config.Config) (*App, *fakeSession) {
	t.Helper()
	sess := &fakeSession{ready: make(chan struct{})}
	a, err := New(Options{
		DB:     openDB(t),
		Config: cfg,
		Logger: zerolog.Nop(),
		Session: func(h gateway.Handler) (Session, error) {
			sess.handler = h
			return sess, nil
		},
	})
	require.NoError(t, err)
	return a, sess
}

func TestRunStartsJobsAfterReadyAndStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.HTTP.Addr = ""
	a, sess := newTestApp(t, cfg)
	require.Same(t, a.Router, sess.handler)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, sess.opened.Load, time.Second, 5*time.Millisecond)
	assert.Empty(t, a.Scheduler.Status(), "jobs must wait for the session")

	close(sess.ready)
	require.Eventually(t, func() bool { return len(a.Scheduler.Status()) == len(jobs.Names) }, time.Second, 5*time.Millisecond)
	for i, st := range a.Scheduler.Status() {
		assert.Equal(t, jobs.Names[i], st.Name)
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	assert.True(t, sess.closed.Load())
	_, err := a.Scheduler.RunNow(jobs.NameActivation)
	assert.ErrorIs(t, err, scheduler.ErrStopped)
}

func TestRunReturnsWhenCancelledBeforeReady(t *testing.T) {
	cfg := config.Default()
	cfg.HTTP.Addr = ""
	a, sess := newTestApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.Run(ctx))
	assert.True(t, sess.closed.Load())
	assert.Empty(t, a.Scheduler.Status())
}

func TestNewRejectsMissingSchedule(t *testing.T) {
	cfg := config.Default()
	delete(cfg.Jobs, jobs.NameExpiration)
	_, err := New(Options{
		DB:     openDB(t),
		Config: cfg,
		Logger: zerolog.Nop(),
		Session: func(gateway.Handler) (Session, error) {
			return &fakeSession{ready: make(chan struct{})}, nil
		},
	})
	require.ErrorContains(t, err, jobs.NameExpiration)
}

func TestResolveConfigAppliesOverrides(t *testing.T) {
	dir := t.TempDir()
	cfg, err := ResolveConfig(dir, Overrides{DiscordToken: "tok", JWTSecret: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, "tok", cfg.Discord.Token)
	assert.Equal(t, "s3cret", cfg.HTTP.JWTSecret)
	assert.Equal(t, "info", cfg.Log.Level)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "marketbot.yml"), []byte("log:\n  level: debug\n"), 0o644))
	cfg, err = ResolveConfig(dir, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "marketbot.yml"), []byte("jobs:\n  nightly: \"@daily\"\n"), 0o644))
	_, err = ResolveConfig(dir, Overrides{})
	require.ErrorContains(t, err, "unknown job")
}
