package serval

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/servalsync/internal/config"
	"github.com/dgnsrekt/servalsync/internal/feed"
	"github.com/dgnsrekt/servalsync/internal/feeds"
	"github.com/dgnsrekt/servalsync/internal/relay"
	"github.com/dgnsrekt/servalsync/internal/store"
)

// fakeDaemon serves one feed, ABC, whose second message appears once
// publish is set.
type fakeDaemon struct {
	publish  atomic.Bool
	requests atomic.Int32
}

func (d *fakeDaemon) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.requests.Add(1)
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/restful/meshmb/ABC/messagelist.json":
		_, _ = w.Write([]byte(`{"name":"alice","has_more":false,
			"header":["token","offset","author","text","timestamp"],
			"rows":[["tok1",1,"ABC","first",1700000000]]}`))
	case "/restful/meshmb/ABC/newsince/tok1/messagelist.json":
		if !d.publish.Load() {
			_, _ = w.Write([]byte(`{"header":["token","offset"],"rows":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"name":"alice","header":["token","offset","text"],"rows":[["tok2",2,"second"]]}`))
	case "/restful/meshmb/ABC/newsince/tok2/messagelist.json":
		_, _ = w.Write([]byte(`{"header":["token","offset"],"rows":[]}`))
	case "/restful/rhizome/bundlelist.json":
		_, _ = w.Write([]byte(`{"header":["token","id","version"],"rows":[["b1","B1",1]]}`))
	default:
		_, _ = w.Write([]byte(`{"header":["token","id","version"],"rows":[]}`))
	}
}

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		Daemon: config.DaemonConfig{
			BaseURL:       baseURL,
			Username:      "pum",
			TimeoutSec:    5,
			RetryCount:    0,
			RetryDelayMs:  10,
			RatePerSecond: 1000,
		},
		Worker: config.WorkerConfig{Workers: 2, QueueSize: 16, FullPolicy: "reject"},
		Loops:  config.LoopsConfig{QueueSize: 64},
		Sync:   config.SyncConfig{PollInterval: 20 * time.Millisecond},
		Store:  config.StoreConfig{Backend: "none"},
	}
}

func TestApp_CollectionResolution(t *testing.T) {
	app, err := New(testConfig("http://127.0.0.1:1"), zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = app.Close() }()

	c, err := app.Collection("peers")
	require.NoError(t, err)
	assert.Equal(t, feeds.PeersCollection, c.Name())

	c, err = app.Collection("rhizome/bundles")
	require.NoError(t, err)
	assert.Equal(t, feeds.BundleCollection, c.Name())

	c, err = app.Collection("meshmb/ABC")
	require.NoError(t, err)
	assert.Equal(t, "meshmb/ABC", c.Name())

	again, err := app.Feed("ABC")
	require.NoError(t, err)
	assert.Same(t, c, feed.Collection(again))

	for _, bad := range []string{"meshmb/", "meshmb/a/b", "rhizome", ""} {
		_, err := app.Collection(bad)
		assert.ErrorIs(t, err, relay.ErrUnknownCollection, bad)
	}

	assert.Equal(t, []string{"meshmb/ABC", "peers", "rhizome/bundles"}, app.Collections())
}

func TestApp_FollowsFeedAndPersistsToken(t *testing.T) {
	daemon := &fakeDaemon{}
	srv := httptest.NewServer(daemon)
	defer srv.Close()

	dir := t.TempDir()
	logger, _ := zap.NewDevelopment()
	app, err := New(testConfig(srv.URL), logger, WithTokenStore(store.NewFile(dir)))
	require.NoError(t, err)

	f, err := app.Feed("ABC")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, app.Start(ctx))

	require.Eventually(t, f.Loaded, 2*time.Second, 10*time.Millisecond)
	peer, ok := app.Peers().Get("ABC")
	require.True(t, ok)
	assert.Equal(t, "alice", peer.FeedName)

	daemon.publish.Store(true)
	require.Eventually(t, func() bool { return f.Len() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, feed.Token("tok2"), f.Last())

	require.NoError(t, app.Close())
	assert.True(t, f.Disposed())

	_, err = app.Feed("DEF")
	assert.ErrorIs(t, err, ErrClosed)

	tok, ok, err := store.NewFile(dir).LoadToken(context.Background(), "meshmb/ABC")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, feed.Token("tok2"), tok)
}

func TestApp_FeedCreatedAfterStartLoads(t *testing.T) {
	srv := httptest.NewServer(&fakeDaemon{})
	defer srv.Close()

	app, err := New(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, app.Start(ctx))
	defer func() { _ = app.Close() }()

	b, err := app.Bundles()
	require.NoError(t, err)
	require.Eventually(t, func() bool { return b.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	app, err := New(testConfig("http://127.0.0.1:1"), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.ErrorIs(t, app.Start(context.Background()), ErrClosed)
}

func TestNew_RejectsBadPolicy(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Worker.FullPolicy = "drop"
	_, err := New(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestNew_OpensConfiguredStore(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Store = config.StoreConfig{Backend: "sqlite", Path: filepath.Join(t.TempDir(), "tokens.db")}

	app, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &store.SQLite{}, app.tokens)
	require.NoError(t, app.Close())
}

func TestApp_ResumeIsOptIn(t *testing.T) {
	srv := httptest.NewServer(&fakeDaemon{})
	defer srv.Close()

	dir := t.TempDir()
	require.NoError(t, store.NewFile(dir).SaveToken(context.Background(), "meshmb/ABC", "tok1"))

	open := func(resume bool) *feeds.MessageFeed {
		cfg := testConfig(srv.URL)
		cfg.Sync.Resume = resume
		app, err := New(cfg, zap.NewNop(), WithTokenStore(store.NewFile(dir)))
		require.NoError(t, err)
		t.Cleanup(func() { _ = app.Close() })

		f, err := app.Feed("ABC")
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		require.NoError(t, app.Start(ctx))
		require.Eventually(t, f.Loaded, 2*time.Second, 10*time.Millisecond)
		return f
	}

	// History is re-read even though a token is on disk.
	fresh := open(false)
	assert.Equal(t, 1, fresh.Len())
	assert.Equal(t, "first", fresh.Items()[0].Text)

	// Resuming only follows what is newer than the saved token.
	resumed := open(true)
	assert.Equal(t, 0, resumed.Len())
	assert.Equal(t, feed.Token("tok1"), resumed.Last())
}
