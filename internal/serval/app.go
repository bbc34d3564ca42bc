// Package serval wires the daemon client, execution loops, worker pool and
// token store into the lists an application follows.
package serval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/dgnsrekt/servalsync/internal/api"
	"github.com/dgnsrekt/servalsync/internal/config"
	"github.com/dgnsrekt/servalsync/internal/dispatch"
	"github.com/dgnsrekt/servalsync/internal/feed"
	"github.com/dgnsrekt/servalsync/internal/feeds"
	"github.com/dgnsrekt/servalsync/internal/relay"
	"github.com/dgnsrekt/servalsync/internal/store"
	"github.com/dgnsrekt/servalsync/internal/worker"
)

const feedPrefix = "meshmb/"

// ErrClosed is returned by operations on a closed App.
var ErrClosed = errors.New("app closed")

// App owns every shared resource. Lists are created lazily and live until
// Close.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	client     api.Client
	tokens     store.TokenStore
	pool       *worker.Pool
	ui         *dispatch.Loop
	background *dispatch.Loop
	peers      *feeds.Peers

	mu      sync.Mutex
	feeds   map[string]*feeds.MessageFeed
	bundles *feeds.BundleList
	runCtx  context.Context
	cancel  context.CancelFunc
	started bool
	closed  bool
	wg      sync.WaitGroup
}

// Option customises New.
type Option func(*App)

// WithClient replaces the HTTP daemon client.
func WithClient(c api.Client) Option {
	return func(a *App) { a.client = c }
}

// WithTokenStore replaces the configured token store.
func WithTokenStore(s store.TokenStore) Option {
	return func(a *App) { a.tokens = s }
}

// New builds an App from cfg. Nothing runs until Start.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	policy, err := worker.ParsePolicy(cfg.Worker.FullPolicy)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:    cfg,
		logger: logger,
		feeds:  make(map[string]*feeds.MessageFeed),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.client == nil {
		a.client = api.NewClient(
			cfg.Daemon.BaseURL,
			cfg.Daemon.Username,
			cfg.Daemon.Password,
			cfg.Daemon.RatePerSecond,
			cfg.Daemon.RetryDelay(),
			cfg.Daemon.RetryCount,
			logger,
		)
	}
	if a.tokens == nil {
		tokens, err := store.Open(cfg.Store.Backend, cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("opening token store: %w", err)
		}
		a.tokens = tokens
	}

	a.pool = worker.NewPool(cfg.Worker.Workers, cfg.Worker.QueueSize, policy, logger)
	a.ui = dispatch.NewLoop("ui", cfg.Loops.QueueSize, logger)
	a.background = dispatch.NewLoop("background", cfg.Loops.QueueSize, logger)
	a.peers = feeds.NewPeers(a.ui, logger)

	return a, nil
}

// UI returns the loop on which background observers are delivered.
func (a *App) UI() *dispatch.Loop {
	return a.ui
}

// Peers returns the peer directory.
func (a *App) Peers() *feeds.Peers {
	return a.peers
}

func (a *App) listOptions() feed.Options {
	opts := feed.Options{
		Timeout: a.cfg.Daemon.Timeout(),
		Pool:    a.pool,
		Loop:    a.ui,
		Resume:  a.cfg.Sync.Resume,
		Logger:  a.logger,
	}
	// A nil store.TokenStore must stay a nil feed.TokenStore.
	if a.tokens != nil {
		opts.Tokens = a.tokens
	}
	return opts
}

// Feed returns the message feed for id, creating it on first use. A feed
// created after Start begins loading immediately.
func (a *App) Feed(id string) (*feeds.MessageFeed, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrClosed
	}

	if f, ok := a.feeds[id]; ok {
		return f, nil
	}
	f := feeds.NewMessageFeed(a.client, id, a.peers, a.listOptions())
	a.feeds[id] = f
	a.logger.Info("following feed", zap.String("id", id))
	if a.started {
		_ = f.StartAsync(a.runCtx)
	}
	return f, nil
}

// Bundles returns the bundle list, creating it on first use.
func (a *App) Bundles() (*feeds.BundleList, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrClosed
	}

	if a.bundles == nil {
		a.bundles = feeds.NewBundleList(a.client, a.listOptions())
		if a.started {
			_ = a.bundles.StartAsync(a.runCtx)
		}
	}
	return a.bundles, nil
}

// Collection resolves a collection name: "peers", "rhizome/bundles" or
// "meshmb/<id>". Feeds and the bundle list are created on demand.
func (a *App) Collection(name string) (feed.Collection, error) {
	switch {
	case name == feeds.PeersCollection:
		return a.peers, nil
	case name == feeds.BundleCollection:
		return a.Bundles()
	case strings.HasPrefix(name, feedPrefix) && len(name) > len(feedPrefix) && !strings.Contains(name[len(feedPrefix):], "/"):
		return a.Feed(strings.TrimPrefix(name, feedPrefix))
	default:
		return nil, fmt.Errorf("%w: %s", relay.ErrUnknownCollection, name)
	}
}

// Collections returns the names of every list created so far.
func (a *App) Collections() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	names := make([]string, 0, len(a.feeds)+2)
	names = append(names, feeds.PeersCollection)
	if a.bundles != nil {
		names = append(names, feeds.BundleCollection)
	}
	for id := range a.feeds {
		names = append(names, feedPrefix+id)
	}
	sort.Strings(names)
	return names
}

type refresher interface {
	Name() string
	RefreshAsync(ctx context.Context) error
	StartAsync(ctx context.Context) error
}

func (a *App) lists() []refresher {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]refresher, 0, len(a.feeds)+1)
	if a.bundles != nil {
		out = append(out, a.bundles)
	}
	for _, f := range a.feeds {
		out = append(out, f)
	}
	return out
}

// Start launches the loops and the worker pool, starts every existing list
// and schedules polling on the background loop. It returns immediately.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if a.started {
		a.mu.Unlock()
		return nil
	}
	a.runCtx, a.cancel = context.WithCancel(ctx)
	a.started = true
	runCtx := a.runCtx
	a.mu.Unlock()

	a.pool.Start(runCtx)
	for _, l := range []*dispatch.Loop{a.ui, a.background} {
		a.wg.Add(1)
		go func(l *dispatch.Loop) {
			defer a.wg.Done()
			l.Run(runCtx)
		}(l)
	}

	for _, l := range a.lists() {
		_ = l.StartAsync(runCtx)
	}
	a.schedulePoll()

	a.logger.Info("app started",
		zap.Duration("pollInterval", a.cfg.Sync.PollInterval),
		zap.Int("workers", a.cfg.Worker.Workers),
	)
	return nil
}

func (a *App) schedulePoll() {
	interval := a.cfg.Sync.PollInterval
	if interval <= 0 {
		return
	}
	a.background.DoDelayed(func() {
		a.RefreshAll()
		a.schedulePoll()
	}, interval)
}

// RefreshAll queues a refresh of every list. Failures reach each list's
// error observers.
func (a *App) RefreshAll() {
	a.mu.Lock()
	ctx, started := a.runCtx, a.started && !a.closed
	a.mu.Unlock()
	if !started {
		return
	}

	for _, l := range a.lists() {
		if err := l.RefreshAsync(ctx); err != nil {
			a.logger.Debug("refresh not queued",
				zap.String("collection", l.Name()),
				zap.Error(err),
			)
		}
	}
}

// Run starts the App and blocks until ctx is cancelled, then closes it.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return a.Close()
}

// Close disposes every list, cancels in-flight fetches, waits for the
// workers and loops and closes the token store.
func (a *App) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	cancel := a.cancel
	all := make([]interface{ Dispose() }, 0, len(a.feeds)+1)
	for _, f := range a.feeds {
		all = append(all, f)
	}
	if a.bundles != nil {
		all = append(all, a.bundles)
	}
	a.mu.Unlock()

	for _, l := range all {
		l.Dispose()
	}
	if cancel != nil {
		cancel()
	}

	var errs []error
	if err := a.pool.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing worker pool: %w", err))
	}
	a.ui.Close()
	a.background.Close()
	a.wg.Wait()

	if a.tokens != nil {
		if err := a.tokens.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing token store: %w", err))
		}
	}

	a.logger.Info("app closed")
	return errors.Join(errs...)
}
