package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/servalsync/internal/dispatch"
	"github.com/dgnsrekt/servalsync/internal/observe"
	"github.com/dgnsrekt/servalsync/internal/worker"
)

// DefaultTimeout bounds a single source query when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Options configures a List.
type Options struct {
	// Name identifies the collection in logs, events and the token store.
	Name    string
	Timeout time.Duration
	// Pool runs StartAsync and RefreshAsync. Required only for those.
	Pool *worker.Pool
	// Loop delivers Background observers.
	Loop   *dispatch.Loop
	Tokens TokenStore
	// Resume restores the persisted token before the first fetch. A resumed
	// list skips history and holds only items newer than the token. Tokens
	// are saved whether or not Resume is set.
	Resume bool
	// OnMetadata is called with page metadata before item events are emitted.
	OnMetadata func(Metadata)
	Logger     *zap.Logger
}

// List keeps an ordered in-memory copy of a remote collection in step with
// its Source and reports every structural change to observers.
//
// At most one fetch runs at a time; concurrent Start or Refresh calls return
// immediately without querying the source.
type List[T Item] struct {
	name    string
	source  Source[T]
	timeout time.Duration
	pool    *worker.Pool
	tokens  TokenStore
	resume  bool
	onMeta  func(Metadata)
	logger  *zap.Logger

	observers *observe.Registry[T]
	metadata  *observe.Registry[Metadata]
	errs      *observe.Registry[error]

	fetching atomic.Bool
	disposed atomic.Bool
	restored bool // touched only while fetching is held

	mu      sync.RWMutex
	items   []T
	index   map[string]int
	last    Token
	hasMore bool
	loaded  bool
	lastErr error
	meta    Metadata
}

// New creates a List in the cold state: no token, history not yet fetched.
func New[T Item](source Source[T], opts Options) *List[T] {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("collection", opts.Name))

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &List[T]{
		name:      opts.Name,
		source:    source,
		timeout:   timeout,
		pool:      opts.Pool,
		tokens:    opts.Tokens,
		resume:    opts.Resume,
		onMeta:    opts.OnMetadata,
		logger:    logger,
		observers: observe.NewRegistry[T](opts.Name, opts.Loop, logger),
		metadata:  observe.NewRegistry[Metadata](opts.Name+"/metadata", opts.Loop, logger),
		errs:      observe.NewRegistry[error](opts.Name+"/errors", opts.Loop, logger),
		index:     make(map[string]int),
		hasMore:   true,
	}
}

// Name returns the collection name.
func (l *List[T]) Name() string {
	return l.name
}

// Start fetches history if none has been merged yet and otherwise follows
// the tail with a future fetch.
func (l *List[T]) Start(ctx context.Context) error {
	return l.run(ctx, "start")
}

// Refresh is the polling trigger. Once history is complete it performs a
// future fetch from the last token. While history is still incomplete it
// keeps paging through history instead, so no future fetch ever precedes
// the end of the past.
func (l *List[T]) Refresh(ctx context.Context) error {
	return l.run(ctx, "refresh")
}

// StartAsync runs Start on the worker pool. Failures, including a full
// queue, are delivered to error observers.
func (l *List[T]) StartAsync(ctx context.Context) error {
	return l.submit(ctx, l.Start)
}

// RefreshAsync runs Refresh on the worker pool.
func (l *List[T]) RefreshAsync(ctx context.Context) error {
	return l.submit(ctx, l.Refresh)
}

func (l *List[T]) submit(ctx context.Context, op func(context.Context) error) error {
	if l.pool == nil {
		return errors.New("list has no worker pool")
	}
	err := l.pool.Submit(ctx, func(jobCtx context.Context) {
		// run reports its own failures to error observers.
		_ = op(jobCtx)
	})
	if err != nil {
		l.reportError(err)
	}
	return err
}

func (l *List[T]) run(ctx context.Context, trigger string) error {
	if l.disposed.Load() {
		return ErrDisposed
	}
	if !l.fetching.CompareAndSwap(false, true) {
		l.logger.Debug("fetch already in flight", zap.String("trigger", trigger))
		return nil
	}
	defer l.fetching.Store(false)

	l.restore(ctx)

	mode, from := l.next()
	page, err := l.fetch(ctx, mode, from)
	if err != nil && mode == ModeFuture && errors.Is(err, ErrStaleToken) {
		l.logger.Info("continuation token went stale, reloading history", zap.String("token", string(from)))
		if !l.invalidate() {
			return l.discarded(mode)
		}
		mode, from = ModePast, ""
		page, err = l.fetch(ctx, mode, from)
	}

	if l.disposed.Load() {
		return l.discarded(mode)
	}

	if err != nil {
		ferr := &FetchError{Collection: l.name, Mode: mode, Err: err}
		l.mu.Lock()
		l.lastErr = ferr
		l.mu.Unlock()

		l.logger.Warn("fetch failed",
			zap.String("trigger", trigger),
			zap.String("mode", string(mode)),
			zap.Bool("retryable", Retryable(err)),
			zap.Error(err),
		)
		l.reportError(ferr)
		return ferr
	}

	if page.Meta != nil && !l.applyMetadata(page.Meta) {
		return l.discarded(mode)
	}

	events, advanced, ok := l.merge(mode, from, page)
	if !ok || l.disposed.Load() {
		return l.discarded(mode)
	}
	l.observers.Notify(events...)

	l.logger.Debug("fetch merged",
		zap.String("trigger", trigger),
		zap.String("mode", string(mode)),
		zap.Int("received", len(page.Items)),
		zap.Int("events", len(events)),
		zap.String("last", string(l.Last())),
		zap.Bool("hasMore", l.HasMore()),
	)

	if advanced {
		l.saveToken(ctx)
	}
	return nil
}

func (l *List[T]) discarded(mode Mode) error {
	l.logger.Debug("list disposed during fetch, discarding result", zap.String("mode", string(mode)))
	return ErrDisposed
}

// next decides the query for the current state. Called with fetching held.
func (l *List[T]) next() (Mode, Token) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.hasMore {
		return ModePast, l.last
	}
	return ModeFuture, l.last
}

func (l *List[T]) fetch(ctx context.Context, mode Mode, from Token) (Page[T], error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	var (
		page Page[T]
		err  error
	)
	if mode == ModePast {
		page, err = l.source.FetchPast(ctx, from)
	} else {
		page, err = l.source.FetchFuture(ctx, from)
	}
	if err != nil {
		return Page[T]{}, classify(err)
	}
	return page, nil
}

// merge folds page into the cache and returns the events it produced, in
// merge order. Existing keys are updated in place; tombstoned keys are removed.
// It reports false, changing nothing, once the list is disposed.
func (l *List[T]) merge(mode Mode, from Token, page Page[T]) ([]observe.Event[T], bool, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.disposed.Load() {
		return nil, false, false
	}

	events := make([]observe.Event[T], 0, len(page.Items))
	for _, item := range page.Items {
		key := item.Key()
		idx, exists := l.index[key]

		if ts, ok := any(item).(Tombstoner); ok && ts.Tombstone() {
			if exists {
				removed := l.items[idx]
				l.removeAt(idx)
				events = append(events, observe.RemovedEvent(removed))
			}
			continue
		}

		if exists {
			l.items[idx] = item
			events = append(events, observe.UpdatedEvent(idx, item))
			continue
		}

		idx = len(l.items)
		l.items = append(l.items, item)
		l.index[key] = idx
		events = append(events, observe.AddedEvent(idx, item))
	}

	advanced := false
	if page.Token != "" && page.Token != l.last {
		l.last = page.Token
		advanced = true
	}
	// A future page's HasMore only says more new items are ready; it never
	// reopens history.
	if mode == ModePast {
		l.hasMore = page.HasMore
		if page.HasMore && l.last == from {
			l.logger.Warn("history page did not advance the token, treating history as complete",
				zap.String("token", string(from)),
				zap.Int("received", len(page.Items)),
			)
			l.hasMore = false
		}
	}
	l.loaded = true
	l.lastErr = nil

	return events, advanced, true
}

func (l *List[T]) removeAt(idx int) {
	delete(l.index, l.items[idx].Key())
	l.items = append(l.items[:idx], l.items[idx+1:]...)
	for i := idx; i < len(l.items); i++ {
		l.index[l.items[i].Key()] = i
	}
}

// applyMetadata stores meta and runs the hooks. It reports false if the list
// was disposed before or during the hooks.
func (l *List[T]) applyMetadata(meta Metadata) bool {
	l.mu.Lock()
	if l.disposed.Load() {
		l.mu.Unlock()
		return false
	}
	l.meta = meta
	l.mu.Unlock()

	if l.onMeta != nil {
		l.onMeta(meta)
	}
	if l.disposed.Load() {
		return false
	}
	l.metadata.Notify(observe.UpdatedEvent(0, meta))
	return true
}

// invalidate drops the cache and returns to the cold state, then emits Reset.
// It does nothing and reports false once the list is disposed. Called with
// fetching held.
func (l *List[T]) invalidate() bool {
	l.mu.Lock()
	if l.disposed.Load() {
		l.mu.Unlock()
		return false
	}
	l.items = nil
	l.index = make(map[string]int)
	l.last = ""
	l.hasMore = true
	l.loaded = false
	l.mu.Unlock()

	l.observers.Notify(observe.ResetEvent[T]())
	return true
}

// Reset discards the cache and the continuation token and tells every
// observer to re-read the collection. It fails with ErrBusy while a fetch is
// in flight.
func (l *List[T]) Reset(ctx context.Context) error {
	if l.disposed.Load() {
		return ErrDisposed
	}
	if !l.fetching.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer l.fetching.Store(false)

	l.restored = true
	if !l.invalidate() {
		return ErrDisposed
	}
	if l.tokens != nil {
		if err := l.tokens.SaveToken(ctx, l.name, ""); err != nil {
			l.logger.Warn("failed to clear persisted token", zap.Error(err))
		}
	}
	return nil
}

// restore loads a persisted token once when resuming. A restored token
// resumes tail following without re-reading history; the list counts as
// loaded only after its first merge. Called with fetching held.
func (l *List[T]) restore(ctx context.Context) {
	if l.restored || l.tokens == nil || !l.resume {
		return
	}
	l.restored = true

	tok, ok, err := l.tokens.LoadToken(ctx, l.name)
	if err != nil {
		l.logger.Warn("failed to load persisted token, starting cold", zap.Error(err))
		return
	}
	if !ok || tok == "" {
		return
	}

	l.mu.Lock()
	l.last = tok
	l.hasMore = false
	l.mu.Unlock()

	l.logger.Info("resumed from persisted token", zap.String("token", string(tok)))
}

func (l *List[T]) saveToken(ctx context.Context) {
	if l.tokens == nil {
		return
	}
	if err := l.tokens.SaveToken(ctx, l.name, l.Last()); err != nil {
		l.logger.Warn("failed to persist token", zap.Error(err))
	}
}

func (l *List[T]) reportError(err error) {
	l.errs.Notify(observe.UpdatedEvent(0, err))
}

// Dispose detaches the list. A fetch in flight is allowed to finish but its
// result is discarded and no further events are emitted.
func (l *List[T]) Dispose() {
	// Taking mu orders the flag against a merge in progress.
	l.mu.Lock()
	already := l.disposed.Swap(true)
	l.mu.Unlock()
	if already {
		return
	}
	l.logger.Debug("list disposed")
}

// Disposed reports whether Dispose has been called.
func (l *List[T]) Disposed() bool {
	return l.disposed.Load()
}

// Fetching reports whether a fetch is in flight.
func (l *List[T]) Fetching() bool {
	return l.fetching.Load()
}

// Subscribe registers an observer of item changes.
func (l *List[T]) Subscribe(h observe.Handler[T], d observe.Delivery) observe.Handle {
	return l.observers.Subscribe(h, d)
}

// Unsubscribe removes an item observer.
func (l *List[T]) Unsubscribe(h observe.Handle) bool {
	return l.observers.Unsubscribe(h)
}

// Observers exposes the item registry, for fault reporting and named subscriptions.
func (l *List[T]) Observers() *observe.Registry[T] {
	return l.observers
}

// OnMetadata registers fn for metadata-changed notifications.
func (l *List[T]) OnMetadata(fn func(Metadata), d observe.Delivery) observe.Handle {
	return l.metadata.Subscribe(func(ev observe.Event[Metadata]) error {
		fn(ev.Item)
		return nil
	}, d)
}

// OnError registers fn for fetch and submission failures.
func (l *List[T]) OnError(fn func(error), d observe.Delivery) observe.Handle {
	return l.errs.Subscribe(func(ev observe.Event[error]) error {
		fn(ev.Item)
		return nil
	}, d)
}

// Items returns a copy of the cached items in remote order.
func (l *List[T]) Items() []T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]T, len(l.items))
	copy(out, l.items)
	return out
}

// Len returns the number of cached items.
func (l *List[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Get returns the cached item with the given key.
func (l *List[T]) Get(key string) (T, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx, ok := l.index[key]
	if !ok {
		var zero T
		return zero, false
	}
	return l.items[idx], true
}

// Loaded reports whether a history fetch has succeeded since the last reset.
// An empty, unloaded list is "not yet loaded", not failed; see Err.
func (l *List[T]) Loaded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loaded
}

// Last returns the last merged continuation token.
func (l *List[T]) Last() Token {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.last
}

// HasMore reports whether history paging is still incomplete.
func (l *List[T]) HasMore() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.hasMore
}

// Err returns the error of the most recent fetch, or nil if it succeeded.
func (l *List[T]) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastErr
}

// Metadata returns the most recent page metadata.
func (l *List[T]) Metadata() Metadata {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.meta
}
