// Package relay forwards collection changes to remote subscribers over
// server-sent events and WebSockets.
package relay

import (
	"errors"
	"sync"

	"github.com/dgnsrekt/servalsync/internal/feed"
	"github.com/dgnsrekt/servalsync/internal/observe"
)

// ErrUnknownCollection is returned by a Resolver for names it cannot serve.
var ErrUnknownCollection = errors.New("unknown collection")

// Resolver maps a collection name to the collection, creating it if needed.
type Resolver func(name string) (feed.Collection, error)

type watchRef struct {
	src    feed.Collection
	handle observe.Handle
	refs   int
}

// watchSet holds one Watch per collection for as long as a subscriber
// needs it.
type watchSet struct {
	resolve Resolver
	publish func(observe.Change)

	mu      sync.Mutex
	watches map[string]*watchRef
}

func newWatchSet(resolve Resolver, publish func(observe.Change)) *watchSet {
	return &watchSet{
		resolve: resolve,
		publish: publish,
		watches: make(map[string]*watchRef),
	}
}

func (w *watchSet) acquire(name string) (feed.Collection, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ref, ok := w.watches[name]; ok {
		ref.refs++
		return ref.src, nil
	}

	src, err := w.resolve(name)
	if err != nil {
		return nil, err
	}
	ref := &watchRef{src: src, refs: 1}
	ref.handle = src.Watch(w.publish)
	w.watches[name] = ref
	return src, nil
}

func (w *watchSet) release(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ref, ok := w.watches[name]
	if !ok {
		return
	}
	ref.refs--
	if ref.refs > 0 {
		return
	}
	ref.src.Unsubscribe(ref.handle)
	delete(w.watches, name)
}

func (w *watchSet) active() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watches)
}

func (w *watchSet) closeAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for name, ref := range w.watches {
		ref.src.Unsubscribe(ref.handle)
		delete(w.watches, name)
	}
}
