package feed

import "github.com/dgnsrekt/servalsync/internal/observe"

// Snapshot is a point-in-time copy of a collection with its item type erased.
type Snapshot struct {
	Collection string `json:"collection"`
	Loaded     bool   `json:"loaded"`
	HasMore    bool   `json:"has_more"`
	Last       Token  `json:"last,omitempty"`
	Items      []any  `json:"items"`
}

// Collection is the type-erased view of a followed collection used by relays.
// Watch observers are delivered in the background and may see items that
// are already part of a snapshot taken after subscribing.
type Collection interface {
	Name() string
	Snapshot() Snapshot
	Watch(fn func(observe.Change)) observe.Handle
	Unsubscribe(h observe.Handle) bool
}

// Snapshot copies the current state.
func (l *List[T]) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	items := make([]any, len(l.items))
	for i, it := range l.items {
		items[i] = it
	}
	return Snapshot{
		Collection: l.name,
		Loaded:     l.loaded,
		HasMore:    l.hasMore,
		Last:       l.last,
		Items:      items,
	}
}

// Watch subscribes fn to type-erased changes with background delivery.
func (l *List[T]) Watch(fn func(observe.Change)) observe.Handle {
	return l.observers.SubscribeNamed("watch", func(ev observe.Event[T]) error {
		fn(observe.Erase(l.name, ev))
		return nil
	}, observe.Background)
}
