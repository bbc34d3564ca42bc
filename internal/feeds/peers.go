package feeds

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/servalsync/internal/dispatch"
	"github.com/dgnsrekt/servalsync/internal/feed"
	"github.com/dgnsrekt/servalsync/internal/observe"
)

// PeersCollection is the collection name of the peer directory.
const PeersCollection = "peers"

var (
	_ feed.Collection = (*Peers)(nil)
	_ feed.Collection = (*BundleList)(nil)
	_ feed.Collection = (*MessageFeed)(nil)
)

// Peer is what the client knows about a remote identity.
type Peer struct {
	ID        string    `json:"id"`
	FeedName  string    `json:"feed_name"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p Peer) Key() string {
	return p.ID
}

// Peers is the directory of known identities. Feeds write display names into
// it as they learn them.
type Peers struct {
	mu        sync.RWMutex
	peers     map[string]Peer
	observers *observe.Registry[Peer]
	logger    *zap.Logger
}

func NewPeers(loop *dispatch.Loop, logger *zap.Logger) *Peers {
	return &Peers{
		peers:     make(map[string]Peer),
		observers: observe.NewRegistry[Peer](PeersCollection, loop, logger),
		logger:    logger,
	}
}

// UpdateFeedName records name for id and notifies observers if it changed.
func (p *Peers) UpdateFeedName(id, name string) {
	p.mu.Lock()
	old, exists := p.peers[id]
	if exists && old.FeedName == name {
		p.mu.Unlock()
		return
	}
	peer := Peer{ID: id, FeedName: name, UpdatedAt: time.Now()}
	p.peers[id] = peer
	p.mu.Unlock()

	p.logger.Debug("peer feed name updated",
		zap.String("id", id),
		zap.String("name", name),
	)

	if exists {
		p.observers.Notify(observe.UpdatedEvent(-1, peer))
		return
	}
	p.observers.Notify(observe.AddedEvent(-1, peer))
}

// Get returns the peer record for id.
func (p *Peers) Get(id string) (Peer, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	peer, ok := p.peers[id]
	return peer, ok
}

// List returns all known peers ordered by id.
func (p *Peers) List() []Peer {
	p.mu.RLock()
	out := make([]Peer, 0, len(p.peers))
	for _, peer := range p.peers {
		out = append(out, peer)
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Subscribe registers an observer of peer changes.
func (p *Peers) Subscribe(h observe.Handler[Peer], d observe.Delivery) observe.Handle {
	return p.observers.Subscribe(h, d)
}

// Unsubscribe removes a peer observer.
func (p *Peers) Unsubscribe(h observe.Handle) bool {
	return p.observers.Unsubscribe(h)
}

// Name returns PeersCollection.
func (p *Peers) Name() string {
	return PeersCollection
}

// Snapshot returns every known peer ordered by id.
func (p *Peers) Snapshot() feed.Snapshot {
	list := p.List()
	items := make([]any, len(list))
	for i, peer := range list {
		items[i] = peer
	}
	return feed.Snapshot{Collection: PeersCollection, Loaded: true, Items: items}
}

// Watch subscribes fn to type-erased peer changes.
func (p *Peers) Watch(fn func(observe.Change)) observe.Handle {
	return p.observers.SubscribeNamed("watch", func(ev observe.Event[Peer]) error {
		fn(observe.Erase(PeersCollection, ev))
		return nil
	}, observe.Background)
}
