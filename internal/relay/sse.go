package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/dgnsrekt/servalsync/internal/observe"
)

// DefaultClientBuffer is the per-client event buffer when none is configured.
const DefaultClientBuffer = 64

// Broadcaster streams collection changes to server-sent event subscribers.
// A subscriber that falls behind its buffer is disconnected and is expected
// to reconnect and start again from a fresh snapshot.
type Broadcaster struct {
	buffer  int
	logger  *zap.Logger
	watches *watchSet

	mu       sync.RWMutex
	sequence uint64
	clients  map[string]map[*sseClient]bool
}

type sseClient struct {
	collection string
	dataCh     chan []byte
	gone       chan struct{}
	once       sync.Once
}

func (c *sseClient) kick() {
	c.once.Do(func() { close(c.gone) })
}

// NewBroadcaster creates a broadcaster resolving collections with resolve.
func NewBroadcaster(resolve Resolver, buffer int, logger *zap.Logger) *Broadcaster {
	if buffer < 1 {
		buffer = DefaultClientBuffer
	}
	b := &Broadcaster{
		buffer:  buffer,
		logger:  logger,
		clients: make(map[string]map[*sseClient]bool),
	}
	b.watches = newWatchSet(resolve, b.publish)
	return b
}

// ServeCollection streams the named collection: one snapshot event followed
// by one event per change until the request ends.
func (b *Broadcaster) ServeCollection(w http.ResponseWriter, r *http.Request, name string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	src, err := b.watches.acquire(name)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrUnknownCollection) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	defer b.watches.release(name)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	client := &sseClient{
		collection: name,
		dataCh:     make(chan []byte, b.buffer),
		gone:       make(chan struct{}),
	}
	b.addClient(client)
	defer b.removeClient(client)

	b.logger.Info("sse client connected",
		zap.String("collection", name),
		zap.String("remote_addr", r.RemoteAddr),
	)

	seq := b.nextSequence()
	snapshot, err := formatEvent("snapshot", seq, SnapshotEvent{Sequence: seq, Snapshot: src.Snapshot()})
	if err != nil {
		b.logger.Error("failed to encode snapshot", zap.Error(err))
		return
	}
	if _, err := w.Write(snapshot); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			b.logger.Info("sse client disconnected", zap.String("collection", name))
			return
		case <-client.gone:
			b.logger.Info("sse client too slow, disconnecting", zap.String("collection", name))
			return
		case data := <-client.dataCh:
			if _, err := w.Write(data); err != nil {
				b.logger.Debug("failed to write to client", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

// Clients returns the number of connected subscribers.
func (b *Broadcaster) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, set := range b.clients {
		n += len(set)
	}
	return n
}

// Close drops every collection watch. Connected clients end with their requests.
func (b *Broadcaster) Close() {
	b.watches.closeAll()
}

func (b *Broadcaster) addClient(c *sseClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.clients[c.collection]
	if !ok {
		set = make(map[*sseClient]bool)
		b.clients[c.collection] = set
	}
	set[c] = true
}

func (b *Broadcaster) removeClient(c *sseClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.clients[c.collection]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(b.clients, c.collection)
		}
	}
	c.kick()
}

func (b *Broadcaster) nextSequence() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sequence++
	return b.sequence
}

func (b *Broadcaster) publish(change observe.Change) {
	seq := b.nextSequence()
	data, err := formatEvent(change.Kind.String(), seq, ChangeEvent{Sequence: seq, Change: change})
	if err != nil {
		b.logger.Error("failed to encode change", zap.String("collection", change.Collection), zap.Error(err))
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for client := range b.clients[change.Collection] {
		select {
		case client.dataCh <- data:
		default:
			client.kick()
		}
	}
}

func formatEvent(eventType string, seq uint64, payload any) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\nid: %d\ndata: %s\n\n", eventType, seq, jsonData)), nil
}
