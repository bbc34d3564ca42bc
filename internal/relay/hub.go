package relay

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dgnsrekt/servalsync/internal/observe"
)

// Hub manages WebSocket clients. Each joined group is a collection name.
type Hub struct {
	buffer  int
	logger  *zap.Logger
	watches *watchSet

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	running    atomic.Bool

	mu       sync.RWMutex
	sequence uint64
	clients  map[*Client]bool
	groups   map[string]map[*Client]bool
}

// NewHub creates a hub resolving group names with resolve.
func NewHub(resolve Resolver, buffer int, logger *zap.Logger) *Hub {
	if buffer < 1 {
		buffer = DefaultClientBuffer
	}
	h := &Hub{
		buffer:     buffer,
		logger:     logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		groups:     make(map[string]map[*Client]bool),
	}
	h.watches = newWatchSet(resolve, h.publish)
	return h
}

// Run processes registrations until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hub shutting down")
			h.shutdown()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", zap.String("connID", client.connID))

		case client := <-h.unregister:
			h.remove(client)
			h.logger.Debug("client unregistered", zap.String("connID", client.connID))
		}
	}
}

func (h *Hub) addClient(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) removeClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	left := make([]string, 0, len(c.groups))
	for group := range c.groups {
		h.leaveLocked(c, group)
		left = append(left, group)
	}
	c.closed = true
	close(c.send)
	h.mu.Unlock()

	for _, group := range left {
		h.watches.release(group)
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	for client := range h.clients {
		client.closed = true
		close(client.send)
		delete(h.clients, client)
	}
	h.groups = make(map[string]map[*Client]bool)
	h.mu.Unlock()

	h.watches.closeAll()
}

// JoinGroup subscribes c to the collection named group and queues its
// snapshot.
func (h *Hub) JoinGroup(c *Client, group string) error {
	h.mu.RLock()
	already := c.groups[group]
	h.mu.RUnlock()
	if already {
		return nil
	}

	src, err := h.watches.acquire(group)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		h.watches.release(group)
		return nil
	}
	if h.groups[group] == nil {
		h.groups[group] = make(map[*Client]bool)
	}
	h.groups[group][c] = true
	c.groups[group] = true
	h.sequence++
	seq := h.sequence
	h.mu.Unlock()

	h.logger.Debug("client joined group",
		zap.String("connID", c.connID),
		zap.String("group", group),
	)

	msg, err := buildDataMessage(group, "snapshot", SnapshotEvent{Sequence: seq, Snapshot: src.Snapshot()})
	if err != nil {
		return err
	}
	h.deliver(c, msg)
	return nil
}

// LeaveGroup removes c from group.
func (h *Hub) LeaveGroup(c *Client, group string) {
	h.mu.Lock()
	joined := c.groups[group]
	if joined {
		h.leaveLocked(c, group)
	}
	h.mu.Unlock()

	if joined {
		h.watches.release(group)
		h.logger.Debug("client left group",
			zap.String("connID", c.connID),
			zap.String("group", group),
		)
	}
}

func (h *Hub) leaveLocked(c *Client, group string) {
	if clients, ok := h.groups[group]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.groups, group)
		}
	}
	delete(c.groups, group)
}

// ActiveGroups returns all groups with at least one subscriber.
func (h *Hub) ActiveGroups() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	groups := make([]string, 0, len(h.groups))
	for group, clients := range h.groups {
		if len(clients) > 0 {
			groups = append(groups, group)
		}
	}
	return groups
}

func (h *Hub) publish(change observe.Change) {
	h.mu.Lock()
	h.sequence++
	seq := h.sequence
	h.mu.Unlock()

	msg, err := buildDataMessage(change.Collection, change.Kind.String(), ChangeEvent{Sequence: seq, Change: change})
	if err != nil {
		h.logger.Error("failed to encode change", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.groups[change.Collection] {
		h.deliverLocked(client, msg)
	}
}

// deliver queues msg for c, disconnecting c if its buffer is full.
func (h *Hub) deliver(c *Client, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.deliverLocked(c, msg)
}

func (h *Hub) deliverLocked(c *Client, msg []byte) {
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		go h.removeClient(c)
	}
}
