package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/servalsync/internal/feed"
	"github.com/dgnsrekt/servalsync/internal/feeds"
	"github.com/dgnsrekt/servalsync/internal/observe"
)

func peersResolver(peers *feeds.Peers) Resolver {
	return func(name string) (feed.Collection, error) {
		if name == feeds.PeersCollection {
			return peers, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
}

type sseEvent struct {
	name string
	data string
}

func readEvent(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			return ev
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestBroadcaster_SnapshotThenChanges(t *testing.T) {
	logger := zap.NewNop()
	peers := feeds.NewPeers(nil, logger)
	peers.UpdateFeedName("A", "ay")

	b := NewBroadcaster(peersResolver(peers), 8, logger)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.ServeCollection(w, r, strings.TrimPrefix(r.URL.Path, "/"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/peers", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	snap := readEvent(t, r)
	assert.Equal(t, "snapshot", snap.name)
	var se struct {
		Snapshot feed.Snapshot `json:"snapshot"`
	}
	require.NoError(t, json.Unmarshal([]byte(snap.data), &se))
	assert.Equal(t, "peers", se.Snapshot.Collection)
	assert.Len(t, se.Snapshot.Items, 1)

	peers.UpdateFeedName("B", "bee")

	ev := readEvent(t, r)
	assert.Equal(t, "added", ev.name)
	var ce struct {
		Collection string `json:"collection"`
		Kind       string `json:"kind"`
		Key        string `json:"key"`
	}
	require.NoError(t, json.Unmarshal([]byte(ev.data), &ce))
	assert.Equal(t, "peers", ce.Collection)
	assert.Equal(t, "added", ce.Kind)
	assert.Equal(t, "B", ce.Key)

	assert.Equal(t, 1, b.Clients())
	assert.Equal(t, 1, b.watches.active())

	cancel()
	require.Eventually(t, func() bool { return b.Clients() == 0 }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return b.watches.active() == 0 }, time.Second, 10*time.Millisecond)
}

func TestBroadcaster_UnknownCollection(t *testing.T) {
	b := NewBroadcaster(peersResolver(feeds.NewPeers(nil, zap.NewNop())), 8, zap.NewNop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/events/nope", nil)
	b.ServeCollection(rec, req, "nope")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 0, b.watches.active())
}

func TestBroadcaster_SlowClientKicked(t *testing.T) {
	b := NewBroadcaster(nil, 1, zap.NewNop())
	c := &sseClient{collection: "x", dataCh: make(chan []byte, 1), gone: make(chan struct{})}
	b.addClient(c)

	b.publish(feedChange("x", "1"))
	b.publish(feedChange("x", "2"))

	select {
	case <-c.gone:
	default:
		t.Fatal("client should have been kicked")
	}
	b.removeClient(c)
	assert.Equal(t, 0, b.Clients())
}

type wsMsg struct {
	Type         string          `json:"type"`
	Event        string          `json:"event"`
	Group        string          `json:"group"`
	ConnectionID string          `json:"connectionId"`
	AckID        uint64          `json:"ackId"`
	Success      bool            `json:"success"`
	Data         json.RawMessage `json:"data"`
}

func readWS(t *testing.T, conn *websocket.Conn) wsMsg {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m wsMsg
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func TestHub_JoinReceiveLeave(t *testing.T) {
	logger := zap.NewNop()
	peers := feeds.NewPeers(nil, logger)
	hub := NewHub(peersResolver(peers), 16, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	require.Eventually(t, hub.running.Load, time.Second, time.Millisecond)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	connected := readWS(t, conn)
	assert.Equal(t, "system", connected.Type)
	assert.Equal(t, "connected", connected.Event)
	assert.NotEmpty(t, connected.ConnectionID)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "joinGroup", "group": "peers", "ackId": 1}))

	snap := readWS(t, conn)
	assert.Equal(t, "message", snap.Type)
	assert.Equal(t, "snapshot", snap.Event)
	assert.Equal(t, "peers", snap.Group)

	ack := readWS(t, conn)
	assert.Equal(t, "ack", ack.Type)
	assert.Equal(t, uint64(1), ack.AckID)
	assert.True(t, ack.Success)

	peers.UpdateFeedName("A", "ay")
	change := readWS(t, conn)
	assert.Equal(t, "added", change.Event)
	assert.Contains(t, string(change.Data), `"key":"A"`)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "joinGroup", "group": "missing", "ackId": 2}))
	nack := readWS(t, conn)
	assert.Equal(t, uint64(2), nack.AckID)
	assert.False(t, nack.Success)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))
	assert.Equal(t, "pong", readWS(t, conn).Type)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "leaveGroup", "group": "peers", "ackId": 3}))
	leaveAck := readWS(t, conn)
	assert.Equal(t, uint64(3), leaveAck.AckID)
	assert.Empty(t, hub.ActiveGroups())
	assert.Equal(t, 0, hub.watches.active())
}

func TestHub_NotRunning(t *testing.T) {
	hub := NewHub(nil, 4, zap.NewNop())
	rec := httptest.NewRecorder()
	hub.ServeWS(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestParseUpstream(t *testing.T) {
	msg, err := parseUpstream([]byte(`{"type":"joinGroup","group":"g","ackId":7}`))
	require.NoError(t, err)
	require.NotNil(t, msg.AckID)
	assert.Equal(t, uint64(7), *msg.AckID)

	_, err = parseUpstream([]byte(`{"type":"joinGroup"}`))
	assert.Error(t, err)
	_, err = parseUpstream([]byte(`{"type":"shout"}`))
	assert.Error(t, err)
	_, err = parseUpstream([]byte(`not json`))
	assert.Error(t, err)
}

func feedChange(collection, key string) observe.Change {
	return observe.Change{Collection: collection, Kind: observe.Added, Key: key}
}
