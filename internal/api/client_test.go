package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/servalsync/internal/feed"
)

const messageListJSON = `{
  "name": "alice",
  "has_more": true,
  "header": ["token", "offset", "author", "text", "timestamp"],
  "rows": [
    ["tok1", 10, "AB12", "hello", 1700000000],
    ["tok2", 20, "AB12", "world", 1700000050]
  ]
}`

func newTestClient(url string, retries int) *HTTPClient {
	logger, _ := zap.NewDevelopment()
	return NewClient(url, "user", "secret", 100, 10*time.Millisecond, retries, logger)
}

func TestListMessages_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Verify auth header
		user, pass, ok := r.BasicAuth()
		if !ok || user != "user" || pass != "secret" {
			t.Errorf("expected basic auth user/secret, got %q/%q", user, pass)
		}

		expectedPath := "/restful/meshmb/ABCD/messagelist.json"
		if r.URL.Path != expectedPath {
			t.Errorf("expected path %s, got %s", expectedPath, r.URL.Path)
		}
		if r.URL.Query().Has("after") {
			t.Error("cold history fetch should not send after")
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(messageListJSON))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 0)

	list, err := client.ListMessages(context.Background(), "ABCD", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if list.Name != "alice" {
		t.Errorf("expected name alice, got %q", list.Name)
	}
	if !list.HasMore {
		t.Error("expected has_more")
	}
	if len(list.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(list.Messages))
	}
	if list.Messages[1].Token != "tok2" || list.Messages[1].Offset != 20 || list.Messages[1].Text != "world" {
		t.Errorf("unexpected message: %+v", list.Messages[1])
	}
	if list.Messages[0].Key() != "10" {
		t.Errorf("unexpected key %s", list.Messages[0].Key())
	}
}

func TestListMessages_After(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("after"); got != "tok2" {
			t.Errorf("expected after=tok2, got %q", got)
		}
		_, _ = w.Write([]byte(`{"header":["token","offset"],"rows":[]}`))
	}))
	defer server.Close()

	list, err := newTestClient(server.URL, 0).ListMessages(context.Background(), "ABCD", "tok2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list.Messages) != 0 {
		t.Errorf("expected no messages, got %d", len(list.Messages))
	}
}

func TestListMessagesSince_Path(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_, _ = w.Write([]byte(`{"header":["token","offset"],"rows":[["tok3", 30]]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 0)
	if _, err := client.ListMessagesSince(context.Background(), "ABCD", "tok2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := client.ListMessagesSince(context.Background(), "ABCD", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{
		"/restful/meshmb/ABCD/newsince/tok2/messagelist.json",
		"/restful/meshmb/ABCD/messagelist.json",
	}
	for i, p := range want {
		if paths[i] != p {
			t.Errorf("request %d: expected %s, got %s", i, p, paths[i])
		}
	}
}

func TestListBundles_Decode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/restful/rhizome/newsince/t7/bundlelist.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{
		  "header": ["token","id","version","service","name","sender","author","date","filesize","deleted"],
		  "rows": [
		    ["t8","B1",3,"file","notes.txt","S1",null,1700000000,512,0],
		    ["t9","B2","4","MeshMB1","feed","S2","A2",1700000001,0,true]
		  ]
		}`))
	}))
	defer server.Close()

	list, err := newTestClient(server.URL, 0).ListBundlesSince(context.Background(), "t7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list.Bundles) != 2 {
		t.Fatalf("expected 2 bundles, got %d", len(list.Bundles))
	}

	b := list.Bundles[0]
	if b.ID != "B1" || b.Version != 3 || b.Author != "" || b.FileSize != 512 || b.Deleted {
		t.Errorf("unexpected bundle: %+v", b)
	}
	if !list.Bundles[1].Tombstone() || list.Bundles[1].Version != 4 {
		t.Errorf("unexpected bundle: %+v", list.Bundles[1])
	}
}

func TestGetTable_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		since  bool
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, false, feed.ErrProtocol},
		{"forbidden", http.StatusForbidden, true, ErrAuthFailed},
		{"stale token", http.StatusGone, true, feed.ErrStaleToken},
		{"stale token 404", http.StatusNotFound, true, feed.ErrStaleToken},
		{"missing feed", http.StatusNotFound, false, ErrNotFound},
		{"server error", http.StatusInternalServerError, false, feed.ErrTransport},
		{"bad request", http.StatusBadRequest, false, feed.ErrProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client := newTestClient(server.URL, 0)
			var err error
			if tt.since {
				_, err = client.ListBundlesSince(context.Background(), "tok")
			} else {
				_, err = client.ListBundles(context.Background(), "")
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestGetTable_Malformed(t *testing.T) {
	bodies := []string{
		`not json`,
		`{"rows": []}`,
		`{"header": ["token"], "rows": [["t1", 1]]}`,
		`{"header": ["token", "id"], "rows": []}`,
		`{"header": ["token", "id", "version"], "rows": [["t1", "B1", "x"]]}`,
	}

	for _, body := range bodies {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))

		_, err := newTestClient(server.URL, 0).ListBundles(context.Background(), "")
		if !errors.Is(err, feed.ErrProtocol) {
			t.Errorf("body %q: expected protocol error, got %v", body, err)
		}
		server.Close()
	}
}

func TestGetTable_RateLimitedRetries(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, 2).ListBundles(context.Background(), "")
	if !errors.Is(err, feed.ErrTransport) {
		t.Errorf("expected transport error, got %v", err)
	}

	// Should have attempted 3 times (initial + 2 retries)
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestGetTable_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newTestClient(url, 0).ListBundles(context.Background(), "")
	if !feed.Retryable(err) {
		t.Errorf("expected retryable transport error, got %v", err)
	}
}
