package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/dgnsrekt/servalsync/internal/feed"
	"github.com/dgnsrekt/servalsync/internal/relay"
	"github.com/dgnsrekt/servalsync/internal/worker"
)

// Backend is what the server needs from the application.
type Backend interface {
	Collection(name string) (feed.Collection, error)
	Collections() []string
}

type refresher interface {
	RefreshAsync(ctx context.Context) error
}

type resetter interface {
	Reset(ctx context.Context) error
}

type Server struct {
	backend Backend
	sse     *relay.Broadcaster
	hub     *relay.Hub
	logger  *zap.Logger
}

// NewServer creates a server. sse and hub may be nil to disable a relay.
func NewServer(backend Backend, sse *relay.Broadcaster, hub *relay.Hub, logger *zap.Logger) *Server {
	return &Server{
		backend: backend,
		sse:     sse,
		hub:     hub,
		logger:  logger,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	Status     string `json:"status"`
	Collection string `json:"collection,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, relay.ErrUnknownCollection):
		status = http.StatusNotFound
	case errors.Is(err, feed.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, feed.ErrDisposed), errors.Is(err, worker.ErrQueueFull), errors.Is(err, worker.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// HandleHealth handles GET /health
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

// HandleCollections handles GET /collections
func (s *Server) HandleCollections(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.backend.Collections())
}

// HandleSnapshot handles GET /collections/{name...}
func (s *Server) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	c, err := s.backend.Collection(collectionName(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	body, err := json.Marshal(c.Snapshot())
	if err != nil {
		s.writeError(w, err)
		return
	}
	etag := snapshotETag(body)
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(append(body, '\n')); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}

func snapshotETag(body []byte) string {
	return fmt.Sprintf(`"%016x"`, xxhash.Sum64(body))
}

// HandleRefresh handles POST /refresh/{name...}. The refresh runs on the
// worker pool; the response only says it was queued.
func (s *Server) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	name := collectionName(r)
	c, err := s.backend.Collection(name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	rf, ok := c.(refresher)
	if !ok {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: name + " cannot be refreshed"})
		return
	}
	if err := rf.RefreshAsync(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, statusResponse{Status: "queued", Collection: name})
}

// HandleReset handles POST /reset/{name...}
func (s *Server) HandleReset(w http.ResponseWriter, r *http.Request) {
	name := collectionName(r)
	c, err := s.backend.Collection(name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	rs, ok := c.(resetter)
	if !ok {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: name + " cannot be reset"})
		return
	}
	if err := rs.Reset(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("collection reset", zap.String("collection", name))
	s.writeJSON(w, http.StatusOK, statusResponse{Status: "reset", Collection: name})
}

// HandleEvents handles GET /events/{name...}
func (s *Server) HandleEvents(w http.ResponseWriter, r *http.Request) {
	s.sse.ServeCollection(w, r, collectionName(r))
}
