package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NewRouter mounts the collection endpoints and, when configured, the SSE
// and WebSocket relays.
func NewRouter(srv *Server, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(zapLoggerMiddleware(logger))

	r.Get("/health", srv.HandleHealth)
	r.Get("/collections", srv.HandleCollections)
	r.Get("/collections/*", srv.HandleSnapshot)
	r.Post("/refresh/*", srv.HandleRefresh)
	r.Post("/reset/*", srv.HandleReset)

	if srv.sse != nil {
		r.Get("/events/*", srv.HandleEvents)
	}
	if srv.hub != nil {
		r.Get("/ws", srv.hub.ServeWS)
	}

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func zapLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("query", maskQuery(r.URL.RawQuery)),
				zap.String("requestID", middleware.GetReqID(r.Context())),
			)
			next.ServeHTTP(w, r)
		})
	}
}

// maskQuery hides credential-like query parameters.
func maskQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return rawQuery
	}
	for _, k := range []string{"key", "password", "token"} {
		if v := values.Get(k); v != "" {
			if len(v) > 4 {
				values.Set(k, v[:4]+"****")
			} else {
				values.Set(k, "****")
			}
		}
	}
	return values.Encode()
}

// collectionName returns the wildcard part of a route, the collection name.
func collectionName(r *http.Request) string {
	return strings.Trim(chi.URLParam(r, "*"), "/")
}
