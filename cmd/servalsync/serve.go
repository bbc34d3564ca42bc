package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/servalsync/internal/relay"
	"github.com/dgnsrekt/servalsync/internal/serval"
	"github.com/dgnsrekt/servalsync/internal/server"
)

func serveCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Follow configured collections and relay changes over HTTP",
		Long: `Follow the feeds listed in sync.feeds (and the bundle list when
sync.bundles is set) and expose them over HTTP:

  GET  /collections              names of followed collections
  GET  /collections/{name}       snapshot of a collection
  POST /refresh/{name}           queue a refresh
  POST /reset/{name}             drop the cache and reload
  GET  /events/{name}            server-sent events
  GET  /ws                       WebSocket relay (joinGroup with a collection name)

Collection names are "peers", "rhizome/bundles" and "meshmb/{id}".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if port != "" {
				cfg.Server.Port = port
			}
			return serve(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides server.port)")
	return cmd
}

func serve(ctx context.Context) error {
	app, err := serval.New(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("close error", zap.Error(err))
		}
	}()

	for _, id := range cfg.Sync.Feeds {
		if _, err := app.Feed(id); err != nil {
			return err
		}
	}
	if cfg.Sync.Bundles {
		if _, err := app.Bundles(); err != nil {
			return err
		}
	}

	var sse *relay.Broadcaster
	if cfg.Server.SSEEnabled {
		sse = relay.NewBroadcaster(app.Collection, cfg.Server.ClientBuffer, logger)
		defer sse.Close()
	}
	var hub *relay.Hub
	if cfg.Server.WSEnabled {
		hub = relay.NewHub(app.Collection, cfg.Server.ClientBuffer, logger)
		go hub.Run(ctx)
	}

	if err := app.Start(ctx); err != nil {
		return err
	}

	srv := server.NewServer(app, sse, hub, logger)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server.NewRouter(srv, logger),
		ReadHeaderTimeout: 10 * time.Second,
		// Streams end with ctx rather than holding Shutdown open.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			zap.String("addr", httpServer.Addr),
			zap.Bool("sse", sse != nil),
			zap.Bool("ws", hub != nil),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
