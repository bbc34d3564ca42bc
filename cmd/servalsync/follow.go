package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/servalsync/internal/api"
	"github.com/dgnsrekt/servalsync/internal/feed"
	"github.com/dgnsrekt/servalsync/internal/feeds"
	"github.com/dgnsrekt/servalsync/internal/observe"
	"github.com/dgnsrekt/servalsync/internal/serval"
)

func followCmd() *cobra.Command {
	var once, resume bool

	cmd := &cobra.Command{
		Use:   "follow ID [ID...]",
		Short: "Print a MeshMB feed and follow new messages",
		Long: `Load the message history of one or more MeshMB feeds, print it and keep
polling for new messages until interrupted.

Examples:
  # Follow one feed
  servalsync follow 8B7A...E2

  # Print the full history and exit
  servalsync follow --once 8B7A...E2

  # Print only what arrived since the previous run
  servalsync follow --once --resume 8B7A...E2`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if cmd.Flags().Changed("resume") {
				cfg.Sync.Resume = resume
			}
			app, err := serval.New(cfg, logger)
			if err != nil {
				return err
			}

			if once {
				defer func() { _ = app.Close() }()
				for _, id := range args {
					f, err := app.Feed(id)
					if err != nil {
						return err
					}
					if err := loadHistory(ctx, f.List); err != nil {
						return err
					}
					for _, m := range f.Items() {
						printMessage(out, id, m)
					}
				}
				return nil
			}

			for _, id := range args {
				f, err := app.Feed(id)
				if err != nil {
					return err
				}
				f.Subscribe(func(ev observe.Event[api.Message]) error {
					switch ev.Kind {
					case observe.Added, observe.Updated:
						printMessage(out, id, ev.Item)
					case observe.Reset:
						fmt.Fprintf(out, "-- %s: feed reset, reloading\n", id)
					}
					return nil
				}, observe.Background)
				f.OnError(logListError(logger, f.Name()), observe.Inline)
			}
			app.Peers().Subscribe(func(ev observe.Event[feeds.Peer]) error {
				fmt.Fprintf(out, "-- %s is now %q\n", ev.Item.ID, ev.Item.FeedName)
				return nil
			}, observe.Background)

			return app.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "print the history and exit")
	cmd.Flags().BoolVar(&resume, "resume", false, "continue from the token saved by the previous run (overrides sync.resume)")
	return cmd
}

// loadHistory pages through history until the daemon reports no more or
// stops advancing the token.
func loadHistory[T feed.Item](ctx context.Context, l *feed.List[T]) error {
	for {
		before := l.Last()
		if err := l.Start(ctx); err != nil {
			return err
		}
		if !l.HasMore() || l.Last() == before {
			return nil
		}
	}
}

func logListError(logger *zap.Logger, collection string) func(error) {
	return func(err error) {
		logger.Warn("sync error",
			zap.String("collection", collection),
			zap.Bool("retryable", feed.Retryable(err)),
			zap.Error(err),
		)
	}
}

func printMessage(w io.Writer, feedID string, m api.Message) {
	ts := time.Unix(m.Timestamp, 0).UTC().Format(time.RFC3339)
	fmt.Fprintf(w, "[%s] %s #%d %s\n", ts, shortID(feedID), m.Offset, m.Text)
}

func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12] + "…"
}
