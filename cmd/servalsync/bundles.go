package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/servalsync/internal/api"
	"github.com/dgnsrekt/servalsync/internal/observe"
	"github.com/dgnsrekt/servalsync/internal/serval"
)

func bundlesCmd() *cobra.Command {
	var once, resume bool

	cmd := &cobra.Command{
		Use:   "bundles",
		Short: "Print the rhizome bundle list and follow changes",
		Args:  cobra.NoArgs,
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
			b, err := app.Bundles()
			if err != nil {
				_ = app.Close()
				return err
			}

			if once {
				defer func() { _ = app.Close() }()
				if err := loadHistory(ctx, b.List); err != nil {
					return err
				}
				for _, bundle := range b.Items() {
					printBundle(out, "", bundle)
				}
				return nil
			}

			b.Subscribe(func(ev observe.Event[api.Bundle]) error {
				switch ev.Kind {
				case observe.Added:
					printBundle(out, "+", ev.Item)
				case observe.Updated:
					printBundle(out, "~", ev.Item)
				case observe.Removed:
					printBundle(out, "-", ev.Item)
				case observe.Reset:
					fmt.Fprintln(out, "-- bundle list reset, reloading")
				}
				return nil
			}, observe.Background)
			b.OnError(logListError(logger, b.Name()), observe.Inline)

			return app.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "print the current list and exit")
	cmd.Flags().BoolVar(&resume, "resume", false, "continue from the token saved by the previous run (overrides sync.resume)")
	return cmd
}

func printBundle(w io.Writer, mark string, b api.Bundle) {
	if mark != "" {
		fmt.Fprintf(w, "%s ", mark)
	}
	fmt.Fprintf(w, "%s v%d %-10s %s (%d bytes)\n", shortID(b.ID), b.Version, b.Service, b.Name, b.FileSize)
}
