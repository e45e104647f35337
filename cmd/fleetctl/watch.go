package main

import (
	"context"

	"github.com/spf13/cobra"

	"fleetconsole/internal/auth"
	"fleetconsole/internal/logger"
	"fleetconsole/internal/tui"
	"fleetconsole/internal/view"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		filter string
		search string
	)
	cmd := &cobra.Command{
		Use:         "watch",
		Short:       "Open the live fleet dashboard",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationTUI: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if filter == "" {
				filter = a.cfg.UI.Filter
			}
			f, err := view.ParseFilter(filter)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			// A login or logout in another terminal updates the running
			// dashboard's credential. An explicit token is never replaced.
			if a.session.Store() != nil {
				go func() {
					log := logger.Component(a.log, "auth")
					if err := auth.Watch(ctx, a.session, log); err != nil {
						log.WithError(err).Warn("credential watch stopped")
					}
				}()
			}

			return tui.Run(ctx, tui.ConsoleBackend(a.console()), tui.Options{
				Query:         view.Query{Filter: f, Search: search},
				NoticeTimeout: a.cfg.UI.NoticeTimeout,
				Log:           logger.Component(a.log, "tui"),
			})
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "initial filter, all or outdated (default ui.filter)")
	cmd.Flags().StringVar(&search, "search", "", "initial agent id search")
	return cmd
}
