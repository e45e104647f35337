package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"fleetconsole/internal/version"
)

func newMetricsCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show fleet metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			m, err := a.client().Metrics(cmd.Context())
			if err != nil {
				return err
			}
			return render(a.out, output, m, func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "agents\t%d\n", m.AgentsTotal)
				fmt.Fprintf(tw, "online\t%d\n", m.AgentsOnline)
				rate := "n/a"
				if m.CommandSuccessRate != nil {
					rate = fmt.Sprintf("%.0f%%", *m.CommandSuccessRate*100)
				}
				fmt.Fprintf(tw, "command success (last 100)\t%s\n", rate)
				fmt.Fprintf(tw, "app drift\t%d\n", m.AppDrift)

				if len(m.UptimeSeconds) == 0 {
					return
				}
				ids := make([]string, 0, len(m.UptimeSeconds))
				for id := range m.UptimeSeconds {
					ids = append(ids, id)
				}
				sort.Strings(ids)
				fmt.Fprintln(tw, "\nAGENT\tLAST SEEN")
				for _, id := range ids {
					since, _ := m.SinceSeen(id)
					fmt.Fprintf(tw, "%s\t%s\n", id, formatAgo(since))
				}
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "table, json or yaml")
	return cmd
}

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "health",
		Short:       "Check that the server is reachable",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationNoAuth: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := a.client().Health(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s: %s (server time %s)\n", a.cfg.Server.URL, h.Status, h.Time)
			return nil
		},
	}
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the fleetctl version",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationNoAuth: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(a.out, version.UserAgent())
			return nil
		},
	}
}
