package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"fleetconsole/internal/fleet"
	"fleetconsole/internal/view"
)

func newAgentsCmd(a *app) *cobra.Command {
	var (
		filter string
		search string
		output string
	)
	cmd := &cobra.Command{
		Use:     "agents",
		Aliases: []string{"ls"},
		Short:   "List agents",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			if filter == "" {
				filter = a.cfg.UI.Filter
			}
			f, err := view.ParseFilter(filter)
			if err != nil {
				return err
			}

			agents, err := a.client().ListAgents(cmd.Context())
			if err != nil {
				return err
			}
			shown := view.Project(agents, view.Query{Filter: f, Search: search})

			return render(a.out, output, shown, func(tw *tabwriter.Writer) {
				writeAgentTable(tw, shown)
				counts := view.Summary(agents)
				fmt.Fprintf(tw, "\n%d of %d agents\t%d online\t%d outdated\t%d sudo not configured\n",
					len(shown), counts.Total, counts.Online, counts.Outdated, counts.SudoBlocked)
			})
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "all or outdated (default ui.filter)")
	cmd.Flags().StringVar(&search, "search", "", "case-insensitive substring of the agent id")
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "table, json or yaml")
	return cmd
}

func newShowCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "show <agent-id>",
		Short: "Show one agent including its apps state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			detail := a.console().Detail(args[0])
			defer detail.Close()

			agent, err := detail.Load(cmd.Context())
			if err != nil {
				return err
			}
			return render(a.out, output, agent, func(tw *tabwriter.Writer) {
				writeAgentDetail(tw, agent)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "table, json or yaml")
	return cmd
}

func writeAgentDetail(tw *tabwriter.Writer, agent fleet.Agent) {
	fmt.Fprintf(tw, "id\t%s\n", agent.ID)
	fmt.Fprintf(tw, "status\t%s\n", agent.Status)
	fmt.Fprintf(tw, "last seen\t%s (%s)\n", agent.LastSeen, lastSeenAge(agent))
	fmt.Fprintf(tw, "updates\t%s\n", updatesCell(agent))
	fmt.Fprintf(tw, "sudo apt\t%s\n", sudoCell(agent))
	if len(agent.AppsState) == 0 {
		fmt.Fprintln(tw, "\napps: none reported")
		return
	}
	fmt.Fprintln(tw, "\napps:")
	for _, name := range agent.AppsState.Names() {
		fmt.Fprintf(tw, "  %s: %s\n", name, indentJSON(agent.AppsState[name]))
	}
}
