package main

import (
	"context"
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"fleetconsole/internal/command"
	"fleetconsole/internal/logger"
	"fleetconsole/internal/stream"
)

func newUpgradeCmd(a *app) *cobra.Command {
	var (
		noFollow bool
		subs     []string
	)
	cmd := &cobra.Command{
		Use:   "upgrade <agent-id>",
		Short: "Run apt upgrade on an agent and follow its log",
		Long: `Dispatch apt_upgrade to an agent. The upgrade is refused without a
request when the agent reported that passwordless sudo for apt is not
configured.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			detail := a.console().Detail(args[0])
			defer detail.Close()

			agent, err := detail.Load(ctx)
			if err != nil {
				return err
			}
			if err := command.CheckPrecondition(agent, command.KindAptUpgrade); err != nil {
				return errors.WithHint(err, command.SudoersHint)
			}

			if noFollow {
				dispatcher := command.NewDispatcher(a.client(), logger.Component(a.log, "dispatch"))
				id, err := dispatcher.Upgrade(ctx, agent, subs...)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s queued for %s: %s\n", command.KindAptUpgrade, agent.ID, id)
				return nil
			}

			tailer, err := detail.Upgrade(ctx, subs...)
			if err != nil {
				return err
			}
			return a.follow(ctx, tailer)
		},
	}
	cmd.Flags().BoolVar(&noFollow, "no-follow", false, "print the command id and exit")
	cmd.Flags().StringArrayVar(&subs, "sub", nil, "sub-command for the agent to run, repeatable")
	return cmd
}

func newSudoCheckCmd(a *app) *cobra.Command {
	var noFollow bool
	cmd := &cobra.Command{
		Use:   "sudo-check <agent-id>",
		Short: "Ask an agent to re-test passwordless sudo for apt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if noFollow {
				dispatcher := command.NewDispatcher(a.client(), logger.Component(a.log, "dispatch"))
				id, err := dispatcher.SudoCheck(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s queued for %s: %s\n", command.KindSudoCheck, args[0], id)
				return nil
			}

			detail := a.console().Detail(args[0])
			defer detail.Close()
			tailer, err := detail.SudoCheck(ctx)
			if err != nil {
				return err
			}
			return a.follow(ctx, tailer)
		},
	}
	cmd.Flags().BoolVar(&noFollow, "no-follow", false, "print the command id and exit")
	return cmd
}

func newTailCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tail <command-id>",
		Short: "Follow the log of a command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tailer, release, err := a.console().Tail(ctx, command.ID(args[0]))
			if err != nil {
				return err
			}
			defer release()
			return a.follow(ctx, tailer)
		},
	}
}

// follow copies a tailer's log to stdout until the stream ends or ctx is
// cancelled. A failed stream is returned as an error.
func (a *app) follow(ctx context.Context, tailer *command.Tailer) error {
	fmt.Fprintf(a.errOut, "following %s (ctrl-c to detach)\n", tailer.ID())
	offset := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tailer.Updates():
		}

		var chunk string
		chunk, offset = tailer.LogFrom(offset)
		if _, err := io.WriteString(a.out, chunk); err != nil {
			return errors.Wrap(err, "write log")
		}
		if tailer.State() != command.StateClosed {
			continue
		}

		// Closed is final; anything appended before it is in this read.
		chunk, _ = tailer.LogFrom(offset)
		_, _ = io.WriteString(a.out, chunk)

		outcome := tailer.Outcome()
		switch outcome.Reason {
		case stream.ReasonFailed:
			return errors.Wrapf(outcome.Err, "log of %s", tailer.ID())
		case stream.ReasonEndOfStream:
			fmt.Fprintf(a.errOut, "%s: stream ended\n", tailer.ID())
		}
		return nil
	}
}
