// Package tui is the terminal dashboard: the fleet list with live updates
// and the per-agent detail screen with its command log.
package tui

import (
	"context"

	"fleetconsole/internal/command"
	"fleetconsole/internal/console"
	"fleetconsole/internal/fleet"
	"fleetconsole/internal/reconcile"
	"fleetconsole/internal/stream"
	"fleetconsole/internal/view"
)

// Dashboard is a mounted fleet view. *console.Dashboard satisfies it.
type Dashboard interface {
	Agents(q view.Query) []fleet.Agent
	Agent(id string) (fleet.Agent, bool)
	Summary() view.Counts
	Changes() <-chan struct{}
	LoadState() reconcile.LoadState
	StreamStatus() stream.Termination
	Upgrade(ctx context.Context, agentID string) (command.ID, error)
	SudoCheck(ctx context.Context, agentID string) (command.ID, error)
	Unmount() error
}

// Detail is a single-agent view. *console.Detail satisfies it.
type Detail interface {
	AgentID() string
	Load(ctx context.Context) (fleet.Agent, error)
	Upgrade(ctx context.Context, commands ...string) (*command.Tailer, error)
	SudoCheck(ctx context.Context) (*command.Tailer, error)
	Close() error
}

// Backend creates views. Mount returns the dashboard even when the snapshot
// failed, so live updates can still fill it; the error is shown.
type Backend struct {
	Mount      func(ctx context.Context) (Dashboard, error)
	OpenDetail func(agentID string) Detail
}

// ConsoleBackend adapts a console.Console.
func ConsoleBackend(c *console.Console) Backend {
	return Backend{
		Mount: func(ctx context.Context) (Dashboard, error) {
			d := c.Dashboard()
			err := d.Mount(ctx)
			return d, err
		},
		OpenDetail: func(agentID string) Detail {
			return c.Detail(agentID)
		},
	}
}
