// Package command issues remote commands to agents and follows their output.
package command

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"fleetconsole/internal/api"
	"fleetconsole/internal/fleet"
)

// Kind names a remote command. Values other than the constants below are
// passed through to the server unchanged.
type Kind string

const (
	KindAptUpgrade Kind = "apt_upgrade"
	KindSudoCheck  Kind = "sudo_check"
)

// ID is the server-issued command identifier.
type ID string

// Request is one command for one agent. Commands are optional
// sub-commands the agent runs as part of Kind. ID is optional; the server
// assigns one when it is empty.
type Request struct {
	AgentID  string
	Kind     Kind
	Commands []string
	ID       ID
}

var (
	// ErrDispatchFailed marks a command the server did not accept.
	ErrDispatchFailed = errors.New("dispatch failed")
	// ErrSudoNotConfigured is returned for an upgrade on an agent that
	// reported passwordless sudo for apt as unavailable.
	ErrSudoNotConfigured = errors.New("passwordless sudo for apt is not configured on this agent")
)

// SudoersHint tells the operator how to fix ErrSudoNotConfigured.
const SudoersHint = "the agent user must be able to run apt without a password, e.g. sudoers entry: orchestrator ALL=(root) NOPASSWD:/usr/bin/apt"

// Transport is the server side of dispatch. *api.Client satisfies it.
type Transport interface {
	DispatchCommand(ctx context.Context, agentID string, req api.CommandRequest) (api.CommandAccepted, error)
	SudoCheck(ctx context.Context, agentID string) (api.CommandAccepted, error)
}

// CheckPrecondition reports whether kind may be dispatched to agent given
// its last known state. Only an explicit sudo_apt_ok=false blocks an
// upgrade; an unknown value does not.
func CheckPrecondition(agent fleet.Agent, kind Kind) error {
	if kind == KindAptUpgrade && agent.SudoAptBlocked() {
		return errors.Wrapf(ErrSudoNotConfigured, "agent %s", agent.ID)
	}
	return nil
}

// Dispatcher sends commands. Each call issues at most one request.
type Dispatcher struct {
	transport Transport
	log       *logrus.Entry
}

// NewDispatcher returns a dispatcher using transport.
func NewDispatcher(transport Transport, log *logrus.Entry) *Dispatcher {
	return &Dispatcher{transport: transport, log: log}
}

// Dispatch queues req and returns the command id the server assigned.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (ID, error) {
	if req.AgentID == "" {
		return "", errors.Wrap(ErrDispatchFailed, "agent id is empty")
	}
	if req.Kind == "" {
		return "", errors.Wrap(ErrDispatchFailed, "command kind is empty")
	}
	accepted, err := d.transport.DispatchCommand(ctx, req.AgentID, api.CommandRequest{
		Command:   string(req.Kind),
		Commands:  req.Commands,
		CommandID: string(req.ID),
	})
	return d.accepted(req.AgentID, req.Kind, accepted, err)
}

// Upgrade dispatches apt_upgrade to agent unless CheckPrecondition refuses,
// in which case no request is made.
func (d *Dispatcher) Upgrade(ctx context.Context, agent fleet.Agent, commands ...string) (ID, error) {
	if err := CheckPrecondition(agent, KindAptUpgrade); err != nil {
		d.log.WithField("agent", agent.ID).Info("upgrade refused: sudo for apt not configured")
		return "", err
	}
	return d.Dispatch(ctx, Request{AgentID: agent.ID, Kind: KindAptUpgrade, Commands: commands})
}

// SudoCheck asks the agent to re-test its sudo capability. It is never
// guarded.
func (d *Dispatcher) SudoCheck(ctx context.Context, agentID string) (ID, error) {
	if agentID == "" {
		return "", errors.Wrap(ErrDispatchFailed, "agent id is empty")
	}
	accepted, err := d.transport.SudoCheck(ctx, agentID)
	return d.accepted(agentID, KindSudoCheck, accepted, err)
}

func (d *Dispatcher) accepted(agentID string, kind Kind, accepted api.CommandAccepted, err error) (ID, error) {
	log := d.log.WithFields(logrus.Fields{"agent": agentID, "command": string(kind)})
	if err != nil {
		log.WithError(err).Warn("dispatch failed")
		return "", errors.Mark(err, ErrDispatchFailed)
	}
	if !accepted.Queued || accepted.CommandID == "" {
		log.Warn("dispatch not queued")
		return "", errors.Wrapf(ErrDispatchFailed, "server did not queue %s for %s", kind, agentID)
	}
	log.WithField("command_id", accepted.CommandID).Info("command queued")
	return ID(accepted.CommandID), nil
}
