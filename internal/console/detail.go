package console

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"fleetconsole/internal/command"
	"fleetconsole/internal/fleet"
	"fleetconsole/internal/logger"
)

// ErrNotLoaded is returned by Detail actions before a successful Load.
var ErrNotLoaded = errors.New("agent not loaded")

// Detail is the single-agent view: one read of the agent, the guarded
// upgrade action and the log of the command it started.
type Detail struct {
	console    *Console
	agentID    string
	log        *logrus.Entry
	dispatcher *command.Dispatcher
	slot       *command.Slot
	ctx        context.Context
	cancel     context.CancelFunc

	mu     sync.Mutex
	agent  fleet.Agent
	loaded bool
}

// Detail returns the detail view of agentID.
func (c *Console) Detail(agentID string) *Detail {
	log := logger.Component(c.log, "detail").WithField("agent", agentID)
	ctx, cancel := context.WithCancel(context.Background())
	return &Detail{
		console:    c,
		agentID:    agentID,
		log:        log,
		dispatcher: command.NewDispatcher(c.client, log),
		slot:       command.NewSlot(c.OpenLog, log),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// AgentID is the agent this view shows.
func (d *Detail) AgentID() string {
	return d.agentID
}

// Load reads the agent, including its apps state.
func (d *Detail) Load(ctx context.Context) (fleet.Agent, error) {
	agent, err := d.console.client.GetAgent(ctx, d.agentID)
	if err != nil {
		return fleet.Agent{}, d.console.checkAuth(err)
	}
	d.mu.Lock()
	d.agent = agent
	d.loaded = true
	d.mu.Unlock()
	return agent, nil
}

// Agent is the agent as last loaded.
func (d *Detail) Agent() (fleet.Agent, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.agent, d.loaded
}

// Upgrade dispatches apt_upgrade with optional sub-commands and follows its
// log, replacing any log already shown. After Close nothing is dispatched.
func (d *Detail) Upgrade(ctx context.Context, commands ...string) (*command.Tailer, error) {
	if d.slot.Released() {
		return nil, command.ErrSlotReleased
	}
	agent, ok := d.Agent()
	if !ok {
		return nil, ErrNotLoaded
	}
	id, err := d.dispatcher.Upgrade(ctx, agent, commands...)
	if err != nil {
		return nil, d.console.checkAuth(err)
	}
	return d.slot.Open(d.ctx, id)
}

// SudoCheck dispatches the sudo capability check and follows its log.
func (d *Detail) SudoCheck(ctx context.Context) (*command.Tailer, error) {
	if d.slot.Released() {
		return nil, command.ErrSlotReleased
	}
	id, err := d.dispatcher.SudoCheck(ctx, d.agentID)
	if err != nil {
		return nil, d.console.checkAuth(err)
	}
	return d.slot.Open(d.ctx, id)
}

// Tail is the active log tail, or nil.
func (d *Detail) Tail() *command.Tailer {
	return d.slot.Current()
}

// Close stops the active log tail. Safe to call repeatedly.
func (d *Detail) Close() error {
	err := d.slot.Release()
	d.cancel()
	return err
}
