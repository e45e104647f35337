package console

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"fleetconsole/internal/api"
	"fleetconsole/internal/auth"
	"fleetconsole/internal/command"
	"fleetconsole/internal/fleet"
	"fleetconsole/internal/logger"
	"fleetconsole/internal/reconcile"
	"fleetconsole/internal/stream"
	"fleetconsole/internal/view"
)

// Dashboard is the fleet overview: a snapshot followed by live updates,
// filtered through the view model. Each Dashboard owns its roster; a
// remount is a new Dashboard.
type Dashboard struct {
	console    *Console
	log        *logrus.Entry
	roster     *fleet.Roster
	loader     *reconcile.Loader
	reconciler *reconcile.Reconciler
	dispatcher *command.Dispatcher

	mu        sync.Mutex
	mounted   bool
	unmounted bool
	cancel    context.CancelFunc
	done      chan struct{}
	dialErr   error

	unmountOnce sync.Once
}

// Dashboard returns an unmounted dashboard.
func (c *Console) Dashboard() *Dashboard {
	log := logger.Component(c.log, "dashboard")
	roster := fleet.NewRoster()
	return &Dashboard{
		console:    c,
		log:        log,
		roster:     roster,
		loader:     reconcile.NewLoader(c.client, log),
		reconciler: reconcile.New(roster, log),
		dispatcher: command.NewDispatcher(c.client, log),
		done:       make(chan struct{}),
	}
}

// Mount loads the snapshot and then opens the live subscription. An
// unauthorized snapshot read returns ErrLoginRequired without subscribing.
// Any other snapshot failure is returned after the subscription was
// started, leaving an empty roster that live updates may still fill.
// Mounting twice is a no-op.
func (d *Dashboard) Mount(ctx context.Context) error {
	d.mu.Lock()
	if d.mounted || d.unmounted {
		d.mu.Unlock()
		return nil
	}
	d.mounted = true
	runCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.mu.Unlock()

	loadErr := d.loader.Load(ctx, d.roster)
	if errors.Is(loadErr, auth.ErrUnauthorized) {
		close(d.done)
		return d.console.checkAuth(loadErr)
	}

	src, err := d.console.Subscribe(ctx)
	if err != nil {
		d.log.WithError(err).Warn("live updates unavailable")
		d.mu.Lock()
		d.dialErr = err
		d.mu.Unlock()
		close(d.done)
		if errors.Is(err, auth.ErrUnauthorized) {
			return d.console.checkAuth(err)
		}
		return loadErr
	}

	go func() {
		defer close(d.done)
		outcome := d.reconciler.Run(runCtx, src)
		if errors.Is(outcome.Err, auth.ErrUnauthorized) {
			_ = d.console.checkAuth(outcome.Err)
		}
	}()
	return loadErr
}

// Unmount closes the subscription and waits for the
// reconciler to stop. Safe to call repeatedly, and before Mount.
func (d *Dashboard) Unmount() error {
	d.unmountOnce.Do(func() {
		d.mu.Lock()
		d.unmounted = true
		mounted := d.mounted
		cancel := d.cancel
		d.mu.Unlock()

		_ = d.reconciler.Close()
		if cancel != nil {
			cancel()
		}
		if mounted {
			<-d.done
		}
	})
	return nil
}

// Agents projects the current roster through q.
func (d *Dashboard) Agents(q view.Query) []fleet.Agent {
	return view.Project(d.roster.Snapshot(), q)
}

// Agent returns one agent from the roster.
func (d *Dashboard) Agent(id string) (fleet.Agent, bool) {
	return d.roster.Get(id)
}

// Summary counts the whole roster.
func (d *Dashboard) Summary() view.Counts {
	return view.Summary(d.roster.Snapshot())
}

// Changes fires when the roster or the live status changed.
func (d *Dashboard) Changes() <-chan struct{} {
	return d.reconciler.Changes()
}

// LoadState is the snapshot load state.
func (d *Dashboard) LoadState() reconcile.LoadState {
	return d.loader.State()
}

// StreamStatus reports whether live updates are still flowing. A failed
// dial is reported as ReasonFailed.
func (d *Dashboard) StreamStatus() stream.Termination {
	d.mu.Lock()
	dialErr := d.dialErr
	d.mu.Unlock()
	if dialErr != nil {
		return stream.Termination{Reason: stream.ReasonFailed, Err: dialErr}
	}
	return d.reconciler.Outcome()
}

// Upgrade dispatches apt_upgrade to the agent as currently reconciled.
func (d *Dashboard) Upgrade(ctx context.Context, agentID string) (command.ID, error) {
	agent, ok := d.roster.Get(agentID)
	if !ok {
		return "", errors.Wrapf(api.ErrNotFound, "agent %s", agentID)
	}
	id, err := d.dispatcher.Upgrade(ctx, agent)
	return id, d.console.checkAuth(err)
}

// SudoCheck dispatches the sudo capability check.
func (d *Dashboard) SudoCheck(ctx context.Context, agentID string) (command.ID, error) {
	id, err := d.dispatcher.SudoCheck(ctx, agentID)
	return id, d.console.checkAuth(err)
}
