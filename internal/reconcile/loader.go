// Package reconcile keeps a fleet.Roster in step with the server: a one-shot
// snapshot load followed by the ordered stream of agent_update events.
package reconcile

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"fleetconsole/internal/auth"
	"fleetconsole/internal/fleet"
)

// ErrLoadFailed marks a snapshot read that failed for a reason other than
// authentication.
var ErrLoadFailed = errors.New("snapshot load failed")

// LoadState is where a Loader is in its one-shot lifecycle.
type LoadState int32

const (
	LoadIdle LoadState = iota
	LoadLoading
	LoadLoaded
	LoadFailed
	LoadUnauthorized
)

func (s LoadState) String() string {
	switch s {
	case LoadIdle:
		return "idle"
	case LoadLoading:
		return "loading"
	case LoadLoaded:
		return "loaded"
	case LoadFailed:
		return "failed"
	case LoadUnauthorized:
		return "unauthorized"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// SnapshotSource reads the full agent list.
type SnapshotSource interface {
	ListAgents(ctx context.Context) ([]fleet.Agent, error)
}

// Loader populates a roster from one snapshot read.
type Loader struct {
	source SnapshotSource
	log    *logrus.Entry
	state  atomic.Int32
}

// NewLoader returns a loader reading from source.
func NewLoader(source SnapshotSource, log *logrus.Entry) *Loader {
	return &Loader{source: source, log: log}
}

// State is the outcome of the latest Load.
func (l *Loader) State() LoadState {
	return LoadState(l.state.Load())
}

// Load issues exactly one snapshot read and installs the result wholesale.
// On any failure the roster is left empty. An authentication failure is
// returned as auth.ErrUnauthorized; anything else is marked ErrLoadFailed.
func (l *Loader) Load(ctx context.Context, roster *fleet.Roster) error {
	l.state.Store(int32(LoadLoading))

	agents, err := l.source.ListAgents(ctx)
	if err != nil {
		roster.Replace(nil)
		if errors.Is(err, auth.ErrUnauthorized) {
			l.state.Store(int32(LoadUnauthorized))
			l.log.WithError(err).Warn("snapshot rejected: credential no longer valid")
			return err
		}
		l.state.Store(int32(LoadFailed))
		l.log.WithError(err).Error("snapshot load failed")
		return errors.Mark(errors.Wrap(err, "load snapshot"), ErrLoadFailed)
	}

	roster.Replace(agents)
	l.state.Store(int32(LoadLoaded))
	l.log.WithField("agents", roster.Len()).Debug("snapshot loaded")
	return nil
}
