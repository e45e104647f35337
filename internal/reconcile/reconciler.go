package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"fleetconsole/internal/fleet"
	"fleetconsole/internal/stream"
)

// EventAgentUpdate is the only push message type the reconciler applies.
const EventAgentUpdate = "agent_update"

// ErrMalformedEvent is returned by Handle for payloads that cannot be
// applied. Such events are dropped.
var ErrMalformedEvent = errors.New("malformed event")

// Source is a push subscription: a blocking reader of raw messages.
// *stream.Subscription satisfies it.
type Source interface {
	Next() ([]byte, error)
	Close() error
}

type message struct {
	Type  string          `json:"type"`
	Agent json.RawMessage `json:"agent"`
}

// Reconciler merges push events into a roster in receipt order.
type Reconciler struct {
	roster  *fleet.Roster
	log     *logrus.Entry
	changes chan struct{}

	mu      sync.Mutex
	source  Source
	closed  bool
	outcome stream.Termination
}

// New returns a reconciler writing into roster.
func New(roster *fleet.Roster, log *logrus.Entry) *Reconciler {
	return &Reconciler{
		roster:  roster,
		log:     log,
		changes: make(chan struct{}, 1),
	}
}

// Changes fires after the roster or the outcome changed. Signals coalesce:
// a receiver that falls behind sees one pending signal, not one per event.
func (r *Reconciler) Changes() <-chan struct{} {
	return r.changes
}

// Outcome is how the subscription ended, or a ReasonNone termination while
// it is still running.
func (r *Reconciler) Outcome() stream.Termination {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome
}

// Handle applies one raw push message. Unknown message types are ignored.
func (r *Reconciler) Handle(raw []byte) error {
	var msg message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return errors.Mark(errors.Wrap(err, "decode push message"), ErrMalformedEvent)
	}
	if msg.Type != EventAgentUpdate {
		return nil
	}
	if len(msg.Agent) == 0 || bytes.Equal(msg.Agent, []byte("null")) {
		return errors.Wrap(ErrMalformedEvent, "agent_update without agent")
	}

	var patch fleet.Patch
	if err := json.Unmarshal(msg.Agent, &patch); err != nil {
		return errors.Mark(errors.Wrap(err, "decode agent_update"), ErrMalformedEvent)
	}
	if patch.ID == "" {
		return errors.Wrap(ErrMalformedEvent, "agent_update without id")
	}

	if r.roster.Apply(patch) {
		r.log.WithField("agent", patch.ID).Debug("agent added by push update")
	}
	r.notify()
	return nil
}

// Run reads src until it ends and applies every message in order. It never
// reconnects. Cancelling ctx or calling Close stops it with ReasonClosed.
func (r *Reconciler) Run(ctx context.Context, src Source) stream.Termination {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = src.Close()
		return r.finish(stream.Termination{Reason: stream.ReasonClosed})
	}
	r.source = src
	r.mu.Unlock()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = src.Close()
		case <-stop:
		}
	}()

	for {
		raw, err := src.Next()
		if err != nil {
			outcome := stream.Terminate(err)
			if outcome.Reason == stream.ReasonFailed {
				r.log.WithError(err).Warn("live updates stopped")
			} else {
				r.log.WithField("reason", outcome.Reason.String()).Info("live updates ended")
			}
			return r.finish(outcome)
		}
		if err := r.Handle(raw); err != nil {
			r.log.WithError(err).Debug("dropping push message")
		}
	}
}

// Close stops Run by closing its subscription. It is idempotent and may be
// called before Run, in which case Run returns immediately.
func (r *Reconciler) Close() error {
	r.mu.Lock()
	r.closed = true
	src := r.source
	r.mu.Unlock()
	if src != nil {
		return src.Close()
	}
	return nil
}

func (r *Reconciler) finish(outcome stream.Termination) stream.Termination {
	r.mu.Lock()
	r.outcome = outcome
	r.mu.Unlock()
	r.notify()
	return outcome
}

func (r *Reconciler) notify() {
	select {
	case r.changes <- struct{}{}:
	default:
	}
}
