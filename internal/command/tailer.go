package command

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"fleetconsole/internal/stream"
)

// Separator is appended after every received chunk.
const Separator = "\n"

// State is a tailer's lifecycle position. Closed is terminal.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// LogSource yields a command's output in order. *stream.LogStream
// satisfies it.
type LogSource interface {
	Recv() (string, error)
	Close() error
}

// Opener starts the log source for a command.
type Opener func(ctx context.Context, id ID) (LogSource, error)

// Tailer accumulates the log of one command into an append-only buffer.
type Tailer struct {
	id      ID
	log     *logrus.Entry
	cancel  context.CancelFunc
	updates chan struct{}
	done    chan struct{}

	mu      sync.Mutex
	state   State
	closing bool
	src     LogSource
	buf     strings.Builder
	outcome stream.Termination
}

// startTailer opens the log of id and follows it on a new goroutine.
func startTailer(ctx context.Context, id ID, open Opener, log *logrus.Entry) *Tailer {
	ctx, cancel := context.WithCancel(ctx)
	t := &Tailer{
		id:      id,
		log:     log.WithField("command_id", string(id)),
		cancel:  cancel,
		updates: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go t.run(ctx, open)
	return t
}

func (t *Tailer) run(ctx context.Context, open Opener) {
	defer close(t.done)
	defer t.cancel()

	src, err := open(ctx, t.id)

	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		if err == nil {
			_ = src.Close()
		}
		t.finish(stream.Termination{Reason: stream.ReasonClosed})
		return
	}
	if err != nil {
		t.mu.Unlock()
		t.log.WithError(err).Warn("log stream failed to open")
		t.finish(stream.Termination{Reason: stream.ReasonFailed, Err: err})
		return
	}
	t.src = src
	t.state = StateStreaming
	t.mu.Unlock()
	t.notify()

	for {
		chunk, err := src.Recv()
		if err != nil {
			_ = src.Close()
			outcome := stream.Terminate(err)
			if outcome.Reason == stream.ReasonFailed {
				t.log.WithError(err).Warn("log stream failed")
			} else {
				t.log.WithField("reason", outcome.Reason.String()).Debug("log stream ended")
			}
			t.finish(outcome)
			return
		}
		t.append(chunk)
	}
}

func (t *Tailer) append(chunk string) {
	t.mu.Lock()
	if t.closing || t.state == StateClosed {
		t.mu.Unlock()
		return
	}
	t.buf.WriteString(chunk)
	t.buf.WriteString(Separator)
	t.mu.Unlock()
	t.notify()
}

func (t *Tailer) finish(outcome stream.Termination) {
	t.mu.Lock()
	if t.closing {
		outcome = stream.Termination{Reason: stream.ReasonClosed}
	}
	t.state = StateClosed
	t.outcome = outcome
	t.mu.Unlock()
	t.notify()
}

func (t *Tailer) notify() {
	select {
	case t.updates <- struct{}{}:
	default:
	}
}

// ID is the command being followed.
func (t *Tailer) ID() ID {
	return t.id
}

// State is the current lifecycle state.
func (t *Tailer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Log returns the buffer accumulated so far.
func (t *Tailer) Log() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}

// LogFrom returns the part of the buffer after offset and the new offset.
// Followers pass the returned offset back in to read only new output.
func (t *Tailer) LogFrom(offset int) (string, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	all := t.buf.String()
	if offset < 0 || offset > len(all) {
		offset = len(all)
	}
	return all[offset:], len(all)
}

// Outcome is how the stream ended, or ReasonNone while it runs.
func (t *Tailer) Outcome() stream.Termination {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcome
}

// Updates fires after the buffer or state changed. Signals coalesce.
func (t *Tailer) Updates() <-chan struct{} {
	return t.updates
}

// Done is closed once the tailer reached StateClosed.
func (t *Tailer) Done() <-chan struct{} {
	return t.done
}

// Close detaches from the stream and waits until the tailer is Closed.
// No chunk is appended after Close returns. Safe to call repeatedly.
func (t *Tailer) Close() error {
	t.mu.Lock()
	t.closing = true
	src := t.src
	t.mu.Unlock()

	t.cancel()
	if src != nil {
		_ = src.Close()
	}
	<-t.done
	return nil
}
