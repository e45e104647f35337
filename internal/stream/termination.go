// Package stream implements the two realtime channels the console consumes:
// the WebSocket push subscription carrying agent updates and the SSE stream
// carrying one command's log. Neither reconnects; each ends in exactly one
// Termination.
package stream

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrClosed is returned by reads after the local side called Close.
var ErrClosed = errors.New("stream closed")

// Reason classifies how a stream ended.
type Reason int

const (
	// ReasonNone means the stream is still open.
	ReasonNone Reason = iota
	// ReasonEndOfStream means the server finished the stream cleanly.
	ReasonEndOfStream
	// ReasonFailed means a transport or protocol error ended the stream.
	ReasonFailed
	// ReasonClosed means the local side closed it (teardown or supersession).
	ReasonClosed
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "open"
	case ReasonEndOfStream:
		return "ended"
	case ReasonFailed:
		return "failed"
	case ReasonClosed:
		return "closed"
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// Termination is the observable end state of a stream.
type Termination struct {
	Reason Reason
	Err    error
}

// Done reports whether the stream has ended.
func (t Termination) Done() bool {
	return t.Reason != ReasonNone
}

func (t Termination) String() string {
	if t.Err != nil {
		return fmt.Sprintf("%s: %v", t.Reason, t.Err)
	}
	return t.Reason.String()
}
