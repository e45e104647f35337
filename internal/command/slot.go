package command

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

// ErrSlotReleased is returned by Open after Release.
var ErrSlotReleased = errors.New("log slot released")

// Slot owns the single active tailer of a view. Opening a new tailer closes
// the previous one first, so output of a superseded command never reaches
// the new buffer.
type Slot struct {
	open Opener
	log  *logrus.Entry

	mu       sync.Mutex
	current  *Tailer
	released bool
}

// NewSlot returns an empty slot that opens logs with open.
func NewSlot(open Opener, log *logrus.Entry) *Slot {
	return &Slot{open: open, log: log}
}

// Open closes the current tailer, waits for it to reach StateClosed, and
// starts following id with an empty buffer.
func (s *Slot) Open(ctx context.Context, id ID) (*Tailer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil, ErrSlotReleased
	}
	if s.current != nil {
		s.log.WithFields(logrus.Fields{
			"previous": string(s.current.ID()),
			"next":     string(id),
		}).Debug("superseding log tail")
		_ = s.current.Close()
	}
	s.current = startTailer(ctx, id, s.open, s.log)
	return s.current, nil
}

// Current is the active tailer, or nil.
func (s *Slot) Current() *Tailer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Released reports whether Release has been called.
func (s *Slot) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// Release closes the current tailer and refuses further opens. Safe to
// call repeatedly.
func (s *Slot) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	if s.current != nil {
		_ = s.current.Close()
	}
	return nil
}
