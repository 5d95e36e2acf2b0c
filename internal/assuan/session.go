// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package assuan

import (
	"context"
	"sync"
)

// StatusLine is one "S KEYWORD value" line reported during a transaction.
type StatusLine struct {
	Keyword string
	Value   string
}

// Transaction is the buffered output of one completed command.
type Transaction struct {
	Data   []byte
	Status []StatusLine
}

// DataString returns the concatenated data, or "" for an absent transaction.
func (t *Transaction) DataString() string {
	if t == nil {
		return ""
	}
	return string(t.Data)
}

// StatusLines returns the status lines, or nil for an absent transaction.
func (t *Transaction) StatusLines() []StatusLine {
	if t == nil {
		return nil
	}
	return t.Status
}

// Session is a live channel to a backend process.
// A Session is not safe for concurrent use; Slot serializes access.
type Session interface {
	// Transact sends one command and waits for its OK or ERR.
	Transact(ctx context.Context, command string) (*Transaction, error)

	// Close releases the channel.
	Close()
}

// Dialer produces a new Session.
type Dialer func(ctx context.Context) (Session, error)

// Slot owns at most one Session. Invalidate empties it, and every holder of
// the slot sees the empty state and must Acquire again.
type Slot struct {
	mu   sync.Mutex
	sess Session
	dial Dialer
}

// NewSlot creates an empty slot that acquires sessions with dial.
func NewSlot(dial Dialer) *Slot {
	return &Slot{dial: dial}
}

// NewSlotWith creates a slot already holding sess.
func NewSlotWith(sess Session, dial Dialer) *Slot {
	return &Slot{sess: sess, dial: dial}
}

// Acquire fills an empty slot with a new session from the dialer.
// It is a no-op when the slot already holds a session.
func (s *Slot) Acquire(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sess != nil {
		return nil
	}
	if s.dial == nil {
		return ErrNoSession
	}
	sess, err := s.dial(ctx)
	if err != nil {
		return err
	}
	s.sess = sess
	return nil
}

// Valid reports whether the slot currently holds a session.
func (s *Slot) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess != nil
}

// Invalidate closes and releases the session.
func (s *Slot) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidateLocked()
}

func (s *Slot) invalidateLocked() {
	if s.sess != nil {
		s.sess.Close()
		s.sess = nil
	}
}

// Pool hands out one Slot per concurrent caller. Slots are reused after Put.
type Pool struct {
	dial   Dialer
	mu     sync.Mutex
	free   []*Slot
	all    []*Slot
	closed bool
}

// NewPool creates a pool whose slots acquire sessions with dial.
func NewPool(dial Dialer) *Pool {
	return &Pool{dial: dial}
}

// Get returns a slot holding a session, dialing one if needed.
func (p *Pool) Get(ctx context.Context) (*Slot, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	var slot *Slot
	if n := len(p.free); n > 0 {
		slot = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		slot = NewSlot(p.dial)
		p.all = append(p.all, slot)
	}
	p.mu.Unlock()

	if err := slot.Acquire(ctx); err != nil {
		p.Put(slot)
		return nil, err
	}
	return slot, nil
}

// Put returns a slot to the pool. Invalidated slots are kept and
// re-acquired on the next Get.
func (p *Pool) Put(slot *Slot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		slot.Invalidate()
		return
	}
	p.free = append(p.free, slot)
}

// Close invalidates every slot the pool created.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	all := p.all
	p.all, p.free = nil, nil
	p.mu.Unlock()

	for _, s := range all {
		s.Invalidate()
	}
}
