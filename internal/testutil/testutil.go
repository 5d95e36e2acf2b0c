// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package testutil provides reusable test infrastructure and utilities.
package testutil

import (
	"context"
	"sync"

	"github.com/aplane-algo/keyresolver/internal/assuan"
	"github.com/aplane-algo/keyresolver/internal/keys"
)

// OpenPGPKey builds a fully valid OpenPGP key with a secret part, usable for
// signing and encryption.
func OpenPGPKey(fpr string, mailboxes ...string) keys.Key {
	return keys.Key{
		Fingerprint: fpr,
		Protocol:    keys.OpenPGP,
		Mailboxes:   keys.NormalizeMailboxes(mailboxes),
		CanSign:     true,
		CanEncrypt:  true,
		HasSecret:   true,
		Validity:    keys.ValidityFull,
	}
}

// CMSKey builds a fully valid S/MIME certificate with a secret part.
func CMSKey(fpr string, mailboxes ...string) keys.Key {
	k := OpenPGPKey(fpr, mailboxes...)
	k.Protocol = keys.CMS
	return k
}

// MockSource is an in-memory key source with error injection.
type MockSource struct {
	mu        sync.Mutex
	keys      []keys.Key
	searchErr map[keys.Mailbox]error
	lookupErr error

	Searches int
	Lookups  []string
}

// NewMockSource creates a source holding ks.
func NewMockSource(ks ...keys.Key) *MockSource {
	return &MockSource{keys: ks, searchErr: make(map[keys.Mailbox]error)}
}

// FailSearch makes every Search for mailbox return err.
func (m *MockSource) FailSearch(mailbox keys.Mailbox, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchErr[mailbox] = err
}

// FailLookup makes every Lookup return err.
func (m *MockSource) FailLookup(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookupErr = err
}

// Lookup matches the exact fingerprint.
func (m *MockSource) Lookup(ctx context.Context, fingerprint string) (keys.Key, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Lookups = append(m.Lookups, fingerprint)
	if m.lookupErr != nil {
		return keys.Key{}, false, m.lookupErr
	}
	for _, k := range m.keys {
		if k.Fingerprint == fingerprint {
			return k, true, nil
		}
	}
	return keys.Key{}, false, nil
}

// Search returns keys of family listing mailbox with the usage capability.
func (m *MockSource) Search(ctx context.Context, mailbox keys.Mailbox, usage keys.Usage, family keys.Protocol) ([]keys.Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Searches++
	if err := m.searchErr[mailbox]; err != nil {
		return nil, err
	}
	var out []keys.Key
	for _, k := range m.keys {
		if k.Protocol == family && k.HasMailbox(mailbox) && k.CanUse(usage) {
			out = append(out, k)
		}
	}
	return out, nil
}

// Reply is a canned answer of MockSession.
type Reply struct {
	Data   string
	Status []assuan.StatusLine
	Err    error
}

// MockSession answers commands from a fixed table. Unknown commands fail
// with an unknown-command error.
type MockSession struct {
	mu       sync.Mutex
	replies  map[string]Reply
	Commands []string
	Closed   bool
}

// NewMockSession creates a session answering with replies.
func NewMockSession(replies map[string]Reply) *MockSession {
	return &MockSession{replies: replies}
}

// Transact implements assuan.Session.
func (s *MockSession) Transact(ctx context.Context, command string) (*assuan.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Commands = append(s.Commands, command)
	r, ok := s.replies[command]
	if !ok {
		return nil, &assuan.Error{Code: assuan.ErrUnknownCmd, Description: "unknown command"}
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return &assuan.Transaction{Data: []byte(r.Data), Status: r.Status}, nil
}

// Close implements assuan.Session.
func (s *MockSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
}

// SessionDialer returns a dialer handing out sess on every call.
func SessionDialer(sess assuan.Session) assuan.Dialer {
	return func(ctx context.Context) (assuan.Session, error) {
		return sess, nil
	}
}
