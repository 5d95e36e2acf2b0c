// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package keysource provides the key lookups the resolver runs against.
//
// A Source answers two questions: which key has this fingerprint, and which
// keys of a family carry this mailbox and can be used for a purpose. Memory
// keeps keys in process, Keyring loads them from YAML files and reloads on
// change, and Agent asks GnuPG-style backend processes over assuan.
package keysource

import (
	"context"
	"strings"
	"sync"

	"github.com/aplane-algo/keyresolver/internal/keys"
)

// Source is the key lookup interface consumed by the resolver.
type Source interface {
	// Lookup resolves a fingerprint (or a long key ID suffix) to a key.
	// The bool is false when no key matches.
	Lookup(ctx context.Context, fingerprint string) (keys.Key, bool, error)

	// Search returns the keys of the given family that list mailbox and
	// whose capability flags cover usage.
	Search(ctx context.Context, mailbox keys.Mailbox, usage keys.Usage, family keys.Protocol) ([]keys.Key, error)
}

// Compile-time checks
var (
	_ Source = (*Memory)(nil)
	_ Source = (*Keyring)(nil)
	_ Source = (*Agent)(nil)
	_ Source = Multi(nil)
)

// minKeyIDLength is the shortest fingerprint suffix accepted by Lookup.
const minKeyIDLength = 16

// normalizeFingerprint upper-cases and strips an optional 0x prefix and spaces.
func normalizeFingerprint(fpr string) string {
	fpr = strings.TrimSpace(fpr)
	fpr = strings.TrimPrefix(strings.TrimPrefix(fpr, "0x"), "0X")
	return strings.ToUpper(strings.ReplaceAll(fpr, " ", ""))
}

// matchFingerprint reports whether want (normalized) names key fingerprint have.
func matchFingerprint(have, want string) bool {
	if want == "" {
		return false
	}
	if have == want {
		return true
	}
	return len(want) >= minKeyIDLength && strings.HasSuffix(have, want)
}

// Memory is an in-process Source. It is safe for concurrent use.
type Memory struct {
	mu   sync.RWMutex
	keys []keys.Key
}

// NewMemory creates a source holding ks.
func NewMemory(ks ...keys.Key) *Memory {
	m := &Memory{}
	m.Add(ks...)
	return m
}

// Add appends keys. Fingerprints are stored upper-case.
func (m *Memory) Add(ks ...keys.Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range ks {
		k.Fingerprint = normalizeFingerprint(k.Fingerprint)
		m.keys = append(m.keys, k)
	}
}

// Replace swaps the whole key set.
func (m *Memory) Replace(ks []keys.Key) {
	fresh := make([]keys.Key, 0, len(ks))
	for _, k := range ks {
		k.Fingerprint = normalizeFingerprint(k.Fingerprint)
		fresh = append(fresh, k)
	}
	m.mu.Lock()
	m.keys = fresh
	m.mu.Unlock()
}

// Len returns the number of keys held.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys)
}

// Lookup implements Source.
func (m *Memory) Lookup(ctx context.Context, fingerprint string) (keys.Key, bool, error) {
	want := normalizeFingerprint(fingerprint)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, k := range m.keys {
		if matchFingerprint(k.Fingerprint, want) {
			return k, true, nil
		}
	}
	return keys.Key{}, false, nil
}

// Search implements Source.
func (m *Memory) Search(ctx context.Context, mailbox keys.Mailbox, usage keys.Usage, family keys.Protocol) ([]keys.Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []keys.Key
	for _, k := range m.keys {
		if k.Protocol == family && k.HasMailbox(mailbox) && k.CanUse(usage) {
			out = append(out, k)
		}
	}
	return out, nil
}

// Multi queries several sources in order. Lookup returns the first hit;
// Search merges results, dropping repeated fingerprints.
type Multi []Source

// Lookup implements Source.
func (ms Multi) Lookup(ctx context.Context, fingerprint string) (keys.Key, bool, error) {
	var firstErr error
	for _, s := range ms {
		k, ok, err := s.Lookup(ctx, fingerprint)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			return k, true, nil
		}
	}
	return keys.Key{}, false, firstErr
}

// Search implements Source. An error is returned only when every source
// failed.
func (ms Multi) Search(ctx context.Context, mailbox keys.Mailbox, usage keys.Usage, family keys.Protocol) ([]keys.Key, error) {
	var (
		out      []keys.Key
		seen     = make(map[string]bool)
		failures int
		firstErr error
	)
	for _, s := range ms {
		ks, err := s.Search(ctx, mailbox, usage, family)
		if err != nil {
			failures++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, k := range ks {
			if seen[k.Fingerprint] {
				continue
			}
			seen[k.Fingerprint] = true
			out = append(out, k)
		}
	}
	if len(ms) > 0 && failures == len(ms) {
		return nil, firstErr
	}
	return out, nil
}
