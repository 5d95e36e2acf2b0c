// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package keys holds the key metadata consumed by the resolver.
//
// The resolver never touches key material. A Key carries the fingerprint
// plus the capability and validity flags needed to decide whether the key is
// usable for signing or encryption.
package keys

import (
	"fmt"
	"strings"
)

// Protocol is the key family a key belongs to.
type Protocol int

const (
	UnknownProtocol Protocol = iota
	OpenPGP
	CMS
)

func (p Protocol) String() string {
	switch p {
	case OpenPGP:
		return "openpgp"
	case CMS:
		return "cms"
	default:
		return "unknown"
	}
}

// ParseProtocol converts "openpgp" / "cms" (also "smime", "x509") to a Protocol.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openpgp", "pgp", "gpg":
		return OpenPGP, nil
	case "cms", "smime", "x509":
		return CMS, nil
	default:
		return UnknownProtocol, fmt.Errorf("unknown key protocol %q", s)
	}
}

// Usage is what a key is needed for.
type Usage int

const (
	Sign Usage = iota
	Encrypt
)

func (u Usage) String() string {
	if u == Sign {
		return "sign"
	}
	return "encrypt"
}

// Validity is the owner-trust validity of a key's user IDs, as reported by
// the backend. Ordering is meaningful: higher is more trusted.
type Validity int

const (
	ValidityUnknown Validity = iota
	ValidityUndefined
	ValidityNever
	ValidityMarginal
	ValidityFull
	ValidityUltimate
)

var validityNames = []string{"unknown", "undefined", "never", "marginal", "full", "ultimate"}

func (v Validity) String() string {
	if int(v) >= 0 && int(v) < len(validityNames) {
		return validityNames[v]
	}
	return "unknown"
}

// ParseValidity converts a validity name to a Validity.
func ParseValidity(s string) (Validity, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ValidityUnknown, nil
	}
	for i, name := range validityNames {
		if name == s {
			return Validity(i), nil
		}
	}
	return ValidityUnknown, fmt.Errorf("unknown validity %q", s)
}

// Key is an opaque handle into a key source.
type Key struct {
	Fingerprint string
	Protocol    Protocol
	Mailboxes   []Mailbox
	CanSign     bool
	CanEncrypt  bool
	HasSecret   bool
	Validity    Validity
	Revoked     bool
	Expired     bool
	Disabled    bool
	Invalid     bool
}

// IsNull reports whether k is the zero key.
func (k Key) IsNull() bool {
	return k.Fingerprint == ""
}

// CanUse reports whether the key's capability flags cover usage.
func (k Key) CanUse(usage Usage) bool {
	if usage == Sign {
		return k.CanSign
	}
	return k.CanEncrypt
}

// HasMailbox reports whether one of the key's user IDs carries m.
func (k Key) HasMailbox(m Mailbox) bool {
	for _, mb := range k.Mailboxes {
		if mb == m {
			return true
		}
	}
	return false
}

// ShortID returns the last 16 hex digits of the fingerprint.
func (k Key) ShortID() string {
	if len(k.Fingerprint) <= 16 {
		return k.Fingerprint
	}
	return k.Fingerprint[len(k.Fingerprint)-16:]
}

// Fingerprints returns the fingerprints of ks in order.
func Fingerprints(ks []Key) []string {
	out := make([]string, len(ks))
	for i, k := range ks {
		out[i] = k.Fingerprint
	}
	return out
}

// Policy decides whether a key is acceptable for a usage. It carries the
// validity criteria, which are owned by the caller.
type Policy func(k Key, usage Usage) bool

// DefaultPolicy accepts keys that are not revoked, expired, disabled or
// invalid, have the capability for the usage, and:
//   - for signing, have a secret key available
//   - for encryption, have validity of at least minValidity
func DefaultPolicy(minValidity Validity) Policy {
	return func(k Key, usage Usage) bool {
		if k.Revoked || k.Expired || k.Disabled || k.Invalid {
			return false
		}
		if !k.CanUse(usage) {
			return false
		}
		if usage == Sign {
			return k.HasSecret
		}
		return k.Validity >= minValidity
	}
}

// Filter returns the keys accepted by p for usage, preserving order.
func (p Policy) Filter(ks []Key, usage Usage) []Key {
	var out []Key
	for _, k := range ks {
		if p(k, usage) {
			out = append(out, k)
		}
	}
	return out
}
