// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package resolver

import (
	"github.com/aplane-algo/keyresolver/internal/format"
	"github.com/aplane-algo/keyresolver/internal/keys"
)

// Result is the key assignment for one message, grouped by concrete format.
type Result struct {
	SigningKeys     map[format.Format][]keys.Key
	EncryptionKeys  map[format.Format]map[keys.Mailbox][]keys.Key
	HiddenKeys      map[format.Format]map[keys.Mailbox][]keys.Key
	SendUnencrypted bool
}

// NewResult returns an empty result with allocated maps.
func NewResult() *Result {
	return &Result{
		SigningKeys:    make(map[format.Format][]keys.Key),
		EncryptionKeys: make(map[format.Format]map[keys.Mailbox][]keys.Key),
		HiddenKeys:     make(map[format.Format]map[keys.Mailbox][]keys.Key),
	}
}

// Clone returns a deep copy. A nil result clones to an empty one.
func (r *Result) Clone() *Result {
	out := NewResult()
	if r == nil {
		return out
	}
	out.SendUnencrypted = r.SendUnencrypted
	for f, ks := range r.SigningKeys {
		out.SigningKeys[f] = append([]keys.Key(nil), ks...)
	}
	out.EncryptionKeys = cloneRecipientKeys(r.EncryptionKeys)
	out.HiddenKeys = cloneRecipientKeys(r.HiddenKeys)
	return out
}

func cloneRecipientKeys(in map[format.Format]map[keys.Mailbox][]keys.Key) map[format.Format]map[keys.Mailbox][]keys.Key {
	out := make(map[format.Format]map[keys.Mailbox][]keys.Key, len(in))
	for f, m := range in {
		cm := make(map[keys.Mailbox][]keys.Key, len(m))
		for mb, ks := range m {
			cm[mb] = append([]keys.Key(nil), ks...)
		}
		out[f] = cm
	}
	return out
}

// AddSigning appends signing keys for f.
func (r *Result) AddSigning(f format.Format, ks ...keys.Key) {
	if r.SigningKeys == nil {
		r.SigningKeys = make(map[format.Format][]keys.Key)
	}
	r.SigningKeys[f] = append(r.SigningKeys[f], ks...)
}

// AddEncryption appends keys for a visible (hidden=false) or hidden recipient.
func (r *Result) AddEncryption(f format.Format, mailbox keys.Mailbox, hidden bool, ks ...keys.Key) {
	if r.EncryptionKeys == nil {
		r.EncryptionKeys = make(map[format.Format]map[keys.Mailbox][]keys.Key)
	}
	if r.HiddenKeys == nil {
		r.HiddenKeys = make(map[format.Format]map[keys.Mailbox][]keys.Key)
	}
	target := r.EncryptionKeys
	if hidden {
		target = r.HiddenKeys
	}
	if target[f] == nil {
		target[f] = make(map[keys.Mailbox][]keys.Key)
	}
	target[f][mailbox] = append(target[f][mailbox], ks...)
}

// HasEncryptionKeys reports whether mailbox has keys in any format.
func (r *Result) HasEncryptionKeys(mailbox keys.Mailbox, hidden bool) bool {
	source := r.EncryptionKeys
	if hidden {
		source = r.HiddenKeys
	}
	for _, m := range source {
		if len(m[mailbox]) > 0 {
			return true
		}
	}
	return false
}

// HasSigningKeys reports whether any format carries signing keys.
func (r *Result) HasSigningKeys() bool {
	for _, ks := range r.SigningKeys {
		if len(ks) > 0 {
			return true
		}
	}
	return false
}

// Formats returns the concrete formats used anywhere in the result, in
// canonical order.
func (r *Result) Formats() []format.Format {
	var out []format.Format
	for _, f := range format.Concrete {
		if len(r.SigningKeys[f]) > 0 || len(r.EncryptionKeys[f]) > 0 || len(r.HiddenKeys[f]) > 0 {
			out = append(out, f)
		}
	}
	return out
}

// dropRecipient removes mailbox from every format of both recipient maps.
func (r *Result) dropRecipient(mailbox keys.Mailbox) {
	for _, m := range r.EncryptionKeys {
		delete(m, mailbox)
	}
	for _, m := range r.HiddenKeys {
		delete(m, mailbox)
	}
}

// normalize drops empty key lists and removes hidden entries for mailboxes
// also listed as visible recipients in the same format.
func (r *Result) normalize() {
	if r.SigningKeys == nil {
		r.SigningKeys = make(map[format.Format][]keys.Key)
	}
	if r.EncryptionKeys == nil {
		r.EncryptionKeys = make(map[format.Format]map[keys.Mailbox][]keys.Key)
	}
	if r.HiddenKeys == nil {
		r.HiddenKeys = make(map[format.Format]map[keys.Mailbox][]keys.Key)
	}

	for f, ks := range r.SigningKeys {
		if len(ks) == 0 {
			delete(r.SigningKeys, f)
		}
	}
	pruneRecipientKeys(r.EncryptionKeys)
	for f, hidden := range r.HiddenKeys {
		for mb := range hidden {
			if _, visible := r.EncryptionKeys[f][mb]; visible {
				delete(hidden, mb)
			}
		}
	}
	pruneRecipientKeys(r.HiddenKeys)
}

func pruneRecipientKeys(m map[format.Format]map[keys.Mailbox][]keys.Key) {
	for f, byMailbox := range m {
		for mb, ks := range byMailbox {
			if len(ks) == 0 {
				delete(byMailbox, mb)
			}
		}
		if len(byMailbox) == 0 {
			delete(m, f)
		}
	}
}
