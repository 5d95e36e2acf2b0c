// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package overrides holds caller-forced key assignments.
//
// An override names, for a format and a mailbox, the exact fingerprints to
// use. When an override applies it replaces automatic discovery entirely,
// even when none of its fingerprints resolve.
package overrides

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aplane-algo/keyresolver/internal/format"
	"github.com/aplane-algo/keyresolver/internal/keys"
)

// Table maps a format (concrete or wildcard) and a mailbox to an ordered
// list of fingerprints.
type Table map[format.Format]map[keys.Mailbox][]string

// Set replaces the fingerprints for (f, mailbox). The mailbox is normalized.
func (t Table) Set(f format.Format, mailbox string, fingerprints ...string) {
	m := t[f]
	if m == nil {
		m = make(map[keys.Mailbox][]string)
		t[f] = m
	}
	m[keys.NormalizeMailbox(mailbox)] = append([]string(nil), fingerprints...)
}

// Lookup returns the entry governing a concrete format for mailbox.
// An exact entry wins over the family wildcard, which wins over Auto.
// exact is false when the entry was inherited from a wildcard.
func (t Table) Lookup(concrete format.Format, mailbox keys.Mailbox) (fprs []string, exact, ok bool) {
	if fprs, ok := t[concrete][mailbox]; ok {
		return fprs, true, true
	}
	family := format.AnyOpenPGP
	if concrete.Family() == keys.CMS {
		family = format.AnySMIME
	}
	if fprs, ok := t[family][mailbox]; ok {
		return fprs, false, true
	}
	if fprs, ok := t[format.Auto][mailbox]; ok {
		return fprs, false, true
	}
	return nil, false, false
}

// Len returns the number of (format, mailbox) entries.
func (t Table) Len() int {
	n := 0
	for _, m := range t {
		n += len(m)
	}
	return n
}

// Clone returns a deep copy.
func (t Table) Clone() Table {
	out := make(Table, len(t))
	for f, m := range t {
		cm := make(map[keys.Mailbox][]string, len(m))
		for mb, fprs := range m {
			cm[mb] = append([]string(nil), fprs...)
		}
		out[f] = cm
	}
	return out
}

// ParseError describes a malformed override entry.
type ParseError struct {
	Entry  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid override %q: %s", e.Entry, e.Reason)
}

// Parse builds a table from entries of the form
// "mailbox:fpr[,fpr...][:format]". The format defaults to auto.
// A later entry for the same (format, mailbox) replaces an earlier one.
func Parse(entries []string) (Table, error) {
	t := make(Table)
	for _, entry := range entries {
		if err := parseEntry(t, entry); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func parseEntry(t Table, entry string) error {
	parts := strings.Split(entry, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return &ParseError{Entry: entry, Reason: "expected mailbox:fpr[,fpr...][:format]"}
	}

	mailbox := keys.NormalizeMailbox(parts[0])
	if mailbox == "" {
		return &ParseError{Entry: entry, Reason: "empty mailbox"}
	}

	f := format.Auto
	if len(parts) == 3 {
		var err error
		if f, err = format.Parse(parts[2]); err != nil {
			return &ParseError{Entry: entry, Reason: "unknown format " + parts[2]}
		}
	}

	var fprs []string
	for _, fpr := range strings.Split(parts[1], ",") {
		if fpr = strings.TrimSpace(fpr); fpr != "" {
			fprs = append(fprs, fpr)
		}
	}
	if len(fprs) == 0 {
		return &ParseError{Entry: entry, Reason: "no fingerprints"}
	}

	t.Set(f, string(mailbox), fprs...)
	return nil
}

// Entries renders the table back to its textual form, ordered by format
// then mailbox.
func (t Table) Entries() []string {
	order := append(append([]format.Format{}, format.Concrete...), format.AnyOpenPGP, format.AnySMIME, format.Auto)
	var out []string
	for _, f := range order {
		mailboxes := make([]string, 0, len(t[f]))
		for mb := range t[f] {
			mailboxes = append(mailboxes, string(mb))
		}
		sort.Strings(mailboxes)
		for _, mb := range mailboxes {
			fprs := t[f][keys.Mailbox(mb)]
			out = append(out, fmt.Sprintf("%s:%s:%s", mb, strings.Join(fprs, ","), f.Token()))
		}
	}
	return out
}

// LookupFunc resolves a fingerprint to a key.
type LookupFunc func(ctx context.Context, fingerprint string) (keys.Key, bool, error)

// Apply returns the authoritative candidates for a concrete format and
// mailbox. When the table has an entry, its fingerprints are resolved in
// order, unresolvable ones are skipped, and the result replaces auto even
// when empty; applied is then true. Keys inherited from a wildcard entry are
// kept only when they belong to the format's family.
//
// A lookup error aborts the override and is returned.
func Apply(ctx context.Context, t Table, lookup LookupFunc, concrete format.Format, mailbox keys.Mailbox, auto []keys.Key) (result []keys.Key, applied bool, err error) {
	fprs, exact, ok := t.Lookup(concrete, mailbox)
	if !ok {
		return auto, false, nil
	}

	result = []keys.Key{}
	for _, fpr := range fprs {
		k, found, err := lookup(ctx, fpr)
		if err != nil {
			return nil, true, fmt.Errorf("override %s for %s: %w", fpr, mailbox, err)
		}
		if !found {
			continue
		}
		if !exact && k.Protocol != concrete.Family() {
			continue
		}
		result = append(result, k)
	}
	return result, true, nil
}
