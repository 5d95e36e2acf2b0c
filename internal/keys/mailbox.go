// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package keys

import "strings"

// Mailbox is a normalized email address. Two mailboxes are the same
// participant exactly when their normalized strings are equal.
type Mailbox string

// NormalizeMailbox trims whitespace, strips an optional display name
// ("Alice <alice@example.org>") and lower-cases the address.
func NormalizeMailbox(s string) Mailbox {
	s = strings.TrimSpace(s)
	if open := strings.LastIndexByte(s, '<'); open >= 0 {
		if end := strings.IndexByte(s[open:], '>'); end > 0 {
			s = s[open+1 : open+end]
		}
	}
	s = strings.TrimPrefix(strings.TrimSpace(s), "mailto:")
	return Mailbox(strings.ToLower(s))
}

// NormalizeMailboxes normalizes a list, dropping empty entries and
// duplicates while keeping first-seen order.
func NormalizeMailboxes(in []string) []Mailbox {
	seen := make(map[Mailbox]bool, len(in))
	out := make([]Mailbox, 0, len(in))
	for _, s := range in {
		m := NormalizeMailbox(s)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// IsValid performs a shallow syntax check (local@domain).
func (m Mailbox) IsValid() bool {
	at := strings.LastIndexByte(string(m), '@')
	return at > 0 && at < len(m)-1 && !strings.ContainsAny(string(m), " \t<>")
}

func (m Mailbox) String() string {
	return string(m)
}
