// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package format defines the cryptographic message formats a message can be
// protected with, and the wildcard families grouping them.
//
// Format is a bit set: concrete formats occupy one bit each, and the
// wildcard families (AnyOpenPGP, AnySMIME, Auto) are unions of those bits.
// Expand is the single place that turns either case into concrete members.
package format

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aplane-algo/keyresolver/internal/keys"
)

// Format is a concrete crypto message format or a wildcard family of them.
type Format uint

const (
	InlineOpenPGP Format = 1 << iota
	OpenPGPMIME
	SMIME
	SMIMEOpaque

	AnyOpenPGP = InlineOpenPGP | OpenPGPMIME
	AnySMIME   = SMIME | SMIMEOpaque
	Auto       = AnyOpenPGP | AnySMIME
)

// ErrUnknownFormat is returned by Parse for tokens outside the known set.
var ErrUnknownFormat = errors.New("unknown crypto message format")

// Concrete lists the concrete formats in canonical order.
var Concrete = []Format{OpenPGPMIME, InlineOpenPGP, SMIME, SMIMEOpaque}

var labels = map[Format]string{
	InlineOpenPGP: "Inline OpenPGP",
	OpenPGPMIME:   "OpenPGP/MIME",
	SMIME:         "S/MIME",
	SMIMEOpaque:   "S/MIME Opaque",
	AnyOpenPGP:    "Any OpenPGP",
	AnySMIME:      "Any S/MIME",
	Auto:          "Auto",
}

var tokens = map[Format]string{
	InlineOpenPGP: "inlineopenpgp",
	OpenPGPMIME:   "openpgpmime",
	SMIME:         "smime",
	SMIMEOpaque:   "smimeopaque",
	AnyOpenPGP:    "anyopenpgp",
	AnySMIME:      "anysmime",
	Auto:          "auto",
}

// String returns the human readable label.
func (f Format) String() string {
	if l, ok := labels[f]; ok {
		return l
	}
	return fmt.Sprintf("Format(%d)", uint(f))
}

// Token returns the lower-case token accepted by Parse.
func (f Format) Token() string {
	if t, ok := tokens[f]; ok {
		return t
	}
	return ""
}

// Parse converts a case-insensitive token to a Format.
func Parse(token string) (Format, error) {
	t := strings.ToLower(strings.TrimSpace(token))
	for f, name := range tokens {
		if name == t {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, token)
}

// ParseList parses a list of tokens and returns the union of the formats.
// An empty list yields Auto.
func ParseList(list []string) (Format, error) {
	if len(list) == 0 {
		return Auto, nil
	}
	var f Format
	for _, t := range list {
		p, err := Parse(t)
		if err != nil {
			return 0, err
		}
		f |= p
	}
	return f, nil
}

// IsConcrete reports whether f is exactly one concrete format.
func (f Format) IsConcrete() bool {
	return f != 0 && f&(f-1) == 0 && f&Auto == f
}

// IsWildcard reports whether f covers more than one concrete format.
func (f Format) IsWildcard() bool {
	return f&Auto == f && f != 0 && !f.IsConcrete()
}

// Has reports whether every bit of other is contained in f.
func (f Format) Has(other Format) bool {
	return other != 0 && f&other == other
}

// Expand returns the concrete members of f in canonical order.
// A concrete format expands to itself.
func (f Format) Expand() []Format {
	var out []Format
	for _, c := range Concrete {
		if f&c != 0 {
			out = append(out, c)
		}
	}
	return out
}

// Family returns the key protocol a concrete format is built on.
func (f Format) Family() keys.Protocol {
	if f&AnySMIME != 0 && f&AnyOpenPGP == 0 {
		return keys.CMS
	}
	return keys.OpenPGP
}

// Families returns the distinct key protocols needed for f.
func (f Format) Families() []keys.Protocol {
	var out []keys.Protocol
	if f&AnyOpenPGP != 0 {
		out = append(out, keys.OpenPGP)
	}
	if f&AnySMIME != 0 {
		out = append(out, keys.CMS)
	}
	return out
}
