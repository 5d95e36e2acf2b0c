// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package resolver

import (
	"context"
	"fmt"

	"github.com/aplane-algo/keyresolver/internal/format"
	"github.com/aplane-algo/keyresolver/internal/keys"
	"github.com/aplane-algo/keyresolver/internal/keysource"
)

// Candidate is a usable key tagged with the concrete format it serves.
type Candidate struct {
	Format format.Format
	Key    keys.Key
}

// FormatResolver discovers usable keys for a mailbox.
type FormatResolver struct {
	Source keysource.Source
	// Policy filters keys by capability and validity.
	Policy keys.Policy
	// Preference orders formats when resolving Auto.
	Preference PreferenceOrder
}

// ResolveCandidates returns the usable keys for mailbox in f.
//
// A concrete format searches its family. A wildcard family expands to its
// members and tags each key with every member it serves, searching each key
// family once. Auto keeps only the most preferred format that has a usable
// key; finding none is not an error.
func (r *FormatResolver) ResolveCandidates(ctx context.Context, mailbox keys.Mailbox, f format.Format, usage keys.Usage) ([]Candidate, error) {
	members := f.Expand()
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: %v", format.ErrUnknownFormat, f)
	}

	policy := r.Policy
	if policy == nil {
		policy = keys.DefaultPolicy(keys.ValidityMarginal)
	}

	byFamily := make(map[keys.Protocol][]keys.Key)
	for _, family := range f.Families() {
		found, err := r.Source.Search(ctx, mailbox, usage, family)
		if err != nil {
			return nil, fmt.Errorf("search %s keys for %s: %w", family, mailbox, err)
		}
		byFamily[family] = policy.Filter(found, usage)
	}

	var out []Candidate
	for _, m := range members {
		for _, k := range byFamily[m.Family()] {
			out = append(out, Candidate{Format: m, Key: k})
		}
	}

	if f != format.Auto {
		return out, nil
	}

	pref := r.Preference
	if len(pref) == 0 {
		pref = DefaultPreference
	}
	for _, best := range pref.Rank(members) {
		if picked := filterCandidates(out, best); len(picked) > 0 {
			return picked, nil
		}
	}
	return nil, nil
}

// filterCandidates keeps the candidates for concrete format f.
func filterCandidates(cs []Candidate, f format.Format) []Candidate {
	var out []Candidate
	for _, c := range cs {
		if c.Format == f {
			out = append(out, c)
		}
	}
	return out
}

// candidateKeys returns the keys of the candidates for f, in order.
func candidateKeys(cs []Candidate, f format.Format) []keys.Key {
	var out []keys.Key
	for _, c := range filterCandidates(cs, f) {
		out = append(out, c.Key)
	}
	return out
}
