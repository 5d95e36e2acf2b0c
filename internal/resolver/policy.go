// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package resolver

import (
	"context"

	"github.com/aplane-algo/keyresolver/internal/format"
)

// FormatPolicy picks one format when several resolve every participant.
// Returning ok=false leaves the choice to the approver.
type FormatPolicy interface {
	Choose(ctx context.Context, candidates []format.Format) (chosen format.Format, ok bool, err error)
}

// FormatPolicyFunc adapts a function to FormatPolicy.
type FormatPolicyFunc func(ctx context.Context, candidates []format.Format) (format.Format, bool, error)

// Choose implements FormatPolicy.
func (f FormatPolicyFunc) Choose(ctx context.Context, candidates []format.Format) (format.Format, bool, error) {
	return f(ctx, candidates)
}

// PreferenceOrder picks the first listed format among the candidates.
type PreferenceOrder []format.Format

// DefaultPreference favours MIME-based formats and OpenPGP over S/MIME.
var DefaultPreference = PreferenceOrder{format.OpenPGPMIME, format.SMIME, format.InlineOpenPGP, format.SMIMEOpaque}

// Choose implements FormatPolicy.
func (p PreferenceOrder) Choose(ctx context.Context, candidates []format.Format) (format.Format, bool, error) {
	for _, f := range p {
		for _, c := range candidates {
			if c == f {
				return f, true, nil
			}
		}
	}
	return 0, false, nil
}

// Rank orders formats by preference; formats not listed follow in the
// given order.
func (p PreferenceOrder) Rank(formats []format.Format) []format.Format {
	out := make([]format.Format, 0, len(formats))
	seen := make(map[format.Format]bool, len(formats))
	for _, f := range p {
		for _, c := range formats {
			if c == f && !seen[c] {
				out = append(out, c)
				seen[c] = true
			}
		}
	}
	for _, c := range formats {
		if !seen[c] {
			out = append(out, c)
			seen[c] = true
		}
	}
	return out
}

// AskPolicy never decides, so every ambiguity goes to the approver.
type AskPolicy struct{}

// Choose implements FormatPolicy.
func (AskPolicy) Choose(ctx context.Context, candidates []format.Format) (format.Format, bool, error) {
	return 0, false, nil
}
