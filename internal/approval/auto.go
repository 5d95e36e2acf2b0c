// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package approval provides the collaborators that decide escalated
// resolutions: a configuration-driven one for unattended use and a line
// prompt for terminals.
package approval

import (
	"context"

	"github.com/aplane-algo/keyresolver/internal/keys"
	"github.com/aplane-algo/keyresolver/internal/resolver"
	"github.com/aplane-algo/keyresolver/internal/util"
)

// Auto decides from configuration without asking anybody.
//
// It confirms the proposal when every participant is covered. Recipients
// without keys are sent unencrypted only with AcceptUnencrypted, and a
// sender without signing keys sends unsigned only with AllowUnsigned;
// otherwise it cancels.
type Auto struct {
	AcceptUnencrypted bool
	AllowUnsigned     bool
}

var _ resolver.Approver = Auto{}

// Approve implements resolver.Approver.
func (a Auto) Approve(ctx context.Context, req *resolver.ApprovalRequest) (resolver.Decision, error) {
	if err := ctx.Err(); err != nil {
		return resolver.Decision{}, err
	}

	unresolved := req.Unresolved()
	if len(unresolved) > 0 && !a.AcceptUnencrypted {
		util.Log().Debug("auto approval: recipients without keys", "count", len(unresolved))
		return resolver.Cancel(), nil
	}
	unsigned := req.SenderUnresolved()
	if unsigned && !a.AllowUnsigned {
		util.Log().Debug("auto approval: no signing key")
		return resolver.Cancel(), nil
	}

	d := resolver.Confirm()
	d.Unsigned = unsigned
	if len(unresolved) > 0 {
		d.Unencrypted = mailboxes(unresolved)
	}
	return d, nil
}

// mailboxes lists the mailboxes of ps.
func mailboxes(ps []resolver.Participant) []keys.Mailbox {
	out := make([]keys.Mailbox, len(ps))
	for i, p := range ps {
		out[i] = p.Mailbox
	}
	return out
}
