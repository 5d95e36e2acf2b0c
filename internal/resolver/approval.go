// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package resolver

import (
	"context"

	"github.com/aplane-algo/keyresolver/internal/keys"
)

// ApprovalRequest is what an approver is shown when resolution escalates.
type ApprovalRequest struct {
	Report *Report
	// Proposal is the assignment the engine would finalize. Approvers may
	// edit a clone of it and return it in the Decision.
	Proposal *Result
	Sign     bool
	Encrypt  bool
}

// Unresolved returns the encryption participants without keys in any
// format.
func (r *ApprovalRequest) Unresolved() []Participant {
	var out []Participant
	for _, p := range r.Report.Participants {
		if p.Role != RoleSender && p.NoFormat() {
			out = append(out, p.Participant)
		}
	}
	return out
}

// SenderUnresolved reports whether signing was requested and no signing key
// was found.
func (r *ApprovalRequest) SenderUnresolved() bool {
	if !r.Sign {
		return false
	}
	for _, p := range r.Report.Participants {
		if p.Role == RoleSender {
			return p.NoFormat()
		}
	}
	return false
}

// DecisionAction is the approver's verdict.
type DecisionAction int

const (
	DecisionConfirm DecisionAction = iota
	DecisionCancel
)

// Decision is the approver's answer.
type Decision struct {
	Action DecisionAction
	// Result replaces the proposal when set.
	Result *Result
	// Unencrypted lists recipients accepted without encryption.
	Unencrypted []keys.Mailbox
	// Unsigned accepts sending without a signature.
	Unsigned bool
}

// Confirm accepts the proposal as is.
func Confirm() Decision {
	return Decision{Action: DecisionConfirm}
}

// Cancel aborts the resolution.
func Cancel() Decision {
	return Decision{Action: DecisionCancel}
}

// Approver decides escalated resolutions, usually by asking a human.
type Approver interface {
	Approve(ctx context.Context, req *ApprovalRequest) (Decision, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, req *ApprovalRequest) (Decision, error)

// Approve implements Approver.
func (f ApproverFunc) Approve(ctx context.Context, req *ApprovalRequest) (Decision, error) {
	return f(ctx, req)
}
