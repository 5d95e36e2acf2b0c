// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package approval

import (
	"fmt"
	"strings"

	"github.com/aplane-algo/keyresolver/internal/format"
	"github.com/aplane-algo/keyresolver/internal/keys"
	"github.com/aplane-algo/keyresolver/internal/resolver"
)

// Describe renders an approval request as plain text: why it escalated,
// then every participant with its status per format and proposed keys.
func Describe(req *resolver.ApprovalRequest) string {
	var sb strings.Builder
	rep := req.Report

	reasons := make([]string, len(rep.Reasons))
	for i, r := range rep.Reasons {
		reasons[i] = r.String()
	}
	fmt.Fprintf(&sb, "Key selection needs approval: %s\n", strings.Join(reasons, "; "))

	for _, p := range rep.Participants {
		fmt.Fprintf(&sb, "\n%s %s\n", p.Role, p.Mailbox)
		for _, a := range p.Assignments {
			line := fmt.Sprintf("  %-15s %s", a.Format, a.Status)
			if len(a.Keys) > 0 {
				line += "  " + shortIDs(a.Keys)
			}
			if a.Overridden {
				line += "  (override)"
			}
			if a.Err != nil {
				line += "  error: " + a.Err.Error()
			}
			sb.WriteString(line + "\n")
		}
		if proposed := proposedFormats(req.Proposal, p.Participant); proposed != "" {
			fmt.Fprintf(&sb, "  proposed: %s\n", proposed)
		}
	}
	return sb.String()
}

func shortIDs(ks []keys.Key) string {
	ids := make([]string, len(ks))
	for i, k := range ks {
		ids[i] = k.ShortID()
	}
	return strings.Join(ids, ", ")
}

// proposedFormats lists the formats in which the proposal assigns keys to p.
func proposedFormats(res *resolver.Result, p resolver.Participant) string {
	if res == nil {
		return ""
	}
	var out []string
	for _, f := range format.Concrete {
		var ks []keys.Key
		switch p.Role {
		case resolver.RoleSender:
			ks = res.SigningKeys[f]
		case resolver.RoleHidden:
			ks = res.HiddenKeys[f][p.Mailbox]
		default:
			ks = res.EncryptionKeys[f][p.Mailbox]
		}
		if len(ks) > 0 {
			out = append(out, fmt.Sprintf("%s [%s]", f, shortIDs(ks)))
		}
	}
	return strings.Join(out, ", ")
}
