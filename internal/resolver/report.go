// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package resolver

import (
	"github.com/aplane-algo/keyresolver/internal/format"
	"github.com/aplane-algo/keyresolver/internal/keys"
)

// Status classifies the outcome for one participant in one format.
type Status int

const (
	// StatusResolved means at least one usable key was found.
	StatusResolved Status = iota
	// StatusUnresolved means no key in this format, but another format
	// resolved for the same participant.
	StatusUnresolved
	// StatusNoFormat means no key in any eligible format, or the query for
	// this format failed.
	StatusNoFormat
)

func (s Status) String() string {
	switch s {
	case StatusResolved:
		return "resolved"
	case StatusUnresolved:
		return "unresolved"
	default:
		return "no format available"
	}
}

// Role is the part a participant plays in the message.
type Role int

const (
	RoleSender Role = iota
	RoleRecipient
	RoleHidden
)

func (r Role) String() string {
	switch r {
	case RoleSender:
		return "sender"
	case RoleHidden:
		return "hidden"
	default:
		return "recipient"
	}
}

// Participant is a mailbox in a role.
type Participant struct {
	Mailbox keys.Mailbox
	Role    Role
}

// Usage returns what the participant's keys are needed for.
func (p Participant) Usage() keys.Usage {
	if p.Role == RoleSender {
		return keys.Sign
	}
	return keys.Encrypt
}

// Assignment is the outcome for one participant in one concrete format.
type Assignment struct {
	Format     format.Format
	Status     Status
	Keys       []keys.Key
	Overridden bool
	Err        error // query failure, if any
}

// ParticipantReport holds a participant's assignments in canonical format
// order.
type ParticipantReport struct {
	Participant
	Assignments []Assignment
}

// Assignment returns the entry for concrete format f.
func (p ParticipantReport) Assignment(f format.Format) (Assignment, bool) {
	for _, a := range p.Assignments {
		if a.Format == f {
			return a, true
		}
	}
	return Assignment{}, false
}

// Resolved reports whether some format resolved.
func (p ParticipantReport) Resolved() bool {
	for _, a := range p.Assignments {
		if a.Status == StatusResolved {
			return true
		}
	}
	return false
}

// NoFormat reports whether no format resolved.
func (p ParticipantReport) NoFormat() bool {
	return !p.Resolved()
}

// Reason explains why a resolution was escalated.
type Reason int

const (
	// ReasonForced: the caller asked for approval.
	ReasonForced Reason = iota
	// ReasonIncomplete: no format resolves every participant.
	ReasonIncomplete
	// ReasonAmbiguous: several formats resolve every participant and the
	// format policy did not pick one.
	ReasonAmbiguous
)

func (r Reason) String() string {
	switch r {
	case ReasonForced:
		return "approval requested"
	case ReasonIncomplete:
		return "not every participant has a key"
	default:
		return "several formats are possible"
	}
}

// Report is the complete classification of a resolution run.
type Report struct {
	Participants []ParticipantReport
	// Formats are the concrete formats considered.
	Formats []format.Format
	// Resolvable are the formats in which every participant resolved.
	Resolvable []format.Format
	// Chosen is the format picked automatically, or 0.
	Chosen  format.Format
	Reasons []Reason
}

// Find returns the report for mailbox in role.
func (r *Report) Find(mailbox keys.Mailbox, role Role) (ParticipantReport, bool) {
	if r == nil {
		return ParticipantReport{}, false
	}
	for _, p := range r.Participants {
		if p.Mailbox == mailbox && p.Role == role {
			return p, true
		}
	}
	return ParticipantReport{}, false
}

// Escalated reports whether approval was needed.
func (r *Report) Escalated() bool {
	return r != nil && len(r.Reasons) > 0
}

// classify turns raw per-format outcomes into statuses.
func classify(p *ParticipantReport) {
	resolved := false
	for _, a := range p.Assignments {
		if a.Err == nil && len(a.Keys) > 0 {
			resolved = true
			break
		}
	}
	for i := range p.Assignments {
		a := &p.Assignments[i]
		switch {
		case a.Err == nil && len(a.Keys) > 0:
			a.Status = StatusResolved
		case a.Err == nil && resolved:
			a.Status = StatusUnresolved
		default:
			a.Status = StatusNoFormat
			a.Keys = nil
		}
	}
}

// fullyResolvable returns the formats in which every participant resolved.
func fullyResolvable(parts []ParticipantReport, formats []format.Format) []format.Format {
	var out []format.Format
	for _, f := range formats {
		ok := len(parts) > 0
		for _, p := range parts {
			a, found := p.Assignment(f)
			if !found || a.Status != StatusResolved {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, f)
		}
	}
	return out
}
