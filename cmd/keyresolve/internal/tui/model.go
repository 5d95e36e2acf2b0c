// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package tui is the full-screen approval dialog of keyresolve.
package tui

import (
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/aplane-algo/keyresolver/internal/keys"
	"github.com/aplane-algo/keyresolver/internal/resolver"
)

// Focus selects the active button.
type Focus int

const (
	FocusConfirm Focus = iota
	FocusCancel
)

// Model is the approval dialog for one escalated resolution.
type Model struct {
	req *resolver.ApprovalRequest

	// Participant list
	participants []resolver.ParticipantReport
	selected     int

	// User choices
	unencrypted map[keys.Mailbox]bool
	unsigned    bool
	focus       Focus
	warning     string // Shown when confirming would leave someone uncovered

	details viewport.Model // Report of the selected participant

	decision *resolver.Decision
	width    int
	height   int
}

// NewModel creates the dialog for req.
func NewModel(req *resolver.ApprovalRequest) Model {
	m := Model{
		req:          req,
		participants: req.Report.Participants,
		unencrypted:  make(map[keys.Mailbox]bool),
		details:      viewport.New(76, 8),
	}
	m.syncDetails()
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Decision returns the user's verdict, or false while the dialog is open.
func (m Model) Decision() (resolver.Decision, bool) {
	if m.decision == nil {
		return resolver.Decision{}, false
	}
	return *m.decision, true
}

func (m Model) current() (resolver.ParticipantReport, bool) {
	if m.selected < 0 || m.selected >= len(m.participants) {
		return resolver.ParticipantReport{}, false
	}
	return m.participants[m.selected], true
}

// needsUnencrypted reports whether p is a recipient no format covers.
func needsUnencrypted(p resolver.ParticipantReport) bool {
	return p.Role != resolver.RoleSender && p.NoFormat()
}

// uncovered lists what still blocks a confirmation.
func (m Model) uncovered() []string {
	var out []string
	for _, p := range m.participants {
		if needsUnencrypted(p) && !m.unencrypted[p.Mailbox] {
			out = append(out, p.Mailbox.String())
		}
	}
	if m.req.SenderUnresolved() && !m.unsigned {
		out = append(out, "signature")
	}
	return out
}

func (m Model) buildDecision() resolver.Decision {
	d := resolver.Confirm()
	for _, p := range m.participants {
		if needsUnencrypted(p) && m.unencrypted[p.Mailbox] {
			d.Unencrypted = append(d.Unencrypted, p.Mailbox)
		}
	}
	d.Unsigned = m.unsigned && m.req.SenderUnresolved()
	return d
}
