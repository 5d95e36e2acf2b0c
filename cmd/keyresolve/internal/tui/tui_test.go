// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package tui

import (
	"reflect"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aplane-algo/keyresolver/internal/format"
	"github.com/aplane-algo/keyresolver/internal/keys"
	"github.com/aplane-algo/keyresolver/internal/resolver"
	"github.com/aplane-algo/keyresolver/internal/testutil"
)

// request has a covered recipient b, an uncovered recipient c and an
// uncovered sender a.
func request() *resolver.ApprovalRequest {
	keyB := testutil.OpenPGPKey("00000000000000000000BBBBBBBBBBBBBBBBBBBB", "b@example.org")
	rep := &resolver.Report{
		Formats: []format.Format{format.OpenPGPMIME},
		Reasons: []resolver.Reason{resolver.ReasonIncomplete},
		Participants: []resolver.ParticipantReport{
			{
				Participant: resolver.Participant{Mailbox: "a@example.org", Role: resolver.RoleSender},
				Assignments: []resolver.Assignment{{Format: format.OpenPGPMIME, Status: resolver.StatusNoFormat}},
			},
			{
				Participant: resolver.Participant{Mailbox: "b@example.org", Role: resolver.RoleRecipient},
				Assignments: []resolver.Assignment{{Format: format.OpenPGPMIME, Status: resolver.StatusResolved, Keys: []keys.Key{keyB}}},
			},
			{
				Participant: resolver.Participant{Mailbox: "c@example.org", Role: resolver.RoleRecipient},
				Assignments: []resolver.Assignment{{Format: format.OpenPGPMIME, Status: resolver.StatusNoFormat}},
			},
		},
	}
	proposal := resolver.NewResult()
	proposal.AddEncryption(format.OpenPGPMIME, "b@example.org", false, keyB)
	return &resolver.ApprovalRequest{Report: rep, Proposal: proposal, Sign: true, Encrypt: true}
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press feeds keys to m and returns the resulting model and last command.
func press(t *testing.T, m Model, msgs ...tea.KeyMsg) (Model, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, msg := range msgs {
		var next tea.Model
		next, cmd = m.Update(msg)
		var ok bool
		if m, ok = next.(Model); !ok {
			t.Fatalf("Update returned %T", next)
		}
	}
	return m, cmd
}

func TestConfirmRequiresCoverage(t *testing.T) {
	m, cmd := press(t, NewModel(request()), tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil {
		t.Fatal("dialog closed with uncovered participants")
	}
	if _, ok := m.Decision(); ok {
		t.Fatal("decision made")
	}
	if !strings.Contains(m.warning, "c@example.org") || !strings.Contains(m.warning, "signature") {
		t.Errorf("warning = %q", m.warning)
	}
}

func TestConfirmWithWaivers(t *testing.T) {
	m, cmd := press(t, NewModel(request()),
		tea.KeyMsg{Type: tea.KeyDown},
		runes("u"), // b is covered; no effect
		tea.KeyMsg{Type: tea.KeyDown},
		runes("u"),
		runes("s"),
		tea.KeyMsg{Type: tea.KeyEnter},
	)
	if cmd == nil {
		t.Fatal("dialog did not quit")
	}
	d, ok := m.Decision()
	if !ok || d.Action != resolver.DecisionConfirm {
		t.Fatalf("decision = %+v, %v", d, ok)
	}
	if !reflect.DeepEqual(d.Unencrypted, []keys.Mailbox{"c@example.org"}) || !d.Unsigned {
		t.Errorf("decision = %+v", d)
	}
}

func TestToggleTwiceRestores(t *testing.T) {
	m, _ := press(t, NewModel(request()),
		tea.KeyMsg{Type: tea.KeyDown},
		tea.KeyMsg{Type: tea.KeyDown},
		runes("u"), runes("u"),
		runes("s"),
		runes("y"),
	)
	if _, ok := m.Decision(); ok {
		t.Error("confirmed although c is no longer waived")
	}
}

func TestCancel(t *testing.T) {
	tests := []struct {
		name string
		keys []tea.KeyMsg
	}{
		{"esc", []tea.KeyMsg{{Type: tea.KeyEsc}}},
		{"n", []tea.KeyMsg{runes("n")}},
		{"cancel button", []tea.KeyMsg{{Type: tea.KeyTab}, {Type: tea.KeyEnter}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, cmd := press(t, NewModel(request()), tt.keys...)
			d, ok := m.Decision()
			if cmd == nil || !ok || d.Action != resolver.DecisionCancel {
				t.Errorf("decision = %+v, %v", d, ok)
			}
		})
	}
}

func TestView(t *testing.T) {
	m, _ := press(t, NewModel(request()), tea.KeyMsg{Type: tea.KeyDown})
	m2, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	view := m2.View()
	for _, want := range []string{"Key Selection", "a@example.org", "c@example.org", "no key", "00000000000000000000BBBBBBBBBBBBBBBBBBBB", "CONFIRM"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}
