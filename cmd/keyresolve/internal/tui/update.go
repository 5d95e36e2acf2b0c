// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package tui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aplane-algo/keyresolver/internal/resolver"
)

// Update handles key presses and window resizes.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeDetails()
		return m, nil
	}
	return m, nil
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc", "q", "n":
		return m.finish(resolver.Cancel())

	case "up", "k":
		if m.selected > 0 {
			m.selected--
			m.syncDetails()
		}

	case "down", "j":
		if m.selected < len(m.participants)-1 {
			m.selected++
			m.syncDetails()
		}

	case "pgup":
		m.details.ViewUp()

	case "pgdown":
		m.details.ViewDown()

	case "u", " ":
		if p, ok := m.current(); ok && needsUnencrypted(p) {
			m.unencrypted[p.Mailbox] = !m.unencrypted[p.Mailbox]
			m.warning = ""
		}

	case "s":
		if m.req.SenderUnresolved() {
			m.unsigned = !m.unsigned
			m.warning = ""
		}

	case "left":
		m.focus = FocusConfirm

	case "right":
		m.focus = FocusCancel

	case "tab":
		m.focus = (m.focus + 1) % 2

	case "y":
		return m.confirm()

	case "enter":
		if m.focus == FocusCancel {
			return m.finish(resolver.Cancel())
		}
		return m.confirm()
	}
	return m, nil
}

// confirm accepts the proposal once every gap has been waived.
func (m Model) confirm() (tea.Model, tea.Cmd) {
	if missing := m.uncovered(); len(missing) > 0 {
		m.warning = "Not covered: " + strings.Join(missing, ", ")
		return m, nil
	}
	return m.finish(m.buildDecision())
}

func (m Model) finish(d resolver.Decision) (tea.Model, tea.Cmd) {
	m.decision = &d
	return m, tea.Quit
}

func (m *Model) resizeDetails() {
	w := m.width - 6
	if w > 100 {
		w = 100
	}
	if w < 40 {
		w = 40
	}
	h := m.height - len(m.participants) - 16
	if h > 12 {
		h = 12
	}
	if h < 4 {
		h = 4
	}
	m.details.Width = w
	m.details.Height = h
}

// syncDetails shows the selected participant in the details pane.
func (m *Model) syncDetails() {
	p, ok := m.current()
	if !ok {
		m.details.SetContent("")
		return
	}
	m.details.SetContent(renderAssignments(p))
	m.details.GotoTop()
}
