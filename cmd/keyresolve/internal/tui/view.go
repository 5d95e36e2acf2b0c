// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/aplane-algo/keyresolver/internal/keys"
	"github.com/aplane-algo/keyresolver/internal/resolver"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	resolvedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	missingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	selectedStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("62")).
			Foreground(lipgloss.Color("255")).
			Bold(true)

	normalStyle = lipgloss.NewStyle()

	buttonStyle = lipgloss.NewStyle().
			Padding(0, 2).
			Border(lipgloss.RoundedBorder())

	buttonActiveStyle = buttonStyle.
				BorderForeground(lipgloss.Color("42")).
				Foreground(lipgloss.Color("42"))

	buttonInactiveStyle = buttonStyle.
				BorderForeground(lipgloss.Color("241")).
				Foreground(lipgloss.Color("241"))

	detailsStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// View renders the dialog.
func (m Model) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("Key Selection"))
	sb.WriteString("\n")

	reasons := make([]string, len(m.req.Report.Reasons))
	for i, r := range m.req.Report.Reasons {
		reasons[i] = r.String()
	}
	sb.WriteString(subtitleStyle.Render(strings.Join(reasons, "; ")))
	sb.WriteString("\n\n")

	for i, p := range m.participants {
		line := m.renderParticipant(p)
		if i == m.selected {
			sb.WriteString(selectedStyle.Render("> " + line))
		} else {
			sb.WriteString(normalStyle.Render("  " + line))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	sb.WriteString(detailsStyle.Render(m.details.View()))
	sb.WriteString("\n\n")

	if m.req.SenderUnresolved() {
		if m.unsigned {
			sb.WriteString(warningStyle.Render("Message will be sent unsigned"))
		} else {
			sb.WriteString(missingStyle.Render("No signing key (s: send unsigned)"))
		}
		sb.WriteString("\n\n")
	}

	if m.warning != "" {
		sb.WriteString(warningStyle.Render("⚠ " + m.warning))
		sb.WriteString("\n\n")
	}

	var confirmBtn, cancelBtn string
	if m.focus == FocusConfirm {
		confirmBtn = buttonActiveStyle.Render("> CONFIRM")
		cancelBtn = buttonInactiveStyle.Render("  CANCEL")
	} else {
		confirmBtn = buttonInactiveStyle.Render("  CONFIRM")
		cancelBtn = buttonActiveStyle.Render("> CANCEL")
	}
	sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, confirmBtn, "  ", cancelBtn))
	sb.WriteString("\n")

	sb.WriteString(helpStyle.Render("↑/↓: select • u: toggle unencrypted • s: toggle unsigned • enter: confirm • esc: cancel"))
	return sb.String()
}

// renderParticipant renders one list row: role, mailbox and coverage.
func (m Model) renderParticipant(p resolver.ParticipantReport) string {
	status := resolvedStyle.Render("ok")
	switch {
	case p.Resolved():
	case needsUnencrypted(p) && m.unencrypted[p.Mailbox]:
		status = warningStyle.Render("unencrypted")
	default:
		status = missingStyle.Render("no key")
	}
	return fmt.Sprintf("%-9s %-40s %s", p.Role, p.Mailbox, status)
}

// renderAssignments lists the per-format status and keys of p.
func renderAssignments(p resolver.ParticipantReport) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s\n", p.Role, p.Mailbox)
	for _, a := range p.Assignments {
		fmt.Fprintf(&sb, "  %-15s %s", a.Format, a.Status)
		if a.Overridden {
			sb.WriteString(" (override)")
		}
		sb.WriteString("\n")
		for _, k := range a.Keys {
			fmt.Fprintf(&sb, "    %s  %s\n", k.Fingerprint, strings.Join(mailboxStrings(k.Mailboxes), ", "))
		}
		if a.Err != nil {
			fmt.Fprintf(&sb, "    error: %v\n", a.Err)
		}
	}
	return sb.String()
}

func mailboxStrings(ms []keys.Mailbox) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.String()
	}
	return out
}
