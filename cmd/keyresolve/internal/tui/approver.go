// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package tui

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aplane-algo/keyresolver/internal/resolver"
)

// Approver shows the dialog for every escalation.
type Approver struct {
	// Options are passed to the bubbletea program, e.g. tea.WithInput in tests.
	Options []tea.ProgramOption
}

var _ resolver.Approver = (*Approver)(nil)

// Approve implements resolver.Approver. Closing the dialog without a choice
// cancels.
func (a *Approver) Approve(ctx context.Context, req *resolver.ApprovalRequest) (resolver.Decision, error) {
	opts := append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, a.Options...)
	p := tea.NewProgram(NewModel(req), opts...)

	final, err := p.Run()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, tea.ErrProgramKilled) {
			return resolver.Decision{}, ctxErr
		}
		return resolver.Decision{}, fmt.Errorf("error running approval dialog: %w", err)
	}

	m, ok := final.(Model)
	if !ok {
		return resolver.Cancel(), nil
	}
	d, ok := m.Decision()
	if !ok {
		return resolver.Cancel(), nil
	}
	return d, nil
}
