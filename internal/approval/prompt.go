// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package approval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"github.com/aplane-algo/keyresolver/internal/resolver"
)

// Prompt asks on a terminal, one question per line.
type Prompt struct {
	// LineReader returns the next answer.
	LineReader func() (string, error)
	// SetPrompt changes the prompt shown before the next answer.
	SetPrompt func(string)
	Out       io.Writer

	close func() error
}

var _ resolver.Approver = (*Prompt)(nil)

// NewPrompt creates a prompt on a readline instance.
func NewPrompt() (*Prompt, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "cancel",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline instance: %w", err)
	}
	return &Prompt{
		LineReader: rl.Readline,
		SetPrompt:  rl.SetPrompt,
		Out:        rl.Stdout(),
		close:      rl.Close,
	}, nil
}

// Close releases the terminal.
func (p *Prompt) Close() error {
	if p.close == nil {
		return nil
	}
	return p.close()
}

func (p *Prompt) out() io.Writer {
	if p.Out == nil {
		return os.Stdout
	}
	return p.Out
}

// ask poses a yes/no question. Interrupt and end of input answer no.
func (p *Prompt) ask(question string, def bool) (bool, error) {
	hint := "[y/N]"
	if def {
		hint = "[Y/n]"
	}
	if p.SetPrompt != nil {
		p.SetPrompt(question + " " + hint + " ")
	} else {
		fmt.Fprintf(p.out(), "%s %s ", question, hint)
	}

	for {
		line, err := p.LineReader()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return false, nil
			}
			return false, fmt.Errorf("error reading input: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "":
			return def, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintln(p.out(), "Please answer y or n.")
	}
}

// Approve implements resolver.Approver.
func (p *Prompt) Approve(ctx context.Context, req *resolver.ApprovalRequest) (resolver.Decision, error) {
	fmt.Fprint(p.out(), Describe(req))
	fmt.Fprintln(p.out())

	d := resolver.Confirm()
	for _, m := range mailboxes(req.Unresolved()) {
		if err := ctx.Err(); err != nil {
			return resolver.Decision{}, err
		}
		ok, err := p.ask(fmt.Sprintf("No key for %s. Send unencrypted?", m), false)
		if err != nil {
			return resolver.Decision{}, err
		}
		if !ok {
			return resolver.Cancel(), nil
		}
		d.Unencrypted = append(d.Unencrypted, m)
	}

	if req.SenderUnresolved() {
		ok, err := p.ask("No signing key. Send unsigned?", false)
		if err != nil {
			return resolver.Decision{}, err
		}
		if !ok {
			return resolver.Cancel(), nil
		}
		d.Unsigned = true
	}

	if err := ctx.Err(); err != nil {
		return resolver.Decision{}, err
	}
	ok, err := p.ask("Use the proposed keys?", true)
	if err != nil {
		return resolver.Decision{}, err
	}
	if !ok {
		return resolver.Cancel(), nil
	}
	return d, nil
}
