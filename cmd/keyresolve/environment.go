// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package main

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/aplane-algo/keyresolver/cmd/keyresolve/internal/tui"
	"github.com/aplane-algo/keyresolver/internal/approval"
	"github.com/aplane-algo/keyresolver/internal/assuan"
	"github.com/aplane-algo/keyresolver/internal/format"
	"github.com/aplane-algo/keyresolver/internal/keys"
	"github.com/aplane-algo/keyresolver/internal/keysource"
	"github.com/aplane-algo/keyresolver/internal/resolver"
	"github.com/aplane-algo/keyresolver/internal/scripting"
	"github.com/aplane-algo/keyresolver/internal/util"
)

// environment holds the key sources of one run.
type environment struct {
	source keysource.Source
	agent  *keysource.Agent
}

// newEnvironment opens the keyring, starts watching it and connects the
// configured backends. Keyring keys win over backend keys.
func newEnvironment(ctx context.Context, config util.Config) (*environment, error) {
	keyring, err := keysource.OpenKeyring(config.KeyringDir)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(config.KeyringDir); err == nil {
		if err := keyring.Watch(ctx); err != nil {
			util.Log().Warn("keyring changes will not be picked up", "error", err)
		}
	}
	util.Debug("keyring loaded", "dir", config.KeyringDir, "keys", keyring.Len())

	env := &environment{source: keyring}
	if agent := newAgent(config); agent != nil {
		env.agent = agent
		env.source = keysource.Multi{keyring, agent}
	}
	return env, nil
}

// Close drops the backend sessions.
func (e *environment) Close() {
	if e.agent != nil {
		e.agent.Close()
	}
}

// newAgent connects the configured backend sockets. It returns nil when no
// socket is configured.
func newAgent(config util.Config) *keysource.Agent {
	dialers := make(map[keys.Protocol]assuan.Dialer)
	if config.GPGSocket != "" {
		dialers[keys.OpenPGP] = assuan.ConnDialer(config.GPGSocket, config.CommandTimeout())
	}
	if config.GPGSMSocket != "" {
		dialers[keys.CMS] = assuan.ConnDialer(config.GPGSMSocket, config.CommandTimeout())
	}
	if len(dialers) == 0 {
		return nil
	}

	retry := config.Retry
	if retry == nil {
		retry = util.DefaultRetryConfig()
	}
	transport := &assuan.Transport{
		Retry: &assuan.RetryPolicy{
			MaxRetries: retry.MaxRetries,
			BaseDelay:  retry.BaseDelay(),
		},
		Logger: util.Log(),
	}
	return keysource.NewAgent(transport, dialers)
}

// engineOptions translates the configuration into resolver options.
func engineOptions(config util.Config) (resolver.Options, error) {
	opts := resolver.DefaultOptions()
	opts.Logger = util.Log()
	opts.Concurrency = config.Concurrency

	formats, err := format.ParseList(config.Formats)
	if err != nil {
		return opts, fmt.Errorf("invalid formats: %w", err)
	}
	opts.Formats = formats

	pref, err := parsePreference(config.FormatPreference)
	if err != nil {
		return opts, err
	}
	opts.Preference = pref

	minValidity, err := keys.ParseValidity(config.MinValidity)
	if err != nil {
		return opts, fmt.Errorf("invalid min_validity: %w", err)
	}
	opts.KeyPolicy = keys.DefaultPolicy(minValidity)

	switch {
	case config.FormatPolicyScript != "":
		policy, err := scripting.LoadPolicy(config.FormatPolicyScript)
		if err != nil {
			return opts, err
		}
		opts.FormatPolicy = policy
	case config.AskOnAmbiguity:
		opts.FormatPolicy = resolver.AskPolicy{}
	}

	opts.Approver = newApprover(config)
	return opts, nil
}

// parsePreference parses concrete format tokens in order.
func parsePreference(tokens []string) (resolver.PreferenceOrder, error) {
	var pref resolver.PreferenceOrder
	for _, t := range tokens {
		f, err := format.Parse(t)
		if err != nil {
			return nil, fmt.Errorf("invalid format_preference: %w", err)
		}
		if !f.IsConcrete() {
			return nil, fmt.Errorf("invalid format_preference: %s is not a concrete format", t)
		}
		pref = append(pref, f)
	}
	return pref, nil
}

// newApprover picks the approval collaborator. Without a configured mode the
// dialog is used on a terminal and the configuration policy otherwise.
func newApprover(config util.Config) resolver.Approver {
	auto := approval.Auto{
		AcceptUnencrypted: config.AcceptUnencrypted,
		AllowUnsigned:     config.AllowUnsigned,
	}

	mode := config.Approval
	if mode == "" {
		mode = "auto"
		if term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd())) {
			mode = "tui"
		}
	}

	switch mode {
	case "tui":
		return &tui.Approver{}
	case "prompt":
		return resolver.ApproverFunc(func(ctx context.Context, req *resolver.ApprovalRequest) (resolver.Decision, error) {
			p, err := approval.NewPrompt()
			if err != nil {
				return resolver.Decision{}, err
			}
			defer func() { _ = p.Close() }()
			return p.Approve(ctx, req)
		})
	default:
		return auto
	}
}
