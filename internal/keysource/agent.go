// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package keysource

import (
	"context"
	"log/slog"

	"github.com/aplane-algo/keyresolver/internal/assuan"
	"github.com/aplane-algo/keyresolver/internal/keys"
	"github.com/aplane-algo/keyresolver/internal/util"
)

// Agent is a Source querying backend processes over assuan, one backend per
// key family. Each concurrent query takes its own session from the family's
// pool, so no two commands share a session.
type Agent struct {
	transport *assuan.Transport
	pools     map[keys.Protocol]*assuan.Pool
	logger    *slog.Logger
}

// NewAgent creates an Agent using dialers per family. Families without a
// dialer have no keys.
func NewAgent(transport *assuan.Transport, dialers map[keys.Protocol]assuan.Dialer) *Agent {
	a := &Agent{
		transport: transport,
		pools:     make(map[keys.Protocol]*assuan.Pool, len(dialers)),
		logger:    util.Log(),
	}
	for family, dial := range dialers {
		if dial != nil {
			a.pools[family] = assuan.NewPool(dial)
		}
	}
	return a
}

// Families returns the families with a configured backend.
func (a *Agent) Families() []keys.Protocol {
	var out []keys.Protocol
	for _, f := range []keys.Protocol{keys.OpenPGP, keys.CMS} {
		if a.pools[f] != nil {
			out = append(out, f)
		}
	}
	return out
}

// Close drops every backend session.
func (a *Agent) Close() {
	for _, p := range a.pools {
		p.Close()
	}
}

// Query runs a raw command on the family's backend and returns its data and
// the value of the status line named after the command's final token.
func (a *Agent) Query(ctx context.Context, family keys.Protocol, command string) (string, string, error) {
	pool := a.pools[family]
	if pool == nil {
		return "", "", assuan.ErrNoSession
	}
	slot, err := pool.Get(ctx)
	if err != nil {
		return "", "", err
	}
	defer pool.Put(slot)

	tx, err := a.transport.Send(ctx, slot, command)
	return tx.DataString(), assuan.StatusValue(tx.StatusLines(), command), err
}

// listKeys runs a key listing command and parses the colon output.
func (a *Agent) listKeys(ctx context.Context, family keys.Protocol, command string) ([]keys.Key, error) {
	pool := a.pools[family]
	if pool == nil {
		return nil, nil
	}
	slot, err := pool.Get(ctx)
	if err != nil {
		return nil, err
	}
	defer pool.Put(slot)

	tx, err := a.transport.Send(ctx, slot, command)
	if err != nil {
		return nil, err
	}
	if n := assuan.StatusValue(tx.Status, "TRUNCATED"); n != "" {
		a.logger.Warn("key listing truncated", "family", family, "command", command, "skipped", n)
	}
	return keys.ParseColonListing(family, tx.DataString()), nil
}

// Lookup implements Source. Each configured family is asked in turn.
func (a *Agent) Lookup(ctx context.Context, fingerprint string) (keys.Key, bool, error) {
	want := normalizeFingerprint(fingerprint)
	if want == "" {
		return keys.Key{}, false, nil
	}
	var firstErr error
	for _, family := range a.Families() {
		ks, err := a.listKeys(ctx, family, "LISTKEYS -- "+want)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, k := range ks {
			if matchFingerprint(k.Fingerprint, want) {
				secret, err := a.listKeys(ctx, family, "LISTSECRETKEYS -- "+k.Fingerprint)
				if err == nil && len(secret) > 0 {
					k.HasSecret = true
				}
				return k, true, nil
			}
		}
	}
	return keys.Key{}, false, firstErr
}

// Search implements Source. Signing searches list secret keys only.
func (a *Agent) Search(ctx context.Context, mailbox keys.Mailbox, usage keys.Usage, family keys.Protocol) ([]keys.Key, error) {
	command := "LISTKEYS"
	if usage == keys.Sign {
		command = "LISTSECRETKEYS"
	}
	ks, err := a.listKeys(ctx, family, command+" -- <"+string(mailbox)+">")
	if err != nil {
		return nil, err
	}
	var out []keys.Key
	for _, k := range ks {
		if k.HasMailbox(mailbox) && k.CanUse(usage) {
			out = append(out, k)
		}
	}
	return out, nil
}
