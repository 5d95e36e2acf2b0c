// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aplane-algo/keyresolver/internal/approval"
	"github.com/aplane-algo/keyresolver/internal/format"
	"github.com/aplane-algo/keyresolver/internal/keys"
	"github.com/aplane-algo/keyresolver/internal/resolver"
	"github.com/aplane-algo/keyresolver/internal/scripting"
	"github.com/aplane-algo/keyresolver/internal/testutil"
	"github.com/aplane-algo/keyresolver/internal/util"
)

func TestWriteResult(t *testing.T) {
	r := resolver.NewResult()
	r.AddSigning(format.OpenPGPMIME, testutil.OpenPGPKey("AAAA", "a@example.org"))
	r.AddEncryption(format.OpenPGPMIME, "c@example.org", false, testutil.OpenPGPKey("CCCC", "c@example.org"))
	r.AddEncryption(format.OpenPGPMIME, "b@example.org", false, testutil.OpenPGPKey("BBBB", "b@example.org"))
	r.AddEncryption(format.SMIME, "h@example.org", true, testutil.CMSKey("HHHH", "h@example.org"))

	var buf bytes.Buffer
	writeResult(&buf, r)

	want := `Resolved Signing keys:
Format: OpenPGP/MIME (openpgpmime)
Keys:
  AAAA
Resolved Encryption keys:
Format: OpenPGP/MIME (openpgpmime)
Address: b@example.org
Keys:
  BBBB
Address: c@example.org
Keys:
  CCCC
Resolved Hidden keys:
Format: S/MIME (smime)
Address: h@example.org
Keys:
  HHHH
Send Unencrypted: false
`
	if got := buf.String(); got != want {
		t.Errorf("output:\n%s\nwant:\n%s", got, want)
	}
}

func TestStringList(t *testing.T) {
	var s stringList
	_ = s.Set("a")
	_ = s.Set("b")
	if s.String() != "a,b" || len(s) != 2 {
		t.Errorf("stringList = %v", s)
	}
}

func TestEngineOptions(t *testing.T) {
	config := util.DefaultConfig()
	config.Approval = "auto"
	config.AcceptUnencrypted = true
	opts, err := engineOptions(config)
	if err != nil {
		t.Fatal(err)
	}
	if opts.Formats != format.Auto || opts.Concurrency != 4 {
		t.Errorf("opts = %+v", opts)
	}
	if len(opts.Preference) != 4 || opts.Preference[0] != format.OpenPGPMIME {
		t.Errorf("Preference = %v", opts.Preference)
	}
	if a, ok := opts.Approver.(approval.Auto); !ok || !a.AcceptUnencrypted {
		t.Errorf("Approver = %#v", opts.Approver)
	}
	if opts.FormatPolicy != nil {
		t.Errorf("FormatPolicy = %#v, want preference default", opts.FormatPolicy)
	}

	config.AskOnAmbiguity = true
	if opts, _ := engineOptions(config); opts.FormatPolicy != (resolver.AskPolicy{}) {
		t.Errorf("FormatPolicy = %#v, want AskPolicy", opts.FormatPolicy)
	}

	script := filepath.Join(t.TempDir(), "policy.js")
	if err := os.WriteFile(script, []byte(`function choose(f) { return f[0]; }`), 0600); err != nil {
		t.Fatal(err)
	}
	config.FormatPolicyScript = script
	opts, err = engineOptions(config)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := opts.FormatPolicy.(*scripting.Policy); !ok {
		t.Errorf("FormatPolicy = %T, want script policy", opts.FormatPolicy)
	}
}

func TestEngineOptionsErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*util.Config)
	}{
		{"bad format", func(c *util.Config) { c.Formats = []string{"pgp"} }},
		{"wildcard preference", func(c *util.Config) { c.FormatPreference = []string{"anysmime"} }},
		{"bad validity", func(c *util.Config) { c.MinValidity = "sometimes" }},
		{"missing script", func(c *util.Config) { c.FormatPolicyScript = "/nonexistent/policy.js" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := util.DefaultConfig()
			config.Approval = "auto"
			tt.modify(&config)
			if _, err := engineOptions(config); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRunWithKeyring(t *testing.T) {
	dir := t.TempDir()
	keyring := `keys:
  - fingerprint: AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA
    protocol: openpgp
    mailboxes: [a@example.org]
    capabilities: [sign, encrypt]
    secret: true
    validity: ultimate
  - fingerprint: BBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB
    protocol: openpgp
    mailboxes: [b@example.org]
    capabilities: [encrypt]
    validity: full
`
	if err := os.WriteFile(filepath.Join(dir, "keys.yaml"), []byte(keyring), 0600); err != nil {
		t.Fatal(err)
	}
	config := util.DefaultConfig()
	config.KeyringDir = dir
	config.Approval = "auto"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	code := run(ctx, config, request{
		sender:     "a@example.org",
		recipients: []string{"b@example.org"},
		sign:       true,
	})
	if code != 0 {
		t.Fatalf("run exit code = %d", code)
	}

	code = run(ctx, config, request{
		sender:     "a@example.org",
		recipients: []string{"z@example.org"},
		sign:       true,
	})
	if code != 1 {
		t.Errorf("unresolvable recipient exit code = %d, want 1", code)
	}
}

func TestNewAgent(t *testing.T) {
	config := util.DefaultConfig()
	if newAgent(config) != nil {
		t.Error("agent created without sockets")
	}
	config.GPGSMSocket = filepath.Join(t.TempDir(), "S.gpgsm")
	a := newAgent(config)
	if a == nil {
		t.Fatal("no agent")
	}
	defer a.Close()
	if fams := a.Families(); len(fams) != 1 || fams[0] != keys.CMS {
		t.Errorf("Families = %v", fams)
	}
}

func TestParsePreference(t *testing.T) {
	pref, err := parsePreference([]string{"smime", "openpgpmime"})
	if err != nil || len(pref) != 2 || pref[0] != format.SMIME {
		t.Errorf("parsePreference = %v, %v", pref, err)
	}
	if pref[1] != format.OpenPGPMIME {
		t.Errorf("second preference = %v", pref[1])
	}
	if _, err := parsePreference([]string{"smime", "bogus"}); err == nil || !strings.Contains(err.Error(), "format_preference") {
		t.Errorf("err = %v", err)
	}
}
