// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package util

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	dir := t.TempDir()
	config, err := LoadConfig(dir)
	if err != nil {
		t.Fatal(err)
	}
	if config.KeyringDir != filepath.Join(dir, "keyring") {
		t.Errorf("KeyringDir = %q", config.KeyringDir)
	}
	if config.Concurrency != 4 || config.Retry.MaxRetries != 5 {
		t.Errorf("defaults not applied: %+v", config)
	}
}

func TestLoadConfigOverlay(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
keyring_dir: /var/lib/keys
format_policy_script: policy.js
formats: [anysmime]
approval: prompt
retry:
  max_retries: 2
`)
	config, err := LoadConfig(dir)
	if err != nil {
		t.Fatal(err)
	}
	if config.KeyringDir != "/var/lib/keys" {
		t.Errorf("absolute KeyringDir rewritten: %q", config.KeyringDir)
	}
	if config.FormatPolicyScript != filepath.Join(dir, "policy.js") {
		t.Errorf("FormatPolicyScript = %q", config.FormatPolicyScript)
	}
	if !reflect.DeepEqual(config.Formats, []string{"anysmime"}) || config.Approval != "prompt" {
		t.Errorf("overlay lost: %+v", config)
	}
	// unset fields keep their defaults
	if config.MinValidity != "marginal" || len(config.FormatPreference) != 4 {
		t.Errorf("defaults lost: %+v", config)
	}
	if config.Retry.MaxRetries != 2 {
		t.Errorf("Retry = %+v", config.Retry)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad yaml", "formats: [", "failed to parse"},
		{"negative concurrency", "concurrency: -1", "concurrency"},
		{"unknown approval", "approval: dialog", "invalid approval"},
		{"negative retry", "retry:\n  max_retries: -1", "retry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, tt.content)
			_, err := LoadConfig(dir)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateFillsDefaults(t *testing.T) {
	var c Config
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	if c.Concurrency != 4 || c.CommandTimeout() != 10*time.Second || c.Retry == nil {
		t.Errorf("Validate = %+v", c)
	}
	if c.Retry.BaseDelay() != 250*time.Millisecond {
		t.Errorf("BaseDelay = %v", c.Retry.BaseDelay())
	}
}

func TestGetDataDir(t *testing.T) {
	t.Setenv("KEYRESOLVE_DATA", "/from/env")
	if got := GetDataDir("/from/flag"); got != "/from/flag" {
		t.Errorf("flag ignored: %q", got)
	}
	if got := GetDataDir(""); got != "/from/env" {
		t.Errorf("env ignored: %q", got)
	}
	t.Setenv("KEYRESOLVE_DATA", "")
	if got := GetDataDir(""); got != "" && !strings.HasSuffix(got, ".keyresolve") {
		t.Errorf("default = %q", got)
	}
}

func TestResolvePath(t *testing.T) {
	tests := []struct{ path, base, want string }{
		{"", "/base", ""},
		{"/abs", "/base", "/abs"},
		{"rel", "/base", "/base/rel"},
		{"rel", "", "rel"},
	}
	for _, tt := range tests {
		if got := ResolvePath(tt.path, tt.base); got != tt.want {
			t.Errorf("ResolvePath(%q, %q) = %q, want %q", tt.path, tt.base, got, tt.want)
		}
	}
}

func TestLogger(t *testing.T) {
	saved := Logger
	defer func() { Logger = saved }()

	Logger = nil
	Debug("dropped") // must not panic before initialisation

	var buf bytes.Buffer
	t.Setenv("KEYRESOLVE_DEBUG", "1")
	InitLoggerTo(&buf)
	Debug("resolving", "mailbox", "a@example.org")
	out := buf.String()
	if !strings.Contains(out, "level=DEBUG") || !strings.Contains(out, "mailbox=a@example.org") {
		t.Errorf("log output = %q", out)
	}
	if strings.Contains(out, "time=") {
		t.Errorf("timestamp not removed: %q", out)
	}

	buf.Reset()
	t.Setenv("KEYRESOLVE_DEBUG", "")
	InitLoggerTo(&buf)
	Debug("hidden")
	Log().Info("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("log output = %q", buf.String())
	}
}
