// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package version reports the keyresolver build.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set with -ldflags "-X github.com/aplane-algo/keyresolver/internal/version.Version=1.2.0".
var (
	Version   = ""
	GitCommit = ""
)

// String returns the version line printed by -version.
func String() string {
	v, commit := Version, GitCommit
	if v == "" || commit == "" {
		bv, bc := fromBuildInfo()
		if v == "" {
			v = bv
		}
		if commit == "" {
			commit = bc
		}
	}
	return fmt.Sprintf("%s (commit: %s, %s, %s/%s)", v, commit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// fromBuildInfo reads the module version and VCS revision embedded by go build.
func fromBuildInfo() (string, string) {
	v, commit := "dev", "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return v, commit
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		v = info.Main.Version
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 7 {
			commit = s.Value[:7]
		}
	}
	return v, commit
}
