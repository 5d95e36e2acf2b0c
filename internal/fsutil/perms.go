// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package fsutil provides filesystem checks for files that feed key
// selection. Anyone able to write a keyring file can plant keys, so such
// files must not be writable by other users.
package fsutil

import (
	"errors"
	"fmt"
	"os"
)

// ErrInsecurePermissions is returned for files or directories writable by
// other users.
var ErrInsecurePermissions = errors.New("writable by other users")

// CheckNotWorldWritable fails when path is writable by users outside its
// owner and group.
func CheckNotWorldWritable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	return checkMode(path, info.Mode())
}

func checkMode(path string, mode os.FileMode) error {
	// Sticky directories such as /tmp are shared on purpose.
	if mode.IsDir() && mode&os.ModeSticky != 0 {
		return nil
	}
	if mode.Perm()&0002 != 0 {
		return fmt.Errorf("%s: %w (mode %04o)", path, ErrInsecurePermissions, mode.Perm())
	}
	return nil
}
