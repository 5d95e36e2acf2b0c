// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package keysource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/aplane-algo/keyresolver/internal/fsutil"
	"github.com/aplane-algo/keyresolver/internal/keys"
	"github.com/aplane-algo/keyresolver/internal/util"
)

// keyringExt is the extension of key files inside a keyring directory.
const keyringExt = ".yaml"

// debounceDelay coalesces bursts of file events into one reload.
const debounceDelay = 500 * time.Millisecond

// KeyEntry is one key in a keyring file.
type KeyEntry struct {
	Fingerprint  string   `yaml:"fingerprint" description:"Full fingerprint, hex"`
	Protocol     string   `yaml:"protocol" description:"Key family (openpgp, cms)"`
	Mailboxes    []string `yaml:"mailboxes" description:"Mailboxes of the key's user IDs"`
	Capabilities []string `yaml:"capabilities" description:"Usable for (sign, encrypt)"`
	Secret       bool     `yaml:"secret" description:"Secret key available for signing" default:"false"`
	Validity     string   `yaml:"validity" description:"Owner trust validity (unknown, undefined, never, marginal, full, ultimate)" default:"unknown"`
	Revoked      bool     `yaml:"revoked,omitempty" default:"false"`
	Expired      bool     `yaml:"expired,omitempty" default:"false"`
	Disabled     bool     `yaml:"disabled,omitempty" default:"false"`
}

// KeyringFile is the document stored in each keyring file.
type KeyringFile struct {
	Keys []KeyEntry `yaml:"keys"`
}

// ToKey converts the entry into a Key.
func (e KeyEntry) ToKey() (keys.Key, error) {
	if strings.TrimSpace(e.Fingerprint) == "" {
		return keys.Key{}, errors.New("missing fingerprint")
	}
	proto, err := keys.ParseProtocol(e.Protocol)
	if err != nil {
		return keys.Key{}, err
	}
	validity, err := keys.ParseValidity(e.Validity)
	if err != nil {
		return keys.Key{}, err
	}
	k := keys.Key{
		Fingerprint: normalizeFingerprint(e.Fingerprint),
		Protocol:    proto,
		Mailboxes:   keys.NormalizeMailboxes(e.Mailboxes),
		HasSecret:   e.Secret,
		Validity:    validity,
		Revoked:     e.Revoked,
		Expired:     e.Expired,
		Disabled:    e.Disabled,
	}
	for _, c := range e.Capabilities {
		switch strings.ToLower(strings.TrimSpace(c)) {
		case "sign":
			k.CanSign = true
		case "encrypt":
			k.CanEncrypt = true
		default:
			return keys.Key{}, fmt.Errorf("unknown capability %q", c)
		}
	}
	return k, nil
}

// Keyring is a Source backed by a directory of YAML key files.
type Keyring struct {
	dir    string
	mem    *Memory
	logger *slog.Logger

	mu       sync.Mutex
	onReload func(n int)
}

// OpenKeyring loads every key file in dir. A missing directory yields an
// empty keyring.
func OpenKeyring(dir string) (*Keyring, error) {
	kr := &Keyring{dir: dir, mem: NewMemory(), logger: util.Log()}
	if err := kr.Reload(); err != nil {
		return nil, err
	}
	return kr, nil
}

// Dir returns the keyring directory.
func (kr *Keyring) Dir() string {
	return kr.dir
}

// Len returns the number of loaded keys.
func (kr *Keyring) Len() int {
	return kr.mem.Len()
}

// OnReload registers a callback invoked after each successful reload.
func (kr *Keyring) OnReload(fn func(n int)) {
	kr.mu.Lock()
	kr.onReload = fn
	kr.mu.Unlock()
}

// Reload re-reads all key files. On error the previous key set is kept.
func (kr *Keyring) Reload() error {
	loaded, err := loadKeyringDir(kr.dir)
	if err != nil {
		return err
	}
	kr.mem.Replace(loaded)
	kr.logger.Debug("keyring loaded", "dir", kr.dir, "keys", len(loaded))

	kr.mu.Lock()
	fn := kr.onReload
	kr.mu.Unlock()
	if fn != nil {
		fn(len(loaded))
	}
	return nil
}

func loadKeyringDir(dir string) ([]keys.Key, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read keyring directory: %w", err)
	}
	if err := fsutil.CheckNotWorldWritable(dir); err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), keyringExt) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []keys.Key
	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := fsutil.CheckNotWorldWritable(path); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		var file KeyringFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
		for i, entry := range file.Keys {
			k, err := entry.ToKey()
			if err != nil {
				return nil, fmt.Errorf("%s: key %d: %w", name, i+1, err)
			}
			out = append(out, k)
		}
	}
	return out, nil
}

// Lookup implements Source.
func (kr *Keyring) Lookup(ctx context.Context, fingerprint string) (keys.Key, bool, error) {
	return kr.mem.Lookup(ctx, fingerprint)
}

// Search implements Source.
func (kr *Keyring) Search(ctx context.Context, mailbox keys.Mailbox, usage keys.Usage, family keys.Protocol) ([]keys.Key, error) {
	return kr.mem.Search(ctx, mailbox, usage, family)
}

// Watch reloads the keyring whenever a key file is created, written,
// removed or renamed. It returns once the watcher is running; watching stops
// when ctx is done.
func (kr *Keyring) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(kr.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch keyring directory: %w", err)
	}

	kr.logger.Info("keyring watcher enabled", "dir", kr.dir)

	go func() {
		defer func() { _ = watcher.Close() }()

		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(event.Name, keyringExt) {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounceDelay, func() {
					if err := kr.Reload(); err != nil {
						kr.logger.Warn("error reloading keyring", "dir", kr.dir, "error", err)
					}
				})

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				kr.logger.Warn("keyring watcher error", "error", err)
			}
		}
	}()

	return nil
}
