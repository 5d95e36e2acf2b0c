// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package assuan sends commands to GnuPG-style backend processes.
//
// Transport.Send runs one command on a Slot, waiting with linear backoff
// while the backend is still starting, and discarding the session when the
// protocol layer reports corruption. SendData, SendStatusLines and
// SendStatus extract the useful part of a completed transaction.
package assuan

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/aplane-algo/keyresolver/internal/util"
)

// Transport sends commands to a backend session.
// The zero value uses DefaultRetryPolicy and the package logger.
type Transport struct {
	Retry  *RetryPolicy
	Logger *slog.Logger

	// Sleep waits between retries. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (t *Transport) retry() RetryPolicy {
	if t == nil || t.Retry == nil {
		return DefaultRetryPolicy()
	}
	return *t.Retry
}

func (t *Transport) logger() *slog.Logger {
	if t == nil || t.Logger == nil {
		return util.Log()
	}
	return t.Logger
}

func (t *Transport) sleep(ctx context.Context, d time.Duration) error {
	if t != nil && t.Sleep != nil {
		return t.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

// Send runs command on the slot's session and returns the buffered
// transaction.
//
// A connect-failed error is retried up to Retry.MaxRetries times; the retry
// counter belongs to this call. Any other error fails at once. Errors in the
// protocol range invalidate the slot. The slot is held for the whole call, so
// only one command is in flight per session.
func (t *Transport) Send(ctx context.Context, slot *Slot, command string) (*Transaction, error) {
	log := t.logger()
	log.Debug("assuan send", "command", command)

	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.sess == nil {
		log.Debug("assuan send without session", "command", command)
		return nil, ErrNoSession
	}

	policy := t.retry()
	tx, err := slot.sess.Transact(ctx, command)
	for retry := 1; IsConnectFailed(err) && retry <= policy.MaxRetries; retry++ {
		delay := policy.Delay(retry)
		log.Debug("waiting for the backend to start up", "command", command, "retry", retry, "delay", delay)
		if werr := t.sleep(ctx, delay); werr != nil {
			return nil, werr
		}
		tx, err = slot.sess.Transact(ctx, command)
	}

	if err != nil {
		log.Debug("assuan command failed", "command", command, "code", CodeOf(err), "error", err)
		if IsProtocolError(err) {
			log.Debug("assuan problem, discarding session", "command", command)
			slot.invalidateLocked()
		}
		return nil, err
	}
	return tx, nil
}

// SendData runs command and returns its data output. The result is ""
// when the command fails.
func (t *Transport) SendData(ctx context.Context, slot *Slot, command string) (string, error) {
	tx, err := t.Send(ctx, slot, command)
	if tx == nil {
		t.logger().Debug("assuan data command returned nothing", "command", command)
		return "", err
	}
	data := tx.DataString()
	t.logger().Debug("assuan data command", "command", command, "bytes", len(data))
	return data, err
}

// SendStatusLines runs command and returns every status line in order.
func (t *Transport) SendStatusLines(ctx context.Context, slot *Slot, command string) ([]StatusLine, error) {
	tx, err := t.Send(ctx, slot, command)
	if tx == nil {
		t.logger().Debug("assuan status command returned nothing", "command", command)
		return nil, err
	}
	lines := tx.StatusLines()
	t.logger().Debug("assuan status command", "command", command, "lines", len(lines))
	return lines, err
}

// SendStatus runs command and returns the value of the status line named
// after the command's final token ("SCD GETATTR SERIALNO" -> "SERIALNO").
func (t *Transport) SendStatus(ctx context.Context, slot *Slot, command string) (string, error) {
	lines, err := t.SendStatusLines(ctx, slot, command)
	return StatusValue(lines, command), err
}

// StatusValue returns the value of the first line whose keyword equals the
// last space-separated token of command, or "" when there is none.
func StatusValue(lines []StatusLine, command string) string {
	needle := command
	if i := strings.LastIndexByte(command, ' '); i >= 0 {
		needle = command[i+1:]
	}
	for _, l := range lines {
		if l.Keyword == needle {
			return l.Value
		}
	}
	return ""
}
