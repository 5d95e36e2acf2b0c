// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package assuan

import (
	"bufio"
	"context"
	"errors"
	"net"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// serveAssuan runs a minimal assuan server answering each command with the
// lines returned by handle.
func serveAssuan(t *testing.T, handle func(cmd string) []string) string {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "S.test")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer func() { _ = c.Close() }()
				w := bufio.NewWriter(c)
				_, _ = w.WriteString("OK Pleased to meet you\n")
				_ = w.Flush()
				r := bufio.NewReader(c)
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					for _, out := range handle(strings.TrimSpace(line)) {
						_, _ = w.WriteString(out + "\n")
					}
					_ = w.Flush()
				}
			}(conn)
		}
	}()
	return sock
}

func TestConnTransact(t *testing.T) {
	sock := serveAssuan(t, func(cmd string) []string {
		switch cmd {
		case "LISTKEYS -- a@example.org":
			return []string{
				"# comment",
				"S KEYLISTING start",
				"D pub:f::%0A",
				"D fpr:::ABC%25",
				"S TRUNCATED 1",
				"OK",
			}
		case "BYE":
			return []string{"OK closing connection"}
		default:
			return []string{"ERR 67109139 Unknown IPC command <GPG Agent>"}
		}
	})

	c := NewConn(sock)
	c.Timeout = 5 * time.Second
	defer c.Close()

	tx, err := c.Transact(context.Background(), "LISTKEYS -- a@example.org")
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}
	if got := tx.DataString(); got != "pub:f::\nfpr:::ABC%" {
		t.Errorf("data = %q", got)
	}
	wantStatus := []StatusLine{{"KEYLISTING", "start"}, {"TRUNCATED", "1"}}
	if !reflect.DeepEqual(tx.Status, wantStatus) {
		t.Errorf("status = %v, want %v", tx.Status, wantStatus)
	}

	_, err = c.Transact(context.Background(), "NOPE")
	if CodeOf(err) != ErrUnknownCmd {
		t.Errorf("err = %v, want code %d", err, ErrUnknownCmd)
	}
	if !IsProtocolError(err) {
		t.Error("unknown command must be classified as a protocol error")
	}
}

func TestConnInquireIsCanceled(t *testing.T) {
	sock := serveAssuan(t, func(cmd string) []string {
		switch cmd {
		case "PKDECRYPT":
			return []string{"INQUIRE CIPHERTEXT"}
		case "CAN":
			return []string{"ERR 277 Operation cancelled"}
		}
		return []string{"OK"}
	})

	c := NewConn(sock)
	defer c.Close()
	_, err := c.Transact(context.Background(), "PKDECRYPT")
	if CodeOf(err) != ErrCanceled {
		t.Errorf("err = %v, want canceled", err)
	}
}

func TestConnTimeoutDropsStaleReply(t *testing.T) {
	sock := serveAssuan(t, func(cmd string) []string {
		if cmd == "GETINFO slow" {
			time.Sleep(300 * time.Millisecond)
			return []string{"D stale", "OK"}
		}
		return []string{"D " + cmd, "OK"}
	})

	c := NewConn(sock)
	c.Timeout = 50 * time.Millisecond
	defer c.Close()

	_, err := c.Transact(context.Background(), "GETINFO slow")
	if CodeOf(err) != ErrTimeout {
		t.Fatalf("err = %v, want timeout", err)
	}

	c.Timeout = 5 * time.Second
	tx, err := c.Transact(context.Background(), "GETINFO fresh")
	if err != nil {
		t.Fatalf("Transact after timeout: %v", err)
	}
	if got := tx.DataString(); got != "GETINFO fresh" {
		t.Errorf("data = %q, want the reply to the second command", got)
	}
}

func TestConnUnexpectedLineResetsConnection(t *testing.T) {
	sock := serveAssuan(t, func(cmd string) []string {
		if cmd == "GETINFO garbled" {
			return []string{"BOGUS", "D leftover", "OK"}
		}
		return []string{"D " + cmd, "OK"}
	})

	c := NewConn(sock)
	c.Timeout = 5 * time.Second
	defer c.Close()

	_, err := c.Transact(context.Background(), "GETINFO garbled")
	if CodeOf(err) != ErrInvResponse {
		t.Fatalf("err = %v, want invalid response", err)
	}
	tx, err := c.Transact(context.Background(), "GETINFO next")
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}
	if got := tx.DataString(); got != "GETINFO next" {
		t.Errorf("data = %q, want the reply to the second command", got)
	}
}

func TestConnHonorsCancellation(t *testing.T) {
	sock := serveAssuan(t, func(cmd string) []string {
		if cmd == "GETINFO slow" {
			time.Sleep(2 * time.Second)
		}
		return []string{"D " + cmd, "OK"}
	})

	c := NewConn(sock)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := c.Transact(ctx, "GETINFO slow")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Transact returned after %v, want prompt return on cancel", elapsed)
	}

	tx, err := c.Transact(context.Background(), "GETINFO fresh")
	if err != nil {
		t.Fatalf("Transact after cancel: %v", err)
	}
	if got := tx.DataString(); got != "GETINFO fresh" {
		t.Errorf("data = %q, want the reply to the second command", got)
	}
}

func TestConnConnectFailed(t *testing.T) {
	c := NewConn(filepath.Join(t.TempDir(), "missing.sock"))
	_, err := c.Transact(context.Background(), "GETINFO version")
	if !IsConnectFailed(err) {
		t.Errorf("err = %v, want connect failed", err)
	}
}

func TestConnRejectsLineBreaks(t *testing.T) {
	c := NewConn("/nonexistent")
	if _, err := c.Transact(context.Background(), "A\nB"); CodeOf(err) != ErrParameter {
		t.Errorf("err = %v, want parameter error", err)
	}
	if _, err := c.Transact(context.Background(), strings.Repeat("x", maxLineLength)); CodeOf(err) != ErrLineTooLong {
		t.Errorf("err = %v, want line too long", err)
	}
}

func TestConnWithTransportRetries(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "S.late")
	slot := NewSlotWith(NewConn(sock), nil)

	var ln net.Listener
	tr := &Transport{
		Sleep: func(ctx context.Context, d time.Duration) error {
			// the backend comes up during the first backoff
			if ln == nil {
				var err error
				ln, err = net.Listen("unix", sock)
				if err != nil {
					return err
				}
				go func() {
					conn, err := ln.Accept()
					if err != nil {
						return
					}
					defer func() { _ = conn.Close() }()
					_, _ = conn.Write([]byte("OK hi\n"))
					r := bufio.NewReader(conn)
					if _, err := r.ReadString('\n'); err == nil {
						_, _ = conn.Write([]byte("D 2.4.5\nOK\n"))
					}
				}()
			}
			return nil
		},
	}
	t.Cleanup(func() {
		if ln != nil {
			_ = ln.Close()
		}
	})

	data, err := tr.SendData(context.Background(), slot, "GETINFO version")
	if err != nil {
		t.Fatalf("SendData: %v", err)
	}
	if data != "2.4.5" {
		t.Errorf("data = %q, want 2.4.5", data)
	}
}

func TestEscapeData(t *testing.T) {
	in := "a%b\nc\\d"
	esc := EscapeData(in)
	if esc != "a%25b%0Ac%5Cd" {
		t.Errorf("EscapeData = %q", esc)
	}
	if got := string(unescapeData(esc)); got != in {
		t.Errorf("unescape(escape) = %q, want %q", got, in)
	}
}
