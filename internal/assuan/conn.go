// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package assuan

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// maxLineLength is the assuan limit for a single protocol line.
const maxLineLength = 1000

// Conn is a Session speaking the assuan line protocol over a Unix socket.
// The socket is dialed lazily on the first transaction, so a backend that is
// not yet listening surfaces as ErrConnectFailed from Transact.
type Conn struct {
	socketPath string

	// Timeout bounds a single transaction. Zero means no deadline beyond
	// the context's.
	Timeout time.Duration

	conn   net.Conn
	reader *bufio.Reader
}

// NewConn creates a client for socketPath (not yet connected).
func NewConn(socketPath string) *Conn {
	return &Conn{socketPath: socketPath}
}

// ConnDialer returns a Dialer producing lazily connected Conns.
func ConnDialer(socketPath string, timeout time.Duration) Dialer {
	return func(ctx context.Context) (Session, error) {
		c := NewConn(socketPath)
		c.Timeout = timeout
		return c, nil
	}
}

// Close closes the connection.
func (c *Conn) Close() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.reader = nil
	}
}

func (c *Conn) connect(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return &Error{Code: ErrConnectFailed, Description: err.Error()}
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)

	c.setDeadline(ctx)
	greeting, err := c.readLine()
	if err != nil {
		c.Close()
		return err
	}
	if greeting != "OK" && !strings.HasPrefix(greeting, "OK ") {
		c.Close()
		return &Error{Code: ErrNotAServer, Description: "unexpected greeting: " + greeting}
	}
	return nil
}

func (c *Conn) setDeadline(ctx context.Context) {
	var deadline time.Time
	if c.Timeout > 0 {
		deadline = time.Now().Add(c.Timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = c.conn.SetDeadline(deadline)
}

// Transact sends command and collects D and S lines until OK or ERR.
// Canceling ctx aborts a transaction in flight. Any failure other than an
// ERR reply leaves the stream out of step with the server, so the
// connection is closed and the next transaction dials again.
func (c *Conn) Transact(ctx context.Context, command string) (*Transaction, error) {
	if strings.ContainsAny(command, "\r\n") {
		return nil, &Error{Code: ErrParameter, Description: "command contains a line break"}
	}
	if len(command) > maxLineLength-1 {
		return nil, &Error{Code: ErrLineTooLong}
	}
	if c.conn == nil {
		if err := c.connect(ctx); err != nil {
			return nil, err
		}
	}
	c.setDeadline(ctx)

	conn := c.conn
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	tx, inSync, err := c.exchange(command)
	if !stop() {
		// The cancel hook has fired and poisoned the deadline.
		c.Close()
		if err != nil {
			return nil, ctx.Err()
		}
		return tx, nil
	}
	if err != nil && !inSync {
		c.Close()
	}
	return tx, err
}

// exchange runs one command on an open connection. inSync reports whether
// the connection is still positioned at a transaction boundary.
func (c *Conn) exchange(command string) (tx *Transaction, inSync bool, err error) {
	if err := c.writeLine(command); err != nil {
		return nil, false, err
	}

	tx = &Transaction{}
	for {
		line, err := c.readLine()
		if err != nil {
			return nil, false, err
		}
		switch {
		case line == "OK" || strings.HasPrefix(line, "OK "):
			return tx, true, nil
		case strings.HasPrefix(line, "ERR "):
			return nil, true, parseErrLine(line)
		case strings.HasPrefix(line, "D "):
			tx.Data = append(tx.Data, unescapeData(line[2:])...)
		case strings.HasPrefix(line, "S "):
			kw, val, _ := strings.Cut(line[2:], " ")
			tx.Status = append(tx.Status, StatusLine{Keyword: kw, Value: val})
		case strings.HasPrefix(line, "INQUIRE "):
			// No inquiry handlers: cancel and let the server answer with ERR.
			if err := c.writeLine("CAN"); err != nil {
				return nil, false, err
			}
		case line == "" || line[0] == '#':
		default:
			return nil, false, &Error{Code: ErrInvResponse, Description: line}
		}
	}
}

func (c *Conn) writeLine(s string) error {
	if _, err := c.conn.Write([]byte(s + "\n")); err != nil {
		return &Error{Code: ErrWriteError, Description: err.Error()}
	}
	return nil
}

func (c *Conn) readLine() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return "", &Error{Code: ErrTimeout, Description: err.Error()}
		}
		return "", &Error{Code: ErrReadError, Description: err.Error()}
	}
	if len(line) > maxLineLength {
		return "", &Error{Code: ErrLineTooLong}
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func parseErrLine(line string) *Error {
	rest := strings.TrimPrefix(line, "ERR ")
	codeStr, desc, _ := strings.Cut(rest, " ")
	n, err := strconv.ParseUint(codeStr, 10, 32)
	if err != nil {
		return &Error{Code: ErrInvResponse, Description: line}
	}
	return &Error{Code: Code(n) & codeMask, Description: desc}
}

// unescapeData decodes the %XX escapes used in D lines.
func unescapeData(s string) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			if n, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
				out = append(out, byte(n))
				i += 2
				continue
			}
		}
		out = append(out, s[i])
	}
	return out
}

// EscapeData encodes s for a D line.
func EscapeData(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '\r', '\n', '\\':
			fmt.Fprintf(&sb, "%%%02X", s[i])
		default:
			sb.WriteByte(s[i])
		}
	}
	return sb.String()
}

// Compile-time interface check
var _ Session = (*Conn)(nil)
