// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package assuan

import (
	"errors"
	"fmt"
)

// Code is a libgpg-error code as carried in an assuan ERR line.
type Code uint32

// Assuan error codes. The range ErrGeneral..ErrUnknownInquire is the
// protocol layer: any of them means the channel can no longer be trusted.
const (
	ErrGeneral         Code = 257
	ErrAcceptFailed    Code = 258
	ErrConnectFailed   Code = 259
	ErrInvResponse     Code = 260
	ErrInvValue        Code = 261
	ErrIncompleteLine  Code = 262
	ErrLineTooLong     Code = 263
	ErrNestedCommands  Code = 264
	ErrNoDataCallback  Code = 265
	ErrNoInquireCB     Code = 266
	ErrNotAServer      Code = 267
	ErrNotAClient      Code = 268
	ErrServerStart     Code = 269
	ErrReadError       Code = 270
	ErrWriteError      Code = 271
	ErrTooMuchData     Code = 273
	ErrUnexpectedCmd   Code = 274
	ErrUnknownCmd      Code = 275
	ErrSyntax          Code = 276
	ErrCanceled        Code = 277
	ErrNoInput         Code = 278
	ErrNoOutput        Code = 279
	ErrParameter       Code = 280
	ErrUnknownInquire  Code = 281
	ErrNotFound        Code = 27
	ErrTimeout         Code = 62
	ErrOperationCancel Code = 99
)

// codeMask strips the error source kept in the high bits.
const codeMask = 0xffff

var (
	// ErrNoSession is returned when a command is sent on an empty slot.
	// The caller must Acquire a new session first.
	ErrNoSession = errors.New("no backend session")

	// ErrPoolClosed is returned by Pool.Get after Close.
	ErrPoolClosed = errors.New("session pool closed")
)

// Error is a non-zero status returned by the backend or by the client side
// of the protocol.
type Error struct {
	Code        Code
	Description string
}

func (e *Error) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("assuan error %d: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("assuan error %d", e.Code)
}

// Is matches another *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// CodeOf returns the error code carried by err, or 0 when err is nil or not
// an assuan error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code & codeMask
	}
	return 0
}

// IsConnectFailed reports whether err means the backend is not reachable
// yet. These are retried with backoff.
func IsConnectFailed(err error) bool {
	return CodeOf(err) == ErrConnectFailed
}

// IsProtocolError reports whether err is in the assuan protocol range.
// The session that produced it must be discarded.
func IsProtocolError(err error) bool {
	c := CodeOf(err)
	return c >= ErrGeneral && c <= ErrUnknownInquire
}
