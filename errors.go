// Package vfn is the public façade for a user-space library that drives
// an NVMe controller directly through the kernel's VFIO passthrough
// facility: it owns the IOVA allocator/mapping table and the NVMe
// submission/completion queue engine.
package vfn

import (
	"errors"
	"fmt"
	"syscall"
)

// Error is a structured error carrying the operation, error category
// and wrapped cause for anything this library returns.
type Error struct {
	Op    string    // operation that failed (e.g. "MapEphemeral", "Oneshot")
	QID   int       // queue id, -1 if not applicable
	Code  ErrorCode // high-level error category
	Errno syscall.Errno
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if e.QID >= 0 {
		return fmt.Sprintf("vfn: %s: %s (qid=%d)", e.Op, msg, e.QID)
	}
	return fmt.Sprintf("vfn: %s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Inner
}

func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// ErrorCode is a high-level error category, used for programmatic
// dispatch independent of the message text.
type ErrorCode string

const (
	ErrCodeInvalidArgument    ErrorCode = "invalid argument"
	ErrCodeResourceExhausted  ErrorCode = "resource exhausted"
	ErrCodeAlreadyExists      ErrorCode = "already exists"
	ErrCodeUnsupported        ErrorCode = "unsupported"
	ErrCodeIOError            ErrorCode = "I/O error"
	ErrCodeTimeout            ErrorCode = "timeout"
	ErrCodeNotFound           ErrorCode = "not found"
)

// NewError constructs a structured error without an associated queue.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, QID: -1, Code: code, Msg: msg}
}

// NewQueueError constructs a structured error scoped to a queue id.
func NewQueueError(op string, qid int, code ErrorCode, msg string) *Error {
	return &Error{Op: op, QID: qid, Code: code, Msg: msg}
}

// WrapError wraps inner with op context, mapping syscall errnos to an
// ErrorCode where a mapping exists.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if ve, ok := inner.(*Error); ok {
		wrapped := *ve
		wrapped.Op = op
		wrapped.Inner = inner
		return &wrapped
	}

	code := ErrCodeIOError
	var errno syscall.Errno
	if e, ok := inner.(syscall.Errno); ok {
		errno = e
		code = mapErrnoToCode(e)
	}

	return &Error{Op: op, QID: -1, Code: code, Errno: errno, Msg: inner.Error(), Inner: inner}
}

func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.EINVAL, syscall.E2BIG:
		return ErrCodeInvalidArgument
	case syscall.ENOMEM, syscall.ENOSPC:
		return ErrCodeResourceExhausted
	case syscall.EEXIST:
		return ErrCodeAlreadyExists
	case syscall.ENOSYS, syscall.EOPNOTSUPP:
		return ErrCodeUnsupported
	case syscall.ETIMEDOUT:
		return ErrCodeTimeout
	case syscall.ENOENT:
		return ErrCodeNotFound
	default:
		return ErrCodeIOError
	}
}

// IsCode reports whether err is a *Error carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Code == code
	}
	return false
}
