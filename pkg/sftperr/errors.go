// Package sftperr defines the structured error taxonomy shared by the wire
// codec, the client and server protocol engines, and the filesystem adapter.
package sftperr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Status codes carried on the wire by a STATUS response packet.
const (
	StatusOK                = 0
	StatusEOF               = 1
	StatusNoSuchFile        = 2
	StatusPermissionDenied  = 3
	StatusFailure           = 4
	StatusBadMessage        = 5
	StatusNoConnection      = 6
	StatusConnectionLost    = 7
	StatusOpUnsupported     = 8
)

// Error is the structured error returned by every operation in this module.
// Code is the textual POSIX-like name, Errno its integer counterpart, both
// fixed by the STATUS table in spec.md §4.C. Description carries whatever
// message text the peer (or the local failure) supplied. Context copies the
// originating command/path/handle identifiers for diagnostics.
type Error struct {
	Code        string
	Errno       int
	Description string
	NativeCode  int
	Context     map[string]interface{}

	cause error
}

func (e *Error) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s (errno %d): %s", e.Code, e.Errno, e.Description)
	}
	return fmt.Sprintf("%s (errno %d)", e.Code, e.Errno)
}

// Format lets %+v on an Error print the wrapped stack trace, matching the
// teacher's pkg/errors usage.
func (e *Error) Format(s fmt.State, verb rune) {
	if e.cause != nil {
		if f, ok := e.cause.(fmt.Formatter); ok {
			f.Format(s, verb)
			return
		}
	}
	fmt.Fprint(s, e.Error())
}

func (e *Error) Unwrap() error { return e.cause }

// WithContext returns a copy of e with the given key/value merged into its
// context map. Used to tag an error with the command/path/handle it arose
// from before it's returned to a caller.
func (e *Error) WithContext(key string, value interface{}) *Error {
	ne := *e
	ne.Context = make(map[string]interface{}, len(e.Context)+1)
	for k, v := range e.Context {
		ne.Context[k] = v
	}
	ne.Context[key] = value
	return &ne
}

func newf(code string, errno int, format string, args ...interface{}) *Error {
	return &Error{
		Code:        code,
		Errno:       errno,
		Description: fmt.Sprintf(format, args...),
		cause:       errors.New(code),
	}
}

// statusTable maps a wire STATUS code to the (code, errno) pair of spec.md
// §4.C's table.
var statusTable = map[int]struct {
	code  string
	errno int
}{
	StatusEOF:              {"EOF", 1},
	StatusNoSuchFile:       {"ENOENT", 34},
	StatusPermissionDenied: {"EACCES", 3},
	StatusFailure:          {"EFAILURE", -2},
	StatusBadMessage:       {"EBADMSG", 74},
	StatusNoConnection:     {"ENOTCONN", 31},
	StatusConnectionLost:   {"ESHUTDOWN", 46},
	StatusOpUnsupported:    {"ENOSYS", 35},
}

// FromStatus builds an *Error from a non-OK STATUS packet's numeric code and
// server-supplied description.
func FromStatus(statusCode int, description string) *Error {
	ent, ok := statusTable[statusCode]
	if !ok {
		ent = statusTable[StatusFailure]
	}
	return &Error{
		Code:        ent.code,
		Errno:       ent.errno,
		Description: description,
		cause:       errors.Errorf("STATUS %d: %s", statusCode, description),
	}
}

// ToStatus picks the wire STATUS code that best represents e, for the server
// side to encode a response.
func ToStatus(err error) (code int, description string) {
	if err == nil {
		return StatusOK, ""
	}
	var se *Error
	if as, ok := err.(*Error); ok {
		se = as
	} else {
		return StatusFailure, err.Error()
	}
	switch se.Code {
	case "EOF":
		return StatusEOF, se.Description
	case "ENOENT":
		return StatusNoSuchFile, se.Description
	case "EACCES", "EROFS":
		return StatusPermissionDenied, se.Description
	case "ENOTCONN":
		return StatusNoConnection, se.Description
	case "ESHUTDOWN":
		return StatusConnectionLost, se.Description
	case "ENOSYS":
		return StatusOpUnsupported, se.Description
	case "EBADMSG":
		return StatusBadMessage, se.Description
	default:
		return StatusFailure, se.Description
	}
}

// Well-known sentinel errors. The first group matches wire STATUS codes;
// the rest are raised locally by the codec, the channel, the safe
// filesystem, or the adapter.
var (
	ErrEOF             = newf("EOF", 1, "end of file")
	ErrNoSuchFile      = newf("ENOENT", 34, "no such file or directory")
	ErrPermission      = newf("EACCES", 3, "permission denied")
	ErrFailure         = newf("EFAILURE", -2, "failure")
	ErrNotConnected    = newf("ENOTCONN", 31, "not connected")
	ErrConnectionLost  = newf("ESHUTDOWN", 46, "connection lost")
	ErrOpUnsupported   = newf("ENOSYS", 35, "operation not supported")
	ErrReadOnly        = newf("EROFS", 30, "read-only filesystem")
	ErrTooManyHandles  = newf("ENFILE", 23, "too many open handles")
	ErrIO              = newf("EIO", 5, "i/o error")
	ErrGoingAway       = newf("X_GOINGAWAY", -100, "peer going away")
	ErrProtocolType    = newf("EPROTOTYPE", 91, "protocol error")
	ErrConnAborted     = newf("ECONNABORTED", 103, "connection aborted")
	ErrConnRefused     = newf("ECONNREFUSED", 111, "connection refused")
	ErrConnReset       = newf("ECONNRESET", 104, "connection reset")
	ErrBadMessage      = newf("EBADMSG", 74, "bad message")
	ErrMessageTooLarge = newf("EMSGSIZE", 90, "message too large")
	ErrSecureNeg       = newf("EPROTO", 71, "secure negotiation failure")
	ErrNoAuth          = newf("X_NOAUTH", -101, "authentication required")
)

// New constructs an ad-hoc *Error carrying code/errno with a formatted
// description, for local failures that don't correspond to a STATUS code
// (e.g. client-side length-cap violations).
func New(code string, errno int, format string, args ...interface{}) *Error {
	return newf(code, errno, format, args...)
}

// Clone returns a shallow copy of a sentinel error so callers can attach a
// distinct Context without mutating the shared sentinel.
func Clone(e *Error) *Error {
	ne := *e
	return &ne
}
