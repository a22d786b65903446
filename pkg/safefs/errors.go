package safefs

import (
	"errors"
	"os"
	"syscall"

	"github.com/qbane/websocketfs/pkg/sftperr"
)

// translateOSError maps a stdlib os/syscall error into the sftperr
// taxonomy, attaching the failing command and path as context the way
// the wire-level STATUS response carries them (spec.md §7).
func translateOSError(err error, command, path string) *sftperr.Error {
	if err == nil {
		return nil
	}
	var e *sftperr.Error
	switch {
	case os.IsNotExist(err):
		e = sftperr.Clone(sftperr.ErrNoSuchFile)
	case os.IsPermission(err):
		e = sftperr.Clone(sftperr.ErrPermission)
	case errors.Is(err, syscall.ENOTDIR), errors.Is(err, syscall.EEXIST),
		errors.Is(err, syscall.ENOTEMPTY), errors.Is(err, syscall.EINVAL):
		e = sftperr.New("EFAILURE", -4, "%v", err)
	case errors.Is(err, syscall.ENOSPC), errors.Is(err, syscall.EIO):
		e = sftperr.Clone(sftperr.ErrIO)
	default:
		e = sftperr.Clone(sftperr.ErrFailure)
	}
	e.Description = err.Error()
	return e.WithContext("command", command).WithContext("path", path)
}
