package api

import (
	"errors"

	"github.com/danmuck/sessionctl/internal/session"
	"golang.org/x/sys/unix"
)

// Status is the numeric result of a Process call: zero on success,
// otherwise a POSIX errno.
type Status int

const StatusOK Status = 0

const (
	StatusInvalid     = Status(unix.EINVAL)
	StatusNotFound    = Status(unix.ENOENT)
	StatusFailed      = Status(unix.EPERM)
	StatusExists      = Status(unix.EEXIST)
	StatusNoResources = Status(unix.ENOMEM)
)

func (s Status) OK() bool { return s == StatusOK }

// Errno returns the status as a unix.Errno. StatusOK maps to 0.
func (s Status) Errno() unix.Errno { return unix.Errno(s) }

func (s Status) String() string {
	if s == StatusOK {
		return "ok"
	}
	return unix.Errno(s).Error()
}

// StatusOf maps an error to exactly one Status.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, session.ErrInvalidArgument), errors.Is(err, session.ErrFormat):
		return StatusInvalid
	case errors.Is(err, session.ErrNotFound):
		return StatusNotFound
	default:
		return StatusFailed
	}
}
