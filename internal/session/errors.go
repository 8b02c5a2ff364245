package session

import "errors"

var (
	ErrInvalidArgument   = errors.New("session: invalid argument")
	ErrUnknownOwner      = errors.New("session: unknown owner")
	ErrNotFound          = errors.New("session: not found")
	ErrTransactionLocked = errors.New("session: build transaction locked")
	ErrFormat            = errors.New("session: malformed session id")
	ErrInternalFailure   = errors.New("session: internal failure")
)
