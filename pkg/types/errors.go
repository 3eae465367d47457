package types

import (
	"errors"
)

// Error kinds surfaced by the connectivity core. Callers classify
// wrapped errors with errors.Is.
var (
	ErrConnectionRefused   = errors.New("connection refused")
	ErrTimeout             = errors.New("timeout")
	ErrProtocolViolation   = errors.New("protocol violation")
	ErrUnknownRegister     = errors.New("unknown register")
	ErrReadOnlyRegister    = errors.New("register is read-only")
	ErrInvalidConnector    = errors.New("invalid connector")
	ErrNoActiveTransaction = errors.New("no active transaction")
	ErrTransactionActive   = errors.New("transaction already active")
	ErrAdapterNotFound     = errors.New("adapter not found")
	ErrBusClosed           = errors.New("bus closed")
	ErrCancelled           = errors.New("operation cancelled")
	ErrNotConnected        = errors.New("not connected")
)
