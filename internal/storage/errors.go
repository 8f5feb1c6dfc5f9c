// Package storage holds what every store implementation shares.
package storage

import "errors"

var (
	// ErrNotFound is returned when a referenced account or listing does not exist.
	ErrNotFound = errors.New("storage: row not found")

	// ErrLockTimeout is returned when a row lock cannot be taken within the
	// configured wait, or the database aborted the transaction over contention.
	ErrLockTimeout = errors.New("storage: lock wait timed out")
)
