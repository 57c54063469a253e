package storage

import "errors"

// Storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists. Ledger entries are append-only.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrConflict is returned when a compare-and-set status transition
	// finds the record in a different state than expected.
	ErrConflict = errors.New("conflict: record changed concurrently")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)
