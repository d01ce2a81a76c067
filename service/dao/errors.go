package dao

import "errors"

// Sentinel errors shared by all DAO implementations so callers can detect
// conditions with errors.Is instead of string comparisons.

var (
	// ErrNotFound is returned when the requested entity does not exist in the
	// underlying storage.
	ErrNotFound = errors.New("dao: not found")

	// ErrInvalidID indicates that the supplied ID/key is empty or otherwise
	// invalid.
	ErrInvalidID = errors.New("dao: invalid id")

	// ErrNilEntity is returned when the caller attempts to persist a nil
	// pointer.
	ErrNilEntity = errors.New("dao: nil entity")

	// ErrStale is returned when a save would overwrite a newer revision of
	// the entity than the one the caller loaded.
	ErrStale = errors.New("dao: stale write")
)
