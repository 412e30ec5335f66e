// Package repository implements typed data access on top of GORM. Every
// repository returns ErrNotFound for missing records so callers can use
// errors.Is instead of inspecting driver errors. The Store bundles all
// repositories and provides the transaction boundary used by multi-step
// mutations (role changes plus their audit rows commit or roll back
// together).
package repository

import "errors"

var (
	// ErrNotFound is returned when no record matches the query.
	ErrNotFound = errors.New("repository: record not found")

	// ErrDuplicate is returned when an insert violates a uniqueness
	// constraint the caller did not pre-check.
	ErrDuplicate = errors.New("repository: duplicate record")
)
