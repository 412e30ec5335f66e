package repository

import (
	"context"

	"gorm.io/gorm"
)

// Store bundles all repositories over a single *gorm.DB handle.
type Store struct {
	db *gorm.DB

	Users       *UserRepository
	Roles       *RoleRepository
	Permissions *PermissionRepository
	Documents   *DocumentRepository
	Audit       *AuditRepository
}

// NewStore returns a Store backed by the provided *gorm.DB.
func NewStore(database *gorm.DB) *Store {
	return &Store{
		db:          database,
		Users:       &UserRepository{db: database},
		Roles:       &RoleRepository{db: database},
		Permissions: &PermissionRepository{db: database},
		Documents:   &DocumentRepository{db: database},
		Audit:       &AuditRepository{db: database},
	}
}

// Transaction runs fn inside a database transaction. The Store handed to fn
// operates on the transaction; returning an error rolls everything back.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

// DB exposes the underlying handle for raw-SQL consumers (search, health).
func (s *Store) DB() *gorm.DB {
	return s.db
}

// ListOptions carries pagination for list queries.
type ListOptions struct {
	Limit  int
	Offset int
}
