package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/docvault-io/docvault/internal/db"
)

// PermissionRepository provides data access for the permission catalogue.
type PermissionRepository struct {
	db *gorm.DB
}

// Create inserts a new permission record.
func (r *PermissionRepository) Create(ctx context.Context, perm *db.Permission) error {
	if err := r.db.WithContext(ctx).Create(perm).Error; err != nil {
		return fmt.Errorf("permissions: create: %w", err)
	}
	return nil
}

// GetByID retrieves a permission by UUID. Returns ErrNotFound if no record exists.
func (r *PermissionRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.Permission, error) {
	var perm db.Permission
	err := r.db.WithContext(ctx).First(&perm, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("permissions: get by id: %w", err)
	}
	return &perm, nil
}

// GetByTriple retrieves a permission by its unique (resource, action, scope).
// Returns ErrNotFound if no record exists.
func (r *PermissionRepository) GetByTriple(ctx context.Context, resource, action, scope string) (*db.Permission, error) {
	var perm db.Permission
	err := r.db.WithContext(ctx).
		First(&perm, "resource = ? AND action = ? AND scope = ?", resource, action, scope).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("permissions: get by triple: %w", err)
	}
	return &perm, nil
}

// List returns the full permission catalogue ordered by resource then action.
func (r *PermissionRepository) List(ctx context.Context) ([]db.Permission, error) {
	var perms []db.Permission
	err := r.db.WithContext(ctx).
		Order("resource ASC, action ASC, scope ASC").
		Find(&perms).Error
	if err != nil {
		return nil, fmt.Errorf("permissions: list: %w", err)
	}
	return perms, nil
}

// ListForUser returns the distinct permissions a user holds through all of
// their roles, resolved with a single join query.
func (r *PermissionRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]db.Permission, error) {
	var perms []db.Permission
	err := r.db.WithContext(ctx).
		Table("permissions").
		Select("DISTINCT permissions.*").
		Joins("JOIN role_permissions ON role_permissions.permission_id = permissions.id").
		Joins("JOIN user_roles ON user_roles.role_id = role_permissions.role_id").
		Where("user_roles.user_id = ?", userID).
		Find(&perms).Error
	if err != nil {
		return nil, fmt.Errorf("permissions: list for user: %w", err)
	}
	return perms, nil
}
