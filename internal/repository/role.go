package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/docvault-io/docvault/internal/db"
)

// RoleRepository provides data access for roles and their permission grants.
type RoleRepository struct {
	db *gorm.DB
}

// Create inserts a new role record.
func (r *RoleRepository) Create(ctx context.Context, role *db.Role) error {
	if err := r.db.WithContext(ctx).Create(role).Error; err != nil {
		return fmt.Errorf("roles: create: %w", err)
	}
	return nil
}

// GetByID retrieves a role with its permission list populated.
// Returns ErrNotFound if no record exists.
func (r *RoleRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.Role, error) {
	var role db.Role
	err := r.db.WithContext(ctx).First(&role, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("roles: get by id: %w", err)
	}

	perms, err := r.GetPermissions(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms
	return &role, nil
}

// GetByName retrieves a role by its unique name.
// Returns ErrNotFound if no record exists.
func (r *RoleRepository) GetByName(ctx context.Context, name string) (*db.Role, error) {
	var role db.Role
	err := r.db.WithContext(ctx).First(&role, "name = ?", name).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("roles: get by name: %w", err)
	}
	return &role, nil
}

// List returns all roles ordered by name, each with its permissions loaded.
// The role count is small by construction, so no pagination.
func (r *RoleRepository) List(ctx context.Context) ([]db.Role, error) {
	var roles []db.Role
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&roles).Error; err != nil {
		return nil, fmt.Errorf("roles: list: %w", err)
	}
	for i := range roles {
		perms, err := r.GetPermissions(ctx, roles[i].ID)
		if err != nil {
			return nil, err
		}
		roles[i].Permissions = perms
	}
	return roles, nil
}

// Update persists changes to an existing role record.
func (r *RoleRepository) Update(ctx context.Context, role *db.Role) error {
	result := r.db.WithContext(ctx).Save(role)
	if result.Error != nil {
		return fmt.Errorf("roles: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete permanently removes a role. Grant rows and user assignments are
// removed by the ON DELETE CASCADE constraints.
func (r *RoleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&db.Role{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("roles: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetPermissions returns the permissions granted to a role.
func (r *RoleRepository) GetPermissions(ctx context.Context, roleID uuid.UUID) ([]db.Permission, error) {
	var perms []db.Permission
	err := r.db.WithContext(ctx).
		Table("permissions").
		Joins("JOIN role_permissions ON role_permissions.permission_id = permissions.id").
		Where("role_permissions.role_id = ?", roleID).
		Order("permissions.resource ASC, permissions.action ASC, permissions.scope ASC").
		Find(&perms).Error
	if err != nil {
		return nil, fmt.Errorf("roles: get permissions: %w", err)
	}
	return perms, nil
}

// AssignPermission grants a permission to a role. Granting an already-held
// permission is a no-op, matching the idempotent API semantics.
func (r *RoleRepository) AssignPermission(ctx context.Context, roleID, permissionID uuid.UUID) error {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&db.RolePermission{}).
		Where("role_id = ? AND permission_id = ?", roleID, permissionID).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("roles: assign permission: %w", err)
	}
	if count > 0 {
		return nil
	}

	rp := db.RolePermission{RoleID: roleID, PermissionID: permissionID}
	if err := r.db.WithContext(ctx).Create(&rp).Error; err != nil {
		return fmt.Errorf("roles: assign permission: %w", err)
	}
	return nil
}

// RemovePermission revokes a permission from a role. Returns ErrNotFound if
// the role did not hold the permission.
func (r *RoleRepository) RemovePermission(ctx context.Context, roleID, permissionID uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Where("role_id = ? AND permission_id = ?", roleID, permissionID).
		Delete(&db.RolePermission{})
	if result.Error != nil {
		return fmt.Errorf("roles: remove permission: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
