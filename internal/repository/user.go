package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/docvault-io/docvault/internal/db"
)

// UserRepository provides data access for user accounts and their role
// assignments.
type UserRepository struct {
	db *gorm.DB
}

// UserListOptions carries pagination and the optional free-text filter for
// user listings.
type UserListOptions struct {
	ListOptions
	Search string // matches email or username, case-insensitive
}

// Create inserts a new user record.
func (r *UserRepository) Create(ctx context.Context, user *db.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("users: create: %w", err)
	}
	return nil
}

// GetByID retrieves a user by UUID. Returns ErrNotFound if no record exists.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.User, error) {
	var user db.User
	err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("users: get by id: %w", err)
	}
	return &user, nil
}

// GetByEmail retrieves a user by email, case-insensitively.
// Returns ErrNotFound if no record exists.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*db.User, error) {
	var user db.User
	err := r.db.WithContext(ctx).First(&user, "LOWER(email) = LOWER(?)", email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("users: get by email: %w", err)
	}
	return &user, nil
}

// GetByUsername retrieves a user by username, case-insensitively.
// Returns ErrNotFound if no record exists.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*db.User, error) {
	var user db.User
	err := r.db.WithContext(ctx).First(&user, "LOWER(username) = LOWER(?)", username).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("users: get by username: %w", err)
	}
	return &user, nil
}

// GetByOIDC retrieves a user by OIDC issuer URL and subject claim.
// Returns ErrNotFound if no record exists.
func (r *UserRepository) GetByOIDC(ctx context.Context, issuer, subject string) (*db.User, error) {
	var user db.User
	err := r.db.WithContext(ctx).
		First(&user, "oidc_issuer = ? AND oidc_subject = ?", issuer, subject).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("users: get by oidc: %w", err)
	}
	return &user, nil
}

// Update persists changes to an existing user record.
func (r *UserRepository) Update(ctx context.Context, user *db.User) error {
	result := r.db.WithContext(ctx).Save(user)
	if result.Error != nil {
		return fmt.Errorf("users: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete permanently removes a user record by ID.
func (r *UserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&db.User{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("users: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns a page of users and the total count. When opts.Search is set,
// only users whose email or username contains the term are returned.
func (r *UserRepository) List(ctx context.Context, opts UserListOptions) ([]db.User, int64, error) {
	var users []db.User
	var total int64

	q := r.db.WithContext(ctx).Model(&db.User{})
	if s := strings.TrimSpace(opts.Search); s != "" {
		pattern := "%" + strings.ToLower(s) + "%"
		q = q.Where("LOWER(email) LIKE ? OR LOWER(username) LIKE ?", pattern, pattern)
	}

	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("users: list count: %w", err)
	}

	if err := q.
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at ASC").
		Find(&users).Error; err != nil {
		return nil, 0, fmt.Errorf("users: list: %w", err)
	}

	return users, total, nil
}

// GetRoles returns all roles assigned to a user, ordered by name.
func (r *UserRepository) GetRoles(ctx context.Context, userID uuid.UUID) ([]db.Role, error) {
	var roles []db.Role
	err := r.db.WithContext(ctx).
		Table("roles").
		Joins("JOIN user_roles ON user_roles.role_id = roles.id").
		Where("user_roles.user_id = ?", userID).
		Order("roles.name ASC").
		Find(&roles).Error
	if err != nil {
		return nil, fmt.Errorf("users: get roles: %w", err)
	}
	return roles, nil
}

// AssignRole links a role to a user. assignedBy records the acting
// administrator (nil for system assignments). Returns ErrDuplicate if the
// user already has the role.
func (r *UserRepository) AssignRole(ctx context.Context, userID, roleID uuid.UUID, assignedBy *uuid.UUID) error {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&db.UserRole{}).
		Where("user_id = ? AND role_id = ?", userID, roleID).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("users: assign role: %w", err)
	}
	if count > 0 {
		return ErrDuplicate
	}

	ur := db.UserRole{UserID: userID, RoleID: roleID, AssignedBy: assignedBy}
	if err := r.db.WithContext(ctx).Create(&ur).Error; err != nil {
		return fmt.Errorf("users: assign role: %w", err)
	}
	return nil
}

// RemoveRole unlinks a role from a user. Returns ErrNotFound if the user did
// not have the role.
func (r *UserRepository) RemoveRole(ctx context.Context, userID, roleID uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND role_id = ?", userID, roleID).
		Delete(&db.UserRole{})
	if result.Error != nil {
		return fmt.Errorf("users: remove role: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListWithRole returns every user holding the given role. Used to invalidate
// cached permission sets when a role's definition changes.
func (r *UserRepository) ListWithRole(ctx context.Context, roleID uuid.UUID) ([]db.User, error) {
	var users []db.User
	err := r.db.WithContext(ctx).
		Table("users").
		Joins("JOIN user_roles ON user_roles.user_id = users.id").
		Where("user_roles.role_id = ?", roleID).
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("users: list with role: %w", err)
	}
	return users, nil
}
