package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base contains the common fields shared by all models.
// ID uses UUID v7 (time-ordered) for efficient B-tree indexing and natural
// chronological ordering without a separate created_at sort. CreatedAt and
// UpdatedAt are managed automatically by GORM.
type Base struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// BeforeCreate generates a new UUID v7 if the ID is not already set.
// This ensures every record has a valid time-ordered ID before insertion.
func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

// JSONMap is a map persisted as a JSON document. On postgres the backing
// column is jsonb (so @> containment queries work); on sqlite it is text.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("db: marshaling json map: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("db: cannot scan %T into JSONMap", src)
	}
	if len(data) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(data, m)
}

// -----------------------------------------------------------------------------
// Users
// -----------------------------------------------------------------------------

// Auth provider values stored in User.AuthProvider.
const (
	ProviderLocal     = "local"
	ProviderOIDC      = "oidc"
	ProviderGoogle    = "google"
	ProviderMicrosoft = "microsoft"
)

// User represents a local or OIDC-authenticated account.
// HashedPassword is only set for local accounts; OIDC users authenticate via
// the provider and have an empty HashedPassword.
type User struct {
	Base
	Email          string     `gorm:"uniqueIndex;not null" json:"email"`
	Username       string     `gorm:"uniqueIndex;not null" json:"username"`
	HashedPassword string     `gorm:"type:text" json:"-"` // empty for OIDC-only users
	FullName       string     `gorm:"default:''" json:"full_name"`
	AuthProvider   string     `gorm:"not null;default:'local'" json:"auth_provider"`
	IsActive       bool       `gorm:"not null;default:true" json:"is_active"`
	IsVerified     bool       `gorm:"not null;default:false" json:"is_verified"`
	OIDCIssuer     string     `gorm:"column:oidc_issuer;default:''" json:"-"` // issuer URL if OIDC-linked
	OIDCSubject    string     `gorm:"column:oidc_subject;default:''" json:"-"` // subject claim if OIDC-linked
	LastLoginAt    *time.Time `json:"last_login_at"`

	// Roles is populated by explicit join queries in the repository layer.
	// The gorm:"-" tag prevents GORM from attempting foreign key resolution,
	// which fails with uuid.UUID primary keys.
	Roles []Role `gorm:"-" json:"roles,omitempty"`
}

// -----------------------------------------------------------------------------
// RBAC
// -----------------------------------------------------------------------------

// Role groups permissions under a name. System roles (IsSystem) are created
// by the seeder and cannot be deleted through the API.
type Role struct {
	Base
	Name        string `gorm:"uniqueIndex;not null" json:"name"`
	Description string `gorm:"default:''" json:"description"`
	IsSystem    bool   `gorm:"not null;default:false" json:"is_system"`

	// Permissions is populated by explicit join queries; see Roles on User.
	Permissions []Permission `gorm:"-" json:"permissions,omitempty"`
}

// Permission is a (resource, action, scope) triple. Resource and action may
// be the wildcard "*"; scope is always one of "own", "team", "all".
type Permission struct {
	Base
	Resource    string `gorm:"not null;uniqueIndex:idx_permissions_ras" json:"resource"`
	Action      string `gorm:"not null;uniqueIndex:idx_permissions_ras" json:"action"`
	Scope       string `gorm:"not null;default:'own';uniqueIndex:idx_permissions_ras" json:"scope"`
	Description string `gorm:"default:''" json:"description"`
}

// RolePermission is the join table between roles and permissions.
type RolePermission struct {
	RoleID       uuid.UUID `gorm:"type:text;primaryKey"`
	PermissionID uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt    time.Time `gorm:"not null"`
}

// UserRole is the join table between users and roles. AssignedBy records the
// acting administrator and is nulled if that account is later deleted.
type UserRole struct {
	UserID     uuid.UUID  `gorm:"type:text;primaryKey"`
	RoleID     uuid.UUID  `gorm:"type:text;primaryKey"`
	AssignedBy *uuid.UUID `gorm:"type:text"`
	CreatedAt  time.Time  `gorm:"not null"`
}

// -----------------------------------------------------------------------------
// Audit
// -----------------------------------------------------------------------------

// AuditLog is an append-only record of a security-relevant mutation. Rows are
// written inside the same transaction as the mutation they describe, so an
// audit entry exists if and only if the change was committed.
//
// EntityType/EntityID name the thing that was changed; TargetUserID and
// RoleID are denormalized so "everything that happened to this user" and
// "everything involving this role" are single indexed lookups.
type AuditLog struct {
	Base
	ActorID      *uuid.UUID `gorm:"type:text;index" json:"actor_id"`
	Action       string     `gorm:"not null;index" json:"action"`
	EntityType   string     `gorm:"not null" json:"entity_type"`
	EntityID     *uuid.UUID `gorm:"type:text" json:"entity_id"`
	TargetUserID *uuid.UUID `gorm:"type:text;index" json:"target_user_id"`
	RoleID       *uuid.UUID `gorm:"type:text" json:"role_id"`
	Details      JSONMap    `gorm:"type:jsonb" json:"details"`
	IPAddress    string     `gorm:"default:''" json:"ip_address"`
	UserAgent    string     `gorm:"default:''" json:"user_agent"`
}

// -----------------------------------------------------------------------------
// Documents
// -----------------------------------------------------------------------------

// Document is the searchable content entity. The search_vector column is
// maintained by a database trigger (title weighted A, content weighted B) and
// is deliberately absent from the struct; only the raw SQL in the search
// engine touches it.
type Document struct {
	Base
	Title   string    `gorm:"not null" json:"title"`
	Content string    `gorm:"type:text;default:''" json:"content"`
	OwnerID uuid.UUID `gorm:"type:text;not null;index" json:"owner_id"`
	Meta    JSONMap   `gorm:"type:jsonb" json:"meta"`
}
