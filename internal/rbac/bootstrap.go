package rbac

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/docvault-io/docvault/internal/auth"
	"github.com/docvault-io/docvault/internal/db"
	"github.com/docvault-io/docvault/internal/repository"
)

const (
	superAdminRoleName = "Super Admin"
	adminRoleName      = "Admin"
)

// Bootstrap ensures the first administrator exists. With an empty email it
// does nothing, so deployments that provision admins some other way are not
// forced through it. If password is empty one is generated and logged a
// single time; it is not recoverable afterwards.
func Bootstrap(ctx context.Context, store *repository.Store, email, password string, log *zap.Logger) error {
	if email == "" {
		log.Debug("superadmin bootstrap skipped, no email configured")
		return nil
	}

	user, err := store.Users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		// Already provisioned. Re-assert the flags and the role in case an
		// admin deactivated the account or revoked the grant by mistake.
		if !user.IsActive || !user.IsVerified {
			user.IsActive = true
			user.IsVerified = true
			if err := store.Users.Update(ctx, user); err != nil {
				return fmt.Errorf("rbac: reactivating superadmin: %w", err)
			}
		}
		return ensureSuperAdminRole(ctx, store, user, log)
	case !errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("rbac: looking up superadmin: %w", err)
	}

	generated := false
	if password == "" {
		password, err = generatePassword()
		if err != nil {
			return fmt.Errorf("rbac: generating superadmin password: %w", err)
		}
		generated = true
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("rbac: hashing superadmin password: %w", err)
	}

	user = &db.User{
		Email:          email,
		Username:       "admin",
		HashedPassword: hash,
		FullName:       "Super Administrator",
		AuthProvider:   db.ProviderLocal,
		IsActive:       true,
		IsVerified:     true,
	}
	if err := store.Users.Create(ctx, user); err != nil {
		return fmt.Errorf("rbac: creating superadmin: %w", err)
	}

	if err := ensureSuperAdminRole(ctx, store, user, log); err != nil {
		return err
	}

	if generated {
		log.Warn("generated superadmin password, save it now: it will not be shown again",
			zap.String("email", email),
			zap.String("password", password))
	} else {
		log.Info("superadmin account created", zap.String("email", email))
	}
	return nil
}

func ensureSuperAdminRole(ctx context.Context, store *repository.Store, user *db.User, log *zap.Logger) error {
	role, err := store.Roles.GetByName(ctx, superAdminRoleName)
	if err != nil {
		return fmt.Errorf("rbac: loading %s role: %w", superAdminRoleName, err)
	}

	err = store.Users.AssignRole(ctx, user.ID, role.ID, nil)
	if errors.Is(err, repository.ErrDuplicate) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("rbac: assigning %s role: %w", superAdminRoleName, err)
	}
	log.Info("superadmin role assigned", zap.String("email", user.Email))
	return nil
}

// generatePassword returns a 16-byte random secret in URL-safe base64.
func generatePassword() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
