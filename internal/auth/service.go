// Package auth implements credentials and sessions: password hashing,
// HS256 access/refresh tokens with cache-bound rotation, password reset,
// and the OIDC login flow with just-in-time account provisioning.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docvault-io/docvault/internal/db"
	"github.com/docvault-io/docvault/internal/repository"
)

// defaultRoleName is the system role granted to every newly created account.
// Without it a fresh account would fail every permission check.
const defaultRoleName = "User"

// Mailer sends transactional mail. The SMTP implementation lives in the
// mailer package; tests substitute a recording fake.
type Mailer interface {
	SendPasswordReset(ctx context.Context, to, token string) error
}

// Service implements the account and session operations behind the
// /auth endpoints.
type Service struct {
	store  *repository.Store
	tokens *TokenManager
	reset  *ResetManager
	mailer Mailer // nil disables outgoing mail
	log    *zap.Logger
}

// NewService wires the auth service.
func NewService(store *repository.Store, tokens *TokenManager, reset *ResetManager, mailer Mailer, log *zap.Logger) *Service {
	return &Service{
		store:  store,
		tokens: tokens,
		reset:  reset,
		mailer: mailer,
		log:    log,
	}
}

// TokenManager exposes the token manager for the authentication middleware.
func (s *Service) TokenManager() *TokenManager {
	return s.tokens
}

// Register creates a local account. Email and username collisions are
// refused with distinct sentinels so the API can name the offending field.
// The new account receives the default role.
func (s *Service) Register(ctx context.Context, email, username, password, fullName string) (*db.User, error) {
	if _, err := s.store.Users.GetByEmail(ctx, email); err == nil {
		return nil, ErrEmailExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if _, err := s.store.Users.GetByUsername(ctx, username); err == nil {
		return nil, ErrUsernameExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &db.User{
		Email:          email,
		Username:       username,
		HashedPassword: hash,
		FullName:       fullName,
		AuthProvider:   db.ProviderLocal,
		IsActive:       true,
	}
	if err := s.store.Users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.assignDefaultRole(ctx, user.ID)

	s.log.Info("user registered",
		zap.String("user_id", user.ID.String()),
		zap.String("username", user.Username))
	return user, nil
}

// Login authenticates a local account and issues a token pair.
func (s *Service) Login(ctx context.Context, email, password string) (*db.User, string, string, error) {
	user, err := s.store.Users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, "", "", ErrInvalidCredentials
		}
		return nil, "", "", err
	}

	if user.HashedPassword == "" {
		return nil, "", "", ErrSSOOnly
	}
	if !VerifyPassword(password, user.HashedPassword) {
		return nil, "", "", ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, "", "", ErrUserInactive
	}

	// Upgrade hashes created under an older cost policy while the plaintext
	// is at hand.
	if PasswordNeedsRehash(user.HashedPassword) {
		if hash, err := HashPassword(password); err == nil {
			user.HashedPassword = hash
		}
	}

	now := time.Now()
	user.LastLoginAt = &now
	if err := s.store.Users.Update(ctx, user); err != nil {
		return nil, "", "", err
	}

	access, refresh, err := s.tokens.IssuePair(ctx, user.ID)
	if err != nil {
		return nil, "", "", err
	}
	return user, access, refresh, nil
}

// Refresh rotates a refresh token, refusing if the account has been
// deactivated or deleted since the token was issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, string, error) {
	userID, access, refresh, err := s.tokens.Rotate(ctx, refreshToken)
	if err != nil {
		return "", "", err
	}

	user, err := s.store.Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", "", ErrRefreshTokenRevoked
		}
		return "", "", err
	}
	if !user.IsActive {
		return "", "", ErrUserInactive
	}

	return access, refresh, nil
}

// Logout revokes the user's refresh-token binding.
func (s *Service) Logout(ctx context.Context, userID uuid.UUID) error {
	return s.tokens.Revoke(ctx, userID)
}

// ChangePassword verifies the current password, stores the new hash, and
// revokes the refresh binding so stolen sessions die with the old password.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, current, newPassword string) error {
	user, err := s.store.Users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.HashedPassword == "" {
		return ErrSSOOnly
	}
	if !VerifyPassword(current, user.HashedPassword) {
		return ErrInvalidCredentials
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	user.HashedPassword = hash
	if err := s.store.Users.Update(ctx, user); err != nil {
		return err
	}

	return s.tokens.Revoke(ctx, userID)
}

// RequestPasswordReset issues a reset token and mails it. It reports success
// regardless of whether the account exists, so the endpoint cannot be used
// to enumerate emails. OIDC-only accounts are skipped; they have no local
// password to reset.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.store.Users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	if user.HashedPassword == "" || !user.IsActive {
		return nil
	}

	token, err := s.reset.CreateToken(ctx, user.ID)
	if err != nil {
		return err
	}

	if s.mailer == nil {
		s.log.Warn("password reset requested but no mailer is configured",
			zap.String("user_id", user.ID.String()))
		return nil
	}
	if err := s.mailer.SendPasswordReset(ctx, user.Email, token); err != nil {
		return fmt.Errorf("auth: sending reset mail: %w", err)
	}

	s.log.Info("password reset mail sent", zap.String("user_id", user.ID.String()))
	return nil
}

// ResetPassword consumes a reset token, stores the new hash, and revokes the
// refresh binding.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	userID, err := s.reset.ConsumeToken(ctx, token)
	if err != nil {
		return err
	}

	user, err := s.store.Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrResetTokenInvalid
		}
		return err
	}
	if !user.IsActive {
		return ErrResetTokenInvalid
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	user.HashedPassword = hash
	if err := s.store.Users.Update(ctx, user); err != nil {
		return err
	}

	return s.tokens.Revoke(ctx, userID)
}

// LoginOIDC resolves a verified identity to a local account and issues a
// token pair. Resolution order:
//
//  1. account already linked to (issuer, subject): log in;
//  2. local account with the asserted email: link it and mark verified;
//  3. account with the asserted email linked elsewhere: refuse;
//  4. otherwise provision a new account.
func (s *Service) LoginOIDC(ctx context.Context, identity *OIDCIdentity) (*db.User, string, string, error) {
	user, err := s.resolveOIDCUser(ctx, identity)
	if err != nil {
		return nil, "", "", err
	}
	if !user.IsActive {
		return nil, "", "", ErrUserInactive
	}

	now := time.Now()
	user.LastLoginAt = &now
	if err := s.store.Users.Update(ctx, user); err != nil {
		return nil, "", "", err
	}

	access, refresh, err := s.tokens.IssuePair(ctx, user.ID)
	if err != nil {
		return nil, "", "", err
	}
	return user, access, refresh, nil
}

func (s *Service) resolveOIDCUser(ctx context.Context, identity *OIDCIdentity) (*db.User, error) {
	user, err := s.store.Users.GetByOIDC(ctx, identity.Issuer, identity.Subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	user, err = s.store.Users.GetByEmail(ctx, identity.Email)
	if err == nil {
		if user.AuthProvider != db.ProviderLocal {
			// Already linked to a different identity; a matching one would
			// have been found by the (issuer, subject) lookup above.
			return nil, ErrOIDCEmailConflict
		}
		user.OIDCIssuer = identity.Issuer
		user.OIDCSubject = identity.Subject
		user.AuthProvider = db.ProviderOIDC
		user.IsVerified = true
		if err := s.store.Users.Update(ctx, user); err != nil {
			return nil, err
		}
		s.log.Info("linked oidc identity to existing account",
			zap.String("user_id", user.ID.String()))
		return user, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	username, err := s.generateUsername(ctx, identity)
	if err != nil {
		return nil, err
	}

	fullName := identity.Name
	if fullName == "" {
		fullName = strings.TrimSpace(identity.GivenName + " " + identity.FamilyName)
	}

	user = &db.User{
		Email:        identity.Email,
		Username:     username,
		FullName:     fullName,
		AuthProvider: db.ProviderOIDC,
		IsActive:     true,
		IsVerified:   true, // asserted by the identity provider
		OIDCIssuer:   identity.Issuer,
		OIDCSubject:  identity.Subject,
	}
	if err := s.store.Users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.assignDefaultRole(ctx, user.ID)

	s.log.Info("provisioned oidc user",
		zap.String("user_id", user.ID.String()),
		zap.String("username", user.Username))
	return user, nil
}

// generateUsername derives a unique username from the identity claims,
// falling back through preferred_username, name, given+family name, and
// finally the email local part. Collisions get a numeric suffix.
func (s *Service) generateUsername(ctx context.Context, identity *OIDCIdentity) (string, error) {
	base := slugifyUsername(identity.PreferredUsername)
	if base == "" {
		base = slugifyUsername(identity.Name)
	}
	if base == "" {
		base = slugifyUsername(identity.GivenName + " " + identity.FamilyName)
	}
	if base == "" {
		local, _, _ := strings.Cut(identity.Email, "@")
		base = slugifyUsername(local)
	}
	if base == "" {
		base = "user"
	}

	candidate := base
	for i := 2; ; i++ {
		_, err := s.store.Users.GetByUsername(ctx, candidate)
		if errors.Is(err, repository.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		candidate = fmt.Sprintf("%s%d", base, i)
	}
}

// slugifyUsername lowercases the input and keeps only characters valid in a
// username, collapsing whitespace runs to single dots.
func slugifyUsername(s string) string {
	var b strings.Builder
	lastDot := true // suppress leading dots
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
			lastDot = false
		case r == ' ' || r == '.':
			if !lastDot {
				b.WriteRune('.')
				lastDot = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), ".")
}

// assignDefaultRole grants the seeded default role. A missing role is logged
// and skipped rather than failing signup; the seeder creates it, but a bare
// database must still accept accounts.
func (s *Service) assignDefaultRole(ctx context.Context, userID uuid.UUID) {
	role, err := s.store.Roles.GetByName(ctx, defaultRoleName)
	if err != nil {
		s.log.Warn("default role missing, skipping assignment",
			zap.String("role", defaultRoleName), zap.Error(err))
		return
	}
	if err := s.store.Users.AssignRole(ctx, userID, role.ID, nil); err != nil && !errors.Is(err, repository.ErrDuplicate) {
		s.log.Warn("failed to assign default role",
			zap.String("user_id", userID.String()), zap.Error(err))
	}
}
