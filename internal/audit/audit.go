// Package audit writes the append-only trail of authorization changes.
// Entries are recorded through the same Store (and therefore the same
// transaction) as the mutation they describe, so the trail never shows a
// change that was rolled back.
package audit

import (
	"context"

	"github.com/google/uuid"

	"github.com/docvault-io/docvault/internal/db"
	"github.com/docvault-io/docvault/internal/repository"
)

// Audited actions.
const (
	ActionRoleCreated        = "role_created"
	ActionRoleUpdated        = "role_updated"
	ActionRoleDeleted        = "role_deleted"
	ActionRoleAssigned       = "role_assigned"
	ActionRoleRemoved        = "role_removed"
	ActionPermissionAssigned = "permission_assigned"
	ActionPermissionRemoved  = "permission_removed"
)

// Origin attributes an audited change to the inbound request that caused it.
// Zero value means the change came from inside the process (seeding, CLI).
type Origin struct {
	IP        string
	UserAgent string
}

// Entry describes one audited mutation. TargetUserID is set when the change
// affects a user other than the actor (role grants); RoleID whenever a role
// is involved.
type Entry struct {
	ActorID      *uuid.UUID // nil for system actions (seeding, bootstrap)
	Action       string
	EntityType   string
	EntityID     *uuid.UUID
	TargetUserID *uuid.UUID
	RoleID       *uuid.UUID
	Details      map[string]any
	IPAddress    string
	UserAgent    string
}

// Record appends the entry via the given store. Pass the transactional Store
// from inside Store.Transaction so the entry commits with the mutation.
func Record(ctx context.Context, store *repository.Store, e Entry) error {
	return store.Audit.Create(ctx, &db.AuditLog{
		ActorID:      e.ActorID,
		Action:       e.Action,
		EntityType:   e.EntityType,
		EntityID:     e.EntityID,
		TargetUserID: e.TargetUserID,
		RoleID:       e.RoleID,
		Details:      db.JSONMap(e.Details),
		IPAddress:    e.IPAddress,
		UserAgent:    e.UserAgent,
	})
}
