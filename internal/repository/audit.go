package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/docvault-io/docvault/internal/db"
)

// AuditRepository provides append and read access to the audit trail.
// Audit rows are never updated or deleted through the API.
type AuditRepository struct {
	db *gorm.DB
}

// AuditListOptions carries pagination and the optional filters for audit
// trail queries.
type AuditListOptions struct {
	ListOptions
	ActorID      *uuid.UUID
	TargetUserID *uuid.UUID
	Action       string
	EntityType   string
}

// Create appends an audit record. Call inside the same transaction as the
// mutation it describes.
func (r *AuditRepository) Create(ctx context.Context, entry *db.AuditLog) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("audit: create: %w", err)
	}
	return nil
}

// List returns a page of audit records, newest first, and the total count.
func (r *AuditRepository) List(ctx context.Context, opts AuditListOptions) ([]db.AuditLog, int64, error) {
	var entries []db.AuditLog
	var total int64

	q := r.db.WithContext(ctx).Model(&db.AuditLog{})
	if opts.ActorID != nil {
		q = q.Where("actor_id = ?", *opts.ActorID)
	}
	if opts.TargetUserID != nil {
		q = q.Where("target_user_id = ?", *opts.TargetUserID)
	}
	if opts.Action != "" {
		q = q.Where("action = ?", opts.Action)
	}
	if opts.EntityType != "" {
		q = q.Where("entity_type = ?", opts.EntityType)
	}

	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("audit: list count: %w", err)
	}

	if err := q.
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at DESC").
		Find(&entries).Error; err != nil {
		return nil, 0, fmt.Errorf("audit: list: %w", err)
	}

	return entries, total, nil
}
