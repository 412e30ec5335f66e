package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/docvault-io/docvault/internal/db"
)

// DocumentRepository provides CRUD access to documents. Search over
// documents is raw SQL and lives in the search package.
type DocumentRepository struct {
	db *gorm.DB
}

// DocumentListOptions carries pagination and the optional owner filter.
type DocumentListOptions struct {
	ListOptions
	OwnerID *uuid.UUID // restrict to a single owner when set
}

// Create inserts a new document record.
func (r *DocumentRepository) Create(ctx context.Context, doc *db.Document) error {
	if err := r.db.WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("documents: create: %w", err)
	}
	return nil
}

// GetByID retrieves a document by UUID. Returns ErrNotFound if no record exists.
func (r *DocumentRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.Document, error) {
	var doc db.Document
	err := r.db.WithContext(ctx).First(&doc, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("documents: get by id: %w", err)
	}
	return &doc, nil
}

// Update persists changes to an existing document record.
func (r *DocumentRepository) Update(ctx context.Context, doc *db.Document) error {
	result := r.db.WithContext(ctx).Save(doc)
	if result.Error != nil {
		return fmt.Errorf("documents: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete permanently removes a document by ID.
func (r *DocumentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&db.Document{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("documents: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns a page of documents, newest first, and the total count.
func (r *DocumentRepository) List(ctx context.Context, opts DocumentListOptions) ([]db.Document, int64, error) {
	var docs []db.Document
	var total int64

	q := r.db.WithContext(ctx).Model(&db.Document{})
	if opts.OwnerID != nil {
		q = q.Where("owner_id = ?", *opts.OwnerID)
	}

	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("documents: list count: %w", err)
	}

	if err := q.
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at DESC").
		Find(&docs).Error; err != nil {
		return nil, 0, fmt.Errorf("documents: list: %w", err)
	}

	return docs, total, nil
}
