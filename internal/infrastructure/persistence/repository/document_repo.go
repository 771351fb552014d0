package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/yang123apple/EHS-system-sub002/internal/application/port"
	"github.com/yang123apple/EHS-system-sub002/internal/domain/entity"
	"github.com/yang123apple/EHS-system-sub002/internal/infrastructure/persistence/sqlstore"
	"go.uber.org/zap"
)

// DocumentRepository implements port.DocumentRepository
type DocumentRepository struct {
	db     *sqlstore.DB
	logger *zap.Logger
}

// NewDocumentRepository creates a new item document repository
func NewDocumentRepository(db *sqlstore.DB, logger *zap.Logger) port.DocumentRepository {
	return &DocumentRepository{
		db:     db,
		logger: logger,
	}
}

// Get retrieves the document of an item
func (r *DocumentRepository) Get(ctx context.Context, itemID int64) (*entity.ItemDocument, error) {
	var doc entity.ItemDocument
	err := r.db.QueryRowContext(ctx,
		`SELECT item_id, file_name, content, updated_at FROM item_documents WHERE item_id = ?`,
		itemID,
	).Scan(&doc.ItemID, &doc.FileName, &doc.Content, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get item document", zap.Int64("item_id", itemID), zap.Error(err))
		return nil, fmt.Errorf("failed to get item document: %w", err)
	}
	return &doc, nil
}

// Save creates or replaces the document of an item
func (r *DocumentRepository) Save(ctx context.Context, doc *entity.ItemDocument) error {
	query := `
		INSERT INTO item_documents (item_id, file_name, content, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (item_id) DO UPDATE SET
			file_name = excluded.file_name,
			content = excluded.content,
			updated_at = excluded.updated_at
	`
	if _, err := r.db.ExecContext(ctx, query, doc.ItemID, doc.FileName, doc.Content, doc.UpdatedAt); err != nil {
		r.logger.Error("Failed to save item document",
			zap.Int64("item_id", doc.ItemID),
			zap.Int("size", len(doc.Content)),
			zap.Error(err))
		return fmt.Errorf("failed to save item document: %w", err)
	}
	return nil
}
