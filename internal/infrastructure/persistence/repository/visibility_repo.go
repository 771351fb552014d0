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

// VisibilityRepository implements port.VisibilityRepository
type VisibilityRepository struct {
	db     *sqlstore.DB
	logger *zap.Logger
}

// NewVisibilityRepository creates a new visibility repository
func NewVisibilityRepository(db *sqlstore.DB, logger *zap.Logger) port.VisibilityRepository {
	return &VisibilityRepository{
		db:     db,
		logger: logger,
	}
}

// Replace swaps the tuples of itemID. Running it twice with the same rows is a no-op.
func (r *VisibilityRepository) Replace(ctx context.Context, itemID int64, rows []entity.ItemVisibility) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := r.db.ExecContext(ctx, `DELETE FROM visibility_roles WHERE item_id = ?`, itemID); err != nil {
			r.logger.Error("Failed to clear visibility", zap.Int64("item_id", itemID), zap.Error(err))
			return fmt.Errorf("failed to clear visibility: %w", err)
		}

		for _, row := range rows {
			_, err := r.db.ExecContext(ctx,
				`INSERT INTO visibility_roles (item_id, user_id, role) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
				itemID, row.UserID, string(row.Role),
			)
			if err != nil {
				r.logger.Error("Failed to insert visibility",
					zap.Int64("item_id", itemID),
					zap.String("user_id", row.UserID),
					zap.Error(err))
				return fmt.Errorf("failed to insert visibility: %w", err)
			}
		}
		return nil
	})
}

// ListByItem returns the tuples of itemID ordered by user and role
func (r *VisibilityRepository) ListByItem(ctx context.Context, itemID int64) ([]entity.ItemVisibility, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT item_id, user_id, role FROM visibility_roles WHERE item_id = ? ORDER BY user_id, role`,
		itemID,
	)
	if err != nil {
		r.logger.Error("Failed to list visibility", zap.Int64("item_id", itemID), zap.Error(err))
		return nil, fmt.Errorf("failed to list visibility: %w", err)
	}
	defer rows.Close()

	var out []entity.ItemVisibility
	for rows.Next() {
		var (
			v    entity.ItemVisibility
			role string
		)
		if err := rows.Scan(&v.ItemID, &v.UserID, &role); err != nil {
			return nil, fmt.Errorf("failed to scan visibility: %w", err)
		}
		v.Role = entity.VisibilityRole(role)
		out = append(out, v)
	}
	return out, rows.Err()
}

// Exists reports whether userID holds any tuple on itemID
func (r *VisibilityRepository) Exists(ctx context.Context, itemID int64, userID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM visibility_roles WHERE item_id = ? AND user_id = ? LIMIT 1`,
		itemID, userID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		r.logger.Error("Failed to check visibility",
			zap.Int64("item_id", itemID),
			zap.String("user_id", userID),
			zap.Error(err))
		return false, fmt.Errorf("failed to check visibility: %w", err)
	}
	return true, nil
}
