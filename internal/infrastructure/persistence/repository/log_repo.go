package repository

import (
	"context"
	"fmt"

	"github.com/yang123apple/EHS-system-sub002/internal/application/port"
	"github.com/yang123apple/EHS-system-sub002/internal/domain/entity"
	"github.com/yang123apple/EHS-system-sub002/internal/infrastructure/persistence/sqlstore"
	"go.uber.org/zap"
)

// LogRepository implements port.AuditLogRepository
type LogRepository struct {
	db     *sqlstore.DB
	logger *zap.Logger
}

// NewLogRepository creates a new audit log repository
func NewLogRepository(db *sqlstore.DB, logger *zap.Logger) port.AuditLogRepository {
	return &LogRepository{
		db:     db,
		logger: logger,
	}
}

// Append stores entry as the next sequence of its item. The UNIQUE(item_id, seq)
// constraint rejects a second writer that computed the same sequence.
func (r *LogRepository) Append(ctx context.Context, entry *entity.LogEntry) error {
	ccNames := entry.CCUserNames
	if ccNames == nil {
		ccNames = []string{}
	}
	cc, err := encodeJSON(ccNames)
	if err != nil {
		return err
	}

	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		var seq int
		err := r.db.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM item_logs WHERE item_id = ?`,
			entry.ItemID,
		).Scan(&seq)
		if err != nil {
			return fmt.Errorf("failed to compute log sequence: %w", err)
		}

		query := `
			INSERT INTO item_logs (
				item_id, seq, step_index, operator_id, operator_name,
				action, logged_at, free_text_changes, cc_user_names
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id
		`
		var id int64
		err = r.db.QueryRowContext(ctx, query,
			entry.ItemID,
			seq,
			entry.StepIndex,
			entry.OperatorID,
			entry.OperatorName,
			entry.Action,
			entry.Timestamp,
			entry.FreeTextChanges,
			cc,
		).Scan(&id)
		if err != nil {
			r.logger.Error("Failed to append log entry",
				zap.Int64("item_id", entry.ItemID),
				zap.String("action", entry.Action),
				zap.Error(err))
			return fmt.Errorf("failed to append log entry: %w", err)
		}

		entry.ID = id
		entry.Seq = seq
		return nil
	})
}

// ListByItem returns the item's log ordered by sequence
func (r *LogRepository) ListByItem(ctx context.Context, itemID int64) ([]entity.LogEntry, error) {
	query := `
		SELECT id, item_id, seq, step_index, operator_id, operator_name,
			action, logged_at, free_text_changes, cc_user_names
		FROM item_logs
		WHERE item_id = ?
		ORDER BY seq
	`
	rows, err := r.db.QueryContext(ctx, query, itemID)
	if err != nil {
		r.logger.Error("Failed to list log entries", zap.Int64("item_id", itemID), zap.Error(err))
		return nil, fmt.Errorf("failed to list log entries: %w", err)
	}
	defer rows.Close()

	var entries []entity.LogEntry
	for rows.Next() {
		var (
			e  entity.LogEntry
			cc string
		)
		err := rows.Scan(
			&e.ID,
			&e.ItemID,
			&e.Seq,
			&e.StepIndex,
			&e.OperatorID,
			&e.OperatorName,
			&e.Action,
			&e.Timestamp,
			&e.FreeTextChanges,
			&cc,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		if err := decodeJSON(cc, &e.CCUserNames); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
