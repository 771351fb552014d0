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

const itemColumns = `id, kind, definition_id, title, status, current_step_index, approval_mode,
	candidate_handlers, cc_users, creator_id, creator_name, creator_department_id,
	executor_id, executor_name, responsible_id, verifier_id, historical_handler_ids,
	settled_step, form_data, visibility_stale, version, created_at, updated_at`

// ItemRepository implements port.ItemRepository
type ItemRepository struct {
	db     *sqlstore.DB
	logger *zap.Logger
}

// NewItemRepository creates a new workflow item repository
func NewItemRepository(db *sqlstore.DB, logger *zap.Logger) port.ItemRepository {
	return &ItemRepository{
		db:     db,
		logger: logger,
	}
}

// itemColumnsJSON holds the encoded JSON columns of an item
type itemColumnsJSON struct {
	candidates string
	cc         string
	historical string
	settled    string
	form       string
}

func encodeItem(item *entity.WorkflowItem) (itemColumnsJSON, error) {
	var (
		out itemColumnsJSON
		err error
	)
	candidates := item.CandidateHandlers
	if candidates == nil {
		candidates = []entity.CandidateHandler{}
	}
	if out.candidates, err = encodeJSON(candidates); err != nil {
		return out, err
	}
	cc := item.CCUsers
	if cc == nil {
		cc = []string{}
	}
	if out.cc, err = encodeJSON(cc); err != nil {
		return out, err
	}
	historical := item.HistoricalHandlerIDs
	if historical == nil {
		historical = []string{}
	}
	if out.historical, err = encodeJSON(historical); err != nil {
		return out, err
	}
	if item.SettledStep != nil {
		if out.settled, err = encodeJSON(item.SettledStep); err != nil {
			return out, err
		}
	}
	form := item.FormData
	if form == nil {
		form = map[string]any{}
	}
	if out.form, err = encodeJSON(form); err != nil {
		return out, err
	}
	return out, nil
}

// Create inserts a new item at version 1
func (r *ItemRepository) Create(ctx context.Context, item *entity.WorkflowItem) error {
	cols, err := encodeItem(item)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_items (
			kind, definition_id, title, status, current_step_index, approval_mode,
			candidate_handlers, cc_users, creator_id, creator_name, creator_department_id,
			executor_id, executor_name, responsible_id, verifier_id, historical_handler_ids,
			settled_step, form_data, visibility_stale, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		RETURNING id
	`

	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		var id int64
		err := r.db.QueryRowContext(ctx, query,
			item.Kind,
			item.DefinitionID,
			item.Title,
			item.Status,
			item.CurrentStepIndex,
			string(item.ApprovalMode),
			cols.candidates,
			cols.cc,
			item.CreatorID,
			item.CreatorName,
			item.CreatorDepartmentID,
			item.ExecutorID,
			item.ExecutorName,
			item.ResponsibleID,
			item.VerifierID,
			cols.historical,
			cols.settled,
			cols.form,
			item.VisibilityStale,
			item.CreatedAt,
			item.UpdatedAt,
		).Scan(&id)
		if err != nil {
			r.logger.Error("Failed to create workflow item",
				zap.String("kind", item.Kind),
				zap.String("creator_id", item.CreatorID),
				zap.Error(err))
			return fmt.Errorf("failed to create workflow item: %w", err)
		}

		item.ID = id
		item.Version = 1
		return r.syncCandidates(ctx, item)
	})
}

// GetByID retrieves an item
func (r *ItemRepository) GetByID(ctx context.Context, id int64) (*entity.WorkflowItem, error) {
	return r.get(ctx, id, "")
}

// GetForUpdate retrieves an item and locks its row on postgres. On sqlite the
// immediate transaction already holds the write lock.
func (r *ItemRepository) GetForUpdate(ctx context.Context, id int64) (*entity.WorkflowItem, error) {
	return r.get(ctx, id, r.db.Dialect().ForUpdate())
}

func (r *ItemRepository) get(ctx context.Context, id int64, suffix string) (*entity.WorkflowItem, error) {
	query := `SELECT ` + itemColumns + ` FROM workflow_items WHERE id = ?` + suffix
	item, err := scanItem(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get workflow item", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow item: %w", err)
	}
	return item, nil
}

// Update writes item when its stored version still matches
func (r *ItemRepository) Update(ctx context.Context, item *entity.WorkflowItem) error {
	cols, err := encodeItem(item)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflow_items SET
			title = ?, status = ?, current_step_index = ?, approval_mode = ?,
			candidate_handlers = ?, cc_users = ?, executor_id = ?, executor_name = ?,
			responsible_id = ?, verifier_id = ?, historical_handler_ids = ?, settled_step = ?, form_data = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`

	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		result, err := r.db.ExecContext(ctx, query,
			item.Title,
			item.Status,
			item.CurrentStepIndex,
			string(item.ApprovalMode),
			cols.candidates,
			cols.cc,
			item.ExecutorID,
			item.ExecutorName,
			item.ResponsibleID,
			item.VerifierID,
			cols.historical,
			cols.settled,
			cols.form,
			item.UpdatedAt,
			item.ID,
			item.Version,
		)
		if err != nil {
			r.logger.Error("Failed to update workflow item", zap.Int64("id", item.ID), zap.Error(err))
			return fmt.Errorf("failed to update workflow item: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return port.ErrConcurrentModification
		}

		item.Version++
		return r.syncCandidates(ctx, item)
	})
}

// syncCandidates mirrors the candidate list into item_candidates
func (r *ItemRepository) syncCandidates(ctx context.Context, item *entity.WorkflowItem) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM item_candidates WHERE item_id = ?`, item.ID); err != nil {
		return fmt.Errorf("failed to clear candidates: %w", err)
	}
	for _, c := range item.CandidateHandlers {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO item_candidates (item_id, user_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
			item.ID, c.UserID,
		)
		if err != nil {
			return fmt.Errorf("failed to store candidate %s: %w", c.UserID, err)
		}
	}
	return nil
}

// SetVisibilityStale flags or clears the repair marker
func (r *ItemRepository) SetVisibilityStale(ctx context.Context, id int64, stale bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE workflow_items SET visibility_stale = ? WHERE id = ?`, stale, id)
	if err != nil {
		r.logger.Error("Failed to set visibility flag", zap.Int64("id", id), zap.Bool("stale", stale), zap.Error(err))
		return fmt.Errorf("failed to set visibility flag: %w", err)
	}
	return nil
}

// ListIDs pages ids in ascending order for batch jobs
func (r *ItemRepository) ListIDs(ctx context.Context, filter port.ItemFilter, afterID int64, limit int) ([]int64, error) {
	w := &whereClause{}
	w.add("id > ?", afterID)
	itemFilter(w, filter)
	if filter.Role != "" {
		w.add("id IN (SELECT item_id FROM visibility_roles WHERE role = ?)", string(filter.Role))
	}

	query := `SELECT id FROM workflow_items` + w.String() + ` ORDER BY id LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, append(w.args, limit)...)
	if err != nil {
		r.logger.Error("Failed to list item ids", zap.Int64("after_id", afterID), zap.Error(err))
		return nil, fmt.Errorf("failed to list item ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan item id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// List returns every matching item, newest first
func (r *ItemRepository) List(ctx context.Context, filter port.ItemFilter, page port.Page) ([]*entity.WorkflowItem, int, error) {
	w := &whereClause{}
	itemFilter(w, filter)
	if filter.Role != "" {
		w.add("id IN (SELECT item_id FROM visibility_roles WHERE role = ?)", string(filter.Role))
	}
	return r.list(ctx, w, page)
}

// ListVisible returns the items userID holds a visibility tuple for, newest first
func (r *ItemRepository) ListVisible(ctx context.Context, userID string, filter port.ItemFilter, page port.Page) ([]*entity.WorkflowItem, int, error) {
	w := &whereClause{}
	if filter.Role != "" {
		w.add("id IN (SELECT item_id FROM visibility_roles WHERE user_id = ? AND role = ?)", userID, string(filter.Role))
	} else {
		w.add("id IN (SELECT item_id FROM visibility_roles WHERE user_id = ?)", userID)
	}
	itemFilter(w, filter)
	return r.list(ctx, w, page)
}

func (r *ItemRepository) list(ctx context.Context, w *whereClause, page port.Page) ([]*entity.WorkflowItem, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM workflow_items`+w.String(), w.args...).Scan(&total); err != nil {
		r.logger.Error("Failed to count workflow items", zap.Error(err))
		return nil, 0, fmt.Errorf("failed to count workflow items: %w", err)
	}

	limit, offset := pageArgs(page)
	query := `SELECT ` + itemColumns + ` FROM workflow_items` + w.String() + ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args := append(append([]interface{}{}, w.args...), limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list workflow items", zap.Error(err))
		return nil, 0, fmt.Errorf("failed to list workflow items: %w", err)
	}
	defer rows.Close()

	items := []*entity.WorkflowItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan workflow item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ActiveIDsForUser lists items where userID is the executor or an open candidate.
// Terminal items carry neither, so they never match.
func (r *ItemRepository) ActiveIDsForUser(ctx context.Context, userID string) ([]int64, error) {
	query := `
		SELECT id FROM workflow_items WHERE executor_id = ?
		UNION
		SELECT item_id FROM item_candidates WHERE user_id = ?
		ORDER BY 1
	`
	rows, err := r.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		r.logger.Error("Failed to list active items of user", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to list active items: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan item id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanItem(s rowScanner) (*entity.WorkflowItem, error) {
	var (
		item                             entity.WorkflowItem
		mode                             string
		candidates, cc, historical, form string
		settled                          string
	)
	err := s.Scan(
		&item.ID,
		&item.Kind,
		&item.DefinitionID,
		&item.Title,
		&item.Status,
		&item.CurrentStepIndex,
		&mode,
		&candidates,
		&cc,
		&item.CreatorID,
		&item.CreatorName,
		&item.CreatorDepartmentID,
		&item.ExecutorID,
		&item.ExecutorName,
		&item.ResponsibleID,
		&item.VerifierID,
		&historical,
		&settled,
		&form,
		&item.VisibilityStale,
		&item.Version,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.ApprovalMode = entity.ApprovalMode(mode)
	if err := decodeJSON(candidates, &item.CandidateHandlers); err != nil {
		return nil, err
	}
	if err := decodeJSON(cc, &item.CCUsers); err != nil {
		return nil, err
	}
	if err := decodeJSON(historical, &item.HistoricalHandlerIDs); err != nil {
		return nil, err
	}
	if settled != "" {
		item.SettledStep = &entity.SettledStep{}
		if err := decodeJSON(settled, item.SettledStep); err != nil {
			return nil, err
		}
	}
	if err := decodeJSON(form, &item.FormData); err != nil {
		return nil, err
	}
	return &item, nil
}
