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

const userColumns = `id, name, department_id, roles, active, lark_open_id, updated_at`

// OrgRepository implements port.OrgRepository
type OrgRepository struct {
	db     *sqlstore.DB
	logger *zap.Logger
}

// NewOrgRepository creates a new org chart repository
func NewOrgRepository(db *sqlstore.DB, logger *zap.Logger) port.OrgRepository {
	return &OrgRepository{
		db:     db,
		logger: logger,
	}
}

// UpsertDepartment creates or replaces a department
func (r *OrgRepository) UpsertDepartment(ctx context.Context, d *entity.Department) error {
	query := `
		INSERT INTO departments (id, name, parent_id, manager_id, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			parent_id = excluded.parent_id,
			manager_id = excluded.manager_id,
			updated_at = excluded.updated_at
	`
	if _, err := r.db.ExecContext(ctx, query, d.ID, d.Name, d.ParentID, d.ManagerID, d.UpdatedAt); err != nil {
		r.logger.Error("Failed to upsert department", zap.String("id", d.ID), zap.Error(err))
		return fmt.Errorf("failed to upsert department: %w", err)
	}
	return nil
}

// UpsertUser creates or replaces a user
func (r *OrgRepository) UpsertUser(ctx context.Context, u *entity.User) error {
	roles := u.Roles
	if roles == nil {
		roles = []string{}
	}
	encoded, err := encodeJSON(roles)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO users (id, name, department_id, roles, active, lark_open_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			department_id = excluded.department_id,
			roles = excluded.roles,
			active = excluded.active,
			lark_open_id = excluded.lark_open_id,
			updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, query, u.ID, u.Name, u.DepartmentID, encoded, u.Active, u.LarkOpenID, u.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to upsert user", zap.String("id", u.ID), zap.Error(err))
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// GetUser retrieves a user
func (r *OrgRepository) GetUser(ctx context.Context, id string) (*entity.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get user", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// ListDepartments returns every department
func (r *OrgRepository) ListDepartments(ctx context.Context) ([]*entity.Department, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, parent_id, manager_id, updated_at FROM departments ORDER BY id`)
	if err != nil {
		r.logger.Error("Failed to list departments", zap.Error(err))
		return nil, fmt.Errorf("failed to list departments: %w", err)
	}
	defer rows.Close()

	var out []*entity.Department
	for rows.Next() {
		var d entity.Department
		if err := rows.Scan(&d.ID, &d.Name, &d.ParentID, &d.ManagerID, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan department: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// ListUsers returns every user, active or not
func (r *OrgRepository) ListUsers(ctx context.Context) ([]*entity.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		r.logger.Error("Failed to list users", zap.Error(err))
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var out []*entity.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// SetUserActive flips the active flag
func (r *OrgRepository) SetUserActive(ctx context.Context, id string, active bool) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE users SET active = ? WHERE id = ?`, active, id); err != nil {
		r.logger.Error("Failed to set user active", zap.String("id", id), zap.Bool("active", active), zap.Error(err))
		return fmt.Errorf("failed to set user active: %w", err)
	}
	return nil
}

// DeleteUser removes a user
func (r *OrgRepository) DeleteUser(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id); err != nil {
		r.logger.Error("Failed to delete user", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

func scanUser(s rowScanner) (*entity.User, error) {
	var (
		u     entity.User
		roles string
	)
	if err := s.Scan(&u.ID, &u.Name, &u.DepartmentID, &roles, &u.Active, &u.LarkOpenID, &u.UpdatedAt); err != nil {
		return nil, err
	}
	if err := decodeJSON(roles, &u.Roles); err != nil {
		return nil, err
	}
	return &u, nil
}
