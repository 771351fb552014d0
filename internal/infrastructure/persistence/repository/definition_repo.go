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

// definitionBody is the serialized part of a definition
type definitionBody struct {
	Steps           []entity.Step           `json:"steps"`
	Transitions     []entity.TransitionRule `json:"transitions"`
	CompletedStatus string                  `json:"completed_status"`
	RejectedStatus  string                  `json:"rejected_status"`
}

const definitionColumns = `id, def_key, version, name, body, created_at`

// DefinitionRepository implements port.DefinitionRepository
type DefinitionRepository struct {
	db     *sqlstore.DB
	logger *zap.Logger
}

// NewDefinitionRepository creates a new definition repository
func NewDefinitionRepository(db *sqlstore.DB, logger *zap.Logger) port.DefinitionRepository {
	return &DefinitionRepository{
		db:     db,
		logger: logger,
	}
}

// Create stores def as the next version of its key
func (r *DefinitionRepository) Create(ctx context.Context, def *entity.WorkflowDefinition) error {
	body, err := encodeJSON(definitionBody{
		Steps:           def.Steps,
		Transitions:     def.Transitions,
		CompletedStatus: def.CompletedStatus,
		RejectedStatus:  def.RejectedStatus,
	})
	if err != nil {
		return err
	}

	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		var version int
		err := r.db.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) + 1 FROM workflow_definitions WHERE def_key = ?`,
			def.Key,
		).Scan(&version)
		if err != nil {
			return fmt.Errorf("failed to compute next version: %w", err)
		}

		query := `
			INSERT INTO workflow_definitions (def_key, version, name, body, created_at)
			VALUES (?, ?, ?, ?, ?)
			RETURNING id
		`
		var id int64
		if err := r.db.QueryRowContext(ctx, query, def.Key, version, def.Name, body, def.CreatedAt).Scan(&id); err != nil {
			r.logger.Error("Failed to create workflow definition",
				zap.String("key", def.Key),
				zap.Int("version", version),
				zap.Error(err))
			return fmt.Errorf("failed to create workflow definition: %w", err)
		}

		def.ID = id
		def.Version = version
		return nil
	})
}

// GetByID retrieves one stored version
func (r *DefinitionRepository) GetByID(ctx context.Context, id int64) (*entity.WorkflowDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions WHERE id = ?`
	def, err := scanDefinition(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get workflow definition", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow definition: %w", err)
	}
	return def, nil
}

// GetLatest retrieves the highest version of key
func (r *DefinitionRepository) GetLatest(ctx context.Context, key string) (*entity.WorkflowDefinition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM workflow_definitions
		WHERE def_key = ?
		ORDER BY version DESC
		LIMIT 1
	`
	def, err := scanDefinition(r.db.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get latest workflow definition", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow definition: %w", err)
	}
	return def, nil
}

// ListLatest returns the newest version of every key, ordered by key
func (r *DefinitionRepository) ListLatest(ctx context.Context) ([]*entity.WorkflowDefinition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM workflow_definitions d
		WHERE version = (SELECT MAX(version) FROM workflow_definitions WHERE def_key = d.def_key)
		ORDER BY def_key
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list workflow definitions", zap.Error(err))
		return nil, fmt.Errorf("failed to list workflow definitions: %w", err)
	}
	defer rows.Close()

	var defs []*entity.WorkflowDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow definition: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func scanDefinition(s rowScanner) (*entity.WorkflowDefinition, error) {
	var (
		def  entity.WorkflowDefinition
		body string
	)
	if err := s.Scan(&def.ID, &def.Key, &def.Version, &def.Name, &body, &def.CreatedAt); err != nil {
		return nil, err
	}

	var b definitionBody
	if err := decodeJSON(body, &b); err != nil {
		return nil, err
	}
	def.Steps = b.Steps
	def.Transitions = b.Transitions
	def.CompletedStatus = b.CompletedStatus
	def.RejectedStatus = b.RejectedStatus
	return &def, nil
}
