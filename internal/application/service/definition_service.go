package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yang123apple/EHS-system-sub002/internal/application/port"
	"github.com/yang123apple/EHS-system-sub002/internal/domain/entity"
	domainwf "github.com/yang123apple/EHS-system-sub002/internal/domain/workflow"
)

// DefinitionService is the registry of versioned workflow definitions
type DefinitionService interface {
	// Register validates def and stores it as the next version of its key
	Register(ctx context.Context, def *entity.WorkflowDefinition) (*entity.WorkflowDefinition, error)
	Latest(ctx context.Context, key string) (*entity.WorkflowDefinition, error)
	Get(ctx context.Context, id int64) (*entity.WorkflowDefinition, error)
	List(ctx context.Context) ([]*entity.WorkflowDefinition, error)
	Validate(def *entity.WorkflowDefinition) error

	// SeedFromFile registers every definition in a YAML file whose key has no version yet
	SeedFromFile(ctx context.Context, path string) (int, error)
}

// definitionFile is the layout of the YAML seed file
type definitionFile struct {
	Definitions []*entity.WorkflowDefinition `yaml:"definitions"`
}

type definitionServiceImpl struct {
	definitionRepo port.DefinitionRepository
	validator      port.DefinitionValidator
	expressions    port.ExpressionChecker
	now            Clock
	logger         Logger
}

// NewDefinitionService creates a new DefinitionService. validator and expressions may be nil.
func NewDefinitionService(
	definitionRepo port.DefinitionRepository,
	validator port.DefinitionValidator,
	expressions port.ExpressionChecker,
	logger Logger,
) DefinitionService {
	return &definitionServiceImpl{
		definitionRepo: definitionRepo,
		validator:      validator,
		expressions:    expressions,
		now:            defaultClock,
		logger:         logger,
	}
}

// Register stores a new version
func (s *definitionServiceImpl) Register(ctx context.Context, def *entity.WorkflowDefinition) (*entity.WorkflowDefinition, error) {
	if err := s.Validate(def); err != nil {
		return nil, err
	}
	def.ID = 0
	def.CreatedAt = s.now()
	if err := s.definitionRepo.Create(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to store definition %s: %w", def.Key, err)
	}
	s.logger.Info("Workflow definition registered", "key", def.Key, "version", def.Version, "id", def.ID, "steps", len(def.Steps))
	return def, nil
}

// Latest returns the newest version of key
func (s *definitionServiceImpl) Latest(ctx context.Context, key string) (*entity.WorkflowDefinition, error) {
	def, err := s.definitionRepo.GetLatest(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition %s: %w", key, err)
	}
	if def == nil {
		return nil, ErrDefinitionNotFound
	}
	return def, nil
}

// Get returns one stored version
func (s *definitionServiceImpl) Get(ctx context.Context, id int64) (*entity.WorkflowDefinition, error) {
	def, err := s.definitionRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition %d: %w", id, err)
	}
	if def == nil {
		return nil, ErrDefinitionNotFound
	}
	return def, nil
}

// List returns the newest version of every key
func (s *definitionServiceImpl) List(ctx context.Context) ([]*entity.WorkflowDefinition, error) {
	defs, err := s.definitionRepo.ListLatest(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	return defs, nil
}

// Validate runs the structural schema, then the checks a schema cannot express
func (s *definitionServiceImpl) Validate(def *entity.WorkflowDefinition) error {
	if def == nil {
		return fmt.Errorf("%w: definition is nil", ErrInvalidDefinition)
	}
	if s.validator != nil {
		if err := s.validator.ValidateDefinition(def); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
		}
	}

	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if def.CompletedStatus == def.RejectedStatus {
		add("completed and rejected status must differ")
	}

	stepIDs := make(map[string]int, len(def.Steps))
	statuses := make(map[string]bool, len(def.Steps))
	for i, step := range def.Steps {
		if _, dup := stepIDs[step.ID]; dup {
			add("duplicate step id %q", step.ID)
		}
		stepIDs[step.ID] = i

		if statuses[step.Status] {
			add("step %s reuses status %q", step.ID, step.Status)
		}
		statuses[step.Status] = true
		if def.IsTerminal(step.Status) {
			add("step %s uses terminal status %q", step.ID, step.Status)
		}

		if step.ApprovalMode != "" && !step.ApprovalMode.IsValid() {
			add("step %s has unknown approval mode %q", step.ID, step.ApprovalMode)
		}
		if len(step.Handlers) == 0 && !step.NoHandlerOK {
			add("step %s declares no handler and is not marked no_handler_ok", step.ID)
		}

		for j, rule := range step.CCRules {
			if rule.When == "" || s.expressions == nil {
				continue
			}
			if err := s.expressions.Check(rule.When); err != nil {
				add("step %s cc rule %d: %v", step.ID, j, err)
			}
		}
	}

	for i, step := range def.Steps {
		if step.Rollback.ToStep == "" {
			continue
		}
		target, ok := stepIDs[step.Rollback.ToStep]
		switch {
		case !ok:
			add("step %s rolls back to unknown step %q", step.ID, step.Rollback.ToStep)
		case target >= i:
			add("step %s must roll back to an earlier step, not %q", step.ID, step.Rollback.ToStep)
		}
	}

	seen := make(map[string]bool, len(def.Transitions))
	advances := make(map[string]bool)
	for _, t := range def.Transitions {
		key := t.Status + "/" + t.Action
		if seen[key] {
			add("action %s declared twice for status %s", t.Action, t.Status)
		}
		seen[key] = true
		if t.Kind == entity.ActionAdvance {
			advances[t.Status] = true
		}
		if t.Kind == entity.ActionResubmit && t.Status != def.RejectedStatus {
			add("resubmit is only allowed from %s, not %s", def.RejectedStatus, t.Status)
		}
	}
	for _, step := range def.Steps {
		if !advances[step.Status] {
			add("status %s has no advance action", step.Status)
		}
	}

	if _, err := domainwf.FromDefinition(def); err != nil {
		add("%v", err)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDefinition, strings.Join(problems, "; "))
	}
	return nil
}

// SeedFromFile loads the YAML seed file
func (s *definitionServiceImpl) SeedFromFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Info("No workflow seed file", "path", path)
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var file definitionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	registered := 0
	for _, def := range file.Definitions {
		existing, err := s.definitionRepo.GetLatest(ctx, def.Key)
		if err != nil {
			return registered, fmt.Errorf("failed to check definition %s: %w", def.Key, err)
		}
		if existing != nil {
			continue
		}
		if _, err := s.Register(ctx, def); err != nil {
			return registered, fmt.Errorf("seed %s: %w", def.Key, err)
		}
		registered++
	}
	return registered, nil
}
