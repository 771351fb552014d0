package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yang123apple/EHS-system-sub002/internal/application/dispatcher"
	"github.com/yang123apple/EHS-system-sub002/internal/application/port"
	appwf "github.com/yang123apple/EHS-system-sub002/internal/application/workflow"
	"github.com/yang123apple/EHS-system-sub002/internal/domain/entity"
	"github.com/yang123apple/EHS-system-sub002/internal/domain/event"
	domainwf "github.com/yang123apple/EHS-system-sub002/internal/domain/workflow"
)

// CreateItemRequest submits a new hazard or permit
type CreateItemRequest struct {
	Kind     string         `json:"kind"`
	Title    string         `json:"title"`
	FormData map[string]any `json:"form_data"`
	Comment  string         `json:"comment"`
	Operator appwf.Operator `json:"-"`
}

// ActRequest applies one action to an item
type ActRequest struct {
	ItemID      int64           `json:"-"`
	Action      domainwf.Action `json:"action"`
	Comment     string          `json:"comment"`
	FormChanges map[string]any  `json:"form_changes"`
	StepIndex   *int            `json:"step_index"`
	Operator    appwf.Operator  `json:"-"`
}

// ItemView is an item with the actions its status permits
type ItemView struct {
	Item             *entity.WorkflowItem `json:"item"`
	PermittedActions []domainwf.Action    `json:"permitted_actions"`
	StepName         string               `json:"step_name"`
}

// ItemService runs the item lifecycle: submission, actions, logs and the attached document
type ItemService interface {
	Create(ctx context.Context, req CreateItemRequest) (*appwf.DispatchResult, error)
	Act(ctx context.Context, req ActRequest) (*appwf.DispatchResult, error)
	Get(ctx context.Context, id int64) (*ItemView, error)
	Logs(ctx context.Context, id int64) ([]entity.LogEntry, error)
	ExportLogs(ctx context.Context, id int64) ([]byte, string, error)
	UploadDocument(ctx context.Context, id int64, fileName string, content []byte) error
	Document(ctx context.Context, id int64) (*entity.ItemDocument, error)
}

type itemServiceImpl struct {
	transitionWriter
	definitionRepo port.DefinitionRepository
	org            port.OrgSnapshotProvider
	engine         appwf.Engine
	exporter       port.LogExporter
	now            Clock
}

// ItemServiceDeps groups the collaborators of the item service
type ItemServiceDeps struct {
	ItemRepo       port.ItemRepository
	DefinitionRepo port.DefinitionRepository
	LogRepo        port.AuditLogRepository
	DocumentRepo   port.DocumentRepository
	Org            port.OrgSnapshotProvider
	Engine         appwf.Engine
	Notifications  NotificationService
	Visibility     VisibilityService
	Signer         port.SignatureWriter
	Exporter       port.LogExporter
	TxManager      port.TransactionManager
	Dispatcher     dispatcher.Dispatcher
	Logger         Logger
}

// NewItemService creates a new ItemService
func NewItemService(deps ItemServiceDeps) ItemService {
	return &itemServiceImpl{
		transitionWriter: transitionWriter{
			itemRepo:      deps.ItemRepo,
			logRepo:       deps.LogRepo,
			documentRepo:  deps.DocumentRepo,
			signer:        deps.Signer,
			notifications: deps.Notifications,
			visibility:    deps.Visibility,
			txManager:     deps.TxManager,
			dispatcher:    deps.Dispatcher,
			logger:        deps.Logger,
		},
		definitionRepo: deps.DefinitionRepo,
		org:            deps.Org,
		engine:         deps.Engine,
		exporter:       deps.Exporter,
		now:            defaultClock,
	}
}

// Create opens an item on the latest definition of its kind
func (s *itemServiceImpl) Create(ctx context.Context, req CreateItemRequest) (*appwf.DispatchResult, error) {
	if strings.TrimSpace(req.Kind) == "" {
		return nil, fmt.Errorf("%w: kind is required", ErrInvalidInput)
	}

	var (
		result *appwf.DispatchResult
		out    writeOutcome
	)
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		def, err := s.definitionRepo.GetLatest(txCtx, req.Kind)
		if err != nil {
			return fmt.Errorf("failed to load definition %s: %w", req.Kind, err)
		}
		if def == nil {
			return fmt.Errorf("%w: %s", ErrDefinitionNotFound, req.Kind)
		}

		org, err := s.org.Snapshot(txCtx)
		if err != nil {
			return err
		}
		creator, ok := org.ActiveUser(req.Operator.UserID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUserNotFound, req.Operator.UserID)
		}
		op := req.Operator
		op.UserName = creator.Name

		now := s.now()
		title := req.Title
		if title == "" {
			title = def.Name
		}
		form := req.FormData
		if form == nil {
			form = map[string]any{}
		}
		item := &entity.WorkflowItem{
			Kind:                req.Kind,
			Title:               title,
			CreatorID:           creator.ID,
			CreatorName:         creator.Name,
			CreatorDepartmentID: creator.DepartmentID,
			FormData:            form,
			CreatedAt:           now,
			UpdatedAt:           now,
		}

		res, err := s.engine.Open(appwf.OpenRequest{
			Item:       item,
			Definition: def,
			Org:        org,
			Operator:   op,
			Comment:    req.Comment,
			Now:        now,
		})
		if err != nil {
			return err
		}

		out, err = s.write(txCtx, res, true)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to create item", "kind", req.Kind, "creator", req.Operator.UserID, "error", err)
		return nil, err
	}

	s.logger.Info("Item created",
		"item_id", result.Item.ID,
		"kind", result.Item.Kind,
		"status", result.NewStatus,
		"handlers", len(result.Handlers),
	)
	s.publish(ctx, event.TypeItemCreated, result, out, nil)
	return result, nil
}

// Act re-reads the item under lock, dispatches, and persists the outcome atomically
func (s *itemServiceImpl) Act(ctx context.Context, req ActRequest) (*appwf.DispatchResult, error) {
	if req.Action == "" {
		return nil, fmt.Errorf("%w: action is required", ErrInvalidInput)
	}

	var (
		result *appwf.DispatchResult
		out    writeOutcome
	)
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		item, err := s.itemRepo.GetForUpdate(txCtx, req.ItemID)
		if err != nil {
			return fmt.Errorf("failed to load item %d: %w", req.ItemID, err)
		}
		if item == nil {
			return ErrItemNotFound
		}

		def, err := s.definitionRepo.GetByID(txCtx, item.DefinitionID)
		if err != nil {
			return fmt.Errorf("failed to load definition %d: %w", item.DefinitionID, err)
		}
		if def == nil {
			return fmt.Errorf("%w: id %d", ErrDefinitionNotFound, item.DefinitionID)
		}

		org, err := s.org.Snapshot(txCtx)
		if err != nil {
			return err
		}
		op := req.Operator
		if name := org.UserName(op.UserID); name != "" {
			op.UserName = name
		}

		res, err := s.engine.Dispatch(appwf.DispatchRequest{
			Item:        item,
			Definition:  def,
			Org:         org,
			Operator:    op,
			Action:      req.Action,
			Comment:     req.Comment,
			FormChanges: req.FormChanges,
			StepIndex:   req.StepIndex,
			Now:         s.now(),
		})
		if err != nil {
			return err
		}

		out, err = s.write(txCtx, res, false)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		var de *domainwf.DispatchError
		if errors.As(err, &de) {
			s.logger.Info("Dispatch refused", "item_id", req.ItemID, "action", req.Action, "operator", req.Operator.UserID, "reason", de.Error())
		} else {
			s.logger.Error("Failed to apply action", "item_id", req.ItemID, "action", req.Action, "error", err)
		}
		return nil, err
	}

	s.logger.Info("Item transitioned",
		"item_id", req.ItemID,
		"action", req.Action,
		"from", result.PreviousStatus,
		"to", result.NewStatus,
		"advanced", result.Advanced,
		"visibility_stale", out.stale,
	)
	s.publish(ctx, event.TypeItemTransitioned, result, out, nil)
	return result, nil
}

// Get returns the item with its permitted actions
func (s *itemServiceImpl) Get(ctx context.Context, id int64) (*ItemView, error) {
	item, err := s.itemRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load item %d: %w", id, err)
	}
	if item == nil {
		return nil, ErrItemNotFound
	}

	def, err := s.definitionRepo.GetByID(ctx, item.DefinitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition %d: %w", item.DefinitionID, err)
	}
	if def == nil {
		return nil, ErrDefinitionNotFound
	}

	actions, err := s.engine.PermittedActions(item, def)
	if err != nil {
		return nil, err
	}

	view := &ItemView{Item: item, PermittedActions: actions}
	if item.CurrentStepIndex >= 0 && item.CurrentStepIndex < len(def.Steps) {
		view.StepName = def.Steps[item.CurrentStepIndex].Name
	}
	return view, nil
}

// Logs returns the audit trail ordered by sequence
func (s *itemServiceImpl) Logs(ctx context.Context, id int64) ([]entity.LogEntry, error) {
	logs, err := s.logRepo.ListByItem(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list logs of item %d: %w", id, err)
	}
	if logs == nil {
		logs = []entity.LogEntry{}
	}
	return logs, nil
}

// ExportLogs renders the audit trail as a file
func (s *itemServiceImpl) ExportLogs(ctx context.Context, id int64) ([]byte, string, error) {
	item, err := s.itemRepo.GetByID(ctx, id)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load item %d: %w", id, err)
	}
	if item == nil {
		return nil, "", ErrItemNotFound
	}
	logs, err := s.Logs(ctx, id)
	if err != nil {
		return nil, "", err
	}
	data, err := s.exporter.ExportLogs(item, logs)
	if err != nil {
		return nil, "", fmt.Errorf("failed to export logs of item %d: %w", id, err)
	}
	return data, s.exporter.ContentType(), nil
}

// UploadDocument attaches or replaces the item's spreadsheet
func (s *itemServiceImpl) UploadDocument(ctx context.Context, id int64, fileName string, content []byte) error {
	if len(content) == 0 {
		return fmt.Errorf("%w: empty document", ErrInvalidInput)
	}
	item, err := s.itemRepo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load item %d: %w", id, err)
	}
	if item == nil {
		return ErrItemNotFound
	}
	doc := &entity.ItemDocument{ItemID: id, FileName: fileName, Content: content, UpdatedAt: s.now()}
	if err := s.documentRepo.Save(ctx, doc); err != nil {
		return fmt.Errorf("failed to save document of item %d: %w", id, err)
	}
	s.logger.Info("Document uploaded", "item_id", id, "file_name", fileName, "size", len(content))
	return nil
}

// Document returns the item's spreadsheet
func (s *itemServiceImpl) Document(ctx context.Context, id int64) (*entity.ItemDocument, error) {
	doc, err := s.documentRepo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load document of item %d: %w", id, err)
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}
