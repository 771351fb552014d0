package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/yang123apple/EHS-system-sub002/internal/application/port"
	appwf "github.com/yang123apple/EHS-system-sub002/internal/application/workflow"
	"github.com/yang123apple/EHS-system-sub002/internal/domain/event"
)

// SweepStats summarizes one account sweep
type SweepStats struct {
	UserID    string `json:"user_id"`
	Scanned   int    `json:"scanned"`
	Rejected  int    `json:"rejected"`
	Pruned    int    `json:"pruned"`
	Unchanged int    `json:"unchanged"`
	Failed    int    `json:"failed"`
}

// InvalidationService clears deactivated accounts out of in-flight items
type InvalidationService interface {
	// HandleAccountEvent is subscribed to account.deactivated and account.deleted
	HandleAccountEvent(ctx context.Context, userID string, evt *event.Event) error

	// Sweep processes every non-terminal item the user is an active handler of
	Sweep(ctx context.Context, userID string, cause *event.Event) (*SweepStats, error)
}

type invalidationServiceImpl struct {
	transitionWriter
	definitionRepo port.DefinitionRepository
	org            port.OrgSnapshotProvider
	engine         appwf.Engine
	now            Clock
}

// NewInvalidationService creates a new InvalidationService. It shares the
// persistence path of the item service so a forced reject is recorded like any other.
func NewInvalidationService(deps ItemServiceDeps) InvalidationService {
	return &invalidationServiceImpl{
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
		now:            defaultClock,
	}
}

// HandleAccountEvent runs the sweep for the event's user
func (s *invalidationServiceImpl) HandleAccountEvent(ctx context.Context, userID string, evt *event.Event) error {
	if userID == "" {
		return nil
	}
	stats, err := s.Sweep(ctx, userID, evt)
	if err != nil {
		return err
	}
	if stats.Failed > 0 {
		return fmt.Errorf("sweep of %s left %d items unprocessed", userID, stats.Failed)
	}
	return nil
}

// Sweep invalidates userID on each affected item, one transaction per item
func (s *invalidationServiceImpl) Sweep(ctx context.Context, userID string, cause *event.Event) (*SweepStats, error) {
	ids, err := s.itemRepo.ActiveIDsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find items of %s: %w", userID, err)
	}

	stats := &SweepStats{UserID: userID}
	for _, id := range ids {
		stats.Scanned++
		res, out, err := s.invalidateOne(ctx, id, userID)
		switch {
		case errors.Is(err, appwf.ErrNotAffected):
			stats.Unchanged++
			continue
		case err != nil:
			stats.Failed++
			s.logger.Error("Failed to invalidate handler", "item_id", id, "user_id", userID, "error", err)
			continue
		}

		if res.Terminal {
			stats.Rejected++
		} else {
			stats.Pruned++
		}
		s.publish(ctx, event.TypeItemTransitioned, res, out, cause)
	}

	s.logger.Info("Account sweep finished",
		"user_id", userID,
		"scanned", stats.Scanned,
		"rejected", stats.Rejected,
		"pruned", stats.Pruned,
		"failed", stats.Failed,
	)
	return stats, nil
}

func (s *invalidationServiceImpl) invalidateOne(ctx context.Context, itemID int64, userID string) (*appwf.DispatchResult, writeOutcome, error) {
	var (
		result *appwf.DispatchResult
		out    writeOutcome
	)
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		item, err := s.itemRepo.GetForUpdate(txCtx, itemID)
		if err != nil {
			return fmt.Errorf("failed to load item %d: %w", itemID, err)
		}
		if item == nil {
			return appwf.ErrNotAffected
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

		res, err := s.engine.Invalidate(appwf.InvalidateRequest{
			Item:       item,
			Definition: def,
			Org:        org,
			UserID:     userID,
			Now:        s.now(),
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
	return result, out, err
}
