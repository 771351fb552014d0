package service

import (
	"context"
	"fmt"
	"time"

	"github.com/yang123apple/EHS-system-sub002/internal/application/port"
	"github.com/yang123apple/EHS-system-sub002/internal/domain/entity"
	"github.com/yang123apple/EHS-system-sub002/internal/domain/visibility"
)

// RebuildFilter selects the items a rebuild covers
type RebuildFilter struct {
	Kind      string `json:"kind,omitempty"`
	Status    string `json:"status,omitempty"`
	StaleOnly bool   `json:"stale_only,omitempty"`
}

// RebuildStats summarizes a rebuild run
type RebuildStats struct {
	Scanned  int           `json:"scanned"`
	Synced   int           `json:"synced"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// VisibilityService keeps the visibility index in line with item state
type VisibilityService interface {
	// Sync recomputes the index rows of one item in its own transaction
	Sync(ctx context.Context, itemID int64) error

	// SyncItem recomputes the rows of item inside the caller's transaction
	SyncItem(ctx context.Context, item *entity.WorkflowItem) error

	// RebuildAll resyncs every matching item, one transaction per item
	RebuildAll(ctx context.Context, filter RebuildFilter, batchSize int) (*RebuildStats, error)
}

type visibilityServiceImpl struct {
	itemRepo       port.ItemRepository
	visibilityRepo port.VisibilityRepository
	txManager      port.TransactionManager
	throttle       time.Duration
	logger         Logger
}

// NewVisibilityService creates a new VisibilityService. throttle is the pause between rebuild batches.
func NewVisibilityService(
	itemRepo port.ItemRepository,
	visibilityRepo port.VisibilityRepository,
	txManager port.TransactionManager,
	throttle time.Duration,
	logger Logger,
) VisibilityService {
	return &visibilityServiceImpl{
		itemRepo:       itemRepo,
		visibilityRepo: visibilityRepo,
		txManager:      txManager,
		throttle:       throttle,
		logger:         logger,
	}
}

// Sync loads the item and rewrites its rows
func (s *visibilityServiceImpl) Sync(ctx context.Context, itemID int64) error {
	return s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		item, err := s.itemRepo.GetByID(txCtx, itemID)
		if err != nil {
			return fmt.Errorf("failed to load item %d: %w", itemID, err)
		}
		if item == nil {
			return ErrItemNotFound
		}
		return s.SyncItem(txCtx, item)
	})
}

// SyncItem replaces the rows of item and clears its stale flag
func (s *visibilityServiceImpl) SyncItem(ctx context.Context, item *entity.WorkflowItem) error {
	rows := visibility.Compute(item)
	if err := s.visibilityRepo.Replace(ctx, item.ID, rows); err != nil {
		return fmt.Errorf("failed to replace visibility of item %d: %w", item.ID, err)
	}
	if err := s.itemRepo.SetVisibilityStale(ctx, item.ID, false); err != nil {
		return fmt.Errorf("failed to clear stale flag of item %d: %w", item.ID, err)
	}
	return nil
}

// RebuildAll walks matching items by ascending id
func (s *visibilityServiceImpl) RebuildAll(ctx context.Context, filter RebuildFilter, batchSize int) (*RebuildStats, error) {
	if batchSize <= 0 {
		batchSize = 200
	}
	started := time.Now()
	stats := &RebuildStats{}
	itemFilter := port.ItemFilter{Kind: filter.Kind, Status: filter.Status, StaleOnly: filter.StaleOnly}

	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			stats.Duration = time.Since(started)
			return stats, err
		}

		ids, err := s.itemRepo.ListIDs(ctx, itemFilter, afterID, batchSize)
		if err != nil {
			stats.Duration = time.Since(started)
			return stats, fmt.Errorf("failed to list items after %d: %w", afterID, err)
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			stats.Scanned++
			if err := s.Sync(ctx, id); err != nil {
				stats.Failed++
				s.logger.Error("Visibility sync failed", "item_id", id, "error", err)
				continue
			}
			stats.Synced++
		}
		afterID = ids[len(ids)-1]

		if len(ids) < batchSize {
			break
		}
		if s.throttle > 0 {
			select {
			case <-ctx.Done():
				stats.Duration = time.Since(started)
				return stats, ctx.Err()
			case <-time.After(s.throttle):
			}
		}
	}

	stats.Duration = time.Since(started)
	s.logger.Info("Visibility rebuild finished",
		"scanned", stats.Scanned,
		"synced", stats.Synced,
		"failed", stats.Failed,
		"duration", stats.Duration.String(),
	)
	return stats, nil
}
