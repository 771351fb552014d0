package service

import (
	"context"
	"fmt"

	"github.com/yang123apple/EHS-system-sub002/internal/application/port"
	"github.com/yang123apple/EHS-system-sub002/internal/domain/entity"
)

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

// ItemPage is one page of items
type ItemPage struct {
	Items  []*entity.WorkflowItem `json:"items"`
	Total  int                    `json:"total"`
	Limit  int                    `json:"limit"`
	Offset int                    `json:"offset"`
}

// QueryService answers "what may this user see" from the visibility index
type QueryService interface {
	ListVisible(ctx context.Context, userID string, isAdmin bool, filter port.ItemFilter, page port.Page) (*ItemPage, error)
	CanView(ctx context.Context, userID string, itemID int64, isAdmin bool) (bool, error)
}

type queryServiceImpl struct {
	itemRepo       port.ItemRepository
	visibilityRepo port.VisibilityRepository
}

// NewQueryService creates a new QueryService
func NewQueryService(itemRepo port.ItemRepository, visibilityRepo port.VisibilityRepository) QueryService {
	return &queryServiceImpl{itemRepo: itemRepo, visibilityRepo: visibilityRepo}
}

// ListVisible lists items the user holds any role on; admins see everything
func (s *queryServiceImpl) ListVisible(ctx context.Context, userID string, isAdmin bool, filter port.ItemFilter, page port.Page) (*ItemPage, error) {
	page = normalizePage(page)
	if filter.Role != "" && !filter.Role.IsValid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, filter.Role)
	}

	var (
		items []*entity.WorkflowItem
		total int
		err   error
	)
	if isAdmin && filter.Role == "" {
		items, total, err = s.itemRepo.List(ctx, filter, page)
	} else {
		items, total, err = s.itemRepo.ListVisible(ctx, userID, filter, page)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	if items == nil {
		items = []*entity.WorkflowItem{}
	}

	return &ItemPage{Items: items, Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}

// CanView checks a single (user, item) pair
func (s *queryServiceImpl) CanView(ctx context.Context, userID string, itemID int64, isAdmin bool) (bool, error) {
	// admins read the item store directly
	if isAdmin {
		item, err := s.itemRepo.GetByID(ctx, itemID)
		if err != nil {
			return false, fmt.Errorf("failed to load item %d: %w", itemID, err)
		}
		return item != nil, nil
	}
	ok, err := s.visibilityRepo.Exists(ctx, itemID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to check visibility: %w", err)
	}
	return ok, nil
}

func normalizePage(p port.Page) port.Page {
	if p.Limit <= 0 {
		p.Limit = defaultPageSize
	}
	if p.Limit > maxPageSize {
		p.Limit = maxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
