package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/yang123apple/EHS-system-sub002/internal/application/port"
	"github.com/yang123apple/EHS-system-sub002/internal/domain/entity"
	"github.com/yang123apple/EHS-system-sub002/internal/domain/event"
)

// deliveryNamespace scopes the name-based uuids used as outbox delivery keys
var deliveryNamespace = uuid.MustParse("6f1c7a52-3f0e-4d7b-9a61-0c2f8e4b5d10")

// DeliveryStats summarizes one outbox pass
type DeliveryStats struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Abandoned int `json:"abandoned"`
}

// NotificationService owns the notification outbox
type NotificationService interface {
	// Enqueue stores the payloads of one transition inside the caller's transaction
	Enqueue(ctx context.Context, itemID int64, logSeq int, payloads []entity.NotificationPayload) error

	// DeliverPending hands pending records to the sink
	DeliverPending(ctx context.Context) (*DeliveryStats, error)

	// HandleItemEvent triggers delivery after a committed transition
	HandleItemEvent(ctx context.Context, itemID int64, evt *event.Event) error

	ListForUser(ctx context.Context, userID string, page port.Page) ([]*entity.Notification, error)
}

// NotificationConfig tunes delivery
type NotificationConfig struct {
	BatchSize   int
	MaxAttempts int
}

type notificationServiceImpl struct {
	notificationRepo port.NotificationRepository
	orgRepo          port.OrgRepository
	sink             port.NotificationSink
	config           NotificationConfig
	logger           Logger
	now              Clock

	// one delivery pass at a time; the event trigger and the poll worker overlap
	delivering sync.Mutex
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(
	notificationRepo port.NotificationRepository,
	orgRepo port.OrgRepository,
	sink port.NotificationSink,
	config NotificationConfig,
	logger Logger,
) NotificationService {
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	return &notificationServiceImpl{
		notificationRepo: notificationRepo,
		orgRepo:          orgRepo,
		sink:             sink,
		config:           config,
		logger:           logger,
		now:              defaultClock,
	}
}

// DeliveryKey derives the idempotency key of a payload from the transition that produced it
func DeliveryKey(itemID int64, logSeq int, p entity.NotificationPayload) string {
	name := fmt.Sprintf("%d:%d:%s:%s", itemID, logSeq, p.UserID, p.Type)
	return uuid.NewSHA1(deliveryNamespace, []byte(name)).String()
}

// Enqueue writes one outbox row per payload
func (s *notificationServiceImpl) Enqueue(ctx context.Context, itemID int64, logSeq int, payloads []entity.NotificationPayload) error {
	now := s.now()
	for _, p := range payloads {
		n := &entity.Notification{
			DeliveryKey:   DeliveryKey(itemID, logSeq, p),
			UserID:        p.UserID,
			Type:          p.Type,
			Title:         p.Title,
			Content:       p.Content,
			RelatedItemID: itemID,
			Status:        entity.DeliveryPending,
			CreatedAt:     now,
		}
		if err := s.notificationRepo.Enqueue(ctx, n); err != nil {
			return fmt.Errorf("failed to enqueue notification for %s: %w", p.UserID, err)
		}
	}
	return nil
}

// DeliverPending sends one batch. Failures stay pending until MaxAttempts is reached.
func (s *notificationServiceImpl) DeliverPending(ctx context.Context) (*DeliveryStats, error) {
	stats := &DeliveryStats{}
	if !s.delivering.TryLock() {
		return stats, nil
	}
	defer s.delivering.Unlock()

	pending, err := s.notificationRepo.ListPending(ctx, s.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending notifications: %w", err)
	}

	for _, n := range pending {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.Attempted++

		recipient, err := s.orgRepo.GetUser(ctx, n.UserID)
		if err != nil {
			s.logger.Error("Failed to load recipient", "notification_id", n.ID, "user_id", n.UserID, "error", err)
			stats.Failed++
			continue
		}
		if recipient == nil {
			if err := s.notificationRepo.MarkAttemptFailed(ctx, n.ID, "recipient no longer exists", true); err != nil {
				return stats, fmt.Errorf("failed to mark notification %d: %w", n.ID, err)
			}
			stats.Abandoned++
			continue
		}

		if err := s.sink.Deliver(ctx, n, recipient); err != nil {
			final := n.Attempts+1 >= s.config.MaxAttempts || errors.Is(err, port.ErrUndeliverable)
			s.logger.Error("Notification delivery failed",
				"notification_id", n.ID,
				"sink", s.sink.Name(),
				"attempt", n.Attempts+1,
				"final", final,
				"error", err,
			)
			if markErr := s.notificationRepo.MarkAttemptFailed(ctx, n.ID, err.Error(), final); markErr != nil {
				return stats, fmt.Errorf("failed to mark notification %d: %w", n.ID, markErr)
			}
			if final {
				stats.Abandoned++
			} else {
				stats.Failed++
			}
			continue
		}

		if err := s.notificationRepo.MarkSent(ctx, n.ID, s.now()); err != nil {
			return stats, fmt.Errorf("failed to mark notification %d sent: %w", n.ID, err)
		}
		stats.Sent++
	}

	if stats.Attempted > 0 {
		s.logger.Info("Notification batch delivered",
			"sink", s.sink.Name(),
			"attempted", stats.Attempted,
			"sent", stats.Sent,
			"failed", stats.Failed,
			"abandoned", stats.Abandoned,
		)
	}
	return stats, nil
}

// HandleItemEvent is subscribed to item events
func (s *notificationServiceImpl) HandleItemEvent(ctx context.Context, itemID int64, evt *event.Event) error {
	_, err := s.DeliverPending(ctx)
	return err
}

// ListForUser returns a user's notifications, newest first
func (s *notificationServiceImpl) ListForUser(ctx context.Context, userID string, page port.Page) ([]*entity.Notification, error) {
	list, err := s.notificationRepo.ListByUser(ctx, userID, normalizePage(page))
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return list, nil
}
