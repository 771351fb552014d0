package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/yang123apple/EHS-system-sub002/internal/application/port"
	"github.com/yang123apple/EHS-system-sub002/internal/domain/entity"
	"github.com/yang123apple/EHS-system-sub002/internal/infrastructure/persistence/sqlstore"
	"go.uber.org/zap"
)

const notificationColumns = `id, delivery_key, user_id, type, title, content, related_item_id,
	status, attempts, last_error, sent_at, created_at`

// NotificationRepository implements port.NotificationRepository
type NotificationRepository struct {
	db     *sqlstore.DB
	logger *zap.Logger
}

// NewNotificationRepository creates a new notification outbox repository
func NewNotificationRepository(db *sqlstore.DB, logger *zap.Logger) port.NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

// Enqueue stores a pending notification. A duplicate delivery key is ignored
// and leaves n.ID zero.
func (r *NotificationRepository) Enqueue(ctx context.Context, n *entity.Notification) error {
	query := `
		INSERT INTO notifications (
			delivery_key, user_id, type, title, content, related_item_id,
			status, attempts, last_error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 0, '', ?)
		ON CONFLICT (delivery_key) DO NOTHING
		RETURNING id
	`

	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.Status == "" {
		n.Status = entity.DeliveryPending
	}

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		n.DeliveryKey,
		n.UserID,
		n.Type,
		n.Title,
		n.Content,
		n.RelatedItemID,
		n.Status,
		n.CreatedAt,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		r.logger.Debug("Notification already enqueued", zap.String("delivery_key", n.DeliveryKey))
		return nil
	}
	if err != nil {
		r.logger.Error("Failed to enqueue notification",
			zap.String("user_id", n.UserID),
			zap.String("type", n.Type),
			zap.Error(err))
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}

	n.ID = id
	return nil
}

// ListPending returns the oldest pending notifications
func (r *NotificationRepository) ListPending(ctx context.Context, limit int) ([]*entity.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE status = ? ORDER BY id LIMIT ?`
	return r.query(ctx, query, entity.DeliveryPending, limit)
}

// MarkSent marks notification as sent
func (r *NotificationRepository) MarkSent(ctx context.Context, id int64, at time.Time) error {
	query := `
		UPDATE notifications
		SET status = ?, sent_at = ?, attempts = attempts + 1, last_error = ''
		WHERE id = ?
	`
	if _, err := r.db.ExecContext(ctx, query, entity.DeliverySent, at, id); err != nil {
		r.logger.Error("Failed to mark notification as sent", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to mark sent: %w", err)
	}
	return nil
}

// MarkAttemptFailed counts a failed attempt; final gives up on the notification
func (r *NotificationRepository) MarkAttemptFailed(ctx context.Context, id int64, errMsg string, final bool) error {
	status := entity.DeliveryPending
	if final {
		status = entity.DeliveryFailed
	}
	query := `
		UPDATE notifications
		SET status = ?, attempts = attempts + 1, last_error = ?
		WHERE id = ?
	`
	if _, err := r.db.ExecContext(ctx, query, status, errMsg, id); err != nil {
		r.logger.Error("Failed to record delivery failure", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to record delivery failure: %w", err)
	}
	return nil
}

// ListByUser returns a user's notifications, newest first
func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, page port.Page) ([]*entity.Notification, error) {
	limit, offset := pageArgs(page)
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = ? ORDER BY id DESC LIMIT ? OFFSET ?`
	return r.query(ctx, query, userID, limit, offset)
}

func (r *NotificationRepository) query(ctx context.Context, query string, args ...interface{}) ([]*entity.Notification, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list notifications", zap.Error(err))
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	out := []*entity.Notification{}
	for rows.Next() {
		var (
			n      entity.Notification
			sentAt sql.NullTime
		)
		err := rows.Scan(
			&n.ID,
			&n.DeliveryKey,
			&n.UserID,
			&n.Type,
			&n.Title,
			&n.Content,
			&n.RelatedItemID,
			&n.Status,
			&n.Attempts,
			&n.LastError,
			&sentAt,
			&n.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if sentAt.Valid {
			n.SentAt = &sentAt.Time
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}
