package lark

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/yang123apple/EHS-system-sub002/internal/application/port"
	"github.com/yang123apple/EHS-system-sub002/internal/domain/entity"
)

// textSender is satisfied by *Messenger
type textSender interface {
	SendText(ctx context.Context, openID, text, uuid string) (string, error)
}

// Sink delivers outbox notifications as Lark text messages
type Sink struct {
	sender textSender
	logger *zap.Logger
}

// NewSink creates a Lark notification sink
func NewSink(sender textSender, logger *zap.Logger) *Sink {
	return &Sink{sender: sender, logger: logger}
}

// Name implements port.NotificationSink
func (s *Sink) Name() string {
	return "lark"
}

// Deliver implements port.NotificationSink. Users without a Lark open_id are undeliverable.
func (s *Sink) Deliver(ctx context.Context, n *entity.Notification, recipient *entity.User) error {
	if recipient.LarkOpenID == "" {
		return fmt.Errorf("user %s has no lark open_id: %w", recipient.ID, port.ErrUndeliverable)
	}

	messageID, err := s.sender.SendText(ctx, recipient.LarkOpenID, formatText(n), n.DeliveryKey)
	if err != nil {
		return err
	}

	s.logger.Info("Notification delivered",
		zap.Int64("notification_id", n.ID),
		zap.String("user_id", recipient.ID),
		zap.String("type", n.Type),
		zap.String("message_id", messageID))
	return nil
}

func formatText(n *entity.Notification) string {
	parts := make([]string, 0, 3)
	if n.Title != "" {
		parts = append(parts, n.Title)
	}
	if n.Content != "" {
		parts = append(parts, n.Content)
	}
	if n.RelatedItemID != 0 {
		parts = append(parts, fmt.Sprintf("Item #%d", n.RelatedItemID))
	}
	if len(parts) == 0 {
		return n.Type
	}
	return strings.Join(parts, "\n")
}

// LogSink records notifications in the log instead of sending them. Used when Lark is disabled.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log-only notification sink
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Name implements port.NotificationSink
func (s *LogSink) Name() string {
	return "log"
}

// Deliver implements port.NotificationSink
func (s *LogSink) Deliver(ctx context.Context, n *entity.Notification, recipient *entity.User) error {
	s.logger.Info("Notification",
		zap.Int64("notification_id", n.ID),
		zap.String("user_id", recipient.ID),
		zap.String("user_name", recipient.Name),
		zap.String("type", n.Type),
		zap.String("title", n.Title),
		zap.Int64("item_id", n.RelatedItemID))
	return nil
}

var (
	_ port.NotificationSink = (*Sink)(nil)
	_ port.NotificationSink = (*LogSink)(nil)
)
