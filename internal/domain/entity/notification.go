package entity

import "time"

// NotificationPayload is an outbound message produced by a dispatch. It carries no delivery state.
type NotificationPayload struct {
	UserID        string `json:"user_id"`
	Type          string `json:"type"`
	Title         string `json:"title"`
	Content       string `json:"content"`
	RelatedItemID int64  `json:"related_item_id"`
}

// Notification is a persisted outbox record awaiting delivery
type Notification struct {
	ID            int64      `json:"id"`
	DeliveryKey   string     `json:"delivery_key"`
	UserID        string     `json:"user_id"`
	Type          string     `json:"type"`
	Title         string     `json:"title"`
	Content       string     `json:"content"`
	RelatedItemID int64      `json:"related_item_id"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	LastError     string     `json:"last_error,omitempty"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}
