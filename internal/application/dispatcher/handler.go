package dispatcher

import (
	"context"

	"github.com/yang123apple/EHS-system-sub002/internal/domain/event"
)

// ItemHandler reacts to an event about one workflow item
type ItemHandler func(ctx context.Context, itemID int64, evt *event.Event) error

// AccountHandler reacts to a user account leaving the organization
type AccountHandler func(ctx context.Context, userID string, evt *event.Event) error

// Subscription describes a registered handler
type Subscription struct {
	Name string     `json:"name"`
	Type event.Type `json:"type"`
}

// subscriber binds a subscription to the function that unpacks its event
type subscriber struct {
	Subscription
	call func(ctx context.Context, evt *event.Event) error
}

func itemSubscriber(name string, t event.Type, h ItemHandler) subscriber {
	return subscriber{
		Subscription: Subscription{Name: name, Type: t},
		call: func(ctx context.Context, evt *event.Event) error {
			return h(ctx, evt.ItemID, evt)
		},
	}
}

func accountSubscriber(name string, t event.Type, h AccountHandler) subscriber {
	return subscriber{
		Subscription: Subscription{Name: name, Type: t},
		call: func(ctx context.Context, evt *event.Event) error {
			return h(ctx, evt.UserID, evt)
		},
	}
}
