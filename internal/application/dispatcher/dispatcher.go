// Package dispatcher is the in-process event bus: item events drive notification
// delivery and visibility repair, account events drive the invalidation sweep.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/yang123apple/EHS-system-sub002/internal/domain/event"
)

var (
	// ErrClosed is returned when publishing on a closed dispatcher
	ErrClosed = errors.New("dispatcher is closed")

	// ErrDuplicateSubscription is returned when a name is reused for the same event type
	ErrDuplicateSubscription = errors.New("subscription already registered")
)

// Dispatcher routes events to the services subscribed to them
type Dispatcher interface {
	// OnItem subscribes h to the given item event types
	OnItem(name string, h ItemHandler, types ...event.Type) error

	// OnAccount subscribes h to account deactivation and deletion
	OnAccount(name string, h AccountHandler) error

	// Off removes every subscription registered under name
	Off(name string) int

	// Publish runs every subscriber of evt inline, in registration order,
	// and returns their joined errors
	Publish(ctx context.Context, evt *event.Event) error

	// PublishAsync queues evt for the background workers. The handlers get a
	// context that is not cancelled with ctx.
	PublishAsync(ctx context.Context, evt *event.Event)

	// Subscriptions lists the subscribers of an event type
	Subscriptions(t event.Type) []Subscription

	Stats() Stats

	// Close stops accepting events and waits for the queue to drain
	Close() error
}

// Stats counts handler runs since start
type Stats struct {
	Published int64 `json:"published"`
	Handled   int64 `json:"handled"`
	Failed    int64 `json:"failed"`
	Panicked  int64 `json:"panicked"`
	Queued    int64 `json:"queued"`
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type job struct {
	ctx context.Context
	evt *event.Event
}

type bus struct {
	mu     sync.RWMutex
	subs   map[event.Type][]subscriber
	logger Logger

	// sendMu guards closed and sends on queue; it is never held by the workers
	sendMu    sync.RWMutex
	closed    bool
	workers   int
	queueSize int
	queue     chan job
	wg        sync.WaitGroup

	published atomic.Int64
	handled   atomic.Int64
	failed    atomic.Int64
	panicked  atomic.Int64
	queued    atomic.Int64
}

// Option configures the dispatcher
type Option func(*bus)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(b *bus) {
		b.logger = logger
	}
}

// WithAsyncWorkers sets how many goroutines drain the async queue
func WithAsyncWorkers(n int) Option {
	return func(b *bus) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithQueueSize sets the async queue capacity; a full queue blocks PublishAsync
func WithQueueSize(n int) Option {
	return func(b *bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// NewDispatcher creates the bus and starts its async workers
func NewDispatcher(opts ...Option) Dispatcher {
	b := &bus{
		subs:      make(map[event.Type][]subscriber),
		workers:   4,
		queueSize: 256,
	}
	for _, opt := range opts {
		opt(b)
	}

	b.queue = make(chan job, b.queueSize)
	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go b.drain()
	}
	return b
}

func (b *bus) OnItem(name string, h ItemHandler, types ...event.Type) error {
	if h == nil || len(types) == 0 {
		return fmt.Errorf("item subscription %q needs a handler and at least one event type", name)
	}
	subs := make([]subscriber, 0, len(types))
	for _, t := range types {
		if !t.IsValid() || t.IsAccountEvent() {
			return fmt.Errorf("item subscription %q: %q is not an item event", name, t)
		}
		subs = append(subs, itemSubscriber(name, t, h))
	}
	return b.add(subs)
}

func (b *bus) OnAccount(name string, h AccountHandler) error {
	if h == nil {
		return fmt.Errorf("account subscription %q needs a handler", name)
	}
	return b.add([]subscriber{
		accountSubscriber(name, event.TypeAccountDeactivated, h),
		accountSubscriber(name, event.TypeAccountDeleted, h),
	})
}

// add registers all of subs or none of them
func (b *bus) add(subs []subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range subs {
		for _, existing := range b.subs[s.Type] {
			if existing.Name == s.Name {
				return fmt.Errorf("%w: %s on %s", ErrDuplicateSubscription, s.Name, s.Type)
			}
		}
	}
	for _, s := range subs {
		b.subs[s.Type] = append(b.subs[s.Type], s)
		if b.logger != nil {
			b.logger.Info("Subscribed", "event_type", s.Type, "subscriber", s.Name)
		}
	}
	return nil
}

func (b *bus) Off(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for t, subs := range b.subs {
		kept := subs[:0:0]
		for _, s := range subs {
			if s.Name == name {
				removed++
				continue
			}
			kept = append(kept, s)
		}
		b.subs[t] = kept
	}
	return removed
}

func (b *bus) Publish(ctx context.Context, evt *event.Event) error {
	if err := validate(evt); err != nil {
		return err
	}

	b.sendMu.RLock()
	closed := b.closed
	b.sendMu.RUnlock()
	if closed {
		return ErrClosed
	}

	b.mu.RLock()
	subs := b.subs[evt.Type]
	b.mu.RUnlock()

	b.published.Add(1)
	return b.deliver(ctx, evt, subs)
}

func (b *bus) PublishAsync(ctx context.Context, evt *event.Event) {
	if err := validate(evt); err != nil {
		b.logError("Dropped invalid event", evt, "", err)
		return
	}

	// the read lock keeps Close from closing the queue under a blocked send
	b.sendMu.RLock()
	defer b.sendMu.RUnlock()
	if b.closed {
		b.logError("Dropped event, dispatcher is closed", evt, "", ErrClosed)
		return
	}

	b.published.Add(1)
	b.queued.Add(1)
	b.queue <- job{ctx: context.WithoutCancel(ctx), evt: evt}
}

func (b *bus) drain() {
	defer b.wg.Done()
	for j := range b.queue {
		b.mu.RLock()
		subs := b.subs[j.evt.Type]
		b.mu.RUnlock()

		_ = b.deliver(j.ctx, j.evt, subs)
		b.queued.Add(-1)
	}
}

// deliver runs every subscriber even when an earlier one fails
func (b *bus) deliver(ctx context.Context, evt *event.Event, subs []subscriber) error {
	var errs []error
	for _, s := range subs {
		if err := b.run(ctx, evt, s); err != nil {
			b.logError("Subscriber failed", evt, s.Name, err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (b *bus) run(ctx context.Context, evt *event.Event, s subscriber) (err error) {
	b.handled.Add(1)
	defer func() {
		if r := recover(); r != nil {
			b.panicked.Add(1)
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			b.failed.Add(1)
		}
	}()
	return s.call(ctx, evt)
}

func (b *bus) Subscriptions(t event.Type) []Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Subscription, 0, len(b.subs[t]))
	for _, s := range b.subs[t] {
		out = append(out, s.Subscription)
	}
	return out
}

func (b *bus) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Handled:   b.handled.Load(),
		Failed:    b.failed.Load(),
		Panicked:  b.panicked.Load(),
		Queued:    b.queued.Load(),
	}
}

func (b *bus) Close() error {
	b.sendMu.Lock()
	if b.closed {
		b.sendMu.Unlock()
		return fmt.Errorf("dispatcher already closed")
	}
	b.closed = true
	close(b.queue)
	b.sendMu.Unlock()

	if b.logger != nil {
		b.logger.Info("Draining event queue", "queued", b.queued.Load())
	}
	b.wg.Wait()
	return nil
}

func (b *bus) logError(msg string, evt *event.Event, subscriber string, err error) {
	if b.logger == nil {
		return
	}
	kv := []interface{}{"error", err}
	if evt != nil {
		kv = append(kv, "event_type", evt.Type, "event_id", evt.ID, "correlation_id", evt.CorrelationID)
	}
	if subscriber != "" {
		kv = append(kv, "subscriber", subscriber)
	}
	b.logger.Error(msg, kv...)
}

func validate(evt *event.Event) error {
	switch {
	case evt == nil:
		return fmt.Errorf("nil event")
	case !evt.Type.IsValid():
		return fmt.Errorf("unknown event type %q", evt.Type)
	case evt.Type.IsAccountEvent() && evt.UserID == "":
		return fmt.Errorf("%s event without a user id", evt.Type)
	case !evt.Type.IsAccountEvent() && evt.ItemID == 0:
		return fmt.Errorf("%s event without an item id", evt.Type)
	}
	return nil
}
