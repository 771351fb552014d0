package service

import (
	"context"
	"fmt"
	"time"

	"github.com/yang123apple/EHS-system-sub002/internal/application/dispatcher"
	"github.com/yang123apple/EHS-system-sub002/internal/application/port"
	appwf "github.com/yang123apple/EHS-system-sub002/internal/application/workflow"
	"github.com/yang123apple/EHS-system-sub002/internal/domain/event"
)

// transitionWriter persists the outcome of an engine call. Every method except
// publish must run inside the transaction that read the item.
type transitionWriter struct {
	itemRepo      port.ItemRepository
	logRepo       port.AuditLogRepository
	documentRepo  port.DocumentRepository
	signer        port.SignatureWriter
	notifications NotificationService
	visibility    VisibilityService
	txManager     port.TransactionManager
	dispatcher    dispatcher.Dispatcher
	logger        Logger
}

// writeOutcome reports what write did beyond the mandatory writes
type writeOutcome struct {
	stale  bool
	signed bool
}

// write stores the next item state, its log entry and its notifications, then
// stamps the signature cell and syncs visibility. A visibility failure is rolled
// back to its savepoint and leaves the item flagged stale.
func (w *transitionWriter) write(ctx context.Context, res *appwf.DispatchResult, created bool) (writeOutcome, error) {
	var out writeOutcome
	item := res.Item

	if created {
		if err := w.itemRepo.Create(ctx, item); err != nil {
			return out, fmt.Errorf("failed to create item: %w", err)
		}
	} else if err := w.itemRepo.Update(ctx, item); err != nil {
		return out, fmt.Errorf("failed to update item %d: %w", item.ID, err)
	}

	entry := res.LogEntry
	entry.ItemID = item.ID
	if err := w.logRepo.Append(ctx, &entry); err != nil {
		return out, fmt.Errorf("failed to append log of item %d: %w", item.ID, err)
	}
	res.LogEntry = entry

	for i := range res.Notifications {
		res.Notifications[i].RelatedItemID = item.ID
	}
	if err := w.notifications.Enqueue(ctx, item.ID, entry.Seq, res.Notifications); err != nil {
		return out, err
	}

	if res.SettledStep != nil && res.SettledStep.SignatureCell != "" {
		signed, err := w.sign(ctx, res, entry.Timestamp)
		if err != nil {
			return out, err
		}
		out.signed = signed
	}

	err := w.txManager.WithSavepoint(ctx, "visibility_sync", func(spCtx context.Context) error {
		return w.visibility.SyncItem(spCtx, item)
	})
	if err != nil {
		w.logger.Error("Visibility sync failed, item flagged for repair", "item_id", item.ID, "error", err)
		if err := w.itemRepo.SetVisibilityStale(ctx, item.ID, true); err != nil {
			return out, fmt.Errorf("failed to flag item %d stale: %w", item.ID, err)
		}
		out.stale = true
	}

	return out, nil
}

// sign stamps "<name> <time>" into the settled step's cell when a document exists
func (w *transitionWriter) sign(ctx context.Context, res *appwf.DispatchResult, at time.Time) (bool, error) {
	if w.signer == nil {
		return false, nil
	}
	doc, err := w.documentRepo.Get(ctx, res.Item.ID)
	if err != nil {
		return false, fmt.Errorf("failed to load document of item %d: %w", res.Item.ID, err)
	}
	if doc == nil {
		return false, nil
	}

	name := res.LogEntry.OperatorName
	if name == "" {
		name = res.LogEntry.OperatorID
	}
	signature := fmt.Sprintf("%s %s", name, at.Format("2006-01-02 15:04"))

	content, err := w.signer.WriteSignature(ctx, doc.Content, res.SettledStep.SignatureCell, signature)
	if err != nil {
		return false, fmt.Errorf("failed to sign cell %s of item %d: %w", res.SettledStep.SignatureCell, res.Item.ID, err)
	}
	doc.Content = content
	doc.UpdatedAt = at
	if err := w.documentRepo.Save(ctx, doc); err != nil {
		return false, fmt.Errorf("failed to save signed document of item %d: %w", res.Item.ID, err)
	}
	return true, nil
}

// publish announces a committed transition. Must be called after commit.
func (w *transitionWriter) publish(ctx context.Context, t event.Type, res *appwf.DispatchResult, out writeOutcome, parent *event.Event) {
	if w.dispatcher == nil {
		return
	}
	payload := map[string]interface{}{
		"action":      string(res.Action),
		"from_status": res.PreviousStatus,
		"to_status":   res.NewStatus,
		"from_step":   res.PreviousStepIndex,
		"to_step":     res.NewStepIndex,
		"advanced":    res.Advanced,
		"terminal":    res.Terminal,
		"operator":    res.LogEntry.OperatorID,
		"signed":      out.signed,
	}

	var evt *event.Event
	if parent != nil {
		evt = parent.Follow(t, res.Item.ID, payload)
	} else {
		evt = event.NewItemEvent(t, res.Item.ID, payload)
	}
	w.dispatcher.PublishAsync(ctx, evt)

	if out.stale {
		w.dispatcher.PublishAsync(ctx, evt.Follow(event.TypeVisibilityStale, res.Item.ID, nil))
	}
}
