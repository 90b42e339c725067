package service

import (
	"context"

	"github.com/garyjia/procurement-workflow/internal/application/dispatcher"
	"github.com/garyjia/procurement-workflow/internal/application/port"
	"github.com/garyjia/procurement-workflow/internal/domain/event"
)

// ChangePublisher turns committed domain events into row change notifications.
// Publish failures are logged and swallowed.
type ChangePublisher struct {
	notifier port.ChangeNotifier
	logger   Logger
}

// NewChangePublisher creates a ChangePublisher
func NewChangePublisher(notifier port.ChangeNotifier, logger Logger) *ChangePublisher {
	return &ChangePublisher{notifier: notifier, logger: logger}
}

// Register subscribes the publisher to every event type
func (p *ChangePublisher) Register(d dispatcher.Dispatcher) {
	d.SubscribeNamed(dispatcher.AnyType, "change-publisher", p.Handle)
}

// Handle publishes the changes implied by evt. It never returns an error.
func (p *ChangePublisher) Handle(ctx context.Context, evt *event.Event) error {
	for _, change := range ChangesFor(evt) {
		if err := p.notifier.Publish(ctx, change); err != nil {
			p.logger.Warn("Failed to publish change notification",
				"error", err,
				"table", change.Table,
				"row_id", change.RowID,
				"event_type", evt.Type,
			)
		}
	}
	return nil
}

// ChangesFor maps a domain event to the rows it touched
func ChangesFor(evt *event.Event) []port.Change {
	at := evt.Timestamp
	change := func(table, op, rowID string) port.Change {
		return port.Change{Table: table, Op: op, RowID: rowID, At: at}
	}

	switch evt.Type {
	case event.TypeTemplateCreated:
		return []port.Change{change(port.TableTemplates, port.OpInsert, evt.AggregateID)}
	case event.TypeTemplateUpdated, event.TypeTemplateDeactivated,
		event.TypeTemplateStepAdded, event.TypeDefaultChanged:
		return []port.Change{change(port.TableTemplates, port.OpUpdate, evt.AggregateID)}
	case event.TypeInstanceCreated:
		return []port.Change{change(port.TableInstances, port.OpInsert, evt.AggregateID)}
	case event.TypeStepDecided:
		changes := []port.Change{change(port.TableInstances, port.OpUpdate, evt.AggregateID)}
		if stepID := evt.GetPayloadString("step_id"); stepID != "" {
			changes = append(changes, change(port.TableSteps, port.OpUpdate, stepID))
		}
		return changes
	case event.TypeInstanceReconciled:
		return []port.Change{change(port.TableInstances, port.OpUpdate, evt.AggregateID)}
	default:
		// instance.approved and instance.rejected follow a step.decided for the same write
		return nil
	}
}
