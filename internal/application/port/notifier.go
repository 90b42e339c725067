package port

import (
	"context"
	"time"
)

// Tables that emit change notifications
const (
	TableTemplates = "workflow_templates"
	TableInstances = "workflow_instances"
	TableSteps     = "approval_steps"
)

// Change operations
const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
)

// Change tells subscribers that a row changed. It is a refresh hint only: subscribers
// re-read the row through the engine rather than trusting the notification.
type Change struct {
	Table string    `json:"table"`
	Op    string    `json:"op"`
	RowID string    `json:"row_id"`
	At    time.Time `json:"at"`
}

// ChangeNotifier delivers change notifications at most once and without ordering
// guarantees across tables. Losing notifications never breaks engine invariants.
type ChangeNotifier interface {
	Publish(ctx context.Context, change Change) error

	// Subscribe streams changes for one table, or every table when table is empty.
	// The channel closes when ctx is done or unsubscribe is called.
	Subscribe(ctx context.Context, table string) (<-chan Change, func(), error)

	Close() error
}
