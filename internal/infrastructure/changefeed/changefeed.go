// Package changefeed delivers row change notifications to subscribers. Delivery is
// best-effort: slow subscribers lose notifications instead of blocking publishers.
package changefeed

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/garyjia/procurement-workflow/internal/application/port"
)

// DefaultBufferSize is the per-subscriber channel capacity
const DefaultBufferSize = 64

var (
	// ErrUnknownTable is returned when subscribing or publishing to a table without a feed
	ErrUnknownTable = errors.New("unknown change table")

	// ErrClosed is returned after Close
	ErrClosed = errors.New("change feed is closed")
)

var tables = []string{port.TableTemplates, port.TableInstances, port.TableSteps}

// topicsFor expands an empty table to every table
func topicsFor(table string) ([]string, error) {
	if table == "" {
		return tables, nil
	}
	for _, t := range tables {
		if t == table {
			return []string{table}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
}

func encode(change port.Change) ([]byte, error) {
	if change.Table == "" {
		return nil, fmt.Errorf("%w: table is required", ErrUnknownTable)
	}
	if _, err := topicsFor(change.Table); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(change)
	if err != nil {
		return nil, fmt.Errorf("failed to encode change: %w", err)
	}
	return payload, nil
}

func decode(payload []byte) (port.Change, error) {
	var change port.Change
	if err := json.Unmarshal(payload, &change); err != nil {
		return port.Change{}, fmt.Errorf("failed to decode change: %w", err)
	}
	return change, nil
}

// offer delivers without blocking; it reports whether the change was delivered
func offer(out chan<- port.Change, change port.Change) bool {
	select {
	case out <- change:
		return true
	default:
		return false
	}
}
