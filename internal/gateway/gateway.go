// Package gateway defines the table/filter persistence interface the automation
// core talks to, plus a gorm-backed implementation.
package gateway

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no row matches the filter.
var ErrNotFound = errors.New("record not found")

// Filter is a set of column equality constraints. A nil value matches NULL.
type Filter map[string]any

// Patch is a set of column assignments.
type Patch map[string]any

// Order is a list of "column [asc|desc]" terms applied in sequence.
type Order []string

// ListOption narrows a List call.
type ListOption func(*listOptions)

type listOptions struct {
	limit  int
	offset int
}

// WithLimit caps the number of returned rows. Zero means unlimited.
func WithLimit(n int) ListOption {
	return func(o *listOptions) { o.limit = n }
}

// WithOffset skips the first n rows.
func WithOffset(n int) ListOption {
	return func(o *listOptions) { o.offset = n }
}

// Gateway is the persistence collaborator consumed by the automation core.
// Implementations must be safe for concurrent use.
type Gateway interface {
	Get(ctx context.Context, table string, filter Filter, dest any) error
	List(ctx context.Context, table string, filter Filter, order Order, dest any, opts ...ListOption) error
	Insert(ctx context.Context, table string, record any) error
	Update(ctx context.Context, table string, filter Filter, patch Patch) (int64, error)
	Delete(ctx context.Context, table string, filter Filter) (int64, error)

	// Increment atomically adds one to column and applies patch in the same statement.
	Increment(ctx context.Context, table string, filter Filter, column string, patch Patch) error
	Count(ctx context.Context, table string, filter Filter) (int64, error)
	// DeleteBefore removes rows whose column is strictly older than cutoff.
	DeleteBefore(ctx context.Context, table, column string, cutoff time.Time) (int64, error)

	// Transaction runs fn against a gateway bound to one transaction. Calls nested
	// inside fn use savepoints.
	Transaction(ctx context.Context, fn func(Gateway) error) error
}
