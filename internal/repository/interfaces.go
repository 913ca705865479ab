package repository

import (
	"context"
	"time"

	"collectord/internal/model"
)

// JournalRepository stores the history of action transitions.
type JournalRepository interface {
	// Record appends one event.
	Record(ctx context.Context, ev model.ActionEvent) error

	// List returns events newest first, and the total matching count.
	List(ctx context.Context, f JournalFilter) ([]model.ActionEvent, int64, error)

	// Prune deletes events created before cutoff.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)

	Ping(ctx context.Context) error

	Close() error
}

// JournalFilter narrows a List call. Empty fields match everything.
type JournalFilter struct {
	ItemID   string
	ActionID string
	Limit    int
	Offset   int
}
