package storage

import "context"

// Journal is a write-only audit trail of order and cancel-all attempts.
// Nothing is read back from it at startup.
type Journal interface {
	RecordOrder(ctx context.Context, entry OrderEntry) error
	RecordCancel(ctx context.Context, entry CancelEntry) error
	Close() error
}

// Nop discards every entry.
type Nop struct{}

func (Nop) RecordOrder(context.Context, OrderEntry) error   { return nil }
func (Nop) RecordCancel(context.Context, CancelEntry) error { return nil }
func (Nop) Close() error                                    { return nil }
