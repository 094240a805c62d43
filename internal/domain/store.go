package domain

import (
	"context"
	"time"
)

// TradeLedger is the durable, append-only audit trail of trade outcomes.
// No update or delete is exposed.
type TradeLedger interface {
	// Append writes a record and returns its id.
	Append(ctx context.Context, rec TradeRecord) (string, error)
	// ListRecent returns up to limit records, newest first.
	ListRecent(ctx context.Context, limit int) ([]TradeRecord, error)
	// ListBefore returns records entered strictly before the given time,
	// oldest first. Used by the archiver; the ledger itself is never pruned.
	ListBefore(ctx context.Context, before time.Time) ([]TradeRecord, error)
}

// LockManager scopes mutual exclusion by key. The executor acquires one lock
// per symbol so at most one trade execution runs per symbol at a time.
type LockManager interface {
	// Acquire takes the lock for key or returns ErrLockHeld without blocking
	// on a contended key longer than its implementation allows. The returned
	// unlock must be called once the execution reaches a terminal state.
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// EventSink receives in-process notifications about snapshot refreshes and
// executed trades, typically for broadcast to dashboard clients.
type EventSink interface {
	Publish(event string, payload any)
}
