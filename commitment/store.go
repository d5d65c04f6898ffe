package commitment

import "context"

// =============================================================================
// STORE - Persistence contract for commitment aggregates
// =============================================================================

// Store persists Commitment aggregates with optimistic concurrency.
// Save returns a wrapped evm.ErrConcurrencyConflict when the aggregate's
// Version does not match the persisted one.
type Store interface {
	Create(ctx context.Context, c *Commitment) error
	Get(ctx context.Context, id string) (*Commitment, error)
	ByProject(ctx context.Context, projectID string) ([]*Commitment, error)
	Save(ctx context.Context, c *Commitment) error

	// Delete removes the aggregate. Lifecycle guards decide whether
	// deletion is permitted; the store just executes it.
	Delete(ctx context.Context, id string) error
}

// TxStore adds atomic multi-write transactions.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
