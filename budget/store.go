package budget

import "context"

// =============================================================================
// STORE - Persistence contract for budget aggregates
// =============================================================================

// Store persists Budget aggregates with optimistic concurrency.
//
// Save compares the aggregate's Version against the persisted one:
// a mismatch returns evm.ErrConcurrencyConflict (wrapped), the caller
// reloads and retries. On success the persisted version is incremented.
type Store interface {
	Create(ctx context.Context, b *Budget) error
	Get(ctx context.Context, id string) (*Budget, error)
	ByProject(ctx context.Context, projectID string) ([]*Budget, error)
	Save(ctx context.Context, b *Budget) error
}

// TxStore adds atomic multi-aggregate writes. SetAsBaseline demotes the
// previous baseline and promotes the new one inside a single WithTx so
// no reader observes zero or two baselines.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error
	// the transaction rolls back; nothing is half-applied.
	WithTx(ctx context.Context, fn func(Store) error) error
}
