/*
store.go - Persistence interfaces for the core engine

PURPOSE:
  Defines the interfaces between the engine and its data store. The
  engine itself is stateless; hierarchy snapshots, EVM records, manual
  EAC figures, and audit entries are persisted behind these interfaces.

APPEND-ONLY CONTRACT:
  RecordStore is append-only: EVMRecords are never updated or deleted.
  A correction is a new record with a later capture time; trend queries
  resolve the latest capture per data date.

IMPLEMENTATIONS:
  - store/memory: In-memory, for tests and development
  - store/sqlite: Production SQLite

SEE ALSO:
  - trend.go: Trend queries built on RecordStore
  - metrics.go: OverrideService uses ManualEacStore and AuditLog
*/
package evm

import "context"

// =============================================================================
// NODE STORE - Hierarchy snapshots supplied by collaborators
// =============================================================================

// NodeStore provides read access to the hierarchy. Nodes are written by
// the structure-definition and progress-recording collaborators, which
// are outside this engine.
type NodeStore interface {
	// Node returns a single node by id.
	Node(ctx context.Context, id NodeID) (*HierarchyNode, error)

	// ProjectNodes returns every node of a project, soft-deleted included.
	ProjectNodes(ctx context.Context, projectID ProjectID) ([]*HierarchyNode, error)
}

// =============================================================================
// RECORD STORE - Append-only EVM snapshot log
// =============================================================================

// RecordStore persists EVMRecords.
//
// INVARIANTS:
//   - Append-only: no Update, no Delete.
//   - Immutable: once written, a record never changes.
//   - Corrections: a new record for the same (node, data date, period
//     type) with a later CapturedAt supersedes for display, but the
//     original stays in the log.
type RecordStore interface {
	// AppendRecord adds a snapshot. This is the only write operation.
	AppendRecord(ctx context.Context, rec EVMRecord) error

	// RecordsInRange returns records for a node with DataDate in
	// [from, to], ascending by DataDate then CapturedAt.
	RecordsInRange(ctx context.Context, nodeID NodeID, from, to TimePoint) ([]EVMRecord, error)

	// LatestRecord returns the most recently captured record for a node
	// at or before asOf, or ErrNotFound.
	LatestRecord(ctx context.Context, nodeID NodeID, asOf TimePoint) (*EVMRecord, error)
}

// =============================================================================
// MANUAL EAC STORE
// =============================================================================

type ManualEacStore interface {
	SaveManualEac(ctx context.Context, m *ManualEac) error
	ManualEacFor(ctx context.Context, nodeID NodeID) (*ManualEac, error)
}

// =============================================================================
// AUDIT LOG - Who did what, when. Append-only.
// =============================================================================

type AuditAction string

const (
	AuditManualEacSet         AuditAction = "manual_eac_set"
	AuditBudgetTransition     AuditAction = "budget_transition"
	AuditBudgetRevision       AuditAction = "budget_revision"
	AuditCommitmentTransition AuditAction = "commitment_transition"
	AuditInvoiceRecorded      AuditAction = "invoice_recorded"
	AuditSnapshotCaptured     AuditAction = "snapshot_captured"
)

type AuditEntry struct {
	ID      string
	At      TimePoint
	ActorID string
	Action  AuditAction
	NodeID  NodeID
	Payload map[string]any
}

type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
	Query(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	NodeID  *NodeID
	ActorID *string
	Actions []AuditAction
	From    *TimePoint
	To      *TimePoint
}
