/*
Package commitment implements the commitment financial lifecycle.

PURPOSE:
  A Commitment is contracted spend against a project: original and
  revised amounts, invoices recorded against it, and an immutable
  revision trail. The state machine guards the monetary invariants -
  a commitment can never be invoiced past its revised amount, and can
  never be revised below what has already been invoiced.

STATE MACHINE:
  Draft -> PendingApproval -> {Approved | Rejected}
  Approved -> Active
  Active -> {revise loop | Closed | Cancelled}
  Rejected -> Draft

KEY INVARIANTS:
  - InvoicedAmount <= RevisedAmount, always.
  - A revision's new amount >= InvoicedAmount.
  - CommittedBalance = RevisedAmount - InvoicedAmount (derived).
  - Deletion only with zero invoices and not Active; otherwise the
    commitment is closed or cancelled through the defined transitions.

SEE ALSO:
  - lifecycle.go: Transition operations and guards
  - store.go: Persistence contract with optimistic concurrency
*/
package commitment

import (
	"github.com/shopspring/decimal"

	"github.com/warp/evm-engine/evm"
)

// =============================================================================
// STATES
// =============================================================================

type State string

const (
	StateDraft           State = "draft"
	StatePendingApproval State = "pending_approval"
	StateApproved        State = "approved"
	StateRejected        State = "rejected"
	StateActive          State = "active"
	StateClosed          State = "closed"
	StateCancelled       State = "cancelled"
)

// =============================================================================
// ITEMS, ALLOCATIONS, REVISIONS, INVOICES
// =============================================================================

// Item is one contracted line on the commitment.
type Item struct {
	ID          string
	Description string
	Quantity    decimal.Decimal
	UnitRate    evm.Money
}

func (i Item) ExtendedAmount() evm.Money { return i.UnitRate.Mul(i.Quantity) }

// WorkPackageAllocation links a share of the committed amount to a
// control account or work package in the hierarchy.
type WorkPackageAllocation struct {
	NodeID evm.NodeID
	Amount evm.Money
}

// Revision is an immutable entry capturing an amount change on an
// active commitment.
type Revision struct {
	ID             string
	RevisionNumber int
	OldAmount      evm.Money
	NewAmount      evm.Money
	Reason         string
	CreatedBy      string
	CreatedAt      evm.TimePoint
}

// Invoice is one recorded invoice against the commitment.
type Invoice struct {
	ID         string
	Amount     evm.Money
	Reference  string
	RecordedBy string
	RecordedAt evm.TimePoint
}

// =============================================================================
// COMMITMENT AGGREGATE
// =============================================================================

type Commitment struct {
	ID           evm.CommitmentID
	ProjectID    evm.ProjectID
	ContractorID string // optional reference-data link
	Name         string
	Currency     string
	State        State

	OriginalAmount evm.Money
	RevisedAmount  evm.Money
	InvoicedAmount evm.Money

	Items       []Item
	Allocations []WorkPackageAllocation
	Revisions   []Revision
	Invoices    []Invoice

	RejectionReason    string
	CancellationReason string

	// Version is the optimistic concurrency token.
	Version int64

	CreatedAt evm.TimePoint
	UpdatedAt evm.TimePoint
}

// CommittedBalance is what remains to be invoiced.
func (c *Commitment) CommittedBalance() evm.Money {
	return c.RevisedAmount.Sub(c.InvoicedAmount)
}

// HasInvoices reports whether any invoice has been recorded.
func (c *Commitment) HasInvoices() bool { return len(c.Invoices) > 0 }

// CanDelete is the hard deletion precondition: no invoices recorded and
// not Active. Everything else goes through Close or Cancel.
func (c *Commitment) CanDelete() bool {
	return !c.HasInvoices() && c.State != StateActive
}
