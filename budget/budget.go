/*
Package budget implements the budget financial lifecycle.

PURPOSE:
  A Budget carries the sanctioned monetary plan for a project: ordered
  items (quantity x unit rate), an immutable revision trail, and a state
  machine from Draft through Baseline to Locked. The active Baseline is
  what the EVM engine reports against.

STATE MACHINE:
  Draft -> Submitted -> {Approved | Rejected}
  Approved -> Baseline
  Baseline -> Locked        (terminal)
  Rejected -> Draft         (resubmission)

KEY INVARIANTS:
  - At most one Baseline budget per project at any time.
  - TotalAmount is always the sum of item extended amounts.
  - Once Locked, items never change; a new revision supersedes instead.

KEY CONCEPTS IN THIS FILE (budget.go):
  - Budget: The aggregate with state, items, revisions, version token
  - Item: Quantity x unit rate line
  - Revision: Immutable audit snapshot of a superseded total

SEE ALSO:
  - lifecycle.go: Transition operations and guards
  - store.go: Persistence contract with optimistic concurrency
*/
package budget

import (
	"github.com/shopspring/decimal"

	"github.com/warp/evm-engine/evm"
)

// =============================================================================
// STATES
// =============================================================================

type State string

const (
	StateDraft     State = "draft"
	StateSubmitted State = "submitted"
	StateApproved  State = "approved"
	StateRejected  State = "rejected"
	StateBaseline  State = "baseline"
	StateLocked    State = "locked"
)

// =============================================================================
// ITEMS AND REVISIONS
// =============================================================================

// Item is one budget line. The extended amount is derived, never stored.
type Item struct {
	ID          string
	Description string
	Quantity    decimal.Decimal
	UnitRate    evm.Money
}

func (i Item) ExtendedAmount() evm.Money { return i.UnitRate.Mul(i.Quantity) }

// Revision is an immutable audit entry recording the total that was in
// force before a locked budget was superseded.
type Revision struct {
	ID             string
	RevisionNumber int
	PriorTotal     evm.Money
	Reason         string
	CreatedBy      string
	CreatedAt      evm.TimePoint
}

// =============================================================================
// BUDGET AGGREGATE
// =============================================================================

type Budget struct {
	ID        evm.BudgetID
	ProjectID evm.ProjectID
	Name      string
	Currency  string
	State     State

	Items     []Item
	Revisions []Revision

	RejectionReason string

	// SeededFrom links a revision successor back to the locked budget
	// it was created from.
	SeededFrom evm.BudgetID

	// Version is the optimistic concurrency token. Stores reject saves
	// whose version does not match the persisted one.
	Version int64

	CreatedAt evm.TimePoint
	UpdatedAt evm.TimePoint
}

// TotalAmount is the sum of item extended amounts.
func (b *Budget) TotalAmount() evm.Money {
	total := evm.ZeroMoney(b.Currency)
	for _, it := range b.Items {
		total = total.Add(it.ExtendedAmount())
	}
	return total
}

// CanEditItems reports whether item-level mutation is permitted. Items
// only change while drafting; every later state freezes them.
func (b *Budget) CanEditItems() bool { return b.State == StateDraft }
