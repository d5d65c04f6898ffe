/*
lifecycle.go - Budget state machine operations

PURPOSE:
  All budget transitions live here: submit, approve, reject, baseline
  selection, locking, and revision creation. Each operation loads the
  aggregate, checks the current state, applies the change, and saves
  under the optimistic version token - all inside one store transaction
  so cancellation or conflict leaves no transition half-applied.

BASELINE SWAP:
  SetAsBaseline demotes the project's current Baseline back to Approved
  and promotes the target in the same transaction. There is never a
  window with zero or two active baselines.

FAILURE CONTRACT:
  - Wrong current state           -> evm.InvalidTransitionError
  - Guard failure (empty items..) -> typed evm.Error with a code
  - Stale version                 -> evm.ErrConcurrencyConflict (retryable)
  Nothing is silently ignored.

SEE ALSO:
  - budget.go: Aggregate and invariants
  - evm/errors.go: Error taxonomy
*/
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/evm-engine/evm"
)

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	Store TxStore
	Audit evm.AuditLog
}

func NewService(store TxStore, audit evm.AuditLog) *Service {
	return &Service{Store: store, Audit: audit}
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Submit moves a Draft budget with at least one item to Submitted.
func (s *Service) Submit(ctx context.Context, id string, actor string) (*Budget, error) {
	return s.transition(ctx, id, actor, "submit", func(b *Budget) error {
		if b.State != StateDraft {
			return evm.NewInvalidTransition("budget", string(b.State), string(StateSubmitted))
		}
		if len(b.Items) == 0 {
			return evm.ValidationError(evm.CodeEmptyBudget,
				"budget %s has no items; add at least one before submitting", b.ID)
		}
		b.State = StateSubmitted
		return nil
	})
}

// Approve moves a Submitted budget to Approved.
func (s *Service) Approve(ctx context.Context, id string, actor string) (*Budget, error) {
	return s.transition(ctx, id, actor, "approve", func(b *Budget) error {
		if b.State != StateSubmitted {
			return evm.NewInvalidTransition("budget", string(b.State), string(StateApproved))
		}
		b.State = StateApproved
		return nil
	})
}

// Reject moves a Submitted budget to Rejected. A reason is mandatory.
func (s *Service) Reject(ctx context.Context, id string, actor, reason string) (*Budget, error) {
	if reason == "" {
		return nil, evm.ValidationError(evm.CodeMissingReason, "rejecting budget %s requires a reason", id)
	}
	return s.transition(ctx, id, actor, "reject", func(b *Budget) error {
		if b.State != StateSubmitted {
			return evm.NewInvalidTransition("budget", string(b.State), string(StateRejected))
		}
		b.State = StateRejected
		b.RejectionReason = reason
		return nil
	})
}

// Reopen moves a Rejected budget back to Draft for resubmission.
func (s *Service) Reopen(ctx context.Context, id string, actor string) (*Budget, error) {
	return s.transition(ctx, id, actor, "reopen", func(b *Budget) error {
		if b.State != StateRejected {
			return evm.NewInvalidTransition("budget", string(b.State), string(StateDraft))
		}
		b.State = StateDraft
		b.RejectionReason = ""
		return nil
	})
}

// SetAsBaseline promotes an Approved budget to Baseline, demoting any
// current Baseline of the same project to Approved in the same
// transaction. Exactly one Baseline per project, always.
func (s *Service) SetAsBaseline(ctx context.Context, id string, actor string) (*Budget, error) {
	var result *Budget
	err := s.Store.WithTx(ctx, func(tx Store) error {
		b, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if b.State != StateApproved {
			return evm.NewInvalidTransition("budget", string(b.State), string(StateBaseline))
		}

		siblings, err := tx.ByProject(ctx, string(b.ProjectID))
		if err != nil {
			return err
		}
		for _, sib := range siblings {
			if sib.ID == b.ID || sib.State != StateBaseline {
				continue
			}
			sib.State = StateApproved
			sib.UpdatedAt = evm.Today()
			if err := tx.Save(ctx, sib); err != nil {
				return err
			}
		}

		b.State = StateBaseline
		b.UpdatedAt = evm.Today()
		if err := tx.Save(ctx, b); err != nil {
			return err
		}
		result = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, result, actor, "baseline")
	return result, nil
}

// Lock freezes a Baseline budget. Terminal: item edits are rejected
// from here on; only CreateRevision supersedes it.
func (s *Service) Lock(ctx context.Context, id string, actor string) (*Budget, error) {
	return s.transition(ctx, id, actor, "lock", func(b *Budget) error {
		if b.State != StateBaseline {
			return evm.NewInvalidTransition("budget", string(b.State), string(StateLocked))
		}
		b.State = StateLocked
		return nil
	})
}

// =============================================================================
// ITEMS
// =============================================================================

// AddItem appends a budget line. Items only mutate in Draft.
func (s *Service) AddItem(ctx context.Context, id string, actor string, item Item) (*Budget, error) {
	return s.transition(ctx, id, actor, "add_item", func(b *Budget) error {
		if err := ensureEditable(b); err != nil {
			return err
		}
		if item.Quantity.IsNegative() || item.UnitRate.IsNegative() {
			return evm.ValidationError(evm.CodeInvalidAmount,
				"budget %s: item quantity and unit rate must not be negative", b.ID)
		}
		if item.UnitRate.Currency == "" {
			item.UnitRate.Currency = b.Currency
		}
		b.Items = append(b.Items, item)
		return nil
	})
}

// RemoveItem removes a budget line by item id. Items only mutate in Draft.
func (s *Service) RemoveItem(ctx context.Context, id string, actor string, itemID string) (*Budget, error) {
	return s.transition(ctx, id, actor, "remove_item", func(b *Budget) error {
		if err := ensureEditable(b); err != nil {
			return err
		}
		for i, it := range b.Items {
			if it.ID == itemID {
				b.Items = append(b.Items[:i], b.Items[i+1:]...)
				return nil
			}
		}
		return evm.NotFoundError("budget item", itemID)
	})
}

func ensureEditable(b *Budget) error {
	if b.CanEditItems() {
		return nil
	}
	if b.State == StateLocked {
		return evm.BusinessRuleViolation(evm.CodeLockedBudget,
			"budget %s is locked; create a revision instead of editing items", b.ID)
	}
	return evm.NewInvalidTransition("budget", string(b.State), "edit_items")
}

// =============================================================================
// REVISIONS
// =============================================================================

// CreateRevision snapshots a Locked budget's total into an immutable
// Revision entry and produces a new Draft budget seeded from the locked
// one. The locked budget keeps its state and history.
func (s *Service) CreateRevision(ctx context.Context, id string, actor, reason string) (*Budget, error) {
	if reason == "" {
		return nil, evm.ValidationError(evm.CodeMissingReason, "revising budget %s requires a reason", id)
	}

	var successor *Budget
	err := s.Store.WithTx(ctx, func(tx Store) error {
		b, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if b.State != StateLocked {
			return evm.NewInvalidTransition("budget", string(b.State), "create_revision")
		}

		now := evm.Today()
		rev := Revision{
			ID:             fmt.Sprintf("rev-%s-%d", b.ID, time.Now().UnixNano()),
			RevisionNumber: len(b.Revisions) + 1,
			PriorTotal:     b.TotalAmount(),
			Reason:         reason,
			CreatedBy:      actor,
			CreatedAt:      now,
		}
		b.Revisions = append(b.Revisions, rev)
		b.UpdatedAt = now
		if err := tx.Save(ctx, b); err != nil {
			return err
		}

		items := make([]Item, len(b.Items))
		copy(items, b.Items)
		successor = &Budget{
			ID:         evm.BudgetID(fmt.Sprintf("%s-r%d", b.ID, rev.RevisionNumber)),
			ProjectID:  b.ProjectID,
			Name:       b.Name,
			Currency:   b.Currency,
			State:      StateDraft,
			Items:      items,
			SeededFrom: b.ID,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		return tx.Create(ctx, successor)
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, successor, actor, "revision")
	return successor, nil
}

// =============================================================================
// BASELINE PROVIDER - Adapter for the report builder
// =============================================================================

// ActiveBaseline implements evm.BaselineProvider: the sanctioned plan of
// the project, or ErrNotFound. A Baseline budget always wins; a Locked
// budget carries the sanctioned plan only until a revision successor is
// itself promoted, after which the locked predecessor is history.
func (s *Service) ActiveBaseline(ctx context.Context, projectID evm.ProjectID) (*evm.BaselineInfo, error) {
	budgets, err := s.Store.ByProject(ctx, string(projectID))
	if err != nil {
		return nil, err
	}

	superseded := make(map[evm.BudgetID]bool)
	for _, b := range budgets {
		if b.SeededFrom != "" && (b.State == StateBaseline || b.State == StateLocked) {
			superseded[b.SeededFrom] = true
		}
	}

	var locked *Budget
	for _, b := range budgets {
		switch b.State {
		case StateBaseline:
			return &evm.BaselineInfo{BudgetID: b.ID, Total: b.TotalAmount()}, nil
		case StateLocked:
			if locked == nil && !superseded[b.ID] {
				locked = b
			}
		}
	}
	if locked != nil {
		return &evm.BaselineInfo{BudgetID: locked.ID, Total: locked.TotalAmount()}, nil
	}
	return nil, evm.NotFoundError("baseline budget for project", projectID)
}

// =============================================================================
// INTERNALS
// =============================================================================

func (s *Service) transition(ctx context.Context, id, actor, action string, apply func(*Budget) error) (*Budget, error) {
	var result *Budget
	err := s.Store.WithTx(ctx, func(tx Store) error {
		b, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := apply(b); err != nil {
			return err
		}
		b.UpdatedAt = evm.Today()
		if err := tx.Save(ctx, b); err != nil {
			return err
		}
		result = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, result, actor, action)
	return result, nil
}

func (s *Service) audit(ctx context.Context, b *Budget, actor, action string) {
	if s.Audit == nil || b == nil {
		return
	}
	// Audit is best-effort; the transition itself already committed.
	_ = s.Audit.Append(ctx, evm.AuditEntry{
		ID:      fmt.Sprintf("audit-budget-%s-%d", b.ID, time.Now().UnixNano()),
		At:      evm.Today(),
		ActorID: actor,
		Action:  evm.AuditBudgetTransition,
		Payload: map[string]any{"budget_id": string(b.ID), "action": action, "state": string(b.State)},
	})
}
