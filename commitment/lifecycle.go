/*
lifecycle.go - Commitment state machine operations

PURPOSE:
  All commitment transitions live here: submission, approval,
  activation, amount revisions, invoice recording, close, cancel, and
  guarded deletion. Every operation runs load-check-apply-save inside
  one store transaction under the optimistic version token.

GUARDS:
  - Revise below InvoicedAmount   -> BusinessRule(RevisionBelowInvoiced)
  - Invoice past RevisedAmount    -> BusinessRule(OverInvoice)
  - Delete while Active/invoiced  -> BusinessRule(CannotDeleteActiveOrInvoiced)
  Every guard returns a typed, coded error; never a bare boolean, and
  the aggregate is left untouched on failure.

SEE ALSO:
  - commitment.go: Aggregate and invariants
  - evm/errors.go: Error taxonomy
*/
package commitment

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

// SubmitForApproval moves a Draft commitment to PendingApproval.
func (s *Service) SubmitForApproval(ctx context.Context, id string, actor string) (*Commitment, error) {
	return s.transition(ctx, id, actor, "submit", func(c *Commitment) error {
		if c.State != StateDraft {
			return evm.NewInvalidTransition("commitment", string(c.State), string(StatePendingApproval))
		}
		c.State = StatePendingApproval
		return nil
	})
}

// Approve moves a PendingApproval commitment to Approved.
func (s *Service) Approve(ctx context.Context, id string, actor string) (*Commitment, error) {
	return s.transition(ctx, id, actor, "approve", func(c *Commitment) error {
		if c.State != StatePendingApproval {
			return evm.NewInvalidTransition("commitment", string(c.State), string(StateApproved))
		}
		c.State = StateApproved
		return nil
	})
}

// Reject moves a PendingApproval commitment to Rejected.
func (s *Service) Reject(ctx context.Context, id string, actor, reason string) (*Commitment, error) {
	if reason == "" {
		return nil, evm.ValidationError(evm.CodeMissingReason, "rejecting commitment %s requires a reason", id)
	}
	return s.transition(ctx, id, actor, "reject", func(c *Commitment) error {
		if c.State != StatePendingApproval {
			return evm.NewInvalidTransition("commitment", string(c.State), string(StateRejected))
		}
		c.State = StateRejected
		c.RejectionReason = reason
		return nil
	})
}

// Reopen moves a Rejected commitment back to Draft.
func (s *Service) Reopen(ctx context.Context, id string, actor string) (*Commitment, error) {
	return s.transition(ctx, id, actor, "reopen", func(c *Commitment) error {
		if c.State != StateRejected {
			return evm.NewInvalidTransition("commitment", string(c.State), string(StateDraft))
		}
		c.State = StateDraft
		c.RejectionReason = ""
		return nil
	})
}

// Activate moves an Approved commitment to Active. RevisedAmount starts
// at the original contracted amount.
func (s *Service) Activate(ctx context.Context, id string, actor string) (*Commitment, error) {
	return s.transition(ctx, id, actor, "activate", func(c *Commitment) error {
		if c.State != StateApproved {
			return evm.NewInvalidTransition("commitment", string(c.State), string(StateActive))
		}
		c.State = StateActive
		if c.RevisedAmount.IsZero() {
			c.RevisedAmount = c.OriginalAmount
		}
		return nil
	})
}

// Revise changes the committed amount of an Active commitment. The new
// amount can never drop below what has already been invoiced. On
// success an immutable Revision entry is appended and the commitment
// stays Active.
func (s *Service) Revise(ctx context.Context, id string, actor string, newAmount evm.Money, reason string) (*Commitment, error) {
	return s.transition(ctx, id, actor, "revise", func(c *Commitment) error {
		if c.State != StateActive {
			return evm.NewInvalidTransition("commitment", string(c.State), "revise")
		}
		if newAmount.LessThan(c.InvoicedAmount) {
			return evm.BusinessRuleViolation(evm.CodeRevisionBelowInvoiced,
				"commitment %s: new amount %s below invoiced %s", c.ID, newAmount, c.InvoicedAmount)
		}

		rev := Revision{
			ID:             fmt.Sprintf("crev-%s-%d", c.ID, time.Now().UnixNano()),
			RevisionNumber: len(c.Revisions) + 1,
			OldAmount:      c.RevisedAmount,
			NewAmount:      newAmount,
			Reason:         reason,
			CreatedBy:      actor,
			CreatedAt:      evm.Today(),
		}
		c.Revisions = append(c.Revisions, rev)
		c.RevisedAmount = newAmount
		return nil
	})
}

// RecordInvoice records an invoice against an Active commitment. The
// invoiced total can never exceed the revised amount.
func (s *Service) RecordInvoice(ctx context.Context, id string, actor string, amount evm.Money, reference string) (*Commitment, error) {
	return s.transition(ctx, id, actor, "invoice", func(c *Commitment) error {
		if c.State != StateActive {
			return evm.NewInvalidTransition("commitment", string(c.State), "record_invoice")
		}
		if !amount.IsPositive() {
			return evm.ValidationError(evm.CodeInvalidAmount,
				"commitment %s: invoice amount must be positive, got %s", c.ID, amount)
		}
		newTotal := c.InvoicedAmount.Add(amount)
		if newTotal.GreaterThan(c.RevisedAmount) {
			return evm.BusinessRuleViolation(evm.CodeOverInvoice,
				"commitment %s: invoicing %s would exceed revised amount %s (already invoiced %s)",
				c.ID, amount, c.RevisedAmount, c.InvoicedAmount)
		}

		c.Invoices = append(c.Invoices, Invoice{
			ID:         fmt.Sprintf("inv-%s-%d", c.ID, time.Now().UnixNano()),
			Amount:     amount,
			Reference:  reference,
			RecordedBy: actor,
			RecordedAt: evm.Today(),
		})
		c.InvoicedAmount = newTotal
		return nil
	})
}

// Close moves an Active commitment to Closed. This is the defined exit
// for commitments that carry invoices.
func (s *Service) Close(ctx context.Context, id string, actor string) (*Commitment, error) {
	return s.transition(ctx, id, actor, "close", func(c *Commitment) error {
		if c.State != StateActive {
			return evm.NewInvalidTransition("commitment", string(c.State), string(StateClosed))
		}
		c.State = StateClosed
		return nil
	})
}

// Cancel moves an Active commitment to Cancelled. A reason is mandatory.
func (s *Service) Cancel(ctx context.Context, id string, actor, reason string) (*Commitment, error) {
	if reason == "" {
		return nil, evm.ValidationError(evm.CodeMissingReason, "cancelling commitment %s requires a reason", id)
	}
	return s.transition(ctx, id, actor, "cancel", func(c *Commitment) error {
		if c.State != StateActive {
			return evm.NewInvalidTransition("commitment", string(c.State), string(StateCancelled))
		}
		c.State = StateCancelled
		c.CancellationReason = reason
		return nil
	})
}

// Delete removes a commitment. Hard precondition: no invoices recorded
// and not Active. An invoiced or active commitment is never silently
// deleted - it must be closed or cancelled through its transition.
func (s *Service) Delete(ctx context.Context, id string, actor string) error {
	err := s.Store.WithTx(ctx, func(tx Store) error {
		c, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if !c.CanDelete() {
			return evm.BusinessRuleViolation(evm.CodeCannotDeleteActiveOrInvoiced,
				"commitment %s cannot be deleted: state %s, invoiced %s", c.ID, c.State, c.InvoicedAmount)
		}
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.auditRaw(ctx, id, actor, "delete", "deleted")
	return nil
}

// =============================================================================
// INTERNALS
// =============================================================================

func (s *Service) transition(ctx context.Context, id, actor, action string, apply func(*Commitment) error) (*Commitment, error) {
	var result *Commitment
	err := s.Store.WithTx(ctx, func(tx Store) error {
		c, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := apply(c); err != nil {
			return err
		}
		c.UpdatedAt = evm.Today()
		if err := tx.Save(ctx, c); err != nil {
			return err
		}
		result = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.auditRaw(ctx, id, actor, action, string(result.State))
	return result, nil
}

func (s *Service) auditRaw(ctx context.Context, id, actor, action, state string) {
	if s.Audit == nil {
		return
	}
	act := evm.AuditCommitmentTransition
	if action == "invoice" {
		act = evm.AuditInvoiceRecorded
	}
	// Best-effort; the transition already committed.
	_ = s.Audit.Append(ctx, evm.AuditEntry{
		ID:      fmt.Sprintf("audit-commitment-%s-%d", id, time.Now().UnixNano()),
		At:      evm.Today(),
		ActorID: actor,
		Action:  act,
		Payload: map[string]any{"commitment_id": id, "action": action, "state": state},
	})
}
