package commitment_test

import (
	"context"
	"errors"
	"testing"

	"github.com/warp/evm-engine/commitment"
	"github.com/warp/evm-engine/evm"
	"github.com/warp/evm-engine/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func usd(amount int64) evm.Money {
	return evm.NewMoneyFromInt(amount, "USD")
}

func newService(t *testing.T) (*commitment.Service, *memory.Commitments) {
	t.Helper()
	store := memory.NewCommitments()
	return commitment.NewService(store, memory.NewEngine()), store
}

func draftCommitment(t *testing.T, store *memory.Commitments, id string, amount int64) *commitment.Commitment {
	t.Helper()
	c := &commitment.Commitment{
		ID:             evm.CommitmentID(id),
		ProjectID:      "proj-1",
		Name:           id,
		Currency:       "USD",
		State:          commitment.StateDraft,
		OriginalAmount: usd(amount),
		CreatedAt:      evm.Today(),
		UpdatedAt:      evm.Today(),
	}
	if err := store.Create(context.Background(), c); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return c
}

func activate(t *testing.T, svc *commitment.Service, id string) *commitment.Commitment {
	t.Helper()
	ctx := context.Background()
	if _, err := svc.SubmitForApproval(ctx, id, "tester"); err != nil {
		t.Fatalf("SubmitForApproval failed: %v", err)
	}
	if _, err := svc.Approve(ctx, id, "tester"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	c, err := svc.Activate(ctx, id, "tester")
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	return c
}

func expectCode(t *testing.T, err error, code string) {
	t.Helper()
	e, ok := evm.AsError(err)
	if !ok || e.Code != code {
		t.Errorf("expected code %s, got %v", code, err)
	}
}

// =============================================================================
// STATE MACHINE
// =============================================================================

func TestCommitment_ActivationSeedsRevisedAmount(t *testing.T) {
	// GIVEN: A draft purchase order over 50,000
	// WHEN: Submitted, approved, and activated
	// THEN: RevisedAmount starts at the original contracted amount and
	//   the full balance is open for invoicing

	svc, store := newService(t)
	draftCommitment(t, store, "po-1", 50000)

	c := activate(t, svc, "po-1")
	if c.State != commitment.StateActive {
		t.Fatalf("expected active, got %s", c.State)
	}
	if !c.RevisedAmount.Equal(usd(50000)) {
		t.Errorf("revised amount %s, want 50000.00 USD", c.RevisedAmount)
	}
	if !c.CommittedBalance().Equal(usd(50000)) {
		t.Errorf("committed balance %s, want 50000.00 USD", c.CommittedBalance())
	}
}

func TestCommitment_RejectedCanBeReopened(t *testing.T) {
	svc, store := newService(t)
	draftCommitment(t, store, "po-1", 50000)
	ctx := context.Background()

	if _, err := svc.SubmitForApproval(ctx, "po-1", "tester"); err != nil {
		t.Fatalf("SubmitForApproval failed: %v", err)
	}
	if _, err := svc.Reject(ctx, "po-1", "tester", "wrong vendor"); err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	c, err := svc.Reopen(ctx, "po-1", "tester")
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	if c.State != commitment.StateDraft || c.RejectionReason != "" {
		t.Errorf("expected clean draft, got state %s reason %q", c.State, c.RejectionReason)
	}
}

func TestCommitment_TransitionsOnlyFromDefinedStates(t *testing.T) {
	svc, store := newService(t)
	draftCommitment(t, store, "po-1", 50000)
	ctx := context.Background()

	if _, err := svc.Approve(ctx, "po-1", "tester"); !evm.IsInvalidTransition(err) {
		t.Errorf("approve from draft: expected invalid transition, got %v", err)
	}
	if _, err := svc.Revise(ctx, "po-1", "tester", usd(60000), "early"); !evm.IsInvalidTransition(err) {
		t.Errorf("revise from draft: expected invalid transition, got %v", err)
	}
	if _, err := svc.Close(ctx, "po-1", "tester"); !evm.IsInvalidTransition(err) {
		t.Errorf("close from draft: expected invalid transition, got %v", err)
	}
}

// =============================================================================
// REVISION GUARD
// =============================================================================

func TestCommitment_CannotReviseBelowInvoiced(t *testing.T) {
	// GIVEN: An active commitment of 50,000 with 30,000 already invoiced
	// WHEN: A revision down to 20,000 is attempted
	// THEN: RevisionBelowInvoiced business rule; the revised amount and
	//   the revision trail are untouched

	svc, store := newService(t)
	draftCommitment(t, store, "po-1", 50000)
	activate(t, svc, "po-1")
	ctx := context.Background()

	if _, err := svc.RecordInvoice(ctx, "po-1", "tester", usd(30000), "INV-001"); err != nil {
		t.Fatalf("RecordInvoice failed: %v", err)
	}

	_, err := svc.Revise(ctx, "po-1", "tester", usd(20000), "descope")
	expectCode(t, err, evm.CodeRevisionBelowInvoiced)

	c, _ := store.Get(ctx, "po-1")
	if !c.RevisedAmount.Equal(usd(50000)) {
		t.Errorf("failed revision mutated the amount: %s", c.RevisedAmount)
	}
	if len(c.Revisions) != 0 {
		t.Errorf("failed revision left a trail entry: %+v", c.Revisions)
	}
}

func TestCommitment_ReviseAppendsTrailEntry(t *testing.T) {
	// GIVEN: An active commitment of 50,000
	// WHEN: Revised up to 65,000
	// THEN: The amount changes and an immutable revision entry records
	//   old and new amounts

	svc, store := newService(t)
	draftCommitment(t, store, "po-1", 50000)
	activate(t, svc, "po-1")
	ctx := context.Background()

	c, err := svc.Revise(ctx, "po-1", "tester", usd(65000), "change order 1")
	if err != nil {
		t.Fatalf("Revise failed: %v", err)
	}
	if !c.RevisedAmount.Equal(usd(65000)) {
		t.Errorf("revised amount %s, want 65000.00 USD", c.RevisedAmount)
	}
	if len(c.Revisions) != 1 {
		t.Fatalf("expected one revision entry, got %d", len(c.Revisions))
	}
	rev := c.Revisions[0]
	if !rev.OldAmount.Equal(usd(50000)) || !rev.NewAmount.Equal(usd(65000)) {
		t.Errorf("revision entry amounts wrong: %+v", rev)
	}
	if rev.Reason != "change order 1" {
		t.Errorf("revision reason %q", rev.Reason)
	}
}

// =============================================================================
// INVOICE GUARD
// =============================================================================

func TestCommitment_CannotInvoicePastRevisedAmount(t *testing.T) {
	// GIVEN: An active commitment of 50,000 with 45,000 invoiced
	// WHEN: A 10,000 invoice is recorded
	// THEN: OverInvoice business rule; invoiced total and invoice list
	//   stay as they were

	svc, store := newService(t)
	draftCommitment(t, store, "po-1", 50000)
	activate(t, svc, "po-1")
	ctx := context.Background()

	if _, err := svc.RecordInvoice(ctx, "po-1", "tester", usd(45000), "INV-001"); err != nil {
		t.Fatalf("RecordInvoice failed: %v", err)
	}

	_, err := svc.RecordInvoice(ctx, "po-1", "tester", usd(10000), "INV-002")
	expectCode(t, err, evm.CodeOverInvoice)

	c, _ := store.Get(ctx, "po-1")
	if !c.InvoicedAmount.Equal(usd(45000)) {
		t.Errorf("failed invoice mutated the total: %s", c.InvoicedAmount)
	}
	if len(c.Invoices) != 1 {
		t.Errorf("failed invoice left an entry: %d", len(c.Invoices))
	}

	// Invoicing exactly up to the revised amount is allowed.
	c, err = svc.RecordInvoice(ctx, "po-1", "tester", usd(5000), "INV-003")
	if err != nil {
		t.Fatalf("invoice to the exact limit failed: %v", err)
	}
	if !c.CommittedBalance().IsZero() {
		t.Errorf("balance should be zero at the limit, got %s", c.CommittedBalance())
	}
}

func TestCommitment_InvoiceMustBePositive(t *testing.T) {
	svc, store := newService(t)
	draftCommitment(t, store, "po-1", 50000)
	activate(t, svc, "po-1")

	_, err := svc.RecordInvoice(context.Background(), "po-1", "tester", usd(0), "INV-000")
	expectCode(t, err, evm.CodeInvalidAmount)
}

// =============================================================================
// DELETION GUARD
// =============================================================================

func TestCommitment_DeleteOnlyWithoutInvoicesAndNotActive(t *testing.T) {
	// GIVEN: A draft commitment, an active one, and a closed one with
	//   invoices
	// WHEN: Deletion is attempted on each
	// THEN: Only the uninvoiced draft may be deleted; the others return
	//   the CannotDeleteActiveOrInvoiced rule

	svc, store := newService(t)
	ctx := context.Background()

	draftCommitment(t, store, "po-draft", 10000)
	if err := svc.Delete(ctx, "po-draft", "tester"); err != nil {
		t.Fatalf("deleting an uninvoiced draft failed: %v", err)
	}
	if _, err := store.Get(ctx, "po-draft"); !errors.Is(err, evm.ErrNotFound) {
		t.Errorf("deleted commitment still present: %v", err)
	}

	draftCommitment(t, store, "po-active", 10000)
	activate(t, svc, "po-active")
	err := svc.Delete(ctx, "po-active", "tester")
	expectCode(t, err, evm.CodeCannotDeleteActiveOrInvoiced)

	draftCommitment(t, store, "po-invoiced", 10000)
	activate(t, svc, "po-invoiced")
	if _, err := svc.RecordInvoice(ctx, "po-invoiced", "tester", usd(2500), "INV-001"); err != nil {
		t.Fatalf("RecordInvoice failed: %v", err)
	}
	if _, err := svc.Close(ctx, "po-invoiced", "tester"); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	err = svc.Delete(ctx, "po-invoiced", "tester")
	expectCode(t, err, evm.CodeCannotDeleteActiveOrInvoiced)

	// The guarded aggregates are still there.
	if _, err := store.Get(ctx, "po-active"); err != nil {
		t.Errorf("guarded commitment vanished: %v", err)
	}
	if _, err := store.Get(ctx, "po-invoiced"); err != nil {
		t.Errorf("guarded commitment vanished: %v", err)
	}
}

// =============================================================================
// CLOSE AND CANCEL
// =============================================================================

func TestCommitment_CancelRequiresReason(t *testing.T) {
	svc, store := newService(t)
	draftCommitment(t, store, "po-1", 50000)
	activate(t, svc, "po-1")
	ctx := context.Background()

	_, err := svc.Cancel(ctx, "po-1", "tester", "")
	expectCode(t, err, evm.CodeMissingReason)

	c, err := svc.Cancel(ctx, "po-1", "tester", "project descoped")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if c.State != commitment.StateCancelled || c.CancellationReason != "project descoped" {
		t.Errorf("unexpected cancel result: state %s reason %q", c.State, c.CancellationReason)
	}
}

func TestCommitment_ClosedIsTerminal(t *testing.T) {
	svc, store := newService(t)
	draftCommitment(t, store, "po-1", 50000)
	activate(t, svc, "po-1")
	ctx := context.Background()

	if _, err := svc.Close(ctx, "po-1", "tester"); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := svc.RecordInvoice(ctx, "po-1", "tester", usd(100), "INV-late"); !evm.IsInvalidTransition(err) {
		t.Errorf("invoice after close: expected invalid transition, got %v", err)
	}
	if _, err := svc.Revise(ctx, "po-1", "tester", usd(60000), "late"); !evm.IsInvalidTransition(err) {
		t.Errorf("revise after close: expected invalid transition, got %v", err)
	}
}
