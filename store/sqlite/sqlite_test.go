package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/evm-engine/budget"
	"github.com/warp/evm-engine/commitment"
	"github.com/warp/evm-engine/evm"
	"github.com/warp/evm-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func usd(amount int64) evm.Money {
	return evm.NewMoneyFromInt(amount, "USD")
}

func date(year int, month time.Month, day int) evm.TimePoint {
	return evm.NewTimePoint(year, month, day)
}

// =============================================================================
// BUDGET PERSISTENCE
// =============================================================================

func TestSQLite_BudgetRoundTrip(t *testing.T) {
	// GIVEN: A draft budget with items and a revision entry
	// WHEN: Created and read back
	// THEN: Every field survives, amounts exact, version starts at 1

	store := newTestStore(t)
	budgets := store.Budgets()
	ctx := context.Background()

	b := &budget.Budget{
		ID:        "bud-1",
		ProjectID: "proj-1",
		Name:      "Refinery Expansion",
		Currency:  "USD",
		State:     budget.StateDraft,
		Items: []budget.Item{
			{ID: "piping", Description: "Piping", Quantity: decimal.NewFromInt(10), UnitRate: usd(500)},
			{ID: "valves", Description: "Valves", Quantity: decimal.NewFromFloat(2.5), UnitRate: usd(1200)},
		},
		CreatedAt: date(2026, time.January, 1),
		UpdatedAt: date(2026, time.January, 1),
	}
	require.NoError(t, budgets.Create(ctx, b))
	assert.Equal(t, int64(1), b.Version)

	got, err := budgets.Get(ctx, "bud-1")
	require.NoError(t, err)
	assert.Equal(t, b.Name, got.Name)
	assert.Equal(t, budget.StateDraft, got.State)
	require.Len(t, got.Items, 2)
	assert.True(t, got.Items[1].Quantity.Equal(decimal.NewFromFloat(2.5)))
	assert.True(t, got.TotalAmount().Equal(usd(8000)), "10x500 + 2.5x1200")
	assert.Equal(t, int64(1), got.Version)
}

func TestSQLite_BudgetVersionConflict(t *testing.T) {
	// GIVEN: Two readers holding version 1 of the same budget
	// WHEN: Both save
	// THEN: The second save is rejected as a retryable conflict

	store := newTestStore(t)
	budgets := store.Budgets()
	ctx := context.Background()

	b := &budget.Budget{ID: "bud-1", ProjectID: "proj-1", Name: "n", Currency: "USD",
		State: budget.StateDraft, CreatedAt: evm.Today(), UpdatedAt: evm.Today()}
	require.NoError(t, budgets.Create(ctx, b))

	first, err := budgets.Get(ctx, "bud-1")
	require.NoError(t, err)
	second, err := budgets.Get(ctx, "bud-1")
	require.NoError(t, err)

	first.Name = "winner"
	require.NoError(t, budgets.Save(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.Name = "loser"
	err = budgets.Save(ctx, second)
	require.Error(t, err)
	assert.True(t, evm.IsRetryable(err))

	got, err := budgets.Get(ctx, "bud-1")
	require.NoError(t, err)
	assert.Equal(t, "winner", got.Name)
}

func TestSQLite_BudgetWithTxRollsBack(t *testing.T) {
	// GIVEN: A transaction that saves and then fails
	// WHEN: WithTx returns the error
	// THEN: The save is not visible

	store := newTestStore(t)
	budgets := store.Budgets()
	ctx := context.Background()

	b := &budget.Budget{ID: "bud-1", ProjectID: "proj-1", Name: "original", Currency: "USD",
		State: budget.StateDraft, CreatedAt: evm.Today(), UpdatedAt: evm.Today()}
	require.NoError(t, budgets.Create(ctx, b))

	err := budgets.WithTx(ctx, func(tx budget.Store) error {
		inner, err := tx.Get(ctx, "bud-1")
		if err != nil {
			return err
		}
		inner.Name = "mutated"
		if err := tx.Save(ctx, inner); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	got, err := budgets.Get(ctx, "bud-1")
	require.NoError(t, err)
	assert.Equal(t, "original", got.Name)
	assert.Equal(t, int64(1), got.Version)
}

// =============================================================================
// COMMITMENT PERSISTENCE
// =============================================================================

func TestSQLite_CommitmentRoundTripWithTrails(t *testing.T) {
	// GIVEN: A commitment carrying items, allocations, revisions, invoices
	// WHEN: Created, saved, and read back
	// THEN: All four lists survive the JSON side-car columns

	store := newTestStore(t)
	commitments := store.Commitments()
	ctx := context.Background()

	c := &commitment.Commitment{
		ID:             "po-1",
		ProjectID:      "proj-1",
		ContractorID:   "vendor-7",
		Name:           "Structural Steel",
		Currency:       "USD",
		State:          commitment.StateActive,
		OriginalAmount: usd(50000),
		RevisedAmount:  usd(65000),
		InvoicedAmount: usd(30000),
		Items: []commitment.Item{
			{ID: "steel", Description: "Steel", Quantity: decimal.NewFromInt(100), UnitRate: usd(500)},
		},
		Allocations: []commitment.WorkPackageAllocation{
			{NodeID: "wp-1", Amount: usd(40000)},
			{NodeID: "wp-2", Amount: usd(25000)},
		},
		Revisions: []commitment.Revision{
			{ID: "crev-1", RevisionNumber: 1, OldAmount: usd(50000), NewAmount: usd(65000),
				Reason: "change order", CreatedBy: "pm-1", CreatedAt: date(2026, time.February, 1)},
		},
		Invoices: []commitment.Invoice{
			{ID: "inv-1", Amount: usd(30000), Reference: "INV-001",
				RecordedBy: "ap-1", RecordedAt: date(2026, time.March, 1)},
		},
		CreatedAt: date(2026, time.January, 1),
		UpdatedAt: date(2026, time.March, 1),
	}
	require.NoError(t, commitments.Create(ctx, c))

	got, err := commitments.Get(ctx, "po-1")
	require.NoError(t, err)
	assert.Equal(t, commitment.StateActive, got.State)
	assert.True(t, got.CommittedBalance().Equal(usd(35000)))
	require.Len(t, got.Allocations, 2)
	assert.Equal(t, evm.NodeID("wp-1"), got.Allocations[0].NodeID)
	require.Len(t, got.Revisions, 1)
	assert.True(t, got.Revisions[0].NewAmount.Equal(usd(65000)))
	require.Len(t, got.Invoices, 1)
	assert.Equal(t, "INV-001", got.Invoices[0].Reference)
}

func TestSQLite_CommitmentDelete(t *testing.T) {
	store := newTestStore(t)
	commitments := store.Commitments()
	ctx := context.Background()

	c := &commitment.Commitment{ID: "po-1", ProjectID: "proj-1", Name: "n", Currency: "USD",
		State: commitment.StateDraft, OriginalAmount: usd(1000),
		CreatedAt: evm.Today(), UpdatedAt: evm.Today()}
	require.NoError(t, commitments.Create(ctx, c))
	require.NoError(t, commitments.Delete(ctx, "po-1"))

	_, err := commitments.Get(ctx, "po-1")
	assert.True(t, evm.IsNotFound(err))
}

// =============================================================================
// HIERARCHY NODES
// =============================================================================

func TestSQLite_NodeUpsertAndProjectListing(t *testing.T) {
	// GIVEN: Nodes across two projects, one updated in place
	// WHEN: Queried per project and across projects
	// THEN: Upsert replaces, ProjectNodes scopes, Projects lists distinct

	store := newTestStore(t)
	ctx := context.Background()

	n := &evm.HierarchyNode{
		ID: "wp-1", ProjectID: "proj-1", Name: "Piping", Level: evm.LevelWorkPackage,
		BAC: usd(100000), PercentComplete: evm.NewPercent(40), ActualCost: usd(35000),
		Planned:           evm.Period{Start: date(2026, time.January, 1), End: date(2026, time.March, 31)},
		MeasurementMethod: evm.MeasurePercentComplete,
		UnitsPlanned:      decimal.Zero, UnitsComplete: decimal.Zero,
		HasProgress: true,
	}
	require.NoError(t, store.SaveNode(ctx, n))

	n.PercentComplete = evm.NewPercent(55)
	require.NoError(t, store.SaveNode(ctx, n))

	other := &evm.HierarchyNode{
		ID: "wp-9", ProjectID: "proj-2", Name: "Other", Level: evm.LevelWorkPackage,
		BAC: usd(1), MeasurementMethod: evm.MeasurePercentComplete,
		UnitsPlanned: decimal.Zero, UnitsComplete: decimal.Zero,
	}
	require.NoError(t, store.SaveNode(ctx, other))

	got, err := store.Node(ctx, "wp-1")
	require.NoError(t, err)
	assert.True(t, got.PercentComplete.Value.Equal(decimal.NewFromInt(55)), "upsert should replace")
	assert.True(t, got.Planned.Start.Equal(date(2026, time.January, 1)))

	nodes, err := store.ProjectNodes(ctx, "proj-1")
	require.NoError(t, err)
	assert.Len(t, nodes, 1)

	projects, err := store.Projects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []evm.ProjectID{"proj-1", "proj-2"}, projects)
}

// =============================================================================
// EVM RECORD LOG
// =============================================================================

func TestSQLite_RecordLogOrderingAndLatest(t *testing.T) {
	// GIVEN: Records appended out of order, including a same-day
	//   recapture of one data date a few hours after the original
	// WHEN: Queried by range and by latest
	// THEN: Range is ascending by (data date, captured at) with the
	//   intra-day correction ordered after the original; latest picks the
	//   newest capture at or before asOf

	store := newTestStore(t)
	ctx := context.Background()

	mk := func(id string, dataDate evm.TimePoint, capturedAt time.Time, ev int64) evm.EVMRecord {
		fig := evm.AggregatedFigures{PV: usd(ev), EV: usd(ev), AC: usd(ev)}
		return evm.EVMRecord{
			ID: evm.RecordID(id), NodeID: "wp-1", DataDate: dataDate,
			PeriodType: evm.PeriodMonthly, Figures: fig, BAC: usd(100000),
			Metrics:    evm.NewCalculator().Calculate(fig, usd(100000)),
			CapturedAt: capturedAt, CapturedBy: "tester",
		}
	}

	require.NoError(t, store.AppendRecord(ctx, mk("r-feb", date(2026, time.February, 28),
		time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC), 2000)))
	require.NoError(t, store.AppendRecord(ctx, mk("r-jan-fix", date(2026, time.January, 31),
		time.Date(2026, time.February, 1, 14, 30, 0, 0, time.UTC), 1500)))
	require.NoError(t, store.AppendRecord(ctx, mk("r-jan", date(2026, time.January, 31),
		time.Date(2026, time.February, 1, 9, 0, 0, 0, time.UTC), 1000)))

	recs, err := store.RecordsInRange(ctx, "wp-1", date(2026, time.January, 1), date(2026, time.March, 31))
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, evm.RecordID("r-jan"), recs[0].ID)
	assert.Equal(t, evm.RecordID("r-jan-fix"), recs[1].ID)
	assert.Equal(t, evm.RecordID("r-feb"), recs[2].ID)
	assert.True(t, recs[1].Figures.EV.Equal(usd(1500)))

	latest, err := store.LatestRecord(ctx, "wp-1", date(2026, time.February, 28))
	require.NoError(t, err)
	assert.Equal(t, evm.RecordID("r-feb"), latest.ID)

	_, err = store.LatestRecord(ctx, "wp-1", date(2025, time.December, 31))
	assert.True(t, evm.IsNotFound(err))
}

func TestSQLite_RecordPreservesUndefinedRatios(t *testing.T) {
	// GIVEN: A record captured with zero actuals (undefined CPI)
	// WHEN: Read back
	// THEN: The undefined sentinel survives; it does not come back as 0

	store := newTestStore(t)
	ctx := context.Background()

	fig := evm.AggregatedFigures{PV: usd(1000), EV: usd(800), AC: usd(0)}
	rec := evm.EVMRecord{
		ID: "r-1", NodeID: "wp-1", DataDate: date(2026, time.January, 31),
		PeriodType: evm.PeriodMonthly, Figures: fig, BAC: usd(100000),
		Metrics:    evm.NewCalculator().Calculate(fig, usd(100000)),
		CapturedAt: time.Date(2026, time.February, 1, 9, 0, 0, 0, time.UTC), CapturedBy: "tester",
	}
	require.False(t, rec.Metrics.CPI.Defined)
	require.NoError(t, store.AppendRecord(ctx, rec))

	got, err := store.LatestRecord(ctx, "wp-1", date(2026, time.December, 31))
	require.NoError(t, err)
	assert.False(t, got.Metrics.CPI.Defined)
	assert.True(t, got.Metrics.SPI.Defined)
	assert.True(t, got.Metrics.SPI.Value.Equal(decimal.NewFromFloat(0.8)))
}

// =============================================================================
// MANUAL EAC AND AUDIT
// =============================================================================

func TestSQLite_ManualEacUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &evm.ManualEac{NodeID: "wp-1", Value: usd(90000),
		Justification: "vendor re-quote", SetBy: "pm-1", SetAt: date(2026, time.March, 1)}
	require.NoError(t, store.SaveManualEac(ctx, first))

	second := &evm.ManualEac{NodeID: "wp-1", Value: usd(95000),
		Justification: "second re-quote", SetBy: "pm-1", SetAt: date(2026, time.April, 1)}
	require.NoError(t, store.SaveManualEac(ctx, second))

	got, err := store.ManualEacFor(ctx, "wp-1")
	require.NoError(t, err)
	assert.True(t, got.Value.Equal(usd(95000)), "later override replaces")

	_, err = store.ManualEacFor(ctx, "wp-none")
	assert.True(t, evm.IsNotFound(err))
}

func TestSQLite_AuditQueryFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	nodeID := evm.NodeID("wp-1")
	entries := []evm.AuditEntry{
		{ID: "a-1", At: date(2026, time.January, 1), ActorID: "pm-1",
			Action: evm.AuditManualEacSet, NodeID: nodeID,
			Payload: map[string]any{"value": "90000"}},
		{ID: "a-2", At: date(2026, time.January, 2), ActorID: "pm-2",
			Action: evm.AuditBudgetTransition,
			Payload: map[string]any{"budget_id": "bud-1"}},
	}
	for _, e := range entries {
		require.NoError(t, store.Append(ctx, e))
	}

	got, err := store.Query(ctx, evm.AuditFilter{Actions: []evm.AuditAction{evm.AuditManualEacSet}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a-1", got[0].ID)
	assert.Equal(t, nodeID, got[0].NodeID)

	actor := "pm-2"
	got, err = store.Query(ctx, evm.AuditFilter{ActorID: &actor})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a-2", got[0].ID)
}
