/*
scenarios_test.go - End-to-end journeys over the real SQLite store

PURPOSE:
	Exercises the full wiring the server runs with: SQLite persistence,
	lifecycle services, rollup, reporting, and the snapshot trend - all
	through the HTTP surface. The unit suites cover each component; these
	tests cover the seams.
*/
package api_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/evm-engine/api"
	"github.com/warp/evm-engine/evm"
	"github.com/warp/evm-engine/store/sqlite"
)

func newSQLiteRouter(t *testing.T) (*chi.Mux, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	h := api.NewHandler(store, store.Budgets(), store.Commitments())
	return api.NewRouter(h), store
}

func TestScenario_ProjectControlJourney(t *testing.T) {
	// GIVEN: A fresh database
	// WHEN: A project is set up end to end - budget drafted, baselined,
	//   and locked; hierarchy loaded; a commitment activated and
	//   invoiced; snapshots captured
	// THEN: The report, the trend, and the budget revision all reflect
	//   the recorded history

	router, _ := newSQLiteRouter(t)

	// Budget: 100,000 sanctioned plan.
	createBudget(t, router, "bud-1", "refinery")
	addItem(t, router, "bud-1", "mechanical", "100", "800")
	addItem(t, router, "bud-1", "electrical", "50", "400")
	bringBudgetToBaseline(t, router, "bud-1")
	rec := do(t, router, "POST", "/api/budgets/bud-1/lock", struct{}{})
	expectStatus(t, rec, http.StatusOK)

	// Hierarchy: project root with two work packages.
	upsertProjectNode(t, router, api.NodeRequest{
		ID: "root", ProjectID: "refinery", Name: "Refinery", Level: "project",
		Currency: "USD", Method: "percent_complete",
	})
	upsertProjectNode(t, router, api.NodeRequest{
		ID: "wp-mech", ProjectID: "refinery", ParentID: "root", Name: "Mechanical",
		Level: "work_package", Currency: "USD", Method: "percent_complete",
		BAC: "80000", PercentComplete: "50", ActualCost: "45000",
		PlannedStart: "2026-01-01", PlannedEnd: "2026-04-30", HasProgress: true,
	})
	upsertProjectNode(t, router, api.NodeRequest{
		ID: "wp-elec", ProjectID: "refinery", ParentID: "root", Name: "Electrical",
		Level: "work_package", Currency: "USD", Method: "milestone",
		BAC: "20000", PlannedStart: "2026-02-01", PlannedEnd: "2026-04-30", HasProgress: true,
		Milestones: []api.MilestoneRequest{
			{Name: "design", Weight: "40", Achieved: true},
			{Name: "install", Weight: "60", Achieved: false},
		},
	})

	// Commitment: steel package against the mechanical scope.
	rec = do(t, router, "POST", "/api/commitments", api.CreateCommitmentRequest{
		ID: "po-steel", ProjectID: "refinery", Name: "Steel Supply",
		Currency: "USD", OriginalAmount: "30000",
	})
	expectStatus(t, rec, http.StatusCreated)
	for _, step := range []string{"submit", "approve", "activate"} {
		rec = do(t, router, "POST", "/api/commitments/po-steel/"+step, struct{}{})
		expectStatus(t, rec, http.StatusOK)
	}
	rec = do(t, router, "POST", "/api/commitments/po-steel/invoices", api.InvoiceRequest{
		Amount: "12000", Reference: "INV-1001",
	})
	expectStatus(t, rec, http.StatusOK)

	// Report at the end of February: project BAC comes from the baseline.
	rec = do(t, router, "GET", "/api/nodes/root/report?asOf=2026-02-28", nil)
	expectStatus(t, rec, http.StatusOK)
	report := decode[api.NineColumnReportDTO](t, rec)
	if report.BAC != "100000" {
		t.Errorf("report BAC %q, want the baseline 100000", report.BAC)
	}
	// EV: 50% of 80,000 + 40% of 20,000 = 48,000.
	if report.EV != "48000" {
		t.Errorf("report EV %q, want 48000", report.EV)
	}
	if report.AC != "45000" {
		t.Errorf("report AC %q, want 45000", report.AC)
	}
	if report.CPI == nil {
		t.Error("CPI should be defined once actuals exist")
	}

	// Monthly snapshots feed the trend.
	for _, d := range []string{"2026-01-31", "2026-02-28"} {
		rec = do(t, router, "POST", "/api/nodes/root/snapshots", api.CaptureSnapshotRequest{
			DataDate: d, PeriodType: "monthly",
		})
		expectStatus(t, rec, http.StatusCreated)
	}
	rec = do(t, router, "GET", "/api/nodes/root/trend?from=2026-01-01&to=2026-03-31", nil)
	expectStatus(t, rec, http.StatusOK)
	series := decode[[]api.EVMRecordDTO](t, rec)
	if len(series) != 2 {
		t.Fatalf("expected 2 trend points, got %d", len(series))
	}
	if series[0].DataDate != "2026-01-31" {
		t.Errorf("first trend point %s, want 2026-01-31", series[0].DataDate)
	}

	// Budget revision: the locked plan is superseded, never edited.
	rec = do(t, router, "POST", "/api/budgets/bud-1/revisions", api.ReasonRequest{
		Reason: "steel escalation",
	})
	expectStatus(t, rec, http.StatusCreated)
	successor := decode[api.BudgetDTO](t, rec)
	if successor.TotalAmount != "100000" {
		t.Errorf("successor seeded total %q, want 100000", successor.TotalAmount)
	}

	// The original stays locked with its revision trail.
	rec = do(t, router, "GET", "/api/budgets/bud-1", nil)
	expectStatus(t, rec, http.StatusOK)
	original := decode[api.BudgetDTO](t, rec)
	if original.State != "locked" || original.Revisions != 1 {
		t.Errorf("original budget state %s revisions %d, want locked/1", original.State, original.Revisions)
	}
}

func TestScenario_SchedulerCapturesBaselinedProjects(t *testing.T) {
	// GIVEN: One baselined project and one without a baseline
	// WHEN: A scheduler pass runs
	// THEN: Only the baselined project gains a snapshot; the other is
	//   skipped without error

	router, store := newSQLiteRouter(t)
	h := api.NewHandler(store, store.Budgets(), store.Commitments())

	createBudget(t, router, "bud-1", "refinery")
	addItem(t, router, "bud-1", "scope", "100", "1000")
	bringBudgetToBaseline(t, router, "bud-1")

	upsertProjectNode(t, router, api.NodeRequest{
		ID: "root", ProjectID: "refinery", Name: "Refinery", Level: "project",
		Currency: "USD", Method: "percent_complete",
	})
	upsertProjectNode(t, router, api.NodeRequest{
		ID: "wp-1", ProjectID: "refinery", ParentID: "root", Name: "Scope",
		Level: "work_package", Currency: "USD", Method: "percent_complete",
		BAC: "100000", PercentComplete: "10", ActualCost: "8000",
		PlannedStart: "2026-01-01", PlannedEnd: "2026-12-31", HasProgress: true,
	})
	// Second project: hierarchy only, no baseline budget.
	upsertProjectNode(t, router, api.NodeRequest{
		ID: "orphan-root", ProjectID: "orphan", Name: "Orphan", Level: "project",
		Currency: "USD", Method: "percent_complete",
	})

	ctx := context.Background()
	scheduler := api.NewSnapshotScheduler(h, store)
	scheduler.CaptureAll(ctx)

	latest, err := store.LatestRecord(ctx, "root", evm.Today())
	if err != nil {
		t.Fatalf("expected a snapshot for the baselined project: %v", err)
	}
	if latest.CapturedBy != "scheduler" {
		t.Errorf("captured by %q, want scheduler", latest.CapturedBy)
	}

	if _, err := store.LatestRecord(ctx, "orphan-root", evm.Today()); !evm.IsNotFound(err) {
		t.Errorf("project without baseline must be skipped, got %v", err)
	}
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	// GIVEN: A started scheduler
	// WHEN: Stop is called twice (shutdown paths can overlap)
	// THEN: The second call is a no-op, not a panic

	_, store := newSQLiteRouter(t)
	h := api.NewHandler(store, store.Budgets(), store.Commitments())

	scheduler := api.NewSnapshotScheduler(h, store)
	scheduler.CheckInterval = time.Hour
	scheduler.Start()
	scheduler.Stop()
	scheduler.Stop()

	// Stop without a prior Start is equally harmless.
	idle := api.NewSnapshotScheduler(h, store)
	idle.Stop()
}
