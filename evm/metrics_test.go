package evm_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/warp/evm-engine/evm"
)

func figures(pv, ev, ac int64) evm.AggregatedFigures {
	return evm.AggregatedFigures{PV: usd(pv), EV: usd(ev), AC: usd(ac)}
}

func assertRatio(t *testing.T, label string, got evm.Ratio, want string) {
	t.Helper()
	if !got.Defined {
		t.Fatalf("%s: ratio undefined, want %s", label, want)
	}
	w := decimal.RequireFromString(want)
	if got.Value.Sub(w).Abs().GreaterThan(decimal.NewFromFloat(0.0001)) {
		t.Errorf("%s: got %s, want %s", label, got.Value, w)
	}
}

// assertMoneyApprox tolerates the sub-cent residue left by non-terminating
// index divisions (for example CPI = 8/7).
func assertMoneyApprox(t *testing.T, label string, got, want evm.Money) {
	t.Helper()
	if got.Sub(want).Amount.Abs().GreaterThan(decimal.NewFromFloat(0.01)) {
		t.Errorf("%s: got %s, want about %s", label, got, want)
	}
}

// =============================================================================
// VARIANCES AND INDICES
// =============================================================================

func TestCalculate_StandardScenario(t *testing.T) {
	// GIVEN: BAC 100,000 and figures PV 60,000 / EV 80,000 / AC 70,000
	// WHEN: Metrics are calculated with the cost-performance EAC
	// THEN: CV 10,000, SV 20,000, CPI 1.1428.., SPI 1.3333..,
	//   EAC = 70,000 + 20,000 / (80/70) = 87,500, ETC 17,500, VAC 12,500

	calc := evm.NewCalculator()
	m := calc.Calculate(figures(60000, 80000, 70000), usd(100000))

	assertMoney(t, "CV", m.CV, usd(10000))
	assertMoney(t, "SV", m.SV, usd(20000))
	assertRatio(t, "CPI", m.CPI, "1.142857")
	assertRatio(t, "SPI", m.SPI, "1.333333")
	assertMoneyApprox(t, "EAC", m.EAC, usd(87500))
	assertMoneyApprox(t, "ETC", m.ETC, usd(17500))
	assertMoneyApprox(t, "VAC", m.VAC, usd(12500))
}

func TestCalculate_ZeroActualsLeavesCPIUndefined(t *testing.T) {
	// GIVEN: Work earned but nothing spent yet (AC = 0)
	// WHEN: Metrics are calculated
	// THEN: CPI is the undefined sentinel (not NaN, not 1.0) and the EAC
	//   falls back to BAC

	calc := evm.NewCalculator()
	m := calc.Calculate(figures(5000, 4000, 0), usd(100000))

	if m.CPI.Defined {
		t.Errorf("CPI should be undefined with zero AC, got %s", m.CPI.Value)
	}
	if !m.CPI.Value.IsZero() {
		t.Errorf("undefined CPI must carry a zero value, got %s", m.CPI.Value)
	}
	assertMoney(t, "EAC fallback", m.EAC, usd(100000))
	assertMoney(t, "ETC", m.ETC, usd(100000))
}

func TestCalculate_ZeroPlannedLeavesSPIUndefined(t *testing.T) {
	// GIVEN: Nothing planned yet as of the data date (PV = 0)
	// WHEN: Metrics are calculated
	// THEN: SPI is undefined; CV/SV still compute

	calc := evm.NewCalculator()
	m := calc.Calculate(figures(0, 4000, 3000), usd(100000))

	if m.SPI.Defined {
		t.Errorf("SPI should be undefined with zero PV, got %s", m.SPI.Value)
	}
	assertMoney(t, "SV", m.SV, usd(4000))
	assertMoney(t, "CV", m.CV, usd(1000))
}

func TestCalculate_OverrunScenario(t *testing.T) {
	// GIVEN: A project running over cost: EV 40,000 on AC 50,000
	// WHEN: Metrics are calculated against BAC 100,000
	// THEN: CPI < 1 and EAC projects past the budget (negative VAC)

	calc := evm.NewCalculator()
	m := calc.Calculate(figures(45000, 40000, 50000), usd(100000))

	assertRatio(t, "CPI", m.CPI, "0.8")
	// EAC = 50,000 + 60,000 / 0.8 = 125,000
	assertMoney(t, "EAC", m.EAC, usd(125000))
	assertMoney(t, "VAC", m.VAC, usd(-25000))
	if !m.VAC.IsNegative() {
		t.Error("VAC should be negative on a projected overrun")
	}
}

// =============================================================================
// EAC STRATEGIES
// =============================================================================

func TestEacStrategies_Formulas(t *testing.T) {
	// GIVEN: Figures with CPI = 2/3 (AC 60,000, EV 40,000), BAC 100,000
	// WHEN: Each strategy forecasts
	// THEN: CostPerformance: 60,000 + 60,000 / (2/3) = 150,000
	//       BudgetRate:      100,000 / (2/3)         = 150,000
	//   With CPI taken as EV/AC the two formulas agree; they diverge when
	//   callers supply a composite or adjusted CPI.

	fig := figures(45000, 40000, 60000)
	bac := usd(100000)
	cpi := evm.DefinedRatio(decimal.NewFromInt(2).Div(decimal.NewFromInt(3)))

	cp := (evm.CostPerformanceEac{}).EAC(fig, bac, cpi)
	assertMoneyApprox(t, "cost-performance EAC", cp, usd(150000))

	br := (evm.BudgetRateEac{}).EAC(fig, bac, cpi)
	assertMoneyApprox(t, "budget-rate EAC", br, usd(150000))

	// An adjusted CPI (say, management applies a 0.5 haircut) splits them:
	// CostPerformance 60,000 + 60,000/0.5 = 180,000 vs BudgetRate 200,000.
	adjusted := evm.DefinedRatio(decimal.NewFromFloat(0.5))
	assertMoney(t, "adjusted cost-performance EAC",
		(evm.CostPerformanceEac{}).EAC(fig, bac, adjusted), usd(180000))
	assertMoney(t, "adjusted budget-rate EAC",
		(evm.BudgetRateEac{}).EAC(fig, bac, adjusted), usd(200000))

	if (evm.CostPerformanceEac{}).Name() == (evm.BudgetRateEac{}).Name() {
		t.Error("strategies must have distinct names")
	}
}

func TestEacStrategies_UndefinedCPIFallsBackToBAC(t *testing.T) {
	fig := figures(0, 0, 0)
	bac := usd(80000)

	if got := (evm.CostPerformanceEac{}).EAC(fig, bac, evm.UndefinedRatio()); !got.Equal(bac) {
		t.Errorf("cost-performance fallback: got %s, want %s", got, bac)
	}
	if got := (evm.BudgetRateEac{}).EAC(fig, bac, evm.UndefinedRatio()); !got.Equal(bac) {
		t.Errorf("budget-rate fallback: got %s, want %s", got, bac)
	}
}

// =============================================================================
// MANUAL EAC OVERRIDE
// =============================================================================

type fakeManualEacStore struct {
	saved *evm.ManualEac
}

func (f *fakeManualEacStore) SaveManualEac(_ context.Context, m *evm.ManualEac) error {
	f.saved = m
	return nil
}

func (f *fakeManualEacStore) ManualEacFor(_ context.Context, _ evm.NodeID) (*evm.ManualEac, error) {
	if f.saved == nil {
		return nil, evm.NotFoundError("manual eac", "none")
	}
	return f.saved, nil
}

type fakeAuditLog struct {
	entries []evm.AuditEntry
}

func (f *fakeAuditLog) Append(_ context.Context, e evm.AuditEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeAuditLog) Query(_ context.Context, _ evm.AuditFilter) ([]evm.AuditEntry, error) {
	return f.entries, nil
}

func TestSetManualEac_RequiresJustification(t *testing.T) {
	// GIVEN: A manual override without a justification
	// WHEN: Recorded
	// THEN: EmptyJustification validation error; nothing stored

	store := &fakeManualEacStore{}
	svc := &evm.OverrideService{Overrides: store}

	_, err := svc.SetManualEac(context.Background(), "wp-1", usd(90000), "", "pm-1")
	e, ok := evm.AsError(err)
	if !ok || e.Code != evm.CodeEmptyJustification {
		t.Errorf("expected code %s, got %v", evm.CodeEmptyJustification, err)
	}
	if store.saved != nil {
		t.Error("nothing should be stored on validation failure")
	}
}

func TestSetManualEac_RecordsAuditTrail(t *testing.T) {
	// GIVEN: A justified manual override
	// WHEN: Recorded
	// THEN: The figure is stored and an audit entry is appended

	store := &fakeManualEacStore{}
	audit := &fakeAuditLog{}
	svc := &evm.OverrideService{Overrides: store, Audit: audit}

	got, err := svc.SetManualEac(context.Background(), "wp-1", usd(90000), "vendor re-quote", "pm-1")
	if err != nil {
		t.Fatalf("SetManualEac failed: %v", err)
	}
	if got.NodeID != "wp-1" || !got.Value.Equal(usd(90000)) {
		t.Errorf("unexpected override: %+v", got)
	}
	if len(audit.entries) != 1 || audit.entries[0].Action != evm.AuditManualEacSet {
		t.Errorf("expected one manual-eac audit entry, got %+v", audit.entries)
	}
}

func TestSetManualEac_RejectsNegativeValue(t *testing.T) {
	svc := &evm.OverrideService{Overrides: &fakeManualEacStore{}}
	_, err := svc.SetManualEac(context.Background(), "wp-1", usd(-1), "typo", "pm-1")
	e, ok := evm.AsError(err)
	if !ok || e.Code != evm.CodeInvalidAmount {
		t.Errorf("expected code %s, got %v", evm.CodeInvalidAmount, err)
	}
}
