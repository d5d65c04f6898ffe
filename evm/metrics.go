/*
metrics.go - Variance, index, and forecast calculation

PURPOSE:
  Turns AggregatedFigures plus the baseline BAC into the standard EVM
  metric set. All formulas operate on decimal amounts; division by a
  zero denominator yields an undefined Ratio sentinel, never NaN, never
  a substituted 1.0.

FORECASTS:
  EAC is strategy-selected, not baked in. The default CostPerformanceEac
  assumes current cost performance persists: EAC = AC + (BAC - EV) / CPI.
  BudgetRateEac is the common alternate: EAC = BAC / CPI. Callers pick
  the strategy explicitly per calculation.

MANUAL EAC:
  A manually justified EAC is a separate audited figure. It is recorded
  as an audit event and stored beside the node; it is never fed back
  into automatic EAC computation.

SEE ALSO:
  - rollup.go: Produces AggregatedFigures
  - report.go: Assembles the nine-column view from these metrics
*/
package evm

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// EAC STRATEGY - Explicit, named, swappable forecast formula
// =============================================================================

// EacStrategy computes the Estimate at Completion from current figures.
type EacStrategy interface {
	// Name identifies the formula in reports and audit entries.
	Name() string

	// EAC computes the estimate at completion.
	EAC(fig AggregatedFigures, bac Money, cpi Ratio) Money
}

// CostPerformanceEac assumes current cost performance persists:
// EAC = AC + (BAC - EV) / CPI. With CPI undefined (no actuals yet) the
// remaining work is forecast at budget rate, so EAC = BAC.
type CostPerformanceEac struct{}

func (CostPerformanceEac) Name() string { return "cost_performance" }

func (CostPerformanceEac) EAC(fig AggregatedFigures, bac Money, cpi Ratio) Money {
	if !cpi.Defined || cpi.Value.IsZero() {
		return bac
	}
	remaining := bac.Sub(fig.EV)
	return fig.AC.Add(remaining.Div(cpi.Value))
}

// BudgetRateEac forecasts the whole budget at current efficiency:
// EAC = BAC / CPI. Falls back to BAC when CPI is undefined.
type BudgetRateEac struct{}

func (BudgetRateEac) Name() string { return "budget_rate" }

func (BudgetRateEac) EAC(fig AggregatedFigures, bac Money, cpi Ratio) Money {
	if !cpi.Defined || cpi.Value.IsZero() {
		return bac
	}
	return bac.Div(cpi.Value)
}

// =============================================================================
// CALCULATOR
// =============================================================================

// Calculator derives the metric set from aggregated figures. Zero value
// uses the cost-performance EAC strategy.
type Calculator struct {
	Eac EacStrategy
}

func NewCalculator() *Calculator { return &Calculator{Eac: CostPerformanceEac{}} }

// Calculate computes CV, SV, CPI, SPI, EAC, ETC, VAC.
func (c *Calculator) Calculate(fig AggregatedFigures, bac Money) EVMMetrics {
	strategy := c.Eac
	if strategy == nil {
		strategy = CostPerformanceEac{}
	}

	m := EVMMetrics{
		CV: fig.EV.Sub(fig.AC),
		SV: fig.EV.Sub(fig.PV),
	}

	// CPI = EV / AC only when AC > 0. "No actuals yet" is a defined
	// state, not an arithmetic error.
	if fig.AC.IsPositive() {
		m.CPI = DefinedRatio(fig.EV.Amount.Div(fig.AC.Amount))
	} else {
		m.CPI = UndefinedRatio()
	}

	// SPI = EV / PV only when PV > 0.
	if fig.PV.IsPositive() {
		m.SPI = DefinedRatio(fig.EV.Amount.Div(fig.PV.Amount))
	} else {
		m.SPI = UndefinedRatio()
	}

	m.EAC = strategy.EAC(fig, bac, m.CPI)
	m.ETC = m.EAC.Sub(fig.AC)
	m.VAC = bac.Sub(m.EAC)
	return m
}

// =============================================================================
// MANUAL EAC OVERRIDE - Audited, display-only figure
// =============================================================================

// ManualEac is a manually justified estimate at completion. It lives
// beside the computed figure and does not influence it.
type ManualEac struct {
	NodeID        NodeID
	Value         Money
	Justification string
	SetBy         string
	SetAt         TimePoint
}

// OverrideService records manual EAC values with a mandatory
// justification and an audit trail.
type OverrideService struct {
	Overrides ManualEacStore
	Audit     AuditLog
}

// SetManualEac validates and records a manual override. The override is
// an audit event plus a stored figure; history is never merged into.
func (s *OverrideService) SetManualEac(ctx context.Context, nodeID NodeID, value Money, justification, actor string) (*ManualEac, error) {
	if justification == "" {
		return nil, ValidationError(CodeEmptyJustification,
			"manual EAC for node %s requires a justification", nodeID)
	}
	if value.IsNegative() {
		return nil, ValidationError(CodeInvalidAmount,
			"manual EAC for node %s must not be negative", nodeID)
	}

	override := &ManualEac{
		NodeID:        nodeID,
		Value:         value,
		Justification: justification,
		SetBy:         actor,
		SetAt:         Today(),
	}
	if err := s.Overrides.SaveManualEac(ctx, override); err != nil {
		return nil, err
	}

	if s.Audit != nil {
		entry := AuditEntry{
			ID:      fmt.Sprintf("audit-eac-%s-%d", nodeID, time.Now().UnixNano()),
			At:      Today(),
			ActorID: actor,
			Action:  AuditManualEacSet,
			NodeID:  nodeID,
			Payload: map[string]any{"value": value.String(), "justification": justification},
		}
		if err := s.Audit.Append(ctx, entry); err != nil {
			return nil, err
		}
	}
	return override, nil
}
