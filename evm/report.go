/*
report.go - Nine-column report assembly

PURPOSE:
  Builds the standard EVM tabular summary (BAC, PV, AC, EV, SV, CV,
  SPI, CPI, EAC) for a project or control account at a requested as-of
  date. The report is a read view composed from the hierarchy snapshot
  and the active Baseline budget; it is not persisted by default.

BASELINE GATE:
  A node without an active Baseline budget has no sanctioned BAC to
  report against. The builder returns a typed validation failure, never
  a report with holes.

SEE ALSO:
  - rollup.go, metrics.go: The figures behind the columns
  - budget package: Provides the BaselineProvider implementation
*/
package evm

import "context"

// =============================================================================
// BASELINE PROVIDER - Supplied by the budget lifecycle
// =============================================================================

// BaselineInfo is the slice of budget state the calculator needs: which
// budget is the baseline and its total.
type BaselineInfo struct {
	BudgetID BudgetID
	Total    Money
}

// BaselineProvider resolves the active Baseline budget of a project.
// Implementations return ErrNotFound when the project has none.
type BaselineProvider interface {
	ActiveBaseline(ctx context.Context, projectID ProjectID) (*BaselineInfo, error)
}

// =============================================================================
// NINE-COLUMN REPORT
// =============================================================================

type NineColumnReport struct {
	NodeID   NodeID
	NodeName string
	AsOf     TimePoint
	Currency string

	BAC Money
	PV  Money
	AC  Money
	EV  Money
	SV  Money
	CV  Money
	SPI Ratio
	CPI Ratio
	EAC Money
}

// =============================================================================
// REPORT BUILDER
// =============================================================================

type ReportBuilder struct {
	Nodes     NodeStore
	Baselines BaselineProvider
	Calc      *Calculator
}

// ComputeNineColumnReport assembles the report for a project or control
// account at asOf. Calculation runs once per request over the current
// hierarchy snapshot.
func (b *ReportBuilder) ComputeNineColumnReport(ctx context.Context, nodeID NodeID, asOf TimePoint) (*NineColumnReport, error) {
	node, err := b.Nodes.Node(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if node == nil || node.IsDeleted() {
		return nil, NotFoundError("hierarchy node", nodeID)
	}

	baseline, err := b.Baselines.ActiveBaseline(ctx, node.ProjectID)
	if err != nil {
		if IsNotFound(err) {
			return nil, ValidationError(CodeNoBaselineBudget,
				"project %s has no active baseline budget", node.ProjectID)
		}
		return nil, err
	}

	nodes, err := b.Nodes.ProjectNodes(ctx, node.ProjectID)
	if err != nil {
		return nil, err
	}

	h := NewHierarchy(nodes)
	fig, err := h.Rollup(nodeID, asOf)
	if err != nil {
		return nil, err
	}

	// The baseline total is the sanctioned BAC at project level; below
	// it, each node reports its own BAC.
	bac := node.BAC
	if node.Level == LevelProject {
		bac = baseline.Total
	}

	m := b.Calc.Calculate(fig, bac)

	return &NineColumnReport{
		NodeID:   node.ID,
		NodeName: node.Name,
		AsOf:     asOf,
		Currency: bac.Currency,
		BAC:      bac,
		PV:       fig.PV,
		AC:       fig.AC,
		EV:       fig.EV,
		SV:       m.SV,
		CV:       m.CV,
		SPI:      m.SPI,
		CPI:      m.CPI,
		EAC:      m.EAC,
	}, nil
}
