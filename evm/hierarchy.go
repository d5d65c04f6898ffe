/*
hierarchy.go - Work breakdown structure node model

PURPOSE:
  Defines the hierarchy over which figures are rolled up:
  Project -> Control Account -> Work Package -> WBS Element.
  Nodes arrive as a snapshot from external collaborators (structure
  definition and progress recording live outside this engine); the
  rollup engine treats them as read-only input.

SOFT DELETION:
  A node that has cost history is never hard-deleted. DeletedAt marks it
  removed from active reporting; its recorded actuals remain part of the
  trend series already captured.

SEE ALSO:
  - rollup.go: Bottom-up aggregation over these nodes
  - types.go: MeasurementMethod, Milestone, WeightedFormula
*/
package evm

import "github.com/shopspring/decimal"

// =============================================================================
// NODE LEVELS
// =============================================================================

type NodeLevel string

const (
	LevelProject        NodeLevel = "project"
	LevelControlAccount NodeLevel = "control_account"
	LevelWorkPackage    NodeLevel = "work_package"
	LevelWBSElement     NodeLevel = "wbs_element"
)

// =============================================================================
// HIERARCHY NODE
// =============================================================================

// HierarchyNode is one element of the WBS tree. ParentID is empty for
// roots. BAC, progress, and actuals are supplied by collaborators; the
// engine only reads them.
type HierarchyNode struct {
	ID        NodeID
	ProjectID ProjectID
	ParentID  NodeID // empty for root
	Name      string
	Level     NodeLevel

	BAC             Money
	PercentComplete Percent
	ActualCost      Money

	// Planned execution window, used for time-phased PV at leaves.
	Planned Period

	MeasurementMethod MeasurementMethod
	Milestones        []Milestone
	Formula           *WeightedFormula

	// UnitsComplete method inputs.
	UnitsPlanned  decimal.Decimal
	UnitsComplete decimal.Decimal

	// SCurve is an optional externally supplied cumulative distribution
	// profile for PV: ordered fractions in (0, 1] ending at 1. When nil,
	// PV is straight-line across the planned window.
	SCurve []decimal.Decimal

	// HasProgress is false for nodes with no recorded progress yet. Such
	// nodes contribute planned value only (zero EV/AC) so the parent's
	// schedule figures stay honest.
	HasProgress bool

	ChildrenCount          int
	CompletedChildrenCount int

	DeletedAt *TimePoint
}

// IsDeleted reports whether the node is soft-deleted.
func (n *HierarchyNode) IsDeleted() bool { return n.DeletedAt != nil }

// ValidateNode checks the per-node invariants that collaborators must
// uphold before figures are rolled up.
func ValidateNode(n *HierarchyNode) error {
	if !n.PercentComplete.InRange() {
		return ValidationError(CodePercentOutOfRange,
			"node %s: percent complete %s outside [0,100]", n.ID, n.PercentComplete.Value)
	}
	if n.CompletedChildrenCount < 0 || n.ChildrenCount < n.CompletedChildrenCount {
		return ValidationError(CodePercentOutOfRange,
			"node %s: children counts inconsistent (%d total, %d completed)",
			n.ID, n.ChildrenCount, n.CompletedChildrenCount)
	}
	if n.MeasurementMethod == MeasureMilestone {
		if err := validateMilestoneWeights(n); err != nil {
			return err
		}
	}
	if n.SCurve != nil {
		if err := validateSCurve(n); err != nil {
			return err
		}
	}
	return nil
}

// Milestone weights must sum to exactly 100 across a node's set. The
// engine never normalizes; a bad set is the collaborator's error.
func validateMilestoneWeights(n *HierarchyNode) error {
	var sum Percent
	for _, m := range n.Milestones {
		sum = sum.Add(m.Weight)
	}
	if !sum.Value.Equal(hundred) {
		return ValidationError(CodeMilestoneWeightSum,
			"node %s: milestone weights sum to %s, want 100", n.ID, sum)
	}
	return nil
}

func validateSCurve(n *HierarchyNode) error {
	prev := decimal.Zero
	for i, f := range n.SCurve {
		if f.LessThan(prev) || f.GreaterThan(decimal.NewFromInt(1)) {
			return ValidationError(CodeInvalidSCurve,
				"node %s: s-curve point %d (%s) not monotone within (0,1]", n.ID, i, f)
		}
		prev = f
	}
	if len(n.SCurve) > 0 && !n.SCurve[len(n.SCurve)-1].Equal(decimal.NewFromInt(1)) {
		return ValidationError(CodeInvalidSCurve,
			"node %s: s-curve must end at 1, ends at %s", n.ID, n.SCurve[len(n.SCurve)-1])
	}
	return nil
}
