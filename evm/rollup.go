/*
rollup.go - Bottom-up aggregation of PV/EV/AC across the hierarchy

PURPOSE:
  Computes AggregatedFigures for any node in the WBS tree. Leaves derive
  figures from their measurement method and planned window; parents sum
  their children. Summation (not averaging) preserves the additivity EVM
  depends on: a parent's EV is exactly the sum of its children's EV.

TRAVERSAL:
  Strict post-order - children before parent, because parent aggregation
  depends on completed children. A cycle in the parent links is a fatal
  configuration error, detected by tracking visited node ids.

MISSING PROGRESS:
  A child with no recorded progress contributes zero EV/AC but its full
  planned PV. Excluding it would overstate SPI for the parent.

CONCURRENCY:
  Rollup is a pure function over the supplied node snapshot. Independent
  subtrees (sibling control accounts) may be computed in parallel via
  RollupAll; a single subtree is always computed single-threaded.

SEE ALSO:
  - hierarchy.go: Node model and validation
  - metrics.go: Turns AggregatedFigures into variances and forecasts
*/
package evm

import (
	"sync"

	"github.com/shopspring/decimal"
)

// =============================================================================
// HIERARCHY - Indexed node snapshot
// =============================================================================

// Hierarchy indexes a node snapshot for traversal. Build once per
// rollup request; the snapshot is not mutated.
type Hierarchy struct {
	nodes    map[NodeID]*HierarchyNode
	children map[NodeID][]NodeID
}

// NewHierarchy indexes the supplied nodes. Soft-deleted nodes are
// excluded from traversal.
func NewHierarchy(nodes []*HierarchyNode) *Hierarchy {
	h := &Hierarchy{
		nodes:    make(map[NodeID]*HierarchyNode, len(nodes)),
		children: make(map[NodeID][]NodeID),
	}
	for _, n := range nodes {
		if n.IsDeleted() {
			continue
		}
		h.nodes[n.ID] = n
	}
	for _, n := range h.nodes {
		if n.ParentID != "" {
			h.children[n.ParentID] = append(h.children[n.ParentID], n.ID)
		}
	}
	return h
}

// Node returns the indexed node, or nil.
func (h *Hierarchy) Node(id NodeID) *HierarchyNode { return h.nodes[id] }

// =============================================================================
// ROLLUP
// =============================================================================

// Rollup computes PV/EV/AC for nodeID as of the given date, post-order
// over the subtree.
func (h *Hierarchy) Rollup(nodeID NodeID, asOf TimePoint) (AggregatedFigures, error) {
	node := h.nodes[nodeID]
	if node == nil {
		return AggregatedFigures{}, NotFoundError("hierarchy node", nodeID)
	}
	visited := make(map[NodeID]bool)
	return h.rollup(node, asOf, visited)
}

func (h *Hierarchy) rollup(node *HierarchyNode, asOf TimePoint, visited map[NodeID]bool) (AggregatedFigures, error) {
	if visited[node.ID] {
		return AggregatedFigures{}, ValidationError(CodeHierarchyCycle,
			"hierarchy cycle detected at node %s", node.ID)
	}
	visited[node.ID] = true

	childIDs := h.children[node.ID]
	if len(childIDs) == 0 {
		return leafFigures(node, asOf)
	}

	// Parent: simple summation of children. The parent's own BAC and
	// percent are not consulted; additivity comes from the leaves.
	cur := node.BAC.Currency
	agg := AggregatedFigures{PV: ZeroMoney(cur), EV: ZeroMoney(cur), AC: ZeroMoney(cur)}
	for _, cid := range childIDs {
		child, err := h.rollup(h.nodes[cid], asOf, visited)
		if err != nil {
			return AggregatedFigures{}, err
		}
		agg.PV = agg.PV.Add(child.PV)
		agg.EV = agg.EV.Add(child.EV)
		agg.AC = agg.AC.Add(child.AC)
	}
	return agg, nil
}

// =============================================================================
// LEAF FIGURES
// =============================================================================

func leafFigures(node *HierarchyNode, asOf TimePoint) (AggregatedFigures, error) {
	if err := ValidateNode(node); err != nil {
		return AggregatedFigures{}, err
	}

	cur := node.BAC.Currency
	pv := node.BAC.Mul(plannedFraction(node, asOf))

	// No recorded progress: planned value only. EV and AC stay zero so
	// the parent's schedule picture is not flattered.
	if !node.HasProgress {
		return AggregatedFigures{PV: pv, EV: ZeroMoney(cur), AC: ZeroMoney(cur)}, nil
	}

	ev, err := earnedValue(node)
	if err != nil {
		return AggregatedFigures{}, err
	}

	// AC is the externally recorded actual cost up to asOf. No estimation.
	return AggregatedFigures{PV: pv, EV: ev, AC: node.ActualCost}, nil
}

// plannedFraction returns the cumulative planned fraction of BAC
// scheduled by asOf: straight-line across the planned window unless an
// S-curve profile was supplied.
func plannedFraction(node *HierarchyNode, asOf TimePoint) decimal.Decimal {
	p := node.Planned
	if p.Start.IsZero() || !p.Valid() {
		return decimal.Zero
	}
	if asOf.AfterOrEqual(p.End) {
		return decimal.NewFromInt(1)
	}
	if !p.Contains(asOf) {
		// Before the planned window: nothing scheduled yet.
		return decimal.Zero
	}

	elapsed := decimal.NewFromInt(int64(DaysBetween(p.Start, asOf) + 1))
	total := decimal.NewFromInt(int64(p.DurationDays()))
	linear := elapsed.Div(total)

	if len(node.SCurve) == 0 {
		return linear
	}
	return sCurveFraction(node.SCurve, linear)
}

// sCurveFraction maps a linear elapsed fraction onto the supplied
// cumulative profile, interpolating between profile points.
func sCurveFraction(curve []decimal.Decimal, linear decimal.Decimal) decimal.Decimal {
	n := decimal.NewFromInt(int64(len(curve)))
	pos := linear.Mul(n)
	idx := pos.IntPart() // completed profile segments

	if idx <= 0 {
		// Within the first segment: interpolate from zero.
		return curve[0].Mul(pos)
	}
	if idx >= int64(len(curve)) {
		return curve[len(curve)-1]
	}

	prev := curve[idx-1]
	next := curve[idx]
	within := pos.Sub(decimal.NewFromInt(idx))
	return prev.Add(next.Sub(prev).Mul(within))
}

// earnedValue credits EV at a leaf per its measurement method.
func earnedValue(node *HierarchyNode) (Money, error) {
	switch node.MeasurementMethod {
	case MeasurePercentComplete:
		return node.BAC.Mul(node.PercentComplete.Fraction()), nil

	case MeasureMilestone:
		achieved := decimal.Zero
		for _, m := range node.Milestones {
			if m.Achieved {
				achieved = achieved.Add(m.Weight.Value)
			}
		}
		return node.BAC.Mul(achieved.Div(hundred)), nil

	case MeasureWeightedFormula:
		if node.Formula == nil {
			return Money{}, ValidationError(CodePercentOutOfRange,
				"node %s: weighted formula method without weight pair", node.ID)
		}
		credit := decimal.Zero
		if node.Formula.Started {
			credit = credit.Add(node.Formula.StartedCredit.Value)
		}
		if node.Formula.Completed {
			credit = credit.Add(node.Formula.CompletedCredit.Value)
		}
		return node.BAC.Mul(credit.Div(hundred)), nil

	case MeasureUnitsComplete:
		if node.UnitsPlanned.IsZero() {
			return ZeroMoney(node.BAC.Currency), nil
		}
		return node.BAC.Mul(node.UnitsComplete.Div(node.UnitsPlanned)), nil

	default:
		return Money{}, ValidationError(CodePercentOutOfRange,
			"node %s: unknown measurement method %q", node.ID, node.MeasurementMethod)
	}
}

// =============================================================================
// PARALLEL FAN-OUT - Independent sibling subtrees
// =============================================================================

// RollupAll computes figures for several independent subtrees in
// parallel. Each subtree is still traversed single-threaded bottom-up.
func (h *Hierarchy) RollupAll(rootIDs []NodeID, asOf TimePoint) (map[NodeID]AggregatedFigures, error) {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		results  = make(map[NodeID]AggregatedFigures, len(rootIDs))
		firstErr error
	)

	for _, id := range rootIDs {
		wg.Add(1)
		go func(id NodeID) {
			defer wg.Done()
			fig, err := h.Rollup(id, asOf)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			results[id] = fig
		}(id)
	}

	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}
