/*
Package memory provides in-memory store implementations (tests/dev).

PURPOSE:
  Implements every persistence interface of the engine against maps:
  budgets and commitments with optimistic version checks, the hierarchy
  node snapshot, the append-only EVM record log, manual EAC figures,
  and the audit log.

TRANSACTIONS:
  WithTx is simulated with a snapshot of the aggregate map plus restore
  on error, so a failing transition leaves nothing half-applied - the
  same all-or-nothing contract the SQLite store gets from real
  transactions.

CONCURRENCY:
  A mutex per store. Reads return deep copies so callers can never
  mutate persisted state behind the version check.

SEE ALSO:
  - store/sqlite: Production implementation of the same interfaces
*/
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/evm-engine/budget"
	"github.com/warp/evm-engine/commitment"
	"github.com/warp/evm-engine/evm"
)

// =============================================================================
// BUDGETS
// =============================================================================

type Budgets struct {
	mu    sync.Mutex
	items map[string]*budget.Budget
}

func NewBudgets() *Budgets {
	return &Budgets{items: make(map[string]*budget.Budget)}
}

var _ budget.TxStore = (*Budgets)(nil)

func (s *Budgets) Create(_ context.Context, b *budget.Budget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(b)
}

func (s *Budgets) Get(_ context.Context, id string) (*budget.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id)
}

func (s *Budgets) ByProject(_ context.Context, projectID string) ([]*budget.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byProjectLocked(projectID)
}

func (s *Budgets) Save(_ context.Context, b *budget.Budget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(b)
}

func (s *Budgets) WithTx(_ context.Context, fn func(budget.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[string]*budget.Budget, len(s.items))
	for k, v := range s.items {
		snapshot[k] = cloneBudget(v)
	}

	if err := fn(&budgetTxView{parent: s}); err != nil {
		s.items = snapshot
		return err
	}
	return nil
}

func (s *Budgets) createLocked(b *budget.Budget) error {
	if _, ok := s.items[string(b.ID)]; ok {
		return evm.ConflictError("budget", b.ID)
	}
	c := cloneBudget(b)
	c.Version = 1
	s.items[string(b.ID)] = c
	b.Version = 1
	return nil
}

func (s *Budgets) getLocked(id string) (*budget.Budget, error) {
	b, ok := s.items[id]
	if !ok {
		return nil, evm.NotFoundError("budget", id)
	}
	return cloneBudget(b), nil
}

func (s *Budgets) byProjectLocked(projectID string) ([]*budget.Budget, error) {
	var out []*budget.Budget
	for _, b := range s.items {
		if string(b.ProjectID) == projectID {
			out = append(out, cloneBudget(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Budgets) saveLocked(b *budget.Budget) error {
	stored, ok := s.items[string(b.ID)]
	if !ok {
		return evm.NotFoundError("budget", b.ID)
	}
	if stored.Version != b.Version {
		return evm.ConflictError("budget", b.ID)
	}
	c := cloneBudget(b)
	c.Version = stored.Version + 1
	s.items[string(b.ID)] = c
	b.Version = c.Version
	return nil
}

// budgetTxView runs inside WithTx while the parent mutex is held.
type budgetTxView struct{ parent *Budgets }

func (v *budgetTxView) Create(_ context.Context, b *budget.Budget) error { return v.parent.createLocked(b) }
func (v *budgetTxView) Get(_ context.Context, id string) (*budget.Budget, error) {
	return v.parent.getLocked(id)
}
func (v *budgetTxView) ByProject(_ context.Context, projectID string) ([]*budget.Budget, error) {
	return v.parent.byProjectLocked(projectID)
}
func (v *budgetTxView) Save(_ context.Context, b *budget.Budget) error { return v.parent.saveLocked(b) }

func cloneBudget(b *budget.Budget) *budget.Budget {
	c := *b
	c.Items = append([]budget.Item(nil), b.Items...)
	c.Revisions = append([]budget.Revision(nil), b.Revisions...)
	return &c
}

// =============================================================================
// COMMITMENTS
// =============================================================================

type Commitments struct {
	mu    sync.Mutex
	items map[string]*commitment.Commitment
}

func NewCommitments() *Commitments {
	return &Commitments{items: make(map[string]*commitment.Commitment)}
}

var _ commitment.TxStore = (*Commitments)(nil)

func (s *Commitments) Create(_ context.Context, c *commitment.Commitment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(c)
}

func (s *Commitments) Get(_ context.Context, id string) (*commitment.Commitment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id)
}

func (s *Commitments) ByProject(_ context.Context, projectID string) ([]*commitment.Commitment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*commitment.Commitment
	for _, c := range s.items {
		if string(c.ProjectID) == projectID {
			out = append(out, cloneCommitment(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Commitments) Save(_ context.Context, c *commitment.Commitment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(c)
}

func (s *Commitments) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(id)
}

func (s *Commitments) WithTx(_ context.Context, fn func(commitment.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[string]*commitment.Commitment, len(s.items))
	for k, v := range s.items {
		snapshot[k] = cloneCommitment(v)
	}

	if err := fn(&commitmentTxView{parent: s}); err != nil {
		s.items = snapshot
		return err
	}
	return nil
}

func (s *Commitments) createLocked(c *commitment.Commitment) error {
	if _, ok := s.items[string(c.ID)]; ok {
		return evm.ConflictError("commitment", c.ID)
	}
	cp := cloneCommitment(c)
	cp.Version = 1
	s.items[string(c.ID)] = cp
	c.Version = 1
	return nil
}

func (s *Commitments) getLocked(id string) (*commitment.Commitment, error) {
	c, ok := s.items[id]
	if !ok {
		return nil, evm.NotFoundError("commitment", id)
	}
	return cloneCommitment(c), nil
}

func (s *Commitments) saveLocked(c *commitment.Commitment) error {
	stored, ok := s.items[string(c.ID)]
	if !ok {
		return evm.NotFoundError("commitment", c.ID)
	}
	if stored.Version != c.Version {
		return evm.ConflictError("commitment", c.ID)
	}
	cp := cloneCommitment(c)
	cp.Version = stored.Version + 1
	s.items[string(c.ID)] = cp
	c.Version = cp.Version
	return nil
}

func (s *Commitments) deleteLocked(id string) error {
	if _, ok := s.items[id]; !ok {
		return evm.NotFoundError("commitment", id)
	}
	delete(s.items, id)
	return nil
}

type commitmentTxView struct{ parent *Commitments }

func (v *commitmentTxView) Create(_ context.Context, c *commitment.Commitment) error {
	return v.parent.createLocked(c)
}
func (v *commitmentTxView) Get(_ context.Context, id string) (*commitment.Commitment, error) {
	return v.parent.getLocked(id)
}
func (v *commitmentTxView) ByProject(_ context.Context, projectID string) ([]*commitment.Commitment, error) {
	var out []*commitment.Commitment
	for _, c := range v.parent.items {
		if string(c.ProjectID) == projectID {
			out = append(out, cloneCommitment(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
func (v *commitmentTxView) Save(_ context.Context, c *commitment.Commitment) error {
	return v.parent.saveLocked(c)
}
func (v *commitmentTxView) Delete(_ context.Context, id string) error {
	return v.parent.deleteLocked(id)
}

func cloneCommitment(c *commitment.Commitment) *commitment.Commitment {
	cp := *c
	cp.Items = append([]commitment.Item(nil), c.Items...)
	cp.Allocations = append([]commitment.WorkPackageAllocation(nil), c.Allocations...)
	cp.Revisions = append([]commitment.Revision(nil), c.Revisions...)
	cp.Invoices = append([]commitment.Invoice(nil), c.Invoices...)
	return &cp
}

// =============================================================================
// ENGINE STATE - Nodes, records, manual EAC, audit
// =============================================================================

type Engine struct {
	mu        sync.RWMutex
	nodes     map[evm.NodeID]*evm.HierarchyNode
	records   map[evm.NodeID][]evm.EVMRecord
	manualEac map[evm.NodeID]*evm.ManualEac
	audit     []evm.AuditEntry
}

func NewEngine() *Engine {
	return &Engine{
		nodes:     make(map[evm.NodeID]*evm.HierarchyNode),
		records:   make(map[evm.NodeID][]evm.EVMRecord),
		manualEac: make(map[evm.NodeID]*evm.ManualEac),
	}
}

var (
	_ evm.NodeStore      = (*Engine)(nil)
	_ evm.RecordStore    = (*Engine)(nil)
	_ evm.ManualEacStore = (*Engine)(nil)
	_ evm.AuditLog       = (*Engine)(nil)
)

func cloneNode(n *evm.HierarchyNode) *evm.HierarchyNode {
	cp := *n
	cp.Milestones = append([]evm.Milestone(nil), n.Milestones...)
	cp.SCurve = append([]decimal.Decimal(nil), n.SCurve...)
	if n.Formula != nil {
		f := *n.Formula
		cp.Formula = &f
	}
	if n.DeletedAt != nil {
		d := *n.DeletedAt
		cp.DeletedAt = &d
	}
	return &cp
}

// SaveNode upserts a hierarchy node (collaborator write path).
func (e *Engine) SaveNode(_ context.Context, n *evm.HierarchyNode) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nodes[n.ID] = cloneNode(n)
	return nil
}

func (e *Engine) Node(_ context.Context, id evm.NodeID) (*evm.HierarchyNode, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n, ok := e.nodes[id]
	if !ok {
		return nil, evm.NotFoundError("hierarchy node", id)
	}
	return cloneNode(n), nil
}

func (e *Engine) ProjectNodes(_ context.Context, projectID evm.ProjectID) ([]*evm.HierarchyNode, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*evm.HierarchyNode
	for _, n := range e.nodes {
		if n.ProjectID == projectID {
			out = append(out, cloneNode(n))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Projects lists the distinct project IDs present in the hierarchy.
func (e *Engine) Projects(_ context.Context) ([]evm.ProjectID, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	seen := make(map[evm.ProjectID]bool)
	var out []evm.ProjectID
	for _, n := range e.nodes {
		if !seen[n.ProjectID] {
			seen[n.ProjectID] = true
			out = append(out, n.ProjectID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// AppendRecord is the only write on the record log. No update, no delete.
func (e *Engine) AppendRecord(_ context.Context, rec evm.EVMRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	recs := e.records[rec.NodeID]
	i := sort.Search(len(recs), func(i int) bool {
		if !recs[i].DataDate.Equal(rec.DataDate) {
			return recs[i].DataDate.After(rec.DataDate)
		}
		return recs[i].CapturedAt.After(rec.CapturedAt)
	})
	recs = append(recs, evm.EVMRecord{})
	copy(recs[i+1:], recs[i:])
	recs[i] = rec
	e.records[rec.NodeID] = recs
	return nil
}

func (e *Engine) RecordsInRange(_ context.Context, nodeID evm.NodeID, from, to evm.TimePoint) ([]evm.EVMRecord, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []evm.EVMRecord
	for _, r := range e.records[nodeID] {
		if from.BeforeOrEqual(r.DataDate) && r.DataDate.BeforeOrEqual(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (e *Engine) LatestRecord(_ context.Context, nodeID evm.NodeID, asOf evm.TimePoint) (*evm.EVMRecord, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	recs := e.records[nodeID]
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].DataDate.BeforeOrEqual(asOf) {
			r := recs[i]
			return &r, nil
		}
	}
	return nil, evm.NotFoundError("evm record for node", nodeID)
}

func (e *Engine) SaveManualEac(_ context.Context, m *evm.ManualEac) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := *m
	e.manualEac[m.NodeID] = &cp
	return nil
}

func (e *Engine) ManualEacFor(_ context.Context, nodeID evm.NodeID) (*evm.ManualEac, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.manualEac[nodeID]
	if !ok {
		return nil, evm.NotFoundError("manual eac for node", nodeID)
	}
	cp := *m
	return &cp, nil
}

func (e *Engine) Append(_ context.Context, entry evm.AuditEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.audit = append(e.audit, entry)
	return nil
}

func (e *Engine) Query(_ context.Context, filter evm.AuditFilter) ([]evm.AuditEntry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []evm.AuditEntry
	for _, a := range e.audit {
		if filter.NodeID != nil && a.NodeID != *filter.NodeID {
			continue
		}
		if filter.ActorID != nil && a.ActorID != *filter.ActorID {
			continue
		}
		if len(filter.Actions) > 0 && !containsAction(filter.Actions, a.Action) {
			continue
		}
		if filter.From != nil && a.At.Before(*filter.From) {
			continue
		}
		if filter.To != nil && a.At.After(*filter.To) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func containsAction(actions []evm.AuditAction, a evm.AuditAction) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}
