/*
handlers.go - HTTP API handlers for the EVM engine

PURPOSE:
  Exposes the computation engine and the budget/commitment lifecycles
  via REST. Handles HTTP request/response and JSON serialization, and
  delegates everything else to the engine packages.

REQUEST FLOW:
  1. Parse HTTP request
  2. Call domain logic (report builder, lifecycle service, ...)
  3. Serialize response
  4. Map typed errors to statuses

ERROR HANDLING:
  - 404: Unknown aggregate (NotFound)
  - 409: Invalid transition or retryable optimistic conflict
  - 422: Validation and business-rule failures (fixable by the caller)
  - 500: Everything else

ACTOR IDENTITY:
  The acting user arrives in the X-Actor header (identity sync is a
  collaborator concern). Missing actor defaults to "system".

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/evm-engine/budget"
	"github.com/warp/evm-engine/commitment"
	"github.com/warp/evm-engine/evm"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// NodeWriter is the collaborator write path for hierarchy nodes.
type NodeWriter interface {
	SaveNode(ctx context.Context, n *evm.HierarchyNode) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Nodes       evm.NodeStore
	NodeWriter  NodeWriter
	Budgets     *budget.Service
	Commitments *commitment.Service
	Reports     *evm.ReportBuilder
	Trends      *evm.TrendService
	Overrides   *evm.OverrideService
	Calc        *evm.Calculator
}

// EngineStore is the full persistence surface the computation side of
// the handler needs. Both store implementations satisfy it.
type EngineStore interface {
	evm.NodeStore
	NodeWriter
	evm.RecordStore
	evm.ManualEacStore
	evm.AuditLog
}

// NewHandler wires the handler from the three persistence surfaces.
func NewHandler(engine EngineStore, budgets budget.TxStore, commitments commitment.TxStore) *Handler {
	calc := evm.NewCalculator()
	budgetSvc := budget.NewService(budgets, engine)
	return &Handler{
		Nodes:       engine,
		NodeWriter:  engine,
		Budgets:     budgetSvc,
		Commitments: commitment.NewService(commitments, engine),
		Reports:     &evm.ReportBuilder{Nodes: engine, Baselines: budgetSvc, Calc: calc},
		Trends:      &evm.TrendService{Records: engine, Audit: engine},
		Overrides:   &evm.OverrideService{Overrides: engine, Audit: engine},
		Calc:        calc,
	}
}

func actor(r *http.Request) string {
	if a := r.Header.Get("X-Actor"); a != "" {
		return a
	}
	return "system"
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, err error) {
	dto := ErrorDTO{Error: err.Error()}
	status := http.StatusInternalServerError

	switch {
	case evm.IsNotFound(err):
		status = http.StatusNotFound
		dto.Kind = string(evm.KindNotFound)
	case evm.IsRetryable(err):
		status = http.StatusConflict
		dto.Kind = string(evm.KindConflict)
		dto.Retryable = true
	case evm.IsInvalidTransition(err):
		status = http.StatusConflict
		dto.Kind = string(evm.KindInvalidTransition)
	case evm.IsClientError(err):
		status = http.StatusUnprocessableEntity
		if e, ok := evm.AsError(err); ok {
			dto.Kind = string(e.Kind)
			dto.Code = e.Code
		}
	}
	respondJSON(w, status, dto)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondJSON(w, http.StatusBadRequest, ErrorDTO{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func parseDateParam(r *http.Request, name string, fallback evm.TimePoint) (evm.TimePoint, bool) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return fallback, true
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return evm.TimePoint{}, false
	}
	return evm.FromTime(t), true
}

// =============================================================================
// NODES, REPORTS, TRENDS
// =============================================================================

type NodeRequest struct {
	ID                     string               `json:"id"`
	ProjectID              string               `json:"projectId"`
	ParentID               string               `json:"parentId"`
	Name                   string               `json:"name"`
	Level                  string               `json:"level"`
	BAC                    string               `json:"bac"`
	Currency               string               `json:"currency"`
	PercentComplete        string               `json:"percentComplete"`
	ActualCost             string               `json:"actualCost"`
	PlannedStart           string               `json:"plannedStart"`
	PlannedEnd             string               `json:"plannedEnd"`
	Method                 string               `json:"method"`
	Milestones             []MilestoneRequest   `json:"milestones,omitempty"`
	Formula                *WeightedFormulaBody `json:"formula,omitempty"`
	UnitsPlanned           string               `json:"unitsPlanned"`
	UnitsComplete          string               `json:"unitsComplete"`
	SCurve                 []string             `json:"sCurve,omitempty"`
	HasProgress            bool                 `json:"hasProgress"`
	ChildrenCount          int                  `json:"childrenCount"`
	CompletedChildrenCount int                  `json:"completedChildrenCount"`
}

type MilestoneRequest struct {
	Name     string `json:"name"`
	Weight   string `json:"weight"`
	Achieved bool   `json:"achieved"`
}

type WeightedFormulaBody struct {
	StartedCredit   string `json:"startedCredit"`
	CompletedCredit string `json:"completedCredit"`
	Started         bool   `json:"started"`
	Completed       bool   `json:"completed"`
}

func dec(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// UpsertNode records a hierarchy node supplied by the structure/progress
// collaborators.
func (h *Handler) UpsertNode(w http.ResponseWriter, r *http.Request) {
	var req NodeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	n := &evm.HierarchyNode{
		ID:                     evm.NodeID(req.ID),
		ProjectID:              evm.ProjectID(req.ProjectID),
		ParentID:               evm.NodeID(req.ParentID),
		Name:                   req.Name,
		Level:                  evm.NodeLevel(req.Level),
		BAC:                    evm.Money{Amount: dec(req.BAC), Currency: req.Currency},
		PercentComplete:        evm.Percent{Value: dec(req.PercentComplete)},
		ActualCost:             evm.Money{Amount: dec(req.ActualCost), Currency: req.Currency},
		MeasurementMethod:      evm.MeasurementMethod(req.Method),
		UnitsPlanned:           dec(req.UnitsPlanned),
		UnitsComplete:          dec(req.UnitsComplete),
		HasProgress:            req.HasProgress,
		ChildrenCount:          req.ChildrenCount,
		CompletedChildrenCount: req.CompletedChildrenCount,
	}
	if req.PlannedStart != "" && req.PlannedEnd != "" {
		start, _ := time.Parse("2006-01-02", req.PlannedStart)
		end, _ := time.Parse("2006-01-02", req.PlannedEnd)
		n.Planned = evm.Period{Start: evm.FromTime(start), End: evm.FromTime(end)}
	}
	for _, m := range req.Milestones {
		n.Milestones = append(n.Milestones, evm.Milestone{
			Name:     m.Name,
			Weight:   evm.Percent{Value: dec(m.Weight)},
			Achieved: m.Achieved,
		})
	}
	if req.Formula != nil {
		n.Formula = &evm.WeightedFormula{
			StartedCredit:   evm.Percent{Value: dec(req.Formula.StartedCredit)},
			CompletedCredit: evm.Percent{Value: dec(req.Formula.CompletedCredit)},
			Started:         req.Formula.Started,
			Completed:       req.Formula.Completed,
		}
	}
	for _, s := range req.SCurve {
		n.SCurve = append(n.SCurve, dec(s))
	}

	if err := evm.ValidateNode(n); err != nil {
		respondError(w, err)
		return
	}
	if err := h.NodeWriter.SaveNode(r.Context(), n); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": req.ID})
}

// NineColumnReport computes the standard report for a node at asOf.
func (h *Handler) NineColumnReport(w http.ResponseWriter, r *http.Request) {
	id := evm.NodeID(chi.URLParam(r, "id"))
	asOf, ok := parseDateParam(r, "asOf", evm.Today())
	if !ok {
		respondJSON(w, http.StatusBadRequest, ErrorDTO{Error: "asOf must be YYYY-MM-DD"})
		return
	}

	report, err := h.Reports.ComputeNineColumnReport(r.Context(), id, asOf)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toReportDTO(report))
}

// Trend returns the snapshot series for a node between two dates.
func (h *Handler) Trend(w http.ResponseWriter, r *http.Request) {
	id := evm.NodeID(chi.URLParam(r, "id"))
	from, okFrom := parseDateParam(r, "from", evm.TimePoint{})
	to, okTo := parseDateParam(r, "to", evm.Today())
	if !okFrom || !okTo || from.IsZero() {
		respondJSON(w, http.StatusBadRequest, ErrorDTO{Error: "from and to must be YYYY-MM-DD"})
		return
	}

	recs, err := h.Trends.ComputeTrend(r.Context(), id, from, to)
	if err != nil {
		respondError(w, err)
		return
	}
	out := make([]EVMRecordDTO, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toRecordDTO(rec))
	}
	respondJSON(w, http.StatusOK, out)
}

// CaptureSnapshot computes and appends an EVMRecord for a node.
func (h *Handler) CaptureSnapshot(w http.ResponseWriter, r *http.Request) {
	id := evm.NodeID(chi.URLParam(r, "id"))
	var req CaptureSnapshotRequest
	if !decodeBody(w, r, &req) {
		return
	}

	dataDate := evm.Today()
	if req.DataDate != "" {
		t, err := time.Parse("2006-01-02", req.DataDate)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, ErrorDTO{Error: "dataDate must be YYYY-MM-DD"})
			return
		}
		dataDate = evm.FromTime(t)
	}
	periodType := evm.PeriodType(req.PeriodType)
	if periodType == "" {
		periodType = evm.PeriodCustom
	}

	node, err := h.Nodes.Node(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	baseline, err := h.Budgets.ActiveBaseline(r.Context(), node.ProjectID)
	if err != nil {
		if evm.IsNotFound(err) {
			respondError(w, evm.ValidationError(evm.CodeNoBaselineBudget,
				"project %s has no active baseline budget", node.ProjectID))
			return
		}
		respondError(w, err)
		return
	}
	nodes, err := h.Nodes.ProjectNodes(r.Context(), node.ProjectID)
	if err != nil {
		respondError(w, err)
		return
	}

	bac := node.BAC
	if node.Level == evm.LevelProject {
		bac = baseline.Total
	}

	rec, err := h.Trends.Capture(r.Context(), evm.NewHierarchy(nodes), h.Calc, id, bac, dataDate, periodType, actor(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toRecordDTO(*rec))
}

// SetManualEac records a manually justified EAC for a node.
func (h *Handler) SetManualEac(w http.ResponseWriter, r *http.Request) {
	id := evm.NodeID(chi.URLParam(r, "id"))
	var req ManualEacRequest
	if !decodeBody(w, r, &req) {
		return
	}

	override, err := h.Overrides.SetManualEac(r.Context(), id,
		evm.Money{Amount: dec(req.Value), Currency: req.Currency},
		req.Justification, actor(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{
		"nodeId": string(override.NodeID),
		"value":  override.Value.Amount.String(),
		"setAt":  override.SetAt.String(),
	})
}

// =============================================================================
// BUDGETS
// =============================================================================

func (h *Handler) CreateBudget(w http.ResponseWriter, r *http.Request) {
	var req CreateBudgetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	now := evm.Today()
	b := &budget.Budget{
		ID:        evm.BudgetID(req.ID),
		ProjectID: evm.ProjectID(req.ProjectID),
		Name:      req.Name,
		Currency:  req.Currency,
		State:     budget.StateDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.Budgets.Store.Create(r.Context(), b); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toBudgetDTO(b))
}

func (h *Handler) GetBudget(w http.ResponseWriter, r *http.Request) {
	b, err := h.Budgets.Store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toBudgetDTO(b))
}

func (h *Handler) AddBudgetItem(w http.ResponseWriter, r *http.Request) {
	var req AddBudgetItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	b, err := h.Budgets.AddItem(r.Context(), chi.URLParam(r, "id"), actor(r), budget.Item{
		ID:          req.ID,
		Description: req.Description,
		Quantity:    dec(req.Quantity),
		UnitRate:    evm.Money{Amount: dec(req.UnitRate)},
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toBudgetDTO(b))
}

func (h *Handler) SubmitBudget(w http.ResponseWriter, r *http.Request) {
	h.budgetTransition(w, r, h.Budgets.Submit)
}

func (h *Handler) ApproveBudget(w http.ResponseWriter, r *http.Request) {
	h.budgetTransition(w, r, h.Budgets.Approve)
}

func (h *Handler) RejectBudget(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !decodeBody(w, r, &req) {
		return
	}
	b, err := h.Budgets.Reject(r.Context(), chi.URLParam(r, "id"), actor(r), req.Reason)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toBudgetDTO(b))
}

func (h *Handler) SetBaseline(w http.ResponseWriter, r *http.Request) {
	h.budgetTransition(w, r, h.Budgets.SetAsBaseline)
}

func (h *Handler) LockBudget(w http.ResponseWriter, r *http.Request) {
	h.budgetTransition(w, r, h.Budgets.Lock)
}

func (h *Handler) CreateBudgetRevision(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !decodeBody(w, r, &req) {
		return
	}
	successor, err := h.Budgets.CreateRevision(r.Context(), chi.URLParam(r, "id"), actor(r), req.Reason)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toBudgetDTO(successor))
}

func (h *Handler) budgetTransition(w http.ResponseWriter, r *http.Request,
	op func(context.Context, string, string) (*budget.Budget, error)) {
	b, err := op(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toBudgetDTO(b))
}

// =============================================================================
// COMMITMENTS
// =============================================================================

func (h *Handler) CreateCommitment(w http.ResponseWriter, r *http.Request) {
	var req CreateCommitmentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	now := evm.Today()
	c := &commitment.Commitment{
		ID:             evm.CommitmentID(req.ID),
		ProjectID:      evm.ProjectID(req.ProjectID),
		ContractorID:   req.ContractorID,
		Name:           req.Name,
		Currency:       req.Currency,
		State:          commitment.StateDraft,
		OriginalAmount: evm.Money{Amount: dec(req.OriginalAmount), Currency: req.Currency},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := h.Commitments.Store.Create(r.Context(), c); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toCommitmentDTO(c))
}

func (h *Handler) GetCommitment(w http.ResponseWriter, r *http.Request) {
	c, err := h.Commitments.Store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toCommitmentDTO(c))
}

func (h *Handler) SubmitCommitment(w http.ResponseWriter, r *http.Request) {
	h.commitmentTransition(w, r, h.Commitments.SubmitForApproval)
}

func (h *Handler) ApproveCommitment(w http.ResponseWriter, r *http.Request) {
	h.commitmentTransition(w, r, h.Commitments.Approve)
}

func (h *Handler) RejectCommitment(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !decodeBody(w, r, &req) {
		return
	}
	c, err := h.Commitments.Reject(r.Context(), chi.URLParam(r, "id"), actor(r), req.Reason)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toCommitmentDTO(c))
}

func (h *Handler) ActivateCommitment(w http.ResponseWriter, r *http.Request) {
	h.commitmentTransition(w, r, h.Commitments.Activate)
}

func (h *Handler) ReviseCommitment(w http.ResponseWriter, r *http.Request) {
	var req ReviseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	c, err := h.Commitments.Store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	updated, err := h.Commitments.Revise(r.Context(), string(c.ID), actor(r),
		evm.Money{Amount: dec(req.NewAmount), Currency: c.Currency}, req.Reason)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toCommitmentDTO(updated))
}

func (h *Handler) RecordInvoice(w http.ResponseWriter, r *http.Request) {
	var req InvoiceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	c, err := h.Commitments.Store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	updated, err := h.Commitments.RecordInvoice(r.Context(), string(c.ID), actor(r),
		evm.Money{Amount: dec(req.Amount), Currency: c.Currency}, req.Reference)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toCommitmentDTO(updated))
}

func (h *Handler) CloseCommitment(w http.ResponseWriter, r *http.Request) {
	h.commitmentTransition(w, r, h.Commitments.Close)
}

func (h *Handler) CancelCommitment(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !decodeBody(w, r, &req) {
		return
	}
	c, err := h.Commitments.Cancel(r.Context(), chi.URLParam(r, "id"), actor(r), req.Reason)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toCommitmentDTO(c))
}

func (h *Handler) DeleteCommitment(w http.ResponseWriter, r *http.Request) {
	if err := h.Commitments.Delete(r.Context(), chi.URLParam(r, "id"), actor(r)); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) commitmentTransition(w http.ResponseWriter, r *http.Request,
	op func(context.Context, string, string) (*commitment.Commitment, error)) {
	c, err := op(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toCommitmentDTO(c))
}
