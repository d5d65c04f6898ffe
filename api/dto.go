/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication. These types decouple the
  internal domain model from the external contract. Monetary amounts
  cross the wire as decimal strings, never floats.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation happens in handlers and the domain layer, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/evm-engine/budget"
	"github.com/warp/evm-engine/commitment"
	"github.com/warp/evm-engine/evm"
)

// =============================================================================
// ERRORS
// =============================================================================

type ErrorDTO struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// =============================================================================
// REPORTS AND TRENDS
// =============================================================================

type NineColumnReportDTO struct {
	NodeID   string `json:"nodeId"`
	NodeName string `json:"nodeName"`
	AsOf     string `json:"asOf"`
	Currency string `json:"currency"`

	BAC string  `json:"bac"`
	PV  string  `json:"pv"`
	AC  string  `json:"ac"`
	EV  string  `json:"ev"`
	SV  string  `json:"sv"`
	CV  string  `json:"cv"`
	SPI *string `json:"spi"` // null when undefined (no planned value yet)
	CPI *string `json:"cpi"` // null when undefined (no actuals yet)
	EAC string  `json:"eac"`
}

func toReportDTO(r *evm.NineColumnReport) NineColumnReportDTO {
	return NineColumnReportDTO{
		NodeID:   string(r.NodeID),
		NodeName: r.NodeName,
		AsOf:     r.AsOf.String(),
		Currency: r.Currency,
		BAC:      r.BAC.Amount.String(),
		PV:       r.PV.Amount.String(),
		AC:       r.AC.Amount.String(),
		EV:       r.EV.Amount.String(),
		SV:       r.SV.Amount.String(),
		CV:       r.CV.Amount.String(),
		SPI:      ratioString(r.SPI),
		CPI:      ratioString(r.CPI),
		EAC:      r.EAC.Amount.String(),
	}
}

func ratioString(r evm.Ratio) *string {
	if !r.Defined {
		return nil
	}
	s := r.Value.StringFixed(4)
	return &s
}

type EVMRecordDTO struct {
	ID         string  `json:"id"`
	NodeID     string  `json:"nodeId"`
	DataDate   string  `json:"dataDate"`
	PeriodType string  `json:"periodType"`
	PV         string  `json:"pv"`
	EV         string  `json:"ev"`
	AC         string  `json:"ac"`
	BAC        string  `json:"bac"`
	CV         string  `json:"cv"`
	SV         string  `json:"sv"`
	CPI        *string `json:"cpi"`
	SPI        *string `json:"spi"`
	EAC        string  `json:"eac"`
	ETC        string  `json:"etc"`
	VAC        string  `json:"vac"`
	CapturedAt string  `json:"capturedAt"`
}

func toRecordDTO(r evm.EVMRecord) EVMRecordDTO {
	return EVMRecordDTO{
		ID:         string(r.ID),
		NodeID:     string(r.NodeID),
		DataDate:   r.DataDate.String(),
		PeriodType: string(r.PeriodType),
		PV:         r.Figures.PV.Amount.String(),
		EV:         r.Figures.EV.Amount.String(),
		AC:         r.Figures.AC.Amount.String(),
		BAC:        r.BAC.Amount.String(),
		CV:         r.Metrics.CV.Amount.String(),
		SV:         r.Metrics.SV.Amount.String(),
		CPI:        ratioString(r.Metrics.CPI),
		SPI:        ratioString(r.Metrics.SPI),
		EAC:        r.Metrics.EAC.Amount.String(),
		ETC:        r.Metrics.ETC.Amount.String(),
		VAC:        r.Metrics.VAC.Amount.String(),
		CapturedAt: r.CapturedAt.UTC().Format(time.RFC3339Nano),
	}
}

type ManualEacRequest struct {
	Value         string `json:"value"`
	Currency      string `json:"currency"`
	Justification string `json:"justification"`
}

type CaptureSnapshotRequest struct {
	DataDate   string `json:"dataDate"`
	PeriodType string `json:"periodType"`
}

// =============================================================================
// BUDGETS
// =============================================================================

type BudgetDTO struct {
	ID              string          `json:"id"`
	ProjectID       string          `json:"projectId"`
	Name            string          `json:"name"`
	Currency        string          `json:"currency"`
	State           string          `json:"state"`
	TotalAmount     string          `json:"totalAmount"`
	Items           []BudgetItemDTO `json:"items"`
	Revisions       int             `json:"revisions"`
	RejectionReason string          `json:"rejectionReason,omitempty"`
	SeededFrom      string          `json:"seededFrom,omitempty"`
	Version         int64           `json:"version"`
}

type BudgetItemDTO struct {
	ID             string `json:"id"`
	Description    string `json:"description"`
	Quantity       string `json:"quantity"`
	UnitRate       string `json:"unitRate"`
	ExtendedAmount string `json:"extendedAmount"`
}

func toBudgetDTO(b *budget.Budget) BudgetDTO {
	items := make([]BudgetItemDTO, 0, len(b.Items))
	for _, it := range b.Items {
		items = append(items, BudgetItemDTO{
			ID:             it.ID,
			Description:    it.Description,
			Quantity:       it.Quantity.String(),
			UnitRate:       it.UnitRate.Amount.String(),
			ExtendedAmount: it.ExtendedAmount().Amount.String(),
		})
	}
	return BudgetDTO{
		ID:              string(b.ID),
		ProjectID:       string(b.ProjectID),
		Name:            b.Name,
		Currency:        b.Currency,
		State:           string(b.State),
		TotalAmount:     b.TotalAmount().Amount.String(),
		Items:           items,
		Revisions:       len(b.Revisions),
		RejectionReason: b.RejectionReason,
		SeededFrom:      string(b.SeededFrom),
		Version:         b.Version,
	}
}

type CreateBudgetRequest struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Name      string `json:"name"`
	Currency  string `json:"currency"`
}

type AddBudgetItemRequest struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	UnitRate    string `json:"unitRate"`
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

// =============================================================================
// COMMITMENTS
// =============================================================================

type CommitmentDTO struct {
	ID                 string `json:"id"`
	ProjectID          string `json:"projectId"`
	ContractorID       string `json:"contractorId,omitempty"`
	Name               string `json:"name"`
	Currency           string `json:"currency"`
	State              string `json:"state"`
	OriginalAmount     string `json:"originalAmount"`
	RevisedAmount      string `json:"revisedAmount"`
	InvoicedAmount     string `json:"invoicedAmount"`
	CommittedBalance   string `json:"committedBalance"`
	Revisions          int    `json:"revisions"`
	Invoices           int    `json:"invoices"`
	RejectionReason    string `json:"rejectionReason,omitempty"`
	CancellationReason string `json:"cancellationReason,omitempty"`
	Version            int64  `json:"version"`
}

func toCommitmentDTO(c *commitment.Commitment) CommitmentDTO {
	return CommitmentDTO{
		ID:                 string(c.ID),
		ProjectID:          string(c.ProjectID),
		ContractorID:       c.ContractorID,
		Name:               c.Name,
		Currency:           c.Currency,
		State:              string(c.State),
		OriginalAmount:     c.OriginalAmount.Amount.String(),
		RevisedAmount:      c.RevisedAmount.Amount.String(),
		InvoicedAmount:     c.InvoicedAmount.Amount.String(),
		CommittedBalance:   c.CommittedBalance().Amount.String(),
		Revisions:          len(c.Revisions),
		Invoices:           len(c.Invoices),
		RejectionReason:    c.RejectionReason,
		CancellationReason: c.CancellationReason,
		Version:            c.Version,
	}
}

type CreateCommitmentRequest struct {
	ID             string `json:"id"`
	ProjectID      string `json:"projectId"`
	ContractorID   string `json:"contractorId"`
	Name           string `json:"name"`
	Currency       string `json:"currency"`
	OriginalAmount string `json:"originalAmount"`
}

type ReviseRequest struct {
	NewAmount string `json:"newAmount"`
	Reason    string `json:"reason"`
}

type InvoiceRequest struct {
	Amount    string `json:"amount"`
	Reference string `json:"reference"`
}
