/*
Package evm provides the earned value management computation engine.

PURPOSE:
  This package contains the domain types and algorithms for earned value
  analysis: hierarchical rollup of planned/earned/actual figures across a
  work breakdown structure, variance and index calculation, forecast
  (EAC/ETC/VAC) strategies, and the periodic snapshot trend store.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A fixed-precision amount with a currency code
  - Percent: A completion fraction in [0, 100]
  - Ratio: A performance index that may be undefined (zero denominator)
  - AggregatedFigures: PV/EV/AC for a node, produced by the rollup engine
  - EVMMetrics: Derived variances, indices, and forecasts
  - EVMRecord: An immutable periodic snapshot for trend analysis

DESIGN PRINCIPLES:
  1. Precision: All monetary math uses decimal.Decimal. No float64.
  2. Immutability: EVMRecords are never modified; corrections append.
  3. Explicitness: Undefined ratios are a sentinel value, never NaN or 1.0.
  4. Type Safety: Strong typing for node/budget/commitment identifiers.

SEE ALSO:
  - rollup.go: Bottom-up aggregation across the hierarchy
  - metrics.go: Variance/index/forecast calculation
  - trend.go: Snapshot persistence and time-series queries
*/
package evm

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Fixed-precision amount with currency tag
// =============================================================================

type Money struct {
	Amount   decimal.Decimal
	Currency string
}

func NewMoneyFromInt(amount int64, currency string) Money {
	return Money{Amount: decimal.NewFromInt(amount), Currency: currency}
}

func ZeroMoney(currency string) Money {
	return Money{Amount: decimal.Zero, Currency: currency}
}

func MustParseMoney(s, currency string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ZeroMoney(currency)
	}
	return Money{Amount: d, Currency: currency}
}

// Arithmetic keeps the receiver's currency. Mixing currencies is the
// caller's bug; collaborators convert before handing figures to the engine.
func (m Money) Add(o Money) Money               { return Money{Amount: m.Amount.Add(o.Amount), Currency: m.Currency} }
func (m Money) Sub(o Money) Money               { return Money{Amount: m.Amount.Sub(o.Amount), Currency: m.Currency} }
func (m Money) Mul(s decimal.Decimal) Money     { return Money{Amount: m.Amount.Mul(s), Currency: m.Currency} }
func (m Money) Div(s decimal.Decimal) Money     { return Money{Amount: m.Amount.Div(s), Currency: m.Currency} }
func (m Money) Neg() Money                      { return Money{Amount: m.Amount.Neg(), Currency: m.Currency} }
func (m Money) IsZero() bool                    { return m.Amount.IsZero() }
func (m Money) IsNegative() bool                { return m.Amount.IsNegative() }
func (m Money) IsPositive() bool                { return m.Amount.IsPositive() }
func (m Money) GreaterThan(o Money) bool        { return m.Amount.GreaterThan(o.Amount) }
func (m Money) LessThan(o Money) bool           { return m.Amount.LessThan(o.Amount) }
func (m Money) Equal(o Money) bool              { return m.Amount.Equal(o.Amount) }

func (m Money) String() string { return m.Amount.StringFixed(2) + " " + m.Currency }

// =============================================================================
// PERCENT - Completion fraction in [0, 100]
// =============================================================================

type Percent struct {
	Value decimal.Decimal
}

func NewPercent(v float64) Percent { return Percent{Value: decimal.NewFromFloat(v)} }

var hundred = decimal.NewFromInt(100)

// Fraction returns the percent as a [0,1] multiplier.
func (p Percent) Fraction() decimal.Decimal { return p.Value.Div(hundred) }

// InRange reports whether the percent is within [0, 100].
func (p Percent) InRange() bool {
	return !p.Value.IsNegative() && !p.Value.GreaterThan(hundred)
}

func (p Percent) Add(o Percent) Percent { return Percent{Value: p.Value.Add(o.Value)} }

// =============================================================================
// RATIO - Performance index that may be undefined
// =============================================================================

// Ratio carries CPI/SPI style indices. When the denominator is zero the
// ratio is undefined: Defined is false and Value is zero. Callers decide
// display policy (typically "N/A"); the engine never substitutes 1.0.
type Ratio struct {
	Value   decimal.Decimal
	Defined bool
}

func DefinedRatio(v decimal.Decimal) Ratio { return Ratio{Value: v, Defined: true} }
func UndefinedRatio() Ratio                { return Ratio{} }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type NodeID string
type ProjectID string
type BudgetID string
type CommitmentID string
type RecordID string

// =============================================================================
// MEASUREMENT - How earned value is credited at a leaf
// =============================================================================

type MeasurementMethod string

const (
	MeasurePercentComplete MeasurementMethod = "percent_complete"
	MeasureMilestone       MeasurementMethod = "milestone"
	MeasureWeightedFormula MeasurementMethod = "weighted_formula"
	MeasureUnitsComplete   MeasurementMethod = "units_complete"
)

// Milestone is one entry in a node's milestone set. Weights across a
// node's set must sum to exactly 100; violations are a validation error,
// never silently normalized.
type Milestone struct {
	Name     string
	Weight   Percent
	Achieved bool
}

// WeightedFormula blends a fixed "started" credit with a completion
// credit. The weight pair is an external input (e.g. 20/80).
type WeightedFormula struct {
	StartedCredit   Percent
	CompletedCredit Percent
	Started         bool
	Completed       bool
}

// =============================================================================
// AGGREGATED FIGURES - Rollup output, Metric Calculator input
// =============================================================================

type AggregatedFigures struct {
	PV Money // Planned Value: budgeted cost of work scheduled
	EV Money // Earned Value: budgeted cost of work performed
	AC Money // Actual Cost: recorded cost of work performed
}

// =============================================================================
// EVM METRICS - Derived variances, indices, forecasts
// =============================================================================

type EVMMetrics struct {
	CV  Money // Cost Variance: EV - AC
	SV  Money // Schedule Variance: EV - PV
	CPI Ratio // Cost Performance Index: EV / AC (undefined when AC = 0)
	SPI Ratio // Schedule Performance Index: EV / PV (undefined when PV = 0)
	EAC Money // Estimate at Completion (per selected strategy)
	ETC Money // Estimate to Complete: EAC - AC
	VAC Money // Variance at Completion: BAC - EAC
}

// =============================================================================
// EVM RECORD - Immutable periodic snapshot
// =============================================================================

type PeriodType string

const (
	PeriodWeekly  PeriodType = "weekly"
	PeriodMonthly PeriodType = "monthly"
	PeriodCustom  PeriodType = "custom"
)

// EVMRecord is a snapshot of a node's figures at a data date. Records are
// never mutated after creation; a correction is a new record with a later
// CapturedAt, preserving the trend series. CapturedAt keeps full wall
// clock precision so same-day corrections still order deterministically;
// only DataDate is day-granular.
type EVMRecord struct {
	ID         RecordID
	NodeID     NodeID
	DataDate   TimePoint
	PeriodType PeriodType

	Figures AggregatedFigures
	BAC     Money
	Metrics EVMMetrics

	CapturedAt time.Time
	CapturedBy string
}
