/*
trend.go - Periodic snapshot capture and time-series queries

PURPOSE:
  EVMRecords form the trend series for a node: one snapshot per data
  date and period type. This file captures snapshots (on demand or from
  the scheduler) and answers trend queries.

GAPS ARE REAL:
  A missing period means no snapshot was captured. Trend queries surface
  gaps as-is; nothing is interpolated. Report rendering decides how to
  display a hole in the series.

CORRECTIONS:
  A recapture for an existing (node, data date, period type) key appends
  a new record with a later CapturedAt. Queries return the latest
  capture per data date; the superseded record remains in the log.

SEE ALSO:
  - store.go: RecordStore contract
  - api/scheduler.go: Scheduled recomputes feeding this accumulator
*/
package evm

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// =============================================================================
// TREND SERVICE
// =============================================================================

type TrendService struct {
	Records RecordStore
	Audit   AuditLog
}

// Capture computes figures and metrics for a node snapshot and appends
// an immutable EVMRecord.
func (s *TrendService) Capture(
	ctx context.Context,
	h *Hierarchy,
	calc *Calculator,
	nodeID NodeID,
	bac Money,
	dataDate TimePoint,
	periodType PeriodType,
	actor string,
) (*EVMRecord, error) {
	fig, err := h.Rollup(nodeID, dataDate)
	if err != nil {
		return nil, err
	}

	rec := EVMRecord{
		ID:         RecordID(fmt.Sprintf("evmrec-%s-%s-%d", nodeID, dataDate, time.Now().UnixNano())),
		NodeID:     nodeID,
		DataDate:   dataDate,
		PeriodType: periodType,
		Figures:    fig,
		BAC:        bac,
		Metrics:    calc.Calculate(fig, bac),
		CapturedAt: time.Now().UTC(),
		CapturedBy: actor,
	}

	if err := s.Records.AppendRecord(ctx, rec); err != nil {
		return nil, err
	}

	if s.Audit != nil {
		_ = s.Audit.Append(ctx, AuditEntry{
			ID:      fmt.Sprintf("audit-snap-%s-%d", nodeID, time.Now().UnixNano()),
			At:      Today(),
			ActorID: actor,
			Action:  AuditSnapshotCaptured,
			NodeID:  nodeID,
			Payload: map[string]any{"data_date": dataDate.String(), "period": string(periodType)},
		})
	}
	return &rec, nil
}

// ComputeTrend returns the snapshot series for a node between two dates,
// ascending by DataDate. When a data date was captured more than once,
// only the latest capture is returned.
func (s *TrendService) ComputeTrend(ctx context.Context, nodeID NodeID, from, to TimePoint) ([]EVMRecord, error) {
	if to.Before(from) {
		return nil, ValidationError(CodeInvalidPeriod,
			"trend range end %s before start %s", to, from)
	}

	recs, err := s.Records.RecordsInRange(ctx, nodeID, from, to)
	if err != nil {
		return nil, err
	}

	// Latest capture wins per data date. CapturedAt carries wall clock
	// precision, so same-day corrections order by time of day.
	latest := make(map[string]EVMRecord)
	for _, r := range recs {
		key := r.DataDate.String() + "|" + string(r.PeriodType)
		prev, ok := latest[key]
		if !ok || !r.CapturedAt.Before(prev.CapturedAt) {
			latest[key] = r
		}
	}

	out := make([]EVMRecord, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DataDate.Equal(out[j].DataDate) {
			return out[i].DataDate.Before(out[j].DataDate)
		}
		return out[i].PeriodType < out[j].PeriodType
	})
	return out, nil
}
