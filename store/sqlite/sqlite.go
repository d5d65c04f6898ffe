/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements every persistence interface of the engine using SQLite.
  In production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

INTERFACES IMPLEMENTED:
  budget.TxStore       (via Budgets())
  commitment.TxStore   (via Commitments())
  evm.NodeStore        hierarchy snapshot
  evm.RecordStore      append-only EVM record log
  evm.ManualEacStore   manual EAC figures
  evm.AuditLog         append-only audit trail

APPEND-ONLY ENFORCEMENT:
  evm_records and audit_log have INSERT and SELECT statements only.
  Corrections to the trend series are new records with a later capture
  time.

OPTIMISTIC CONCURRENCY:
  Budgets and commitments carry a version column. Saves execute
  UPDATE ... WHERE id=? AND version=?; zero rows affected means a
  concurrent writer won, surfaced as evm.ErrConcurrencyConflict for the
  caller to retry with fresh state.

MONEY AND DATES:
  Monetary amounts are stored as decimal strings, never floats. Dates
  are stored as ISO day strings. Item lists, revision trails, invoices,
  and allocations are JSON side-car columns on their aggregate row -
  they are only ever read and written with the whole aggregate.

WAL MODE:
  SQLite is opened with WAL for better concurrency: readers don't block
  and there is a single writer at a time.

USAGE:
  st, err := sqlite.New("./data/evm.db")
  if err != nil { log.Fatal(err) }
  defer st.Close()

  budgetSvc := budget.NewService(st.Budgets(), st)

SEE ALSO:
  - budget/store.go, commitment/store.go, evm/store.go: Contracts
  - store/memory: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/evm-engine/budget"
	"github.com/warp/evm-engine/commitment"
	"github.com/warp/evm-engine/evm"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a SQLite store. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS budgets (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		name TEXT NOT NULL,
		currency TEXT NOT NULL,
		state TEXT NOT NULL,
		items_json TEXT NOT NULL,
		revisions_json TEXT NOT NULL,
		rejection_reason TEXT,
		seeded_from TEXT,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_budgets_project ON budgets(project_id);
	CREATE INDEX IF NOT EXISTS idx_budgets_project_state ON budgets(project_id, state);

	CREATE TABLE IF NOT EXISTS commitments (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		contractor_id TEXT,
		name TEXT NOT NULL,
		currency TEXT NOT NULL,
		state TEXT NOT NULL,
		original_amount TEXT NOT NULL,
		revised_amount TEXT NOT NULL,
		invoiced_amount TEXT NOT NULL,
		items_json TEXT NOT NULL,
		allocations_json TEXT NOT NULL,
		revisions_json TEXT NOT NULL,
		invoices_json TEXT NOT NULL,
		rejection_reason TEXT,
		cancellation_reason TEXT,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_commitments_project ON commitments(project_id);

	CREATE TABLE IF NOT EXISTS hierarchy_nodes (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		parent_id TEXT,
		name TEXT NOT NULL,
		level TEXT NOT NULL,
		bac TEXT NOT NULL,
		currency TEXT NOT NULL,
		percent_complete TEXT NOT NULL,
		actual_cost TEXT NOT NULL,
		planned_start TEXT,
		planned_end TEXT,
		method TEXT NOT NULL,
		milestones_json TEXT,
		formula_json TEXT,
		units_planned TEXT NOT NULL,
		units_complete TEXT NOT NULL,
		scurve_json TEXT,
		has_progress INTEGER NOT NULL,
		children_count INTEGER NOT NULL,
		completed_children_count INTEGER NOT NULL,
		deleted_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_nodes_project ON hierarchy_nodes(project_id);
	CREATE INDEX IF NOT EXISTS idx_nodes_parent ON hierarchy_nodes(parent_id);

	-- Append-only EVM snapshot log. No UPDATE or DELETE statements exist
	-- for this table anywhere in this package.
	CREATE TABLE IF NOT EXISTS evm_records (
		id TEXT PRIMARY KEY,
		node_id TEXT NOT NULL,
		data_date TEXT NOT NULL,
		period_type TEXT NOT NULL,
		pv TEXT NOT NULL,
		ev TEXT NOT NULL,
		ac TEXT NOT NULL,
		bac TEXT NOT NULL,
		currency TEXT NOT NULL,
		cv TEXT NOT NULL,
		sv TEXT NOT NULL,
		cpi TEXT,
		spi TEXT,
		eac TEXT NOT NULL,
		etc TEXT NOT NULL,
		vac TEXT NOT NULL,
		captured_at INTEGER NOT NULL,
		captured_by TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_records_node_date
		ON evm_records(node_id, data_date, captured_at);

	CREATE TABLE IF NOT EXISTS manual_eac (
		node_id TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		currency TEXT NOT NULL,
		justification TEXT NOT NULL,
		set_by TEXT NOT NULL,
		set_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		at TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		node_id TEXT,
		payload_json TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_log(action);
	`
	_, err := s.db.Exec(schema)
	return err
}

// dbtx abstracts *sql.DB and *sql.Tx so the same queries serve both the
// plain store and the transactional view.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// DATE AND JSON HELPERS
// =============================================================================

func fmtDate(tp evm.TimePoint) string { return tp.String() }

func parseDate(s string) evm.TimePoint {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return evm.TimePoint{}
	}
	return evm.FromTime(t)
}

func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// =============================================================================
// BUDGETS
// =============================================================================

// Budgets returns the budget.TxStore view over this database.
func (s *Store) Budgets() budget.TxStore { return &budgetStore{db: s.db, q: s.db} }

type budgetStore struct {
	db *sql.DB // nil inside a transaction view
	q  dbtx
}

func (bs *budgetStore) Create(ctx context.Context, b *budget.Budget) error {
	b.Version = 1
	_, err := bs.q.ExecContext(ctx, `
		INSERT INTO budgets (id, project_id, name, currency, state, items_json,
			revisions_json, rejection_reason, seeded_from, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(b.ID), string(b.ProjectID), b.Name, b.Currency, string(b.State),
		toJSON(b.Items), toJSON(b.Revisions), b.RejectionReason, string(b.SeededFrom),
		b.Version, fmtDate(b.CreatedAt), fmtDate(b.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert budget %s: %w", b.ID, err)
	}
	return nil
}

func (bs *budgetStore) Get(ctx context.Context, id string) (*budget.Budget, error) {
	row := bs.q.QueryRowContext(ctx, `
		SELECT id, project_id, name, currency, state, items_json, revisions_json,
			rejection_reason, seeded_from, version, created_at, updated_at
		FROM budgets WHERE id = ?`, id)
	b, err := scanBudget(row)
	if err == sql.ErrNoRows {
		return nil, evm.NotFoundError("budget", id)
	}
	return b, err
}

func (bs *budgetStore) ByProject(ctx context.Context, projectID string) ([]*budget.Budget, error) {
	rows, err := bs.q.QueryContext(ctx, `
		SELECT id, project_id, name, currency, state, items_json, revisions_json,
			rejection_reason, seeded_from, version, created_at, updated_at
		FROM budgets WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*budget.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (bs *budgetStore) Save(ctx context.Context, b *budget.Budget) error {
	res, err := bs.q.ExecContext(ctx, `
		UPDATE budgets SET project_id=?, name=?, currency=?, state=?, items_json=?,
			revisions_json=?, rejection_reason=?, seeded_from=?, version=version+1, updated_at=?
		WHERE id=? AND version=?`,
		string(b.ProjectID), b.Name, b.Currency, string(b.State), toJSON(b.Items),
		toJSON(b.Revisions), b.RejectionReason, string(b.SeededFrom),
		fmtDate(b.UpdatedAt), string(b.ID), b.Version)
	if err != nil {
		return fmt.Errorf("failed to save budget %s: %w", b.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either the row is gone or a concurrent writer bumped the version.
		var exists int
		if err := bs.q.QueryRowContext(ctx, `SELECT COUNT(1) FROM budgets WHERE id=?`, string(b.ID)).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return evm.NotFoundError("budget", b.ID)
		}
		return evm.ConflictError("budget", b.ID)
	}
	b.Version++
	return nil
}

func (bs *budgetStore) WithTx(ctx context.Context, fn func(budget.Store) error) error {
	tx, err := bs.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&budgetStore{q: tx}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanBudget(r rowScanner) (*budget.Budget, error) {
	var (
		b                        budget.Budget
		id, projectID, state     string
		itemsJSON, revisionsJSON string
		seededFrom               string
		rejection                sql.NullString
		createdAt, updatedAt     string
	)
	err := r.Scan(&id, &projectID, &b.Name, &b.Currency, &state, &itemsJSON,
		&revisionsJSON, &rejection, &seededFrom, &b.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	b.ID = evm.BudgetID(id)
	b.ProjectID = evm.ProjectID(projectID)
	b.State = budget.State(state)
	b.SeededFrom = evm.BudgetID(seededFrom)
	b.RejectionReason = rejection.String
	b.CreatedAt = parseDate(createdAt)
	b.UpdatedAt = parseDate(updatedAt)
	if err := json.Unmarshal([]byte(itemsJSON), &b.Items); err != nil {
		return nil, fmt.Errorf("corrupt items for budget %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(revisionsJSON), &b.Revisions); err != nil {
		return nil, fmt.Errorf("corrupt revisions for budget %s: %w", id, err)
	}
	return &b, nil
}

// =============================================================================
// COMMITMENTS
// =============================================================================

// Commitments returns the commitment.TxStore view over this database.
func (s *Store) Commitments() commitment.TxStore { return &commitmentStore{db: s.db, q: s.db} }

type commitmentStore struct {
	db *sql.DB
	q  dbtx
}

func (cs *commitmentStore) Create(ctx context.Context, c *commitment.Commitment) error {
	c.Version = 1
	_, err := cs.q.ExecContext(ctx, `
		INSERT INTO commitments (id, project_id, contractor_id, name, currency, state,
			original_amount, revised_amount, invoiced_amount, items_json, allocations_json,
			revisions_json, invoices_json, rejection_reason, cancellation_reason, version,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(c.ID), string(c.ProjectID), c.ContractorID, c.Name, c.Currency, string(c.State),
		c.OriginalAmount.Amount.String(), c.RevisedAmount.Amount.String(), c.InvoicedAmount.Amount.String(),
		toJSON(c.Items), toJSON(c.Allocations), toJSON(c.Revisions), toJSON(c.Invoices),
		c.RejectionReason, c.CancellationReason, c.Version, fmtDate(c.CreatedAt), fmtDate(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert commitment %s: %w", c.ID, err)
	}
	return nil
}

func (cs *commitmentStore) Get(ctx context.Context, id string) (*commitment.Commitment, error) {
	row := cs.q.QueryRowContext(ctx, `
		SELECT id, project_id, contractor_id, name, currency, state, original_amount,
			revised_amount, invoiced_amount, items_json, allocations_json, revisions_json,
			invoices_json, rejection_reason, cancellation_reason, version, created_at, updated_at
		FROM commitments WHERE id = ?`, id)
	c, err := scanCommitment(row)
	if err == sql.ErrNoRows {
		return nil, evm.NotFoundError("commitment", id)
	}
	return c, err
}

func (cs *commitmentStore) ByProject(ctx context.Context, projectID string) ([]*commitment.Commitment, error) {
	rows, err := cs.q.QueryContext(ctx, `
		SELECT id, project_id, contractor_id, name, currency, state, original_amount,
			revised_amount, invoiced_amount, items_json, allocations_json, revisions_json,
			invoices_json, rejection_reason, cancellation_reason, version, created_at, updated_at
		FROM commitments WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*commitment.Commitment
	for rows.Next() {
		c, err := scanCommitment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (cs *commitmentStore) Save(ctx context.Context, c *commitment.Commitment) error {
	res, err := cs.q.ExecContext(ctx, `
		UPDATE commitments SET project_id=?, contractor_id=?, name=?, currency=?, state=?,
			original_amount=?, revised_amount=?, invoiced_amount=?, items_json=?,
			allocations_json=?, revisions_json=?, invoices_json=?, rejection_reason=?,
			cancellation_reason=?, version=version+1, updated_at=?
		WHERE id=? AND version=?`,
		string(c.ProjectID), c.ContractorID, c.Name, c.Currency, string(c.State),
		c.OriginalAmount.Amount.String(), c.RevisedAmount.Amount.String(), c.InvoicedAmount.Amount.String(),
		toJSON(c.Items), toJSON(c.Allocations), toJSON(c.Revisions), toJSON(c.Invoices),
		c.RejectionReason, c.CancellationReason, fmtDate(c.UpdatedAt), string(c.ID), c.Version)
	if err != nil {
		return fmt.Errorf("failed to save commitment %s: %w", c.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := cs.q.QueryRowContext(ctx, `SELECT COUNT(1) FROM commitments WHERE id=?`, string(c.ID)).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return evm.NotFoundError("commitment", c.ID)
		}
		return evm.ConflictError("commitment", c.ID)
	}
	c.Version++
	return nil
}

func (cs *commitmentStore) Delete(ctx context.Context, id string) error {
	res, err := cs.q.ExecContext(ctx, `DELETE FROM commitments WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return evm.NotFoundError("commitment", id)
	}
	return nil
}

func (cs *commitmentStore) WithTx(ctx context.Context, fn func(commitment.Store) error) error {
	tx, err := cs.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&commitmentStore{q: tx}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func scanCommitment(r rowScanner) (*commitment.Commitment, error) {
	var (
		c                                            commitment.Commitment
		id, projectID, state                         string
		contractor, rejection, cancellation          sql.NullString
		original, revised, invoiced                  string
		itemsJSON, allocJSON, revsJSON, invoicesJSON string
		createdAt, updatedAt                         string
	)
	err := r.Scan(&id, &projectID, &contractor, &c.Name, &c.Currency, &state,
		&original, &revised, &invoiced, &itemsJSON, &allocJSON, &revsJSON,
		&invoicesJSON, &rejection, &cancellation, &c.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	c.ID = evm.CommitmentID(id)
	c.ProjectID = evm.ProjectID(projectID)
	c.ContractorID = contractor.String
	c.State = commitment.State(state)
	c.RejectionReason = rejection.String
	c.CancellationReason = cancellation.String
	c.CreatedAt = parseDate(createdAt)
	c.UpdatedAt = parseDate(updatedAt)
	c.OriginalAmount = evm.MustParseMoney(original, c.Currency)
	c.RevisedAmount = evm.MustParseMoney(revised, c.Currency)
	c.InvoicedAmount = evm.MustParseMoney(invoiced, c.Currency)
	if err := json.Unmarshal([]byte(itemsJSON), &c.Items); err != nil {
		return nil, fmt.Errorf("corrupt items for commitment %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(allocJSON), &c.Allocations); err != nil {
		return nil, fmt.Errorf("corrupt allocations for commitment %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(revsJSON), &c.Revisions); err != nil {
		return nil, fmt.Errorf("corrupt revisions for commitment %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(invoicesJSON), &c.Invoices); err != nil {
		return nil, fmt.Errorf("corrupt invoices for commitment %s: %w", id, err)
	}
	return &c, nil
}

// =============================================================================
// HIERARCHY NODES
// =============================================================================

var (
	_ evm.NodeStore      = (*Store)(nil)
	_ evm.RecordStore    = (*Store)(nil)
	_ evm.ManualEacStore = (*Store)(nil)
	_ evm.AuditLog       = (*Store)(nil)
)

// SaveNode upserts a hierarchy node (collaborator write path).
func (s *Store) SaveNode(ctx context.Context, n *evm.HierarchyNode) error {
	var deletedAt any
	if n.DeletedAt != nil {
		deletedAt = fmtDate(*n.DeletedAt)
	}
	var plannedStart, plannedEnd any
	if !n.Planned.Start.IsZero() {
		plannedStart = fmtDate(n.Planned.Start)
		plannedEnd = fmtDate(n.Planned.End)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hierarchy_nodes (id, project_id, parent_id, name, level, bac, currency,
			percent_complete, actual_cost, planned_start, planned_end, method,
			milestones_json, formula_json, units_planned, units_complete, scurve_json,
			has_progress, children_count, completed_children_count, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id=excluded.project_id, parent_id=excluded.parent_id,
			name=excluded.name, level=excluded.level, bac=excluded.bac,
			currency=excluded.currency, percent_complete=excluded.percent_complete,
			actual_cost=excluded.actual_cost, planned_start=excluded.planned_start,
			planned_end=excluded.planned_end, method=excluded.method,
			milestones_json=excluded.milestones_json, formula_json=excluded.formula_json,
			units_planned=excluded.units_planned, units_complete=excluded.units_complete,
			scurve_json=excluded.scurve_json, has_progress=excluded.has_progress,
			children_count=excluded.children_count,
			completed_children_count=excluded.completed_children_count,
			deleted_at=excluded.deleted_at`,
		string(n.ID), string(n.ProjectID), string(n.ParentID), n.Name, string(n.Level),
		n.BAC.Amount.String(), n.BAC.Currency, n.PercentComplete.Value.String(),
		n.ActualCost.Amount.String(), plannedStart, plannedEnd, string(n.MeasurementMethod),
		toJSON(n.Milestones), toJSON(n.Formula), n.UnitsPlanned.String(), n.UnitsComplete.String(),
		toJSON(n.SCurve), n.HasProgress, n.ChildrenCount, n.CompletedChildrenCount, deletedAt)
	return err
}

const nodeColumns = `id, project_id, parent_id, name, level, bac, currency,
	percent_complete, actual_cost, planned_start, planned_end, method,
	milestones_json, formula_json, units_planned, units_complete, scurve_json,
	has_progress, children_count, completed_children_count, deleted_at`

func (s *Store) Node(ctx context.Context, id evm.NodeID) (*evm.HierarchyNode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM hierarchy_nodes WHERE id = ?`, string(id))
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, evm.NotFoundError("hierarchy node", id)
	}
	return n, err
}

func (s *Store) ProjectNodes(ctx context.Context, projectID evm.ProjectID) ([]*evm.HierarchyNode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM hierarchy_nodes WHERE project_id = ? ORDER BY id`, string(projectID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*evm.HierarchyNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Projects lists the distinct project IDs present in the hierarchy.
func (s *Store) Projects(ctx context.Context) ([]evm.ProjectID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT project_id FROM hierarchy_nodes ORDER BY project_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []evm.ProjectID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, evm.ProjectID(id))
	}
	return out, rows.Err()
}

func scanNode(r rowScanner) (*evm.HierarchyNode, error) {
	var (
		n                                 evm.HierarchyNode
		id, projectID, parentID, level    string
		bac, currency, percent, actual    string
		plannedStart, plannedEnd          sql.NullString
		method                            string
		milestonesJSON, formulaJSON       sql.NullString
		unitsPlanned, unitsComplete       string
		scurveJSON, deletedAt             sql.NullString
	)
	err := r.Scan(&id, &projectID, &parentID, &n.Name, &level, &bac, &currency,
		&percent, &actual, &plannedStart, &plannedEnd, &method, &milestonesJSON,
		&formulaJSON, &unitsPlanned, &unitsComplete, &scurveJSON, &n.HasProgress,
		&n.ChildrenCount, &n.CompletedChildrenCount, &deletedAt)
	if err != nil {
		return nil, err
	}
	n.ID = evm.NodeID(id)
	n.ProjectID = evm.ProjectID(projectID)
	n.ParentID = evm.NodeID(parentID)
	n.Level = evm.NodeLevel(level)
	n.BAC = evm.MustParseMoney(bac, currency)
	n.ActualCost = evm.MustParseMoney(actual, currency)
	n.PercentComplete = evm.Percent{Value: mustDecimal(percent)}
	n.MeasurementMethod = evm.MeasurementMethod(method)
	n.UnitsPlanned = mustDecimal(unitsPlanned)
	n.UnitsComplete = mustDecimal(unitsComplete)
	if plannedStart.Valid && plannedEnd.Valid {
		n.Planned = evm.Period{Start: parseDate(plannedStart.String), End: parseDate(plannedEnd.String)}
	}
	if milestonesJSON.Valid {
		if err := json.Unmarshal([]byte(milestonesJSON.String), &n.Milestones); err != nil {
			return nil, fmt.Errorf("corrupt milestones for node %s: %w", id, err)
		}
	}
	if formulaJSON.Valid && formulaJSON.String != "null" {
		n.Formula = &evm.WeightedFormula{}
		if err := json.Unmarshal([]byte(formulaJSON.String), n.Formula); err != nil {
			return nil, fmt.Errorf("corrupt formula for node %s: %w", id, err)
		}
	}
	if scurveJSON.Valid {
		if err := json.Unmarshal([]byte(scurveJSON.String), &n.SCurve); err != nil {
			return nil, fmt.Errorf("corrupt s-curve for node %s: %w", id, err)
		}
	}
	if deletedAt.Valid {
		d := parseDate(deletedAt.String)
		n.DeletedAt = &d
	}
	return &n, nil
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// EVM RECORDS - Append-only
// =============================================================================

func (s *Store) AppendRecord(ctx context.Context, rec evm.EVMRecord) error {
	var cpi, spi any
	if rec.Metrics.CPI.Defined {
		cpi = rec.Metrics.CPI.Value.String()
	}
	if rec.Metrics.SPI.Defined {
		spi = rec.Metrics.SPI.Value.String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evm_records (id, node_id, data_date, period_type, pv, ev, ac, bac,
			currency, cv, sv, cpi, spi, eac, etc, vac, captured_at, captured_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(rec.ID), string(rec.NodeID), fmtDate(rec.DataDate), string(rec.PeriodType),
		rec.Figures.PV.Amount.String(), rec.Figures.EV.Amount.String(), rec.Figures.AC.Amount.String(),
		rec.BAC.Amount.String(), rec.BAC.Currency,
		rec.Metrics.CV.Amount.String(), rec.Metrics.SV.Amount.String(), cpi, spi,
		rec.Metrics.EAC.Amount.String(), rec.Metrics.ETC.Amount.String(), rec.Metrics.VAC.Amount.String(),
		rec.CapturedAt.UTC().UnixNano(), rec.CapturedBy)
	if err != nil {
		return fmt.Errorf("failed to append evm record %s: %w", rec.ID, err)
	}
	return nil
}

const recordColumns = `id, node_id, data_date, period_type, pv, ev, ac, bac, currency,
	cv, sv, cpi, spi, eac, etc, vac, captured_at, captured_by`

func (s *Store) RecordsInRange(ctx context.Context, nodeID evm.NodeID, from, to evm.TimePoint) ([]evm.EVMRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM evm_records
		WHERE node_id = ? AND data_date >= ? AND data_date <= ?
		ORDER BY data_date, captured_at`,
		string(nodeID), fmtDate(from), fmtDate(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []evm.EVMRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) LatestRecord(ctx context.Context, nodeID evm.NodeID, asOf evm.TimePoint) (*evm.EVMRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM evm_records
		WHERE node_id = ? AND data_date <= ?
		ORDER BY data_date DESC, captured_at DESC LIMIT 1`,
		string(nodeID), fmtDate(asOf))
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, evm.NotFoundError("evm record for node", nodeID)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanRecord(r rowScanner) (evm.EVMRecord, error) {
	var (
		rec                          evm.EVMRecord
		id, nodeID, dataDate, period string
		pv, ev, ac, bac, currency    string
		cv, sv                       string
		cpi, spi, capturedBy         sql.NullString
		eac, etc, vac                string
		capturedAt                   int64
	)
	err := r.Scan(&id, &nodeID, &dataDate, &period, &pv, &ev, &ac, &bac, &currency,
		&cv, &sv, &cpi, &spi, &eac, &etc, &vac, &capturedAt, &capturedBy)
	if err != nil {
		return rec, err
	}
	rec.ID = evm.RecordID(id)
	rec.NodeID = evm.NodeID(nodeID)
	rec.DataDate = parseDate(dataDate)
	rec.PeriodType = evm.PeriodType(period)
	rec.Figures = evm.AggregatedFigures{
		PV: evm.MustParseMoney(pv, currency),
		EV: evm.MustParseMoney(ev, currency),
		AC: evm.MustParseMoney(ac, currency),
	}
	rec.BAC = evm.MustParseMoney(bac, currency)
	rec.Metrics.CV = evm.MustParseMoney(cv, currency)
	rec.Metrics.SV = evm.MustParseMoney(sv, currency)
	if cpi.Valid {
		rec.Metrics.CPI = evm.DefinedRatio(mustDecimal(cpi.String))
	}
	if spi.Valid {
		rec.Metrics.SPI = evm.DefinedRatio(mustDecimal(spi.String))
	}
	rec.Metrics.EAC = evm.MustParseMoney(eac, currency)
	rec.Metrics.ETC = evm.MustParseMoney(etc, currency)
	rec.Metrics.VAC = evm.MustParseMoney(vac, currency)
	rec.CapturedAt = time.Unix(0, capturedAt).UTC()
	rec.CapturedBy = capturedBy.String
	return rec, nil
}

// =============================================================================
// MANUAL EAC
// =============================================================================

func (s *Store) SaveManualEac(ctx context.Context, m *evm.ManualEac) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO manual_eac (node_id, value, currency, justification, set_by, set_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET value=excluded.value,
			currency=excluded.currency, justification=excluded.justification,
			set_by=excluded.set_by, set_at=excluded.set_at`,
		string(m.NodeID), m.Value.Amount.String(), m.Value.Currency,
		m.Justification, m.SetBy, fmtDate(m.SetAt))
	return err
}

func (s *Store) ManualEacFor(ctx context.Context, nodeID evm.NodeID) (*evm.ManualEac, error) {
	var (
		value, currency, justification, setBy, setAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT value, currency, justification, set_by, set_at
		FROM manual_eac WHERE node_id = ?`, string(nodeID)).
		Scan(&value, &currency, &justification, &setBy, &setAt)
	if err == sql.ErrNoRows {
		return nil, evm.NotFoundError("manual eac for node", nodeID)
	}
	if err != nil {
		return nil, err
	}
	return &evm.ManualEac{
		NodeID:        nodeID,
		Value:         evm.MustParseMoney(value, currency),
		Justification: justification,
		SetBy:         setBy,
		SetAt:         parseDate(setAt),
	}, nil
}

// =============================================================================
// AUDIT LOG - Append-only
// =============================================================================

func (s *Store) Append(ctx context.Context, entry evm.AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, at, actor_id, action, node_id, payload_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, fmtDate(entry.At), entry.ActorID, string(entry.Action),
		string(entry.NodeID), toJSON(entry.Payload))
	return err
}

func (s *Store) Query(ctx context.Context, filter evm.AuditFilter) ([]evm.AuditEntry, error) {
	query := `SELECT id, at, actor_id, action, node_id, payload_json FROM audit_log WHERE 1=1`
	var args []any
	if filter.NodeID != nil {
		query += ` AND node_id = ?`
		args = append(args, string(*filter.NodeID))
	}
	if filter.ActorID != nil {
		query += ` AND actor_id = ?`
		args = append(args, *filter.ActorID)
	}
	if filter.From != nil {
		query += ` AND at >= ?`
		args = append(args, fmtDate(*filter.From))
	}
	if filter.To != nil {
		query += ` AND at <= ?`
		args = append(args, fmtDate(*filter.To))
	}
	query += ` ORDER BY at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []evm.AuditEntry
	for rows.Next() {
		var (
			e                evm.AuditEntry
			at, action, node string
			actor, payload   sql.NullString
		)
		if err := rows.Scan(&e.ID, &at, &actor, &action, &node, &payload); err != nil {
			return nil, err
		}
		e.At = parseDate(at)
		e.ActorID = actor.String
		e.Action = evm.AuditAction(action)
		e.NodeID = evm.NodeID(node)
		if payload.Valid && payload.String != "null" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, err
			}
		}
		if len(filter.Actions) > 0 {
			match := false
			for _, a := range filter.Actions {
				if a == e.Action {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
