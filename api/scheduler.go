/*
scheduler.go - Periodic EVM snapshot capture

PURPOSE:
  Periodically captures EVMRecord snapshots for every project that has
  an active baseline budget, so trend queries have a regular monthly
  series without anyone triggering captures by hand.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Projects without a baseline are skipped (nothing sanctioned to
    measure against), not errored
  - Each capture goes through the same TrendService as on-demand ones

USAGE:
  scheduler := NewSnapshotScheduler(handler, store)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - evm/trend.go: Capture and trend queries
  - handlers.go: CaptureSnapshot endpoint (manual capture)
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/evm-engine/evm"
)

// ProjectLister enumerates the projects known to the hierarchy store.
type ProjectLister interface {
	Projects(ctx context.Context) ([]evm.ProjectID, error)
}

// SnapshotScheduler captures periodic EVM snapshots per project root.
type SnapshotScheduler struct {
	Handler       *Handler
	Lister        ProjectLister
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewSnapshotScheduler(h *Handler, lister ProjectLister) *SnapshotScheduler {
	return &SnapshotScheduler{
		Handler:       h,
		Lister:        lister,
		CheckInterval: 24 * time.Hour,
		Enabled:       true,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (ss *SnapshotScheduler) Start() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if !ss.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	ss.ticker = time.NewTicker(ss.CheckInterval)
	ss.wg.Add(1)
	go ss.run()
	log.Printf("[Scheduler] Started with check interval: %v", ss.CheckInterval)
}

// Stop halts the scheduler and waits for an in-flight pass to finish.
// Safe to call more than once; calls after the first are no-ops.
func (ss *SnapshotScheduler) Stop() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.ticker == nil {
		return
	}
	ss.ticker.Stop()
	ss.ticker = nil
	close(ss.stop)
	ss.wg.Wait()
	log.Println("[Scheduler] Stopped")
}

func (ss *SnapshotScheduler) run() {
	defer ss.wg.Done()
	for {
		select {
		case <-ss.ticker.C:
			ss.CaptureAll(context.Background())
		case <-ss.stop:
			return
		}
	}
}

// CaptureAll captures a monthly snapshot for every project root with an
// active baseline. Exported so operators can trigger a pass manually.
func (ss *SnapshotScheduler) CaptureAll(ctx context.Context) {
	projects, err := ss.Lister.Projects(ctx)
	if err != nil {
		log.Printf("[Scheduler] Failed to list projects: %v", err)
		return
	}

	for _, projectID := range projects {
		if err := ss.captureProject(ctx, projectID); err != nil {
			log.Printf("[Scheduler] Project %s: %v", projectID, err)
		}
	}
}

func (ss *SnapshotScheduler) captureProject(ctx context.Context, projectID evm.ProjectID) error {
	h := ss.Handler

	baseline, err := h.Budgets.ActiveBaseline(ctx, projectID)
	if err != nil {
		if evm.IsNotFound(err) {
			// No sanctioned plan yet; nothing to measure against.
			return nil
		}
		return err
	}

	nodes, err := h.Nodes.ProjectNodes(ctx, projectID)
	if err != nil {
		return err
	}

	var root *evm.HierarchyNode
	for _, n := range nodes {
		if n.ParentID == "" && !n.IsDeleted() {
			root = n
			break
		}
	}
	if root == nil {
		return nil
	}

	_, err = h.Trends.Capture(ctx, evm.NewHierarchy(nodes), h.Calc,
		root.ID, baseline.Total, evm.Today(), evm.PeriodMonthly, "scheduler")
	if err != nil {
		return err
	}
	log.Printf("[Scheduler] Captured snapshot for project %s (root %s)", projectID, root.ID)
	return nil
}
