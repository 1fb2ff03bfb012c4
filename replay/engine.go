/*
Package replay rebuilds the sell side of Product Records from the order
collection.

PURPOSE:
  Orders are the ground truth. If aggregates drift from history (partial
  failures, manual data edits, bugs), Rebuild regenerates both from the
  stored orders.

ALGORITHM (one product):
  1. Reset the sell side to the purchase baseline:
       salesHistory = [], lbSellHistory = []
       totalSell = unitSell = 0
       remaining = totalPurchase, unitRemaining = unitPurchase
  2. Load every order in the window with a line on the product.
  3. Sort by (CreatedAt, ID) and apply only the matching lines, exactly as
     fulfillment does, except the factor falls back to the overall average
     unitPurchase / totalPurchase when no contribution is recorded.

  Soft-deleted orders carry zero live quantities, so they replay to
  nothing. The purchase side, trash and manual adjustments are untouched.

ATOMICITY:
  One product is one transaction under that product's lock, so a rebuild
  never interleaves with live order writes. RebuildAll continues past a
  failed product and records the outcome as a ReplayRun.

SEE ALSO:
  - scheduler.go: periodic RebuildAll
  - fulfillment: the live path these rebuilds must agree with
*/
package replay

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/stock-ledger/stock"
)

const engineName = "replay"

// RunStore is the store surface a full rebuild needs.
type RunStore interface {
	stock.TxStore
	stock.RunStore
}

type Engine struct {
	store     RunStore
	locker    stock.Locker
	estimator stock.Estimator
	recorder  stock.Recorder
	log       *zap.Logger
	now       func() time.Time

	// running guards RebuildAll against overlapping runs.
	running sync.Mutex
}

type Option func(*Engine)

func WithRecorder(r stock.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store RunStore, locker stock.Locker, log *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		locker:    locker,
		estimator: stock.Estimator{Mode: stock.EstimateReplay},
		recorder:  stock.NopRecorder{},
		log:       log.Named(engineName),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProductReport describes one product rebuild.
type ProductReport struct {
	ProductID stock.ProductID `json:"product_id"`
	Orders    int             `json:"orders"`
	Lines     int             `json:"lines"`
	Clamped   int             `json:"clamped"`
}

// =============================================================================
// SINGLE PRODUCT
// =============================================================================

// Rebuild resets and replays one product.
func (e *Engine) Rebuild(ctx context.Context, id stock.ProductID, w stock.Window) (*ProductReport, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}

	report := &ProductReport{ProductID: id}
	err := stock.WithProducts(ctx, e.locker, e.store, []stock.ProductID{id}, func(tx stock.Store) error {
		p, err := tx.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		orders, err := tx.OrdersForProduct(ctx, id, w)
		if err != nil {
			return err
		}
		sortOrders(orders)

		p.ResetSales()
		for _, o := range orders {
			applied := e.replayOrder(p, o, report)
			if applied > 0 {
				report.Orders++
			}
		}
		p.UpdatedAt = e.now()
		return tx.SaveProduct(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	e.log.Debug("product rebuilt",
		zap.String("product_id", string(id)),
		zap.Stringer("window", w),
		zap.Int("orders", report.Orders),
		zap.Int("lines", report.Lines))
	return report, nil
}

func (e *Engine) replayOrder(p *stock.Product, o *stock.Order, report *ProductReport) int {
	applied := 0
	for _, line := range o.Items {
		if line.ProductID != p.ID || !line.Quantity.IsPositive() {
			continue
		}
		factor := decimal.Zero
		if line.PricingType == stock.PricingBox {
			factor = e.estimator.AvgUnitsPerBox(p)
		}
		src := stock.SourceRef{OrderID: o.ID, LineID: line.ID}
		eff := p.ApplySale(line.PricingType, line.Quantity, o.CreatedAt, src, factor)
		if eff.Clamped {
			e.recorder.Clamped(engineName)
			report.Clamped++
		}
		report.Lines++
		applied++
	}
	return applied
}

// sortOrders orders by creation time, breaking ties on ID so equal
// timestamps replay identically every time.
func sortOrders(orders []*stock.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
}

// =============================================================================
// ALL PRODUCTS
// =============================================================================

// RebuildAll rebuilds every product and records the run. A product that
// fails is logged and counted; the others still rebuild. Cancelling ctx
// stops the run between products.
func (e *Engine) RebuildAll(ctx context.Context, w stock.Window) (*stock.ReplayRun, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if !e.running.TryLock() {
		return nil, stock.ErrReplayInProgress
	}
	defer e.running.Unlock()

	started := e.now()
	run := stock.ReplayRun{
		ID:        "run-" + uuid.NewString(),
		From:      timePtr(w.From),
		To:        timePtr(w.To),
		Status:    stock.RunRunning,
		StartedAt: started,
	}
	if err := e.store.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to save run record: %w", err)
	}

	ids, err := e.store.ListProductIDs(ctx)
	if err != nil {
		return e.finish(ctx, run, started, err)
	}

	var firstErr error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			firstErr = err
			break
		}
		run.Products++
		if _, err := e.Rebuild(ctx, id, w); err != nil {
			run.Failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("product %s: %w", id, err)
			}
			e.log.Error("product rebuild failed",
				zap.String("run_id", run.ID),
				zap.String("product_id", string(id)),
				zap.Error(err))
		}
	}
	if run.Products < len(ids) {
		run.Failed += len(ids) - run.Products
		run.Products = len(ids)
	}
	return e.finish(ctx, run, started, firstErr)
}

func (e *Engine) finish(ctx context.Context, run stock.ReplayRun, started time.Time, runErr error) (*stock.ReplayRun, error) {
	completed := e.now()
	run.CompletedAt = &completed

	switch {
	case runErr == nil:
		run.Status = stock.RunCompleted
	case run.Failed > 0 && run.Failed < run.Products:
		run.Status = stock.RunPartial
	default:
		run.Status = stock.RunFailed
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}

	// The run outcome is recorded even when ctx was cancelled.
	if err := e.store.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		return nil, fmt.Errorf("failed to update run record: %w", err)
	}
	e.recorder.ReplayFinished(run.Status, completed.Sub(started))

	e.log.Info("replay finished",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.Int("products", run.Products),
		zap.Int("failed", run.Failed))
	return &run, nil
}

// Runs returns the most recent replay runs.
func (e *Engine) Runs(ctx context.Context, limit int) ([]stock.ReplayRun, error) {
	return e.store.ListRuns(ctx, limit)
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
