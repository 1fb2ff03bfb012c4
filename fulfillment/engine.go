/*
Package fulfillment applies and reverses the sell-side effect of orders.

PURPOSE:
  An order's lines debit the Product Records they reference. A box line
  debits both balances: boxes directly, weight through the conversion
  factor learned from the last approved purchase line.

OPERATIONS:
  CreateOrder  - persist a new order and apply its lines
  UpdateOrder  - compensate the stored lines, apply the edited ones
  ReverseOrder - soft delete: compensating entries, order marked deleted
  PurgeOrder   - hard delete of an already soft-deleted order

ATOMICITY:
  One call is one transaction under the locks of every product the order
  references. A store error rolls back every line of that order.

BEST-EFFORT LINES:
  A line whose product does not exist is skipped with a warning and reported
  in Result.Skipped; the rest of the order still commits. A line with
  quantity <= 0 is skipped without a warning.

HISTORY DATES:
  Every entry, compensations included, is dated with the order's CreatedAt.
  Wall-clock time never reaches the history, which keeps replay exact.

SEE ALSO:
  - stock/product.go: ApplySale / ReverseSale
  - replay: rebuilds the same effects from the order collection
*/
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/stock-ledger/stock"
)

const engineName = "fulfillment"

type Engine struct {
	store     stock.TxStore
	locker    stock.Locker
	estimator stock.Estimator
	recorder  stock.Recorder
	log       *zap.Logger
	now       func() time.Time
}

type Option func(*Engine)

func WithRecorder(r stock.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store stock.TxStore, locker stock.Locker, log *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		locker:    locker,
		estimator: stock.Estimator{Mode: stock.EstimateLastApproved},
		recorder:  stock.NopRecorder{},
		log:       log.Named(engineName),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is returned by every write operation.
type Result struct {
	Order   *stock.Order        `json:"order"`
	Applied int                 `json:"applied"`
	Skipped []stock.SkippedLine `json:"skipped,omitempty"`
}

// =============================================================================
// CREATE
// =============================================================================

// CreateOrder assigns missing IDs, computes totals, stores the order and
// applies its lines.
func (e *Engine) CreateOrder(ctx context.Context, order *stock.Order) (*Result, error) {
	o := order.Clone()
	if o.ID == "" {
		o.ID = stock.OrderID(uuid.NewString())
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = e.now()
	}
	o.CreatedAt = o.CreatedAt.UTC()
	if err := normalizeLines(o); err != nil {
		return nil, err
	}

	res := &Result{Order: o}
	err := stock.WithProducts(ctx, e.locker, e.store, o.ProductIDs(), func(tx stock.Store) error {
		if _, err := tx.GetOrder(ctx, o.ID); err == nil {
			return fmt.Errorf("%w: %s", stock.ErrOrderExists, o.ID)
		} else if !errors.Is(err, stock.ErrOrderNotFound) {
			return err
		}

		set := stock.NewProductSet(tx)
		if err := e.applyLines(ctx, set, o, o.Items, res); err != nil {
			return err
		}
		if err := tx.SaveOrder(ctx, o); err != nil {
			return err
		}
		return set.Save(ctx, e.now())
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("order applied",
		zap.String("order_id", string(o.ID)),
		zap.Int("applied", res.Applied),
		zap.Int("skipped", len(res.Skipped)))
	return res, nil
}

// =============================================================================
// UPDATE
// =============================================================================

// UpdateOrder replaces the lines of a live order. The stored lines are
// compensated and the new ones applied in the same transaction, all dated
// at the original CreatedAt.
func (e *Engine) UpdateOrder(ctx context.Context, order *stock.Order) (*Result, error) {
	existing, err := e.store.GetOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if existing.IsDelete {
		return nil, fmt.Errorf("%w: %s", stock.ErrOrderAlreadyDeleted, order.ID)
	}

	o := order.Clone()
	o.CreatedAt = existing.CreatedAt
	o.IsDelete = false
	o.Deleted = nil
	o.Total = decimal.Zero
	if err := normalizeLines(o); err != nil {
		return nil, err
	}

	ids := append(existing.ProductIDs(), o.ProductIDs()...)
	res := &Result{Order: o}
	err = stock.WithProducts(ctx, e.locker, e.store, ids, func(tx stock.Store) error {
		current, err := tx.GetOrder(ctx, o.ID)
		if err != nil {
			return err
		}
		if current.IsDelete {
			return fmt.Errorf("%w: %s", stock.ErrOrderAlreadyDeleted, o.ID)
		}
		if !covers(ids, current.ProductIDs()) {
			return fmt.Errorf("%w: order %s lines changed while waiting for locks",
				stock.ErrConcurrentModification, o.ID)
		}

		set := stock.NewProductSet(tx)
		if err := e.reverseLines(ctx, set, current, nil); err != nil {
			return err
		}
		if err := e.applyLines(ctx, set, o, o.Items, res); err != nil {
			return err
		}
		if err := tx.SaveOrder(ctx, o); err != nil {
			return err
		}
		return set.Save(ctx, e.now())
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("order updated",
		zap.String("order_id", string(o.ID)),
		zap.Int("applied", res.Applied),
		zap.Int("skipped", len(res.Skipped)))
	return res, nil
}

// =============================================================================
// REVERSE (soft delete)
// =============================================================================

// ReverseOrder soft-deletes an order. Each applied line gets compensating
// negative entries; the order keeps its lines for audit with live
// quantities zeroed and the originals in DeletedQuantity / DeletedTotal.
func (e *Engine) ReverseOrder(ctx context.Context, id stock.OrderID, reason string) (*Result, error) {
	existing, err := e.store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.IsDelete {
		return nil, fmt.Errorf("%w: %s", stock.ErrOrderAlreadyDeleted, id)
	}

	res := &Result{}
	err = stock.WithProducts(ctx, e.locker, e.store, existing.ProductIDs(), func(tx stock.Store) error {
		o, err := tx.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if o.IsDelete {
			return fmt.Errorf("%w: %s", stock.ErrOrderAlreadyDeleted, id)
		}
		if !covers(existing.ProductIDs(), o.ProductIDs()) {
			return fmt.Errorf("%w: order %s lines changed while waiting for locks",
				stock.ErrConcurrentModification, id)
		}

		set := stock.NewProductSet(tx)
		if err := e.reverseLines(ctx, set, o, res); err != nil {
			return err
		}

		now := e.now()
		o.IsDelete = true
		o.Deleted = &stock.Deletion{Reason: reason, Amount: o.Total, At: now}
		o.Total = decimal.Zero
		for i := range o.Items {
			item := &o.Items[i]
			item.DeletedQuantity = item.Quantity
			item.DeletedTotal = item.Total
			item.Quantity = decimal.Zero
			item.Total = decimal.Zero
		}
		if err := tx.SaveOrder(ctx, o); err != nil {
			return err
		}
		res.Order = o
		return set.Save(ctx, now)
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("order reversed",
		zap.String("order_id", string(id)),
		zap.String("reason", reason),
		zap.Int("reversed", res.Applied))
	return res, nil
}

// PurgeOrder removes a soft-deleted order. Product Records are not touched.
func (e *Engine) PurgeOrder(ctx context.Context, id stock.OrderID) error {
	err := e.store.WithTx(ctx, func(tx stock.Store) error {
		o, err := tx.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if !o.IsDelete {
			return fmt.Errorf("%w: %s", stock.ErrOrderNotDeleted, id)
		}
		return tx.DeleteOrder(ctx, id)
	})
	if err != nil {
		return err
	}
	e.log.Info("order purged", zap.String("order_id", string(id)))
	return nil
}

func (e *Engine) GetOrder(ctx context.Context, id stock.OrderID) (*stock.Order, error) {
	return e.store.GetOrder(ctx, id)
}

// =============================================================================
// LINE PROCESSING
// =============================================================================

func (e *Engine) applyLines(ctx context.Context, set *stock.ProductSet, o *stock.Order, lines []stock.OrderLine, res *Result) error {
	for _, line := range lines {
		if !line.Quantity.IsPositive() {
			e.recorder.LineSkipped(engineName, stock.SkipInvalidQuantity)
			continue
		}
		p, err := set.Get(ctx, line.ProductID)
		if errors.Is(err, stock.ErrProductNotFound) {
			e.skipMissing(o.ID, line, res)
			continue
		}
		if err != nil {
			return err
		}

		factor := decimal.Zero
		if line.PricingType == stock.PricingBox {
			factor = e.estimator.AvgUnitsPerBox(p)
		}
		src := stock.SourceRef{OrderID: o.ID, LineID: line.ID}
		eff := p.ApplySale(line.PricingType, line.Quantity, o.CreatedAt, src, factor)
		if eff.Clamped {
			e.recorder.Clamped(engineName)
			e.log.Debug("debit clamped at zero",
				zap.String("order_id", string(o.ID)),
				zap.String("product_id", string(p.ID)))
		}
		set.Touch(p.ID)
		res.Applied++
	}
	return nil
}

// reverseLines compensates whatever each line of o still holds against its
// product. Lines that never touched the product are left alone. res may be
// nil when the caller does not report reversals.
func (e *Engine) reverseLines(ctx context.Context, set *stock.ProductSet, o *stock.Order, res *Result) error {
	for _, line := range o.Items {
		if !line.Quantity.IsPositive() {
			continue
		}
		p, err := set.Get(ctx, line.ProductID)
		if errors.Is(err, stock.ErrProductNotFound) {
			if res != nil {
				e.skipMissing(o.ID, line, res)
			}
			continue
		}
		if err != nil {
			return err
		}

		src := stock.SourceRef{OrderID: o.ID, LineID: line.ID}
		boxes, units, ok := p.OutstandingSale(src)
		if !ok || (boxes.IsZero() && units.IsZero()) {
			continue
		}
		p.ReverseSale(line.PricingType, boxes, units, o.CreatedAt, src)
		set.Touch(p.ID)
		if res != nil {
			res.Applied++
		}
	}
	return nil
}

func (e *Engine) skipMissing(orderID stock.OrderID, line stock.OrderLine, res *Result) {
	e.recorder.LineSkipped(engineName, stock.SkipMissingProduct)
	e.log.Warn("order line references unknown product; line skipped",
		zap.String("order_id", string(orderID)),
		zap.String("line_id", string(line.ID)),
		zap.String("product_id", string(line.ProductID)))
	res.Skipped = append(res.Skipped, stock.SkippedLine{
		LineID:    line.ID,
		ProductID: line.ProductID,
		Reason:    stock.SkipMissingProduct,
	})
}

// covers reports whether every product in needed was locked.
func covers(locked, needed []stock.ProductID) bool {
	held := make(map[stock.ProductID]bool, len(locked))
	for _, id := range locked {
		held[id] = true
	}
	for _, id := range needed {
		if !held[id] {
			return false
		}
	}
	return true
}

// normalizeLines validates pricing types, assigns missing line IDs and
// fills in line and order totals.
func normalizeLines(o *stock.Order) error {
	seen := make(map[stock.LineID]bool, len(o.Items))
	sum := decimal.Zero
	for i := range o.Items {
		item := &o.Items[i]
		if item.PricingType != stock.PricingUnit && item.PricingType != stock.PricingBox {
			return &stock.LineError{Index: i, Line: item.ID, Err: stock.ErrInvalidPricingType}
		}
		if item.ID == "" {
			item.ID = stock.LineID(uuid.NewString())
		}
		if seen[item.ID] {
			return &stock.LineError{Index: i, Line: item.ID, Err: stock.ErrDuplicateLine}
		}
		seen[item.ID] = true
		if item.Total.IsZero() {
			item.Total = item.Quantity.Mul(item.UnitPrice)
		}
		sum = sum.Add(item.Total)
	}
	if o.Total.IsZero() {
		o.Total = sum.Add(o.ShippingCost)
	}
	return nil
}
