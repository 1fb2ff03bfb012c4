/*
Package purchasing applies purchase-order line approvals to Product Records.

PURPOSE:
  Only approved lines count as stock. Each line moves through
  pending / approved / rejected, and every change is classified by
  Transition into one of four effects:

    first_approval: credit quantity and weight, record a contribution
    revoke:         subtract the recorded contribution, drop its history
    edit:           apply the difference to the recorded contribution
    none:           no stock effect

KEYED HISTORY:
  The contribution and the purchase-side history entries are keyed by
  (purchase order, line). Edits and revocations are direct lookups, and a
  purchase order holding several lines of one product keeps them apart.

GUARDS:
  - A purchase order with an approved line cannot be deleted.
  - The product of an approved line cannot change; reject it first.

SEE ALSO:
  - transition.go: the pure state machine
  - stock/product.go: CreditPurchase / RevokePurchase / EditPurchase
*/
package purchasing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/stock-ledger/stock"
)

const engineName = "purchasing"

type Engine struct {
	store    stock.TxStore
	locker   stock.Locker
	recorder stock.Recorder
	log      *zap.Logger
	now      func() time.Time
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
		store:    store,
		locker:   locker,
		recorder: stock.NopRecorder{},
		log:      log.Named(engineName),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LineTransition reports the effect applied to one line.
type LineTransition struct {
	LineID    stock.LineID    `json:"line_id"`
	ProductID stock.ProductID `json:"product_id"`
	Effect    Effect          `json:"effect"`
}

type Result struct {
	PurchaseOrder *stock.PurchaseOrder `json:"purchase_order"`
	Transitions   []LineTransition     `json:"transitions"`
	Skipped       []stock.SkippedLine  `json:"skipped,omitempty"`
}

// =============================================================================
// CREATE / UPDATE
// =============================================================================

// CreatePurchaseOrder stores a new purchase order. Lines created as
// approved are first approvals.
func (e *Engine) CreatePurchaseOrder(ctx context.Context, po *stock.PurchaseOrder) (*Result, error) {
	next := po.Clone()
	if next.ID == "" {
		next.ID = stock.PurchaseOrderID(uuid.NewString())
	}
	if err := normalize(next); err != nil {
		return nil, err
	}
	now := e.now()
	next.CreatedAt, next.UpdatedAt = now, now
	if next.PurchaseDate.IsZero() {
		next.PurchaseDate = now
	}

	res := &Result{PurchaseOrder: next}
	err := stock.WithProducts(ctx, e.locker, e.store, lineProducts(next), func(tx stock.Store) error {
		if _, err := tx.GetPurchaseOrder(ctx, next.ID); err == nil {
			return fmt.Errorf("%w: %s", stock.ErrPurchaseOrderExists, next.ID)
		} else if !errors.Is(err, stock.ErrPurchaseOrderNotFound) {
			return err
		}
		set := stock.NewProductSet(tx)
		if err := e.applyDiff(ctx, set, nil, next, res); err != nil {
			return err
		}
		if err := tx.SavePurchaseOrder(ctx, next); err != nil {
			return err
		}
		return set.Save(ctx, now)
	})
	if err != nil {
		return nil, err
	}
	e.logResult("purchase order created", res)
	return res, nil
}

// UpdatePurchaseOrder diffs po against the stored version line by line
// (matched on line ID) and applies each line's transition.
func (e *Engine) UpdatePurchaseOrder(ctx context.Context, po *stock.PurchaseOrder) (*Result, error) {
	next := po.Clone()
	if err := normalize(next); err != nil {
		return nil, err
	}
	return e.update(ctx, next.ID, lineProducts(next), "purchase order updated",
		func(current *stock.PurchaseOrder) (*stock.PurchaseOrder, error) {
			next.CreatedAt = current.CreatedAt
			if next.PurchaseDate.IsZero() {
				next.PurchaseDate = current.PurchaseDate
			}
			return next, nil
		})
}

// SetLineStatus changes the quality status of one line. The change is made
// on the purchase order as read under the product locks, so transitions of
// other lines committed meanwhile are kept.
func (e *Engine) SetLineStatus(ctx context.Context, id stock.PurchaseOrderID, lineID stock.LineID, status stock.QualityStatus) (*Result, error) {
	if !status.Valid() {
		return nil, stock.ErrInvalidStatus
	}
	return e.update(ctx, id, nil, "purchase line status changed",
		func(current *stock.PurchaseOrder) (*stock.PurchaseOrder, error) {
			next := current.Clone()
			for i := range next.Items {
				if next.Items[i].ID == lineID {
					next.Items[i].QualityStatus = status
					return next, nil
				}
			}
			return nil, fmt.Errorf("%w: purchase order %s line %s", stock.ErrLineNotFound, id, lineID)
		})
}

// update locks the products of the stored purchase order plus extra, re-reads
// the purchase order inside the transaction and applies the transitions
// between it and the version built by mutate.
func (e *Engine) update(ctx context.Context, id stock.PurchaseOrderID, extra []stock.ProductID, msg string,
	mutate func(current *stock.PurchaseOrder) (*stock.PurchaseOrder, error)) (*Result, error) {
	existing, err := e.store.GetPurchaseOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	ids := append(lineProducts(existing), extra...)
	var res *Result
	err = stock.WithProducts(ctx, e.locker, e.store, ids, func(tx stock.Store) error {
		current, err := tx.GetPurchaseOrder(ctx, id)
		if err != nil {
			return err
		}
		next, err := mutate(current.Clone())
		if err != nil {
			return err
		}
		if !covers(ids, lineProducts(current)) || !covers(ids, lineProducts(next)) {
			return fmt.Errorf("%w: purchase order %s changed while waiting for locks",
				stock.ErrConcurrentModification, id)
		}
		now := e.now()
		next.UpdatedAt = now

		res = &Result{PurchaseOrder: next}
		set := stock.NewProductSet(tx)
		if err := e.applyDiff(ctx, set, current, next, res); err != nil {
			return err
		}
		if err := tx.SavePurchaseOrder(ctx, next); err != nil {
			return err
		}
		return set.Save(ctx, now)
	})
	if err != nil {
		return nil, err
	}
	e.logResult(msg, res)
	return res, nil
}

// DeletePurchaseOrder removes a purchase order that has no approved lines.
func (e *Engine) DeletePurchaseOrder(ctx context.Context, id stock.PurchaseOrderID) error {
	err := e.store.WithTx(ctx, func(tx stock.Store) error {
		po, err := tx.GetPurchaseOrder(ctx, id)
		if err != nil {
			return err
		}
		if approved := po.ApprovedLines(); len(approved) > 0 {
			return &stock.ApprovedPurchaseOrderError{PurchaseOrderID: id, Lines: approved}
		}
		return tx.DeletePurchaseOrder(ctx, id)
	})
	if err != nil {
		return err
	}
	e.log.Info("purchase order deleted", zap.String("purchase_order_id", string(id)))
	return nil
}

func (e *Engine) GetPurchaseOrder(ctx context.Context, id stock.PurchaseOrderID) (*stock.PurchaseOrder, error) {
	return e.store.GetPurchaseOrder(ctx, id)
}

// =============================================================================
// LINE PROCESSING
// =============================================================================

// applyDiff applies the transition of every line between prev (nil for a
// new purchase order) and next.
func (e *Engine) applyDiff(ctx context.Context, set *stock.ProductSet, prev, next *stock.PurchaseOrder, res *Result) error {
	redate := prev != nil && !prev.PurchaseDate.Equal(next.PurchaseDate)
	if prev != nil {
		for _, old := range prev.Items {
			if _, ok := next.Line(old.ID); ok {
				continue
			}
			old := old
			if err := e.apply(ctx, set, next, &old, nil, false, res); err != nil {
				return err
			}
		}
	}

	for i := range next.Items {
		line := &next.Items[i]
		var old *stock.PurchaseLine
		if prev != nil {
			if l, ok := prev.Line(line.ID); ok {
				old = &l
			}
		}
		if old != nil && old.Approved() && line.Approved() && old.ProductID != line.ProductID {
			return &stock.LineError{Index: i, Line: line.ID, Err: stock.ErrImmutableLineProduct}
		}
		if err := e.apply(ctx, set, next, old, line, redate, res); err != nil {
			return err
		}
	}
	return nil
}

// apply runs one line transition. redate turns an unchanged approved line
// into an edit so its history follows the new purchase date.
func (e *Engine) apply(ctx context.Context, set *stock.ProductSet, po *stock.PurchaseOrder, prev, next *stock.PurchaseLine, redate bool, res *Result) error {
	effect := Transition(prev, next)
	if effect == EffectNone && redate && prev != nil && next != nil && next.Approved() {
		effect = EffectEdit
	}
	if effect == EffectNone {
		return nil
	}

	line := next
	if effect == EffectRevoke {
		line = prev
	}
	if effect == EffectFirstApproval && !line.Quantity.IsPositive() {
		e.recorder.LineSkipped(engineName, stock.SkipInvalidQuantity)
		return nil
	}

	p, err := set.Get(ctx, line.ProductID)
	if errors.Is(err, stock.ErrProductNotFound) {
		e.recorder.LineSkipped(engineName, stock.SkipMissingProduct)
		e.log.Warn("purchase line references unknown product; line skipped",
			zap.String("purchase_order_id", string(po.ID)),
			zap.String("line_id", string(line.ID)),
			zap.String("product_id", string(line.ProductID)),
			zap.String("effect", string(effect)))
		res.Skipped = append(res.Skipped, stock.SkippedLine{
			LineID: line.ID, ProductID: line.ProductID, Reason: stock.SkipMissingProduct,
		})
		return nil
	}
	if err != nil {
		return err
	}

	var eff stock.Effect
	applied := true
	switch effect {
	case EffectFirstApproval:
		if _, exists := p.Contribution(po.ID, line.ID); exists {
			eff, applied = p.EditPurchase(po.ID, *line, po.PurchaseDate)
		} else {
			eff = p.CreditPurchase(po.ID, *line, po.PurchaseDate)
		}
	case EffectRevoke:
		eff, applied = p.RevokePurchase(po.ID, line.ID)
	case EffectEdit:
		if _, exists := p.Contribution(po.ID, line.ID); !exists && line.Quantity.IsPositive() {
			// Approved at zero quantity, so nothing was credited yet.
			eff = p.CreditPurchase(po.ID, *line, po.PurchaseDate)
		} else {
			eff, applied = p.EditPurchase(po.ID, *line, po.PurchaseDate)
		}
	}

	if !applied {
		// Nothing was ever recorded for this line; there is nothing to undo.
		e.recorder.LineSkipped(engineName, stock.SkipNoContribution)
		e.log.Debug("purchase line has no recorded contribution",
			zap.String("purchase_order_id", string(po.ID)),
			zap.String("line_id", string(line.ID)),
			zap.String("effect", string(effect)))
		return nil
	}
	if eff.Clamped {
		e.recorder.Clamped(engineName)
	}
	set.Touch(p.ID)
	res.Transitions = append(res.Transitions, LineTransition{LineID: line.ID, ProductID: p.ID, Effect: effect})
	return nil
}

func (e *Engine) logResult(msg string, res *Result) {
	e.log.Info(msg,
		zap.String("purchase_order_id", string(res.PurchaseOrder.ID)),
		zap.Int("transitions", len(res.Transitions)),
		zap.Int("skipped", len(res.Skipped)))
}

// normalize validates statuses, assigns line IDs and derives a missing
// total weight from perLb.
func normalize(po *stock.PurchaseOrder) error {
	seen := make(map[stock.LineID]bool, len(po.Items))
	for i := range po.Items {
		line := &po.Items[i]
		if line.QualityStatus == "" {
			line.QualityStatus = stock.QualityPending
		}
		if !line.QualityStatus.Valid() {
			return &stock.LineError{Index: i, Line: line.ID, Err: stock.ErrInvalidStatus}
		}
		if line.ID == "" {
			line.ID = stock.LineID(uuid.NewString())
		}
		if seen[line.ID] {
			return &stock.LineError{Index: i, Line: line.ID, Err: stock.ErrDuplicateLine}
		}
		seen[line.ID] = true
		if line.TotalWeight.IsZero() && line.PerLb.IsPositive() {
			line.TotalWeight = line.PerLb.Mul(line.Quantity)
		}
		if line.Quantity.IsNegative() || line.TotalWeight.IsNegative() {
			return &stock.LineError{Index: i, Line: line.ID, Err: stock.ErrInvalidQuantity}
		}
	}
	if !po.PurchaseDate.IsZero() {
		po.PurchaseDate = po.PurchaseDate.UTC()
	}
	return nil
}

func lineProducts(po *stock.PurchaseOrder) []stock.ProductID {
	ids := make([]stock.ProductID, 0, len(po.Items))
	for _, line := range po.Items {
		ids = append(ids, line.ProductID)
	}
	return ids
}

func covers(locked, needed []stock.ProductID) bool {
	held := make(map[stock.ProductID]bool, len(locked))
	for _, id := range locked {
		held[id] = true
	}
	for _, id := range needed {
		if id != "" && !held[id] {
			return false
		}
	}
	return true
}
