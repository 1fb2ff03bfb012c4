/*
product.go - Mutation primitives on a Product Record

PURPOSE:
  Every change to a product's aggregates goes through one of the methods
  below, so the history-append and the aggregate update can never drift
  apart. Engines (fulfillment, purchasing, replay) decide WHICH primitive
  to call; this file decides WHAT it does to the record.

SELL SIDE:
  ApplySale       - debit one order line (unit or box)
  ReverseSale     - push compensating negative entries, credit back
  OutstandingSale - what one order line still holds against the record
  ResetSales      - replay baseline

PURCHASE SIDE (keyed by purchase order + line):
  CreditPurchase - first approval
  RevokePurchase - approved -> rejected/pending
  EditPurchase   - approved line changed while still approved

ADJUSTMENTS:
  RecordTrash, SetManualAdjustment

All debits of Remaining / UnitRemaining are clamped at zero.
*/
package stock

import (
	"time"

	"github.com/shopspring/decimal"
)

// Effect reports what a primitive did to the record.
type Effect struct {
	Boxes decimal.Decimal
	Units decimal.Decimal
	// Clamped is set when a debit was larger than the balance.
	Clamped bool
}

// clampSub returns max(0, a-b) and whether clamping happened.
func clampSub(a, b decimal.Decimal) (decimal.Decimal, bool) {
	r := a.Sub(b)
	if r.IsNegative() {
		return decimal.Zero, true
	}
	return r, false
}

// =============================================================================
// SELL SIDE
// =============================================================================

// ApplySale debits one order line dated at the order's creation time.
// factor is only used for box lines.
func (p *Product) ApplySale(pricing PricingType, qty decimal.Decimal, date time.Time, src SourceRef, factor decimal.Decimal) Effect {
	var eff Effect
	var clamped bool
	switch pricing {
	case PricingUnit:
		p.LbSellHistory = append(p.LbSellHistory, WeightEntry{Date: date, Weight: qty, UnitKind: UnitKindUnit, Source: src})
		p.UnitSell = p.UnitSell.Add(qty)
		p.UnitRemaining, clamped = clampSub(p.UnitRemaining, qty)
		eff.Units = qty
		eff.Clamped = clamped
	case PricingBox:
		units := factor.Mul(qty)
		p.LbSellHistory = append(p.LbSellHistory, WeightEntry{Date: date, Weight: units, UnitKind: UnitKindBox, Source: src})
		p.SalesHistory = append(p.SalesHistory, BoxEntry{Date: date, Quantity: qty, Source: src})
		p.TotalSell = p.TotalSell.Add(qty)
		p.Remaining, clamped = clampSub(p.Remaining, qty)
		eff.Clamped = clamped
		p.UnitRemaining, clamped = clampSub(p.UnitRemaining, units)
		eff.Clamped = eff.Clamped || clamped
		eff.Boxes = qty
		eff.Units = units
	}
	return eff
}

// ReverseSale pushes compensating negative entries for boxes and units and
// credits them back. The original entries stay in the history. For unit
// lines boxes is ignored.
func (p *Product) ReverseSale(pricing PricingType, boxes, units decimal.Decimal, date time.Time, src SourceRef) Effect {
	var eff Effect
	switch pricing {
	case PricingUnit:
		p.LbSellHistory = append(p.LbSellHistory, WeightEntry{Date: date, Weight: units.Neg(), UnitKind: UnitKindUnit, Source: src})
		p.UnitSell = p.UnitSell.Sub(units)
		p.UnitRemaining = p.UnitRemaining.Add(units)
		eff.Units = units.Neg()
	case PricingBox:
		p.LbSellHistory = append(p.LbSellHistory, WeightEntry{Date: date, Weight: units.Neg(), UnitKind: UnitKindBox, Source: src})
		p.SalesHistory = append(p.SalesHistory, BoxEntry{Date: date, Quantity: boxes.Neg(), Source: src})
		p.TotalSell = p.TotalSell.Sub(boxes)
		p.Remaining = p.Remaining.Add(boxes)
		p.UnitRemaining = p.UnitRemaining.Add(units)
		eff.Boxes = boxes.Neg()
		eff.Units = units.Neg()
	}
	return eff
}

// OutstandingSale sums the sell-side entries recorded for one order line,
// compensations included. ok is false when the line never touched p.
func (p *Product) OutstandingSale(src SourceRef) (boxes, units decimal.Decimal, ok bool) {
	boxes, units = decimal.Zero, decimal.Zero
	for _, e := range p.SalesHistory {
		if e.Source == src {
			boxes = boxes.Add(e.Quantity)
			ok = true
		}
	}
	for _, e := range p.LbSellHistory {
		if e.Source == src {
			units = units.Add(e.Weight)
			ok = true
		}
	}
	return boxes, units, ok
}

// ResetSales puts the sell side back to the replay baseline.
func (p *Product) ResetSales() {
	p.SalesHistory = []BoxEntry{}
	p.LbSellHistory = []WeightEntry{}
	p.UnitSell = decimal.Zero
	p.TotalSell = decimal.Zero
	p.UnitRemaining = p.UnitPurchase
	p.Remaining = p.TotalPurchase
}

// =============================================================================
// PURCHASE SIDE
// =============================================================================

// Contribution returns the index of the contribution recorded for a purchase line.
func (p *Product) Contribution(po PurchaseOrderID, line LineID) (int, bool) {
	for i, c := range p.UpdatedFromOrders {
		if c.PurchaseOrderRef == po && c.LineRef == line {
			return i, true
		}
	}
	return -1, false
}

// CreditPurchase applies the first approval of a purchase line.
func (p *Product) CreditPurchase(po PurchaseOrderID, line PurchaseLine, date time.Time) Effect {
	src := SourceRef{PurchaseOrderID: po, LineID: line.ID}
	q, w := line.Quantity, line.TotalWeight

	p.Quantity = p.Quantity.Add(q)
	p.TotalPurchase = p.TotalPurchase.Add(q)
	p.Remaining = p.Remaining.Add(q)
	p.UnitPurchase = p.UnitPurchase.Add(w)
	p.UnitRemaining = p.UnitRemaining.Add(w)

	p.UpdatedFromOrders = append(p.UpdatedFromOrders, PurchaseContribution{
		PurchaseOrderRef: po,
		LineRef:          line.ID,
		OldQuantity:      decimal.Zero,
		NewQuantity:      q,
		PerLb:            line.PerLb,
		TotalLb:          w,
		Difference:       q,
	})
	p.PurchaseHistory = append(p.PurchaseHistory, BoxEntry{Date: date, Quantity: q, Source: src})
	p.LbPurchaseHistory = append(p.LbPurchaseHistory, WeightEntry{Date: date, Weight: w, UnitKind: UnitKindBox, Source: src})
	return Effect{Boxes: q, Units: w}
}

// RevokePurchase subtracts a previously approved line and drops its keyed
// history. Returns false when the line never contributed.
func (p *Product) RevokePurchase(po PurchaseOrderID, line LineID) (Effect, bool) {
	i, ok := p.Contribution(po, line)
	if !ok {
		return Effect{}, false
	}
	c := p.UpdatedFromOrders[i]
	q, w := c.NewQuantity, c.TotalLb

	var eff Effect
	var clamped bool
	p.Quantity, _ = clampSub(p.Quantity, q)
	p.TotalPurchase = p.TotalPurchase.Sub(q)
	p.Remaining, clamped = clampSub(p.Remaining, q)
	eff.Clamped = clamped
	p.UnitPurchase = p.UnitPurchase.Sub(w)
	p.UnitRemaining, clamped = clampSub(p.UnitRemaining, w)
	eff.Clamped = eff.Clamped || clamped
	eff.Boxes, eff.Units = q.Neg(), w.Neg()

	p.UpdatedFromOrders = append(p.UpdatedFromOrders[:i], p.UpdatedFromOrders[i+1:]...)
	src := SourceRef{PurchaseOrderID: po, LineID: line}
	p.PurchaseHistory = dropBoxEntries(p.PurchaseHistory, src)
	p.LbPurchaseHistory = dropWeightEntries(p.LbPurchaseHistory, src)
	return eff, true
}

// EditPurchase applies the difference between an approved line's recorded
// contribution and its new values. History entries are updated in place.
// Returns false when the line never contributed.
func (p *Product) EditPurchase(po PurchaseOrderID, line PurchaseLine, date time.Time) (Effect, bool) {
	i, ok := p.Contribution(po, line.ID)
	if !ok {
		return Effect{}, false
	}
	c := &p.UpdatedFromOrders[i]
	dq := line.Quantity.Sub(c.NewQuantity)
	dw := line.TotalWeight.Sub(c.TotalLb)

	var eff Effect
	var clamped bool
	p.Quantity, _ = clampSub(p.Quantity, dq.Neg())
	p.TotalPurchase = p.TotalPurchase.Add(dq)
	p.Remaining, clamped = clampSub(p.Remaining, dq.Neg())
	eff.Clamped = clamped
	p.UnitPurchase = p.UnitPurchase.Add(dw)
	p.UnitRemaining, clamped = clampSub(p.UnitRemaining, dw.Neg())
	eff.Clamped = eff.Clamped || clamped
	eff.Boxes, eff.Units = dq, dw

	c.OldQuantity = c.NewQuantity
	c.NewQuantity = line.Quantity
	c.PerLb = line.PerLb
	c.TotalLb = line.TotalWeight
	c.Difference = dq

	src := SourceRef{PurchaseOrderID: po, LineID: line.ID}
	for j := range p.PurchaseHistory {
		if p.PurchaseHistory[j].Source == src {
			p.PurchaseHistory[j].Quantity = line.Quantity
			p.PurchaseHistory[j].Date = date
		}
	}
	for j := range p.LbPurchaseHistory {
		if p.LbPurchaseHistory[j].Source == src {
			p.LbPurchaseHistory[j].Weight = line.TotalWeight
			p.LbPurchaseHistory[j].Date = date
		}
	}
	return eff, true
}

func dropBoxEntries(entries []BoxEntry, src SourceRef) []BoxEntry {
	out := entries[:0]
	for _, e := range entries {
		if e.Source != src {
			out = append(out, e)
		}
	}
	return out
}

func dropWeightEntries(entries []WeightEntry, src SourceRef) []WeightEntry {
	out := entries[:0]
	for _, e := range entries {
		if e.Source != src {
			out = append(out, e)
		}
	}
	return out
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

// RecordTrash writes off quantity of the given kind and debits the matching
// remaining balance.
func (p *Product) RecordTrash(qty decimal.Decimal, kind UnitKind, reason string, date time.Time) (Effect, error) {
	if !qty.IsPositive() {
		return Effect{}, ErrInvalidQuantity
	}
	if !kind.Valid() {
		return Effect{}, ErrInvalidUnitKind
	}
	p.QuantityTrash = append(p.QuantityTrash, TrashEntry{Quantity: qty, UnitKind: kind, Reason: reason, Date: date})

	var eff Effect
	if kind == UnitKindBox {
		p.Remaining, eff.Clamped = clampSub(p.Remaining, qty)
		eff.Boxes = qty.Neg()
	} else {
		p.UnitRemaining, eff.Clamped = clampSub(p.UnitRemaining, qty)
		eff.Units = qty.Neg()
	}
	return eff, nil
}

// SetManualAdjustment replaces the manual slot of the given kind. The cached
// remaining moves by the difference to the previous slot value, so setting
// the same value twice changes nothing.
func (p *Product) SetManualAdjustment(kind UnitKind, qty decimal.Decimal, date time.Time) (Effect, error) {
	if !kind.Valid() {
		return Effect{}, ErrInvalidUnitKind
	}
	slot := &p.ManuallyAddUnit
	if kind == UnitKindBox {
		slot = &p.ManuallyAddBox
	}
	prev := decimal.Zero
	if *slot != nil {
		prev = (*slot).Quantity
	}
	*slot = &ManualAdjustment{Quantity: qty, Date: date}

	delta := qty.Sub(prev)
	var eff Effect
	if kind == UnitKindBox {
		p.Remaining, eff.Clamped = clampSub(p.Remaining, delta.Neg())
		eff.Boxes = delta
	} else {
		p.UnitRemaining, eff.Clamped = clampSub(p.UnitRemaining, delta.Neg())
		eff.Units = delta
	}
	return eff, nil
}
