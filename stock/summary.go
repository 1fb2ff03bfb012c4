/*
summary.go - Summary Projector

PURPOSE:
  Read-side view of a product for inventory screens and reports.

TWO VIEWS:
  Cached   (no window): the running aggregates stored on the record.
  Windowed (window):    recomputed from the history arrays each call:

    totalPurchase  = sum(purchaseHistory in window)
    totalSell      = sum(salesHistory in window)
    unitPurchase   = sum(lbPurchaseHistory in window)
    unitSell       = sum(lbSellHistory in window)
    totalRemaining = max(0, totalPurchase - totalSell + manualBox - trashBox)
    unitRemaining  = max(0, unitPurchase - unitSell + manualUnit - trashUnit)

  The manual slots are folded in at their current value, unfiltered.
  Trash is filtered by date like the histories.

The two views are computed independently and can disagree, even for an
unbounded window. Replay is the repair path when they drift.
*/
package stock

import "github.com/shopspring/decimal"

// Summary is the reporting projection of one product.
type Summary struct {
	ProductID      ProductID       `json:"product_id"`
	Name           string          `json:"name"`
	TotalPurchase  decimal.Decimal `json:"total_purchase"`
	TotalSell      decimal.Decimal `json:"total_sell"`
	TotalRemaining decimal.Decimal `json:"total_remaining"`
	UnitPurchase   decimal.Decimal `json:"unit_purchase"`
	UnitSell       decimal.Decimal `json:"unit_sell"`
	UnitRemaining  decimal.Decimal `json:"unit_remaining"`
	TrashBox       decimal.Decimal `json:"trash_box"`
	TrashUnit      decimal.Decimal `json:"trash_unit"`
	Windowed       bool            `json:"windowed"`
}

// Summarize returns the cached view when w is nil, the windowed view otherwise.
func Summarize(p *Product, w *Window) Summary {
	if w == nil {
		return cachedSummary(p)
	}
	return windowedSummary(p, *w)
}

func cachedSummary(p *Product) Summary {
	trashBox, trashUnit := sumTrash(p.QuantityTrash, All)
	return Summary{
		ProductID:      p.ID,
		Name:           p.Name,
		TotalPurchase:  p.TotalPurchase,
		TotalSell:      p.TotalSell,
		TotalRemaining: p.Remaining,
		UnitPurchase:   p.UnitPurchase,
		UnitSell:       p.UnitSell,
		UnitRemaining:  p.UnitRemaining,
		TrashBox:       trashBox,
		TrashUnit:      trashUnit,
	}
}

func windowedSummary(p *Product, w Window) Summary {
	s := Summary{
		ProductID:     p.ID,
		Name:          p.Name,
		TotalPurchase: sumBoxes(p.PurchaseHistory, w),
		TotalSell:     sumBoxes(p.SalesHistory, w),
		UnitPurchase:  sumWeights(p.LbPurchaseHistory, w),
		UnitSell:      sumWeights(p.LbSellHistory, w),
		Windowed:      true,
	}
	s.TrashBox, s.TrashUnit = sumTrash(p.QuantityTrash, w)

	manualBox, manualUnit := decimal.Zero, decimal.Zero
	if p.ManuallyAddBox != nil {
		manualBox = p.ManuallyAddBox.Quantity
	}
	if p.ManuallyAddUnit != nil {
		manualUnit = p.ManuallyAddUnit.Quantity
	}

	s.TotalRemaining = nonNegative(s.TotalPurchase.Sub(s.TotalSell).Add(manualBox).Sub(s.TrashBox))
	s.UnitRemaining = nonNegative(s.UnitPurchase.Sub(s.UnitSell).Add(manualUnit).Sub(s.TrashUnit))
	return s
}

func sumBoxes(entries []BoxEntry, w Window) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		if w.Contains(e.Date) {
			total = total.Add(e.Quantity)
		}
	}
	return total
}

func sumWeights(entries []WeightEntry, w Window) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		if w.Contains(e.Date) {
			total = total.Add(e.Weight)
		}
	}
	return total
}

func sumTrash(entries []TrashEntry, w Window) (box, unit decimal.Decimal) {
	box, unit = decimal.Zero, decimal.Zero
	for _, e := range entries {
		if !w.Contains(e.Date) {
			continue
		}
		if e.UnitKind == UnitKindBox {
			box = box.Add(e.Quantity)
		} else {
			unit = unit.Add(e.Quantity)
		}
	}
	return box, unit
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
