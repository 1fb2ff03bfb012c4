/*
estimator.go - Box to unit conversion factor

PURPOSE:
  A box-priced order line must also debit the weight balance. The amount
  is avgUnitsPerBox * boxes, where avgUnitsPerBox is learned from approved
  purchase lines.

TWO MODES (they differ on purpose and must not be merged):

  EstimateLastApproved - live order fulfillment
    Uses only the most recent UpdatedFromOrders entry:
      perLb                 if perLb > 0
      totalLb / newQuantity if newQuantity > 0
      0                     otherwise, or when no entry exists

  EstimateReplay - ledger replay
    Same preference, but with no entry falls back to the overall average:
      unitPurchase / totalPurchase if totalPurchase > 0, else 0

A zero factor turns every weight-derived debit or credit into a no-op.
*/
package stock

import "github.com/shopspring/decimal"

type EstimatorMode int

const (
	EstimateLastApproved EstimatorMode = iota
	EstimateReplay
)

func (m EstimatorMode) String() string {
	if m == EstimateReplay {
		return "replay"
	}
	return "last_approved"
}

type Estimator struct {
	Mode EstimatorMode
}

// AvgUnitsPerBox returns the units-per-box factor for p. Never divides by zero.
func (e Estimator) AvgUnitsPerBox(p *Product) decimal.Decimal {
	if n := len(p.UpdatedFromOrders); n > 0 {
		return contributionFactor(p.UpdatedFromOrders[n-1])
	}
	if e.Mode == EstimateReplay && p.TotalPurchase.IsPositive() {
		return p.UnitPurchase.Div(p.TotalPurchase)
	}
	return decimal.Zero
}

// contributionFactor prefers the credited weight over the quoted perLb so
// that box sales debit at the same rate the purchase credited.
func contributionFactor(c PurchaseContribution) decimal.Decimal {
	if c.NewQuantity.IsPositive() && c.TotalLb.IsPositive() {
		return c.TotalLb.Div(c.NewQuantity)
	}
	if c.PerLb.IsPositive() {
		return c.PerLb
	}
	return decimal.Zero
}
