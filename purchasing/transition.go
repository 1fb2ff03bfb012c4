package purchasing

import "github.com/warp/stock-ledger/stock"

// Effect is the stock effect of one purchase line changing state.
type Effect string

const (
	EffectNone          Effect = "none"
	EffectFirstApproval Effect = "first_approval"
	EffectRevoke        Effect = "revoke"
	EffectEdit          Effect = "edit"
)

// Transition classifies a line change. prev is nil for a new line, next is
// nil for a removed line.
//
//	not approved -> approved     first_approval
//	approved     -> not approved revoke (also: approved line removed)
//	approved     -> approved     edit when quantity, weight or perLb changed
//	anything else                none
func Transition(prev, next *stock.PurchaseLine) Effect {
	wasApproved := prev != nil && prev.Approved()
	isApproved := next != nil && next.Approved()

	switch {
	case !wasApproved && isApproved:
		return EffectFirstApproval
	case wasApproved && !isApproved:
		return EffectRevoke
	case wasApproved && isApproved:
		if !prev.Quantity.Equal(next.Quantity) ||
			!prev.TotalWeight.Equal(next.TotalWeight) ||
			!prev.PerLb.Equal(next.PerLb) {
			return EffectEdit
		}
	}
	return EffectNone
}
