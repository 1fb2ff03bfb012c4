/*
Package stock provides the inventory stock ledger core.

PURPOSE:
  This package holds the Product Record and the two collaborator documents
  that move it (orders and purchase orders), plus the primitives that keep
  a product's on-hand quantity consistent across two units of measure:
  discrete boxes and continuous units (weight).

KEY CONCEPTS IN THIS FILE (types.go):
  - Product: cached aggregates + append-only history arrays
  - BoxEntry / WeightEntry: history log entries, each keyed to its source line
  - PurchaseContribution: one entry per approved purchase line (estimator input)
  - Order / PurchaseOrder: documents referenced by the ledger, never owned by it

DESIGN PRINCIPLES:
  1. Precision: all quantities are decimal.Decimal
  2. Never negative: Remaining and UnitRemaining debits are clamped at zero
  3. Replayable: every sell-side change appends a history entry dated with
     the order's CreatedAt, not wall-clock time
  4. Keyed history: purchase-side entries carry the purchase line that
     produced them, so edits and revocations are direct lookups

SEE ALSO:
  - product.go: mutation primitives on a Product
  - estimator.go: box -> unit conversion factor
  - summary.go: cached and windowed summaries
  - store.go: persistence interfaces
*/
package stock

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProductID string
type OrderID string
type PurchaseOrderID string
type LineID string

// =============================================================================
// UNIT KIND - Which pricing mode produced a weight delta
// =============================================================================

type UnitKind string

const (
	UnitKindUnit UnitKind = "unit"
	UnitKindBox  UnitKind = "box"
)

func (k UnitKind) Valid() bool { return k == UnitKindUnit || k == UnitKindBox }

// =============================================================================
// HISTORY ENTRIES
// =============================================================================

// SourceRef points a history entry at the document line that produced it.
// Sell-side entries set OrderID, purchase-side entries set PurchaseOrderID.
type SourceRef struct {
	OrderID         OrderID         `json:"order_id,omitempty"`
	PurchaseOrderID PurchaseOrderID `json:"purchase_order_id,omitempty"`
	LineID          LineID          `json:"line_id,omitempty"`
}

func (s SourceRef) IsZero() bool { return s == SourceRef{} }

// BoxEntry is a purchaseHistory / salesHistory record.
type BoxEntry struct {
	Date     time.Time       `json:"date"`
	Quantity decimal.Decimal `json:"quantity"`
	Source   SourceRef       `json:"source"`
}

// WeightEntry is a lbPurchaseHistory / lbSellHistory record.
type WeightEntry struct {
	Date     time.Time       `json:"date"`
	Weight   decimal.Decimal `json:"weight"`
	UnitKind UnitKind        `json:"unit_kind"`
	Source   SourceRef       `json:"source"`
}

// TrashEntry records shrink or spoilage written off.
type TrashEntry struct {
	Quantity decimal.Decimal `json:"quantity"`
	UnitKind UnitKind        `json:"unit_kind"`
	Reason   string          `json:"reason"`
	Date     time.Time       `json:"date"`
}

// ManualAdjustment is a single-slot corrective override.
// Each new adjustment replaces the previous one.
type ManualAdjustment struct {
	Quantity decimal.Decimal `json:"quantity"`
	Date     time.Time       `json:"date"`
}

// PurchaseContribution is the updatedFromOrders entry of one approved purchase line.
type PurchaseContribution struct {
	PurchaseOrderRef PurchaseOrderID `json:"purchase_order_ref"`
	LineRef          LineID          `json:"line_ref"`
	OldQuantity      decimal.Decimal `json:"old_quantity"`
	NewQuantity      decimal.Decimal `json:"new_quantity"`
	PerLb            decimal.Decimal `json:"per_lb"`
	TotalLb          decimal.Decimal `json:"total_lb"`
	Difference       decimal.Decimal `json:"difference"`
}

// =============================================================================
// PRODUCT RECORD
// =============================================================================

// Product is the ledger's record for one catalog item.
//
// INVARIANTS:
//   - Remaining >= 0 and UnitRemaining >= 0
//   - Remaining is a running balance, not TotalPurchase - TotalSell
//   - History arrays are append-only except during replay and keyed purchase edits
type Product struct {
	ID         ProductID `json:"id"`
	Name       string    `json:"name"`
	CategoryID string    `json:"category_id,omitempty"`
	VendorID   string    `json:"vendor_id,omitempty"`

	// Catalog stock counter, moved together with TotalPurchase by approvals.
	Quantity decimal.Decimal `json:"quantity"`

	// Box side
	TotalPurchase decimal.Decimal `json:"total_purchase"`
	TotalSell     decimal.Decimal `json:"total_sell"`
	Remaining     decimal.Decimal `json:"remaining"`

	// Unit (weight) side
	UnitPurchase  decimal.Decimal `json:"unit_purchase"`
	UnitSell      decimal.Decimal `json:"unit_sell"`
	UnitRemaining decimal.Decimal `json:"unit_remaining"`

	PurchaseHistory   []BoxEntry    `json:"purchase_history"`
	SalesHistory      []BoxEntry    `json:"sales_history"`
	LbPurchaseHistory []WeightEntry `json:"lb_purchase_history"`
	LbSellHistory     []WeightEntry `json:"lb_sell_history"`

	QuantityTrash   []TrashEntry      `json:"quantity_trash"`
	ManuallyAddBox  *ManualAdjustment `json:"manually_add_box,omitempty"`
	ManuallyAddUnit *ManualAdjustment `json:"manually_add_unit,omitempty"`

	UpdatedFromOrders []PurchaseContribution `json:"updated_from_orders"`

	// Version is bumped by the store on every save.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewProduct returns a product with zero aggregates and empty history.
func NewProduct(id ProductID, name string) *Product {
	return &Product{
		ID:                id,
		Name:              name,
		PurchaseHistory:   []BoxEntry{},
		SalesHistory:      []BoxEntry{},
		LbPurchaseHistory: []WeightEntry{},
		LbSellHistory:     []WeightEntry{},
		QuantityTrash:     []TrashEntry{},
		UpdatedFromOrders: []PurchaseContribution{},
	}
}

// Clone returns a deep copy. Stores hand out clones so callers never share slices.
func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	c := *p
	c.PurchaseHistory = append([]BoxEntry{}, p.PurchaseHistory...)
	c.SalesHistory = append([]BoxEntry{}, p.SalesHistory...)
	c.LbPurchaseHistory = append([]WeightEntry{}, p.LbPurchaseHistory...)
	c.LbSellHistory = append([]WeightEntry{}, p.LbSellHistory...)
	c.QuantityTrash = append([]TrashEntry{}, p.QuantityTrash...)
	c.UpdatedFromOrders = append([]PurchaseContribution{}, p.UpdatedFromOrders...)
	if p.ManuallyAddBox != nil {
		m := *p.ManuallyAddBox
		c.ManuallyAddBox = &m
	}
	if p.ManuallyAddUnit != nil {
		m := *p.ManuallyAddUnit
		c.ManuallyAddUnit = &m
	}
	return &c
}

// =============================================================================
// ORDERS (sell side)
// =============================================================================

type PricingType string

const (
	PricingUnit PricingType = "unit"
	PricingBox  PricingType = "box"
)

type OrderLine struct {
	ID              LineID          `json:"id"`
	ProductID       ProductID       `json:"product_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	PricingType     PricingType     `json:"pricing_type"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	Total           decimal.Decimal `json:"total"`
	DeletedQuantity decimal.Decimal `json:"deleted_quantity"`
	DeletedTotal    decimal.Decimal `json:"deleted_total"`
}

// Deletion records why and for how much an order was soft-deleted.
type Deletion struct {
	Reason string          `json:"reason"`
	Amount decimal.Decimal `json:"amount"`
	At     time.Time       `json:"at"`
}

type Order struct {
	ID           OrderID         `json:"id"`
	CreatedAt    time.Time       `json:"created_at"`
	CustomerID   string          `json:"customer_id,omitempty"`
	Items        []OrderLine     `json:"items"`
	IsDelete     bool            `json:"is_delete"`
	Deleted      *Deletion       `json:"deleted,omitempty"`
	Total        decimal.Decimal `json:"total"`
	ShippingCost decimal.Decimal `json:"shipping_cost"`
}

// References reports whether any line of the order points at productID.
func (o *Order) References(productID ProductID) bool {
	for _, item := range o.Items {
		if item.ProductID == productID {
			return true
		}
	}
	return false
}

// ProductIDs returns the distinct products referenced by the order.
func (o *Order) ProductIDs() []ProductID {
	seen := make(map[ProductID]bool)
	var ids []ProductID
	for _, item := range o.Items {
		if item.ProductID == "" || seen[item.ProductID] {
			continue
		}
		seen[item.ProductID] = true
		ids = append(ids, item.ProductID)
	}
	return ids
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = append([]OrderLine{}, o.Items...)
	if o.Deleted != nil {
		d := *o.Deleted
		c.Deleted = &d
	}
	return &c
}

// =============================================================================
// PURCHASE ORDERS (purchase side)
// =============================================================================

type QualityStatus string

const (
	QualityPending  QualityStatus = "pending"
	QualityApproved QualityStatus = "approved"
	QualityRejected QualityStatus = "rejected"
)

func (s QualityStatus) Valid() bool {
	return s == QualityPending || s == QualityApproved || s == QualityRejected
}

type PurchaseLine struct {
	ID            LineID          `json:"id"`
	ProductID     ProductID       `json:"product_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	QualityStatus QualityStatus   `json:"quality_status"`
	PerLb         decimal.Decimal `json:"per_lb"`
	TotalWeight   decimal.Decimal `json:"total_weight"`
}

func (l PurchaseLine) Approved() bool { return l.QualityStatus == QualityApproved }

type PurchaseOrder struct {
	ID           PurchaseOrderID `json:"id"`
	PurchaseDate time.Time       `json:"purchase_date"`
	VendorID     string          `json:"vendor_id,omitempty"`
	Items        []PurchaseLine  `json:"items"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ApprovedLines returns the IDs of lines currently in the approved state.
func (po *PurchaseOrder) ApprovedLines() []LineID {
	var ids []LineID
	for _, item := range po.Items {
		if item.Approved() {
			ids = append(ids, item.ID)
		}
	}
	return ids
}

// Line finds a line by ID.
func (po *PurchaseOrder) Line(id LineID) (PurchaseLine, bool) {
	for _, item := range po.Items {
		if item.ID == id {
			return item, true
		}
	}
	return PurchaseLine{}, false
}

func (po *PurchaseOrder) Clone() *PurchaseOrder {
	if po == nil {
		return nil
	}
	c := *po
	c.Items = append([]PurchaseLine{}, po.Items...)
	return &c
}
