/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON request bodies. Responses reuse the ledger types
  directly (stock.Product, stock.Order, stock.Summary, engine results),
  which already carry JSON tags.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *DTO:     Response types that do not exist in the domain

VALIDATION:
  Shape is checked with validator/v10 struct tags before any engine call.
  Domain rules (positive quantities, status transitions, delete guards)
  stay in the engines, which return the sentinel errors of stock/errors.go.

  Quantities are decimals and accept either a JSON number or a string.

SEE ALSO:
  - handlers.go: Uses these types
  - stock/types.go: Domain records
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/stock-ledger/stock"
)

// =============================================================================
// PRODUCTS
// =============================================================================

type CreateProductRequest struct {
	ID         string `json:"id" validate:"required,max=128"`
	Name       string `json:"name" validate:"required,max=256"`
	CategoryID string `json:"category_id,omitempty"`
	VendorID   string `json:"vendor_id,omitempty"`
}

type TrashRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
	UnitKind string          `json:"unit_kind" validate:"required,oneof=unit box"`
	Reason   string          `json:"reason" validate:"max=500"`
	Date     *time.Time      `json:"date,omitempty"`
}

type ManualAdjustmentRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
	UnitKind string          `json:"unit_kind" validate:"required,oneof=unit box"`
	Date     *time.Time      `json:"date,omitempty"`
}

// =============================================================================
// ORDERS
// =============================================================================

type OrderLineRequest struct {
	ID          string          `json:"id,omitempty"`
	ProductID   string          `json:"product_id" validate:"required"`
	Quantity    decimal.Decimal `json:"quantity"`
	PricingType string          `json:"pricing_type" validate:"required,oneof=unit box"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Total       decimal.Decimal `json:"total"`
}

type OrderRequest struct {
	ID           string             `json:"id,omitempty"`
	CreatedAt    *time.Time         `json:"created_at,omitempty"`
	CustomerID   string             `json:"customer_id,omitempty"`
	ShippingCost decimal.Decimal    `json:"shipping_cost"`
	Total        decimal.Decimal    `json:"total"`
	Items        []OrderLineRequest `json:"items" validate:"dive"`
}

func (r OrderRequest) toOrder() *stock.Order {
	o := &stock.Order{
		ID:           stock.OrderID(r.ID),
		CustomerID:   r.CustomerID,
		ShippingCost: r.ShippingCost,
		Total:        r.Total,
		Items:        make([]stock.OrderLine, len(r.Items)),
	}
	if r.CreatedAt != nil {
		o.CreatedAt = r.CreatedAt.UTC()
	}
	for i, item := range r.Items {
		o.Items[i] = stock.OrderLine{
			ID:          stock.LineID(item.ID),
			ProductID:   stock.ProductID(item.ProductID),
			Quantity:    item.Quantity,
			PricingType: stock.PricingType(item.PricingType),
			UnitPrice:   item.UnitPrice,
			Total:       item.Total,
		}
	}
	return o
}

type ReverseOrderRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// =============================================================================
// PURCHASE ORDERS
// =============================================================================

type PurchaseLineRequest struct {
	ID            string          `json:"id,omitempty"`
	ProductID     string          `json:"product_id" validate:"required"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	QualityStatus string          `json:"quality_status,omitempty" validate:"omitempty,oneof=pending approved rejected"`
	PerLb         decimal.Decimal `json:"per_lb"`
	TotalWeight   decimal.Decimal `json:"total_weight"`
}

type PurchaseOrderRequest struct {
	ID           string                `json:"id,omitempty"`
	PurchaseDate *time.Time            `json:"purchase_date,omitempty"`
	VendorID     string                `json:"vendor_id,omitempty"`
	Items        []PurchaseLineRequest `json:"items" validate:"dive"`
}

func (r PurchaseOrderRequest) toPurchaseOrder() *stock.PurchaseOrder {
	po := &stock.PurchaseOrder{
		ID:       stock.PurchaseOrderID(r.ID),
		VendorID: r.VendorID,
		Items:    make([]stock.PurchaseLine, len(r.Items)),
	}
	if r.PurchaseDate != nil {
		po.PurchaseDate = r.PurchaseDate.UTC()
	}
	for i, item := range r.Items {
		po.Items[i] = stock.PurchaseLine{
			ID:            stock.LineID(item.ID),
			ProductID:     stock.ProductID(item.ProductID),
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice,
			QualityStatus: stock.QualityStatus(item.QualityStatus),
			PerLb:         item.PerLb,
			TotalWeight:   item.TotalWeight,
		}
	}
	return po
}

type LineStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending approved rejected"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// LoadScenarioResponse lists what a scenario left in the store.
type LoadScenarioResponse struct {
	Scenario       ScenarioDTO             `json:"scenario"`
	Products       []stock.Summary         `json:"products"`
	Orders         []stock.OrderID         `json:"orders"`
	PurchaseOrders []stock.PurchaseOrderID `json:"purchase_orders"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
