/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for testing and demos. Each scenario goes through the same engines
	as the API, so the resulting records are exactly what live traffic
	would produce.

AVAILABLE SCENARIOS:

	box-sale:        20 boxes / 500 lb approved, 5 boxes sold
	soft-delete:     box-sale, then the order is soft-deleted
	quality-control: one purchase order with approved, pending and rejected lines
	mixed-pricing:   unit and box sales, trash and a manual adjustment
	replay-repair:   aggregates drifted from history, ready for a rebuild

HOW SCENARIOS WORK:
 1. Reset store (clear all data)
 2. Create products
 3. Create purchase orders and approve lines
 4. Create (and possibly edit or delete) orders

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "soft-delete"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ResetDatabase
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/stock-ledger/stock"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "box-sale",
		Name:        "Box Sale",
		Description: "20 boxes / 500 lb approved, then 5 boxes sold at 25 lb per box",
	},
	{
		ID:          "soft-delete",
		Name:        "Soft Delete",
		Description: "Box sale followed by a soft delete: stock restored, +125 and -125 lb entries kept",
	},
	{
		ID:          "quality-control",
		Name:        "Quality Control",
		Description: "Approved, pending and rejected lines on one purchase order; approved quantity edited 10 -> 15",
	},
	{
		ID:          "mixed-pricing",
		Name:        "Mixed Pricing",
		Description: "Unit and box sales across a week, trash write-off and a manual unit adjustment",
	},
	{
		ID:          "replay-repair",
		Name:        "Replay Repair",
		Description: "Cached aggregates drifted from the order history; run a rebuild to repair them",
	},
}

// scenarioDay is the fixed first day of every scenario.
var scenarioDay = time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	s, _ := findScenario(current)
	writeJSON(w, http.StatusOK, s)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	res, err := h.loadScenario(r.Context(), s)
	if err != nil {
		h.fail(w, fmt.Sprintf("Failed to load scenario %s", s.ID), err)
		return
	}
	h.currentScenario = s.ID
	writeJSON(w, http.StatusOK, res)
}

func findScenario(id string) (ScenarioDTO, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return ScenarioDTO{}, false
}

func (h *Handler) loadScenario(ctx context.Context, s ScenarioDTO) (*LoadScenarioResponse, error) {
	if err := h.Store.Reset(ctx); err != nil {
		return nil, err
	}
	h.currentScenario = ""

	l := &scenarioLoader{h: h, ctx: ctx}
	switch s.ID {
	case "box-sale":
		l.boxSale()
	case "soft-delete":
		l.boxSale()
		l.reverse("order-1", "customer cancelled")
	case "quality-control":
		l.qualityControl()
	case "mixed-pricing":
		l.mixedPricing()
	case "replay-repair":
		l.replayRepair()
	}
	if l.err != nil {
		return nil, l.err
	}

	res := &LoadScenarioResponse{Scenario: s, Orders: l.orders, PurchaseOrders: l.purchaseOrders}
	for _, id := range l.products {
		sum, err := h.Inventory.Summary(ctx, id, nil)
		if err != nil {
			return nil, err
		}
		res.Products = append(res.Products, sum)
	}
	return res, nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// scenarioLoader stops at the first error; later steps become no-ops.
type scenarioLoader struct {
	h   *Handler
	ctx context.Context
	err error

	products       []stock.ProductID
	orders         []stock.OrderID
	purchaseOrders []stock.PurchaseOrderID
}

func (l *scenarioLoader) boxSale() {
	l.product("salmon", "Atlantic Salmon")
	l.purchase("po-1", 0, approved("po-1-l1", "salmon", 20, 500))
	l.order("order-1", 1, boxLine("salmon", 5))
}

func (l *scenarioLoader) qualityControl() {
	l.product("tomatoes", "Roma Tomatoes")
	l.purchase("po-1", 0,
		approved("po-1-l1", "tomatoes", 10, 250),
		pending("po-1-l2", "tomatoes", 5, 125),
		rejected("po-1-l3", "tomatoes", 3, 75),
	)
	if l.err != nil {
		return
	}
	// Receiving counted 15 boxes instead of 10.
	po, err := l.h.Purchases.GetPurchaseOrder(l.ctx, "po-1")
	if err != nil {
		l.err = err
		return
	}
	po.Items[0].Quantity = decimal.NewFromInt(15)
	po.Items[0].TotalWeight = decimal.NewFromInt(375)
	_, l.err = l.h.Purchases.UpdatePurchaseOrder(l.ctx, po)
}

func (l *scenarioLoader) mixedPricing() {
	l.product("shrimp", "Tiger Shrimp")
	line := approved("po-1-l1", "shrimp", 40, 0)
	line.PerLb = decimal.NewFromInt(10)
	l.purchase("po-1", 0, line)

	l.order("order-1", 1, unitLine("shrimp", 35))
	l.order("order-2", 2, boxLine("shrimp", 4))
	l.order("order-3", 4, boxLine("shrimp", 2), unitLine("shrimp", 12))

	if l.err != nil {
		return
	}
	_, l.err = l.h.Inventory.RecordTrash(l.ctx, "shrimp", stock.TrashInput{
		Quantity: decimal.NewFromInt(1),
		UnitKind: stock.UnitKindBox,
		Reason:   "thawed in transit",
		Date:     scenarioDay.AddDate(0, 0, 5),
	})
	if l.err != nil {
		return
	}
	_, l.err = l.h.Inventory.SetManualAdjustment(l.ctx, "shrimp", stock.UnitKindUnit,
		decimal.NewFromInt(20), scenarioDay.AddDate(0, 0, 6))
}

func (l *scenarioLoader) replayRepair() {
	l.product("cod", "Pacific Cod")
	l.purchase("po-1", 0, approved("po-1-l1", "cod", 30, 600))
	l.order("order-1", 1, boxLine("cod", 4))
	l.order("order-2", 3, unitLine("cod", 50))
	if l.err != nil {
		return
	}

	// Simulate a manual data edit that bypassed the ledger.
	l.err = l.h.Store.WithTx(l.ctx, func(tx stock.Store) error {
		p, err := tx.GetProduct(l.ctx, "cod")
		if err != nil {
			return err
		}
		p.Remaining = decimal.NewFromInt(99)
		p.TotalSell = decimal.Zero
		return tx.SaveProduct(l.ctx, p)
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func (l *scenarioLoader) product(id stock.ProductID, name string) {
	if l.err != nil {
		return
	}
	_, l.err = l.h.Inventory.CreateProduct(l.ctx, stock.ProductInput{ID: id, Name: name, CategoryID: "seafood"})
	l.products = append(l.products, id)
}

func (l *scenarioLoader) purchase(id stock.PurchaseOrderID, day int, lines ...stock.PurchaseLine) {
	if l.err != nil {
		return
	}
	_, l.err = l.h.Purchases.CreatePurchaseOrder(l.ctx, &stock.PurchaseOrder{
		ID:           id,
		PurchaseDate: scenarioDay.AddDate(0, 0, day),
		VendorID:     "vendor-1",
		Items:        lines,
	})
	l.purchaseOrders = append(l.purchaseOrders, id)
}

func (l *scenarioLoader) order(id stock.OrderID, day int, lines ...stock.OrderLine) {
	if l.err != nil {
		return
	}
	_, l.err = l.h.Orders.CreateOrder(l.ctx, &stock.Order{
		ID:         id,
		CreatedAt:  scenarioDay.AddDate(0, 0, day),
		CustomerID: "customer-1",
		Items:      lines,
	})
	l.orders = append(l.orders, id)
}

func (l *scenarioLoader) reverse(id stock.OrderID, reason string) {
	if l.err != nil {
		return
	}
	_, l.err = l.h.Orders.ReverseOrder(l.ctx, id, reason)
}

func purchaseLine(id stock.LineID, pid stock.ProductID, boxes, weight int64, status stock.QualityStatus) stock.PurchaseLine {
	return stock.PurchaseLine{
		ID:            id,
		ProductID:     pid,
		Quantity:      decimal.NewFromInt(boxes),
		TotalWeight:   decimal.NewFromInt(weight),
		UnitPrice:     decimal.NewFromInt(40),
		QualityStatus: status,
	}
}

func approved(id stock.LineID, pid stock.ProductID, boxes, weight int64) stock.PurchaseLine {
	return purchaseLine(id, pid, boxes, weight, stock.QualityApproved)
}

func pending(id stock.LineID, pid stock.ProductID, boxes, weight int64) stock.PurchaseLine {
	return purchaseLine(id, pid, boxes, weight, stock.QualityPending)
}

func rejected(id stock.LineID, pid stock.ProductID, boxes, weight int64) stock.PurchaseLine {
	return purchaseLine(id, pid, boxes, weight, stock.QualityRejected)
}

func boxLine(pid stock.ProductID, boxes int64) stock.OrderLine {
	return stock.OrderLine{
		ProductID:   pid,
		Quantity:    decimal.NewFromInt(boxes),
		PricingType: stock.PricingBox,
		UnitPrice:   decimal.NewFromInt(60),
	}
}

func unitLine(pid stock.ProductID, units int64) stock.OrderLine {
	return stock.OrderLine{
		ProductID:   pid,
		Quantity:    decimal.NewFromInt(units),
		PricingType: stock.PricingUnit,
		UnitPrice:   decimal.NewFromInt(3),
	}
}
