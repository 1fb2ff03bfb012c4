/*
handlers.go - HTTP API handlers for the stock ledger

PURPOSE:
  Exposes the ledger engines via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the engines.

ENDPOINTS:
  Products:
    POST   /api/products                          Create catalog entry
    GET    /api/products/{id}                     Product record
    GET    /api/products/{id}/summary?from=&to=   Cached or windowed summary
    POST   /api/products/{id}/trash               Record shrink / spoilage
    PUT    /api/products/{id}/manual-adjustment   Replace manual slot

  Orders:
    POST   /api/orders                Create and apply
    GET    /api/orders/{id}           Order record
    PUT    /api/orders/{id}           Edit lines
    POST   /api/orders/{id}/delete    Soft delete (reverse)
    DELETE /api/orders/{id}           Purge a soft-deleted order

  Purchase orders:
    POST   /api/purchase-orders                              Create
    GET    /api/purchase-orders/{id}                         Record
    PUT    /api/purchase-orders/{id}                         Update lines
    POST   /api/purchase-orders/{id}/lines/{lineID}/status   Quality status
    DELETE /api/purchase-orders/{id}                         Delete (guarded)

  Admin:
    POST   /api/admin/rebuild/{productID}?from=&to=   Rebuild one product
    POST   /api/admin/rebuild?from=&to=               Rebuild all products
    GET    /api/admin/replay-runs                     Recent runs

  Reports:
    GET    /api/reports/inventory.xlsx?from=&to=

ARCHITECTURE:
  Handler struct holds the engines, all built over one store and one
  locker so every writer of a product is serialized the same way.

ERROR HANDLING:
  Errors are returned as JSON {error, details} with status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Guard or conflict (approved lines, already deleted, version race)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/stock-ledger/fulfillment"
	"github.com/warp/stock-ledger/purchasing"
	"github.com/warp/stock-ledger/replay"
	"github.com/warp/stock-ledger/report"
	"github.com/warp/stock-ledger/stock"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is everything the API needs from persistence.
type Store interface {
	replay.RunStore
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     Store
	Inventory *stock.Inventory
	Orders    *fulfillment.Engine
	Purchases *purchasing.Engine
	Replay    *replay.Engine
	Reports   *report.Inventory

	log      *zap.Logger
	validate *validator.Validate

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler builds every engine over store and locker.
func NewHandler(store Store, locker stock.Locker, recorder stock.Recorder, log *zap.Logger) *Handler {
	if recorder == nil {
		recorder = stock.NopRecorder{}
	}
	return &Handler{
		Store:     store,
		Inventory: stock.NewInventory(store, locker, log.Named("inventory"), stock.WithInventoryRecorder(recorder)),
		Orders:    fulfillment.NewEngine(store, locker, log, fulfillment.WithRecorder(recorder)),
		Purchases: purchasing.NewEngine(store, locker, log, purchasing.WithRecorder(recorder)),
		Replay:    replay.NewEngine(store, locker, log, replay.WithRecorder(recorder)),
		Reports:   report.NewInventory(store),
		log:       log.Named("api"),
		validate:  validator.New(),
	}
}

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

// CreateProduct creates a catalog entry with empty stock.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.Inventory.CreateProduct(r.Context(), stock.ProductInput{
		ID:         stock.ProductID(req.ID),
		Name:       req.Name,
		CategoryID: req.CategoryID,
		VendorID:   req.VendorID,
	})
	if err != nil {
		h.fail(w, "Failed to create product", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// GetProduct returns the full product record, history included.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Inventory.GetProduct(r.Context(), stock.ProductID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, "Failed to get product", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetSummary returns the cached summary, or the windowed one when from or
// to is given.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r)
	if err != nil {
		h.fail(w, "Invalid window", err)
		return
	}

	s, err := h.Inventory.Summary(r.Context(), stock.ProductID(chi.URLParam(r, "id")), window)
	if err != nil {
		h.fail(w, "Failed to get summary", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// RecordTrash writes off boxes or units.
func (h *Handler) RecordTrash(w http.ResponseWriter, r *http.Request) {
	var req TrashRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := stock.TrashInput{
		Quantity: req.Quantity,
		UnitKind: stock.UnitKind(req.UnitKind),
		Reason:   req.Reason,
	}
	if req.Date != nil {
		in.Date = req.Date.UTC()
	}
	p, err := h.Inventory.RecordTrash(r.Context(), stock.ProductID(chi.URLParam(r, "id")), in)
	if err != nil {
		h.fail(w, "Failed to record trash", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// SetManualAdjustment replaces the manual box or unit slot.
func (h *Handler) SetManualAdjustment(w http.ResponseWriter, r *http.Request) {
	var req ManualAdjustmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	var date time.Time
	if req.Date != nil {
		date = req.Date.UTC()
	}
	p, err := h.Inventory.SetManualAdjustment(r.Context(), stock.ProductID(chi.URLParam(r, "id")),
		stock.UnitKind(req.UnitKind), req.Quantity, date)
	if err != nil {
		h.fail(w, "Failed to set manual adjustment", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// =============================================================================
// ORDER HANDLERS
// =============================================================================

// CreateOrder stores an order and applies its lines.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Orders.CreateOrder(r.Context(), req.toOrder())
	if err != nil {
		h.fail(w, "Failed to create order", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.GetOrder(r.Context(), stock.OrderID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, "Failed to get order", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// UpdateOrder replaces the lines of a live order.
func (h *Handler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	o := req.toOrder()
	o.ID = stock.OrderID(chi.URLParam(r, "id"))
	res, err := h.Orders.UpdateOrder(r.Context(), o)
	if err != nil {
		h.fail(w, "Failed to update order", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ReverseOrder soft-deletes an order. The body is optional.
func (h *Handler) ReverseOrder(w http.ResponseWriter, r *http.Request) {
	var req ReverseOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", validationDetails(err))
		return
	}

	res, err := h.Orders.ReverseOrder(r.Context(), stock.OrderID(chi.URLParam(r, "id")), req.Reason)
	if err != nil {
		h.fail(w, "Failed to delete order", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PurgeOrder removes a soft-deleted order for good.
func (h *Handler) PurgeOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.Orders.PurgeOrder(r.Context(), stock.OrderID(chi.URLParam(r, "id"))); err != nil {
		h.fail(w, "Failed to purge order", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// PURCHASE ORDER HANDLERS
// =============================================================================

func (h *Handler) CreatePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var req PurchaseOrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Purchases.CreatePurchaseOrder(r.Context(), req.toPurchaseOrder())
	if err != nil {
		h.fail(w, "Failed to create purchase order", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) GetPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	po, err := h.Purchases.GetPurchaseOrder(r.Context(), stock.PurchaseOrderID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, "Failed to get purchase order", err)
		return
	}
	writeJSON(w, http.StatusOK, po)
}

func (h *Handler) UpdatePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var req PurchaseOrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	po := req.toPurchaseOrder()
	po.ID = stock.PurchaseOrderID(chi.URLParam(r, "id"))
	res, err := h.Purchases.UpdatePurchaseOrder(r.Context(), po)
	if err != nil {
		h.fail(w, "Failed to update purchase order", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SetLineStatus moves one line through pending / approved / rejected.
func (h *Handler) SetLineStatus(w http.ResponseWriter, r *http.Request) {
	var req LineStatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Purchases.SetLineStatus(r.Context(),
		stock.PurchaseOrderID(chi.URLParam(r, "id")),
		stock.LineID(chi.URLParam(r, "lineID")),
		stock.QualityStatus(req.Status))
	if err != nil {
		h.fail(w, "Failed to set line status", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DeletePurchaseOrder removes a purchase order with no approved lines.
func (h *Handler) DeletePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.Purchases.DeletePurchaseOrder(r.Context(), stock.PurchaseOrderID(chi.URLParam(r, "id"))); err != nil {
		h.fail(w, "Failed to delete purchase order", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RebuildProduct replays one product's orders.
func (h *Handler) RebuildProduct(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r)
	if err != nil {
		h.fail(w, "Invalid window", err)
		return
	}

	rep, err := h.Replay.Rebuild(r.Context(), stock.ProductID(chi.URLParam(r, "productID")), orAll(window))
	if err != nil {
		h.fail(w, "Failed to rebuild product", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// RebuildAll replays every product and returns the run record.
func (h *Handler) RebuildAll(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r)
	if err != nil {
		h.fail(w, "Invalid window", err)
		return
	}

	run, err := h.Replay.RebuildAll(r.Context(), orAll(window))
	if err != nil {
		h.fail(w, "Failed to rebuild", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ListReplayRuns returns recent replay runs, newest first.
func (h *Handler) ListReplayRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	runs, err := h.Replay.Runs(r.Context(), limit)
	if err != nil {
		h.fail(w, "Failed to list replay runs", err)
		return
	}
	if runs == nil {
		runs = []stock.ReplayRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// InventoryReport streams the inventory workbook.
func (h *Handler) InventoryReport(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r)
	if err != nil {
		h.fail(w, "Invalid window", err)
		return
	}

	f, err := h.Reports.Workbook(r.Context(), window)
	if err != nil {
		h.fail(w, "Failed to build report", err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename=inventory.xlsx")
	if err := f.Write(w); err != nil {
		h.log.Error("failed to write report", zap.Error(err))
	}
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		h.fail(w, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// fail maps an engine error to its HTTP status.
func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error(message, zap.Error(err))
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case stock.IsNotFound(err):
		return http.StatusNotFound
	case stock.IsClientError(err):
		return http.StatusBadRequest
	case stock.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decode reads and validates a JSON body. On failure the 400 response has
// been written and false is returned.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", validationDetails(err))
		return false
	}
	return true
}

func validationDetails(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

// parseWindow reads optional from/to query parameters. Both absent returns
// nil. Dates are YYYY-MM-DD or RFC3339; a date-only "to" covers the whole day.
func parseWindow(r *http.Request) (*stock.Window, error) {
	q := r.URL.Query()
	rawFrom, rawTo := q.Get("from"), q.Get("to")
	if rawFrom == "" && rawTo == "" {
		return nil, nil
	}

	var w stock.Window
	if rawFrom != "" {
		t, _, err := parseDate(rawFrom)
		if err != nil {
			return nil, fmt.Errorf("%w: from: %v", stock.ErrInvalidWindow, err)
		}
		w.From = t
	}
	if rawTo != "" {
		t, dateOnly, err := parseDate(rawTo)
		if err != nil {
			return nil, fmt.Errorf("%w: to: %v", stock.ErrInvalidWindow, err)
		}
		if dateOnly {
			t = stock.EndOfDay(t)
		}
		w.To = t
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &w, nil
}

func parseDate(raw string) (t time.Time, dateOnly bool, err error) {
	if t, err = time.Parse("2006-01-02", raw); err == nil {
		return t.UTC(), true, nil
	}
	t, err = time.Parse(time.RFC3339, raw)
	return t.UTC(), false, err
}

func orAll(w *stock.Window) stock.Window {
	if w == nil {
		return stock.All
	}
	return *w
}
