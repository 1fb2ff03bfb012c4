/*
store.go - Persistence interfaces for products, orders and purchase orders

PURPOSE:
  Defines the interface between the ledger engines and the database.
  Engines never talk to SQL directly: they read a record, mutate it in
  memory through the primitives in product.go, and save it back, all
  inside one WithTx call.

KEY INTERFACES:
  ProductStore:       Product Record persistence
  OrderStore:         Sell-side documents (read by fulfillment and replay)
  PurchaseOrderStore: Purchase-side documents
  Store:              All three
  TxStore:            Store + all-or-nothing transactions
  RunStore:           Replay run bookkeeping

ATOMICITY:
  One logical mutation (apply/reverse/edit one order, one purchase order
  update, one product rebuild) is one WithTx call. If fn returns an error
  nothing it wrote is kept.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite (production)
  - stock/store/memory.go: In-memory for testing

SEE ALSO:
  - lock.go: per-product serialization around WithTx
*/
package stock

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Record persistence
// =============================================================================

type ProductStore interface {
	// GetProduct returns ErrProductNotFound when the product does not exist.
	GetProduct(ctx context.Context, id ProductID) (*Product, error)

	// SaveProduct inserts or replaces the product and bumps its Version.
	// Inside WithTx the bump reaches p only when the transaction commits.
	// Implementations may reject a stale Version with ErrConcurrentModification.
	SaveProduct(ctx context.Context, p *Product) error

	// ListProductIDs returns every product ID in ascending order.
	ListProductIDs(ctx context.Context) ([]ProductID, error)
}

type OrderStore interface {
	GetOrder(ctx context.Context, id OrderID) (*Order, error)
	SaveOrder(ctx context.Context, o *Order) error

	// DeleteOrder removes the record entirely. Returns ErrOrderNotFound if absent.
	DeleteOrder(ctx context.Context, id OrderID) error

	// OrdersForProduct returns stored orders with at least one line referencing
	// the product and CreatedAt inside the window. No ordering is guaranteed.
	OrdersForProduct(ctx context.Context, productID ProductID, w Window) ([]*Order, error)
}

type PurchaseOrderStore interface {
	GetPurchaseOrder(ctx context.Context, id PurchaseOrderID) (*PurchaseOrder, error)
	SavePurchaseOrder(ctx context.Context, po *PurchaseOrder) error
	DeletePurchaseOrder(ctx context.Context, id PurchaseOrderID) error
}

// Store combines the record stores used inside a transaction.
type Store interface {
	ProductStore
	OrderStore
	PurchaseOrderStore
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// REPLAY RUNS
// =============================================================================

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
)

// ReplayRun records one RebuildAll execution.
type ReplayRun struct {
	ID          string     `json:"id"`
	From        *time.Time `json:"from,omitempty"`
	To          *time.Time `json:"to,omitempty"`
	Status      RunStatus  `json:"status"`
	Products    int        `json:"products"`
	Failed      int        `json:"failed"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type RunStore interface {
	SaveRun(ctx context.Context, run ReplayRun) error
	// ListRuns returns the most recent runs first.
	ListRuns(ctx context.Context, limit int) ([]ReplayRun, error)
}
