/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements stock.TxStore and stock.RunStore using SQLite. In production,
  the same patterns apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  stock.Store:    Products, orders, purchase orders
  stock.TxStore:  All-or-nothing writes across the three
  stock.RunStore: Replay run bookkeeping

KEY TABLES:
  products:        One row per Product Record. Scalar aggregates are columns
                   (decimal as TEXT), history arrays are JSON columns.
  orders:          Sell-side documents, lines in items_json
  order_products:  (order_id, product_id) index for OrdersForProduct
  purchase_orders: Purchase-side documents, lines in items_json
  replay_runs:     RebuildAll bookkeeping

OPTIMISTIC VERSIONING:
  SaveProduct only updates the row whose version matches the record being
  saved. A stale save returns stock.ErrConcurrentModification. This sits
  behind the per-product Locker as a second guard.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single open connection, which
  also keeps ":memory:" databases on one connection.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - stock/store.go: Interface definitions
  - stock/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/stock"
)

// Fixed-width UTC timestamps so TEXT comparison is chronological.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection. Used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category_id TEXT,
		vendor_id TEXT,
		quantity TEXT NOT NULL DEFAULT '0',
		total_purchase TEXT NOT NULL DEFAULT '0',
		total_sell TEXT NOT NULL DEFAULT '0',
		remaining TEXT NOT NULL DEFAULT '0',
		unit_purchase TEXT NOT NULL DEFAULT '0',
		unit_sell TEXT NOT NULL DEFAULT '0',
		unit_remaining TEXT NOT NULL DEFAULT '0',
		purchase_history_json TEXT NOT NULL DEFAULT '[]',
		sales_history_json TEXT NOT NULL DEFAULT '[]',
		lb_purchase_history_json TEXT NOT NULL DEFAULT '[]',
		lb_sell_history_json TEXT NOT NULL DEFAULT '[]',
		quantity_trash_json TEXT NOT NULL DEFAULT '[]',
		manually_add_box_json TEXT,
		manually_add_unit_json TEXT,
		updated_from_orders_json TEXT NOT NULL DEFAULT '[]',
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		customer_id TEXT,
		is_delete INTEGER NOT NULL DEFAULT 0,
		deleted_json TEXT,
		total TEXT NOT NULL DEFAULT '0',
		shipping_cost TEXT NOT NULL DEFAULT '0',
		items_json TEXT NOT NULL DEFAULT '[]'
	);

	CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders(created_at);

	-- Which products an order's lines reference (hot path for replay)
	CREATE TABLE IF NOT EXISTS order_products (
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		product_id TEXT NOT NULL,
		PRIMARY KEY (order_id, product_id)
	);

	CREATE INDEX IF NOT EXISTS idx_order_products_product ON order_products(product_id);

	CREATE TABLE IF NOT EXISTS purchase_orders (
		id TEXT PRIMARY KEY,
		purchase_date TEXT NOT NULL,
		vendor_id TEXT,
		items_json TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS replay_runs (
		id TEXT PRIMARY KEY,
		from_date TEXT,
		to_date TEXT,
		status TEXT NOT NULL,
		products INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_replay_runs_started ON replay_runs(started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// PRODUCT STORE
// =============================================================================

const productColumns = `id, name, category_id, vendor_id, quantity,
	total_purchase, total_sell, remaining, unit_purchase, unit_sell, unit_remaining,
	purchase_history_json, sales_history_json, lb_purchase_history_json, lb_sell_history_json,
	quantity_trash_json, manually_add_box_json, manually_add_unit_json, updated_from_orders_json,
	version, created_at, updated_at`

func (s *Store) GetProduct(ctx context.Context, id stock.ProductID) (*stock.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getProduct(ctx, s.db, id)
}

func (s *Store) SaveProduct(ctx context.Context, p *stock.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := saveProduct(ctx, s.db, p); err != nil {
		return err
	}
	p.Version++
	return nil
}

func (s *Store) ListProductIDs(ctx context.Context) ([]stock.ProductID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listProductIDs(ctx, s.db)
}

func getProduct(ctx context.Context, db dbtx, id stock.ProductID) (*stock.Product, error) {
	row := db.QueryRowContext(ctx, "SELECT "+productColumns+" FROM products WHERE id = ?", id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", stock.ErrProductNotFound, id)
	}
	return p, err
}

func saveProduct(ctx context.Context, db dbtx, p *stock.Product) error {
	cols, err := productValues(p)
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, `
		UPDATE products SET
			name = ?, category_id = ?, vendor_id = ?, quantity = ?,
			total_purchase = ?, total_sell = ?, remaining = ?,
			unit_purchase = ?, unit_sell = ?, unit_remaining = ?,
			purchase_history_json = ?, sales_history_json = ?,
			lb_purchase_history_json = ?, lb_sell_history_json = ?,
			quantity_trash_json = ?, manually_add_box_json = ?, manually_add_unit_json = ?,
			updated_from_orders_json = ?, updated_at = ?,
			version = version + 1
		WHERE id = ? AND version = ?
	`, updateArgs(cols, p)...)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var current int64
	err = db.QueryRowContext(ctx, "SELECT version FROM products WHERE id = ?", p.ID).Scan(&current)
	if err == nil {
		return fmt.Errorf("%w: product %s at version %d, have %d",
			stock.ErrConcurrentModification, p.ID, current, p.Version)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check product version: %w", err)
	}

	cols[19] = p.Version + 1
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	_, err = db.ExecContext(ctx, "INSERT INTO products ("+productColumns+") VALUES ("+placeholders+")", cols...)
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

// updateArgs orders cols for the UPDATE statement: every column except id,
// version and created_at, then the WHERE clause.
func updateArgs(cols []any, p *stock.Product) []any {
	args := make([]any, 0, len(cols))
	args = append(args, cols[1:19]...)
	args = append(args, cols[21], p.ID, p.Version)
	return args
}

// productValues returns the column values in productColumns order.
func productValues(p *stock.Product) ([]any, error) {
	var jsonCols [7]string
	for i, v := range []any{
		nonNil(p.PurchaseHistory), nonNil(p.SalesHistory),
		nonNil(p.LbPurchaseHistory), nonNil(p.LbSellHistory),
		nonNil(p.QuantityTrash), nonNil(p.UpdatedFromOrders),
	} {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode product %s history: %w", p.ID, err)
		}
		jsonCols[i] = string(b)
	}
	manualBox, err := manualJSON(p.ManuallyAddBox)
	if err != nil {
		return nil, err
	}
	manualUnit, err := manualJSON(p.ManuallyAddUnit)
	if err != nil {
		return nil, err
	}

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	return []any{
		p.ID, p.Name, nullString(p.CategoryID), nullString(p.VendorID), p.Quantity.String(),
		p.TotalPurchase.String(), p.TotalSell.String(), p.Remaining.String(),
		p.UnitPurchase.String(), p.UnitSell.String(), p.UnitRemaining.String(),
		jsonCols[0], jsonCols[1], jsonCols[2], jsonCols[3],
		jsonCols[4], manualBox, manualUnit, jsonCols[5],
		p.Version, formatTime(createdAt), formatTime(updatedAt),
	}, nil
}

// nonNil keeps empty histories encoded as [] rather than null.
func nonNil(v any) any {
	switch s := v.(type) {
	case []stock.BoxEntry:
		if s == nil {
			return []stock.BoxEntry{}
		}
	case []stock.WeightEntry:
		if s == nil {
			return []stock.WeightEntry{}
		}
	case []stock.TrashEntry:
		if s == nil {
			return []stock.TrashEntry{}
		}
	case []stock.PurchaseContribution:
		if s == nil {
			return []stock.PurchaseContribution{}
		}
	}
	return v
}

func manualJSON(m *stock.ManualAdjustment) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode manual adjustment: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (*stock.Product, error) {
	var (
		p                                                   stock.Product
		categoryID, vendorID                                sql.NullString
		quantity, totalPurchase, totalSell, remaining       string
		unitPurchase, unitSell, unitRemaining               string
		purchaseHist, salesHist, lbPurchaseHist, lbSellHist string
		trash, contributions                                string
		manualBox, manualUnit                               sql.NullString
		createdAt, updatedAt                                string
	)
	err := row.Scan(
		&p.ID, &p.Name, &categoryID, &vendorID, &quantity,
		&totalPurchase, &totalSell, &remaining, &unitPurchase, &unitSell, &unitRemaining,
		&purchaseHist, &salesHist, &lbPurchaseHist, &lbSellHist,
		&trash, &manualBox, &manualUnit, &contributions,
		&p.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan product: %w", err)
	}

	p.CategoryID = categoryID.String
	p.VendorID = vendorID.String
	p.Quantity = parseDecimal(quantity)
	p.TotalPurchase = parseDecimal(totalPurchase)
	p.TotalSell = parseDecimal(totalSell)
	p.Remaining = parseDecimal(remaining)
	p.UnitPurchase = parseDecimal(unitPurchase)
	p.UnitSell = parseDecimal(unitSell)
	p.UnitRemaining = parseDecimal(unitRemaining)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)

	for _, col := range []struct {
		raw string
		dst any
	}{
		{purchaseHist, &p.PurchaseHistory},
		{salesHist, &p.SalesHistory},
		{lbPurchaseHist, &p.LbPurchaseHistory},
		{lbSellHist, &p.LbSellHistory},
		{trash, &p.QuantityTrash},
		{contributions, &p.UpdatedFromOrders},
	} {
		if err := json.Unmarshal([]byte(col.raw), col.dst); err != nil {
			return nil, fmt.Errorf("failed to decode product %s history: %w", p.ID, err)
		}
	}
	if manualBox.Valid {
		p.ManuallyAddBox = &stock.ManualAdjustment{}
		if err := json.Unmarshal([]byte(manualBox.String), p.ManuallyAddBox); err != nil {
			return nil, fmt.Errorf("failed to decode manual box adjustment: %w", err)
		}
	}
	if manualUnit.Valid {
		p.ManuallyAddUnit = &stock.ManualAdjustment{}
		if err := json.Unmarshal([]byte(manualUnit.String), p.ManuallyAddUnit); err != nil {
			return nil, fmt.Errorf("failed to decode manual unit adjustment: %w", err)
		}
	}
	return &p, nil
}

func listProductIDs(ctx context.Context, db dbtx) ([]stock.ProductID, error) {
	rows, err := db.QueryContext(ctx, "SELECT id FROM products ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var ids []stock.ProductID
	for rows.Next() {
		var id stock.ProductID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// =============================================================================
// ORDER STORE
// =============================================================================

const orderColumns = `id, created_at, customer_id, is_delete, deleted_json, total, shipping_cost, items_json`

func (s *Store) GetOrder(ctx context.Context, id stock.OrderID) (*stock.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getOrder(ctx, s.db, id)
}

// SaveOrder writes the order and its product index. Not atomic on its own;
// engines call it inside WithTx.
func (s *Store) SaveOrder(ctx context.Context, o *stock.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveOrder(ctx, s.db, o)
}

func (s *Store) DeleteOrder(ctx context.Context, id stock.OrderID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteOrder(ctx, s.db, id)
}

func (s *Store) OrdersForProduct(ctx context.Context, productID stock.ProductID, w stock.Window) ([]*stock.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ordersForProduct(ctx, s.db, productID, w)
}

func getOrder(ctx context.Context, db dbtx, id stock.OrderID) (*stock.Order, error) {
	row := db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = ?", id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", stock.ErrOrderNotFound, id)
	}
	return o, err
}

func saveOrder(ctx context.Context, db dbtx, o *stock.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("failed to encode order items: %w", err)
	}
	var deleted sql.NullString
	if o.Deleted != nil {
		b, err := json.Marshal(o.Deleted)
		if err != nil {
			return fmt.Errorf("failed to encode order deletion: %w", err)
		}
		deleted = sql.NullString{String: string(b), Valid: true}
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			created_at = excluded.created_at,
			customer_id = excluded.customer_id,
			is_delete = excluded.is_delete,
			deleted_json = excluded.deleted_json,
			total = excluded.total,
			shipping_cost = excluded.shipping_cost,
			items_json = excluded.items_json
	`, o.ID, formatTime(o.CreatedAt), nullString(o.CustomerID), o.IsDelete, deleted,
		o.Total.String(), o.ShippingCost.String(), string(items))
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}

	if _, err := db.ExecContext(ctx, "DELETE FROM order_products WHERE order_id = ?", o.ID); err != nil {
		return fmt.Errorf("failed to reset order products: %w", err)
	}
	for _, pid := range o.ProductIDs() {
		if _, err := db.ExecContext(ctx,
			"INSERT INTO order_products (order_id, product_id) VALUES (?, ?)", o.ID, pid); err != nil {
			return fmt.Errorf("failed to index order product: %w", err)
		}
	}
	return nil
}

func deleteOrder(ctx context.Context, db dbtx, id stock.OrderID) error {
	if _, err := db.ExecContext(ctx, "DELETE FROM order_products WHERE order_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete order products: %w", err)
	}
	res, err := db.ExecContext(ctx, "DELETE FROM orders WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", stock.ErrOrderNotFound, id)
	}
	return nil
}

func ordersForProduct(ctx context.Context, db dbtx, productID stock.ProductID, w stock.Window) ([]*stock.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE id IN (SELECT order_id FROM order_products WHERE product_id = ?)
	`
	args := []any{productID}
	if !w.From.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, formatTime(w.From))
	}
	if !w.To.IsZero() {
		query += " AND created_at <= ?"
		args = append(args, formatTime(w.To))
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []*stock.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func scanOrder(row scanner) (*stock.Order, error) {
	var (
		o                          stock.Order
		createdAt                  string
		customerID, deleted        sql.NullString
		total, shippingCost, items string
	)
	if err := row.Scan(&o.ID, &createdAt, &customerID, &o.IsDelete, &deleted, &total, &shippingCost, &items); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}
	o.CreatedAt = parseTime(createdAt)
	o.CustomerID = customerID.String
	o.Total = parseDecimal(total)
	o.ShippingCost = parseDecimal(shippingCost)
	if err := json.Unmarshal([]byte(items), &o.Items); err != nil {
		return nil, fmt.Errorf("failed to decode order %s items: %w", o.ID, err)
	}
	if deleted.Valid {
		o.Deleted = &stock.Deletion{}
		if err := json.Unmarshal([]byte(deleted.String), o.Deleted); err != nil {
			return nil, fmt.Errorf("failed to decode order %s deletion: %w", o.ID, err)
		}
	}
	return &o, nil
}

// =============================================================================
// PURCHASE ORDER STORE
// =============================================================================

func (s *Store) GetPurchaseOrder(ctx context.Context, id stock.PurchaseOrderID) (*stock.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPurchaseOrder(ctx, s.db, id)
}

func (s *Store) SavePurchaseOrder(ctx context.Context, po *stock.PurchaseOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return savePurchaseOrder(ctx, s.db, po)
}

func (s *Store) DeletePurchaseOrder(ctx context.Context, id stock.PurchaseOrderID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deletePurchaseOrder(ctx, s.db, id)
}

func getPurchaseOrder(ctx context.Context, db dbtx, id stock.PurchaseOrderID) (*stock.PurchaseOrder, error) {
	var (
		po                                 stock.PurchaseOrder
		purchaseDate, createdAt, updatedAt string
		vendorID                           sql.NullString
		items                              string
	)
	err := db.QueryRowContext(ctx, `
		SELECT id, purchase_date, vendor_id, items_json, created_at, updated_at
		FROM purchase_orders WHERE id = ?
	`, id).Scan(&po.ID, &purchaseDate, &vendorID, &items, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", stock.ErrPurchaseOrderNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase order: %w", err)
	}
	po.PurchaseDate = parseTime(purchaseDate)
	po.VendorID = vendorID.String
	po.CreatedAt = parseTime(createdAt)
	po.UpdatedAt = parseTime(updatedAt)
	if err := json.Unmarshal([]byte(items), &po.Items); err != nil {
		return nil, fmt.Errorf("failed to decode purchase order %s items: %w", po.ID, err)
	}
	return &po, nil
}

func savePurchaseOrder(ctx context.Context, db dbtx, po *stock.PurchaseOrder) error {
	items, err := json.Marshal(po.Items)
	if err != nil {
		return fmt.Errorf("failed to encode purchase order items: %w", err)
	}
	now := time.Now()
	createdAt, updatedAt := po.CreatedAt, po.UpdatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	if updatedAt.IsZero() {
		updatedAt = now
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO purchase_orders (id, purchase_date, vendor_id, items_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			purchase_date = excluded.purchase_date,
			vendor_id = excluded.vendor_id,
			items_json = excluded.items_json,
			updated_at = excluded.updated_at
	`, po.ID, formatTime(po.PurchaseDate), nullString(po.VendorID), string(items),
		formatTime(createdAt), formatTime(updatedAt))
	if err != nil {
		return fmt.Errorf("failed to save purchase order: %w", err)
	}
	return nil
}

func deletePurchaseOrder(ctx context.Context, db dbtx, id stock.PurchaseOrderID) error {
	res, err := db.ExecContext(ctx, "DELETE FROM purchase_orders WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete purchase order: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", stock.ErrPurchaseOrderNotFound, id)
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (stock.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store stock.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	ts := &txStore{tx: sqlTx}
	if err := fn(ts); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	for _, p := range ts.saved {
		p.Version++
	}
	return nil
}

// txStore routes every call through the open transaction. It never touches
// the parent's mutex, which WithTx already holds. Saved products get their
// Version bumped after commit.
type txStore struct {
	tx    *sql.Tx
	saved []*stock.Product
}

func (ts *txStore) GetProduct(ctx context.Context, id stock.ProductID) (*stock.Product, error) {
	return getProduct(ctx, ts.tx, id)
}

func (ts *txStore) SaveProduct(ctx context.Context, p *stock.Product) error {
	if err := saveProduct(ctx, ts.tx, p); err != nil {
		return err
	}
	ts.saved = append(ts.saved, p)
	return nil
}

func (ts *txStore) ListProductIDs(ctx context.Context) ([]stock.ProductID, error) {
	return listProductIDs(ctx, ts.tx)
}

func (ts *txStore) GetOrder(ctx context.Context, id stock.OrderID) (*stock.Order, error) {
	return getOrder(ctx, ts.tx, id)
}

func (ts *txStore) SaveOrder(ctx context.Context, o *stock.Order) error {
	return saveOrder(ctx, ts.tx, o)
}

func (ts *txStore) DeleteOrder(ctx context.Context, id stock.OrderID) error {
	return deleteOrder(ctx, ts.tx, id)
}

func (ts *txStore) OrdersForProduct(ctx context.Context, productID stock.ProductID, w stock.Window) ([]*stock.Order, error) {
	return ordersForProduct(ctx, ts.tx, productID, w)
}

func (ts *txStore) GetPurchaseOrder(ctx context.Context, id stock.PurchaseOrderID) (*stock.PurchaseOrder, error) {
	return getPurchaseOrder(ctx, ts.tx, id)
}

func (ts *txStore) SavePurchaseOrder(ctx context.Context, po *stock.PurchaseOrder) error {
	return savePurchaseOrder(ctx, ts.tx, po)
}

func (ts *txStore) DeletePurchaseOrder(ctx context.Context, id stock.PurchaseOrderID) error {
	return deletePurchaseOrder(ctx, ts.tx, id)
}

// =============================================================================
// REPLAY RUNS STORE
// =============================================================================

// SaveRun inserts or updates a replay run.
func (s *Store) SaveRun(ctx context.Context, r stock.ReplayRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO replay_runs (id, from_date, to_date, status, products, failed, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			products = excluded.products,
			failed = excluded.failed,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	_, err := s.db.ExecContext(ctx, query,
		r.ID, nullTime(r.From), nullTime(r.To), r.Status, r.Products, r.Failed,
		nullString(r.Error), formatTime(r.StartedAt), nullTime(r.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save replay run: %w", err)
	}
	return nil
}

// ListRuns returns replay runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]stock.ReplayRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, from_date, to_date, status, products, failed, error, started_at, completed_at
		FROM replay_runs
		ORDER BY started_at DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []stock.ReplayRun
	for rows.Next() {
		var r stock.ReplayRun
		var from, to, runErr, completedAt sql.NullString
		var startedAt string
		if err := rows.Scan(&r.ID, &from, &to, &r.Status, &r.Products, &r.Failed,
			&runErr, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		r.From = parseNullTime(from)
		r.To = parseNullTime(to)
		r.Error = runErr.String
		r.StartedAt = parseTime(startedAt)
		r.CompletedAt = parseNullTime(completedAt)
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"order_products", "orders", "purchase_orders", "products", "replay_runs"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || strings.TrimSpace(s.String) == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

var (
	_ stock.TxStore  = (*Store)(nil)
	_ stock.RunStore = (*Store)(nil)
)
