// Package store provides in-memory stock.Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/stock-ledger/stock"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Records are stored as clones and handed out as clones, so a map copy is
// a full snapshot.
type state struct {
	products       map[stock.ProductID]*stock.Product
	orders         map[stock.OrderID]*stock.Order
	purchaseOrders map[stock.PurchaseOrderID]*stock.PurchaseOrder
}

func newState() state {
	return state{
		products:       make(map[stock.ProductID]*stock.Product),
		orders:         make(map[stock.OrderID]*stock.Order),
		purchaseOrders: make(map[stock.PurchaseOrderID]*stock.PurchaseOrder),
	}
}

func (s state) clone() state {
	c := newState()
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.purchaseOrders {
		c.purchaseOrders[k] = v
	}
	return c
}

type Memory struct {
	mu   sync.RWMutex
	data state
	runs []stock.ReplayRun
}

func NewMemory() *Memory {
	return &Memory{data: newState()}
}

func (m *Memory) GetProduct(_ context.Context, id stock.ProductID) (*stock.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.getProduct(id)
}

func (m *Memory) SaveProduct(_ context.Context, p *stock.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.data.saveProduct(p); err != nil {
		return err
	}
	p.Version++
	return nil
}

func (m *Memory) ListProductIDs(_ context.Context) ([]stock.ProductID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.listProductIDs(), nil
}

func (m *Memory) GetOrder(_ context.Context, id stock.OrderID) (*stock.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.getOrder(id)
}

func (m *Memory) SaveOrder(_ context.Context, o *stock.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.orders[o.ID] = o.Clone()
	return nil
}

func (m *Memory) DeleteOrder(_ context.Context, id stock.OrderID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.deleteOrder(id)
}

func (m *Memory) OrdersForProduct(_ context.Context, productID stock.ProductID, w stock.Window) ([]*stock.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ordersForProduct(productID, w), nil
}

func (m *Memory) GetPurchaseOrder(_ context.Context, id stock.PurchaseOrderID) (*stock.PurchaseOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.getPurchaseOrder(id)
}

func (m *Memory) SavePurchaseOrder(_ context.Context, po *stock.PurchaseOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.purchaseOrders[po.ID] = po.Clone()
	return nil
}

func (m *Memory) DeletePurchaseOrder(_ context.Context, id stock.PurchaseOrderID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.deletePurchaseOrder(id)
}

// SaveRun inserts or replaces a replay run by ID.
func (m *Memory) SaveRun(_ context.Context, run stock.ReplayRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID == run.ID {
			m.runs[i] = run
			return nil
		}
	}
	m.runs = append(m.runs, run)
	return nil
}

func (m *Memory) ListRuns(_ context.Context, limit int) ([]stock.ReplayRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []stock.ReplayRun
	for i := len(m.runs) - 1; i >= 0; i-- {
		if limit > 0 && len(result) >= limit {
			break
		}
		result = append(result, m.runs[i])
	}
	return result, nil
}

// Reset drops every record. Used by the demo scenarios.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = newState()
	m.runs = nil
	return nil
}

// =============================================================================
// UNLOCKED OPERATIONS - shared by Memory and the transactional view
// =============================================================================

func (s state) getProduct(id stock.ProductID) (*stock.Product, error) {
	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", stock.ErrProductNotFound, id)
	}
	return p.Clone(), nil
}

func (s state) saveProduct(p *stock.Product) error {
	if existing, ok := s.products[p.ID]; ok && existing.Version != p.Version {
		return fmt.Errorf("%w: product %s at version %d, have %d",
			stock.ErrConcurrentModification, p.ID, existing.Version, p.Version)
	}
	c := p.Clone()
	c.Version++
	s.products[p.ID] = c
	return nil
}

func (s state) listProductIDs() []stock.ProductID {
	ids := make([]stock.ProductID, 0, len(s.products))
	for id := range s.products {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s state) getOrder(id stock.OrderID) (*stock.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", stock.ErrOrderNotFound, id)
	}
	return o.Clone(), nil
}

func (s state) deleteOrder(id stock.OrderID) error {
	if _, ok := s.orders[id]; !ok {
		return fmt.Errorf("%w: %s", stock.ErrOrderNotFound, id)
	}
	delete(s.orders, id)
	return nil
}

// Map iteration order is random. Callers sort.
func (s state) ordersForProduct(productID stock.ProductID, w stock.Window) []*stock.Order {
	var result []*stock.Order
	for _, o := range s.orders {
		if o.References(productID) && w.Contains(o.CreatedAt) {
			result = append(result, o.Clone())
		}
	}
	return result
}

func (s state) getPurchaseOrder(id stock.PurchaseOrderID) (*stock.PurchaseOrder, error) {
	po, ok := s.purchaseOrders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", stock.ErrPurchaseOrderNotFound, id)
	}
	return po.Clone(), nil
}

func (s state) deletePurchaseOrder(id stock.PurchaseOrderID) error {
	if _, ok := s.purchaseOrders[id]; !ok {
		return fmt.Errorf("%w: %s", stock.ErrPurchaseOrderNotFound, id)
	}
	delete(s.purchaseOrders, id)
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// Saved products see their Version bumped only once fn succeeds.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(stock.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.data.clone()

	view := &txMemoryView{data: tm.data}
	if err := fn(view); err != nil {
		tm.data = snapshot
		return err
	}
	for _, p := range view.saved {
		p.Version++
	}
	return nil
}

type txMemoryView struct {
	data  state
	saved []*stock.Product
}

func (tv *txMemoryView) GetProduct(_ context.Context, id stock.ProductID) (*stock.Product, error) {
	return tv.data.getProduct(id)
}

func (tv *txMemoryView) SaveProduct(_ context.Context, p *stock.Product) error {
	if err := tv.data.saveProduct(p); err != nil {
		return err
	}
	tv.saved = append(tv.saved, p)
	return nil
}

func (tv *txMemoryView) ListProductIDs(_ context.Context) ([]stock.ProductID, error) {
	return tv.data.listProductIDs(), nil
}

func (tv *txMemoryView) GetOrder(_ context.Context, id stock.OrderID) (*stock.Order, error) {
	return tv.data.getOrder(id)
}

func (tv *txMemoryView) SaveOrder(_ context.Context, o *stock.Order) error {
	tv.data.orders[o.ID] = o.Clone()
	return nil
}

func (tv *txMemoryView) DeleteOrder(_ context.Context, id stock.OrderID) error {
	return tv.data.deleteOrder(id)
}

func (tv *txMemoryView) OrdersForProduct(_ context.Context, productID stock.ProductID, w stock.Window) ([]*stock.Order, error) {
	return tv.data.ordersForProduct(productID, w), nil
}

func (tv *txMemoryView) GetPurchaseOrder(_ context.Context, id stock.PurchaseOrderID) (*stock.PurchaseOrder, error) {
	return tv.data.getPurchaseOrder(id)
}

func (tv *txMemoryView) SavePurchaseOrder(_ context.Context, po *stock.PurchaseOrder) error {
	tv.data.purchaseOrders[po.ID] = po.Clone()
	return nil
}

func (tv *txMemoryView) DeletePurchaseOrder(_ context.Context, id stock.PurchaseOrderID) error {
	return tv.data.deletePurchaseOrder(id)
}

var (
	_ stock.TxStore  = (*TxMemory)(nil)
	_ stock.RunStore = (*Memory)(nil)
)
