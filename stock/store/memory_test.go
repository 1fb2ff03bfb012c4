package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-ledger/stock"
)

func TestMemory_ProductVersioning(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	p := stock.NewProduct("p1", "Salmon")
	require.NoError(t, m.SaveProduct(ctx, p))
	assert.Equal(t, int64(1), p.Version)

	// GIVEN: Two readers of the same version
	a, err := m.GetProduct(ctx, "p1")
	require.NoError(t, err)
	b, err := m.GetProduct(ctx, "p1")
	require.NoError(t, err)

	// WHEN: Both save
	a.Remaining = decimal.NewFromInt(5)
	require.NoError(t, m.SaveProduct(ctx, a))
	b.Remaining = decimal.NewFromInt(7)
	err = m.SaveProduct(ctx, b)

	// THEN: The second save loses the race
	assert.ErrorIs(t, err, stock.ErrConcurrentModification)
	got, _ := m.GetProduct(ctx, "p1")
	assert.True(t, got.Remaining.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, int64(2), got.Version)
}

func TestMemory_ReturnsClones(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.SaveProduct(ctx, stock.NewProduct("p1", "Salmon")))

	p, _ := m.GetProduct(ctx, "p1")
	p.SalesHistory = append(p.SalesHistory, stock.BoxEntry{Quantity: decimal.NewFromInt(1)})

	again, _ := m.GetProduct(ctx, "p1")
	assert.Empty(t, again.SalesHistory)
}

func TestMemory_OrdersForProduct(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	day := time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC)
	orders := []*stock.Order{
		{ID: "o1", CreatedAt: day, Items: []stock.OrderLine{{ProductID: "p1"}}},
		{ID: "o2", CreatedAt: day.AddDate(0, 0, 1), Items: []stock.OrderLine{{ProductID: "p2"}, {ProductID: "p1"}}},
		{ID: "o3", CreatedAt: day.AddDate(0, 0, 2), Items: []stock.OrderLine{{ProductID: "p2"}}},
	}
	for _, o := range orders {
		require.NoError(t, m.SaveOrder(ctx, o))
	}

	got, err := m.OrdersForProduct(ctx, "p1", stock.All)
	require.NoError(t, err)
	assert.ElementsMatch(t, []stock.OrderID{"o1", "o2"}, orderIDs(got))

	from := day.AddDate(0, 0, 1)
	got, err = m.OrdersForProduct(ctx, "p1", stock.NewWindow(&from, nil))
	require.NoError(t, err)
	assert.Equal(t, []stock.OrderID{"o2"}, orderIDs(got))
}

func TestMemory_NotFound(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.GetProduct(ctx, "x")
	assert.ErrorIs(t, err, stock.ErrProductNotFound)
	_, err = m.GetOrder(ctx, "x")
	assert.ErrorIs(t, err, stock.ErrOrderNotFound)
	assert.ErrorIs(t, m.DeleteOrder(ctx, "x"), stock.ErrOrderNotFound)
	_, err = m.GetPurchaseOrder(ctx, "x")
	assert.ErrorIs(t, err, stock.ErrPurchaseOrderNotFound)
	assert.ErrorIs(t, m.DeletePurchaseOrder(ctx, "x"), stock.ErrPurchaseOrderNotFound)
}

func TestMemory_Runs(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, id := range []string{"run-1", "run-2", "run-3"} {
		require.NoError(t, m.SaveRun(ctx, stock.ReplayRun{ID: id, Status: stock.RunRunning}))
	}
	require.NoError(t, m.SaveRun(ctx, stock.ReplayRun{ID: "run-2", Status: stock.RunCompleted}))

	runs, err := m.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-3", runs[0].ID)
	assert.Equal(t, stock.RunCompleted, runs[1].Status)

	require.NoError(t, m.Reset(ctx))
	runs, _ = m.ListRuns(ctx, 0)
	assert.Empty(t, runs)
}

func TestTxMemory_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	tm := NewTxMemory()
	require.NoError(t, tm.SaveProduct(ctx, stock.NewProduct("p1", "Salmon")))

	boom := errors.New("boom")
	err := tm.WithTx(ctx, func(tx stock.Store) error {
		p, err := tx.GetProduct(ctx, "p1")
		if err != nil {
			return err
		}
		p.Remaining = decimal.NewFromInt(10)
		if err := tx.SaveProduct(ctx, p); err != nil {
			return err
		}
		if err := tx.SaveOrder(ctx, &stock.Order{ID: "o1"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	p, _ := tm.GetProduct(ctx, "p1")
	assert.True(t, p.Remaining.IsZero())
	assert.Equal(t, int64(1), p.Version)
	_, err = tm.GetOrder(ctx, "o1")
	assert.ErrorIs(t, err, stock.ErrOrderNotFound)
}

func TestTxMemory_VersionBumpFollowsCommit(t *testing.T) {
	ctx := context.Background()
	tm := NewTxMemory()
	require.NoError(t, tm.SaveProduct(ctx, stock.NewProduct("p1", "Salmon")))

	// GIVEN: A record saved inside a transaction that then fails
	var saved *stock.Product
	err := tm.WithTx(ctx, func(tx stock.Store) error {
		p, err := tx.GetProduct(ctx, "p1")
		if err != nil {
			return err
		}
		saved = p
		if err := tx.SaveProduct(ctx, p); err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.Error(t, err)

	// THEN: The caller's copy keeps the stored version and can still be saved
	assert.Equal(t, int64(1), saved.Version)
	require.NoError(t, tm.WithTx(ctx, func(tx stock.Store) error {
		return tx.SaveProduct(ctx, saved)
	}))
	assert.Equal(t, int64(2), saved.Version)

	got, _ := tm.GetProduct(ctx, "p1")
	assert.Equal(t, int64(2), got.Version)
}

func TestTxMemory_Commit(t *testing.T) {
	ctx := context.Background()
	tm := NewTxMemory()

	require.NoError(t, tm.WithTx(ctx, func(tx stock.Store) error {
		return tx.SavePurchaseOrder(ctx, &stock.PurchaseOrder{ID: "po-1"})
	}))

	po, err := tm.GetPurchaseOrder(ctx, "po-1")
	require.NoError(t, err)
	assert.Equal(t, stock.PurchaseOrderID("po-1"), po.ID)
}

func orderIDs(orders []*stock.Order) []stock.OrderID {
	ids := make([]stock.OrderID, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	return ids
}
