package sqlite

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

var march3 = time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestProduct_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	// GIVEN: A product with every history array populated
	p := stock.NewProduct("p1", "Salmon")
	p.CategoryID = "seafood"
	p.CreatedAt, p.UpdatedAt = march3, march3
	p.CreditPurchase("po-1", stock.PurchaseLine{ID: "l1", Quantity: decimal.NewFromInt(20), TotalWeight: decimal.RequireFromString("500.25")}, march3)
	p.ApplySale(stock.PricingBox, decimal.NewFromInt(5), march3.Add(time.Hour), stock.SourceRef{OrderID: "o1", LineID: "a"}, decimal.NewFromInt(25))
	_, err := p.RecordTrash(decimal.NewFromInt(1), stock.UnitKindBox, "crushed", march3)
	require.NoError(t, err)
	_, err = p.SetManualAdjustment(stock.UnitKindUnit, decimal.NewFromInt(3), march3)
	require.NoError(t, err)

	// WHEN: Saved and read back
	require.NoError(t, s.SaveProduct(ctx, p))
	got, err := s.GetProduct(ctx, "p1")
	require.NoError(t, err)

	// THEN: Nothing is lost
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, "seafood", got.CategoryID)
	assert.Equal(t, "500.25", got.UnitPurchase.String())
	assert.True(t, got.Remaining.Equal(p.Remaining))
	assert.True(t, got.UnitRemaining.Equal(p.UnitRemaining))
	require.Len(t, got.LbSellHistory, 1)
	assert.Equal(t, stock.SourceRef{OrderID: "o1", LineID: "a"}, got.LbSellHistory[0].Source)
	assert.True(t, got.LbSellHistory[0].Date.Equal(march3.Add(time.Hour)))
	require.Len(t, got.UpdatedFromOrders, 1)
	require.NotNil(t, got.ManuallyAddUnit)
	assert.Nil(t, got.ManuallyAddBox)
	assert.Len(t, got.QuantityTrash, 1)
	assert.True(t, got.CreatedAt.Equal(march3))
}

func TestProduct_VersionConflict(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.SaveProduct(ctx, stock.NewProduct("p1", "Salmon")))

	a, _ := s.GetProduct(ctx, "p1")
	b, _ := s.GetProduct(ctx, "p1")

	a.Remaining = decimal.NewFromInt(5)
	require.NoError(t, s.SaveProduct(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	b.Remaining = decimal.NewFromInt(7)
	err := s.SaveProduct(ctx, b)
	assert.ErrorIs(t, err, stock.ErrConcurrentModification)

	got, _ := s.GetProduct(ctx, "p1")
	assert.Equal(t, "5", got.Remaining.String())
}

func TestProduct_ListAndNotFound(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	for _, id := range []stock.ProductID{"c", "a", "b"} {
		require.NoError(t, s.SaveProduct(ctx, stock.NewProduct(id, string(id))))
	}

	ids, err := s.ListProductIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []stock.ProductID{"a", "b", "c"}, ids)

	_, err = s.GetProduct(ctx, "zzz")
	assert.ErrorIs(t, err, stock.ErrProductNotFound)
}

func TestOrders_ForProductAndWindow(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	o1 := &stock.Order{ID: "o1", CreatedAt: march3, Items: []stock.OrderLine{
		{ID: "a", ProductID: "p1", Quantity: decimal.NewFromInt(2), PricingType: stock.PricingBox},
	}}
	o2 := &stock.Order{ID: "o2", CreatedAt: march3.AddDate(0, 0, 2), Items: []stock.OrderLine{
		{ID: "a", ProductID: "p2", Quantity: decimal.NewFromInt(1), PricingType: stock.PricingUnit},
		{ID: "b", ProductID: "p1", Quantity: decimal.NewFromInt(1), PricingType: stock.PricingUnit},
	}}
	require.NoError(t, s.SaveOrder(ctx, o1))
	require.NoError(t, s.SaveOrder(ctx, o2))

	got, err := s.OrdersForProduct(ctx, "p1", stock.All)
	require.NoError(t, err)
	require.Len(t, got, 2)

	from := march3.AddDate(0, 0, 1)
	got, err = s.OrdersForProduct(ctx, "p1", stock.NewWindow(&from, nil))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, stock.OrderID("o2"), got[0].ID)
	require.Len(t, got[0].Items, 2)

	// Moving a line off p2 updates the product index
	o2.Items = o2.Items[1:]
	require.NoError(t, s.SaveOrder(ctx, o2))
	got, err = s.OrdersForProduct(ctx, "p2", stock.All)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOrders_SoftDeleteAndPurge(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	o := &stock.Order{ID: "o1", CreatedAt: march3, Items: []stock.OrderLine{{ID: "a", ProductID: "p1"}}}
	require.NoError(t, s.SaveOrder(ctx, o))

	o.IsDelete = true
	o.Deleted = &stock.Deletion{Reason: "cancelled", Amount: decimal.NewFromInt(160), At: march3}
	require.NoError(t, s.SaveOrder(ctx, o))

	got, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.True(t, got.IsDelete)
	require.NotNil(t, got.Deleted)
	assert.Equal(t, "160", got.Deleted.Amount.String())

	require.NoError(t, s.DeleteOrder(ctx, "o1"))
	_, err = s.GetOrder(ctx, "o1")
	assert.ErrorIs(t, err, stock.ErrOrderNotFound)
	assert.ErrorIs(t, s.DeleteOrder(ctx, "o1"), stock.ErrOrderNotFound)

	got2, err := s.OrdersForProduct(ctx, "p1", stock.All)
	require.NoError(t, err)
	assert.Empty(t, got2)
}

func TestPurchaseOrders(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	po := &stock.PurchaseOrder{
		ID:           "po-1",
		PurchaseDate: march3,
		VendorID:     "vendor-1",
		Items: []stock.PurchaseLine{
			{ID: "l1", ProductID: "p1", Quantity: decimal.NewFromInt(20), QualityStatus: stock.QualityApproved, PerLb: decimal.NewFromInt(25)},
		},
		CreatedAt: march3,
		UpdatedAt: march3,
	}
	require.NoError(t, s.SavePurchaseOrder(ctx, po))

	got, err := s.GetPurchaseOrder(ctx, "po-1")
	require.NoError(t, err)
	assert.Equal(t, "vendor-1", got.VendorID)
	assert.Equal(t, []stock.LineID{"l1"}, got.ApprovedLines())
	assert.True(t, got.PurchaseDate.Equal(march3))

	require.NoError(t, s.DeletePurchaseOrder(ctx, "po-1"))
	_, err = s.GetPurchaseOrder(ctx, "po-1")
	assert.ErrorIs(t, err, stock.ErrPurchaseOrderNotFound)
}

func TestWithTx_Rollback(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.SaveProduct(ctx, stock.NewProduct("p1", "Salmon")))

	boom := errors.New("boom")
	var saved *stock.Product
	err := s.WithTx(ctx, func(tx stock.Store) error {
		p, err := tx.GetProduct(ctx, "p1")
		if err != nil {
			return err
		}
		saved = p
		p.Remaining = decimal.NewFromInt(9)
		if err := tx.SaveProduct(ctx, p); err != nil {
			return err
		}
		if err := tx.SaveOrder(ctx, &stock.Order{ID: "o1", CreatedAt: march3}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	p, err := s.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, p.Remaining.IsZero())
	assert.Equal(t, int64(1), p.Version)
	_, err = s.GetOrder(ctx, "o1")
	assert.ErrorIs(t, err, stock.ErrOrderNotFound)

	// The caller's copy was not bumped, so a retry with it still saves
	assert.Equal(t, int64(1), saved.Version)
	require.NoError(t, s.WithTx(ctx, func(tx stock.Store) error {
		return tx.SaveProduct(ctx, saved)
	}))
	assert.Equal(t, int64(2), saved.Version)
}

func TestReplayRuns(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	to := march3.AddDate(0, 0, 7)

	run := stock.ReplayRun{ID: "run-1", To: &to, Status: stock.RunRunning, StartedAt: march3}
	require.NoError(t, s.SaveRun(ctx, run))
	require.NoError(t, s.SaveRun(ctx, stock.ReplayRun{ID: "run-2", Status: stock.RunRunning, StartedAt: march3.Add(time.Hour)}))

	done := march3.Add(time.Minute)
	run.Status, run.Products, run.Failed, run.Error, run.CompletedAt = stock.RunPartial, 3, 1, "p2: boom", &done
	require.NoError(t, s.SaveRun(ctx, run))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, stock.RunPartial, runs[1].Status)
	assert.Equal(t, 1, runs[1].Failed)
	assert.Equal(t, "p2: boom", runs[1].Error)
	assert.Nil(t, runs[1].From)
	require.NotNil(t, runs[1].To)
	assert.True(t, runs[1].To.Equal(to))

	runs, err = s.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.SaveProduct(ctx, stock.NewProduct("p1", "Salmon")))
	require.NoError(t, s.SaveOrder(ctx, &stock.Order{ID: "o1", CreatedAt: march3, Items: []stock.OrderLine{{ProductID: "p1"}}}))
	require.NoError(t, s.SaveRun(ctx, stock.ReplayRun{ID: "run-1", Status: stock.RunCompleted, StartedAt: march3}))

	require.NoError(t, s.Reset(ctx))

	ids, err := s.ListProductIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
	require.NoError(t, s.Ping(ctx))
}
