package fulfillment

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/stock-ledger/locking"
	"github.com/warp/stock-ledger/stock"
	"github.com/warp/stock-ledger/stock/store"
)

var (
	purchaseDay = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	orderDay    = time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	now         = time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// stocked saves a product holding one approved purchase line of boxes/weight.
func stocked(t *testing.T, st *store.TxMemory, id stock.ProductID, boxes, weight int64) {
	t.Helper()
	p := stock.NewProduct(id, string(id))
	if boxes > 0 {
		p.CreditPurchase("po-seed", stock.PurchaseLine{
			ID: "seed", ProductID: id, Quantity: d(boxes), TotalWeight: d(weight),
			QualityStatus: stock.QualityApproved,
		}, purchaseDay)
	}
	require.NoError(t, st.SaveProduct(context.Background(), p))
}

func newEngine(t *testing.T) (*Engine, *store.TxMemory) {
	t.Helper()
	st := store.NewTxMemory()
	e := NewEngine(st, locking.NewKeyedMutex(), zap.NewNop(), WithClock(func() time.Time { return now }))
	return e, st
}

func boxLine(id stock.LineID, pid stock.ProductID, qty int64) stock.OrderLine {
	return stock.OrderLine{ID: id, ProductID: pid, Quantity: d(qty), PricingType: stock.PricingBox, UnitPrice: d(30)}
}

func unitLine(id stock.LineID, pid stock.ProductID, qty int64) stock.OrderLine {
	return stock.OrderLine{ID: id, ProductID: pid, Quantity: d(qty), PricingType: stock.PricingUnit, UnitPrice: d(2)}
}

func TestCreateOrder_BoxLineUsesConversionFactor(t *testing.T) {
	// GIVEN: 10 boxes / 250 lb approved (25 lb per box)
	e, st := newEngine(t)
	stocked(t, st, "p1", 10, 250)
	ctx := context.Background()

	// WHEN: An order sells 4 boxes
	res, err := e.CreateOrder(ctx, &stock.Order{
		ID: "o1", CreatedAt: orderDay,
		Items: []stock.OrderLine{boxLine("l1", "p1", 4)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)

	// THEN: 4 boxes and 100 lb are debited, dated at the order's creation
	p, err := st.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, p.Remaining.Equal(d(6)))
	assert.True(t, p.TotalSell.Equal(d(4)))
	assert.True(t, p.UnitRemaining.Equal(d(150)))
	require.Len(t, p.SalesHistory, 1)
	require.Len(t, p.LbSellHistory, 1)
	assert.True(t, p.LbSellHistory[0].Weight.Equal(d(100)))
	assert.Equal(t, stock.UnitKindBox, p.LbSellHistory[0].UnitKind)
	assert.Equal(t, orderDay, p.SalesHistory[0].Date)
}

func TestCreateOrder_UnitLineDebitsWeightOnly(t *testing.T) {
	e, st := newEngine(t)
	stocked(t, st, "p1", 10, 250)
	ctx := context.Background()

	_, err := e.CreateOrder(ctx, &stock.Order{
		CreatedAt: orderDay,
		Items:     []stock.OrderLine{unitLine("l1", "p1", 30)},
	})
	require.NoError(t, err)

	p, _ := st.GetProduct(ctx, "p1")
	assert.True(t, p.Remaining.Equal(d(10)))
	assert.True(t, p.UnitSell.Equal(d(30)))
	assert.True(t, p.UnitRemaining.Equal(d(220)))
	assert.Empty(t, p.SalesHistory)
	require.Len(t, p.LbSellHistory, 1)
	assert.Equal(t, stock.UnitKindUnit, p.LbSellHistory[0].UnitKind)
}

func TestCreateOrder_NoPurchaseHistoryMeansZeroFactor(t *testing.T) {
	e, st := newEngine(t)
	stocked(t, st, "p1", 0, 0)
	ctx := context.Background()

	_, err := e.CreateOrder(ctx, &stock.Order{Items: []stock.OrderLine{boxLine("l1", "p1", 3)}})
	require.NoError(t, err)

	p, _ := st.GetProduct(ctx, "p1")
	assert.True(t, p.TotalSell.Equal(d(3)))
	assert.True(t, p.Remaining.IsZero())
	assert.True(t, p.UnitRemaining.IsZero())
	assert.True(t, p.LbSellHistory[0].Weight.IsZero())
}

func TestCreateOrder_OversellClampsAtZero(t *testing.T) {
	e, st := newEngine(t)
	stocked(t, st, "p1", 2, 50)
	ctx := context.Background()

	_, err := e.CreateOrder(ctx, &stock.Order{Items: []stock.OrderLine{boxLine("l1", "p1", 5)}})
	require.NoError(t, err)

	p, _ := st.GetProduct(ctx, "p1")
	assert.True(t, p.Remaining.IsZero())
	assert.True(t, p.UnitRemaining.IsZero())
	assert.True(t, p.TotalSell.Equal(d(5)))
}

func TestCreateOrder_TotalsAndDefaults(t *testing.T) {
	e, _ := newEngine(t)

	res, err := e.CreateOrder(context.Background(), &stock.Order{
		ShippingCost: d(5),
		Items:        []stock.OrderLine{{ProductID: "ghost", Quantity: d(2), PricingType: stock.PricingBox, UnitPrice: d(10)}},
	})
	require.NoError(t, err)

	o := res.Order
	assert.NotEmpty(t, o.ID)
	assert.NotEmpty(t, o.Items[0].ID)
	assert.Equal(t, now, o.CreatedAt)
	assert.True(t, o.Items[0].Total.Equal(d(20)))
	assert.True(t, o.Total.Equal(d(25)))
}

func TestCreateOrder_Validation(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	_, err := e.CreateOrder(ctx, &stock.Order{Items: []stock.OrderLine{{ProductID: "p1", Quantity: d(1), PricingType: "crate"}}})
	assert.ErrorIs(t, err, stock.ErrInvalidPricingType)
	assert.True(t, stock.IsClientError(err))

	_, err = e.CreateOrder(ctx, &stock.Order{Items: []stock.OrderLine{boxLine("dup", "p1", 1), boxLine("dup", "p1", 1)}})
	assert.ErrorIs(t, err, stock.ErrDuplicateLine)

	_, err = e.CreateOrder(ctx, &stock.Order{ID: "o1"})
	require.NoError(t, err)
	_, err = e.CreateOrder(ctx, &stock.Order{ID: "o1"})
	assert.ErrorIs(t, err, stock.ErrOrderExists)
}

func TestCreateOrder_MissingProductSkipped(t *testing.T) {
	// GIVEN: One known product
	st := store.NewTxMemory()
	stocked(t, st, "p1", 10, 250)
	core, logs := observer.New(zapcore.WarnLevel)
	e := NewEngine(st, locking.NewKeyedMutex(), zap.New(core))
	ctx := context.Background()

	// WHEN: An order references it and an unknown product
	res, err := e.CreateOrder(ctx, &stock.Order{
		ID:    "o1",
		Items: []stock.OrderLine{boxLine("l1", "p1", 2), boxLine("l2", "ghost", 1)},
	})

	// THEN: The known line applies, the unknown one is reported and logged
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, stock.ProductID("ghost"), res.Skipped[0].ProductID)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "o1", logs.All()[0].ContextMap()["order_id"])

	p, _ := st.GetProduct(ctx, "p1")
	assert.True(t, p.Remaining.Equal(d(8)))
}

func TestCreateOrder_NonPositiveQuantitySkipped(t *testing.T) {
	e, st := newEngine(t)
	stocked(t, st, "p1", 10, 250)
	ctx := context.Background()

	res, err := e.CreateOrder(ctx, &stock.Order{Items: []stock.OrderLine{boxLine("l1", "p1", 0), boxLine("l2", "p1", -3)}})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Applied)

	p, _ := st.GetProduct(ctx, "p1")
	assert.True(t, p.Remaining.Equal(d(10)))
	assert.Empty(t, p.SalesHistory)
}

func TestReverseOrder_RestoresAggregates(t *testing.T) {
	// GIVEN: A product with one applied order
	e, st := newEngine(t)
	stocked(t, st, "p1", 10, 250)
	ctx := context.Background()
	before, _ := st.GetProduct(ctx, "p1")

	_, err := e.CreateOrder(ctx, &stock.Order{
		ID: "o1", CreatedAt: orderDay,
		Items: []stock.OrderLine{boxLine("l1", "p1", 4), unitLine("l2", "p1", 20)},
	})
	require.NoError(t, err)

	// WHEN: The order is soft-deleted
	res, err := e.ReverseOrder(ctx, "o1", "customer cancelled")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied)

	// THEN: Aggregates are back where they started
	after, _ := st.GetProduct(ctx, "p1")
	assert.True(t, after.Remaining.Equal(before.Remaining))
	assert.True(t, after.UnitRemaining.Equal(before.UnitRemaining))
	assert.True(t, after.TotalSell.IsZero())
	assert.True(t, after.UnitSell.IsZero())

	// AND: The history holds the originals plus compensating negatives
	require.Len(t, after.SalesHistory, 2)
	assert.True(t, after.SalesHistory[1].Quantity.Equal(d(-4)))
	assert.Equal(t, orderDay, after.SalesHistory[1].Date)
	assert.Len(t, after.LbSellHistory, 4)

	// AND: The order keeps its lines for audit
	o := res.Order
	assert.True(t, o.IsDelete)
	require.NotNil(t, o.Deleted)
	assert.Equal(t, "customer cancelled", o.Deleted.Reason)
	assert.True(t, o.Deleted.Amount.Equal(d(160)))
	assert.True(t, o.Total.IsZero())
	assert.True(t, o.Items[0].Quantity.IsZero())
	assert.True(t, o.Items[0].DeletedQuantity.Equal(d(4)))
}

func TestReverseOrder_UsesRecordedAmountNotCurrentFactor(t *testing.T) {
	// GIVEN: A box sale at 25 lb/box, then a new purchase moves the factor to 10
	e, st := newEngine(t)
	stocked(t, st, "p1", 10, 250)
	ctx := context.Background()

	_, err := e.CreateOrder(ctx, &stock.Order{ID: "o1", CreatedAt: orderDay, Items: []stock.OrderLine{boxLine("l1", "p1", 2)}})
	require.NoError(t, err)

	p, _ := st.GetProduct(ctx, "p1")
	p.CreditPurchase("po2", stock.PurchaseLine{ID: "x", ProductID: "p1", Quantity: d(5), TotalWeight: d(50), QualityStatus: stock.QualityApproved}, orderDay)
	require.NoError(t, st.SaveProduct(ctx, p))

	// WHEN: The sale is reversed
	_, err = e.ReverseOrder(ctx, "o1", "")
	require.NoError(t, err)

	// THEN: Exactly the 50 lb that was debited comes back
	p, _ = st.GetProduct(ctx, "p1")
	assert.True(t, p.UnitRemaining.Equal(d(300)))
	assert.True(t, p.Remaining.Equal(d(15)))
}

func TestReverseOrder_Twice(t *testing.T) {
	e, st := newEngine(t)
	stocked(t, st, "p1", 10, 250)
	ctx := context.Background()
	_, err := e.CreateOrder(ctx, &stock.Order{ID: "o1", Items: []stock.OrderLine{boxLine("l1", "p1", 1)}})
	require.NoError(t, err)

	_, err = e.ReverseOrder(ctx, "o1", "")
	require.NoError(t, err)
	_, err = e.ReverseOrder(ctx, "o1", "")
	assert.ErrorIs(t, err, stock.ErrOrderAlreadyDeleted)

	_, err = e.UpdateOrder(ctx, &stock.Order{ID: "o1", Items: []stock.OrderLine{boxLine("l1", "p1", 1)}})
	assert.ErrorIs(t, err, stock.ErrOrderAlreadyDeleted)
}

func TestUpdateOrder_EquivalentToFreshOrder(t *testing.T) {
	// GIVEN: Two identical products; one order of 2 boxes edited to 5
	e, st := newEngine(t)
	stocked(t, st, "edited", 10, 250)
	stocked(t, st, "fresh", 10, 250)
	ctx := context.Background()

	_, err := e.CreateOrder(ctx, &stock.Order{ID: "o1", CreatedAt: orderDay, Items: []stock.OrderLine{boxLine("l1", "edited", 2)}})
	require.NoError(t, err)

	// WHEN: The order is updated, and a fresh order of 5 is placed on the other product
	res, err := e.UpdateOrder(ctx, &stock.Order{ID: "o1", Items: []stock.OrderLine{boxLine("l1", "edited", 5)}})
	require.NoError(t, err)
	_, err = e.CreateOrder(ctx, &stock.Order{ID: "o2", CreatedAt: orderDay, Items: []stock.OrderLine{boxLine("l1", "fresh", 5)}})
	require.NoError(t, err)

	// THEN: Aggregates match and the edit kept the original date
	assert.Equal(t, orderDay, res.Order.CreatedAt)
	edited, _ := st.GetProduct(ctx, "edited")
	fresh, _ := st.GetProduct(ctx, "fresh")
	assert.True(t, edited.Remaining.Equal(fresh.Remaining))
	assert.True(t, edited.UnitRemaining.Equal(fresh.UnitRemaining))
	assert.True(t, edited.TotalSell.Equal(fresh.TotalSell))
	assert.True(t, edited.UnitSell.Equal(fresh.UnitSell))
}

func TestUpdateOrder_MovesLineToAnotherProduct(t *testing.T) {
	e, st := newEngine(t)
	stocked(t, st, "p1", 10, 250)
	stocked(t, st, "p2", 10, 100)
	ctx := context.Background()

	_, err := e.CreateOrder(ctx, &stock.Order{ID: "o1", Items: []stock.OrderLine{boxLine("l1", "p1", 3)}})
	require.NoError(t, err)
	_, err = e.UpdateOrder(ctx, &stock.Order{ID: "o1", Items: []stock.OrderLine{boxLine("l1", "p2", 3)}})
	require.NoError(t, err)

	p1, _ := st.GetProduct(ctx, "p1")
	p2, _ := st.GetProduct(ctx, "p2")
	assert.True(t, p1.Remaining.Equal(d(10)))
	assert.True(t, p1.UnitRemaining.Equal(d(250)))
	assert.True(t, p2.Remaining.Equal(d(7)))
	assert.True(t, p2.UnitRemaining.Equal(d(70)))
}

func TestPurgeOrder(t *testing.T) {
	e, st := newEngine(t)
	stocked(t, st, "p1", 10, 250)
	ctx := context.Background()
	_, err := e.CreateOrder(ctx, &stock.Order{ID: "o1", Items: []stock.OrderLine{boxLine("l1", "p1", 1)}})
	require.NoError(t, err)

	err = e.PurgeOrder(ctx, "o1")
	assert.ErrorIs(t, err, stock.ErrOrderNotDeleted)

	_, err = e.ReverseOrder(ctx, "o1", "")
	require.NoError(t, err)
	require.NoError(t, e.PurgeOrder(ctx, "o1"))

	_, err = e.GetOrder(ctx, "o1")
	assert.ErrorIs(t, err, stock.ErrOrderNotFound)
	p, _ := st.GetProduct(ctx, "p1")
	assert.True(t, p.Remaining.Equal(d(10)))
}

func TestConcurrentOrders_NoLostUpdate(t *testing.T) {
	// GIVEN: 100 boxes on hand
	e, st := newEngine(t)
	stocked(t, st, "p1", 100, 1000)
	ctx := context.Background()

	// WHEN: 50 orders of one box land concurrently
	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.CreateOrder(ctx, &stock.Order{
				ID:    stock.OrderID(fmt.Sprintf("o%d", i)),
				Items: []stock.OrderLine{boxLine("l1", "p1", 1)},
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// THEN: Every debit landed
	p, _ := st.GetProduct(ctx, "p1")
	assert.True(t, p.Remaining.Equal(d(50)))
	assert.True(t, p.TotalSell.Equal(d(50)))
	assert.True(t, p.UnitRemaining.Equal(d(500)))
	assert.Len(t, p.SalesHistory, 50)
}
