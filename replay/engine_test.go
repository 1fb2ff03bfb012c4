package replay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/stock-ledger/fulfillment"
	"github.com/warp/stock-ledger/locking"
	"github.com/warp/stock-ledger/stock"
	"github.com/warp/stock-ledger/stock/store"
)

var (
	march1 = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	march5 = time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
	march9 = time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC)
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

type fixture struct {
	st      *store.TxMemory
	orders  *fulfillment.Engine
	replay  *Engine
	locker  *locking.KeyedMutex
	context context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewTxMemory()
	locker := locking.NewKeyedMutex()
	return &fixture{
		st:      st,
		orders:  fulfillment.NewEngine(st, locker, zap.NewNop()),
		replay:  NewEngine(st, locker, zap.NewNop()),
		locker:  locker,
		context: context.Background(),
	}
}

func (f *fixture) product(t *testing.T, id stock.ProductID, boxes, weight int64) {
	t.Helper()
	p := stock.NewProduct(id, string(id))
	if boxes > 0 {
		p.CreditPurchase("po", stock.PurchaseLine{
			ID: stock.LineID("l-" + id), ProductID: id, Quantity: d(boxes), TotalWeight: d(weight),
			QualityStatus: stock.QualityApproved,
		}, march1)
	}
	require.NoError(t, f.st.SaveProduct(f.context, p))
}

func (f *fixture) order(t *testing.T, id stock.OrderID, at time.Time, lines ...stock.OrderLine) {
	t.Helper()
	_, err := f.orders.CreateOrder(f.context, &stock.Order{ID: id, CreatedAt: at, Items: lines})
	require.NoError(t, err)
}

func box(pid stock.ProductID, qty int64) stock.OrderLine {
	return stock.OrderLine{ProductID: pid, Quantity: d(qty), PricingType: stock.PricingBox}
}

func unit(pid stock.ProductID, qty int64) stock.OrderLine {
	return stock.OrderLine{ProductID: pid, Quantity: d(qty), PricingType: stock.PricingUnit}
}

func assertSameLedger(t *testing.T, want, got *stock.Product) {
	t.Helper()
	assert.True(t, want.Remaining.Equal(got.Remaining), "remaining %s != %s", want.Remaining, got.Remaining)
	assert.True(t, want.UnitRemaining.Equal(got.UnitRemaining), "unitRemaining %s != %s", want.UnitRemaining, got.UnitRemaining)
	assert.True(t, want.TotalSell.Equal(got.TotalSell))
	assert.True(t, want.UnitSell.Equal(got.UnitSell))
	assert.Equal(t, want.SalesHistory, got.SalesHistory)
	assert.Equal(t, want.LbSellHistory, got.LbSellHistory)
}

func TestRebuild_MatchesLivePath(t *testing.T) {
	// GIVEN: Orders applied live, recorded out of chronological order
	f := newFixture(t)
	f.product(t, "p1", 20, 500)
	f.product(t, "p2", 5, 50)
	f.order(t, "o-late", march9, box("p1", 3))
	f.order(t, "o-early", march5, box("p1", 2), unit("p1", 10), box("p2", 1))
	live, _ := f.st.GetProduct(f.context, "p1")

	// WHEN: The product is rebuilt
	report, err := f.replay.Rebuild(f.context, "p1", stock.All)
	require.NoError(t, err)

	// THEN: Aggregates match the live result and history is chronological
	assert.Equal(t, 2, report.Orders)
	assert.Equal(t, 3, report.Lines)
	rebuilt, _ := f.st.GetProduct(f.context, "p1")
	assert.True(t, live.Remaining.Equal(rebuilt.Remaining))
	assert.True(t, live.UnitRemaining.Equal(rebuilt.UnitRemaining))
	assert.True(t, live.TotalSell.Equal(rebuilt.TotalSell))
	assert.True(t, live.UnitSell.Equal(rebuilt.UnitSell))
	require.Len(t, rebuilt.SalesHistory, 2)
	assert.Equal(t, march5, rebuilt.SalesHistory[0].Date)
	assert.Equal(t, march9, rebuilt.SalesHistory[1].Date)

	// AND: The other product is untouched
	p2, _ := f.st.GetProduct(f.context, "p2")
	assert.True(t, p2.Remaining.Equal(d(4)))
}

func TestRebuild_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.product(t, "p1", 20, 500)
	f.order(t, "o1", march5, box("p1", 2))
	f.order(t, "o2", march5, unit("p1", 7))
	f.order(t, "o3", march9, box("p1", 30))

	_, err := f.replay.Rebuild(f.context, "p1", stock.All)
	require.NoError(t, err)
	first, _ := f.st.GetProduct(f.context, "p1")

	_, err = f.replay.Rebuild(f.context, "p1", stock.All)
	require.NoError(t, err)
	second, _ := f.st.GetProduct(f.context, "p1")

	assertSameLedger(t, first, second)
}

func TestRebuild_EqualTimestampsBreakTiesOnID(t *testing.T) {
	f := newFixture(t)
	f.product(t, "p1", 20, 500)
	f.order(t, "b", march5, box("p1", 2))
	f.order(t, "a", march5, box("p1", 1))

	_, err := f.replay.Rebuild(f.context, "p1", stock.All)
	require.NoError(t, err)

	p, _ := f.st.GetProduct(f.context, "p1")
	require.Len(t, p.SalesHistory, 2)
	assert.Equal(t, stock.OrderID("a"), p.SalesHistory[0].Source.OrderID)
	assert.Equal(t, stock.OrderID("b"), p.SalesHistory[1].Source.OrderID)
}

func TestRebuild_DeletedOrdersReplayToNothing(t *testing.T) {
	f := newFixture(t)
	f.product(t, "p1", 10, 250)
	f.order(t, "o1", march5, box("p1", 4))
	_, err := f.orders.ReverseOrder(f.context, "o1", "")
	require.NoError(t, err)

	report, err := f.replay.Rebuild(f.context, "p1", stock.All)
	require.NoError(t, err)

	assert.Equal(t, 0, report.Lines)
	p, _ := f.st.GetProduct(f.context, "p1")
	assert.True(t, p.Remaining.Equal(d(10)))
	assert.True(t, p.UnitRemaining.Equal(d(250)))
	assert.Empty(t, p.SalesHistory)
	assert.Empty(t, p.LbSellHistory)
}

func TestRebuild_WindowLimitsReplayedOrders(t *testing.T) {
	f := newFixture(t)
	f.product(t, "p1", 20, 500)
	f.order(t, "o1", march5, box("p1", 2))
	f.order(t, "o2", march9, box("p1", 3))

	report, err := f.replay.Rebuild(f.context, "p1", stock.Window{From: march9})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Orders)
	p, _ := f.st.GetProduct(f.context, "p1")
	assert.True(t, p.TotalSell.Equal(d(3)))
	assert.True(t, p.Remaining.Equal(d(17)))
}

func TestRebuild_FallsBackToAverageFactor(t *testing.T) {
	// GIVEN: Purchase aggregates with no contribution left to read a factor from
	f := newFixture(t)
	p := stock.NewProduct("p1", "p1")
	p.TotalPurchase, p.Remaining = d(10), d(10)
	p.UnitPurchase, p.UnitRemaining = d(200), d(200)
	require.NoError(t, f.st.SaveProduct(f.context, p))
	f.order(t, "o1", march5, box("p1", 2))

	live, _ := f.st.GetProduct(f.context, "p1")
	// Live path has no contribution: factor 0
	assert.True(t, live.UnitRemaining.Equal(d(200)))

	// WHEN: Rebuilt
	_, err := f.replay.Rebuild(f.context, "p1", stock.All)
	require.NoError(t, err)

	// THEN: The average factor 20 is used
	rebuilt, _ := f.st.GetProduct(f.context, "p1")
	assert.True(t, rebuilt.UnitRemaining.Equal(d(160)))
}

func TestRebuild_KeepsTrashAndPurchaseSide(t *testing.T) {
	f := newFixture(t)
	f.product(t, "p1", 10, 250)
	p, _ := f.st.GetProduct(f.context, "p1")
	_, err := p.RecordTrash(d(1), stock.UnitKindBox, "crushed", march5)
	require.NoError(t, err)
	require.NoError(t, f.st.SaveProduct(f.context, p))

	_, err = f.replay.Rebuild(f.context, "p1", stock.All)
	require.NoError(t, err)

	p, _ = f.st.GetProduct(f.context, "p1")
	assert.Len(t, p.QuantityTrash, 1)
	assert.Len(t, p.PurchaseHistory, 1)
	assert.Len(t, p.UpdatedFromOrders, 1)
	assert.True(t, p.TotalPurchase.Equal(d(10)))
}

func TestRebuild_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.replay.Rebuild(f.context, "ghost", stock.All)
	assert.ErrorIs(t, err, stock.ErrProductNotFound)

	_, err = f.replay.Rebuild(f.context, "ghost", stock.Window{From: march9, To: march1})
	assert.ErrorIs(t, err, stock.ErrInvalidWindow)
}

func TestRebuildAll_RecordsRun(t *testing.T) {
	f := newFixture(t)
	f.product(t, "p1", 10, 250)
	f.product(t, "p2", 10, 100)
	f.order(t, "o1", march5, box("p1", 1), box("p2", 2))

	run, err := f.replay.RebuildAll(f.context, stock.All)
	require.NoError(t, err)

	assert.Equal(t, stock.RunCompleted, run.Status)
	assert.Equal(t, 2, run.Products)
	assert.Equal(t, 0, run.Failed)
	assert.Nil(t, run.From)
	require.NotNil(t, run.CompletedAt)

	runs, err := f.replay.Runs(f.context, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, stock.RunCompleted, runs[0].Status)
}

// failingStore fails OrdersForProduct for one product inside transactions.
type failingStore struct {
	*store.TxMemory
	product stock.ProductID
}

type failingTx struct {
	stock.Store
	product stock.ProductID
}

func (s *failingStore) WithTx(ctx context.Context, fn func(stock.Store) error) error {
	return s.TxMemory.WithTx(ctx, func(tx stock.Store) error {
		return fn(&failingTx{Store: tx, product: s.product})
	})
}

func (tx *failingTx) OrdersForProduct(ctx context.Context, id stock.ProductID, w stock.Window) ([]*stock.Order, error) {
	if id == tx.product {
		return nil, errors.New("disk on fire")
	}
	return tx.Store.OrdersForProduct(ctx, id, w)
}

func TestRebuildAll_PartialFailure(t *testing.T) {
	// GIVEN: A store that cannot read orders for p2
	f := newFixture(t)
	f.product(t, "p1", 10, 250)
	f.product(t, "p2", 10, 100)
	f.product(t, "p3", 10, 100)
	f.order(t, "o1", march5, box("p1", 1), box("p3", 1))

	e := NewEngine(&failingStore{TxMemory: f.st, product: "p2"}, f.locker, zap.NewNop())

	// WHEN: Rebuilding everything
	run, err := e.RebuildAll(f.context, stock.All)
	require.NoError(t, err)

	// THEN: The run is partial and the others were rebuilt
	assert.Equal(t, stock.RunPartial, run.Status)
	assert.Equal(t, 3, run.Products)
	assert.Equal(t, 1, run.Failed)
	assert.Contains(t, run.Error, "p2")

	p3, _ := f.st.GetProduct(f.context, "p3")
	assert.True(t, p3.Remaining.Equal(d(9)))
}

func TestRebuildAll_Cancelled(t *testing.T) {
	f := newFixture(t)
	f.product(t, "p1", 10, 250)

	ctx, cancel := context.WithCancel(f.context)
	cancel()
	run, err := f.replay.RebuildAll(ctx, stock.All)
	require.NoError(t, err)

	assert.Equal(t, stock.RunFailed, run.Status)
	assert.Equal(t, 1, run.Failed)
	assert.Contains(t, run.Error, context.Canceled.Error())
}

func TestRebuildAll_RejectsOverlap(t *testing.T) {
	f := newFixture(t)
	f.replay.running.Lock()
	defer f.replay.running.Unlock()

	_, err := f.replay.RebuildAll(f.context, stock.All)
	assert.ErrorIs(t, err, stock.ErrReplayInProgress)
	assert.True(t, stock.IsConflict(err))
}

func TestScheduler_RunsOnStart(t *testing.T) {
	f := newFixture(t)
	f.product(t, "p1", 10, 250)

	s := NewScheduler(f.replay, time.Hour, zap.NewNop())
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		runs, err := f.replay.Runs(f.context, 1)
		return err == nil && len(runs) == 1 && runs[0].Status == stock.RunCompleted
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, s.NextRunTime().After(time.Now()))
}
