package orderbook

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/domain"
	"tradecore/pkg/quant"
)

var audusd = domain.MustInstrumentID("AUD/USD.SIM")

func bid(px, size string, id uint64) domain.BookOrder {
	return domain.BookOrder{Side: domain.Buy, Price: quant.MustPrice(px), Size: quant.MustQty(size), OrderID: id}
}

func ask(px, size string, id uint64) domain.BookOrder {
	return domain.BookOrder{Side: domain.Sell, Price: quant.MustPrice(px), Size: quant.MustQty(size), OrderID: id}
}

func delta(action domain.BookAction, o domain.BookOrder, seq uint64, ts quant.UnixNanos) domain.OrderBookDelta {
	return domain.OrderBookDelta{InstrumentID: audusd, Action: action, Order: o, Sequence: seq, TsEvent: ts, TsInit: ts}
}

func TestNew(t *testing.T) {
	for _, bt := range []domain.BookType{domain.L1MBP, domain.L2MBP, domain.L3MBO} {
		b, err := New(audusd, bt)
		require.NoError(t, err)
		assert.Equal(t, bt, b.BookType())
		assert.Equal(t, audusd, b.InstrumentID())
	}
	_, err := New(audusd, "L4")
	assert.ErrorIs(t, err, domain.ErrInvalidBookOperation)
}

func TestClear_EmptyBookIsNoOp(t *testing.T) {
	for _, bt := range []domain.BookType{domain.L1MBP, domain.L2MBP, domain.L3MBO} {
		t.Run(string(bt), func(t *testing.T) {
			b, _ := New(audusd, bt)
			before := b.Snapshot()

			require.NoError(t, b.ApplyDelta(domain.NewClearDelta(audusd, 5, 100, 100)))
			require.NoError(t, b.ApplyDelta(domain.NewClearDelta(audusd, 6, 101, 101)))

			assert.Equal(t, before, b.Snapshot())
			assert.Zero(t, b.UpdateCount())
			assert.NoError(t, b.CheckIntegrity())
		})
	}
}

func TestClear_EmptiesBothSides(t *testing.T) {
	b := NewL3Book(audusd)
	require.NoError(t, b.Add(bid("1.0", "1", 1), 0, 1, 1))
	require.NoError(t, b.Add(ask("1.1", "1", 2), 0, 2, 2))
	require.NoError(t, b.Delete(bid("1.0", "1", 99), 0, 3, 3))
	require.Equal(t, uint64(1), b.MissedDeletes())

	require.NoError(t, b.Clear(4, 4))
	_, ok := b.BestBidPrice()
	assert.False(t, ok)
	_, ok = b.BestAskPrice()
	assert.False(t, ok)
	assert.Zero(t, b.MissedDeletes())
	assert.Equal(t, uint64(4), b.Sequence())
	assert.Equal(t, uint64(4), b.UpdateCount())
}

func TestTsOrdering(t *testing.T) {
	b := NewL2Book(audusd)
	require.NoError(t, b.ApplyDelta(delta(domain.ActionAdd, bid("1.0", "1", 0), 1, 100)))
	require.NoError(t, b.ApplyDelta(delta(domain.ActionAdd, ask("1.1", "1", 0), 2, 200)))
	assert.Equal(t, quant.UnixNanos(200), b.TsLast())
	assert.Equal(t, uint64(2), b.Sequence())
	assert.Equal(t, uint64(2), b.UpdateCount())
}

func TestOutOfOrderDeltaIsDataQualityError(t *testing.T) {
	b := NewL2Book(audusd)
	require.NoError(t, b.ApplyDelta(delta(domain.ActionAdd, bid("1.0", "1", 0), 2, 200)))

	err := b.ApplyDelta(delta(domain.ActionAdd, bid("0.9", "1", 0), 3, 150))
	var dq *domain.DataQualityError
	require.ErrorAs(t, err, &dq)
	assert.Equal(t, uint64(3), dq.Sequence)

	err = b.ApplyDelta(delta(domain.ActionAdd, bid("0.9", "1", 0), 1, 250))
	assert.ErrorIs(t, err, domain.ErrDataQuality)

	// skipped: state unchanged
	assert.Len(t, b.Bids(0), 1)
	assert.Equal(t, quant.UnixNanos(200), b.TsLast())

	suspect, reason := b.Suspect()
	assert.True(t, suspect)
	assert.NotEmpty(t, reason)
	assert.ErrorIs(t, b.CheckIntegrity(), domain.ErrIntegrity)

	// a snapshot rebuild clears the flag
	require.NoError(t, b.ApplyDelta(domain.NewClearDelta(audusd, 4, 300, 300)))
	require.NoError(t, b.ApplyDelta(delta(domain.ActionAdd, bid("1.0", "2", 0), 4, 300)))
	assert.NoError(t, b.CheckIntegrity())
}

func TestMissingSideAndWrongInstrument(t *testing.T) {
	b := NewL2Book(audusd)
	o := bid("1.0", "1", 0)
	o.Side = domain.NoOrderSide
	assert.ErrorIs(t, b.ApplyDelta(delta(domain.ActionAdd, o, 1, 1)), domain.ErrDataQuality)

	d := delta(domain.ActionAdd, bid("1.0", "1", 0), 1, 1)
	d.InstrumentID = domain.MustInstrumentID("EUR/USD.SIM")
	assert.ErrorIs(t, b.ApplyDelta(d), domain.ErrDataQuality)

	d = delta("MODIFY", bid("1.0", "1", 0), 1, 1)
	assert.ErrorIs(t, b.ApplyDelta(d), domain.ErrDataQuality)
}

func TestNonCrossedAfterValidSequence(t *testing.T) {
	b := NewL3Book(audusd)
	ds, err := domain.NewOrderBookDeltas(audusd, []domain.OrderBookDelta{
		domain.NewClearDelta(audusd, 1, 1, 1),
		delta(domain.ActionAdd, bid("0.99", "3", 1), 1, 1),
		delta(domain.ActionAdd, bid("0.99", "2", 2), 1, 1),
		delta(domain.ActionAdd, bid("0.98", "5", 3), 1, 1),
		delta(domain.ActionAdd, ask("1.01", "4", 4), 1, 1),
		delta(domain.ActionAdd, ask("1.02", "1", 5), 1, 1),
		delta(domain.ActionUpdate, bid("0.99", "1", 1), 2, 2),
		delta(domain.ActionDelete, ask("1.01", "4", 4), 3, 3),
		delta(domain.ActionUpdate, ask("1.00", "6", 5), 4, 4),
	})
	require.NoError(t, err)
	require.NoError(t, b.ApplyDeltas(ds))
	require.NoError(t, b.CheckIntegrity())

	px, _ := b.BestBidPrice()
	assert.Equal(t, "0.99", px.String())
	size, _ := b.BestBidSize()
	assert.Equal(t, "3", size.String())
	px, _ = b.BestAskPrice()
	assert.Equal(t, "1.00", px.String())

	lvl := b.Bids(1)[0]
	orders := lvl.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, uint64(1), orders[0].OrderID, "resize keeps time priority")
}

func TestCrossedBookDetection(t *testing.T) {
	b := NewL2Book(audusd)
	require.NoError(t, b.Add(bid("11.0", "1", 0), 0, 1, 1))
	require.NoError(t, b.Add(ask("10.0", "1", 0), 0, 2, 2))

	assert.True(t, b.IsCrossed())
	err := b.CheckIntegrity()
	var ie *domain.IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Contains(t, ie.Detail, "crossed")
}

func TestDepthWeightedAverage(t *testing.T) {
	b := NewL2Book(audusd)
	require.NoError(t, b.Add(bid("0.83", "4.0", 0), 0, 1, 1))
	require.NoError(t, b.Add(bid("0.82", "1.0", 0), 0, 2, 2))

	avg := b.GetAvgPxForQuantity(quant.MustQty("5.0"), domain.Sell)
	want := decimal.RequireFromString("0.83").Mul(decimal.NewFromInt(4)).
		Add(decimal.RequireFromString("0.82")).Div(decimal.NewFromInt(5))
	assert.True(t, want.Equal(avg), "got %s want %s", avg, want)

	// never invents liquidity beyond the walked depth
	avg = b.GetAvgPxForQuantity(quant.MustQty("50"), domain.Sell)
	assert.True(t, want.Equal(avg))

	assert.True(t, b.GetAvgPxForQuantity(quant.MustQty("1"), domain.Buy).IsZero())
}

func TestGetQuantityForPrice(t *testing.T) {
	b := NewL2Book(audusd)
	require.NoError(t, b.Add(ask("1.01", "1", 0), 0, 1, 1))
	require.NoError(t, b.Add(ask("1.02", "2", 0), 0, 1, 1))
	require.NoError(t, b.Add(ask("1.03", "4", 0), 0, 1, 1))
	require.NoError(t, b.Add(bid("0.99", "3", 0), 0, 1, 1))
	require.NoError(t, b.Add(bid("0.98", "5", 0), 0, 1, 1))

	assert.Equal(t, "3", b.GetQuantityForPrice(quant.MustPrice("1.02"), domain.Buy).String())
	assert.Equal(t, "8", b.GetQuantityForPrice(quant.MustPrice("0.98"), domain.Sell).String())
	assert.True(t, b.GetQuantityForPrice(quant.MustPrice("1.00"), domain.Sell).IsZero())
}

func TestGetAvgPxQtyForExposure(t *testing.T) {
	b := NewL2Book(audusd)
	require.NoError(t, b.Add(ask("2", "1", 0), 0, 1, 1))
	require.NoError(t, b.Add(ask("4", "1", 0), 0, 1, 1))

	avg, qty, executed := b.GetAvgPxQtyForExposure(decimal.NewFromInt(4), domain.Buy)
	assert.True(t, qty.Equal(decimal.RequireFromString("1.5")), qty.String())
	assert.True(t, executed.Equal(decimal.NewFromInt(4)))
	assert.Equal(t, "2.6666666666666667", avg.String())
}

func TestSimulateFills(t *testing.T) {
	b := NewL2Book(audusd)
	require.NoError(t, b.Add(ask("1.01", "1", 0), 0, 1, 1))
	require.NoError(t, b.Add(ask("1.02", "2", 0), 0, 1, 1))

	fills := b.SimulateFills(domain.Buy, quant.MustQty("2"), nil)
	require.Len(t, fills, 2)
	assert.Equal(t, "1", fills[0].Size.String())
	assert.Equal(t, "1.02", fills[1].Price.String())
	assert.Equal(t, "1", fills[1].Size.String())

	limit := quant.MustPrice("1.01")
	fills = b.SimulateFills(domain.Buy, quant.MustQty("5"), &limit)
	require.Len(t, fills, 1)
	assert.Equal(t, "1", fills[0].Size.String())

	assert.Empty(t, b.SimulateFills(domain.Sell, quant.MustQty("1"), nil))
}

func TestL2_AddReplacesLevelSize(t *testing.T) {
	b := NewL2Book(audusd)
	require.NoError(t, b.Add(bid("1.0", "1", 0), 0, 1, 1))
	require.NoError(t, b.Add(bid("1.0", "7", 0), 0, 2, 2))
	size, _ := b.BestBidSize()
	assert.Equal(t, "7", size.String())

	require.NoError(t, b.Update(bid("1.0", "0", 0), 0, 3, 3))
	_, ok := b.BestBidPrice()
	assert.False(t, ok)

	// deleting an absent level is a no-op
	require.NoError(t, b.Delete(bid("2.0", "0", 0), 0, 4, 4))
	assert.NoError(t, b.CheckIntegrity())
}

func TestL3_UpdateMovesPriceAndDuplicateAdd(t *testing.T) {
	b := NewL3Book(audusd)
	require.NoError(t, b.Add(bid("1.00", "1", 10), 0, 1, 1))
	require.NoError(t, b.Add(bid("1.00", "1", 11), 0, 1, 1))
	require.NoError(t, b.Update(bid("1.01", "2", 10), 0, 2, 2))

	px, _ := b.BestBidPrice()
	assert.Equal(t, "1.01", px.String())
	o, err := b.OrderByID(10)
	require.NoError(t, err)
	assert.Equal(t, "2", o.Size.String())
	assert.Len(t, b.Bids(0), 2)

	err = b.Add(bid("1.00", "1", 11), 0, 3, 3)
	assert.ErrorIs(t, err, domain.ErrDataQuality)

	_, err = b.OrderByID(999)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestL3_MissedDeleteCounted(t *testing.T) {
	b := NewL3Book(audusd)
	require.NoError(t, b.Add(bid("1.00", "1", 1), 0, 1, 1))
	require.NoError(t, b.Delete(bid("1.00", "1", 2), 0, 2, 2))
	require.NoError(t, b.Delete(bid("1.00", "1", 1), 0, 3, 3))
	require.NoError(t, b.Delete(bid("1.00", "1", 1), 0, 4, 4))

	assert.Equal(t, uint64(2), b.MissedDeletes())
	_, ok := b.BestBidPrice()
	assert.False(t, ok)
}

func TestL1_QuoteAndTrade(t *testing.T) {
	b := NewL1Book(audusd)
	require.NoError(t, b.UpdateQuote(domain.QuoteTick{
		InstrumentID: audusd,
		BidPrice:     quant.MustPrice("1.00000"),
		AskPrice:     quant.MustPrice("1.00002"),
		BidSize:      quant.MustQty("100000"),
		AskSize:      quant.MustQty("200000"),
		TsEvent:      1,
	}))

	spread, ok := b.Spread()
	require.True(t, ok)
	assert.Equal(t, "0.00002", spread.String())
	mid, ok := b.Midpoint()
	require.True(t, ok)
	assert.Equal(t, "1.00001", mid.String())

	require.NoError(t, b.Add(bid("1.00001", "5", 0), 0, 2, 2))
	assert.Len(t, b.Bids(0), 1)
	assert.NoError(t, b.CheckIntegrity())

	require.NoError(t, b.UpdateTrade(domain.TradeTick{
		InstrumentID: audusd, Price: quant.MustPrice("1.00003"), Size: quant.MustQty("1"), TsEvent: 3,
	}))
	bp, _ := b.BestBidPrice()
	ap, _ := b.BestAskPrice()
	assert.Equal(t, bp, ap)

	_, err := b.OrderByID(1)
	assert.ErrorIs(t, err, domain.ErrInvalidBookOperation)
}

func TestUnsupportedOperations(t *testing.T) {
	for _, b := range []Book{NewL2Book(audusd), NewL3Book(audusd)} {
		assert.ErrorIs(t, b.UpdateQuote(domain.QuoteTick{InstrumentID: audusd}), domain.ErrInvalidBookOperation)
		assert.ErrorIs(t, b.UpdateTrade(domain.TradeTick{InstrumentID: audusd}), domain.ErrInvalidBookOperation)
	}
	_, err := NewL2Book(audusd).OrderByID(1)
	assert.ErrorIs(t, err, domain.ErrInvalidBookOperation)
}

func TestMidpointUndefinedOnOneSidedBook(t *testing.T) {
	b := NewL2Book(audusd)
	require.NoError(t, b.Add(bid("1.0", "1", 0), 0, 1, 1))
	_, ok := b.Midpoint()
	assert.False(t, ok)
	_, ok = b.Spread()
	assert.False(t, ok)
}

func TestApplyDepth(t *testing.T) {
	depth := domain.OrderBookDepth10{
		InstrumentID: audusd,
		Bids:         []domain.BookOrder{bid("0.99", "1", 0), bid("0.98", "2", 0), bid("0.97", "0", 0)},
		Asks:         []domain.BookOrder{ask("1.01", "3", 0), ask("1.02", "4", 0)},
		Sequence:     9,
		TsEvent:      90,
	}

	l2 := NewL2Book(audusd)
	require.NoError(t, l2.Add(bid("0.50", "1", 0), 0, 1, 1))
	require.NoError(t, l2.ApplyDepth(depth))
	assert.Len(t, l2.Bids(0), 2)
	assert.Len(t, l2.Asks(0), 2)
	assert.Equal(t, uint64(9), l2.Sequence())
	assert.NoError(t, l2.CheckIntegrity())

	l1 := NewL1Book(audusd)
	require.NoError(t, l1.ApplyDepth(depth))
	assert.Len(t, l1.Bids(0), 1)
	assert.NoError(t, l1.CheckIntegrity())

	bad := depth
	bad.Bids = []domain.BookOrder{ask("0.99", "1", 0)}
	assert.ErrorIs(t, NewL2Book(audusd).ApplyDepth(bad), domain.ErrDataQuality)
}

func TestClearStaleLevels(t *testing.T) {
	b := NewL2Book(audusd)
	require.NoError(t, b.Add(bid("1.03", "1", 0), 0, 1, 1))
	require.NoError(t, b.Add(bid("1.00", "1", 0), 0, 1, 1))
	require.NoError(t, b.Add(ask("1.01", "1", 0), 0, 1, 1))
	require.NoError(t, b.Add(ask("1.02", "1", 0), 0, 1, 1))
	require.NoError(t, b.Add(ask("1.05", "1", 0), 0, 1, 1))

	removed := b.ClearStaleLevels(domain.Sell)
	require.Len(t, removed, 2)
	assert.Equal(t, "1.01", removed[0].Price().String())
	assert.NoError(t, b.CheckIntegrity())

	assert.Nil(t, b.ClearStaleLevels(domain.NoOrderSide))
}

func TestSnapshotRestore(t *testing.T) {
	b := NewL3Book(audusd)
	require.NoError(t, b.Add(bid("1.00", "1", 1), 0, 1, 10))
	require.NoError(t, b.Add(bid("1.00", "2", 2), 0, 2, 20))
	require.NoError(t, b.Add(ask("1.01", "3", 3), 0, 3, 30))

	snap := b.Snapshot()
	restored := NewL3Book(audusd)
	require.NoError(t, restored.Restore(snap))
	assert.Equal(t, snap, restored.Snapshot())
	assert.Equal(t, uint64(3), restored.UpdateCount())

	err := NewL2Book(audusd).Restore(snap)
	assert.ErrorIs(t, err, domain.ErrInvalidBookOperation)

	corrupt := snap
	corrupt.Bids = append([]domain.BookOrder{}, snap.Bids...)
	corrupt.Bids = append(corrupt.Bids, ask("0.99", "1", 4))
	assert.ErrorIs(t, NewL3Book(audusd).Restore(corrupt), domain.ErrIntegrity)
}

func TestSnapshotRestore_CrossedBookStaysSuspect(t *testing.T) {
	b := NewL2Book(audusd)
	require.NoError(t, b.Add(bid("1.20", "1", 0), 0, 1, 10))
	require.NoError(t, b.Add(ask("1.10", "1", 0), 0, 2, 20))
	b.MarkSuspect("crossed book")

	snap := b.Snapshot()
	assert.True(t, snap.Suspect)

	restored := NewL2Book(audusd)
	require.NoError(t, restored.Restore(snap))
	suspect, reason := restored.Suspect()
	assert.True(t, suspect)
	assert.Equal(t, "crossed book", reason)
	px, _ := restored.BestBidPrice()
	assert.Equal(t, "1.20", px.String())
	assert.ErrorIs(t, restored.CheckIntegrity(), domain.ErrIntegrity)

	// images written before the flag was recorded are flagged on restore
	snap.Suspect, snap.SuspectReason = false, ""
	legacy := NewL2Book(audusd)
	require.NoError(t, legacy.Restore(snap))
	suspect, _ = legacy.Suspect()
	assert.True(t, suspect)
}

func TestReset(t *testing.T) {
	b := NewL2Book(audusd)
	require.NoError(t, b.Add(bid("1.0", "1", 0), 0, 1, 1))
	b.MarkSuspect("manual")
	b.Reset()
	assert.Zero(t, b.UpdateCount())
	assert.Zero(t, b.Sequence())
	suspect, _ := b.Suspect()
	assert.False(t, suspect)
	assert.NoError(t, b.CheckIntegrity())
}
