package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/domain"
	"tradecore/internal/event"
	"tradecore/internal/execution"
	"tradecore/pkg/quant"
)

var (
	audusd = domain.MustInstrumentID("AUD/USD.SIM")
	eurusd = domain.MustInstrumentID("EUR/USD.SIM")
)

func base(inst domain.InstrumentID, strategy domain.StrategyID, coid domain.ClientOrderID, ts quant.UnixNanos) event.OrderBase {
	return event.OrderBase{
		BaseEvent:     event.BaseEvent{TsEvent: ts, TsInit: ts},
		TraderID:      "TRADER-001",
		StrategyID:    strategy,
		InstrumentID:  inst,
		ClientOrderID: coid,
		AccountID:     "SIM-001",
	}
}

func newOrder(t *testing.T, inst domain.InstrumentID, strategy domain.StrategyID, coid domain.ClientOrderID, side domain.OrderSide) *execution.Order {
	t.Helper()
	px := quant.MustPrice("1.0")
	o, err := execution.NewOrder(&event.OrderInitialized{
		OrderBase:   base(inst, strategy, coid, 1),
		Side:        side,
		OrderType:   domain.Limit,
		Quantity:    quant.MustQty("10"),
		Price:       &px,
		TimeInForce: domain.GTC,
	})
	require.NoError(t, err)
	return o
}

func submit(t *testing.T, o *execution.Order) {
	t.Helper()
	require.NoError(t, o.Apply(&event.OrderSubmitted{OrderBase: base(o.InstrumentID, o.StrategyID, o.ClientOrderID, 2)}))
}

func accept(t *testing.T, o *execution.Order, venue domain.VenueOrderID) {
	t.Helper()
	b := base(o.InstrumentID, o.StrategyID, o.ClientOrderID, 3)
	b.VenueOrderID = venue
	require.NoError(t, o.Apply(&event.OrderAccepted{OrderBase: b}))
}

func fill(o *execution.Order, trade domain.TradeID, qty string, pid domain.PositionID, ts quant.UnixNanos) *event.OrderFilled {
	return &event.OrderFilled{
		OrderBase:  base(o.InstrumentID, o.StrategyID, o.ClientOrderID, ts),
		TradeID:    trade,
		PositionID: pid,
		OrderSide:  o.Side,
		OrderType:  o.Type,
		LastQty:    quant.MustQty(qty),
		LastPx:     quant.MustPrice("1.0"),
		Currency:   domain.USD,
	}
}

func instrument(t *testing.T, id domain.InstrumentID) domain.Instrument {
	t.Helper()
	inst, err := domain.NewCurrencyPair(id, 5, 0)
	require.NoError(t, err)
	return inst
}

func ids(orders []*execution.Order) []domain.ClientOrderID {
	out := make([]domain.ClientOrderID, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.ClientOrderID)
	}
	return out
}

func TestCache_AddOrderRejectsDuplicate(t *testing.T) {
	c := New(nil)
	o := newOrder(t, audusd, "S-1", "O-1", domain.Buy)
	require.NoError(t, c.AddOrder(o, ""))
	assert.ErrorIs(t, c.AddOrder(o, ""), domain.ErrDuplicateOrder)

	got, ok := c.Order("O-1")
	require.True(t, ok)
	assert.Same(t, o, got)

	_, ok = c.Order("O-404")
	assert.False(t, ok)
	assert.NoError(t, c.CheckIntegrity())
}

func TestCache_StatusIndexesFollowUpdates(t *testing.T) {
	c := New(nil)
	o := newOrder(t, audusd, "S-1", "O-1", domain.Buy)
	require.NoError(t, c.AddOrder(o, ""))
	assert.Zero(t, c.OrdersOpenCount(Filter{}))

	submit(t, o)
	require.NoError(t, c.UpdateOrder(o))
	assert.Equal(t, 1, c.OrdersInflightCount(Filter{}))

	accept(t, o, "V-1")
	require.NoError(t, c.UpdateOrder(o))
	assert.Zero(t, c.OrdersInflightCount(Filter{}))
	assert.Equal(t, 1, c.OrdersOpenCount(Filter{}))
	coid, ok := c.ClientOrderID("V-1")
	require.True(t, ok)
	assert.Equal(t, domain.ClientOrderID("O-1"), coid)

	require.NoError(t, o.Apply(fill(o, "T-1", "10", "P-1", 4)))
	require.NoError(t, c.UpdateOrder(o))
	assert.Zero(t, c.OrdersOpenCount(Filter{}))
	assert.Equal(t, 1, c.OrdersCompletedCount(Filter{}))
	pid, ok := c.PositionID("O-1")
	require.True(t, ok)
	assert.Equal(t, domain.PositionID("P-1"), pid)

	require.NoError(t, c.CheckIntegrity())
}

func TestCache_UpdateUnknownOrder(t *testing.T) {
	c := New(nil)
	err := c.UpdateOrder(newOrder(t, audusd, "S-1", "O-1", domain.Buy))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCache_Filters(t *testing.T) {
	c := New(nil)
	for _, tc := range []struct {
		inst  domain.InstrumentID
		strat domain.StrategyID
		id    domain.ClientOrderID
		side  domain.OrderSide
	}{
		{audusd, "S-1", "O-3", domain.Buy},
		{audusd, "S-2", "O-1", domain.Sell},
		{eurusd, "S-1", "O-2", domain.Buy},
		{eurusd, "S-2", "O-4", domain.Sell},
	} {
		o := newOrder(t, tc.inst, tc.strat, tc.id, tc.side)
		submit(t, o)
		accept(t, o, domain.VenueOrderID("V-"+string(tc.id)))
		require.NoError(t, c.AddOrder(o, ""))
	}

	tests := []struct {
		name   string
		filter Filter
		want   []domain.ClientOrderID
	}{
		{"all", Filter{}, []domain.ClientOrderID{"O-1", "O-2", "O-3", "O-4"}},
		{"instrument", Filter{Instrument: audusd}, []domain.ClientOrderID{"O-1", "O-3"}},
		{"strategy", Filter{Strategy: "S-1"}, []domain.ClientOrderID{"O-2", "O-3"}},
		{"side", Filter{Side: domain.Sell}, []domain.ClientOrderID{"O-1", "O-4"}},
		{"combined", Filter{Instrument: eurusd, Strategy: "S-2", Side: domain.Sell}, []domain.ClientOrderID{"O-4"}},
		{"unknown instrument", Filter{Instrument: domain.MustInstrumentID("BTC/USD.SIM")}, []domain.ClientOrderID{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(c.OrdersOpen(tt.filter)))
			assert.Equal(t, tt.want, ids(c.Orders(tt.filter)))
		})
	}
}

func TestCache_VenueOrderIDBinding(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.AddVenueOrderID("O-1", "V-1", false))
	require.NoError(t, c.AddVenueOrderID("O-1", "V-1", false))

	var conflict *domain.IdentityConflictError
	err := c.AddVenueOrderID("O-1", "V-2", false)
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, domain.VenueOrderID("V-1"), conflict.Existing)
	assert.Equal(t, domain.VenueOrderID("V-2"), conflict.Incoming)

	// a venue id already owned by another order is a conflict even with overwrite
	assert.ErrorIs(t, c.AddVenueOrderID("O-2", "V-1", true), domain.ErrIdentityConflict)

	require.NoError(t, c.AddVenueOrderID("O-1", "V-2", true))
	vid, ok := c.VenueOrderID("O-1")
	require.True(t, ok)
	assert.Equal(t, domain.VenueOrderID("V-2"), vid)
	_, ok = c.ClientOrderID("V-1")
	assert.False(t, ok)
}

func TestCache_PositionBinding(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.AddPositionID("P-1", "O-1"))
	require.NoError(t, c.AddPositionID("P-1", "O-1"))
	assert.ErrorIs(t, c.AddPositionID("P-2", "O-1"), domain.ErrIdentityConflict)
}

func TestCache_PositionsOpenAndClosed(t *testing.T) {
	c := New(nil)
	buy := newOrder(t, audusd, "S-1", "O-1", domain.Buy)
	sell := newOrder(t, audusd, "S-1", "O-2", domain.Sell)
	for _, o := range []*execution.Order{buy, sell} {
		submit(t, o)
		accept(t, o, domain.VenueOrderID("V-"+string(o.ClientOrderID)))
		require.NoError(t, c.AddOrder(o, "P-1"))
	}

	f1 := fill(buy, "T-1", "10", "P-1", 4)
	require.NoError(t, buy.Apply(f1))
	require.NoError(t, c.UpdateOrder(buy))
	p, err := execution.NewPosition(instrument(t, audusd), f1)
	require.NoError(t, err)
	require.NoError(t, c.AddPosition(p))
	assert.ErrorIs(t, c.AddPosition(p), domain.ErrDuplicatePosition)

	assert.Len(t, c.PositionsOpen(Filter{Side: domain.Buy}), 1)
	assert.Empty(t, c.PositionsOpen(Filter{Side: domain.Sell}))
	got, ok := c.PositionForOrder("O-1")
	require.True(t, ok)
	assert.Same(t, p, got)

	f2 := fill(sell, "T-2", "10", "P-1", 5)
	require.NoError(t, sell.Apply(f2))
	require.NoError(t, c.UpdateOrder(sell))
	require.NoError(t, p.Apply(f2))
	require.NoError(t, c.UpdatePosition(p))

	assert.Zero(t, c.PositionsOpenCount(Filter{}))
	assert.Equal(t, 1, c.PositionsClosedCount(Filter{Instrument: audusd}))
	assert.Equal(t, []domain.ClientOrderID{"O-1", "O-2"}, ids(c.OrdersForPosition("P-1")))
	require.NoError(t, c.CheckIntegrity())
	assert.False(t, c.CheckResiduals())
}

func TestCache_CheckIntegrityDetectsStaleIndex(t *testing.T) {
	c := New(nil)
	o := newOrder(t, audusd, "S-1", "O-1", domain.Buy)
	require.NoError(t, c.AddOrder(o, ""))

	// mutated without UpdateOrder
	submit(t, o)
	accept(t, o, "V-1")

	err := c.CheckIntegrity()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrIntegrity)
	assert.False(t, c.CheckResiduals())

	require.NoError(t, c.UpdateOrder(o))
	assert.NoError(t, c.CheckIntegrity())
	assert.True(t, c.CheckResiduals())
}

func TestCache_Purge(t *testing.T) {
	c := New(nil)
	done := newOrder(t, audusd, "S-1", "O-1", domain.Buy)
	submit(t, done)
	accept(t, done, "V-1")
	require.NoError(t, done.Apply(&event.OrderCanceled{OrderBase: base(audusd, "S-1", "O-1", 10)}))
	require.NoError(t, c.AddOrder(done, ""))

	live := newOrder(t, audusd, "S-1", "O-2", domain.Buy)
	submit(t, live)
	require.NoError(t, c.AddOrder(live, ""))

	assert.Zero(t, c.PurgeClosedOrders(9))
	assert.Equal(t, 1, c.PurgeClosedOrders(10))
	_, ok := c.Order("O-1")
	assert.False(t, ok)
	_, ok = c.ClientOrderID("V-1")
	assert.False(t, ok)
	_, ok = c.Order("O-2")
	assert.True(t, ok)
	require.NoError(t, c.CheckIntegrity())

	c.Reset()
	assert.Zero(t, c.OrdersTotalCount(Filter{}))
}

func TestCache_PurgeClosedPositionsDropsBindings(t *testing.T) {
	c := New(nil)
	buy := newOrder(t, audusd, "S-1", "O-1", domain.Buy)
	sell := newOrder(t, audusd, "S-1", "O-2", domain.Sell)
	for _, o := range []*execution.Order{buy, sell} {
		submit(t, o)
		accept(t, o, domain.VenueOrderID("V-"+string(o.ClientOrderID)))
		require.NoError(t, c.AddOrder(o, "P-1"))
	}
	f1 := fill(buy, "T-1", "10", "P-1", 4)
	require.NoError(t, buy.Apply(f1))
	require.NoError(t, c.UpdateOrder(buy))
	p, err := execution.NewPosition(instrument(t, audusd), f1)
	require.NoError(t, err)
	require.NoError(t, c.AddPosition(p))

	f2 := fill(sell, "T-2", "10", "P-1", 5)
	require.NoError(t, sell.Apply(f2))
	require.NoError(t, c.UpdateOrder(sell))
	require.NoError(t, p.Apply(f2))
	require.NoError(t, c.UpdatePosition(p))

	assert.Zero(t, c.PurgeClosedPositions(4))
	assert.Equal(t, 1, c.PurgeClosedPositions(5))

	_, ok := c.PositionForOrder("O-1")
	assert.False(t, ok)
	assert.Empty(t, c.OrdersForPosition("P-1"))
	require.NoError(t, c.CheckIntegrity())

	// orders may be purged afterwards without leftovers
	assert.Equal(t, 2, c.PurgeClosedOrders(5))
	require.NoError(t, c.CheckIntegrity())
}

func TestCache_CheckIntegrityDetectsMissingPosition(t *testing.T) {
	c := New(nil)
	o := newOrder(t, audusd, "S-1", "O-1", domain.Buy)
	submit(t, o)
	accept(t, o, "V-1")
	require.NoError(t, c.AddOrder(o, "P-1"))

	// bound ahead of the first fill
	require.NoError(t, c.CheckIntegrity())

	require.NoError(t, o.Apply(fill(o, "T-1", "4", "P-1", 4)))
	require.NoError(t, c.UpdateOrder(o))

	err := c.CheckIntegrity()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrIntegrity)
	assert.Contains(t, err.Error(), "missing position P-1")
}

type memDB struct {
	orders    map[domain.ClientOrderID]execution.OrderRecord
	positions map[domain.PositionID]execution.PositionRecord
	accounts  map[domain.AccountID]*domain.Account
	fail      error
}

func newMemDB() *memDB {
	return &memDB{
		orders:    make(map[domain.ClientOrderID]execution.OrderRecord),
		positions: make(map[domain.PositionID]execution.PositionRecord),
		accounts:  make(map[domain.AccountID]*domain.Account),
	}
}

func (m *memDB) SaveOrder(_ context.Context, o *execution.Order) error {
	if m.fail != nil {
		return m.fail
	}
	rec, err := o.Record()
	if err != nil {
		return err
	}
	m.orders[o.ClientOrderID] = rec
	return nil
}

func (m *memDB) SavePosition(_ context.Context, p *execution.Position) error {
	rec, err := p.Record()
	if err != nil {
		return err
	}
	m.positions[p.ID] = rec
	return nil
}

func (m *memDB) SaveAccount(_ context.Context, a *domain.Account) error {
	m.accounts[a.ID] = a.Clone()
	return nil
}

func (m *memDB) LoadOrders(context.Context) ([]*execution.Order, error) {
	var out []*execution.Order
	for _, rec := range m.orders {
		o, err := execution.OrderFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (m *memDB) LoadPositions(context.Context) ([]*execution.Position, error) {
	var out []*execution.Position
	for _, rec := range m.positions {
		p, err := execution.PositionFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *memDB) LoadAccounts(context.Context) ([]*domain.Account, error) {
	var out []*domain.Account
	for _, a := range m.accounts {
		out = append(out, a.Clone())
	}
	return out, nil
}

func TestCache_WriteThroughAndLoad(t *testing.T) {
	db := newMemDB()
	c := New(db)

	o := newOrder(t, audusd, "S-1", "O-1", domain.Buy)
	submit(t, o)
	accept(t, o, "V-1")
	require.NoError(t, c.AddOrder(o, ""))
	f := fill(o, "T-1", "4", "P-1", 4)
	require.NoError(t, o.Apply(f))
	require.NoError(t, c.UpdateOrder(o))
	p, err := execution.NewPosition(instrument(t, audusd), f)
	require.NoError(t, err)
	require.NoError(t, c.AddPosition(p))
	require.NoError(t, c.AddAccount(domain.NewAccount("SIM-001", domain.USD)))

	assert.Equal(t, domain.StatusPartiallyFilled, db.orders["O-1"].Status)

	restored := New(db)
	require.NoError(t, restored.Load(context.Background()))
	got, ok := restored.Order("O-1")
	require.True(t, ok)
	assert.Equal(t, "4", got.FilledQty.String())
	vid, ok := restored.VenueOrderID("O-1")
	require.True(t, ok)
	assert.Equal(t, domain.VenueOrderID("V-1"), vid)
	assert.Len(t, restored.PositionsOpen(Filter{Instrument: audusd}), 1)
	assert.Len(t, restored.Accounts(), 1)
	require.NoError(t, restored.CheckIntegrity())
}

func TestCache_WriteThroughFailure(t *testing.T) {
	db := newMemDB()
	db.fail = errors.New("disk full")
	c := New(db)

	err := c.AddOrder(newOrder(t, audusd, "S-1", "O-1", domain.Buy), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to persist order O-1")
	assert.ErrorIs(t, err, db.fail)
}
