package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/domain"
	"tradecore/internal/event"
	"tradecore/internal/execution"
	"tradecore/pkg/quant"
)

var audusd = domain.MustInstrumentID("AUD/USD.SIM")

func newStore(t *testing.T) *EventStore {
	t.Helper()
	store, err := NewEventStore(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func orderBase(coid domain.ClientOrderID, ts quant.UnixNanos) event.OrderBase {
	return event.OrderBase{
		BaseEvent:     event.BaseEvent{TsEvent: ts, TsInit: ts},
		TraderID:      "TRADER-001",
		StrategyID:    "S-001",
		InstrumentID:  audusd,
		ClientOrderID: coid,
		AccountID:     "SIM-001",
	}
}

func TestEventStore_SaveAndLoadEvents(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	uuids := event.NewUUIDFactory(nil)

	deltas, err := domain.NewOrderBookDeltas(audusd, []domain.OrderBookDelta{{
		InstrumentID: audusd,
		Action:       domain.ActionAdd,
		Order:        domain.BookOrder{Side: domain.Buy, Price: quant.MustPrice("1.0001"), Size: quant.MustQty("5"), OrderID: 7},
		Flags:        domain.FlagLast,
		Sequence:     1,
		TsEvent:      1000,
	}})
	require.NoError(t, err)

	ev1 := &event.BookDeltas{BaseEvent: event.BaseEvent{ID: uuids.New(), Seq: 1, TsEvent: 1000}, Deltas: deltas}
	ev2 := &event.OrderCanceled{OrderBase: orderBase("O-1", 2000)}
	ev2.Seq = 2
	ev2.ID = uuids.New()

	require.NoError(t, store.SaveEvent(ctx, ev1))
	require.NoError(t, store.SaveEvent(ctx, ev2))
	assert.Error(t, store.SaveEvent(ctx, ev2), "sequence is the primary key")

	last, err := store.GetLastSeq(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, last)

	loaded, err := store.LoadEvents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	bd, ok := loaded[0].(*event.BookDeltas)
	require.True(t, ok)
	assert.Equal(t, ev1.ID, bd.ID)
	require.Len(t, bd.Deltas.Deltas, 1)
	assert.Equal(t, "1.0001", bd.Deltas.Deltas[0].Order.Price.String())
	assert.Equal(t, uint64(7), bd.Deltas.Deltas[0].Order.OrderID)

	oc, ok := loaded[1].(*event.OrderCanceled)
	require.True(t, ok)
	assert.Equal(t, domain.ClientOrderID("O-1"), oc.ClientOrderID)

	tail, err := store.LoadEvents(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, tail, 1)

	n, err := store.TruncateEvents(ctx, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	last, err = store.GetLastSeq(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, last)
}

func TestEventStore_EmptyLog(t *testing.T) {
	store := newStore(t)
	last, err := store.GetLastSeq(context.Background())
	require.NoError(t, err)
	assert.Zero(t, last)

	events, err := store.LoadEvents(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEventStore_Metadata(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	v, err := store.GetMetadata(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, store.UpsertMetadata(ctx, "last_snapshot", "10", 1))
	require.NoError(t, store.UpsertMetadata(ctx, "last_snapshot", "20", 2))
	v, err = store.GetMetadata(ctx, "last_snapshot")
	require.NoError(t, err)
	assert.Equal(t, "20", v)
}

func TestEventStore_Records(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	px := quant.MustPrice("1.00001")
	o, err := execution.NewOrder(&event.OrderInitialized{
		OrderBase:   orderBase("O-1", 1),
		Side:        domain.Buy,
		OrderType:   domain.Limit,
		Quantity:    quant.MustQty("100000"),
		Price:       &px,
		TimeInForce: domain.GTC,
	})
	require.NoError(t, err)
	require.NoError(t, store.SaveOrder(ctx, o))

	require.NoError(t, o.Apply(&event.OrderSubmitted{OrderBase: orderBase("O-1", 2)}))
	acc := orderBase("O-1", 3)
	acc.VenueOrderID = "V-1"
	require.NoError(t, o.Apply(&event.OrderAccepted{OrderBase: acc}))
	fill := &event.OrderFilled{
		OrderBase:  orderBase("O-1", 4),
		TradeID:    "T-1",
		PositionID: "P-1",
		OrderSide:  domain.Buy,
		OrderType:  domain.Limit,
		LastQty:    quant.MustQty("50000"),
		LastPx:     px,
		Currency:   domain.USD,
		Commission: domain.NewMoney(decimal.RequireFromString("1.5"), domain.USD),
	}
	require.NoError(t, o.Apply(fill))
	require.NoError(t, store.SaveOrder(ctx, o))

	inst, err := domain.NewCurrencyPair(audusd, 5, 0)
	require.NoError(t, err)
	p, err := execution.NewPosition(inst, fill)
	require.NoError(t, err)
	require.NoError(t, store.SavePosition(ctx, p))

	acct := domain.NewAccount("SIM-001", domain.USD)
	acct.Credit(domain.NewMoney(decimal.NewFromInt(1000), domain.USD), 1)
	require.NoError(t, store.SaveAccount(ctx, acct))

	orders, err := store.LoadOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.StatusPartiallyFilled, orders[0].Status)
	assert.Equal(t, "50000", orders[0].FilledQty.String())
	assert.Equal(t, domain.VenueOrderID("V-1"), orders[0].VenueOrderID)

	positions, err := store.LoadPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, domain.Long, positions[0].Side)
	assert.Equal(t, "1.50 USD", positions[0].Commissions()[0].String())

	accounts, err := store.LoadAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	bal, ok := accounts[0].Balance(domain.USD)
	require.True(t, ok)
	assert.True(t, bal.Total.Equal(decimal.NewFromInt(1000)))
}
