package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tradecore/internal/cache"
	"tradecore/internal/domain"
	"tradecore/internal/event"
	"tradecore/internal/execution"
	"tradecore/internal/infra"
	"tradecore/pkg/quant"
)

var audusd = domain.MustInstrumentID("AUD/USD.SIM")

func testConfig(oms domain.OmsType) Config {
	return Config{
		InboxSize:      16,
		MaxSequenceGap: 10,
		OmsType:        oms,
		TraderID:       "TRADER-001",
		PendingTimeout: 5 * time.Second,
	}
}

// newEngine builds a sequencer with AUD/USD on an L2 book and a USD 1000 account.
func newEngine(t *testing.T, cfg Config, log EventLog, snaps SnapshotStore) *Sequencer {
	t.Helper()
	s := NewSequencer(cfg, log, snaps, cache.New(nil), infra.NewReporter())
	inst, err := domain.NewCurrencyPair(audusd, 5, 0)
	require.NoError(t, err)
	require.NoError(t, s.AddInstrument(inst, domain.L2MBP))

	acct := domain.NewAccount("SIM-001", domain.USD)
	acct.Credit(domain.NewMoney(decimal.NewFromInt(1000), domain.USD), 0)
	require.NoError(t, s.AddAccount(acct))
	return s
}

// withPaperVenue installs a fee-free paper venue.
func withPaperVenue(s *Sequencer) *execution.PaperVenue {
	pv := execution.NewPaperVenue(s, s.Emit, s.UUIDs(), s.Now, "SIM-001", decimal.Zero)
	s.SetClient(pv)
	return pv
}

func bookOrder(side domain.OrderSide, px, size string) domain.BookOrder {
	return domain.BookOrder{Side: side, Price: quant.MustPrice(px), Size: quant.MustQty(size)}
}

// deltas builds a batch ending with F_LAST.
func deltas(ts quant.UnixNanos, firstSeq uint64, actions []domain.BookAction, orders []domain.BookOrder) *event.BookDeltas {
	ds := make([]domain.OrderBookDelta, len(orders))
	for i, o := range orders {
		ds[i] = domain.OrderBookDelta{
			InstrumentID: audusd,
			Action:       actions[i],
			Order:        o,
			Sequence:     firstSeq + uint64(i),
			TsEvent:      ts,
			TsInit:       ts,
		}
	}
	ds[len(ds)-1].Flags |= domain.FlagLast
	batch, err := domain.NewOrderBookDeltas(audusd, ds)
	if err != nil {
		panic(err)
	}
	return &event.BookDeltas{BaseEvent: event.BaseEvent{TsEvent: ts, TsInit: ts}, Deltas: batch}
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

func marketOrder(coid domain.ClientOrderID, side domain.OrderSide, qty string, ts quant.UnixNanos) *event.OrderInitialized {
	return &event.OrderInitialized{
		OrderBase:   orderBase(coid, ts),
		Side:        side,
		OrderType:   domain.Market,
		Quantity:    quant.MustQty(qty),
		TimeInForce: domain.IOC,
	}
}

func limitOrder(coid domain.ClientOrderID, side domain.OrderSide, qty, px string, ts quant.UnixNanos) *event.OrderInitialized {
	p := quant.MustPrice(px)
	return &event.OrderInitialized{
		OrderBase:   orderBase(coid, ts),
		Side:        side,
		OrderType:   domain.Limit,
		Quantity:    quant.MustQty(qty),
		Price:       &p,
		TimeInForce: domain.GTC,
	}
}

// submit sends the initialization and submission of an order.
func submit(s *Sequencer, init *event.OrderInitialized) {
	s.Handle(init)
	s.Handle(&event.OrderSubmitted{OrderBase: orderBase(init.ClientOrderID, init.TsEvent+1)})
}

// roundTrip buys 10 at 1.0, lifts the market to 1.1 and sells 10: a realized gain of 1.00 USD.
func roundTrip(s *Sequencer) {
	add, del := domain.ActionAdd, domain.ActionDelete
	s.Handle(deltas(1_000, 1,
		[]domain.BookAction{add, add},
		[]domain.BookOrder{bookOrder(domain.Buy, "0.90000", "10"), bookOrder(domain.Sell, "1.00000", "10")}))
	submit(s, marketOrder("O-1", domain.Buy, "10", 1_100))

	s.Handle(deltas(2_000, 3,
		[]domain.BookAction{del, add, add},
		[]domain.BookOrder{
			bookOrder(domain.Sell, "1.00000", "10"),
			bookOrder(domain.Sell, "1.20000", "10"),
			bookOrder(domain.Buy, "1.10000", "10"),
		}))
	submit(s, marketOrder("O-2", domain.Sell, "10", 2_100))
}

// stubClient records requests and answers nothing unless told to fail.
type stubClient struct {
	mu       sync.Mutex
	calls    []string
	failWith error
}

func (c *stubClient) record(call string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
	return c.failWith
}

func (c *stubClient) SubmitOrder(_ context.Context, o *execution.Order) error {
	return c.record("submit " + o.ClientOrderID.String())
}

func (c *stubClient) ModifyOrder(_ context.Context, o *execution.Order, _ *quant.Quantity, _, _ *quant.Price) error {
	return c.record("modify " + o.ClientOrderID.String())
}

func (c *stubClient) CancelOrder(_ context.Context, o *execution.Order) error {
	return c.record("cancel " + o.ClientOrderID.String())
}

func (c *stubClient) Capabilities() execution.Capabilities { return execution.Capabilities{} }
