package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"tradecore/internal/domain"
	"tradecore/internal/event"
	"tradecore/internal/orderbook"
	"tradecore/pkg/quant"
)

// Market gives the paper venue read access to books and instruments.
// Implementations must only be called from the goroutine that owns the books.
type Market interface {
	Book(id domain.InstrumentID) (orderbook.Book, bool)
	Instrument(id domain.InstrumentID) (domain.Instrument, bool)
}

type restingOrder struct {
	order     *Order
	remaining quant.Quantity
}

// PaperVenue simulates a venue by filling orders against the local books.
// Every response is emitted as an order event through sink.
type PaperVenue struct {
	mu        sync.Mutex
	market    Market
	sink      func(event.Event)
	uuids     *event.UUIDFactory
	clock     Clock
	accountID domain.AccountID
	takerFee  decimal.Decimal
	seq       uint64
	resting   map[domain.ClientOrderID]*restingOrder
	fills     []*event.OrderFilled
}

func NewPaperVenue(market Market, sink func(event.Event), uuids *event.UUIDFactory, clock Clock,
	accountID domain.AccountID, takerFee decimal.Decimal) *PaperVenue {
	return &PaperVenue{
		market:    market,
		sink:      sink,
		uuids:     uuids,
		clock:     clock,
		accountID: accountID,
		takerFee:  takerFee,
		resting:   make(map[domain.ClientOrderID]*restingOrder),
	}
}

func (p *PaperVenue) Capabilities() Capabilities {
	return Capabilities{AtomicAmend: true}
}

// SubmitOrder accepts the order, crosses it against the book and rests any GTC remainder.
func (p *PaperVenue) SubmitOrder(ctx context.Context, o *Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if o.Type.HasTrigger() {
		p.emit(&event.OrderRejected{OrderBase: p.base(o, ""), Reason: "STOP_ORDERS_UNSUPPORTED"})
		return nil
	}
	book, ok := p.market.Book(o.InstrumentID)
	if !ok {
		p.emit(&event.OrderRejected{OrderBase: p.base(o, ""), Reason: "NO_BOOK"})
		return nil
	}

	venueID := domain.VenueOrderID(fmt.Sprintf("PAPER-%d", quant.NextSeq(&p.seq)))
	p.emit(&event.OrderAccepted{OrderBase: p.base(o, venueID)})

	r := &restingOrder{order: o.Clone(), remaining: o.LeavesQty()}
	r.order.VenueOrderID = venueID

	if o.TimeInForce == domain.FOK {
		avail := book.GetQuantityForPrice(limitOrExtreme(o), o.Side)
		if avail.Cmp(r.remaining) < 0 {
			p.emit(&event.OrderCanceled{OrderBase: p.base(r.order, venueID)})
			return nil
		}
	}

	p.match(book, r)
	if r.remaining.IsZero() {
		return nil
	}
	if o.Type == domain.Market || o.TimeInForce == domain.IOC || o.TimeInForce == domain.FOK {
		p.emit(&event.OrderCanceled{OrderBase: p.base(r.order, venueID)})
		return nil
	}
	p.resting[o.ClientOrderID] = r
	return nil
}

// ModifyOrder amends a resting order and re-crosses it.
func (p *PaperVenue) ModifyOrder(ctx context.Context, o *Order, qty *quant.Quantity, price, triggerPrice *quant.Price) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.resting[o.ClientOrderID]
	if !ok {
		p.emit(&event.OrderModifyRejected{OrderBase: p.base(o, o.VenueOrderID), Reason: "ORDER_NOT_OPEN"})
		return nil
	}
	venueFilled := r.order.Quantity.Sub(r.remaining)
	newQty := r.order.Quantity
	if qty != nil {
		if qty.Cmp(venueFilled) <= 0 {
			p.emit(&event.OrderModifyRejected{OrderBase: p.base(o, r.order.VenueOrderID), Reason: "QUANTITY_BELOW_FILLED"})
			return nil
		}
		newQty = *qty
	}
	if price != nil {
		r.order.Price = clonePrice(price)
	}
	r.order.Quantity = newQty
	r.remaining = newQty.Sub(venueFilled)
	p.emit(&event.OrderUpdated{
		OrderBase:    p.base(r.order, r.order.VenueOrderID),
		Quantity:     newQty,
		Price:        clonePrice(price),
		TriggerPrice: clonePrice(triggerPrice),
	})

	if book, ok := p.market.Book(o.InstrumentID); ok {
		p.match(book, r)
	}
	if r.remaining.IsZero() {
		delete(p.resting, o.ClientOrderID)
	}
	return nil
}

// CancelOrder cancels a resting order.
func (p *PaperVenue) CancelOrder(ctx context.Context, o *Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.resting[o.ClientOrderID]
	if !ok {
		p.emit(&event.OrderCancelRejected{OrderBase: p.base(o, o.VenueOrderID), Reason: "ORDER_NOT_OPEN"})
		return nil
	}
	delete(p.resting, o.ClientOrderID)
	p.emit(&event.OrderCanceled{OrderBase: p.base(r.order, r.order.VenueOrderID)})
	slog.Info("PAPER_ORDER_CANCELED", slog.String("client_order_id", o.ClientOrderID.String()))
	return nil
}

// OnBookUpdate re-crosses resting orders for an instrument after its book changed.
func (p *PaperVenue) OnBookUpdate(id domain.InstrumentID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.resting) == 0 {
		return
	}
	book, ok := p.market.Book(id)
	if !ok {
		return
	}
	for _, coid := range sortedKeys(p.restingByID(id)) {
		r := p.resting[domain.ClientOrderID(coid)]
		p.match(book, r)
		if r.remaining.IsZero() {
			delete(p.resting, r.order.ClientOrderID)
		}
	}
}

// Fills returns every fill emitted so far.
func (p *PaperVenue) Fills() []*event.OrderFilled {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*event.OrderFilled, len(p.fills))
	copy(out, p.fills)
	return out
}

// RestingCount is the number of orders working at the venue.
func (p *PaperVenue) RestingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.resting)
}

func (p *PaperVenue) restingByID(id domain.InstrumentID) map[string]struct{} {
	out := make(map[string]struct{})
	for coid, r := range p.resting {
		if r.order.InstrumentID == id {
			out[string(coid)] = struct{}{}
		}
	}
	return out
}

func (p *PaperVenue) match(book orderbook.Book, r *restingOrder) {
	var limit *quant.Price
	if r.order.Type == domain.Limit {
		limit = r.order.Price
	}
	inst, hasInst := p.market.Instrument(r.order.InstrumentID)
	for _, f := range book.SimulateFills(r.order.Side, r.remaining, limit) {
		if f.Size.IsZero() {
			continue
		}
		fill := &event.OrderFilled{
			OrderBase:     p.base(r.order, r.order.VenueOrderID),
			TradeID:       domain.TradeID(fmt.Sprintf("T-%d", quant.NextSeq(&p.seq))),
			PositionID:    r.order.PositionID,
			OrderSide:     r.order.Side,
			OrderType:     r.order.Type,
			LastQty:       f.Size,
			LastPx:        f.Price,
			LiquiditySide: domain.Taker,
		}
		if hasInst {
			fill.Currency = inst.QuoteCurrency
			fee := inst.NotionalValue(f.Size, f.Price).Amount.Mul(p.takerFee)
			fill.Commission = domain.NewMoney(fee, inst.QuoteCurrency)
		}
		r.remaining = r.remaining.Sub(f.Size)
		p.fills = append(p.fills, fill)
		p.emit(fill)
		slog.Info("PAPER_ORDER_FILLED",
			slog.String("client_order_id", r.order.ClientOrderID.String()),
			slog.String("side", string(r.order.Side)),
			slog.String("px", f.Price.String()),
			slog.String("qty", f.Size.String()))
	}
}

func (p *PaperVenue) base(o *Order, venueID domain.VenueOrderID) event.OrderBase {
	ts := p.clock()
	return event.OrderBase{
		BaseEvent:     event.BaseEvent{ID: p.uuids.New(), TsEvent: ts, TsInit: ts},
		TraderID:      o.TraderID,
		StrategyID:    o.StrategyID,
		InstrumentID:  o.InstrumentID,
		ClientOrderID: o.ClientOrderID,
		VenueOrderID:  venueID,
		AccountID:     p.accountID,
	}
}

func (p *PaperVenue) emit(ev event.Event) {
	p.sink(ev)
}

func limitOrExtreme(o *Order) quant.Price {
	if o.Type == domain.Limit && o.Price != nil {
		return *o.Price
	}
	if o.Side == domain.Buy {
		return quant.Price{Raw: 1<<63 - 1}
	}
	return quant.Price{Raw: -1 << 63}
}
