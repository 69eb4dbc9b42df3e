package orderbook

import (
	"tradecore/internal/domain"
	"tradecore/pkg/quant"
)

// L1Book tracks top of book only: at most one order per side, keyed by side.
type L1Book struct {
	core
}

func NewL1Book(id domain.InstrumentID) *L1Book {
	return &L1Book{core: newCore(id, domain.L1MBP)}
}

// Add replaces the single order on the order's side.
func (b *L1Book) Add(o domain.BookOrder, _ uint8, sequence uint64, tsEvent quant.UnixNanos) error {
	if err := b.admitOrder(o, sequence, tsEvent); err != nil {
		return err
	}
	b.setTop(o)
	b.commit(sequence, tsEvent)
	return nil
}

func (b *L1Book) Update(o domain.BookOrder, flags uint8, sequence uint64, tsEvent quant.UnixNanos) error {
	return b.Add(o, flags, sequence, tsEvent)
}

func (b *L1Book) Delete(o domain.BookOrder, _ uint8, sequence uint64, tsEvent quant.UnixNanos) error {
	if err := b.admitOrder(o, sequence, tsEvent); err != nil {
		return err
	}
	b.ladder(o.Side).clear()
	b.commit(sequence, tsEvent)
	return nil
}

func (b *L1Book) ApplyDelta(d domain.OrderBookDelta) error { return applyDelta(&b.core, b, d) }

func (b *L1Book) ApplyDeltas(ds domain.OrderBookDeltas) error { return applyDeltas(&b.core, b, ds) }

// ApplyDepth keeps only the top level of each side.
func (b *L1Book) ApplyDepth(depth domain.OrderBookDepth10) error {
	if len(depth.Bids) > 1 {
		depth.Bids = depth.Bids[:1]
	}
	if len(depth.Asks) > 1 {
		depth.Asks = depth.Asks[:1]
	}
	return b.applyDepth(depth, func(o domain.BookOrder) uint64 { return o.Side.ID() })
}

// UpdateQuote sets both sides from a quote.
func (b *L1Book) UpdateQuote(q domain.QuoteTick) error {
	if q.InstrumentID != b.id {
		return b.reject(0, q.TsEvent, "quote for "+q.InstrumentID.String())
	}
	if err := b.admit(0, q.TsEvent); err != nil {
		return err
	}
	b.setTop(domain.BookOrder{Side: domain.Buy, Price: q.BidPrice, Size: q.BidSize})
	b.setTop(domain.BookOrder{Side: domain.Sell, Price: q.AskPrice, Size: q.AskSize})
	b.commit(0, q.TsEvent)
	return nil
}

// UpdateTrade sets both sides to the trade price and size.
func (b *L1Book) UpdateTrade(t domain.TradeTick) error {
	if t.InstrumentID != b.id {
		return b.reject(0, t.TsEvent, "trade for "+t.InstrumentID.String())
	}
	if err := b.admit(0, t.TsEvent); err != nil {
		return err
	}
	b.setTop(domain.BookOrder{Side: domain.Buy, Price: t.Price, Size: t.Size})
	b.setTop(domain.BookOrder{Side: domain.Sell, Price: t.Price, Size: t.Size})
	b.commit(0, t.TsEvent)
	return nil
}

func (b *L1Book) OrderByID(uint64) (domain.BookOrder, error) {
	return domain.BookOrder{}, b.unsupported("OrderByID")
}

func (b *L1Book) setTop(o domain.BookOrder) {
	o.OrderID = o.Side.ID()
	l := b.ladder(o.Side)
	l.clear()
	if o.Size.IsPositive() {
		l.add(o)
	}
}
