package orderbook

import (
	"tradecore/internal/domain"
	"tradecore/pkg/quant"
)

// L2Book aggregates size per price. Each level holds one order whose id is derived from the price.
type L2Book struct {
	core
}

func NewL2Book(id domain.InstrumentID) *L2Book {
	return &L2Book{core: newCore(id, domain.L2MBP)}
}

func priceID(o domain.BookOrder) uint64 {
	return uint64(o.Price.Raw)
}

// Add sets the aggregate size of the order's price level, creating it when absent.
func (b *L2Book) Add(o domain.BookOrder, _ uint8, sequence uint64, tsEvent quant.UnixNanos) error {
	if err := b.admitOrder(o, sequence, tsEvent); err != nil {
		return err
	}
	o.OrderID = priceID(o)
	b.ladder(o.Side).update(o)
	b.commit(sequence, tsEvent)
	return nil
}

// Update replaces the level size; zero removes the level.
func (b *L2Book) Update(o domain.BookOrder, flags uint8, sequence uint64, tsEvent quant.UnixNanos) error {
	return b.Add(o, flags, sequence, tsEvent)
}

// Delete removes the level at the order's price. An absent level is ignored.
func (b *L2Book) Delete(o domain.BookOrder, _ uint8, sequence uint64, tsEvent quant.UnixNanos) error {
	if err := b.admitOrder(o, sequence, tsEvent); err != nil {
		return err
	}
	b.ladder(o.Side).remove(priceID(o))
	b.commit(sequence, tsEvent)
	return nil
}

func (b *L2Book) ApplyDelta(d domain.OrderBookDelta) error { return applyDelta(&b.core, b, d) }

func (b *L2Book) ApplyDeltas(ds domain.OrderBookDeltas) error { return applyDeltas(&b.core, b, ds) }

func (b *L2Book) ApplyDepth(depth domain.OrderBookDepth10) error {
	return b.applyDepth(depth, priceID)
}

func (b *L2Book) UpdateQuote(domain.QuoteTick) error { return b.unsupported("UpdateQuote") }

func (b *L2Book) UpdateTrade(domain.TradeTick) error { return b.unsupported("UpdateTrade") }

func (b *L2Book) OrderByID(uint64) (domain.BookOrder, error) {
	return domain.BookOrder{}, b.unsupported("OrderByID")
}
