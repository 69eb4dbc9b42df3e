package orderbook

import (
	"fmt"
	"log/slog"

	"tradecore/internal/domain"
	"tradecore/pkg/quant"
)

// L3Book tracks individual venue orders with price-time priority.
type L3Book struct {
	core
}

func NewL3Book(id domain.InstrumentID) *L3Book {
	return &L3Book{core: newCore(id, domain.L3MBO)}
}

// Add appends the order to its level's queue.
func (b *L3Book) Add(o domain.BookOrder, _ uint8, sequence uint64, tsEvent quant.UnixNanos) error {
	if err := b.admitOrder(o, sequence, tsEvent); err != nil {
		return err
	}
	if b.bids.contains(o.OrderID) || b.asks.contains(o.OrderID) {
		return b.reject(sequence, tsEvent, fmt.Sprintf("duplicate order id %d", o.OrderID))
	}
	if !o.Size.IsPositive() {
		return b.reject(sequence, tsEvent, fmt.Sprintf("order %d added with size %s", o.OrderID, o.Size))
	}
	b.ladder(o.Side).add(o)
	b.commit(sequence, tsEvent)
	return nil
}

// Update resizes or moves an order. A price change loses time priority; zero size deletes.
func (b *L3Book) Update(o domain.BookOrder, _ uint8, sequence uint64, tsEvent quant.UnixNanos) error {
	if err := b.admitOrder(o, sequence, tsEvent); err != nil {
		return err
	}
	b.ladder(o.Side.Opposite()).remove(o.OrderID)
	b.ladder(o.Side).update(o)
	b.commit(sequence, tsEvent)
	return nil
}

// Delete removes the order. An absent order leaves the book unchanged and counts as a missed delete.
func (b *L3Book) Delete(o domain.BookOrder, _ uint8, sequence uint64, tsEvent quant.UnixNanos) error {
	if err := b.admitOrder(o, sequence, tsEvent); err != nil {
		return err
	}
	if !b.ladder(o.Side).remove(o.OrderID) {
		b.missedDeletes++
		slog.Warn("BOOK_DELETE_MISSING",
			slog.String("instrument_id", b.id.String()),
			slog.Uint64("order_id", o.OrderID),
			slog.Uint64("sequence", sequence),
			slog.Uint64("missed_deletes", b.missedDeletes))
	}
	b.commit(sequence, tsEvent)
	return nil
}

func (b *L3Book) ApplyDelta(d domain.OrderBookDelta) error { return applyDelta(&b.core, b, d) }

func (b *L3Book) ApplyDeltas(ds domain.OrderBookDeltas) error { return applyDeltas(&b.core, b, ds) }

// ApplyDepth keeps venue order ids; entries without one are keyed by price.
func (b *L3Book) ApplyDepth(depth domain.OrderBookDepth10) error {
	return b.applyDepth(depth, func(o domain.BookOrder) uint64 {
		if o.OrderID == 0 {
			return priceID(o)
		}
		return o.OrderID
	})
}

func (b *L3Book) UpdateQuote(domain.QuoteTick) error { return b.unsupported("UpdateQuote") }

func (b *L3Book) UpdateTrade(domain.TradeTick) error { return b.unsupported("UpdateTrade") }

// OrderByID looks up a resting order.
func (b *L3Book) OrderByID(orderID uint64) (domain.BookOrder, error) {
	for _, l := range []*ladder{b.bids, b.asks} {
		price, ok := l.cache[orderID]
		if !ok {
			continue
		}
		lvl, _ := l.levels.Get(price)
		if i := lvl.index(orderID); i >= 0 {
			return lvl.orders[i], nil
		}
	}
	return domain.BookOrder{}, fmt.Errorf("order %d: %w", orderID, ErrOrderNotFound)
}
