package orderbook

import (
	"github.com/shopspring/decimal"

	"tradecore/internal/domain"
	"tradecore/pkg/quant"
)

// Level is one price of a ladder. Orders are kept in arrival (FIFO) order.
// L2 and L1 levels hold a single aggregate order.
type Level struct {
	price  quant.Price
	orders []domain.BookOrder
	size   int64
	prec   uint8
}

func newLevel(price quant.Price) *Level {
	return &Level{price: price}
}

func (l *Level) Price() quant.Price { return l.price }

// Size is the aggregate size of every order at this level.
func (l *Level) Size() quant.Quantity {
	return quant.Quantity{Raw: l.size, Precision: l.prec}
}

// Exposure is price * aggregate size.
func (l *Level) Exposure() decimal.Decimal {
	return l.price.Decimal().Mul(l.Size().Decimal())
}

func (l *Level) Len() int { return len(l.orders) }

func (l *Level) IsEmpty() bool { return len(l.orders) == 0 }

// First returns the order with time priority.
func (l *Level) First() (domain.BookOrder, bool) {
	if len(l.orders) == 0 {
		return domain.BookOrder{}, false
	}
	return l.orders[0], true
}

// Orders returns a copy of the resting orders in FIFO order.
func (l *Level) Orders() []domain.BookOrder {
	out := make([]domain.BookOrder, len(l.orders))
	copy(out, l.orders)
	return out
}

func (l *Level) clone() Level {
	return Level{price: l.price, orders: l.Orders(), size: l.size, prec: l.prec}
}

func (l *Level) add(o domain.BookOrder) {
	l.orders = append(l.orders, o)
	l.size += o.Size.Raw
	l.prec = max(l.prec, o.Size.Precision)
}

// update replaces the size of an existing order in place, keeping its priority.
// A zero size removes it. It reports whether the order was present.
func (l *Level) update(o domain.BookOrder) bool {
	i := l.index(o.OrderID)
	if i < 0 {
		return false
	}
	if o.Size.IsZero() {
		l.removeAt(i)
		return true
	}
	l.size += o.Size.Raw - l.orders[i].Size.Raw
	l.orders[i] = o
	l.prec = max(l.prec, o.Size.Precision)
	return true
}

func (l *Level) delete(orderID uint64) bool {
	i := l.index(orderID)
	if i < 0 {
		return false
	}
	l.removeAt(i)
	return true
}

func (l *Level) removeAt(i int) {
	l.size -= l.orders[i].Size.Raw
	l.orders = append(l.orders[:i], l.orders[i+1:]...)
}

func (l *Level) index(orderID uint64) int {
	for i := range l.orders {
		if l.orders[i].OrderID == orderID {
			return i
		}
	}
	return -1
}
