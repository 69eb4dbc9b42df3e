package orderbook

import (
	rbt "github.com/emirpasic/gods/v2/trees/redblacktree"

	"tradecore/internal/domain"
)

// ladder is one side of a book. The tree is ordered so that Left() is always the best level:
// bids descending, asks ascending.
type ladder struct {
	side   domain.OrderSide
	levels *rbt.Tree[int64, *Level]
	cache  map[uint64]int64 // order id -> price raw
	best   *Level
}

func newLadder(side domain.OrderSide) *ladder {
	var comparator func(a, b int64) int
	if side == domain.Buy {
		comparator = func(a, b int64) int {
			if a > b {
				return -1
			} else if a < b {
				return 1
			}
			return 0
		}
	} else {
		comparator = func(a, b int64) int {
			if a < b {
				return -1
			} else if a > b {
				return 1
			}
			return 0
		}
	}
	return &ladder{
		side:   side,
		levels: rbt.NewWith[int64, *Level](comparator),
		cache:  make(map[uint64]int64),
	}
}

func (l *ladder) len() int { return l.levels.Size() }

func (l *ladder) isEmpty() bool { return l.levels.Empty() }

func (l *ladder) contains(orderID uint64) bool {
	_, ok := l.cache[orderID]
	return ok
}

func (l *ladder) add(o domain.BookOrder) {
	lvl, ok := l.levels.Get(o.Price.Raw)
	if !ok {
		lvl = newLevel(o.Price)
		l.levels.Put(o.Price.Raw, lvl)
	}
	lvl.add(o)
	l.cache[o.OrderID] = o.Price.Raw
	l.refreshBest()
}

// update resizes an order, moves it when the price changed and adds it when unknown.
func (l *ladder) update(o domain.BookOrder) {
	price, ok := l.cache[o.OrderID]
	if !ok {
		if !o.Size.IsZero() {
			l.add(o)
		}
		return
	}
	if price != o.Price.Raw {
		l.remove(o.OrderID)
		if !o.Size.IsZero() {
			l.add(o)
		}
		return
	}
	lvl, _ := l.levels.Get(price)
	lvl.update(o)
	if o.Size.IsZero() {
		delete(l.cache, o.OrderID)
	}
	if lvl.IsEmpty() {
		l.levels.Remove(price)
	}
	l.refreshBest()
}

// remove deletes an order and reports whether it was present.
func (l *ladder) remove(orderID uint64) bool {
	price, ok := l.cache[orderID]
	if !ok {
		return false
	}
	delete(l.cache, orderID)
	if lvl, found := l.levels.Get(price); found {
		lvl.delete(orderID)
		if lvl.IsEmpty() {
			l.levels.Remove(price)
		}
	}
	l.refreshBest()
	return true
}

// removeLevel deletes a whole price level with all of its orders.
func (l *ladder) removeLevel(price int64) (*Level, bool) {
	lvl, ok := l.levels.Get(price)
	if !ok {
		return nil, false
	}
	for _, o := range lvl.orders {
		delete(l.cache, o.OrderID)
	}
	l.levels.Remove(price)
	l.refreshBest()
	return lvl, true
}

func (l *ladder) clear() {
	l.levels.Clear()
	clear(l.cache)
	l.best = nil
}

func (l *ladder) refreshBest() {
	node := l.levels.Left()
	if node == nil {
		l.best = nil
		return
	}
	l.best = node.Value
}

// walk visits levels from best outward until fn returns false.
func (l *ladder) walk(fn func(*Level) bool) {
	it := l.levels.Iterator()
	for it.Next() {
		if !fn(it.Value()) {
			return
		}
	}
}

// depth returns copies of up to n levels from best outward; n <= 0 means all.
func (l *ladder) depth(n int) []Level {
	size := l.len()
	if n > 0 && n < size {
		size = n
	}
	out := make([]Level, 0, size)
	l.walk(func(lvl *Level) bool {
		out = append(out, lvl.clone())
		return len(out) < size
	})
	return out
}

// isBetterOrEqual reports whether price a is at or better than b for this side.
func (l *ladder) isBetterOrEqual(a, b int64) bool {
	if l.side == domain.Buy {
		return a >= b
	}
	return a <= b
}
