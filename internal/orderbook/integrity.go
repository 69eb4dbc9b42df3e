package orderbook

import (
	"fmt"

	"tradecore/internal/domain"
)

// CheckIntegrity verifies the book invariants. It reports the first violation and never repairs.
func (c *core) CheckIntegrity() error {
	if c.suspect {
		return c.violation("book flagged suspect: " + c.suspectReason)
	}
	for _, l := range []*ladder{c.bids, c.asks} {
		if err := c.checkLadder(l); err != nil {
			return err
		}
	}
	if c.IsCrossed() {
		return c.violation(fmt.Sprintf("orders crossed: bid %s >= ask %s", c.bids.best.price, c.asks.best.price))
	}
	return nil
}

func (c *core) checkLadder(l *ladder) error {
	if c.bookType == domain.L1MBP && l.len() > 1 {
		return c.violation(fmt.Sprintf("%s ladder has %d levels on L1 book", l.side, l.len()))
	}

	var (
		orders int
		prev   *Level
		err    error
	)
	l.walk(func(lvl *Level) bool {
		if prev != nil && !l.isBetterOrEqual(prev.price.Raw, lvl.price.Raw) {
			err = c.violation(fmt.Sprintf("%s ladder out of order at %s", l.side, lvl.price))
			return false
		}
		prev = lvl
		if lvl.IsEmpty() || lvl.size <= 0 {
			err = c.violation(fmt.Sprintf("%s level %s is empty", l.side, lvl.price))
			return false
		}
		if c.bookType != domain.L3MBO && lvl.Len() != 1 {
			err = c.violation(fmt.Sprintf("%s level %s holds %d orders on %s book", l.side, lvl.price, lvl.Len(), c.bookType))
			return false
		}
		var sum int64
		for _, o := range lvl.orders {
			if o.Side != l.side {
				err = c.violation(fmt.Sprintf("order %d with side %s on %s ladder", o.OrderID, o.Side, l.side))
				return false
			}
			if o.Price.Raw != lvl.price.Raw {
				err = c.violation(fmt.Sprintf("order %d at %s stored in level %s", o.OrderID, o.Price, lvl.price))
				return false
			}
			if !o.Size.IsPositive() {
				err = c.violation(fmt.Sprintf("order %d has size %s", o.OrderID, o.Size))
				return false
			}
			if px, ok := l.cache[o.OrderID]; !ok || px != lvl.price.Raw {
				err = c.violation(fmt.Sprintf("order %d missing from %s index", o.OrderID, l.side))
				return false
			}
			sum += o.Size.Raw
		}
		if sum != lvl.size {
			err = c.violation(fmt.Sprintf("%s level %s aggregate %d != sum %d", l.side, lvl.price, lvl.size, sum))
			return false
		}
		orders += lvl.Len()
		return true
	})
	if err != nil {
		return err
	}
	if orders != len(l.cache) {
		return c.violation(fmt.Sprintf("%s index holds %d orders, ladder %d", l.side, len(l.cache), orders))
	}

	left := l.levels.Left()
	switch {
	case left == nil && l.best != nil:
		return c.violation(fmt.Sprintf("%s best level cached on empty ladder", l.side))
	case left != nil && l.best != left.Value:
		return c.violation(fmt.Sprintf("%s best level cache stale", l.side))
	}
	return nil
}

func (c *core) violation(detail string) error {
	return &domain.IntegrityError{Component: "book " + c.id.String(), Detail: detail}
}
