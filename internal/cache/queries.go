package cache

import (
	"github.com/emirpasic/gods/v2/sets/treeset"

	"tradecore/internal/domain"
	"tradecore/internal/execution"
)

func (c *Cache) Order(id domain.ClientOrderID) (*execution.Order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.orders[id]
	return o, ok
}

func (c *Cache) Position(id domain.PositionID) (*execution.Position, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.positions[id]
	return p, ok
}

func (c *Cache) Account(id domain.AccountID) (*domain.Account, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.accounts[id]
	return a, ok
}

// Accounts returns every account sorted by id.
func (c *Cache) Accounts() []*domain.Account {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := treeset.New[domain.AccountID]()
	for id := range c.accounts {
		ids.Add(id)
	}
	out := make([]*domain.Account, 0, ids.Size())
	for _, id := range ids.Values() {
		out = append(out, c.accounts[id])
	}
	return out
}

func (c *Cache) ClientOrderID(venueOrderID domain.VenueOrderID) (domain.ClientOrderID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.venueToClient[venueOrderID]
	return id, ok
}

func (c *Cache) VenueOrderID(clientOrderID domain.ClientOrderID) (domain.VenueOrderID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.clientToVenue[clientOrderID]
	return id, ok
}

func (c *Cache) PositionID(clientOrderID domain.ClientOrderID) (domain.PositionID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.orderPosition[clientOrderID]
	return id, ok
}

func (c *Cache) PositionForOrder(clientOrderID domain.ClientOrderID) (*execution.Position, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.orderPosition[clientOrderID]
	if !ok {
		return nil, false
	}
	p, ok := c.positions[id]
	return p, ok
}

// OrdersForPosition returns the orders bound to a position, sorted by client order id.
func (c *Cache) OrdersForPosition(positionID domain.PositionID) []*execution.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set, ok := c.positionOrders[positionID]
	if !ok {
		return nil
	}
	out := make([]*execution.Order, 0, set.Size())
	for _, id := range set.Values() {
		if o, ok := c.orders[id]; ok {
			out = append(out, o)
		}
	}
	return out
}

func (c *Cache) Orders(f Filter) []*execution.Order {
	return c.selectOrders(nil, f)
}

func (c *Cache) OrdersOpen(f Filter) []*execution.Order {
	return c.selectOrders(c.ordersOpen, f)
}

func (c *Cache) OrdersCompleted(f Filter) []*execution.Order {
	return c.selectOrders(c.ordersClosed, f)
}

func (c *Cache) OrdersInflight(f Filter) []*execution.Order {
	return c.selectOrders(c.ordersInflight, f)
}

func (c *Cache) OrdersOpenCount(f Filter) int      { return len(c.OrdersOpen(f)) }
func (c *Cache) OrdersCompletedCount(f Filter) int { return len(c.OrdersCompleted(f)) }
func (c *Cache) OrdersInflightCount(f Filter) int  { return len(c.OrdersInflight(f)) }
func (c *Cache) OrdersTotalCount(f Filter) int     { return len(c.Orders(f)) }

func (c *Cache) Positions(f Filter) []*execution.Position {
	return c.selectPositions(nil, f)
}

func (c *Cache) PositionsOpen(f Filter) []*execution.Position {
	return c.selectPositions(c.positionsOpen, f)
}

func (c *Cache) PositionsClosed(f Filter) []*execution.Position {
	return c.selectPositions(c.positionsClosed, f)
}

func (c *Cache) PositionsOpenCount(f Filter) int   { return len(c.PositionsOpen(f)) }
func (c *Cache) PositionsClosedCount(f Filter) int { return len(c.PositionsClosed(f)) }
func (c *Cache) PositionsTotalCount(f Filter) int  { return len(c.Positions(f)) }

// selectOrders intersects base (nil means all orders) with the filter's indexes.
func (c *Cache) selectOrders(base orderSet, f Filter) []*execution.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()

	set := base
	if set == nil {
		set = treeset.New[domain.ClientOrderID]()
		for id := range c.orders {
			set.Add(id)
		}
	}
	if !f.Instrument.IsZero() {
		set = intersect(set, c.ordersByInstrument[f.Instrument])
	}
	if f.Strategy != "" {
		set = intersect(set, c.ordersByStrategy[f.Strategy])
	}
	out := make([]*execution.Order, 0, set.Size())
	for _, id := range set.Values() {
		o := c.orders[id]
		if f.Side.Valid() && o.Side != f.Side {
			continue
		}
		out = append(out, o)
	}
	return out
}

func (c *Cache) selectPositions(base positionSet, f Filter) []*execution.Position {
	c.mu.RLock()
	defer c.mu.RUnlock()

	set := base
	if set == nil {
		set = treeset.New[domain.PositionID]()
		for id := range c.positions {
			set.Add(id)
		}
	}
	if !f.Instrument.IsZero() {
		set = intersect(set, c.positionsByInstrument[f.Instrument])
	}
	if f.Strategy != "" {
		set = intersect(set, c.positionsByStrategy[f.Strategy])
	}
	out := make([]*execution.Position, 0, set.Size())
	for _, id := range set.Values() {
		p := c.positions[id]
		if !matchesPositionSide(p, f.Side) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// matchesPositionSide maps an order side filter onto a position: BUY selects long, SELL short.
func matchesPositionSide(p *execution.Position, side domain.OrderSide) bool {
	switch side {
	case domain.Buy:
		return p.IsLong()
	case domain.Sell:
		return p.IsShort()
	}
	return true
}

func intersect[V ~string](a, b *treeset.Set[V]) *treeset.Set[V] {
	out := treeset.New[V]()
	if b == nil {
		return out
	}
	for _, v := range a.Values() {
		if b.Contains(v) {
			out.Add(v)
		}
	}
	return out
}
