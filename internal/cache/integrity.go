package cache

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/emirpasic/gods/v2/sets/treeset"

	"tradecore/internal/domain"
)

// CheckIntegrity rebuilds every index from the primary maps and compares it with the live one.
// It also checks each position against its fill log. All violations are joined.
func (c *Cache) CheckIntegrity() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, &domain.IntegrityError{Component: "cache", Detail: fmt.Sprintf(format, args...)})
	}

	open := treeset.New[domain.ClientOrderID]()
	closed := treeset.New[domain.ClientOrderID]()
	inflight := treeset.New[domain.ClientOrderID]()
	for id, o := range c.orders {
		if id != o.ClientOrderID {
			fail("order keyed %s has id %s", id, o.ClientOrderID)
		}
		switch {
		case o.IsClosed():
			closed.Add(id)
		case o.IsOpen():
			open.Add(id)
		}
		if o.IsInflight() {
			inflight.Add(id)
		}
		if o.FilledQty.Cmp(o.Quantity) > 0 {
			fail("order %s filled %s exceeds quantity %s", id, o.FilledQty, o.Quantity)
		}
		if !contains(c.ordersByInstrument[o.InstrumentID], id) {
			fail("order %s missing from instrument index %s", id, o.InstrumentID)
		}
		if !contains(c.ordersByStrategy[o.StrategyID], id) {
			fail("order %s missing from strategy index %s", id, o.StrategyID)
		}
		if o.VenueOrderID != "" && c.clientToVenue[id] != o.VenueOrderID {
			fail("order %s venue id %s bound as %s", id, o.VenueOrderID, c.clientToVenue[id])
		}
	}
	compareSets(fail, "open orders", open, c.ordersOpen)
	compareSets(fail, "closed orders", closed, c.ordersClosed)
	compareSets(fail, "inflight orders", inflight, c.ordersInflight)
	c.checkIndexMembers(fail)

	for vid, coid := range c.venueToClient {
		if c.clientToVenue[coid] != vid {
			fail("venue id %s maps to %s which maps back to %s", vid, coid, c.clientToVenue[coid])
		}
	}
	if len(c.venueToClient) != len(c.clientToVenue) {
		fail("venue bindings %d != client bindings %d", len(c.venueToClient), len(c.clientToVenue))
	}
	for coid, pid := range c.orderPosition {
		if !contains(c.positionOrders[pid], coid) {
			fail("order %s bound to %s but absent from its order set", coid, pid)
		}
		// An order may name its position before the first fill opens it.
		if _, ok := c.positions[pid]; !ok {
			if o, found := c.orders[coid]; found && o.FilledQty.IsPositive() {
				fail("order %s bound to missing position %s", coid, pid)
			}
		}
	}
	for pid, set := range c.positionOrders {
		for _, coid := range set.Values() {
			if c.orderPosition[coid] != pid {
				fail("position %s lists order %s bound to %s", pid, coid, c.orderPosition[coid])
			}
		}
	}

	posOpen := treeset.New[domain.PositionID]()
	posClosed := treeset.New[domain.PositionID]()
	for id, p := range c.positions {
		if p.IsOpen() {
			posOpen.Add(id)
		} else {
			posClosed.Add(id)
		}
		if err := p.CheckIntegrity(); err != nil {
			errs = append(errs, err)
		}
		if !contains(c.positionsByInstrument[p.Instrument.ID], id) {
			fail("position %s missing from instrument index %s", id, p.Instrument.ID)
		}
		if !contains(c.positionsByStrategy[p.StrategyID], id) {
			fail("position %s missing from strategy index %s", id, p.StrategyID)
		}
	}
	compareSets(fail, "open positions", posOpen, c.positionsOpen)
	compareSets(fail, "closed positions", posClosed, c.positionsClosed)

	return errors.Join(errs...)
}

// checkIndexMembers reports index entries whose entity is gone or no longer matches the key.
func (c *Cache) checkIndexMembers(fail func(string, ...any)) {
	for inst, set := range c.ordersByInstrument {
		for _, id := range set.Values() {
			if o, ok := c.orders[id]; !ok || o.InstrumentID != inst {
				fail("instrument index %s holds stale order %s", inst, id)
			}
		}
	}
	for strat, set := range c.ordersByStrategy {
		for _, id := range set.Values() {
			if o, ok := c.orders[id]; !ok || o.StrategyID != strat {
				fail("strategy index %s holds stale order %s", strat, id)
			}
		}
	}
	for inst, set := range c.positionsByInstrument {
		for _, id := range set.Values() {
			if p, ok := c.positions[id]; !ok || p.Instrument.ID != inst {
				fail("instrument index %s holds stale position %s", inst, id)
			}
		}
	}
	for strat, set := range c.positionsByStrategy {
		for _, id := range set.Values() {
			if p, ok := c.positions[id]; !ok || p.StrategyID != strat {
				fail("strategy index %s holds stale position %s", strat, id)
			}
		}
	}
}

func compareSets[V ~string](fail func(string, ...any), name string, want, got *treeset.Set[V]) {
	for _, id := range want.Values() {
		if !got.Contains(id) {
			fail("%s index is missing %s", name, id)
		}
	}
	for _, id := range got.Values() {
		if !want.Contains(id) {
			fail("%s index holds unexpected %s", name, id)
		}
	}
}

func contains[V ~string](set *treeset.Set[V], v V) bool {
	return set != nil && set.Contains(v)
}

// CheckResiduals logs every open order and open position, e.g. at shutdown.
// It reports whether any were found.
func (c *Cache) CheckResiduals() bool {
	residual := false
	for _, o := range c.OrdersOpen(Filter{}) {
		residual = true
		slog.Warn("RESIDUAL_ORDER",
			slog.String("client_order_id", o.ClientOrderID.String()),
			slog.String("status", string(o.Status)),
			slog.String("leaves_qty", o.LeavesQty().String()))
	}
	for _, p := range c.PositionsOpen(Filter{}) {
		residual = true
		slog.Warn("RESIDUAL_POSITION",
			slog.String("position_id", p.ID.String()),
			slog.String("side", string(p.Side)),
			slog.String("quantity", p.Quantity.String()))
	}
	return residual
}
