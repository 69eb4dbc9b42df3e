package orderbook

import (
	"github.com/shopspring/decimal"

	"tradecore/internal/domain"
	"tradecore/pkg/quant"
)

// Fill is a simulated execution against one price level.
type Fill struct {
	Price quant.Price
	Size  quant.Quantity
}

func (c *core) BestBidPrice() (quant.Price, bool) {
	if c.bids.best == nil {
		return quant.Price{}, false
	}
	return c.bids.best.price, true
}

func (c *core) BestAskPrice() (quant.Price, bool) {
	if c.asks.best == nil {
		return quant.Price{}, false
	}
	return c.asks.best.price, true
}

func (c *core) BestBidSize() (quant.Quantity, bool) {
	if c.bids.best == nil {
		return quant.Quantity{}, false
	}
	return c.bids.best.Size(), true
}

func (c *core) BestAskSize() (quant.Quantity, bool) {
	if c.asks.best == nil {
		return quant.Quantity{}, false
	}
	return c.asks.best.Size(), true
}

// Spread is best ask minus best bid.
func (c *core) Spread() (quant.Price, bool) {
	if c.bids.best == nil || c.asks.best == nil {
		return quant.Price{}, false
	}
	bid, ask := c.bids.best.price, c.asks.best.price
	return quant.Price{Raw: ask.Raw - bid.Raw, Precision: max(bid.Precision, ask.Precision)}, true
}

// Midpoint is undefined when either side is empty.
func (c *core) Midpoint() (decimal.Decimal, bool) {
	if c.bids.best == nil || c.asks.best == nil {
		return decimal.Zero, false
	}
	sum := c.bids.best.price.Decimal().Add(c.asks.best.price.Decimal())
	return sum.Div(decimal.NewFromInt(2)), true
}

// IsCrossed reports best bid >= best ask.
func (c *core) IsCrossed() bool {
	if c.bids.best == nil || c.asks.best == nil {
		return false
	}
	return c.bids.best.price.Raw >= c.asks.best.price.Raw
}

func (c *core) Bids(depth int) []Level { return c.bids.depth(depth) }
func (c *core) Asks(depth int) []Level { return c.asks.depth(depth) }

// opposite returns the ladder an order of the given side would trade against.
func (c *core) opposite(side domain.OrderSide) *ladder {
	if side == domain.Buy {
		return c.asks
	}
	return c.bids
}

// GetAvgPxForQuantity walks the opposite side from the best price until qty is covered
// and returns the volume-weighted price over the depth actually walked.
// It returns zero when the opposite side is empty.
func (c *core) GetAvgPxForQuantity(qty quant.Quantity, side domain.OrderSide) decimal.Decimal {
	remaining := qty.Raw
	var cumQty int64
	cumNotional := decimal.Zero
	c.opposite(side).walk(func(lvl *Level) bool {
		take := min(lvl.size, remaining)
		cumNotional = cumNotional.Add(lvl.price.Decimal().Mul(decimal.New(take, -quant.FixedPrecision)))
		cumQty += take
		remaining -= take
		return remaining > 0
	})
	if cumQty == 0 {
		return decimal.Zero
	}
	return cumNotional.Div(decimal.New(cumQty, -quant.FixedPrecision))
}

// GetQuantityForPrice sums the opposite side at or better than price:
// a BUY sums asks at or below price, a SELL sums bids at or above it.
func (c *core) GetQuantityForPrice(price quant.Price, side domain.OrderSide) quant.Quantity {
	var total int64
	var prec uint8
	l := c.opposite(side)
	l.walk(func(lvl *Level) bool {
		if !l.isBetterOrEqual(lvl.price.Raw, price.Raw) {
			return false
		}
		total += lvl.size
		prec = max(prec, lvl.prec)
		return true
	})
	return quant.Quantity{Raw: total, Precision: prec}
}

// GetAvgPxQtyForExposure walks the opposite side until the notional exposure is spent.
// It returns the average price, the quantity obtained and the exposure actually executed.
func (c *core) GetAvgPxQtyForExposure(exposure decimal.Decimal, side domain.OrderSide) (decimal.Decimal, decimal.Decimal, decimal.Decimal) {
	remaining := exposure
	qty := decimal.Zero
	executed := decimal.Zero
	c.opposite(side).walk(func(lvl *Level) bool {
		if !remaining.IsPositive() {
			return false
		}
		px := lvl.price.Decimal()
		if !px.IsPositive() {
			return true
		}
		lvlExposure := lvl.Exposure()
		if lvlExposure.LessThanOrEqual(remaining) {
			qty = qty.Add(lvl.Size().Decimal())
			executed = executed.Add(lvlExposure)
			remaining = remaining.Sub(lvlExposure)
			return true
		}
		part := remaining.Div(px)
		qty = qty.Add(part)
		executed = executed.Add(remaining)
		remaining = decimal.Zero
		return false
	})
	if qty.IsZero() {
		return decimal.Zero, decimal.Zero, decimal.Zero
	}
	return executed.Div(qty), qty, executed
}

// SimulateFills returns the fills an order would receive by sweeping the opposite side.
// A nil limit means a market order.
func (c *core) SimulateFills(side domain.OrderSide, qty quant.Quantity, limit *quant.Price) []Fill {
	var fills []Fill
	remaining := qty.Raw
	if remaining <= 0 {
		return nil
	}
	c.opposite(side).walk(func(lvl *Level) bool {
		if limit != nil && !marketable(side, lvl.price, *limit) {
			return false
		}
		take := min(lvl.size, remaining)
		fills = append(fills, Fill{Price: lvl.price, Size: quant.Quantity{Raw: take, Precision: qty.Precision}})
		remaining -= take
		return remaining > 0
	})
	return fills
}

func marketable(side domain.OrderSide, levelPx, limit quant.Price) bool {
	if side == domain.Buy {
		return levelPx.Raw <= limit.Raw
	}
	return levelPx.Raw >= limit.Raw
}

// ClearStaleLevels removes levels that cross the opposite best price and returns them.
// BUY clears stale bids, SELL clears stale asks, NoOrderSide clears both.
func (c *core) ClearStaleLevels(side domain.OrderSide) []Level {
	if c.bookType == domain.L1MBP || !c.IsCrossed() {
		return nil
	}
	bestBid := c.bids.best.price.Raw
	bestAsk := c.asks.best.price.Raw

	var stale []int64
	var removed []Level
	if side != domain.Buy {
		c.asks.walk(func(lvl *Level) bool {
			if lvl.price.Raw > bestBid {
				return false
			}
			stale = append(stale, lvl.price.Raw)
			return true
		})
		for _, p := range stale {
			if lvl, ok := c.asks.removeLevel(p); ok {
				removed = append(removed, *lvl)
			}
		}
	}
	stale = stale[:0]
	if side != domain.Sell {
		c.bids.walk(func(lvl *Level) bool {
			if lvl.price.Raw < bestAsk {
				return false
			}
			stale = append(stale, lvl.price.Raw)
			return true
		})
		for _, p := range stale {
			if lvl, ok := c.bids.removeLevel(p); ok {
				removed = append(removed, *lvl)
			}
		}
	}
	return removed
}
