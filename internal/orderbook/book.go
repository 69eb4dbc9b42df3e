// Package orderbook maintains limit order books at L1 (top of book), L2 (aggregated price
// levels) and L3 (individual resting orders) granularity. Books are single-writer: the
// owning sequencer applies every mutation and no method takes a lock.
package orderbook

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"tradecore/internal/domain"
	"tradecore/pkg/quant"
)

var ErrOrderNotFound = errors.New("book order not found")

// Book is the common surface of the three book granularities.
type Book interface {
	InstrumentID() domain.InstrumentID
	BookType() domain.BookType
	Sequence() uint64
	TsLast() quant.UnixNanos
	UpdateCount() uint64

	Add(order domain.BookOrder, flags uint8, sequence uint64, tsEvent quant.UnixNanos) error
	Update(order domain.BookOrder, flags uint8, sequence uint64, tsEvent quant.UnixNanos) error
	Delete(order domain.BookOrder, flags uint8, sequence uint64, tsEvent quant.UnixNanos) error
	Clear(sequence uint64, tsEvent quant.UnixNanos) error
	ApplyDelta(delta domain.OrderBookDelta) error
	ApplyDeltas(deltas domain.OrderBookDeltas) error
	ApplyDepth(depth domain.OrderBookDepth10) error
	UpdateQuote(quote domain.QuoteTick) error
	UpdateTrade(trade domain.TradeTick) error
	OrderByID(orderID uint64) (domain.BookOrder, error)

	BestBidPrice() (quant.Price, bool)
	BestAskPrice() (quant.Price, bool)
	BestBidSize() (quant.Quantity, bool)
	BestAskSize() (quant.Quantity, bool)
	Spread() (quant.Price, bool)
	Midpoint() (decimal.Decimal, bool)
	IsCrossed() bool
	Bids(depth int) []Level
	Asks(depth int) []Level

	GetAvgPxForQuantity(qty quant.Quantity, side domain.OrderSide) decimal.Decimal
	GetQuantityForPrice(price quant.Price, side domain.OrderSide) quant.Quantity
	GetAvgPxQtyForExposure(exposure decimal.Decimal, side domain.OrderSide) (avgPx, qty, executed decimal.Decimal)
	SimulateFills(side domain.OrderSide, qty quant.Quantity, limit *quant.Price) []Fill
	ClearStaleLevels(side domain.OrderSide) []Level

	CheckIntegrity() error
	MissedDeletes() uint64
	MarkSuspect(reason string)
	Suspect() (bool, string)
	Reset()
	Snapshot() Snapshot
	Restore(s Snapshot) error
}

// New builds an empty book of the given granularity.
func New(id domain.InstrumentID, bookType domain.BookType) (Book, error) {
	switch bookType {
	case domain.L1MBP:
		return NewL1Book(id), nil
	case domain.L2MBP:
		return NewL2Book(id), nil
	case domain.L3MBO:
		return NewL3Book(id), nil
	}
	return nil, fmt.Errorf("book type %q: %w", bookType, domain.ErrInvalidBookOperation)
}

// core holds the state and logic shared by every granularity.
type core struct {
	id            domain.InstrumentID
	bookType      domain.BookType
	bids          *ladder
	asks          *ladder
	sequence      uint64
	tsLast        quant.UnixNanos
	updateCount   uint64
	missedDeletes uint64
	suspect       bool
	suspectReason string
}

func newCore(id domain.InstrumentID, bookType domain.BookType) core {
	return core{
		id:       id,
		bookType: bookType,
		bids:     newLadder(domain.Buy),
		asks:     newLadder(domain.Sell),
	}
}

func (c *core) InstrumentID() domain.InstrumentID { return c.id }
func (c *core) BookType() domain.BookType         { return c.bookType }
func (c *core) Sequence() uint64                  { return c.sequence }
func (c *core) TsLast() quant.UnixNanos           { return c.tsLast }
func (c *core) UpdateCount() uint64               { return c.updateCount }

// MissedDeletes counts deletes whose target was absent; a reconciliation signal for L3.
func (c *core) MissedDeletes() uint64 { return c.missedDeletes }

// MarkSuspect flags the book as diverged from the venue until the next CLEAR or Reset.
func (c *core) MarkSuspect(reason string) {
	c.suspect = true
	c.suspectReason = reason
}

func (c *core) Suspect() (bool, string) { return c.suspect, c.suspectReason }

// Reset empties the book and zeroes every counter.
func (c *core) Reset() {
	c.bids.clear()
	c.asks.clear()
	c.sequence = 0
	c.tsLast = 0
	c.updateCount = 0
	c.missedDeletes = 0
	c.suspect = false
	c.suspectReason = ""
}

func (c *core) ladder(side domain.OrderSide) *ladder {
	if side == domain.Buy {
		return c.bids
	}
	return c.asks
}

func (c *core) unsupported(op string) error {
	return fmt.Errorf("%w: %s on %s book", domain.ErrInvalidBookOperation, op, c.bookType)
}

// admit enforces ordering. A regression is a data-quality error and flags the book.
func (c *core) admit(sequence uint64, tsEvent quant.UnixNanos) error {
	if tsEvent < c.tsLast {
		return c.reject(sequence, tsEvent, fmt.Sprintf("ts_event %d before ts_last %d", tsEvent, c.tsLast))
	}
	if sequence != 0 && sequence < c.sequence {
		return c.reject(sequence, tsEvent, fmt.Sprintf("sequence %d before %d", sequence, c.sequence))
	}
	return nil
}

func (c *core) admitOrder(o domain.BookOrder, sequence uint64, tsEvent quant.UnixNanos) error {
	if !o.Side.Valid() {
		return c.reject(sequence, tsEvent, fmt.Sprintf("order %d has no side", o.OrderID))
	}
	return c.admit(sequence, tsEvent)
}

func (c *core) reject(sequence uint64, tsEvent quant.UnixNanos, reason string) error {
	c.MarkSuspect(reason)
	return &domain.DataQualityError{InstrumentID: c.id, Sequence: sequence, TsEvent: tsEvent, Reason: reason}
}

// commit records a successfully applied mutation.
func (c *core) commit(sequence uint64, tsEvent quant.UnixNanos) {
	if sequence > c.sequence {
		c.sequence = sequence
	}
	c.tsLast = tsEvent
	if c.updateCount < math.MaxUint64 {
		c.updateCount++
	}
}

// clear empties both sides. On an empty book it changes nothing but the suspect flag.
func (c *core) clear(sequence uint64, tsEvent quant.UnixNanos) error {
	if err := c.admit(sequence, tsEvent); err != nil {
		return err
	}
	c.suspect = false
	c.suspectReason = ""
	if c.bids.isEmpty() && c.asks.isEmpty() {
		return nil
	}
	c.bids.clear()
	c.asks.clear()
	c.missedDeletes = 0
	c.commit(sequence, tsEvent)
	return nil
}

func (c *core) Clear(sequence uint64, tsEvent quant.UnixNanos) error {
	return c.clear(sequence, tsEvent)
}

// applyDepth replaces both sides from a snapshot. ids assigns the order id per granularity.
func (c *core) applyDepth(depth domain.OrderBookDepth10, ids func(domain.BookOrder) uint64) error {
	if depth.InstrumentID != c.id {
		return c.reject(depth.Sequence, depth.TsEvent, "depth for "+depth.InstrumentID.String())
	}
	if err := depth.Validate(); err != nil {
		c.MarkSuspect(err.Error())
		return err
	}
	if err := c.admit(depth.Sequence, depth.TsEvent); err != nil {
		return err
	}
	c.bids.clear()
	c.asks.clear()
	c.missedDeletes = 0
	c.suspect = false
	c.suspectReason = ""
	for _, o := range depth.Bids {
		if o.Size.IsPositive() {
			o.OrderID = ids(o)
			c.bids.update(o)
		}
	}
	for _, o := range depth.Asks {
		if o.Size.IsPositive() {
			o.OrderID = ids(o)
			c.asks.update(o)
		}
	}
	c.commit(depth.Sequence, depth.TsEvent)
	return nil
}

// mutator is the per-granularity part of delta dispatch.
type mutator interface {
	Add(order domain.BookOrder, flags uint8, sequence uint64, tsEvent quant.UnixNanos) error
	Update(order domain.BookOrder, flags uint8, sequence uint64, tsEvent quant.UnixNanos) error
	Delete(order domain.BookOrder, flags uint8, sequence uint64, tsEvent quant.UnixNanos) error
	Clear(sequence uint64, tsEvent quant.UnixNanos) error
}

func applyDelta(c *core, m mutator, d domain.OrderBookDelta) error {
	if d.InstrumentID != c.id {
		return c.reject(d.Sequence, d.TsEvent, "delta for "+d.InstrumentID.String())
	}
	switch d.Action {
	case domain.ActionAdd:
		return m.Add(d.Order, d.Flags, d.Sequence, d.TsEvent)
	case domain.ActionUpdate:
		return m.Update(d.Order, d.Flags, d.Sequence, d.TsEvent)
	case domain.ActionDelete:
		return m.Delete(d.Order, d.Flags, d.Sequence, d.TsEvent)
	case domain.ActionClear:
		return m.Clear(d.Sequence, d.TsEvent)
	}
	return c.reject(d.Sequence, d.TsEvent, fmt.Sprintf("unknown action %q", d.Action))
}

// applyDeltas applies every delta; failures are skipped and returned joined.
func applyDeltas(c *core, m mutator, ds domain.OrderBookDeltas) error {
	var errs []error
	for _, d := range ds.Deltas {
		if err := applyDelta(c, m, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Book = (*L1Book)(nil)
	_ Book = (*L2Book)(nil)
	_ Book = (*L3Book)(nil)
)
