package domain

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tradecore/pkg/quant"
)

// Delta flags.
const (
	// FlagLast marks the final delta of an event batch.
	FlagLast uint8 = 0x80
	// FlagSnapshot marks a delta that is part of a snapshot.
	FlagSnapshot uint8 = 0x20
)

// DepthLevels is the number of levels per side in an OrderBookDepth10.
const DepthLevels = 10

// BookOrder is a resting entry in an order book.
type BookOrder struct {
	Side    OrderSide      `json:"side"`
	Price   quant.Price    `json:"price"`
	Size    quant.Quantity `json:"size"`
	OrderID uint64         `json:"order_id"`
}

// Exposure is price * size.
func (o BookOrder) Exposure() decimal.Decimal {
	return o.Price.Decimal().Mul(o.Size.Decimal())
}

// SignedSize is size for BUY and -size for SELL.
func (o BookOrder) SignedSize() decimal.Decimal {
	return o.Size.Decimal().Mul(decimal.NewFromInt(o.Side.Sign()))
}

func (o BookOrder) String() string {
	return fmt.Sprintf("%s %s@%s #%d", o.Side, o.Size, o.Price, o.OrderID)
}

// OrderBookDelta is a single incremental book mutation.
type OrderBookDelta struct {
	InstrumentID InstrumentID    `json:"instrument_id"`
	Action       BookAction      `json:"action"`
	Order        BookOrder       `json:"order"`
	Flags        uint8           `json:"flags"`
	Sequence     uint64          `json:"sequence"`
	TsEvent      quant.UnixNanos `json:"ts_event"`
	TsInit       quant.UnixNanos `json:"ts_init"`
}

// NewClearDelta builds a CLEAR delta, typically the first delta of a snapshot.
func NewClearDelta(id InstrumentID, sequence uint64, tsEvent, tsInit quant.UnixNanos) OrderBookDelta {
	return OrderBookDelta{
		InstrumentID: id,
		Action:       ActionClear,
		Order:        BookOrder{Side: NoOrderSide},
		Flags:        FlagSnapshot,
		Sequence:     sequence,
		TsEvent:      tsEvent,
		TsInit:       tsInit,
	}
}

func (d OrderBookDelta) IsLast() bool     { return d.Flags&FlagLast != 0 }
func (d OrderBookDelta) IsSnapshot() bool { return d.Flags&FlagSnapshot != 0 }

// OrderBookDeltas is a batch of deltas for one instrument.
type OrderBookDeltas struct {
	InstrumentID InstrumentID     `json:"instrument_id"`
	Deltas       []OrderBookDelta `json:"deltas"`
}

// NewOrderBookDeltas rejects an empty batch or one that mixes instruments.
func NewOrderBookDeltas(id InstrumentID, deltas []OrderBookDelta) (OrderBookDeltas, error) {
	if len(deltas) == 0 {
		return OrderBookDeltas{}, &DataQualityError{InstrumentID: id, Reason: "empty delta batch"}
	}
	for _, d := range deltas {
		if d.InstrumentID != id {
			return OrderBookDeltas{}, &DataQualityError{
				InstrumentID: id,
				Sequence:     d.Sequence,
				TsEvent:      d.TsEvent,
				Reason:       fmt.Sprintf("delta for %s in batch for %s", d.InstrumentID, id),
			}
		}
	}
	return OrderBookDeltas{InstrumentID: id, Deltas: deltas}, nil
}

// Last returns the final delta of the batch.
func (d OrderBookDeltas) Last() OrderBookDelta {
	return d.Deltas[len(d.Deltas)-1]
}

// OrderBookDepth10 is a top-ten-levels snapshot of both sides.
type OrderBookDepth10 struct {
	InstrumentID InstrumentID    `json:"instrument_id"`
	Bids         []BookOrder     `json:"bids"`
	Asks         []BookOrder     `json:"asks"`
	BidCounts    []uint32        `json:"bid_counts,omitempty"`
	AskCounts    []uint32        `json:"ask_counts,omitempty"`
	Flags        uint8           `json:"flags"`
	Sequence     uint64          `json:"sequence"`
	TsEvent      quant.UnixNanos `json:"ts_event"`
	TsInit       quant.UnixNanos `json:"ts_init"`
}

// Validate checks level counts and sides.
func (d OrderBookDepth10) Validate() error {
	if len(d.Bids) > DepthLevels || len(d.Asks) > DepthLevels {
		return &DataQualityError{InstrumentID: d.InstrumentID, Sequence: d.Sequence, TsEvent: d.TsEvent,
			Reason: fmt.Sprintf("depth exceeds %d levels", DepthLevels)}
	}
	for _, o := range d.Bids {
		if o.Side != Buy {
			return &DataQualityError{InstrumentID: d.InstrumentID, Sequence: d.Sequence, TsEvent: d.TsEvent,
				Reason: "bid level with side " + string(o.Side)}
		}
	}
	for _, o := range d.Asks {
		if o.Side != Sell {
			return &DataQualityError{InstrumentID: d.InstrumentID, Sequence: d.Sequence, TsEvent: d.TsEvent,
				Reason: "ask level with side " + string(o.Side)}
		}
	}
	return nil
}

// QuoteTick is a top-of-book quote.
type QuoteTick struct {
	InstrumentID InstrumentID    `json:"instrument_id"`
	BidPrice     quant.Price     `json:"bid_price"`
	AskPrice     quant.Price     `json:"ask_price"`
	BidSize      quant.Quantity  `json:"bid_size"`
	AskSize      quant.Quantity  `json:"ask_size"`
	TsEvent      quant.UnixNanos `json:"ts_event"`
	TsInit       quant.UnixNanos `json:"ts_init"`
}

// TradeTick is a single trade print.
type TradeTick struct {
	InstrumentID  InstrumentID    `json:"instrument_id"`
	Price         quant.Price     `json:"price"`
	Size          quant.Quantity  `json:"size"`
	AggressorSide OrderSide       `json:"aggressor_side"`
	TradeID       TradeID         `json:"trade_id"`
	TsEvent       quant.UnixNanos `json:"ts_event"`
	TsInit        quant.UnixNanos `json:"ts_init"`
}
