package execution

import (
	"tradecore/internal/domain"
	"tradecore/internal/event"
	"tradecore/pkg/quant"
)

var audusd = domain.MustInstrumentID("AUD/USD.SIM")

func audusdInstrument() domain.Instrument {
	inst, err := domain.NewCurrencyPair(audusd, 5, 0)
	if err != nil {
		panic(err)
	}
	return inst
}

func base(coid domain.ClientOrderID, ts quant.UnixNanos) event.OrderBase {
	return event.OrderBase{
		BaseEvent:     event.BaseEvent{TsEvent: ts, TsInit: ts},
		TraderID:      "TRADER-001",
		StrategyID:    "S-001",
		InstrumentID:  audusd,
		ClientOrderID: coid,
		AccountID:     "SIM-001",
	}
}

func limitInit(coid domain.ClientOrderID, side domain.OrderSide, qty, px string) *event.OrderInitialized {
	p := quant.MustPrice(px)
	return &event.OrderInitialized{
		OrderBase:   base(coid, 1),
		Side:        side,
		OrderType:   domain.Limit,
		Quantity:    quant.MustQty(qty),
		Price:       &p,
		TimeInForce: domain.GTC,
	}
}

func marketInit(coid domain.ClientOrderID, side domain.OrderSide, qty string) *event.OrderInitialized {
	return &event.OrderInitialized{
		OrderBase:   base(coid, 1),
		Side:        side,
		OrderType:   domain.Market,
		Quantity:    quant.MustQty(qty),
		TimeInForce: domain.IOC,
	}
}

func accepted(coid domain.ClientOrderID, venue domain.VenueOrderID, ts quant.UnixNanos) *event.OrderAccepted {
	b := base(coid, ts)
	b.VenueOrderID = venue
	return &event.OrderAccepted{OrderBase: b}
}

func filled(coid domain.ClientOrderID, side domain.OrderSide, trade domain.TradeID, qty, px string, ts quant.UnixNanos) *event.OrderFilled {
	return &event.OrderFilled{
		OrderBase:  base(coid, ts),
		TradeID:    trade,
		OrderSide:  side,
		OrderType:  domain.Limit,
		LastQty:    quant.MustQty(qty),
		LastPx:     quant.MustPrice(px),
		Currency:   domain.USD,
		PositionID: "P-1",
	}
}

// workingOrder returns an accepted order.
func workingOrder(init *event.OrderInitialized) *Order {
	o, err := NewOrder(init)
	if err != nil {
		panic(err)
	}
	if err := o.Apply(&event.OrderSubmitted{OrderBase: base(init.ClientOrderID, 2)}); err != nil {
		panic(err)
	}
	if err := o.Apply(accepted(init.ClientOrderID, "V-1", 3)); err != nil {
		panic(err)
	}
	return o
}
