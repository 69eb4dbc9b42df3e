package event

import (
	"tradecore/internal/domain"
	"tradecore/pkg/quant"
)

// OrderEvent is implemented by every order lifecycle event.
type OrderEvent interface {
	Event
	Order() *OrderBase
}

// OrderBase holds the identity fields shared by order events.
type OrderBase struct {
	BaseEvent
	TraderID      domain.TraderID      `json:"trader_id"`
	StrategyID    domain.StrategyID    `json:"strategy_id"`
	InstrumentID  domain.InstrumentID  `json:"instrument_id"`
	ClientOrderID domain.ClientOrderID `json:"client_order_id"`
	VenueOrderID  domain.VenueOrderID  `json:"venue_order_id,omitempty"`
	AccountID     domain.AccountID     `json:"account_id,omitempty"`
}

func (o *OrderBase) Order() *OrderBase { return o }

// OrderInitialized creates an order. It is always the first event of an order.
type OrderInitialized struct {
	OrderBase
	Side         domain.OrderSide   `json:"side"`
	OrderType    domain.OrderType   `json:"order_type"`
	Quantity     quant.Quantity     `json:"quantity"`
	Price        *quant.Price       `json:"price,omitempty"`
	TriggerPrice *quant.Price       `json:"trigger_price,omitempty"`
	TimeInForce  domain.TimeInForce `json:"time_in_force"`
	ExpireTime   quant.UnixNanos    `json:"expire_time,omitempty"`
	ReduceOnly   bool               `json:"reduce_only,omitempty"`
	PositionID   domain.PositionID  `json:"position_id,omitempty"`
}

func (e *OrderInitialized) GetType() Type { return EvOrderInitialized }

type OrderDenied struct {
	OrderBase
	Reason string `json:"reason"`
}

func (e *OrderDenied) GetType() Type { return EvOrderDenied }

type OrderSubmitted struct {
	OrderBase
}

func (e *OrderSubmitted) GetType() Type { return EvOrderSubmitted }

type OrderAccepted struct {
	OrderBase
}

func (e *OrderAccepted) GetType() Type { return EvOrderAccepted }

type OrderRejected struct {
	OrderBase
	Reason string `json:"reason"`
}

func (e *OrderRejected) GetType() Type { return EvOrderRejected }

type OrderCanceled struct {
	OrderBase
}

func (e *OrderCanceled) GetType() Type { return EvOrderCanceled }

type OrderExpired struct {
	OrderBase
}

func (e *OrderExpired) GetType() Type { return EvOrderExpired }

type OrderTriggered struct {
	OrderBase
}

func (e *OrderTriggered) GetType() Type { return EvOrderTriggered }

// OrderPendingUpdate records a requested amendment awaiting venue confirmation.
// Nil fields are left unchanged by the request.
type OrderPendingUpdate struct {
	OrderBase
	Quantity     *quant.Quantity `json:"quantity,omitempty"`
	Price        *quant.Price    `json:"price,omitempty"`
	TriggerPrice *quant.Price    `json:"trigger_price,omitempty"`
}

func (e *OrderPendingUpdate) GetType() Type { return EvOrderPendingUpdate }

type OrderPendingCancel struct {
	OrderBase
}

func (e *OrderPendingCancel) GetType() Type { return EvOrderPendingCancel }

type OrderModifyRejected struct {
	OrderBase
	Reason string `json:"reason"`
}

func (e *OrderModifyRejected) GetType() Type { return EvOrderModifyRejected }

type OrderCancelRejected struct {
	OrderBase
	Reason string `json:"reason"`
}

func (e *OrderCancelRejected) GetType() Type { return EvOrderCancelRejected }

// OrderUpdated confirms an amendment. Nil prices leave the current value.
type OrderUpdated struct {
	OrderBase
	Quantity     quant.Quantity `json:"quantity"`
	Price        *quant.Price   `json:"price,omitempty"`
	TriggerPrice *quant.Price   `json:"trigger_price,omitempty"`
}

func (e *OrderUpdated) GetType() Type { return EvOrderUpdated }

// OrderFilled reports an execution against the order.
type OrderFilled struct {
	OrderBase
	TradeID       domain.TradeID       `json:"trade_id"`
	PositionID    domain.PositionID    `json:"position_id,omitempty"`
	OrderSide     domain.OrderSide     `json:"order_side"`
	OrderType     domain.OrderType     `json:"order_type"`
	LastQty       quant.Quantity       `json:"last_qty"`
	LastPx        quant.Price          `json:"last_px"`
	Currency      domain.Currency      `json:"currency"`
	Commission    domain.Money         `json:"commission"`
	LiquiditySide domain.LiquiditySide `json:"liquidity_side"`
}

func (e *OrderFilled) GetType() Type { return EvOrderFilled }

// IsBuy reports whether the fill is on the buy side.
func (e *OrderFilled) IsBuy() bool { return e.OrderSide == domain.Buy }
