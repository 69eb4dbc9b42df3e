package execution

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/shopspring/decimal"

	"tradecore/internal/domain"
	"tradecore/internal/event"
	"tradecore/pkg/quant"
)

var (
	ErrInvalidOrder = errors.New("invalid order")
	ErrInvalidFill  = errors.New("invalid fill")
)

// Order is the event-sourced lifecycle of one client order. Apply is the only mutator.
type Order struct {
	TraderID      domain.TraderID
	StrategyID    domain.StrategyID
	InstrumentID  domain.InstrumentID
	ClientOrderID domain.ClientOrderID
	VenueOrderID  domain.VenueOrderID
	PositionID    domain.PositionID
	AccountID     domain.AccountID

	Side         domain.OrderSide
	Type         domain.OrderType
	Quantity     quant.Quantity
	Price        *quant.Price
	TriggerPrice *quant.Price
	TimeInForce  domain.TimeInForce
	ExpireTime   quant.UnixNanos
	ReduceOnly   bool

	FilledQty quant.Quantity
	AvgPx     decimal.Decimal
	// Status and PreviousStatus. While pending, PreviousStatus is the stable status to revert to.
	Status         domain.OrderStatus
	PreviousStatus domain.OrderStatus

	TsInit quant.UnixNanos
	TsLast quant.UnixNanos
	// TsPending is when the current pending state was entered; zero when not pending.
	TsPending quant.UnixNanos

	commissions map[string]domain.Money
	tradeIDs    []domain.TradeID
	events      []event.OrderEvent
}

// NewOrder builds an order from its initialization event.
func NewOrder(init *event.OrderInitialized) (*Order, error) {
	if err := validateInit(init); err != nil {
		return nil, err
	}
	o := &Order{
		TraderID:       init.TraderID,
		StrategyID:     init.StrategyID,
		InstrumentID:   init.InstrumentID,
		ClientOrderID:  init.ClientOrderID,
		VenueOrderID:   init.VenueOrderID,
		PositionID:     init.PositionID,
		AccountID:      init.AccountID,
		Side:           init.Side,
		Type:           init.OrderType,
		Quantity:       init.Quantity,
		Price:          clonePrice(init.Price),
		TriggerPrice:   clonePrice(init.TriggerPrice),
		TimeInForce:    init.TimeInForce,
		ExpireTime:     init.ExpireTime,
		ReduceOnly:     init.ReduceOnly,
		FilledQty:      quant.Quantity{Precision: init.Quantity.Precision},
		AvgPx:          decimal.Zero,
		Status:         domain.StatusInitialized,
		PreviousStatus: domain.StatusInitialized,
		TsInit:         init.TsEvent,
		TsLast:         init.TsEvent,
		commissions:    make(map[string]domain.Money),
		events:         []event.OrderEvent{init},
	}
	return o, nil
}

func validateInit(init *event.OrderInitialized) error {
	switch {
	case init.ClientOrderID == "":
		return fmt.Errorf("%w: empty client order id", ErrInvalidOrder)
	case !init.Side.Valid():
		return fmt.Errorf("%w: %s side %q", ErrInvalidOrder, init.ClientOrderID, init.Side)
	case !init.Quantity.IsPositive():
		return fmt.Errorf("%w: %s quantity %s", ErrInvalidOrder, init.ClientOrderID, init.Quantity)
	case init.OrderType.HasPrice() && init.Price == nil:
		return fmt.Errorf("%w: %s %s requires a price", ErrInvalidOrder, init.ClientOrderID, init.OrderType)
	case init.OrderType.HasTrigger() && init.TriggerPrice == nil:
		return fmt.Errorf("%w: %s %s requires a trigger price", ErrInvalidOrder, init.ClientOrderID, init.OrderType)
	case init.TimeInForce == domain.GTD && init.ExpireTime == 0:
		return fmt.Errorf("%w: %s GTD requires an expire time", ErrInvalidOrder, init.ClientOrderID)
	}
	switch init.OrderType {
	case domain.Market, domain.Limit, domain.StopMarket, domain.StopLimit:
		return nil
	}
	return fmt.Errorf("%w: %s type %q", ErrInvalidOrder, init.ClientOrderID, init.OrderType)
}

// Apply transitions the order by one event. On error the order is unchanged.
func (o *Order) Apply(ev event.OrderEvent) error {
	base := ev.Order()
	if base.ClientOrderID != o.ClientOrderID {
		return fmt.Errorf("event for %s applied to %s: %w", base.ClientOrderID, o.ClientOrderID, domain.ErrIdentityConflict)
	}
	if o.Status.IsTerminal() {
		return o.invalid(ev)
	}

	switch e := ev.(type) {
	case *event.OrderInitialized:
		return o.invalid(ev)
	case *event.OrderDenied:
		if !o.in(domain.StatusInitialized) {
			return o.invalid(ev)
		}
		o.setStatus(domain.StatusDenied)
	case *event.OrderSubmitted:
		if !o.in(domain.StatusInitialized) {
			return o.invalid(ev)
		}
		if e.AccountID != "" {
			o.AccountID = e.AccountID
		}
		o.setStatus(domain.StatusSubmitted)
	case *event.OrderAccepted:
		if !o.in(domain.StatusInitialized, domain.StatusSubmitted, domain.StatusPendingUpdate,
			domain.StatusPendingCancel, domain.StatusPartiallyFilled) {
			return o.invalid(ev)
		}
		if e.VenueOrderID == "" {
			return fmt.Errorf("%w: %s accepted without venue order id", ErrInvalidOrder, o.ClientOrderID)
		}
		o.VenueOrderID = e.VenueOrderID
		if e.AccountID != "" {
			o.AccountID = e.AccountID
		}
		// A re-acceptance keeps the fill progress visible.
		if o.FilledQty.IsPositive() {
			o.setStatus(domain.StatusPartiallyFilled)
		} else {
			o.setStatus(domain.StatusAccepted)
		}
	case *event.OrderRejected:
		if !o.in(domain.StatusInitialized, domain.StatusSubmitted, domain.StatusAccepted,
			domain.StatusPendingUpdate, domain.StatusPendingCancel, domain.StatusTriggered) {
			return o.invalid(ev)
		}
		o.setStatus(domain.StatusRejected)
	case *event.OrderCanceled:
		o.setStatus(domain.StatusCanceled)
	case *event.OrderExpired:
		if o.in(domain.StatusSubmitted) {
			return o.invalid(ev)
		}
		o.setStatus(domain.StatusExpired)
	case *event.OrderTriggered:
		if !o.Type.HasTrigger() || !o.in(domain.StatusInitialized, domain.StatusSubmitted,
			domain.StatusAccepted, domain.StatusPendingUpdate) {
			return o.invalid(ev)
		}
		o.setStatus(domain.StatusTriggered)
	case *event.OrderPendingUpdate:
		if !o.in(domain.StatusSubmitted, domain.StatusAccepted, domain.StatusPendingUpdate,
			domain.StatusTriggered, domain.StatusPartiallyFilled) {
			return o.invalid(ev)
		}
		o.setPending(domain.StatusPendingUpdate, e.TsEvent)
	case *event.OrderPendingCancel:
		if o.in(domain.StatusInitialized) {
			return o.invalid(ev)
		}
		o.setPending(domain.StatusPendingCancel, e.TsEvent)
	case *event.OrderModifyRejected:
		o.revert(e.Reason)
	case *event.OrderCancelRejected:
		o.revert(e.Reason)
	case *event.OrderUpdated:
		if err := o.update(e); err != nil {
			return err
		}
	case *event.OrderFilled:
		if err := o.fill(e); err != nil {
			return err
		}
	default:
		return o.invalid(ev)
	}

	o.TsLast = ev.GetTs()
	o.events = append(o.events, ev)
	return nil
}

func (o *Order) in(states ...domain.OrderStatus) bool {
	return slices.Contains(states, o.Status)
}

func (o *Order) invalid(ev event.OrderEvent) error {
	return &domain.TransitionError{
		Entity: "order " + o.ClientOrderID.String(),
		From:   string(o.Status),
		Event:  ev.GetType().String(),
	}
}

func (o *Order) setStatus(s domain.OrderStatus) {
	if !o.Status.IsPending() || !s.IsPending() {
		o.PreviousStatus = o.Status
	}
	o.Status = s
	if !s.IsPending() {
		o.TsPending = 0
	}
}

func (o *Order) setPending(s domain.OrderStatus, ts quant.UnixNanos) {
	o.setStatus(s)
	o.TsPending = ts
}

// revert restores the stable status after a rejected modify or cancel. A reject that arrives
// when nothing is pending (e.g. after a timeout already reverted) changes nothing.
func (o *Order) revert(reason string) {
	if !o.Status.IsPending() {
		slog.Debug("ORDER_REJECT_NOT_PENDING",
			slog.String("client_order_id", o.ClientOrderID.String()),
			slog.String("status", string(o.Status)),
			slog.String("reason", reason))
		return
	}
	stable := o.PreviousStatus
	o.PreviousStatus = o.Status
	o.Status = stable
	o.TsPending = 0
}

func (o *Order) update(e *event.OrderUpdated) error {
	if e.Quantity.IsPositive() && e.Quantity.Cmp(o.FilledQty) < 0 {
		return fmt.Errorf("%w: %s quantity %s below filled %s", ErrInvalidOrder, o.ClientOrderID, e.Quantity, o.FilledQty)
	}
	if e.Quantity.IsPositive() {
		o.Quantity = e.Quantity
	}
	if e.Price != nil {
		o.Price = clonePrice(e.Price)
	}
	if e.TriggerPrice != nil {
		o.TriggerPrice = clonePrice(e.TriggerPrice)
	}
	if e.VenueOrderID != "" {
		o.VenueOrderID = e.VenueOrderID
	}
	if o.Status.IsPending() {
		o.revert("")
	}
	if o.FilledQty.IsPositive() && o.FilledQty.Equal(o.Quantity) {
		o.setStatus(domain.StatusFilled)
	}
	return nil
}

// CheckFill reports whether Apply would accept e, without changing the order.
func (o *Order) CheckFill(e *event.OrderFilled) error {
	if e.ClientOrderID != o.ClientOrderID {
		return fmt.Errorf("fill for %s applied to %s: %w", e.ClientOrderID, o.ClientOrderID, domain.ErrIdentityConflict)
	}
	if o.Status.IsTerminal() || o.in(domain.StatusInitialized) {
		return o.invalid(e)
	}
	if !e.LastQty.IsPositive() {
		return fmt.Errorf("%w: %s trade %s has quantity %s", ErrInvalidFill, o.ClientOrderID, e.TradeID, e.LastQty)
	}
	if e.OrderSide != "" && e.OrderSide != o.Side {
		return fmt.Errorf("%w: %s fill side %s for %s order", ErrInvalidFill, o.ClientOrderID, e.OrderSide, o.Side)
	}
	if slices.Contains(o.tradeIDs, e.TradeID) {
		return fmt.Errorf("%s trade %s: %w", o.ClientOrderID, e.TradeID, domain.ErrDuplicateTrade)
	}
	if o.FilledQty.Add(e.LastQty).Cmp(o.Quantity) > 0 {
		return &domain.OverFillError{ClientOrderID: o.ClientOrderID, Quantity: o.Quantity, Filled: o.FilledQty, LastQty: e.LastQty}
	}
	return nil
}

func (o *Order) fill(e *event.OrderFilled) error {
	if err := o.CheckFill(e); err != nil {
		return err
	}
	total := o.FilledQty.Add(e.LastQty)

	// Weighted before FilledQty moves.
	filled := o.FilledQty.Decimal()
	last := e.LastQty.Decimal()
	o.AvgPx = o.AvgPx.Mul(filled).Add(e.LastPx.Decimal().Mul(last)).Div(filled.Add(last))
	o.FilledQty = total

	if o.VenueOrderID == "" && e.VenueOrderID != "" {
		o.VenueOrderID = e.VenueOrderID
	}
	if e.PositionID != "" {
		o.PositionID = e.PositionID
	}
	if !e.Commission.Amount.IsZero() {
		code := e.Commission.Currency.Code
		if prev, ok := o.commissions[code]; ok {
			o.commissions[code] = prev.Add(e.Commission)
		} else {
			o.commissions[code] = e.Commission
		}
	}
	o.tradeIDs = append(o.tradeIDs, e.TradeID)

	if o.FilledQty.Equal(o.Quantity) {
		o.setStatus(domain.StatusFilled)
	} else {
		o.setStatus(domain.StatusPartiallyFilled)
	}
	return nil
}

// LeavesQty is Quantity - FilledQty.
func (o *Order) LeavesQty() quant.Quantity {
	return o.Quantity.Sub(o.FilledQty)
}

// IsOpen reports whether the order is working at the venue.
func (o *Order) IsOpen() bool {
	switch o.Status {
	case domain.StatusAccepted, domain.StatusTriggered, domain.StatusPendingUpdate,
		domain.StatusPendingCancel, domain.StatusPartiallyFilled:
		return true
	}
	return false
}

// IsInflight reports whether the order awaits a venue response.
func (o *Order) IsInflight() bool {
	switch o.Status {
	case domain.StatusSubmitted, domain.StatusPendingUpdate, domain.StatusPendingCancel:
		return true
	}
	return false
}

func (o *Order) IsClosed() bool { return o.Status.IsTerminal() }

func (o *Order) IsPassive() bool { return o.Type != domain.Market }

func (o *Order) IsBuy() bool { return o.Side == domain.Buy }

// Events returns a copy of the applied events, oldest first.
func (o *Order) Events() []event.OrderEvent {
	return slices.Clone(o.events)
}

func (o *Order) EventCount() int { return len(o.events) }

func (o *Order) LastEvent() event.OrderEvent { return o.events[len(o.events)-1] }

// Init returns the initialization event.
func (o *Order) Init() *event.OrderInitialized {
	return o.events[0].(*event.OrderInitialized)
}

func (o *Order) TradeIDs() []domain.TradeID { return slices.Clone(o.tradeIDs) }

// Commissions returns the accumulated commissions sorted by currency code.
func (o *Order) Commissions() []domain.Money {
	out := make([]domain.Money, 0, len(o.commissions))
	for _, code := range sortedKeys(o.commissions) {
		out = append(out, o.commissions[code])
	}
	return out
}

// Clone returns an independent copy.
func (o *Order) Clone() *Order {
	c := *o
	c.Price = clonePrice(o.Price)
	c.TriggerPrice = clonePrice(o.TriggerPrice)
	c.commissions = make(map[string]domain.Money, len(o.commissions))
	for k, v := range o.commissions {
		c.commissions[k] = v
	}
	c.tradeIDs = slices.Clone(o.tradeIDs)
	c.events = slices.Clone(o.events)
	return &c
}

func clonePrice(p *quant.Price) *quant.Price {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
