package execution

import (
	"encoding/json"
	"fmt"

	"tradecore/internal/domain"
	"tradecore/internal/event"
	"tradecore/pkg/quant"
)

// OrderRecord is the persisted form of an Order. Events carry the full history;
// the other fields are a queryable summary.
type OrderRecord struct {
	ClientOrderID  domain.ClientOrderID `json:"client_order_id"`
	VenueOrderID   domain.VenueOrderID  `json:"venue_order_id,omitempty"`
	PositionID     domain.PositionID    `json:"position_id,omitempty"`
	StrategyID     domain.StrategyID    `json:"strategy_id"`
	InstrumentID   domain.InstrumentID  `json:"instrument_id"`
	Side           domain.OrderSide     `json:"side"`
	Type           domain.OrderType     `json:"type"`
	Quantity       quant.Quantity       `json:"quantity"`
	FilledQty      quant.Quantity       `json:"filled_qty"`
	AvgPx          string               `json:"avg_px"`
	Status         domain.OrderStatus   `json:"status"`
	PreviousStatus domain.OrderStatus   `json:"previous_status"`
	TsInit         quant.UnixNanos      `json:"ts_init"`
	TsLast         quant.UnixNanos      `json:"ts_last"`
	Events         []json.RawMessage    `json:"events"`
}

// Record serializes the order.
func (o *Order) Record() (OrderRecord, error) {
	events := make([]json.RawMessage, 0, len(o.events))
	for _, ev := range o.events {
		b, err := event.Marshal(ev)
		if err != nil {
			return OrderRecord{}, fmt.Errorf("failed to record order %s: %w", o.ClientOrderID, err)
		}
		events = append(events, b)
	}
	return OrderRecord{
		ClientOrderID:  o.ClientOrderID,
		VenueOrderID:   o.VenueOrderID,
		PositionID:     o.PositionID,
		StrategyID:     o.StrategyID,
		InstrumentID:   o.InstrumentID,
		Side:           o.Side,
		Type:           o.Type,
		Quantity:       o.Quantity,
		FilledQty:      o.FilledQty,
		AvgPx:          o.AvgPx.String(),
		Status:         o.Status,
		PreviousStatus: o.PreviousStatus,
		TsInit:         o.TsInit,
		TsLast:         o.TsLast,
		Events:         events,
	}, nil
}

// OrderFromRecord rebuilds an order by replaying its events and checks the result against the summary.
func OrderFromRecord(r OrderRecord) (*Order, error) {
	events, err := decodeOrderEvents(r.Events)
	if err != nil {
		return nil, fmt.Errorf("failed to restore order %s: %w", r.ClientOrderID, err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("failed to restore order %s: %w: no events", r.ClientOrderID, ErrInvalidOrder)
	}
	init, ok := events[0].(*event.OrderInitialized)
	if !ok {
		return nil, fmt.Errorf("failed to restore order %s: %w: first event is %s",
			r.ClientOrderID, ErrInvalidOrder, events[0].GetType())
	}
	o, err := NewOrder(init)
	if err != nil {
		return nil, err
	}
	for _, ev := range events[1:] {
		if err := o.Apply(ev); err != nil {
			return nil, fmt.Errorf("failed to replay order %s: %w", r.ClientOrderID, err)
		}
	}
	if o.Status != r.Status || !o.FilledQty.Equal(r.FilledQty) {
		return nil, &domain.IntegrityError{
			Component: "order " + r.ClientOrderID.String(),
			Detail:    fmt.Sprintf("replayed %s/%s, recorded %s/%s", o.Status, o.FilledQty, r.Status, r.FilledQty),
		}
	}
	return o, nil
}

func decodeOrderEvents(raw []json.RawMessage) ([]event.OrderEvent, error) {
	out := make([]event.OrderEvent, 0, len(raw))
	for _, b := range raw {
		ev, err := event.Unmarshal(b)
		if err != nil {
			return nil, err
		}
		oe, ok := ev.(event.OrderEvent)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not an order event", ErrInvalidOrder, ev.GetType())
		}
		out = append(out, oe)
	}
	return out, nil
}

// PositionRecord is the persisted form of a Position.
type PositionRecord struct {
	ID             domain.PositionID   `json:"id"`
	Instrument     domain.Instrument   `json:"instrument"`
	StrategyID     domain.StrategyID   `json:"strategy_id"`
	Side           domain.PositionSide `json:"side"`
	Quantity       quant.Quantity      `json:"quantity"`
	PeakQty        quant.Quantity      `json:"peak_qty"`
	AvgPxOpen      string              `json:"avg_px_open"`
	AvgPxClose     string              `json:"avg_px_close"`
	RealizedPnL    string              `json:"realized_pnl"`
	RealizedReturn string              `json:"realized_return"`
	TsOpened       quant.UnixNanos     `json:"ts_opened"`
	TsClosed       quant.UnixNanos     `json:"ts_closed,omitempty"`
	Fills          []json.RawMessage   `json:"fills"`
}

func (p *Position) Record() (PositionRecord, error) {
	fills := make([]json.RawMessage, 0, len(p.fills))
	for _, f := range p.fills {
		b, err := event.Marshal(f)
		if err != nil {
			return PositionRecord{}, fmt.Errorf("failed to record position %s: %w", p.ID, err)
		}
		fills = append(fills, b)
	}
	return PositionRecord{
		ID:             p.ID,
		Instrument:     p.Instrument,
		StrategyID:     p.StrategyID,
		Side:           p.Side,
		Quantity:       p.Quantity,
		PeakQty:        p.PeakQty,
		AvgPxOpen:      p.AvgPxOpen.String(),
		AvgPxClose:     p.AvgPxClose.String(),
		RealizedPnL:    p.RealizedPnL().String(),
		RealizedReturn: p.RealizedReturn.String(),
		TsOpened:       p.TsOpened,
		TsClosed:       p.TsClosed,
		Fills:          fills,
	}, nil
}

// PositionFromRecord rebuilds a position by replaying its fills.
func PositionFromRecord(r PositionRecord) (*Position, error) {
	events, err := decodeOrderEvents(r.Fills)
	if err != nil {
		return nil, fmt.Errorf("failed to restore position %s: %w", r.ID, err)
	}
	var p *Position
	for i, ev := range events {
		fill, ok := ev.(*event.OrderFilled)
		if !ok {
			return nil, fmt.Errorf("failed to restore position %s: %w: %s in fill log", r.ID, ErrInvalidFill, ev.GetType())
		}
		if i == 0 {
			if p, err = NewPosition(r.Instrument, fill); err != nil {
				return nil, err
			}
			continue
		}
		if err := p.Apply(fill); err != nil {
			return nil, fmt.Errorf("failed to replay position %s: %w", r.ID, err)
		}
	}
	if p == nil {
		return nil, fmt.Errorf("failed to restore position %s: %w: no fills", r.ID, ErrInvalidFill)
	}
	if p.Side != r.Side || !p.Quantity.Equal(r.Quantity) {
		return nil, &domain.IntegrityError{
			Component: "position " + r.ID.String(),
			Detail:    fmt.Sprintf("replayed %s %s, recorded %s %s", p.Side, p.Quantity, r.Side, r.Quantity),
		}
	}
	return p, nil
}
