package event

import (
	"github.com/google/uuid"

	"tradecore/pkg/quant"
)

// Type defines the type of event.
type Type uint16

const (
	EvBookDeltas Type = iota + 1
	EvBookDepth
	EvQuote
	EvTrade
	EvTimer

	EvOrderInitialized
	EvOrderDenied
	EvOrderSubmitted
	EvOrderAccepted
	EvOrderRejected
	EvOrderCanceled
	EvOrderExpired
	EvOrderTriggered
	EvOrderPendingUpdate
	EvOrderPendingCancel
	EvOrderModifyRejected
	EvOrderCancelRejected
	EvOrderUpdated
	EvOrderFilled
)

var typeNames = map[Type]string{
	EvBookDeltas:          "BookDeltas",
	EvBookDepth:           "BookDepth",
	EvQuote:               "Quote",
	EvTrade:               "Trade",
	EvTimer:               "Timer",
	EvOrderInitialized:    "OrderInitialized",
	EvOrderDenied:         "OrderDenied",
	EvOrderSubmitted:      "OrderSubmitted",
	EvOrderAccepted:       "OrderAccepted",
	EvOrderRejected:       "OrderRejected",
	EvOrderCanceled:       "OrderCanceled",
	EvOrderExpired:        "OrderExpired",
	EvOrderTriggered:      "OrderTriggered",
	EvOrderPendingUpdate:  "OrderPendingUpdate",
	EvOrderPendingCancel:  "OrderPendingCancel",
	EvOrderModifyRejected: "OrderModifyRejected",
	EvOrderCancelRejected: "OrderCancelRejected",
	EvOrderUpdated:        "OrderUpdated",
	EvOrderFilled:         "OrderFilled",
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "Unknown"
}

// Event is the interface for all sequencer events.
type Event interface {
	GetSeq() uint64
	GetTs() quant.UnixNanos
	GetType() Type
	GetID() uuid.UUID
	SetSeq(seq uint64)
}

// BaseEvent contains common fields for all events.
// Seq is the engine sequence number assigned by the producer.
type BaseEvent struct {
	ID      uuid.UUID       `json:"id"`
	Seq     uint64          `json:"seq"`
	TsEvent quant.UnixNanos `json:"ts_event"`
	TsInit  quant.UnixNanos `json:"ts_init"`
}

func (e *BaseEvent) GetSeq() uint64         { return e.Seq }
func (e *BaseEvent) GetTs() quant.UnixNanos { return e.TsEvent }
func (e *BaseEvent) GetID() uuid.UUID       { return e.ID }
func (e *BaseEvent) SetSeq(seq uint64)      { e.Seq = seq }

// Timer fires periodically; the sequencer uses it to sweep pending-state timeouts.
type Timer struct {
	BaseEvent
	Name string `json:"name"`
}

func (e *Timer) GetType() Type { return EvTimer }
