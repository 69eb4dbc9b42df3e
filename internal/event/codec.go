package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownType = errors.New("unknown event type")

// New returns a zero event of the given type.
func New(t Type) (Event, error) {
	switch t {
	case EvBookDeltas:
		return &BookDeltas{}, nil
	case EvBookDepth:
		return &BookDepth{}, nil
	case EvQuote:
		return &Quote{}, nil
	case EvTrade:
		return &Trade{}, nil
	case EvTimer:
		return &Timer{}, nil
	case EvOrderInitialized:
		return &OrderInitialized{}, nil
	case EvOrderDenied:
		return &OrderDenied{}, nil
	case EvOrderSubmitted:
		return &OrderSubmitted{}, nil
	case EvOrderAccepted:
		return &OrderAccepted{}, nil
	case EvOrderRejected:
		return &OrderRejected{}, nil
	case EvOrderCanceled:
		return &OrderCanceled{}, nil
	case EvOrderExpired:
		return &OrderExpired{}, nil
	case EvOrderTriggered:
		return &OrderTriggered{}, nil
	case EvOrderPendingUpdate:
		return &OrderPendingUpdate{}, nil
	case EvOrderPendingCancel:
		return &OrderPendingCancel{}, nil
	case EvOrderModifyRejected:
		return &OrderModifyRejected{}, nil
	case EvOrderCancelRejected:
		return &OrderCancelRejected{}, nil
	case EvOrderUpdated:
		return &OrderUpdated{}, nil
	case EvOrderFilled:
		return &OrderFilled{}, nil
	}
	return nil, fmt.Errorf("type %d: %w", t, ErrUnknownType)
}

// Decode rebuilds an event from its type tag and JSON payload.
func Decode(t Type, payload []byte) (Event, error) {
	ev, err := New(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, ev); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", t, err)
	}
	return ev, nil
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

var typesByName = func() map[string]Type {
	m := make(map[string]Type, len(typeNames))
	for t, n := range typeNames {
		m[n] = t
	}
	return m
}()

// Marshal encodes an event with its type tag.
func Marshal(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", ev.GetType(), err)
	}
	return json.Marshal(envelope{Type: ev.GetType().String(), Payload: payload})
}

// Unmarshal decodes an event produced by Marshal.
func Unmarshal(b []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	t, ok := typesByName[env.Type]
	if !ok {
		return nil, fmt.Errorf("type %q: %w", env.Type, ErrUnknownType)
	}
	return Decode(t, env.Payload)
}
