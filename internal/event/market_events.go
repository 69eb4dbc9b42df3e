package event

import "tradecore/internal/domain"

// BookDeltas carries a batch of incremental book updates for one instrument.
type BookDeltas struct {
	BaseEvent
	Deltas domain.OrderBookDeltas `json:"deltas"`
}

func (e *BookDeltas) GetType() Type { return EvBookDeltas }

// BookDepth carries a depth-10 snapshot.
type BookDepth struct {
	BaseEvent
	Depth domain.OrderBookDepth10 `json:"depth"`
}

func (e *BookDepth) GetType() Type { return EvBookDepth }

type Quote struct {
	BaseEvent
	Tick domain.QuoteTick `json:"tick"`
}

func (e *Quote) GetType() Type { return EvQuote }

type Trade struct {
	BaseEvent
	Tick domain.TradeTick `json:"tick"`
}

func (e *Trade) GetType() Type { return EvTrade }
