package orderbook

import (
	"fmt"

	"tradecore/internal/domain"
	"tradecore/pkg/quant"
)

// Snapshot is a serializable image of a book. Orders are listed best level first, FIFO within a level.
type Snapshot struct {
	InstrumentID  domain.InstrumentID `json:"instrument_id"`
	BookType      domain.BookType     `json:"book_type"`
	Sequence      uint64              `json:"sequence"`
	TsLast        quant.UnixNanos     `json:"ts_last"`
	UpdateCount   uint64              `json:"update_count"`
	MissedDeletes uint64              `json:"missed_deletes"`
	Suspect       bool                `json:"suspect,omitempty"`
	SuspectReason string              `json:"suspect_reason,omitempty"`
	Bids          []domain.BookOrder  `json:"bids"`
	Asks          []domain.BookOrder  `json:"asks"`
}

func (c *core) Snapshot() Snapshot {
	return Snapshot{
		InstrumentID:  c.id,
		BookType:      c.bookType,
		Sequence:      c.sequence,
		TsLast:        c.tsLast,
		UpdateCount:   c.updateCount,
		MissedDeletes: c.missedDeletes,
		Suspect:       c.suspect,
		SuspectReason: c.suspectReason,
		Bids:          c.bids.orders(),
		Asks:          c.asks.orders(),
	}
}

// Restore replaces the book contents with s and verifies the ladder structure.
// A crossed image is restored as is and flagged suspect, the same state live processing left it in.
func (c *core) Restore(s Snapshot) error {
	if s.InstrumentID != c.id || s.BookType != c.bookType {
		return fmt.Errorf("%w: restore %s %s into %s %s", domain.ErrInvalidBookOperation,
			s.BookType, s.InstrumentID, c.bookType, c.id)
	}
	c.Reset()
	for _, o := range s.Bids {
		c.bids.add(o)
	}
	for _, o := range s.Asks {
		c.asks.add(o)
	}
	c.sequence = s.Sequence
	c.tsLast = s.TsLast
	c.updateCount = s.UpdateCount
	c.missedDeletes = s.MissedDeletes
	for _, l := range []*ladder{c.bids, c.asks} {
		if err := c.checkLadder(l); err != nil {
			c.Reset()
			return fmt.Errorf("failed to restore book: %w", err)
		}
	}
	switch {
	case s.Suspect:
		c.MarkSuspect(s.SuspectReason)
	case c.IsCrossed():
		c.MarkSuspect("crossed book")
	}
	return nil
}

func (l *ladder) orders() []domain.BookOrder {
	out := make([]domain.BookOrder, 0, len(l.cache))
	l.walk(func(lvl *Level) bool {
		out = append(out, lvl.orders...)
		return true
	})
	return out
}
