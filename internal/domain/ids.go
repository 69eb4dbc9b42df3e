package domain

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidIdentifier = errors.New("invalid identifier")

// InstrumentID identifies a tradable instrument as Symbol.Venue, e.g. AUD/USD.SIM.
type InstrumentID struct {
	Symbol string
	Venue  string
}

// ParseInstrumentID splits on the last dot so symbols may contain dots.
func ParseInstrumentID(s string) (InstrumentID, error) {
	i := strings.LastIndexByte(s, '.')
	if i <= 0 || i == len(s)-1 {
		return InstrumentID{}, fmt.Errorf("instrument id %q: %w", s, ErrInvalidIdentifier)
	}
	return InstrumentID{Symbol: s[:i], Venue: s[i+1:]}, nil
}

// MustInstrumentID panics on a malformed id. Intended for literals.
func MustInstrumentID(s string) InstrumentID {
	id, err := ParseInstrumentID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id InstrumentID) String() string {
	return id.Symbol + "." + id.Venue
}

func (id InstrumentID) IsZero() bool {
	return id.Symbol == "" && id.Venue == ""
}

func (id InstrumentID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *InstrumentID) UnmarshalText(b []byte) error {
	v, err := ParseInstrumentID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// Trader-assigned order id, unique for the order's lifetime.
type ClientOrderID string

// Venue-assigned order id, bound after acceptance.
type VenueOrderID string

type PositionID string

type StrategyID string

type TraderID string

type AccountID string

type TradeID string

func (id ClientOrderID) String() string { return string(id) }
func (id VenueOrderID) String() string  { return string(id) }
func (id PositionID) String() string    { return string(id) }
func (id StrategyID) String() string    { return string(id) }
func (id TraderID) String() string      { return string(id) }
func (id AccountID) String() string     { return string(id) }
func (id TradeID) String() string       { return string(id) }
