package domain

import (
	"errors"
	"fmt"

	"tradecore/pkg/quant"
)

var (
	ErrDataQuality            = errors.New("data quality")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrIdentityConflict       = errors.New("identity conflict")
	ErrOverFill               = errors.New("over fill")
	ErrInvalidBookOperation   = errors.New("invalid book operation")
	ErrIntegrity              = errors.New("integrity violation")

	ErrDuplicateOrder    = errors.New("duplicate client order id")
	ErrDuplicatePosition = errors.New("duplicate position id")
	ErrDuplicateTrade    = errors.New("duplicate trade id")
	ErrPositionClosed    = errors.New("position is closed")
	ErrCurrencyMismatch  = errors.New("currency mismatch")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// DataQualityError reports malformed or out-of-order input. The offending input is skipped.
type DataQualityError struct {
	InstrumentID InstrumentID
	Sequence     uint64
	TsEvent      quant.UnixNanos
	Reason       string
}

func (e *DataQualityError) Error() string {
	return fmt.Sprintf("data quality: %s seq=%d ts=%d: %s", e.InstrumentID, e.Sequence, e.TsEvent, e.Reason)
}

func (e *DataQualityError) Unwrap() error { return ErrDataQuality }

// TransitionError is an event that the current state cannot accept.
type TransitionError struct {
	Entity string
	From   string
	Event  string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s in %s cannot apply %s", e.Entity, e.From, e.Event)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidStateTransition }

// IdentityConflictError is a venue id binding that contradicts an existing one.
type IdentityConflictError struct {
	ClientOrderID ClientOrderID
	Existing      VenueOrderID
	Incoming      VenueOrderID
}

func (e *IdentityConflictError) Error() string {
	return fmt.Sprintf("identity conflict: %s already bound to %s, got %s", e.ClientOrderID, e.Existing, e.Incoming)
}

func (e *IdentityConflictError) Unwrap() error { return ErrIdentityConflict }

// OverFillError is a fill that would push filled quantity past the order quantity.
type OverFillError struct {
	ClientOrderID ClientOrderID
	Quantity      quant.Quantity
	Filled        quant.Quantity
	LastQty       quant.Quantity
}

func (e *OverFillError) Error() string {
	return fmt.Sprintf("over fill: %s quantity=%s filled=%s last=%s", e.ClientOrderID, e.Quantity, e.Filled, e.LastQty)
}

func (e *OverFillError) Unwrap() error { return ErrOverFill }

// IntegrityError is a broken internal invariant. The owning instance must be rebuilt.
type IntegrityError struct {
	Component string
	Detail    string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation in %s: %s", e.Component, e.Detail)
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrity }
