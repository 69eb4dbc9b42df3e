package execution

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/domain"
	"tradecore/internal/event"
	"tradecore/pkg/quant"
)

// Position aggregates the fills of one position id into net exposure and PnL.
// A position that returns to flat is closed and accepts no further fills.
type Position struct {
	ID             domain.PositionID
	Instrument     domain.Instrument
	TraderID       domain.TraderID
	StrategyID     domain.StrategyID
	AccountID      domain.AccountID
	OpeningOrderID domain.ClientOrderID
	ClosingOrderID domain.ClientOrderID

	Side      domain.PositionSide
	SignedQty int64 // raw, scaled by quant.FixedScalar
	Quantity  quant.Quantity
	PeakQty   quant.Quantity
	BuyQty    quant.Quantity
	SellQty   quant.Quantity

	AvgPxOpen      decimal.Decimal
	AvgPxClose     decimal.Decimal
	RealizedReturn decimal.Decimal
	// Realized PnL in the quote currency, gross of commissions.
	realizedGross decimal.Decimal
	closedQty     int64

	TsInit     quant.UnixNanos
	TsOpened   quant.UnixNanos
	TsLast     quant.UnixNanos
	TsClosed   quant.UnixNanos
	DurationNs time.Duration

	commissions map[string]domain.Money
	tradeIDs    []domain.TradeID
	fills       []*event.OrderFilled
}

// NewPosition opens a position from its first fill.
func NewPosition(instrument domain.Instrument, fill *event.OrderFilled) (*Position, error) {
	if fill.PositionID == "" {
		return nil, fmt.Errorf("%w: fill %s has no position id", ErrInvalidFill, fill.TradeID)
	}
	p := &Position{
		ID:             fill.PositionID,
		Instrument:     instrument,
		TraderID:       fill.TraderID,
		StrategyID:     fill.StrategyID,
		AccountID:      fill.AccountID,
		OpeningOrderID: fill.ClientOrderID,
		Side:           domain.Flat,
		AvgPxOpen:      fill.LastPx.Decimal(),
		AvgPxClose:     decimal.Zero,
		RealizedReturn: decimal.Zero,
		realizedGross:  decimal.Zero,
		TsInit:         fill.TsEvent,
		TsOpened:       fill.TsEvent,
		commissions:    make(map[string]domain.Money),
	}
	if err := p.Apply(fill); err != nil {
		return nil, err
	}
	return p, nil
}

// Apply adds one fill. On error the position is unchanged.
func (p *Position) Apply(fill *event.OrderFilled) error {
	if p.IsClosed() {
		return fmt.Errorf("position %s: %w", p.ID, domain.ErrPositionClosed)
	}
	if fill.InstrumentID != p.Instrument.ID {
		return fmt.Errorf("%w: fill for %s applied to position %s on %s", ErrInvalidFill, fill.InstrumentID, p.ID, p.Instrument.ID)
	}
	if !fill.LastQty.IsPositive() || !fill.OrderSide.Valid() {
		return fmt.Errorf("%w: trade %s qty=%s side=%q", ErrInvalidFill, fill.TradeID, fill.LastQty, fill.OrderSide)
	}
	if slices.Contains(p.tradeIDs, fill.TradeID) {
		return fmt.Errorf("position %s trade %s: %w", p.ID, fill.TradeID, domain.ErrDuplicateTrade)
	}

	last := fill.LastQty.Raw
	px := fill.LastPx.Decimal()
	delta := last * fill.OrderSide.Sign()
	cur := p.SignedQty

	switch {
	case cur == 0:
		p.AvgPxOpen = px
	case (cur > 0) == (delta > 0):
		p.AvgPxOpen = weighted(p.AvgPxOpen, abs(cur), px, last)
	default:
		reduced := min(last, abs(cur))
		points := px.Sub(p.AvgPxOpen)
		if cur < 0 {
			points = points.Neg()
		}
		p.realizedGross = p.realizedGross.Add(points.Mul(rawDecimal(reduced)).Mul(p.Instrument.EffectiveMultiplier()))
		p.AvgPxClose = weighted(p.AvgPxClose, p.closedQty, px, reduced)
		p.closedQty += reduced
		if !p.AvgPxOpen.IsZero() {
			ret := p.AvgPxClose.Sub(p.AvgPxOpen).Div(p.AvgPxOpen)
			if cur < 0 {
				ret = ret.Neg()
			}
			p.RealizedReturn = ret
		}
		if last > reduced {
			// Flip: the excess opens the opposite side at the fill price.
			p.AvgPxOpen = px
			p.OpeningOrderID = fill.ClientOrderID
			p.TsOpened = fill.TsEvent
		}
	}

	p.SignedQty = cur + delta
	p.Quantity = quant.Quantity{Raw: abs(p.SignedQty), Precision: p.Instrument.SizePrecision}
	if p.Quantity.Cmp(p.PeakQty) > 0 {
		p.PeakQty = p.Quantity
	}
	if fill.OrderSide == domain.Buy {
		p.BuyQty = p.BuyQty.Add(fill.LastQty)
	} else {
		p.SellQty = p.SellQty.Add(fill.LastQty)
	}
	if !fill.Commission.Amount.IsZero() {
		code := fill.Commission.Currency.Code
		if prev, ok := p.commissions[code]; ok {
			p.commissions[code] = prev.Add(fill.Commission)
		} else {
			p.commissions[code] = fill.Commission
		}
	}

	switch {
	case p.SignedQty > 0:
		p.Side = domain.Long
	case p.SignedQty < 0:
		p.Side = domain.Short
	default:
		p.Side = domain.Flat
		p.ClosingOrderID = fill.ClientOrderID
		p.TsClosed = fill.TsEvent
		p.DurationNs = fill.TsEvent.Sub(p.TsOpened)
	}
	p.TsLast = fill.TsEvent
	p.tradeIDs = append(p.tradeIDs, fill.TradeID)
	p.fills = append(p.fills, fill)
	return nil
}

func weighted(avg decimal.Decimal, qty int64, px decimal.Decimal, add int64) decimal.Decimal {
	q := rawDecimal(qty)
	a := rawDecimal(add)
	return avg.Mul(q).Add(px.Mul(a)).Div(q.Add(a))
}

func rawDecimal(raw int64) decimal.Decimal {
	return decimal.New(raw, -quant.FixedPrecision)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func (p *Position) IsOpen() bool   { return p.Side != domain.Flat }
func (p *Position) IsClosed() bool { return p.Side == domain.Flat && len(p.fills) > 0 }
func (p *Position) IsLong() bool   { return p.Side == domain.Long }
func (p *Position) IsShort() bool  { return p.Side == domain.Short }

// RealizedPnL is gross realized PnL less commissions charged in the quote currency.
func (p *Position) RealizedPnL() domain.Money {
	pnl := p.realizedGross
	if c, ok := p.commissions[p.Instrument.QuoteCurrency.Code]; ok {
		pnl = pnl.Sub(c.Amount)
	}
	return domain.NewMoney(pnl, p.Instrument.QuoteCurrency)
}

// RealizedGross is realized PnL before commissions, unrounded.
func (p *Position) RealizedGross() decimal.Decimal { return p.realizedGross }

// UnrealizedPnL values the open quantity at mark.
func (p *Position) UnrealizedPnL(mark quant.Price) domain.Money {
	if p.SignedQty == 0 {
		return domain.ZeroMoney(p.Instrument.QuoteCurrency)
	}
	points := mark.Decimal().Sub(p.AvgPxOpen)
	if p.SignedQty < 0 {
		points = points.Neg()
	}
	pnl := points.Mul(p.Quantity.Decimal()).Mul(p.Instrument.EffectiveMultiplier())
	return domain.NewMoney(pnl, p.Instrument.QuoteCurrency)
}

func (p *Position) TotalPnL(mark quant.Price) domain.Money {
	return p.RealizedPnL().Add(p.UnrealizedPnL(mark))
}

// NotionalValue is the open quantity valued at price.
func (p *Position) NotionalValue(price quant.Price) domain.Money {
	return p.Instrument.NotionalValue(p.Quantity, price)
}

// SignedQtyFromFills recomputes the signed quantity from the fill log.
func (p *Position) SignedQtyFromFills() int64 {
	var sum int64
	for _, f := range p.fills {
		sum += f.LastQty.Raw * f.OrderSide.Sign()
	}
	return sum
}

// CheckIntegrity verifies the tracked quantity against the fill log.
func (p *Position) CheckIntegrity() error {
	if got := p.SignedQtyFromFills(); got != p.SignedQty {
		return &domain.IntegrityError{
			Component: "position " + p.ID.String(),
			Detail:    fmt.Sprintf("signed qty %d != sum of fills %d", p.SignedQty, got),
		}
	}
	if p.Quantity.Raw != abs(p.SignedQty) {
		return &domain.IntegrityError{Component: "position " + p.ID.String(), Detail: "quantity does not match signed qty"}
	}
	return nil
}

func (p *Position) Commissions() []domain.Money {
	out := make([]domain.Money, 0, len(p.commissions))
	for _, code := range sortedKeys(p.commissions) {
		out = append(out, p.commissions[code])
	}
	return out
}

// Fills returns the fill log, oldest first.
func (p *Position) Fills() []*event.OrderFilled { return slices.Clone(p.fills) }

func (p *Position) TradeIDs() []domain.TradeID { return slices.Clone(p.tradeIDs) }

// ClientOrderIDs returns the distinct orders that filled into this position, in first-fill order.
func (p *Position) ClientOrderIDs() []domain.ClientOrderID {
	var out []domain.ClientOrderID
	for _, f := range p.fills {
		if !slices.Contains(out, f.ClientOrderID) {
			out = append(out, f.ClientOrderID)
		}
	}
	return out
}

func (p *Position) Clone() *Position {
	c := *p
	c.commissions = make(map[string]domain.Money, len(p.commissions))
	for k, v := range p.commissions {
		c.commissions[k] = v
	}
	c.tradeIDs = slices.Clone(p.tradeIDs)
	c.fills = slices.Clone(p.fills)
	return &c
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
