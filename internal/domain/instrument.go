package domain

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tradecore/pkg/quant"
)

// Currency is an ISO or crypto currency code with its display precision.
type Currency struct {
	Code      string `json:"code" yaml:"code"`
	Precision uint8  `json:"precision" yaml:"precision"`
}

var (
	USD  = Currency{Code: "USD", Precision: 2}
	EUR  = Currency{Code: "EUR", Precision: 2}
	AUD  = Currency{Code: "AUD", Precision: 2}
	JPY  = Currency{Code: "JPY", Precision: 0}
	KRW  = Currency{Code: "KRW", Precision: 0}
	USDT = Currency{Code: "USDT", Precision: 8}
	BTC  = Currency{Code: "BTC", Precision: 8}
	ETH  = Currency{Code: "ETH", Precision: 8}
)

var currencies = map[string]Currency{
	"USD": USD, "EUR": EUR, "AUD": AUD, "JPY": JPY, "KRW": KRW, "USDT": USDT, "BTC": BTC, "ETH": ETH,
}

// CurrencyFromCode looks up a known currency; unknown codes default to precision 8.
func CurrencyFromCode(code string) Currency {
	if c, ok := currencies[code]; ok {
		return c
	}
	return Currency{Code: code, Precision: 8}
}

func (c Currency) String() string { return c.Code }

// Money is an amount in a currency, rounded to the currency precision.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency Currency        `json:"currency"`
}

func NewMoney(amount decimal.Decimal, c Currency) Money {
	return Money{Amount: amount.Round(int32(c.Precision)), Currency: c}
}

func ZeroMoney(c Currency) Money {
	return Money{Amount: decimal.Zero, Currency: c}
}

// Add panics on currency mismatch.
func (m Money) Add(o Money) Money {
	if m.Currency.Code != o.Currency.Code {
		panic(fmt.Sprintf("CORE_MONEY_CURRENCY_MISMATCH: %s != %s", m.Currency, o.Currency))
	}
	return NewMoney(m.Amount.Add(o.Amount), m.Currency)
}

func (m Money) Neg() Money {
	return Money{Amount: m.Amount.Neg(), Currency: m.Currency}
}

func (m Money) IsZero() bool { return m.Amount.IsZero() }

func (m Money) String() string {
	return m.Amount.StringFixed(int32(m.Currency.Precision)) + " " + m.Currency.Code
}

// Instrument carries the static properties needed to size and value orders.
type Instrument struct {
	ID             InstrumentID    `json:"id"`
	PricePrecision uint8           `json:"price_precision"`
	SizePrecision  uint8           `json:"size_precision"`
	Multiplier     decimal.Decimal `json:"multiplier"`
	BaseCurrency   Currency        `json:"base_currency"`
	QuoteCurrency  Currency        `json:"quote_currency"`
}

// NewCurrencyPair builds a spot instrument from a symbol such as AUD/USD.
func NewCurrencyPair(id InstrumentID, pricePrecision, sizePrecision uint8) (Instrument, error) {
	if pricePrecision > quant.MaxPrecision || sizePrecision > quant.MaxPrecision {
		return Instrument{}, fmt.Errorf("instrument %s: %w", id, quant.ErrPrecision)
	}
	base, quote, ok := splitPair(id.Symbol)
	if !ok {
		return Instrument{}, fmt.Errorf("instrument %s is not a currency pair: %w", id, ErrInvalidIdentifier)
	}
	return Instrument{
		ID:             id,
		PricePrecision: pricePrecision,
		SizePrecision:  sizePrecision,
		Multiplier:     decimal.NewFromInt(1),
		BaseCurrency:   CurrencyFromCode(base),
		QuoteCurrency:  CurrencyFromCode(quote),
	}, nil
}

func splitPair(symbol string) (string, string, bool) {
	for _, sep := range []byte{'/', '-'} {
		for i := 0; i < len(symbol); i++ {
			if symbol[i] == sep {
				if i == 0 || i == len(symbol)-1 {
					return "", "", false
				}
				return symbol[:i], symbol[i+1:], true
			}
		}
	}
	return "", "", false
}

// MakePrice rounds d to the instrument price precision.
func (i Instrument) MakePrice(d decimal.Decimal) (quant.Price, error) {
	return quant.PriceFromDecimal(d, i.PricePrecision)
}

// MakeQty rounds d to the instrument size precision.
func (i Instrument) MakeQty(d decimal.Decimal) (quant.Quantity, error) {
	return quant.QuantityFromDecimal(d, i.SizePrecision)
}

// NotionalValue is qty * price * multiplier in the quote currency.
func (i Instrument) NotionalValue(qty quant.Quantity, px quant.Price) Money {
	return NewMoney(qty.Decimal().Mul(px.Decimal()).Mul(i.multiplier()), i.QuoteCurrency)
}

func (i Instrument) multiplier() decimal.Decimal {
	if i.Multiplier.IsZero() {
		return decimal.NewFromInt(1)
	}
	return i.Multiplier
}

// EffectiveMultiplier returns the multiplier, treating an unset value as 1.
func (i Instrument) EffectiveMultiplier() decimal.Decimal {
	return i.multiplier()
}
