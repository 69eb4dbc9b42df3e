package domain

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"tradecore/pkg/quant"
)

// AccountBalance tracks one currency of an account.
// Invariant: 0 <= Locked <= Total.
type AccountBalance struct {
	Currency Currency        `json:"currency"`
	Total    decimal.Decimal `json:"total"`
	Locked   decimal.Decimal `json:"locked"`
}

// Free is Total - Locked.
func (b AccountBalance) Free() decimal.Decimal {
	return b.Total.Sub(b.Locked)
}

// VerifyInvariant panics when the balance is corrupted.
func (b AccountBalance) VerifyInvariant() {
	if b.Total.IsNegative() {
		panic(fmt.Sprintf("CORE_BALANCE_NEGATIVE: %s %s", b.Total, b.Currency))
	}
	if b.Locked.IsNegative() || b.Locked.GreaterThan(b.Total) {
		panic(fmt.Sprintf("CORE_BALANCE_LOCKED_INVALID: locked=%s total=%s %s", b.Locked, b.Total, b.Currency))
	}
}

// Account holds per-currency balances.
type Account struct {
	ID           AccountID                 `json:"id"`
	BaseCurrency Currency                  `json:"base_currency"`
	Balances     map[string]AccountBalance `json:"balances"`
	TsLast       quant.UnixNanos           `json:"ts_last"`
}

func NewAccount(id AccountID, base Currency) *Account {
	return &Account{ID: id, BaseCurrency: base, Balances: make(map[string]AccountBalance)}
}

// Balance returns the balance for a currency.
func (a *Account) Balance(c Currency) (AccountBalance, bool) {
	b, ok := a.Balances[c.Code]
	return b, ok
}

// Credit adds m to the total.
func (a *Account) Credit(m Money, ts quant.UnixNanos) {
	b := a.balance(m.Currency)
	b.Total = b.Total.Add(m.Amount)
	a.set(b, ts)
}

// Debit removes m from the free amount.
func (a *Account) Debit(m Money, ts quant.UnixNanos) error {
	b := a.balance(m.Currency)
	if b.Free().LessThan(m.Amount) {
		return fmt.Errorf("failed to debit %s from %s (free %s): %w", m, a.ID, b.Free(), ErrInsufficientFunds)
	}
	b.Total = b.Total.Sub(m.Amount)
	a.set(b, ts)
	return nil
}

// ApplyPnL credits a gain or debits a loss. A loss beyond the free amount is rejected
// and leaves the balance unchanged.
func (a *Account) ApplyPnL(m Money, ts quant.UnixNanos) error {
	if m.Amount.IsNegative() {
		return a.Debit(m.Neg(), ts)
	}
	a.Credit(m, ts)
	return nil
}

// Lock reserves part of the free amount.
func (a *Account) Lock(m Money, ts quant.UnixNanos) error {
	b := a.balance(m.Currency)
	if b.Free().LessThan(m.Amount) {
		return fmt.Errorf("failed to lock %s on %s: %w", m, a.ID, ErrInsufficientFunds)
	}
	b.Locked = b.Locked.Add(m.Amount)
	a.set(b, ts)
	return nil
}

// Unlock releases up to m of the locked amount.
func (a *Account) Unlock(m Money, ts quant.UnixNanos) {
	b := a.balance(m.Currency)
	b.Locked = decimal.Max(decimal.Zero, b.Locked.Sub(m.Amount))
	a.set(b, ts)
}

// Currencies returns the balance currency codes in sorted order.
func (a *Account) Currencies() []string {
	out := make([]string, 0, len(a.Balances))
	for k := range a.Balances {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	c := *a
	c.Balances = make(map[string]AccountBalance, len(a.Balances))
	for k, v := range a.Balances {
		c.Balances[k] = v
	}
	return &c
}

func (a *Account) balance(c Currency) AccountBalance {
	if a.Balances == nil {
		a.Balances = make(map[string]AccountBalance)
	}
	b, ok := a.Balances[c.Code]
	if !ok {
		b = AccountBalance{Currency: c, Total: decimal.Zero, Locked: decimal.Zero}
	}
	return b
}

func (a *Account) set(b AccountBalance, ts quant.UnixNanos) {
	b.VerifyInvariant()
	a.Balances[b.Currency.Code] = b
	a.TsLast = ts
}
