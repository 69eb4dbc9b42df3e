package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usd(s string) Money {
	return NewMoney(decimal.RequireFromString(s), USD)
}

func TestAccount_CreditDebit(t *testing.T) {
	a := NewAccount("SIM-001", USD)

	a.Credit(usd("100"), 1)
	b, ok := a.Balance(USD)
	require.True(t, ok)
	assert.True(t, b.Total.Equal(decimal.NewFromInt(100)))

	require.NoError(t, a.Debit(usd("30"), 2))
	b, _ = a.Balance(USD)
	assert.True(t, b.Total.Equal(decimal.NewFromInt(70)))
	assert.EqualValues(t, 2, a.TsLast)

	err := a.Debit(usd("71"), 3)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	b, _ = a.Balance(USD)
	assert.True(t, b.Total.Equal(decimal.NewFromInt(70)))
}

func TestAccount_LockUnlock(t *testing.T) {
	a := NewAccount("SIM-001", USD)
	a.Credit(usd("1000"), 1)

	require.NoError(t, a.Lock(usd("400"), 2))
	b, _ := a.Balance(USD)
	assert.True(t, b.Free().Equal(decimal.NewFromInt(600)))

	a.Unlock(usd("200"), 3)
	b, _ = a.Balance(USD)
	assert.True(t, b.Locked.Equal(decimal.NewFromInt(200)))

	assert.ErrorIs(t, a.Lock(usd("900"), 4), ErrInsufficientFunds)
	assert.ErrorIs(t, a.Debit(usd("900"), 5), ErrInsufficientFunds)
}

func TestAccount_ApplyPnL(t *testing.T) {
	a := NewAccount("SIM-001", USD)
	a.Credit(usd("10"), 1)

	require.NoError(t, a.ApplyPnL(usd("1.00"), 2))
	require.NoError(t, a.ApplyPnL(usd("-0.50"), 3))
	b, _ := a.Balance(USD)
	assert.Equal(t, "10.50", b.Total.StringFixed(2))

	assert.ErrorIs(t, a.ApplyPnL(usd("-20"), 4), ErrInsufficientFunds)
}

func TestAccountBalance_InvariantPanic(t *testing.T) {
	assert.Panics(t, func() {
		AccountBalance{Currency: USD, Total: decimal.NewFromInt(-1)}.VerifyInvariant()
	})
	assert.Panics(t, func() {
		AccountBalance{Currency: USD, Total: decimal.NewFromInt(1), Locked: decimal.NewFromInt(2)}.VerifyInvariant()
	})
}

func TestAccount_Clone(t *testing.T) {
	a := NewAccount("SIM-001", USD)
	a.Credit(usd("5"), 1)
	c := a.Clone()
	c.Credit(usd("5"), 2)

	orig, _ := a.Balance(USD)
	assert.True(t, orig.Total.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, []string{"USD"}, c.Currencies())
}
