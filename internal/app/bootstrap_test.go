package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/domain"
	"tradecore/internal/event"
	"tradecore/internal/infra"
	"tradecore/pkg/quant"
)

const testConfig = `
app:
  name: tradecore-test
engine:
  oms_type: NETTING
  snapshot_interval_sec: 0
instruments:
  - id: AUD/USD.SIM
    price_precision: 5
    size_precision: 0
accounts:
  - id: SIM-001
    base_currency: USD
    balances:
      USD: "1000"
storage:
  sqlite_path: data/events.db
  snapshot_dir: data/snapshots
logging:
  level: warn
`

func loadConfig(t *testing.T) *infra.Config {
	t.Helper()
	cfg, err := infra.ParseConfig([]byte(testConfig))
	require.NoError(t, err)
	return cfg
}

func askDelta(ts quant.UnixNanos) *event.BookDeltas {
	id := domain.MustInstrumentID("AUD/USD.SIM")
	batch, err := domain.NewOrderBookDeltas(id, []domain.OrderBookDelta{{
		InstrumentID: id,
		Action:       domain.ActionAdd,
		Order:        domain.BookOrder{Side: domain.Sell, Price: quant.MustPrice("1.00000"), Size: quant.MustQty("10")},
		Flags:        domain.FlagLast,
		Sequence:     1,
		TsEvent:      ts,
	}})
	if err != nil {
		panic(err)
	}
	return &event.BookDeltas{BaseEvent: event.BaseEvent{TsEvent: ts}, Deltas: batch}
}

func TestBootstrap_InitializeAndRecover(t *testing.T) {
	workDir := t.TempDir()

	b := NewBootstrap()
	require.NoError(t, b.InitializeWith(loadConfig(t), workDir))
	require.NotNil(t, b.Paper)
	require.NotNil(t, b.Venue)
	assert.Equal(t, infra.StateClosed, b.Venue.State())
	require.NoError(t, b.Recover(context.Background()))
	assert.Equal(t, uint64(1), b.Sequencer.NextSeq())

	b.Sequencer.Handle(askDelta(1_000))
	require.Equal(t, uint64(2), b.Sequencer.NextSeq())
	require.NoError(t, b.Close())

	again := NewBootstrap()
	require.NoError(t, again.InitializeWith(loadConfig(t), workDir))
	defer again.Close()
	require.NoError(t, again.Recover(context.Background()))

	assert.Equal(t, uint64(2), again.Sequencer.NextSeq())
	snap, ok := again.Sequencer.BookSnapshot(domain.MustInstrumentID("AUD/USD.SIM"))
	require.True(t, ok)
	require.Len(t, snap.Asks, 1)
	assert.Equal(t, "10", snap.Asks[0].Size.String())

	acct, ok := again.Sequencer.Cache().Account("SIM-001")
	require.True(t, ok)
	bal, _ := acct.Balance(domain.USD)
	assert.Equal(t, "1000", bal.Total.String())
}

func TestBootstrap_WorkspaceLock(t *testing.T) {
	workDir := t.TempDir()

	first := NewBootstrap()
	require.NoError(t, first.InitializeWith(loadConfig(t), workDir))
	defer first.Close()

	second := NewBootstrap()
	err := second.InitializeWith(loadConfig(t), workDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another engine owns")
}

func TestBootstrap_CloseIsIdempotent(t *testing.T) {
	b := NewBootstrap()
	require.NoError(t, b.InitializeWith(loadConfig(t), t.TempDir()))
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
}
