package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/domain"
)

const sampleConfig = `
app:
  name: tradecore
  version: "0.1.0"
engine:
  trader_id: TRADER-007
  inbox_size: 128
  max_sequence_gap: 5
  oms_type: HEDGING
  default_book_type: L2_MBP
  pending_timeout_ms: 2500
  taker_fee: "0.0002"
instruments:
  - id: AUD/USD.SIM
    price_precision: 5
    size_precision: 0
  - id: BTC-USDT.BINANCE
    price_precision: 2
    size_precision: 6
    book_type: L3_MBO
    multiplier: "1"
accounts:
  - id: SIM-001
    base_currency: USD
    balances:
      USD: "100000"
storage:
  sqlite_path: events.db
  snapshot_dir: snapshots
logging:
  level: debug
  format: json
metrics:
  listen_addr: "127.0.0.1:9102"
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "TRADER-007", cfg.Engine.TraderID)
	assert.Equal(t, 128, cfg.Engine.InboxSize)
	assert.Equal(t, uint64(5), cfg.Engine.MaxSequenceGap)
	assert.Equal(t, "HEDGING", cfg.Engine.OmsType)
	assert.Equal(t, "2.5s", cfg.PendingTimeout().String())
	assert.True(t, cfg.TakerFee().Equal(decimal.RequireFromString("0.0002")))
	// keys left out keep their defaults
	assert.Equal(t, 3, cfg.Engine.SnapshotKeep)
	assert.Equal(t, "1m0s", cfg.SnapshotInterval().String())

	insts, books, err := cfg.BuildInstruments()
	require.NoError(t, err)
	require.Len(t, insts, 2)
	assert.Equal(t, "USD", insts[0].QuoteCurrency.Code)
	assert.Equal(t, domain.L2MBP, books[insts[0].ID])
	assert.Equal(t, domain.L3MBO, books[insts[1].ID])
	assert.Equal(t, uint8(6), insts[1].SizePrecision)

	accts := cfg.BuildAccounts()
	require.Len(t, accts, 1)
	bal, ok := accts[0].Balance(domain.USD)
	require.True(t, ok)
	assert.Equal(t, "100000", bal.Total.String())
}

func TestParseConfig_EnvOverrides(t *testing.T) {
	t.Setenv("TRADECORE_LOG_LEVEL", "WARN")
	t.Setenv("TRADECORE_OMS_TYPE", "netting")
	t.Setenv("TRADECORE_INBOX_SIZE", "64")
	t.Setenv("TRADECORE_MAX_SEQUENCE_GAP", "0")

	cfg, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "NETTING", cfg.Engine.OmsType)
	assert.Equal(t, 64, cfg.Engine.InboxSize)
	assert.Equal(t, uint64(0), cfg.Engine.MaxSequenceGap)
}

func TestParseConfig_BadEnvNumber(t *testing.T) {
	t.Setenv("TRADECORE_INBOX_SIZE", "lots")
	_, err := ParseConfig([]byte(sampleConfig))
	assert.ErrorContains(t, err, "TRADECORE_INBOX_SIZE")
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad oms type", "engine:\n  oms_type: BOTH\n", "OmsType"},
		{"bad book type", "engine:\n  default_book_type: L4\n", "DefaultBookType"},
		{"zero inbox", "engine:\n  inbox_size: 0\n", "InboxSize"},
		{"bad level", "logging:\n  level: loud\n", "Level"},
		{"bad listen addr", "metrics:\n  listen_addr: nowhere\n", "ListenAddr"},
		{"bad fee", "engine:\n  taker_fee: cheap\n", "taker_fee"},
		{"instrument without venue", "instruments:\n  - id: AUDUSD\n", "AUDUSD"},
		{"duplicate instrument", "instruments:\n  - id: AUD/USD.SIM\n  - id: AUD/USD.SIM\n", "declared twice"},
		{"precision too high", "instruments:\n  - id: AUD/USD.SIM\n    price_precision: 12\n", "PricePrecision"},
		{"negative multiplier", "instruments:\n  - id: AUD/USD.SIM\n    multiplier: \"-1\"\n", "multiplier"},
		{"account without currency", "accounts:\n  - id: SIM-001\n", "BaseCurrency"},
		{"negative balance", "accounts:\n  - id: SIM-001\n    base_currency: USD\n    balances:\n      USD: \"-5\"\n", "non-negative"},
		{"malformed yaml", "engine: [", "failed to parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "0.1.0", cfg.App.Version)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")
}

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}
