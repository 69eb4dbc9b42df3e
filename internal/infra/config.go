package infra

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"tradecore/internal/domain"
)

const envPrefix = "TRADECORE_"

// Config holds every setting of the engine process.
// LoadConfig reads the YAML file, then applies TRADECORE_* environment overrides.
type Config struct {
	App struct {
		Name    string `yaml:"name" validate:"required"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Engine struct {
		TraderID            string `yaml:"trader_id" validate:"required"`
		InboxSize           int    `yaml:"inbox_size" validate:"gt=0"`
		MaxSequenceGap      uint64 `yaml:"max_sequence_gap"`
		OmsType             string `yaml:"oms_type" validate:"oneof=NETTING HEDGING"`
		DefaultBookType     string `yaml:"default_book_type" validate:"oneof=L1_MBP L2_MBP L3_MBO"`
		PendingTimeoutMS    int    `yaml:"pending_timeout_ms" validate:"gte=0"`
		TimerIntervalMS     int    `yaml:"timer_interval_ms" validate:"gte=0"`
		SnapshotIntervalSec int    `yaml:"snapshot_interval_sec" validate:"gte=0"`
		SnapshotKeep        int    `yaml:"snapshot_keep" validate:"gte=0"`
		TakerFee            string `yaml:"taker_fee"`
	} `yaml:"engine"`

	Instruments []InstrumentConfig `yaml:"instruments" validate:"dive"`
	Accounts    []AccountConfig    `yaml:"accounts" validate:"dive"`

	Venue struct {
		FailureThreshold int     `yaml:"failure_threshold" validate:"gte=0"`
		CooldownMS       int     `yaml:"cooldown_ms" validate:"gte=0"`
		RequestsPerSec   float64 `yaml:"requests_per_sec" validate:"gte=0"`
		Burst            int     `yaml:"burst" validate:"gte=0"`
	} `yaml:"venue"`

	Storage struct {
		SQLitePath  string `yaml:"sqlite_path"`
		SnapshotDir string `yaml:"snapshot_dir"`
	} `yaml:"storage"`

	Logging struct {
		Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
		Format string `yaml:"format" validate:"omitempty,oneof=json text pretty"`
	} `yaml:"logging"`

	Metrics struct {
		ListenAddr string `yaml:"listen_addr" validate:"omitempty,hostname_port"`
	} `yaml:"metrics"`
}

// InstrumentConfig declares a tradable instrument and the book kept for it.
type InstrumentConfig struct {
	ID             string `yaml:"id" validate:"required"`
	PricePrecision uint8  `yaml:"price_precision" validate:"lte=9"`
	SizePrecision  uint8  `yaml:"size_precision" validate:"lte=9"`
	Multiplier     string `yaml:"multiplier"`
	BookType       string `yaml:"book_type" validate:"omitempty,oneof=L1_MBP L2_MBP L3_MBO"`
}

// AccountConfig seeds an account with starting balances (currency code -> amount).
type AccountConfig struct {
	ID           string            `yaml:"id" validate:"required"`
	BaseCurrency string            `yaml:"base_currency" validate:"required"`
	Balances     map[string]string `yaml:"balances"`
}

// LoadConfig reads, overrides and validates the configuration at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig is LoadConfig without the file read.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := overrideWithEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns the values used for keys the file leaves out.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.App.Name = AppName
	cfg.Engine.TraderID = "TRADER-001"
	cfg.Engine.InboxSize = 4096
	cfg.Engine.MaxSequenceGap = 10
	cfg.Engine.OmsType = string(domain.Netting)
	cfg.Engine.DefaultBookType = string(domain.L2MBP)
	cfg.Engine.PendingTimeoutMS = 5000
	cfg.Engine.TimerIntervalMS = 1000
	cfg.Engine.SnapshotIntervalSec = 60
	cfg.Engine.SnapshotKeep = 3
	cfg.Engine.TakerFee = "0"
	cfg.Venue.FailureThreshold = 5
	cfg.Venue.CooldownMS = 30000
	cfg.Storage.SQLitePath = "data/events.db"
	cfg.Storage.SnapshotDir = "data/snapshots"
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	return cfg
}

var validate = validator.New()

// Validate runs the struct-tag rules, then the checks tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", e.Namespace(), e.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if _, err := decimal.NewFromString(c.Engine.TakerFee); err != nil {
		return fmt.Errorf("engine.taker_fee %q: %w", c.Engine.TakerFee, err)
	}
	seen := make(map[string]bool, len(c.Instruments))
	for _, ic := range c.Instruments {
		if _, err := domain.ParseInstrumentID(ic.ID); err != nil {
			return err
		}
		if seen[ic.ID] {
			return fmt.Errorf("instrument %s declared twice", ic.ID)
		}
		seen[ic.ID] = true
		if ic.Multiplier != "" {
			if m, err := decimal.NewFromString(ic.Multiplier); err != nil || !m.IsPositive() {
				return fmt.Errorf("instrument %s multiplier %q must be a positive number", ic.ID, ic.Multiplier)
			}
		}
	}
	for _, ac := range c.Accounts {
		for code, amount := range ac.Balances {
			if v, err := decimal.NewFromString(amount); err != nil || v.IsNegative() {
				return fmt.Errorf("account %s balance %s=%q must be a non-negative number", ac.ID, code, amount)
			}
		}
	}
	return nil
}

// overrideWithEnv applies TRADECORE_* variables. Environment wins over the file.
func overrideWithEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := os.LookupEnv(envPrefix + key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s=%q: %w", envPrefix, key, v, err)
		}
		*dst = n
		return nil
	}

	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)
	str("SQLITE_PATH", &cfg.Storage.SQLitePath)
	str("SNAPSHOT_DIR", &cfg.Storage.SnapshotDir)
	str("OMS_TYPE", &cfg.Engine.OmsType)
	str("DEFAULT_BOOK_TYPE", &cfg.Engine.DefaultBookType)
	str("TRADER_ID", &cfg.Engine.TraderID)
	str("TAKER_FEE", &cfg.Engine.TakerFee)
	str("METRICS_ADDR", &cfg.Metrics.ListenAddr)
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)
	cfg.Engine.OmsType = strings.ToUpper(cfg.Engine.OmsType)

	if err := num("INBOX_SIZE", &cfg.Engine.InboxSize); err != nil {
		return err
	}
	if err := num("PENDING_TIMEOUT_MS", &cfg.Engine.PendingTimeoutMS); err != nil {
		return err
	}
	if err := num("SNAPSHOT_INTERVAL_SEC", &cfg.Engine.SnapshotIntervalSec); err != nil {
		return err
	}
	if v, ok := os.LookupEnv(envPrefix + "MAX_SEQUENCE_GAP"); ok && v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sMAX_SEQUENCE_GAP=%q: %w", envPrefix, v, err)
		}
		cfg.Engine.MaxSequenceGap = n
	}
	return nil
}

func (c *Config) PendingTimeout() time.Duration {
	return time.Duration(c.Engine.PendingTimeoutMS) * time.Millisecond
}

func (c *Config) TimerInterval() time.Duration {
	return time.Duration(c.Engine.TimerIntervalMS) * time.Millisecond
}

func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.Engine.SnapshotIntervalSec) * time.Second
}

func (c *Config) VenueCooldown() time.Duration {
	return time.Duration(c.Venue.CooldownMS) * time.Millisecond
}

func (c *Config) TakerFee() decimal.Decimal {
	return decimal.RequireFromString(c.Engine.TakerFee)
}

// BuildInstruments converts the instrument section into domain instruments and their book types.
func (c *Config) BuildInstruments() ([]domain.Instrument, map[domain.InstrumentID]domain.BookType, error) {
	out := make([]domain.Instrument, 0, len(c.Instruments))
	books := make(map[domain.InstrumentID]domain.BookType, len(c.Instruments))
	for _, ic := range c.Instruments {
		id, err := domain.ParseInstrumentID(ic.ID)
		if err != nil {
			return nil, nil, err
		}
		inst, err := domain.NewCurrencyPair(id, ic.PricePrecision, ic.SizePrecision)
		if err != nil {
			return nil, nil, err
		}
		if ic.Multiplier != "" {
			inst.Multiplier = decimal.RequireFromString(ic.Multiplier)
		}
		bt := domain.BookType(ic.BookType)
		if bt == "" {
			bt = domain.BookType(c.Engine.DefaultBookType)
		}
		out = append(out, inst)
		books[id] = bt
	}
	return out, books, nil
}

// BuildAccounts converts the account section into funded accounts.
func (c *Config) BuildAccounts() []*domain.Account {
	out := make([]*domain.Account, 0, len(c.Accounts))
	for _, ac := range c.Accounts {
		a := domain.NewAccount(domain.AccountID(ac.ID), domain.CurrencyFromCode(ac.BaseCurrency))
		for code, amount := range ac.Balances {
			a.Credit(domain.NewMoney(decimal.RequireFromString(amount), domain.CurrencyFromCode(code)), 0)
		}
		out = append(out, a)
	}
	return out
}
