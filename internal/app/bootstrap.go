package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"tradecore/internal/cache"
	"tradecore/internal/domain"
	"tradecore/internal/engine"
	"tradecore/internal/execution"
	"tradecore/internal/infra"
	"tradecore/internal/storage"
)

// Bootstrap orchestrates the startup sequence: config, logger, workspace, storage, engine.
type Bootstrap struct {
	Config     *infra.Config
	WorkDir    string
	EventStore *storage.EventStore
	Snapshots  *storage.SnapshotStore
	Reporter   *infra.Reporter
	Sequencer  *engine.Sequencer
	Paper      *execution.PaperVenue
	Venue      *execution.GuardedClient

	unlock func()
}

func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads the config at configPath (or the resolved default) and wires the engine.
// The engine is not recovered yet; call Recover before Run.
func (b *Bootstrap) Initialize(configPath string) error {
	if configPath == "" {
		configPath = infra.ResolveConfigPath()
	}
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	return b.InitializeWith(cfg, infra.GetWorkspaceDir())
}

// InitializeWith wires the engine from an already loaded config rooted at workDir.
func (b *Bootstrap) InitializeWith(cfg *infra.Config, workDir string) (err error) {
	b.Config = cfg
	b.WorkDir = workDir
	infra.NewLogger(cfg)
	slog.Info("BOOTSTRAP_STARTED",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("workspace", workDir))

	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	if err := infra.EnsureDir(workDir); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	unlock, err := infra.CreateLockFile(workDir)
	if err != nil {
		return err
	}
	b.unlock = unlock

	if err := b.openStores(); err != nil {
		return err
	}

	b.Reporter = infra.NewReporter()
	b.Sequencer = engine.NewSequencer(engine.Config{
		InboxSize:        cfg.Engine.InboxSize,
		MaxSequenceGap:   cfg.Engine.MaxSequenceGap,
		OmsType:          domain.OmsType(cfg.Engine.OmsType),
		TraderID:         domain.TraderID(cfg.Engine.TraderID),
		PendingTimeout:   cfg.PendingTimeout(),
		TimerInterval:    cfg.TimerInterval(),
		SnapshotInterval: cfg.SnapshotInterval(),
		SnapshotKeep:     cfg.Engine.SnapshotKeep,
		DumpPath:         filepath.Join(workDir, "crash_dump.json"),
	}, b.EventStore, b.Snapshots, cache.New(b.EventStore), b.Reporter)

	instruments, bookTypes, err := cfg.BuildInstruments()
	if err != nil {
		return err
	}
	for _, inst := range instruments {
		if err := b.Sequencer.AddInstrument(inst, bookTypes[inst.ID]); err != nil {
			return err
		}
	}
	accounts := cfg.BuildAccounts()
	for _, a := range accounts {
		if err := b.Sequencer.AddAccount(a); err != nil {
			return err
		}
	}

	if len(accounts) > 0 {
		s := b.Sequencer
		b.Paper = execution.NewPaperVenue(s, s.Emit, s.UUIDs(), s.Now, accounts[0].ID, cfg.TakerFee())
		b.Venue = execution.NewGuardedClient(b.Paper, newVenueBreaker(cfg), newVenueLimiter(cfg))
		s.SetClient(b.Venue)
	}

	slog.Info("BOOTSTRAP_COMPLETED",
		slog.Int("instruments", len(instruments)),
		slog.Int("accounts", len(accounts)),
		slog.String("oms_type", cfg.Engine.OmsType),
		slog.Bool("paper_venue", b.Paper != nil))
	return nil
}

func newVenueBreaker(cfg *infra.Config) *infra.CircuitBreaker {
	return infra.NewCircuitBreaker(infra.CircuitBreakerConfig{
		Name:             "venue",
		FailureThreshold: cfg.Venue.FailureThreshold,
		SuccessThreshold: 1,
		Timeout:          cfg.VenueCooldown(),
	})
}

// newVenueLimiter returns nil when no request rate is configured.
func newVenueLimiter(cfg *infra.Config) *infra.RateLimiter {
	if cfg.Venue.RequestsPerSec <= 0 {
		return nil
	}
	return infra.NewRateLimiter(cfg.Venue.Burst, cfg.Venue.RequestsPerSec, nil)
}

func (b *Bootstrap) openStores() error {
	dbPath := infra.ResolveDataPath(b.WorkDir, b.Config.Storage.SQLitePath)
	if err := infra.EnsureDir(filepath.Dir(dbPath)); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	evStore, err := storage.NewEventStore(dbPath)
	if err != nil {
		return err
	}
	b.EventStore = evStore
	slog.Info("EVENT_STORE_OPENED", slog.String("path", dbPath))

	snapDir := infra.ResolveDataPath(b.WorkDir, b.Config.Storage.SnapshotDir)
	if snapDir == "" {
		return nil
	}
	snaps, err := storage.NewSnapshotStore(snapDir, nil)
	if err != nil {
		return err
	}
	b.Snapshots = snaps
	slog.Info("SNAPSHOT_STORE_OPENED", slog.String("path", snapDir))
	return nil
}

// Recover restores engine state from the stores.
func (b *Bootstrap) Recover(ctx context.Context) error {
	if err := b.Sequencer.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover engine: %w", err)
	}
	return nil
}

// Close releases the stores and the workspace lock. Safe to call more than once.
func (b *Bootstrap) Close() error {
	var errs []error
	if b.Snapshots != nil {
		errs = append(errs, b.Snapshots.Close())
		b.Snapshots = nil
	}
	if b.EventStore != nil {
		errs = append(errs, b.EventStore.Close())
		b.EventStore = nil
	}
	if b.unlock != nil {
		b.unlock()
		b.unlock = nil
	}
	return errors.Join(errs...)
}
