package backtest

import (
	"context"
	"fmt"
	"log/slog"

	"tradecore/internal/engine"
	"tradecore/internal/event"
	"tradecore/internal/storage"
)

// Replayer reads an event log from SQLite and feeds it into a Sequencer.
type Replayer struct {
	store *storage.EventStore
}

// Stats summarizes a replay.
type Stats struct {
	Events  int
	Skipped int
	LastSeq uint64
	ByType  map[string]int
}

// NewReplayer opens the event log at dbPath.
func NewReplayer(dbPath string) (*Replayer, error) {
	store, err := storage.NewEventStore(dbPath)
	if err != nil {
		return nil, err
	}
	return &Replayer{store: store}, nil
}

func (r *Replayer) Close() error {
	return r.store.Close()
}

// Run replays every logged event from fromSeq as recorded. The sequencer must be fresh
// (or recovered up to fromSeq) and should have no event log of its own.
// The result reproduces the recorded session exactly.
func (r *Replayer) Run(ctx context.Context, seq *engine.Sequencer, fromSeq uint64) (Stats, error) {
	events, err := r.store.LoadEvents(ctx, fromSeq)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to load events: %w", err)
	}
	stats := Stats{ByType: make(map[string]int)}
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := seq.ReplayEvent(ev); err != nil {
			return stats, err
		}
		stats.add(ev)
	}
	slog.Info("BACKTEST_REPLAY_COMPLETED", slog.Int("events", stats.Events), slog.Uint64("last_seq", stats.LastSeq))
	return stats, nil
}

// RunMarketData feeds only the market data and timers of the log through the live path,
// renumbered by the sequencer. Recorded order events are skipped, so whatever venue and
// orders the caller installs react to the recorded market instead.
func (r *Replayer) RunMarketData(ctx context.Context, seq *engine.Sequencer, fromSeq uint64) (Stats, error) {
	events, err := r.store.LoadEvents(ctx, fromSeq)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to load events: %w", err)
	}
	stats := Stats{ByType: make(map[string]int)}
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if !isMarketData(ev.GetType()) {
			stats.Skipped++
			continue
		}
		ev.SetSeq(0)
		seq.Handle(ev)
		stats.add(ev)
	}
	slog.Info("BACKTEST_MARKET_REPLAY_COMPLETED",
		slog.Int("events", stats.Events),
		slog.Int("skipped", stats.Skipped),
		slog.Uint64("next_seq", seq.NextSeq()))
	return stats, nil
}

func isMarketData(t event.Type) bool {
	switch t {
	case event.EvBookDeltas, event.EvBookDepth, event.EvQuote, event.EvTrade, event.EvTimer:
		return true
	}
	return false
}

func (s *Stats) add(ev event.Event) {
	s.Events++
	s.LastSeq = ev.GetSeq()
	s.ByType[ev.GetType().String()]++
}
