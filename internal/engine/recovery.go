package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"tradecore/internal/cache"
	"tradecore/internal/domain"
	"tradecore/internal/event"
	"tradecore/internal/execution"
	"tradecore/internal/infra"
	"tradecore/internal/storage"
	"tradecore/pkg/quant"
)

const metaLastSnapshotSeq = "last_snapshot_seq"

// Recover rebuilds state from the latest snapshot and the events logged after it.
// Without a snapshot every logged event is replayed. The path is the same one live events take.
func (s *Sequencer) Recover(ctx context.Context) error {
	from := uint64(1)
	if s.snaps != nil {
		snap, err := s.snaps.LoadLatest()
		if err != nil {
			return fmt.Errorf("failed to load snapshot: %w", err)
		}
		if snap != nil {
			if err := s.restore(snap); err != nil {
				return err
			}
			from = snap.Seq + 1
		}
	}
	if s.log == nil {
		slog.Info("RECOVERY_NO_EVENT_LOG", slog.Uint64("next_seq", s.NextSeq()))
		return nil
	}

	events, err := s.log.LoadEvents(ctx, from)
	if err != nil {
		return fmt.Errorf("failed to load events: %w", err)
	}
	slog.Info("RECOVERY_REPLAY_STARTED", slog.Uint64("from_seq", from), slog.Int("count", len(events)))
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.ReplayEvent(ev); err != nil {
			return err
		}
	}
	slog.Info("RECOVERY_COMPLETED",
		slog.Uint64("next_seq", s.NextSeq()),
		slog.Int("open_orders", s.cache.OrdersOpenCount(cache.Filter{})),
		slog.Int("open_positions", s.cache.PositionsOpenCount(cache.Filter{})))
	return nil
}

// restore loads a snapshot into an engine whose instruments are registered and whose cache is empty.
func (s *Sequencer) restore(snap *storage.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, bs := range snap.Books {
		book, ok := s.books[bs.InstrumentID]
		if !ok {
			slog.Warn("SNAPSHOT_BOOK_SKIPPED", slog.String("instrument_id", bs.InstrumentID.String()))
			continue
		}
		if err := book.Restore(bs); err != nil {
			return fmt.Errorf("failed to restore book %s: %w", bs.InstrumentID, err)
		}
	}

	s.cache.Reset()
	for _, a := range snap.Accounts {
		if err := s.cache.AddAccount(a); err != nil {
			return fmt.Errorf("failed to restore account %s: %w", a.ID, err)
		}
	}
	for _, rec := range snap.Positions {
		p, err := execution.PositionFromRecord(rec)
		if err != nil {
			return err
		}
		if err := s.cache.AddPosition(p); err != nil {
			return err
		}
		if p.IsOpen() {
			s.netting[nettingKey{instrument: p.Instrument.ID, strategy: p.StrategyID}] = p.ID
		}
	}
	for _, rec := range snap.Orders {
		o, err := execution.OrderFromRecord(rec)
		if err != nil {
			return err
		}
		if err := s.cache.AddOrder(o, o.PositionID); err != nil {
			return err
		}
	}
	for strategy, n := range snap.PositionCounts {
		s.positionIDs.SetCount(strategy, n)
	}

	s.nextSeq = snap.Seq + 1
	s.lastSnap = quant.UnixNanos(snap.TsUnix)
	slog.Info("SNAPSHOT_RESTORED",
		slog.Uint64("seq", snap.Seq),
		slog.Int("books", len(snap.Books)),
		slog.Int("orders", len(snap.Orders)),
		slog.Int("positions", len(snap.Positions)))
	return nil
}

// Snapshot captures the engine state as of the last processed event.
func (s *Sequencer) Snapshot() (*storage.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot()
}

func (s *Sequencer) snapshot() (*storage.Snapshot, error) {
	snap := &storage.Snapshot{
		Seq:            s.nextSeq - 1,
		TsUnix:         int64(s.now),
		PositionCounts: s.positionIDs.Counts(),
	}
	for _, id := range s.instrumentIDs() {
		snap.Books = append(snap.Books, s.books[id].Snapshot())
	}
	for _, o := range s.cache.Orders(cache.Filter{}) {
		rec, err := o.Record()
		if err != nil {
			return nil, fmt.Errorf("failed to record order %s: %w", o.ClientOrderID, err)
		}
		snap.Orders = append(snap.Orders, rec)
	}
	for _, p := range s.cache.Positions(cache.Filter{}) {
		rec, err := p.Record()
		if err != nil {
			return nil, fmt.Errorf("failed to record position %s: %w", p.ID, err)
		}
		snap.Positions = append(snap.Positions, rec)
	}
	for _, a := range s.cache.Accounts() {
		snap.Accounts = append(snap.Accounts, a.Clone())
	}
	return snap, nil
}

// maybeSnapshot writes a snapshot when the interval has elapsed on the engine clock.
// Called while the timer event is processed, so Seq is that event's number.
func (s *Sequencer) maybeSnapshot(e *event.Timer) {
	if s.snaps == nil || s.cfg.SnapshotInterval <= 0 {
		return
	}
	if s.lastSnap != 0 && e.TsEvent.Sub(s.lastSnap) < s.cfg.SnapshotInterval {
		return
	}
	snap, err := s.snapshot()
	if err != nil {
		s.reporter.Report("SNAPSHOT_FAILED", err)
		return
	}
	snap.Seq = e.Seq
	if err := s.snaps.Save(snap); err != nil {
		s.reporter.Report("SNAPSHOT_FAILED", fmt.Errorf("%w: %w", infra.ErrStorage, err))
		return
	}
	s.lastSnap = e.TsEvent
	if s.log != nil {
		if err := s.log.UpsertMetadata(context.Background(), metaLastSnapshotSeq,
			strconv.FormatUint(snap.Seq, 10), int64(e.TsEvent)); err != nil {
			s.reporter.Report("SNAPSHOT_METADATA_FAILED", fmt.Errorf("%w: %w", infra.ErrStorage, err))
		}
	}
	if s.cfg.SnapshotKeep > 0 {
		if err := s.snaps.Cleanup(s.cfg.SnapshotKeep); err != nil {
			s.reporter.Report("SNAPSHOT_CLEANUP_FAILED", fmt.Errorf("%w: %w", infra.ErrStorage, err))
		}
	}
}

// DumpState writes the engine state to a file for post-mortem analysis.
// It runs after a panic, so it takes no lock.
func (s *Sequencer) DumpState(filename string) {
	slog.Info("STATE_DUMP", slog.String("file", filename))

	snap, err := s.snapshot()
	if err != nil {
		slog.Error("STATE_DUMP_FAILED", slog.Any("error", err))
		return
	}
	data := struct {
		NextSeq  uint64            `json:"next_seq"`
		Snapshot *storage.Snapshot `json:"snapshot"`
		Suspect  map[string]string `json:"suspect_books,omitempty"`
	}{
		NextSeq:  s.nextSeq,
		Snapshot: snap,
		Suspect:  s.suspectBooks(),
	}
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		slog.Error("STATE_DUMP_FAILED", slog.Any("error", err))
		return
	}
	if err := os.WriteFile(filename, b, 0o644); err != nil {
		slog.Error("STATE_DUMP_FAILED", slog.Any("error", err))
	}
}

func (s *Sequencer) suspectBooks() map[string]string {
	out := make(map[string]string)
	for id, b := range s.books {
		if ok, reason := b.Suspect(); ok {
			out[id.String()] = reason
		}
	}
	return out
}

// Accounts lists the registered accounts (external read).
func (s *Sequencer) Accounts() []*domain.Account {
	return s.cache.Accounts()
}
