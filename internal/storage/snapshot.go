package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"tradecore/internal/domain"
	"tradecore/internal/execution"
	"tradecore/internal/orderbook"
)

// Snapshot is a point-in-time capture of engine state at an engine sequence number.
// Recovery restores the latest snapshot and replays the event log after Seq.
type Snapshot struct {
	Seq       uint64                     `json:"seq"`
	TsUnix    int64                      `json:"ts"`
	Books     []orderbook.Snapshot       `json:"books"`
	Orders    []execution.OrderRecord    `json:"orders"`
	Positions []execution.PositionRecord `json:"positions"`
	Accounts  []*domain.Account          `json:"accounts"`

	// PositionCounts resumes position id numbering per strategy.
	PositionCounts map[domain.StrategyID]uint64 `json:"position_counts,omitempty"`
}

const snapshotPrefix = "snap/"

// SnapshotStore keeps snapshots in Pebble keyed by sequence, so the latest is the last key.
type SnapshotStore struct {
	db *pebble.DB
}

// NewSnapshotStore opens the store at dir. fs may be nil for the OS filesystem.
func NewSnapshotStore(dir string, fs vfs.FS) (*SnapshotStore, error) {
	opts := &pebble.Options{}
	if fs != nil {
		opts.FS = fs
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}
	return &SnapshotStore{db: db}, nil
}

func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

// Save writes a snapshot durably.
func (s *SnapshotStore) Save(snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := s.db.Set(snapshotKey(snap.Seq), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	slog.Info("SNAPSHOT_SAVED",
		slog.Uint64("seq", snap.Seq),
		slog.Int("books", len(snap.Books)),
		slog.Int("orders", len(snap.Orders)))
	return nil
}

// LoadLatest returns the snapshot with the highest sequence, or nil when none exists.
func (s *SnapshotStore) LoadLatest() (*Snapshot, error) {
	iter, err := s.db.NewIter(prefixBounds())
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	if !iter.Last() {
		return nil, iter.Error()
	}
	var snap Snapshot
	if err := json.Unmarshal(iter.Value(), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot %s: %w", iter.Key(), err)
	}
	slog.Info("SNAPSHOT_LOADED", slog.Uint64("seq", snap.Seq))
	return &snap, nil
}

// Load returns the snapshot taken at seq.
func (s *SnapshotStore) Load(seq uint64) (*Snapshot, error) {
	val, closer, err := s.db.Get(snapshotKey(seq))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %d: %w", seq, err)
	}
	defer closer.Close()

	var snap Snapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot %d: %w", seq, err)
	}
	return &snap, nil
}

// Sequences lists stored snapshot sequences in ascending order.
func (s *SnapshotStore) Sequences() ([]uint64, error) {
	iter, err := s.db.NewIter(prefixBounds())
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []uint64
	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseSnapshotKey(iter.Key())
		if err != nil {
			return nil, err
		}
		out = append(out, seq)
	}
	return out, iter.Error()
}

// Cleanup removes old snapshots, keeping only the latest keep.
func (s *SnapshotStore) Cleanup(keep int) error {
	seqs, err := s.Sequences()
	if err != nil {
		return err
	}
	if len(seqs) <= keep {
		return nil
	}
	cutoff := seqs[len(seqs)-keep]
	if err := s.db.DeleteRange(snapshotKey(0), snapshotKey(cutoff), pebble.Sync); err != nil {
		return fmt.Errorf("failed to remove old snapshots: %w", err)
	}
	slog.Info("SNAPSHOTS_PRUNED", slog.Int("removed", len(seqs)-keep), slog.Uint64("oldest_kept", cutoff))
	return nil
}

func prefixBounds() *pebble.IterOptions {
	return &pebble.IterOptions{
		LowerBound: []byte(snapshotPrefix),
		UpperBound: []byte("snap0"), // '0' sorts right after '/'
	}
}

func snapshotKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", snapshotPrefix, seq))
}

func parseSnapshotKey(b []byte) (uint64, error) {
	var seq uint64
	if _, err := fmt.Sscanf(string(b[len(snapshotPrefix):]), "%d", &seq); err != nil {
		return 0, fmt.Errorf("bad snapshot key %q: %w", b, err)
	}
	return seq, nil
}
