package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tradecore/internal/cache"
	"tradecore/internal/domain"
	"tradecore/internal/event"
	"tradecore/internal/execution"
	"tradecore/internal/infra"
	"tradecore/internal/orderbook"
	"tradecore/internal/storage"
	"tradecore/pkg/quant"
)

// EventLog is the write-ahead log the sequencer persists every accepted event to.
type EventLog interface {
	SaveEvent(ctx context.Context, ev event.Event) error
	LoadEvents(ctx context.Context, fromSeq uint64) ([]event.Event, error)
	UpsertMetadata(ctx context.Context, key, value string, ts int64) error
}

// SnapshotStore keeps periodic images of engine state.
type SnapshotStore interface {
	Save(snap *storage.Snapshot) error
	LoadLatest() (*storage.Snapshot, error)
	Cleanup(keep int) error
}

// bookObserver is implemented by clients that react to book changes (the paper venue).
type bookObserver interface {
	OnBookUpdate(id domain.InstrumentID)
}

type Config struct {
	InboxSize      int
	MaxSequenceGap uint64
	OmsType        domain.OmsType
	TraderID       domain.TraderID
	// PendingTimeout reverts PENDING_UPDATE / PENDING_CANCEL orders not confirmed in time. Zero disables it.
	PendingTimeout   time.Duration
	TimerInterval    time.Duration
	SnapshotInterval time.Duration
	SnapshotKeep     int
	// PersistRetries bounds event log write attempts before the engine halts.
	PersistRetries int
	DumpPath       string
}

var persistBackoff = infra.Backoff{Base: 5 * time.Millisecond, Max: 100 * time.Millisecond}

// Sequencer is the single-threaded event processor. It owns every book and is the only
// writer of the execution cache.
type Sequencer struct {
	cfg      Config
	inbox    chan event.Event
	nextSeq  uint64
	log      EventLog
	snaps    SnapshotStore
	cache    *cache.Cache
	reporter *infra.Reporter
	uuids    *event.UUIDFactory

	books       map[domain.InstrumentID]orderbook.Book
	instruments map[domain.InstrumentID]domain.Instrument
	client      execution.Client

	positionIDs *execution.PositionIDGenerator
	netting     map[nettingKey]domain.PositionID
	now         quant.UnixNanos
	lastSnap    quant.UnixNanos
	replaying   bool

	// Events emitted by the client while a handler runs. They are sequenced after it.
	pendingMu sync.Mutex
	pending   []event.Event
	wake      chan struct{}

	mu sync.RWMutex // write-held while an event is processed; external reads take it shared
}

type nettingKey struct {
	instrument domain.InstrumentID
	strategy   domain.StrategyID
}

// NewSequencer builds a sequencer. log and snaps may be nil for a purely in-memory engine.
func NewSequencer(cfg Config, log EventLog, snaps SnapshotStore, c *cache.Cache, reporter *infra.Reporter) *Sequencer {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1024
	}
	if cfg.PersistRetries <= 0 {
		cfg.PersistRetries = 3
	}
	if !cfg.OmsType.Valid() {
		cfg.OmsType = domain.Netting
	}
	if c == nil {
		c = cache.New(nil)
	}
	if reporter == nil {
		reporter = infra.NewReporter()
	}
	s := &Sequencer{
		cfg:         cfg,
		inbox:       make(chan event.Event, cfg.InboxSize),
		nextSeq:     1,
		log:         log,
		snaps:       snaps,
		cache:       c,
		reporter:    reporter,
		uuids:       event.NewUUIDFactory(nil),
		books:       make(map[domain.InstrumentID]orderbook.Book),
		instruments: make(map[domain.InstrumentID]domain.Instrument),
		netting:     make(map[nettingKey]domain.PositionID),
		wake:        make(chan struct{}, 1),
	}
	s.positionIDs = execution.NewPositionIDGenerator(cfg.TraderID, s.Now)
	return s
}

// AddInstrument registers an instrument and creates its book.
func (s *Sequencer) AddInstrument(inst domain.Instrument, bookType domain.BookType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instruments[inst.ID]; ok {
		return fmt.Errorf("instrument %s already registered", inst.ID)
	}
	book, err := orderbook.New(inst.ID, bookType)
	if err != nil {
		return err
	}
	s.instruments[inst.ID] = inst
	s.books[inst.ID] = book
	return nil
}

// AddAccount registers an account whose balance receives realized PnL.
func (s *Sequencer) AddAccount(a *domain.Account) error {
	return s.cache.AddAccount(a)
}

// SetClient installs the venue. Client responses should be passed to Emit.
func (s *Sequencer) SetClient(c execution.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = c
}

// SetUUIDFactory replaces the event id source, e.g. with a seeded one for backtests.
func (s *Sequencer) SetUUIDFactory(f *event.UUIDFactory) { s.uuids = f }

// UUIDs is the id source used for events the engine creates.
func (s *Sequencer) UUIDs() *event.UUIDFactory { return s.uuids }

// Inbox returns the event channel. External producers send events here.
// An event with Seq 0 is assigned the next sequence number.
func (s *Sequencer) Inbox() chan<- event.Event {
	return s.inbox
}

// Emit queues an event produced by a collaborator. It is sequenced after the event
// currently being processed. Safe for concurrent use.
func (s *Sequencer) Emit(ev event.Event) {
	s.pendingMu.Lock()
	s.pending = append(s.pending, ev)
	s.pendingMu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Now is the engine clock: the event time of the event being processed.
// Only meaningful on the sequencer goroutine.
func (s *Sequencer) Now() quant.UnixNanos { return s.now }

// Run starts the main event loop. It must run in a single goroutine.
func (s *Sequencer) Run(ctx context.Context) {
	slog.Info("SEQUENCER_STARTED", slog.Uint64("next_seq", s.nextSeq), slog.String("oms_type", string(s.cfg.OmsType)))

	defer func() {
		if r := recover(); r != nil {
			slog.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			if s.cfg.DumpPath != "" {
				s.DumpState(s.cfg.DumpPath)
			}
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	var tick <-chan time.Time
	if s.cfg.TimerInterval > 0 {
		t := time.NewTicker(s.cfg.TimerInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("SEQUENCER_STOPPED", slog.Uint64("next_seq", s.nextSeq))
			return
		case ev := <-s.inbox:
			s.Handle(ev)
		case <-s.wake:
			s.drain()
		case now := <-tick:
			ts := quant.FromTime(now)
			s.Handle(&event.Timer{BaseEvent: event.BaseEvent{TsEvent: ts, TsInit: ts}, Name: "engine"})
		}
	}
}

// Handle processes one event synchronously, then everything it caused the client to emit.
// Run uses it; tests and the backtest replayer call it directly.
func (s *Sequencer) Handle(ev event.Event) {
	s.processEvent(ev)
	s.drain()
}

func (s *Sequencer) drain() {
	for {
		s.pendingMu.Lock()
		batch := s.pending
		s.pending = nil
		s.pendingMu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, ev := range batch {
			ev.SetSeq(0)
			s.processEvent(ev)
		}
	}
}

// ValidateSequence decides whether ev is processed. Seq 0 is stamped with the next number.
// Duplicates are ignored, gaps up to MaxSequenceGap are tolerated, larger gaps are rejected.
func (s *Sequencer) ValidateSequence(ev event.Event) bool {
	expected := s.nextSeq
	got := ev.GetSeq()
	switch {
	case got == 0:
		ev.SetSeq(expected)
		return true
	case got == expected:
		return true
	case got < expected:
		slog.Warn("SEQUENCE_DUPLICATE_IGNORED", slog.Uint64("expected", expected), slog.Uint64("got", got))
		return false
	case got-expected <= s.cfg.MaxSequenceGap:
		slog.Warn("SEQUENCE_GAP_TOLERATED",
			slog.Uint64("expected", expected),
			slog.Uint64("got", got),
			slog.Uint64("gap", got-expected))
		s.reporter.SequenceGap()
		s.nextSeq = got
		return true
	}
	s.reporter.Report("SEQUENCE_GAP_REJECTED", &domain.DataQualityError{
		Sequence: got,
		TsEvent:  ev.GetTs(),
		Reason:   fmt.Sprintf("sequence gap: expected %d", expected),
	}, slog.String("type", ev.GetType().String()))
	return false
}

func (s *Sequencer) processEvent(ev event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ValidateSequence(ev) {
		return
	}
	s.uuids.Stamp(ev)

	// WAL first: an event is durable before it changes state.
	if s.log != nil {
		ctx := context.Background()
		err := infra.Retry(ctx, s.cfg.PersistRetries, persistBackoff, func() error {
			return s.log.SaveEvent(ctx, ev)
		})
		if err != nil {
			panic(fmt.Sprintf("PERSISTENCE_FAILURE: %v", err))
		}
	}

	s.dispatch(ev)
	s.reporter.EventProcessed(ev.GetType().String(), ev.GetSeq())
	s.nextSeq++
}

// ReplayEvent applies a logged event without persisting it or contacting the venue.
// Logged sequences only increase; gaps were tolerated when the log was written.
func (s *Sequencer) ReplayEvent(ev event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.GetSeq() < s.nextSeq {
		return fmt.Errorf("REPLAY_GAP_DETECTED: expected >= %d, got %d", s.nextSeq, ev.GetSeq())
	}
	s.nextSeq = ev.GetSeq()
	s.replaying = true
	s.dispatch(ev)
	s.replaying = false
	s.nextSeq++
	return nil
}

// NextSeq is the sequence number the next accepted event receives.
func (s *Sequencer) NextSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextSeq
}

// Book implements execution.Market. Only for use on the sequencer goroutine.
func (s *Sequencer) Book(id domain.InstrumentID) (orderbook.Book, bool) {
	b, ok := s.books[id]
	return b, ok
}

// Instrument implements execution.Market. Only for use on the sequencer goroutine.
func (s *Sequencer) Instrument(id domain.InstrumentID) (domain.Instrument, bool) {
	inst, ok := s.instruments[id]
	return inst, ok
}

// ReadBook runs fn against a book under the read lock. fn must not retain the book.
func (s *Sequencer) ReadBook(id domain.InstrumentID, fn func(orderbook.Book)) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[id]
	if ok {
		fn(b)
	}
	return ok
}

// BookSnapshot returns a copy of a book (external read).
func (s *Sequencer) BookSnapshot(id domain.InstrumentID) (orderbook.Snapshot, bool) {
	var snap orderbook.Snapshot
	ok := s.ReadBook(id, func(b orderbook.Book) { snap = b.Snapshot() })
	return snap, ok
}

func (s *Sequencer) Cache() *cache.Cache { return s.cache }

func (s *Sequencer) Reporter() *infra.Reporter { return s.reporter }

// CheckIntegrity verifies every book and the cache. All violations are joined.
func (s *Sequencer) CheckIntegrity() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var errs []error
	for _, id := range s.instrumentIDs() {
		if err := s.books[id].CheckIntegrity(); err != nil {
			errs = append(errs, fmt.Errorf("book %s: %w", id, err))
		}
	}
	if err := s.cache.CheckIntegrity(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
