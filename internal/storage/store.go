package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/glebarez/go-sqlite"

	"tradecore/internal/domain"
	"tradecore/internal/event"
	"tradecore/internal/execution"
)

// EventStore is the SQLite event log plus the order, position and account record tables.
// It implements cache.Database.
type EventStore struct {
	db *sql.DB
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);`,
	// version column is for future optimistic locking (multi-writer)
	`CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY,
		type INTEGER NOT NULL,
		ts INTEGER NOT NULL,
		event_id TEXT NOT NULL,
		payload BLOB NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);`,
	`CREATE TABLE IF NOT EXISTS orders (
		client_order_id TEXT PRIMARY KEY,
		instrument_id TEXT NOT NULL,
		strategy_id TEXT NOT NULL,
		status TEXT NOT NULL,
		ts_last INTEGER NOT NULL,
		record BLOB NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS positions (
		id TEXT PRIMARY KEY,
		instrument_id TEXT NOT NULL,
		strategy_id TEXT NOT NULL,
		side TEXT NOT NULL,
		record BLOB NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		record BLOB NOT NULL
	);`,
}

// NewEventStore opens (or creates) a SQLite store with WAL mode enabled.
func NewEventStore(dbPath string) (*EventStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One writer; the sequencer is the only caller.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-2000;", // 2MB cache
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return &EventStore{db: db}, nil
}

// SaveEvent appends an event under its engine sequence number.
func (s *EventStore) SaveEvent(ctx context.Context, ev event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO events (id, type, ts, event_id, payload) VALUES (?, ?, ?, ?, ?)",
		ev.GetSeq(), uint16(ev.GetType()), int64(ev.GetTs()), ev.GetID().String(), payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event %d: %w", ev.GetSeq(), err)
	}
	return nil
}

// GetLastSeq returns the highest stored sequence number, or 0 when the log is empty.
func (s *EventStore) GetLastSeq(ctx context.Context) (uint64, error) {
	var lastSeq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(id) FROM events").Scan(&lastSeq); err != nil {
		return 0, fmt.Errorf("failed to get last seq: %w", err)
	}
	if !lastSeq.Valid {
		return 0, nil
	}
	return uint64(lastSeq.Int64), nil
}

// LoadEvents returns every event with sequence >= fromSeq, in sequence order.
func (s *EventStore) LoadEvents(ctx context.Context, fromSeq uint64) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, type, payload FROM events WHERE id >= ? ORDER BY id ASC", fromSeq)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var (
			id      int64
			evType  int
			payload []byte
		)
		if err := rows.Scan(&id, &evType, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev, err := event.Decode(event.Type(evType), payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode event %d: %w", id, err)
		}
		if ev.GetSeq() != uint64(id) {
			ev.SetSeq(uint64(id))
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

// TruncateEvents deletes events with sequence < beforeSeq, e.g. once a snapshot covers them.
func (s *EventStore) TruncateEvents(ctx context.Context, beforeSeq uint64) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE id < ?", beforeSeq)
	if err != nil {
		return 0, fmt.Errorf("failed to truncate events: %w", err)
	}
	return res.RowsAffected()
}

// UpsertMetadata saves a key-value pair to the metadata table.
func (s *EventStore) UpsertMetadata(ctx context.Context, key, value string, ts int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at",
		key, value, ts,
	)
	return err
}

// GetMetadata returns the value for key, or "" when absent.
func (s *EventStore) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (s *EventStore) SaveOrder(ctx context.Context, o *execution.Order) error {
	rec, err := o.Record()
	if err != nil {
		return err
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal order %s: %w", o.ClientOrderID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orders (client_order_id, instrument_id, strategy_id, status, ts_last, record)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(client_order_id) DO UPDATE SET status=excluded.status, ts_last=excluded.ts_last, record=excluded.record`,
		string(o.ClientOrderID), o.InstrumentID.String(), string(o.StrategyID), string(o.Status), int64(o.TsLast), b,
	)
	if err != nil {
		return fmt.Errorf("failed to save order %s: %w", o.ClientOrderID, err)
	}
	return nil
}

func (s *EventStore) SavePosition(ctx context.Context, p *execution.Position) error {
	rec, err := p.Record()
	if err != nil {
		return err
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal position %s: %w", p.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO positions (id, instrument_id, strategy_id, side, record) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET side=excluded.side, record=excluded.record`,
		string(p.ID), p.Instrument.ID.String(), string(p.StrategyID), string(p.Side), b,
	)
	if err != nil {
		return fmt.Errorf("failed to save position %s: %w", p.ID, err)
	}
	return nil
}

func (s *EventStore) SaveAccount(ctx context.Context, a *domain.Account) error {
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal account %s: %w", a.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO accounts (id, record) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET record=excluded.record",
		string(a.ID), b,
	)
	if err != nil {
		return fmt.Errorf("failed to save account %s: %w", a.ID, err)
	}
	return nil
}

func (s *EventStore) LoadOrders(ctx context.Context) ([]*execution.Order, error) {
	var out []*execution.Order
	err := s.scanRecords(ctx, "SELECT record FROM orders ORDER BY client_order_id", func(b []byte) error {
		var rec execution.OrderRecord
		if err := json.Unmarshal(b, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal order record: %w", err)
		}
		o, err := execution.OrderFromRecord(rec)
		if err != nil {
			return err
		}
		out = append(out, o)
		return nil
	})
	return out, err
}

func (s *EventStore) LoadPositions(ctx context.Context) ([]*execution.Position, error) {
	var out []*execution.Position
	err := s.scanRecords(ctx, "SELECT record FROM positions ORDER BY id", func(b []byte) error {
		var rec execution.PositionRecord
		if err := json.Unmarshal(b, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal position record: %w", err)
		}
		p, err := execution.PositionFromRecord(rec)
		if err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

func (s *EventStore) LoadAccounts(ctx context.Context) ([]*domain.Account, error) {
	var out []*domain.Account
	err := s.scanRecords(ctx, "SELECT record FROM accounts ORDER BY id", func(b []byte) error {
		var a domain.Account
		if err := json.Unmarshal(b, &a); err != nil {
			return fmt.Errorf("failed to unmarshal account: %w", err)
		}
		if a.Balances == nil {
			a.Balances = make(map[string]domain.AccountBalance)
		}
		out = append(out, &a)
		return nil
	})
	return out, err
}

func (s *EventStore) scanRecords(ctx context.Context, query string, fn func([]byte) error) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return fmt.Errorf("failed to scan record: %w", err)
		}
		if err := fn(b); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *EventStore) Close() error {
	return s.db.Close()
}
