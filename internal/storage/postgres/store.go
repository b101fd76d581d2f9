package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ammledger/internal/model"
	"ammledger/internal/storage"
)

var (
	_ storage.KV        = (*Store)(nil)
	_ storage.EventSink = (*Store)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS pool_state (
	namespace TEXT NOT NULL,
	key TEXT NOT NULL,
	value BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (namespace, key)
);
CREATE TABLE IF NOT EXISTS pool_events (
	pool_address TEXT NOT NULL,
	seq BIGINT NOT NULL,
	event_name TEXT NOT NULL,
	ts TEXT NOT NULL,
	payload JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (pool_address, seq)
);
`

// Store provides Postgres persistence for pool state and events.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// EnsureSchema creates the state and event tables if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Get returns one state value.
func (s *Store) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	var value []byte
	row := s.pool.QueryRow(ctx, `SELECT value FROM pool_state WHERE namespace=$1 AND key=$2`, namespace, key)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

// PutBatch upserts state entries in a single transaction.
func (s *Store) PutBatch(ctx context.Context, entries []storage.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, e := range entries {
			batch.Queue(`
				INSERT INTO pool_state (namespace, key, value, updated_at)
				VALUES ($1, $2, $3, now())
				ON CONFLICT (namespace, key)
				DO UPDATE SET value = EXCLUDED.value, updated_at = now()
			`, e.Namespace, e.Key, e.Value)
		}

		br := tx.SendBatch(ctx, batch)
		for range entries {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return err
			}
		}
		return br.Close()
	})
}

// PutEventBatch inserts events. Replayed sequence numbers are ignored.
func (s *Store) PutEventBatch(ctx context.Context, events []model.PoolEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range events {
		payload, err := json.Marshal(ev.Decoded)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", ev.EventName, err)
		}
		batch.Queue(`
			INSERT INTO pool_events (pool_address, seq, event_name, ts, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, now())
			ON CONFLICT (pool_address, seq) DO NOTHING
		`,
			ev.Pool,
			int64(ev.Seq),
			ev.EventName,
			ev.Timestamp,
			payload,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadEvents returns the events of one pool ordered by sequence.
func (s *Store) LoadEvents(ctx context.Context, poolAddress string) ([]model.PoolEventRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pool_address, seq, event_name, ts, payload
		FROM pool_events WHERE pool_address=$1 ORDER BY seq
	`, poolAddress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PoolEventRecord
	for rows.Next() {
		var (
			rec     model.PoolEventRecord
			seq     int64
			payload []byte
		)
		if err := rows.Scan(&rec.Pool, &seq, &rec.EventName, &rec.Timestamp, &payload); err != nil {
			return nil, err
		}
		rec.Seq = uint64(seq)
		rec.Decoded = payload
		out = append(out, rec)
	}
	return out, rows.Err()
}
