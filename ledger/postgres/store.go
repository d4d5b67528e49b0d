// Package postgres is a durable world-state backend on PostgreSQL. Current state lives in world_state
// (JSON documents mirrored into a GIN-indexed JSONB column for selector queries), every committed
// version is appended to world_state_history, and commits are serialised through a single height row.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log"
	"time"

	"censustwin/config"
	"censustwin/contract"
	"censustwin/ledger"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Keys are stored as BYTEA: composite keys contain U+0000, which TEXT cannot hold.
const schema = `
CREATE TABLE IF NOT EXISTS world_state (
	key     BYTEA PRIMARY KEY,
	value   BYTEA NOT NULL,
	doc     JSONB,
	version BIGINT NOT NULL,
	tx_id   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS world_state_doc_idx ON world_state USING GIN (doc jsonb_path_ops);
CREATE TABLE IF NOT EXISTS world_state_history (
	seq          BIGSERIAL PRIMARY KEY,
	key          BYTEA NOT NULL,
	tx_id        TEXT NOT NULL,
	tx_timestamp TIMESTAMPTZ NOT NULL,
	is_delete    BOOLEAN NOT NULL,
	value        BYTEA
);
CREATE INDEX IF NOT EXISTS world_state_history_key_idx ON world_state_history (key, seq);
CREATE TABLE IF NOT EXISTS ledger_height (
	id     SMALLINT PRIMARY KEY,
	height BIGINT NOT NULL
);
INSERT INTO ledger_height (id, height) VALUES (1, 0) ON CONFLICT (id) DO NOTHING;
`

// Store implements ledger.Backend on a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

// NewPostgresStore connects using cfg and creates the schema if it does not exist.
func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig, logger *log.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConnections)
	poolCfg.MinConns = int32(cfg.MinConnections)
	if d, err := time.ParseDuration(cfg.MaxIdleTime); err == nil {
		poolCfg.MaxConnIdleTime = d
	} else {
		logger.Printf("Warning: Invalid max_idle_time '%s', using pool default", cfg.MaxIdleTime)
	}
	if d, err := time.ParseDuration(cfg.MaxLifetime); err == nil {
		poolCfg.MaxConnLifetime = d
	} else {
		logger.Printf("Warning: Invalid max_lifetime '%s', using pool default", cfg.MaxLifetime)
	}

	pool, err := pgxpool.ConnectConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create world state schema: %w", err)
	}
	logger.Printf("PostgreSQL world state ready (max_conns=%d, min_conns=%d)", poolCfg.MaxConns, poolCfg.MinConns)
	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, uint64, error) {
	var value []byte
	var version int64
	err := s.pool.QueryRow(ctx, `SELECT value, version FROM world_state WHERE key = $1`, []byte(key)).Scan(&value, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("select world state: %w", err)
	}
	return value, uint64(version), nil
}

// Apply serialises commits on the ledger_height row, validates the read-set against current
// versions and writes state and history in one database transaction.
func (s *Store) Apply(ctx context.Context, c *ledger.Commit) (height uint64, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return 0, fmt.Errorf("begin commit: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				s.logger.Printf("Rollback of tx %s failed: %v", c.TxID, rbErr)
			}
		}
	}()

	var current int64
	if err = tx.QueryRow(ctx, `SELECT height FROM ledger_height WHERE id = 1 FOR UPDATE`).Scan(&current); err != nil {
		return 0, fmt.Errorf("lock ledger height: %w", err)
	}

	for _, r := range c.Reads {
		var version int64
		qErr := tx.QueryRow(ctx, `SELECT version FROM world_state WHERE key = $1`, []byte(r.Key)).Scan(&version)
		if qErr != nil && !errors.Is(qErr, pgx.ErrNoRows) {
			return 0, fmt.Errorf("check read version: %w", qErr)
		}
		if uint64(version) != r.Version {
			err = fmt.Errorf("%w: key %q read at version %d, now %d", ledger.ErrMVCCConflict, r.Key, r.Version, version)
			return 0, err
		}
	}

	next := current + 1
	for _, w := range c.Writes {
		if w.IsDelete {
			if _, err = tx.Exec(ctx, `DELETE FROM world_state WHERE key = $1`, []byte(w.Key)); err != nil {
				return 0, fmt.Errorf("delete world state: %w", err)
			}
		} else {
			_, err = tx.Exec(ctx, `
				INSERT INTO world_state (key, value, doc, version, tx_id) VALUES ($1, $2, $3::jsonb, $4, $5)
				ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, doc = EXCLUDED.doc,
					version = EXCLUDED.version, tx_id = EXCLUDED.tx_id`,
				[]byte(w.Key), w.Value, docParam(w.Value), next, c.TxID)
			if err != nil {
				return 0, fmt.Errorf("upsert world state: %w", err)
			}
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO world_state_history (key, tx_id, tx_timestamp, is_delete, value) VALUES ($1, $2, $3, $4, $5)`,
			[]byte(w.Key), c.TxID, c.Timestamp, w.IsDelete, w.Value)
		if err != nil {
			return 0, fmt.Errorf("insert history: %w", err)
		}
	}

	if _, err = tx.Exec(ctx, `UPDATE ledger_height SET height = $1 WHERE id = 1`, next); err != nil {
		return 0, fmt.Errorf("advance ledger height: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return uint64(next), nil
}

func (s *Store) Range(ctx context.Context, start, end string) iter.Seq2[contract.KV, error] {
	return s.scanKV(ctx, `SELECT key, value FROM world_state WHERE key >= $1 AND key < $2 ORDER BY key`, []byte(start), []byte(end))
}

// Query uses JSONB containment, which the GIN index on doc serves directly.
func (s *Store) Query(ctx context.Context, sel ledger.Selector) iter.Seq2[contract.KV, error] {
	containment, err := sel.Containment()
	if err != nil {
		return func(yield func(contract.KV, error) bool) { yield(contract.KV{}, err) }
	}
	return s.scanKV(ctx, `SELECT key, value FROM world_state WHERE doc @> $1::jsonb ORDER BY key`, containment)
}

func (s *Store) History(ctx context.Context, key string) iter.Seq2[contract.KeyModification, error] {
	return func(yield func(contract.KeyModification, error) bool) {
		rows, err := s.pool.Query(ctx, `
			SELECT tx_id, tx_timestamp, is_delete, value FROM world_state_history WHERE key = $1 ORDER BY seq`, []byte(key))
		if err != nil {
			yield(contract.KeyModification{}, fmt.Errorf("query history: %w", err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			var m contract.KeyModification
			var ts time.Time
			if err := rows.Scan(&m.TxID, &ts, &m.IsDelete, &m.Value); err != nil {
				yield(contract.KeyModification{}, fmt.Errorf("scan history: %w", err))
				return
			}
			m.Timestamp = timestamppb.New(ts)
			if !yield(m, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(contract.KeyModification{}, fmt.Errorf("iterate history: %w", err))
		}
	}
}

// CountByDocType counts stored documents by doc_type.
func (s *Store) CountByDocType(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc->>'doc_type', count(*) FROM world_state WHERE doc ? 'doc_type' GROUP BY 1`)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var docType string
		var n int64
		if err := rows.Scan(&docType, &n); err != nil {
			return nil, fmt.Errorf("scan document count: %w", err)
		}
		counts[docType] = int(n)
	}
	return counts, rows.Err()
}

// Close releases the pool.
func (s *Store) Close() error {
	s.logger.Println("Closing PostgreSQL world state pool...")
	s.pool.Close()
	return nil
}

// scanKV holds the cursor open only while the sequence is being pulled.
func (s *Store) scanKV(ctx context.Context, query string, args ...any) iter.Seq2[contract.KV, error] {
	return func(yield func(contract.KV, error) bool) {
		rows, err := s.pool.Query(ctx, query, args...)
		if err != nil {
			yield(contract.KV{}, fmt.Errorf("query world state: %w", err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			var key, value []byte
			if err := rows.Scan(&key, &value); err != nil {
				yield(contract.KV{}, fmt.Errorf("scan world state: %w", err))
				return
			}
			if !yield(contract.KV{Key: string(key), Value: value}, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(contract.KV{}, fmt.Errorf("iterate world state: %w", err))
		}
	}
}

// docParam mirrors JSON object values into the doc column; anything else is stored as NULL.
func docParam(value []byte) any {
	var obj map[string]json.RawMessage
	if json.Unmarshal(value, &obj) != nil {
		return nil
	}
	return string(value)
}

var (
	_ ledger.Backend       = (*Store)(nil)
	_ ledger.StatsReporter = (*Store)(nil)
)
