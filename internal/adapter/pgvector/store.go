package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"

	"github.com/kalinplus/WHUCS-Qwen3/internal/worker"
)

const DefaultTable = "document_chunks"

// Open connects through the pgx database/sql driver and checks the connection.
func Open(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// Store keeps chunk records in a Postgres table with a pgvector column.
type Store struct {
	db    *sql.DB
	table string
}

func NewStore(db *sql.DB, table string) *Store {
	if table == "" {
		table = DefaultTable
	}
	return &Store{db: db, table: pgx.Identifier{table}.Sanitize()}
}

// EnsureTable creates the vector extension and the chunk table if missing.
func (s *Store) EnsureTable(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("create extension: %w", err)
	}
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id          TEXT PRIMARY KEY,
			namespace   TEXT NOT NULL,
			source_id   TEXT NOT NULL,
			chunk_index INT NOT NULL,
			content     TEXT NOT NULL,
			metadata    JSONB NOT NULL DEFAULT '{}'::jsonb,
			embedding   vector NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.table)
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// Upsert writes all records in a single transaction.
func (s *Store) Upsert(ctx context.Context, records []worker.IndexRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: begin: %v", worker.ErrIndex, err)
	}

	q := fmt.Sprintf(`
		INSERT INTO %s (id, namespace, source_id, chunk_index, content, metadata, embedding, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (id) DO UPDATE SET
			namespace = EXCLUDED.namespace,
			source_id = EXCLUDED.source_id,
			chunk_index = EXCLUDED.chunk_index,
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding,
			updated_at = now()
	`, s.table)
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%w: prepare: %v", worker.ErrIndex, err)
	}
	defer stmt.Close()

	for _, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: encode metadata of %s: %v", worker.ErrIndex, r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.Namespace, r.SourceID, r.Ordinal, r.Text, string(meta), pgvector.NewVector(r.Vector),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: upsert %s: %v", worker.ErrIndex, r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", worker.ErrIndex, err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, s.table)).Scan(&n)
	return n, err
}
