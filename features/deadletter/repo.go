package deadletter

import (
	"context"
	"database/sql"
	"errors"
)

type Repository interface {
	Save(ctx context.Context, l *Letter) error
	List(ctx context.Context, limit int) ([]Letter, error)
	Get(ctx context.Context, id string) (*Letter, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Save stores l once per message id. A redelivered message keeps its first
// letter, whose id and creation time are copied into l.
func (r *PostgresRepo) Save(ctx context.Context, l *Letter) error {
	query := `INSERT INTO dead_letters (message_id, source_id, consumer, payload, error) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (message_id) DO NOTHING RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, l.MessageID, l.SourceID, l.Consumer, l.Payload, l.Error).Scan(&l.ID, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		query = `SELECT id, created_at FROM dead_letters WHERE message_id = $1`
		return r.db.QueryRowContext(ctx, query, l.MessageID).Scan(&l.ID, &l.CreatedAt)
	}
	return err
}

func (r *PostgresRepo) List(ctx context.Context, limit int) ([]Letter, error) {
	query := `SELECT id, message_id, source_id, consumer, payload, error, created_at FROM dead_letters ORDER BY created_at DESC LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var letters []Letter
	for rows.Next() {
		var l Letter
		if err := rows.Scan(&l.ID, &l.MessageID, &l.SourceID, &l.Consumer, &l.Payload, &l.Error, &l.CreatedAt); err != nil {
			return nil, err
		}
		letters = append(letters, l)
	}
	return letters, rows.Err()
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Letter, error) {
	l := &Letter{}
	query := `SELECT id, message_id, source_id, consumer, payload, error, created_at FROM dead_letters WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&l.ID, &l.MessageID, &l.SourceID, &l.Consumer, &l.Payload, &l.Error, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM dead_letters WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM dead_letters`
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}
