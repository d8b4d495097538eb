package archive

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

const schema = `
CREATE TABLE IF NOT EXISTS archive (
    id         VARCHAR(64) PRIMARY KEY,
    title      TEXT        NOT NULL,
    source     TEXT        NOT NULL,
    path       TEXT        NOT NULL,
    kind       VARCHAR(32) NOT NULL,
    bytes      INTEGER     NOT NULL,
    created_at DATETIME    NOT NULL
);
`

type Repository interface {
	Insert(ctx context.Context, e *Entity) error
	List(ctx context.Context, limit int) ([]Entity, error)
	Get(ctx context.Context, id string) (*Entity, error)
	Delete(ctx context.Context, id string) error
}

type sqlRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) (Repository, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}
	return &sqlRepository{db: db}, nil
}

func (r *sqlRepository) Insert(ctx context.Context, e *Entity) error {
	if e.Id == "" {
		e.Id = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	const q = `INSERT INTO archive (id, title, source, path, kind, bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, q, e.Id, e.Title, e.Source, e.Path, e.Kind, e.Bytes, e.CreatedAt)
	return err
}

func (r *sqlRepository) List(ctx context.Context, limit int) ([]Entity, error) {
	if limit <= 0 {
		limit = 100
	}

	const q = `SELECT id, title, source, path, kind, bytes, created_at
		FROM archive ORDER BY created_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entity, 0)
	for rows.Next() {
		var e Entity
		if err := rows.Scan(&e.Id, &e.Title, &e.Source, &e.Path, &e.Kind, &e.Bytes, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *sqlRepository) Get(ctx context.Context, id string) (*Entity, error) {
	const q = `SELECT id, title, source, path, kind, bytes, created_at
		FROM archive WHERE id = ?`

	var e Entity
	err := r.db.QueryRowContext(ctx, q, id).
		Scan(&e.Id, &e.Title, &e.Source, &e.Path, &e.Kind, &e.Bytes, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *sqlRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM archive WHERE id = ?`, id)
	return err
}
