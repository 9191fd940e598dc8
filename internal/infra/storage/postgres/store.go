package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietddude/taskgraph/internal/core/domain"
	"github.com/vietddude/taskgraph/internal/infra/storage"
)

// Store implements storage.Store on a single jsonb table.
type Store struct {
	db *DB
}

// NewStore creates a PostgreSQL-backed store.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

var _ storage.Store = (*Store)(nil)

type entityRow struct {
	ID         string    `db:"id"`
	EntityType string    `db:"entity_type"`
	Data       []byte    `db:"data"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r entityRow) document() storage.Document {
	return storage.Document{
		ID:        r.ID,
		Type:      domain.EntityType(r.EntityType),
		Data:      json.RawMessage(r.Data),
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func documents(rows []entityRow) []storage.Document {
	out := make([]storage.Document, len(rows))
	for i, r := range rows {
		out[i] = r.document()
	}
	return out
}

const selectColumns = `id, entity_type, data::text AS data, created_at, updated_at`

func (s *Store) List(ctx context.Context, entity domain.EntityType) ([]storage.Document, error) {
	var rows []entityRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+selectColumns+` FROM entities WHERE entity_type = $1 ORDER BY created_at, id`,
		string(entity))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", entity, err)
	}
	return documents(rows), nil
}

func (s *Store) Get(ctx context.Context, entity domain.EntityType, id string) (storage.Document, error) {
	var row entityRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+selectColumns+` FROM entities WHERE entity_type = $1 AND id = $2`,
		string(entity), id)
	if err != nil {
		return storage.Document{}, fmt.Errorf("failed to get %s %s: %w", entity, id, err)
	}
	return row.document(), nil
}

func (s *Store) ListBy(ctx context.Context, entity domain.EntityType, field, value string) ([]storage.Document, error) {
	var rows []entityRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+selectColumns+` FROM entities
		 WHERE entity_type = $1 AND data->>$2 = $3
		 ORDER BY created_at, id`,
		string(entity), field, value)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s by %s: %w", entity, field, err)
	}
	return documents(rows), nil
}

func (s *Store) Insert(ctx context.Context, doc storage.Document) (storage.Document, error) {
	created := doc.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	updated := doc.UpdatedAt
	if updated.IsZero() {
		updated = created
	}

	var row entityRow
	err := s.db.GetContext(ctx, &row,
		`INSERT INTO entities (id, entity_type, data, created_at, updated_at)
		 VALUES ($1, $2, $3::jsonb, $4, $5)
		 RETURNING `+selectColumns,
		doc.ID, string(doc.Type), string(doc.Data), created, updated)
	if err != nil {
		return storage.Document{}, fmt.Errorf("failed to insert %s %s: %w", doc.Type, doc.ID, err)
	}
	return row.document(), nil
}

func (s *Store) Update(ctx context.Context, entity domain.EntityType, id string, patch json.RawMessage) (storage.Document, error) {
	var row entityRow
	err := s.db.GetContext(ctx, &row,
		`UPDATE entities
		 SET data = data || $3::jsonb, updated_at = NOW()
		 WHERE entity_type = $1 AND id = $2
		 RETURNING `+selectColumns,
		string(entity), id, string(patch))
	if err != nil {
		return storage.Document{}, fmt.Errorf("failed to update %s %s: %w", entity, id, err)
	}
	return row.document(), nil
}

func (s *Store) Delete(ctx context.Context, entity domain.EntityType, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM entities WHERE entity_type = $1 AND id = $2`,
		string(entity), id)
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", entity, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", entity, id, err)
	}
	if n == 0 {
		return fmt.Errorf("failed to delete %s %s: %w", entity, id, sql.ErrNoRows)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Health(ctx)
}
