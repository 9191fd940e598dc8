package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/taskgraph/internal/core/domain"
	"github.com/vietddude/taskgraph/internal/infra/storage"
)

// Store keeps documents in process memory. It backs local runs and tests.
type Store struct {
	docs map[domain.EntityType]map[string]storage.Document
	now  func() time.Time
	mu   sync.RWMutex
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		docs: make(map[domain.EntityType]map[string]storage.Document),
		now:  time.Now,
	}
}

var _ storage.Store = (*Store)(nil)

func (s *Store) List(ctx context.Context, entity domain.EntityType) ([]storage.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.Document, 0, len(s.docs[entity]))
	for _, d := range s.docs[entity] {
		out = append(out, d.Clone())
	}
	sortDocuments(out)
	return out, nil
}

func (s *Store) Get(ctx context.Context, entity domain.EntityType, id string) (storage.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[entity][id]
	if !ok {
		return storage.Document{}, fmt.Errorf("get %s %s: %w", entity, id, sql.ErrNoRows)
	}
	return d.Clone(), nil
}

func (s *Store) ListBy(ctx context.Context, entity domain.EntityType, field, value string) ([]storage.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []storage.Document
	for _, d := range s.docs[entity] {
		if v, ok := storage.FieldString(d.Data, field); ok && v == value {
			out = append(out, d.Clone())
		}
	}
	sortDocuments(out)
	return out, nil
}

func (s *Store) Insert(ctx context.Context, doc storage.Document) (storage.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.docs[doc.Type]
	if !ok {
		bucket = make(map[string]storage.Document)
		s.docs[doc.Type] = bucket
	}
	if _, exists := bucket[doc.ID]; exists {
		return storage.Document{}, fmt.Errorf(`duplicate key value violates unique constraint "entities_pkey": %s %s`, doc.Type, doc.ID)
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = s.now().UTC()
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}
	bucket[doc.ID] = doc.Clone()
	return doc.Clone(), nil
}

func (s *Store) Update(ctx context.Context, entity domain.EntityType, id string, patch json.RawMessage) (storage.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[entity][id]
	if !ok {
		return storage.Document{}, fmt.Errorf("update %s %s: %w", entity, id, sql.ErrNoRows)
	}
	merged, err := storage.MergePatch(d.Data, patch)
	if err != nil {
		return storage.Document{}, fmt.Errorf("update %s %s: invalid input: %w", entity, id, err)
	}
	d.Data = merged
	d.UpdatedAt = s.now().UTC()
	s.docs[entity][id] = d
	return d.Clone(), nil
}

func (s *Store) Delete(ctx context.Context, entity domain.EntityType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[entity][id]; !ok {
		return fmt.Errorf("delete %s %s: %w", entity, id, sql.ErrNoRows)
	}
	delete(s.docs[entity], id)
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Len returns the number of stored documents of entity.
func (s *Store) Len(entity domain.EntityType) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs[entity])
}

func sortDocuments(docs []storage.Document) {
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.Before(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
}
