package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietddude/taskgraph/internal/core/domain"
)

// Document is the storage-level record for every entity type. Data holds
// the full JSON encoding of the entity, including its id and timestamps.
type Document struct {
	ID        string            `json:"id"`
	Type      domain.EntityType `json:"type"`
	Data      json.RawMessage   `json:"data"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	out := d
	if d.Data != nil {
		out.Data = append(json.RawMessage(nil), d.Data...)
	}
	return out
}

func cloneDocuments(docs []Document) []Document {
	out := make([]Document, len(docs))
	for i, d := range docs {
		out[i] = d.Clone()
	}
	return out
}

// Store is a backing store for entity documents. Implementations are
// selected once at startup; a missing id is reported by wrapping
// sql.ErrNoRows.
type Store interface {
	// List returns every document of an entity type, oldest first.
	List(ctx context.Context, entity domain.EntityType) ([]Document, error)

	// Get returns a single document.
	Get(ctx context.Context, entity domain.EntityType, id string) (Document, error)

	// ListBy returns documents whose top-level field equals value.
	ListBy(ctx context.Context, entity domain.EntityType, field, value string) ([]Document, error)

	// Insert stores a new document.
	Insert(ctx context.Context, doc Document) (Document, error)

	// Update merges patch into the document's top-level keys.
	Update(ctx context.Context, entity domain.EntityType, id string, patch json.RawMessage) (Document, error)

	// Delete removes a document.
	Delete(ctx context.Context, entity domain.EntityType, id string) error

	// Ping checks the store is reachable.
	Ping(ctx context.Context) error
}

// Patch is a partial update. Keys replace the matching top-level keys of
// the stored document; a nil value stores JSON null.
type Patch map[string]any

// MergePatch applies a top-level merge of patch onto base.
func MergePatch(base, patch json.RawMessage) (json.RawMessage, error) {
	var doc map[string]json.RawMessage
	if len(base) > 0 {
		if err := json.Unmarshal(base, &doc); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
	}
	if doc == nil {
		doc = make(map[string]json.RawMessage)
	}

	var changes map[string]json.RawMessage
	if err := json.Unmarshal(patch, &changes); err != nil {
		return nil, fmt.Errorf("decode patch: %w", err)
	}
	for k, v := range changes {
		doc[k] = v
	}
	return json.Marshal(doc)
}

// FieldString returns the string form of a top-level field of data, as
// Postgres' ->> operator would render it.
func FieldString(data json.RawMessage, field string) (string, bool) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", false
	}
	raw, ok := doc[field]
	if !ok || string(raw) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	return string(raw), true
}
