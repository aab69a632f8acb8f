// Package vector maintains the three similarity collections used for NPC
// retrieval: episodic memories, persona knowledge and world knowledge.
package vector

import (
	"context"
	"errors"
	"strings"

	"github.com/npcforge/npcforge/pkg/model"
)

// Kind names one of the three collections.
type Kind string

const (
	Episodic Kind = "episodic"
	Persona  Kind = "persona"
	World    Kind = "world"
)

// Kinds lists every collection in a stable order.
var Kinds = []Kind{Episodic, Persona, World}

// ParseKind validates a collection name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case Episodic, Persona, World:
		return k, nil
	}
	return "", model.NewValidation("index_type", "must be one of episodic, persona, world; got %q", s)
}

// Metadata keys stored with every document.
const (
	MetaSourceType = "source_type"
	MetaSourceID   = "source_id"
	MetaNPCID      = "npc_id"
	MetaPersonaID  = "persona_id"
	MetaWorldID    = "world_id"
	MetaDimension  = "dimension"
	MetaChunk      = "chunk"
	MetaCreatedAt  = "created_at"
)

// Source types recorded under MetaSourceType.
const (
	SourceMemory  = "memory"
	SourcePersona = "persona"
	SourceFact    = "persona_fact"
	SourceWorld   = "world"
)

// ErrDimensionMismatch is returned when a vector has the wrong length.
var ErrDimensionMismatch = errors.New("vector: dimension mismatch")

// Document is one indexed text with its filterable metadata.
type Document struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

// Hit is a ranked search result.
type Hit struct {
	VectorID   string            `json:"vector_id"`
	SourceType string            `json:"source_type"`
	SourceID   string            `json:"source_id"`
	Score      float64           `json:"similarity_score"`
	Text       string            `json:"text"`
	Metadata   map[string]string `json:"metadata"`
	Index      Kind              `json:"index"`
}

func hitFromDocument(kind Kind, doc Document, score float64) Hit {
	return Hit{
		VectorID:   doc.ID,
		SourceType: doc.Metadata[MetaSourceType],
		SourceID:   doc.Metadata[MetaSourceID],
		Score:      score,
		Text:       doc.Text,
		Metadata:   doc.Metadata,
		Index:      kind,
	}
}

// Collection stores embedded documents of one kind.
type Collection interface {
	// Upsert inserts or replaces documents. embeddings[i] belongs to docs[i].
	Upsert(ctx context.Context, docs []Document, embeddings [][]float32) error

	// Query returns up to topK documents matching every where pair, most
	// similar first. An empty collection returns no hits.
	Query(ctx context.Context, embedding []float32, topK int, where map[string]string) ([]Hit, error)

	// Documents returns every document matching where, in no particular order.
	Documents(ctx context.Context, where map[string]string) ([]Document, error)

	// Delete removes documents by id. Unknown ids are ignored.
	Delete(ctx context.Context, ids ...string) error

	// Reset drops all documents.
	Reset(ctx context.Context) error

	Count() int
	Exists() bool
	MetadataExists() bool
}

// Backend creates collections.
type Backend interface {
	Collection(kind Kind, dimension int) (Collection, error)
	Close() error
}

func matches(meta map[string]string, where map[string]string) bool {
	for k, v := range where {
		if meta[k] != v {
			return false
		}
	}
	return true
}
