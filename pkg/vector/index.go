package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/npcforge/npcforge/pkg/logger"
)

// embedBatch bounds how many texts are sent to the embedder at once.
const embedBatch = 64

// MetricsRecorder records vector index events.
type MetricsRecorder interface {
	RecordReindex(indexType string)
}

type noopMetrics struct{}

func (noopMetrics) RecordReindex(string) {}

// Source yields the authoritative documents of a collection for reindexing.
type Source interface {
	Documents(ctx context.Context, kind Kind) ([]Document, error)
}

// CollectionStats describes one collection.
type CollectionStats struct {
	VectorCount    int  `json:"vector_count"`
	IndexExists    bool `json:"index_exists"`
	MetadataExists bool `json:"metadata_exists"`
}

// ReindexResult is returned by Reindex.
type ReindexResult struct {
	Status         string `json:"status"`
	IndexType      Kind   `json:"index_type"`
	VectorsIndexed int    `json:"vectors_indexed"`
	Message        string `json:"message"`
}

// Index embeds text and routes documents to the three collections.
type Index struct {
	backend     Backend
	embedder    Embedder
	collections map[Kind]Collection
	log         logger.Logger
	metrics     MetricsRecorder

	// reindexMu serialises rebuilds per collection.
	reindexMu map[Kind]*sync.Mutex
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the index logger.
func WithLogger(l logger.Logger) Option {
	return func(x *Index) { x.log = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(x *Index) { x.metrics = m }
}

// NewIndex opens all three collections on backend.
func NewIndex(backend Backend, embedder Embedder, opts ...Option) (*Index, error) {
	x := &Index{
		backend:     backend,
		embedder:    embedder,
		collections: make(map[Kind]Collection, len(Kinds)),
		log:         logger.Nop(),
		metrics:     noopMetrics{},
		reindexMu:   make(map[Kind]*sync.Mutex, len(Kinds)),
	}
	for _, opt := range opts {
		opt(x)
	}
	for _, kind := range Kinds {
		c, err := backend.Collection(kind, embedder.Dimension())
		if err != nil {
			return nil, fmt.Errorf("vector: open %s collection failed: %w", kind, err)
		}
		x.collections[kind] = c
		x.reindexMu[kind] = &sync.Mutex{}
	}
	return x, nil
}

func (x *Index) collection(kind Kind) (Collection, error) {
	c, ok := x.collections[kind]
	if !ok {
		_, err := ParseKind(string(kind))
		return nil, err
	}
	return c, nil
}

// Embed embeds a single text.
func (x *Index) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := x.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Upsert embeds and stores documents in the kind collection.
func (x *Index) Upsert(ctx context.Context, kind Kind, docs ...Document) error {
	c, err := x.collection(kind)
	if err != nil {
		return err
	}
	for start := 0; start < len(docs); start += embedBatch {
		batch := docs[start:min(start+embedBatch, len(docs))]
		texts := make([]string, len(batch))
		for i, d := range batch {
			texts[i] = d.Text
		}
		vecs, err := x.embedder.Embed(ctx, texts)
		if err != nil {
			return err
		}
		if err := c.Upsert(ctx, batch, vecs); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes documents from the kind collection.
func (x *Index) Delete(ctx context.Context, kind Kind, ids ...string) error {
	c, err := x.collection(kind)
	if err != nil {
		return err
	}
	return c.Delete(ctx, ids...)
}

// DeleteWhere removes every document in kind whose metadata matches where.
func (x *Index) DeleteWhere(ctx context.Context, kind Kind, where map[string]string) (int, error) {
	c, err := x.collection(kind)
	if err != nil {
		return 0, err
	}
	docs, err := c.Documents(ctx, where)
	if err != nil {
		return 0, err
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return len(ids), c.Delete(ctx, ids...)
}

// Search embeds query and returns the topK best hits in kind.
func (x *Index) Search(ctx context.Context, kind Kind, query string, topK int, where map[string]string) ([]Hit, error) {
	vec, err := x.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return x.SearchVector(ctx, kind, vec, topK, where)
}

// SearchVector searches kind with a precomputed embedding.
func (x *Index) SearchVector(ctx context.Context, kind Kind, vec []float32, topK int, where map[string]string) ([]Hit, error) {
	c, err := x.collection(kind)
	if err != nil {
		return nil, err
	}
	hits, err := c.Query(ctx, vec, topK, where)
	if err != nil {
		return nil, err
	}
	for i := range hits {
		hits[i].Index = kind
	}
	return hits, nil
}

// Browse lists indexed documents matching where, newest first.
func (x *Index) Browse(ctx context.Context, kind Kind, where map[string]string, limit int) ([]Hit, error) {
	c, err := x.collection(kind)
	if err != nil {
		return nil, err
	}
	docs, err := c.Documents(ctx, where)
	if err != nil {
		return nil, err
	}
	sort.Slice(docs, func(i, j int) bool {
		a, b := docs[i].Metadata[MetaCreatedAt], docs[j].Metadata[MetaCreatedAt]
		if a == b {
			return docs[i].ID > docs[j].ID
		}
		return a > b
	})
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	hits := make([]Hit, len(docs))
	for i, d := range docs {
		hits[i] = hitFromDocument(kind, d, 0)
	}
	return hits, nil
}

// Reset empties a collection.
func (x *Index) Reset(ctx context.Context, kind Kind) error {
	c, err := x.collection(kind)
	if err != nil {
		return err
	}
	return c.Reset(ctx)
}

// Reindex rebuilds kind from src. Items deleted at the source disappear
// from search results afterwards.
func (x *Index) Reindex(ctx context.Context, kind Kind, src Source) (*ReindexResult, error) {
	if _, err := x.collection(kind); err != nil {
		return nil, err
	}
	mu := x.reindexMu[kind]
	mu.Lock()
	defer mu.Unlock()

	docs, err := src.Documents(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("vector: load %s source failed: %w", kind, err)
	}
	if err := x.Reset(ctx, kind); err != nil {
		return nil, err
	}
	if err := x.Upsert(ctx, kind, docs...); err != nil {
		return nil, err
	}

	x.metrics.RecordReindex(string(kind))
	x.log.Info("vector collection reindexed", "index_type", kind, "vectors", len(docs))

	return &ReindexResult{
		Status:         "success",
		IndexType:      kind,
		VectorsIndexed: len(docs),
		Message:        fmt.Sprintf("Reindexed %s index with %d vectors", kind, len(docs)),
	}, nil
}

// Stats reports size and existence flags per collection.
func (x *Index) Stats() map[Kind]CollectionStats {
	out := make(map[Kind]CollectionStats, len(x.collections))
	for kind, c := range x.collections {
		out[kind] = CollectionStats{
			VectorCount:    c.Count(),
			IndexExists:    c.Exists(),
			MetadataExists: c.MetadataExists(),
		}
	}
	return out
}

// Close releases the backend.
func (x *Index) Close() error {
	return x.backend.Close()
}
