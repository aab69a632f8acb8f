package vector

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// ChromemBackend stores collections in chromem-go, an embedded vector
// database. With a path the database is persisted to disk.
type ChromemBackend struct {
	db *chromem.DB
}

// NewChromemBackend opens a chromem database. An empty path keeps it in memory.
func NewChromemBackend(path string, compress bool) (*ChromemBackend, error) {
	if path == "" {
		return &ChromemBackend{db: chromem.NewDB()}, nil
	}
	db, err := chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, fmt.Errorf("vector: open chromem db failed: %w", err)
	}
	return &ChromemBackend{db: db}, nil
}

// Collection returns the chromem collection for kind.
func (b *ChromemBackend) Collection(kind Kind, dimension int) (Collection, error) {
	c := &ChromemCollection{
		db:        b.db,
		name:      "npc_" + string(kind),
		dimension: dimension,
	}
	// Only open collections that already exist; an absent collection is
	// created on first write so Exists stays meaningful.
	c.col = b.db.GetCollection(c.name, nil)
	return c, nil
}

// Close is a no-op; chromem persists on every write.
func (b *ChromemBackend) Close() error { return nil }

// ChromemCollection adapts a chromem collection to Collection.
type ChromemCollection struct {
	mu        sync.RWMutex
	db        *chromem.DB
	col       *chromem.Collection
	name      string
	dimension int
}

func (c *ChromemCollection) ensure() (*chromem.Collection, error) {
	if c.col != nil {
		return c.col, nil
	}
	// We always supply embeddings, so no embedding func is needed.
	col, err := c.db.GetOrCreateCollection(c.name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector: create collection failed: %w", err)
	}
	c.col = col
	return col, nil
}

// Upsert adds or replaces documents.
func (c *ChromemCollection) Upsert(ctx context.Context, docs []Document, embeddings [][]float32) error {
	if len(docs) != len(embeddings) {
		return fmt.Errorf("vector: %d documents but %d embeddings", len(docs), len(embeddings))
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	col, err := c.ensure()
	if err != nil {
		return err
	}
	for i, doc := range docs {
		if len(embeddings[i]) != c.dimension {
			return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, c.dimension, len(embeddings[i]))
		}
		err := col.AddDocument(ctx, chromem.Document{
			ID:        doc.ID,
			Content:   doc.Text,
			Embedding: embeddings[i],
			Metadata:  doc.Metadata,
		})
		if err != nil {
			return fmt.Errorf("vector: add document %s failed: %w", doc.ID, err)
		}
	}
	return nil
}

// Query returns the topK most similar documents matching where.
func (c *ChromemCollection) Query(ctx context.Context, embedding []float32, topK int, where map[string]string) ([]Hit, error) {
	if len(embedding) != c.dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, c.dimension, len(embedding))
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.query(ctx, embedding, topK, where)
}

func (c *ChromemCollection) query(ctx context.Context, embedding []float32, topK int, where map[string]string) ([]Hit, error) {
	if c.col == nil || topK <= 0 {
		return nil, nil
	}
	// chromem-go requires nResults <= collection size.
	n := min(topK, c.col.Count())
	if n == 0 {
		return nil, nil
	}
	if len(where) == 0 {
		where = nil
	}
	results, err := c.col.QueryEmbedding(ctx, embedding, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("vector: chromem query failed: %w", err)
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		doc := Document{ID: r.ID, Text: r.Content, Metadata: r.Metadata}
		hits = append(hits, hitFromDocument("", doc, float64(r.Similarity)))
	}
	return hits, nil
}

// Documents lists matching documents by querying with a fixed probe vector
// across the whole collection.
func (c *ChromemCollection) Documents(ctx context.Context, where map[string]string) ([]Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.col == nil {
		return nil, nil
	}
	probe := make([]float32, c.dimension)
	probe[0] = 1
	hits, err := c.query(ctx, probe, c.col.Count(), where)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, len(hits))
	for i, h := range hits {
		docs[i] = Document{ID: h.VectorID, Text: h.Text, Metadata: h.Metadata}
	}
	return docs, nil
}

// Delete removes documents by id.
func (c *ChromemCollection) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.col == nil {
		return nil
	}
	if err := c.col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("vector: chromem delete failed: %w", err)
	}
	return nil
}

// Reset drops and recreates the collection.
func (c *ChromemCollection) Reset(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.col != nil {
		if err := c.db.DeleteCollection(c.name); err != nil {
			return fmt.Errorf("vector: drop collection failed: %w", err)
		}
		c.col = nil
	}
	_, err := c.ensure()
	return err
}

// Count returns the number of documents.
func (c *ChromemCollection) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.col == nil {
		return 0
	}
	return c.col.Count()
}

// Exists reports whether the collection has been created.
func (c *ChromemCollection) Exists() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.col != nil
}

// MetadataExists reports whether the collection holds any documents.
func (c *ChromemCollection) MetadataExists() bool {
	return c.Count() > 0
}
