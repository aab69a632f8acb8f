package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FlatBackend keeps collections in memory and searches them by brute-force
// cosine similarity. When dir is set every mutation is snapshotted to
// <dir>/<kind>.vec and <dir>/<kind>.meta.json.
type FlatBackend struct {
	dir string
}

// NewFlatBackend creates a flat backend. An empty dir disables persistence.
func NewFlatBackend(dir string) (*FlatBackend, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("vector: create dir failed: %w", err)
		}
	}
	return &FlatBackend{dir: dir}, nil
}

// Collection opens or creates the collection for kind, loading any snapshot.
func (b *FlatBackend) Collection(kind Kind, dimension int) (Collection, error) {
	c := &FlatCollection{
		dimension: dimension,
		vectors:   make(map[string][]float32),
		docs:      make(map[string]Document),
	}
	if b.dir == "" {
		return c, nil
	}
	c.vecPath = filepath.Join(b.dir, string(kind)+".vec")
	c.metaPath = filepath.Join(b.dir, string(kind)+".meta.json")
	if err := c.load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return c, nil
}

// Close is a no-op; snapshots are written on every mutation.
func (b *FlatBackend) Close() error { return nil }

// FlatCollection is a brute-force cosine index over one kind of document.
type FlatCollection struct {
	mu        sync.RWMutex
	dimension int
	vectors   map[string][]float32 // docID -> vector
	docs      map[string]Document  // docID -> document
	created   bool

	vecPath  string
	metaPath string
}

// NewFlatCollection returns an in-memory collection.
func NewFlatCollection(dimension int) *FlatCollection {
	return &FlatCollection{
		dimension: dimension,
		vectors:   make(map[string][]float32),
		docs:      make(map[string]Document),
	}
}

// Upsert adds or replaces documents.
func (c *FlatCollection) Upsert(_ context.Context, docs []Document, embeddings [][]float32) error {
	if len(docs) != len(embeddings) {
		return fmt.Errorf("vector: %d documents but %d embeddings", len(docs), len(embeddings))
	}
	for _, vec := range embeddings {
		if len(vec) != c.dimension {
			return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, c.dimension, len(vec))
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, doc := range docs {
		c.vectors[doc.ID] = embeddings[i]
		c.docs[doc.ID] = doc
	}
	c.created = true
	return c.persist()
}

// Query finds the topK most similar documents that match where.
func (c *FlatCollection) Query(_ context.Context, query []float32, topK int, where map[string]string) ([]Hit, error) {
	if len(query) != c.dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, c.dimension, len(query))
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	type scored struct {
		id    string
		score float64
	}

	var results []scored
	for id, vec := range c.vectors {
		if !matches(c.docs[id].Metadata, where) {
			continue
		}
		results = append(results, scored{id: id, score: cosineSimilarity(query, vec)})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score == results[j].score {
			return results[i].id < results[j].id
		}
		return results[i].score > results[j].score
	})

	if topK > len(results) {
		topK = len(results)
	}
	hits := make([]Hit, 0, topK)
	for _, r := range results[:topK] {
		hits = append(hits, hitFromDocument("", c.docs[r.id], r.score))
	}
	return hits, nil
}

// Documents returns all documents matching where.
func (c *FlatCollection) Documents(_ context.Context, where map[string]string) ([]Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Document
	for _, doc := range c.docs {
		if matches(doc.Metadata, where) {
			out = append(out, doc)
		}
	}
	return out, nil
}

// Delete removes documents by id.
func (c *FlatCollection) Delete(_ context.Context, ids ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.vectors, id)
		delete(c.docs, id)
	}
	return c.persist()
}

// Reset drops every document.
func (c *FlatCollection) Reset(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vectors = make(map[string][]float32)
	c.docs = make(map[string]Document)
	c.created = true
	return c.persist()
}

// Count returns the number of vectors in the collection.
func (c *FlatCollection) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.vectors)
}

// Exists reports whether the index has been built or persisted.
func (c *FlatCollection) Exists() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vecPath != "" {
		return fileExists(c.vecPath)
	}
	return c.created
}

// MetadataExists reports whether document metadata is available.
func (c *FlatCollection) MetadataExists() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.metaPath != "" {
		return fileExists(c.metaPath)
	}
	return len(c.docs) > 0
}

// persist writes both snapshot files. Caller holds the write lock.
func (c *FlatCollection) persist() error {
	if c.vecPath == "" {
		return nil
	}
	if err := c.saveVectors(c.vecPath); err != nil {
		return err
	}
	return c.saveMetadata(c.metaPath)
}

// saveVectors writes the vector snapshot.
// Format: [dimension:uint32][count:uint32] then for each entry:
// [idLen:uint16][id:bytes][vector:float32*dim]
func (c *FlatCollection) saveVectors(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("vector: save failed: %w", err)
	}
	w := bufio.NewWriter(f)

	write := func() error {
		if err := binary.Write(w, binary.LittleEndian, uint32(c.dimension)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(c.vectors))); err != nil {
			return err
		}
		for id, vec := range c.vectors {
			if err := binary.Write(w, binary.LittleEndian, uint16(len(id))); err != nil {
				return err
			}
			if _, err := w.WriteString(id); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, vec); err != nil {
				return err
			}
		}
		return w.Flush()
	}
	if err := write(); err != nil {
		f.Close()
		return fmt.Errorf("vector: save failed: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("vector: save failed: %w", err)
	}
	return os.Rename(tmp, path)
}

func (c *FlatCollection) saveMetadata(path string) error {
	docs := make([]Document, 0, len(c.docs))
	for _, doc := range c.docs {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })

	data, err := json.Marshal(docs)
	if err != nil {
		return fmt.Errorf("vector: encode metadata failed: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("vector: save metadata failed: %w", err)
	}
	return os.Rename(tmp, path)
}

// load restores both snapshot files.
func (c *FlatCollection) load() error {
	f, err := os.Open(c.vecPath)
	if err != nil {
		return err
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var dim, count uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("vector: load failed: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return fmt.Errorf("vector: load failed: %w", err)
	}
	if int(dim) != c.dimension {
		return fmt.Errorf("%w: file has %d, index expects %d", ErrDimensionMismatch, dim, c.dimension)
	}

	vectors := make(map[string][]float32, count)
	for i := uint32(0); i < count; i++ {
		var idLen uint16
		if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
			return fmt.Errorf("vector: load failed: %w", err)
		}
		idBuf := make([]byte, idLen)
		if _, err := io.ReadFull(r, idBuf); err != nil {
			return fmt.Errorf("vector: load failed: %w", err)
		}
		vec := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return fmt.Errorf("vector: load failed: %w", err)
		}
		vectors[string(idBuf)] = vec
	}

	data, err := os.ReadFile(c.metaPath)
	if err != nil {
		return fmt.Errorf("vector: load metadata failed: %w", err)
	}
	var docs []Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return fmt.Errorf("vector: decode metadata failed: %w", err)
	}

	c.docs = make(map[string]Document, len(docs))
	for _, doc := range docs {
		if _, ok := vectors[doc.ID]; ok {
			c.docs[doc.ID] = doc
		}
	}
	c.vectors = make(map[string][]float32, len(c.docs))
	for id := range c.docs {
		c.vectors[id] = vectors[id]
	}
	c.created = true
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// cosineSimilarity calculates the cosine similarity between two vectors.
func cosineSimilarity(a []float32, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dotProduct / denom
}
