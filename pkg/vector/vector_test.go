package vector

import (
	"context"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npcforge/npcforge/pkg/model"
	"github.com/npcforge/npcforge/pkg/storage/memory"
)

const testDim = 64

func doc(id, text string, meta map[string]string) Document {
	if meta == nil {
		meta = map[string]string{}
	}
	return Document{ID: id, Text: text, Metadata: meta}
}

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	flat, err := NewFlatBackend("")
	require.NoError(t, err)
	chrom, err := NewChromemBackend("", false)
	require.NoError(t, err)
	return map[string]Backend{"flat": flat, "chromem": chrom}
}

func TestCollections(t *testing.T) {
	ctx := context.Background()
	emb := NewHashEmbedder(testDim)

	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			idx, err := NewIndex(backend, emb)
			require.NoError(t, err)

			stats := idx.Stats()[Episodic]
			assert.Equal(t, 0, stats.VectorCount)
			assert.False(t, stats.IndexExists)

			hits, err := idx.Search(ctx, Episodic, "anything", 5, nil)
			require.NoError(t, err)
			assert.Empty(t, hits, "empty collection yields zero hits")

			require.NoError(t, idx.Upsert(ctx, Episodic,
				doc("mem:1", "the dragon attacked the village", map[string]string{MetaNPCID: "npc_a", MetaSourceID: "1", MetaSourceType: SourceMemory}),
				doc("mem:2", "a merchant sold bread at the market", map[string]string{MetaNPCID: "npc_a", MetaSourceID: "2", MetaSourceType: SourceMemory}),
				doc("mem:3", "the dragon attacked the castle", map[string]string{MetaNPCID: "npc_b", MetaSourceID: "3", MetaSourceType: SourceMemory}),
			))

			stats = idx.Stats()[Episodic]
			assert.Equal(t, 3, stats.VectorCount)
			assert.True(t, stats.IndexExists)
			assert.True(t, stats.MetadataExists)

			hits, err = idx.Search(ctx, Episodic, "dragon attacked the village", 2, map[string]string{MetaNPCID: "npc_a"})
			require.NoError(t, err)
			require.Len(t, hits, 2)
			assert.Equal(t, "mem:1", hits[0].VectorID)
			assert.Equal(t, "1", hits[0].SourceID)
			assert.Equal(t, SourceMemory, hits[0].SourceType)
			assert.Equal(t, Episodic, hits[0].Index)
			assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)

			// Upsert replaces by id.
			require.NoError(t, idx.Upsert(ctx, Episodic, doc("mem:2", "a merchant sold apples", map[string]string{MetaNPCID: "npc_a"})))
			assert.Equal(t, 3, idx.Stats()[Episodic].VectorCount)

			require.NoError(t, idx.Delete(ctx, Episodic, "mem:1", "mem:missing"))
			assert.Equal(t, 2, idx.Stats()[Episodic].VectorCount)

			n, err := idx.DeleteWhere(ctx, Episodic, map[string]string{MetaNPCID: "npc_b"})
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			require.NoError(t, idx.Reset(ctx, Episodic))
			stats = idx.Stats()[Episodic]
			assert.Equal(t, 0, stats.VectorCount)
			assert.True(t, stats.IndexExists)
		})
	}
}

func TestFlatCollection_DimensionMismatch(t *testing.T) {
	c := NewFlatCollection(3)
	err := c.Upsert(context.Background(), []Document{doc("a", "x", nil)}, [][]float32{{1, 0}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = c.Query(context.Background(), []float32{1}, 1, nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestFlatCollection_QueryOrdering(t *testing.T) {
	c := NewFlatCollection(3)
	ctx := context.Background()
	require.NoError(t, c.Upsert(ctx,
		[]Document{doc("a", "a", nil), doc("b", "b", nil), doc("c", "c", nil)},
		[][]float32{{1, 0, 0}, {0, 1, 0}, {0.9, 0.1, 0}},
	))

	hits, err := c.Query(ctx, []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].VectorID)
	assert.InDelta(t, 1.0, hits[0].Score, 0.001)
	assert.Equal(t, "c", hits[1].VectorID)
}

func TestFlatBackend_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	emb := NewHashEmbedder(testDim)

	backend, err := NewFlatBackend(dir)
	require.NoError(t, err)
	idx, err := NewIndex(backend, emb)
	require.NoError(t, err)
	assert.False(t, idx.Stats()[World].IndexExists)

	require.NoError(t, idx.Upsert(ctx, World,
		doc("world:w:law:0", "Law: no magic in the capital", map[string]string{MetaWorldID: "w"}),
		doc("world:w:law:1", "Law: taxes are due at harvest", map[string]string{MetaWorldID: "w"}),
	))
	stats := idx.Stats()[World]
	assert.True(t, stats.IndexExists)
	assert.True(t, stats.MetadataExists)

	reopened, err := NewFlatBackend(dir)
	require.NoError(t, err)
	idx2, err := NewIndex(reopened, emb)
	require.NoError(t, err)
	assert.Equal(t, 2, idx2.Stats()[World].VectorCount)

	hits, err := idx2.Search(ctx, World, "magic in the capital", 1, map[string]string{MetaWorldID: "w"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "world:w:law:0", hits[0].VectorID)
	assert.Equal(t, "Law: no magic in the capital", hits[0].Text)
}

func TestFlatBackend_DimensionChangeRejected(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFlatBackend(dir)
	require.NoError(t, err)
	idx, err := NewIndex(backend, NewHashEmbedder(16))
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(context.Background(), Persona, doc("p", "brave", nil)))

	_, err = NewIndex(backend, NewHashEmbedder(32))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestHashEmbedder(t *testing.T) {
	e := NewHashEmbedder(128)
	ctx := context.Background()

	vecs, err := e.Embed(ctx, []string{"The old wizard smiled", "the OLD wizard smiled!", "bread and cheese"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	var norm float64
	for _, v := range vecs[0] {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-4)

	// Tokenisation ignores case and punctuation.
	assert.InDelta(t, 1.0, cosineSimilarity(vecs[0], vecs[1]), 1e-5)
	assert.Less(t, cosineSimilarity(vecs[0], vecs[2]), 0.5)

	again, err := e.Embed(ctx, []string{"The old wizard smiled"})
	require.NoError(t, err)
	assert.Equal(t, vecs[0], again[0])
}

type countingEmbedder struct {
	inner Embedder
	texts atomic.Int64
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.texts.Add(int64(len(texts)))
	return c.inner.Embed(ctx, texts)
}

func (c *countingEmbedder) Dimension() int { return c.inner.Dimension() }

func TestCachedEmbedder(t *testing.T) {
	counter := &countingEmbedder{inner: NewHashEmbedder(testDim)}
	cached, err := NewCachedEmbedder(counter, 100)
	require.NoError(t, err)
	defer cached.Close()

	ctx := context.Background()
	first, err := cached.Embed(ctx, []string{"hello", "world"})
	require.NoError(t, err)
	cached.Wait()

	second, err := cached.Embed(ctx, []string{"world", "hello", "again"})
	require.NoError(t, err)

	assert.Equal(t, first[0], second[1])
	assert.Equal(t, first[1], second[0])
	assert.Equal(t, int64(3), counter.texts.Load(), "only the new text is embedded")
	assert.Equal(t, testDim, cached.Dimension())
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Persona ")
	require.NoError(t, err)
	assert.Equal(t, Persona, k)

	_, err = ParseKind("semantic")
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "index_type", verr.Field)
}

func TestDocuments(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	p := &model.Persona{
		ID:          "persona_1",
		Traits:      []string{"brave", "kind"},
		Goals:       []string{"protect the shire"},
		SpeechStyle: "archaic",
		Constraints: map[string]interface{}{"taboos": []string{"lying"}},
		UpdatedAt:   now,
	}
	docs := PersonaDocuments(p)
	require.Len(t, docs, 4)
	assert.Equal(t, "persona:persona_1:traits", docs[0].ID)
	assert.Equal(t, "Personality traits: brave, kind", docs[0].Text)
	assert.Equal(t, "Long-term goals: protect the shire", docs[1].Text)
	assert.Equal(t, "Speech style: archaic", docs[2].Text)
	assert.Equal(t, `Constraints: {"taboos":["lying"]}`, docs[3].Text)
	assert.Equal(t, "persona_1", docs[0].Metadata[MetaPersonaID])

	f := &model.PersonaFact{ID: "fact_1", PersonaID: "persona_1", NPCID: "npc_1", Dimension: model.DimensionExperience, Content: "survived the siege", CreatedAt: now}
	fd := FactDocument(f)
	assert.Equal(t, "fact:fact_1", fd.ID)
	assert.Equal(t, "[experience] persona fact: survived the siege", fd.Text)
	assert.Equal(t, "npc_1", fd.Metadata[MetaNPCID])
	assert.Equal(t, SourceFact, fd.Metadata[MetaSourceType])

	w := &model.World{
		ID: "world_1",
		Rules: model.WorldRules{
			Laws:        []string{"no theft"},
			Factions:    map[string]string{"rangers": "guard the borders", "elves": "keep to the woods"},
			SocialNorms: []string{"greet elders first"},
		},
		Locations:         map[string]map[string]interface{}{"bree": {"type": "town"}},
		GlobalConstraints: map[string]interface{}{"tech": "medieval"},
	}
	wd := WorldDocuments(w)
	require.Len(t, wd, 6)
	assert.Equal(t, "world:world_1:law:0", wd[0].ID)
	assert.Equal(t, "Law: no theft", wd[0].Text)
	assert.Equal(t, "Faction elves: keep to the woods", wd[1].Text)
	assert.Equal(t, "world:world_1:faction:1", wd[2].ID)
	assert.Equal(t, "Social norm: greet elders first", wd[3].Text)
	assert.Equal(t, `Location bree: {"type":"town"}`, wd[4].Text)
	assert.Equal(t, `Global constraints: {"tech":"medieval"}`, wd[5].Text)

	m := &model.Memory{ID: "mem_1", NPCID: "npc_1", MemoryType: model.LongTerm, Content: "met a dragon", CreatedAt: now}
	md := MemoryDocument(m)
	assert.Equal(t, "mem:mem_1", md.ID)
	assert.Equal(t, "npc_1", md.Metadata[MetaNPCID])
}

type recordingMetrics struct{ kinds []string }

func (r *recordingMetrics) RecordReindex(k string) { r.kinds = append(r.kinds, k) }

func TestReindexFromStore(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	now := time.Now().UTC()

	require.NoError(t, store.SaveNPC(ctx, &model.NPC{ID: "npc_1", Name: "Gandalf", PersonaID: "persona_1", WorldID: "world_1", CreatedAt: now}))
	for i, content := range []string{"the balrog fell into shadow", "fireworks delighted the hobbits"} {
		require.NoError(t, store.SaveMemory(ctx, &model.Memory{
			ID: []string{"mem_a", "mem_b"}[i], NPCID: "npc_1", MemoryType: model.LongTerm,
			Content: content, Source: model.SourceObservation, Importance: 0.9, CreatedAt: now.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, store.SaveMemory(ctx, &model.Memory{
		ID: "mem_c", NPCID: "npc_1", MemoryType: model.ShortTerm, Content: "short chat", Importance: 0.1, CreatedAt: now,
	}))

	backend, err := NewFlatBackend("")
	require.NoError(t, err)
	rec := &recordingMetrics{}
	idx, err := NewIndex(backend, NewHashEmbedder(testDim), WithMetrics(rec))
	require.NoError(t, err)

	src := NewStoreSource(store)
	res, err := idx.Reindex(ctx, Episodic, src)
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, 2, res.VectorsIndexed, "only long-term memories are indexed")
	assert.Equal(t, "Reindexed episodic index with 2 vectors", res.Message)
	assert.Equal(t, []string{"episodic"}, rec.kinds)

	browse, err := idx.Browse(ctx, Episodic, map[string]string{MetaNPCID: "npc_1"}, 10)
	require.NoError(t, err)
	require.Len(t, browse, 2)
	assert.Equal(t, "mem_b", browse[0].SourceID, "newest first")

	// A deleted memory stays searchable until the collection is rebuilt.
	require.NoError(t, store.DeleteMemory(ctx, "npc_1", "mem_a"))
	hits, err := idx.Search(ctx, Episodic, "balrog shadow", 5, map[string]string{MetaNPCID: "npc_1"})
	require.NoError(t, err)
	assert.Contains(t, sourceIDs(hits), "mem_a")

	_, err = idx.Reindex(ctx, Episodic, src)
	require.NoError(t, err)
	hits, err = idx.Search(ctx, Episodic, "balrog shadow", 5, map[string]string{MetaNPCID: "npc_1"})
	require.NoError(t, err)
	assert.NotContains(t, sourceIDs(hits), "mem_a")

	_, err = idx.Reindex(ctx, Kind("bogus"), src)
	var verr *model.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func sourceIDs(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.SourceID
	}
	return out
}
