package vector

import (
	"context"

	"github.com/npcforge/npcforge/pkg/model"
	"github.com/npcforge/npcforge/pkg/storage"
)

// StoreSource rebuilds collections from the persistent store.
type StoreSource struct {
	store storage.Storage
}

// NewStoreSource creates a Source backed by store.
func NewStoreSource(store storage.Storage) *StoreSource {
	return &StoreSource{store: store}
}

// Documents returns every authoritative document for kind: long-term
// memories of all NPCs, all personas with their facts, or all worlds.
func (s *StoreSource) Documents(ctx context.Context, kind Kind) ([]Document, error) {
	switch kind {
	case Episodic:
		mems, err := s.store.ListMemories(ctx, "", model.MemoryFilter{MemoryType: model.LongTerm})
		if err != nil {
			return nil, err
		}
		docs := make([]Document, 0, len(mems))
		for _, m := range mems {
			docs = append(docs, MemoryDocument(m))
		}
		return docs, nil

	case Persona:
		personas, err := s.store.ListPersonas(ctx)
		if err != nil {
			return nil, err
		}
		var docs []Document
		for _, p := range personas {
			docs = append(docs, PersonaDocuments(p)...)
		}
		facts, err := s.store.ListPersonaFacts(ctx, storage.FactFilter{})
		if err != nil {
			return nil, err
		}
		for _, f := range facts {
			docs = append(docs, FactDocument(f))
		}
		return docs, nil

	case World:
		worlds, err := s.store.ListWorlds(ctx)
		if err != nil {
			return nil, err
		}
		var docs []Document
		for _, w := range worlds {
			docs = append(docs, WorldDocuments(w)...)
		}
		return docs, nil
	}
	_, err := ParseKind(string(kind))
	return nil, err
}
