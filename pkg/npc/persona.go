package npc

import (
	"context"
	"fmt"
	"strings"

	"github.com/npcforge/npcforge/pkg/model"
	"github.com/npcforge/npcforge/pkg/storage"
	"github.com/npcforge/npcforge/pkg/vector"
)

// authoredFactImportance is the importance given to hand-written facts.
const authoredFactImportance = 1.0

// CreatePersona stores a persona, honouring a suggested persona_id.
func (s *Service) CreatePersona(ctx context.Context, in model.PersonaInput) (*model.Persona, error) {
	if err := model.ValidateStruct(in); err != nil {
		return nil, err
	}
	id := model.NewID(model.PrefixPersona)
	if in.PersonaID != "" {
		err := checkSuggestedID("persona_id", in.PersonaID, func() (bool, error) {
			_, err := s.store.GetPersona(ctx, in.PersonaID)
			return exists(err)
		})
		if err != nil {
			return nil, err
		}
		id = in.PersonaID
	}

	now := s.now().UTC()
	p := personaFromInput(in)
	p.ID = id
	p.CreatedAt = now
	p.UpdatedAt = now
	if err := s.store.SavePersona(ctx, p); err != nil {
		return nil, fmt.Errorf("npc: save persona failed: %w", err)
	}
	s.reindex(ctx, vector.Persona, personaChunks(p.ID), vector.PersonaDocuments(p))
	s.log.InfoContext(ctx, "persona created", "persona_id", p.ID, "name", p.Name)
	return p, nil
}

// GetPersona returns one persona.
func (s *Service) GetPersona(ctx context.Context, id string) (*model.Persona, error) {
	return s.store.GetPersona(ctx, id)
}

// ListPersonas returns every persona.
func (s *Service) ListPersonas(ctx context.Context) ([]*model.Persona, error) {
	return s.store.ListPersonas(ctx)
}

// UpdatePersona replaces a persona's fields and refreshes its vectors.
func (s *Service) UpdatePersona(ctx context.Context, id string, in model.PersonaInput) (*model.Persona, error) {
	if err := model.ValidateStruct(in); err != nil {
		return nil, err
	}
	current, err := s.store.GetPersona(ctx, id)
	if err != nil {
		return nil, err
	}
	p := personaFromInput(in)
	p.ID = id
	p.CreatedAt = current.CreatedAt
	p.UpdatedAt = s.now().UTC()
	if err := s.store.SavePersona(ctx, p); err != nil {
		return nil, fmt.Errorf("npc: save persona failed: %w", err)
	}
	s.reindex(ctx, vector.Persona, personaChunks(p.ID), vector.PersonaDocuments(p))
	return p, nil
}

// DeletePersona removes a persona that no NPC uses, together with its facts.
func (s *Service) DeletePersona(ctx context.Context, id string) (*DeleteResult, error) {
	if _, err := s.store.GetPersona(ctx, id); err != nil {
		return nil, err
	}
	npcs, err := s.store.ListNPCs(ctx, model.NPCFilter{})
	if err != nil {
		return nil, fmt.Errorf("npc: list npcs failed: %w", err)
	}
	var users []string
	for _, n := range npcs {
		if n.PersonaID == id {
			users = append(users, n.ID)
		}
	}
	if len(users) > 0 {
		return nil, model.NewValidation("persona_id", "persona %s is used by NPCs: %s", id, strings.Join(users, ", "))
	}

	res := &DeleteResult{Deleted: id}
	if res.FactsDeleted, err = s.store.DeletePersonaFacts(ctx, storage.FactFilter{PersonaID: id}); err != nil {
		return nil, fmt.Errorf("npc: delete facts failed: %w", err)
	}
	if err := s.store.DeletePersona(ctx, id); err != nil {
		return nil, err
	}
	res.VectorsDeleted = s.unindex(ctx, vector.Persona, map[string]string{vector.MetaPersonaID: id})
	s.log.InfoContext(ctx, "persona deleted", "persona_id", id, "facts", res.FactsDeleted)
	return res, nil
}

// ListFacts returns a persona's facts, optionally narrowed to one NPC.
func (s *Service) ListFacts(ctx context.Context, personaID, npcID string) ([]*model.PersonaFact, error) {
	if _, err := s.store.GetPersona(ctx, personaID); err != nil {
		return nil, err
	}
	return s.store.ListPersonaFacts(ctx, storage.FactFilter{PersonaID: personaID, NPCID: npcID})
}

// AddFact authors a persona fact. Facts are static unless is_static is
// explicitly false.
func (s *Service) AddFact(ctx context.Context, personaID string, in model.PersonaFactInput) (*model.PersonaFact, error) {
	if err := model.ValidateStruct(in); err != nil {
		return nil, err
	}
	dim, ok := model.ParseDimension(in.Dimension)
	if !ok {
		return nil, model.NewValidation("dimension", "unknown dimension %q", in.Dimension)
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, model.NewValidation("content", "must not be blank")
	}
	if _, err := s.store.GetPersona(ctx, personaID); err != nil {
		return nil, err
	}
	if in.NPCID != "" {
		if _, err := s.store.GetNPC(ctx, in.NPCID); err != nil {
			return nil, err
		}
	}

	static := true
	if in.IsStatic != nil {
		static = *in.IsStatic
	}
	source := in.Source
	if source == "" {
		source = model.FactSourceAuthored
	}
	f := &model.PersonaFact{
		ID:         model.NewID(model.PrefixFact),
		PersonaID:  personaID,
		NPCID:      in.NPCID,
		Dimension:  dim,
		Content:    strings.TrimSpace(in.Content),
		Source:     source,
		IsStatic:   static,
		Importance: authoredFactImportance,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.SavePersonaFact(ctx, f); err != nil {
		return nil, fmt.Errorf("npc: save fact failed: %w", err)
	}
	s.IndexFacts(ctx, f)
	return f, nil
}

// IndexFacts pushes facts into the persona collection. Failures are logged.
func (s *Service) IndexFacts(ctx context.Context, facts ...*model.PersonaFact) {
	if s.index == nil || len(facts) == 0 {
		return
	}
	docs := make([]vector.Document, len(facts))
	for i, f := range facts {
		docs[i] = vector.FactDocument(f)
	}
	if err := s.index.Upsert(ctx, vector.Persona, docs...); err != nil {
		s.log.WarnContext(ctx, "fact vectorization failed", "count", len(docs), "error", err)
	}
}

func personaChunks(id string) map[string]string {
	return map[string]string{vector.MetaPersonaID: id, vector.MetaSourceType: vector.SourcePersona}
}

func personaFromInput(in model.PersonaInput) *model.Persona {
	p := &model.Persona{
		Name:          in.Name,
		Traits:        orEmpty(in.Traits),
		Habits:        orEmpty(in.Habits),
		Goals:         orEmpty(in.Goals),
		Background:    in.Background,
		SpeechStyle:   in.SpeechStyle,
		Relationships: in.Relationships,
		Constraints:   in.Constraints,
	}
	if p.Relationships == nil {
		p.Relationships = map[string]string{}
	}
	if p.Constraints == nil {
		p.Constraints = map[string]interface{}{}
	}
	return p
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// exists turns a lookup error into a presence flag.
func exists(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if model.IsNotFound(err) {
		return false, nil
	}
	return false, err
}
