package npc

import (
	"context"
	"fmt"

	"github.com/npcforge/npcforge/pkg/model"
	"github.com/npcforge/npcforge/pkg/vector"
)

// CreateWorld stores a world, honouring a suggested world_id.
func (s *Service) CreateWorld(ctx context.Context, in model.WorldInput) (*model.World, error) {
	if err := model.ValidateStruct(in); err != nil {
		return nil, err
	}
	id := model.NewID(model.PrefixWorld)
	if in.WorldID != "" {
		err := checkSuggestedID("world_id", in.WorldID, func() (bool, error) {
			_, err := s.store.GetWorld(ctx, in.WorldID)
			return exists(err)
		})
		if err != nil {
			return nil, err
		}
		id = in.WorldID
	}

	now := s.now().UTC()
	w := worldFromInput(in)
	w.ID = id
	w.CreatedAt = now
	w.UpdatedAt = now
	if err := s.store.SaveWorld(ctx, w); err != nil {
		return nil, fmt.Errorf("npc: save world failed: %w", err)
	}
	s.reindex(ctx, vector.World, worldChunks(w.ID), vector.WorldDocuments(w))
	s.log.InfoContext(ctx, "world created", "world_id", w.ID, "title", w.Title)
	return w, nil
}

// GetWorld returns one world.
func (s *Service) GetWorld(ctx context.Context, id string) (*model.World, error) {
	return s.store.GetWorld(ctx, id)
}

// ListWorlds returns every world.
func (s *Service) ListWorlds(ctx context.Context) ([]*model.World, error) {
	return s.store.ListWorlds(ctx)
}

// UpdateWorld replaces a world's fields and refreshes its vectors.
func (s *Service) UpdateWorld(ctx context.Context, id string, in model.WorldInput) (*model.World, error) {
	if err := model.ValidateStruct(in); err != nil {
		return nil, err
	}
	current, err := s.store.GetWorld(ctx, id)
	if err != nil {
		return nil, err
	}
	w := worldFromInput(in)
	w.ID = id
	w.CreatedAt = current.CreatedAt
	w.UpdatedAt = s.now().UTC()
	if err := s.store.SaveWorld(ctx, w); err != nil {
		return nil, fmt.Errorf("npc: save world failed: %w", err)
	}
	s.reindex(ctx, vector.World, worldChunks(w.ID), vector.WorldDocuments(w))
	return w, nil
}

// WorldNPCs lists the NPCs living in a world.
func (s *Service) WorldNPCs(ctx context.Context, id string) ([]*model.NPC, error) {
	if _, err := s.store.GetWorld(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListNPCs(ctx, model.NPCFilter{WorldID: id})
}

// DeleteWorld removes a world. NPCs still living in it block the delete
// unless cascade is set, in which case they are cascade-deleted first.
func (s *Service) DeleteWorld(ctx context.Context, id string, cascade bool) (*DeleteResult, error) {
	npcs, err := s.WorldNPCs(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(npcs) > 0 && !cascade {
		return nil, model.NewValidation("cascade", "world %s still has %d NPCs; pass cascade=true to delete them", id, len(npcs))
	}

	res := &DeleteResult{Deleted: id, CascadeRequested: cascade}
	for _, n := range npcs {
		sub, err := s.DeleteNPC(ctx, n.ID, true)
		if err != nil {
			return nil, err
		}
		res.NPCsDeleted++
		res.MemoriesDeleted += sub.MemoriesDeleted
		res.TracesDeleted += sub.TracesDeleted
		res.FactsDeleted += sub.FactsDeleted
		res.VectorsDeleted += sub.VectorsDeleted
	}
	if err := s.store.DeleteWorld(ctx, id); err != nil {
		return nil, err
	}
	res.VectorsDeleted += s.unindex(ctx, vector.World, worldChunks(id))
	s.log.InfoContext(ctx, "world deleted", "world_id", id, "npcs", res.NPCsDeleted)
	return res, nil
}

func worldChunks(id string) map[string]string {
	return map[string]string{vector.MetaWorldID: id}
}

func worldFromInput(in model.WorldInput) *model.World {
	w := &model.World{
		Title:             in.Title,
		Description:       in.Description,
		Rules:             in.Rules,
		Locations:         in.Locations,
		DangerLevels:      in.DangerLevels,
		GlobalConstraints: in.GlobalConstraints,
	}
	w.Rules.Laws = orEmpty(w.Rules.Laws)
	w.Rules.SocialNorms = orEmpty(w.Rules.SocialNorms)
	if w.Rules.Factions == nil {
		w.Rules.Factions = map[string]string{}
	}
	if w.Locations == nil {
		w.Locations = map[string]map[string]interface{}{}
	}
	if w.DangerLevels == nil {
		w.DangerLevels = map[string]float64{}
	}
	if w.GlobalConstraints == nil {
		w.GlobalConstraints = map[string]interface{}{}
	}
	return w
}
