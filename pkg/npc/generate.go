package npc

import (
	"context"
	"fmt"
	"strings"

	"github.com/npcforge/npcforge/pkg/llm"
	"github.com/npcforge/npcforge/pkg/model"
	"github.com/npcforge/npcforge/pkg/vector"
)

const generationSystem = `You are an expert game character designer. Generate a complete NPC profile from the user's description.

Produce:
1. a persona (name, traits, habits, goals, background, speech_style, relationships, constraints with taboos and moral_rules)
2. a world (title, description, rules with laws, factions and social_norms, locations, danger_levels, global_constraints)
3. the npc itself (name, role, current_state with emotion, location and goal)

Return ONLY a JSON object with the keys "persona", "world" and "npc". Be creative but consistent: the persona must fit the world.`

// GenerateInput asks for an NPC built from a natural-language description.
type GenerateInput struct {
	Description string           `json:"description" validate:"required,max=4000"`
	Role        string           `json:"role,omitempty" validate:"max=200"`
	WorldID     string           `json:"world_id,omitempty"`
	Config      *model.NPCConfig `json:"config,omitempty"`
}

// GenerateResult holds everything Generate created.
type GenerateResult struct {
	NPC          *model.NPC     `json:"npc"`
	Persona      *model.Persona `json:"persona"`
	World        *model.World   `json:"world"`
	WorldCreated bool           `json:"world_created"`
}

type generatedNPC struct {
	Name         string                 `json:"name,omitempty"`
	Role         string                 `json:"role,omitempty"`
	CurrentState map[string]interface{} `json:"current_state,omitempty"`
}

type generatedProfile struct {
	Persona      model.PersonaInput     `json:"persona"`
	World        *model.WorldInput      `json:"world,omitempty"`
	NPC          generatedNPC           `json:"npc"`
	InitialState map[string]interface{} `json:"initial_state,omitempty"`
}

var generationSchema = llm.SchemaFor[generatedProfile]()

// Generate asks the reasoning client for a persona, a world (unless
// in.WorldID names an existing one) and an NPC, and stores all of them.
func (s *Service) Generate(ctx context.Context, in GenerateInput) (*GenerateResult, error) {
	if err := model.ValidateStruct(in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Description) == "" {
		return nil, model.NewValidation("description", "must not be blank")
	}
	if in.Config != nil {
		if err := in.Config.Validate(); err != nil {
			return nil, err
		}
	}
	if s.reasoner == nil {
		return nil, fmt.Errorf("npc: generation requires a reasoning client")
	}

	var world *model.World
	if in.WorldID != "" {
		w, err := s.store.GetWorld(ctx, in.WorldID)
		if err != nil {
			return nil, err
		}
		world = w
	}

	profile, err := s.askProfile(ctx, in.Description)
	if err != nil {
		return nil, err
	}

	res := &GenerateResult{}
	cleanup := func() {
		if res.Persona != nil {
			_ = s.store.DeletePersona(ctx, res.Persona.ID)
			s.unindex(ctx, vector.Persona, personaChunks(res.Persona.ID))
		}
		if res.WorldCreated {
			_ = s.store.DeleteWorld(ctx, res.World.ID)
			s.unindex(ctx, vector.World, worldChunks(res.World.ID))
		}
	}

	profile.Persona.PersonaID = ""
	if res.Persona, err = s.CreatePersona(ctx, profile.Persona); err != nil {
		return nil, err
	}

	if world == nil {
		wi := model.WorldInput{Title: "Generated World"}
		if profile.World != nil {
			wi = *profile.World
			wi.WorldID = ""
			if strings.TrimSpace(wi.Title) == "" {
				wi.Title = "Generated World"
			}
		}
		if world, err = s.CreateWorld(ctx, wi); err != nil {
			cleanup()
			return nil, err
		}
		res.WorldCreated = true
	}
	res.World = world

	name := profile.NPC.Name
	if name == "" {
		name = res.Persona.Name
	}
	role := in.Role
	if role == "" {
		role = profile.NPC.Role
	}
	if role == "" {
		role = "NPC"
	}
	state := profile.NPC.CurrentState
	if state == nil {
		state = profile.InitialState
	}
	state = copyState(state)
	if _, ok := state[model.StateEmotion]; !ok {
		state[model.StateEmotion] = "neutral"
	}
	if _, ok := state[model.StateLocation]; !ok {
		state[model.StateLocation] = "unknown"
	}

	res.NPC, err = s.CreateNPC(ctx, model.NPCInput{
		Name:         name,
		Role:         role,
		PersonaID:    res.Persona.ID,
		WorldID:      res.World.ID,
		CurrentState: state,
		Config:       in.Config,
	})
	if err != nil {
		cleanup()
		return nil, err
	}
	s.log.InfoContext(ctx, "npc generated", "npc_id", res.NPC.ID, "persona_id", res.Persona.ID,
		"world_id", res.World.ID, "world_created", res.WorldCreated)
	return res, nil
}

func (s *Service) askProfile(ctx context.Context, description string) (*generatedProfile, error) {
	resp, err := s.reasoner.Complete(ctx, &llm.Request{
		Purpose: llm.PurposeGeneration,
		System:  generationSystem,
		Prompt:  "Create an NPC with this description: " + description,
		Schema:  generationSchema,
		Metadata: map[string]string{
			llm.MetaDescription: description,
		},
	})
	if err != nil {
		return nil, err
	}

	var profile generatedProfile
	if err := llm.DecodeJSON(resp.Text, &profile); err != nil {
		return nil, &model.UpstreamError{Op: string(llm.PurposeGeneration), Cause: err}
	}
	if strings.TrimSpace(profile.Persona.Name) == "" {
		profile.Persona.Name = profile.NPC.Name
	}
	if strings.TrimSpace(profile.Persona.Name) == "" {
		profile.Persona.Name = "Unknown Character"
	}
	return &profile, nil
}
