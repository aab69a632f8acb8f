package tools

import (
	"context"
	"fmt"
)

// Built-in tool names.
const (
	Talk        = "talk"
	MoveTo      = "move_to"
	Attack      = "attack"
	Defend      = "defend"
	StartQuest  = "start_quest"
	UpdateQuest = "update_quest"
	GiveItem    = "give_item"
	Trade       = "trade"
	Wait        = "wait"
)

var intensities = []string{"light", "medium", "heavy"}

func itemSchema() map[string]interface{} {
	return ObjectSchema(map[string]interface{}{
		"item_id":   map[string]interface{}{"type": "string"},
		"item_name": map[string]interface{}{"type": "string"},
		"quantity":  map[string]interface{}{"type": "integer", "minimum": 1},
	}, "item_id", "item_name")
}

// builtinSpec is the static description of a built-in tool.
type builtinSpec struct {
	name        string
	description string
	schema      map[string]interface{}
	run         Func
}

// builtins returns the fixed tool set in prompt order.
func builtins() []builtinSpec {
	return []builtinSpec{
		{
			name:        Talk,
			description: "Speak to another character in the game world. Use this when verbal interaction is appropriate. Always provide the exact dialogue the NPC will say.",
			schema: ObjectSchema(map[string]interface{}{
				"target_id": StringProperty("ID of the character being spoken to (e.g., player_001, npc_002)."),
				"utterance": StringProperty("The exact dialogue spoken by the NPC. Must be a complete sentence or phrase."),
				"tone": StringEnumProperty("Emotional tone of the speech.",
					"calm", "angry", "friendly", "serious", "excited", "worried", "neutral"),
			}, "target_id", "utterance"),
			run: runTalk,
		},
		{
			name:        MoveTo,
			description: "Move to a specific location in the game world. Use this when the NPC needs to change location.",
			schema: ObjectSchema(map[string]interface{}{
				"location_id": StringProperty("ID of the destination location (e.g., town_square, forest_entrance)."),
				"reason":      StringProperty("Reason for moving to this location."),
			}, "location_id"),
			run: runMoveTo,
		},
		{
			name:        Attack,
			description: "Attack another character. Use this when combat is necessary and appropriate. Only use in combat situations.",
			schema: ObjectSchema(map[string]interface{}{
				"target_id":   StringProperty("ID of the character being attacked."),
				"attack_type": StringEnumProperty("Type of attack.", "melee", "ranged", "magic"),
				"intensity":   StringEnumProperty("Intensity of the attack.", intensities...),
			}, "target_id", "attack_type"),
			run: runAttack,
		},
		{
			name:        Defend,
			description: "Defend against incoming attacks. Use this when the NPC is under attack and needs to protect themselves.",
			schema: ObjectSchema(map[string]interface{}{
				"defense_type": StringEnumProperty("Type of defense.", "block", "dodge", "shield", "parry"),
				"intensity":    StringEnumProperty("Intensity of the defense.", intensities...),
			}, "defense_type"),
			run: runDefend,
		},
		{
			name:        StartQuest,
			description: "Start a new quest for a target character. Use this when the NPC wants to assign a quest or task to another character.",
			schema: ObjectSchema(map[string]interface{}{
				"target_id":         StringProperty("ID of the character receiving the quest."),
				"quest_id":          StringProperty("Unique identifier for the quest."),
				"quest_name":        StringProperty("Name of the quest."),
				"quest_description": StringProperty("Description of what needs to be done."),
				"reward":            StringProperty("Reward for completing the quest."),
			}, "target_id", "quest_id", "quest_name", "quest_description"),
			run: runStartQuest,
		},
		{
			name:        UpdateQuest,
			description: "Update the progress or status of an existing quest. Use this when quest objectives are completed or quest status changes.",
			schema: ObjectSchema(map[string]interface{}{
				"quest_id":      StringProperty("ID of the quest to update."),
				"status":        StringEnumProperty("New status of the quest.", "in_progress", "completed", "failed", "cancelled"),
				"progress_note": StringProperty("Note about quest progress."),
			}, "quest_id", "status"),
			run: runUpdateQuest,
		},
		{
			name:        GiveItem,
			description: "Give an item to another character. Use this when the NPC wants to transfer an item to someone else.",
			schema: ObjectSchema(map[string]interface{}{
				"target_id": StringProperty("ID of the character receiving the item."),
				"item_id":   StringProperty("ID of the item being given."),
				"item_name": StringProperty("Name of the item."),
				"quantity":  IntegerProperty("Quantity of items to give.", 1),
			}, "target_id", "item_id", "item_name"),
			run: runGiveItem,
		},
		{
			name:        Trade,
			description: "Trade items with another character. Use this when the NPC wants to exchange items with someone else.",
			schema: ObjectSchema(map[string]interface{}{
				"target_id":     StringProperty("ID of the character to trade with."),
				"offer_items":   ArrayProperty("Items the NPC is offering.", itemSchema()),
				"request_items": ArrayProperty("Items the NPC is requesting.", itemSchema()),
			}, "target_id", "offer_items", "request_items"),
			run: runTrade,
		},
		{
			name:        Wait,
			description: "Wait and do nothing. Use this when the NPC should not take any action in this turn, or when waiting is the appropriate response.",
			schema: ObjectSchema(map[string]interface{}{
				"reason": StringProperty("Reason for waiting."),
			}),
			run: runWait,
		},
	}
}

func str(args map[string]interface{}, key, fallback string) string {
	if s, ok := args[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func missing(args map[string]interface{}, keys ...string) error {
	var absent []string
	for _, k := range keys {
		if str(args, k, "") == "" {
			absent = append(absent, k)
		}
	}
	if len(absent) > 0 {
		return fmt.Errorf("missing required arguments: %v", absent)
	}
	return nil
}

func runTalk(_ context.Context, args map[string]interface{}, call CallContext) (map[string]interface{}, error) {
	if err := missing(args, "target_id", "utterance"); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"spoken":    true,
		"target":    args["target_id"],
		"utterance": args["utterance"],
		"tone":      str(args, "tone", "neutral"),
		"speaker":   orUnknown(call.NPCID),
	}, nil
}

func runMoveTo(_ context.Context, args map[string]interface{}, call CallContext) (map[string]interface{}, error) {
	if err := missing(args, "location_id"); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"moved":         true,
		"from_location": orUnknown(call.CurrentLocation),
		"to_location":   args["location_id"],
		"npc_id":        orUnknown(call.NPCID),
	}, nil
}

func runAttack(_ context.Context, args map[string]interface{}, call CallContext) (map[string]interface{}, error) {
	if err := missing(args, "target_id", "attack_type"); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"attacked":    true,
		"attacker":    orUnknown(call.NPCID),
		"target":      args["target_id"],
		"attack_type": args["attack_type"],
		"intensity":   str(args, "intensity", "medium"),
	}, nil
}

func runDefend(_ context.Context, args map[string]interface{}, call CallContext) (map[string]interface{}, error) {
	if err := missing(args, "defense_type"); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"defended":     true,
		"defender":     orUnknown(call.NPCID),
		"defense_type": args["defense_type"],
		"intensity":    str(args, "intensity", "medium"),
	}, nil
}

func runStartQuest(_ context.Context, args map[string]interface{}, call CallContext) (map[string]interface{}, error) {
	if err := missing(args, "target_id", "quest_id", "quest_name", "quest_description"); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"quest_started":     true,
		"quest_id":          args["quest_id"],
		"quest_name":        args["quest_name"],
		"quest_giver":       orUnknown(call.NPCID),
		"quest_receiver":    args["target_id"],
		"quest_description": args["quest_description"],
		"reward":            str(args, "reward", ""),
	}, nil
}

func runUpdateQuest(_ context.Context, args map[string]interface{}, call CallContext) (map[string]interface{}, error) {
	if err := missing(args, "quest_id", "status"); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"quest_updated": true,
		"quest_id":      args["quest_id"],
		"new_status":    args["status"],
		"updated_by":    orUnknown(call.NPCID),
		"progress_note": str(args, "progress_note", ""),
	}, nil
}

func runGiveItem(_ context.Context, args map[string]interface{}, call CallContext) (map[string]interface{}, error) {
	if err := missing(args, "target_id", "item_id", "item_name"); err != nil {
		return nil, err
	}
	quantity, ok := args["quantity"]
	if !ok {
		quantity = 1
	}
	return map[string]interface{}{
		"item_given": true,
		"giver":      orUnknown(call.NPCID),
		"receiver":   args["target_id"],
		"item_id":    args["item_id"],
		"item_name":  args["item_name"],
		"quantity":   quantity,
	}, nil
}

func runTrade(_ context.Context, args map[string]interface{}, call CallContext) (map[string]interface{}, error) {
	if err := missing(args, "target_id"); err != nil {
		return nil, err
	}
	offer, _ := args["offer_items"].([]interface{})
	request, _ := args["request_items"].([]interface{})
	if len(offer) == 0 || len(request) == 0 {
		return nil, fmt.Errorf("offer_items and request_items must not be empty")
	}
	return map[string]interface{}{
		"trade_initiated": true,
		"trader":          orUnknown(call.NPCID),
		"trade_partner":   args["target_id"],
		"offer_items":     offer,
		"request_items":   request,
	}, nil
}

func runWait(_ context.Context, args map[string]interface{}, call CallContext) (map[string]interface{}, error) {
	return map[string]interface{}{
		"waited": true,
		"npc_id": orUnknown(call.NPCID),
		"reason": str(args, "reason", "No action needed"),
	}, nil
}
