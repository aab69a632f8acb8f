package model

import (
	"strings"

	"github.com/google/uuid"
)

// ID prefixes for backend-assigned identifiers.
const (
	PrefixNPC     = "npc"
	PrefixPersona = "persona"
	PrefixWorld   = "world"
	PrefixMemory  = "mem"
	PrefixTrace   = "trace"
	PrefixTurn    = "turn"
	PrefixTool    = "tool"
	PrefixFact    = "fact"
)

// NewID returns an identifier of the form <prefix>_<8 hex>.
func NewID(prefix string) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "_" + raw[:8]
}
