package model

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierFor(t *testing.T) {
	tests := []struct {
		importance float64
		threshold  float64
		want       MemoryType
	}{
		{0.3, 0.7, ShortTerm},
		{0.7, 0.7, LongTerm},
		{0.9, 0.7, LongTerm},
		{0.0, 0.0, LongTerm},
		{0.69999, 0.7, ShortTerm},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v/%v", tt.importance, tt.threshold), func(t *testing.T) {
			assert.Equal(t, tt.want, TierFor(tt.importance, tt.threshold))
		})
	}
}

func TestNewID(t *testing.T) {
	id := NewID(PrefixMemory)
	require.True(t, strings.HasPrefix(id, "mem_"))
	assert.Len(t, id, len("mem_")+8)
	assert.NotEqual(t, id, NewID(PrefixMemory))
}

func TestObservationValidate(t *testing.T) {
	assert.Error(t, (*Observation)(nil).Validate())
	assert.True(t, IsValidation((&Observation{Action: "   "}).Validate()))
	assert.NoError(t, (&Observation{Action: "Hello"}).Validate())
}

func TestObservationSummary(t *testing.T) {
	obs := &Observation{
		Actor:    "player_1",
		Action:   "greets",
		Target:   "shire_wizard_01",
		Location: "bag_end",
		Details: map[string]interface{}{
			"mood":   "curious",
			"gift":   true,
			"nested": map[string]interface{}{"x": 1},
		},
	}
	assert.Equal(t, "player_1 greets to/with shire_wizard_01 at bag_end (gift: true, mood: curious)", obs.Summary())
	assert.Equal(t, "someone waves", (&Observation{Action: "waves"}).Summary())
}

func TestNPCConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultNPCConfig().Validate())

	cfg := DefaultNPCConfig()
	cfg.RetrievalTopK = 0
	err := cfg.Validate()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "retrieval_top_k", ve.Field)

	cfg = DefaultNPCConfig()
	cfg.ImportanceThreshold = 1.5
	assert.Error(t, cfg.Validate())
}

func TestMemoryInputValidate(t *testing.T) {
	bad := 1.2
	assert.Error(t, MemoryInput{}.Validate())
	assert.Error(t, MemoryInput{Content: "x", Importance: &bad}.Validate())
	assert.Error(t, MemoryInput{Content: "x", Source: "dream"}.Validate())
	assert.NoError(t, MemoryInput{Content: "x", Source: "reflection"}.Validate())
}

func TestParseDimension(t *testing.T) {
	d, ok := ParseDimension(" Habits ")
	require.True(t, ok)
	assert.Equal(t, DimensionRoutineHabit, d)
	assert.Equal(t, "Routines & Habits", d.Label())

	_, ok = ParseDimension("mood")
	assert.False(t, ok)
}

func TestErrorTaxonomy(t *testing.T) {
	cause := errors.New("connection reset")
	up := &UpstreamError{Op: "decision", Cause: cause}
	assert.ErrorIs(t, fmt.Errorf("engine: %w", up), cause)
	assert.Contains(t, (&UnknownToolError{Name: "cast_unknown_spell", Available: []string{"talk"}}).Error(), "cast_unknown_spell")
	assert.True(t, IsNotFound(fmt.Errorf("wrap: %w", NewNotFound("npc", "x"))))
	assert.ErrorIs(t, &ToolExecutionError{Tool: "talk", Cause: cause}, cause)
}
