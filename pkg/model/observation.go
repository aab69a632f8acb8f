package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Observation is the event an NPC reacts to in a turn.
type Observation struct {
	EventType string                 `json:"event_type,omitempty"`
	Actor     string                 `json:"actor,omitempty"`
	Action    string                 `json:"action"`
	Target    string                 `json:"target,omitempty"`
	Location  string                 `json:"location,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp *time.Time             `json:"timestamp,omitempty"`
}

// Validate rejects observations without an action.
func (o *Observation) Validate() error {
	if o == nil {
		return NewValidation("observation", "is required")
	}
	if strings.TrimSpace(o.Action) == "" {
		return NewValidation("action", "must not be blank")
	}
	return nil
}

// Summary renders the observation as a single line, for example
// "player talk to/with wizard at shire (mood: curious)". Only scalar details
// are included, in key order.
func (o *Observation) Summary() string {
	var b strings.Builder
	actor := o.Actor
	if actor == "" {
		actor = "someone"
	}
	b.WriteString(actor)
	b.WriteByte(' ')
	b.WriteString(o.Action)
	if o.Target != "" {
		b.WriteString(" to/with ")
		b.WriteString(o.Target)
	}
	if o.Location != "" {
		b.WriteString(" at ")
		b.WriteString(o.Location)
	}

	keys := make([]string, 0, len(o.Details))
	for k, v := range o.Details {
		switch v.(type) {
		case string, bool, float64, float32, int, int64, int32:
			keys = append(keys, k)
		}
	}
	if len(keys) > 0 {
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s: %v", k, o.Details[k])
		}
		b.WriteString(" (")
		b.WriteString(strings.Join(parts, ", "))
		b.WriteByte(')')
	}
	return b.String()
}

// DetailString returns a string detail value or "".
func (o *Observation) DetailString(key string) string {
	if o == nil || o.Details == nil {
		return ""
	}
	if s, ok := o.Details[key].(string); ok {
		return s
	}
	return ""
}
