package model

import "time"

// Action is the decision taken in a turn.
type Action struct {
	ActionType string                 `json:"action_type"`
	Arguments  map[string]interface{} `json:"arguments"`
	Reason     string                 `json:"reason,omitempty"`
}

// ActionResult is what a tool reports back.
type ActionResult struct {
	Success    bool                   `json:"success"`
	ActionType string                 `json:"action_type"`
	Effect     map[string]interface{} `json:"effect,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// Trace is the immutable record of one turn's inference.
type Trace struct {
	ID                  string                 `json:"trace_id"`
	NPCID               string                 `json:"npc_id"`
	TurnID              string                 `json:"turn_id"`
	Observation         *Observation           `json:"observation"`
	RetrievedMemories   []string               `json:"retrieved_memories"`
	RetrievalQueryText  string                 `json:"retrieval_query_text"`
	RetrievalIndices    []string               `json:"retrieval_indices_searched"`
	RetrievalVectorIDs  []string               `json:"retrieval_vector_ids"`
	RetrievalScores     []float64              `json:"retrieval_similarity_scores"`
	PersonaUsed         string                 `json:"persona_used"`
	WorldUsed           string                 `json:"world_used"`
	PromptSnapshot      string                 `json:"llm_prompt_snapshot"`
	OutputRaw           string                 `json:"llm_output_raw"`
	ChosenAction        string                 `json:"chosen_action"`
	ToolArguments       map[string]interface{} `json:"tool_arguments"`
	ToolExecutionResult *ActionResult          `json:"tool_execution_result"`
	ImportanceScore     float64                `json:"importance_score"`
	ReflectionUsed      bool                   `json:"reflection_used"`
	CreatedAt           time.Time              `json:"created_at"`
}

// TurnResult is returned to the caller of a turn.
type TurnResult struct {
	Action                  Action       `json:"action"`
	Result                  ActionResult `json:"result"`
	Reason                  string       `json:"reason"`
	TraceID                 string       `json:"trace_id"`
	TurnID                  string       `json:"turn_id"`
	ImportanceScore         float64      `json:"importance_score"`
	ImportanceJustification string       `json:"importance_justification,omitempty"`
	ReflectionUsed          bool         `json:"reflection_used"`
	MemoryIDs               []string     `json:"memory_ids"`
}
