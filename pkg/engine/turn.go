package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/npcforge/npcforge/pkg/llm"
	"github.com/npcforge/npcforge/pkg/logger"
	"github.com/npcforge/npcforge/pkg/model"
	"github.com/npcforge/npcforge/pkg/storage"
	"github.com/npcforge/npcforge/pkg/tools"
	"github.com/npcforge/npcforge/pkg/vector"
)

const noToolCallReason = "no tool call returned"

// TurnOptions tunes a single turn.
type TurnOptions struct {
	// TurnID is echoed in the result and the trace. Generated when empty.
	TurnID string
}

// ForceActionRequest runs a chosen action without retrieval or reasoning.
type ForceActionRequest struct {
	ActionType  string                 `json:"action_type" validate:"required,max=64"`
	Arguments   map[string]interface{} `json:"arguments"`
	Observation *model.Observation     `json:"observation,omitempty"`
	Reason      string                 `json:"reason,omitempty" validate:"max=2000"`
	TurnID      string                 `json:"turn_id,omitempty" validate:"max=128"`
}

// decision is the action chosen by the reasoning client.
type decision struct {
	action model.Action
	prompt string
	raw    string
}

// RunTurn runs one observe, retrieve, reflect, decide and act cycle for an
// NPC and commits its artifacts in one write. A failed turn writes nothing.
func (e *Engine) RunTurn(ctx context.Context, npcID string, obs *model.Observation, opts TurnOptions) (result *model.TurnResult, err error) {
	done, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	turnID := opts.TurnID
	if turnID == "" {
		turnID = model.NewID(model.PrefixTurn)
	}
	start := e.now()
	ctx, span := e.tracer.Start(ctx, spanTurn, oteltrace.WithAttributes(
		attribute.String("npc.id", npcID),
		attribute.String("turn.id", turnID),
	))
	ctx = logger.WithFields(ctx, "npc_id", npcID, "turn_id", turnID)
	defer func() { e.finish(ctx, span, npcID, turnID, start, result, err) }()

	if err := obs.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	unlock, err := e.lock(ctx, npcID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	tc, err := e.assemble(ctx, npcID, obs)
	if err != nil {
		return nil, err
	}
	found, err := e.retrieve(ctx, tc)
	if err != nil {
		return nil, err
	}

	predicted, err := e.predictImportance(ctx, tc)
	if err != nil {
		return nil, err
	}
	trig := triggerFor(tc.npc, obs, predicted)
	span.SetAttributes(trig.attributes()...)
	var refl *reflection
	if trig.fires(tc.npc.Config.ReflectionThreshold) {
		if refl, err = e.reflect(ctx, tc, found.hits); err != nil {
			return nil, err
		}
	}

	dec, err := e.decide(ctx, tc, found.hits, refl)
	if err != nil {
		return nil, err
	}
	actResult, err := e.execute(ctx, tc.npc, dec.action)
	if err != nil {
		return nil, err
	}

	score, justification, err := e.scoreImportance(ctx, tc, actResult, refl)
	if err != nil {
		return nil, err
	}

	now := e.now()
	turnMemory := e.memories.Build(tc.npc, tc.summary+" → "+outcomeLine(actResult), model.SourceObservation, score,
		[]string{"observation", dec.action.ActionType}, linkedEntities(obs))
	commit := &storage.TurnCommit{
		NPC:      applyState(tc.npc, obs, dec.action, actResult, refl, now),
		Memories: []*model.Memory{turnMemory},
		Trace: e.traces.Build(model.Trace{
			NPCID:               npcID,
			TurnID:              turnID,
			Observation:         obs,
			RetrievedMemories:   found.sourceIDs(),
			RetrievalQueryText:  tc.query,
			RetrievalIndices:    found.indices,
			RetrievalVectorIDs:  found.vectorIDs(),
			RetrievalScores:     found.scores(),
			PersonaUsed:         tc.npc.PersonaID,
			WorldUsed:           tc.npc.WorldID,
			PromptSnapshot:      dec.prompt,
			OutputRaw:           dec.raw,
			ChosenAction:        dec.action.ActionType,
			ToolArguments:       dec.action.Arguments,
			ToolExecutionResult: actResult,
			ImportanceScore:     score,
			ReflectionUsed:      refl != nil,
		}),
	}
	if refl != nil {
		commit.Memories = append(commit.Memories, refl.memory)
		commit.Facts = refl.facts
	}
	if err := e.commit(ctx, commit); err != nil {
		return nil, err
	}

	result = &model.TurnResult{
		Action:                  dec.action,
		Result:                  *actResult,
		Reason:                  dec.action.Reason,
		TraceID:                 commit.Trace.ID,
		TurnID:                  turnID,
		ImportanceScore:         score,
		ImportanceJustification: justification,
		ReflectionUsed:          refl != nil,
		MemoryIDs:               make([]string, len(commit.Memories)),
	}
	for i, m := range commit.Memories {
		result.MemoryIDs[i] = m.ID
	}
	if refl != nil {
		e.metrics.RecordReflection()
	}
	e.publish(ctx, commit, result)
	return result, nil
}

// ForceAction executes an action chosen by the caller under the NPC's lock.
// It records a trace and the NPC's new state but writes no memory.
func (e *Engine) ForceAction(ctx context.Context, npcID string, req ForceActionRequest) (result *model.TurnResult, err error) {
	done, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	turnID := req.TurnID
	if turnID == "" {
		turnID = model.NewID(model.PrefixTurn)
	}
	start := e.now()
	ctx, span := e.tracer.Start(ctx, spanForce, oteltrace.WithAttributes(
		attribute.String("npc.id", npcID),
		attribute.String("turn.id", turnID),
		attribute.String("tool.name", req.ActionType),
	))
	ctx = logger.WithFields(ctx, "npc_id", npcID, "turn_id", turnID)
	defer func() { e.finish(ctx, span, npcID, turnID, start, result, err) }()

	if err := model.ValidateStruct(req); err != nil {
		return nil, err
	}
	if req.Observation != nil {
		if err := req.Observation.Validate(); err != nil {
			return nil, err
		}
	}
	if !e.tools.Has(req.ActionType) {
		return nil, &model.UnknownToolError{Name: req.ActionType, Available: e.tools.Names()}
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	unlock, err := e.lock(ctx, npcID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	n, err := e.store.GetNPC(ctx, npcID)
	if err != nil {
		return nil, loadErr("npc", err)
	}

	args := req.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "forced action"
	}
	action := model.Action{ActionType: req.ActionType, Arguments: args, Reason: reason}
	actResult, err := e.execute(ctx, n, action)
	if err != nil {
		return nil, err
	}

	commit := &storage.TurnCommit{
		NPC: applyState(n, req.Observation, action, actResult, nil, e.now()),
		Trace: e.traces.Build(model.Trace{
			NPCID:               npcID,
			TurnID:              turnID,
			Observation:         req.Observation,
			PersonaUsed:         n.PersonaID,
			WorldUsed:           n.WorldID,
			ChosenAction:        action.ActionType,
			ToolArguments:       action.Arguments,
			ToolExecutionResult: actResult,
		}),
	}
	if err := e.commit(ctx, commit); err != nil {
		return nil, err
	}

	result = &model.TurnResult{
		Action:    action,
		Result:    *actResult,
		Reason:    reason,
		TraceID:   commit.Trace.ID,
		TurnID:    turnID,
		MemoryIDs: []string{},
	}
	e.publish(ctx, commit, result)
	return result, nil
}

func (e *Engine) decide(ctx context.Context, tc *turnContext, hits []vector.Hit, refl *reflection) (*decision, error) {
	ctx, span := e.tracer.Start(ctx, spanDecide)
	defer span.End()

	prompt := buildPrompt(tc, hits, refl)
	resp, err := e.complete(ctx, &llm.Request{
		Purpose:  llm.PurposeDecision,
		System:   decisionSystem,
		Prompt:   prompt,
		Tools:    e.toolSpecs(),
		Metadata: requestMetadata(tc),
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	d := &decision{prompt: prompt, raw: rawOutput(resp)}
	if len(resp.ToolCalls) == 0 {
		d.action = model.Action{
			ActionType: tools.Wait,
			Arguments:  map[string]interface{}{"reason": noToolCallReason},
			Reason:     noToolCallReason,
		}
		span.SetAttributes(attribute.String("tool.name", tools.Wait))
		return d, nil
	}

	call := resp.ToolCalls[0]
	span.SetAttributes(attribute.String("tool.name", call.Name))
	if !e.tools.Has(call.Name) {
		err := &model.UnknownToolError{Name: call.Name, Available: e.tools.Names()}
		span.RecordError(err)
		return nil, err
	}
	args := call.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}
	d.action = model.Action{ActionType: call.Name, Arguments: args, Reason: decisionReason(resp.Text, args)}
	return d, nil
}

func (e *Engine) execute(ctx context.Context, n *model.NPC, action model.Action) (*model.ActionResult, error) {
	ctx, span := e.tracer.Start(ctx, spanExecute, oteltrace.WithAttributes(
		attribute.String("tool.name", action.ActionType),
	))
	defer span.End()

	location := n.StateString(model.StateLocation)
	if location == "" {
		location = "unknown"
	}
	result, err := e.tools.Execute(ctx, action.ActionType, action.Arguments, tools.CallContext{
		NPCID:           n.ID,
		WorldID:         n.WorldID,
		PersonaID:       n.PersonaID,
		CurrentLocation: location,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !result.Success {
		if result.Error == "" {
			result.Error = fmt.Sprintf("tool %s execution failed without error message", action.ActionType)
		}
		span.SetStatus(codes.Error, result.Error)
		e.log.WarnContext(ctx, "tool execution failed", "tool", action.ActionType, "error", result.Error)
	}
	span.SetAttributes(attribute.Bool("tool.success", result.Success))
	return result, nil
}

func (e *Engine) commit(ctx context.Context, c *storage.TurnCommit) error {
	ctx, span := e.tracer.Start(ctx, spanCommit, oteltrace.WithAttributes(
		attribute.Int("commit.memories", len(c.Memories)),
		attribute.Int("commit.facts", len(c.Facts)),
	))
	defer span.End()

	if err := e.store.CommitTurn(ctx, c); err != nil {
		span.RecordError(err)
		return fmt.Errorf("engine: commit turn failed: %w", err)
	}
	return nil
}

// publish runs the after-commit work: vectorization, metrics and events.
// Vectorization failures are logged; a reindex repairs them.
func (e *Engine) publish(ctx context.Context, c *storage.TurnCommit, result *model.TurnResult) {
	e.memories.Vectorize(ctx, c.Memories...)
	if len(c.Facts) > 0 {
		docs := make([]vector.Document, len(c.Facts))
		for i, f := range c.Facts {
			docs[i] = vector.FactDocument(f)
		}
		if err := e.index.Upsert(ctx, vector.Persona, docs...); err != nil {
			e.log.WarnContext(ctx, "fact vectorization failed", "count", len(docs), "error", err)
		}
	}

	for _, m := range c.Memories {
		e.metrics.RecordMemoryCreated(string(m.MemoryType))
		e.events.BroadcastMemoryCreated(m)
	}
	e.events.BroadcastToolExecuted(c.NPC.ID, result.TurnID, &result.Result)
	e.events.BroadcastTurnCompleted(c.NPC.ID, result)
}

// finish closes the turn span and records its outcome.
func (e *Engine) finish(ctx context.Context, span oteltrace.Span, npcID, turnID string, start time.Time, result *model.TurnResult, err error) {
	defer span.End()

	outcome := outcomeOf(err)
	duration := e.now().Sub(start)
	e.metrics.RecordTurn(outcome, duration)
	span.SetAttributes(attribute.String("turn.outcome", outcome))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.log.WarnContext(ctx, "turn failed", "outcome", outcome, "error", err)
		e.events.BroadcastTurnFailed(npcID, turnID, outcome, err.Error())
		return
	}
	e.log.InfoContext(ctx, "turn completed",
		"action", result.Action.ActionType, "success", result.Result.Success,
		"importance", result.ImportanceScore, "reflection", result.ReflectionUsed, "duration", duration)
}

func (e *Engine) toolSpecs() []llm.ToolSpec {
	defs := e.tools.Definitions()
	specs := make([]llm.ToolSpec, len(defs))
	for i, d := range defs {
		specs[i] = llm.ToolSpec{Name: d.Name, Description: d.Description, Parameters: d.ParametersSchema}
	}
	return specs
}

// applyState returns n with the turn's consequences applied to its state.
func applyState(n *model.NPC, obs *model.Observation, action model.Action, result *model.ActionResult, refl *reflection, now time.Time) *model.NPC {
	next := n.Clone()
	next.CurrentState[model.StateLastAction] = action.ActionType
	next.CurrentState[model.StateLastTurnAt] = now.UTC().Format(time.RFC3339)
	if emotion := obs.DetailString("emotion"); emotion != "" {
		next.CurrentState[model.StateEmotion] = emotion
	}
	if result.Success && action.ActionType == tools.MoveTo {
		if to, ok := result.Effect["to_location"].(string); ok && to != "" {
			next.CurrentState[model.StateLocation] = to
		}
	}
	if refl != nil && len(refl.answer.UpdatedGoals) > 0 {
		if goal := strings.TrimSpace(refl.answer.UpdatedGoals[0]); goal != "" {
			next.CurrentState[model.StateGoal] = goal
		}
	}
	next.UpdatedAt = now.UTC()
	return next
}

// outcomeLine describes an action result for the turn memory.
func outcomeLine(r *model.ActionResult) string {
	if !r.Success {
		return fmt.Sprintf("%s failed: %s", r.ActionType, r.Error)
	}
	if u, ok := r.Effect["utterance"].(string); ok && u != "" {
		return fmt.Sprintf("%s: %q", r.ActionType, u)
	}
	return r.ActionType + " succeeded"
}

func linkedEntities(obs *model.Observation) []string {
	var out []string
	for _, id := range []string{obs.Actor, obs.Target} {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

func decisionReason(text string, args map[string]interface{}) string {
	if r := strings.TrimSpace(text); r != "" {
		return r
	}
	if r, ok := args["reason"].(string); ok && strings.TrimSpace(r) != "" {
		return r
	}
	return "No reason provided"
}

// rawOutput renders the client's answer for the trace.
func rawOutput(resp *llm.Response) string {
	var b strings.Builder
	b.WriteString(resp.Text)
	for _, call := range resp.ToolCalls {
		raw := call.RawArguments
		if raw == "" {
			raw = "{}"
			if len(call.Arguments) > 0 {
				raw = fmt.Sprint(call.Arguments)
			}
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[tool_call] %s %s", call.Name, raw)
	}
	return b.String()
}
