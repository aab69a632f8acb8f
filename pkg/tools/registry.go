// Package tools implements the NPC action registry: the fixed built-in
// tools plus dynamic tools whose Go source runs in a yaegi sandbox.
package tools

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/npcforge/npcforge/pkg/logger"
	"github.com/npcforge/npcforge/pkg/model"
)

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{1,63}$`)

// Tool execution statuses reported to metrics.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusInvalid = "invalid"
)

// Func runs a tool and returns its effect.
type Func func(ctx context.Context, args map[string]interface{}, call CallContext) (map[string]interface{}, error)

// CallContext identifies the NPC a tool acts for.
type CallContext struct {
	NPCID           string
	WorldID         string
	PersonaID       string
	CurrentLocation string
}

// Map returns the context in the form handed to dynamic tools.
func (c CallContext) Map() map[string]interface{} {
	return map[string]interface{}{
		"npc_id":           c.NPCID,
		"world_id":         c.WorldID,
		"persona_id":       c.PersonaID,
		"current_location": c.CurrentLocation,
	}
}

// Store persists dynamic tool definitions.
type Store interface {
	SaveTool(ctx context.Context, t *model.ToolDefinition) error
	GetTool(ctx context.Context, id string) (*model.ToolDefinition, error)
	ListTools(ctx context.Context) ([]*model.ToolDefinition, error)
	DeleteTool(ctx context.Context, id string) error
}

// MetricsRecorder records tool executions.
type MetricsRecorder interface {
	RecordToolExecution(tool, status string)
}

type noopMetrics struct{}

func (noopMetrics) RecordToolExecution(string, string) {}

type entry struct {
	def    *model.ToolDefinition
	schema *jsonschema.Resolved
	run    Func
}

// Registry holds every tool the decision step can pick. It is safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	builtins map[string]*entry
	order    []string
	dynamic  map[string]*entry // by name
	byID     map[string]string // dynamic id -> name

	store   Store
	sandbox *Sandbox
	log     logger.Logger
	metrics MetricsRecorder
	now     func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithSandbox replaces the default dynamic tool sandbox.
func WithSandbox(s *Sandbox) Option {
	return func(r *Registry) { r.sandbox = s }
}

// NewRegistry creates a registry holding the built-in tools. Dynamic tools
// are added by Load, Create and Update.
func NewRegistry(store Store, opts ...Option) *Registry {
	r := &Registry{
		builtins: make(map[string]*entry),
		dynamic:  make(map[string]*entry),
		byID:     make(map[string]string),
		store:    store,
		log:      logger.Nop(),
		metrics:  noopMetrics{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.sandbox == nil {
		r.sandbox = NewSandbox(0)
	}

	for _, b := range builtins() {
		schema, err := compileSchema(b.schema)
		if err != nil {
			panic(fmt.Sprintf("tools: built-in %s has an invalid schema: %v", b.name, err))
		}
		r.builtins[b.name] = &entry{
			def: &model.ToolDefinition{
				ID:               "builtin_" + b.name,
				Name:             b.name,
				Description:      b.description,
				ParametersSchema: b.schema,
				Builtin:          true,
			},
			schema: schema,
			run:    b.run,
		}
		r.order = append(r.order, b.name)
	}
	return r
}

// Load registers every persisted dynamic tool. Tools that no longer compile
// or whose name is taken are skipped with a warning.
func (r *Registry) Load(ctx context.Context) (int, error) {
	defs, err := r.store.ListTools(ctx)
	if err != nil {
		return 0, fmt.Errorf("tools: load dynamic tools failed: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	loaded := 0
	for _, def := range defs {
		e, err := r.compile(def)
		if err != nil {
			r.log.Warn("skipping dynamic tool", "tool", def.Name, "tool_id", def.ID, "error", err)
			continue
		}
		if r.taken(def.Name, "") {
			r.log.Warn("skipping dynamic tool with conflicting name", "tool", def.Name, "tool_id", def.ID)
			continue
		}
		r.dynamic[def.Name] = e
		r.byID[def.ID] = def.Name
		loaded++
	}
	r.log.Info("dynamic tools loaded", "count", loaded)
	return loaded, nil
}

func (r *Registry) compile(def *model.ToolDefinition) (*entry, error) {
	schema, err := compileSchema(def.ParametersSchema)
	if err != nil {
		return nil, err
	}
	if err := r.sandbox.Compile(def.Code); err != nil {
		return nil, err
	}
	code := def.Code
	return &entry{
		def:    def,
		schema: schema,
		run: func(ctx context.Context, args map[string]interface{}, call CallContext) (map[string]interface{}, error) {
			return r.sandbox.Run(ctx, code, args, call.Map())
		},
	}, nil
}

// taken reports whether name is used by a built-in or by a dynamic tool
// other than exceptID. Callers hold r.mu.
func (r *Registry) taken(name, exceptID string) bool {
	if _, ok := r.builtins[name]; ok {
		return true
	}
	e, ok := r.dynamic[name]
	return ok && e.def.ID != exceptID
}

func validateInput(in model.ToolInput) error {
	if err := model.ValidateStruct(in); err != nil {
		return err
	}
	if !namePattern.MatchString(in.Name) {
		return model.NewValidation("name", "must match %s", namePattern.String())
	}
	return nil
}

// Create validates, compiles and persists a new dynamic tool.
func (r *Registry) Create(ctx context.Context, in model.ToolInput) (*model.ToolDefinition, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	now := r.now().UTC()
	def := &model.ToolDefinition{
		ID:               model.NewID(model.PrefixTool),
		Name:             in.Name,
		Description:      in.Description,
		ParametersSchema: in.ParametersSchema,
		Code:             in.Code,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	e, err := r.compile(def)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.taken(def.Name, "") {
		return nil, &model.NameConflictError{Name: def.Name}
	}
	if err := r.store.SaveTool(ctx, def); err != nil {
		return nil, fmt.Errorf("tools: save tool failed: %w", err)
	}
	r.dynamic[def.Name] = e
	r.byID[def.ID] = def.Name

	r.log.Info("dynamic tool created", "tool", def.Name, "tool_id", def.ID)
	return cloneDef(def), nil
}

// Update replaces a dynamic tool's definition. Renaming is allowed as long
// as the new name is free.
func (r *Registry) Update(ctx context.Context, id string, in model.ToolInput) (*model.ToolDefinition, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	r.mu.RLock()
	oldName, ok := r.byID[id]
	var current *model.ToolDefinition
	if ok {
		current = r.dynamic[oldName].def
	}
	r.mu.RUnlock()
	if !ok {
		return nil, model.NewNotFound("tool", id)
	}

	def := &model.ToolDefinition{
		ID:               id,
		Name:             in.Name,
		Description:      in.Description,
		ParametersSchema: in.ParametersSchema,
		Code:             in.Code,
		CreatedAt:        current.CreatedAt,
		UpdatedAt:        r.now().UTC(),
	}
	e, err := r.compile(def)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	oldName, ok = r.byID[id]
	if !ok {
		return nil, model.NewNotFound("tool", id)
	}
	if r.taken(def.Name, id) {
		return nil, &model.NameConflictError{Name: def.Name}
	}
	if err := r.store.SaveTool(ctx, def); err != nil {
		return nil, fmt.Errorf("tools: save tool failed: %w", err)
	}
	delete(r.dynamic, oldName)
	r.dynamic[def.Name] = e
	r.byID[id] = def.Name

	r.log.Info("dynamic tool updated", "tool", def.Name, "tool_id", id)
	return cloneDef(def), nil
}

// Delete removes a dynamic tool. Built-ins cannot be deleted.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name, ok := r.byID[id]
	if !ok {
		return model.NewNotFound("tool", id)
	}
	if err := r.store.DeleteTool(ctx, id); err != nil {
		return fmt.Errorf("tools: delete tool failed: %w", err)
	}
	delete(r.dynamic, name)
	delete(r.byID, id)

	r.log.Info("dynamic tool deleted", "tool", name, "tool_id", id)
	return nil
}

// Get returns a dynamic tool record by id.
func (r *Registry) Get(id string) (*model.ToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.byID[id]
	if !ok {
		return nil, model.NewNotFound("tool", id)
	}
	return cloneDef(r.dynamic[name].def), nil
}

// List returns the dynamic tool records ordered by name.
func (r *Registry) List() []*model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.ToolDefinition, 0, len(r.dynamic))
	for _, name := range r.dynamicNames() {
		out = append(out, cloneDef(r.dynamic[name].def))
	}
	return out
}

// Definitions returns every tool the decision step may choose: built-ins in
// their fixed order followed by dynamic tools by name.
func (r *Registry) Definitions() []*model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.ToolDefinition, 0, len(r.order)+len(r.dynamic))
	for _, name := range r.order {
		out = append(out, cloneDef(r.builtins[name].def))
	}
	for _, name := range r.dynamicNames() {
		out = append(out, cloneDef(r.dynamic[name].def))
	}
	return out
}

// Names returns all tool names in Definitions order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append(append([]string(nil), r.order...), r.dynamicNames()...)
}

// Has reports whether a tool with name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.lookup(name)
	return ok
}

func (r *Registry) dynamicNames() []string {
	names := make([]string, 0, len(r.dynamic))
	for name := range r.dynamic {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) lookup(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.builtins[name]; ok {
		return e, true
	}
	e, ok := r.dynamic[name]
	return e, ok
}

// Execute validates args and runs the named tool. Only an unknown tool is
// returned as an error; schema violations and tool failures come back as a
// failed result.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}, call CallContext) (*model.ActionResult, error) {
	e, ok := r.lookup(name)
	if !ok {
		return nil, &model.UnknownToolError{Name: name, Available: r.Names()}
	}

	result := &model.ActionResult{ActionType: name, Effect: map[string]interface{}{}}

	normalized, err := validateArgs(e.schema, args)
	if err != nil {
		result.Error = fmt.Sprintf("invalid arguments: %v", err)
		r.metrics.RecordToolExecution(name, StatusInvalid)
		r.log.WarnContext(ctx, "tool arguments rejected", "tool", name, "error", err)
		return result, nil
	}

	out, err := invoke(ctx, e.run, normalized, call)
	if err != nil {
		terr := &model.ToolExecutionError{Tool: name, Cause: err}
		result.Error = terr.Error()
		r.metrics.RecordToolExecution(name, StatusFailure)
		r.log.WarnContext(ctx, "tool execution failed", "tool", name, "error", err)
		return result, nil
	}

	applyOutput(result, out, e.def.Builtin)
	if result.Success {
		r.metrics.RecordToolExecution(name, StatusSuccess)
	} else {
		r.metrics.RecordToolExecution(name, StatusFailure)
	}
	return result, nil
}

func invoke(ctx context.Context, run Func, args map[string]interface{}, call CallContext) (out map[string]interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return run(ctx, args, call)
}

// applyOutput copies a tool's output into result. Built-ins return their
// effect directly. Dynamic tools may also return "success", "error" and an
// explicit "effect" map; otherwise the remaining keys form the effect. A
// non-empty "error" always marks the call failed.
func applyOutput(result *model.ActionResult, out map[string]interface{}, builtin bool) {
	result.Success = true
	if builtin {
		if out != nil {
			result.Effect = out
		}
		return
	}

	effect := make(map[string]interface{}, len(out))
	for k, v := range out {
		effect[k] = v
	}
	if ok, present := effect["success"]; present {
		delete(effect, "success")
		if b, isBool := ok.(bool); isBool {
			result.Success = b
		}
	}
	if msg, ok := effect["error"]; ok {
		delete(effect, "error")
		if s := fmt.Sprint(msg); msg != nil && s != "" {
			result.Error = s
			result.Success = false
		}
	}
	if inner, ok := effect["effect"].(map[string]interface{}); ok && len(effect) == 1 {
		effect = inner
	}
	result.Effect = effect
}

func cloneDef(def *model.ToolDefinition) *model.ToolDefinition {
	c := *def
	return &c
}
