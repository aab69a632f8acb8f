// Package llm provides the reasoning clients used by the turn engine:
// OpenAI-compatible, Anthropic and an offline rule-based backend, all
// behind one small Client interface.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/npcforge/npcforge/pkg/logger"
)

// Purpose labels a reasoning call for metrics and backend routing.
type Purpose string

// Call purposes.
const (
	PurposeDecision   Purpose = "decision"
	PurposeImportance Purpose = "importance"
	PurposeReflection Purpose = "reflection"
	PurposeGeneration Purpose = "generation"
)

// Providers.
const (
	ProviderOffline   = "offline"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// ToolSpec is a tool offered to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Request is one prompt.
type Request struct {
	Purpose Purpose
	System  string
	Prompt  string
	Tools   []ToolSpec

	// Schema, when set, asks for a JSON answer matching it.
	Schema *jsonschema.Schema

	// Metadata carries structured hints such as the observing NPC and the
	// actor. Remote backends ignore it.
	Metadata map[string]string

	MaxTokens int
}

// ToolCall is a tool the model chose.
type ToolCall struct {
	ID           string
	Name         string
	Arguments    map[string]interface{}
	RawArguments string
}

// Response is the model's answer.
type Response struct {
	Text      string
	ToolCalls []ToolCall
}

// Client sends prompts to a reasoning backend.
type Client interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req *Request) (*Response, error)

// Complete calls f.
func (f ClientFunc) Complete(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Config selects and tunes a backend.
type Config struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	MaxRetries  int
	RateLimit   float64
	Burst       int
	MaxTokens   int
	Temperature float64
}

// MetricsRecorder records reasoning calls.
type MetricsRecorder interface {
	RecordLLMCall(purpose, status string, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordLLMCall(string, string, time.Duration) {}

type options struct {
	log     logger.Logger
	metrics MetricsRecorder
}

// Option configures New.
type Option func(*options)

// WithLogger sets the client logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *options) { o.metrics = m }
}

// New builds the configured backend wrapped in a Resilient client.
func New(cfg Config, opts ...Option) (*Resilient, error) {
	var backend Client
	switch cfg.Provider {
	case "", ProviderOffline:
		backend = NewOffline()
	case ProviderOpenAI:
		backend = NewOpenAI(cfg)
	case ProviderAnthropic:
		backend = NewAnthropic(cfg)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
	return NewResilient(backend, cfg, opts...), nil
}
