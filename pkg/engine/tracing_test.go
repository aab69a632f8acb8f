package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setEngineTracingProvider(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	prev := otel.GetTracerProvider()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return recorder
}

func spanNames(spans []sdktrace.ReadOnlySpan) map[string]sdktrace.ReadOnlySpan {
	out := make(map[string]sdktrace.ReadOnlySpan, len(spans))
	for _, s := range spans {
		out[s.Name()] = s
	}
	return out
}

func TestRunTurn_Spans(t *testing.T) {
	recorder := setEngineTracingProvider(t)
	f := newFixture(t, &script{decide: greet(), importance: routine}, DefaultConfig())

	_, err := f.engine.RunTurn(context.Background(), wizardID, hello(), TurnOptions{})
	require.NoError(t, err)

	spans := spanNames(recorder.Ended())
	for _, name := range []string{spanTurn, spanLaneWait, spanRetrieve, spanDecide, spanExecute, spanCommit} {
		assert.Contains(t, spans, name)
	}
	assert.NotContains(t, spans, spanReflect)

	root := spans[spanTurn]
	assert.Equal(t, codes.Unset, root.Status().Code)
	for _, name := range []string{spanRetrieve, spanDecide, spanCommit} {
		assert.Equal(t, root.SpanContext().TraceID(), spans[name].SpanContext().TraceID(), name)
	}
}

func TestRunTurn_FailedSpanStatus(t *testing.T) {
	recorder := setEngineTracingProvider(t)
	f := newFixture(t, &script{decide: choose("teleport", nil), importance: routine}, DefaultConfig())

	_, err := f.engine.RunTurn(context.Background(), wizardID, hello(), TurnOptions{})
	require.Error(t, err)

	spans := spanNames(recorder.Ended())
	require.Contains(t, spans, spanTurn)
	assert.Equal(t, codes.Error, spans[spanTurn].Status().Code)
	assert.NotContains(t, spans, spanExecute)
}
