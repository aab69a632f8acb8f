package engine

import (
	"context"
	"errors"

	"github.com/npcforge/npcforge/pkg/metrics"
	"github.com/npcforge/npcforge/pkg/model"
)

// EngineNotRunningError is returned when a turn arrives before Start or
// after Stop.
type EngineNotRunningError struct{}

func (e *EngineNotRunningError) Error() string {
	return "engine is not running"
}

// IsNotRunning reports whether err is an EngineNotRunningError.
func IsNotRunning(err error) bool {
	var target *EngineNotRunningError
	return errors.As(err, &target)
}

// outcomeOf classifies a turn error for the turn counter.
func outcomeOf(err error) string {
	var (
		unknown  *model.UnknownToolError
		upstream *model.UpstreamError
	)
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeTimeout
	case model.IsNotFound(err):
		return metrics.OutcomeNotFound
	case model.IsValidation(err):
		return metrics.OutcomeInvalid
	case errors.As(err, &unknown):
		return metrics.OutcomeUnknownTool
	case errors.As(err, &upstream):
		return metrics.OutcomeUpstream
	default:
		return metrics.OutcomeError
	}
}
