package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/npcforge/npcforge/pkg/logger"
	"github.com/npcforge/npcforge/pkg/model"
)

// Call statuses reported to metrics.
const (
	CallSuccess = "success"
	CallError   = "error"
)

// StatusError carries the HTTP status of a failed backend call.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %v", e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// retryable reports whether a failed call may succeed when repeated.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500 || se.StatusCode == 0
	}
	return true
}

// Resilient wraps a backend with rate limiting, a per-call timeout and
// exponential-backoff retries. Failures surface as *model.UpstreamError.
type Resilient struct {
	inner      Client
	limiter    *rate.Limiter
	timeout    time.Duration
	maxRetries uint
	backoff    func() backoff.BackOff

	log     logger.Logger
	metrics MetricsRecorder
}

// NewResilient wraps inner.
func NewResilient(inner Client, cfg Config, opts ...Option) *Resilient {
	o := options{log: logger.Nop(), metrics: noopMetrics{}}
	for _, opt := range opts {
		opt(&o)
	}

	limit, burst := rateParams(cfg.RateLimit, cfg.Burst)
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Resilient{
		inner:      inner,
		limiter:    rate.NewLimiter(limit, burst),
		timeout:    timeout,
		maxRetries: uint(retries),
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			return b
		},
		log:     o.log,
		metrics: o.metrics,
	}
}

// SetRateLimit changes the call rate and burst without dropping waiters.
// A non-positive rate removes the limit.
func (r *Resilient) SetRateLimit(perSecond float64, burst int) {
	limit, b := rateParams(perSecond, burst)
	r.limiter.SetLimit(limit)
	r.limiter.SetBurst(b)
}

func rateParams(perSecond float64, burst int) (rate.Limit, int) {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return limit, burst
}

// Complete runs req against the wrapped backend. When the caller's context
// ends first its error is returned unchanged so deadlines stay
// distinguishable from backend failures.
func (r *Resilient) Complete(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	attempt := 0

	op := func() (*Response, error) {
		attempt++
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		resp, err := r.inner.Complete(callCtx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		if !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		r.log.WarnContext(ctx, "reasoning call failed, retrying",
			"purpose", req.Purpose, "attempt", attempt, "error", err)
		return nil, err
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(r.backoff()),
		backoff.WithMaxTries(r.maxRetries),
	)
	elapsed := time.Since(start)
	if err != nil {
		r.metrics.RecordLLMCall(string(req.Purpose), CallError, elapsed)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("llm: %s call aborted: %w", req.Purpose, ctxErr)
		}
		return nil, &model.UpstreamError{Op: string(req.Purpose), Cause: err}
	}
	r.metrics.RecordLLMCall(string(req.Purpose), CallSuccess, elapsed)
	return resp, nil
}
