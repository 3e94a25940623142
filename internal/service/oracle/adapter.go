package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/ratelimit"
)

// DefaultTimeout bounds one external generator call.
const DefaultTimeout = 10 * time.Second

// errRateLimited marks an external call skipped by the limiter.
var errRateLimited = errors.New("oracle: rate limited")

// Result is the outcome of one adapter call.
type Result struct {
	Payload map[string]any
	Latency time.Duration
	Source  Source
}

// LatencyMs returns Latency in whole milliseconds.
func (r Result) LatencyMs() int64 { return r.Latency.Milliseconds() }

// Adapter calls the external generator and substitutes the rule generator
// whenever the external call cannot produce a usable payload.
type Adapter struct {
	primary  Generator
	fallback Generator
	external bool
	limiter  ratelimit.Limiter
	key      string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewAdapter creates an adapter. A nil primary means every call is answered
// by fallback. A nil limiter permits every call; a non-positive timeout uses
// DefaultTimeout.
func NewAdapter(primary, fallback Generator, limiter ratelimit.Limiter, timeout time.Duration, logger *slog.Logger) *Adapter {
	if fallback == nil {
		fallback = RuleGenerator{}
	}
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	key := "oracle:external"
	if m, ok := primary.(interface{ Model() string }); ok && m.Model() != "" {
		key = "oracle:" + m.Model()
	}
	return &Adapter{
		primary:  primary,
		fallback: fallback,
		external: primary != nil,
		limiter:  limiter,
		key:      key,
		timeout:  timeout,
		logger:   logger,
	}
}

// External reports whether an external generator is configured.
func (a *Adapter) External() bool { return a.external }

// Generate answers req. It never fails: any external error, timeout, limiter
// denial or malformed reply is replaced by the fallback payload. Latency is
// measured from call start, including a failed external attempt.
func (a *Adapter) Generate(ctx context.Context, req Request) Result {
	start := time.Now()
	if a.external {
		payload, err := a.callPrimary(ctx, req)
		if err == nil {
			return Result{Payload: payload, Latency: time.Since(start), Source: SourceExternal}
		}
		a.logger.Warn("oracle: external generator failed, using fallback",
			"kind", req.Kind, "error", err)
	}
	payload, err := a.fallback.Generate(ctx, req)
	if err != nil || payload == nil {
		a.logger.Error("oracle: fallback generator failed", "kind", req.Kind, "error", err)
		payload = map[string]any{}
	}
	return Result{Payload: payload, Latency: time.Since(start), Source: SourceFallback}
}

type outcome struct {
	payload map[string]any
	err     error
}

// callPrimary runs the external generator under the adapter timeout. The
// result channel is buffered so a generator that returns after the deadline
// does not block.
func (a *Adapter) callPrimary(ctx context.Context, req Request) (map[string]any, error) {
	allowed, err := a.limiter.Allow(ctx, a.key)
	if err != nil {
		a.logger.Warn("oracle: rate limiter error, allowing call", "error", err)
	} else if !allowed {
		return nil, errRateLimited
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	ch := make(chan outcome, 1)
	go func() {
		p, err := a.primary.Generate(ctx, req)
		ch <- outcome{payload: p, err: err}
	}()

	select {
	case o := <-ch:
		if o.err != nil {
			return nil, o.err
		}
		if o.payload == nil {
			return nil, fmt.Errorf("%w: empty payload", ErrMalformedResponse)
		}
		if err := checkPayload(req.Kind, o.payload); err != nil {
			return nil, err
		}
		return o.payload, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("oracle: external call: %w", ctx.Err())
	}
}

// NewPrimary selects the external generator once, from credential
// availability. It returns nil when no external generator can be used.
func NewPrimary(ctx context.Context, apiKey, model string, logger *slog.Logger) Generator {
	if apiKey == "" {
		logger.Info("oracle: no API key configured, rule-based decisions only")
		return nil
	}
	g, err := NewGeminiGenerator(ctx, apiKey, model)
	if err != nil {
		logger.Error("oracle: gemini init failed, rule-based decisions only", "error", err)
		return nil
	}
	logger.Info("oracle: external generator: gemini", "model", g.Model())
	return g
}
