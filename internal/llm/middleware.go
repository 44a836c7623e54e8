package llm

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"
)

// Middleware decorates an LLMClient to inject cross-cutting concerns
// (timeouts, rate limiting, retries, logging).
type Middleware func(LLMClient) LLMClient

// Wrap applies middlewares in left-to-right order.
// Example: Wrap(inner, A, B) => A(B(inner))
func Wrap(inner LLMClient, mws ...Middleware) LLMClient {
	out := inner
	for i := len(mws) - 1; i >= 0; i-- {
		out = mws[i](out)
	}
	return out
}

// -------- Hard per-call deadline --------

// WithTimeout bounds every GenerateJSON call with its own deadline. On
// expiry the call is abandoned and the error is reported as a transport
// failure so adapters take their fallback path immediately.
func WithTimeout(d time.Duration) Middleware {
	return func(next LLMClient) LLMClient {
		return &deadlined{next: next, d: d}
	}
}

type deadlined struct {
	next LLMClient
	d    time.Duration
}

func (c *deadlined) Name() string { return c.next.Name() }
func (c *deadlined) Close() error { return c.next.Close() }
func (c *deadlined) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	if c.d <= 0 {
		return c.next.GenerateJSON(ctx, prompt, input)
	}
	ctx, cancel := context.WithTimeout(ctx, c.d)
	defer cancel()
	raw, err := c.next.GenerateJSON(ctx, prompt, input)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		var tErr *TransportError
		if !errors.As(err, &tErr) {
			err = &TransportError{Op: PhaseFrom(ctx), Err: err}
		}
	}
	return raw, err
}

// -------- Rate Limiting --------

// RateLimit limits request rate using the token-bucket rpsLimiter.
// If rps <= 0, the limiter is effectively disabled.
func RateLimit(rps float64, burst int) Middleware {
	return func(next LLMClient) LLMClient {
		rl := newRPSLimiter(rps, burst) // nil when disabled
		return &rateLimited{next: next, rl: rl}
	}
}

type rateLimited struct {
	next LLMClient
	rl   *rpsLimiter
}

func (c *rateLimited) Name() string { return c.next.Name() }
func (c *rateLimited) Close() error {
	if c.rl != nil {
		c.rl.Stop()
	}
	return c.next.Close()
}
func (c *rateLimited) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	if c.rl != nil {
		if err := c.rl.Acquire(ctx); err != nil {
			return nil, &TransportError{Op: PhaseFrom(ctx), Err: err}
		}
	}
	return c.next.GenerateJSON(ctx, prompt, input)
}

// -------- Retry with exponential backoff --------

// Retry retries GenerateJSON up to maxAttempts with exponential backoff
// starting at baseDelay. Context cancellation and deadline-exceeded
// failures stop the loop immediately.
func Retry(maxAttempts int, baseDelay time.Duration) Middleware {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 300 * time.Millisecond
	}
	return func(next LLMClient) LLMClient {
		return &retrying{next: next, max: maxAttempts, base: baseDelay}
	}
}

type retrying struct {
	next LLMClient
	max  int
	base time.Duration
}

func (r *retrying) Name() string { return r.next.Name() }
func (r *retrying) Close() error { return r.next.Close() }
func (r *retrying) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	var last error
	for i := 0; i < r.max; i++ {
		resp, err := r.next.GenerateJSON(ctx, prompt, input)
		if err == nil {
			return resp, nil
		}
		last = err
		// A canceled context or an exhausted deadline means the deadline
		// owner already gave up; the call is abandoned, not retried.
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return nil, last
		}
		time.Sleep(r.base * time.Duration(1<<i))
	}
	return nil, last
}

// -------- Logging --------

// WithLogging logs request size and errors. Provide a custom logger or nil
// to use log.Default().
func WithLogging(logger *log.Logger) Middleware {
	if logger == nil {
		logger = log.Default()
	}
	return func(next LLMClient) LLMClient {
		return &logging{next: next, log: logger}
	}
}

type logging struct {
	next LLMClient
	log  *log.Logger
}

func (l *logging) Name() string { return l.next.Name() }
func (l *logging) Close() error { return l.next.Close() }
func (l *logging) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	in, _ := json.MarshalIndent(input, "", "  ")
	l.log.Printf("LLM request (%s): %d bytes", PhaseFrom(ctx), len(prompt)+len(in))
	raw, err := l.next.GenerateJSON(ctx, prompt, input)
	if err != nil {
		l.log.Printf("LLM error (%s): %v", PhaseFrom(ctx), err)
	}
	return raw, err
}
