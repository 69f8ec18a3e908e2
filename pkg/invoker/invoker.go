package invoker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/zen-systems/supportgate/pkg/adapter"
	"github.com/zen-systems/supportgate/pkg/config"
	"github.com/zen-systems/supportgate/pkg/schema"
)

// ErrStreamClosed is returned to a late stream producer after the invocation
// has already finished.
var ErrStreamClosed = errors.New("stream closed")

// Invoker calls backends with a hard timeout and maps every failure into a
// BackendResponse.
type Invoker struct {
	registry *Registry
	retry    config.RetryConfig
	logf     func(format string, args ...any)
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithRetry sets transient retry behavior. MaxRetries of zero makes every
// Invoke a single outbound call.
func WithRetry(retry config.RetryConfig) Option {
	return func(inv *Invoker) {
		inv.retry = retry
	}
}

// WithLogger overrides the invoker logger.
func WithLogger(logf func(format string, args ...any)) Option {
	return func(inv *Invoker) {
		if logf != nil {
			inv.logf = logf
		}
	}
}

// New creates an invoker over reg.
func New(reg *Registry, opts ...Option) *Invoker {
	inv := &Invoker{
		registry: reg,
		retry:    config.RetryConfig{BaseBackoffMs: 200, MaxBackoffMs: 2000},
		logf:     log.Printf,
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Invoke sends prompt to backendID and waits at most timeout for the reply.
// It never panics and never blocks past the timeout.
func (inv *Invoker) Invoke(ctx context.Context, prompt, backendID string, timeout time.Duration) schema.BackendResponse {
	return inv.invoke(ctx, prompt, backendID, timeout, nil)
}

// InvokeStream is Invoke with incremental delivery. emit receives each chunk
// in order; backends that cannot stream deliver the whole reply as one chunk
// on success. emit is never called after InvokeStream returns.
func (inv *Invoker) InvokeStream(ctx context.Context, prompt, backendID string, timeout time.Duration, emit func(string) error) schema.BackendResponse {
	return inv.invoke(ctx, prompt, backendID, timeout, emit)
}

func (inv *Invoker) invoke(ctx context.Context, prompt, backendID string, timeout time.Duration, emit func(string) error) schema.BackendResponse {
	start := time.Now()
	resp := schema.BackendResponse{BackendID: backendID}

	b, ok := inv.registry.Lookup(backendID)
	if !ok {
		return failed(resp, start, schema.ErrorKindUpstream, fmt.Sprintf("unknown backend %q", backendID))
	}
	resp.Adapter = b.Name
	resp.Model = b.Model
	if b.Err != nil {
		return failed(resp, start, schema.ErrorKindUpstream, b.Err.Error())
	}

	callCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	var out *adapter.Response
	var err error
	if emit != nil {
		out, err = inv.streamOnce(callCtx, b, prompt, emit)
	} else {
		out, err = inv.callWithRetry(callCtx, b, prompt)
	}

	if err != nil {
		switch {
		case ctx.Err() != nil:
			return failed(resp, start, schema.ErrorKindCanceled, ctx.Err().Error())
		case errors.Is(callCtx.Err(), context.DeadlineExceeded), adapter.IsTimeout(err):
			inv.logf("[invoker] %s timed out after %s", backendID, timeout)
			return failed(resp, start, schema.ErrorKindTimeout, "timeout")
		default:
			inv.logf("[invoker] %s failed: %v", backendID, err)
			return failed(resp, start, schema.ErrorKindUpstream, err.Error())
		}
	}

	resp.Text = out.Content
	resp.Succeeded = true
	resp.LatencySeconds = time.Since(start).Seconds()
	if out.Usage != nil {
		usage := out.Usage.Normalize()
		resp.PromptTokens = usage.PromptTokens
		resp.CompletionTokens = usage.CompletionTokens
		resp.TokenCount = usage.TotalTokens
	}
	if resp.TokenCount == 0 {
		resp.TokenCount = len(strings.Fields(out.Content))
	}
	return resp
}

func failed(resp schema.BackendResponse, start time.Time, kind schema.ErrorKind, msg string) schema.BackendResponse {
	resp.Succeeded = false
	resp.ErrorKind = kind
	resp.Error = msg
	resp.LatencySeconds = time.Since(start).Seconds()
	return resp
}

func (inv *Invoker) callWithRetry(ctx context.Context, b Backend, prompt string) (*adapter.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= inv.retry.MaxRetries; attempt++ {
		out, err := callOnce(ctx, func(ctx context.Context) (*adapter.Response, error) {
			return b.Adapter.Generate(ctx, b.Model, prompt)
		})
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil || !adapter.IsTransient(err) || attempt == inv.retry.MaxRetries {
			break
		}
		backoff := computeBackoff(inv.retry.BaseBackoffMs, inv.retry.MaxBackoffMs, attempt)
		inv.logf("[invoker] %s transient error (attempt %d), retrying in %s: %v", b.ID, attempt+1, backoff, err)
		if err := sleepWithContext(ctx, backoff); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// streamOnce streams without retries: chunks already delivered cannot be
// taken back.
func (inv *Invoker) streamOnce(ctx context.Context, b Backend, prompt string, emit func(string) error) (*adapter.Response, error) {
	streamer, ok := b.Adapter.(adapter.Streamer)
	if !ok {
		out, err := inv.callWithRetry(ctx, b, prompt)
		if err != nil {
			return nil, err
		}
		if err := emit(out.Content); err != nil {
			return nil, err
		}
		return out, nil
	}

	var mu sync.Mutex
	closed := false
	guarded := func(chunk string) error {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return ErrStreamClosed
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return emit(chunk)
	}
	defer func() {
		mu.Lock()
		closed = true
		mu.Unlock()
	}()

	return callOnce(ctx, func(ctx context.Context) (*adapter.Response, error) {
		return streamer.GenerateStream(ctx, b.Model, prompt, guarded)
	})
}

type callResult struct {
	resp *adapter.Response
	err  error
}

// callOnce runs fn in its own goroutine so an adapter that ignores ctx cannot
// hold the caller past the deadline. Panics become errors.
func callOnce(ctx context.Context, fn func(context.Context) (*adapter.Response, error)) (*adapter.Response, error) {
	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{err: errPanic(r)}
			}
		}()
		resp, err := fn(ctx)
		done <- callResult{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		if res.resp == nil || strings.TrimSpace(res.resp.Content) == "" {
			return nil, adapter.ErrEmptyResponse
		}
		return res.resp, nil
	}
}

func errPanic(r any) error {
	return fmt.Errorf("adapter panic: %v", r)
}
