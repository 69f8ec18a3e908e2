package orchestrator

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/zen-systems/supportgate/pkg/schema"
)

// StreamEvent is one element of a streamed answer. A stream is zero or more
// Chunk events followed by exactly one event with Done or Err set.
type StreamEvent struct {
	Chunk string
	Done  bool
	Meta  *Result
	Err   *Error
}

// Stream answers text incrementally. Classification and the primary
// invocation start as soon as Stream is called, before the first receive;
// the first chunk then waits for the consumer. The channel is closed after
// the terminal event. Fallback is attempted only when the primary failed
// before emitting anything. Consumers that stop reading must cancel ctx.
func (o *Orchestrator) Stream(ctx context.Context, text string) <-chan StreamEvent {
	out := make(chan StreamEvent)

	go func() {
		defer close(out)

		start := time.Now()
		res := &Result{Query: schema.NewQuery(text), Streamed: true}

		send := func(ev StreamEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var emitted atomic.Bool
		emit := func(chunk string) error {
			if chunk == "" {
				return nil
			}
			emitted.Store(true)
			if !send(StreamEvent{Chunk: chunk}) {
				return ctx.Err()
			}
			return nil
		}
		call := func(ctx context.Context, prompt, backendID string) schema.BackendResponse {
			return o.invoker.InvokeStream(ctx, prompt, backendID, o.timeout, emit)
		}

		o.runSafely(ctx, res, call, func() bool { return !emitted.Load() })
		o.finish(res, start)

		if res.Err != nil {
			send(StreamEvent{Err: res.Err})
			return
		}
		send(StreamEvent{Done: true, Meta: res})
	}()

	return out
}
