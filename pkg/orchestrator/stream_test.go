package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/zen-systems/supportgate/pkg/schema"
)

func drain(t *testing.T, ch <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var events []StreamEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, open := <-ch:
			if !open {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("stream did not terminate; got %d events", len(events))
		}
	}
}

func terminal(t *testing.T, events []StreamEvent) StreamEvent {
	t.Helper()
	if len(events) == 0 {
		t.Fatalf("no events")
	}
	for i, ev := range events[:len(events)-1] {
		if ev.Done || ev.Err != nil {
			t.Fatalf("terminal event at position %d of %d", i, len(events))
		}
	}
	last := events[len(events)-1]
	if last.Done == (last.Err != nil) {
		t.Fatalf("last event must be exactly one of done or error: %+v", last)
	}
	return last
}

func TestStreamPrimary(t *testing.T) {
	s := ok("hello world", 2)
	s.chunks = []string{"hello ", "world"}
	h := newHarness(t, 0.9, map[string]scripted{"local": s})

	events := drain(t, h.orch.Stream(context.Background(), "question"))
	last := terminal(t, events)
	if !last.Done || last.Meta == nil {
		t.Fatalf("expected done with meta, got %+v", last)
	}
	if len(events) != 3 || events[0].Chunk != "hello " || events[1].Chunk != "world" {
		t.Fatalf("unexpected events %+v", events)
	}
	if last.Meta.Decision.Reason != schema.ReasonPrimary || !last.Meta.Streamed {
		t.Fatalf("unexpected meta %+v", last.Meta)
	}
	if got := h.agg.Snapshot().SuccessCount; got != 1 {
		t.Fatalf("expected one recorded success, got %d", got)
	}
}

func TestStreamFallsBackBeforeFirstChunk(t *testing.T) {
	remote := ok("fallback", 1)
	remote.chunks = []string{"fallback"}
	h := newHarness(t, 0.9, map[string]scripted{
		"local":  failure(schema.ErrorKindUpstream, "refused"),
		"remote": remote,
	})

	events := drain(t, h.orch.Stream(context.Background(), "question"))
	last := terminal(t, events)
	if !last.Done {
		t.Fatalf("expected done, got %+v", last.Err)
	}
	if last.Meta.Decision.Reason != schema.ReasonPrimaryFailedFallback {
		t.Fatalf("unexpected reason %s", last.Meta.Decision.Reason)
	}
	if events[0].Chunk != "fallback" {
		t.Fatalf("unexpected first chunk %q", events[0].Chunk)
	}
}

func TestStreamDoesNotFallBackAfterChunks(t *testing.T) {
	local := failure(schema.ErrorKindUpstream, "stream reset")
	local.chunks = []string{"partial"}
	h := newHarness(t, 0.9, map[string]scripted{
		"local":  local,
		"remote": ok("fallback", 1),
	})

	events := drain(t, h.orch.Stream(context.Background(), "question"))
	last := terminal(t, events)
	if last.Err == nil || last.Err.Kind != KindUpstreamUnavailable {
		t.Fatalf("expected upstream unavailable, got %+v", last)
	}
	if h.inv.callCount("remote") != 0 {
		t.Fatalf("fallback must not run after chunks were emitted")
	}
	if len(events) != 2 || events[0].Chunk != "partial" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestStreamBadRequest(t *testing.T) {
	h := newHarness(t, 0.9, nil)

	events := drain(t, h.orch.Stream(context.Background(), "  "))
	if len(events) != 1 {
		t.Fatalf("expected a single event, got %d", len(events))
	}
	if events[0].Err == nil || events[0].Err.Kind != KindBadRequest {
		t.Fatalf("expected bad request, got %+v", events[0])
	}
}

func TestStreamAbandonedConsumer(t *testing.T) {
	s := ok("a b c", 3)
	s.chunks = []string{"a ", "b ", "c"}
	h := newHarness(t, 0.9, map[string]scripted{"local": s})

	ctx, cancel := context.WithCancel(context.Background())
	ch := h.orch.Stream(ctx, "question")
	<-ch
	cancel()

	drain(t, ch)
	if got := h.agg.Snapshot().TotalQueries; got != 0 {
		t.Fatalf("canceled stream must not be recorded, got %d", got)
	}
}

func TestStreamStartsBeforeFirstReceive(t *testing.T) {
	s := ok("hello", 1)
	s.chunks = []string{"hello"}
	h := newHarness(t, 0.9, map[string]scripted{"local": s})

	ch := h.orch.Stream(context.Background(), "question")
	deadline := time.Now().Add(2 * time.Second)
	for h.inv.callCount("local") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("primary not invoked before the first receive")
		}
		time.Sleep(time.Millisecond)
	}

	if last := terminal(t, drain(t, ch)); !last.Done {
		t.Fatalf("expected done, got %+v", last)
	}
}
