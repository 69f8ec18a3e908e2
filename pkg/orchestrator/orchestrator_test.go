package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zen-systems/supportgate/pkg/config"
	"github.com/zen-systems/supportgate/pkg/evidence"
	"github.com/zen-systems/supportgate/pkg/router"
	"github.com/zen-systems/supportgate/pkg/schema"
	"github.com/zen-systems/supportgate/pkg/stats"
)

type fakeRouter struct {
	intent schema.IntentResult
	policy router.Policy
	panics bool
}

func (f *fakeRouter) Classify(ctx context.Context, text string) (schema.IntentResult, error) {
	if f.panics {
		panic("classifier exploded")
	}
	if strings.TrimSpace(text) == "" {
		return schema.IntentResult{}, router.ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return schema.IntentResult{}, err
	}
	return f.intent, nil
}

func (f *fakeRouter) Decide(intent schema.IntentResult, primary *schema.BackendResponse) schema.RoutingDecision {
	return f.policy.Decide(intent, primary)
}

type scripted struct {
	resp   schema.BackendResponse
	chunks []string
}

type fakeInvoker struct {
	mu      sync.Mutex
	script  map[string]scripted
	calls   map[string]int
	prompts []string
}

func newFakeInvoker(script map[string]scripted) *fakeInvoker {
	return &fakeInvoker{script: script, calls: make(map[string]int)}
}

func (f *fakeInvoker) record(prompt, backendID string) (scripted, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[backendID]++
	f.prompts = append(f.prompts, prompt)
	s, ok := f.script[backendID]
	return s, ok
}

func (f *fakeInvoker) callCount(backendID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[backendID]
}

func (f *fakeInvoker) Invoke(ctx context.Context, prompt, backendID string, timeout time.Duration) schema.BackendResponse {
	s, ok := f.record(prompt, backendID)
	if !ok {
		return schema.BackendResponse{BackendID: backendID, ErrorKind: schema.ErrorKindUpstream, Error: "unknown backend"}
	}
	resp := s.resp
	resp.BackendID = backendID
	return resp
}

func (f *fakeInvoker) InvokeStream(ctx context.Context, prompt, backendID string, timeout time.Duration, emit func(string) error) schema.BackendResponse {
	s, ok := f.record(prompt, backendID)
	if !ok {
		return schema.BackendResponse{BackendID: backendID, ErrorKind: schema.ErrorKindUpstream, Error: "unknown backend"}
	}
	for _, chunk := range s.chunks {
		if err := emit(chunk); err != nil {
			return schema.BackendResponse{BackendID: backendID, ErrorKind: schema.ErrorKindCanceled, Error: err.Error()}
		}
	}
	if err := ctx.Err(); err != nil {
		return schema.BackendResponse{BackendID: backendID, ErrorKind: schema.ErrorKindCanceled, Error: err.Error()}
	}
	resp := s.resp
	resp.BackendID = backendID
	return resp
}

type memorySink struct {
	mu      sync.Mutex
	records []evidence.QueryRecord
}

func (m *memorySink) Write(rec evidence.QueryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memorySink) Recent(limit int) ([]evidence.QueryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]evidence.QueryRecord(nil), m.records...), nil
}

func (m *memorySink) Close() error { return nil }

func ok(text string, tokens int) scripted {
	return scripted{resp: schema.BackendResponse{Text: text, Adapter: "mock", Model: "m", Succeeded: true, TokenCount: tokens}}
}

func failure(kind schema.ErrorKind, msg string) scripted {
	return scripted{resp: schema.BackendResponse{ErrorKind: kind, Error: msg}}
}

type harness struct {
	orch  *Orchestrator
	inv   *fakeInvoker
	agg   *stats.Aggregator
	sink  *memorySink
	rt    *fakeRouter
	lines []string
}

func newHarness(t *testing.T, confidence float64, script map[string]scripted) *harness {
	t.Helper()
	h := &harness{
		inv:  newFakeInvoker(script),
		agg:  stats.NewAggregator(nil),
		sink: &memorySink{},
		rt: &fakeRouter{
			intent: schema.IntentResult{Label: schema.LabelTechnical, Confidence: confidence},
			policy: router.Policy{Threshold: 0.5, Primary: "local", Fallback: "remote"},
		},
	}
	var mu sync.Mutex
	logf := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		h.lines = append(h.lines, format)
	}
	orch, err := New(h.rt, h.inv, config.DefaultRoutingConfig(), WithStats(h.agg), WithEvidence(h.sink), WithLogger(logf))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.orch = orch
	return h
}

func TestHandlePrimarySuccess(t *testing.T) {
	h := newHarness(t, 0.9, map[string]scripted{"local": ok("restart the router", 7)})

	res := h.orch.Handle(context.Background(), "my connection keeps failing")
	if res.State != StateCompleted || res.Err != nil {
		t.Fatalf("expected completed, got %s %v", res.State, res.Err)
	}
	if res.Response.Text != "restart the router" {
		t.Fatalf("unexpected text %q", res.Response.Text)
	}
	if res.Decision.ChosenBackend != "local" || res.Decision.Reason != schema.ReasonPrimary {
		t.Fatalf("unexpected decision %+v", res.Decision)
	}
	if h.inv.callCount("local") != 1 || h.inv.callCount("remote") != 0 {
		t.Fatalf("expected one primary call, got %v", h.inv.calls)
	}
	if res.ModelUsed() != "mock:m" {
		t.Fatalf("unexpected model %q", res.ModelUsed())
	}

	snap := h.agg.Snapshot()
	if snap.TotalQueries != 1 || snap.SuccessCount != 1 || snap.TokenTotal != 7 {
		t.Fatalf("unexpected stats %+v", snap)
	}
	if len(h.sink.records) != 1 || !h.sink.records[0].Succeeded {
		t.Fatalf("expected one successful evidence record, got %+v", h.sink.records)
	}
}

func TestHandleEmptyTextIsBadRequest(t *testing.T) {
	cfg := config.DefaultRoutingConfig()
	inv := newFakeInvoker(map[string]scripted{"local": ok("technical", 1)})
	agg := stats.NewAggregator(nil)
	sink := &memorySink{}
	orch, err := New(router.NewRouter(cfg, inv), inv, cfg, WithStats(agg), WithEvidence(sink), WithLogger(func(string, ...any) {}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, text := range []string{"", "   \n\t"} {
		res := orch.Handle(context.Background(), text)
		if res.State != StateFailed || res.Err == nil || res.Err.Kind != KindBadRequest {
			t.Fatalf("expected bad request for %q, got %s %v", text, res.State, res.Err)
		}
	}
	if len(inv.prompts) != 0 {
		t.Fatalf("expected no backend calls, got %d", len(inv.prompts))
	}
	if got := agg.Snapshot().TotalQueries; got != 0 {
		t.Fatalf("bad requests must not be recorded, got %d", got)
	}
	if len(sink.records) != 2 {
		t.Fatalf("expected evidence for each query, got %d", len(sink.records))
	}
}

func TestHandleLowConfidenceGoesStraightToFallback(t *testing.T) {
	h := newHarness(t, 0.3, map[string]scripted{
		"local":  ok("primary", 1),
		"remote": ok("fallback", 2),
	})

	res := h.orch.Handle(context.Background(), "hmm")
	if res.State != StateCompleted {
		t.Fatalf("expected completed, got %s %v", res.State, res.Err)
	}
	if res.Decision.ChosenBackend != "remote" || res.Decision.Reason != schema.ReasonLowConfidenceFallback {
		t.Fatalf("unexpected decision %+v", res.Decision)
	}
	if h.inv.callCount("local") != 0 || h.inv.callCount("remote") != 1 {
		t.Fatalf("unexpected calls %v", h.inv.calls)
	}
	if got := h.agg.Snapshot().FallbackCount; got != 1 {
		t.Fatalf("expected fallback count 1, got %d", got)
	}
}

func TestHandleThresholdIsNotLow(t *testing.T) {
	h := newHarness(t, 0.5, map[string]scripted{"local": ok("primary", 1)})

	res := h.orch.Handle(context.Background(), "question")
	if res.Decision.Reason != schema.ReasonPrimary || h.inv.callCount("local") != 1 {
		t.Fatalf("confidence at threshold should use primary, got %+v", res.Decision)
	}
}

func TestHandlePrimaryTimeoutFallsBack(t *testing.T) {
	h := newHarness(t, 0.9, map[string]scripted{
		"local":  failure(schema.ErrorKindTimeout, "timeout"),
		"remote": ok("fallback answer", 4),
	})

	res := h.orch.Handle(context.Background(), "api is down")
	if res.State != StateCompleted {
		t.Fatalf("expected completed, got %s %v", res.State, res.Err)
	}
	if res.Decision.ChosenBackend != "remote" || res.Decision.Reason != schema.ReasonPrimaryFailedFallback {
		t.Fatalf("unexpected decision %+v", res.Decision)
	}
	if len(res.Attempts) != 2 || res.Attempts[0].ErrorKind != schema.ErrorKindTimeout {
		t.Fatalf("unexpected attempts %+v", res.Attempts)
	}
	if res.Response.Text != "fallback answer" {
		t.Fatalf("unexpected response %q", res.Response.Text)
	}

	rec := h.sink.records[0]
	if len(rec.Attempts) != 2 || rec.Attempts[0].ErrorKind != string(KindUpstreamTimeout) {
		t.Fatalf("unexpected evidence attempts %+v", rec.Attempts)
	}
}

func TestHandleBothBackendsFail(t *testing.T) {
	h := newHarness(t, 0.9, map[string]scripted{
		"local":  failure(schema.ErrorKindUpstream, "connection refused"),
		"remote": failure(schema.ErrorKindTimeout, "timeout"),
	})

	res := h.orch.Handle(context.Background(), "anything")
	if res.State != StateFailed || res.Err == nil || res.Err.Kind != KindUpstreamUnavailable {
		t.Fatalf("expected upstream unavailable, got %s %v", res.State, res.Err)
	}
	if strings.Contains(res.Err.Message, "connection refused") {
		t.Fatalf("internal detail leaked into message: %q", res.Err.Message)
	}
	if !strings.Contains(res.Err.Detail, "connection refused") {
		t.Fatalf("detail should keep the cause, got %q", res.Err.Detail)
	}

	snap := h.agg.Snapshot()
	if snap.SuccessCount != 0 || snap.FailureCount != 1 || snap.TotalQueries != 1 {
		t.Fatalf("unexpected stats %+v", snap)
	}
}

func TestHandleCanceledIsNotRecorded(t *testing.T) {
	h := newHarness(t, 0.9, map[string]scripted{"local": ok("x", 1)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := h.orch.Handle(ctx, "question")
	if res.Err == nil || res.Err.Kind != KindCanceled {
		t.Fatalf("expected canceled, got %v", res.Err)
	}
	if h.inv.callCount("local") != 0 {
		t.Fatalf("no backend should be called after cancel")
	}
	if got := h.agg.Snapshot().TotalQueries; got != 0 {
		t.Fatalf("canceled queries must not be recorded, got %d", got)
	}
}

func TestHandleCanceledDuringPrimarySkipsFallback(t *testing.T) {
	h := newHarness(t, 0.9, map[string]scripted{
		"local":  failure(schema.ErrorKindCanceled, "context canceled"),
		"remote": ok("fallback", 1),
	})

	res := h.orch.Handle(context.Background(), "question")
	if res.Err == nil || res.Err.Kind != KindCanceled {
		t.Fatalf("expected canceled, got %v", res.Err)
	}
	if h.inv.callCount("remote") != 0 {
		t.Fatalf("fallback must not run after cancellation")
	}
	if got := h.agg.Snapshot().TotalQueries; got != 0 {
		t.Fatalf("canceled queries must not be recorded, got %d", got)
	}
}

func TestHandleRecoversPanics(t *testing.T) {
	h := newHarness(t, 0.9, nil)
	h.rt.panics = true

	res := h.orch.Handle(context.Background(), "question")
	if res.State != StateFailed || res.Err.Kind != KindUpstreamUnavailable {
		t.Fatalf("expected failed, got %s %v", res.State, res.Err)
	}
	if len(h.sink.records) != 1 {
		t.Fatalf("expected one evidence record, got %d", len(h.sink.records))
	}
}

func TestHandleLogsOneLinePerQuery(t *testing.T) {
	h := newHarness(t, 0.9, map[string]scripted{"local": ok("x", 1)})
	h.orch.Handle(context.Background(), "question")

	var terminal int
	for _, line := range h.lines {
		if strings.Contains(line, "state=") {
			terminal++
		}
	}
	if terminal != 1 {
		t.Fatalf("expected one terminal log line, got %d", terminal)
	}
}

func TestHandleWithKeywordRouter(t *testing.T) {
	cfg := config.DefaultRoutingConfig()
	disabled := false
	cfg.EnableLLMClassifier = &disabled
	inv := newFakeInvoker(map[string]scripted{"local": ok("refunds take 5 days", 5)})
	orch, err := New(router.NewRouter(cfg, inv), inv, cfg, WithLogger(func(string, ...any) {}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res := orch.Handle(context.Background(), "I need a refund on my invoice")
	if res.Intent.Label != schema.LabelBilling {
		t.Fatalf("expected billing, got %s", res.Intent.Label)
	}
	if res.Decision.Reason != schema.ReasonPrimary {
		t.Fatalf("expected primary, got %s", res.Decision.Reason)
	}
	if len(inv.prompts) != 1 || !strings.Contains(inv.prompts[0], "clear and concise") {
		t.Fatalf("prompt should carry the billing response style: %q", inv.prompts)
	}
}

func TestPromptTemplates(t *testing.T) {
	cfg := config.DefaultRoutingConfig()
	ic := cfg.Intents[string(schema.LabelFeature)]
	ic.PromptTemplate = "FEATURE {{.Query}}"
	cfg.Intents[string(schema.LabelFeature)] = ic

	p, err := parsePrompts(cfg)
	if err != nil {
		t.Fatalf("parsePrompts: %v", err)
	}
	got, err := p.render(schema.IntentResult{Label: schema.LabelFeature}, "  dark mode please ")
	if err != nil || got != "FEATURE dark mode please" {
		t.Fatalf("unexpected override render %q %v", got, err)
	}
	got, err = p.render(schema.IntentResult{Label: schema.LabelTechnical}, "crash")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{"technical (Technical Support)", "step by step", "Customer question: crash"} {
		if !strings.Contains(got, want) {
			t.Fatalf("default prompt missing %q:\n%s", want, got)
		}
	}

	cfg.PromptTemplate = "{{.Broken"
	if _, err := New(&fakeRouter{}, newFakeInvoker(nil), cfg); err == nil {
		t.Fatalf("expected template parse error")
	}
}
