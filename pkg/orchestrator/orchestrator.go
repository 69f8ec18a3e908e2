package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/zen-systems/supportgate/pkg/config"
	"github.com/zen-systems/supportgate/pkg/evidence"
	"github.com/zen-systems/supportgate/pkg/router"
	"github.com/zen-systems/supportgate/pkg/schema"
	"github.com/zen-systems/supportgate/pkg/stats"
)

// State is a step of the query lifecycle.
type State string

const (
	StateClassifying      State = "CLASSIFYING"
	StateRouting          State = "ROUTING"
	StateInvokingPrimary  State = "INVOKING_PRIMARY"
	StateInvokingFallback State = "INVOKING_FALLBACK"
	StateCompleted        State = "COMPLETED"
	StateFailed           State = "FAILED"
)

// Router classifies queries and applies the fallback policy.
type Router interface {
	Classify(ctx context.Context, text string) (schema.IntentResult, error)
	Decide(intent schema.IntentResult, primary *schema.BackendResponse) schema.RoutingDecision
}

// Invoker calls backends.
type Invoker interface {
	Invoke(ctx context.Context, prompt, backendID string, timeout time.Duration) schema.BackendResponse
	InvokeStream(ctx context.Context, prompt, backendID string, timeout time.Duration, emit func(string) error) schema.BackendResponse
}

// Recorder receives one outcome per recorded query.
type Recorder interface {
	Record(o stats.Outcome)
}

// Result is the terminal outcome of a query.
type Result struct {
	Query    schema.Query
	Intent   schema.IntentResult
	Decision schema.RoutingDecision
	Response schema.BackendResponse
	Attempts []schema.BackendResponse
	State    State
	Err      *Error
	Elapsed  time.Duration
	Streamed bool
}

// Succeeded reports whether the query completed.
func (r *Result) Succeeded() bool {
	return r.State == StateCompleted
}

// ModelUsed returns "adapter:model" of the backend that produced the answer.
func (r *Result) ModelUsed() string {
	return r.Response.ModelUsed()
}

// ResponseTime returns the total elapsed time in seconds.
func (r *Result) ResponseTime() float64 {
	return r.Elapsed.Seconds()
}

// Orchestrator drives a query through classification, routing and
// invocation, and reports each terminal state exactly once.
type Orchestrator struct {
	router   Router
	invoker  Invoker
	prompts  *prompts
	timeout  time.Duration
	stats    Recorder
	evidence evidence.Sink
	logf     func(format string, args ...any)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStats sets the aggregator that receives outcomes.
func WithStats(rec Recorder) Option {
	return func(o *Orchestrator) {
		o.stats = rec
	}
}

// WithEvidence sets the sink that receives query records.
func WithEvidence(sink evidence.Sink) Option {
	return func(o *Orchestrator) {
		o.evidence = sink
	}
}

// WithLogger overrides the orchestrator logger.
func WithLogger(logf func(format string, args ...any)) Option {
	return func(o *Orchestrator) {
		if logf != nil {
			o.logf = logf
		}
	}
}

// WithTimeout overrides the per-invocation timeout from config.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// New creates an orchestrator. Prompt templates are parsed here so a bad
// template fails at startup.
func New(rt Router, inv Invoker, cfg *config.RoutingConfig, opts ...Option) (*Orchestrator, error) {
	if rt == nil {
		return nil, fmt.Errorf("router is required")
	}
	if inv == nil {
		return nil, fmt.Errorf("invoker is required")
	}
	p, err := parsePrompts(cfg)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		router:  rt,
		invoker: inv,
		prompts: p,
		timeout: 30 * time.Second,
		logf:    log.Printf,
	}
	if cfg != nil {
		o.timeout = cfg.Timeout()
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

type invokeFunc func(ctx context.Context, prompt, backendID string) schema.BackendResponse

// Handle answers text. It never returns nil and never panics.
func (o *Orchestrator) Handle(ctx context.Context, text string) *Result {
	start := time.Now()
	res := &Result{Query: schema.NewQuery(text)}

	call := func(ctx context.Context, prompt, backendID string) schema.BackendResponse {
		return o.invoker.Invoke(ctx, prompt, backendID, o.timeout)
	}
	o.runSafely(ctx, res, call, func() bool { return true })
	o.finish(res, start)
	return res
}

func (o *Orchestrator) runSafely(ctx context.Context, res *Result, call invokeFunc, mayFallback func() bool) {
	defer func() {
		if r := recover(); r != nil {
			o.fail(res, KindUpstreamUnavailable, msgUnavailable, fmt.Sprintf("panic: %v", r))
		}
	}()
	o.run(ctx, res, call, mayFallback)
}

func (o *Orchestrator) run(ctx context.Context, res *Result, call invokeFunc, mayFallback func() bool) {
	res.State = StateClassifying
	intent, err := o.router.Classify(ctx, res.Query.Text)
	if err != nil {
		switch {
		case errors.Is(err, router.ErrInvalidInput):
			o.fail(res, KindBadRequest, msgBadRequest, err.Error())
		case ctx.Err() != nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			o.fail(res, KindCanceled, msgCanceled, err.Error())
		default:
			o.fail(res, KindUpstreamUnavailable, msgUnavailable, fmt.Sprintf("classify: %v", err))
		}
		return
	}
	res.Intent = intent

	res.State = StateRouting
	prompt, err := o.prompts.render(intent, res.Query.Text)
	if err != nil {
		o.fail(res, KindUpstreamUnavailable, msgUnavailable, fmt.Sprintf("render prompt: %v", err))
		return
	}
	decision := o.router.Decide(intent, nil)
	res.Decision = decision

	if !decision.Reason.IsFallback() {
		res.State = StateInvokingPrimary
		resp := o.attempt(ctx, res, call, prompt, decision.ChosenBackend)
		if o.canceled(ctx, res, resp) {
			return
		}
		next := o.router.Decide(intent, &resp)
		if !next.Reason.IsFallback() {
			res.Decision = next
			o.complete(res)
			return
		}
		if !mayFallback() {
			o.fail(res, KindUpstreamUnavailable, msgUnavailable, "stream interrupted: "+describe(resp))
			return
		}
		res.Decision = next
	}

	res.State = StateInvokingFallback
	resp := o.attempt(ctx, res, call, prompt, res.Decision.ChosenBackend)
	if o.canceled(ctx, res, resp) {
		return
	}
	if !resp.Succeeded {
		detail := describe(resp)
		if len(res.Attempts) > 1 {
			detail = "primary " + describe(res.Attempts[0]) + "; fallback " + detail
		}
		o.fail(res, KindUpstreamUnavailable, msgUnavailable, detail)
		return
	}
	o.complete(res)
}

func (o *Orchestrator) attempt(ctx context.Context, res *Result, call invokeFunc, prompt, backendID string) schema.BackendResponse {
	resp := call(ctx, prompt, backendID)
	res.Attempts = append(res.Attempts, resp)
	res.Response = resp
	if !resp.Succeeded {
		o.logf("[orchestrator] query=%s backend=%s %s: %s", res.Query.ID, backendID, attemptKind(resp), resp.Error)
	}
	return resp
}

func (o *Orchestrator) canceled(ctx context.Context, res *Result, resp schema.BackendResponse) bool {
	if resp.ErrorKind == schema.ErrorKindCanceled || (!resp.Succeeded && ctx.Err() != nil) {
		o.fail(res, KindCanceled, msgCanceled, describe(resp))
		return true
	}
	return false
}

func (o *Orchestrator) complete(res *Result) {
	res.State = StateCompleted
	res.Err = nil
}

func (o *Orchestrator) fail(res *Result, kind ErrorKind, msg, detail string) {
	res.State = StateFailed
	res.Err = &Error{Kind: kind, Message: msg, Detail: detail}
}

// finish reports the terminal state: one stats record (unless the query was
// malformed or canceled), one evidence record and one log line.
func (o *Orchestrator) finish(res *Result, start time.Time) {
	res.Elapsed = time.Since(start)

	if o.stats != nil && recordable(res) {
		o.stats.Record(stats.Outcome{
			Intent:   res.Intent,
			Decision: res.Decision,
			Response: res.Response,
			Elapsed:  res.Elapsed,
		})
	}
	if o.evidence != nil {
		if err := o.evidence.Write(evidenceRecord(res)); err != nil {
			o.logf("[orchestrator] query=%s evidence write failed: %v", res.Query.ID, err)
		}
	}

	if res.Err != nil {
		o.logf("[orchestrator] query=%s state=%s intent=%s confidence=%.2f backend=%s reason=%s elapsed=%s error=%s detail=%q",
			res.Query.ID, res.State, res.Intent.Label, res.Intent.Confidence, res.Response.BackendID,
			res.Decision.Reason, res.Elapsed.Round(time.Millisecond), res.Err.Kind, res.Err.Detail)
		return
	}
	o.logf("[orchestrator] query=%s state=%s intent=%s confidence=%.2f backend=%s reason=%s model=%s tokens=%d elapsed=%s",
		res.Query.ID, res.State, res.Intent.Label, res.Intent.Confidence, res.Response.BackendID,
		res.Decision.Reason, res.ModelUsed(), res.Response.TokenCount, res.Elapsed.Round(time.Millisecond))
}

func recordable(res *Result) bool {
	if res.Err == nil {
		return true
	}
	return res.Err.Kind != KindBadRequest && res.Err.Kind != KindCanceled
}

func describe(resp schema.BackendResponse) string {
	if resp.Succeeded {
		return resp.BackendID + " ok"
	}
	return fmt.Sprintf("%s %s: %s", resp.BackendID, resp.ErrorKind, resp.Error)
}

func evidenceRecord(res *Result) evidence.QueryRecord {
	rec := evidence.QueryRecord{
		QueryID:       res.Query.ID,
		ReceivedAt:    res.Query.ReceivedAt,
		Text:          res.Query.Text,
		Intent:        string(res.Intent.Label),
		Confidence:    res.Intent.Confidence,
		Keywords:      res.Intent.Keywords,
		Reasoning:     res.Intent.Reasoning,
		ChosenBackend: res.Decision.ChosenBackend,
		Reason:        string(res.Decision.Reason),
		State:         string(res.State),
		Succeeded:     res.Succeeded(),
		Streamed:      res.Streamed,
		ElapsedMillis: res.Elapsed.Milliseconds(),
	}
	if res.Succeeded() {
		rec.ModelUsed = res.ModelUsed()
		rec.TokenCount = res.Response.TokenCount
	}
	if res.Err != nil {
		rec.ErrorKind = string(res.Err.Kind)
		rec.Error = res.Err.Detail
	}
	for _, a := range res.Attempts {
		rec.Attempts = append(rec.Attempts, evidence.AttemptRecord{
			BackendID:      a.BackendID,
			ModelUsed:      a.ModelUsed(),
			Succeeded:      a.Succeeded,
			ErrorKind:      string(attemptKind(a)),
			Error:          a.Error,
			TokenCount:     a.TokenCount,
			DurationMillis: int64(a.LatencySeconds * 1000),
		})
	}
	return rec
}
