// Package eval measures classifier accuracy against labeled queries.
package eval

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zen-systems/supportgate/pkg/schema"
)

// Classifier labels query text.
type Classifier interface {
	Classify(ctx context.Context, text string) (schema.IntentResult, error)
}

// CaseResult is the outcome of classifying one case.
type CaseResult struct {
	Case
	Predicted  schema.Label  `json:"predicted,omitempty"`
	Confidence float64       `json:"confidence"`
	Correct    bool          `json:"correct"`
	Error      string        `json:"error,omitempty"`
	Latency    time.Duration `json:"latency_ns"`
}

// IntentMetrics are the per-intent classification scores.
type IntentMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Report summarizes one evaluation run.
type Report struct {
	Name           string                                `json:"name"`
	Total          int                                   `json:"total"`
	Correct        int                                   `json:"correct"`
	Errors         int                                   `json:"errors"`
	Accuracy       float64                               `json:"accuracy"`
	MacroPrecision float64                               `json:"macro_precision"`
	MacroRecall    float64                               `json:"macro_recall"`
	MacroF1        float64                               `json:"macro_f1"`
	PerIntent      map[schema.Label]IntentMetrics        `json:"per_intent"`
	Confusion      map[schema.Label]map[schema.Label]int `json:"confusion"`
	AverageLatency time.Duration                         `json:"avg_latency_ns"`
	Results        []CaseResult                          `json:"results"`
}

// Option configures Run.
type Option func(*runOptions)

type runOptions struct {
	concurrency int
	logf        func(format string, args ...any)
}

// WithConcurrency bounds the number of in-flight classifications.
func WithConcurrency(n int) Option {
	return func(o *runOptions) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithLogger receives one progress line per failed case.
func WithLogger(logf func(format string, args ...any)) Option {
	return func(o *runOptions) {
		o.logf = logf
	}
}

// Run classifies every case in suite and scores the predictions. A case whose
// classification fails counts as incorrect and is left out of the confusion
// matrix. Run returns early only when ctx is done.
func Run(ctx context.Context, name string, clf Classifier, suite *Suite, opts ...Option) (*Report, error) {
	o := runOptions{concurrency: 1, logf: func(string, ...any) {}}
	for _, opt := range opts {
		opt(&o)
	}

	results := make([]CaseResult, len(suite.Cases))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, c := range suite.Cases {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			got, err := clf.Classify(gctx, c.Query)
			r := CaseResult{Case: c, Latency: time.Since(start)}
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				r.Error = err.Error()
				o.logf("[eval] %s: classify %q: %v", name, c.Query, err)
			} else {
				r.Predicted = got.Label
				r.Confidence = got.Confidence
				r.Correct = got.Label == c.Intent
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return score(name, results), nil
}

func score(name string, results []CaseResult) *Report {
	rep := &Report{
		Name:      name,
		Total:     len(results),
		PerIntent: make(map[schema.Label]IntentMetrics, len(schema.Labels())),
		Confusion: make(map[schema.Label]map[schema.Label]int, len(schema.Labels())),
		Results:   results,
	}
	for _, l := range schema.Labels() {
		rep.Confusion[l] = make(map[schema.Label]int, len(schema.Labels()))
	}

	var latency time.Duration
	for _, r := range results {
		latency += r.Latency
		if r.Error != "" {
			rep.Errors++
			continue
		}
		if r.Correct {
			rep.Correct++
		}
		row, ok := rep.Confusion[r.Intent]
		if !ok {
			row = make(map[schema.Label]int)
			rep.Confusion[r.Intent] = row
		}
		row[r.Predicted]++
	}
	if rep.Total > 0 {
		rep.Accuracy = float64(rep.Correct) / float64(rep.Total)
		rep.AverageLatency = latency / time.Duration(rep.Total)
	}

	support := make(map[schema.Label]int)
	for _, r := range results {
		support[r.Intent]++
	}
	for _, l := range schema.Labels() {
		tp := rep.Confusion[l][l]
		predicted := 0
		for _, e := range schema.Labels() {
			predicted += rep.Confusion[e][l]
		}
		m := IntentMetrics{Support: support[l]}
		if predicted > 0 {
			m.Precision = float64(tp) / float64(predicted)
		}
		if m.Support > 0 {
			m.Recall = float64(tp) / float64(m.Support)
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		rep.PerIntent[l] = m
		rep.MacroPrecision += m.Precision
		rep.MacroRecall += m.Recall
		rep.MacroF1 += m.F1
	}
	n := float64(len(schema.Labels()))
	rep.MacroPrecision /= n
	rep.MacroRecall /= n
	rep.MacroF1 /= n
	return rep
}

// Misses returns the incorrect or failed cases.
func (r *Report) Misses() []CaseResult {
	var out []CaseResult
	for _, c := range r.Results {
		if !c.Correct {
			out = append(out, c)
		}
	}
	return out
}

// Best returns the report with the highest accuracy; ties go to the
// earlier report.
func Best(reports []*Report) *Report {
	var best *Report
	for _, r := range reports {
		if best == nil || r.Accuracy > best.Accuracy {
			best = r
		}
	}
	return best
}
