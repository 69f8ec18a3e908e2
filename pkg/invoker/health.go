package invoker

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zen-systems/supportgate/pkg/adapter"
)

const probeTimeout = 5 * time.Second

// BackendHealth is the probe result for one backend.
type BackendHealth struct {
	ID      string       `json:"id"`
	Adapter string       `json:"adapter"`
	Model   string       `json:"model"`
	Kind    adapter.Kind `json:"kind"`
	Healthy bool         `json:"healthy"`
	Error   string       `json:"error,omitempty"`
}

// Health probes every backend concurrently. Results are in registry id order.
func (inv *Invoker) Health(ctx context.Context) []BackendHealth {
	ids := inv.registry.IDs()
	results := make([]BackendHealth, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		b, _ := inv.registry.Lookup(id)
		results[i] = BackendHealth{ID: id, Adapter: b.Name, Model: b.Model, Kind: b.Kind()}
		if b.Err != nil {
			results[i].Error = b.Err.Error()
			continue
		}
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(gctx, probeTimeout)
			defer cancel()
			if err := probe(probeCtx, b); err != nil {
				results[i].Error = err.Error()
				return nil
			}
			results[i].Healthy = true
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// AnyHealthy reports whether at least one backend passed its probe.
func AnyHealthy(results []BackendHealth) bool {
	for _, r := range results {
		if r.Healthy {
			return true
		}
	}
	return false
}

func probe(ctx context.Context, b Backend) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errPanic(r)
			}
		}()
		done <- adapter.Ping(ctx, b.Adapter, b.Model)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
