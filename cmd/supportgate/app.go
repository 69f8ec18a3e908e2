package main

import (
	"context"
	"fmt"
	"log"

	"github.com/zen-systems/supportgate/pkg/config"
	"github.com/zen-systems/supportgate/pkg/evidence"
	"github.com/zen-systems/supportgate/pkg/invoker"
	"github.com/zen-systems/supportgate/pkg/orchestrator"
	"github.com/zen-systems/supportgate/pkg/router"
	"github.com/zen-systems/supportgate/pkg/stats"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg     *config.Config
	aliases *config.ModelAliases
	inv     *invoker.Invoker
	router  *router.Router
	stats   *stats.Aggregator
	orch    *orchestrator.Orchestrator
	sink    evidence.Sink
}

func loadConfig() (*config.Config, *config.ModelAliases, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadWithRoutingFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, err
	}

	aliases, err := config.LoadAliasesWithFallback()
	if err != nil {
		log.Printf("[config] model aliases unavailable, using built-in set: %v", err)
		aliases = config.DefaultAliases()
	}
	return cfg, aliases, nil
}

func newApp(ctx context.Context, withEvidence bool) (*app, error) {
	cfg, aliases, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	rc := cfg.RoutingConfig

	reg := invoker.BuildRegistry(ctx, cfg, aliases)
	for _, id := range reg.IDs() {
		if b, _ := reg.Lookup(id); b.Err != nil && debugFlag {
			log.Printf("[invoker] backend %s unavailable: %v", id, b.Err)
		}
	}

	inv := invoker.New(reg, invoker.WithRetry(rc.Retry))
	rt := router.NewRouter(rc, inv, router.WithDebug(debugFlag))
	agg := stats.NewAggregator(rc.Pricing)

	a := &app{cfg: cfg, aliases: aliases, inv: inv, router: rt, stats: agg}

	opts := []orchestrator.Option{orchestrator.WithStats(agg)}
	if withEvidence {
		sink, err := evidence.Open(cfg.Evidence)
		if err != nil {
			return nil, fmt.Errorf("failed to open evidence sink: %w", err)
		}
		if sink != nil {
			a.sink = sink
			opts = append(opts, orchestrator.WithEvidence(sink))
		}
	}

	orch, err := orchestrator.New(rt, inv, rc, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.orch = orch
	return a, nil
}

func (a *app) Close() {
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			log.Printf("[evidence] close: %v", err)
		}
	}
}
