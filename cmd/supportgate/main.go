package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zen-systems/supportgate/pkg/config"
	"github.com/zen-systems/supportgate/pkg/evidence"
	"github.com/zen-systems/supportgate/pkg/invoker"
	"github.com/zen-systems/supportgate/pkg/router"
	"github.com/zen-systems/supportgate/pkg/schema"
	"github.com/zen-systems/supportgate/pkg/server"
)

var (
	configFile string
	debugFlag  bool
)

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "supportgate",
		Short: "Customer support query router with local-first model fallback",
		Long: `Supportgate classifies customer support queries as technical, billing
or feature requests, answers them with a primary backend and falls back to a
secondary backend when classification is uncertain or the primary fails.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to routing config file (.yaml or .toml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(routesCmd())
	rootCmd.AddCommand(backendsCmd())
	rootCmd.AddCommand(intentsCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(evalCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	var addrFlag string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			scfg := a.cfg.Server
			if addrFlag != "" {
				scfg.Addr = addrFlag
			}
			srv := server.New(a.orch, a.stats, a.inv, scfg, server.WithRoutes(a.router.GetRoutes()))

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addrFlag, "addr", "", "listen address (overrides SUPPORTGATE_ADDR and config.yaml)")
	return cmd
}

func askCmd() *cobra.Command {
	var streamFlag bool
	var jsonFlag bool

	cmd := &cobra.Command{
		Use:   "ask [query]",
		Short: "Answer a single support query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if streamFlag {
				for ev := range a.orch.Stream(ctx, args[0]) {
					switch {
					case ev.Err != nil:
						fmt.Fprintln(out)
						return ev.Err
					case ev.Done:
						fmt.Fprintln(out)
						fmt.Fprintf(os.Stderr, "\n[%s %.2f | %s | %s | %.2fs]\n",
							ev.Meta.Intent.Label, ev.Meta.Intent.Confidence, ev.Meta.Decision.Reason,
							ev.Meta.ModelUsed(), ev.Meta.ResponseTime())
					default:
						fmt.Fprint(out, ev.Chunk)
					}
				}
				return nil
			}

			res := a.orch.Handle(ctx, args[0])
			if res.Err != nil {
				return res.Err
			}
			if jsonFlag {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"response":       res.Response.Text,
					"intent":         res.Intent.Label,
					"confidence":     res.Intent.Confidence,
					"model_used":     res.ModelUsed(),
					"response_time":  res.ResponseTime(),
					"routing_reason": res.Decision.Reason,
					"query_id":       res.Query.ID,
				})
			}

			fmt.Fprintln(out, res.Response.Text)
			fmt.Fprintf(os.Stderr, "\n[%s %.2f | %s | %s | %d tokens | %.2fs]\n",
				res.Intent.Label, res.Intent.Confidence, res.Decision.Reason,
				res.ModelUsed(), res.Response.TokenCount, res.ResponseTime())
			return nil
		},
	}

	cmd.Flags().BoolVar(&streamFlag, "stream", false, "print the answer as it is generated")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "print the result as JSON")
	return cmd
}

func classifyCmd() *cobra.Command {
	var keywordsOnly bool

	cmd := &cobra.Command{
		Use:   "classify [query]",
		Short: "Classify a query without answering it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, aliases, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			rc := cfg.RoutingConfig

			var rt *router.Router
			if keywordsOnly {
				rt = router.NewRouter(rc, nil, router.WithDebug(debugFlag))
			} else {
				inv := invoker.New(invoker.BuildRegistry(cmd.Context(), cfg, aliases), invoker.WithRetry(rc.Retry))
				rt = router.NewRouter(rc, inv, router.WithDebug(debugFlag))
			}

			result, err := rt.Classify(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			decision := rt.Decide(result, nil)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "INTENT\t%s\n", result.Label)
			fmt.Fprintf(w, "CONFIDENCE\t%.2f\n", result.Confidence)
			fmt.Fprintf(w, "KEYWORDS\t%s\n", formatList(result.Keywords))
			fmt.Fprintf(w, "REASONING\t%s\n", result.Reasoning)
			fmt.Fprintf(w, "BACKEND\t%s (%s)\n", decision.ChosenBackend, decision.Reason)
			fmt.Fprintln(w)
			fmt.Fprintln(w, "CANDIDATE\tSCORE\tMATCHED")
			for _, c := range rt.Candidates(args[0]) {
				fmt.Fprintf(w, "%s\t%d\t%s\n", c.Label, c.Score, formatList(c.Triggers))
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&keywordsOnly, "keywords-only", false, "skip the backend classifier")
	return cmd
}

func routesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Show routing rules and backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			rc := cfg.RoutingConfig
			rt := router.NewRouter(rc, nil)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "INTENT\tPRIORITY\tPRIMARY\tFALLBACK\tTRIGGERS")
			for _, route := range rt.GetRoutes() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", route.Label, route.Priority, route.Primary, route.Fallback, len(route.Triggers))
			}

			fmt.Fprintln(w)
			fmt.Fprintln(w, "BACKEND\tADAPTER\tMODEL")
			for _, id := range rc.BackendIDs() {
				bc := rc.Backends[id]
				fmt.Fprintf(w, "%s\t%s\t%s\n", id, bc.Adapter, bc.Model)
			}

			policy := rt.Policy()
			fmt.Fprintln(w)
			fmt.Fprintf(w, "PRIMARY\t%s\n", policy.Primary)
			fmt.Fprintf(w, "FALLBACK\t%s\n", policy.Fallback)
			fmt.Fprintf(w, "THRESHOLD\t%.2f\n", policy.Threshold)
			fmt.Fprintf(w, "TIMEOUT\t%s\n", rc.Timeout())
			fmt.Fprintf(w, "CLASSIFIER\t%s (enabled: %t)\n", rc.ClassifierBackend, rc.LLMClassifierEnabled())
			return w.Flush()
		},
	}
}

func backendsCmd() *cobra.Command {
	var validateFlag bool

	cmd := &cobra.Command{
		Use:   "backends",
		Short: "Probe configured backends",
		Long: `Probes every configured backend and reports whether it is reachable.

Use --validate to check that every backend model resolves to a known model.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, aliases, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if validateFlag {
				return validateAliases(cfg, aliases)
			}

			inv := invoker.New(invoker.BuildRegistry(cmd.Context(), cfg, aliases))
			results := inv.Health(cmd.Context())

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "BACKEND\tADAPTER\tMODEL\tKIND\tSTATUS")
			for _, h := range results {
				status := "ok"
				if !h.Healthy {
					status = h.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", h.ID, h.Adapter, h.Model, h.Kind, status)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if !invoker.AnyHealthy(results) {
				return fmt.Errorf("no healthy backends")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&validateFlag, "validate", false, "check all backend models resolve to valid models")
	return cmd
}

func validateAliases(cfg *config.Config, aliases *config.ModelAliases) error {
	errs := aliases.ValidateRoutingConfig(cfg.RoutingConfig)
	if len(errs) == 0 {
		fmt.Println("All backend models are valid.")
		return nil
	}

	fmt.Fprintf(os.Stderr, "Found %d validation errors:\n", len(errs))
	for _, err := range errs {
		fmt.Fprintf(os.Stderr, "  - %s\n", err)
	}
	return fmt.Errorf("validation failed")
}

func intentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "intents",
		Short: "List supported intents with example queries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			out := cmd.OutOrStdout()
			for _, label := range schema.Labels() {
				ic, _ := cfg.RoutingConfig.Intent(label)
				fmt.Fprintf(out, "%s: %s\n", label, ic.Description)
				for _, ex := range ic.Examples {
					fmt.Fprintf(out, "  - %s\n", ex)
				}
			}
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent queries from the evidence sink",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			sink, err := evidence.Open(cfg.Evidence)
			if err != nil {
				return err
			}
			if sink == nil {
				return fmt.Errorf("evidence is disabled; set evidence.sink in config.yaml")
			}
			defer sink.Close()

			records, err := sink.Recent(limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RECEIVED\tINTENT\tBACKEND\tSTATE\tMS\tQUERY")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					r.ReceivedAt.Local().Format(time.DateTime), r.Intent, r.ChosenBackend, r.State, r.ElapsedMillis, truncate(r.Text, 60))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of records to show")
	return cmd
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
