package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zen-systems/supportgate/pkg/eval"
	"github.com/zen-systems/supportgate/pkg/invoker"
	"github.com/zen-systems/supportgate/pkg/router"
	"github.com/zen-systems/supportgate/pkg/schema"
)

func evalCmd() *cobra.Command {
	var (
		suiteFile   string
		backends    []string
		noKeywords  bool
		intentFlag  string
		perIntent   int
		concurrency int
		jsonOut     bool
		showMisses  bool
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Measure classifier accuracy on labeled queries",
		Long: `Runs a labeled query suite through the classifier and reports accuracy,
per-intent precision, recall and F1, and a confusion matrix.

One run uses keyword rules only. One more run is made per --backend, using
that backend as the classifier, so a local and a remote classifier can be
compared on the same suite. Without --suite the built-in suite is used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, aliases, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			rc := cfg.RoutingConfig

			var suite *eval.Suite
			if suiteFile != "" {
				suite, err = eval.LoadSuite(suiteFile)
			} else {
				suite, err = eval.DefaultSuite()
			}
			if err != nil {
				return err
			}
			if intentFlag != "" {
				label, ok := schema.ParseLabel(intentFlag)
				if !ok {
					return fmt.Errorf("unknown intent %q", intentFlag)
				}
				suite = suite.ForIntent(label)
			}
			suite = suite.Balanced(perIntent)

			if len(backends) == 0 && rc.ClassifierBackend != "" && rc.LLMClassifierEnabled() {
				backends = []string{rc.ClassifierBackend}
			}

			opts := []eval.Option{eval.WithConcurrency(concurrency)}
			if debugFlag {
				opts = append(opts, eval.WithLogger(func(format string, args ...any) {
					fmt.Fprintf(cmd.ErrOrStderr(), format+"\n", args...)
				}))
			}

			var reports []*eval.Report
			if !noKeywords {
				rep, err := eval.Run(cmd.Context(), "keywords", router.NewClassifier(rc, nil), suite, opts...)
				if err != nil {
					return err
				}
				reports = append(reports, rep)
			}

			if len(backends) > 0 {
				inv := invoker.New(invoker.BuildRegistry(cmd.Context(), cfg, aliases), invoker.WithRetry(rc.Retry))
				for _, id := range backends {
					if _, ok := rc.Backends[id]; !ok {
						return fmt.Errorf("unknown backend %q", id)
					}
					run := *rc
					run.ClassifierBackend = id
					enabled := true
					run.EnableLLMClassifier = &enabled

					rep, err := eval.Run(cmd.Context(), id, router.NewClassifier(&run, inv), suite, opts...)
					if err != nil {
						return err
					}
					reports = append(reports, rep)
				}
			}
			if len(reports) == 0 {
				return fmt.Errorf("nothing to evaluate; drop --no-keywords or pass --backend")
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(reports)
			}
			for _, rep := range reports {
				if err := printReport(out, rep, showMisses); err != nil {
					return err
				}
			}
			if len(reports) > 1 {
				return printComparison(out, reports)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&suiteFile, "suite", "", "labeled query suite (.yaml or .toml)")
	cmd.Flags().StringSliceVar(&backends, "backend", nil, "classifier backend to evaluate (repeatable; default: configured classifier)")
	cmd.Flags().BoolVar(&noKeywords, "no-keywords", false, "skip the keyword-only run")
	cmd.Flags().StringVar(&intentFlag, "intent", "", "only evaluate queries labeled with this intent")
	cmd.Flags().IntVar(&perIntent, "per-intent", 0, "at most this many queries per intent")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 4, "classifications in flight")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print reports as JSON")
	cmd.Flags().BoolVar(&showMisses, "misses", false, "list misclassified queries")
	return cmd
}

func printReport(out io.Writer, rep *eval.Report, showMisses bool) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "RUN\t%s\n", rep.Name)
	fmt.Fprintf(w, "ACCURACY\t%.3f (%d/%d, %d errors)\n", rep.Accuracy, rep.Correct, rep.Total, rep.Errors)
	fmt.Fprintf(w, "MACRO F1\t%.3f\n", rep.MacroF1)
	fmt.Fprintf(w, "AVG LATENCY\t%s\n", rep.AverageLatency.Round(time.Millisecond))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "INTENT\tPRECISION\tRECALL\tF1\tSUPPORT")
	for _, l := range schema.Labels() {
		m := rep.PerIntent[l]
		fmt.Fprintf(w, "%s\t%.3f\t%.3f\t%.3f\t%d\n", l, m.Precision, m.Recall, m.F1, m.Support)
	}
	fmt.Fprintln(w)

	fmt.Fprint(w, "EXPECTED \\ PREDICTED")
	for _, l := range schema.Labels() {
		fmt.Fprintf(w, "\t%s", l)
	}
	fmt.Fprintln(w)
	for _, e := range schema.Labels() {
		fmt.Fprint(w, e)
		for _, p := range schema.Labels() {
			fmt.Fprintf(w, "\t%d", rep.Confusion[e][p])
		}
		fmt.Fprintln(w)
	}

	if showMisses {
		if misses := rep.Misses(); len(misses) > 0 {
			fmt.Fprintln(w)
			fmt.Fprintln(w, "EXPECTED\tPREDICTED\tCONF\tQUERY")
			for _, m := range misses {
				predicted := string(m.Predicted)
				if m.Error != "" {
					predicted = "error"
				}
				fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\n", m.Intent, predicted, m.Confidence, truncate(m.Query, 60))
			}
		}
	}
	fmt.Fprintln(w)
	return w.Flush()
}

func printComparison(out io.Writer, reports []*eval.Report) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tACCURACY\tMACRO F1\tERRORS\tAVG LATENCY")
	for _, rep := range reports {
		fmt.Fprintf(w, "%s\t%.3f\t%.3f\t%d\t%s\n", rep.Name, rep.Accuracy, rep.MacroF1, rep.Errors, rep.AverageLatency.Round(time.Millisecond))
	}
	fmt.Fprintf(w, "\nBEST\t%s\n", eval.Best(reports).Name)
	return w.Flush()
}
