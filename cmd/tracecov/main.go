// tracecov reconstructs gRPC method coverage of a test run from the traces
// it left in Jaeger.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"tracecov/internal/config"
	"tracecov/internal/orchestrator"
	"tracecov/internal/server"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

const (
	retryWaitMin = 500 * time.Millisecond
	retryWaitMax = 5 * time.Second
)

// Process exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitInterrupted = 130
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	interrupted := ctx.Err() != nil
	stop()
	os.Exit(exitCode(err, interrupted))
}

func exitCode(err error, interrupted bool) int {
	switch {
	case err == nil:
		return exitOK
	case interrupted || errors.Is(err, context.Canceled):
		return exitInterrupted
	default:
		return exitFailure
	}
}

func rootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:          "tracecov",
		Short:        "Trace-derived gRPC coverage reports from Jaeger",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "configuration file (default: services.yaml or services-cluster.yaml by TRACECOV_MODE)")
	root.PersistentFlags().StringVar(&opts.jaegerURL, "jaeger-url", "", "Jaeger query URL, overrides configuration")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(generateCmd(opts))
	root.AddCommand(servicesCmd(opts))
	root.AddCommand(explainCmd(opts))
	root.AddCommand(serveCmd(opts))
	root.AddCommand(versionCmd())

	return root
}

func generateCmd(opts *globalOptions) *cobra.Command {
	var (
		startTime  string
		endTime    string
		outputPath string
		markdown   string
		testRunID  string
		timeBuffer int
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a coverage report for a time window",
		Long: "Generate a coverage report from the traces recorded in a time window.\n\n" +
			"Times are ISO 8601; a timestamp without Z or offset is read as UTC.\n" +
			"The window defaults to the hour before now. Windows shorter than a\n" +
			"minute are padded by --time-buffer seconds on each side when querying.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := orchestrator.ResolveWindow(startTime, endTime, time.Now())
			if err != nil {
				return err
			}
			var buffer *time.Duration
			if cmd.Flags().Changed("time-buffer") {
				if timeBuffer < 0 {
					return fmt.Errorf("--time-buffer must not be negative")
				}
				d := time.Duration(timeBuffer) * time.Second
				buffer = &d
			}

			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			a.logger.Info("Generating coverage report",
				"start", start.Format(time.RFC3339),
				"end", end.Format(time.RFC3339),
				"jaeger", a.jaeger.BaseURL(),
			)

			r, err := a.orch.Generate(cmd.Context(), orchestrator.Request{
				Start:        start,
				End:          end,
				OutputPath:   outputPath,
				MarkdownPath: markdown,
				TestRunID:    testRunID,
				TimeBuffer:   buffer,
			})
			if err != nil {
				return err
			}

			path := outputPath
			if path == "" {
				path = a.cfg.Coverage.Output
			}
			s := r.Summary
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Coverage report written to %s\n", path)
			fmt.Fprintf(out, "Services: %d/%d (%.2f%%)\n", s.CoveredServices, s.TotalServices, s.ServiceCoveragePercentage)
			fmt.Fprintf(out, "Methods:  %d/%d (%.2f%%)\n", s.CoveredMethods, s.TotalMethods, s.MethodCoveragePercentage)
			return nil
		},
	}

	cmd.Flags().StringVar(&startTime, "start-time", "", "window start, ISO 8601 (default: end time minus 1h)")
	cmd.Flags().StringVar(&endTime, "end-time", "", "window end, ISO 8601 (default: now)")
	cmd.Flags().StringVar(&outputPath, "output", "", "report path (default: coverage.output from configuration)")
	cmd.Flags().StringVar(&markdown, "markdown", "", "also write a Markdown summary to this path")
	cmd.Flags().StringVar(&testRunID, "test-run-id", "", "test run identifier (default: test-run-<unix seconds>)")
	cmd.Flags().IntVar(&timeBuffer, "time-buffer", int(config.DefaultTimeBuffer/time.Second),
		"seconds added on each side of windows shorter than 60s, 0 disables padding (unset: coverage.time_buffer)")

	return cmd
}

func servicesCmd(opts *globalOptions) *cobra.Command {
	var configured bool

	cmd := &cobra.Command{
		Use:   "services",
		Short: "List the services known to Jaeger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			if configured {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				for _, name := range sortedNames(a.cfg.Services) {
					fmt.Fprintf(tw, "%s\t%s\n", name, a.cfg.Services[name].Endpoint())
				}
				return tw.Flush()
			}

			services, err := a.jaeger.Services(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range services {
				fmt.Fprintln(cmd.OutOrStdout(), s)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&configured, "configured", false, "list the services under test from configuration with their endpoints")

	return cmd
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func explainCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "explain <trace-id>",
		Short: "Show how each span of a trace is attributed and classified",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			trace, err := a.jaeger.GetTraceByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SPAN\tRECORDED\tSERVICE\tOPERATION\tOUTCOME")
			for i := range trace.Spans {
				span := &trace.Spans[i]
				attr, outcome := a.extractor.Classify(span, trace)
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					span.SpanID, orDash(attr.Recorded), orDash(attr.Service), orDash(span.OperationName), outcome)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			scoring := "observed methods only"
			if a.builder.HasInventory() {
				scoring = "against configured inventory"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Scoring: %s\n", scoring)
			return nil
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func serveCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API for on-demand coverage reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			var history server.History
			if a.history != nil {
				history = a.history
			}
			handler := server.NewHandler(a.orch, history, a.jaeger, a.logger)
			srv := server.New(a.cfg, handler, a.metrics, a.logger)
			return srv.Run(cmd.Context())
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tracecov %s (commit %s, built %s)\n", version, commit, buildTime)
		},
	}
}
