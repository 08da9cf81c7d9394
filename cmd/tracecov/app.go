package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"tracecov/internal/clients/jaeger"
	"tracecov/internal/config"
	"tracecov/internal/coverage"
	"tracecov/internal/db"
	"tracecov/internal/metrics"
	"tracecov/internal/orchestrator"
	"tracecov/internal/output"
	"tracecov/internal/report"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	jaegerURL  string
	verbose    bool
}

// app is the wired dependency graph for one command invocation.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	jaeger    *jaeger.Client
	metrics   *metrics.Metrics
	extractor *coverage.Extractor
	builder   *report.Builder
	history   *db.DB
	orch      *orchestrator.Orchestrator
}

func newLogger(w io.Writer, level string, verbose bool) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	if verbose {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// newApp loads configuration and builds every component. The caller must
// call close when done.
func newApp(cmd *cobra.Command, opts *globalOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.jaegerURL != "" {
		cfg.Observability.Jaeger.URL = opts.jaegerURL
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg.App.LogLevel, opts.verbose)
	slog.SetDefault(logger)

	j := cfg.Observability.Jaeger
	client := jaeger.NewClient(j.BaseURL(), j.GetTimeoutDuration(), logger,
		jaeger.WithRetry(j.RetryMax, retryWaitMin, retryWaitMax),
		jaeger.WithHarnessService(j.HarnessService),
	)

	m := metrics.New()
	extractor := coverage.NewExtractor(
		coverage.NewResolver(cfg.Coverage.Namespace, j.HarnessService),
		coverage.NewFilter(cfg.Coverage.Namespace, cfg.Coverage.BusinessFragments, cfg.Coverage.Allowlist),
		m,
		logger.With("component", "extractor"),
	)
	builder := report.NewBuilder(logger.With("component", "report"),
		report.WithInventory(cfg.Coverage.Inventory),
	)

	a := &app{
		cfg:       cfg,
		logger:    logger,
		jaeger:    client,
		metrics:   m,
		extractor: extractor,
		builder:   builder,
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithRecorder(m),
	}
	if cfg.History.Enabled {
		history, err := db.New(cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("history store: %w", err)
		}
		if err := history.Migrate(); err != nil {
			history.Close()
			return nil, fmt.Errorf("history store: %w", err)
		}
		a.history = history
		orchOpts = append(orchOpts, orchestrator.WithHistory(history))
	}
	if slack := output.NewSlackSenderFromConfig(cfg.Output.Slack); slack != nil {
		orchOpts = append(orchOpts, orchestrator.WithNotifier(slack))
	}

	a.orch = orchestrator.New(cfg, client, extractor, builder, orchOpts...)
	return a, nil
}

func (a *app) close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Warn("Failed to close history store", "error", err)
		}
	}
}
