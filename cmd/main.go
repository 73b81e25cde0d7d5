package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"

	"github.com/xhad/askdocs/internal/models"
	cfgPkg "github.com/xhad/askdocs/pkg/config"
	"github.com/xhad/askdocs/pkg/rag"
)

type options struct {
	configPath string
	logLevel   string
	tenant     string
}

// app holds everything a command needs. It is built per invocation.
type app struct {
	config   *cfgPkg.Config
	logger   arbor.ILogger
	caps     *rag.Capabilities
	service  *rag.Service
	registry *prometheus.Registry
}

func newApp(ctx context.Context, opts *options) (*app, error) {
	// a missing .env is fine
	_ = godotenv.Load()

	config, err := cfgPkg.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		config.Logging.Level = opts.logLevel
	}
	if errs := config.Validate(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("invalid configuration:\n  %s", strings.Join(msgs, "\n  "))
	}

	logger := cfgPkg.NewLogger(config.Logging)

	caps, err := rag.NewCapabilities(ctx, config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics, err := rag.NewMetrics(registry)
	if err != nil {
		caps.Close()
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	service := rag.NewServiceFromCapabilities(rag.ServiceConfig{
		IngestTimeout: config.Ingest.Timeout,
		Workers:       config.Ingest.Workers,
		Retrieval: rag.EngineConfig{
			Expansions:   config.Retrieval.Expansions,
			TopK:         config.Retrieval.TopK,
			MaxChunks:    config.Retrieval.MaxChunks,
			ContextChars: config.Retrieval.ContextChars,
			MinScore:     config.Retrieval.MinScore,
		},
	}, caps, metrics, logger)

	return &app{
		config:   config,
		logger:   logger,
		caps:     caps,
		service:  service,
		registry: registry,
	}, nil
}

func (a *app) Close() {
	if err := a.caps.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to close stores")
	}
}

// withApp builds the app for a command and tears it down afterwards.
func withApp(opts *options, fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), opts)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, a, args)
	}
}

func main() {
	opts := &options{}

	root := &cobra.Command{
		Use:           "askdocs",
		Short:         "Ask questions about your documents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default: ./config.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVarP(&opts.tenant, "tenant", "t", "", "tenant id (empty for the shared default store)")

	root.AddCommand(
		ingestCMD(opts),
		fetchCMD(opts),
		askCMD(opts),
		chatCMD(opts),
		docsCMD(opts),
	)

	if err := root.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func printError(err error) {
	var e *models.Error
	if errors.As(err, &e) {
		color.Red("Error [%s]: %s\n", e.Kind, e.Message)
		return
	}
	color.Red("Error: %v\n", err)
}
