package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-safety/internal/governance"
	"github.com/polisai/polis-safety/pkg/capability"
	"github.com/polisai/polis-safety/pkg/capability/llm"
	"github.com/polisai/polis-safety/pkg/config"
	"github.com/polisai/polis-safety/pkg/domain"
	"github.com/polisai/polis-safety/pkg/logging"
	"github.com/polisai/polis-safety/pkg/policy"
	"github.com/polisai/polis-safety/pkg/storage"
	"github.com/polisai/polis-safety/pkg/telemetry"
)

const (
	telemetryShutdownTimeout = 5 * time.Second
	maxInputLine             = 1 << 20
)

type runOptions struct {
	configPath  string
	policies    []string
	texts       []string
	language    string
	watch       bool
	metricsAddr string
	vaultDir    string
	concurrency int
}

// stageOutput is the per-policy part of one output line. It never carries
// the input text; transformed text appears only in output_texts.
type stageOutput struct {
	Policy            string                   `json:"policy"`
	Rule              domain.RuleOutput        `json:"rule"`
	Action            domain.ActionOutput      `json:"action"`
	TransformationMap domain.TransformationMap `json:"transformation_map,omitempty"`
	VaultID           string                   `json:"vault_id,omitempty"`
}

// outputLine is printed once per input.
type outputLine struct {
	Input       int                   `json:"input"`
	Stages      []stageOutput         `json:"stages"`
	OutputTexts []string              `json:"output_texts,omitempty"`
	Error       *domain.ErrorResponse `json:"error,omitempty"`
	Stage       string                `json:"failed_policy,omitempty"`
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run policies over text from --text flags or stdin lines",
		Long: `Runs the configured policies in order over each input and prints one JSON
object per input. Exits with status 2 when any input was blocked or raised.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPolicies(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file (YAML)")
	cmd.Flags().StringSliceVarP(&opts.policies, "policy", "p", nil, "Built-in policy to append to the chain (repeatable)")
	cmd.Flags().StringArrayVarP(&opts.texts, "text", "t", nil, "Input text (repeatable); stdin lines are read when absent")
	cmd.Flags().StringVar(&opts.language, "language", "", "Language for --policy policies: a code or auto")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "Reload the configuration file when it changes")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().StringVar(&opts.vaultDir, "vault-dir", "", "Store transformation maps in this directory")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", policy.DefaultBatchLimit, "Inputs executed concurrently")
	return cmd
}

// loadConfig reads the configuration file (if any) and appends the built-ins
// named on the command line.
func loadConfig(path string, builtins []string, language string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return withBuiltins(cfg, builtins, language)
}

func withBuiltins(cfg *config.Config, builtins []string, language string) (*config.Config, error) {
	if len(builtins) == 0 {
		return cfg, nil
	}
	merged := *cfg
	merged.Policies = append([]config.PolicySpec(nil), cfg.Policies...)
	for _, name := range builtins {
		merged.Policies = append(merged.Policies, config.PolicySpec{Builtin: name, Language: language})
	}
	if err := merged.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &merged, nil
}

func setupLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	level, _ := cmd.Flags().GetString("log-level")
	if level == "" {
		level = cfg.Logging.Level
	}
	format, _ := cmd.Flags().GetString("log-format")
	if format == "" {
		format = cfg.Logging.Format
	}
	return logging.Setup(logging.Config{Level: level, Format: format, Output: cmd.ErrOrStderr()})
}

// newCapabilities returns the LLM client, or nil when no endpoint is configured.
func newCapabilities(cfg config.CapabilityConfig, logger *slog.Logger) capability.Provider {
	if !cfg.Enabled() {
		return nil
	}
	client := llm.New(llm.Config{
		Endpoint:    cfg.Endpoint,
		Model:       cfg.Model,
		APIKey:      cfg.APIKey(),
		Temperature: cfg.Temperature,
		Timeout:     cfg.Timeout,
		MaxRetries:  cfg.MaxRetries,
		PromptsDir:  cfg.PromptsDir,
	}, llm.WithLogger(logger))
	return capability.NewGuarded(client, governance.CircuitBreakerConfig{
		MaxFailures:         cfg.BreakerFailures,
		Timeout:             cfg.BreakerCooldown,
		MaxHalfOpenRequests: 1,
	})
}

func buildChain(ctx context.Context, cfg *config.Config, recorder telemetry.Recorder, logger *slog.Logger) (policy.Chain, error) {
	policies, err := config.Build(ctx, cfg, config.Dependencies{
		Capabilities: newCapabilities(cfg.Capability, logger),
		Logger:       logger,
		Recorder:     recorder,
	})
	if err != nil {
		return policy.Chain{}, err
	}
	stages := make([]policy.Executor, 0, len(policies))
	for _, p := range policies {
		stages = append(stages, p)
	}
	return policy.NewChain(stages...), nil
}

func policyNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Policies))
	for _, p := range cfg.Policies {
		names = append(names, p.DisplayName())
	}
	return names
}

func capabilityModel(cfg config.CapabilityConfig) string {
	if !cfg.Enabled() {
		return ""
	}
	if cfg.Model == "" {
		return llm.DefaultModel
	}
	return cfg.Model
}

func runPolicies(cmd *cobra.Command, opts *runOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.watch && opts.configPath == "" {
		return fmt.Errorf("--watch requires --config")
	}

	cfg, err := loadConfig(opts.configPath, opts.policies, opts.language)
	if err != nil {
		return err
	}
	if len(cfg.Policies) == 0 {
		return fmt.Errorf("no policies configured: use --config or --policy")
	}
	logger := setupLogger(cmd, cfg)

	shutdownTelemetry, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName:     cfg.Telemetry.ServiceName,
		Endpoint:        cfg.Telemetry.OTLPEndpoint,
		Insecure:        cfg.Telemetry.Insecure,
		Environment:     cfg.Telemetry.Environment,
		Policies:        policyNames(cfg),
		CapabilityModel: capabilityModel(cfg.Capability),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("telemetry shutdown error", "error", err)
		}
	}()

	recorders := telemetry.Recorders{telemetry.OTelRecorder{}}
	metricsAddr := opts.metricsAddr
	if metricsAddr == "" {
		metricsAddr = cfg.Telemetry.MetricsAddress
	}
	if metricsAddr != "" {
		prom := telemetry.NewPrometheusRecorder()
		recorders = append(recorders, prom)
		srv := startMetricsServer(metricsAddr, prom, logger)
		defer shutdownMetricsServer(srv, logger)
	}

	var vault storage.MapVault
	if opts.vaultDir != "" {
		if vault, err = storage.NewFileMapVault(opts.vaultDir); err != nil {
			return err
		}
	}

	chain, err := buildChain(ctx, cfg, recorders, logger)
	if err != nil {
		return err
	}
	var current atomic.Pointer[policy.Chain]
	current.Store(&chain)

	if opts.watch {
		provider, err := config.NewFileProvider(opts.configPath, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := provider.Close(); err != nil {
				logger.Warn("failed to close config provider", "error", err)
			}
		}()
		go watchConfig(ctx, provider, opts, recorders, logger, &current)
	}

	w := &resultWriter{enc: json.NewEncoder(cmd.OutOrStdout()), vault: vault, logger: logger}

	if len(opts.texts) > 0 || !opts.watch {
		inputs, err := collectInputs(opts.texts, cmd.InOrStdin())
		if err != nil {
			return err
		}
		items, err := policy.ExecuteChainAll(ctx, *current.Load(), inputs, opts.concurrency)
		for i, item := range items {
			if werr := w.write(ctx, i, item.Result, item.Err); werr != nil {
				return werr
			}
		}
		if err != nil {
			return err
		}
		return w.status()
	}

	// Watch mode streams stdin so reloaded policies apply to later lines.
	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 64*1024), maxInputLine)
	for i := 0; scanner.Scan(); i++ {
		if ctx.Err() != nil {
			break
		}
		res, err := current.Load().Execute(ctx, domain.NewTextInput(scanner.Text()))
		if werr := w.write(ctx, i, res, err); werr != nil {
			return werr
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	return w.status()
}

func watchConfig(ctx context.Context, provider *config.FileProvider, opts *runOptions, recorder telemetry.Recorder, logger *slog.Logger, current *atomic.Pointer[policy.Chain]) {
	updates := provider.Subscribe()
	var seen int64
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-updates:
			if snap.Generation <= seen || snap.Config == nil {
				continue
			}
			seen = snap.Generation
			if snap.Generation == 1 {
				// The initial load is already active.
				continue
			}
			cfg, err := withBuiltins(snap.Config, opts.policies, opts.language)
			if err == nil {
				var chain policy.Chain
				if chain, err = buildChain(ctx, cfg, recorder, logger); err == nil {
					current.Store(&chain)
					logger.Info("policies reloaded", "generation", snap.Generation, "policies", chain.Len())
					continue
				}
			}
			logger.Warn("reloaded configuration rejected, keeping previous policies", "generation", snap.Generation, "error", err)
		}
	}
}

func collectInputs(texts []string, stdin io.Reader) ([]domain.PolicyInput, error) {
	if len(texts) > 0 {
		inputs := make([]domain.PolicyInput, 0, len(texts))
		for _, t := range texts {
			inputs = append(inputs, domain.NewTextInput(t))
		}
		return inputs, nil
	}

	var inputs []domain.PolicyInput
	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 64*1024), maxInputLine)
	for scanner.Scan() {
		inputs = append(inputs, domain.NewTextInput(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return inputs, nil
}

// resultWriter prints output lines and remembers whether any input was stopped.
type resultWriter struct {
	enc     *json.Encoder
	vault   storage.MapVault
	logger  *slog.Logger
	stopped bool
}

func (w *resultWriter) write(ctx context.Context, idx int, res policy.ChainResult, err error) error {
	line := outputLine{Input: idx, Stages: make([]stageOutput, 0, len(res.Stages))}
	for _, st := range res.Stages {
		so := stageOutput{
			Policy:            st.Policy,
			Rule:              st.Rule,
			Action:            st.Action,
			TransformationMap: st.Output.TransformationMap,
		}
		if w.vault != nil && st.Output.TransformationMap.Len() > 0 {
			id, verr := w.vault.Store(ctx, st.Policy, st.Output.TransformationMap)
			if verr != nil {
				w.logger.Error("failed to store transformation map", "policy", st.Policy, "error", verr)
			}
			so.VaultID = id
		}
		line.Stages = append(line.Stages, so)
	}

	if err != nil {
		resp := domain.ToErrorResponse(err)
		line.Error = &resp
		var stageErr *policy.StageError
		if errors.As(err, &stageErr) {
			line.Stage = stageErr.Policy
		}
		if policy.IsStopped(err) {
			w.stopped = true
		}
	} else {
		line.OutputTexts = res.Output.Texts
	}
	return w.enc.Encode(line)
}

func (w *resultWriter) status() error {
	if w.stopped {
		return errStopped
	}
	return nil
}

func startMetricsServer(addr string, prom *telemetry.PrometheusRecorder, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", prom.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}

func shutdownMetricsServer(srv *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("metrics server shutdown error", "error", err)
	}
}
