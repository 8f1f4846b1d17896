package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hupe1980/agentloop"
	"github.com/hupe1980/agentloop/config"
	"github.com/hupe1980/agentloop/flow"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "agentloop",
		Short:         "agentloop drives a reasoning backend through a tool-calling loop",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default ./agentloop.yaml)")
	flags.String("provider", "scripted", "backend provider: openai, anthropic or scripted")
	flags.String("model", "", "backend model id")
	flags.String("mode", "function", "protocol: function, react or codeact")
	flags.Bool("stream", false, "stream fragments from the backend")
	flags.Int("max-iterations", flow.DefaultMaxIterations, "reasoning cycle ceiling per run")
	flags.String("log-level", "warn", "log level: debug, info, warn or error")
	flags.String("log-lib", "zerolog", "logger: slog, zap or zerolog")
	flags.Bool("transcript", false, "print the run transcript as JSON")

	root.AddCommand(newRunCmd(), newPlanCmd())

	return root
}

// loadConfig resolves the configuration with the command's flags taking
// precedence over env and file.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	return config.Load(path, func(v *viper.Viper) error {
		return v.BindPFlags(cmd.Flags())
	})
}

// setup loads config and builds the loop; the returned context is
// cancelled on SIGINT/SIGTERM. initialPlan is only consulted by the
// scripted backend of the plan command.
func setup(cmd *cobra.Command, planning bool, initialPlan []string) (context.Context, context.CancelFunc, *agentloop.AgentLoop, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	logger, err := cfg.NewLogger(cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, nil, nil, err
	}

	m, planner, err := newBackend(cfg, planning, len(initialPlan) == 0)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	mode, err := flow.ParseMode(cfg.Mode)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	loop := agentloop.New(m, demoCapabilities(logger), func(o *agentloop.Options) {
		o.Instructions = cfg.Instructions
		o.Mode = flow.ModeConfig{Mode: mode}
		o.Stream = cfg.Stream
		o.MaxIterations = cfg.MaxIterations
		o.MaxReplans = cfg.MaxReplans
		o.MaxParallel = cfg.MaxParallel
		o.CallTimeout = cfg.CallTimeout
		o.MaxTurns = cfg.MaxTurns
		o.Planner = planner
		o.Logger = logger
		o.Callbacks = flow.NewCallbackManager(
			flow.NewLoggingCallback(flow.CallbackAfterCapability, logger),
			flow.NewLoggingCallback(flow.CallbackOnAnomaly, logger),
			flow.NewLoggingCallback(flow.CallbackOnImplicitFinal, logger),
		)
	})

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)

	return ctx, cancel, loop, cfg, nil
}

func printResult(cmd *cobra.Command, loop *agentloop.AgentLoop, res *agentloop.Result) error {
	out := cmd.OutOrStdout()

	if res.Partial() {
		fmt.Fprintf(out, "(%s after %d iterations)\n", res.Status, res.Iterations)
	}
	fmt.Fprintln(out, res.Answer)

	if show, _ := cmd.Flags().GetBool("transcript"); show {
		return printTranscript(out, loop, res.RunID)
	}

	return nil
}

func printTranscript(out io.Writer, loop *agentloop.AgentLoop, runID string) error {
	turns, err := loop.Transcript(runID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	return enc.Encode(turns)
}
