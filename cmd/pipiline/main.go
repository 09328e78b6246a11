// Package main provides the CLI entry point for running a pipeline agent
// definition end to end: wiring resources from a YAML config, compiling a
// finite-state machine around the wired agents, and driving it to
// completion from an initial task input.
//
// Grounded on cmd/nexus/main.go's buildRootCmd/cobra wiring in the system
// this command is based on.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/wpierozak/pipiline-agent/internal/agentcore"
	"github.com/wpierozak/pipiline-agent/internal/aligner"
	"github.com/wpierozak/pipiline-agent/internal/exampletools"
	"github.com/wpierozak/pipiline-agent/internal/fsm"
	"github.com/wpierozak/pipiline-agent/internal/ledger"
	"github.com/wpierozak/pipiline-agent/internal/resources"
	"github.com/wpierozak/pipiline-agent/internal/tool"
	"github.com/wpierozak/pipiline-agent/internal/workspace"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "pipiline",
		Short:        "Run multi-agent pipelines defined as finite-state machines",
		Version:      fmt.Sprintf("%s (commit %s)", version, commit),
		SilenceUsage: true,
	}
	root.AddCommand(buildRunCmd())
	return root
}

func buildRunCmd() *cobra.Command {
	var configPath string
	var userName string
	var workspaceDir string

	cmd := &cobra.Command{
		Use:   "run [input]",
		Short: "Run a single-agent pipeline against a task input",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), configPath, userName, workspaceDir, args[0])
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "pipeline.yaml", "path to the resource configuration file")
	cmd.Flags().StringVar(&userName, "user", "", "name of the user entry in the config's users section")
	cmd.Flags().StringVar(&workspaceDir, "workspace", ".", "directory the Shell tool is scoped to")
	cmd.MarkFlagRequired("user")
	return cmd
}

func runPipeline(ctx context.Context, configPath, userName, workspaceDir, input string) error {
	embedModel := aligner.NewLocalHashModel(32)

	provider, err := resources.Load(configPath, embedModel)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	wired, err := provider.InitializeUser(ctx, userName)
	if err != nil {
		return fmt.Errorf("initialize user %q: %w", userName, err)
	}

	agentLedger := ledger.New()
	agent := agentcore.New(userName, wired.Model, agentLedger)
	if wired.SysPrompt != "" {
		agent.AddSysPrompt(wired.SysPrompt)
	}

	if wired.Aligner != nil {
		registry := tool.NewRegistry()
		registry.Register(exampletools.Shell{Resolver: workspace.Resolver{Root: workspaceDir}})
		if err := agent.ConnectTools(ctx, registry, wired.Aligner, true); err != nil {
			return fmt.Errorf("connect tools: %w", err)
		}
	}

	machine, err := buildSingleAgentMachine(agent)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	output, err := machine.Run(ctx, input, 0)
	if err != nil {
		return fmt.Errorf("run pipeline: %w", err)
	}

	fmt.Println(output)
	return nil
}

// buildSingleAgentMachine wires the minimal useful topology: start -> one
// agent state -> end, with an error state for recovery. It's the default
// shape the run command drives; a pipeline with more states is built the
// same way, by adding more states and transitions before Compile.
func buildSingleAgentMachine(agent *agentcore.Agent) (*fsm.FSM, error) {
	machine := fsm.New()

	start := fsm.NewState("start", fsm.KindStart, nil, fsm.ForwardVerifier{Target: "work"}, 0)
	work := fsm.NewState("work", fsm.KindStable, fsm.AgentExecutor{Agent: agent}, fsm.ForwardVerifier{Target: "end"}, 3)
	end := fsm.NewState("end", fsm.KindEnd, nil, nil, 0)
	errState := fsm.NewState("error", fsm.KindError, nil, nil, 0)

	for _, s := range []*fsm.State{start, work, end, errState} {
		if err := machine.AddState(s); err != nil {
			return nil, err
		}
	}
	if err := machine.AddTransition(fsm.Transition{Source: "start", Target: "work"}); err != nil {
		return nil, err
	}
	if err := machine.AddTransition(fsm.Transition{Source: "work", Target: "end"}); err != nil {
		return nil, err
	}
	if err := machine.Compile(); err != nil {
		return nil, err
	}
	return machine, nil
}
