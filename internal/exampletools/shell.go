// Package exampletools provides one concrete tool.Provider — Shell — as a
// working demonstration of the tool contract. The concrete tool catalog
// itself isn't this module's concern; Shell exists to give the tool
// registry, the aligner, and the agent loop something real to exercise in
// tests, and to show how a tool.Provider wraps internal/monitor and
// internal/workspace the way a production tool catalog would.
//
// Grounded on internal/tools/exec/manager.go's RunCommand in the system
// this package is based on, scoped down from a process-manager surface to a
// single blocking command.
package exampletools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wpierozak/pipiline-agent/internal/monitor"
	"github.com/wpierozak/pipiline-agent/internal/tool"
	"github.com/wpierozak/pipiline-agent/internal/workspace"
)

// Shell runs shell commands scoped to a workspace directory.
type Shell struct {
	Resolver workspace.Resolver
}

func (Shell) ProviderName() string { return "Shell" }

type runArgs struct {
	Command string `json:"command" tool:"required"`
	Dir     string `json:"dir"`
}

func (s Shell) Tools() []tool.Tool {
	schema, names, err := tool.ArgsSchema(runArgs{})
	if err != nil {
		panic(err)
	}
	return []tool.Tool{
		{
			Meta: tool.Meta{
				Name: "run",
				Docs: "Runs a shell command to completion inside the workspace and returns its combined stdout/stderr.",
			},
			ArgNames: names,
			Schema:   schema,
			Run:      s.run,
		},
	}
}

func (s Shell) run(ctx context.Context, raw json.RawMessage) (string, error) {
	var args runArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("exampletools: decode run arguments: %w", err)
	}
	if args.Command == "" {
		return "", fmt.Errorf("exampletools: command is required")
	}

	dir := s.Resolver.Root
	if args.Dir != "" {
		resolved, err := s.Resolver.Resolve(args.Dir)
		if err != nil {
			return "", fmt.Errorf("exampletools: resolve dir: %w", err)
		}
		dir = resolved
	}

	m := monitor.New()
	result, err := m.RunForeground(ctx, "sh", []string{"-c", cdPrefix(dir) + args.Command})
	if err != nil {
		return "", fmt.Errorf("exampletools: run command: %w", err)
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("exampletools: command exited %d: %s", result.ExitCode, result.Stderr)
	}
	return result.Stdout + result.Stderr, nil
}

func cdPrefix(dir string) string {
	if dir == "" {
		return ""
	}
	return fmt.Sprintf("cd %q && ", dir)
}
