package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"alchemistral/internal/agent"
	"alchemistral/internal/broadcast"
	"alchemistral/internal/config"
	"alchemistral/internal/llm"
	"alchemistral/internal/logging"
	"alchemistral/internal/mission"
	"alchemistral/internal/project"
	"alchemistral/internal/scanner"
	"alchemistral/internal/server"
)

const version = "0.1.0"

var (
	cyan = color.New(color.FgCyan).SprintFunc()
	gray = color.New(color.FgHiBlack).SprintFunc()
	bold = color.New(color.Bold).SprintFunc()
)

func main() {
	root := &cobra.Command{
		Use:   "alchemistral",
		Short: "Multi-agent coding orchestrator backed by Mistral",
		Long: "Alchemistral plans a developer mission into a DAG of agent tasks,\n" +
			"runs coding agents in isolated git worktrees, and merges their work back.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestrator API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	ver := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("alchemistral %s\n", version)
		},
	}

	root.AddCommand(serve, ver)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe() error {
	logger := logging.NewComponentLogger("Main")
	cfg := config.Load()

	fmt.Printf("%s %s\n", bold(cyan("Alchemistral")), gray("v"+version))
	if cfg.APIKey() == "" {
		fmt.Println(gray("MISTRAL_API_KEY not set — planning falls back to the built-in mock plan."))
	}
	if cfg.DemoMode() {
		fmt.Println(gray("DEMO_MODE on — agents run the mock adapter."))
	}

	store, err := project.NewStore()
	if err != nil {
		return fmt.Errorf("project store: %w", err)
	}

	bus := broadcast.NewBroadcaster()
	client := llm.NewClient(cfg)
	manager := agent.NewManager(cfg, bus.Publish)
	executor := mission.NewExecutor(manager, bus.Publish)
	pipeline := mission.NewPipeline(store, client, executor, bus.Publish)
	scan := scanner.New(client, bus.Publish)

	srv := server.New(cfg, store, manager, pipeline, client, scan, bus)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting server on %s:%d", cfg.Host(), cfg.Port())
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
