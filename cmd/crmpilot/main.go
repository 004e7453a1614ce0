package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"crmpilot/internal/catalog"
	"crmpilot/internal/cli"
	"crmpilot/internal/config"
	"crmpilot/internal/costs"
	"crmpilot/internal/display"
	"crmpilot/internal/listener"
	"crmpilot/internal/logging"
	"crmpilot/internal/mission"
	"crmpilot/internal/oracle"
	"crmpilot/internal/orchestrator"
	"crmpilot/internal/tool"
	"crmpilot/internal/tools"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "crmpilot:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load(configPath())
	if err != nil {
		return err
	}

	logger, err := logging.Init(cfg.Logging.File, cfg.Logging.Debug)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	registry, err := catalog.Load()
	if err != nil {
		return err
	}

	provider, err := oracle.NewProvider(oracle.Config{
		Backend:    cfg.LLM.Backend,
		OllamaHost: cfg.LLM.OllamaHost,
	})
	if err != nil {
		return err
	}
	router := costs.NewRouter()
	client := oracle.NewClient(provider, logger,
		oracle.WithRecorder(router),
		oracle.WithTimeout(cfg.LLM.Timeout))

	runner := tool.NewRunner(registry, logger)
	if err := tools.RegisterAll(runner, cfg, client); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	tracker, err := costs.NewTracker(filepath.Join(cfg.Workspace, ".crmpilot", "usage.json"))
	if err != nil {
		return err
	}

	confirm := func(_ context.Context, steps []mission.PlanStep) bool {
		listener.Println(display.FormatSteps(steps, registry))
		return listener.AskYesNo("Execute these steps?")
	}

	pipeline := orchestrator.NewPipeline(orchestrator.Deps{
		Oracle:   client,
		Executor: runner,
		Registry: registry,
		Config:   cfg,
		Router:   router,
		Tracker:  tracker,
		Confirm:  confirm,
		Log:      logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup := orchestrator.NewSupervisor(pipeline, logger)
	sup.Start(ctx)

	app := cli.New(sup, registry, tracker, logger)
	return app.Command().ExecuteContext(ctx)
}

func configPath() string {
	if p := os.Getenv("CRMPILOT_CONFIG"); p != "" {
		return p
	}
	return "crmpilot.yaml"
}
