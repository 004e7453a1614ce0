// Package cli is the interactive front end: a readline REPL that queues
// missions on the supervisor and prints their outcomes as they finish.
package cli

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"crmpilot/internal/catalog"
	"crmpilot/internal/costs"
	"crmpilot/internal/display"
	"crmpilot/internal/listener"
	"crmpilot/internal/mission"
	"crmpilot/internal/orchestrator"
	"crmpilot/internal/planner"
)

// maxHistoryTurns bounds how many past exchanges feed the gatekeeper and
// planner prompts.
const maxHistoryTurns = 3

// App holds the REPL state.
type App struct {
	sup      *orchestrator.Supervisor
	registry *catalog.Registry
	tracker  *costs.Tracker
	log      *zap.Logger

	mu      sync.Mutex
	history []mission.Message
}

func New(sup *orchestrator.Supervisor, registry *catalog.Registry, tracker *costs.Tracker, log *zap.Logger) *App {
	if log == nil {
		log = zap.NewNop()
	}
	return &App{sup: sup, registry: registry, tracker: tracker, log: log}
}

// Command builds the root cobra command running the REPL.
func (a *App) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "crmpilot",
		Short: "An autonomous CRM assistant",
		Long:  "crmpilot takes natural-language CRM requests, plans tool steps and executes them in the background while you keep typing.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.repl()
		},
	}
}

func (a *App) repl() error {
	if err := listener.Init("> "); err != nil {
		return fmt.Errorf("init terminal input: %w", err)
	}
	defer listener.Close()

	go a.consumeResults()

	listener.Println("Hello! Tell me what to do in the CRM. Commands: plan <file> [names], cancel [id], usage, exit.")

	for {
		line, err := listener.ReadLine()
		if err != nil {
			return nil
		}
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		switch strings.ToLower(fields[0]) {
		case "exit", "quit":
			listener.Println("Goodbye!")
			return nil
		case "usage":
			a.printUsage()
		case "cancel":
			a.cancel(fields[1:])
		case "plan":
			a.runPlanFile(fields[1:])
		default:
			a.submitGoal(line)
		}
	}
}

func (a *App) submitGoal(goal string) {
	a.mu.Lock()
	a.history = append(a.history, mission.Message{Role: "user", Content: goal})
	a.trimHistoryLocked()
	messages := append([]mission.Message(nil), a.history...)
	a.mu.Unlock()

	id := a.sup.Submit(goal, messages)
	listener.Printf("[Mission %s queued]", id)
}

func (a *App) cancel(args []string) {
	if len(args) == 0 {
		if a.sup.CancelCurrent() {
			listener.Println("Cancelling the running mission.")
		} else {
			listener.Println("Nothing is running.")
		}
		return
	}
	if a.sup.Cancel(args[0]) {
		listener.Printf("[Mission %s cancelled]", args[0])
	} else {
		listener.Printf("No mission with id %s.", args[0])
	}
}

func (a *App) printUsage() {
	if a.tracker == nil {
		listener.Println("Usage tracking is disabled.")
		return
	}
	listener.Println(display.FormatTotals(a.tracker.Totals()))
}

// runPlanFile loads canned plans from a JSON file and queues the selected
// ones after showing what was found.
func (a *App) runPlanFile(args []string) {
	if len(args) == 0 {
		listener.Println("Usage: plan <file> [plan names...]")
		return
	}
	file := args[0]
	plans, err := planner.LoadPlanFile(file)
	if err != nil {
		listener.Printf("[Plan] %v", err)
		return
	}
	plans, missing := planner.SelectPlansByNames(plans, args[1:])
	if len(missing) > 0 {
		listener.Printf("[Plan] Not found in %s: %s", file, strings.Join(missing, ", "))
	}
	if len(plans) == 0 {
		listener.Println("[Plan] Nothing to run.")
		return
	}

	listener.Println(display.FormatPlanCatalog(file, plans))
	if !listener.AskYesNo(fmt.Sprintf("Run %d plan(s) from %s?", len(plans), file)) {
		listener.Println("[Plan] Cancelled.")
		return
	}
	for _, p := range plans {
		id := a.sup.SubmitPlan(p.Name, p.Steps)
		listener.Printf("[Mission %s queued] %s", id, p.Name)
	}
}

// consumeResults prints mission outcomes above the prompt as they arrive and
// folds them into the conversation history.
func (a *App) consumeResults() {
	for r := range a.sup.Results() {
		switch r.Status {
		case orchestrator.MissionCancelled:
			listener.Printf("[Mission %s CANCELLED]", r.ID)
		default:
			listener.Printf("[Mission %s %s] took %s", r.ID, r.Outcome.Kind, r.Elapsed.Round(time.Millisecond))
		}
		if r.Outcome.Message != "" {
			listener.Println(r.Outcome.Message)
		}
		if r.Outcome.Manifest.TotalSteps > 0 {
			listener.Println(display.FormatManifest(r.Outcome.Manifest))
		}
		if line := display.FormatCosts(r.Outcome.Costs); line != "" {
			listener.Println(line)
		}

		a.mu.Lock()
		a.history = append(a.history, mission.Message{Role: "assistant", Content: r.Outcome.Message})
		a.trimHistoryLocked()
		a.mu.Unlock()
	}
}

func (a *App) trimHistoryLocked() {
	if limit := maxHistoryTurns * 2; len(a.history) > limit {
		a.history = a.history[len(a.history)-limit:]
	}
}
