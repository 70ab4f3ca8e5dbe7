// cmd/forge/main.go
//
// Entry point for the forge TUI. Running `forge` in a project directory
// initializes the .forge tree, loads (or creates) the project state, wires
// the pipeline components together and hands control to the dashboard.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"forge/internal/artifact"
	"forge/internal/config"
	"forge/internal/logbook"
	"forge/internal/logging"
	"forge/internal/orchestrator"
	"forge/internal/pipeline"
	"forge/internal/project"
	"forge/internal/runtime"
	"forge/internal/script"
	"forge/internal/tui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "forge: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// The current working directory is the project being fine-tuned.
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	if err := config.InitForgeDir(cwd); err != nil {
		return fmt.Errorf("initialize %s directory: %w", config.ForgeDir, err)
	}

	cfg, err := config.NewConfig(cwd)
	if err != nil {
		return err
	}

	logger, err := logging.New(cwd)
	if err != nil {
		return err
	}
	defer logger.Close()

	book, err := logbook.New(filepath.Join(cfg.LogsDir(), "runs.log"))
	if err != nil {
		return err
	}
	defer book.Close()

	store := project.NewFileStore(cfg.ProjectStatePath())
	proj, err := project.LoadOrCreate(store, filepath.Base(cwd), cwd)
	if err != nil {
		return err
	}

	machine, err := pipeline.New(proj, store)
	if err != nil {
		return err
	}

	runner := script.NewRunner(runtime.NewResolver(cfg.ScriptsDir()), logger)
	inv := artifact.NewInventory(cfg)

	orch, err := orchestrator.New(cfg, machine, runner, inv, logger, book)
	if err != nil {
		return err
	}

	logger.Printf("forge: starting in %s (project %s, step %d)", cwd, proj.Name, proj.CurrentStep+1)
	book.Info("session started for project %s", proj.Name)

	p := tea.NewProgram(
		tui.NewApp(cfg, orch, inv, book),
		tea.WithAltScreen(),
	)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run dashboard: %w", err)
	}
	return nil
}
