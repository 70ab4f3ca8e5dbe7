package tui

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"forge/internal/artifact"
	"forge/internal/config"
	"forge/internal/logbook"
	"forge/internal/orchestrator"
	"forge/internal/pipeline"
	"forge/internal/project"
	"forge/internal/script"
)

// noopRunner satisfies the orchestrator's runner contract without spawning
// anything; TUI tests only exercise presentation and key handling.
type noopRunner struct{}

func (noopRunner) Execute(context.Context, script.Invocation) (script.Result, error) {
	return script.Result{ExitCode: 0, Success: true}, nil
}

func (noopRunner) Cancel() {}

func (noopRunner) VerifyRuntime(context.Context, string) error { return nil }

func newTestApp(t *testing.T) (*App, *pipeline.Machine) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("FORGE_ROOT", t.TempDir())
	if err := config.InitForgeDir(dir); err != nil {
		t.Fatalf("init forge dir: %v", err)
	}
	cfg, err := config.NewConfig(dir)
	if err != nil {
		t.Fatalf("new config: %v", err)
	}
	store := project.NewFileStore(cfg.ProjectStatePath())
	proj, err := project.LoadOrCreate(store, "demo", dir)
	if err != nil {
		t.Fatalf("load or create: %v", err)
	}
	machine, err := pipeline.New(proj, store)
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}
	book, err := logbook.New(filepath.Join(cfg.LogsDir(), "runs.log"))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	t.Cleanup(func() { book.Close() })
	orch, err := orchestrator.New(cfg, machine, noopRunner{}, artifact.NewInventory(cfg), nil, book)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return NewApp(cfg, orch, artifact.NewInventory(cfg), book), machine
}

func keyMsg(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func resize(t *testing.T, app *App) *App {
	t.Helper()
	model, _ := app.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	next, ok := model.(*App)
	if !ok {
		t.Fatalf("unexpected model type %T", model)
	}
	return next
}

func TestBoardReflectsStepStatuses(t *testing.T) {
	app, machine := newTestApp(t)
	if err := machine.MarkComplete(1); err != nil {
		t.Fatalf("mark complete: %v", err)
	}
	if err := machine.MarkFailed(2, "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	app.refreshBoard()

	items := app.board.Items()
	if len(items) != project.StepCount {
		t.Fatalf("board has %d items, want %d", len(items), project.StepCount)
	}
	if title := items[0].(stepItem).Title(); !strings.Contains(title, "✓") {
		t.Fatalf("completed step missing glyph: %q", title)
	}
	if title := items[1].(stepItem).Title(); !strings.Contains(title, "✗") {
		t.Fatalf("failed step missing glyph: %q", title)
	}
}

func TestStartRunResetsTerminalSteps(t *testing.T) {
	app, machine := newTestApp(t)
	if err := machine.MarkFailed(1, "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	cmd := app.startRun()
	if cmd == nil {
		t.Fatalf("expected run command")
	}
	if !app.running || app.runningStep != 1 {
		t.Fatalf("run not started: running=%v step=%d", app.running, app.runningStep)
	}
	step := machine.Project().Steps[0]
	if step.Status != project.StatusPending || step.ErrorMessage != "" {
		t.Fatalf("failed step not reset before run: %+v", step)
	}
}

func TestStartRunRefusesOutOfOrderStep(t *testing.T) {
	app, machine := newTestApp(t)
	app.board.Select(project.StepConvert - 1)

	if cmd := app.startRun(); cmd != nil {
		t.Fatalf("expected step 6 run to be refused on a fresh project")
	}
	if app.running {
		t.Fatalf("run must not start for a gated step")
	}
	if app.statusMsg == "" {
		t.Fatalf("expected a message explaining the order gate")
	}
	if status := machine.Project().Steps[project.StepConvert-1].Status; status != project.StatusPending {
		t.Fatalf("step 6 status changed to %s", status)
	}
}

func TestStartRunWhileRunningIsRejected(t *testing.T) {
	app, _ := newTestApp(t)
	app.running = true
	if cmd := app.startRun(); cmd != nil {
		t.Fatalf("expected second run to be rejected")
	}
	if app.statusMsg == "" {
		t.Fatalf("expected status message explaining the rejection")
	}
}

func TestProgressKeyAdvancesAfterCompletion(t *testing.T) {
	app, machine := newTestApp(t)
	app = resize(t, app)

	// Pending current step: the gate refuses and the index holds.
	model, _ := app.handleKey(keyMsg("n"))
	app = model.(*App)
	if machine.Project().CurrentStep != 0 {
		t.Fatalf("index moved despite pending step")
	}
	if app.statusMsg == "" {
		t.Fatalf("expected gate refusal message")
	}

	if err := machine.MarkComplete(1); err != nil {
		t.Fatalf("mark complete: %v", err)
	}
	model, _ = app.handleKey(keyMsg("n"))
	app = model.(*App)
	if machine.Project().CurrentStep != 1 {
		t.Fatalf("index = %d, want 1", machine.Project().CurrentStep)
	}
	if app.board.Index() != 1 {
		t.Fatalf("board selection = %d, want 1", app.board.Index())
	}
}

func TestStepFinishedSetsStatusMessage(t *testing.T) {
	app, _ := newTestApp(t)
	app = resize(t, app)

	model, _ := app.Update(stepFinishedMsg{outcome: orchestrator.Outcome{
		StepNumber: 1,
		Status:     project.StatusCompleted,
	}})
	app = model.(*App)
	if app.running {
		t.Fatalf("running flag not cleared")
	}
	if !strings.Contains(app.statusMsg, "Step 1 completed") {
		t.Fatalf("unexpected status message: %q", app.statusMsg)
	}

	model, _ = app.Update(stepFinishedMsg{outcome: orchestrator.Outcome{
		StepNumber: 2,
		Status:     project.StatusFailed,
		Message:    "model not found",
	}})
	app = model.(*App)
	if !strings.Contains(app.statusMsg, "model not found") {
		t.Fatalf("failure diagnostic missing: %q", app.statusMsg)
	}
}

func TestHistoryKeyShowsLogbook(t *testing.T) {
	app, _ := newTestApp(t)
	app = resize(t, app)
	app.book.Step(logbook.LevelInfo, 4, "training started")

	model, _ := app.handleKey(keyMsg("l"))
	app = model.(*App)
	if !strings.Contains(app.output.View(), "[step 4] training started") {
		t.Fatalf("output pane missing logbook entry")
	}
}
