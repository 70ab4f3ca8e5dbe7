// internal/tui/app.go
//
// The terminal dashboard for forge. It uses bubbletea's Elm-style loop:
// the App model holds all state, Update reacts to messages, View renders.
// The pipeline itself lives in the orchestrator; this file only presents
// it and forwards user intent.

package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"forge/internal/artifact"
	"forge/internal/config"
	"forge/internal/logbook"
	"forge/internal/orchestrator"
	"forge/internal/project"
)

// outputRefreshInterval drives how often the output pane re-reads the live
// buffer while a step is running.
const outputRefreshInterval = 250 * time.Millisecond

// logbookTailLines is how much run history the `l` key pulls into the
// output pane.
const logbookTailLines = 50

var (
	completedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	runningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF"))
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	detailStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	errStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	helpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
)

type stepFinishedMsg struct {
	outcome orchestrator.Outcome
	err     error
}

type outputTickMsg struct{}

type runtimeVerifiedMsg struct {
	err error
}

// stepItem implements list.Item for one pipeline step.
type stepItem struct {
	step    project.Step
	current bool
	running bool
	spin    string
}

func (i stepItem) Title() string {
	title := fmt.Sprintf("%s %d. %s", stepGlyph(i.step), i.step.Number, i.step.Title)
	if i.running {
		title += " " + i.spin
	}
	if i.current {
		title += "  (current)"
	}
	return title
}

func (i stepItem) Description() string { return i.step.Description }
func (i stepItem) FilterValue() string { return i.step.Title }

func stepGlyph(step project.Step) string {
	switch step.Status {
	case project.StatusCompleted:
		return completedStyle.Render("✓")
	case project.StatusFailed:
		return failedStyle.Render("✗")
	case project.StatusInProgress:
		return runningStyle.Render("▸")
	default:
		return pendingStyle.Render("○")
	}
}

// App is the dashboard model.
type App struct {
	cfg  *config.Config
	orch *orchestrator.Orchestrator
	inv  *artifact.Inventory
	book *logbook.Logbook

	board  list.Model
	spin   spinner.Model
	output viewport.Model
	ready  bool
	width  int
	height int

	running     bool
	runningStep int
	statusMsg   string
	runtimeErr  string
}

// NewApp builds the dashboard around an orchestrator.
func NewApp(cfg *config.Config, orch *orchestrator.Orchestrator, inv *artifact.Inventory, book *logbook.Logbook) *App {
	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = runningStyle

	proj := orch.Machine().Snapshot()
	board := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	board.Title = fmt.Sprintf("⚒ FORGE — %s", proj.Name)
	board.SetShowStatusBar(false)
	board.SetFilteringEnabled(false)
	board.SetShowHelp(false)

	a := &App{
		cfg:   cfg,
		orch:  orch,
		inv:   inv,
		book:  book,
		spin:  spin,
		board: board,
	}
	a.refreshBoard()
	a.board.Select(proj.CurrentStep)
	return a
}

// refreshBoard rebuilds the step items from a snapshot of the project, so
// rendering never reads the aggregate a running step is mutating.
func (a *App) refreshBoard() {
	proj := a.orch.Machine().Snapshot()
	items := make([]list.Item, len(proj.Steps))
	for i, step := range proj.Steps {
		items[i] = stepItem{
			step:    step,
			current: i == proj.CurrentStep,
			running: a.running && step.Number == a.runningStep,
			spin:    a.spin.View(),
		}
	}
	a.board.SetItems(items)
}

// selectedStep returns the 1-based number of the highlighted step.
func (a *App) selectedStep() int {
	return a.board.Index() + 1
}

// Init verifies the Python runtime in the background so a broken install
// surfaces before the first run.
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return runtimeVerifiedMsg{err: a.orch.VerifyRuntime(ctx)}
		},
		a.spin.Tick,
	)
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = m.Width
		a.height = m.Height
		boardHeight := m.Height / 2
		if boardHeight < 10 {
			boardHeight = 10
		}
		a.board.SetSize(m.Width-2, boardHeight)
		outputHeight := m.Height - boardHeight - 6
		if outputHeight < 3 {
			outputHeight = 3
		}
		if !a.ready {
			a.output = viewport.New(m.Width-2, outputHeight)
			a.ready = true
		} else {
			a.output.Width = m.Width - 2
			a.output.Height = outputHeight
		}
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(m)

	case runtimeVerifiedMsg:
		if m.err != nil {
			a.runtimeErr = m.err.Error()
		}
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spin, cmd = a.spin.Update(m)
		if a.running {
			a.refreshBoard()
		}
		return a, cmd

	case outputTickMsg:
		if !a.running {
			return a, nil
		}
		a.refreshOutput()
		return a, a.outputTick()

	case stepFinishedMsg:
		a.running = false
		a.refreshBoard()
		a.refreshOutput()
		if m.err != nil {
			a.statusMsg = errStyle.Render(m.err.Error())
		} else if m.outcome.Status == project.StatusCompleted {
			a.statusMsg = completedStyle.Render(fmt.Sprintf("Step %d completed.", m.outcome.StepNumber))
		} else {
			a.statusMsg = failedStyle.Render(fmt.Sprintf("Step %d failed: %s", m.outcome.StepNumber, m.outcome.Message))
		}
		return a, nil
	}

	if a.ready {
		var cmd tea.Cmd
		a.output, cmd = a.output.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if a.running {
			a.orch.Cancel()
		}
		return a, tea.Quit

	case "enter", "r":
		return a, a.startRun()

	case "c":
		if a.running {
			a.orch.Cancel()
			a.statusMsg = pendingStyle.Render("Cancellation requested...")
		}
		return a, nil

	case "l":
		if a.running || !a.ready {
			return a, nil
		}
		lines := a.book.Tail(logbookTailLines)
		if len(lines) == 0 {
			a.statusMsg = pendingStyle.Render("No runs recorded yet.")
			return a, nil
		}
		a.output.SetContent(strings.Join(lines, "\n"))
		a.output.GotoBottom()
		a.statusMsg = pendingStyle.Render("Showing recent run history.")
		return a, nil

	case "n":
		if a.running {
			return a, nil
		}
		if err := a.orch.Progress(); err != nil {
			if orchestrator.IsCannotProgress(err) {
				a.statusMsg = pendingStyle.Render("Complete the current step before moving on.")
			} else {
				a.statusMsg = errStyle.Render(err.Error())
			}
		} else {
			a.refreshBoard()
			a.board.Select(a.orch.Machine().Snapshot().CurrentStep)
			a.statusMsg = ""
		}
		return a, nil
	}

	// Everything else (j/k, arrows, paging) belongs to the step board.
	var cmd tea.Cmd
	a.board, cmd = a.board.Update(msg)
	return a, cmd
}

// startRun launches the highlighted step. Failed steps are reset first and
// completed steps go through the rerun reset, so "run" covers retry and
// re-run as well.
func (a *App) startRun() tea.Cmd {
	if a.running {
		a.statusMsg = pendingStyle.Render("A step is already running.")
		return nil
	}
	stepNumber := a.selectedStep()
	if err := a.orch.CanRun(stepNumber); err != nil {
		if orchestrator.IsStepNotReady(err) {
			a.statusMsg = pendingStyle.Render("Earlier steps must complete first.")
		} else {
			a.statusMsg = errStyle.Render(err.Error())
		}
		return nil
	}
	snap := a.orch.Machine().Snapshot()
	step, err := snap.Step(stepNumber)
	if err != nil {
		a.statusMsg = errStyle.Render(err.Error())
		return nil
	}
	switch step.Status {
	case project.StatusCompleted:
		if err := a.orch.Rerun(stepNumber); err != nil {
			a.statusMsg = errStyle.Render(err.Error())
			return nil
		}
	case project.StatusFailed:
		if err := a.orch.Retry(stepNumber); err != nil {
			a.statusMsg = errStyle.Render(err.Error())
			return nil
		}
	}

	a.running = true
	a.runningStep = stepNumber
	a.statusMsg = ""
	a.refreshBoard()
	return tea.Batch(
		func() tea.Msg {
			outcome, err := a.orch.RunStep(context.Background(), stepNumber)
			return stepFinishedMsg{outcome: outcome, err: err}
		},
		a.outputTick(),
		a.spin.Tick,
	)
}

func (a *App) outputTick() tea.Cmd {
	return tea.Tick(outputRefreshInterval, func(time.Time) tea.Msg {
		return outputTickMsg{}
	})
}

func (a *App) refreshOutput() {
	if !a.ready {
		return
	}
	a.output.SetContent(a.orch.Output().Text())
	a.output.GotoBottom()
}

func (a *App) View() string {
	var b strings.Builder

	b.WriteString(a.board.View())
	b.WriteString("\n")
	b.WriteString(a.detailLine())
	b.WriteString("\n")

	if a.runtimeErr != "" {
		b.WriteString(errStyle.Render("runtime: " + a.runtimeErr))
		b.WriteString("\n")
	}
	if a.statusMsg != "" {
		b.WriteString(a.statusMsg)
		b.WriteString("\n")
	}

	if a.ready {
		b.WriteString(a.output.View())
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render("r run · c cancel · n next step · l history · j/k move · q quit"))
	return b.String()
}

// detailLine summarizes the highlighted step plus the artifact state that
// matters to it.
func (a *App) detailLine() string {
	proj := a.orch.Machine().Snapshot()
	idx := a.board.Index()
	if idx < 0 || idx >= len(proj.Steps) {
		return ""
	}
	step := proj.Steps[idx]
	parts := []string{step.Description}
	switch step.Number {
	case project.StepPrepareInputs, project.StepGenerateDataset:
		if summary, err := a.inv.Inputs(); err == nil {
			parts = append(parts, fmt.Sprintf("inputs: %d code, %d docs", summary.Code, summary.Docs))
		}
	case project.StepTrain:
		if a.inv.DatasetReady() {
			parts = append(parts, "dataset ready")
		} else {
			parts = append(parts, "dataset missing")
		}
	case project.StepEvaluate, project.StepConvert:
		if a.inv.ModelReady() {
			parts = append(parts, "checkpoints ready")
		} else {
			parts = append(parts, "no checkpoints yet")
		}
	}
	if step.Status == project.StatusFailed && step.ErrorMessage != "" {
		parts = append(parts, "last error: "+step.ErrorMessage)
	}
	if step.Status == project.StatusCompleted && step.CompletedAt != nil {
		parts = append(parts, "completed "+step.CompletedAt.Local().Format("Jan 2 15:04"))
	}
	return detailStyle.Render(strings.Join(parts, " · "))
}
