// Package orchestrator drives one pipeline step end to end: pre-check,
// argument construction, script execution with live output, and the
// resulting state-machine transition.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"forge/internal/artifact"
	"forge/internal/config"
	"forge/internal/logbook"
	"forge/internal/logging"
	"forge/internal/pipeline"
	"forge/internal/project"
	"forge/internal/script"
)

// remediationHint is appended to every orchestration failure so the user
// has somewhere to start.
const remediationHint = "verify that Python is installed and the pipeline scripts exist under the forge scripts directory"

// ScriptRunner is the slice of the script subsystem the orchestrator needs.
type ScriptRunner interface {
	Execute(ctx context.Context, inv script.Invocation) (script.Result, error)
	Cancel()
	VerifyRuntime(ctx context.Context, workDir string) error
}

// Outcome summarizes a finished step run for the caller.
type Outcome struct {
	StepNumber int
	Status     project.StepStatus
	// Message is the diagnostic recorded on failure, empty on success.
	Message string
	Result  script.Result
}

// Orchestrator binds a project's steps to their stage scripts.
type Orchestrator struct {
	cfg     *config.Config
	machine *pipeline.Machine
	runner  ScriptRunner
	inv     *artifact.Inventory
	log     *logging.Logger
	book    *logbook.Logbook

	output Buffer
}

// New wires an orchestrator. All collaborators are required except the
// logger and logbook, which degrade to no-ops when nil.
func New(cfg *config.Config, machine *pipeline.Machine, runner ScriptRunner, inv *artifact.Inventory, log *logging.Logger, book *logbook.Logbook) (*Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("orchestrator: config is required")
	}
	if machine == nil {
		return nil, fmt.Errorf("orchestrator: state machine is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("orchestrator: script runner is required")
	}
	if inv == nil {
		return nil, fmt.Errorf("orchestrator: artifact inventory is required")
	}
	return &Orchestrator{
		cfg:     cfg,
		machine: machine,
		runner:  runner,
		inv:     inv,
		log:     log,
		book:    book,
	}, nil
}

// Output exposes the live buffer for the run in progress. The TUI snapshots
// it on a refresh tick to render streaming script output.
func (o *Orchestrator) Output() *Buffer {
	return &o.output
}

// Machine returns the underlying state machine, for retry/progress actions.
func (o *Orchestrator) Machine() *pipeline.Machine {
	return o.machine
}

// Cancel forwards a termination request to the script subsystem. The
// orchestrator never decides completed/failed on cancellation itself; the
// eventual non-zero exit flows through the ordinary failure path.
func (o *Orchestrator) Cancel() {
	o.runner.Cancel()
}

// VerifyRuntime checks the resolved interpreter before the first run.
func (o *Orchestrator) VerifyRuntime(ctx context.Context) error {
	return o.runner.VerifyRuntime(ctx, o.cfg.ProjectDir)
}

// RunStep executes the given step's script and records the outcome in the
// step state machine. Validation and spawn failures return an error without
// a process having completed; script failures come back as a failed Outcome
// with a nil error.
func (o *Orchestrator) RunStep(ctx context.Context, stepNumber int) (Outcome, error) {
	plan, err := planFor(stepNumber)
	if err != nil {
		return Outcome{StepNumber: stepNumber}, err
	}

	// Pre-checks run before any process spawns and before any state
	// transition, so a validation miss leaves the step untouched.
	// The order gate comes first: a step is only runnable once every
	// earlier step has completed.
	if err := o.machine.CanRun(stepNumber); err != nil {
		return Outcome{StepNumber: stepNumber}, err
	}
	if plan.NeedsInputs {
		summary, err := o.inv.Inputs()
		if err != nil {
			return Outcome{StepNumber: stepNumber}, fmt.Errorf("orchestrator: inspect inputs: %w", err)
		}
		if summary.Total() < 1 {
			return Outcome{StepNumber: stepNumber}, fmt.Errorf(
				"orchestrator: at least one input artifact is required before preparing inputs; add code examples or docs under %s",
				filepath.Join(config.ForgeDir, "inputs"))
		}
	}

	training, err := o.attachedTraining()
	if err != nil {
		return Outcome{StepNumber: stepNumber}, err
	}

	scriptPath := filepath.Join(o.cfg.ScriptsDir(), plan.Script)
	args := plan.Args(o.cfg, training)

	if err := o.machine.MarkInProgress(stepNumber); err != nil {
		return Outcome{StepNumber: stepNumber}, err
	}

	o.output.Reset()
	o.book.Step(logbook.LevelInfo, stepNumber, "running %s", plan.Script)
	o.log.Printf("orchestrator: step %d -> %s %s", stepNumber, scriptPath, strings.Join(args, " "))

	result, execErr := o.runner.Execute(ctx, script.Invocation{
		Path:     scriptPath,
		Args:     args,
		Dir:      o.cfg.ProjectDir,
		OnOutput: o.output.Append,
	})
	if execErr != nil {
		// Spawn/IO failure: no script outcome exists. Record the failure
		// with a remediation hint, keeping any secondary persistence error
		// appended to the original message rather than replacing it.
		msg := fmt.Sprintf("%v (%s)", execErr, remediationHint)
		msg = o.recordFailure(stepNumber, msg)
		return Outcome{StepNumber: stepNumber, Status: project.StatusFailed, Message: msg, Result: result},
			fmt.Errorf("orchestrator: %s", msg)
	}

	if result.Success {
		if err := o.machine.MarkComplete(stepNumber); err != nil {
			// The script did its work; only the bookkeeping failed. That
			// distinction matters to the caller, so keep it visible.
			return Outcome{StepNumber: stepNumber, Status: project.StatusInProgress, Result: result},
				fmt.Errorf("orchestrator: step %d succeeded but %v", stepNumber, err)
		}
		o.book.Step(logbook.LevelInfo, stepNumber, "%s completed", plan.Script)
		return Outcome{StepNumber: stepNumber, Status: project.StatusCompleted, Result: result}, nil
	}

	diagnostic := strings.TrimSpace(result.Stderr)
	if diagnostic == "" {
		diagnostic = fmt.Sprintf("%s exited with code %d and produced no error output", plan.Script, result.ExitCode)
	}
	diagnostic = o.recordFailure(stepNumber, diagnostic)
	return Outcome{StepNumber: stepNumber, Status: project.StatusFailed, Message: diagnostic, Result: result}, nil
}

// attachedTraining returns the training configuration bound to the project,
// attaching a validated snapshot of the loaded config on first use. Once a
// run has started against it, the attached copy is what every later step
// sees, even if .forge/config.yaml changes underneath.
func (o *Orchestrator) attachedTraining() (*config.Training, error) {
	proj := o.machine.Project()
	if proj.Config != nil {
		return proj.Config, nil
	}
	training := o.cfg.Training
	if err := o.machine.AttachConfig(&training); err != nil {
		return nil, err
	}
	return proj.Config, nil
}

// recordFailure marks the step failed, appending any persistence error to
// the diagnostic instead of losing either message.
func (o *Orchestrator) recordFailure(stepNumber int, diagnostic string) string {
	o.book.Step(logbook.LevelError, stepNumber, "%s", diagnostic)
	if err := o.machine.MarkFailed(stepNumber, diagnostic); err != nil {
		diagnostic = fmt.Sprintf("%s; additionally, recording the failure did not persist: %v", diagnostic, err)
		o.book.Step(logbook.LevelError, stepNumber, "state not persisted: %v", err)
	}
	return diagnostic
}

// CanRun reports whether the step's prerequisites are satisfied.
func (o *Orchestrator) CanRun(stepNumber int) error {
	return o.machine.CanRun(stepNumber)
}

// CanProgress reports whether the project can advance past its current step.
func (o *Orchestrator) CanProgress() bool {
	return o.machine.CanProgress()
}

// Progress advances the current step after a completed run.
func (o *Orchestrator) Progress() error {
	return o.machine.Progress()
}

// Retry resets a step for another run.
func (o *Orchestrator) Retry(stepNumber int) error {
	o.book.Step(logbook.LevelInfo, stepNumber, "reset for retry")
	return o.machine.Retry(stepNumber)
}

// Rerun resets a completed step so its script executes again.
func (o *Orchestrator) Rerun(stepNumber int) error {
	o.book.Step(logbook.LevelInfo, stepNumber, "reset for rerun")
	return o.machine.Rerun(stepNumber)
}

// IsCannotProgress reports whether err is the state machine's gate refusal.
func IsCannotProgress(err error) bool {
	return errors.Is(err, pipeline.ErrCannotProgress)
}

// IsStepNotReady reports whether err is the sequential-order refusal.
func IsStepNotReady(err error) bool {
	return errors.Is(err, pipeline.ErrStepNotReady)
}
