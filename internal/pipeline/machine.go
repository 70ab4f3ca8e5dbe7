// Package pipeline holds the step state machine for a project's six-stage
// fine-tuning pipeline. Every transition is written through the project
// store before it is considered applied, so in-memory and durable state
// cannot drift apart.
package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"forge/internal/config"
	"forge/internal/project"
)

// ErrCannotProgress is returned by Progress when the current step is not
// completed, or the pipeline is already on its final step.
var ErrCannotProgress = errors.New("pipeline: cannot progress")

// ErrStepNotReady is returned by CanRun when an earlier step has not
// completed yet. Steps run strictly in order.
var ErrStepNotReady = errors.New("pipeline: step not ready")

// Machine mutates a project's steps and persists each transition.
// It is the only component allowed to change step status fields.
// Transitions run under the machine's lock; concurrent readers (the TUI's
// render loop) take Snapshot instead of touching the live aggregate.
type Machine struct {
	mu    sync.Mutex
	proj  *project.Project
	store project.Store
	clock func() time.Time
}

// Option customizes the machine instance.
type Option func(*Machine)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(m *Machine) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// New wires a state machine to a project and its persistence store.
func New(proj *project.Project, store project.Store, opts ...Option) (*Machine, error) {
	if proj == nil {
		return nil, fmt.Errorf("pipeline: project is required")
	}
	if store == nil {
		return nil, fmt.Errorf("pipeline: project store is required")
	}
	m := &Machine{proj: proj, store: store, clock: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Project returns the aggregate the machine operates on. Callers on the
// execution path may read it directly; anything rendering concurrently with
// a run must use Snapshot.
func (m *Machine) Project() *project.Project {
	return m.proj
}

// Snapshot returns a copy of the project that is safe to read while a
// transition is in flight on another goroutine.
func (m *Machine) Snapshot() project.Project {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := *m.proj
	snap.Steps = append([]project.Step(nil), m.proj.Steps...)
	if m.proj.Config != nil {
		cfg := *m.proj.Config
		snap.Config = &cfg
	}
	return snap
}

// CanRun reports whether stepNumber may execute now: every earlier step
// must be completed. The step itself may be in any state, so completed
// steps can be rerun and failed ones retried.
func (m *Machine) CanRun(stepNumber int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.proj.Step(stepNumber); err != nil {
		return err
	}
	for i := range m.proj.Steps {
		step := m.proj.Steps[i]
		if step.Number >= stepNumber {
			break
		}
		if step.Status != project.StatusCompleted {
			return fmt.Errorf("%w: step %d (%s) is %s; steps run in order", ErrStepNotReady, step.Number, step.Title, step.Status)
		}
	}
	return nil
}

// MarkInProgress flags a step as running. Called by the orchestrator right
// before the stage script is spawned.
func (m *Machine) MarkInProgress(stepNumber int) error {
	return m.transition(stepNumber, func(step *project.Step) {
		step.Status = project.StatusInProgress
		step.CompletedAt = nil
		step.ErrorMessage = ""
	})
}

// MarkComplete records a successful run: status completed, completion time
// stamped, any previous error cleared.
func (m *Machine) MarkComplete(stepNumber int) error {
	now := m.clock().UTC()
	return m.transition(stepNumber, func(step *project.Step) {
		step.Status = project.StatusCompleted
		step.CompletedAt = &now
		step.ErrorMessage = ""
	})
}

// MarkFailed records a failed run with its diagnostic.
func (m *Machine) MarkFailed(stepNumber int, reason string) error {
	return m.transition(stepNumber, func(step *project.Step) {
		step.Status = project.StatusFailed
		step.CompletedAt = nil
		step.ErrorMessage = reason
	})
}

// Retry resets a step to pending and clears its error, regardless of the
// step's prior status. Re-running an already completed step goes through
// the same reset; forge leaves previously generated artifacts in place and
// lets the stage script overwrite them.
func (m *Machine) Retry(stepNumber int) error {
	return m.transition(stepNumber, func(step *project.Step) {
		step.Status = project.StatusPending
		step.CompletedAt = nil
		step.ErrorMessage = ""
	})
}

// Rerun resets an already completed step so its script runs again. The
// reset is the same as Retry; previously generated artifacts stay on disk
// until the script overwrites them.
func (m *Machine) Rerun(stepNumber int) error {
	m.mu.Lock()
	step, err := m.proj.Step(stepNumber)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	status := step.Status
	m.mu.Unlock()
	if status != project.StatusCompleted {
		return fmt.Errorf("pipeline: step %d is %s; only completed steps can be rerun", stepNumber, status)
	}
	return m.Retry(stepNumber)
}

// AttachConfig binds a validated training configuration to the project and
// persists it. The configuration is immutable once attached: later edits to
// the on-disk YAML only take effect on a fresh project.
func (m *Machine) AttachConfig(training *config.Training) error {
	if training == nil {
		return fmt.Errorf("pipeline: training config is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.proj.Config != nil {
		return fmt.Errorf("pipeline: training config already attached")
	}
	if err := training.Validate(); err != nil {
		return fmt.Errorf("pipeline: training config: %w", err)
	}
	m.proj.Config = training
	prevUpdated := m.proj.UpdatedAt
	m.proj.UpdatedAt = m.clock().UTC()
	if err := m.store.Save(m.proj); err != nil {
		m.proj.Config = nil
		m.proj.UpdatedAt = prevUpdated
		return fmt.Errorf("pipeline: persist config attachment: %w", err)
	}
	return nil
}

// CanProgress reports whether the current step is completed and there is a
// later step to move to.
func (m *Machine) CanProgress() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.proj.Current()
	if current == nil {
		return false
	}
	return current.Status == project.StatusCompleted && m.proj.CurrentStep < project.StepCount-1
}

// Progress advances the current-step index by one. The prerequisite gate:
// a step beyond the first is never reachable until every earlier step has
// completed. On failure the index is left untouched.
func (m *Machine) Progress() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.proj.Current()
	if current == nil {
		return fmt.Errorf("%w: current step index %d out of range", ErrCannotProgress, m.proj.CurrentStep)
	}
	if current.Status != project.StatusCompleted {
		return fmt.Errorf("%w: step %d (%s) is %s, not completed", ErrCannotProgress, current.Number, current.Title, current.Status)
	}
	if m.proj.CurrentStep >= project.StepCount-1 {
		return fmt.Errorf("%w: step %d is the final step", ErrCannotProgress, current.Number)
	}
	prev := m.proj.CurrentStep
	m.proj.CurrentStep++
	m.proj.UpdatedAt = m.clock().UTC()
	if err := m.store.Save(m.proj); err != nil {
		m.proj.CurrentStep = prev
		return fmt.Errorf("pipeline: persist progress: %w", err)
	}
	return nil
}

// transition applies mutate to the addressed step and persists the result.
// If the store rejects the write, the in-memory step is rolled back so the
// two views stay consistent, and the persistence error is surfaced.
func (m *Machine) transition(stepNumber int, mutate func(*project.Step)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	step, err := m.proj.Step(stepNumber)
	if err != nil {
		return err
	}
	snapshot := *step
	prevUpdated := m.proj.UpdatedAt
	mutate(step)
	m.proj.UpdatedAt = m.clock().UTC()
	if err := m.store.Save(m.proj); err != nil {
		*step = snapshot
		m.proj.UpdatedAt = prevUpdated
		return fmt.Errorf("pipeline: step %d transition not persisted: %w", stepNumber, err)
	}
	return nil
}
