// Package project defines the durable data model for a fine-tuning project:
// the project aggregate, its six fixed pipeline steps, and the attached
// training configuration.
package project

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"forge/internal/config"
)

// StepCount is the fixed number of pipeline stages.
const StepCount = 6

// Well-known step numbers. The pipeline is linear; these never change order.
const (
	StepPrepareInputs   = 1
	StepGenerateDataset = 2
	StepConfigure       = 3
	StepTrain           = 4
	StepEvaluate        = 5
	StepConvert         = 6
)

// StepStatus enumerates the lifecycle of a single pipeline step.
type StepStatus string

const (
	StatusPending    StepStatus = "pending"
	StatusInProgress StepStatus = "in_progress"
	StatusCompleted  StepStatus = "completed"
	StatusFailed     StepStatus = "failed"
)

// Terminal reports whether the status is a run outcome rather than a
// transient state.
func (s StepStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Step is one stage of the pipeline. Steps are created once from the fixed
// template and only their status fields mutate afterwards.
type Step struct {
	Number       int        `json:"number"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Status       StepStatus `json:"status"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// Project is the aggregate root persisted to .forge/project.json.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Dir  string `json:"dir"`
	// CurrentStep is the zero-based index into Steps of the stage the user
	// is working on. Always in [0, StepCount).
	CurrentStep int              `json:"current_step"`
	Steps       []Step           `json:"steps"`
	Config      *config.Training `json:"config,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// stepTemplate is the fixed six-stage pipeline every project starts with.
var stepTemplate = []Step{
	{Number: StepPrepareInputs, Title: "Prepare Inputs", Description: "Collect code examples and docs into the inputs folders"},
	{Number: StepGenerateDataset, Title: "Generate Dataset", Description: "Build the training dataset from the prepared inputs"},
	{Number: StepConfigure, Title: "Configure Environment", Description: "Verify and install the training dependencies"},
	{Number: StepTrain, Title: "Train", Description: "Run LoRA fine-tuning against the base model"},
	{Number: StepEvaluate, Title: "Evaluate", Description: "Run the evaluation suite against the tuned adapter"},
	{Number: StepConvert, Title: "Convert & Deploy", Description: "Fuse and export the tuned model for serving"},
}

// New creates a project rooted at dir with the full step template pending.
func New(name, dir string) *Project {
	now := time.Now().UTC()
	steps := make([]Step, len(stepTemplate))
	copy(steps, stepTemplate)
	for i := range steps {
		steps[i].Status = StatusPending
	}
	return &Project{
		ID:        uuid.NewString(),
		Name:      name,
		Dir:       dir,
		Steps:     steps,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Step returns a pointer to the step with the given 1-based number.
func (p *Project) Step(number int) (*Step, error) {
	for i := range p.Steps {
		if p.Steps[i].Number == number {
			return &p.Steps[i], nil
		}
	}
	return nil, fmt.Errorf("project: no step %d", number)
}

// Current returns the step the project is positioned on.
func (p *Project) Current() *Step {
	if p.CurrentStep < 0 || p.CurrentStep >= len(p.Steps) {
		return nil
	}
	return &p.Steps[p.CurrentStep]
}

// Validate enforces the aggregate invariants: exactly six steps, contiguous
// 1..6 numbering, and a current index inside the step range.
func (p *Project) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("project: id is required")
	}
	if p.Dir == "" {
		return fmt.Errorf("project: dir is required")
	}
	if len(p.Steps) != StepCount {
		return fmt.Errorf("project: expected %d steps, found %d", StepCount, len(p.Steps))
	}
	for i, step := range p.Steps {
		if step.Number != i+1 {
			return fmt.Errorf("project: step %d has number %d", i+1, step.Number)
		}
		switch step.Status {
		case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		default:
			return fmt.Errorf("project: step %d has unknown status %q", step.Number, step.Status)
		}
	}
	if p.CurrentStep < 0 || p.CurrentStep >= StepCount {
		return fmt.Errorf("project: current step index %d out of range", p.CurrentStep)
	}
	if p.Config != nil {
		if err := p.Config.Validate(); err != nil {
			return fmt.Errorf("project: config: %w", err)
		}
	}
	return nil
}
