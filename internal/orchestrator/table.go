package orchestrator

import (
	"fmt"
	"strconv"

	"forge/internal/config"
	"forge/internal/project"
)

// stepPlan binds a step number to its script identity and argument builder.
// The table below is the single place that mapping lives; callers resolve a
// plan once per run instead of re-deriving it per call site.
type stepPlan struct {
	// Script is the file name under the bundled scripts directory.
	Script string
	// Args builds the command line from the project's attached training
	// configuration and the layout's step-specific paths.
	Args func(cfg *config.Config, training *config.Training) []string
	// NeedsInputs marks the step whose pre-check requires at least one
	// user-supplied input artifact.
	NeedsInputs bool
}

var stepPlans = map[int]stepPlan{
	project.StepPrepareInputs: {
		Script:      "prepare_inputs.py",
		NeedsInputs: true,
		Args: func(cfg *config.Config, _ *config.Training) []string {
			return []string{
				"--code-dir", cfg.InputsCodeDir(),
				"--docs-dir", cfg.InputsDocsDir(),
			}
		},
	},
	project.StepGenerateDataset: {
		Script: "generate_dataset.py",
		Args: func(cfg *config.Config, training *config.Training) []string {
			return []string{
				"--code-dir", cfg.InputsCodeDir(),
				"--docs-dir", cfg.InputsDocsDir(),
				"--output", training.DatasetPath,
			}
		},
	},
	project.StepConfigure: {
		Script: "setup_env.py",
		Args: func(_ *config.Config, training *config.Training) []string {
			return []string{"--model", training.Model}
		},
	},
	project.StepTrain: {
		Script: "run_finetuning.py",
		Args: func(cfg *config.Config, training *config.Training) []string {
			return []string{
				"--model", training.Model,
				"--learning-rate", strconv.FormatFloat(training.LearningRate, 'g', -1, 64),
				"--batch-size", strconv.Itoa(training.BatchSize),
				"--epochs", strconv.Itoa(training.Epochs),
				"--dataset", training.DatasetPath,
				"--output", cfg.ModelsDir(),
			}
		},
	},
	project.StepEvaluate: {
		Script: "evaluate_model.py",
		Args: func(cfg *config.Config, training *config.Training) []string {
			return []string{
				"--model", training.Model,
				"--adapters", cfg.ModelsDir(),
				"--dataset", training.DatasetPath,
			}
		},
	},
	project.StepConvert: {
		Script: "convert_model.py",
		Args: func(cfg *config.Config, training *config.Training) []string {
			return []string{
				"--model", training.Model,
				"--adapters", cfg.ModelsDir(),
				"--output", training.OutputPath,
			}
		},
	},
}

// planFor resolves the plan for a step number.
func planFor(stepNumber int) (stepPlan, error) {
	plan, ok := stepPlans[stepNumber]
	if !ok {
		return stepPlan{}, fmt.Errorf("orchestrator: no script mapped to step %d", stepNumber)
	}
	return plan, nil
}
