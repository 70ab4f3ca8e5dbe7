// internal/config/config.go
//
// This package handles configuration and the .forge directory structure.
// Every project that uses forge gets a .forge/ folder created in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// ForgeDir is the name of the directory we create in each project
	ForgeDir = ".forge"

	defaultModel = "Qwen/Qwen2.5-Coder-7B-Instruct"
)

const defaultTrainingYAML = `# forge training configuration
version: 1

# Hugging Face repo ID or local path of the base model to fine-tune.
model: Qwen/Qwen2.5-Coder-7B-Instruct

learning_rate: 1.0e-5
batch_size: 4
epochs: 3

# Paths are relative to the project root unless absolute.
dataset_path: .forge/dataset/train.jsonl
output_path: .forge/output
`

// Training models .forge/config.yaml. It is the single source of truth for
// the flags passed to every stage script.
type Training struct {
	Version      int     `yaml:"version"`
	Model        string  `yaml:"model"`
	LearningRate float64 `yaml:"learning_rate"`
	BatchSize    int     `yaml:"batch_size"`
	Epochs       int     `yaml:"epochs"`
	DatasetPath  string  `yaml:"dataset_path"`
	OutputPath   string  `yaml:"output_path"`
}

// Config holds the runtime configuration for forge.
type Config struct {
	// ProjectDir is the directory where the user ran `forge` from
	ProjectDir string

	// ForgeRoot is where the forge installation lives. This is where the
	// bundled pipeline scripts are stored.
	ForgeRoot string

	// ForgeProjectDir is ProjectDir/.forge
	ForgeProjectDir string

	Training Training
}

// InitForgeDir creates the .forge directory structure in the given project
// directory. This is called when the TUI starts up.
//
// Structure created:
// .forge/
// ├── inputs/
// │   ├── code/     <- Code examples the user supplies for training
// │   └── docs/     <- Documentation/text inputs
// ├── dataset/      <- Generated training dataset
// ├── models/       <- Checkpoints and adapters produced by training
// ├── output/       <- Converted/exported model
// └── logs/         <- Orchestration and run logs
func InitForgeDir(projectDir string) error {
	forgeDir := filepath.Join(projectDir, ForgeDir)

	dirs := []string{
		filepath.Join(forgeDir, "inputs", "code"),
		filepath.Join(forgeDir, "inputs", "docs"),
		filepath.Join(forgeDir, "dataset"),
		filepath.Join(forgeDir, "models"),
		filepath.Join(forgeDir, "output"),
		filepath.Join(forgeDir, "logs"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return ensureTrainingConfig(filepath.Join(forgeDir, "config.yaml"))
}

// NewConfig creates a new Config instance populated with project settings.
func NewConfig(projectDir string) (*Config, error) {
	// FORGE_ROOT must be set to the directory containing the forge
	// installation. This is where the bundled scripts/ directory lives.
	forgeRoot := os.Getenv("FORGE_ROOT")
	if forgeRoot == "" {
		return nil, fmt.Errorf("FORGE_ROOT environment variable is not set; see README.md for setup instructions")
	}

	cfg := &Config{
		ProjectDir:      projectDir,
		ForgeRoot:       forgeRoot,
		ForgeProjectDir: filepath.Join(projectDir, ForgeDir),
		Training:        defaultTraining(),
	}

	if err := cfg.loadTraining(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ScriptsDir returns the directory holding the bundled pipeline scripts.
func (c *Config) ScriptsDir() string {
	return filepath.Join(c.ForgeRoot, "scripts")
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.ForgeProjectDir, "logs")
}

// InputsCodeDir returns the directory for user-supplied code examples.
func (c *Config) InputsCodeDir() string {
	return filepath.Join(c.ForgeProjectDir, "inputs", "code")
}

// InputsDocsDir returns the directory for user-supplied documentation inputs.
func (c *Config) InputsDocsDir() string {
	return filepath.Join(c.ForgeProjectDir, "inputs", "docs")
}

// DatasetDir returns the directory where the generated dataset is written.
func (c *Config) DatasetDir() string {
	return filepath.Join(c.ForgeProjectDir, "dataset")
}

// ModelsDir returns the directory holding checkpoints and adapters.
func (c *Config) ModelsDir() string {
	return filepath.Join(c.ForgeProjectDir, "models")
}

// OutputDir returns the directory for the converted/exported model.
func (c *Config) OutputDir() string {
	return filepath.Join(c.ForgeProjectDir, "output")
}

// ProjectStatePath returns the on-disk location of the durable project state.
func (c *Config) ProjectStatePath() string {
	return filepath.Join(c.ForgeProjectDir, "project.json")
}

// TrainingConfigPath returns the on-disk location for the training config file.
func (c *Config) TrainingConfigPath() string {
	return filepath.Join(c.ForgeProjectDir, "config.yaml")
}

// SaveTraining validates the training configuration and persists it back to
// .forge/config.yaml.
func (c *Config) SaveTraining() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.Training.applyDefaults()
	c.Training.normalize(c.ProjectDir)
	if err := c.Training.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.ForgeProjectDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure forge dir: %w", err)
	}
	data, err := yaml.Marshal(c.Training)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.TrainingConfigPath(), data, 0644); err != nil {
		return fmt.Errorf("config: write training config: %w", err)
	}
	return nil
}

func (c *Config) loadTraining() error {
	path := c.TrainingConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed Training
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize(c.ProjectDir)
	if err := parsed.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Training = parsed
	return nil
}

func defaultTraining() Training {
	return Training{
		Version:      1,
		Model:        defaultModel,
		LearningRate: 1e-5,
		BatchSize:    4,
		Epochs:       3,
	}
}

func (t *Training) applyDefaults() {
	if t.Version == 0 {
		t.Version = 1
	}
	if strings.TrimSpace(t.Model) == "" {
		t.Model = defaultModel
	}
	if t.LearningRate == 0 {
		t.LearningRate = 1e-5
	}
	if t.BatchSize == 0 {
		t.BatchSize = 4
	}
	if t.Epochs == 0 {
		t.Epochs = 3
	}
}

func (t *Training) normalize(base string) {
	t.Model = strings.TrimSpace(t.Model)
	t.DatasetPath = resolvePath(base, t.DatasetPath)
	t.OutputPath = resolvePath(base, t.OutputPath)
	if t.DatasetPath == "" {
		t.DatasetPath = filepath.Join(base, ForgeDir, "dataset", "train.jsonl")
	}
	if t.OutputPath == "" {
		t.OutputPath = filepath.Join(base, ForgeDir, "output")
	}
}

// Validate checks the training configuration before it is attached to a
// project. Stage scripts receive these values verbatim, so bad values are
// rejected here rather than surfacing as opaque script failures.
func (t Training) Validate() error {
	if t.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if t.Model == "" {
		return fmt.Errorf("model is required")
	}
	if strings.Contains(t.Model, ":") {
		return fmt.Errorf("model %q looks like an Ollama tag; use a Hugging Face repo ID or a local path", t.Model)
	}
	if t.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be > 0")
	}
	if t.BatchSize < 1 {
		return fmt.Errorf("batch_size must be >= 1")
	}
	if t.Epochs < 1 {
		return fmt.Errorf("epochs must be >= 1")
	}
	if t.DatasetPath == "" {
		return fmt.Errorf("dataset_path is required")
	}
	if t.OutputPath == "" {
		return fmt.Errorf("output_path is required")
	}
	return nil
}

func ensureTrainingConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultTrainingYAML), 0644)
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}
