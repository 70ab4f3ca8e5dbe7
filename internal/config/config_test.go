package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitForgeDirCreatesLayout(t *testing.T) {
	dir := t.TempDir()
	if err := InitForgeDir(dir); err != nil {
		t.Fatalf("init forge dir: %v", err)
	}
	expected := []string{
		filepath.Join(dir, ForgeDir, "inputs", "code"),
		filepath.Join(dir, ForgeDir, "inputs", "docs"),
		filepath.Join(dir, ForgeDir, "dataset"),
		filepath.Join(dir, ForgeDir, "models"),
		filepath.Join(dir, ForgeDir, "output"),
		filepath.Join(dir, ForgeDir, "logs"),
	}
	for _, path := range expected {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("expected directory %s: %v", path, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %s to be a directory", path)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, ForgeDir, "config.yaml")); err != nil {
		t.Fatalf("expected default config.yaml: %v", err)
	}
}

func TestInitForgeDirKeepsExistingConfig(t *testing.T) {
	dir := t.TempDir()
	if err := InitForgeDir(dir); err != nil {
		t.Fatalf("init forge dir: %v", err)
	}
	custom := "version: 1\nmodel: my/model\n"
	path := filepath.Join(dir, ForgeDir, "config.yaml")
	if err := os.WriteFile(path, []byte(custom), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := InitForgeDir(dir); err != nil {
		t.Fatalf("re-init forge dir: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if string(data) != custom {
		t.Fatalf("expected existing config to survive re-init")
	}
}

func TestNewConfigRequiresForgeRoot(t *testing.T) {
	t.Setenv("FORGE_ROOT", "")
	if _, err := NewConfig(t.TempDir()); err == nil {
		t.Fatalf("expected error when FORGE_ROOT is unset")
	}
}

func TestNewConfigLoadsTraining(t *testing.T) {
	root := t.TempDir()
	dir := t.TempDir()
	t.Setenv("FORGE_ROOT", root)
	if err := InitForgeDir(dir); err != nil {
		t.Fatalf("init forge dir: %v", err)
	}
	payload := strings.Join([]string{
		"version: 1",
		"model: my-org/my-model",
		"learning_rate: 2.0e-5",
		"batch_size: 8",
		"epochs: 2",
		"dataset_path: data/train.jsonl",
		"output_path: out",
	}, "\n")
	if err := os.WriteFile(filepath.Join(dir, ForgeDir, "config.yaml"), []byte(payload), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := NewConfig(dir)
	if err != nil {
		t.Fatalf("new config: %v", err)
	}
	if cfg.Training.Model != "my-org/my-model" {
		t.Fatalf("unexpected model: %s", cfg.Training.Model)
	}
	if cfg.Training.BatchSize != 8 || cfg.Training.Epochs != 2 {
		t.Fatalf("unexpected hyperparameters: %+v", cfg.Training)
	}
	want := filepath.Join(dir, "data", "train.jsonl")
	if cfg.Training.DatasetPath != want {
		t.Fatalf("expected dataset path %s, got %s", want, cfg.Training.DatasetPath)
	}
	if cfg.ScriptsDir() != filepath.Join(root, "scripts") {
		t.Fatalf("unexpected scripts dir: %s", cfg.ScriptsDir())
	}
}

func TestTrainingValidate(t *testing.T) {
	base := defaultTraining()
	base.DatasetPath = "/tmp/train.jsonl"
	base.OutputPath = "/tmp/out"
	if err := base.Validate(); err != nil {
		t.Fatalf("expected valid defaults: %v", err)
	}

	ollama := base
	ollama.Model = "qwen2.5-coder:7b"
	if err := ollama.Validate(); err == nil {
		t.Fatalf("expected Ollama-style model tag to be rejected")
	}

	badRate := base
	badRate.LearningRate = -1
	if err := badRate.Validate(); err == nil {
		t.Fatalf("expected negative learning rate to be rejected")
	}

	badBatch := base
	badBatch.BatchSize = 0
	badBatch.Epochs = 0
	badBatch.applyDefaults()
	if badBatch.BatchSize != 4 || badBatch.Epochs != 3 {
		t.Fatalf("expected defaults to fill zero values, got %+v", badBatch)
	}
}
