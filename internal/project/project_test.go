package project

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"forge/internal/config"
)

func TestNewProjectHasFixedSteps(t *testing.T) {
	proj := New("demo", "/tmp/demo")
	if len(proj.Steps) != StepCount {
		t.Fatalf("expected %d steps, got %d", StepCount, len(proj.Steps))
	}
	for i, step := range proj.Steps {
		if step.Number != i+1 {
			t.Fatalf("step %d has number %d", i, step.Number)
		}
		if step.Status != StatusPending {
			t.Fatalf("step %d starts as %s, want pending", step.Number, step.Status)
		}
	}
	if proj.CurrentStep != 0 {
		t.Fatalf("new project should start at index 0, got %d", proj.CurrentStep)
	}
	if proj.ID == "" {
		t.Fatalf("expected generated project id")
	}
	if err := proj.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejectsBrokenAggregates(t *testing.T) {
	proj := New("demo", "/tmp/demo")
	proj.Steps[2].Number = 9
	if err := proj.Validate(); err == nil {
		t.Fatalf("expected non-contiguous step numbers to be rejected")
	}

	proj = New("demo", "/tmp/demo")
	proj.CurrentStep = StepCount
	if err := proj.Validate(); err == nil {
		t.Fatalf("expected out-of-range current step to be rejected")
	}

	proj = New("demo", "/tmp/demo")
	proj.Steps = proj.Steps[:4]
	if err := proj.Validate(); err == nil {
		t.Fatalf("expected short step list to be rejected")
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, ".forge", "project.json"))

	if _, err := store.Load(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	proj := New("demo", dir)
	now := time.Now().UTC()
	proj.Steps[0].Status = StatusCompleted
	proj.Steps[0].CompletedAt = &now
	proj.Config = &config.Training{
		Version:      1,
		Model:        "my-org/my-model",
		LearningRate: 1e-5,
		BatchSize:    4,
		Epochs:       1,
		DatasetPath:  filepath.Join(dir, "train.jsonl"),
		OutputPath:   filepath.Join(dir, "out"),
	}
	if err := store.Save(proj); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.ID != proj.ID {
		t.Fatalf("id mismatch: %s vs %s", loaded.ID, proj.ID)
	}
	if loaded.Steps[0].Status != StatusCompleted || loaded.Steps[0].CompletedAt == nil {
		t.Fatalf("step 1 state lost: %+v", loaded.Steps[0])
	}
	if loaded.Config == nil || loaded.Config.Model != "my-org/my-model" {
		t.Fatalf("config lost: %+v", loaded.Config)
	}
}

func TestSaveRefusesInvalidProject(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "project.json")
	store := NewFileStore(path)
	proj := New("demo", dir)
	proj.Steps[0].Status = "exploded"
	if err := store.Save(proj); err == nil {
		t.Fatalf("expected invalid status to fail validation")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("invalid save must not touch disk")
	}
}

func TestLoadOrCreatePersistsFreshProject(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "project.json"))
	created, err := LoadOrCreate(store, "demo", dir)
	if err != nil {
		t.Fatalf("load or create: %v", err)
	}
	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.ID != created.ID {
		t.Fatalf("expected created project to be persisted")
	}
}
