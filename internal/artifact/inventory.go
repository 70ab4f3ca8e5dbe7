// Package artifact inspects the filesystem artifacts the pipeline consumes
// and produces: user-supplied inputs, the generated dataset, trained model
// checkpoints, and the converted output. It only reads; the stage scripts
// are the ones that write.
package artifact

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"forge/internal/config"
)

// Category identifies an input artifact category.
type Category string

const (
	CategoryCode Category = "code"
	CategoryDocs Category = "docs"
)

// InputSummary counts the user-supplied training inputs per category.
type InputSummary struct {
	Code int
	Docs int
}

// Total returns the number of input artifacts across all categories.
func (s InputSummary) Total() int {
	return s.Code + s.Docs
}

// Inventory answers questions about a project's artifact directories.
type Inventory struct {
	cfg *config.Config
}

// NewInventory builds an inventory over the project's .forge tree.
func NewInventory(cfg *config.Config) *Inventory {
	return &Inventory{cfg: cfg}
}

// Inputs counts the files in the input categories. Hidden files (such as
// .DS_Store and .gitkeep) are ignored so an untouched layout counts as
// empty. A missing category directory counts as zero rather than an error;
// the layout provider owns directory creation.
func (i *Inventory) Inputs() (InputSummary, error) {
	code, err := countFiles(i.cfg.InputsCodeDir())
	if err != nil {
		return InputSummary{}, err
	}
	docs, err := countFiles(i.cfg.InputsDocsDir())
	if err != nil {
		return InputSummary{}, err
	}
	return InputSummary{Code: code, Docs: docs}, nil
}

// DatasetReady reports whether the generated dataset file exists and is
// non-empty.
func (i *Inventory) DatasetReady() bool {
	info, err := os.Stat(i.cfg.Training.DatasetPath)
	return err == nil && !info.IsDir() && info.Size() > 0
}

// ModelReady reports whether training has produced at least one checkpoint
// or adapter under the models directory.
func (i *Inventory) ModelReady() bool {
	return dirHasFiles(i.cfg.ModelsDir())
}

// OutputReady reports whether the converted model exists in the output
// directory.
func (i *Inventory) OutputReady() bool {
	return dirHasFiles(i.cfg.OutputDir())
}

func countFiles(dir string) (int, error) {
	count := 0
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if entry.IsDir() {
			if strings.HasPrefix(entry.Name(), ".") && path != dir {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(entry.Name(), ".") {
			return nil
		}
		count++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func dirHasFiles(dir string) bool {
	found := false
	_ = filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			found = true
			return fs.SkipAll
		}
		return nil
	})
	return found
}
