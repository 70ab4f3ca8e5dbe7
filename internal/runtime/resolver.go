// Package runtime locates the Python interpreter used to run the pipeline
// stage scripts. Projects usually carry their own virtualenv; the resolver
// prefers the closest isolated environment and only falls back to a system
// interpreter when no venv can be found.
package runtime

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// venvSearchDepth bounds the upward walk when looking for a virtualenv near
// a script or installation directory.
const venvSearchDepth = 3

// venvDirNames are the conventional virtualenv directory names, in
// preference order.
var venvDirNames = []string{".venv", "venv", "env"}

// systemPythonPaths are well-known package-manager install locations,
// checked after every venv candidate has missed.
var systemPythonPaths = []string{
	"/opt/homebrew/bin/python3",
	"/usr/local/bin/python3",
	"/usr/bin/python3",
}

// fallbackPython is resolved through PATH by the OS when nothing else matched.
const fallbackPython = "python3"

// Resolver finds the most appropriate Python interpreter for a script.
// It only reads the filesystem; resolution has no side effects.
type Resolver struct {
	// ScriptsDir is the packaged-resource location holding the bundled
	// stage scripts. May be empty.
	ScriptsDir string

	executable func() (string, error)
	getwd      func() (string, error)
}

// NewResolver builds a resolver aware of the bundled scripts location.
func NewResolver(scriptsDir string) *Resolver {
	return &Resolver{
		ScriptsDir: scriptsDir,
		executable: os.Executable,
		getwd:      os.Getwd,
	}
}

// Python returns the interpreter path for a script. Both arguments are
// optional hints. The search order is deterministic, first match wins:
//
//  1. a virtualenv directly inside workDir
//  2. a virtualenv found walking up from the script's directory
//  3. a virtualenv found walking up from the forge executable
//  4. a virtualenv directly inside the process working directory
//  5. a virtualenv found walking up from the bundled scripts directory
//  6. well-known system install locations
//  7. "python3" resolved through PATH
func (r *Resolver) Python(workDir, scriptPath string) string {
	if workDir != "" {
		if python := venvPythonIn(workDir); python != "" {
			return python
		}
	}
	if scriptPath != "" {
		if python := findVenvUpward(filepath.Dir(scriptPath), venvSearchDepth); python != "" {
			return python
		}
	}
	if exe, err := r.executable(); err == nil {
		if python := findVenvUpward(filepath.Dir(exe), venvSearchDepth); python != "" {
			return python
		}
	}
	if cwd, err := r.getwd(); err == nil {
		if python := venvPythonIn(cwd); python != "" {
			return python
		}
	}
	if r.ScriptsDir != "" {
		if python := findVenvUpward(r.ScriptsDir, venvSearchDepth); python != "" {
			return python
		}
	}
	for _, path := range systemPythonPaths {
		if isExecutableFile(path) {
			return path
		}
	}
	return fallbackPython
}

// Verify runs the interpreter with --version to confirm it is reachable.
// Called at startup so a broken installation fails before the first step run.
func (r *Resolver) Verify(ctx context.Context, python string) error {
	cmd := exec.CommandContext(ctx, python, "--version")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("runtime: %s --version failed: %v (output: %s); install Python 3.9+ or create a project virtualenv", python, err, string(out))
	}
	return nil
}

// IsVenvPython reports whether the interpreter belongs to a virtualenv,
// i.e. its environment directory carries a pyvenv.cfg.
func IsVenvPython(python string) bool {
	return venvRoot(python) != ""
}

// VenvRoot returns the virtualenv directory an interpreter belongs to, or
// "" when it is a system interpreter.
func VenvRoot(python string) string {
	return venvRoot(python)
}

func venvRoot(python string) string {
	// <venv>/bin/python3 -> <venv>
	binDir := filepath.Dir(python)
	if filepath.Base(binDir) != "bin" {
		return ""
	}
	root := filepath.Dir(binDir)
	if _, err := os.Stat(filepath.Join(root, "pyvenv.cfg")); err != nil {
		return ""
	}
	return root
}

// venvPythonIn checks dir for a conventional virtualenv and returns its
// interpreter path if present.
func venvPythonIn(dir string) string {
	for _, name := range venvDirNames {
		candidate := filepath.Join(dir, name, "bin", "python3")
		if !isExecutableFile(candidate) {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, name, "pyvenv.cfg")); err != nil {
			continue
		}
		return candidate
	}
	return ""
}

// findVenvUpward walks at most maxLevels directories upward from start,
// returning the first virtualenv interpreter it finds.
func findVenvUpward(start string, maxLevels int) string {
	dir := filepath.Clean(start)
	for level := 0; level <= maxLevels; level++ {
		if python := venvPythonIn(dir); python != "" {
			return python
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
