// Package script spawns the external pipeline stage executables, streams
// their output while they run, and supports best-effort cancellation. The
// runner owns the one active process handle; nothing else signals the OS
// process directly.
package script

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"forge/internal/logging"
	"forge/internal/runtime"
)

// terminateGrace is how long a cancelled process gets between SIGTERM and
// the runtime forcing a kill.
const terminateGrace = 5 * time.Second

// wellKnownPathDirs are prepended to the child's PATH so scripts can find
// common tooling regardless of how forge itself was launched.
var wellKnownPathDirs = []string{
	"/opt/homebrew/bin",
	"/usr/local/bin",
	"/usr/bin",
	"/bin",
}

// Channel identifies which output stream a chunk arrived on.
type Channel string

const (
	ChannelStdout Channel = "stdout"
	ChannelStderr Channel = "stderr"
)

// OutputFunc receives output chunks as they arrive. Chunks from one channel
// arrive in producer order; interleaving between the two channels is
// unspecified. The callback runs on the runner's reader goroutines, so it
// must not block for long.
type OutputFunc func(channel Channel, chunk []byte)

// Result is the outcome of one script invocation. It is transient; only
// its summary gets folded into the durable step state.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Success  bool
}

// SpawnError marks failures to start the process at all (interpreter or
// script missing, permission denied). Distinct from a script that ran and
// exited non-zero, which is reported through Result alone.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("script: failed to start %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Invocation describes one script run.
type Invocation struct {
	// Path to the executable or script.
	Path string
	Args []string
	// Dir is the working directory, normally the project root.
	Dir string
	// OnOutput, when set, receives streamed output chunks.
	OnOutput OutputFunc
}

// Runner executes one script at a time.
type Runner struct {
	resolver *runtime.Resolver
	log      *logging.Logger

	mu     sync.Mutex
	active *os.Process
}

// NewRunner wires a runner to the interpreter resolver and logger.
func NewRunner(resolver *runtime.Resolver, log *logging.Logger) *Runner {
	return &Runner{resolver: resolver, log: log}
}

// Busy reports whether a process is currently active.
func (r *Runner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// VerifyRuntime confirms the interpreter that would run scripts from
// workDir is actually reachable. Used at startup to fail fast.
func (r *Runner) VerifyRuntime(ctx context.Context, workDir string) error {
	python := r.resolver.Python(workDir, "")
	return r.resolver.Verify(ctx, python)
}

// Execute runs one script to completion, streaming output along the way.
//
// A non-zero exit is not an error: it comes back as Result.Success == false
// with the captured stderr. The returned error is reserved for spawn/IO
// failures (*SpawnError) and for a second Execute while one is active.
func (r *Runner) Execute(ctx context.Context, inv Invocation) (Result, error) {
	argv, python := r.command(inv)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = inv.Dir
	cmd.Env = childEnv(python)
	// Context cancellation asks the script to stop; the wait delay forces a
	// kill if it ignores the request.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = terminateGrace

	// The busy check comes before the pipes exist, so a rejected call
	// leaves no descriptors behind. Start failures close the parent ends
	// of both pipes inside os/exec.
	r.mu.Lock()
	if r.active != nil {
		r.mu.Unlock()
		return Result{ExitCode: -1}, fmt.Errorf("script: another execution is already active")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		r.mu.Unlock()
		return Result{ExitCode: -1}, &SpawnError{Path: inv.Path, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		r.mu.Unlock()
		return Result{ExitCode: -1}, &SpawnError{Path: inv.Path, Err: err}
	}
	if err := cmd.Start(); err != nil {
		r.mu.Unlock()
		return Result{ExitCode: -1}, &SpawnError{Path: inv.Path, Err: err}
	}
	r.active = cmd.Process
	r.mu.Unlock()

	r.log.Printf("script: started %s (pid %d)", inv.Path, cmd.Process.Pid)

	var outBuf, errBuf bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		drain(stdout, ChannelStdout, &outBuf, inv.OnOutput)
	}()
	go func() {
		defer wg.Done()
		drain(stderr, ChannelStderr, &errBuf, inv.OnOutput)
	}()
	wg.Wait()

	waitErr := cmd.Wait()

	r.mu.Lock()
	r.active = nil
	r.mu.Unlock()

	result := Result{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   outBuf.String(),
		Stderr:   errBuf.String(),
	}
	result.Success = result.ExitCode == 0

	if waitErr != nil && result.ExitCode < 0 {
		// Killed by signal or an IO failure after start; surface the exit
		// code we have and let the caller treat it as a failed run.
		r.log.Printf("script: %s ended abnormally: %v", inv.Path, waitErr)
	}
	r.log.Printf("script: finished %s (exit %d)", inv.Path, result.ExitCode)
	return result, nil
}

// Cancel asks the active process to terminate. Safe to call when nothing is
// running, and safe to call repeatedly; it does not wait for the process to
// exit, so output already in flight is still delivered to the caller.
func (r *Runner) Cancel() {
	r.mu.Lock()
	proc := r.active
	r.mu.Unlock()
	if proc == nil {
		return
	}
	r.log.Printf("script: cancelling pid %d", proc.Pid)
	// Ignore errors: the process may have exited between the check and the
	// signal, which is exactly the no-op the caller wants.
	_ = proc.Signal(syscall.SIGTERM)
}

// command maps an invocation to the argv actually spawned. Python scripts
// run under the resolved interpreter, shell scripts under sh, and anything
// else is invoked directly. The second return is the interpreter path when
// one was resolved.
func (r *Runner) command(inv Invocation) ([]string, string) {
	switch strings.ToLower(filepath.Ext(inv.Path)) {
	case ".py":
		python := r.resolver.Python(inv.Dir, inv.Path)
		return append([]string{python, inv.Path}, inv.Args...), python
	case ".sh":
		return append([]string{"/bin/sh", inv.Path}, inv.Args...), ""
	default:
		return append([]string{inv.Path}, inv.Args...), ""
	}
}

// childEnv builds the spawned process environment: PATH gains the
// interpreter's directory and the well-known tool dirs, output buffering is
// disabled, and host virtualenv state is scrubbed so the project's own
// environment wins.
func childEnv(python string) []string {
	venvRoot := ""
	if python != "" {
		venvRoot = runtime.VenvRoot(python)
	}

	env := make([]string, 0, len(os.Environ())+3)
	path := os.Getenv("PATH")
	for _, kv := range os.Environ() {
		key := kv
		if idx := strings.IndexByte(kv, '='); idx >= 0 {
			key = kv[:idx]
		}
		switch key {
		case "PATH":
			continue
		case "PYTHONHOME", "PYTHONPATH", "VIRTUAL_ENV":
			// Leaked host interpreter settings break venv scripts.
			if venvRoot != "" {
				continue
			}
		}
		env = append(env, kv)
	}

	prefix := make([]string, 0, len(wellKnownPathDirs)+1)
	if python != "" {
		prefix = append(prefix, filepath.Dir(python))
	}
	prefix = append(prefix, wellKnownPathDirs...)
	env = append(env, "PATH="+strings.Join(prefix, ":")+":"+path)
	env = append(env, "PYTHONUNBUFFERED=1")
	if venvRoot != "" {
		env = append(env, "VIRTUAL_ENV="+venvRoot)
	}
	return env
}

// drain copies reader output into buf, forwarding each chunk to onOutput.
// Chunks are forwarded in read order, so per-channel ordering holds.
func drain(reader io.Reader, channel Channel, buf *bytes.Buffer, onOutput OutputFunc) {
	chunk := make([]byte, 4096)
	for {
		n, err := reader.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if onOutput != nil {
				copied := make([]byte, n)
				copy(copied, chunk[:n])
				onOutput(channel, copied)
			}
		}
		if err != nil {
			return
		}
	}
}
