// Package pipeline executes external pipeline scripts for work items.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/pipeline-orchestrator/internal/config"
	"github.com/hochfrequenz/pipeline-orchestrator/internal/domain"
)

// RunResult is the structured outcome of a pipeline script execution.
type RunResult struct {
	Success      bool
	ExitCode     int
	Class        domain.ErrorClass
	ErrorMessage string
	Stdout       string
	Duration     time.Duration
}

// Runner spawns pipeline scripts in their own process group so the whole
// tree can be cancelled. The group id is recorded in a marker file for
// the lifetime of the run; Cancel reads it from another process.
type Runner struct {
	pgidPath string
	// extra time after SIGTERM before the child is killed outright
	waitDelay time.Duration
}

// NewRunner creates a Runner recording process groups at pgidPath.
func NewRunner(pgidPath string) *Runner {
	return &Runner{pgidPath: pgidPath, waitDelay: 10 * time.Second}
}

// Run writes the solution text into runDir, extracts fenced file blocks,
// then executes the route's script with the standard environment
// contract. The script's wall-clock budget comes from the route; when it
// fires the entire process group receives SIGTERM.
//
// Expected failures (non-zero exit, timeout, spawn failure) are reported
// through RunResult; the returned error covers only local filesystem
// problems preparing the run directory.
func (r *Runner) Run(ctx context.Context, target config.RouteTarget, item *domain.WorkItem, solution string, runDir string) (RunResult, error) {
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return RunResult{}, fmt.Errorf("creating run dir: %w", err)
	}

	solutionPath := filepath.Join(runDir, "solution.md")
	if err := os.WriteFile(solutionPath, []byte(solution), 0644); err != nil {
		return RunResult{}, fmt.Errorf("writing solution: %w", err)
	}

	filesDir := filepath.Join(runDir, "files")
	if err := WriteBlocks(filesDir, ExtractBlocks(solution)); err != nil {
		return RunResult{}, fmt.Errorf("extracting file blocks: %w", err)
	}

	artifactsDir := filepath.Join(runDir, "artifacts")
	if err := os.MkdirAll(artifactsDir, 0755); err != nil {
		return RunResult{}, fmt.Errorf("creating artifacts dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, target.Timeout())
	defer cancel()

	start := time.Now()

	cmd := exec.CommandContext(ctx, target.Script)
	cmd.Dir = runDir
	cmd.Env = append(os.Environ(),
		"ORCH_REPO="+item.Key.Repo,
		"ORCH_ITEM="+strconv.Itoa(item.Key.Number),
		"ORCH_WORKDIR="+runDir,
		"ORCH_ARTIFACTS="+artifactsDir,
		"ORCH_FILES="+filesDir,
		"ORCH_SOLUTION="+solutionPath,
	)

	// Own process group: the script may spawn builds, emulators, browsers.
	// Cancellation must reach all of them, not just the direct child.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = r.waitDelay

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return spawnFailure(err, start), nil
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return spawnFailure(err, start), nil
	}

	if err := cmd.Start(); err != nil {
		return spawnFailure(err, start), nil
	}

	r.recordGroup(cmd.Process.Pid)
	defer r.clearGroup()

	outLog := logFile(runDir, "pipeline.stdout.log")
	errLog := logFile(runDir, "pipeline.stderr.log")
	defer outLog.Close()
	defer errLog.Close()

	var stdout, stderr bytes.Buffer
	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(io.MultiWriter(&stdout, outLog), stdoutPipe)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(io.MultiWriter(&stderr, errLog), stderrPipe)
		return err
	})

	copyErr := g.Wait()
	waitErr := cmd.Wait()
	duration := time.Since(start)

	if copyErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: capturing pipeline output: %v\n", copyErr)
	}

	result := RunResult{
		ExitCode: ExitSuccess,
		Stdout:   stdout.String(),
		Duration: duration,
	}

	if ctx.Err() != nil {
		result.ExitCode = ExitInfra
		result.Class = domain.ClassInfra
		if ctx.Err() == context.Canceled {
			result.ErrorMessage = "pipeline cancelled"
		} else {
			result.ErrorMessage = fmt.Sprintf("pipeline timed out after %s", target.Timeout())
		}
		return result, nil
	}

	code, err := exitCode(waitErr)
	if err != nil {
		return spawnFailure(err, start), nil
	}

	result.ExitCode = code
	if code == ExitSuccess {
		result.Success = true
		return result, nil
	}

	result.Class = ClassForExit(code)
	msg := tailLines(stderr.String(), 5)
	if msg == "" {
		msg = tailLines(stdout.String(), 5)
	}
	result.ErrorMessage = fmt.Sprintf("pipeline exited %d (%s): %s", code, result.Class, msg)
	return result, nil
}

// spawnFailure synthesizes an infrastructure failure for runs that never
// produced an exit code of their own.
func spawnFailure(err error, start time.Time) RunResult {
	return RunResult{
		ExitCode:     ExitInfra,
		Class:        domain.ClassInfra,
		ErrorMessage: fmt.Sprintf("starting pipeline: %v", err),
		Duration:     time.Since(start),
	}
}

// recordGroup persists the process group id so an operator-triggered
// cancel can find the running pipeline from another process.
func (r *Runner) recordGroup(pid int) {
	if r.pgidPath == "" {
		return
	}
	if err := os.WriteFile(r.pgidPath, []byte(strconv.Itoa(pid)), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: recording process group: %v\n", err)
	}
}

func (r *Runner) clearGroup() {
	if r.pgidPath == "" {
		return
	}
	os.Remove(r.pgidPath)
}

// Cancel terminates the pipeline whose group id is recorded at pgidPath.
// Returns false when no pipeline is running.
func Cancel(pgidPath string) (bool, error) {
	data, err := os.ReadFile(pgidPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	pgid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		os.Remove(pgidPath)
		return false, fmt.Errorf("corrupt process group marker: %w", err)
	}

	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		// Group already gone; just clean up the marker.
		os.Remove(pgidPath)
		if err == syscall.ESRCH {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// discardCloser keeps the copy loop alive when a capture file cannot be
// opened.
type discardCloser struct{ io.Writer }

func (discardCloser) Close() error { return nil }

// logFile opens an append-mode capture file
func logFile(dir, name string) io.WriteCloser {
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: opening %s: %v\n", name, err)
		return discardCloser{io.Discard}
	}
	return f
}

// tailLines returns the last n non-empty lines of s
func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
