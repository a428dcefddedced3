// Package engine invokes the external generation service for a work item.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/hochfrequenz/pipeline-orchestrator/internal/config"
	"github.com/hochfrequenz/pipeline-orchestrator/internal/domain"
	"github.com/hochfrequenz/pipeline-orchestrator/internal/prompts"
)

// Result is the structured outcome of a generation call. Expected failure
// modes (timeout, transport failure, non-zero exit) set Success=false and
// ErrorMessage; Generate never returns a Go error for them.
type Result struct {
	Success      bool
	Text         string
	ErrorMessage string
	Model        string
	StartedAt    time.Time
	Duration     time.Duration
}

// Engine renders a pipeline prompt and calls the generation CLI
// synchronously. It contains no retry logic; retries are the outcome
// classifier's decision.
type Engine struct {
	command        string
	defaultModel   string
	defaultTimeout time.Duration
	loader         *prompts.Loader
}

// New creates an Engine from the generation config
func New(cfg config.GenerationConfig, loader *prompts.Loader) *Engine {
	return &Engine{
		command:        cfg.Command,
		defaultModel:   cfg.DefaultModel,
		defaultTimeout: time.Duration(cfg.TimeoutMinutes) * time.Minute,
		loader:         loader,
	}
}

// invocation is the audit record persisted next to the rendered prompt
type invocation struct {
	Command    string    `json:"command"`
	Model      string    `json:"model"`
	Pipeline   string    `json:"pipeline"`
	TimeoutMin float64   `json:"timeout_minutes"`
	RenderedAt time.Time `json:"rendered_at"`
}

// Generate renders the prompt for the item's pipeline and invokes the
// generation service, blocking until it finishes or the timeout fires.
// The rendered prompt and invocation metadata are persisted to runDir
// regardless of outcome.
func (e *Engine) Generate(ctx context.Context, item *domain.WorkItem, target config.RouteTarget, runDir string) Result {
	model := target.Model
	if model == "" {
		model = e.defaultModel
	}
	timeout := target.Timeout()
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	result := Result{Model: model, StartedAt: time.Now()}

	// Labels are normalized to plain strings before they reach the
	// rendered text; raw label records would corrupt the prompt.
	labels := make([]string, 0, len(item.Labels))
	for _, l := range item.Labels {
		if n := domain.NormalizeLabel(l); n != "" {
			labels = append(labels, n)
		}
	}

	prompt, err := e.loader.Execute(target.Prompt, prompts.TicketData{
		Repo:   item.Key.Repo,
		Number: item.Key.Number,
		Title:  item.Title,
		Body:   item.Body,
		Labels: strings.Join(labels, ", "),
	})
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("rendering prompt: %v", err)
		return result
	}

	e.persistPrompt(runDir, prompt, invocation{
		Command:    e.command,
		Model:      model,
		Pipeline:   string(target.Pipeline),
		TimeoutMin: timeout.Minutes(),
		RenderedAt: time.Now().UTC(),
	})

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.command, "-p", prompt, "--model", model)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	result.Duration = time.Since(result.StartedAt)

	if ctx.Err() == context.DeadlineExceeded {
		result.ErrorMessage = fmt.Sprintf("generation timed out after %s", timeout)
		return result
	}
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("generation failed: %v: %s", err, tail(stderr.String(), 5))
		return result
	}

	result.Success = true
	result.Text = stdout.String()
	return result
}

// persistPrompt writes the rendered prompt and invocation metadata for
// audit. Failures are logged but never abort the generation call.
func (e *Engine) persistPrompt(runDir, prompt string, inv invocation) {
	if err := os.MkdirAll(runDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: creating run dir %s: %v\n", runDir, err)
		return
	}
	if err := os.WriteFile(filepath.Join(runDir, "prompt.md"), []byte(prompt), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: persisting prompt: %v\n", err)
	}
	data, err := json.MarshalIndent(inv, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(filepath.Join(runDir, "invocation.json"), data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: persisting invocation metadata: %v\n", err)
	}
}

// tail returns the last n non-empty lines of s
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
