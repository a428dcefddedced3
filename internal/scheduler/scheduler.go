// Package scheduler drives the work cycle: recover, dequeue, generate,
// execute, classify, publish.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hochfrequenz/pipeline-orchestrator/internal/artifacts"
	"github.com/hochfrequenz/pipeline-orchestrator/internal/config"
	"github.com/hochfrequenz/pipeline-orchestrator/internal/domain"
	"github.com/hochfrequenz/pipeline-orchestrator/internal/engine"
	"github.com/hochfrequenz/pipeline-orchestrator/internal/mergecheck"
	"github.com/hochfrequenz/pipeline-orchestrator/internal/notify"
	"github.com/hochfrequenz/pipeline-orchestrator/internal/outcome"
	"github.com/hochfrequenz/pipeline-orchestrator/internal/pipeline"
	"github.com/hochfrequenz/pipeline-orchestrator/internal/router"
	"github.com/hochfrequenz/pipeline-orchestrator/internal/snapshot"
	"github.com/hochfrequenz/pipeline-orchestrator/internal/workstore"
)

// Scheduler wires the stages of a work cycle together. One Scheduler
// serves one worker process; the lock file enforces that externally.
type Scheduler struct {
	cfg      *config.Config
	store    *workstore.Store
	router   *router.Router
	engine   *engine.Engine
	runner   *pipeline.Runner
	checker  *mergecheck.Checker
	notifier notify.Notifier
}

// New assembles a Scheduler from its stages. A nil notifier disables
// notifications; a nil checker disables pull request polling.
func New(cfg *config.Config, store *workstore.Store, r *router.Router, e *engine.Engine, runner *pipeline.Runner, checker *mergecheck.Checker, notifier notify.Notifier) *Scheduler {
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	return &Scheduler{
		cfg:      cfg,
		store:    store,
		router:   r,
		engine:   e,
		runner:   runner,
		checker:  checker,
		notifier: notifier,
	}
}

// CycleResult summarizes one cycle for the watch loop.
type CycleResult struct {
	Processed bool             // an item was dequeued and ran
	Decision  outcome.Decision // transition applied to the processed item
	Item      *domain.WorkItem
}

// RunCycle executes a single work cycle: recover stale state, resolve
// open pull requests, process at most one queued item, refresh the
// snapshot. The caller holds the worker lock.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleResult, error) {
	if err := s.recoverStale(); err != nil {
		return CycleResult{}, err
	}

	if s.checker != nil {
		if _, err := s.checker.CheckAll(s.store); err != nil {
			// PR polling is best-effort; the queue must keep moving.
			fmt.Fprintf(os.Stderr, "Warning: checking open pull requests: %v\n", err)
		}
	}

	item, err := s.store.DequeueNext()
	if err != nil {
		return CycleResult{}, fmt.Errorf("dequeue: %w", err)
	}
	if item == nil {
		return CycleResult{}, s.writeSnapshot()
	}

	decision, err := s.process(ctx, item)
	if err != nil {
		return CycleResult{}, err
	}

	if err := s.writeSnapshot(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: writing snapshot: %v\n", err)
	}

	return CycleResult{Processed: true, Decision: decision, Item: item}, nil
}

// process runs the full generate-execute-classify path for one item.
func (s *Scheduler) process(ctx context.Context, item *domain.WorkItem) (outcome.Decision, error) {
	target := s.router.Route(item)

	run := &domain.Run{
		ID:        uuid.NewString(),
		ItemKey:   item.Key,
		Pipeline:  target.Pipeline,
		Model:     target.Model,
		StartedAt: time.Now().UTC(),
	}
	if err := s.store.CreateRun(run); err != nil {
		return "", fmt.Errorf("recording run: %w", err)
	}

	runDir := s.runDir(item.Key, run.ID)
	fmt.Printf("Processing %s (%s pipeline, run %s)\n", item.Key, target.Pipeline, run.ID)

	gen := s.engine.Generate(ctx, item, target, runDir)

	var pipeResult pipeline.RunResult
	if gen.Success {
		var err error
		pipeResult, err = s.runner.Run(ctx, target, item, gen.Text, runDir)
		if err != nil {
			return "", fmt.Errorf("running pipeline: %w", err)
		}
	}

	if err := s.finishRun(run.ID, gen, pipeResult); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: recording run result: %v\n", err)
	}

	if _, err := artifacts.Collect(s.store, run.ID, filepath.Join(runDir, "artifacts")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: collecting artifacts: %v\n", err)
	}

	decision, err := outcome.Apply(s.store, item, target, gen, pipeResult)
	if err != nil {
		return "", fmt.Errorf("applying outcome: %w", err)
	}
	fmt.Printf("%s -> %s\n", item.Key, decision)

	s.announce(item.Key, decision)
	return decision, nil
}

func (s *Scheduler) finishRun(runID string, gen engine.Result, pipeResult pipeline.RunResult) error {
	errMsg := gen.ErrorMessage
	var exitCode *int
	if gen.Success {
		errMsg = pipeResult.ErrorMessage
		code := pipeResult.ExitCode
		exitCode = &code
	}
	return s.store.FinishRun(runID, gen.Text, errMsg, exitCode)
}

// announce fetches the item's final state and notifies operators.
func (s *Scheduler) announce(key domain.ItemKey, decision outcome.Decision) {
	item, err := s.store.Get(key)
	if err != nil || item == nil {
		return
	}
	if n, ok := notify.ForDecision(item, decision); ok {
		if err := s.notifier.Send(n); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: sending notification: %v\n", err)
		}
	}
}

// recoverStale force-fails any processing item older than the stale
// threshold. With a single worker such an item can only come from a
// crashed predecessor. Recovery is terminal: the item lands in failed
// with class infra and waits for an explicit retry.
func (s *Scheduler) recoverStale() error {
	item, err := s.store.GetProcessing()
	if err != nil {
		return fmt.Errorf("checking for stale items: %w", err)
	}
	if item == nil {
		return nil
	}

	age := item.ProcessingFor(time.Now().UTC())
	if age < s.cfg.StaleThreshold() {
		return nil
	}

	fmt.Fprintf(os.Stderr, "Warning: recovering stale item %s (processing for %s)\n", item.Key, age.Round(time.Second))
	msg := fmt.Sprintf("worker lost after %s of processing", age.Round(time.Second))
	if err := s.store.Fail(item.Key, msg, domain.ClassInfra); err != nil {
		return fmt.Errorf("failing stale item: %w", err)
	}
	return nil
}

func (s *Scheduler) writeSnapshot() error {
	return snapshot.Write(s.store, s.cfg.General.SnapshotPath)
}

// runDir returns the per-run working directory under the data dir.
func (s *Scheduler) runDir(key domain.ItemKey, runID string) string {
	itemDir := fmt.Sprintf("%s-%d", strings.ReplaceAll(key.Repo, "/", "-"), key.Number)
	return filepath.Join(s.cfg.RunsDir(), itemDir, runID)
}
