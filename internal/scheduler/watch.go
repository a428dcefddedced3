package scheduler

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"github.com/hochfrequenz/pipeline-orchestrator/internal/ingest"
)

// RunOnce acquires the worker lock, drains the local inbox and executes
// a single cycle.
func (s *Scheduler) RunOnce(ctx context.Context) (CycleResult, error) {
	release, err := AcquireLock(s.cfg.LockPath())
	if err != nil {
		return CycleResult{}, err
	}
	defer release()

	s.ingestInbox()
	return s.RunCycle(ctx)
}

// Watch runs cycles until ctx is cancelled. The loop drains the backlog
// without waiting, then sleeps until the interval tick, a scheduled
// ingestion, or a new inbox file wakes it. The worker lock is held for
// the whole watch session.
func (s *Scheduler) Watch(ctx context.Context, interval time.Duration) error {
	release, err := AcquireLock(s.cfg.LockPath())
	if err != nil {
		return err
	}
	defer release()

	if interval <= 0 {
		interval = s.cfg.WatchInterval()
	}

	wake := make(chan struct{}, 1)

	if stop := s.startCronIngestion(wake); stop != nil {
		defer stop()
	}
	if stop := s.watchInbox(wake); stop != nil {
		defer stop()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fmt.Printf("Watching queue (interval %s)\n", interval)
	for {
		s.ingestInbox()

		result := s.safeCycle(ctx)
		if result.Processed && ctx.Err() == nil {
			// Backlog may remain; keep going without waiting.
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-wake:
		}
	}
}

// safeCycle runs one cycle and converts a panic in any stage into a
// logged failure so the watch loop survives.
func (s *Scheduler) safeCycle(ctx context.Context) (result CycleResult) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Error: cycle panicked: %v\n%s", r, debug.Stack())
			result = CycleResult{}
		}
	}()

	result, err := s.RunCycle(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cycle failed: %v\n", err)
	}
	return result
}

// startCronIngestion schedules ticket fetches per the configured cron
// expression. Returns a stop function, or nil when ingestion is not
// configured.
func (s *Scheduler) startCronIngestion(wake chan<- struct{}) func() {
	if s.cfg.Ingest.Cron == "" || s.cfg.Ingest.Repo == "" {
		return nil
	}

	c := cron.New()
	fetcher := ingest.NewFetcher(s.cfg.Ingest.Repo, s.cfg.Ingest.Label)
	_, err := c.AddFunc(s.cfg.Ingest.Cron, func() {
		added, err := fetcher.FetchAll(s.store)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: scheduled ingestion: %v\n", err)
			return
		}
		if added > 0 {
			fmt.Printf("Ingested %d new items from %s\n", added, s.cfg.Ingest.Repo)
			poke(wake)
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: invalid ingest cron %q: %v\n", s.cfg.Ingest.Cron, err)
		return nil
	}

	c.Start()
	return func() { c.Stop() }
}

// watchInbox wakes the loop when a drop file lands in the inbox
// directory. Returns a stop function, or nil when no inbox is
// configured or the watcher cannot start.
func (s *Scheduler) watchInbox(wake chan<- struct{}) func() {
	dir := s.cfg.General.InboxDir
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: creating inbox dir: %v\n", err)
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: starting inbox watcher: %v\n", err)
		return nil
	}
	if err := watcher.Add(dir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: watching inbox dir: %v\n", err)
		watcher.Close()
		return nil
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					poke(wake)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				fmt.Fprintf(os.Stderr, "Warning: inbox watcher: %v\n", err)
			}
		}
	}()

	return func() { watcher.Close() }
}

func (s *Scheduler) ingestInbox() {
	dir := s.cfg.General.InboxDir
	if dir == "" {
		return
	}
	added, err := ingest.IngestInbox(s.store, dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: ingesting inbox: %v\n", err)
		return
	}
	if added > 0 {
		fmt.Printf("Ingested %d new items from inbox\n", added)
	}
}

// poke delivers a non-blocking wake signal
func poke(wake chan<- struct{}) {
	select {
	case wake <- struct{}{}:
	default:
	}
}
