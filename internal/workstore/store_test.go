package workstore

import (
	"testing"
	"time"

	"github.com/hochfrequenz/pipeline-orchestrator/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func enqueue(t *testing.T, store *Store, number int, priority domain.Priority, createdAt time.Time) domain.ItemKey {
	t.Helper()
	key := domain.ItemKey{Repo: "acme/app", Number: number}
	inserted, err := store.Enqueue(&domain.WorkItem{
		Key:       key,
		Title:     "test item",
		Priority:  priority,
		CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !inserted {
		t.Fatalf("item %s not inserted", key)
	}
	return key
}

func TestEnqueue_DuplicateIsNoOp(t *testing.T) {
	store := newTestStore(t)
	key := domain.ItemKey{Repo: "acme/app", Number: 100}

	inserted, err := store.Enqueue(&domain.WorkItem{Key: key, Title: "first"})
	if err != nil {
		t.Fatal(err)
	}
	if !inserted {
		t.Fatal("first enqueue should insert")
	}

	inserted, err = store.Enqueue(&domain.WorkItem{Key: key, Title: "second"})
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Error("duplicate enqueue should be a no-op")
	}

	item, err := store.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if item.Title != "first" {
		t.Errorf("Title = %q, want the original", item.Title)
	}

	all, err := store.List(ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("item count = %d, want 1", len(all))
	}
}

func TestDequeueNext_PriorityThenFIFO(t *testing.T) {
	store := newTestStore(t)
	base := time.Now().UTC().Add(-time.Hour)

	// Scenario: #100 medium, #101 high, #102 medium but later
	enqueue(t, store, 100, domain.PriorityMedium, base)
	enqueue(t, store, 101, domain.PriorityHigh, base.Add(time.Minute))
	enqueue(t, store, 102, domain.PriorityMedium, base.Add(2*time.Minute))

	var order []int
	for {
		item, err := store.DequeueNext()
		if err != nil {
			t.Fatal(err)
		}
		if item == nil {
			break
		}
		order = append(order, item.Key.Number)
		if err := store.Complete(item.Key); err != nil {
			t.Fatal(err)
		}
	}

	want := []int{101, 100, 102}
	if len(order) != len(want) {
		t.Fatalf("dequeued %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("dequeue order %v, want %v", order, want)
			break
		}
	}
}

func TestDequeueNext_EmptyQueue(t *testing.T) {
	store := newTestStore(t)

	item, err := store.DequeueNext()
	if err != nil {
		t.Fatal(err)
	}
	if item != nil {
		t.Errorf("expected nil from empty queue, got %v", item.Key)
	}
}

func TestDequeueNext_MarksProcessing(t *testing.T) {
	store := newTestStore(t)
	key := enqueue(t, store, 1, domain.PriorityMedium, time.Now().UTC())

	item, err := store.DequeueNext()
	if err != nil {
		t.Fatal(err)
	}
	if item.Status != domain.StatusProcessing {
		t.Errorf("Status = %q, want processing", item.Status)
	}
	if item.StartedAt == nil {
		t.Error("StartedAt should be set")
	}

	processing, err := store.GetProcessing()
	if err != nil {
		t.Fatal(err)
	}
	if processing == nil || processing.Key != key {
		t.Errorf("GetProcessing = %v, want %s", processing, key)
	}

	// The dequeued item is no longer queued; a second dequeue finds nothing
	next, err := store.DequeueNext()
	if err != nil {
		t.Fatal(err)
	}
	if next != nil {
		t.Errorf("second dequeue should find nothing, got %s", next.Key)
	}
}

func TestAtMostOneProcessing(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()
	for i := 1; i <= 5; i++ {
		enqueue(t, store, i, domain.PriorityMedium, now.Add(time.Duration(i)*time.Second))
	}

	first, err := store.DequeueNext()
	if err != nil {
		t.Fatal(err)
	}
	if first == nil {
		t.Fatal("first dequeue found nothing")
	}

	// While an item is in flight, dequeue yields nothing even though the
	// queue still holds work.
	second, err := store.DequeueNext()
	if err != nil {
		t.Fatal(err)
	}
	if second != nil {
		t.Errorf("dequeue while processing returned %s", second.Key)
	}

	stats, err := store.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.ByStatus["processing"] > 1 {
		t.Errorf("processing count = %d, want <= 1", stats.ByStatus["processing"])
	}

	// Once the in-flight item resolves, the next one can start
	if err := store.Complete(first.Key); err != nil {
		t.Fatal(err)
	}
	third, err := store.DequeueNext()
	if err != nil {
		t.Fatal(err)
	}
	if third == nil {
		t.Error("dequeue after completion found nothing")
	}
}

func TestRequeue(t *testing.T) {
	store := newTestStore(t)
	created := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	key := enqueue(t, store, 1, domain.PriorityMedium, created)

	if _, err := store.DequeueNext(); err != nil {
		t.Fatal(err)
	}
	if err := store.Fail(key, "device unreachable", domain.ClassInfra); err != nil {
		t.Fatal(err)
	}

	if err := store.Requeue(key); err != nil {
		t.Fatal(err)
	}

	item, err := store.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if item.Status != domain.StatusQueued {
		t.Errorf("Status = %q, want queued", item.Status)
	}
	if item.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", item.RetryCount)
	}
	if item.ErrorMessage != "" || item.ErrorClass != "" {
		t.Errorf("error fields not cleared: %q %q", item.ErrorMessage, item.ErrorClass)
	}
	// A requeued item keeps its original creation time so retries do not
	// jump ahead of older same-priority items.
	if !item.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want original %v", item.CreatedAt, created)
	}
}

func TestRequeue_RejectedOnNonRetryableStatus(t *testing.T) {
	store := newTestStore(t)
	key := enqueue(t, store, 1, domain.PriorityMedium, time.Now().UTC())

	if err := store.Requeue(key); err == nil {
		t.Error("requeue of a queued item should fail")
	}

	if _, err := store.DequeueNext(); err != nil {
		t.Fatal(err)
	}
	if err := store.Requeue(key); err == nil {
		t.Error("requeue of a processing item should fail")
	}

	if err := store.Complete(key); err != nil {
		t.Fatal(err)
	}
	if err := store.Requeue(key); err == nil {
		t.Error("requeue of a completed item should fail")
	}
}

func TestRequeue_FromNeedsInput(t *testing.T) {
	store := newTestStore(t)
	key := enqueue(t, store, 1, domain.PriorityMedium, time.Now().UTC())

	if _, err := store.DequeueNext(); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkNeedsInput(key, "https://github.com/acme/app/pull/7", "build failed", domain.ClassBuild); err != nil {
		t.Fatal(err)
	}
	if err := store.Requeue(key); err != nil {
		t.Fatal(err)
	}

	item, _ := store.Get(key)
	if item.Status != domain.StatusQueued {
		t.Errorf("Status = %q, want queued", item.Status)
	}
	if item.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", item.RetryCount)
	}
}

func TestLifecycle_PrOpenToMerged(t *testing.T) {
	store := newTestStore(t)
	key := enqueue(t, store, 1, domain.PriorityHigh, time.Now().UTC())

	if _, err := store.DequeueNext(); err != nil {
		t.Fatal(err)
	}
	url := "https://github.com/acme/app/pull/12"
	if err := store.MarkPrOpen(key, url); err != nil {
		t.Fatal(err)
	}

	item, _ := store.Get(key)
	if item.Status != domain.StatusPROpen {
		t.Fatalf("Status = %q, want pr_open", item.Status)
	}
	if item.PRURL != url {
		t.Errorf("PRURL = %q, want %q", item.PRURL, url)
	}

	if err := store.MarkMerged(key); err != nil {
		t.Fatal(err)
	}
	item, _ = store.Get(key)
	if item.Status != domain.StatusMerged {
		t.Errorf("Status = %q, want merged", item.Status)
	}
}

func TestLifecycle_NoSkippedTransitions(t *testing.T) {
	store := newTestStore(t)
	key := enqueue(t, store, 1, domain.PriorityMedium, time.Now().UTC())

	// queued item cannot jump to terminal states
	if err := store.Complete(key); err == nil {
		t.Error("complete of a queued item should fail")
	}
	if err := store.MarkMerged(key); err == nil {
		t.Error("merge of a queued item should fail")
	}

	if _, err := store.DequeueNext(); err != nil {
		t.Fatal(err)
	}
	// processing item cannot be merged without pr_open
	if err := store.MarkMerged(key); err == nil {
		t.Error("merge of a processing item should fail")
	}
}

func TestFail_FromPrOpen(t *testing.T) {
	store := newTestStore(t)
	key := enqueue(t, store, 1, domain.PriorityMedium, time.Now().UTC())

	if _, err := store.DequeueNext(); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkPrOpen(key, "https://github.com/acme/app/pull/3"); err != nil {
		t.Fatal(err)
	}
	if err := store.Fail(key, "pr closed without merge", domain.ClassAgent); err != nil {
		t.Fatal(err)
	}

	item, _ := store.Get(key)
	if item.Status != domain.StatusFailed {
		t.Errorf("Status = %q, want failed", item.Status)
	}
	if item.ErrorClass != domain.ClassAgent {
		t.Errorf("ErrorClass = %q, want agent", item.ErrorClass)
	}
}

func TestRemove(t *testing.T) {
	store := newTestStore(t)
	key := enqueue(t, store, 1, domain.PriorityMedium, time.Now().UTC())

	if err := store.Remove(key); err != nil {
		t.Fatal(err)
	}
	item, err := store.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if item != nil {
		t.Error("item should be gone")
	}

	if err := store.Remove(key); err == nil {
		t.Error("remove of a missing item should fail")
	}
}

func TestRemove_RejectedWhileProcessing(t *testing.T) {
	store := newTestStore(t)
	key := enqueue(t, store, 1, domain.PriorityMedium, time.Now().UTC())

	if _, err := store.DequeueNext(); err != nil {
		t.Fatal(err)
	}
	if err := store.Remove(key); err == nil {
		t.Error("remove of a processing item should fail")
	}
}

func TestClearQueueAndHistory(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	k1 := enqueue(t, store, 1, domain.PriorityMedium, now)
	k2 := enqueue(t, store, 2, domain.PriorityMedium, now.Add(time.Second))
	enqueue(t, store, 3, domain.PriorityMedium, now.Add(2*time.Second))

	if _, err := store.DequeueNext(); err != nil {
		t.Fatal(err)
	}
	if err := store.Complete(k1); err != nil {
		t.Fatal(err)
	}
	if _, err := store.DequeueNext(); err != nil {
		t.Fatal(err)
	}
	if err := store.Fail(k2, "boom", domain.ClassBuild); err != nil {
		t.Fatal(err)
	}

	cleared, err := store.ClearQueue()
	if err != nil {
		t.Fatal(err)
	}
	if cleared != 1 {
		t.Errorf("ClearQueue removed %d, want 1", cleared)
	}

	cleared, err = store.ClearHistory()
	if err != nil {
		t.Fatal(err)
	}
	if cleared != 2 {
		t.Errorf("ClearHistory removed %d, want 2", cleared)
	}

	all, err := store.List(ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("item count = %d, want 0", len(all))
	}
}

func TestRuns_HistorySurvivesRetries(t *testing.T) {
	store := newTestStore(t)
	key := enqueue(t, store, 1, domain.PriorityMedium, time.Now().UTC())

	for attempt := 0; attempt < 2; attempt++ {
		item, err := store.DequeueNext()
		if err != nil {
			t.Fatal(err)
		}
		run := &domain.Run{
			ID:        "run-" + string(rune('a'+attempt)),
			ItemKey:   item.Key,
			Pipeline:  domain.PipelineCodegen,
			Model:     "qwen2.5-coder",
			StartedAt: time.Now().UTC(),
		}
		if err := store.CreateRun(run); err != nil {
			t.Fatal(err)
		}
		code := 3
		if err := store.FinishRun(run.ID, "", "device unreachable", &code); err != nil {
			t.Fatal(err)
		}
		if err := store.Fail(key, "device unreachable", domain.ClassInfra); err != nil {
			t.Fatal(err)
		}
		if attempt == 0 {
			if err := store.Requeue(key); err != nil {
				t.Fatal(err)
			}
		}
	}

	runs, err := store.RunsForItem(key)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs count = %d, want 2 (history kept across retries)", len(runs))
	}
	if runs[0].ExitCode == nil || *runs[0].ExitCode != 3 {
		t.Errorf("ExitCode = %v, want 3", runs[0].ExitCode)
	}
}

func TestArtifacts(t *testing.T) {
	store := newTestStore(t)
	key := enqueue(t, store, 1, domain.PriorityMedium, time.Now().UTC())

	if _, err := store.DequeueNext(); err != nil {
		t.Fatal(err)
	}
	run := &domain.Run{ID: "run-1", ItemKey: key, Pipeline: domain.PipelineTesting, StartedAt: time.Now().UTC()}
	if err := store.CreateRun(run); err != nil {
		t.Fatal(err)
	}

	a := &domain.Artifact{
		RunID:     "run-1",
		Filename:  "device-test.mp4",
		Category:  domain.ArtifactRecording,
		SizeBytes: 1024,
		Path:      "/data/runs/run-1/device-test.mp4",
	}
	if err := store.AddArtifact(a); err != nil {
		t.Fatal(err)
	}
	if a.ID == 0 {
		t.Error("artifact ID not assigned")
	}

	artifacts, err := store.ArtifactsForRun("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(artifacts) != 1 {
		t.Fatalf("artifacts count = %d, want 1", len(artifacts))
	}
	if artifacts[0].Category != domain.ArtifactRecording {
		t.Errorf("Category = %q, want recording", artifacts[0].Category)
	}
}

func TestStats(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	k1 := enqueue(t, store, 1, domain.PriorityMedium, now)
	enqueue(t, store, 2, domain.PriorityLow, now.Add(time.Second))

	if _, err := store.DequeueNext(); err != nil {
		t.Fatal(err)
	}
	run := &domain.Run{ID: "run-1", ItemKey: k1, Pipeline: domain.PipelineCodegen, StartedAt: now.Add(-time.Minute)}
	if err := store.CreateRun(run); err != nil {
		t.Fatal(err)
	}
	code := 0
	if err := store.FinishRun("run-1", "solution", "", &code); err != nil {
		t.Fatal(err)
	}
	if err := store.Complete(k1); err != nil {
		t.Fatal(err)
	}

	stats, err := store.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.ByStatus["completed"] != 1 {
		t.Errorf("completed = %d, want 1", stats.ByStatus["completed"])
	}
	if stats.ByStatus["queued"] != 1 {
		t.Errorf("queued = %d, want 1", stats.ByStatus["queued"])
	}
	if stats.ByPipeline["codegen"] != 1 {
		t.Errorf("codegen runs = %d, want 1", stats.ByPipeline["codegen"])
	}
	if stats.TotalRuns != 1 {
		t.Errorf("TotalRuns = %d, want 1", stats.TotalRuns)
	}
	if stats.AvgRunSeconds < 50 {
		t.Errorf("AvgRunSeconds = %f, want ~60", stats.AvgRunSeconds)
	}
}
