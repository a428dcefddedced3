package mergecheck

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hochfrequenz/pipeline-orchestrator/internal/domain"
	"github.com/hochfrequenz/pipeline-orchestrator/internal/workstore"
)

func testStore(t *testing.T) *workstore.Store {
	t.Helper()
	store, err := workstore.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// openPr drives an item to pr_open with the given PR URL
func openPr(t *testing.T, store *workstore.Store, number int, url string) domain.ItemKey {
	t.Helper()
	key := domain.ItemKey{Repo: "acme/app", Number: number}
	if _, err := store.Enqueue(&domain.WorkItem{Key: key, Title: "t"}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.DequeueNext(); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkPrOpen(key, url); err != nil {
		t.Fatal(err)
	}
	return key
}

// fakeGh answers gh pr view by matching the PR URL against a case list
func fakeGh(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCheckAll_Merged(t *testing.T) {
	store := testStore(t)
	key := openPr(t, store, 1, "https://github.com/acme/app/pull/10")

	c := New()
	c.command = fakeGh(t, `echo '{"state": "MERGED"}'`)

	resolved, err := c.CheckAll(store)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != 1 {
		t.Errorf("resolved = %d", resolved)
	}

	item, err := store.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if item.Status != domain.StatusMerged {
		t.Errorf("status = %s", item.Status)
	}
}

func TestCheckAll_ClosedWithoutMerge(t *testing.T) {
	store := testStore(t)
	key := openPr(t, store, 1, "https://github.com/acme/app/pull/10")

	c := New()
	c.command = fakeGh(t, `echo '{"state": "CLOSED"}'`)

	if _, err := c.CheckAll(store); err != nil {
		t.Fatal(err)
	}

	item, err := store.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if item.Status != domain.StatusFailed {
		t.Errorf("status = %s", item.Status)
	}
	if item.ErrorClass != domain.ClassAgent {
		t.Errorf("class = %s", item.ErrorClass)
	}
}

func TestCheckAll_StillOpenUntouched(t *testing.T) {
	store := testStore(t)
	key := openPr(t, store, 1, "https://github.com/acme/app/pull/10")

	c := New()
	c.command = fakeGh(t, `echo '{"state": "OPEN"}'`)

	resolved, err := c.CheckAll(store)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != 0 {
		t.Errorf("resolved = %d", resolved)
	}

	item, _ := store.Get(key)
	if item.Status != domain.StatusPROpen {
		t.Errorf("status = %s", item.Status)
	}
}

func TestCheckAll_GhFailureSkipsItem(t *testing.T) {
	store := testStore(t)
	key := openPr(t, store, 1, "https://github.com/acme/app/pull/10")

	c := New()
	c.command = fakeGh(t, `exit 1`)

	resolved, err := c.CheckAll(store)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != 0 {
		t.Errorf("resolved = %d", resolved)
	}

	item, _ := store.Get(key)
	if item.Status != domain.StatusPROpen {
		t.Errorf("status = %s, want untouched pr_open", item.Status)
	}
}
