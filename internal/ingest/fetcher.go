// Package ingest turns external tickets into queued work items.
package ingest

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/hochfrequenz/pipeline-orchestrator/internal/domain"
)

// Enqueuer is the slice of the work store ingestion writes into.
type Enqueuer interface {
	Enqueue(item *domain.WorkItem) (bool, error)
}

// Fetcher pulls labeled tickets from a GitHub repository via the gh CLI.
type Fetcher struct {
	repo  string
	label string
	// gh binary, swappable for tests
	command string
}

// NewFetcher creates a Fetcher for repo, selecting tickets carrying label.
func NewFetcher(repo, label string) *Fetcher {
	return &Fetcher{repo: repo, label: label, command: "gh"}
}

type ghIssue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
	Labels    []struct {
		Name string `json:"name"`
	} `json:"labels"`
}

// toWorkItem converts a fetched ticket into a queued work item. Priority
// is derived from the normalized label set.
func (f *Fetcher) toWorkItem(gh ghIssue) *domain.WorkItem {
	labels := make([]string, 0, len(gh.Labels))
	for _, l := range gh.Labels {
		if n := domain.NormalizeLabel(l.Name); n != "" {
			labels = append(labels, n)
		}
	}

	return &domain.WorkItem{
		Key:       domain.ItemKey{Repo: f.repo, Number: gh.Number},
		Title:     gh.Title,
		Body:      gh.Body,
		Labels:    labels,
		Priority:  domain.PriorityFromLabels(labels),
		URL:       gh.URL,
		CreatedAt: gh.CreatedAt,
	}
}

func parseIssueList(data []byte) ([]ghIssue, error) {
	var issues []ghIssue
	if err := json.Unmarshal(data, &issues); err != nil {
		return nil, fmt.Errorf("parse gh output: %w", err)
	}
	return issues, nil
}

// FetchAll lists open tickets carrying the ingest label and enqueues
// each one. Already-known tickets are skipped by the store's key
// constraint. Returns the number of newly enqueued items.
func (f *Fetcher) FetchAll(store Enqueuer) (int, error) {
	cmd := exec.Command(f.command, "issue", "list",
		"--repo", f.repo,
		"--label", f.label,
		"--state", "open",
		"--json", "number,title,body,url,labels,createdAt",
		"--limit", "100")

	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("gh issue list: %w", err)
	}

	issues, err := parseIssueList(output)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, gh := range issues {
		ok, err := store.Enqueue(f.toWorkItem(gh))
		if err != nil {
			return added, fmt.Errorf("enqueue #%d: %w", gh.Number, err)
		}
		if ok {
			added++
		}
	}
	return added, nil
}

// FetchOne pulls a single ticket by number and enqueues it, regardless
// of its labels. Used by the explicit add command.
func (f *Fetcher) FetchOne(store Enqueuer, number int) (bool, error) {
	cmd := exec.Command(f.command, "issue", "view", strconv.Itoa(number),
		"--repo", f.repo,
		"--json", "number,title,body,url,labels,createdAt")

	output, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("gh issue view: %w", err)
	}

	var gh ghIssue
	if err := json.Unmarshal(output, &gh); err != nil {
		return false, fmt.Errorf("parse gh output: %w", err)
	}

	return store.Enqueue(f.toWorkItem(gh))
}
