package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hochfrequenz/pipeline-orchestrator/internal/domain"
)

// inboxTicket is the drop-file format for local ingestion. Labels accept
// both plain strings and GitHub-style {"name": ...} records.
type inboxTicket struct {
	Repo      string          `json:"repo"`
	Number    int             `json:"number"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	URL       string          `json:"url"`
	Labels    json.RawMessage `json:"labels"`
	CreatedAt time.Time       `json:"created_at"`
}

// IngestInbox reads every *.json drop file in dir, enqueues the tickets
// and removes successfully ingested files. Malformed files are renamed
// to *.rejected so they stop being retried but stay inspectable.
// Returns the number of newly enqueued items.
func IngestInbox(store Enqueuer, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading inbox: %w", err)
	}

	added := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		item, err := readInboxFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: rejecting inbox file %s: %v\n", entry.Name(), err)
			if renameErr := os.Rename(path, path+".rejected"); renameErr != nil {
				fmt.Fprintf(os.Stderr, "Warning: renaming rejected file: %v\n", renameErr)
			}
			continue
		}

		ok, err := store.Enqueue(item)
		if err != nil {
			return added, fmt.Errorf("enqueue %s: %w", item.Key, err)
		}
		if ok {
			added++
		}
		if err := os.Remove(path); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: removing ingested file %s: %v\n", entry.Name(), err)
		}
	}
	return added, nil
}

func readInboxFile(path string) (*domain.WorkItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var ticket inboxTicket
	if err := json.Unmarshal(data, &ticket); err != nil {
		return nil, err
	}
	if ticket.Repo == "" || ticket.Number <= 0 {
		return nil, fmt.Errorf("missing repo or number")
	}
	if ticket.Title == "" {
		return nil, fmt.Errorf("missing title")
	}

	var rawLabels any
	if len(ticket.Labels) > 0 {
		if err := json.Unmarshal(ticket.Labels, &rawLabels); err != nil {
			return nil, fmt.Errorf("parsing labels: %w", err)
		}
	}
	labels := domain.NormalizeLabels(rawLabels)

	return &domain.WorkItem{
		Key:       domain.ItemKey{Repo: ticket.Repo, Number: ticket.Number},
		Title:     ticket.Title,
		Body:      ticket.Body,
		Labels:    labels,
		Priority:  domain.PriorityFromLabels(labels),
		URL:       ticket.URL,
		CreatedAt: ticket.CreatedAt,
	}, nil
}
