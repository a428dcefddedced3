// Package snapshot renders the denormalized queue state consumed by
// external dashboards.
package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hochfrequenz/pipeline-orchestrator/internal/domain"
	"github.com/hochfrequenz/pipeline-orchestrator/internal/workstore"
)

// recentWindow caps how many historical items each section carries
const recentWindow = 20

// Source is the slice of the work store the snapshot reads.
type Source interface {
	Queue() ([]*domain.WorkItem, error)
	GetProcessing() (*domain.WorkItem, error)
	Recent(status domain.Status, limit int) ([]*domain.WorkItem, error)
	Stats() (*workstore.Stats, error)
}

// Item is the dashboard view of a work item. The document is
// denormalized on purpose: consumers never touch the database.
type Item struct {
	Key          string     `json:"key"`
	Repo         string     `json:"repo"`
	Number       int        `json:"number"`
	Title        string     `json:"title"`
	Labels       []string   `json:"labels,omitempty"`
	Priority     string     `json:"priority"`
	Status       string     `json:"status"`
	RetryCount   int        `json:"retry_count,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ErrorClass   string     `json:"error_class,omitempty"`
	URL          string     `json:"url,omitempty"`
	PRURL        string     `json:"pr_url,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Document is the full snapshot written after every cycle.
type Document struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Queue       []Item           `json:"queue"`
	Processing  *Item            `json:"processing"`
	PrOpen      []Item           `json:"pr_open"`
	NeedsInput  []Item           `json:"needs_input"`
	Completed   []Item           `json:"completed"`
	Failed      []Item           `json:"failed"`
	Merged      []Item           `json:"merged"`
	Stats       *workstore.Stats `json:"stats"`
}

func view(w *domain.WorkItem) Item {
	return Item{
		Key:          w.Key.String(),
		Repo:         w.Key.Repo,
		Number:       w.Key.Number,
		Title:        w.Title,
		Labels:       w.Labels,
		Priority:     string(w.Priority),
		Status:       string(w.Status),
		RetryCount:   w.RetryCount,
		ErrorMessage: w.ErrorMessage,
		ErrorClass:   string(w.ErrorClass),
		URL:          w.URL,
		PRURL:        w.PRURL,
		CreatedAt:    w.CreatedAt,
		StartedAt:    w.StartedAt,
		CompletedAt:  w.CompletedAt,
	}
}

func views(items []*domain.WorkItem) []Item {
	out := make([]Item, 0, len(items))
	for _, w := range items {
		out = append(out, view(w))
	}
	return out
}

// Build assembles a Document from the current store state.
func Build(src Source) (*Document, error) {
	doc := &Document{GeneratedAt: time.Now().UTC()}

	queue, err := src.Queue()
	if err != nil {
		return nil, fmt.Errorf("reading queue: %w", err)
	}
	doc.Queue = views(queue)

	processing, err := src.GetProcessing()
	if err != nil {
		return nil, fmt.Errorf("reading processing item: %w", err)
	}
	if processing != nil {
		v := view(processing)
		doc.Processing = &v
	}

	sections := []struct {
		status domain.Status
		dest   *[]Item
	}{
		{domain.StatusPROpen, &doc.PrOpen},
		{domain.StatusNeedsInput, &doc.NeedsInput},
		{domain.StatusCompleted, &doc.Completed},
		{domain.StatusFailed, &doc.Failed},
		{domain.StatusMerged, &doc.Merged},
	}
	for _, s := range sections {
		items, err := src.Recent(s.status, recentWindow)
		if err != nil {
			return nil, fmt.Errorf("reading %s items: %w", s.status, err)
		}
		*s.dest = views(items)
	}

	stats, err := src.Stats()
	if err != nil {
		return nil, fmt.Errorf("computing stats: %w", err)
	}
	doc.Stats = stats

	return doc, nil
}

// Write builds the snapshot and writes it atomically to path. A reader
// polling the file sees either the previous document or the new one,
// never a partial write.
func Write(src Source, path string) error {
	doc, err := Build(src)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return writeFileAtomic(path, append(data, '\n'))
}
