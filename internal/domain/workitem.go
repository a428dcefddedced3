package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var itemKeyRegex = regexp.MustCompile(`^([A-Za-z0-9._/-]+)#(\d+)$`)

// ItemKey uniquely identifies a work item as repo#number
type ItemKey struct {
	Repo   string
	Number int
}

// ParseItemKey parses a string like "acme/mobile-app#42" into an ItemKey
func ParseItemKey(s string) (ItemKey, error) {
	matches := itemKeyRegex.FindStringSubmatch(s)
	if matches == nil {
		return ItemKey{}, fmt.Errorf("invalid item key format: %q (expected repo#number)", s)
	}
	number, _ := strconv.Atoi(matches[2]) // regex guarantees digits
	return ItemKey{Repo: matches[1], Number: number}, nil
}

// String returns the canonical string representation
func (k ItemKey) String() string {
	return fmt.Sprintf("%s#%d", k.Repo, k.Number)
}

// WorkItem represents a unit of work derived from an external ticket
type WorkItem struct {
	Key          ItemKey
	Title        string
	Body         string
	Labels       []string
	Priority     Priority
	Status       Status
	RetryCount   int
	ErrorMessage string
	ErrorClass   ErrorClass
	URL          string // canonical ticket URL
	PRURL        string // change-proposal URL, set once a PR is open
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// Retryable returns true if the item may be requeued by an explicit retry
func (w *WorkItem) Retryable() bool {
	return w.Status == StatusFailed || w.Status == StatusNeedsInput
}

// ProcessingFor returns how long the item has been processing, or zero if
// it is not processing.
func (w *WorkItem) ProcessingFor(now time.Time) time.Duration {
	if w.Status != StatusProcessing || w.StartedAt == nil {
		return 0
	}
	return now.Sub(*w.StartedAt)
}

// PriorityFromLabels derives the item priority from its label set.
// Labels like "priority:high" or bare "high-priority" win over the
// medium default; the first priority label in order decides.
func PriorityFromLabels(labels []string) Priority {
	for _, l := range labels {
		switch NormalizeLabel(l) {
		case "priority:high", "high-priority", "urgent":
			return PriorityHigh
		case "priority:low", "low-priority":
			return PriorityLow
		case "priority:medium", "medium-priority":
			return PriorityMedium
		}
	}
	return PriorityMedium
}
