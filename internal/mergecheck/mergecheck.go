// Package mergecheck resolves pr_open items by polling their pull requests.
package mergecheck

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/hochfrequenz/pipeline-orchestrator/internal/domain"
	"github.com/hochfrequenz/pipeline-orchestrator/internal/workstore"
)

// Store is the slice of the work store the checker reads and mutates.
type Store interface {
	List(opts workstore.ListOptions) ([]*domain.WorkItem, error)
	MarkMerged(key domain.ItemKey) error
	Fail(key domain.ItemKey, message string, class domain.ErrorClass) error
}

// Checker polls pull request state via the gh CLI.
type Checker struct {
	// gh binary, swappable for tests
	command string
}

func New() *Checker {
	return &Checker{command: "gh"}
}

type prState struct {
	State string `json:"state"` // OPEN, MERGED, CLOSED
}

// state fetches the current state of the pull request at url.
func (c *Checker) state(url string) (string, error) {
	cmd := exec.Command(c.command, "pr", "view", url, "--json", "state")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("gh pr view %s: %w", url, err)
	}
	var pr prState
	if err := json.Unmarshal(output, &pr); err != nil {
		return "", fmt.Errorf("parse gh output: %w", err)
	}
	return pr.State, nil
}

// CheckAll resolves every pr_open item whose pull request has left the
// open state: merged PRs complete the item, closed-unmerged PRs fail it.
// A gh failure for one item is logged and does not block the others.
// Returns how many items changed state.
func (c *Checker) CheckAll(store Store) (int, error) {
	items, err := store.List(workstore.ListOptions{Status: domain.StatusPROpen})
	if err != nil {
		return 0, fmt.Errorf("listing pr_open items: %w", err)
	}

	resolved := 0
	for _, item := range items {
		if item.PRURL == "" {
			// Should not happen; park it for a human instead of polling forever.
			if err := store.Fail(item.Key, "pr_open without a pull request URL", domain.ClassUnknown); err != nil {
				return resolved, err
			}
			resolved++
			continue
		}

		state, err := c.state(item.PRURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: checking %s: %v\n", item.Key, err)
			continue
		}

		switch state {
		case "MERGED":
			if err := store.MarkMerged(item.Key); err != nil {
				return resolved, err
			}
			resolved++
		case "CLOSED":
			if err := store.Fail(item.Key, "pull request closed without merge", domain.ClassAgent); err != nil {
				return resolved, err
			}
			resolved++
		}
	}
	return resolved, nil
}
