// Package outcome decides the next state of a work item after a run.
package outcome

import (
	"regexp"

	"github.com/hochfrequenz/pipeline-orchestrator/internal/config"
	"github.com/hochfrequenz/pipeline-orchestrator/internal/domain"
	"github.com/hochfrequenz/pipeline-orchestrator/internal/engine"
	"github.com/hochfrequenz/pipeline-orchestrator/internal/pipeline"
)

// Store is the slice of the work store the classifier mutates.
type Store interface {
	Complete(key domain.ItemKey) error
	Fail(key domain.ItemKey, message string, class domain.ErrorClass) error
	Requeue(key domain.ItemKey) error
	MarkPrOpen(key domain.ItemKey, url string) error
	MarkNeedsInput(key domain.ItemKey, url, message string, class domain.ErrorClass) error
}

// Decision names the transition the classifier applied. Useful for
// logging and snapshot generation; the store is the source of truth.
type Decision string

const (
	DecisionCompleted  Decision = "completed"
	DecisionPrOpen     Decision = "pr_open"
	DecisionRequeued   Decision = "requeued"
	DecisionFailed     Decision = "failed"
	DecisionNeedsInput Decision = "needs-input"
)

var prURLRe = regexp.MustCompile(`https://github\.com/[\w.-]+/[\w.-]+/pull/\d+`)

// Apply classifies the combined generation and pipeline result for item
// and applies exactly one store transition.
//
// Failure handling order:
//   - generation failure: the pipeline never ran, so the item fails
//     directly with class infra and no automatic retry
//   - retryable class and the item has its automatic retry left: requeue
//   - terminal failure whose output already references a pull request:
//     parked as needs-input so the partial work stays reviewable
//   - anything else: failed
func Apply(store Store, item *domain.WorkItem, target config.RouteTarget, gen engine.Result, run pipeline.RunResult) (Decision, error) {
	if !gen.Success {
		if err := store.Fail(item.Key, gen.ErrorMessage, domain.ClassInfra); err != nil {
			return "", err
		}
		return DecisionFailed, nil
	}
	if !run.Success {
		return applyFailure(store, item, run.ErrorMessage, run.Class, run.Stdout)
	}

	if target.OpensPR {
		if url := prURLRe.FindString(run.Stdout); url != "" {
			if err := store.MarkPrOpen(item.Key, url); err != nil {
				return "", err
			}
			return DecisionPrOpen, nil
		}
		// The script exited 0 without printing a URL: no PR was opened,
		// so there is nothing to track. The run itself succeeded.
	}

	if err := store.Complete(item.Key); err != nil {
		return "", err
	}
	return DecisionCompleted, nil
}

func applyFailure(store Store, item *domain.WorkItem, message string, class domain.ErrorClass, stdout string) (Decision, error) {
	if class == "" {
		class = domain.ClassUnknown
	}

	if class.AutoRetryable() && item.RetryCount < 1 {
		if err := store.Fail(item.Key, message, class); err != nil {
			return "", err
		}
		if err := store.Requeue(item.Key); err != nil {
			return "", err
		}
		return DecisionRequeued, nil
	}

	// Terminal failure that already produced a reviewable pull request:
	// park it for a human instead of burying the work in failed.
	if url := prURLRe.FindString(stdout); url != "" {
		if err := store.MarkNeedsInput(item.Key, url, message, class); err != nil {
			return "", err
		}
		return DecisionNeedsInput, nil
	}

	if err := store.Fail(item.Key, message, class); err != nil {
		return "", err
	}
	return DecisionFailed, nil
}
