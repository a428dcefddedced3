package scheduler

import (
	"github.com/hochfrequenz/pipeline-orchestrator/internal/domain"
	"github.com/hochfrequenz/pipeline-orchestrator/internal/pipeline"
	"github.com/hochfrequenz/pipeline-orchestrator/internal/workstore"
)

// CancelActive terminates the running pipeline and fails the item it was
// processing. The store transition does not depend on the signal landing:
// a pipeline that already died must not leave its item stuck in
// processing.
func CancelActive(store *workstore.Store, pgidPath string) (*domain.WorkItem, bool, error) {
	signalled, sigErr := pipeline.Cancel(pgidPath)

	item, err := store.GetProcessing()
	if err != nil {
		return nil, signalled, err
	}
	if item != nil {
		if err := store.Fail(item.Key, "cancelled by operator", domain.ClassInfra); err != nil {
			return nil, signalled, err
		}
	}
	return item, signalled, sigErr
}
