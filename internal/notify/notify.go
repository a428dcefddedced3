// Package notify announces work-item state changes to operators.
package notify

import (
	"fmt"

	"github.com/hochfrequenz/pipeline-orchestrator/internal/domain"
	"github.com/hochfrequenz/pipeline-orchestrator/internal/outcome"
)

// NotificationType represents the severity of a notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a single message to be delivered
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	ItemKey string // work item reference, e.g. "acme/app#42"
	PRURL   string // optional pull request link
}

// Notifier is the interface for delivery channels
type Notifier interface {
	Send(n Notification) error
}

// ForDecision builds the notification for a finished run. Returns
// ok=false for transitions operators do not need to hear about.
func ForDecision(item *domain.WorkItem, decision outcome.Decision) (Notification, bool) {
	n := Notification{ItemKey: item.Key.String(), PRURL: item.PRURL}

	switch decision {
	case outcome.DecisionCompleted:
		n.Title = "Pipeline completed"
		n.Message = fmt.Sprintf("%s: %s", item.Key, item.Title)
		n.Type = NotifySuccess
	case outcome.DecisionPrOpen:
		n.Title = "Pull request ready for review"
		n.Message = fmt.Sprintf("%s: %s", item.Key, item.Title)
		n.Type = NotifySuccess
	case outcome.DecisionNeedsInput:
		n.Title = "Pipeline needs input"
		n.Message = fmt.Sprintf("%s: %s", item.Key, item.ErrorMessage)
		n.Type = NotifyWarning
	case outcome.DecisionFailed:
		n.Title = "Pipeline failed"
		n.Message = fmt.Sprintf("%s: %s", item.Key, item.ErrorMessage)
		n.Type = NotifyError
	default:
		// Automatic requeues are routine noise.
		return Notification{}, false
	}
	return n, true
}

// MultiNotifier fans a notification out to every configured channel.
// Delivery failures never fail the cycle; the last error is returned
// for logging.
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }
