package notify

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hochfrequenz/pipeline-orchestrator/internal/domain"
	"github.com/hochfrequenz/pipeline-orchestrator/internal/outcome"
)

func TestForDecision(t *testing.T) {
	item := &domain.WorkItem{
		Key:          domain.ItemKey{Repo: "acme/app", Number: 42},
		Title:        "Fix login",
		ErrorMessage: "pipeline exited 1",
		PRURL:        "https://github.com/acme/app/pull/9",
	}

	tests := []struct {
		decision outcome.Decision
		wantType NotificationType
		wantOk   bool
	}{
		{outcome.DecisionCompleted, NotifySuccess, true},
		{outcome.DecisionPrOpen, NotifySuccess, true},
		{outcome.DecisionNeedsInput, NotifyWarning, true},
		{outcome.DecisionFailed, NotifyError, true},
		{outcome.DecisionRequeued, NotifyInfo, false},
	}

	for _, tt := range tests {
		n, ok := ForDecision(item, tt.decision)
		if ok != tt.wantOk {
			t.Errorf("%s: ok = %v", tt.decision, ok)
			continue
		}
		if !ok {
			continue
		}
		if n.Type != tt.wantType {
			t.Errorf("%s: type = %v, want %v", tt.decision, n.Type, tt.wantType)
		}
		if n.ItemKey != "acme/app#42" {
			t.Errorf("%s: ItemKey = %q", tt.decision, n.ItemKey)
		}
	}
}

func TestSlackNotifier_Send(t *testing.T) {
	var received string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		received = string(buf)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL)
	err := notifier.Send(Notification{
		Title:   "Pull request ready for review",
		Message: "acme/app#42: Fix login",
		Type:    NotifySuccess,
		ItemKey: "acme/app#42",
		PRURL:   "https://github.com/acme/app/pull/9",
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if !strings.Contains(received, "acme/app#42") {
		t.Errorf("payload missing item key: %s", received)
	}
	if !strings.Contains(received, "pull/9") {
		t.Errorf("payload missing PR link: %s", received)
	}
}

func TestSlackNotifier_EmptyURLDisabled(t *testing.T) {
	notifier := NewSlackNotifier("")
	if err := notifier.Send(Notification{Title: "x"}); err != nil {
		t.Errorf("disabled notifier returned error: %v", err)
	}
}

func TestNotificationTypeColors(t *testing.T) {
	tests := []struct {
		typ  NotificationType
		want string
	}{
		{NotifySuccess, "good"},
		{NotifyWarning, "warning"},
		{NotifyError, "danger"},
		{NotifyInfo, "#439FE0"},
	}

	for _, tt := range tests {
		got := SlackColor(tt.typ)
		if got != tt.want {
			t.Errorf("SlackColor(%v) = %s, want %s", tt.typ, got, tt.want)
		}
	}
}

func TestMultiNotifier(t *testing.T) {
	var called []string

	mock1 := &mockNotifier{name: "mock1", calls: &called}
	mock2 := &mockNotifier{name: "mock2", calls: &called}

	multi := NewMultiNotifier(mock1, mock2)
	multi.Send(Notification{Title: "Test"})

	if len(called) != 2 {
		t.Errorf("Expected 2 calls, got %d", len(called))
	}
}

func TestEscapeAppleScript(t *testing.T) {
	if got := escapeAppleScript(`say "hi" \ bye`); got != `say \"hi\" \\ bye` {
		t.Errorf("escaped = %q", got)
	}
}

type mockNotifier struct {
	name  string
	calls *[]string
}

func (m *mockNotifier) Send(n Notification) error {
	*m.calls = append(*m.calls, m.name)
	return nil
}
