package domain

// Status represents the lifecycle state of a work item
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusNeedsInput Status = "needs-input"
	StatusPROpen     Status = "pr_open"
	StatusMerged     Status = "merged"
)

// Terminal returns true if no further automatic transition applies
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusNeedsInput, StatusMerged:
		return true
	}
	return false
}

// Priority represents work item priority
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank returns the numeric dequeue rank. Higher ranks dequeue first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// ErrorClass is the coarse failure category derived from a pipeline exit code
type ErrorClass string

const (
	ClassInfra   ErrorClass = "infra"
	ClassBuild   ErrorClass = "build"
	ClassTest    ErrorClass = "test"
	ClassAgent   ErrorClass = "agent"
	ClassUnknown ErrorClass = "unknown"
)

// AutoRetryable returns true if the class is eligible for the single
// automatic retry. Only infrastructure failures qualify; everything else
// is terminal.
func (c ErrorClass) AutoRetryable() bool {
	return c == ClassInfra
}

// PipelineType identifies which external pipeline processes an item
type PipelineType string

const (
	PipelineCodegen PipelineType = "codegen"
	PipelineTesting PipelineType = "testing"
	PipelineContent PipelineType = "content"
)

// ArtifactCategory classifies a collected artifact file
type ArtifactCategory string

const (
	ArtifactRecording ArtifactCategory = "recording"
	ArtifactLog       ArtifactCategory = "log"
	ArtifactDocument  ArtifactCategory = "document"
)
