package domain

import "time"

// Run represents a single processing attempt of a work item.
// Runs are decoupled from items so retries keep their full history.
type Run struct {
	ID           string
	ItemKey      ItemKey
	Pipeline     PipelineType
	Model        string
	StartedAt    time.Time
	FinishedAt   *time.Time
	Solution     string // raw generated solution text, empty on failure
	ErrorMessage string
	ExitCode     *int // pipeline exit code, nil if the pipeline never ran
}

// Duration returns how long the run took, or the elapsed time so far
// if it has not finished.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt != nil {
		return r.FinishedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// Artifact represents a file collected from a run's output directory
type Artifact struct {
	ID        int64
	RunID     string
	Filename  string
	Category  ArtifactCategory
	SizeBytes int64
	Path      string
}
