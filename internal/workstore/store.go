// Package workstore provides SQLite-backed work-item persistence.
// It is the single source of truth for item lifecycle state.
package workstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hochfrequenz/pipeline-orchestrator/internal/domain"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed work-item persistence. Mutations are
// serialized through a single mutex: only one worker is expected, but the
// CLI control surface can race with an active watch loop.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

const itemColumns = `repo, number, title, body, labels, priority, status, retry_count,
	error_message, error_class, url, pr_url, created_at, started_at, completed_at`

// dequeueOrder sorts queued items by priority rank (high first), then
// FIFO by creation time within a tier.
const dequeueOrder = `CASE priority WHEN 'high' THEN 2 WHEN 'medium' THEN 1 ELSE 0 END DESC, created_at ASC`

// Enqueue inserts a new queued item. Returns false without error if an
// item with the same (repo, number) key already exists; repeat ingestion
// of an open ticket is a no-op.
func (s *Store) Enqueue(item *domain.WorkItem) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	labelsJSON, err := json.Marshal(item.Labels)
	if err != nil {
		return false, err
	}

	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	priority := item.Priority
	if priority == "" {
		priority = domain.PriorityMedium
	}

	res, err := s.db.Exec(`
		INSERT INTO items (repo, number, title, body, labels, priority, status, url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo, number) DO NOTHING
	`,
		item.Key.Repo,
		item.Key.Number,
		item.Title,
		item.Body,
		string(labelsJSON),
		string(priority),
		string(domain.StatusQueued),
		item.URL,
		createdAt,
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Get retrieves an item by key. Returns (nil, nil) if no such item exists.
func (s *Store) Get(key domain.ItemKey) (*domain.WorkItem, error) {
	row := s.db.QueryRow(`SELECT `+itemColumns+` FROM items WHERE repo = ? AND number = ?`,
		key.Repo, key.Number)

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return item, err
}

// ListOptions specifies filters for listing items
type ListOptions struct {
	Status domain.Status
	Repo   string
}

// List returns items matching the given options, newest first
func (s *Store) List(opts ListOptions) ([]*domain.WorkItem, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE 1=1`
	var args []any

	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	if opts.Repo != "" {
		query += " AND repo = ?"
		args = append(args, opts.Repo)
	}

	query += " ORDER BY created_at DESC"

	return s.queryItems(query, args...)
}

// Queue returns all queued items in dequeue order
func (s *Store) Queue() ([]*domain.WorkItem, error) {
	return s.queryItems(`SELECT `+itemColumns+` FROM items WHERE status = ? ORDER BY `+dequeueOrder,
		string(domain.StatusQueued))
}

// Recent returns the most recently finished items with the given status
func (s *Store) Recent(status domain.Status, limit int) ([]*domain.WorkItem, error) {
	return s.queryItems(`SELECT `+itemColumns+` FROM items WHERE status = ?
		ORDER BY COALESCE(completed_at, created_at) DESC LIMIT ?`,
		string(status), limit)
}

// DequeueNext atomically selects the next queued item and marks it
// processing, so two callers can never both pick the same item. Returns
// (nil, nil) when the queue is empty.
func (s *Store) DequeueNext() (*domain.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Single-flight: while any item is processing nothing else may start,
	// checked inside the same transaction that marks the next one.
	var inFlight int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM items WHERE status = 'processing'`).Scan(&inFlight); err != nil {
		return nil, err
	}
	if inFlight > 0 {
		return nil, nil
	}

	row := tx.QueryRow(`SELECT ` + itemColumns + ` FROM items WHERE status = 'queued'
		ORDER BY ` + dequeueOrder + ` LIMIT 1`)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := tx.Exec(`UPDATE items SET status = 'processing', started_at = ?, completed_at = NULL,
		error_message = '', error_class = ''
		WHERE repo = ? AND number = ? AND status = 'queued'`,
		now, item.Key.Repo, item.Key.Number)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n != 1 {
		return nil, fmt.Errorf("dequeue race on %s", item.Key)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	item.Status = domain.StatusProcessing
	item.StartedAt = &now
	item.CompletedAt = nil
	item.ErrorMessage = ""
	item.ErrorClass = ""
	return item, nil
}

// GetProcessing returns the single in-flight item, or nil if none
func (s *Store) GetProcessing() (*domain.WorkItem, error) {
	row := s.db.QueryRow(`SELECT `+itemColumns+` FROM items WHERE status = ? LIMIT 1`,
		string(domain.StatusProcessing))

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return item, err
}

// Fail marks a processing or pr_open item failed with a message and class
func (s *Store) Fail(key domain.ItemKey, message string, class domain.ErrorClass) error {
	return s.transition(key,
		`UPDATE items SET status = 'failed', error_message = ?, error_class = ?, completed_at = ?
		 WHERE repo = ? AND number = ? AND status IN ('processing', 'pr_open')`,
		"cannot fail: not processing or pr_open",
		message, string(class), time.Now().UTC(), key.Repo, key.Number)
}

// Complete marks a processing item completed
func (s *Store) Complete(key domain.ItemKey) error {
	return s.transition(key,
		`UPDATE items SET status = 'completed', error_message = '', error_class = '', completed_at = ?
		 WHERE repo = ? AND number = ? AND status = 'processing'`,
		"cannot complete: not processing",
		time.Now().UTC(), key.Repo, key.Number)
}

// MarkPrOpen marks a processing item as awaiting review of a change proposal
func (s *Store) MarkPrOpen(key domain.ItemKey, url string) error {
	return s.transition(key,
		`UPDATE items SET status = 'pr_open', pr_url = ?, completed_at = ?
		 WHERE repo = ? AND number = ? AND status = 'processing'`,
		"cannot mark pr_open: not processing",
		url, time.Now().UTC(), key.Repo, key.Number)
}

// MarkNeedsInput routes a processing item to human review. Used when a
// terminal pipeline failure still produced a reviewable change proposal.
func (s *Store) MarkNeedsInput(key domain.ItemKey, url, message string, class domain.ErrorClass) error {
	return s.transition(key,
		`UPDATE items SET status = 'needs-input', pr_url = ?, error_message = ?, error_class = ?, completed_at = ?
		 WHERE repo = ? AND number = ? AND status = 'processing'`,
		"cannot mark needs-input: not processing",
		url, message, string(class), time.Now().UTC(), key.Repo, key.Number)
}

// MarkMerged marks a pr_open item merged
func (s *Store) MarkMerged(key domain.ItemKey) error {
	return s.transition(key,
		`UPDATE items SET status = 'merged', completed_at = ?
		 WHERE repo = ? AND number = ? AND status = 'pr_open'`,
		"cannot mark merged: not pr_open",
		time.Now().UTC(), key.Repo, key.Number)
}

// Requeue returns a failed or needs-input item to the queue and bumps its
// retry count. The original created_at is kept on purpose: a retried item
// must not jump ahead of older same-priority work.
func (s *Store) Requeue(key domain.ItemKey) error {
	return s.transition(key,
		`UPDATE items SET status = 'queued', retry_count = retry_count + 1,
		 error_message = '', error_class = '', started_at = NULL, completed_at = NULL
		 WHERE repo = ? AND number = ? AND status IN ('failed', 'needs-input')`,
		"cannot requeue: not in a retryable state",
		key.Repo, key.Number)
}

// transition runs an UPDATE that must affect exactly one row
func (s *Store) transition(key domain.ItemKey, query, reason string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("%s: %s", key, reason)
	}
	return nil
}

// Remove deletes an item and its run history. Rejected while the item is
// processing; cancel first.
func (s *Store) Remove(key domain.ItemKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRow(`SELECT status FROM items WHERE repo = ? AND number = ?`,
		key.Repo, key.Number).Scan(&status)
	if err == sql.ErrNoRows {
		return fmt.Errorf("no such item: %s", key)
	}
	if err != nil {
		return err
	}
	if domain.Status(status) == domain.StatusProcessing {
		return fmt.Errorf("cannot remove %s while processing", key)
	}

	if _, err := tx.Exec(`DELETE FROM artifacts WHERE run_id IN
		(SELECT id FROM runs WHERE repo = ? AND number = ?)`, key.Repo, key.Number); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM runs WHERE repo = ? AND number = ?`, key.Repo, key.Number); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM items WHERE repo = ? AND number = ?`, key.Repo, key.Number); err != nil {
		return err
	}

	return tx.Commit()
}

// ClearQueue deletes all queued items and returns how many were removed
func (s *Store) ClearQueue() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM items WHERE status = 'queued'`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ClearHistory deletes completed, failed and merged items together with
// their runs and artifacts, and returns how many items were removed.
func (s *Store) ClearHistory() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	const terminal = `('completed', 'failed', 'merged')`

	if _, err := tx.Exec(`DELETE FROM artifacts WHERE run_id IN
		(SELECT r.id FROM runs r JOIN items i ON r.repo = i.repo AND r.number = i.number
		 WHERE i.status IN ` + terminal + `)`); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(`DELETE FROM runs WHERE (repo, number) IN
		(SELECT repo, number FROM items WHERE status IN ` + terminal + `)`); err != nil {
		return 0, err
	}
	res, err := tx.Exec(`DELETE FROM items WHERE status IN ` + terminal)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return n, tx.Commit()
}

// CreateRun persists a new processing attempt
func (s *Store) CreateRun(run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO runs (id, repo, number, pipeline, model, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.ItemKey.Repo,
		run.ItemKey.Number,
		string(run.Pipeline),
		run.Model,
		run.StartedAt,
	)
	return err
}

// FinishRun records the outcome of a processing attempt
func (s *Store) FinishRun(runID, solution, errorMessage string, exitCode *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var code sql.NullInt64
	if exitCode != nil {
		code = sql.NullInt64{Int64: int64(*exitCode), Valid: true}
	}

	_, err := s.db.Exec(`UPDATE runs SET finished_at = ?, solution = ?, error_message = ?, exit_code = ? WHERE id = ?`,
		time.Now().UTC(), solution, errorMessage, code, runID)
	return err
}

// RunsForItem returns all processing attempts for an item, oldest first
func (s *Store) RunsForItem(key domain.ItemKey) ([]*domain.Run, error) {
	rows, err := s.db.Query(`
		SELECT id, repo, number, pipeline, model, started_at, finished_at, solution, error_message, exit_code
		FROM runs WHERE repo = ? AND number = ? ORDER BY started_at ASC
	`, key.Repo, key.Number)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// AddArtifact registers a collected artifact file against a run
func (s *Store) AddArtifact(a *domain.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO artifacts (run_id, filename, category, size_bytes, path)
		VALUES (?, ?, ?, ?, ?)
	`, a.RunID, a.Filename, string(a.Category), a.SizeBytes, a.Path)
	if err != nil {
		return err
	}
	a.ID, err = res.LastInsertId()
	return err
}

// ArtifactsForRun returns all artifacts registered for a run
func (s *Store) ArtifactsForRun(runID string) ([]*domain.Artifact, error) {
	rows, err := s.db.Query(`SELECT id, run_id, filename, category, size_bytes, path
		FROM artifacts WHERE run_id = ? ORDER BY filename`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []*domain.Artifact
	for rows.Next() {
		var a domain.Artifact
		var category string
		if err := rows.Scan(&a.ID, &a.RunID, &a.Filename, &category, &a.SizeBytes, &a.Path); err != nil {
			return nil, err
		}
		a.Category = domain.ArtifactCategory(category)
		artifacts = append(artifacts, &a)
	}
	return artifacts, rows.Err()
}

// Stats holds aggregate counters for the snapshot document
type Stats struct {
	ByStatus      map[string]int `json:"by_status"`
	ByPipeline    map[string]int `json:"by_pipeline"`
	TotalRuns     int            `json:"total_runs"`
	AvgRunSeconds float64        `json:"avg_run_seconds"`
}

// Stats computes aggregate counts and timing over items and runs
func (s *Store) Stats() (*Stats, error) {
	stats := &Stats{
		ByStatus:   make(map[string]int),
		ByPipeline: make(map[string]int),
	}

	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM items GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.ByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	prows, err := s.db.Query(`SELECT pipeline, COUNT(*) FROM runs GROUP BY pipeline`)
	if err != nil {
		return nil, err
	}
	defer prows.Close()
	for prows.Next() {
		var pipeline string
		var count int
		if err := prows.Scan(&pipeline, &count); err != nil {
			return nil, err
		}
		stats.ByPipeline[pipeline] = count
		stats.TotalRuns += count
	}
	if err := prows.Err(); err != nil {
		return nil, err
	}

	// Durations are averaged in Go; SQLite date functions cannot parse
	// the timestamp encoding the driver uses for time.Time columns.
	drows, err := s.db.Query(`SELECT started_at, finished_at FROM runs WHERE finished_at IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer drows.Close()
	var totalSeconds float64
	var finished int
	for drows.Next() {
		var startedAt, finishedAt time.Time
		if err := drows.Scan(&startedAt, &finishedAt); err != nil {
			return nil, err
		}
		totalSeconds += finishedAt.Sub(startedAt).Seconds()
		finished++
	}
	if err := drows.Err(); err != nil {
		return nil, err
	}
	if finished > 0 {
		stats.AvgRunSeconds = totalSeconds / float64(finished)
	}

	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*domain.WorkItem, error) {
	var item domain.WorkItem
	var body, labelsJSON, errorMessage, errorClass, url, prURL sql.NullString
	var priority, status string
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&item.Key.Repo, &item.Key.Number, &item.Title, &body, &labelsJSON,
		&priority, &status, &item.RetryCount, &errorMessage, &errorClass,
		&url, &prURL, &item.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Body = body.String
	item.Priority = domain.Priority(priority)
	item.Status = domain.Status(status)
	item.ErrorMessage = errorMessage.String
	item.ErrorClass = domain.ErrorClass(errorClass.String)
	item.URL = url.String
	item.PRURL = prURL.String
	if startedAt.Valid {
		t := startedAt.Time
		item.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		item.CompletedAt = &t
	}

	if labelsJSON.Valid && labelsJSON.String != "" && labelsJSON.String != "null" {
		if err := json.Unmarshal([]byte(labelsJSON.String), &item.Labels); err != nil {
			return nil, err
		}
	}

	return &item, nil
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var run domain.Run
	var pipeline, model, solution, errorMessage sql.NullString
	var finishedAt sql.NullTime
	var exitCode sql.NullInt64

	err := row.Scan(&run.ID, &run.ItemKey.Repo, &run.ItemKey.Number, &pipeline, &model,
		&run.StartedAt, &finishedAt, &solution, &errorMessage, &exitCode)
	if err != nil {
		return nil, err
	}

	run.Pipeline = domain.PipelineType(pipeline.String)
	run.Model = model.String
	run.Solution = solution.String
	run.ErrorMessage = errorMessage.String
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		run.ExitCode = &code
	}

	return &run, nil
}

func (s *Store) queryItems(query string, args ...any) ([]*domain.WorkItem, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*domain.WorkItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
