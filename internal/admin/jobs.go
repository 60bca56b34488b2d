package admin

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/auditkit/guideline-rag/internal/apperr"
)

// Job status values.
const (
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// JobError is one failed URL within a refresh job.
type JobError struct {
	URL   string    `json:"url"`
	Error string    `json:"error"`
	Time  time.Time `json:"time"`
}

// Job is the progress state of one bulk refresh run.
type Job struct {
	ID             string     `json:"job_id"`
	Type           string     `json:"type"`
	Status         string     `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	TotalURLs      int        `json:"total_urls"`
	ProcessedURLs  int        `json:"processed_urls"`
	SuccessfulURLs int        `json:"successful_urls"`
	FailedURLs     int        `json:"failed_urls"`
	SkippedURLs    int        `json:"skipped_urls"`
	CurrentURL     string     `json:"current_url,omitempty"`
	CurrentName    string     `json:"current_url_name,omitempty"`
	Errors         []JobError `json:"errors"`
}

// Tracker holds the state of the most recent refresh job. One job
// runs at a time; starting a new one while another runs is an error.
type Tracker struct {
	mu  sync.Mutex
	job *Job
}

// NewTracker creates an empty job tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Start begins a new job. Fails if a job is already running.
func (t *Tracker) Start(jobType string, totalURLs int) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.job != nil && t.job.Status == JobRunning {
		return "", apperr.Invalid("admin.job", fmt.Sprintf("job %s is already running", t.job.ID))
	}

	t.job = &Job{
		ID:        "job-" + uuid.NewString()[:8],
		Type:      jobType,
		Status:    JobRunning,
		StartedAt: time.Now().UTC(),
		TotalURLs: totalURLs,
		Errors:    []JobError{},
	}
	return t.job.ID, nil
}

// Progress records the outcome of one processed URL. outcome is one
// of the Status* registry constants.
func (t *Tracker) Progress(url, name, outcome, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.job == nil || t.job.Status != JobRunning {
		return
	}

	t.job.CurrentURL = url
	t.job.CurrentName = name
	t.job.ProcessedURLs++
	switch outcome {
	case StatusSuccess:
		t.job.SuccessfulURLs++
	case StatusSkipped:
		t.job.SkippedURLs++
	case StatusFailed:
		t.job.FailedURLs++
		t.job.Errors = append(t.job.Errors, JobError{URL: url, Error: errMsg, Time: time.Now().UTC()})
	}
}

// Complete marks the running job finished with the given status.
func (t *Tracker) Complete(status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.job == nil {
		return
	}

	now := time.Now().UTC()
	t.job.Status = status
	t.job.CompletedAt = &now
	t.job.CurrentURL = ""
	t.job.CurrentName = ""
}

// Current returns a snapshot of the latest job, or nil if none ran.
func (t *Tracker) Current() *Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.job == nil {
		return nil
	}

	snapshot := *t.job
	snapshot.Errors = make([]JobError, len(t.job.Errors))
	copy(snapshot.Errors, t.job.Errors)
	return &snapshot
}

// Running reports whether a job is in flight.
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.job != nil && t.job.Status == JobRunning
}
