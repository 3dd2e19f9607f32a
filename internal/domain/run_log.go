package domain

import (
	"time"

	"github.com/google/uuid"
)

// Job kinds recorded in the run log.
const (
	JobRefresh        = "refresh"
	JobClassification = "classification"
)

// Run statuses.
const (
	RunSucceeded = "succeeded"
	RunPartial   = "partial"
	RunFailed    = "failed"
)

// SourceReport summarises what one source contributed to a refresh.
type SourceReport struct {
	Source                string        `json:"source"`
	RowsRead              int64         `json:"rows_read"`
	RowsLoaded            int64         `json:"rows_loaded"`
	RowsFailed            int64         `json:"rows_failed"`
	ChunksLoaded          int           `json:"chunks_loaded"`
	ChunksFailed          int           `json:"chunks_failed"`
	MalformedAmounts      int64         `json:"malformed_amounts"`
	DroppedDates          int64         `json:"dropped_dates"`
	TruncatedDescriptions int64         `json:"truncated_descriptions"`
	MissingProviderIDs    int64         `json:"missing_provider_ids"`
	Duration              time.Duration `json:"duration"`
	Error                 string        `json:"error,omitempty"`
}

// Failed reports whether the source could not be read at all or lost rows.
func (s SourceReport) Failed() bool {
	return s.Error != "" || s.ChunksFailed > 0
}

// RunReport is the outcome of one refresh run.
type RunReport struct {
	RunID      uuid.UUID      `json:"run_id"`
	Strategy   string         `json:"strategy"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Sources    []SourceReport `json:"sources"`
	Error      string         `json:"error,omitempty"`
}

// NewRunReport starts a report for a run using strategy.
func NewRunReport(strategy string, now time.Time) RunReport {
	return RunReport{RunID: uuid.New(), Strategy: strategy, StartedAt: now}
}

// RowsLoaded is the total number of rows written across sources.
func (r RunReport) RowsLoaded() int64 {
	var total int64
	for _, s := range r.Sources {
		total += s.RowsLoaded
	}
	return total
}

// RowsFailed is the total number of rows lost to chunk failures.
func (r RunReport) RowsFailed() int64 {
	var total int64
	for _, s := range r.Sources {
		total += s.RowsFailed
	}
	return total
}

// SourcesFailed counts sources with any failure.
func (r RunReport) SourcesFailed() int {
	count := 0
	for _, s := range r.Sources {
		if s.Failed() {
			count++
		}
	}
	return count
}

// Status derives the run status from the report contents.
func (r RunReport) Status() string {
	switch {
	case r.Error != "":
		return RunFailed
	case r.SourcesFailed() > 0:
		return RunPartial
	default:
		return RunSucceeded
	}
}

// JobRun is a run log entry as listed by the API.
type JobRun struct {
	ID           uuid.UUID      `json:"id"`
	Job          string         `json:"job"`
	Strategy     string         `json:"strategy,omitempty"`
	Status       string         `json:"status"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
	RowsAffected int64          `json:"rows_affected"`
	RowsFailed   int64          `json:"rows_failed"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Sources      []SourceReport `json:"sources,omitempty"`
}

// JobRun converts the report into a run log entry.
func (r RunReport) JobRun() JobRun {
	return JobRun{
		ID:           r.RunID,
		Job:          JobRefresh,
		Strategy:     r.Strategy,
		Status:       r.Status(),
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		RowsAffected: r.RowsLoaded(),
		RowsFailed:   r.RowsFailed(),
		ErrorMessage: r.Error,
		Sources:      r.Sources,
	}
}
