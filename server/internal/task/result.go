package task

import "time"

// Outcome is the terminal state of a task.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Result is the single terminal record a worker produces for a task.
type Result struct {
	Task       Task           `json:"task"`
	Outcome    Outcome        `json:"outcome"`
	FilePath   string         `json:"file_path,omitempty"`
	ErrorKind  Classification `json:"error_kind,omitempty"`
	Error      string         `json:"error,omitempty"`
	Bytes      int64          `json:"bytes"`
	Duration   time.Duration  `json:"duration"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Completed builds a successful result.
func Completed(t Task, filePath string, bytes int64, started time.Time) Result {
	now := time.Now()
	return Result{
		Task:       t,
		Outcome:    OutcomeCompleted,
		FilePath:   filePath,
		Bytes:      bytes,
		Duration:   now.Sub(started),
		FinishedAt: now,
	}
}

// Failed builds a result from a worker error, folding the error into
// the classification taxonomy. A cancelled error yields a cancelled
// outcome rather than a failed one.
func Failed(t Task, err error, bytes int64, started time.Time) Result {
	now := time.Now()
	kind := ClassificationOf(err)

	outcome := OutcomeFailed
	if kind == ErrCancelled {
		outcome = OutcomeCancelled
	}

	r := Result{
		Task:       t,
		Outcome:    outcome,
		ErrorKind:  kind,
		Bytes:      bytes,
		Duration:   now.Sub(started),
		FinishedAt: now,
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// Cancelled builds a cancelled result for a task that never ran.
func Cancelled(t Task) Result {
	now := time.Now()
	return Result{
		Task:       t,
		Outcome:    OutcomeCancelled,
		ErrorKind:  ErrCancelled,
		FinishedAt: now,
	}
}
