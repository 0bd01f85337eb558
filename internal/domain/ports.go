package domain

import (
	"context"
	"time"
)

// JobStore is the driven port for live job state.
type JobStore interface {
	Create(ctx context.Context, payload Payload) (*Job, error)
	Get(ctx context.Context, id string) (*Job, error)
	// Update applies fn to the stored job atomically. Nothing is written when
	// fn returns an error.
	Update(ctx context.Context, id string, fn func(*Job) error) (*Job, error)
	// AppendLog adds one diagnostic line to the job without copying it.
	AppendLog(ctx context.Context, id, line string) error
	// Delete removes the job and returns it. The boolean is false when the job
	// was already gone.
	Delete(ctx context.Context, id string) (*Job, bool)
	List(ctx context.Context) []*Job
	Len() int
}

// Queue admits new jobs for execution.
type Queue interface {
	Enqueue(ctx context.Context, payload Payload) (*Job, error)
}

// PlatformMatcher resolves the platform tag of an allow-listed URL.
type PlatformMatcher interface {
	Match(rawURL string) (string, bool)
}

// Workspace owns per-job scratch directories.
type Workspace interface {
	JobDir(id string) string
	Remove(dir string) error
}

// Outcome is the terminal record of a job kept for auditing.
type Outcome struct {
	JobID      string
	URL        string
	Platform   string
	Media      MediaType
	Status     JobStatus
	Kind       FailureKind
	Error      string
	Filename   string
	Size       int64
	Attempts   int
	CreatedAt  time.Time
	FinishedAt time.Time
}

// HistoryRecorder is the driven port for the outcome ledger.
type HistoryRecorder interface {
	Record(ctx context.Context, o Outcome) error
	Recent(ctx context.Context, limit int) ([]Outcome, error)
}
