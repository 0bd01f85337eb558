package domain

import (
	"math"
	"time"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	StatusQueued  JobStatus = "queued"
	StatusRunning JobStatus = "running"
	StatusDone    JobStatus = "done"
	StatusError   JobStatus = "error"
)

// Stages are finer grained, human readable sub-states reported to clients.
const (
	StageQueued      = "queued"
	StageStarting    = "starting"
	StagePreparing   = "preparing"
	StageDownloading = "downloading"
	StageFinalizing  = "finalizing"
	StageReady       = "ready"
	StageFailed      = "failed"
)

var validTransitions = map[JobStatus][]JobStatus{
	StatusQueued:  {StatusRunning},
	StatusRunning: {StatusDone, StatusError},
}

// IsValidTransition reports whether a job may move from one status to another.
// Transitions only ever move forward; terminal states have no successors.
func IsValidTransition(from, to JobStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status is done or error.
func (s JobStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusError
}

// MediaType is the kind of artifact a job should produce.
type MediaType string

const (
	MediaVideo MediaType = "video"
	MediaAudio MediaType = "audio"
)

// ParseMediaType validates a client supplied media type.
func ParseMediaType(s string) (MediaType, error) {
	switch MediaType(s) {
	case MediaVideo, MediaAudio:
		return MediaType(s), nil
	case "":
		return MediaVideo, nil
	}
	return "", ErrInvalidMediaType
}

// CredentialMode selects where the extraction engine gets session cookies from.
type CredentialMode string

const (
	CredentialNone       CredentialMode = "none"
	CredentialCookieFile CredentialMode = "cookie_file"
	CredentialBrowser    CredentialMode = "browser"
)

// Credential describes the session material attached to a job.
type Credential struct {
	Mode       CredentialMode
	CookiePath string
	Browser    string
}

// Payload is the normalized request a job was created from.
type Payload struct {
	URL          string
	Platform     string
	Media        MediaType
	Credential   Credential
	Playlist     bool
	MaxHeight    int
	AudioBitrate int
}

// Artifact is the file a finished job hands to the client.
type Artifact struct {
	Path string
	Name string
	Size int64
}

// Job is one retrieval request and its lifecycle record.
type Job struct {
	ID        string
	Status    JobStatus
	Stage     string
	Progress  int
	Attempt   int
	Error     string
	Title     string
	Payload   Payload
	WorkDir   string
	Artifact  *Artifact
	Claimed   bool
	Logs      LogRing
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transition moves the job to the given status if the move is allowed.
func (j *Job) Transition(to JobStatus) error {
	if !IsValidTransition(j.Status, to) {
		return ErrInvalidTransition
	}
	j.Status = to
	return nil
}

// SetProgress records download progress while the job is running. Values are
// clamped to [1,99]; 100 is reserved for Complete. Progress never decreases.
func (j *Job) SetProgress(pct float64) bool {
	if j.Status != StatusRunning || math.IsNaN(pct) {
		return false
	}
	p := int(math.Floor(pct))
	p = max(1, min(99, p))
	if p <= j.Progress {
		return false
	}
	j.Progress = p
	return true
}

// Complete marks the job done with the resolved artifact.
func (j *Job) Complete(a Artifact) error {
	if err := j.Transition(StatusDone); err != nil {
		return err
	}
	j.Artifact = &a
	j.Progress = 100
	j.Stage = StageReady
	j.Error = ""
	return nil
}

// Fail marks the job as failed with a normalized, client safe message.
func (j *Job) Fail(message string) error {
	if err := j.Transition(StatusError); err != nil {
		return err
	}
	j.Stage = StageFailed
	j.Error = message
	return nil
}

// Clone returns a deep copy safe to hand outside the store.
func (j *Job) Clone() *Job {
	c := *j
	if j.Artifact != nil {
		a := *j.Artifact
		c.Artifact = &a
	}
	c.Logs = j.Logs.Clone()
	return &c
}

// JobView is the sanitized projection of a job shown to clients. It carries no
// filesystem paths and no diagnostic output.
type JobView struct {
	ID        string
	Status    JobStatus
	Stage     string
	Progress  int
	Attempt   int
	Error     string
	Filename  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Ready reports whether the artifact can be fetched.
func (v JobView) Ready() bool {
	return v.Status == StatusDone
}

// PublicView projects a job for clients.
func PublicView(j *Job) JobView {
	v := JobView{
		ID:        j.ID,
		Status:    j.Status,
		Stage:     j.Stage,
		Progress:  j.Progress,
		Attempt:   j.Attempt,
		Error:     j.Error,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
	if j.Status == StatusDone && j.Artifact != nil {
		v.Filename = j.Artifact.Name
	}
	return v
}
