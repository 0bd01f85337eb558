package domain

import (
	"context"
	"net/url"
	"strings"
)

// Quality bounds accepted from clients. Zero means "best available".
const (
	MinHeight  = 144
	MaxHeight  = 4320
	MinBitrate = 32
	MaxBitrate = 320
)

var supportedBrowsers = map[string]bool{
	"brave":    true,
	"chrome":   true,
	"chromium": true,
	"edge":     true,
	"firefox":  true,
	"opera":    true,
	"safari":   true,
	"vivaldi":  true,
}

// SubmitRequest is a raw retrieval request as received from a client.
type SubmitRequest struct {
	URL          string
	Media        string
	Playlist     bool
	MaxHeight    int
	AudioBitrate int
	CookiePath   string
	Browser      string
}

// ServiceOptions tunes request validation.
type ServiceOptions struct {
	// CookieCheck validates an uploaded cookie jar before a job may use it.
	CookieCheck func(path string) error
	// BrowserCookies enables cookie extraction from a local browser profile.
	BrowserCookies bool
}

// JobService orchestrates job operations.
type JobService struct {
	store     JobStore
	queue     Queue
	platforms PlatformMatcher
	workspace Workspace
	opts      ServiceOptions
}

// NewJobService creates a new JobService.
func NewJobService(store JobStore, queue Queue, platforms PlatformMatcher, workspace Workspace, opts ServiceOptions) *JobService {
	return &JobService{
		store:     store,
		queue:     queue,
		platforms: platforms,
		workspace: workspace,
		opts:      opts,
	}
}

// Submit validates a request and enqueues a job for it. Nothing is created
// when validation or admission fails.
func (s *JobService) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	payload, err := s.Normalize(req)
	if err != nil {
		return nil, err
	}
	return s.queue.Enqueue(ctx, payload)
}

// Normalize validates req and builds the payload a job would run with.
func (s *JobService) Normalize(req SubmitRequest) (Payload, error) {
	normalized, err := NormalizeURL(req.URL)
	if err != nil {
		return Payload{}, err
	}
	platform, ok := s.platforms.Match(normalized)
	if !ok {
		return Payload{}, ErrUnsupportedPlatform
	}
	media, err := ParseMediaType(req.Media)
	if err != nil {
		return Payload{}, err
	}
	if req.MaxHeight != 0 && (req.MaxHeight < MinHeight || req.MaxHeight > MaxHeight) {
		return Payload{}, ErrInvalidQuality
	}
	if req.AudioBitrate != 0 && (req.AudioBitrate < MinBitrate || req.AudioBitrate > MaxBitrate) {
		return Payload{}, ErrInvalidQuality
	}

	cred, err := s.credential(req)
	if err != nil {
		return Payload{}, err
	}

	return Payload{
		URL:          normalized,
		Platform:     platform,
		Media:        media,
		Credential:   cred,
		Playlist:     req.Playlist,
		MaxHeight:    req.MaxHeight,
		AudioBitrate: req.AudioBitrate,
	}, nil
}

func (s *JobService) credential(req SubmitRequest) (Credential, error) {
	switch {
	case req.CookiePath != "" && req.Browser != "":
		return Credential{}, ErrInvalidCredential
	case req.CookiePath != "":
		if s.opts.CookieCheck != nil {
			if err := s.opts.CookieCheck(req.CookiePath); err != nil {
				return Credential{}, ErrInvalidCredential
			}
		}
		return Credential{Mode: CredentialCookieFile, CookiePath: req.CookiePath}, nil
	case req.Browser != "":
		if !s.opts.BrowserCookies {
			return Credential{}, ErrBrowserCookiesDisabled
		}
		browser := strings.ToLower(req.Browser)
		if !supportedBrowsers[browser] {
			return Credential{}, ErrInvalidCredential
		}
		return Credential{Mode: CredentialBrowser, Browser: browser}, nil
	}
	return Credential{Mode: CredentialNone}, nil
}

// NormalizeURL checks that raw is an absolute http(s) URL and returns it with
// a lower-cased scheme and host and without a fragment.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", ErrInvalidURL
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return "", ErrInvalidURL
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u.String(), nil
}

// Get retrieves a job by ID.
func (s *JobService) Get(ctx context.Context, id string) (*Job, error) {
	return s.store.Get(ctx, id)
}

// Status returns the client view of a job.
func (s *JobService) Status(ctx context.Context, id string) (JobView, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return JobView{}, err
	}
	return PublicView(job), nil
}

// Claim reserves a finished job's artifact for a single retrieval. It has no
// side effects unless the job is done and unclaimed.
func (s *JobService) Claim(ctx context.Context, id string) (*Job, error) {
	return s.store.Update(ctx, id, func(j *Job) error {
		if j.Status != StatusDone || j.Artifact == nil {
			return ErrNotReady
		}
		if j.Claimed {
			return ErrAlreadyClaimed
		}
		j.Claimed = true
		return nil
	})
}

// Release returns a claimed artifact after a failed retrieval.
func (s *JobService) Release(ctx context.Context, id string) error {
	_, err := s.store.Update(ctx, id, func(j *Job) error {
		j.Claimed = false
		return nil
	})
	return err
}

// Reclaim deletes a job and its working directory. Only the caller that
// actually removes the registry entry touches the directory, so reclaiming
// twice is a no-op.
func (s *JobService) Reclaim(ctx context.Context, id string) (bool, error) {
	job, ok := s.store.Delete(ctx, id)
	if !ok {
		return false, nil
	}
	if s.workspace != nil && job.Payload.Credential.Mode == CredentialCookieFile {
		// An upload not yet moved into the working directory.
		_ = s.workspace.Remove(job.Payload.Credential.CookiePath)
	}
	dir := job.WorkDir
	if dir == "" && s.workspace != nil {
		dir = s.workspace.JobDir(job.ID)
	}
	if dir == "" || s.workspace == nil {
		return true, nil
	}
	return true, s.workspace.Remove(dir)
}
