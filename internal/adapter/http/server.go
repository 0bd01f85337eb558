package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/cwygoda/mediagrab/internal/domain"
	"github.com/cwygoda/mediagrab/internal/logger"
	"github.com/cwygoda/mediagrab/internal/storage"
)

const (
	maxJSONBody    = 64 << 10
	timestampFmt   = time.RFC3339
	defaultVersion = "dev"
)

// Uploads stores files received with a request until a job takes them over.
type Uploads interface {
	SaveUpload(r io.Reader, maxBytes int64) (string, error)
	Remove(path string) error
}

// Options configures the HTTP adapter.
type Options struct {
	Addr           string
	CORSOrigins    []string
	CookieMaxBytes int64
	Uploads        Uploads
	// Stats reports queue occupancy for the health endpoint.
	Stats   func() any
	Version string
}

// Server is the HTTP adapter for the retrieval service.
type Server struct {
	svc      *domain.JobService
	mux      *http.ServeMux
	server   *http.Server
	opts     Options
	validate *validator.Validate
	log      *slog.Logger
	started  time.Time
}

// NewServer creates a new HTTP server.
func NewServer(svc *domain.JobService, opts Options) *Server {
	if opts.Version == "" {
		opts.Version = defaultVersion
	}
	s := &Server{
		svc:      svc,
		mux:      http.NewServeMux(),
		opts:     opts,
		validate: newValidator(),
		log:      logger.Get("HTTP"),
		started:  time.Now(),
	}
	s.routes()
	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           withCORS(opts.CORSOrigins, s.mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/download", s.handleDownload)
	s.mux.HandleFunc("GET /api/download/{id}/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/download/{id}/file", s.handleFile)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api", s.handleIndex)
}

var qualityPattern = regexp.MustCompile(`^(?i:best|max|\d{2,4}p?)$`)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("mediaQuality", func(fl validator.FieldLevel) bool {
		return qualityPattern.MatchString(fl.Field().String())
	})
	return v
}

// downloadRequest is the body of POST /api/download, as JSON or multipart
// form fields.
type downloadRequest struct {
	URL          string `json:"url" validate:"required,max=2048"`
	Type         string `json:"type" validate:"omitempty,oneof=video audio mp3"`
	Playlist     bool   `json:"playlist"`
	VideoQuality string `json:"video_quality" validate:"omitempty,mediaQuality"`
	AudioQuality string `json:"audio_quality" validate:"omitempty,mediaQuality"`
	Browser      string `json:"browser" validate:"omitempty,alpha,max=32"`
}

// submitRequest converts a validated DTO. Quality values "best" and "max"
// mean no limit; "720p" is read as 720.
func (r downloadRequest) submitRequest(cookiePath string) domain.SubmitRequest {
	media := r.Type
	if media == "mp3" {
		media = string(domain.MediaAudio)
	}
	return domain.SubmitRequest{
		URL:          r.URL,
		Media:        media,
		Playlist:     r.Playlist,
		MaxHeight:    leadingInt(r.VideoQuality),
		AudioBitrate: leadingInt(r.AudioQuality),
		CookiePath:   cookiePath,
		Browser:      r.Browser,
	}
}

func leadingInt(s string) int {
	n, _ := strconv.Atoi(strings.TrimSuffix(strings.ToLower(s), "p"))
	return n
}

type acceptedResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type statusResponse struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	Stage       string `json:"stage"`
	Progress    int    `json:"progress"`
	Attempt     int    `json:"attempt"`
	Error       string `json:"error,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
	Filename    string `json:"filename,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// errorResponse is the JSON error response.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var (
		req        downloadRequest
		cookiePath string
		err        error
	)
	if isMultipart(r) {
		req, cookiePath, err = s.readMultipart(w, r)
	} else {
		err = s.readJSON(w, r, &req)
	}
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}

	if err := s.validate.Struct(req); err != nil {
		s.removeUpload(cookiePath)
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %s", err))
		return
	}

	job, err := s.svc.Submit(r.Context(), req.submitRequest(cookiePath))
	if err != nil {
		s.removeUpload(cookiePath)
		s.writeSubmitError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, acceptedResponse{JobID: job.ID, Status: string(job.Status)})
}

func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, dst *downloadRequest) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON", domain.ErrValidation)
	}
	return nil
}

func (s *Server) writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		s.writeError(w, http.StatusBadRequest, validationMessage(err))
	case errors.Is(err, storage.ErrUploadTooLarge):
		s.writeError(w, http.StatusBadRequest, "cookie file is too large")
	case errors.Is(err, domain.ErrQueueFull):
		s.writeError(w, http.StatusTooManyRequests, "server is busy, try again later")
	default:
		s.log.Error("submit failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func validationMessage(err error) string {
	return strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": ")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	view, err := s.svc.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.log.Error("status failed", "job", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, viewToResponse(view))
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.svc.Claim(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	case errors.Is(err, domain.ErrNotReady):
		s.writeError(w, http.StatusConflict, "file is not ready")
		return
	case errors.Is(err, domain.ErrAlreadyClaimed):
		s.writeError(w, http.StatusConflict, "file is already being downloaded")
		return
	case err != nil:
		s.log.Error("claim failed", "job", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// The job's lifetime no longer depends on this request once claimed.
	ctx := context.WithoutCancel(r.Context())
	log := s.log.With("job", id)

	f, err := os.Open(job.Artifact.Path)
	if err != nil {
		log.Error("artifact missing", "error", err)
		s.release(ctx, log, id)
		s.writeError(w, http.StatusInternalServerError, "file is unavailable")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", contentType(job.Artifact.Name))
	w.Header().Set("Content-Disposition", contentDisposition(job.Artifact.Name))
	if info, err := f.Stat(); err == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	}
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, f)
	if err != nil {
		log.Warn("streaming failed, keeping file for retry", "written", n, "error", err)
		s.release(ctx, log, id)
		return
	}
	f.Close()

	if _, err := s.svc.Reclaim(ctx, id); err != nil {
		log.Warn("reclaim after download failed", "error", err)
	}
	log.Info("file delivered", "bytes", n)
}

func (s *Server) release(ctx context.Context, log *slog.Logger, id string) {
	if err := s.svc.Release(ctx, id); err != nil && !errors.Is(err, domain.ErrJobNotFound) {
		log.Warn("release failed", "error", err)
	}
}

func (s *Server) removeUpload(path string) {
	if path == "" || s.opts.Uploads == nil {
		return
	}
	if err := s.opts.Uploads.Remove(path); err != nil {
		s.log.Warn("failed to remove upload", "path", path, "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	}
	if s.opts.Stats != nil {
		resp["queue"] = s.opts.Stats()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"name":    "mediagrab",
		"version": s.opts.Version,
		"endpoints": []string{
			"POST /api/download",
			"GET /api/download/{id}/status",
			"GET /api/download/{id}/file",
			"GET /api/health",
		},
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

var mediaTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".opus": "audio/ogg",
	".ogg":  "audio/ogg",
	".aac":  "audio/aac",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".zip":  "application/zip",
}

func contentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := mediaTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

func viewToResponse(v domain.JobView) statusResponse {
	resp := statusResponse{
		JobID:     v.ID,
		Status:    string(v.Status),
		Stage:     v.Stage,
		Progress:  v.Progress,
		Attempt:   v.Attempt,
		Error:     v.Error,
		CreatedAt: v.CreatedAt.UTC().Format(timestampFmt),
		UpdatedAt: v.UpdatedAt.UTC().Format(timestampFmt),
	}
	if v.Ready() {
		resp.DownloadURL = "/api/download/" + v.ID + "/file"
		resp.Filename = v.Filename
	}
	return resp
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.server.Handler.ServeHTTP(w, r)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.server.Addr
}
