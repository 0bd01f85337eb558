// Package storage manages the scratch directories jobs run in.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrUploadTooLarge is returned when an upload exceeds its size limit.
var ErrUploadTooLarge = errors.New("upload exceeds size limit")

// ErrOutsideWorkspace guards Remove against paths it does not own.
var ErrOutsideWorkspace = errors.New("path is outside the workspace")

const uploadsDir = "uploads"

// Workspace implements domain.Workspace on the local filesystem. Every job
// owns BaseDir/<id>; pending uploads live in BaseDir/uploads.
type Workspace struct {
	BaseDir string
}

// New creates a Workspace rooted at baseDir.
func New(baseDir string) *Workspace {
	return &Workspace{BaseDir: filepath.Clean(baseDir)}
}

// Init creates the base and upload directories.
func (w *Workspace) Init() error {
	if err := os.MkdirAll(w.UploadsDir(), 0o755); err != nil {
		return fmt.Errorf("create workspace %s: %w", w.BaseDir, err)
	}
	return nil
}

// JobDir returns the directory owned by a job.
func (w *Workspace) JobDir(id string) string {
	return filepath.Join(w.BaseDir, id)
}

// CreateJobDir creates the directory owned by a job.
func (w *Workspace) CreateJobDir(id string) (string, error) {
	path := w.JobDir(id)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("create job directory %s: %w", path, err)
	}
	return path, nil
}

// UploadsDir holds files received with a request, before any job owns them.
func (w *Workspace) UploadsDir() string {
	return filepath.Join(w.BaseDir, uploadsDir)
}

// SaveUpload copies r into a new file under UploadsDir, reading at most
// maxBytes. The partial file is removed when the limit is exceeded.
func (w *Workspace) SaveUpload(r io.Reader, maxBytes int64) (string, error) {
	if err := os.MkdirAll(w.UploadsDir(), 0o755); err != nil {
		return "", fmt.Errorf("create uploads directory: %w", err)
	}
	path := filepath.Join(w.UploadsDir(), uuid.NewString()+".txt")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(r, maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > maxBytes {
		err = ErrUploadTooLarge
	}
	if err != nil {
		_ = os.Remove(path)
		if errors.Is(err, ErrUploadTooLarge) {
			return "", err
		}
		return "", fmt.Errorf("write upload file: %w", err)
	}
	return path, nil
}

// Remove deletes a path inside the workspace. Missing paths are not an
// error, so removing twice is safe.
func (w *Workspace) Remove(path string) error {
	if path == "" {
		return nil
	}
	if !w.contains(path) {
		return fmt.Errorf("%w: %s", ErrOutsideWorkspace, path)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

func (w *Workspace) contains(path string) bool {
	rel, err := filepath.Rel(w.BaseDir, filepath.Clean(path))
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
