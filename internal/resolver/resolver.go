// Package resolver picks the artifact a successful attempt produced and
// gives it a client facing name.
package resolver

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/cwygoda/mediagrab/internal/domain"
)

// ErrNoArtifact is returned when a directory holds no usable output.
var ErrNoArtifact = errors.New("no artifact produced")

const maxNameRunes = 150

var partialSuffixes = []string{".part", ".ytdl", ".temp", ".tmp"}

var sidecarExts = map[string]bool{
	".json":        true,
	".description": true,
}

var fragmentPattern = regexp.MustCompile(`\.part-Frag\d+`)

var targetExt = map[domain.MediaType]string{
	domain.MediaVideo: ".mp4",
	domain.MediaAudio: ".mp3",
}

var alternateExts = map[domain.MediaType]map[string]bool{
	domain.MediaVideo: {".mkv": true, ".webm": true, ".mov": true, ".m4v": true},
	domain.MediaAudio: {".m4a": true, ".opus": true, ".ogg": true, ".aac": true, ".wav": true, ".flac": true, ".webm": true},
}

type candidate struct {
	path    string
	ext     string
	score   int
	size    int64
	modTime time.Time
}

// Score rates how well an extension fits the requested media type: 3 for
// the target container, 2 for acceptable alternates, 1 for anything else.
func Score(media domain.MediaType, ext string) int {
	ext = strings.ToLower(ext)
	switch {
	case ext == targetExt[media]:
		return 3
	case alternateExts[media][ext]:
		return 2
	}
	return 1
}

// Resolve selects the best file in dir. When bundle is set and several files
// tie for the best score they are zipped into a single archive.
func Resolve(dir string, media domain.MediaType, title string, bundle bool) (*domain.Artifact, error) {
	candidates, err := scan(dir, media)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNoArtifact
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.score > best.score || (c.score == best.score && c.modTime.After(best.modTime)) {
			best = c
		}
	}

	if bundle {
		var top []candidate
		for _, c := range candidates {
			if c.score == best.score {
				top = append(top, c)
			}
		}
		if len(top) > 1 {
			return bundleFiles(dir, top, FileName(title, media, ".zip"))
		}
	}

	return &domain.Artifact{
		Path: best.path,
		Name: FileName(title, media, best.ext),
		Size: best.size,
	}, nil
}

func scan(dir string, media domain.MediaType) ([]candidate, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read output dir: %w", err)
	}

	var out []candidate
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if isPartial(name) {
			continue
		}
		ext := strings.ToLower(filepath.Ext(name))
		if sidecarExts[ext] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between listing and stat.
			continue
		}
		out = append(out, candidate{
			path:    filepath.Join(dir, name),
			ext:     ext,
			score:   Score(media, ext),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}
	return out, nil
}

func isPartial(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range partialSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return fragmentPattern.MatchString(name)
}

// FileName builds a download name from the title, falling back to the media
// type when the title is empty after sanitizing.
func FileName(title string, media domain.MediaType, ext string) string {
	base := Sanitize(title)
	if base == "" {
		base = string(media)
		if base == "" {
			base = "download"
		}
	}
	return base + strings.ToLower(ext)
}

// Sanitize removes characters unsafe in file names and HTTP headers,
// collapses whitespace and bounds the length.
func Sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case strings.ContainsRune(`\/:*?"<>|`, r):
			b.WriteRune(' ')
		case r == utf8.RuneError, unicode.IsControl(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Join(strings.Fields(b.String()), " ")
	out = strings.Trim(out, ". ")

	if utf8.RuneCountInString(out) > maxNameRunes {
		out = string([]rune(out)[:maxNameRunes])
		out = strings.TrimRight(out, ". ")
	}
	return out
}

func bundleFiles(dir string, files []candidate, name string) (*domain.Artifact, error) {
	path := filepath.Join(dir, "bundle.zip")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create bundle: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, c := range files {
		if err := addToZip(zw, c.path); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finish bundle: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return &domain.Artifact{Path: path, Name: name, Size: info.Size()}, nil
}

func addToZip(zw *zip.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	// Media is already compressed.
	w, err := zw.CreateHeader(&zip.FileHeader{Name: filepath.Base(path), Method: zip.Store})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}
