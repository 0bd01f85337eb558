package process

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Candidate is one way of invoking a tool: an executable plus leading
// arguments, e.g. an interpreter and a module flag.
type Candidate struct {
	Path string
	Args []string
}

func (c Candidate) String() string {
	if len(c.Args) == 0 {
		return c.Path
	}
	return c.Path + " " + strings.Join(c.Args, " ")
}

// ExtractorCandidates lists the ways to invoke yt-dlp in priority order:
// explicit override, bundled binary, well-known system paths, PATH lookup and
// finally the Python module.
func ExtractorCandidates(override, binDir string) []Candidate {
	var out []Candidate
	if override != "" {
		out = append(out, Candidate{Path: override})
	}
	if binDir != "" {
		local := filepath.Join(binDir, executableName("yt-dlp"))
		if isFile(local) {
			abs, err := filepath.Abs(local)
			if err == nil {
				local = abs
			}
			out = append(out, Candidate{Path: local})
		}
	}
	return append(out,
		Candidate{Path: "/usr/bin/yt-dlp"},
		Candidate{Path: "/usr/local/bin/yt-dlp"},
		Candidate{Path: "yt-dlp"},
		Candidate{Path: "python3", Args: []string{"-m", "yt_dlp"}},
		Candidate{Path: "python", Args: []string{"-m", "yt_dlp"}},
	)
}

// FFmpegLocation returns the ffmpeg path handed to the extraction engine, or
// "" to let the engine find ffmpeg on its own PATH.
func FFmpegLocation(override, binDir string) string {
	if override != "" {
		return override
	}
	if binDir != "" {
		local := filepath.Join(binDir, executableName("ffmpeg"))
		if isFile(local) {
			if abs, err := filepath.Abs(local); err == nil {
				return abs
			}
			return local
		}
	}
	return ""
}

func executableName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
