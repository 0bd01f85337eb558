package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/cwygoda/mediagrab/internal/domain"
)

// FetchAction runs one retrieval synchronously and copies the artifact to
// the output directory.
func FetchAction(ctx context.Context, cmd *cli.Command) error {
	rawURL := cmd.Args().First()
	if rawURL == "" {
		return cli.Exit("a URL is required", 2)
	}

	app, err := NewAppContext(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	req := domain.SubmitRequest{
		URL:          rawURL,
		Media:        string(domain.MediaVideo),
		Playlist:     cmd.Bool("playlist"),
		MaxHeight:    cmd.Int("height"),
		AudioBitrate: cmd.Int("bitrate"),
		Browser:      cmd.String("browser"),
	}
	if cmd.Bool("audio") {
		req.Media = string(domain.MediaAudio)
	}
	if path := cmd.String("cookies"); path != "" {
		if req.CookiePath, err = stageCookies(app, path); err != nil {
			return err
		}
	}

	payload, err := app.Service.Normalize(req)
	if err != nil {
		app.Workspace.Remove(req.CookiePath)
		return err
	}

	job, err := app.Executor.RunNow(ctx, payload)
	if err != nil {
		return fmt.Errorf("run job: %w", err)
	}
	defer app.Workspace.Remove(job.WorkDir)

	if job.Status != domain.StatusDone || job.Artifact == nil {
		return cli.Exit(fmt.Sprintf("download failed: %s", job.Error), 1)
	}

	dst, err := copyArtifact(job.Artifact, cmd.String("out"))
	if err != nil {
		return err
	}
	fmt.Printf("%s (%s)\n", dst, humanize.Bytes(uint64(job.Artifact.Size)))
	return nil
}

// stageCookies copies a local cookie jar into the uploads area so the job
// can take ownership of it.
func stageCookies(app *AppContext, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open cookies: %w", err)
	}
	defer f.Close()
	return app.Workspace.SaveUpload(f, app.Config.CookieMaxBytes)
}

func copyArtifact(a *domain.Artifact, outDir string) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	src, err := os.Open(a.Path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer src.Close()

	dstPath := filepath.Join(outDir, a.Name)
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dstPath, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return "", fmt.Errorf("copy artifact: %w", err)
	}
	return dstPath, dst.Close()
}
