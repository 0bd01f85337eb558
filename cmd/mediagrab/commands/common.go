package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/cwygoda/mediagrab/internal/adapter/memory"
	"github.com/cwygoda/mediagrab/internal/adapter/process"
	"github.com/cwygoda/mediagrab/internal/adapter/sqlite"
	"github.com/cwygoda/mediagrab/internal/config"
	"github.com/cwygoda/mediagrab/internal/credential"
	"github.com/cwygoda/mediagrab/internal/domain"
	"github.com/cwygoda/mediagrab/internal/logger"
	"github.com/cwygoda/mediagrab/internal/platform"
	"github.com/cwygoda/mediagrab/internal/storage"
	"github.com/cwygoda/mediagrab/internal/strategy"
	"github.com/cwygoda/mediagrab/internal/worker"
)

// ConfigFlags are shared by every command that loads configuration.
func ConfigFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "env",
			Usage: "path to a .env file",
			Value: ".env",
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "optional YAML or TOML config file",
		},
	}
}

// AppContext holds the wired components a command needs.
type AppContext struct {
	Config    *config.Config
	Log       *slog.Logger
	Store     *memory.Store
	Workspace *storage.Workspace
	History   *sqlite.History
	Platforms *platform.Registry
	Executor  *worker.JobExecutor
	Scheduler *worker.Scheduler
	Service   *domain.JobService
}

// NewAppContext loads configuration and wires the retrieval pipeline.
func NewAppContext(cmd *cli.Command) (*AppContext, error) {
	cfg, err := config.Load(cmd.String("env"), cmd.String("config"))
	if err != nil {
		return nil, err
	}
	log := logger.New(cfg.Log, os.Stderr)
	if cfg.Hosted {
		log.Info("hosting environment detected, browser cookies disabled", "marker", config.HostingEnvironment())
	}

	platforms, err := platform.NewAllowList(cfg.AllowedPlatforms)
	if err != nil {
		return nil, fmt.Errorf("platform allow-list: %w", err)
	}

	policy, err := strategy.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	runner := process.NewRunner(process.ExtractorCandidates(cfg.YtdlpPath, cfg.BinDir))
	chain, err := strategy.NewChainFromPolicy(runner, policy, platforms, strategy.EngineOptions{
		FFmpegLocation: process.FFmpegLocation(cfg.FFmpegPath, cfg.BinDir),
		AttemptTimeout: cfg.AttemptTimeout,
		ProbeTimeout:   cfg.ProbeTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("strategy chain: %w", err)
	}

	var serverJar []byte
	if cfg.CookiesB64 != "" {
		if serverJar, err = credential.DecodeServerJar(cfg.CookiesB64); err != nil {
			return nil, fmt.Errorf("YTDLP_COOKIES_B64: %w", err)
		}
	}

	ws := storage.New(cfg.WorkDir)
	if err := ws.Init(); err != nil {
		return nil, fmt.Errorf("init workspace: %w", err)
	}

	history, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	store := memory.New(cfg.LogRingSize)
	exec := worker.NewExecutor(store, ws, chain, history, worker.ExecutorOptions{
		JobTimeout:    cfg.JobTimeout,
		ServerCookies: serverJar,
	})
	sched := worker.New(store, exec, worker.Options{
		MaxConcurrency: cfg.MaxConcurrency,
		MaxQueue:       cfg.MaxQueue,
	})
	svc := domain.NewJobService(store, sched, platforms, ws, domain.ServiceOptions{
		CookieCheck:    credential.ValidateFile,
		BrowserCookies: cfg.AllowBrowserCookies,
	})

	return &AppContext{
		Config:    cfg,
		Log:       log,
		Store:     store,
		Workspace: ws,
		History:   history,
		Platforms: platforms,
		Executor:  exec,
		Scheduler: sched,
		Service:   svc,
	}, nil
}

// Close releases resources held by the context.
func (a *AppContext) Close() {
	if a.History != nil {
		if err := a.History.Close(); err != nil {
			a.Log.Warn("close history", "error", err)
		}
	}
}
