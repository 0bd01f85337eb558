package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/cwygoda/mediagrab/internal/logger"
)

const appDir = "mediagrab"

// hostingVars mark managed hosts where no local browser profile exists.
var hostingVars = []string{"RENDER", "RAILWAY_ENVIRONMENT", "VERCEL", "FLY_APP_NAME", "DYNO"}

// Config holds application configuration.
type Config struct {
	Port    int    `yaml:"port" toml:"port" env:"PORT" env-default:"8080"`
	WorkDir string `yaml:"work_dir" toml:"work_dir" env:"WORK_DIR"`
	DBPath  string `yaml:"db_path" toml:"db_path" env:"DB_PATH"`

	BinDir     string `yaml:"bin_dir" toml:"bin_dir" env:"BIN_DIR" env-default:"bin"`
	YtdlpPath  string `yaml:"ytdlp_path" toml:"ytdlp_path" env:"YTDLP_PATH"`
	FFmpegPath string `yaml:"ffmpeg_path" toml:"ffmpeg_path" env:"FFMPEG_PATH"`
	PolicyFile string `yaml:"policy_file" toml:"policy_file" env:"POLICY_FILE"`

	MaxConcurrency int           `yaml:"max_concurrency" toml:"max_concurrency" env:"MAX_CONCURRENCY" env-default:"1"`
	MaxQueue       int           `yaml:"max_queue" toml:"max_queue" env:"MAX_QUEUE" env-default:"20"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout" toml:"attempt_timeout" env:"ATTEMPT_TIMEOUT" env-default:"10m"`
	JobTimeout     time.Duration `yaml:"job_timeout" toml:"job_timeout" env:"JOB_TIMEOUT" env-default:"20m"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout" toml:"probe_timeout" env:"PROBE_TIMEOUT" env-default:"60s"`
	JobTTL         time.Duration `yaml:"job_ttl" toml:"job_ttl" env:"JOB_TTL" env-default:"30m"`
	SweepInterval  time.Duration `yaml:"sweep_interval" toml:"sweep_interval" env:"SWEEP_INTERVAL" env-default:"60s"`
	LogRingSize    int           `yaml:"log_ring_size" toml:"log_ring_size" env:"LOG_RING_SIZE" env-default:"200"`

	AllowedPlatforms    []string `yaml:"allowed_platforms" toml:"allowed_platforms" env:"ALLOWED_PLATFORMS" env-separator:","`
	AllowBrowserCookies bool     `yaml:"allow_browser_cookies" toml:"allow_browser_cookies" env:"ALLOW_BROWSER_COOKIES" env-default:"false"`
	CookiesB64          string   `yaml:"-" toml:"-" env:"YTDLP_COOKIES_B64"`
	CookieMaxBytes      int64    `yaml:"cookie_max_bytes" toml:"cookie_max_bytes" env:"COOKIE_MAX_BYTES" env-default:"65536"`
	CORSOrigins         string   `yaml:"cors_origins" toml:"cors_origins" env:"CORS_ORIGINS" env-default:"*"`

	Log logger.Config `yaml:"log" toml:"log"`

	// Hosted is set when a managed hosting environment was detected.
	Hosted bool `yaml:"-" toml:"-"`
}

// Load reads envFile (if present), then configFile (if set), then the
// environment. Environment variables win over file values.
func Load(envFile, configFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := &Config{}
	var err error
	if configFile != "" {
		err = cleanenv.ReadConfig(ExpandPath(configFile), cfg)
	} else {
		err = cleanenv.ReadEnv(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.WorkDir == "" {
		c.WorkDir = filepath.Join(CacheDir(), "jobs")
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(CacheDir(), "history.db")
	}
	c.WorkDir = ExpandPath(c.WorkDir)
	c.DBPath = ExpandPath(c.DBPath)
	c.BinDir = ExpandPath(c.BinDir)
	c.YtdlpPath = ExpandPath(c.YtdlpPath)
	c.FFmpegPath = ExpandPath(c.FFmpegPath)
	c.PolicyFile = ExpandPath(c.PolicyFile)

	if HostingEnvironment() != "" {
		c.Hosted = true
		c.AllowBrowserCookies = false
	}
}

// Validate rejects unusable limits.
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, ok bool) {
		if !ok {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	positive("MAX_CONCURRENCY", c.MaxConcurrency > 0)
	positive("MAX_QUEUE", c.MaxQueue > 0)
	positive("ATTEMPT_TIMEOUT", c.AttemptTimeout > 0)
	positive("JOB_TIMEOUT", c.JobTimeout > 0)
	positive("PROBE_TIMEOUT", c.ProbeTimeout > 0)
	positive("JOB_TTL", c.JobTTL > 0)
	positive("SWEEP_INTERVAL", c.SweepInterval > 0)
	positive("LOG_RING_SIZE", c.LogRingSize > 0)
	positive("COOKIE_MAX_BYTES", c.CookieMaxBytes > 0)
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// CacheDir returns the application cache directory under XDG_CACHE_HOME.
func CacheDir() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, _ := os.UserHomeDir()
		cacheDir = filepath.Join(home, ".cache")
	}
	return filepath.Join(cacheDir, appDir)
}

// HostingEnvironment returns the first hosting marker variable that is set,
// or "".
func HostingEnvironment() string {
	for _, name := range hostingVars {
		if os.Getenv(name) != "" {
			return name
		}
	}
	return ""
}

// ExpandPath replaces a leading ~ with the user's home directory.
func ExpandPath(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
