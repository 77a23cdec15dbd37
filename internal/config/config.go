package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/alexjbarnes/keep-sync/internal/state"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Toggle policies accepted in KEEP_TOGGLE_POLICY.
const (
	TogglePolicyPush     = "push"
	TogglePolicyConflict = "conflict"
)

// Config holds all environment-based configuration for keep-sync.
type Config struct {
	// Directory holding the markdown mirror. Required.
	MirrorDir string `env:"KEEP_MIRROR_DIR"`

	// Base URL of the note service.
	APIURL string `env:"KEEP_API_URL" envDefault:"https://keep.googleapis.com"`

	// API token. When empty the token saved by "keep-sync login" is used.
	Token string `env:"KEEP_TOKEN"`

	// State database holding the snapshot cache, token and run history.
	// Defaults to ~/.keep-sync/state.db.
	StatePath string `env:"KEEP_STATE_PATH"`

	// Optional rotating log file, in addition to stderr.
	LogFile string `env:"KEEP_LOG_FILE"`

	// Glob patterns, relative to the mirror, that are never indexed.
	Ignore []string `env:"KEEP_IGNORE" envSeparator:","`

	// How a difference that is only an archive or trash toggle is
	// resolved: "push" or "conflict".
	TogglePolicy string `env:"KEEP_TOGGLE_POLICY" envDefault:"push"`

	ListRewriteTimeout time.Duration `env:"KEEP_LIST_REWRITE_TIMEOUT" envDefault:"15s"`
	HTTPTimeout        time.Duration `env:"KEEP_HTTP_TIMEOUT" envDefault:"30s"`

	// Maintain the pinned "Sync Log" note.
	SyncLogNote bool `env:"KEEP_SYNC_LOG_NOTE" envDefault:"true"`

	// Parallel file parsers during local indexing.
	Workers int `env:"KEEP_WORKERS" envDefault:"4"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing the API token to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// The vault confines every file operation to MirrorDir by prefix
	// comparison, which needs an absolute path.
	absDir, err := filepath.Abs(cfg.MirrorDir)
	if err != nil {
		return nil, fmt.Errorf("resolving mirror dir to absolute path: %w", err)
	}

	cfg.MirrorDir = absDir

	if cfg.StatePath == "" {
		path, err := state.DefaultPath()
		if err != nil {
			return nil, err
		}

		cfg.StatePath = path
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.MirrorDir == "" {
		return fmt.Errorf("KEEP_MIRROR_DIR is required")
	}

	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("KEEP_API_URL must be an http or https URL, got %q", c.APIURL)
	}

	switch c.TogglePolicy {
	case TogglePolicyPush, TogglePolicyConflict:
	default:
		return fmt.Errorf("KEEP_TOGGLE_POLICY must be %q or %q, got %q", TogglePolicyPush, TogglePolicyConflict, c.TogglePolicy)
	}

	if c.Workers < 1 {
		return fmt.Errorf("KEEP_WORKERS must be at least 1")
	}

	if c.ListRewriteTimeout <= 0 {
		return fmt.Errorf("KEEP_LIST_REWRITE_TIMEOUT must be positive")
	}

	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("KEEP_HTTP_TIMEOUT must be positive")
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// StatePath returns the state database location for commands that do not
// need the rest of the configuration.
func StatePath() (string, error) {
	_ = godotenv.Load()

	if p := os.Getenv("KEEP_STATE_PATH"); p != "" {
		return p, nil
	}

	return state.DefaultPath()
}

// ResolveToken picks the API token: KEEP_TOKEN when set, else saved.
func (c *Config) ResolveToken(saved string) (string, error) {
	if c.Token != "" {
		return c.Token, nil
	}

	if saved != "" {
		return saved, nil
	}

	return "", fmt.Errorf("no API token: set KEEP_TOKEN or run \"keep-sync login\"")
}
