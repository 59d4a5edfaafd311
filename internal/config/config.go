package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Daemon contains scheduler timing and worker sizing.
type Daemon struct {
	ScanInterval    int    `toml:"scan_interval"`
	ScanWorkers     int    `toml:"scan_workers"`
	TransferWorkers int    `toml:"transfer_workers"`
	LockPath        string `toml:"lock_path"`
}

// Database contains the user store location.
type Database struct {
	Path string `toml:"path"`
}

// Source contains the content-source API connection.
type Source struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Limits contains transfer policy ceilings.
type Limits struct {
	MaxFileSize int64 `toml:"max_file_size"`
}

// SMTP contains outbound user-notification mail settings. Leaving Host empty
// disables user email entirely.
type SMTP struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	From     string `toml:"from"`
}

// Operator contains the operator alert channel. Leaving Topic empty disables
// operator notifications.
type Operator struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains log output configuration.
type Logging struct {
	Format     string `toml:"format"`
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

// Config is the full daemon configuration.
type Config struct {
	Daemon   Daemon   `toml:"daemon"`
	Database Database `toml:"database"`
	Source   Source   `toml:"source"`
	Limits   Limits   `toml:"limits"`
	SMTP     SMTP     `toml:"smtp"`
	Operator Operator `toml:"operator"`
	Logging  Logging  `toml:"logging"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Daemon: Daemon{
			ScanInterval:    600,
			ScanWorkers:     4,
			TransferWorkers: 8,
			LockPath:        "wsyncd.lock",
		},
		Database: Database{
			Path: "wsyncd.db",
		},
		Source: Source{
			RequestTimeout: 30,
		},
		Limits: Limits{
			MaxFileSize: 5_000_000_000,
		},
		SMTP: SMTP{
			Port: 465,
		},
		Operator: Operator{
			RequestTimeout: 10,
		},
		Logging: Logging{
			Format:     "text",
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 5,
		},
	}
}

// Load reads the TOML file at path over the defaults. A missing file is not
// an error; the defaults are returned unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Daemon.ScanInterval <= 0 {
		return errors.New("daemon.scan_interval must be positive")
	}
	if c.Daemon.ScanWorkers <= 0 || c.Daemon.TransferWorkers <= 0 {
		return errors.New("daemon worker counts must be positive")
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database.path is required")
	}
	if strings.TrimSpace(c.Source.BaseURL) == "" {
		return errors.New("source.base_url is required")
	}
	if c.Limits.MaxFileSize <= 0 {
		return errors.New("limits.max_file_size must be positive")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q not recognized", c.Logging.Format)
	}
	if c.SMTP.Host != "" && strings.TrimSpace(c.SMTP.From) == "" {
		return errors.New("smtp.from is required when smtp.host is set")
	}
	return nil
}

// EnsureDirectories creates the parents of every configured file path.
func (c *Config) EnsureDirectories() error {
	for _, p := range []string{c.Database.Path, c.Daemon.LockPath, c.Logging.File} {
		if p == "" {
			continue
		}
		dir := filepath.Dir(p)
		if dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
