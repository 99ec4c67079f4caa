// Package config handles loading and managing quill configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the quill configuration.
type Config struct {
	Data   DataConfig   `toml:"data"`
	Server ServerConfig `toml:"server"`
	Engine EngineConfig `toml:"engine"`

	// Computed paths (not from config file)
	HomeDir string `toml:"-"`
}

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir     string `toml:"data_dir"`
	DatabaseURL string `toml:"database_url"`
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	BindAddr     string   `toml:"bind_addr"` // defaults to 127.0.0.1
	APIPort      int      `toml:"api_port"`  // HTTP server port (default: 8080)
	APIKey       string   `toml:"api_key"`   // API authentication key
	RateLimitQPS int      `toml:"rate_limit_qps"`
	CORSOrigins  []string `toml:"cors_origins"` // empty disables CORS
}

// EngineConfig holds fetch-engine configuration.
type EngineConfig struct {
	SearchBackend string `toml:"search_backend"` // "fts" or "plain"
	MaxFetch      int    `toml:"max_fetch"`      // num_before+num_after ceiling
	MirrorMode    bool   `toml:"mirror_mode"`    // legacy mirrored-message folding
	DefaultRealm  int64  `toml:"default_realm"`
}

// DefaultHome returns the default quill home directory.
// Respects the QUILL_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("QUILL_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".quill"
	}
	return filepath.Join(home, ".quill")
}

// Load reads the configuration from the specified file.
// If path is empty, uses the default location (~/.quill/config.toml).
func Load(path string) (*Config, error) {
	homeDir := DefaultHome()

	if path == "" {
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg := &Config{
		HomeDir: homeDir,
		// Defaults
		Data: DataConfig{
			DataDir: homeDir,
		},
		Server: ServerConfig{
			APIPort:      8080,
			RateLimitQPS: 20,
		},
		Engine: EngineConfig{
			SearchBackend: "fts",
			MaxFetch:      5000,
			DefaultRealm:  1,
		},
	}

	// Config file is optional - use defaults if not present
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Data.DataDir = expandPath(cfg.Data.DataDir)

	if cfg.Engine.SearchBackend != "fts" && cfg.Engine.SearchBackend != "plain" {
		return nil, fmt.Errorf("invalid search_backend %q (want \"fts\" or \"plain\")", cfg.Engine.SearchBackend)
	}
	if cfg.Engine.MaxFetch <= 0 {
		return nil, fmt.Errorf("max_fetch must be positive, got %d", cfg.Engine.MaxFetch)
	}

	return cfg, nil
}

// DatabasePath returns the path to the SQLite database.
func (c *Config) DatabasePath() string {
	if c.Data.DatabaseURL != "" {
		return c.Data.DatabaseURL
	}
	return filepath.Join(c.Data.DataDir, "quill.db")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
