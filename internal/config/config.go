package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration file
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	Source   SourceConfig   `yaml:"source"`
	API      APIConfig      `yaml:"api,omitempty"`
	Logging  LoggingConfig  `yaml:"logging,omitempty"`
}

// DatabaseConfig locates the control-plane database
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// StorageConfig locates the backup payload store
type StorageConfig struct {
	Root string `yaml:"root"`
}

// SourceConfig describes the application being backed up
type SourceConfig struct {
	Database AppDatabaseConfig `yaml:"database"`
	Files    DirConfig         `yaml:"files,omitempty"`
	Config   DirConfig         `yaml:"config,omitempty"`
}

// AppDatabaseConfig points at the application's SQLite database
type AppDatabaseConfig struct {
	Path    string   `yaml:"path"`
	Exclude []string `yaml:"exclude,omitempty"` // Tables never included in backups (e.g., sessions)
}

// DirConfig points at a directory tree of backup units
type DirConfig struct {
	Root string `yaml:"root,omitempty"`
}

// APIConfig configures the HTTP API server
type APIConfig struct {
	Listen      string   `yaml:"listen,omitempty"`      // Defaults to ":8080"
	CORSOrigins []string `yaml:"corsOrigins,omitempty"` // Defaults to ["*"]
}

// LoggingConfig configures the process logger
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`  // zerolog level, defaults to "info"
	Pretty bool   `yaml:"pretty,omitempty"` // Human-readable console output instead of JSON
}

// Load reads and parses the config file, expanding environment variables
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Expand environment variables in all path-like fields
	cfg.Database.Path = expandEnv(cfg.Database.Path)
	cfg.Storage.Root = expandEnv(cfg.Storage.Root)
	cfg.Source.Database.Path = expandEnv(cfg.Source.Database.Path)
	for i := range cfg.Source.Database.Exclude {
		cfg.Source.Database.Exclude[i] = expandEnv(cfg.Source.Database.Exclude[i])
	}
	cfg.Source.Files.Root = expandEnv(cfg.Source.Files.Root)
	cfg.Source.Config.Root = expandEnv(cfg.Source.Config.Root)
	cfg.API.Listen = expandEnv(cfg.API.Listen)
	for i := range cfg.API.CORSOrigins {
		cfg.API.CORSOrigins[i] = expandEnv(cfg.API.CORSOrigins[i])
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.API.Listen == "" {
		c.API.Listen = ":8080"
	}
	if len(c.API.CORSOrigins) == 0 {
		c.API.CORSOrigins = []string{"*"}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("config: database.path is required")
	}
	if c.Storage.Root == "" {
		return fmt.Errorf("config: storage.root is required")
	}
	if c.Source.Database.Path == "" {
		return fmt.Errorf("config: source.database.path is required")
	}
	return nil
}

// expandEnv expands environment variable references in the format ${VAR} or $VAR
func expandEnv(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		var varName string
		if match[1] == '{' {
			varName = match[2 : len(match)-1] // ${VAR}
		} else {
			varName = match[1:] // $VAR
		}
		// Return environment variable value or empty string if not set
		return os.Getenv(varName)
	})
}
