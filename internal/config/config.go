package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration settings for the knowledge graph CLI and
// any service embedding the domain layer.
type Config struct {
	// Mode is the deployment mode override; empty means auto-detect (mode.go).
	Mode string `yaml:"mode"`

	// Actor is the default actor address used when none is supplied on the
	// command line.
	Actor string `yaml:"actor"`

	Backend BackendConfig `yaml:"backend"`
	Logging LoggingConfig `yaml:"logging"`
	Archive ArchiveConfig `yaml:"archive"`
}

// BackendConfig selects and configures the graph Backend implementation.
type BackendConfig struct {
	Type string `yaml:"type"` // "memory", "sqlite", "neo4j"

	SQLitePath string `yaml:"sqlite_path"`

	Neo4jURI      string        `yaml:"neo4j_uri"`
	Neo4jUsername string        `yaml:"neo4j_username"`
	Neo4jPassword string        `yaml:"neo4j_password"`
	Neo4jDatabase string        `yaml:"neo4j_database"`
	Neo4jRateRPS  float64       `yaml:"neo4j_rate_rps"`
	Neo4jTimeout  time.Duration `yaml:"neo4j_timeout"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"` // debug, info, warn, error
	JSONFormat bool   `yaml:"json_format"`
	OutputFile string `yaml:"output_file"`
}

// ArchiveConfig controls the optional bbolt-backed snapshot/TxLog export.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns a sensible default configuration: in-memory backend,
// human-readable logging, archive disabled.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Mode:  "",
		Actor: "",
		Backend: BackendConfig{
			Type:         "memory",
			SQLitePath:   filepath.Join(homeDir, ".kgctl", "graph.db"),
			Neo4jDatabase: "neo4j",
			Neo4jRateRPS:  20,
			Neo4jTimeout:  30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			JSONFormat: false,
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Path:    filepath.Join(homeDir, ".kgctl", "archive.bolt"),
		},
	}
}

// Load reads configuration from .env files, environment variables (prefix
// KG_), and an optional YAML file, layered over Default() in that order of
// increasing precedence (file < defaults are overridden by env which is
// overridden by explicit file values read last by viper's merge).
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("mode", cfg.Mode)
	v.SetDefault("actor", cfg.Actor)
	v.SetDefault("backend", cfg.Backend)
	v.SetDefault("logging", cfg.Logging)
	v.SetDefault("archive", cfg.Archive)

	v.SetEnvPrefix("KG")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".kgctl")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".kgctl"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyCredentials(cfg)

	return cfg, nil
}

// loadEnvFiles loads .env files in order of precedence, ignoring any that
// are absent.
func loadEnvFiles() {
	envFiles := []string{".env.local", ".env"}
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			_ = godotenv.Load(file)
		}
	}

	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".kgctl", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		_ = godotenv.Load(homeEnvFile)
	}
}

// applyCredentials resolves Neo4j credentials through the priority chain
// described in credentials.go when the config file did not already supply
// them.
func applyCredentials(cfg *Config) {
	if cfg.Backend.Type != "neo4j" {
		return
	}
	cm := NewCredentialManager()
	if cfg.Backend.Neo4jUsername == "" {
		if v, err := cm.GetNeo4jUsername(); err == nil {
			cfg.Backend.Neo4jUsername = v
		}
	}
	if cfg.Backend.Neo4jPassword == "" {
		if v, err := cm.GetNeo4jPassword(); err == nil {
			cfg.Backend.Neo4jPassword = v
		}
	}
}

// Save writes the configuration to a YAML file, creating parent
// directories as needed.
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("mode", c.Mode)
	v.Set("actor", c.Actor)
	v.Set("backend", c.Backend)
	v.Set("logging", c.Logging)
	v.Set("archive", c.Archive)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
