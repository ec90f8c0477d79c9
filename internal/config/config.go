package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server          ServerConfig          `yaml:"server"`
	Database        DatabaseConfig        `yaml:"database"`
	Reasoner        ReasonerConfig        `yaml:"reasoner"`
	Retrieval       RetrievalConfig       `yaml:"retrieval"`
	Embedding       EmbeddingConfig       `yaml:"embedding"`
	Auth            AuthConfig            `yaml:"auth"`
	Worker          WorkerConfig          `yaml:"worker"`
	Snapshot        SnapshotConfig        `yaml:"snapshot"`
	SnapshotStorage SnapshotStorageConfig `yaml:"snapshot_storage"`
	Log             LogConfig             `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains knowledge base database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ReasonerConfig contains default reasoning settings.
type ReasonerConfig struct {
	RulesPath           string  `yaml:"rules_path"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

// RetrievalConfig contains relevance retrieval settings.
type RetrievalConfig struct {
	ExactWeight        float64  `yaml:"exact_weight"`
	SemanticWeight     float64  `yaml:"semantic_weight"`
	TemporalWeight     float64  `yaml:"temporal_weight"`
	HierarchicalWeight float64  `yaml:"hierarchical_weight"`
	MinRelevance       float64  `yaml:"min_relevance"`
	CacheTTL           Duration `yaml:"cache_ttl"`
}

// EmbeddingConfig contains embedding service settings.
// The embedding scorer is optional; when Enabled is false no OpenAI
// client is constructed and the custom strategy stays unregistered.
type EmbeddingConfig struct {
	APIKey  string `yaml:"-"` // env-only, never in YAML
	Model   string `yaml:"model"`
	Enabled bool   `yaml:"enabled"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// WorkerConfig contains background worker settings.
type WorkerConfig struct {
	SnapshotInterval   Duration `yaml:"snapshot_interval"`
	CacheSweepInterval Duration `yaml:"cache_sweep_interval"`
}

// SnapshotConfig contains local context snapshot settings.
type SnapshotConfig struct {
	Dir string `yaml:"dir"`
}

// SnapshotStorageConfig contains S3-compatible snapshot storage settings.
// An empty bucket leaves snapshot upload disabled.
type SnapshotStorageConfig struct {
	Endpoint  string   `yaml:"endpoint"`
	Region    string   `yaml:"region"`
	Bucket    string   `yaml:"bucket"`
	AccessKey string   `yaml:"-"` // env-only, never in YAML
	SecretKey string   `yaml:"-"` // env-only, never in YAML
	UseSSL    *bool    `yaml:"use_ssl"`
	URLExpiry Duration `yaml:"url_expiry"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("CETERIS_CONFIG_PATH", "config/ceteris.yaml")

	// Missing file is not an error; defaults apply.
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	useSSL := true
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/ceteris.db",
		},
		Reasoner: ReasonerConfig{
			ConfidenceThreshold: 0.5,
		},
		Retrieval: RetrievalConfig{
			ExactWeight:        1.0,
			SemanticWeight:     0.8,
			TemporalWeight:     0.6,
			HierarchicalWeight: 0.7,
			MinRelevance:       0.0,
			CacheTTL:           Duration(5 * time.Minute),
		},
		Embedding: EmbeddingConfig{
			Model:   "text-embedding-3-small",
			Enabled: false,
		},
		Worker: WorkerConfig{
			SnapshotInterval:   Duration(1 * time.Hour),
			CacheSweepInterval: Duration(5 * time.Minute),
		},
		Snapshot: SnapshotConfig{
			Dir: "data/snapshots",
		},
		SnapshotStorage: SnapshotStorageConfig{
			UseSSL:    &useSSL,
			URLExpiry: Duration(15 * time.Minute),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("CETERIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CETERIS_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = Duration(d)
		}
	}
	if v := os.Getenv("CETERIS_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = Duration(d)
		}
	}
	if v := os.Getenv("CETERIS_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = Duration(d)
		}
	}

	// Database
	if v := os.Getenv("CETERIS_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Reasoner
	if v := os.Getenv("CETERIS_RULES_PATH"); v != "" {
		cfg.Reasoner.RulesPath = v
	}
	if v := os.Getenv("CETERIS_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Reasoner.ConfidenceThreshold = f
		}
	}

	// Retrieval
	if v := os.Getenv("CETERIS_MIN_RELEVANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Retrieval.MinRelevance = f
		}
	}
	if v := os.Getenv("CETERIS_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Retrieval.CacheTTL = Duration(d)
		}
	}

	// Embedding (OPENAI_API_KEY is industry convention)
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("CETERIS_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("CETERIS_EMBEDDING_ENABLED"); v != "" {
		cfg.Embedding.Enabled = v == "true" || v == "1"
	}

	// Auth
	if v := os.Getenv("CETERIS_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// Worker
	if v := os.Getenv("CETERIS_SNAPSHOT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.SnapshotInterval = Duration(d)
		}
	}
	if v := os.Getenv("CETERIS_CACHE_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.CacheSweepInterval = Duration(d)
		}
	}

	// Snapshot
	if v := os.Getenv("CETERIS_SNAPSHOT_DIR"); v != "" {
		cfg.Snapshot.Dir = v
	}

	// Snapshot storage
	if v := os.Getenv("CETERIS_S3_ENDPOINT"); v != "" {
		cfg.SnapshotStorage.Endpoint = v
	}
	if v := os.Getenv("CETERIS_S3_REGION"); v != "" {
		cfg.SnapshotStorage.Region = v
	}
	if v := os.Getenv("CETERIS_S3_BUCKET"); v != "" {
		cfg.SnapshotStorage.Bucket = v
	}
	if v := os.Getenv("CETERIS_S3_ACCESS_KEY"); v != "" {
		cfg.SnapshotStorage.AccessKey = v
	}
	if v := os.Getenv("CETERIS_S3_SECRET_KEY"); v != "" {
		cfg.SnapshotStorage.SecretKey = v
	}
	if v := os.Getenv("CETERIS_S3_USE_SSL"); v != "" {
		useSSL := v == "true" || v == "1"
		cfg.SnapshotStorage.UseSSL = &useSSL
	}
	if v := os.Getenv("CETERIS_S3_URL_EXPIRY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SnapshotStorage.URLExpiry = Duration(d)
		}
	}

	// Log
	if v := os.Getenv("CETERIS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("CETERIS_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// validate checks that required configuration values are set.
// In dev mode (CETERIS_DEV_MODE=true), API key validation is skipped.
func (c *Config) validate() error {
	if c.Reasoner.ConfidenceThreshold < 0 || c.Reasoner.ConfidenceThreshold > 1 {
		return errors.New("reasoner.confidence_threshold must be between 0 and 1")
	}
	if c.Retrieval.MinRelevance < 0 || c.Retrieval.MinRelevance > 1 {
		return errors.New("retrieval.min_relevance must be between 0 and 1")
	}

	if os.Getenv("CETERIS_DEV_MODE") == "true" {
		return nil
	}

	if c.Auth.APIKey == "" {
		return errors.New("CETERIS_API_KEY is required")
	}
	if c.Embedding.Enabled && c.Embedding.APIKey == "" {
		return errors.New("OPENAI_API_KEY is required when embedding is enabled")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
