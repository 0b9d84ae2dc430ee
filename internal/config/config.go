// Package config loads the application configuration from a JSON file,
// creating one with defaults on first run. Key names follow the config
// file format the catalog tooling has always used, so an existing
// config.json keeps working.
package config

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/robfig/cron/v3"
)

// Config is the full application configuration.
type Config struct {
	CSVPath            string `json:"csv_path"`
	ModelName          string `json:"model_name"`
	IndexPath          string `json:"index_path"`
	EmbeddingsPath     string `json:"embeddings_path"`
	ResultsDir         string `json:"results_dir"`
	HNSWM              int    `json:"hnsw_m"`
	HNSWEfConstruction int    `json:"hnsw_ef_construction"`
	HNSWEfSearch       int    `json:"hnsw_ef_search"`
	NWorkers           int    `json:"n_workers"`
	BatchSize          int    `json:"batch_size"`
	HistoryPath        string `json:"history_path,omitempty"`
	SecretsFile        string `json:"secrets_file,omitempty"`

	Embedding   EmbeddingConfig   `json:"embedding,omitempty"`
	Advisor     AdvisorConfig     `json:"advisor,omitempty"`
	Server      ServerConfig      `json:"server,omitempty"`
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
}

// EmbeddingConfig selects and configures the embedding backend.
type EmbeddingConfig struct {
	// Provider is "remote" (an OpenAI-compatible /v1/embeddings endpoint
	// serving the configured model) or "hash" (local feature hashing, for
	// offline runs and tests).
	Provider       string `json:"provider,omitempty"`
	URL            string `json:"url,omitempty"`
	APIKey         string `json:"api_key,omitempty"` // supports ${ENV_VAR} expansion
	Dimensions     int    `json:"dimensions,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// AdvisorConfig configures the AI ranking advisor. An empty APIKey after
// env expansion disables it.
type AdvisorConfig struct {
	APIKey      string  `json:"api_key,omitempty"` // supports ${ENV_VAR} expansion
	Model       string  `json:"model,omitempty"`
	URL         string  `json:"url,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
}

// MaintenanceConfig configures background upkeep.
type MaintenanceConfig struct {
	// RefreshSchedule is a cron expression; on each tick the corpus file
	// is checked for changes and the index rebuilt when it moved. Empty
	// disables scheduled refresh.
	RefreshSchedule string `json:"refresh_schedule,omitempty"`

	// UpkeepSchedule is a cron expression for history database upkeep
	// (retention pruning and optimization). Empty disables it.
	UpkeepSchedule string `json:"upkeep_schedule,omitempty"`

	// HistoryRetentionDays prunes search and batch history older than
	// this many days. Zero or negative keeps everything.
	HistoryRetentionDays int `json:"history_retention_days,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		CSVPath:            "catmat.csv",
		ModelName:          "intfloat/e5-base-v2",
		IndexPath:          "catmat_hnsw_index.gob",
		EmbeddingsPath:     "catmat_embeddings.bin",
		ResultsDir:         "resultados",
		HNSWM:              32,
		HNSWEfConstruction: 200,
		HNSWEfSearch:       100,
		NWorkers:           defaultWorkers(),
		BatchSize:          64,
		HistoryPath:        "catsearch.db",
		Embedding: EmbeddingConfig{
			Provider:       "remote",
			URL:            "http://localhost:8080/v1/embeddings",
			TimeoutSeconds: 60,
		},
		Advisor: AdvisorConfig{
			APIKey:      "${OPENAI_API_KEY}",
			Model:       "gpt-4o-mini",
			MaxTokens:   800,
			Temperature: 0.3,
		},
		Server: ServerConfig{
			Port: 7860,
		},
		Maintenance: MaintenanceConfig{
			HistoryRetentionDays: 90,
		},
	}
}

func defaultWorkers() int {
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	return n
}

// Load reads configuration from path. A missing file is created with
// defaults. Values present in the file override defaults; keys the file
// omits keep them.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
		log.Printf("Created default configuration at %s", path)
		return cfg.finish()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg.finish()
}

// finish runs the post-parse pipeline: tilde expansion, secrets loading,
// env expansion, validation.
func (c *Config) finish() (*Config, error) {
	// Expand tilde in path fields before anything else so that
	// secrets_file can reference ~/... paths.
	c.expandTilde()

	// Load secrets file (KEY=VALUE) into the environment before
	// expanding ${ENV_VAR} placeholders in the config.
	if err := c.loadSecretsFile(); err != nil {
		return nil, fmt.Errorf("failed to load secrets file: %w", err)
	}

	c.expandEnvVars()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return c, nil
}

// Save writes the configuration to a file. Placeholders like
// ${OPENAI_API_KEY} are written literally; expansion happens at load.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// expandEnvVars expands ${ENV_VAR} references in configuration values.
func (c *Config) expandEnvVars() {
	c.CSVPath = os.ExpandEnv(c.CSVPath)
	c.IndexPath = os.ExpandEnv(c.IndexPath)
	c.EmbeddingsPath = os.ExpandEnv(c.EmbeddingsPath)
	c.ResultsDir = os.ExpandEnv(c.ResultsDir)
	c.HistoryPath = os.ExpandEnv(c.HistoryPath)
	c.SecretsFile = os.ExpandEnv(c.SecretsFile)

	c.Embedding.URL = os.ExpandEnv(c.Embedding.URL)
	c.Embedding.APIKey = os.ExpandEnv(c.Embedding.APIKey)
	c.Advisor.URL = os.ExpandEnv(c.Advisor.URL)
	c.Advisor.APIKey = os.ExpandEnv(c.Advisor.APIKey)
}

// Validate checks the configuration for values the engine cannot run
// with.
func (c *Config) Validate() error {
	if c.CSVPath == "" {
		return fmt.Errorf("csv_path must be set")
	}
	if c.EmbeddingsPath == "" || c.IndexPath == "" {
		return fmt.Errorf("embeddings_path and index_path must be set")
	}
	if c.HNSWM <= 0 {
		return fmt.Errorf("hnsw_m must be greater than 0")
	}
	if c.HNSWEfConstruction <= 0 || c.HNSWEfSearch <= 0 {
		return fmt.Errorf("hnsw_ef_construction and hnsw_ef_search must be greater than 0")
	}
	if c.NWorkers <= 0 {
		return fmt.Errorf("n_workers must be greater than 0")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be greater than 0")
	}

	switch c.Embedding.Provider {
	case "", "remote", "hash":
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}

	if c.Advisor.Temperature < 0 || c.Advisor.Temperature > 2 {
		return fmt.Errorf("advisor temperature %.2f out of range [0, 2]", c.Advisor.Temperature)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}

	if c.Maintenance.RefreshSchedule != "" {
		if _, err := cron.ParseStandard(c.Maintenance.RefreshSchedule); err != nil {
			return fmt.Errorf("invalid refresh_schedule %q: %w", c.Maintenance.RefreshSchedule, err)
		}
	}
	if c.Maintenance.UpkeepSchedule != "" {
		if _, err := cron.ParseStandard(c.Maintenance.UpkeepSchedule); err != nil {
			return fmt.Errorf("invalid upkeep_schedule %q: %w", c.Maintenance.UpkeepSchedule, err)
		}
	}

	return nil
}

// expandTilde replaces a leading "~/" with the user's home directory in
// path-valued config fields. Called before env-var expansion so that
// both "~/foo" and "${SOME_PATH}" work.
func (c *Config) expandTilde() {
	home, err := os.UserHomeDir()
	if err != nil {
		return // can't expand, leave as-is
	}
	expand := func(p string) string {
		if p == "~" {
			return home
		}
		if strings.HasPrefix(p, "~/") {
			return filepath.Join(home, p[2:])
		}
		return p
	}

	c.CSVPath = expand(c.CSVPath)
	c.IndexPath = expand(c.IndexPath)
	c.EmbeddingsPath = expand(c.EmbeddingsPath)
	c.ResultsDir = expand(c.ResultsDir)
	c.HistoryPath = expand(c.HistoryPath)
	c.SecretsFile = expand(c.SecretsFile)
}

// loadSecretsFile reads a KEY=VALUE file into the process environment.
// Blank lines and lines starting with '#' are ignored.
// Existing environment variables are NOT overridden (shell/systemd wins).
// If SecretsFile is empty or the file doesn't exist, this is a no-op.
func (c *Config) loadSecretsFile() error {
	if c.SecretsFile == "" {
		return nil
	}

	f, err := os.Open(c.SecretsFile)
	if os.IsNotExist(err) {
		return nil // missing file is fine
	}
	if err != nil {
		return fmt.Errorf("cannot open secrets file %s: %w", c.SecretsFile, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		// Strip optional surrounding quotes from value
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		// Don't override existing env vars
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
	return scanner.Err()
}
