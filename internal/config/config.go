// Package config loads the raggate configuration from per-environment YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the raggate API configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Auth       AuthConfig       `yaml:"auth"`
	Database   DatabaseConfig   `yaml:"database"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Rag        RagConfig        `yaml:"rag"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []APIKeyConfig `yaml:"api_keys"`
}

// APIKeyConfig binds one bearer key to the caller identity it authenticates.
type APIKeyConfig struct {
	Key        string `yaml:"key"`
	Role       string `yaml:"role"`
	Tier       string `yaml:"tier"`
	Clearance  int    `yaml:"clearance"`
	Employee   string `yaml:"employee"`
	Department string `yaml:"department"`
	Region     string `yaml:"region"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider         string `yaml:"provider"`
	APIKey           string `yaml:"api_key"`
	BaseURL          string `yaml:"base_url"`
	Model            string `yaml:"model"`
	Dimensions       int    `yaml:"dimensions"`
	QueryInstruction string `yaml:"query_instruction"`
	CacheEnabled     bool   `yaml:"cache_enabled"`
}

// GenerationConfig holds generation provider settings.
type GenerationConfig struct {
	Provider    string  `yaml:"provider"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// RagConfig holds pipeline tuning.
type RagConfig struct {
	CompanyNamespace   string          `yaml:"company_namespace"`
	EmployeePrefix     string          `yaml:"employee_prefix"`
	ContextBudget      int             `yaml:"context_budget"`
	SystemPrompt       string          `yaml:"system_prompt"`
	NoContextAnswer    string          `yaml:"no_context_answer"`
	EmbedTimeoutSec    int             `yaml:"embed_timeout_sec"`
	SearchTimeoutSec   int             `yaml:"search_timeout_sec"`
	GenerateTimeoutSec int             `yaml:"generate_timeout_sec"`
	Fusion             FusionConfig    `yaml:"fusion"`
	Ambiguity          AmbiguityConfig `yaml:"ambiguity"`
}

// FusionConfig exposes the rerank blend.
type FusionConfig struct {
	HalfLifeDays   int                `yaml:"half_life_days"`
	MaxBoost       float64            `yaml:"max_boost"`
	PinnedWeight   float64            `yaml:"pinned_weight"`
	TypeWeights    map[string]float64 `yaml:"type_weights"`
	PriorityFloor  float64            `yaml:"priority_floor"`
	MaxPriorityGap float64            `yaml:"max_priority_gap"`
}

// AmbiguityConfig tunes the clarification detector.
type AmbiguityConfig struct {
	ScoreThreshold       float64  `yaml:"score_threshold"`
	MinResultsPerType    int      `yaml:"min_results_per_type"`
	BypassKeywords       []string `yaml:"bypass_keywords"`
	DistributionQuestion string   `yaml:"distribution_question"`
	RuleRefreshSec       int      `yaml:"rule_refresh_sec"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		// Streaming responses hold the connection far longer than a CRUD call.
		c.HTTP.WriteTimeoutSec = 120
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-large"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 3072
	}
	if c.Generation.Model == "" {
		c.Generation.Model = "gpt-4o-mini"
	}
	if c.Rag.CompanyNamespace == "" {
		c.Rag.CompanyNamespace = "company"
	}
	if c.Rag.EmployeePrefix == "" {
		c.Rag.EmployeePrefix = "emp:"
	}
	if c.Rag.ContextBudget <= 0 {
		c.Rag.ContextBudget = 8000
	}
	if c.Rag.Fusion.HalfLifeDays <= 0 {
		c.Rag.Fusion.HalfLifeDays = 180
	}
	if c.Rag.Ambiguity.RuleRefreshSec <= 0 {
		c.Rag.Ambiguity.RuleRefreshSec = 300
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	for i, k := range c.Auth.APIKeys {
		if k.Key == "" {
			// Tolerated so unset ${VAR} placeholders disable an entry.
			continue
		}
		if k.Role == "" {
			return fmt.Errorf("auth.api_keys[%d].role is required", i)
		}
		if k.Clearance < 0 {
			return fmt.Errorf("auth.api_keys[%d].clearance must be non-negative, got %d", i, k.Clearance)
		}
	}
	if c.Rag.Ambiguity.ScoreThreshold < 0 || c.Rag.Ambiguity.ScoreThreshold > 1 {
		return fmt.Errorf("rag.ambiguity.score_threshold must be within [0,1], got %g",
			c.Rag.Ambiguity.ScoreThreshold)
	}
	if c.Rag.Fusion.MaxBoost < 0 {
		return fmt.Errorf("rag.fusion.max_boost must be non-negative, got %g", c.Rag.Fusion.MaxBoost)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
