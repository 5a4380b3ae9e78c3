package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// CONFIGURATION LOADER
// ============================================================================

// Loader layers configuration sources. From lowest to highest priority:
//  1. defaults in code
//  2. base.{yaml,json}
//  3. <environment>.{yaml,json}
//  4. local.{yaml,json} (development only)
//  5. environment variables
type Loader struct {
	basePath    string
	environment Environment
	lookupEnv   func(string) (string, bool)
	fileLoaders []FileLoader
}

// FileLoader decodes one configuration file format.
type FileLoader interface {
	Load(reader io.Reader, target interface{}) error
	Extension() string
}

// NewLoader creates a loader reading files from basePath.
func NewLoader(basePath string, env Environment) *Loader {
	if basePath == "" {
		basePath = "config"
	}
	return &Loader{
		basePath:    basePath,
		environment: env,
		lookupEnv:   os.LookupEnv,
		fileLoaders: []FileLoader{&YAMLLoader{}, &JSONLoader{}},
	}
}

// BasePath is the directory configuration files are read from.
func (l *Loader) BasePath() string {
	return l.basePath
}

// Load builds and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := Defaults(l.environment)
	cfg.LoadedFrom = []string{"defaults"}

	if err := l.loadFile("base", cfg); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load base config: %w", err)
	}

	envFile := strings.ToLower(string(l.environment))
	if err := l.loadFile(envFile, cfg); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load %s config: %w", envFile, err)
	}

	if l.environment == Development {
		if err := l.loadFile("local", cfg); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load local config: %w", err)
		}
	}

	l.loadEnvironmentVariables(cfg)
	cfg.LoadedFrom = append(cfg.LoadedFrom, "environment")
	cfg.Environment = l.environment

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile applies the first of name.yaml or name.json that exists.
func (l *Loader) loadFile(name string, cfg *Config) error {
	for _, loader := range l.fileLoaders {
		path := filepath.Join(l.basePath, name+"."+loader.Extension())

		file, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}

		err = loader.Load(file, cfg)
		file.Close()
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}

		cfg.LoadedFrom = append(cfg.LoadedFrom, path)
		return nil
	}
	return os.ErrNotExist
}

// loadEnvironmentVariables overlays environment variables on cfg.
func (l *Loader) loadEnvironmentVariables(cfg *Config) {
	l.setInt("SERVER_PORT", &cfg.Server.Port)
	l.setString("SERVER_HOST", &cfg.Server.Host)
	l.setString("LOG_LEVEL", &cfg.Logging.Level)

	l.setString("STORAGE_PROVIDER", &cfg.Storage.Provider)
	l.setString("SUPABASE_URL", &cfg.Storage.SupabaseURL)
	l.setString("SUPABASE_ANON_KEY", &cfg.Storage.SupabaseKey)
	l.setString("SUPABASE_SERVICE_KEY", &cfg.Storage.SupabaseKey)
	l.setString("TABLE_NAME", &cfg.Storage.TableName)
	l.setString("AWS_REGION", &cfg.Storage.Region)

	l.setFloat("CHAIN_THRESHOLD_MINUTES", &cfg.Chains.ThresholdMinutes)
	l.setInt("CHAIN_LOOKBACK_HOURS", &cfg.Chains.LookbackHours)
	l.setInt("CHAIN_MAX_CONCURRENT_PERSISTS", &cfg.Chains.MaxConcurrentPersists)
	l.setDuration("CHAIN_RUN_TIMEOUT", &cfg.Chains.RunTimeout)
	l.setBool("CHAIN_REUSE_ON_CONFLICT", &cfg.Chains.ReuseOnConflict)
	l.setBool("CHAIN_KEYWORD_SIGNALS", &cfg.Chains.KeywordSignals)

	l.setString("AUTH_MODE", &cfg.Auth.Mode)
	l.setString("JWT_SECRET", &cfg.Auth.JWTSecret)
	l.setString("JWT_ISSUER", &cfg.Auth.Issuer)
	l.setString("JWT_AUDIENCE", &cfg.Auth.Audience)

	l.setString("OPENAI_API_KEY", &cfg.LLM.OpenAIKey)
	l.setString("OPENAI_BASE_URL", &cfg.LLM.OpenAIBaseURL)
	l.setString("GEMINI_API_KEY", &cfg.LLM.GeminiKey)
	l.setString("DEFAULT_MODEL", &cfg.LLM.DefaultModel)
	l.setDuration("LLM_TIMEOUT", &cfg.LLM.Timeout)

	l.setString("EMBEDDING_PROVIDER", &cfg.Similarity.Provider)
	l.setString("EMBEDDING_MODEL", &cfg.Similarity.EmbeddingModel)
	l.setFloat("SIMILARITY_THRESHOLD", &cfg.Similarity.Threshold)
	l.setFloat("DUPLICATE_THRESHOLD", &cfg.Similarity.DuplicateThreshold)

	l.setBool("ENABLE_EVENTS", &cfg.Events.Enabled)
	l.setString("EVENT_BUS_NAME", &cfg.Events.BusName)
	l.setString("EVENT_SOURCE", &cfg.Events.Source)

	l.setBool("ENABLE_METRICS", &cfg.Metrics.Enabled)
	l.setBool("ENABLE_TRACING", &cfg.Tracing.Enabled)
	l.setString("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Tracing.Endpoint)
	l.setFloat("TRACING_SAMPLE_RATE", &cfg.Tracing.SampleRate)

	l.setBool("ENABLE_CIRCUIT_BREAKER", &cfg.Resilience.BreakerEnabled)

	if val, ok := l.lookupEnv("CORS_ALLOWED_ORIGINS"); ok && val != "" {
		origins := strings.Split(val, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORS.AllowedOrigins = origins
	}
}

func (l *Loader) setString(key string, target *string) {
	if val, ok := l.lookupEnv(key); ok && val != "" {
		*target = val
	}
}

func (l *Loader) setInt(key string, target *int) {
	if val, ok := l.lookupEnv(key); ok {
		if n, err := strconv.Atoi(val); err == nil {
			*target = n
		}
	}
}

func (l *Loader) setFloat(key string, target *float64) {
	if val, ok := l.lookupEnv(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*target = f
		}
	}
}

func (l *Loader) setBool(key string, target *bool) {
	if val, ok := l.lookupEnv(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			*target = b
		}
	}
}

func (l *Loader) setDuration(key string, target *time.Duration) {
	if val, ok := l.lookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			*target = d
		}
	}
}

// Defaults returns the configuration used before any source is applied.
func Defaults(env Environment) *Config {
	return &Config{
		Environment: env,
		Server: Server{
			Port:            8080,
			Host:            "0.0.0.0",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RequestTimeout:  60 * time.Second,
		},
		Logging: Logging{Level: "info"},
		Storage: Storage{
			Provider:  "memory",
			TableName: "prompt-intelligence-" + strings.ToLower(string(env)),
			Region:    "us-east-1",
		},
		Chains: Chains{
			ThresholdMinutes:      30,
			LookbackHours:         168,
			MaxConcurrentPersists: 4,
			RunTimeout:            30 * time.Second,
			KeywordSignals:        true,
		},
		Auth: Auth{Mode: "none"},
		LLM: LLM{
			DefaultModel: "gpt-4o",
			Timeout:      60 * time.Second,
		},
		Similarity: Similarity{
			Provider:           "openai",
			EmbeddingModel:     "text-embedding-3-large",
			Threshold:          0.7,
			DuplicateThreshold: 0.9,
			Limit:              10,
		},
		Events: Events{
			BusName: "default",
			Source:  "prompt-intelligence",
		},
		Metrics: Metrics{
			Enabled:   true,
			Namespace: "prompt_intelligence",
			Path:      "/metrics",
		},
		Tracing: Tracing{
			ServiceName: "prompt-intelligence",
			SampleRate:  0.1,
			Insecure:    true,
		},
		Resilience: Resilience{
			BreakerEnabled:   true,
			FailureThreshold: 0.8,
			MinRequests:      5,
			OpenTimeout:      60 * time.Second,
		},
		CORS: CORS{AllowedOrigins: []string{"*"}},
	}
}

// EnvironmentFromEnv reads ENVIRONMENT, defaulting to development.
func EnvironmentFromEnv() Environment {
	switch Environment(strings.ToLower(os.Getenv("ENVIRONMENT"))) {
	case Production, "prod":
		return Production
	case Staging:
		return Staging
	default:
		return Development
	}
}

// Load reads configuration from CONFIG_DIR (default ./config) for the
// environment named by ENVIRONMENT.
func Load() (*Config, *Loader, error) {
	dir := os.Getenv("CONFIG_DIR")
	if dir == "" {
		dir = "config"
	}
	loader := NewLoader(dir, EnvironmentFromEnv())
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, loader, nil
}

// ============================================================================
// FILE LOADERS
// ============================================================================

// YAMLLoader loads configuration from YAML files.
type YAMLLoader struct{}

func (y *YAMLLoader) Load(reader io.Reader, target interface{}) error {
	err := yaml.NewDecoder(reader).Decode(target)
	if err == io.EOF {
		return nil
	}
	return err
}

func (y *YAMLLoader) Extension() string { return "yaml" }

// JSONLoader loads configuration from JSON files.
type JSONLoader struct{}

func (j *JSONLoader) Load(reader io.Reader, target interface{}) error {
	return json.NewDecoder(reader).Decode(target)
}

func (j *JSONLoader) Extension() string { return "json" }
