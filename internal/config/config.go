// Package config loads service configuration from defaults, optional YAML or
// JSON files and environment variables, and hot reloads it in development.
package config

import (
	"time"

	apperrors "github.com/dodge1218/prompt-intelligence/internal/errors"
	"github.com/dodge1218/prompt-intelligence/internal/validation"
)

// Environment is the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the complete service configuration.
type Config struct {
	Environment Environment `yaml:"environment" json:"environment" validate:"required,oneof=development staging production"`
	Server      Server      `yaml:"server" json:"server"`
	Logging     Logging     `yaml:"logging" json:"logging"`
	Storage     Storage     `yaml:"storage" json:"storage"`
	Chains      Chains      `yaml:"chains" json:"chains"`
	Auth        Auth        `yaml:"auth" json:"auth"`
	LLM         LLM         `yaml:"llm" json:"llm"`
	Similarity  Similarity  `yaml:"similarity" json:"similarity"`
	Events      Events      `yaml:"events" json:"events"`
	Metrics     Metrics     `yaml:"metrics" json:"metrics"`
	Tracing     Tracing     `yaml:"tracing" json:"tracing"`
	Resilience  Resilience  `yaml:"resilience" json:"resilience"`
	CORS        CORS        `yaml:"cors" json:"cors"`

	// LoadedFrom lists the sources applied, lowest priority first.
	LoadedFrom []string `yaml:"-" json:"-"`
}

type Server struct {
	Port            int           `yaml:"port" json:"port" validate:"min=1,max=65535"`
	Host            string        `yaml:"host" json:"host"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

type Logging struct {
	Level string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
}

// Storage selects and configures the persistence adapter.
type Storage struct {
	Provider    string `yaml:"provider" json:"provider" validate:"oneof=supabase dynamodb memory"`
	SupabaseURL string `yaml:"supabase_url" json:"supabase_url" validate:"required_if=Provider supabase,omitempty,url"`
	SupabaseKey string `yaml:"supabase_key" json:"supabase_key" validate:"required_if=Provider supabase"`
	TableName   string `yaml:"table_name" json:"table_name" validate:"required_if=Provider dynamodb"`
	Region      string `yaml:"region" json:"region"`
}

// Chains configures chain detection.
type Chains struct {
	ThresholdMinutes      float64       `yaml:"threshold_minutes" json:"threshold_minutes" validate:"gt=0"`
	LookbackHours         int           `yaml:"lookback_hours" json:"lookback_hours" validate:"min=1,max=720"`
	MaxConcurrentPersists int           `yaml:"max_concurrent_persists" json:"max_concurrent_persists" validate:"min=1,max=64"`
	RunTimeout            time.Duration `yaml:"run_timeout" json:"run_timeout"`
	ReuseOnConflict       bool          `yaml:"reuse_on_conflict" json:"reuse_on_conflict"`
	KeywordSignals        bool          `yaml:"keyword_signals" json:"keyword_signals"`
}

// Lookback returns LookbackHours as a duration.
func (c Chains) Lookback() time.Duration {
	return time.Duration(c.LookbackHours) * time.Hour
}

type Auth struct {
	Mode      string `yaml:"mode" json:"mode" validate:"oneof=jwt supabase none"`
	JWTSecret string `yaml:"jwt_secret" json:"jwt_secret" validate:"required_if=Mode jwt"`
	Issuer    string `yaml:"issuer" json:"issuer"`
	Audience  string `yaml:"audience" json:"audience"`
}

type LLM struct {
	OpenAIKey     string        `yaml:"openai_api_key" json:"openai_api_key"`
	OpenAIBaseURL string        `yaml:"openai_base_url" json:"openai_base_url" validate:"omitempty,url"`
	GeminiKey     string        `yaml:"gemini_api_key" json:"gemini_api_key"`
	DefaultModel  string        `yaml:"default_model" json:"default_model" validate:"required"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
}

type Similarity struct {
	Provider           string  `yaml:"provider" json:"provider" validate:"oneof=openai gemini"`
	EmbeddingModel     string  `yaml:"embedding_model" json:"embedding_model" validate:"required"`
	Threshold          float64 `yaml:"threshold" json:"threshold" validate:"gt=0,lte=1"`
	DuplicateThreshold float64 `yaml:"duplicate_threshold" json:"duplicate_threshold" validate:"gt=0,lte=1"`
	Limit              int     `yaml:"limit" json:"limit" validate:"min=1,max=100"`
}

type Events struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	BusName string `yaml:"bus_name" json:"bus_name" validate:"required_if=Enabled true"`
	Source  string `yaml:"source" json:"source" validate:"required"`
}

type Metrics struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Namespace string `yaml:"namespace" json:"namespace" validate:"required"`
	Path      string `yaml:"path" json:"path"`
}

type Tracing struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	Endpoint    string  `yaml:"endpoint" json:"endpoint" validate:"required_if=Enabled true"`
	Insecure    bool    `yaml:"insecure" json:"insecure"`
	ServiceName string  `yaml:"service_name" json:"service_name" validate:"required"`
	SampleRate  float64 `yaml:"sample_rate" json:"sample_rate" validate:"gte=0,lte=1"`
}

// Resilience configures the storage circuit breaker.
type Resilience struct {
	BreakerEnabled   bool          `yaml:"breaker_enabled" json:"breaker_enabled"`
	FailureThreshold float64       `yaml:"failure_threshold" json:"failure_threshold" validate:"gt=0,lte=1"`
	MinRequests      uint32        `yaml:"min_requests" json:"min_requests" validate:"min=1"`
	OpenTimeout      time.Duration `yaml:"open_timeout" json:"open_timeout"`
}

type CORS struct {
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins" validate:"min=1"`
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return err
	}
	if c.Environment == Production && c.Auth.Mode == "none" {
		return apperrors.Validation(apperrors.CodeValidationFailed, "validation failed").
			WithDetails("auth.mode none is not allowed in production").
			Build()
	}
	if c.Environment == Production && c.Storage.Provider == "memory" {
		return apperrors.Validation(apperrors.CodeValidationFailed, "validation failed").
			WithDetails("storage.provider memory is not allowed in production").
			Build()
	}
	return nil
}

func (c *Config) IsDevelopment() bool { return c.Environment == Development }
func (c *Config) IsProduction() bool  { return c.Environment == Production }
