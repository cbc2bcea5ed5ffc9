package config

import (
	"fmt"
	"os"
	"strconv"

	"docmatch/internal/logger"
)

// Config carries everything the engine reads from the environment. The LLM
// and Document AI sections are optional: without an OpenAI key the extractor
// runs with calculated fallbacks only, and Document AI is needed only when
// processing raw PDFs.
type Config struct {
	// OpenAI configuration (LLM validation pass)
	OpenAIAPIKey  string
	OpenAIModel   string
	LLMTimeoutSec int
	LLMMaxRetries int

	// Google Document AI configuration (layout adapter)
	GoogleCloudProject    string
	GoogleCloudLocation   string
	DocumentAIProcessorID string

	// Comparison tolerances
	RelativeTolerancePct float64 // ground-truth validation, percent
	TaxRateTolerancePts  float64 // tax rate comparison, percentage points
	FuzzyMatchThreshold  float64 // description similarity, 0-1

	// Logging configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

func Load() (*Config, error) {
	config := &Config{
		OpenAIAPIKey:          getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:           getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		LLMTimeoutSec:         getEnvInt("LLM_TIMEOUT_SECONDS", 15),
		LLMMaxRetries:         getEnvInt("LLM_MAX_RETRIES", 2),
		GoogleCloudProject:    getEnv("GOOGLE_CLOUD_PROJECT", ""),
		GoogleCloudLocation:   getEnv("GOOGLE_CLOUD_LOCATION", "us"),
		DocumentAIProcessorID: getEnv("DOCUMENT_AI_PROCESSOR_ID", ""),
		RelativeTolerancePct:  getEnvFloat("VALIDATION_TOLERANCE_PCT", 1.0),
		TaxRateTolerancePts:   getEnvFloat("TAX_RATE_TOLERANCE_PTS", 0.5),
		FuzzyMatchThreshold:   getEnvFloat("FUZZY_MATCH_THRESHOLD", 0.85),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:         getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:             getEnv("LOG_OUTPUT", "stderr"),
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.RelativeTolerancePct < 0 {
		return fmt.Errorf("VALIDATION_TOLERANCE_PCT must be non-negative")
	}
	if c.TaxRateTolerancePts < 0 {
		return fmt.Errorf("TAX_RATE_TOLERANCE_PTS must be non-negative")
	}
	if c.FuzzyMatchThreshold <= 0 || c.FuzzyMatchThreshold > 1 {
		return fmt.Errorf("FUZZY_MATCH_THRESHOLD must be in (0, 1]")
	}
	if c.LLMMaxRetries < 0 {
		return fmt.Errorf("LLM_MAX_RETRIES must be non-negative")
	}
	return nil
}

// LLMEnabled reports whether the LLM validation pass is configured.
func (c *Config) LLMEnabled() bool {
	return c.OpenAIAPIKey != ""
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
