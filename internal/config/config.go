// Package config provides the environment-driven configuration schema for the
// Cadenza interview server.
//
// All settings arrive as environment variables (a .env file may be loaded by
// the entrypoint before [FromEnv] runs). [Config.Validate] reports every
// violation at once so operators fix a deployment in one pass instead of
// one variable per restart.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// LLMProviderName selects which LLM provider implementation backs the
// interviewer.
type LLMProviderName string

const (
	// LLMOpenAI uses the native OpenAI client.
	LLMOpenAI LLMProviderName = "openai"

	// LLMAnyLLM uses the any-llm router, which covers both the Google and
	// OpenAI model families behind one API.
	LLMAnyLLM LLMProviderName = "anyllm"
)

// IsValid reports whether n is a recognised LLM provider name.
func (n LLMProviderName) IsValid() bool {
	return n == LLMOpenAI || n == LLMAnyLLM
}

// EmbeddingsProviderName selects the embeddings backend for knowledge-bank
// retrieval. The empty value disables retrieval entirely.
type EmbeddingsProviderName string

const (
	// EmbeddingsOff disables knowledge-bank retrieval.
	EmbeddingsOff EmbeddingsProviderName = ""

	// EmbeddingsOpenAI embeds with the OpenAI embeddings API.
	EmbeddingsOpenAI EmbeddingsProviderName = "openai"

	// EmbeddingsOllama embeds with a local Ollama instance.
	EmbeddingsOllama EmbeddingsProviderName = "ollama"
)

// IsValid reports whether n is a recognised embeddings provider name.
func (n EmbeddingsProviderName) IsValid() bool {
	switch n {
	case EmbeddingsOff, EmbeddingsOpenAI, EmbeddingsOllama:
		return true
	}
	return false
}

// Config is the complete runtime configuration of the interview server.
type Config struct {
	// DatabaseURL is the pgx pool DSN for the interview store.
	DatabaseURL string

	// OpenAIAPIKey authenticates the OpenAI LLM and embeddings clients.
	OpenAIAPIKey string

	// GeminiAPIKey authenticates the Google model family via any-llm.
	GeminiAPIKey string

	// LLMProvider selects the interviewer LLM implementation.
	LLMProvider LLMProviderName

	// LLMModel is the primary model id. Empty uses the provider default.
	LLMModel string

	// LLMFallbackModel, when set, is tried after the primary model's circuit
	// opens or a call fails.
	LLMFallbackModel string

	// DeepgramAPIKey authenticates the streaming STT sessions.
	DeepgramAPIKey string

	// ElevenLabsAPIKey and ElevenLabsVoiceID configure speech synthesis.
	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string

	// SQSQueueURL is the completion notification queue.
	SQSQueueURL string

	// AWSRegion, AWSAccessKeyID, and AWSSecretAccessKey configure the queue
	// client. When the key pair is empty the SDK default credential chain is
	// used instead.
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string

	// CORSAllowedOrigins lists origins allowed to call the HTTP surface.
	CORSAllowedOrigins []string

	// DebounceQuietWindow is the idle interval after the last artifact change
	// before an LLM prompt fires.
	DebounceQuietWindow time.Duration

	// Environment tags logs and metrics (development, staging, production).
	Environment string

	// HTTPAddr is the listen address of the HTTP server.
	HTTPAddr string

	// AuthHMACSecret signs and verifies bearer tokens on the /v1 surface.
	AuthHMACSecret string

	// PromptsFile optionally points at a YAML prompt template pack that
	// overrides the built-in templates.
	PromptsFile string

	// EmbeddingsProvider selects the knowledge-bank embeddings backend.
	EmbeddingsProvider EmbeddingsProviderName

	// OllamaURL is the Ollama endpoint used when EmbeddingsProvider is ollama.
	OllamaURL string

	// LogLevel is the slog level: debug, info, warn, or error.
	LogLevel string
}

// Defaults applied by [FromEnv] when the corresponding variable is unset.
const (
	DefaultDebounceQuietWindow = 30 * time.Second
	DefaultHTTPAddr            = ":8080"
	DefaultEnvironment         = "development"
	DefaultOllamaURL           = "http://localhost:11434"
	DefaultLogLevel            = "info"
)

// FromEnv builds a [Config] from the process environment. It never fails;
// call [Config.Validate] afterwards to surface missing or malformed values.
func FromEnv() *Config {
	cfg := &Config{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		GeminiAPIKey:       os.Getenv("GEMINI_API_KEY"),
		LLMProvider:        LLMProviderName(getenv("LLM_PROVIDER", string(LLMOpenAI))),
		LLMModel:           os.Getenv("LLM_MODEL"),
		LLMFallbackModel:   os.Getenv("LLM_FALLBACK_MODEL"),
		DeepgramAPIKey:     os.Getenv("DEEPGRAM_API_KEY"),
		ElevenLabsAPIKey:   os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID:  os.Getenv("ELEVENLABS_VOICE_ID"),
		SQSQueueURL:        os.Getenv("SQS_QUEUE_URL"),
		AWSRegion:          os.Getenv("AWS_REGION"),
		AWSAccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		CORSAllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "*")),
		Environment:        getenv("ENVIRONMENT", DefaultEnvironment),
		HTTPAddr:           getenv("HTTP_ADDR", DefaultHTTPAddr),
		AuthHMACSecret:     os.Getenv("AUTH_HMAC_SECRET"),
		PromptsFile:        os.Getenv("PROMPTS_FILE"),
		EmbeddingsProvider: EmbeddingsProviderName(os.Getenv("EMBEDDINGS_PROVIDER")),
		OllamaURL:          getenv("OLLAMA_URL", DefaultOllamaURL),
		LogLevel:           getenv("LOG_LEVEL", DefaultLogLevel),
	}

	cfg.DebounceQuietWindow = DefaultDebounceQuietWindow
	if raw := os.Getenv("DEBOUNCE_SECONDS"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			cfg.DebounceQuietWindow = time.Duration(secs) * time.Second
		} else {
			slog.Warn("ignoring invalid DEBOUNCE_SECONDS, using default",
				"value", raw,
				"default", DefaultDebounceQuietWindow)
		}
	}

	return cfg
}

// Validate checks the configuration and returns all violations joined into a
// single error. Advisory problems (wildcard CORS outside development, missing
// fallback model) are logged as warnings and do not fail validation.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL must be set"))
	}
	if !c.LLMProvider.IsValid() {
		errs = append(errs, fmt.Errorf("LLM_PROVIDER %q is not one of %q, %q", c.LLMProvider, LLMOpenAI, LLMAnyLLM))
	}
	if c.LLMProvider == LLMOpenAI && c.OpenAIAPIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY must be set when LLM_PROVIDER=openai"))
	}
	if c.LLMProvider == LLMAnyLLM && c.OpenAIAPIKey == "" && c.GeminiAPIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY or GEMINI_API_KEY must be set when LLM_PROVIDER=anyllm"))
	}
	if c.DeepgramAPIKey == "" {
		errs = append(errs, errors.New("DEEPGRAM_API_KEY must be set"))
	}
	if c.ElevenLabsAPIKey == "" {
		errs = append(errs, errors.New("ELEVENLABS_API_KEY must be set"))
	}
	if c.ElevenLabsVoiceID == "" {
		errs = append(errs, errors.New("ELEVENLABS_VOICE_ID must be set"))
	}
	if c.SQSQueueURL == "" {
		errs = append(errs, errors.New("SQS_QUEUE_URL must be set"))
	}
	if c.AuthHMACSecret == "" {
		errs = append(errs, errors.New("AUTH_HMAC_SECRET must be set"))
	}
	if !c.EmbeddingsProvider.IsValid() {
		errs = append(errs, fmt.Errorf("EMBEDDINGS_PROVIDER %q is not one of %q, %q, or empty",
			c.EmbeddingsProvider, EmbeddingsOpenAI, EmbeddingsOllama))
	}
	if c.EmbeddingsProvider == EmbeddingsOpenAI && c.OpenAIAPIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY must be set when EMBEDDINGS_PROVIDER=openai"))
	}
	if c.DebounceQuietWindow <= 0 {
		errs = append(errs, errors.New("debounce quiet window must be positive"))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", c.LogLevel))
	}

	// Advisory checks.
	if c.Environment != DefaultEnvironment && containsWildcard(c.CORSAllowedOrigins) {
		slog.Warn("CORS_ALLOWED_ORIGINS is a wildcard outside development",
			"environment", c.Environment)
	}
	if c.LLMFallbackModel == "" {
		slog.Warn("LLM_FALLBACK_MODEL not set; LLM calls have no model-level fallback")
	}

	return errors.Join(errs...)
}

// SlogLevel converts the configured log level string to a slog.Level.
// Unrecognised values map to info.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// getenv returns the value of key, or fallback when unset or empty.
func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// splitCSV splits a comma-delimited value into trimmed, non-empty entries.
func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
