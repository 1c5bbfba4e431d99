// Package config loads sitebookify's environment-variable driven
// configuration into a typed Config struct (FromEnv) and checks it with
// Validate. There are no functional options: every field comes from an
// environment variable or its default.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// ExecutionMode selects how the job service dispatches pipeline runs.
type ExecutionMode string

const (
	ExecutionModeInProcess ExecutionMode = "inprocess"
	ExecutionModeWorker    ExecutionMode = "worker"
)

// Config is every environment-driven knob sitebookify's API and worker
// binaries need. Both binaries load the same struct; the worker simply
// never reads the dispatcher-only fields.
type Config struct {
	DataDir string

	ArtifactBucket     string // non-empty enables the GCS-backed JobStore/ArtifactStore
	SignedURLTTLSecs   int
	ArtifactSigningKey string // HMAC secret for FS-backed signed download tokens

	ExecutionMode      ExecutionMode
	WorkerURL          string
	WorkerAuthToken    string
	InternalDispatchToken string

	OpenAIAPIKey          string
	OpenAIModel           string
	OpenAIReasoningEffort string
	OpenAIBaseURL         string

	RewritePrompt string
	TranslateTo   string

	LogLevel string

	ListenAddr string
}

// FromEnv reads every documented SITEBOOKIFY_* variable (plus the
// OPENAI_API_KEY fallback and RUST_LOG-equivalent log level) and
// applies defaults for anything unset.
func FromEnv() (*Config, error) {
	c := &Config{
		DataDir:               getenv("SITEBOOKIFY_DATA_DIR", "./data"),
		ArtifactBucket:        os.Getenv("SITEBOOKIFY_ARTIFACT_BUCKET"),
		SignedURLTTLSecs:      getenvInt("SITEBOOKIFY_SIGNED_URL_TTL_SECS", 3600),
		ArtifactSigningKey:    os.Getenv("SITEBOOKIFY_ARTIFACT_SIGNING_KEY"),
		ExecutionMode:         parseExecutionMode(os.Getenv("SITEBOOKIFY_EXECUTION_MODE")),
		WorkerURL:             os.Getenv("SITEBOOKIFY_WORKER_URL"),
		WorkerAuthToken:       firstNonEmpty(os.Getenv("SITEBOOKIFY_WORKER_AUTH_TOKEN"), os.Getenv("SITEBOOKIFY_INTERNAL_DISPATCH_TOKEN")),
		InternalDispatchToken: firstNonEmpty(os.Getenv("SITEBOOKIFY_INTERNAL_DISPATCH_TOKEN"), os.Getenv("SITEBOOKIFY_WORKER_AUTH_TOKEN")),
		OpenAIAPIKey:          firstNonEmpty(os.Getenv("SITEBOOKIFY_OPENAI_API_KEY"), os.Getenv("OPENAI_API_KEY")),
		OpenAIModel:           os.Getenv("SITEBOOKIFY_OPENAI_MODEL"),
		OpenAIReasoningEffort: os.Getenv("SITEBOOKIFY_OPENAI_REASONING_EFFORT"),
		OpenAIBaseURL:         os.Getenv("SITEBOOKIFY_OPENAI_BASE_URL"),
		RewritePrompt:         os.Getenv("SITEBOOKIFY_REWRITE_PROMPT"),
		TranslateTo:           os.Getenv("SITEBOOKIFY_TRANSLATE_TO"),
		LogLevel:              getenv("SITEBOOKIFY_LOG_LEVEL", "info"),
		ListenAddr:            getenv("SITEBOOKIFY_LISTEN_ADDR", ":8080"),
	}
	if c.ExecutionMode == "" {
		return nil, fmt.Errorf("config: SITEBOOKIFY_EXECUTION_MODE: %w", errInvalidExecutionMode(os.Getenv("SITEBOOKIFY_EXECUTION_MODE")))
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate enforces the documented ranges and cross-field requirements.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: SITEBOOKIFY_DATA_DIR must not be empty")
	}
	if c.SignedURLTTLSecs < 60 || c.SignedURLTTLSecs > 604800 {
		return fmt.Errorf("config: SITEBOOKIFY_SIGNED_URL_TTL_SECS must be in [60, 604800], got %d", c.SignedURLTTLSecs)
	}
	if c.ExecutionMode == ExecutionModeWorker && c.WorkerURL == "" {
		return fmt.Errorf("config: SITEBOOKIFY_WORKER_URL is required when SITEBOOKIFY_EXECUTION_MODE=worker")
	}
	if c.UsesObjectStore() && c.ArtifactBucket == "" {
		return fmt.Errorf("config: internal: object store selected without a bucket")
	}
	return nil
}

// UsesObjectStore reports whether the GCS-backed JobStore/ArtifactStore
// should be used in place of the filesystem backing.
func (c *Config) UsesObjectStore() bool { return c.ArtifactBucket != "" }

// SlogLevel maps LogLevel to a slog.Level, defaulting to Info on an
// unrecognized value.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the stderr text-handler slog.Logger every component
// in this codebase accepts via constructor injection rather than a
// package-global logger.
func (c *Config) NewLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: c.SlogLevel()}))
}

func parseExecutionMode(raw string) ExecutionMode {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "inprocess":
		return ExecutionModeInProcess
	case "worker":
		return ExecutionModeWorker
	default:
		return ""
	}
}

type errInvalidExecutionMode string

func (e errInvalidExecutionMode) Error() string {
	return fmt.Sprintf("unsupported value %q (want \"inprocess\" or \"worker\")", string(e))
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
