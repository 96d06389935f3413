package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"tutor/internal/prompt"
)

// Backend names accepted in Config.Backend.
const (
	BackendLlamaCPP    = "llamacpp"
	BackendLlamaServer = "llama-server"
	BackendOllama      = "ollama"
)

// DefaultSystemPrompt is the tutoring directive used when none is configured.
const DefaultSystemPrompt = "You are an offline, conversational AI tutor. Your primary goal is to " +
	"guide the student to the correct answer by providing clear, effective hints " +
	"and analogies, not direct solutions. You prioritize data privacy. " +
	"Keep responses concise (3-4 sentences max)."

// Defaults applied by WithDefaults when the corresponding field is unset.
const (
	DefaultBackend      = BackendLlamaCPP
	DefaultModel        = "tinyllama-1.1b-chat-v1.0.Q4_K_M.gguf"
	DefaultModelsDir    = "~/.cache/tutor/models"
	DefaultTemplate     = "zephyr"
	DefaultMaxTokens    = 256
	DefaultTemperature  = 0.7
	DefaultTopP         = 0.9
	DefaultContextSize  = 2048
	DefaultLlamaBin     = "llama-server"
	DefaultOllamaURL    = "http://127.0.0.1:11434"
	DefaultStallTimeout = 90 * time.Second
	DefaultJoinGrace    = 5 * time.Second
	DefaultAddr         = "127.0.0.1:8765"
	DefaultQueueDepth   = 4
	DefaultMaxWait      = 30 * time.Second
	DefaultLogLevel     = "info"
)

// WithDefaults returns a copy of c with every unspecified field filled in.
func (c Config) WithDefaults() Config {
	if c.Backend == "" {
		c.Backend = DefaultBackend
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.ModelsDir == "" {
		c.ModelsDir = DefaultModelsDir
	}
	if c.Template == "" {
		c.Template = DefaultTemplate
	}
	if strings.TrimSpace(c.SystemPrompt) == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.TopP == 0 {
		c.TopP = DefaultTopP
	}
	if c.ContextSize == 0 {
		c.ContextSize = DefaultContextSize
	}
	if c.LlamaBin == "" {
		c.LlamaBin = DefaultLlamaBin
	}
	if c.OllamaURL == "" {
		c.OllamaURL = DefaultOllamaURL
	}
	if c.StallTimeoutSeconds == 0 {
		c.StallTimeoutSeconds = int(DefaultStallTimeout / time.Second)
	}
	if c.JoinGraceSeconds == 0 {
		c.JoinGraceSeconds = int(DefaultJoinGrace / time.Second)
	}
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.MaxQueueDepth == 0 {
		c.MaxQueueDepth = DefaultQueueDepth
	}
	if c.MaxWaitSeconds == 0 {
		c.MaxWaitSeconds = int(DefaultMaxWait / time.Second)
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	return c
}

// Validate reports every invalid field of an already defaulted config.
func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendLlamaCPP, BackendLlamaServer, BackendOllama:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if _, ok := prompt.Lookup(c.Template); !ok {
		errs = append(errs, fmt.Errorf("unknown template %q", c.Template))
	}
	if c.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("max_tokens must be positive, got %d", c.MaxTokens))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature must be in [0,2], got %g", c.Temperature))
	}
	if c.TopP < 0 || c.TopP > 1 {
		errs = append(errs, fmt.Errorf("top_p must be in [0,1], got %g", c.TopP))
	}
	if c.StallTimeoutSeconds < 0 || c.JoinGraceSeconds < 0 {
		errs = append(errs, errors.New("stream timeouts must not be negative"))
	}
	if c.MaxQueueDepth < 0 {
		errs = append(errs, fmt.Errorf("max_queue_depth must not be negative, got %d", c.MaxQueueDepth))
	}
	return errors.Join(errs...)
}

// StallTimeout is the bounded wait between stream fragments.
func (c Config) StallTimeout() time.Duration {
	return time.Duration(c.StallTimeoutSeconds) * time.Second
}

// JoinGrace bounds how long a finished stream waits for its producer.
func (c Config) JoinGrace() time.Duration {
	return time.Duration(c.JoinGraceSeconds) * time.Second
}

// MaxWait bounds how long an HTTP request waits for admission.
func (c Config) MaxWait() time.Duration {
	return time.Duration(c.MaxWaitSeconds) * time.Second
}
