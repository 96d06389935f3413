package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the tutor.
// Zero values mean "unspecified" and are replaced by WithDefaults.
type Config struct {
	// Model selection and acquisition
	Backend   string `json:"backend" yaml:"backend" toml:"backend"`
	Model     string `json:"model" yaml:"model" toml:"model"`
	ModelsDir string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	ModelURL  string `json:"model_url" yaml:"model_url" toml:"model_url"`

	// Prompting and sampling
	Template      string  `json:"template" yaml:"template" toml:"template"`
	SystemPrompt  string  `json:"system_prompt" yaml:"system_prompt" toml:"system_prompt"`
	MaxTokens     int     `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	Temperature   float64 `json:"temperature" yaml:"temperature" toml:"temperature"`
	TopP          float64 `json:"top_p" yaml:"top_p" toml:"top_p"`
	TopK          int     `json:"top_k" yaml:"top_k" toml:"top_k"`
	RepeatPenalty float64 `json:"repeat_penalty" yaml:"repeat_penalty" toml:"repeat_penalty"`
	Seed          int     `json:"seed" yaml:"seed" toml:"seed"`

	// Runtime
	ContextSize int    `json:"context_size" yaml:"context_size" toml:"context_size"`
	GPULayers   int    `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers"`
	Threads     int    `json:"threads" yaml:"threads" toml:"threads"`
	LlamaBin    string `json:"llama_bin" yaml:"llama_bin" toml:"llama_bin"`
	ServerURL   string `json:"server_url" yaml:"server_url" toml:"server_url"`
	OllamaURL   string `json:"ollama_url" yaml:"ollama_url" toml:"ollama_url"`

	// Streaming bounds
	StallTimeoutSeconds int `json:"stall_timeout_seconds" yaml:"stall_timeout_seconds" toml:"stall_timeout_seconds"`
	JoinGraceSeconds    int `json:"join_grace_seconds" yaml:"join_grace_seconds" toml:"join_grace_seconds"`

	// HTTP serve mode
	Addr           string   `json:"addr" yaml:"addr" toml:"addr"`
	CORSOrigins    []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	MaxQueueDepth  int      `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWaitSeconds int      `json:"max_wait_seconds" yaml:"max_wait_seconds" toml:"max_wait_seconds"`

	WatchModels bool   `json:"watch_models" yaml:"watch_models" toml:"watch_models"`
	LogLevel    string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFile     string `json:"log_file" yaml:"log_file" toml:"log_file"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
