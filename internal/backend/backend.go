// Package backend defines the model provider boundary used by the tutor core
// and the concrete runtimes behind it: in-process llama.cpp, a llama.cpp
// server subprocess (or an already running one), and Ollama.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"tutor/internal/config"
	"tutor/pkg/types"
)

// Params captures generation parameters passed to a Model.
type Params struct {
	MaxTokens     int
	Temperature   float64
	TopP          float64
	TopK          int
	Stop          []string
	Seed          int
	RepeatPenalty float64
}

// Generator produces a whole completion in one blocking call.
type Generator interface {
	Generate(ctx context.Context, prompt string, p Params) (string, error)
}

// Model is the generate capability of a loaded model.
type Model interface {
	Generator
	// GenerateStream invokes onToken for each fragment in generation order and
	// returns when generation ends. Implementations must return promptly when
	// ctx is canceled or onToken returns an error.
	GenerateStream(ctx context.Context, prompt string, p Params, onToken func(string) error) error
	// Close releases the runtime resources behind the model.
	Close() error
}

// Tokenizer maps text to the model's token ids.
type Tokenizer interface {
	Encode(ctx context.Context, text string) ([]int, error)
}

// Artifacts is the loaded model plus its tokenizer, published as one unit.
type Artifacts struct {
	Model     Model
	Tokenizer Tokenizer
	Info      types.Model
	Backend   string
}

// Close releases the model. The tokenizer shares its lifetime.
func (a *Artifacts) Close() error {
	if a == nil || a.Model == nil {
		return nil
	}
	return a.Model.Close()
}

// Opener materializes a model from acquired weights.
type Opener interface {
	Name() string
	Open(ctx context.Context, m types.Model) (*Artifacts, error)
}

// Acquirer is implemented by backends that fetch weights themselves. progress
// receives human-readable milestones in order.
type Acquirer interface {
	Acquire(ctx context.Context, ref string, progress func(string)) (types.Model, error)
}

// UnavailableError signals a runtime that is not compiled in or not reachable.
type UnavailableError struct{ Msg string }

func (e UnavailableError) Error() string { return e.Msg }

// IsUnavailable reports whether err indicates a missing runtime dependency.
func IsUnavailable(err error) bool {
	var ue UnavailableError
	return errors.As(err, &ue)
}

// New builds the Opener selected by cfg.Backend. cfg must already carry defaults.
func New(cfg config.Config, log zerolog.Logger) (Opener, error) {
	log = log.With().Str("backend", cfg.Backend).Logger()
	switch cfg.Backend {
	case config.BackendLlamaCPP:
		return newLlamaCPP(cfg, log), nil
	case config.BackendLlamaServer:
		return NewLlamaServer(LlamaServerOptions{
			Bin:         cfg.LlamaBin,
			BaseURL:     cfg.ServerURL,
			ContextSize: cfg.ContextSize,
			GPULayers:   cfg.GPULayers,
			Threads:     cfg.Threads,
			Log:         log,
		}), nil
	case config.BackendOllama:
		return NewOllama(cfg.OllamaURL, log), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
