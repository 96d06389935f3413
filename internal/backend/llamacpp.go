//go:build llama

package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"
	"github.com/rs/zerolog"

	"tutor/internal/config"
	"tutor/pkg/types"
)

// llamaCPP loads GGUF weights in-process through go-llama.cpp.
type llamaCPP struct {
	ctxSize   int
	gpuLayers int
	threads   int
	log       zerolog.Logger
}

func newLlamaCPP(cfg config.Config, log zerolog.Logger) Opener {
	return &llamaCPP{ctxSize: cfg.ContextSize, gpuLayers: cfg.GPULayers, threads: cfg.Threads, log: log}
}

func (o *llamaCPP) Name() string { return config.BackendLlamaCPP }

func (o *llamaCPP) Open(ctx context.Context, m types.Model) (*Artifacts, error) {
	if strings.TrimSpace(m.Path) == "" {
		return nil, errors.New("model path is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts := []llama.ModelOption{llama.SetContext(o.ctxSize)}
	if o.gpuLayers > 0 {
		opts = append(opts, llama.SetGPULayers(o.gpuLayers))
	}
	lm, err := llama.New(m.Path, opts...)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", m.Path, err)
	}
	o.log.Debug().Str("event", "llama_loaded").Str("model", m.ID).Int("ctx", o.ctxSize).Msg("model loaded")
	lmod := &llamaModel{lm: lm, threads: o.threads}
	return &Artifacts{Model: lmod, Tokenizer: lmod, Info: m, Backend: o.Name()}, nil
}

// llamaModel serializes access to one llama context; go-llama.cpp is not
// safe for concurrent predictions.
type llamaModel struct {
	mu      sync.Mutex
	lm      *llama.LLama
	threads int
}

func (l *llamaModel) Generate(ctx context.Context, prompt string, p Params) (string, error) {
	return collect(ctx, l, prompt, p)
}

func (l *llamaModel) GenerateStream(ctx context.Context, prompt string, p Params, onToken func(string) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lm == nil {
		return errors.New("llama model not initialized")
	}
	var cbErr error
	l.lm.SetTokenCallback(func(tok string) bool {
		if ctx.Err() != nil {
			return false
		}
		if err := onToken(tok); err != nil {
			cbErr = err
			return false
		}
		return true
	})
	defer l.lm.SetTokenCallback(nil)

	_, err := l.lm.Predict(prompt, predictOptions(p, l.threads)...)
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case cbErr != nil:
		return cbErr
	default:
		return err
	}
}

func (l *llamaModel) Encode(_ context.Context, text string) ([]int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lm == nil {
		return nil, errors.New("llama model not initialized")
	}
	_, toks, err := l.lm.TokenizeString(text)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(toks))
	for i, t := range toks {
		out[i] = int(t)
	}
	return out, nil
}

func (l *llamaModel) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lm != nil {
		l.lm.Free()
		l.lm = nil
	}
	return nil
}

func predictOptions(p Params, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(max(1, p.MaxTokens)),
		llama.SetThreads(max(1, threads)),
		llama.SetTopP(orF32(p.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(orInt(p.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(orF32(p.Temperature, llama.DefaultOptions.Temperature)),
		llama.SetPenalty(orF32(p.RepeatPenalty, llama.DefaultOptions.Penalty)),
	}
	if p.Seed != 0 {
		po = append(po, llama.SetSeed(p.Seed))
	}
	if len(p.Stop) > 0 {
		po = append(po, llama.SetStopWords(p.Stop...))
	}
	return po
}

func orInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func orF32(v float64, def float32) float32 {
	if v > 0 {
		return float32(v)
	}
	return def
}
