package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"tutor/internal/config"
	"tutor/pkg/types"
)

// Ollama drives a local Ollama daemon. It acquires models with /api/pull and
// generates raw completions with /api/generate, so prompt formatting stays
// with the tutor.
type Ollama struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewOllama constructs the Ollama backend for baseURL.
func NewOllama(baseURL string, log zerolog.Logger) *Ollama {
	if baseURL == "" {
		baseURL = config.DefaultOllamaURL
	}
	return &Ollama{baseURL: strings.TrimRight(baseURL, "/"), httpClient: &http.Client{}, log: log}
}

func (o *Ollama) Name() string { return config.BackendOllama }

type ollamaPullLine struct {
	Status    string `json:"status"`
	Digest    string `json:"digest"`
	Total     int64  `json:"total"`
	Completed int64  `json:"completed"`
	Error     string `json:"error"`
}

// Acquire pulls ref, reporting each distinct status line through progress.
func (o *Ollama) Acquire(ctx context.Context, ref string, progress func(string)) (types.Model, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return types.Model{}, errors.New("empty model name")
	}
	resp, err := o.post(ctx, "/api/pull", map[string]any{"model": ref, "stream": true})
	if err != nil {
		return types.Model{}, err
	}
	defer resp.Body.Close()

	var (
		last string
		size int64
	)
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var line ollamaPullLine
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			continue
		}
		if line.Error != "" {
			return types.Model{}, fmt.Errorf("pull %s: %s", ref, line.Error)
		}
		msg := line.Status
		if line.Total > 0 {
			size = line.Total
			// completed updates arrive continuously; only report whole MB steps
			msg = fmt.Sprintf("%s: %s / %s", line.Status, humanize.Bytes(uint64(line.Completed-line.Completed%1_000_000)), humanize.Bytes(uint64(line.Total)))
		}
		if msg != "" && msg != last {
			last = msg
			progress(msg)
		}
	}
	if err := sc.Err(); err != nil {
		if ctx.Err() != nil {
			return types.Model{}, ctx.Err()
		}
		return types.Model{}, fmt.Errorf("pull %s: %w", ref, err)
	}
	return types.Model{ID: ref, Name: ref, SizeBytes: size}, nil
}

// Open asks the daemon to load m into memory with an empty prompt.
func (o *Ollama) Open(ctx context.Context, m types.Model) (*Artifacts, error) {
	resp, err := o.post(ctx, "/api/generate", map[string]any{"model": m.ID, "prompt": "", "stream": false})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out struct {
		Done  bool   `json:"done"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("load %s: %w", m.ID, err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("load %s: %s", m.ID, out.Error)
	}
	om := &ollamaModel{o: o, name: m.ID}
	return &Artifacts{Model: om, Tokenizer: ApproxTokenizer{}, Info: m, Backend: o.Name()}, nil
}

func (o *Ollama) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := o.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, UnavailableError{Msg: fmt.Sprintf("ollama at %s not reachable: %v", o.baseURL, err)}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var e struct {
			Error string `json:"error"`
		}
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(b, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("ollama %s: %s", path, e.Error)
		}
		return nil, fmt.Errorf("ollama %s: %s", path, resp.Status)
	}
	return resp, nil
}

type ollamaModel struct {
	o    *Ollama
	name string
}

type ollamaOptions struct {
	NumPredict    int      `json:"num_predict,omitempty"`
	Temperature   float64  `json:"temperature,omitempty"`
	TopP          float64  `json:"top_p,omitempty"`
	TopK          int      `json:"top_k,omitempty"`
	Stop          []string `json:"stop,omitempty"`
	Seed          int      `json:"seed,omitempty"`
	RepeatPenalty float64  `json:"repeat_penalty,omitempty"`
}

type ollamaGenerateLine struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

func (m *ollamaModel) Generate(ctx context.Context, prompt string, p Params) (string, error) {
	return collect(ctx, m, prompt, p)
}

func (m *ollamaModel) GenerateStream(ctx context.Context, prompt string, p Params, onToken func(string) error) error {
	resp, err := m.o.post(ctx, "/api/generate", map[string]any{
		"model":  m.name,
		"prompt": prompt,
		"raw":    true,
		"stream": true,
		"options": ollamaOptions{
			NumPredict:    p.MaxTokens,
			Temperature:   p.Temperature,
			TopP:          p.TopP,
			TopK:          p.TopK,
			Stop:          p.Stop,
			Seed:          p.Seed,
			RepeatPenalty: p.RepeatPenalty,
		},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var line ollamaGenerateLine
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			continue
		}
		if line.Error != "" {
			return errors.New(line.Error)
		}
		if line.Response != "" {
			if err := onToken(line.Response); err != nil {
				return err
			}
		}
		if line.Done {
			return nil
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return sc.Err()
}

// Close asks the daemon to unload the model. Failures are logged only.
func (m *ollamaModel) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := m.o.post(ctx, "/api/generate", map[string]any{"model": m.name, "keep_alive": 0})
	if err != nil {
		m.o.log.Debug().Str("event", "ollama_unload").Str("model", m.name).Err(err).Msg("unload failed")
		return nil
	}
	resp.Body.Close()
	return nil
}
