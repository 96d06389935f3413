package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"tutor/internal/config"
	"tutor/pkg/types"
)

// Defaults for the llama-server backend.
const (
	defaultServerReadyTimeout = 60 * time.Second
	defaultServerStopGrace    = 2 * time.Second
)

// LlamaServerOptions configures the llama-server backend. When BaseURL is set
// the backend attaches to a running server; otherwise it spawns Bin per model.
type LlamaServerOptions struct {
	Bin          string
	BaseURL      string
	Host         string
	ContextSize  int
	GPULayers    int
	Threads      int
	ExtraArgs    []string
	ReadyTimeout time.Duration
	Log          zerolog.Logger
}

// LlamaServer talks to a llama.cpp server over its OpenAI-compatible API.
type LlamaServer struct {
	opts       LlamaServerOptions
	httpClient *http.Client
}

// NewLlamaServer constructs the llama-server backend.
func NewLlamaServer(opts LlamaServerOptions) *LlamaServer {
	if strings.TrimSpace(opts.Host) == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = defaultServerReadyTimeout
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	// Timeout=0: every request carries its own context deadline.
	return &LlamaServer{opts: opts, httpClient: &http.Client{Timeout: 0}}
}

func (s *LlamaServer) Name() string { return config.BackendLlamaServer }

// Open spawns a server for m (or attaches to BaseURL) and waits until it answers.
func (s *LlamaServer) Open(ctx context.Context, m types.Model) (*Artifacts, error) {
	var proc *serverProc
	baseURL := s.opts.BaseURL
	if baseURL == "" {
		if strings.TrimSpace(m.Path) == "" {
			return nil, errors.New("model path is empty")
		}
		p, err := s.spawn(ctx, m.Path)
		if err != nil {
			return nil, err
		}
		proc, baseURL = p, p.baseURL
	} else if err := s.waitReady(ctx, baseURL, nil); err != nil {
		return nil, UnavailableError{Msg: fmt.Sprintf("llama-server at %s not reachable: %v", baseURL, err)}
	}
	sm := &serverModel{s: s, baseURL: baseURL, proc: proc}
	return &Artifacts{Model: sm, Tokenizer: sm, Info: m, Backend: s.Name()}, nil
}

type serverProc struct {
	cmd     *exec.Cmd
	baseURL string
	exited  chan struct{}
	waitErr error
}

func (s *LlamaServer) spawn(ctx context.Context, modelPath string) (*serverProc, error) {
	log := s.opts.Log
	port, err := pickFreePort(s.opts.Host)
	if err != nil {
		return nil, err
	}
	baseURL := fmt.Sprintf("http://%s:%d", s.opts.Host, port)
	args := []string{"-m", modelPath, "--host", s.opts.Host, "--port", strconv.Itoa(port)}
	if s.opts.ContextSize > 0 {
		args = append(args, "-c", strconv.Itoa(s.opts.ContextSize))
	}
	if s.opts.GPULayers > 0 {
		args = append(args, "-ngl", strconv.Itoa(s.opts.GPULayers))
	}
	if s.opts.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(s.opts.Threads))
	}
	args = append(args, s.opts.ExtraArgs...)

	cmd := exec.Command(s.opts.Bin, args...)
	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, UnavailableError{Msg: fmt.Sprintf("llama-server binary %q not found", s.opts.Bin)}
		}
		return nil, fmt.Errorf("start llama-server: %w", err)
	}
	p := &serverProc{cmd: cmd, baseURL: baseURL, exited: make(chan struct{})}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.exited)
	}()
	log.Info().Str("event", "spawn_start").Str("model", modelPath).Int("pid", cmd.Process.Pid).Int("port", port).Msg("llama-server started")

	if err := s.waitReady(ctx, baseURL, p.exited); err != nil {
		select {
		case <-p.exited:
			log.Warn().Str("event", "spawn_exit").Int("pid", cmd.Process.Pid).AnErr("err", p.waitErr).Msg("llama-server exited before ready")
			return nil, fmt.Errorf("llama-server exited before ready: %v; stderr tail: %s", p.waitErr, stderr.String())
		default:
		}
		p.stop()
		log.Warn().Str("event", "spawn_timeout").Int("pid", cmd.Process.Pid).Err(err).Msg("llama-server not ready")
		return nil, fmt.Errorf("llama-server not ready at %s: %w", baseURL, err)
	}
	log.Info().Str("event", "spawn_ready").Int("pid", cmd.Process.Pid).Str("url", baseURL).Msg("llama-server ready")
	return p, nil
}

// waitReady polls /v1/models until it returns 2xx, exited closes, ctx ends or
// ReadyTimeout elapses.
func (s *LlamaServer) waitReady(ctx context.Context, baseURL string, exited <-chan struct{}) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ReadyTimeout)
	defer cancel()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		if s.healthy(ctx, baseURL) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-exited:
			return errors.New("process exited")
		case <-tick.C:
		}
	}
}

func (s *LlamaServer) healthy(ctx context.Context, baseURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/models", nil)
	if err != nil {
		return false
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// stop terminates the process with SIGTERM, then kills it after a grace period.
func (p *serverProc) stop() {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return
	}
	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.exited:
	case <-time.After(defaultServerStopGrace):
		_ = p.cmd.Process.Kill()
		<-p.exited
	}
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// serverModel is one loaded llama-server model.
type serverModel struct {
	s       *LlamaServer
	baseURL string
	proc    *serverProc
	once    sync.Once
}

// completionRequest is the payload for /v1/completions.
type completionRequest struct {
	Prompt        string   `json:"prompt"`
	MaxTokens     int      `json:"max_tokens,omitempty"`
	Temperature   float64  `json:"temperature,omitempty"`
	TopP          float64  `json:"top_p,omitempty"`
	TopK          int      `json:"top_k,omitempty"`
	Stop          []string `json:"stop,omitempty"`
	Seed          int      `json:"seed,omitempty"`
	Stream        bool     `json:"stream"`
	RepeatPenalty float64  `json:"repeat_penalty,omitempty"`
}

// streamChunk covers both the completions (text) and chat (delta.content)
// streaming shapes, plus llama.cpp's native content field.
type streamChunk struct {
	Choices []struct {
		Text  string `json:"text"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Content string `json:"content"`
}

func (c streamChunk) fragment() string {
	if len(c.Choices) > 0 {
		if c.Choices[0].Text != "" {
			return c.Choices[0].Text
		}
		return c.Choices[0].Delta.Content
	}
	return c.Content
}

func (m *serverModel) Generate(ctx context.Context, prompt string, p Params) (string, error) {
	return collect(ctx, m, prompt, p)
}

func (m *serverModel) GenerateStream(ctx context.Context, prompt string, p Params, onToken func(string) error) error {
	body, err := json.Marshal(completionRequest{
		Prompt:        prompt,
		MaxTokens:     p.MaxTokens,
		Temperature:   p.Temperature,
		TopP:          p.TopP,
		TopK:          p.TopK,
		Stop:          p.Stop,
		Seed:          p.Seed,
		Stream:        true,
		RepeatPenalty: p.RepeatPenalty,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("llama server http error: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	return readSSE(ctx, resp.Body, m.s.opts.Log, onToken)
}

// readSSE forwards each non-empty fragment of an SSE body until [DONE] or EOF.
func readSSE(ctx context.Context, body io.Reader, log zerolog.Logger, onToken func(string) error) error {
	r := bufio.NewReader(body)
	for {
		line, err := r.ReadString('\n')
		if l := strings.TrimSpace(line); strings.HasPrefix(strings.ToLower(l), "data:") {
			data := strings.TrimSpace(l[len("data:"):])
			if data == "[DONE]" {
				return nil
			}
			var chunk streamChunk
			if jerr := json.Unmarshal([]byte(data), &chunk); jerr != nil {
				log.Debug().Str("event", "unknown_stream_line").Str("line", l).Msg("skipping")
			} else if frag := chunk.fragment(); frag != "" {
				if cbErr := onToken(frag); cbErr != nil {
					return cbErr
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

// Encode uses the server's /tokenize endpoint.
func (m *serverModel) Encode(ctx context.Context, text string) ([]int, error) {
	body, err := json.Marshal(map[string]string{"content": text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/tokenize", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tokenize: %s", resp.Status)
	}
	var out struct {
		Tokens []int `json:"tokens"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}
	return out.Tokens, nil
}

// Close stops a spawned server. Attached servers are left running.
func (m *serverModel) Close() error {
	m.once.Do(func() {
		if m.proc != nil {
			m.proc.stop()
			m.s.opts.Log.Info().Str("event", "spawn_stop").Str("url", m.baseURL).Msg("llama-server stopped")
		}
	})
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
