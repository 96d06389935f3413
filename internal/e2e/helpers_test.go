package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tutor/internal/backend"
	"tutor/internal/config"
	"tutor/internal/httpapi"
	"tutor/internal/manager"
	"tutor/internal/prompt"
)

// fakeLlama emulates the llama.cpp server endpoints the backend uses.
type fakeLlama struct {
	tokens []string
	delay  time.Duration
	// hold, when set, blocks every completion until it is closed.
	hold chan struct{}

	mu      sync.Mutex
	prompts []string
	started chan struct{}
}

func newFakeLlama(t *testing.T, tokens ...string) (*fakeLlama, *httptest.Server) {
	t.Helper()
	f := &fakeLlama{tokens: tokens, started: make(chan struct{}, 16)}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"data":[{"id":"fake"}]}`)
	})
	mux.HandleFunc("/tokenize", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Content string `json:"content"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		toks := make([]int, len(strings.Fields(in.Content)))
		_ = json.NewEncoder(w).Encode(map[string][]int{"tokens": toks})
	})
	mux.HandleFunc("/v1/completions", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Prompt string `json:"prompt"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		f.mu.Lock()
		f.prompts = append(f.prompts, in.Prompt)
		f.mu.Unlock()
		f.started <- struct{}{}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		if f.hold != nil {
			select {
			case <-f.hold:
			case <-r.Context().Done():
				return
			}
		}
		for _, tok := range f.tokens {
			b, _ := json.Marshal(map[string]any{"choices": []map[string]string{{"text": tok}}})
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
			if f.delay > 0 {
				time.Sleep(f.delay)
			}
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeLlama) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

// newTutorServer wires config -> backend -> manager -> httpapi the way
// `tutor serve` does and returns the API server.
func newTutorServer(t *testing.T, cfg config.Config) (*httptest.Server, *manager.Manager) {
	t.Helper()
	if cfg.ModelsDir == "" {
		cfg.ModelsDir = t.TempDir()
		if err := os.WriteFile(filepath.Join(cfg.ModelsDir, "alpha.gguf"), []byte("gguf"), 0o644); err != nil {
			t.Fatalf("write weights: %v", err)
		}
		cfg.Model = "alpha.gguf"
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	opener, err := backend.New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("backend: %v", err)
	}
	tmpl, _ := prompt.Lookup(cfg.Template)
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Opener:    opener,
		Loader:    manager.LoaderConfig{Ref: cfg.Model, ModelsDir: cfg.ModelsDir},
		Template:  tmpl,
		Directive: cfg.SystemPrompt,
		Params: backend.Params{
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			TopP:        cfg.TopP,
		},
		Stream:        manager.StreamConfig{StallTimeout: cfg.StallTimeout(), JoinGrace: cfg.JoinGrace()},
		MaxQueueDepth: cfg.MaxQueueDepth,
		MaxWait:       cfg.MaxWait(),
	})
	srv := httptest.NewServer(httpapi.NewMux(mgr))
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Close(ctx)
	})
	return srv, mgr
}

// loadAndWait triggers POST /load and polls /readyz.
func loadAndWait(t *testing.T, baseURL string) {
	t.Helper()
	resp, _ := httpPostJSON(t, baseURL+"/load", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("load status=%d", resp.StatusCode)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if resp, _ := httpGet(t, baseURL+"/readyz"); resp.StatusCode == http.StatusOK {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("model never became ready")
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func ndjson(t *testing.T, body []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	return out
}
