package httpapi

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"tutor/internal/backend"
	"tutor/pkg/types"
)

type nopOpener struct{}

func (nopOpener) Name() string { return "nop" }

func (nopOpener) Open(context.Context, types.Model) (*backend.Artifacts, error) {
	return nil, backend.UnavailableError{Msg: "nop"}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{"": LevelOff, "off": LevelOff, "error": LevelError, "info": LevelInfo, "debug": LevelDebug, "loud": LevelInfo}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q)=%d want %d", in, got, want)
		}
	}
}

func TestRequestLogLevelOverrides(t *testing.T) {
	r := httptest.NewRequest("POST", "/chat?log=1", nil)
	if requestLogLevel(r) != LevelDebug {
		t.Fatalf("query override ignored")
	}
	r = httptest.NewRequest("POST", "/chat", nil)
	r.Header.Set("X-Log-Level", "error")
	if requestLogLevel(r) != LevelError {
		t.Fatalf("header override ignored")
	}
}

func TestLoggingLineWriterSplitsLines(t *testing.T) {
	var buf bytes.Buffer
	lw := &loggingLineWriter{log: zerolog.New(&buf)}
	_, _ = lw.Write([]byte(`{"delta":"a"}` + "\n" + `{"del`))
	_, _ = lw.Write([]byte(`ta":"b"}` + "\n\n"))
	out := buf.String()
	if strings.Count(out, "chat_line") != 2 || !strings.Contains(out, `{\"delta\":\"b\"}`) {
		t.Fatalf("unexpected log output %s", out)
	}
}

func TestDebugLoggingOfChatStream(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf))
	defer SetLogger(zerolog.Nop())
	svc := &mockService{frags: []string{"x"}}
	req := httptest.NewRequest("POST", "/chat?log=debug", strings.NewReader(chatBody))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	NewMux(svc).ServeHTTP(w, req)
	if !strings.Contains(buf.String(), "chat_line") || !strings.Contains(buf.String(), "request_id") {
		t.Fatalf("debug lines not logged: %s", buf.String())
	}
}

func TestLoadRequestLogged(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf))
	defer SetLogger(zerolog.Nop())
	w := httptest.NewRecorder()
	NewMux(&mockService{}).ServeHTTP(w, httptest.NewRequest("POST", "/load", nil))
	if w.Code != 202 {
		t.Fatalf("load: %d", w.Code)
	}
	out := buf.String()
	if !strings.Contains(out, `"event":"load_requested"`) || !strings.Contains(out, "request_id") {
		t.Fatalf("load request not logged: %s", out)
	}
}
