package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tutor/internal/backend"
	"tutor/internal/conversation"
	"tutor/internal/prompt"
)

// Completion is the result of a successful Session.Run.
type Completion struct {
	// Text is the accumulated response with surrounding whitespace trimmed.
	Text string
	// Latency is the wall-clock time from dispatch to stream exhaustion.
	Latency time.Duration
	// PromptTokens is the prompt size per the model tokenizer, 0 if unknown.
	PromptTokens int
	// Fragments is the number of fragments forwarded.
	Fragments int
}

// Session runs one request: snapshot in, fragments out, then a Completion or
// a *Failure. A Session value is reusable and safe for concurrent use.
type Session struct {
	Handle   *Handle
	Template prompt.Template
	Params   backend.Params
	Stream   StreamConfig
	// Now is the clock used for latency; nil means time.Now.
	Now func() time.Time
	Log zerolog.Logger
}

// Run formats snap, streams the generation and forwards each fragment to
// onFragment in order. It fails immediately with NotReady, without starting a
// stream, when no model is published. On failure the partial response is
// discarded. Panics anywhere in the request become Generation failures.
func (s *Session) Run(ctx context.Context, snap conversation.Snapshot, onFragment func(string)) (Completion, error) {
	return s.run(ctx, snap, s.Params, onFragment)
}

func (s *Session) run(ctx context.Context, snap conversation.Snapshot, params backend.Params, onFragment func(string)) (c Completion, err error) {
	lease, err := s.Handle.Acquire()
	if err != nil {
		return Completion{}, err
	}
	var st *Stream
	defer func() {
		if r := recover(); r != nil {
			err = newFailure(KindGeneration, fmt.Errorf("panic: %v", r))
			c = Completion{}
		}
		if st != nil {
			if cerr := st.Close(); cerr != nil {
				s.Log.Warn().Str("event", "stream_close").Err(cerr).Msg("producer outlived cancel")
			}
		} else {
			lease.Release()
		}
	}()

	now := s.Now
	if now == nil {
		now = time.Now
	}
	start := now()

	text := s.Template.Format(snap)
	params.Stop = mergeStops(s.Template.Stop, params.Stop)
	arts := lease.Artifacts()
	c.PromptTokens = s.countTokens(ctx, arts, text)

	st = StartStream(ctx, arts.Model, text, params, s.Stream, lease.Release)
	var b strings.Builder
	for {
		frag, rerr := st.Recv()
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			s.Log.Debug().Str("event", "stream_failed").Int("fragments", c.Fragments).Err(rerr).Msg("discarding partial response")
			return Completion{}, rerr
		}
		b.WriteString(frag)
		c.Fragments++
		if onFragment != nil {
			onFragment(frag)
		}
	}

	c.Latency = now().Sub(start)
	if c.Latency < 0 {
		c.Latency = 0
	}
	c.Text = strings.TrimSpace(b.String())
	return c, nil
}

func (s *Session) countTokens(ctx context.Context, arts *backend.Artifacts, text string) int {
	if arts.Tokenizer == nil {
		return 0
	}
	toks, err := arts.Tokenizer.Encode(ctx, text)
	if err != nil {
		s.Log.Warn().Str("event", "tokenize_failed").Err(err).Msg("prompt token count unavailable")
		return 0
	}
	return len(toks)
}

func mergeStops(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string(nil), a...), b...) {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
