package chat

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"tutor/internal/conversation"
	"tutor/internal/manager"
)

// echoEngine loads instantly and answers with the question reversed.
type echoEngine struct{}

func (echoEngine) StartLoad(_ context.Context, l manager.Listener) error {
	go func() {
		l.OnLoadProgress(manager.MilestoneAcquire)
		l.OnLoadComplete(true, "model ready: tiny")
	}()
	return nil
}

func (echoEngine) Send(_ context.Context, snap conversation.Snapshot, l manager.Listener) error {
	last, _ := snap.Last()
	go func() {
		l.OnResponseFragment("echo: ")
		l.OnResponseFragment(last.Content)
		l.OnResponseComplete(250*time.Millisecond, "echo: "+last.Content)
	}()
	return nil
}

func TestRunConsole_PipedQuestions(t *testing.T) {
	var out bytes.Buffer
	console := NewConsole(&out)
	mb := NewMailbox(16)
	defer mb.Close()
	ctl := NewController(context.Background(), echoEngine{}, console, mb, directive, zerolog.Nop())

	in := strings.NewReader("first\n\nsecond\n")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, RunConsole(ctx, ctl, mb, in))

	text := out.String()
	require.Contains(t, text, "* "+MsgModelReady)
	require.Contains(t, text, "you> first\ntutor> echo: first\n")
	require.Contains(t, text, "tutor> echo: second\n")
	require.Contains(t, text, "[Ready (responded in 0.25s)]")
	require.Contains(t, text, "(Messages: 2 | Last: 0.25s | Avg: 0.25s)")
	require.Equal(t, 5, ctl.Conversation().Len())
}

func TestRunConsole_Quit(t *testing.T) {
	var out bytes.Buffer
	mb := NewMailbox(16)
	defer mb.Close()
	ctl := NewController(context.Background(), echoEngine{}, NewConsole(&out), mb, directive, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, RunConsole(ctx, ctl, mb, strings.NewReader("/quit\nnever sent\n")))
	require.NotContains(t, out.String(), "never sent")
}

// endlessInput yields the same line forever.
type endlessInput struct{}

func (endlessInput) Read(p []byte) (int, error) {
	n := copy(p, "again\n")
	return n, nil
}

func TestReadLines_StopsWhenDone(t *testing.T) {
	done := make(chan struct{})
	lines, _ := readLines(endlessInput{}, done)
	require.Equal(t, "again", <-lines)
	close(done)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-lines:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("reader goroutine still running after done")
		}
	}
}

func TestReadLines_EOF(t *testing.T) {
	done := make(chan struct{})
	defer close(done)
	lines, readErr := readLines(strings.NewReader("one\n"), done)
	require.Equal(t, "one", <-lines)
	_, ok := <-lines
	require.False(t, ok)
	require.NoError(t, <-readErr)
}

func TestMailbox_PostAfterClose(t *testing.T) {
	mb := NewMailbox(0)
	mb.Close()
	mb.Close()
	require.False(t, mb.Post(Event{Kind: EventFragment}))
	require.Equal(t, "fragment", EventFragment.String())
}
