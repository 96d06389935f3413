package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
)

// Console is a line-oriented View for terminals without full-screen support.
type Console struct {
	mu         sync.Mutex
	out        io.Writer
	lastStatus string
	inAnswer   bool
}

// NewConsole writes to out.
func NewConsole(out io.Writer) *Console { return &Console{out: out} }

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *Console) SystemNotice(text string) { c.printf("* %s\n", text) }

func (c *Console) UserMessage(text string) { c.printf("you> %s\n", text) }

func (c *Console) BeginAssistant() {
	c.printf("tutor> ")
	c.mu.Lock()
	c.inAnswer = true
	c.mu.Unlock()
}

func (c *Console) AppendAssistant(fragment string) { c.printf("%s", fragment) }

func (c *Console) EndAssistant() {
	c.printf("\n")
	c.mu.Lock()
	c.inAnswer = false
	c.mu.Unlock()
}

// SetStatus prints status changes other than the transient ones shown while
// an answer is streaming.
func (c *Console) SetStatus(level Level, text string) {
	c.mu.Lock()
	skip := text == c.lastStatus || c.inAnswer
	c.lastStatus = text
	c.mu.Unlock()
	if skip || level == LevelBusy {
		return
	}
	c.printf("[%s]\n", text)
}

func (c *Console) SetInputEnabled(bool) {}

func (c *Console) SetStats(text string) { c.printf("(%s)\n", text) }

func (c *Console) Clear() { c.printf("\n---\n") }

// RunConsole drives ctl from lines read on in until EOF, /quit or ctx ends.
// It is the UI loop: user input and mailbox events are applied here, one at
// a time.
func RunConsole(ctx context.Context, ctl *Controller, mb *Mailbox, in io.Reader) error {
	done := make(chan struct{})
	defer close(done)
	lines, readErr := readLines(in, done)

	ctl.Start()
	for {
		// input waits while a load or an answer is running
		var input <-chan string
		if !ctl.Loading() && !ctl.Pending() {
			input = lines
		}
		select {
		case <-ctx.Done():
			return nil
		case ev := <-mb.Events():
			ctl.Handle(ev)
		case line, ok := <-input:
			if !ok {
				lines = nil
				continue
			}
			if ctl.Submit(line) {
				return nil
			}
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			return drainPending(ctx, ctl, mb)
		}
	}
}

// readLines scans in on its own goroutine until EOF or until done is closed.
// lines is closed when the goroutine exits; readErr then holds the scanner
// error, if input ended.
func readLines(in io.Reader, done <-chan struct{}) (<-chan string, <-chan error) {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
		readErr <- sc.Err()
	}()
	return lines, readErr
}

// drainPending lets an in-flight answer finish after input closed, so piped
// questions still print their replies.
func drainPending(ctx context.Context, ctl *Controller, mb *Mailbox) error {
	for ctl.Pending() {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-mb.Events():
			ctl.Handle(ev)
		}
	}
	return nil
}
