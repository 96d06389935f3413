package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tutor/internal/backend"
)

// Defaults for StreamConfig.
const (
	defaultStreamBuffer = 16
	defaultStallTimeout = 90 * time.Second
	defaultJoinGrace    = 5 * time.Second
)

// StreamConfig bounds the consumer side of a Stream.
type StreamConfig struct {
	// StallTimeout is the longest wait for the next raw fragment, including
	// the first one.
	StallTimeout time.Duration
	// JoinGrace bounds how long the consumer waits for the producer to exit
	// after completion, a stop marker, a stall or Close.
	JoinGrace time.Duration
	// Buffer is the handoff channel capacity.
	Buffer int
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.StallTimeout <= 0 {
		c.StallTimeout = defaultStallTimeout
	}
	if c.JoinGrace <= 0 {
		c.JoinGrace = defaultJoinGrace
	}
	if c.Buffer <= 0 {
		c.Buffer = defaultStreamBuffer
	}
	return c
}

// Stream runs one blocking generation on a producer goroutine and exposes its
// output as an ordered, finite, non-restartable sequence of fragments. It is
// consumed from a single goroutine.
type Stream struct {
	cfg    StreamConfig
	ctx    context.Context
	cancel context.CancelFunc
	raw    chan string
	filter *stopFilter

	joined chan struct{}
	perr   error // producer result; read only after joined is closed

	terminal  error
	closeOnce sync.Once
	closeErr  error
}

// StartStream launches the producer. release, if non-nil, runs once the
// producer goroutine has fully exited, whatever the outcome.
func StartStream(ctx context.Context, m backend.Model, prompt string, p backend.Params, cfg StreamConfig, release func()) *Stream {
	cfg = cfg.withDefaults()
	sctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(sctx)
	s := &Stream{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		raw:    make(chan string, cfg.Buffer),
		filter: newStopFilter(p.Stop),
		joined: make(chan struct{}),
	}
	g.Go(func() (err error) {
		defer close(s.raw)
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("generation panicked: %v", r)
			}
		}()
		return m.GenerateStream(gctx, prompt, p, func(tok string) error {
			select {
			case s.raw <- tok:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})
	go func() {
		s.perr = g.Wait()
		if release != nil {
			release()
		}
		close(s.joined)
	}()
	return s
}

// Recv returns the next fragment. After the last fragment of a successful
// generation it returns io.EOF; otherwise the terminal error is a *Failure.
// Once a terminal error is returned, every later call returns it again.
func (s *Stream) Recv() (string, error) {
	if s.terminal != nil {
		return "", s.terminal
	}

	timer := time.NewTimer(s.cfg.StallTimeout)
	defer timer.Stop()
	for {
		select {
		case tok, ok := <-s.raw:
			if !ok {
				return s.finish(s.filter.flush(), s.producerResult())
			}
			out, hit := s.filter.push(tok)
			if hit {
				s.cancel()
				err := io.EOF
				if jerr := s.join(); jerr != nil {
					err = jerr
				}
				return s.finish(out, err)
			}
			if out != "" {
				return out, nil
			}
			timer.Reset(s.cfg.StallTimeout)
		case <-timer.C:
			s.cancel()
			err := error(newFailure(KindStreamStall, fmt.Errorf("no output for %s", s.cfg.StallTimeout)))
			if jerr := s.join(); jerr != nil {
				err = jerr
			}
			return s.finish("", err)
		case <-s.ctx.Done():
			s.cancel()
			err := error(newFailure(KindCanceled, s.ctx.Err()))
			if jerr := s.join(); jerr != nil {
				err = jerr
			}
			return s.finish("", err)
		}
	}
}

// Close cancels the producer and waits, bounded by the join grace, for it to
// exit. It returns a StreamStall failure when the producer outlives the grace.
// It is safe to call at any time and more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeErr = s.join()
		if s.terminal == nil {
			s.terminal = newFailure(KindCanceled, errors.New("stream closed"))
		}
	})
	return s.closeErr
}

// Joined is closed once the producer goroutine has exited.
func (s *Stream) Joined() <-chan struct{} { return s.joined }

// producerResult joins the producer after it closed the handoff channel and
// maps its outcome.
func (s *Stream) producerResult() error {
	if jerr := s.join(); jerr != nil {
		return jerr
	}
	switch {
	case s.perr == nil:
		return io.EOF
	case s.ctx.Err() != nil:
		return newFailure(KindCanceled, s.ctx.Err())
	default:
		return newFailure(KindGeneration, s.perr)
	}
}

// join waits for the producer within the grace period.
func (s *Stream) join() error {
	select {
	case <-s.joined:
		return nil
	default:
	}
	t := time.NewTimer(s.cfg.JoinGrace)
	defer t.Stop()
	select {
	case <-s.joined:
		return nil
	case <-t.C:
		return newFailure(KindStreamStall, fmt.Errorf("producer still running %s after cancel", s.cfg.JoinGrace))
	}
}

// finish records the terminal error and returns out first when non-empty.
func (s *Stream) finish(out string, terminal error) (string, error) {
	s.terminal = terminal
	s.cancel()
	if out != "" && terminal == io.EOF {
		return out, nil
	}
	return "", terminal
}
