package backend

import "context"

// Batch adapts a Generator that only returns whole completions into a Model
// whose stream yields the completion as a single fragment.
func Batch(g Generator) Model { return batchModel{g: g} }

type batchModel struct{ g Generator }

func (b batchModel) Generate(ctx context.Context, prompt string, p Params) (string, error) {
	return b.g.Generate(ctx, prompt, p)
}

func (b batchModel) GenerateStream(ctx context.Context, prompt string, p Params, onToken func(string) error) error {
	text, err := b.g.Generate(ctx, prompt, p)
	if err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	return onToken(text)
}

func (b batchModel) Close() error {
	if c, ok := b.g.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// ApproxTokenizer estimates token counts for runtimes without a tokenize
// endpoint: one token per four bytes, rounded up.
type ApproxTokenizer struct{}

func (ApproxTokenizer) Encode(_ context.Context, text string) ([]int, error) {
	n := (len(text) + 3) / 4
	return make([]int, n), nil
}

// collect streams a completion and concatenates its fragments.
func collect(ctx context.Context, m Model, prompt string, p Params) (string, error) {
	var out []byte
	err := m.GenerateStream(ctx, prompt, p, func(s string) error {
		out = append(out, s...)
		return nil
	})
	return string(out), err
}
