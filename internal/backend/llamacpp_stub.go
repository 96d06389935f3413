//go:build !llama

package backend

import (
	"context"

	"github.com/rs/zerolog"

	"tutor/internal/config"
	"tutor/pkg/types"
)

// llamaCPP is compiled when the 'llama' build tag is NOT set, keeping default
// builds CGO-free. Open always fails with UnavailableError.
type llamaCPP struct{ log zerolog.Logger }

func newLlamaCPP(_ config.Config, log zerolog.Logger) Opener { return &llamaCPP{log: log} }

func (o *llamaCPP) Name() string { return config.BackendLlamaCPP }

func (o *llamaCPP) Open(_ context.Context, _ types.Model) (*Artifacts, error) {
	return nil, UnavailableError{Msg: "llama support not built (missing 'llama' build tag); use backend llama-server or ollama"}
}
