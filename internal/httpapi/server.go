// Package httpapi exposes the tutor over a local HTTP API: model listing,
// status, background reloads and stateless streamed chat.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tutor/internal/manager"
	"tutor/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() ([]types.Model, error)
	Status() types.StatusResponse
	Ready() bool
	// Reload starts a background load of the configured model.
	Reload(ctx context.Context) error
	// Chat runs one stateless conversation, calling onFragment for every
	// fragment before returning.
	Chat(ctx context.Context, req types.ChatRequest, onFragment func(string)) (manager.Completion, error)
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if len(corsAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(inflight)
		r.With(middleware.Compress(5)).Get("/models", modelsHandler(svc))
		r.With(middleware.Compress(5)).Get("/status", statusHandler(svc))
		r.Post("/load", loadHandler(svc))
		r.Post("/chat", chatHandler(svc))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

// modelsHandler godoc
// @Summary      List local models
// @Produce      json
// @Success      200  {object}  types.ModelsResponse
// @Failure      500  {object}  types.ErrorResponse
// @Router       /models [get]
func modelsHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		models, err := svc.ListModels()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, types.ModelsResponse{Models: models})
	}
}

// statusHandler godoc
// @Summary      Model and queue status
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Router       /status [get]
func statusHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	}
}

// loadHandler godoc
// @Summary      Reload the configured model in the background
// @Produce      json
// @Success      202  {object}  types.LoadResponse
// @Failure      409  {object}  types.ErrorResponse
// @Router       /load [post]
func loadHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Reload(serverBaseCtx); err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		log := reqLogger(r)
		log.Info().Str("event", "load_requested").Msg("model reload started")
		writeJSON(w, http.StatusAccepted, types.LoadResponse{State: "loading"})
	}
}

// chatHandler godoc
// @Summary      Stream a tutor reply
// @Description  Streams NDJSON lines {"delta":...} then a final {"done":true,...} line.
// @Accept       json
// @Produce      application/x-ndjson
// @Param        request  body      types.ChatRequest  true  "conversation"
// @Success      200      {object}  types.ChatDone
// @Failure      400      {object}  types.ErrorResponse
// @Failure      429      {object}  types.ErrorResponse
// @Failure      502      {object}  types.ErrorResponse
// @Failure      503      {object}  types.ErrorResponse
// @Failure      504      {object}  types.ErrorResponse
// @Router       /chat [post]
func chatHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if len(req.Messages) == 0 {
			writeJSONError(w, http.StatusBadRequest, "messages is required")
			return
		}

		lvl := requestLogLevel(r)
		log := reqLogger(r)
		var out io.Writer = w
		if lvl >= LevelDebug {
			out = io.MultiWriter(w, &loggingLineWriter{log: log})
		}
		flush := func() {}
		if f, ok := w.(http.Flusher); ok {
			flush = f.Flush
		}
		enc := json.NewEncoder(out)

		start := time.Now()
		if lvl >= LevelInfo {
			log.Info().Str("path", r.URL.Path).Int("messages", len(req.Messages)).Msg("chat start")
		}
		ctx, cancel := requestContext(r.Context())
		defer cancel()

		started := false
		begin := func() {
			if started {
				return
			}
			started = true
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)
		}
		comp, err := svc.Chat(ctx, req, func(frag string) {
			if !started {
				chatFirstFragment.Observe(time.Since(start).Seconds())
			}
			begin()
			_ = enc.Encode(types.ChatDelta{Delta: frag})
			flush()
		})
		if err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			status := statusFor(err)
			if status == http.StatusTooManyRequests {
				IncrementBackpressure("busy")
			}
			if lvl >= LevelError {
				log.Warn().Int("status", status).Str("kind", manager.KindOf(err).String()).Dur("dur", time.Since(start)).Err(err).Msg("chat end")
			}
			if started {
				// the status line is gone; report in-band
				_ = enc.Encode(types.ChatError{Error: err.Error(), Kind: manager.KindOf(err).String()})
				flush()
				return
			}
			writeJSONError(w, status, err.Error())
			return
		}
		begin()
		_ = enc.Encode(types.ChatDone{
			Done:         true,
			Content:      comp.Text,
			LatencyMS:    comp.Latency.Milliseconds(),
			PromptTokens: comp.PromptTokens,
			Fragments:    comp.Fragments,
		})
		flush()
		if lvl >= LevelInfo {
			log.Info().Int("status", http.StatusOK).Dur("dur", time.Since(start)).Int("fragments", comp.Fragments).Msg("chat end")
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Error().Err(err).Msg("encode response")
	}
}
