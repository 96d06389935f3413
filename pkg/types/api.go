package types

// ChatMessage is one role-tagged turn supplied by an HTTP client.
type ChatMessage struct {
	// One of system, user, assistant.
	// example: user
	Role string `json:"role" example:"user"`
	// example: What is 2+2?
	Content string `json:"content" example:"What is 2+2?"`
}

// ChatRequest is the body of POST /chat. The server keeps no conversation
// state; every request carries the full history.
type ChatRequest struct {
	// Ordered conversation. A leading system message replaces the configured
	// tutoring directive; otherwise the directive is prepended.
	Messages []ChatMessage `json:"messages"`
	// Maximum number of new tokens to generate (0 = server default).
	// example: 128
	MaxTokens int `json:"max_tokens,omitempty" example:"128"`
	// Sampling temperature (0 = server default).
	// example: 0.7
	Temperature float64 `json:"temperature,omitempty" example:"0.7"`
	// Nucleus sampling probability (0 = server default).
	// example: 0.9
	TopP float64 `json:"top_p,omitempty" example:"0.9"`
}

// ChatDelta is one streamed NDJSON line carrying a fragment.
type ChatDelta struct {
	// example: Think
	Delta string `json:"delta" example:"Think"`
}

// ChatDone is the final NDJSON line of a successful stream.
type ChatDone struct {
	Done bool `json:"done" example:"true"`
	// Trimmed full response.
	// example: Think about pairs.
	Content string `json:"content" example:"Think about pairs."`
	// Wall-clock latency from dispatch to stream exhaustion.
	// example: 1834
	LatencyMS int64 `json:"latency_ms" example:"1834"`
	// Prompt size as counted by the model tokenizer (0 if unknown).
	// example: 87
	PromptTokens int `json:"prompt_tokens,omitempty" example:"87"`
	// Number of fragments forwarded.
	// example: 42
	Fragments int `json:"fragments" example:"42"`
}

// ChatError is written as the last NDJSON line when a stream fails after
// output has started.
type ChatError struct {
	// example: stream stalled
	Error string `json:"error" example:"stream stalled"`
	// Failure kind (load, not_ready, generation, stream_stall, busy, canceled).
	// example: stream_stall
	Kind string `json:"kind" example:"stream_stall"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// List of available models.
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// LoadResponse acknowledges POST /load.
type LoadResponse struct {
	// example: loading
	State string `json:"state" example:"loading"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Overall manager state (idle, loading, ready, error).
	// example: ready
	State string `json:"state" example:"ready"`
	// Whether a model handle is published and usable.
	// example: true
	Ready bool `json:"ready" example:"true"`
	// Backend variant in use.
	// example: llamacpp
	Backend string `json:"backend" example:"llamacpp"`
	// Model currently published, if any.
	Model *Model `json:"model,omitempty"`
	// Number of handle publications since start.
	// example: 1
	Generation uint64 `json:"generation" example:"1"`
	// Number of in-flight generations (0 or 1).
	// example: 0
	Inflight int `json:"inflight" example:"0"`
	// Requests waiting for admission.
	// example: 0
	QueueLen int `json:"queue_len" example:"0"`
	// Maximum queued requests allowed before backpressure triggers.
	// example: 4
	MaxQueueDepth int `json:"max_queue_depth" example:"4"`
	// Last error observed by the manager (if any).
	LastError string `json:"last_error,omitempty"`
	// Uptime of the process in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Total number of completed load attempts.
	// example: 2
	LoadsTotal uint64 `json:"loads_total" example:"2"`
	// Total number of inference requests dispatched.
	// example: 12
	InferencesTotal uint64 `json:"inferences_total" example:"12"`
}
