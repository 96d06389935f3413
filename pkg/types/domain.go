package types

// Model represents a discoverable or loadable LLM model.
type Model struct {
	// Stable identifier for the model.
	// example: tinyllama-1.1b-chat.Q4_K_M.gguf
	ID string `json:"id" example:"tinyllama-1.1b-chat.Q4_K_M.gguf"`
	// Human-friendly name.
	// example: tinyllama-1.1b-chat.Q4_K_M
	Name string `json:"name" example:"tinyllama-1.1b-chat.Q4_K_M"`
	// Absolute path to the weights on disk. Empty for backends that manage
	// their own storage (ollama).
	// example: /home/user/models/tinyllama-1.1b-chat.Q4_K_M.gguf
	Path string `json:"path,omitempty" example:"/home/user/models/tinyllama-1.1b-chat.Q4_K_M.gguf"`
	// Size of the weights file in bytes, when known.
	// example: 668788096
	SizeBytes int64 `json:"size_bytes,omitempty" example:"668788096"`
}
