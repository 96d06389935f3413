package httpapi

import "time"

// maxBodyBytes controls the maximum allowed request body size for JSON endpoints.
var maxBodyBytes int64 = 1 << 20

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 1 << 20
		return
	}
	maxBodyBytes = n
}

// chatTimeout bounds a /chat request. Zero means no bound beyond the stream's
// own stall detection.
var chatTimeout time.Duration

// SetChatTimeoutSeconds sets the /chat timeout in seconds (0 disables).
func SetChatTimeoutSeconds(sec int64) {
	if sec < 0 {
		sec = 0
	}
	chatTimeout = time.Duration(sec) * time.Second
}

// CORS configuration (opt-in). If no origins are set, no CORS middleware is added.
var (
	corsAllowedOrigins []string
	corsAllowedMethods = []string{"GET", "POST", "OPTIONS"}
	corsAllowedHeaders = []string{"Content-Type", "X-Log-Level", "X-Request-Id"}
)

// SetCORSOrigins enables CORS for the given origins; nil disables it.
func SetCORSOrigins(origins []string) {
	corsAllowedOrigins = nil
	for _, o := range origins {
		if o != "" {
			corsAllowedOrigins = append(corsAllowedOrigins, o)
		}
	}
}
