// Package docs holds the OpenAPI description served under /swagger/ when the
// binary is built with -tags=swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/chat": {
            "post": {
                "description": "Streams NDJSON lines {\"delta\":...} then a final {\"done\":true,...} line.",
                "consumes": ["application/json"],
                "produces": ["application/x-ndjson"],
                "summary": "Stream a tutor reply",
                "parameters": [
                    {
                        "description": "conversation",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/types.ChatRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ChatDone"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "504": {"description": "Gateway Timeout", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/load": {
            "post": {
                "produces": ["application/json"],
                "summary": "Reload the configured model in the background",
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/types.LoadResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/models": {
            "get": {
                "produces": ["application/json"],
                "summary": "List local models",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ModelsResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/status": {
            "get": {
                "produces": ["application/json"],
                "summary": "Model and queue status",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}
                }
            }
        }
    },
    "definitions": {
        "types.ChatMessage": {
            "type": "object",
            "properties": {
                "content": {"type": "string", "example": "What is 2+2?"},
                "role": {"type": "string", "example": "user"}
            }
        },
        "types.ChatRequest": {
            "type": "object",
            "properties": {
                "max_tokens": {"type": "integer", "example": 128},
                "messages": {"type": "array", "items": {"$ref": "#/definitions/types.ChatMessage"}},
                "temperature": {"type": "number", "example": 0.7},
                "top_p": {"type": "number", "example": 0.9}
            }
        },
        "types.ChatDone": {
            "type": "object",
            "properties": {
                "content": {"type": "string", "example": "Think about pairs."},
                "done": {"type": "boolean", "example": true},
                "fragments": {"type": "integer", "example": 42},
                "latency_ms": {"type": "integer", "example": 1834},
                "prompt_tokens": {"type": "integer", "example": 87}
            }
        },
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "integer", "example": 400},
                "error": {"type": "string", "example": "invalid JSON body"}
            }
        },
        "types.LoadResponse": {
            "type": "object",
            "properties": {
                "state": {"type": "string", "example": "loading"}
            }
        },
        "types.Model": {
            "type": "object",
            "properties": {
                "id": {"type": "string", "example": "tinyllama-1.1b-chat-v1.0.Q4_K_M.gguf"},
                "name": {"type": "string", "example": "tinyllama-1.1b-chat-v1.0.Q4_K_M"},
                "path": {"type": "string"},
                "size_bytes": {"type": "integer"}
            }
        },
        "types.ModelsResponse": {
            "type": "object",
            "properties": {
                "models": {"type": "array", "items": {"$ref": "#/definitions/types.Model"}}
            }
        },
        "types.StatusResponse": {
            "type": "object",
            "properties": {
                "backend": {"type": "string", "example": "llamacpp"},
                "generation": {"type": "integer", "example": 1},
                "inferences_total": {"type": "integer", "example": 12},
                "inflight": {"type": "integer", "example": 0},
                "last_error": {"type": "string"},
                "loads_total": {"type": "integer", "example": 2},
                "max_queue_depth": {"type": "integer", "example": 4},
                "model": {"$ref": "#/definitions/types.Model"},
                "queue_len": {"type": "integer", "example": 0},
                "ready": {"type": "boolean", "example": true},
                "server_time_unix": {"type": "integer", "example": 1700000000},
                "state": {"type": "string", "example": "ready"},
                "uptime_seconds": {"type": "integer", "example": 3600}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "tutor API",
	Description:      "Local HTTP API for the offline AI tutor.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
