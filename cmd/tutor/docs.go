package main

// General API documentation for swaggo. Regenerate with `swag init -g cmd/tutor/docs.go`.
//
// @title           tutor API
// @version         1.0
// @description     Local HTTP API for the offline tutor: stateless chat over a locally loaded model.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
