// Package manager owns the streaming inference pipeline. It is structured into
// small files by concern:
//
//   - handle.go: Handle, the single ownership slot for loaded model artifacts,
//     and Lease, a reader's claim on one published generation.
//   - loader.go: Loader, which acquires and materializes weights on a worker
//     goroutine and publishes them into the Handle exactly once per load.
//   - fetch.go: weights download with throttled progress.
//   - stopfilter.go, stream.go: Stream, which wraps a blocking backend
//     generation in a producer goroutine and hands fragments to a consumer.
//   - session.go: Session, one request from snapshot to Completion.
//   - admission.go: the single in-flight generation gate with a bounded queue.
//   - manager.go: Manager, which ties the pieces together for the chat UI
//     (Listener callbacks) and the HTTP API (blocking Infer/Chat).
//   - errors.go: the closed Failure kinds and IsX helpers.
//   - events.go, metrics.go, status_report.go: observability.
//
// Every worker goroutine recovers panics and converts them into a Failure, so
// nothing a backend does can take down the UI loop.
package manager
