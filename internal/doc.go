// Package internal contains the core implementation packages for
// rendercache.
//
// This package follows Go's internal package convention, making these
// packages unavailable for import by external modules while providing
// all the core functionality for the rendercache daemon and CLI.
//
// # Package Organization
//
// The internal packages are organized by functional domain:
//
//   - config: Configuration loading, defaults, and validation
//   - errors: Structured render errors and engine-output classification
//   - hash: Content fingerprinting for token identity
//   - invoker: Render engine subprocess supervision
//   - logging: Structured logging with console and file destinations
//   - queue: FIFO render scheduling with a concurrency ceiling
//   - server: HTTP API, request middleware, and websocket event push
//   - token: Token lifecycle, persistence, and repair
//   - watcher: Source file monitoring with debounced invalidation
//
// # Inter-Package Communication
//
// The token store is the single source of truth: the queue, invoker and
// watcher report every state change through it, and the server observes
// changes via its event stream. No package mutates a token it did not
// receive from the store.
package internal
