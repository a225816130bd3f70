// Package internal contains helpers private to authcore, chiefly identifier
// generation.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - config: process configuration loading for cmd/authd
//   - flows: orchestration for every Engine operation
//   - logging: slog handler construction
//   - rate: Redis-backed login and refresh throttles
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API.
package internal
