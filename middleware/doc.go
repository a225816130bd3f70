// Package middleware adapts an authcore.Engine to net/http.
//
// [Authenticate] reads the bearer token, forwards the client IP and User-Agent
// to the engine and stores the resulting [authcore.Principal] in the request
// context. The Require* guards run after it and evaluate a requirement against
// the caller's current grants. [RateLimit] is a per-IP token bucket for
// unauthenticated endpoints such as login.
//
// The package translates HTTP into Engine calls and engine errors into status
// codes. It makes no authentication or authorization decisions of its own.
package middleware
