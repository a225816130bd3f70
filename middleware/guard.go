package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/ibn-api/authcore"
)

type principalContextKey struct{}

// PrincipalFromContext returns the principal stored by [Authenticate].
func PrincipalFromContext(ctx context.Context) (*authcore.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*authcore.Principal)
	return p, ok && p != nil
}

// WithPrincipal stores p in ctx. Tests and custom guards use it.
func WithPrincipal(ctx context.Context, p *authcore.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// Authenticate verifies the bearer token on every request. Failures answer 401
// with the engine's public error code; a store outage answers 503.
func Authenticate(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				WriteError(w, http.StatusServiceUnavailable, authcore.ErrEngineNotReady)
				return
			}

			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				WriteError(w, http.StatusUnauthorized, authcore.ErrTokenInvalid)
				return
			}

			ctx := ClientContext(r)
			p, err := engine.Authenticate(ctx, token)
			if err != nil {
				WriteError(w, StatusFor(err), err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, p)))
		})
	}
}

// ClientContext returns the request context carrying the client IP and
// User-Agent for the engine.
func ClientContext(r *http.Request) context.Context {
	ctx := authcore.WithClientIP(r.Context(), ClientIP(r))
	if ua := r.UserAgent(); ua != "" {
		ctx = authcore.WithUserAgent(ctx, ua)
	}
	return ctx
}

// ClientIP returns the host part of RemoteAddr. Put a trusted proxy header
// rewriter such as chi's RealIP in front when running behind a proxy.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

// StatusFor maps an engine error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, authcore.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, authcore.ErrLoginRateLimited), errors.Is(err, authcore.ErrRefreshRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, authcore.ErrIdentityNotFound),
		errors.Is(err, authcore.ErrRoleNotFound),
		errors.Is(err, authcore.ErrPermissionNotFound):
		return http.StatusNotFound
	case errors.Is(err, authcore.ErrRoleExists),
		errors.Is(err, authcore.ErrIdentityExists),
		errors.Is(err, authcore.ErrRoleInUse),
		errors.Is(err, authcore.ErrSystemRole):
		return http.StatusConflict
	case errors.Is(err, authcore.ErrPasswordPolicy),
		errors.Is(err, authcore.ErrPasswordReuse),
		errors.Is(err, authcore.ErrInvalidStatus),
		errors.Is(err, authcore.ErrInvalidRoleName),
		errors.Is(err, authcore.ErrInvalidIdentity):
		return http.StatusBadRequest
	case errors.Is(err, authcore.ErrAccountInactive), errors.Is(err, authcore.ErrAccountLocked):
		return http.StatusForbidden
	case errors.Is(err, authcore.ErrStoreUnavailable), errors.Is(err, authcore.ErrEngineNotReady):
		return http.StatusServiceUnavailable
	case authcore.ErrorCode(err) == authcore.CodeServiceError:
		return http.StatusInternalServerError
	default:
		return http.StatusUnauthorized
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// WriteError writes {"code","message"} using the engine's public mapping, so
// internal detail never reaches the client.
func WriteError(w http.ResponseWriter, status int, err error) {
	writeJSONError(w, status, errorBody{
		Code:    authcore.ErrorCode(err),
		Message: authcore.PublicMessage(err),
	})
}

func writeJSONError(w http.ResponseWriter, status int, body errorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
