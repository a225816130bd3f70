package middleware

import (
	"net/http"

	"github.com/ibn-api/authcore"
)

// RequirePermission passes requests whose caller holds name.
func RequirePermission(engine *authcore.Engine, name string) func(http.Handler) http.Handler {
	return Require(engine, authcore.RequirePermission(name))
}

// RequireAny passes requests whose caller holds at least one of names.
func RequireAny(engine *authcore.Engine, names ...string) func(http.Handler) http.Handler {
	return Require(engine, authcore.RequireAny(names...))
}

// RequireAll passes requests whose caller holds every one of names.
func RequireAll(engine *authcore.Engine, names ...string) func(http.Handler) http.Handler {
	return Require(engine, authcore.RequireAll(names...))
}

// RequireCapability passes requests whose caller may perform action on resource.
func RequireCapability(engine *authcore.Engine, resource, action string) func(http.Handler) http.Handler {
	return Require(engine, authcore.RequireCapability(resource, action))
}

// Require evaluates req for the principal stored by [Authenticate]. Without a
// principal it answers 401; a denial answers 403 with the reason.
func Require(engine *authcore.Engine, req authcore.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				WriteError(w, http.StatusUnauthorized, authcore.ErrTokenInvalid)
				return
			}

			d, err := engine.AuthorizeIdentity(r.Context(), p.IdentityID, req)
			if err != nil {
				WriteError(w, StatusFor(err), err)
				return
			}
			if !d.Allowed {
				writeJSONError(w, http.StatusForbidden, errorBody{
					Code:    authcore.CodePermissionDenied,
					Message: authcore.PublicMessage(authcore.ErrPermissionDenied),
					Reason:  d.Reason,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
