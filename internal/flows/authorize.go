package flows

import (
	"context"
	"strings"

	"github.com/ibn-api/authcore/permission"
)

const (
	ReasonEmptyRequirement     = "empty requirement"
	ReasonAmbiguousRequirement = "ambiguous requirement"
)

// AuthorizeFailureKind classifies authorization failures that are not denials.
type AuthorizeFailureKind int

const (
	AuthorizeFailureNone AuthorizeFailureKind = iota
	AuthorizeFailureResolve
)

// AuthorizeInput is the flow-local requirement. Exactly one of Permission,
// Permissions or Resource/Action is set.
type AuthorizeInput struct {
	IdentityID  string
	Permission  string
	Permissions []string
	RequireAll  bool
	Resource    string
	Action      string
}

// AuthorizeResult is a decision, or a failure when the grants could not be read.
type AuthorizeResult struct {
	Failure AuthorizeFailureKind
	Err     error
	Allowed bool
	Reason  string
}

// AuthorizeDeps captures authorization dependencies.
type AuthorizeDeps struct {
	Resolve  func(ctx context.Context, identityID string) (permission.Set, error)
	Registry *permission.Registry
}

// RunAuthorize resolves the identity's permissions once and evaluates the
// requirement against them.
func RunAuthorize(ctx context.Context, in AuthorizeInput, deps AuthorizeDeps) AuthorizeResult {
	forms := 0
	if in.Permission != "" {
		forms++
	}
	if len(in.Permissions) > 0 {
		forms++
	}
	if in.Resource != "" || in.Action != "" {
		forms++
	}
	switch forms {
	case 0:
		return AuthorizeResult{Reason: ReasonEmptyRequirement}
	case 1:
	default:
		return AuthorizeResult{Reason: ReasonAmbiguousRequirement}
	}

	var capability permission.Capability
	if in.Resource != "" || in.Action != "" {
		capability = permission.Capability{Resource: in.Resource, Action: in.Action}
		if deps.Registry == nil || in.Resource == "" || in.Action == "" {
			return AuthorizeResult{Reason: "unknown capability: " + capability.String()}
		}
		if _, ok := deps.Registry.Satisfying(capability); !ok {
			return AuthorizeResult{Reason: "unknown capability: " + capability.String()}
		}
	}

	held, err := deps.Resolve(ctx, in.IdentityID)
	if err != nil {
		return AuthorizeResult{Failure: AuthorizeFailureResolve, Err: err}
	}

	switch {
	case in.Permission != "":
		if held.Has(in.Permission) {
			return AuthorizeResult{Allowed: true}
		}
		return AuthorizeResult{Reason: "missing permission: " + in.Permission}

	case len(in.Permissions) > 0 && in.RequireAll:
		var missing []string
		for _, name := range in.Permissions {
			if !held.Has(name) {
				missing = append(missing, name)
			}
		}
		if len(missing) == 0 {
			return AuthorizeResult{Allowed: true}
		}
		return AuthorizeResult{Reason: "missing permissions: " + strings.Join(missing, ", ")}

	case len(in.Permissions) > 0:
		for _, name := range in.Permissions {
			if held.Has(name) {
				return AuthorizeResult{Allowed: true}
			}
		}
		return AuthorizeResult{Reason: "missing any of: " + strings.Join(in.Permissions, ", ")}

	default:
		if deps.Registry.Allows(held, capability) {
			return AuthorizeResult{Allowed: true}
		}
		return AuthorizeResult{Reason: "missing capability: " + capability.String()}
	}
}
