// Package policy provides method visibility filtering for the dispatcher.
// It supports policy injection via HTTP headers and context-based access
// checks. This is a convenience filter for staged rollouts and multi-tenant
// method gating, not authentication or authorization — denying a method a
// caller attempts yields METHOD_NOT_FOUND, never an auth error.
package policy

import (
	"context"
	"strings"
)

type contextKey int

const policyKey contextKey = iota + 1

// Header names carrying the method allow/deny lists.
const (
	// AllowMethodsHeader specifies methods to allow (comma-separated).
	AllowMethodsHeader = "X-A2A-Allow-Methods"
	// DenyMethodsHeader specifies methods to deny (comma-separated).
	DenyMethodsHeader = "X-A2A-Deny-Methods"
)

// Policy represents method access rules for one inbound request.
type Policy struct {
	// AllowList contains methods explicitly allowed. Empty means all allowed.
	AllowList []string
	// DenyList contains methods explicitly denied; denial takes precedence.
	DenyList []string
}

// ExtractFromHeaders parses the allow/deny headers into a Policy.
func ExtractFromHeaders(allowHeader, denyHeader string) *Policy {
	return &Policy{
		AllowList: parseMethodList(allowHeader),
		DenyList:  parseMethodList(denyHeader),
	}
}

func parseMethodList(header string) []string {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	methods := make([]string, 0, len(parts))
	for _, p := range parts {
		if m := strings.TrimSpace(p); m != "" {
			methods = append(methods, m)
		}
	}
	return methods
}

// InjectToContext attaches p to ctx.
func InjectToContext(ctx context.Context, p *Policy) context.Context {
	return context.WithValue(ctx, policyKey, p)
}

// FromContext retrieves the Policy previously attached to ctx, or nil.
func FromContext(ctx context.Context) *Policy {
	p, _ := ctx.Value(policyKey).(*Policy)
	return p
}

// Allows reports whether method is reachable under p. A nil Policy allows
// everything. Deny always takes precedence over allow.
func Allows(method string, p *Policy) bool {
	if p == nil {
		return true
	}
	for _, m := range p.DenyList {
		if m == method {
			return false
		}
	}
	if len(p.AllowList) == 0 {
		return true
	}
	for _, m := range p.AllowList {
		if m == method {
			return true
		}
	}
	return false
}
