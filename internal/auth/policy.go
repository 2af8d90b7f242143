package auth

import (
	"net/http"
	"strings"
)

type guardedRoute struct {
	path   string
	prefix bool
	role   Role
}

// adminRoutes lists every route that needs a token. Anything else under /api is
// open so sensors keep reporting without credentials.
var adminRoutes = []guardedRoute{
	{path: "/api/clear_devices", role: RoleAdmin},
	{path: "/api/clear_logs", role: RoleAdmin},
	{path: "/api/toggle_alarm/", prefix: true, role: RoleOperator},
}

// Policy decides which requests need a token and which role they need.
type Policy struct {
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
}

// NewDefaultPolicy builds a policy with the given exemptions.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{ExemptPaths: set, ExemptPrefixes: exemptPrefixes}
}

// IsExempt reports whether a request skips auth entirely. CORS preflights always do.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil || r.Method == http.MethodOptions {
		return true
	}
	if _, ok := p.ExemptPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.ExemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// RequiredRole returns the role a request needs. The path is matched after
// dropping one trailing slash, the same normalization the API handler routes on.
func (p Policy) RequiredRole(r *http.Request) (Role, bool) {
	if r == nil {
		return "", false
	}
	path := strings.TrimSuffix(r.URL.Path, "/")
	for _, route := range adminRoutes {
		if route.prefix && strings.HasPrefix(path, route.path) {
			return route.role, true
		}
		if !route.prefix && path == route.path {
			return route.role, true
		}
	}
	return "", false
}
