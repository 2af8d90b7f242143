package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Middleware guards the admin routes named by the policy with HS256 bearer tokens.
type Middleware struct {
	secret []byte
	policy Policy
}

// NewMiddleware constructs the middleware. It returns nil for an empty secret,
// and a nil middleware wraps nothing.
func NewMiddleware(secret []byte, policy Policy) *Middleware {
	if len(secret) == 0 {
		return nil
	}
	return &Middleware{secret: secret, policy: policy}
}

// Wrap enforces the policy in front of next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		required, guarded := m.policy.RequiredRole(r)
		if !guarded || m.policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}
		ctx, status := m.authenticate(r, required)
		if status != http.StatusOK {
			deny(w, status)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) authenticate(r *http.Request, required Role) (context.Context, int) {
	claims, err := ParseJWT(bearerToken(r.Header.Get("Authorization")), m.secret)
	if err != nil {
		return nil, http.StatusUnauthorized
	}
	role, _ := NormalizeRole(claims.Role)
	if !role.Satisfies(required) {
		return nil, http.StatusForbidden
	}
	return WithIdentity(r.Context(), role, claims.Subject), http.StatusOK
}

func deny(w http.ResponseWriter, status int) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="hemlarm"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, "{\"error\":%q}\n", strings.ToLower(http.StatusText(status)))
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
