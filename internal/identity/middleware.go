package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
)

type contextKey struct{}

const (
	msgTokenRequired = "Token requerido"
	msgTokenInvalid  = "Token inválido"
	msgForbidden     = "No autorizado"
)

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// Authenticate requires a valid "Authorization: Bearer <token>" header.
func Authenticate(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				deny(w, http.StatusUnauthorized, "unauthorized", msgTokenRequired)
				return
			}

			id, err := v.Verify(strings.TrimSpace(token))
			if err != nil {
				deny(w, http.StatusUnauthorized, "unauthorized", msgTokenInvalid)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireRole admits callers whose role is one of roles. It must run after
// Authenticate.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := FromContext(r.Context())
			if !ok || !slices.Contains(roles, id.Role) {
				deny(w, http.StatusForbidden, "forbidden", msgForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func deny(w http.ResponseWriter, status int, code, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "details": details})
}
