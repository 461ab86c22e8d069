package myMiddleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"chat-relay/internal/auth"
)

type contextKey string

const identityKey contextKey = "identity"

// This interface decouples 'middleware' from the concrete verifier.
type CredentialVerifier interface {
	Verify(token string) (auth.Identity, error)
}

type AuthMiddleware struct {
	verifier CredentialVerifier
}

func NewAuthMiddleware(v CredentialVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: v}
}

// Handle authenticates every request with the same verifier, whether it is a
// REST call or a websocket handshake. Browsers cannot set headers on a
// websocket upgrade, so the token query parameter is accepted as a fallback.
func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := am.verifier.Verify(BearerToken(r))
		if err != nil {
			unauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// BearerToken extracts the credential from the Authorization header or the
// token query parameter.
func BearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.Fields(header)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
		if len(parts) == 1 {
			return parts[0]
		}
	}
	return r.URL.Query().Get("token")
}

func WithIdentity(ctx context.Context, id auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFrom(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey).(auth.Identity)
	return id, ok
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    "unauthenticated",
			"message": "missing or invalid credential",
		},
	})
}
