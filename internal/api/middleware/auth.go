package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/silveridc/verigate/internal/api/response"
	"github.com/silveridc/verigate/internal/keys"
)

// Auth authenticates the tenant-facing API: Bearer secret, resolved against
// the active key set, with the key id and default-key flag attached to the
// request context for downstream handlers.
type Auth struct {
	keys *keys.Service
}

// NewAuth creates the tenant auth middleware.
func NewAuth(k *keys.Service) *Auth {
	return &Auth{keys: k}
}

// Authenticate validates the Bearer credential and injects (key_id,
// is_default) into the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := extractBearerToken(r)
		if secret == "" {
			response.Fail(w, http.StatusUnauthorized, "missing or invalid authorization header")
			return
		}

		matched, err := a.keys.Match(r.Context(), secret)
		if errors.Is(err, keys.ErrNotInitialized) {
			response.Fail(w, http.StatusInternalServerError, "service not initialized")
			return
		}
		if err != nil {
			response.Fail(w, http.StatusInternalServerError, "failed to validate api key")
			return
		}
		if matched == nil {
			response.Fail(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		if !matched.Active() {
			response.Fail(w, http.StatusUnauthorized, "api key is disabled")
			return
		}

		isDefault, err := a.keys.IsDefault(r.Context(), matched.ID)
		if err != nil {
			response.Fail(w, http.StatusInternalServerError, "failed to validate api key")
			return
		}

		ctx := SetKeyID(r.Context(), matched.ID)
		ctx = SetIsDefault(ctx, isDefault)
		ctx = setSecret(ctx, secret)

		// Update last_action_at async, best-effort.
		go a.keys.TouchLastAction(context.Background(), matched.ID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireDefault rejects requests whose key is not the default key. Mounted
// after Authenticate on default-only routes.
func RequireDefault(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !GetIsDefault(r) {
			response.Fail(w, http.StatusForbidden, "default api key required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
