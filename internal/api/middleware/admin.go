package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/silveridc/verigate/internal/api/response"
	"github.com/silveridc/verigate/internal/cache"
	"github.com/silveridc/verigate/internal/keys"
)

// AdminAuth guards the privileged management surface. On top of the tenant
// checks it consults the server-side logout denylist before key lookup and
// enforces the key's IP whitelist when one is configured.
type AdminAuth struct {
	keys  *keys.Service
	cache cache.Cache
}

// NewAdminAuth creates the administrative auth middleware.
func NewAdminAuth(k *keys.Service, c cache.Cache) *AdminAuth {
	return &AdminAuth{keys: k, cache: c}
}

// Authenticate validates the Bearer credential for the admin surface.
func (a *AdminAuth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := extractBearerToken(r)
		if secret == "" {
			response.Fail(w, http.StatusUnauthorized, "missing or invalid authorization header")
			return
		}

		// Logged-out credentials stay rejected until the denylist entry
		// expires, even though the key itself is still valid.
		if denied, err := a.cache.IsDenied(r.Context(), secret); err == nil && denied {
			response.Fail(w, http.StatusUnauthorized, "credential has been logged out")
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

		if matched.IPWhitelist != "" {
			ip := ClientIP(r)
			if !keys.IPAllowed(ip, keys.ParseWhitelist(matched.IPWhitelist)) {
				response.Fail(w, http.StatusUnauthorized, "ip not in whitelist: "+ip)
				return
			}
		}

		isDefault, err := a.keys.IsDefault(r.Context(), matched.ID)
		if err != nil {
			response.Fail(w, http.StatusInternalServerError, "failed to validate api key")
			return
		}

		ctx := SetKeyID(r.Context(), matched.ID)
		ctx = SetIsDefault(ctx, isDefault)
		ctx = setSecret(ctx, secret)

		go a.keys.TouchLastAction(context.Background(), matched.ID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
