package httpapi

import (
	"net/http"
	"strings"

	"github.com/fieldmate-ai/raggate/internal/domain/caller"
)

// exemptPaths are routes that bypass authentication (health, metrics).
var exemptPaths = map[string]struct{}{
	"/healthz": {},
	"/metrics": {},
}

// APIKey binds one bearer key to the caller identity it authenticates.
type APIKey struct {
	Key      string
	Identity caller.Caller
}

// BearerAuthMiddleware returns a middleware that validates Bearer tokens and
// places the key's configured identity in the request context, where
// callerFrom picks it up. If apiKeys is empty, authentication is disabled
// (pass-through) and the identity comes from the caller headers alone.
func BearerAuthMiddleware(apiKeys []APIKey) func(http.Handler) http.Handler {
	identities := make(map[string]caller.Caller, len(apiKeys))
	for _, k := range apiKeys {
		if k.Key != "" {
			identities[k.Key] = k.Identity
		}
	}

	return func(next http.Handler) http.Handler {
		// Auth disabled — pass everything through
		if len(identities) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Exempt paths
			if _, ok := exemptPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			auth := r.Header.Get("Authorization")
			if auth == "" {
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "missing authorization header")
				return
			}

			const bearerPrefix = "Bearer "
			if !strings.HasPrefix(auth, bearerPrefix) {
				writeError(w, http.StatusUnauthorized,
					CodeUnauthorized, "authorization header must use Bearer scheme")
				return
			}

			identity, ok := identities[auth[len(bearerPrefix):]]
			if !ok {
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid api key")
				return
			}

			next.ServeHTTP(w, r.WithContext(withKeyIdentity(r.Context(), identity)))
		})
	}
}
