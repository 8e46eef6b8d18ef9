package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"hatchup.org/internal/auth"
	"hatchup.org/internal/authz"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
}
var publicPrefixes = []string{
	"/v1/auth/",
}

// withAuth resolves the bearer token into an Identity and gives each request
// its own permission cache. Public paths run as Anonymous.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := authz.WithRequestCache(r.Context())
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		if a.auth == nil {
			writeError(w, r, http.StatusServiceUnavailable, "authentication unavailable")
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="hatchup"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		id, err := a.auth.Authenticate(ctx, token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidToken):
				w.Header().Set("WWW-Authenticate", `Bearer realm="hatchup", error="invalid_token"`)
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx = auth.ContextWithIdentity(ctx, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRoles admits callers holding any of roles. Platform admins always
// pass; a lookup failure is a 500, never an admission.
func (a *API) RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := auth.IdentityFromContext(r.Context())
			if !id.Authenticated() {
				w.Header().Set("WWW-Authenticate", `Bearer realm="hatchup"`)
				writeError(w, r, http.StatusUnauthorized, "authentication required")
				return
			}
			ok, err := a.gate.AllowEndpoint(r.Context(), id, roles)
			if err != nil {
				a.logger.Error("role check failed", zap.Error(err))
				writeError(w, r, http.StatusInternalServerError, "authorization error")
				return
			}
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="hatchup", error="insufficient_scope"`)
				writeError(w, r, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
