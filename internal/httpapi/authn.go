package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"worklane.org/internal/auth"
	"worklane.org/internal/rbac"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/token",
	"/v1/users",
	"/metrics",
	"/healthz",
	"/readyz",
	"/openapi.yaml",
	"/",
}

// withAuth resolves the bearer token into a principal on the context. Tokens
// only establish identity; privilege checks go through the kernel so a role
// change takes effect without re-issuing tokens.
//
// Public paths admit anonymous callers, but a supplied token is still
// resolved so handlers like registration can grant more to an authenticated
// admin than to an anonymous caller. An unusable token on a public path
// falls back to anonymous (a stale header must not block re-authentication
// at /v1/auth/token).
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		public := r.Method == http.MethodOptions || isPublicPath(r.URL.Path)
		if public && r.Header.Get(authHeader) == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			if public {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="worklane"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			if public {
				next.ServeHTTP(w, r)
				return
			}
			if errors.Is(err, auth.ErrInvalidToken) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="worklane", error="invalid_token"`)
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		ctx := auth.ContextWithUser(r.Context(), claims.Subject, claims.Roles)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireLevel consults the kernel for the authenticated principal. A failed
// check is always an explicit rejection, never a silent pass.
func (a *API) requireLevel(w http.ResponseWriter, r *http.Request, required rbac.Level) (string, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="worklane"`)
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	if !a.rbac.CheckPermission(r.Context(), userID, required) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="worklane", error="insufficient_scope"`)
		writeError(w, r, http.StatusForbidden, required.String()+" access required")
		return "", false
	}
	return userID, true
}

// principal returns the authenticated user id without a level check, for
// endpoints that only touch caller-owned rows.
func principal(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="worklane"`)
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return userID, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
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
	return false
}
