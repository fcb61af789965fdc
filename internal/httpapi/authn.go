package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"taxdesk.org/internal/access"
	"taxdesk.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/token",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		ctx := auth.ContextWithActor(r.Context(), claims.Subject, claims.Role)
		ctx = auth.ContextWithAccount(ctx, claims.AccountID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// actorFrom rebuilds the authenticated actor from the request context.
func actorFrom(ctx context.Context) (access.Actor, bool) {
	id, ok := auth.ActorIDFromContext(ctx)
	if !ok {
		return access.Actor{}, false
	}
	roleStr, ok := auth.RoleFromContext(ctx)
	if !ok {
		return access.Actor{}, false
	}
	role, ok := access.ParseRole(roleStr)
	if !ok {
		return access.Actor{}, false
	}
	accountID, _ := auth.AccountIDFromContext(ctx)
	return access.Actor{ID: id, Role: role, AccountID: accountID}, true
}

// requireActor writes the 401 itself when the context has no actor.
func requireActor(w http.ResponseWriter, r *http.Request) (access.Actor, bool) {
	actor, ok := actorFrom(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
	}
	return actor, ok
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
