package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/aisu-os/core/pkg/types"
)

type contextKey string

const userContextKey contextKey = "aisu.user"

// ExtractToken pulls the bearer token from the Authorization header or,
// for browser links and WebSocket upgrades, the token query parameter.
func ExtractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// Middleware authenticates every request on the wrapped router and stores
// the user in the request context. Unauthenticated requests get 401.
func Middleware(svc *Service) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractToken(r)
			if token == "" {
				http.Error(w, `{"detail":"Missing bearer token"}`, http.StatusUnauthorized)
				return
			}

			user, err := svc.UserFromToken(token)
			if err != nil {
				http.Error(w, `{"detail":"Invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFrom returns the authenticated user stored by Middleware.
func UserFrom(ctx context.Context) (*types.User, bool) {
	user, ok := ctx.Value(userContextKey).(*types.User)
	return user, ok
}

// RequireRole gates a handler on the user's role.
func RequireRole(role string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFrom(r.Context())
		if !ok || user.Role != role {
			http.Error(w, `{"detail":"Forbidden"}`, http.StatusForbidden)
			return
		}
		next(w, r)
	}
}
