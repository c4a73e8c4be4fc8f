package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ezifydevelopers/trainingportal-chat/internal/models"
	"github.com/ezifydevelopers/trainingportal-chat/internal/store"
)

type contextKey string

const UserContextKey contextKey = "user"

// AuthMiddleware validates bearer tokens against the session store. Session
// issuance belongs to the portal's login flow; here a token either resolves
// to a user or the request dies with 401.
type AuthMiddleware struct {
	data  store.DataStore
	redis *store.RedisStore
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(data store.DataStore, redis *store.RedisStore) *AuthMiddleware {
	return &AuthMiddleware{data: data, redis: redis}
}

// RequireAuth resolves the Authorization bearer token to a user and places
// it on the request context.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			jsonError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		userID, err := m.redis.ResolveSession(r.Context(), token)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				jsonError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			jsonError(w, http.StatusInternalServerError, "session lookup failed")
			return
		}

		user, err := m.data.GetUser(r.Context(), userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				jsonError(w, http.StatusUnauthorized, "user no longer exists")
				return
			}
			jsonError(w, http.StatusInternalServerError, "user lookup failed")
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken extracts the token from the Authorization header, falling
// back to the "token" query parameter for websocket dials (browser clients
// cannot set headers on the upgrade request).
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetUserFromContext retrieves the authenticated user from the request context.
func GetUserFromContext(ctx context.Context) *models.User {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}
