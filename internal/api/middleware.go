package api

import (
	"context"
	"net/http"
	"strings"

	"accounts/internal/constants"
	"accounts/internal/models"
)

type contextKey string

const userKey contextKey = "user"

// Authenticator resolves an access token to the user it was issued for.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*models.User, error)
}

type AuthMiddleware struct {
	accounts Authenticator
}

func NewAuthMiddleware(accounts Authenticator) *AuthMiddleware {
	return &AuthMiddleware{accounts: accounts}
}

// RequireAuth reads the access token from the accessToken cookie, falling
// back to an Authorization bearer header.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := accessTokenFromRequest(r)
		if token == "" {
			unauthorized(w, "Unauthorized request")
			return
		}

		user, err := m.accounts.Authenticate(r.Context(), token)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), userKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func accessTokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(constants.AccessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	authHeader := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func GetUser(r *http.Request) *models.User {
	if user, ok := r.Context().Value(userKey).(*models.User); ok {
		return user
	}
	return nil
}
