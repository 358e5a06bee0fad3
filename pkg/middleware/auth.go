package middleware

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"underneath-backend/pkg/apperrors"
	"underneath-backend/pkg/models"
	"underneath-backend/pkg/utils"
)

// ContextKey 用于在context中存储用户信息的键
type ContextKey string

const (
	UserContextKey ContextKey = "user"
)

// bearerToken extracts the token from an "Authorization: Bearer ..." header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// AuthMiddleware JWT认证中间件: only access tokens are accepted.
func AuthMiddleware(jwt *utils.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := zerolog.Ctx(r.Context())

			token, ok := bearerToken(r)
			if !ok {
				if r.Header.Get("Authorization") == "" {
					utils.WriteUnauthorizedResponse(w, "Missing authorization header")
				} else {
					utils.WriteUnauthorizedResponse(w, "Invalid authorization header format")
				}
				return
			}

			claims, err := jwt.ValidateAccessToken(token)
			if err != nil {
				log.Debug().Err(err).Msg("rejected access token")
				utils.WriteUnauthorizedResponse(w, "Invalid or expired token")
				return
			}

			user := &models.User{
				ID:    claims.UserID,
				Email: claims.Email,
				Role:  claims.Role,
			}
			ctx := log.With().Str("user_id", user.ID).Logger().WithContext(r.Context())
			ctx = context.WithValue(ctx, UserContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuthMiddleware attaches the user when a valid token is present and
// otherwise lets the request through anonymously.
func OptionalAuthMiddleware(jwt *utils.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token, ok := bearerToken(r); ok {
				if claims, err := jwt.ValidateAccessToken(token); err == nil {
					user := &models.User{ID: claims.UserID, Email: claims.Email, Role: claims.Role}
					r = r.WithContext(context.WithValue(r.Context(), UserContextKey, user))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole 角色守卫: must run after AuthMiddleware.
func RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := GetUserFromContext(r.Context())
			if !ok {
				utils.WriteUnauthorizedResponse(w, "Authentication required")
				return
			}
			if !slices.Contains(roles, user.Role) {
				zerolog.Ctx(r.Context()).Debug().
					Str("role", string(user.Role)).
					Msg("role not allowed")
				utils.WriteForbiddenResponse(w, "Insufficient role for this operation")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetUserFromContext 从context中获取用户信息
func GetUserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	return user, ok && user != nil
}

// RequireUser 要求用户必须已认证的辅助函数
func RequireUser(ctx context.Context) (*models.User, error) {
	user, ok := GetUserFromContext(ctx)
	if !ok {
		return nil, apperrors.New(apperrors.CodeUnauthorized, "User not authenticated")
	}
	return user, nil
}
