package middleware

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	pkgerrors "arenaoj/pkg/errors"
	"arenaoj/pkg/utils/contextkey"
	"arenaoj/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const userIDContextKey = "user_id"

// JWTConfig holds token validation settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

type tokenClaims struct {
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// JWTAuthMiddleware enforces JWT validation for protected routes.
// On success the authenticated user id is stored in both the gin context
// and the request context.
func JWTAuthMiddleware(cfg JWTConfig) gin.HandlerFunc {
	secret := []byte(cfg.Secret)
	return func(c *gin.Context) {
		raw := extractBearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			response.AbortWithErrorCode(c, pkgerrors.TokenInvalid, "missing bearer token")
			return
		}

		userID, err := parseAccessToken(secret, cfg.Issuer, raw)
		if err != nil {
			response.AbortWithError(c, err)
			return
		}

		c.Set(userIDContextKey, userID)
		ctx := context.WithValue(c.Request.Context(), contextkey.UserID, strconv.FormatInt(userID, 10))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// UserIDFromContext returns the authenticated user id set by JWTAuthMiddleware.
func UserIDFromContext(c *gin.Context) (int64, bool) {
	value, exists := c.Get(userIDContextKey)
	if !exists {
		return 0, false
	}
	userID, ok := value.(int64)
	return userID, ok
}

func parseAccessToken(secret []byte, issuer, raw string) (int64, error) {
	if len(secret) == 0 {
		return 0, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, pkgerrors.New(pkgerrors.TokenExpired)
		}
		return 0, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if !parsed.Valid {
		return 0, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok {
		return 0, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if issuer != "" && claims.Issuer != issuer {
		return 0, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if claims.TokenType != "access" {
		return 0, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	return userID, nil
}

func extractBearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
