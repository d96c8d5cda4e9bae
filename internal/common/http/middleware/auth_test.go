package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"arenaoj/internal/common/http/middleware"
	pkgerrors "arenaoj/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	testSecret = "test-secret"
	testIssuer = "arenaoj"
)

func signToken(t *testing.T, secret, issuer, tokenType, subject string, expiresIn time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{
		"typ": tokenType,
		"iss": issuer,
		"sub": subject,
		"exp": time.Now().Add(expiresIn).Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token failed: %v", err)
	}
	return signed
}

func newAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/protected",
		middleware.JWTAuthMiddleware(middleware.JWTConfig{Secret: testSecret, Issuer: testIssuer}),
		func(c *gin.Context) {
			userID, ok := middleware.UserIDFromContext(c)
			if !ok {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "no user id"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"user_id": userID})
		},
	)
	return router
}

func doAuthRequest(t *testing.T, router *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func responseCode(t *testing.T, recorder *httptest.ResponseRecorder) pkgerrors.ErrorCode {
	t.Helper()
	var body struct {
		Code pkgerrors.ErrorCode `json:"code"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response failed: %v", err)
	}
	return body.Code
}

func TestJWTAuthValidToken(t *testing.T) {
	router := newAuthRouter()
	token := signToken(t, testSecret, testIssuer, "access", "7", time.Hour)

	recorder := doAuthRequest(t, router, "Bearer "+token)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var body struct {
		UserID int64 `json:"user_id"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response failed: %v", err)
	}
	if body.UserID != 7 {
		t.Fatalf("expected user id 7, got %d", body.UserID)
	}
}

func TestJWTAuthMissingHeader(t *testing.T) {
	router := newAuthRouter()
	recorder := doAuthRequest(t, router, "")
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	if code := responseCode(t, recorder); code != pkgerrors.TokenInvalid {
		t.Fatalf("expected TokenInvalid, got %d", code)
	}
}

func TestJWTAuthExpiredToken(t *testing.T) {
	router := newAuthRouter()
	token := signToken(t, testSecret, testIssuer, "access", "7", -time.Hour)

	recorder := doAuthRequest(t, router, "Bearer "+token)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	if code := responseCode(t, recorder); code != pkgerrors.TokenExpired {
		t.Fatalf("expected TokenExpired, got %d", code)
	}
}

func TestJWTAuthWrongIssuer(t *testing.T) {
	router := newAuthRouter()
	token := signToken(t, testSecret, "someone-else", "access", "7", time.Hour)

	recorder := doAuthRequest(t, router, "Bearer "+token)
	if code := responseCode(t, recorder); code != pkgerrors.TokenInvalid {
		t.Fatalf("expected TokenInvalid, got %d", code)
	}
}

func TestJWTAuthRejectsRefreshToken(t *testing.T) {
	router := newAuthRouter()
	token := signToken(t, testSecret, testIssuer, "refresh", "7", time.Hour)

	recorder := doAuthRequest(t, router, "Bearer "+token)
	if code := responseCode(t, recorder); code != pkgerrors.TokenInvalid {
		t.Fatalf("expected TokenInvalid, got %d", code)
	}
}

func TestJWTAuthBadSignature(t *testing.T) {
	router := newAuthRouter()
	token := signToken(t, "other-secret", testIssuer, "access", "7", time.Hour)

	recorder := doAuthRequest(t, router, "Bearer "+token)
	if code := responseCode(t, recorder); code != pkgerrors.TokenInvalid {
		t.Fatalf("expected TokenInvalid, got %d", code)
	}
}
