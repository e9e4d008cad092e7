package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.RegisteredClaims, method jwt.SigningMethod, key interface{}) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func newRouter(cfg Config) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", JWTMiddleware(cfg), func(c *gin.Context) {
		id, _ := GetUserID(c.Request.Context())
		c.String(http.StatusOK, id)
	})
	return r
}

func doRequest(r *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestMiddlewareAcceptsValidToken(t *testing.T) {
	token := signToken(t, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}, jwt.SigningMethodHS256, []byte(testSecret))

	resp := doRequest(newRouter(Config{Secret: testSecret}), "Bearer "+token)
	if resp.Code != http.StatusOK || resp.Body.String() != "user-1" {
		t.Fatalf("unexpected response %d %q", resp.Code, resp.Body.String())
	}
}

func TestMiddlewareRejects(t *testing.T) {
	valid := jwt.RegisteredClaims{Subject: "user-1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	expired := jwt.RegisteredClaims{Subject: "user-1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))}
	noSubject := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}

	cases := []struct {
		name   string
		cfg    Config
		header string
	}{
		{name: "missing header", cfg: Config{Secret: testSecret}},
		{name: "wrong scheme", cfg: Config{Secret: testSecret}, header: "Basic abc"},
		{name: "wrong secret", cfg: Config{Secret: testSecret}, header: "Bearer " + signToken(t, valid, jwt.SigningMethodHS256, []byte("other"))},
		{name: "expired", cfg: Config{Secret: testSecret}, header: "Bearer " + signToken(t, expired, jwt.SigningMethodHS256, []byte(testSecret))},
		{name: "no subject", cfg: Config{Secret: testSecret}, header: "Bearer " + signToken(t, noSubject, jwt.SigningMethodHS256, []byte(testSecret))},
		{name: "audience mismatch", cfg: Config{Secret: testSecret, Audience: "snapshot"}, header: "Bearer " + signToken(t, valid, jwt.SigningMethodHS256, []byte(testSecret))},
		{name: "no secret configured", cfg: Config{}, header: "Bearer " + signToken(t, valid, jwt.SigningMethodHS256, []byte(testSecret))},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if resp := doRequest(newRouter(tc.cfg), tc.header); resp.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", resp.Code)
			}
		})
	}
}

func TestMiddlewareAcceptsMatchingAudience(t *testing.T) {
	token := signToken(t, jwt.RegisteredClaims{
		Subject:   "user-2",
		Audience:  jwt.ClaimStrings{"snapshot"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}, jwt.SigningMethodHS256, []byte(testSecret))

	resp := doRequest(newRouter(Config{Secret: testSecret, Audience: "snapshot"}), "Bearer "+token)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}
