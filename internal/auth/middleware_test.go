package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, subject, role string, audience ...string) string {
	t.Helper()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Audience:  audience,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func newTestRouter(audience string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	protected := router.Group("/", JWTMiddleware(testSecret, audience))
	protected.GET("/me", func(c *gin.Context) {
		identity, _ := GetIdentity(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"subject": identity.Subject, "role": identity.Role})
	})
	protected.GET("/instructors-only", RequireRole("instructor"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return router
}

func doRequest(router *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestJWTMiddleware(t *testing.T) {
	router := newTestRouter("attendance")

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong secret", signToken(t, "other", "u1", "student", "attendance"), http.StatusUnauthorized},
		{"wrong audience", signToken(t, testSecret, "u1", "student", "billing"), http.StatusUnauthorized},
		{"missing subject", signToken(t, testSecret, "", "student", "attendance"), http.StatusUnauthorized},
		{"valid", signToken(t, testSecret, "u1", "student", "attendance"), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(router, "/me", tt.token)
			if resp.Code != tt.status {
				t.Fatalf("expected status %d, got %d: %s", tt.status, resp.Code, resp.Body.String())
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	router := newTestRouter("")

	if resp := doRequest(router, "/instructors-only", signToken(t, testSecret, "u1", "student")); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for student, got %d", resp.Code)
	}
	if resp := doRequest(router, "/instructors-only", signToken(t, testSecret, "i1", "instructor")); resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for instructor, got %d", resp.Code)
	}
}

func TestIssueTokenRoundTripsThroughMiddleware(t *testing.T) {
	router := newTestRouter("attendance")

	token, err := IssueToken(testSecret, "attendance", "i7", "instructor", time.Minute)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	if resp := doRequest(router, "/instructors-only", token); resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", resp.Code, resp.Body.String())
	}

	expired, err := IssueToken(testSecret, "attendance", "i7", "instructor", -time.Hour)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	resp := doRequest(router, "/me", expired)
	if resp.Code != http.StatusUnauthorized || !strings.Contains(resp.Body.String(), "token expired") {
		t.Fatalf("expected expired token rejection, got %d: %s", resp.Code, resp.Body.String())
	}

	if _, err := IssueToken("", "", "i7", "instructor", time.Minute); err == nil {
		t.Fatal("expected error without a secret")
	}
}

func TestJWTMiddlewareRejectsUnexpectedAlgorithm(t *testing.T) {
	router := newTestRouter("")
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Role:             "instructor",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "i1"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build token: %v", err)
	}
	if resp := doRequest(router, "/me", unsigned); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for alg none, got %d", resp.Code)
	}
}
