// Package auth authenticates bearer tokens and carries the caller identity
// through the request context.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const identityKey contextKey = "authIdentity"

// clockSkew is the leeway applied to exp and nbf.
const clockSkew = 30 * time.Second

var (
	errMissingHeader = errors.New("authorization header required")
	errMalformed     = errors.New("invalid authorization header")
	errNoSecret      = errors.New("missing JWT secret")
	errNoSubject     = errors.New("missing subject")
)

// Identity is the authenticated subject and its role.
type Identity struct {
	Subject string
	Role    string
}

// Claims are the token claims issued by the account service.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for subject. Operators use it to mint
// instructor tokens; the account service issues the same shape.
func IssueToken(secret, audience, subject, role string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errNoSecret
	}
	if subject == "" {
		return "", errNoSubject
	}
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// GetIdentity retrieves the authenticated identity from context.
func GetIdentity(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok && identity.Subject != ""
}

// JWTMiddleware validates bearer tokens and injects the caller identity.
// An empty audience disables the aud check.
func JWTMiddleware(secret, audience string) gin.HandlerFunc {
	key := []byte(strings.TrimSpace(secret))
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithLeeway(clockSkew),
	}
	if audience = strings.TrimSpace(audience); audience != "" {
		options = append(options, jwt.WithAudience(audience))
	}
	parser := jwt.NewParser(options...)

	return func(c *gin.Context) {
		identity, err := authenticate(parser, key, c.GetHeader("Authorization"))
		if err != nil {
			unauthorized(c, err)
			return
		}
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), identityKey, identity))
		c.Set(string(identityKey), identity)
		c.Next()
	}
}

func authenticate(parser *jwt.Parser, key []byte, header string) (Identity, error) {
	raw, err := bearerToken(header)
	if err != nil {
		return Identity{}, err
	}
	if len(key) == 0 {
		return Identity{}, errNoSecret
	}

	claims := &Claims{}
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	}); err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Identity{}, errors.New("token expired")
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			return Identity{}, errors.New("invalid audience")
		default:
			return Identity{}, errors.New("invalid token")
		}
	}
	if claims.Subject == "" {
		return Identity{}, errNoSubject
	}
	return Identity{Subject: claims.Subject, Role: claims.Role}, nil
}

// RequireRole rejects authenticated callers without the given role. It must
// run after JWTMiddleware.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := GetIdentity(c.Request.Context())
		if !ok {
			unauthorized(c, errors.New("authentication required"))
			return
		}
		if identity.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role", "reason": "forbidden"})
			return
		}
		c.Next()
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errMissingHeader
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", errMalformed
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", errors.New("token missing")
	}
	return token, nil
}

func unauthorized(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error(), "reason": "unauthorized"})
}
