// Package identity resolves the caller behind a request. Three sources are
// supported: issued credentials presented as bearer tokens, HS256 JWTs from
// the upstream identity provider, and trusted forwarded headers for
// deployments where an auth proxy terminates authentication.
package identity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ErrNoIdentity indicates the request carried no resolvable identity.
var ErrNoIdentity = errors.New("identity: not authenticated")

const contextKey = "requestIdentity"

// Identity is the resolved caller of a request.
type Identity struct {
	Username     string
	Groups       []string
	Tier         string
	CredentialID string
	Source       string
}

// FromGinContext returns the identity resolved by the middleware.
func FromGinContext(c *gin.Context) (Identity, bool) {
	v, exists := c.Get(contextKey)
	if !exists {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}

// SetGinContext stores an identity on the request context. Exposed for
// handler tests.
func SetGinContext(c *gin.Context, id Identity) {
	c.Set(contextKey, id)
}

// Claims are the JWT claims this service understands.
type Claims struct {
	Username string   `json:"preferred_username"`
	Groups   []string `json:"groups"`
	Tier     string   `json:"tier"`
	jwt.RegisteredClaims
}

// ParseJWT validates an HS256 token against secret and returns the identity
// it asserts.
func ParseJWT(token, secret string) (Identity, error) {
	if secret == "" {
		return Identity{}, errors.New("identity: jwt secret not configured")
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("identity: unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("identity: parse token: %w", err)
	}
	if !parsed.Valid {
		return Identity{}, ErrNoIdentity
	}
	username := strings.TrimSpace(claims.Username)
	if username == "" {
		username = strings.TrimSpace(claims.Subject)
	}
	if username == "" {
		return Identity{}, ErrNoIdentity
	}
	return Identity{
		Username: username,
		Groups:   claims.Groups,
		Tier:     claims.Tier,
		Source:   "jwt",
	}, nil
}
