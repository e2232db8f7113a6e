package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/credential"
)

const (
	headerForwardedUser   = "X-Forwarded-User"
	headerForwardedGroups = "X-Forwarded-Groups"
)

// Middleware resolves the request identity and aborts unauthenticated
// requests. Bearer values with the issued-key prefix validate against the
// credential store; anything else is treated as an IdP JWT. Forwarded
// headers are honored only when the deployment enables them.
func Middleware(store *credential.Store, cfg config.IdentityConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := resolve(c, store, cfg)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"code": "unauthorized", "message": "invalid or missing credentials"},
			})
			return
		}
		SetGinContext(c, id)
		c.Next()
	}
}

func resolve(c *gin.Context, store *credential.Store, cfg config.IdentityConfig) (Identity, error) {
	if cfg.TrustedHeaders {
		if username := strings.TrimSpace(c.GetHeader(headerForwardedUser)); username != "" {
			return Identity{
				Username: username,
				Groups:   splitGroups(c.GetHeader(headerForwardedGroups)),
				Source:   "forwarded",
			}, nil
		}
	}

	token := bearerToken(c.GetHeader("Authorization"))
	if token == "" {
		return Identity{}, ErrNoIdentity
	}

	if strings.HasPrefix(token, credential.KeyPrefix) {
		if store == nil {
			return Identity{}, ErrNoIdentity
		}
		resolved, errValidate := store.Validate(c.Request.Context(), token)
		if errValidate != nil {
			return Identity{}, errValidate
		}
		return Identity{
			Username:     resolved.Username,
			Groups:       resolved.Groups,
			Tier:         resolved.Tier,
			CredentialID: resolved.CredentialID,
			Source:       "credential",
		}, nil
	}

	id, errParse := ParseJWT(token, cfg.JWTSecret)
	if errParse != nil {
		log.WithError(errParse).Debug("identity: jwt rejected")
		return Identity{}, ErrNoIdentity
	}
	return id, nil
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func splitGroups(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
