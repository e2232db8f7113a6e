package enforce

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/modelgate/modelgate/internal/identity"
)

// ModelFromRequest extracts the target model from a proxied request. The
// path parameter wins, then the explicit header set by upstream routers.
func ModelFromRequest(c *gin.Context) string {
	if model := strings.TrimSpace(c.Param("model")); model != "" {
		return model
	}
	return strings.TrimSpace(c.GetHeader("X-Model-Name"))
}

// Middleware gates proxied model traffic. The authorization verdict is
// evaluated before the quota verdict and the two surface as distinct
// statuses.
func Middleware(enforcer *Enforcer) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identity.FromGinContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"code": "unauthorized", "message": "missing identity"},
			})
			return
		}
		model := ModelFromRequest(c)
		if model == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": gin.H{"code": "invalid_request", "message": "missing model name"},
			})
			return
		}

		verdict, err := enforcer.Check(c.Request.Context(), model, id.Groups)
		if err != nil {
			log.WithError(err).Warn("enforce: check failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": gin.H{"code": "internal_error", "message": "enforcement unavailable"},
			})
			return
		}
		switch verdict.Outcome {
		case OutcomeDeniedAccess:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": gin.H{
					"code":    "access_denied",
					"message": "no access policy grants this model",
					"model":   model,
				},
			})
			return
		case OutcomeDeniedQuota:
			resetSeconds := int(math.Ceil(time.Until(verdict.Reset).Seconds()))
			if resetSeconds < 0 {
				resetSeconds = 0
			}
			c.Header("Retry-After", strconv.Itoa(resetSeconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":          "quota_exceeded",
					"message":       "quota window exhausted for this model",
					"model":         model,
					"reset_seconds": resetSeconds,
				},
			})
			return
		}
		c.Next()
	}
}
