// Package api registers the HTTP surface: credential issuance, model
// discovery, rule validation and the admin declaration endpoints.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/credential"
	"github.com/modelgate/modelgate/internal/discovery"
	"github.com/modelgate/modelgate/internal/enforce"
	"github.com/modelgate/modelgate/internal/http/api/handlers"
	"github.com/modelgate/modelgate/internal/identity"
)

// Deps carries the services the routes dispatch to.
type Deps struct {
	DB          *gorm.DB
	Credentials *credential.Store
	Discovery   *discovery.Service
	Enforcer    *enforce.Enforcer
	Identity    config.IdentityConfig
	Notify      func()
}

// Register wires all routes and middleware onto r.
func Register(r *gin.Engine, deps Deps) {
	if r == nil || deps.DB == nil {
		return
	}

	r.GET("/healthz", func(c *gin.Context) {
		sqlDB, errDB := deps.DB.DB()
		if errDB != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authed := r.Group("")
	authed.Use(identity.Middleware(deps.Credentials, deps.Identity))

	credentialHandler := handlers.NewCredentialHandler(deps.Credentials)
	authed.POST("/v1/tokens", credentialHandler.IssueToken)
	authed.DELETE("/v1/tokens", credentialHandler.RevokeTokens)
	authed.POST("/v2/api-keys", credentialHandler.CreateAPIKey)
	authed.GET("/v2/api-keys", credentialHandler.ListAPIKeys)
	authed.GET("/v2/api-keys/:id", credentialHandler.GetAPIKey)
	authed.DELETE("/v2/api-keys/:id", credentialHandler.RevokeAPIKey)

	modelsHandler := handlers.NewModelsHandler(deps.Discovery)
	authed.GET("/v1/models", modelsHandler.List)

	validateHandler := handlers.NewValidateHandler(deps.Credentials)
	authed.POST("/v1/validate", validateHandler.Validate)

	// Forward-auth endpoint for reverse proxies fronting model backends.
	// Denials abort inside the middleware; an admitted request reaches the
	// terminal handler and returns 204.
	authed.GET("/v1/admission/:model", enforce.Middleware(deps.Enforcer), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	admin := authed.Group("/v1/admin")
	admin.Use(requireGroup(deps.Identity.AdminGroup))

	declarationHandler := handlers.NewDeclarationHandler(deps.DB, deps.Notify)
	admin.POST("/models", declarationHandler.CreateModel)
	admin.GET("/models", declarationHandler.ListModels)
	admin.DELETE("/models/:name", declarationHandler.DeleteModel)
	admin.POST("/access-policies", declarationHandler.CreateAccessPolicy)
	admin.GET("/access-policies", declarationHandler.ListAccessPolicies)
	admin.PUT("/access-policies/:name", declarationHandler.UpdateAccessPolicy)
	admin.DELETE("/access-policies/:name", declarationHandler.DeleteAccessPolicy)
	admin.POST("/subscriptions", declarationHandler.CreateSubscription)
	admin.GET("/subscriptions", declarationHandler.ListSubscriptions)
	admin.DELETE("/subscriptions/:name", declarationHandler.DeleteSubscription)
}

// requireGroup gates a route group on membership of one identity group.
func requireGroup(group string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identity.FromGinContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
			return
		}
		for _, g := range id.Groups {
			if g == group {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin group required"})
	}
}
