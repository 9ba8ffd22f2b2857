package middlewares

import (
	"context"
	"net/http"
	"strings"

	"bitbucket.org/mmdatafocus/budget_backend/models"
	"bitbucket.org/mmdatafocus/budget_backend/utils"
	"github.com/gin-gonic/gin"
)

// AuthMiddleware verifies the bearer token and puts the actor's name and
// role into the request context. Requests without a token pass through;
// handlers reject them when they need an actor.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")

		if auth == "" {
			c.Next()
			return
		}

		bearer := "Bearer "
		if !strings.HasPrefix(auth, bearer) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		auth = auth[len(bearer):]

		validate, err := utils.JwtValidate(auth)
		if err != nil || !validate.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		customClaim, ok := validate.Claims.(*utils.JwtCustomClaim)
		if !ok || customClaim.Name == "" || !models.Role(customClaim.Role).IsValid() {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), auth)
		ctx = utils.SetUsernameInContext(ctx, customClaim.Name)
		ctx = utils.SetUserRoleInContext(ctx, customClaim.Role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// ActorFromContext returns the actor AuthMiddleware stored, if any.
func ActorFromContext(ctx context.Context) (models.Actor, bool) {
	name, ok := utils.GetUsernameFromContext(ctx)
	if !ok || name == "" {
		return models.Actor{}, false
	}
	role, ok := utils.GetUserRoleFromContext(ctx)
	if !ok {
		return models.Actor{}, false
	}
	return models.Actor{Name: name, Role: models.Role(role)}, true
}
