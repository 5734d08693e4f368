package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/jobdance/internal/models"
	"github.com/yoockh/jobdance/internal/utils"
)

func RequireRole(allowed ...models.UserRole) gin.HandlerFunc {
	allow := make(map[models.UserRole]struct{}, len(allowed))
	for _, a := range allowed {
		allow[a] = struct{}{}
	}

	return func(c *gin.Context) {
		role, _ := c.Get("role")
		r, _ := role.(models.UserRole)
		if _, ok := allow[r]; !ok || r == "" {
			deny(c, http.StatusForbidden, utils.CodeForbidden, "forbidden")
			return
		}
		c.Next()
	}
}

func RequireAdmin() gin.HandlerFunc { return RequireRole(models.RoleAdmin) }
