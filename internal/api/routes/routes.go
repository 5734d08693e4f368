package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/jobdance/internal/api/handlers"
	"github.com/yoockh/jobdance/internal/api/middleware"
)

type Deps struct {
	Auth         middleware.JWTConfig
	Session      *handlers.SessionHandler
	Profile      *handlers.ProfileHandler
	Conversation *handlers.ConversationHandler
	Interview    *handlers.InterviewHandler
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	auth := r.Group("/")
	auth.Use(middleware.JWTAuth(d.Auth))

	auth.GET("/profile/me", d.Profile.Me)
	auth.PUT("/profile/update", d.Profile.Update)

	auth.GET("/interview/sessions", d.Session.List)
	auth.GET("/interview/sessions/:session_id", d.Session.Get)
	auth.GET("/interview/reports/temp/:key", d.Session.TempReport)

	auth.GET("/interview/search", d.Conversation.Search)
	auth.GET("/conversation/:session_id", d.Conversation.ListBySession)

	admin := auth.Group("/admin", middleware.RequireAdmin())
	admin.GET("/users/:user_id/sessions", d.Session.AdminList)

	auth.GET("/ws/interview", d.Interview.Interview)
}
