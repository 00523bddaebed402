package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Auth    *AuthHandler
	Emails  *EmailHandler
	Senders *SenderHandler
}

// NewRouter builds the gin engine with all routes and middleware attached.
func NewRouter(h Handlers, jwtSecret, frontendOrigin string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(MetricsMiddleware())
	r.Use(CORSMiddleware(frontendOrigin))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"success":   true,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := r.Group("/auth")
	{
		auth.GET("/google", h.Auth.Login)
		auth.GET("/google/callback", h.Auth.Callback)
		auth.POST("/logout", h.Auth.Logout)
		auth.GET("/me", AuthMiddleware(jwtSecret), h.Auth.Me)
	}

	authed := r.Group("", AuthMiddleware(jwtSecret))
	{
		emails := authed.Group("/emails")
		{
			emails.POST("/schedule", h.Emails.Schedule)
			emails.GET("/scheduled", h.Emails.ListScheduled)
			emails.GET("/sent", h.Emails.ListSent)
			emails.GET("/stats", h.Emails.Stats)
			emails.GET("/:id", h.Emails.Get)
			emails.DELETE("/:id", h.Emails.Cancel)
		}

		authed.GET("/batches/:id", h.Emails.GetBatch)

		senders := authed.Group("/senders")
		{
			senders.POST("", h.Senders.Create)
			senders.GET("", h.Senders.List)
			senders.GET("/:id", h.Senders.Get)
			senders.PUT("/:id", h.Senders.Update)
			senders.DELETE("/:id", h.Senders.Delete)
		}
	}

	return r
}
