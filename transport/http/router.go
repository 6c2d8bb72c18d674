package http

import (
	"github.com/gin-gonic/gin"
	"github.com/layer-3/sigil/service"
)

// SetupRouter sets up the Gin router
func SetupRouter(authService *service.AuthService) *gin.Engine {
	router := gin.Default()

	// Create handlers
	handlers := NewAuthHandlers(authService)

	// Auth routes
	auth := router.Group("/auth")
	{
		auth.POST("/challenge", handlers.Challenge)
		auth.POST("/verify", handlers.Verify)
		auth.GET("/verification/:id", handlers.VerificationStatus)
		auth.POST("/logout", AuthMiddleware(authService), handlers.Logout)
	}

	// Protected API routes
	api := router.Group("/api")
	api.Use(AuthMiddleware(authService))
	{
		api.GET("/me", handlers.Me)
		api.GET("/authorize", VerifiedOnly(), func(c *gin.Context) {
			c.JSON(200, gin.H{"authorized": true})
		})
	}

	return router
}
