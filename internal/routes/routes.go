package routes

import (
	"github.com/gin-gonic/gin"

	"pigeonfarm/internal/handlers"
	"pigeonfarm/internal/middleware"
	"pigeonfarm/internal/services"
)

// IPThrottle может быть nil: тогда /password-reset/* без лимита по IP.
// Integrations nil, если бот не настроен.
type Deps struct {
	Auth         services.AuthService
	AuthHandler  *handlers.AuthHandler
	ResetHandler *handlers.PasswordResetHandler
	Integrations *handlers.IntegrationsHandler
	IPThrottle   gin.HandlerFunc
}

func SetupRoutes(r *gin.Engine, d Deps) *gin.Engine {
	// ---- public
	r.POST("/login", d.AuthHandler.Login)

	reset := r.Group("/password-reset")
	if d.IPThrottle != nil {
		reset.Use(d.IPThrottle)
	}
	{
		reset.POST("/request", d.ResetHandler.Request)
		reset.GET("/status/:email", d.ResetHandler.Status)
		reset.POST("/verify", d.ResetHandler.Verify)
		reset.POST("/confirm", d.ResetHandler.Confirm)
	}

	if d.Integrations != nil {
		r.POST("/integrations/telegram/webhook", d.Integrations.Webhook)
	}

	// ---- protected
	protected := r.Group("/", middleware.AuthMiddleware(d.Auth))
	{
		protected.GET("/me", d.AuthHandler.Me)
		if d.Integrations != nil {
			protected.POST("/integrations/telegram/request-link", d.Integrations.RequestTelegramLink)
		}
	}

	return r
}
