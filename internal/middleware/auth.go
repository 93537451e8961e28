package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"pigeonfarm/internal/services"
)

// ContextUserID: ключ, под которым AuthMiddleware кладёт id пользователя.
const ContextUserID = "user_id"

func abortWith(c *gin.Context, status int, kind services.ErrorKind, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   gin.H{"code": kind, "message": message},
	})
}

func AuthMiddleware(auth services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1) пропускаем preflight
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		// 2) читаем Authorization
		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			abortWith(c, http.StatusUnauthorized, services.KindUnauthorized, "Missing or invalid Authorization header")
			return
		}

		// 3) подпись, exp и leeway проверяет AuthService
		claims, err := auth.ParseAccessToken(strings.TrimSpace(parts[1]))
		if err != nil {
			abortWith(c, http.StatusUnauthorized, services.KindUnauthorized, "Invalid or expired token")
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Next()
	}
}
