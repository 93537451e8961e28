package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pigeonfarm/internal/logger"
	"pigeonfarm/internal/models"
	"pigeonfarm/internal/services"
)

type AuthHandler struct {
	userService services.UserService
	authService services.AuthService
	log         *zap.Logger
}

func NewAuthHandler(userService services.UserService, authService services.AuthService, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{userService: userService, authService: authService, log: log}
}

// @Summary      Вход в систему
// @Description  Аутентифицирует пользователя и возвращает access-токен
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        login  body      models.LoginRequest  true  "Данные для входа"
// @Success      200    {object}  map[string]interface{}
// @Failure      400    {object}  ErrorResponse
// @Failure      401    {object}  ErrorResponse
// @Failure      500    {object}  ErrorResponse
// @Router       /login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	start := time.Now()

	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Info("[auth][login] bad request", zap.Error(err))
		badRequest(c, err)
		return
	}

	user, err := h.userService.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if services.KindOf(err) == services.KindStorageFailure {
			h.log.Error("[auth][login] failed", logger.Email(req.Email), zap.Error(err))
		}
		respondError(c, err)
		return
	}

	token, exp, err := h.authService.IssueAccessToken(user)
	if err != nil {
		h.log.Error("[auth][login] sign access token failed", zap.Int("user_id", user.ID), zap.Error(err))
		abortWithKind(c, services.KindStorageFailure, "Failed to generate access token")
		return
	}

	h.log.Info("[auth][login] success", zap.Int("user_id", user.ID), zap.Duration("took", time.Since(start)))
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"user":    user, // PasswordHash помечен json:"-"
		"tokens": gin.H{
			"access_token": token,
			"expires_at":   exp,
		},
	})
}

// @Summary      Текущий пользователь
// @Tags         Auth
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  models.User
// @Failure      401  {object}  ErrorResponse
// @Router       /me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := getIntFromCtx(c, "user_id")
	if !ok {
		abortWithKind(c, services.KindUnauthorized, "Missing or invalid token")
		return
	}
	user, err := h.userService.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		if services.KindOf(err) == services.KindAccountNotFound {
			// токен пережил аккаунт
			abortWithKind(c, services.KindUnauthorized, "Missing or invalid token")
			return
		}
		h.log.Error("[auth][me] failed", zap.Int("user_id", userID), zap.Error(err))
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}
