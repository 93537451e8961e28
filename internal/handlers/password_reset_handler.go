package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pigeonfarm/internal/logger"
	"pigeonfarm/internal/models"
	"pigeonfarm/internal/services"
)

// один и тот же ответ для существующего, несуществующего и недоставленного email
const resetRequestedMessage = "If an account exists for this email, a reset code has been sent"

type PasswordResetHandler struct {
	service services.PasswordResetService
	log     *zap.Logger
}

func NewPasswordResetHandler(service services.PasswordResetService, log *zap.Logger) *PasswordResetHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &PasswordResetHandler{service: service, log: log}
}

type ResetStatusResponse struct {
	Success       bool       `json:"success"`
	HasActiveCode bool       `json:"hasActiveCode"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}

func badRequest(c *gin.Context, err error) {
	abortWithKind(c, services.KindInvalidRequest, "Invalid request: "+err.Error())
}

// @Summary      Запрос кода сброса пароля
// @Description  Выдаёт одноразовый код и отправляет его владельцу email. Ответ не зависит от существования аккаунта.
// @Tags         PasswordReset
// @Accept       json
// @Produce      json
// @Param        body  body      models.PasswordResetRequest  true  "Email аккаунта"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  ErrorResponse
// @Failure      429   {object}  ErrorResponse
// @Failure      500   {object}  ErrorResponse
// @Router       /password-reset/request [post]
func (h *PasswordResetHandler) Request(c *gin.Context) {
	var req models.PasswordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	_, err := h.service.RequestReset(c.Request.Context(), req.Email)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrAccountNotFound), errors.Is(err, services.ErrDeliveryFailure):
		// уже залогировано в сервисе, наружу тот же успех
		h.log.Debug("[password-reset][request] suppressed", logger.Email(req.Email), zap.String("kind", string(services.KindOf(err))))
	default:
		if services.KindOf(err) == services.KindStorageFailure {
			h.log.Error("[password-reset][request] failed", logger.Email(req.Email), zap.Error(err))
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": resetRequestedMessage})
}

// @Summary      Статус сброса пароля
// @Description  Есть ли для email действующий код и когда он истекает. Сам код не раскрывается.
// @Tags         PasswordReset
// @Produce      json
// @Param        email  path      string  true  "Email"
// @Success      200    {object}  ResetStatusResponse
// @Failure      500    {object}  ErrorResponse
// @Router       /password-reset/status/{email} [get]
func (h *PasswordResetHandler) Status(c *gin.Context) {
	st, err := h.service.GetResetStatus(c.Request.Context(), c.Param("email"))
	if err != nil {
		h.log.Error("[password-reset][status] failed", zap.Error(err))
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ResetStatusResponse{
		Success:       true,
		HasActiveCode: st.HasActiveCode,
		ExpiresAt:     st.ExpiresAt,
	})
}

// @Summary      Проверка кода
// @Description  Проверяет код, не погашая его.
// @Tags         PasswordReset
// @Accept       json
// @Produce      json
// @Param        body  body      models.VerifyResetCodeRequest  true  "Email и код"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  ErrorResponse
// @Failure      429   {object}  ErrorResponse
// @Router       /password-reset/verify [post]
func (h *PasswordResetHandler) Verify(c *gin.Context) {
	var req models.VerifyResetCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.service.VerifyCode(c.Request.Context(), req.Email, req.Code); err != nil {
		if services.KindOf(err) == services.KindStorageFailure {
			h.log.Error("[password-reset][verify] failed", zap.Error(err))
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Code is valid"})
}

// @Summary      Установка нового пароля
// @Description  Гасит код и меняет пароль в одной транзакции.
// @Tags         PasswordReset
// @Accept       json
// @Produce      json
// @Param        body  body      models.ConfirmPasswordResetRequest  true  "Email, код и новый пароль"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  ErrorResponse
// @Failure      429   {object}  ErrorResponse
// @Failure      500   {object}  ErrorResponse
// @Router       /password-reset/confirm [post]
func (h *PasswordResetHandler) Confirm(c *gin.Context) {
	var req models.ConfirmPasswordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.service.ResetPassword(c.Request.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		if services.KindOf(err) == services.KindStorageFailure {
			h.log.Error("[password-reset][confirm] failed", zap.Error(err))
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Password has been reset"})
}
