package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"pigeonfarm/internal/services"
)

// ErrorBody: единый формат ошибки на проводе.
type ErrorBody struct {
	Code    services.ErrorKind `json:"code"`
	Message string             `json:"message"`
}

type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

var genericMessages = map[services.ErrorKind]string{
	services.KindInvalidRequest:       "Invalid request",
	services.KindAccountNotFound:      "Account not found",
	services.KindInvalidOrExpiredCode: "Invalid or expired code",
	services.KindWeakPassword:         "Password does not meet requirements",
	services.KindDeliveryFailure:      "Could not deliver the code",
	services.KindStorageFailure:       "Internal server error",
	services.KindRateLimited:          "Too many requests, try again later",
	services.KindUnauthorized:         "Invalid email or password",
}

func statusFor(kind services.ErrorKind) int {
	switch kind {
	case services.KindInvalidRequest, services.KindInvalidOrExpiredCode, services.KindWeakPassword:
		return http.StatusBadRequest
	case services.KindAccountNotFound:
		return http.StatusNotFound
	case services.KindRateLimited:
		return http.StatusTooManyRequests
	case services.KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func abortWithKind(c *gin.Context, kind services.ErrorKind, message string) {
	if message == "" {
		message = genericMessages[kind]
	}
	c.AbortWithStatusJSON(statusFor(kind), ErrorResponse{
		Error: ErrorBody{Code: kind, Message: message},
	})
}

// respondError: текст ошибки наружу отдаём только для WEAK_PASSWORD и INVALID_REQUEST,
// остальное: общие сообщения, причина остаётся в логах.
func respondError(c *gin.Context, err error) {
	kind := services.KindOf(err)
	msg := ""
	if kind == services.KindWeakPassword || kind == services.KindInvalidRequest {
		msg = err.Error()
	}
	abortWithKind(c, kind, msg)
}

// более устойчиво к типам (int / int64 / float64 / string)
func getIntFromCtx(c *gin.Context, key string) (int, bool) {
	v, ok := c.Get(key)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n, true
		}
	}
	return 0, false
}
