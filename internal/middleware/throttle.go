package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pigeonfarm/internal/services"
	"pigeonfarm/internal/throttle"
)

// IPThrottle ограничивает частоту запросов с одного адреса; window идёт в Retry-After.
// Адрес берётся из c.ClientIP(), поэтому X-Forwarded-For учитывается только от доверенных прокси.
// Ошибка бэкенда лимитера запрос не блокирует.
func IPThrottle(l throttle.Limiter, window time.Duration, log *zap.Logger) gin.HandlerFunc {
	retryAfter := strconv.Itoa(int(math.Max(1, math.Ceil(window.Seconds()))))
	return func(c *gin.Context) {
		ok, err := l.Allow(c.Request.Context(), "ip:"+c.ClientIP())
		if err != nil {
			log.Warn("[http][throttle] limiter error, allowing", zap.Error(err))
			c.Next()
			return
		}
		if !ok {
			c.Header("Retry-After", retryAfter)
			abortWith(c, http.StatusTooManyRequests, services.KindRateLimited, "Too many requests, try again later")
			return
		}
		c.Next()
	}
}
