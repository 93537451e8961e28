package handlers

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"pigeonfarm/internal/services"
)

const telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// TelegramReplier отвечает пользователю в чат бота.
type TelegramReplier interface {
	SendText(chatID int64, text string) error
}

type IntegrationsHandler struct {
	links  services.TelegramLinkService
	bot    TelegramReplier
	secret string
	log    *zap.Logger
}

func NewIntegrationsHandler(links services.TelegramLinkService, bot TelegramReplier, webhookSecret string, log *zap.Logger) *IntegrationsHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &IntegrationsHandler{links: links, bot: bot, secret: webhookSecret, log: log}
}

// @Summary      Код привязки Telegram
// @Description  Выдаёт одноразовый код; его нужно отправить боту командой /link, после чего коды сброса пароля будут дублироваться в Telegram.
// @Tags         Integrations
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /integrations/telegram/request-link [post]
func (h *IntegrationsHandler) RequestTelegramLink(c *gin.Context) {
	userID, ok := getIntFromCtx(c, "user_id")
	if !ok {
		abortWithKind(c, services.KindUnauthorized, "Missing or invalid token")
		return
	}

	link, err := h.links.RequestLink(c.Request.Context(), userID)
	if err != nil {
		h.log.Error("[telegram][request-link] failed", zap.Int("user_id", userID), zap.Error(err))
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"code":       link.Code,
		"expires_at": link.ExpiresAt,
		"hint":       "Откройте чат с ботом и отправьте: /link " + link.Code,
	})
}

// Webhook принимает апдейты Telegram. Отвечаем 200 на всё, кроме неверного секрета,
// иначе Telegram будет повторять доставку.
func (h *IntegrationsHandler) Webhook(c *gin.Context) {
	if h.secret != "" {
		got := c.GetHeader(telegramSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			h.log.Warn("[telegram][webhook] bad secret token", zap.String("client_ip", c.ClientIP()))
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
	}

	var up tgbotapi.Update
	if err := c.ShouldBindJSON(&up); err != nil || up.Message == nil || up.Message.Chat == nil {
		if err != nil {
			h.log.Debug("[telegram][webhook] bind json", zap.Error(err))
		}
		c.Status(http.StatusOK)
		return
	}

	text := strings.TrimSpace(up.Message.Text)
	chatID := up.Message.Chat.ID

	switch {
	case strings.HasPrefix(text, "/start"):
		h.reply(chatID, "Привет! Чтобы получать коды сброса пароля PigeonFarm в Telegram, отправьте:\n<code>/link &lt;код&gt;</code>\nКод выдаётся в личном кабинете.")

	case strings.HasPrefix(text, "/link"):
		raw := strings.TrimSpace(strings.TrimPrefix(text, "/link"))
		userID, err := h.links.ConfirmLink(c.Request.Context(), raw, chatID)
		switch {
		case err == nil:
			h.log.Info("[telegram][webhook] account linked", zap.Int("user_id", userID))
			h.reply(chatID, "Готово! Аккаунт привязан, коды сброса пароля будут приходить сюда.")
		case errors.Is(err, services.ErrInvalidOrExpiredCode):
			h.reply(chatID, "Код недействителен или истёк. Сгенерируйте новый в личном кабинете.")
		default:
			h.log.Error("[telegram][webhook] link failed", zap.Error(err))
			h.reply(chatID, "Не удалось привязать аккаунт, попробуйте позже.")
		}

	default:
		h.reply(chatID, "Не понял команду. Используйте <code>/link &lt;код&gt;</code>.")
	}

	c.Status(http.StatusOK)
}

func (h *IntegrationsHandler) reply(chatID int64, text string) {
	if h.bot == nil {
		return
	}
	if err := h.bot.SendText(chatID, text); err != nil {
		h.log.Warn("[telegram][webhook] reply failed", zap.Error(err))
	}
}
