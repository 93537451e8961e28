package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pigeonfarm/internal/models"
	"pigeonfarm/internal/services"
)

type stubLinks struct {
	confirmErr error
	gotCode    string
	gotChat    int64
}

func (s *stubLinks) RequestLink(_ context.Context, userID int) (*models.TelegramLink, error) {
	return &models.TelegramLink{UserID: userID, Code: "ABCDEF", ExpiresAt: time.Now().Add(time.Minute)}, nil
}

func (s *stubLinks) ConfirmLink(_ context.Context, rawCode string, chatID int64) (int, error) {
	s.gotCode, s.gotChat = rawCode, chatID
	if s.confirmErr != nil {
		return 0, s.confirmErr
	}
	return 7, nil
}

type recordingBot struct {
	chats []int64
	texts []string
}

func (b *recordingBot) SendText(chatID int64, text string) error {
	b.chats = append(b.chats, chatID)
	b.texts = append(b.texts, text)
	return nil
}

func newIntegrationsRouter(links services.TelegramLinkService, bot TelegramReplier, secret string) *gin.Engine {
	h := NewIntegrationsHandler(links, bot, secret, nil)
	r := gin.New()
	r.POST("/webhook", h.Webhook)
	r.POST("/request-link", func(c *gin.Context) { c.Set("user_id", 7); c.Next() }, h.RequestTelegramLink)
	r.POST("/request-link-anon", h.RequestTelegramLink)
	return r
}

func update(text string) string {
	return `{"update_id":1,"message":{"message_id":1,"date":0,"chat":{"id":4242,"type":"private"},"text":"` + text + `"}}`
}

func TestIntegrations_RequestLink(t *testing.T) {
	r := newIntegrationsRouter(&stubLinks{}, nil, "")

	w := do(r, http.MethodPost, "/request-link", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"ABCDEF"`)
	assert.Contains(t, w.Body.String(), "/link ABCDEF")

	w = do(r, http.MethodPost, "/request-link-anon", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIntegrations_WebhookLink(t *testing.T) {
	links := &stubLinks{}
	bot := &recordingBot{}
	r := newIntegrationsRouter(links, bot, "")

	w := do(r, http.MethodPost, "/webhook", update("/link abcdef"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abcdef", links.gotCode)
	assert.Equal(t, int64(4242), links.gotChat)
	require.Len(t, bot.texts, 1)
	assert.Equal(t, int64(4242), bot.chats[0])
	assert.Contains(t, bot.texts[0], "привязан")

	links.confirmErr = services.ErrInvalidOrExpiredCode
	do(r, http.MethodPost, "/webhook", update("/link zzz"))
	require.Len(t, bot.texts, 2)
	assert.Contains(t, bot.texts[1], "недействителен")

	links.confirmErr = errors.New("boom")
	w = do(r, http.MethodPost, "/webhook", update("/link zzz"))
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, bot.texts, 3)
	assert.Contains(t, bot.texts[2], "позже")
}

func TestIntegrations_WebhookOtherUpdates(t *testing.T) {
	links := &stubLinks{}
	bot := &recordingBot{}
	r := newIntegrationsRouter(links, bot, "")

	do(r, http.MethodPost, "/webhook", update("/start"))
	do(r, http.MethodPost, "/webhook", update("hello"))
	require.Len(t, bot.texts, 2)
	assert.Contains(t, bot.texts[0], "/link")
	assert.Contains(t, bot.texts[1], "Не понял")

	// мусор и апдейты без сообщения подтверждаем молча
	w := do(r, http.MethodPost, "/webhook", "{not json")
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(r, http.MethodPost, "/webhook", `{"update_id":2}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, bot.texts, 2)
	assert.Empty(t, links.gotCode)
}

func TestIntegrations_WebhookSecret(t *testing.T) {
	links := &stubLinks{}
	r := newIntegrationsRouter(links, &recordingBot{}, "s3cret")

	w := do(r, http.MethodPost, "/webhook", update("/link abcdef"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, links.gotCode)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(update("/link abcdef")))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(telegramSecretHeader, "s3cret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abcdef", links.gotCode)
}
