package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"pigeonfarm/internal/models"
	"pigeonfarm/internal/services"
)

type stubUserService struct {
	user *models.User
	err  error
}

func (s *stubUserService) Authenticate(_ context.Context, email, password string) (*models.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.user == nil || email != s.user.Email || password != "Secret123" {
		return nil, services.ErrInvalidCredentials
	}
	return s.user, nil
}

func (s *stubUserService) GetUserByID(_ context.Context, id int) (*models.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.user == nil || s.user.ID != id {
		return nil, services.ErrAccountNotFound
	}
	return s.user, nil
}

func TestLoginAndMe(t *testing.T) {
	auth := services.NewAuthService([]byte("k"), time.Minute, bcrypt.MinCost)
	users := &stubUserService{user: &models.User{ID: 3, Username: "ivan", Email: "user@example.com", PasswordHash: "$2a$secret"}}
	h := NewAuthHandler(users, auth, nil)

	r := gin.New()
	r.POST("/login", h.Login)
	r.GET("/me", func(c *gin.Context) {
		claims, err := auth.ParseAccessToken(c.GetHeader("X-Token"))
		if err == nil {
			c.Set("user_id", claims.UserID)
		}
		h.Me(c)
	})

	w := do(r, http.MethodPost, "/login", `{"email":"user@example.com","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, services.KindUnauthorized, decodeError(t, w).Error.Code)

	w = do(r, http.MethodPost, "/login", `{"email":"user@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/login", `{"email":"user@example.com","password":"Secret123"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "$2a$secret")
	var resp struct {
		Success bool `json:"success"`
		Tokens  struct {
			AccessToken string `json:"access_token"`
		} `json:"tokens"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.NotEmpty(t, resp.Tokens.AccessToken)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("X-Token", resp.Tokens.AccessToken)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":3,"username":"ivan","email":"user@example.com","created_at":"0001-01-01T00:00:00Z"}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	users.user = nil
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("X-Token", resp.Tokens.AccessToken)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
