package http

import (
	"net/http"
	"strings"
	"time"

	"roomnet/internal/core/domain"
	"roomnet/internal/core/services"
	apperrors "roomnet/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TokenHandler mints the bearer tokens agents present on every meeting API
// call. Identity is asserted, not authenticated: the trading-journal backend
// in front of this service owns real login.
type TokenHandler struct {
	authService services.AuthService
	tokenTTL    time.Duration
}

func NewTokenHandler(authService services.AuthService, tokenTTL time.Duration) *TokenHandler {
	return &TokenHandler{
		authService: authService,
		tokenTTL:    tokenTTL,
	}
}

func (h *TokenHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/auth")
	{
		api.POST("/token", h.IssueToken)
	}
}

type tokenRequest struct {
	UserID      string `json:"user_id" binding:"omitempty,max=100"`
	DisplayName string `json:"display_name" binding:"required,min=1,max=100"`
}

func (h *TokenHandler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}

	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.DisplayName == "" {
		c.Error(apperrors.NewInvalidInputError("display_name is required"))
		return
	}

	userID := domain.PeerID(req.UserID)
	if userID == "" {
		userID = domain.PeerID(uuid.NewString())
	}

	accessToken, err := h.authService.GenerateToken(userID, req.DisplayName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":      string(userID),
		"display_name": req.DisplayName,
		"access_token": accessToken,
		"expires_in":   int(h.tokenTTL / time.Second),
	})
}
