package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"kb-assistant-go/pkg/log"
	"kb-assistant-go/pkg/token"
)

// AuthHandler 为消息平台网关签发用户令牌。
type AuthHandler struct {
	jwtManager *token.JWTManager
	apiKeyHash string
}

// NewAuthHandler 创建一个新的 AuthHandler。apiKeyHash 为空时不校验 API Key。
func NewAuthHandler(jwtManager *token.JWTManager, apiKeyHash string) *AuthHandler {
	if apiKeyHash == "" {
		log.Warnf("auth.api_key_hash 未配置，任何调用方都可以签发令牌")
	}
	return &AuthHandler{jwtManager: jwtManager, apiKeyHash: apiKeyHash}
}

// TokenRequest 是签发令牌的请求体。
type TokenRequest struct {
	UserID string `json:"userId" binding:"required"`
	APIKey string `json:"apiKey"`
}

// IssueToken 校验 API Key 并为 userId 签发 access token。
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
		fail(c, http.StatusBadRequest, "userId is required")
		return
	}
	if h.apiKeyHash != "" && !token.CheckAPIKey(h.apiKeyHash, req.APIKey) {
		fail(c, http.StatusUnauthorized, "invalid api key")
		return
	}

	tok, expiresAt, err := h.jwtManager.GenerateToken(strings.TrimSpace(req.UserID))
	if err != nil {
		log.Error("IssueToken: failed to sign token", err)
		fail(c, http.StatusInternalServerError, "internal server error")
		return
	}
	ok(c, gin.H{"token": tok, "expiresAt": expiresAt.Unix()})
}
