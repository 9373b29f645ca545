package handler

import (
	"github.com/gin-gonic/gin"

	"kb-assistant-go/internal/middleware"
	"kb-assistant-go/pkg/token"
)

// Handlers 汇总所有路由处理器。
type Handlers struct {
	Auth      *AuthHandler
	Assistant *AssistantHandler
	Chat      *ChatHandler
}

// SetupRouter 注册所有路由。
func SetupRouter(r *gin.Engine, h Handlers, jwtManager *token.JWTManager) {
	apiV1 := r.Group("/api/v1")
	{
		apiV1.POST("/auth/token", h.Auth.IssueToken)

		authed := apiV1.Group("/")
		authed.Use(middleware.AuthMiddleware(jwtManager))
		{
			authed.POST("/messages", h.Assistant.SendMessage)
			authed.POST("/voice", h.Assistant.SendVoice)
			authed.POST("/images", h.Assistant.SendImage)
			authed.POST("/documents", h.Assistant.UploadDocument)
			authed.GET("/documents", h.Assistant.ListDocuments)
			authed.GET("/mode", h.Assistant.GetMode)
			authed.PUT("/mode", h.Assistant.SetMode)
			authed.GET("/history", h.Assistant.GetHistory)
			authed.DELETE("/history", h.Assistant.ClearHistory)
			authed.GET("/stats", h.Assistant.GetStats)
		}
	}

	// WebSocket 无法携带 Authorization 头，令牌放在路径中
	r.GET("/chat/:token", h.Chat.Handle)
}
