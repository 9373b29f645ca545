package handler

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"kb-assistant-go/internal/model"
	"kb-assistant-go/internal/service"
	"kb-assistant-go/pkg/log"
	"kb-assistant-go/pkg/token"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理 WebSocket 聊天连接。
type ChatHandler struct {
	assistant  service.Assistant
	jwtManager *token.JWTManager
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(assistant service.Assistant, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{assistant: assistant, jwtManager: jwtManager}
}

// Handle 处理一个传入的 WebSocket 连接。令牌通过路径参数传入。
// 每条文本消息按当前模式回复：回复分块以 {"chunk": ...} 发送，最后发送 completion 通知。
func (h *ChatHandler) Handle(c *gin.Context) {
	claims, err := h.jwtManager.VerifyToken(c.Param("token"))
	if err != nil {
		fail(c, http.StatusUnauthorized, "invalid token")
		return
	}
	id := model.UserID(claims.UserID)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("WebSocket 连接已建立，用户: %s", id)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			return
		}
		text := strings.TrimSpace(string(message))
		if text == "" {
			continue
		}

		reply, err := h.assistant.StreamText(c.Request.Context(), id, text, &wsWriterInterceptor{conn: conn})
		if err != nil {
			log.Errorf("处理流式响应失败: %v", err)
			writeJSON(conn, map[string]string{"error": "service temporarily unavailable, please try again"})
			sendCompletion(conn, "error")
			return
		}
		if reply.Failed {
			writeJSON(conn, map[string]string{"error": reply.Text})
		}
		if len(reply.Audio) > 0 {
			writeJSON(conn, map[string]string{"type": "audio", "format": "wav", "data": base64.StdEncoding.EncodeToString(reply.Audio)})
		} else if reply.SpeechError != "" {
			writeJSON(conn, map[string]string{"type": "audio_error", "message": reply.SpeechError})
		}
		sendCompletion(conn, "finished")
	}
}

// wsWriterInterceptor 把回复分块包装成 {"chunk": "..."} 后写入连接。
type wsWriterInterceptor struct {
	conn *websocket.Conn
}

func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	payload, err := json.Marshal(map[string]string{"chunk": string(data)})
	if err != nil {
		return err
	}
	return w.conn.WriteMessage(messageType, payload)
}

func writeJSON(conn *websocket.Conn, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		log.Warnf("写入 WebSocket 消息失败: %v", err)
	}
}

func sendCompletion(conn *websocket.Conn, status string) {
	writeJSON(conn, map[string]interface{}{
		"type":      "completion",
		"status":    status,
		"timestamp": time.Now().UnixMilli(),
		"date":      time.Now().Format("2006-01-02T15:04:05"),
	})
}
