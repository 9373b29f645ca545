package handler

import (
	"encoding/base64"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"kb-assistant-go/internal/ingest"
	"kb-assistant-go/internal/model"
	"kb-assistant-go/internal/service"
	"kb-assistant-go/pkg/log"
)

// 语音和图片的上传上限
const maxMediaSize = 20 << 20

// AssistantHandler 负责处理消息、模式、历史、统计和文档上传请求。
type AssistantHandler struct {
	assistant   service.Assistant
	maxFileSize int64
}

// NewAssistantHandler 创建一个新的 AssistantHandler 实例。
func NewAssistantHandler(assistant service.Assistant, maxFileSize int64) *AssistantHandler {
	if maxFileSize <= 0 {
		maxFileSize = ingest.DefaultMaxFileSize
	}
	return &AssistantHandler{assistant: assistant, maxFileSize: maxFileSize}
}

// MessageRequest 是文本消息请求体。
type MessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// ModeRequest 是切换模式请求体。
type ModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

// replyResponse 在 service.Reply 基础上附带 base64 编码的音频。
type replyResponse struct {
	service.Reply
	AudioBase64 string `json:"audio,omitempty"`
}

func toResponse(r service.Reply) replyResponse {
	resp := replyResponse{Reply: r}
	if len(r.Audio) > 0 {
		resp.AudioBase64 = base64.StdEncoding.EncodeToString(r.Audio)
	}
	return resp
}

// SendMessage 处理文本消息，按当前模式回复。
func (h *AssistantHandler) SendMessage(c *gin.Context) {
	id, found := currentUser(c)
	if !found {
		return
	}
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "text is required")
		return
	}
	reply, err := h.assistant.HandleText(c.Request.Context(), id, req.Text)
	if err != nil {
		log.Error("SendMessage: failed to handle text", err)
		fail(c, http.StatusInternalServerError, "internal server error")
		return
	}
	ok(c, toResponse(reply))
}

// SendVoice 处理 multipart 字段 audio 中的语音消息。
func (h *AssistantHandler) SendVoice(c *gin.Context) {
	id, found := currentUser(c)
	if !found {
		return
	}
	data, header, err := readFormFile(c, "audio", maxMediaSize)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	format := c.PostForm("format")
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
	}
	reply, err := h.assistant.HandleVoice(c.Request.Context(), id, data, format)
	if err != nil {
		log.Error("SendVoice: failed to handle voice", err)
		fail(c, http.StatusInternalServerError, "internal server error")
		return
	}
	ok(c, toResponse(reply))
}

// SendImage 处理 multipart 字段 image 中的图片，caption 可选。
func (h *AssistantHandler) SendImage(c *gin.Context) {
	id, found := currentUser(c)
	if !found {
		return
	}
	data, header, err := readFormFile(c, "image", maxMediaSize)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	reply, err := h.assistant.HandleImage(c.Request.Context(), id, data, mimeType, c.PostForm("caption"))
	if err != nil {
		log.Error("SendImage: failed to handle image", err)
		fail(c, http.StatusInternalServerError, "internal server error")
		return
	}
	ok(c, toResponse(reply))
}

// UploadDocument 处理 multipart 字段 file 中的文档并导入知识库。
func (h *AssistantHandler) UploadDocument(c *gin.Context) {
	id, found := currentUser(c)
	if !found {
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, "file is required")
		return
	}
	// 在读取内容之前校验扩展名和大小
	if _, err := ingest.Validate(header.Filename, header.Size, h.maxFileSize); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ingest.ErrFileTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		fail(c, status, err.Error())
		return
	}
	f, err := header.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, "could not read file")
		return
	}
	defer f.Close()

	res, err := h.assistant.IngestDocument(c.Request.Context(), id, header.Filename, f, header.Size)
	if err != nil {
		log.Error("UploadDocument: failed to ingest", err)
		fail(c, http.StatusInternalServerError, "internal server error")
		return
	}
	if !res.Success {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": http.StatusUnprocessableEntity, "message": res.Error, "data": res})
		return
	}
	ok(c, res)
}

// ListDocuments 返回当前用户上传的文档。
func (h *AssistantHandler) ListDocuments(c *gin.Context) {
	id, found := currentUser(c)
	if !found {
		return
	}
	docs, err := h.assistant.ListDocuments(c.Request.Context(), id)
	if err != nil {
		log.Error("ListDocuments: failed to list", err)
		fail(c, http.StatusInternalServerError, "internal server error")
		return
	}
	ok(c, docs)
}

// GetMode 返回当前模式。
func (h *AssistantHandler) GetMode(c *gin.Context) {
	id, found := currentUser(c)
	if !found {
		return
	}
	mode, err := h.assistant.Mode(c.Request.Context(), id)
	if err != nil {
		log.Error("GetMode: failed", err)
		fail(c, http.StatusInternalServerError, "internal server error")
		return
	}
	ok(c, gin.H{"mode": mode})
}

// SetMode 切换模式，非法模式返回 400 且模式不变。
func (h *AssistantHandler) SetMode(c *gin.Context) {
	id, found := currentUser(c)
	if !found {
		return
	}
	var req ModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "mode is required")
		return
	}
	mode, err := h.assistant.SetMode(c.Request.Context(), id, req.Mode)
	if errors.Is(err, model.ErrInvalidMode) {
		fail(c, http.StatusBadRequest, "mode must be one of text, voice, rag")
		return
	}
	if err != nil {
		log.Error("SetMode: failed", err)
		fail(c, http.StatusInternalServerError, "internal server error")
		return
	}
	ok(c, gin.H{"mode": mode})
}

// GetHistory 返回当前对话历史。
func (h *AssistantHandler) GetHistory(c *gin.Context) {
	id, found := currentUser(c)
	if !found {
		return
	}
	history, err := h.assistant.History(c.Request.Context(), id)
	if err != nil {
		log.Error("GetHistory: failed", err)
		fail(c, http.StatusInternalServerError, "internal server error")
		return
	}
	ok(c, history)
}

// ClearHistory 清空对话历史，模式和统计不变。
func (h *AssistantHandler) ClearHistory(c *gin.Context) {
	id, found := currentUser(c)
	if !found {
		return
	}
	if err := h.assistant.Reset(c.Request.Context(), id); err != nil {
		log.Error("ClearHistory: failed", err)
		fail(c, http.StatusInternalServerError, "internal server error")
		return
	}
	ok(c, nil)
}

// GetStats 返回使用统计、当前模式和知识库大小。
func (h *AssistantHandler) GetStats(c *gin.Context) {
	id, found := currentUser(c)
	if !found {
		return
	}
	stats, err := h.assistant.Stats(c.Request.Context(), id)
	if err != nil {
		log.Error("GetStats: failed", err)
		fail(c, http.StatusInternalServerError, "internal server error")
		return
	}
	ok(c, stats)
}

func readFormFile(c *gin.Context, field string, limit int64) ([]byte, *multipart.FileHeader, error) {
	header, err := c.FormFile(field)
	if err != nil {
		return nil, nil, errors.New(field + " is required")
	}
	if header.Size > limit {
		return nil, nil, errors.New(field + " is too large")
	}
	f, err := header.Open()
	if err != nil {
		return nil, nil, errors.New("could not read " + field)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return nil, nil, errors.New("could not read " + field)
	}
	if len(data) == 0 {
		return nil, nil, errors.New(field + " is empty")
	}
	return data, header, nil
}
