package service

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"kb-assistant-go/internal/config"
	"kb-assistant-go/internal/model"
	"kb-assistant-go/internal/pipeline"
	"kb-assistant-go/internal/rag"
	"kb-assistant-go/internal/session"
	"kb-assistant-go/pkg/llm"
	"kb-assistant-go/pkg/log"
)

const (
	// VoiceTurnContent 是语音消息在历史中的占位文本。
	VoiceTurnContent = "[Voice message]"
	imageTurnPrefix  = "[Image]: "

	// ReplyFailureMessage 是生成服务失败时返回给用户的固定文案。
	ReplyFailureMessage = "Sorry, I could not generate a reply right now. Please try again."
	// SpeechFailureMessage 表示语音合成失败，文本回复仍然有效。
	SpeechFailureMessage = "Could not synthesize speech for this reply."
)

// Gateway 是服务层使用的生成服务，由 gateway.Gateway 实现。
type Gateway interface {
	Reply(ctx context.Context, history []model.Turn) (string, error)
	StreamReply(ctx context.Context, history []model.Turn, writer llm.MessageWriter) (string, error)
	DescribeImage(ctx context.Context, history []model.Turn, image []byte, mimeType, caption string) (string, error)
	ReplyToAudio(ctx context.Context, history []model.Turn, audio []byte, format string) (string, error)
	Speak(ctx context.Context, text string) ([]byte, error)
}

// Composer 回答知识库问题，由 rag.Composer 实现。
type Composer interface {
	Respond(ctx context.Context, query string, history []model.Turn) rag.Response
}

// KnowledgeBase 只用于统计条目数。
type KnowledgeBase interface {
	Size(ctx context.Context) int
}

// Reply 是一次消息处理的结果。
type Reply struct {
	Mode model.Mode `json:"mode"`
	Text string     `json:"text"`
	// Parts 是按长度切分后的文本，每段不超过 MaxReplyLength。
	Parts []string `json:"parts"`
	// Audio 为语音模式下合成的 WAV 音频。
	Audio       []byte `json:"-"`
	SpeechError string `json:"speechError,omitempty"`
	Failed      bool   `json:"failed,omitempty"`
}

// StatsView 是 /stats 返回的内容。
type StatsView struct {
	model.Stats
	Mode              model.Mode `json:"mode"`
	KnowledgeBaseSize int        `json:"knowledgeBaseSize"`
}

// Assistant 是传输层调用核心逻辑的唯一入口。
type Assistant interface {
	HandleText(ctx context.Context, id model.UserID, text string) (Reply, error)
	// StreamText 与 HandleText 相同，回复分块写入 writer。
	StreamText(ctx context.Context, id model.UserID, text string, writer llm.MessageWriter) (Reply, error)
	HandleVoice(ctx context.Context, id model.UserID, audio []byte, format string) (Reply, error)
	HandleImage(ctx context.Context, id model.UserID, image []byte, mimeType, caption string) (Reply, error)
	IngestDocument(ctx context.Context, id model.UserID, fileName string, r io.Reader, size int64) (model.IngestResult, error)
	ListDocuments(ctx context.Context, id model.UserID) ([]model.DocumentView, error)
	SetMode(ctx context.Context, id model.UserID, mode string) (model.Mode, error)
	Mode(ctx context.Context, id model.UserID) (model.Mode, error)
	Reset(ctx context.Context, id model.UserID) error
	Stats(ctx context.Context, id model.UserID) (StatsView, error)
	History(ctx context.Context, id model.UserID) ([]model.Turn, error)
}

type assistant struct {
	sessions session.Store
	gateway  Gateway
	composer Composer
	kb       KnowledgeBase
	docs     DocumentService
	cfg      config.AssistantConfig
}

// NewAssistant 创建一个新的 Assistant 实例。
func NewAssistant(sessions session.Store, gw Gateway, composer Composer, kb KnowledgeBase, docs DocumentService, cfg config.AssistantConfig) Assistant {
	if cfg.MaxReplyLength <= 0 {
		cfg.MaxReplyLength = DefaultMaxReplyLength
	}
	if cfg.MediaHistoryTurns <= 0 {
		cfg.MediaHistoryTurns = 5
	}
	if cfg.SpeechMaxChars <= 0 {
		cfg.SpeechMaxChars = 500
	}
	return &assistant{sessions: sessions, gateway: gw, composer: composer, kb: kb, docs: docs, cfg: cfg}
}

func (a *assistant) HandleText(ctx context.Context, id model.UserID, text string) (Reply, error) {
	return a.handleText(ctx, id, text, nil)
}

func (a *assistant) StreamText(ctx context.Context, id model.UserID, text string, writer llm.MessageWriter) (Reply, error) {
	return a.handleText(ctx, id, text, writer)
}

func (a *assistant) handleText(ctx context.Context, id model.UserID, text string, writer llm.MessageWriter) (Reply, error) {
	mode, err := a.sessions.Mode(ctx, id)
	if err != nil {
		return Reply{}, err
	}

	// 1. 先记录用户消息，再取历史
	if err := a.sessions.AddMessage(ctx, id, model.RoleUser, text); err != nil {
		return Reply{}, err
	}
	history, err := a.sessions.History(ctx, id)
	if err != nil {
		return Reply{}, err
	}
	// 历史上限为 0 时存储里不会保留本次消息，这里补上
	current := model.Turn{Role: model.RoleUser, Content: text}
	if n := len(history); n == 0 || history[n-1] != current {
		history = append(history, current)
	}
	log.Infow("[Assistant] 收到文本消息", "user", id, "mode", mode, "historyTurns", len(history))

	// 2. 按模式生成回复
	var answer string
	switch mode {
	case model.ModeRAG:
		// 历史的最后一条就是本次问题，Composer 会自己追加
		resp := a.composer.Respond(ctx, text, history[:len(history)-1])
		answer = resp.Text
		if writer != nil {
			writeParts(writer, SplitMessage(answer, a.cfg.MaxReplyLength))
		}
	default:
		if writer != nil && mode == model.ModeText {
			answer, err = a.gateway.StreamReply(ctx, history, writer)
		} else {
			answer, err = a.gateway.Reply(ctx, history)
		}
		if err != nil {
			log.Errorf("[Assistant] 生成回复失败, user: %s, error: %v", id, err)
			return a.failed(mode), nil
		}
		if writer != nil && mode != model.ModeText {
			writeParts(writer, SplitMessage(answer, a.cfg.MaxReplyLength))
		}
	}

	// 3. 记录助手回复
	if err := a.sessions.AddMessage(ctx, id, model.RoleAssistant, answer); err != nil {
		return Reply{}, err
	}

	reply := Reply{Mode: mode, Text: answer, Parts: SplitMessage(answer, a.cfg.MaxReplyLength)}
	if mode == model.ModeVoice {
		a.attachSpeech(ctx, &reply)
	}
	return reply, nil
}

func (a *assistant) attachSpeech(ctx context.Context, reply *Reply) {
	audio, err := a.gateway.Speak(ctx, truncateRunes(reply.Text, a.cfg.SpeechMaxChars))
	if err != nil {
		log.Warnf("[Assistant] 语音合成失败: %v", err)
		reply.SpeechError = SpeechFailureMessage
		return
	}
	reply.Audio = audio
}

func (a *assistant) HandleVoice(ctx context.Context, id model.UserID, audio []byte, format string) (Reply, error) {
	if err := a.sessions.IncrementStat(ctx, id, model.StatVoice); err != nil {
		return Reply{}, err
	}
	history, err := a.recentHistory(ctx, id)
	if err != nil {
		return Reply{}, err
	}
	answer, err := a.gateway.ReplyToAudio(ctx, history, audio, format)
	if err != nil {
		log.Errorf("[Assistant] 语音消息处理失败, user: %s, error: %v", id, err)
		return a.failed(model.ModeVoice), nil
	}
	return a.recordExchange(ctx, id, VoiceTurnContent, answer)
}

func (a *assistant) HandleImage(ctx context.Context, id model.UserID, image []byte, mimeType, caption string) (Reply, error) {
	if err := a.sessions.IncrementStat(ctx, id, model.StatImages); err != nil {
		return Reply{}, err
	}
	if strings.TrimSpace(caption) == "" {
		caption = DefaultImageCaption
	}
	history, err := a.recentHistory(ctx, id)
	if err != nil {
		return Reply{}, err
	}
	answer, err := a.gateway.DescribeImage(ctx, history, image, mimeType, caption)
	if err != nil {
		log.Errorf("[Assistant] 图片分析失败, user: %s, error: %v", id, err)
		return a.failed(model.ModeText), nil
	}
	return a.recordExchange(ctx, id, imageTurnPrefix+caption, answer)
}

func (a *assistant) recentHistory(ctx context.Context, id model.UserID) ([]model.Turn, error) {
	history, err := a.sessions.History(ctx, id)
	if err != nil {
		return nil, err
	}
	if n := a.cfg.MediaHistoryTurns; len(history) > n {
		history = history[len(history)-n:]
	}
	return history, nil
}

func (a *assistant) recordExchange(ctx context.Context, id model.UserID, userContent, answer string) (Reply, error) {
	if err := a.sessions.AddMessage(ctx, id, model.RoleUser, userContent); err != nil {
		return Reply{}, err
	}
	if err := a.sessions.AddMessage(ctx, id, model.RoleAssistant, answer); err != nil {
		return Reply{}, err
	}
	mode, err := a.sessions.Mode(ctx, id)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Mode: mode, Text: answer, Parts: SplitMessage(answer, a.cfg.MaxReplyLength)}, nil
}

func (a *assistant) failed(mode model.Mode) Reply {
	return Reply{Mode: mode, Text: ReplyFailureMessage, Parts: []string{ReplyFailureMessage}, Failed: true}
}

// IngestDocument 只对通过格式和大小校验的上传累加 documents 计数。
func (a *assistant) IngestDocument(ctx context.Context, id model.UserID, fileName string, r io.Reader, size int64) (model.IngestResult, error) {
	if err := a.docs.Validate(fileName, size); err != nil {
		return model.IngestResult{Success: false, Source: filepath.Base(fileName), Error: pipeline.DescribeError(err)}, nil
	}
	if err := a.sessions.IncrementStat(ctx, id, model.StatDocuments); err != nil {
		return model.IngestResult{}, err
	}
	res := a.docs.Ingest(ctx, id, fileName, r, size)
	log.Infow("[Assistant] 文档导入结束", "user", id, "result", res.String())
	return res, nil
}

func (a *assistant) ListDocuments(ctx context.Context, id model.UserID) ([]model.DocumentView, error) {
	return a.docs.ListDocuments(ctx, id)
}

// SetMode 在边界校验模式，非法值返回 ErrInvalidMode，存储的模式不变。
func (a *assistant) SetMode(ctx context.Context, id model.UserID, mode string) (model.Mode, error) {
	m, err := model.ParseMode(strings.ToLower(strings.TrimSpace(mode)))
	if err != nil {
		return "", err
	}
	if err := a.sessions.SetMode(ctx, id, m); err != nil {
		return "", err
	}
	return m, nil
}

func (a *assistant) Mode(ctx context.Context, id model.UserID) (model.Mode, error) {
	return a.sessions.Mode(ctx, id)
}

func (a *assistant) Reset(ctx context.Context, id model.UserID) error {
	return a.sessions.ClearHistory(ctx, id)
}

func (a *assistant) Stats(ctx context.Context, id model.UserID) (StatsView, error) {
	stats, err := a.sessions.Stats(ctx, id)
	if err != nil {
		return StatsView{}, err
	}
	mode, err := a.sessions.Mode(ctx, id)
	if err != nil {
		return StatsView{}, err
	}
	return StatsView{Stats: stats, Mode: mode, KnowledgeBaseSize: a.kb.Size(ctx)}, nil
}

func (a *assistant) History(ctx context.Context, id model.UserID) ([]model.Turn, error) {
	return a.sessions.History(ctx, id)
}

func writeParts(w llm.MessageWriter, parts []string) {
	for _, p := range parts {
		if err := w.WriteMessage(websocket.TextMessage, []byte(p)); err != nil {
			log.Warnf("[Assistant] 写入回复分块失败: %v", err)
			return
		}
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
