// Package gateway 把对话轮次转换成 LLM 请求，是服务层访问生成服务的唯一入口。
package gateway

import (
	"context"
	"encoding/base64"
	"fmt"

	"kb-assistant-go/internal/config"
	"kb-assistant-go/internal/model"
	"kb-assistant-go/pkg/llm"
)

const (
	// MinSpeechBytes 以下的音频视为合成失败。
	MinSpeechBytes = 1000
	// DefaultImagePrompt 用于没有说明文字的图片。
	DefaultImagePrompt = "Analyze this image"
)

// Gateway 适配 llm.Client。
type Gateway struct {
	client      llm.Client
	persona     string
	visionModel string
	audioModel  string
	params      llm.GenerationParams
}

// New 创建一个新的 Gateway 实例。
func New(client llm.Client, cfg config.LLMConfig) *Gateway {
	return &Gateway{
		client:      client,
		persona:     cfg.Prompt.Persona,
		visionModel: cfg.VisionModel,
		audioModel:  cfg.AudioModel,
		params:      buildGenerationParams(cfg.Generation),
	}
}

// Generate 以 directive 作为系统消息发送 turns，返回完整回复。
func (g *Gateway) Generate(ctx context.Context, directive string, turns []model.Turn) (string, error) {
	return g.client.Chat(ctx, composeMessages(directive, turns), g.paramsFor(""))
}

// Reply 以导师人设回复普通文本对话。
func (g *Gateway) Reply(ctx context.Context, history []model.Turn) (string, error) {
	return g.Generate(ctx, g.persona, history)
}

// StreamReply 与 Reply 相同，但将回复分块写入 writer，返回拼接后的完整文本。
func (g *Gateway) StreamReply(ctx context.Context, history []model.Turn, writer llm.MessageWriter) (string, error) {
	rec := &recordingWriter{next: writer}
	if err := g.client.StreamChatMessages(ctx, composeMessages(g.persona, history), g.paramsFor(""), rec); err != nil {
		return rec.String(), err
	}
	return rec.String(), nil
}

// DescribeImage 发送图片与说明文字，history 作为上下文。
func (g *Gateway) DescribeImage(ctx context.Context, history []model.Turn, image []byte, mimeType, caption string) (string, error) {
	if caption == "" {
		caption = DefaultImagePrompt
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))
	msgs := composeMessages(g.persona, history)
	msgs = append(msgs, llm.Message{
		Role:  string(model.RoleUser),
		Parts: []llm.ContentPart{llm.TextPart(caption), llm.ImagePart(dataURL)},
	})
	return g.client.Chat(ctx, msgs, g.paramsFor(g.visionModel))
}

// ReplyToAudio 发送一段语音，由支持音频输入的模型直接回答。
func (g *Gateway) ReplyToAudio(ctx context.Context, history []model.Turn, audio []byte, format string) (string, error) {
	if format == "" {
		format = "wav"
	}
	msgs := composeMessages(g.persona, history)
	msgs = append(msgs, llm.Message{
		Role: string(model.RoleUser),
		Parts: []llm.ContentPart{
			llm.TextPart("Listen to this voice message and reply to it."),
			llm.AudioPart(base64.StdEncoding.EncodeToString(audio), format),
		},
	})
	return g.client.Chat(ctx, msgs, g.paramsFor(g.audioModel))
}

// Speak 合成语音，过短的音频按失败处理。
func (g *Gateway) Speak(ctx context.Context, text string) ([]byte, error) {
	audio, err := g.client.Speak(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(audio) < MinSpeechBytes {
		return nil, fmt.Errorf("%w: synthesized audio too short (%d bytes)", llm.ErrGateway, len(audio))
	}
	return audio, nil
}

func composeMessages(system string, turns []model.Turn) []llm.Message {
	msgs := make([]llm.Message, 0, len(turns)+1)
	if system != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: system})
	}
	for _, t := range turns {
		msgs = append(msgs, llm.Message{Role: string(t.Role), Content: t.Content})
	}
	return msgs
}

func (g *Gateway) paramsFor(modelName string) *llm.GenerationParams {
	p := g.params
	p.Model = modelName
	return &p
}

// 零值表示使用服务端默认值，不发送该字段
func buildGenerationParams(c config.LLMGenerationConfig) llm.GenerationParams {
	var gp llm.GenerationParams
	if c.Temperature != 0 {
		t := c.Temperature
		gp.Temperature = &t
	}
	if c.TopP != 0 {
		p := c.TopP
		gp.TopP = &p
	}
	if c.MaxTokens != 0 {
		m := c.MaxTokens
		gp.MaxTokens = &m
	}
	return gp
}
