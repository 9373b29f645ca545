// Package model 包含了应用的数据模型定义。
package model

import (
	"errors"
	"fmt"
	"strconv"
)

// UserID 是会话的不透明标识，通常来自消息平台的用户 ID。
type UserID string

// UserIDFromInt 将平台的整数 ID 转成 UserID。
func UserIDFromInt(id int64) UserID {
	return UserID(strconv.FormatInt(id, 10))
}

// Role 表示对话中的发言方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid 判断角色是否合法。
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn 代表一轮对话消息，创建后不再修改。
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Mode 控制文本消息的处理方式。
type Mode string

const (
	ModeText  Mode = "text"
	ModeVoice Mode = "voice"
	ModeRAG   Mode = "rag"
)

// DefaultMode 新会话的模式。
const DefaultMode = ModeText

// ErrInvalidMode 表示模式不在 text/voice/rag 之内。
var ErrInvalidMode = errors.New("invalid mode")

// ParseMode 校验并返回模式。
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	switch m {
	case ModeText, ModeVoice, ModeRAG:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// StatKey 是使用统计的计数项。
type StatKey string

const (
	StatMessages  StatKey = "messages"
	StatVoice     StatKey = "voice"
	StatImages    StatKey = "images"
	StatDocuments StatKey = "documents"
)

// Known 判断是否为已知计数项。
func (k StatKey) Known() bool {
	switch k {
	case StatMessages, StatVoice, StatImages, StatDocuments:
		return true
	}
	return false
}

// Stats 是单个用户的使用统计。
type Stats struct {
	Messages  int64 `json:"messages"`
	Voice     int64 `json:"voice"`
	Images    int64 `json:"images"`
	Documents int64 `json:"documents"`
}

// Add 按计数项加一，未知计数项忽略。
func (s *Stats) Add(key StatKey, delta int64) {
	switch key {
	case StatMessages:
		s.Messages += delta
	case StatVoice:
		s.Voice += delta
	case StatImages:
		s.Images += delta
	case StatDocuments:
		s.Documents += delta
	}
}
