// Package session 保存每个用户的对话历史、模式和使用统计。
package session

import (
	"context"
	"errors"

	"kb-assistant-go/internal/model"
)

// DefaultHistoryMax 每个用户最多保留的对话轮数。
const DefaultHistoryMax = 20

var (
	// ErrInvalidMode 模式不在 text/voice/rag 之内，存储的模式不变。
	ErrInvalidMode = model.ErrInvalidMode
	// ErrInvalidRole 角色不是 user/assistant。
	ErrInvalidRole = errors.New("invalid role")
)

// Store 是会话存储的接口。对同一用户的每个修改操作都是原子的。
type Store interface {
	// History 返回历史快照，调用方修改返回值不影响存储。
	History(ctx context.Context, id model.UserID) ([]model.Turn, error)
	// AddMessage 追加一轮对话，超过上限时丢弃最旧的；user 角色同时累加 messages 计数。
	AddMessage(ctx context.Context, id model.UserID, role model.Role, content string) error
	// ClearHistory 清空历史，不影响模式和统计。
	ClearHistory(ctx context.Context, id model.UserID) error
	Mode(ctx context.Context, id model.UserID) (model.Mode, error)
	SetMode(ctx context.Context, id model.UserID, mode model.Mode) error
	// IncrementStat 对未知计数项不做任何事。
	IncrementStat(ctx context.Context, id model.UserID, key model.StatKey) error
	Stats(ctx context.Context, id model.UserID) (model.Stats, error)
}

func mustUserID(id model.UserID) {
	if id == "" {
		panic("session: empty user id")
	}
}
