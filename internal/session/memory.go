package session

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"

	"kb-assistant-go/internal/model"
)

const shardCount = 64

type state struct {
	history []model.Turn
	mode    model.Mode
	stats   model.Stats
}

type shard struct {
	mu       sync.Mutex
	sessions map[model.UserID]*state
}

// get 在持有 sh.mu 时调用，按需创建会话。
func (sh *shard) get(id model.UserID) *state {
	st, ok := sh.sessions[id]
	if !ok {
		st = &state{history: []model.Turn{}, mode: model.DefaultMode}
		sh.sessions[id] = st
	}
	return st
}

// MemoryStore 是进程内的会话存储，按用户 ID 分片加锁，进程退出后数据丢失。
type MemoryStore struct {
	hMax   int
	shards [shardCount]shard
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建内存会话存储，hMax 为每个用户保留的最大轮数。
func NewMemoryStore(hMax int) *MemoryStore {
	if hMax < 0 {
		panic(fmt.Sprintf("session: negative history max %d", hMax))
	}
	s := &MemoryStore{hMax: hMax}
	for i := range s.shards {
		s.shards[i].sessions = make(map[model.UserID]*state)
	}
	return s
}

func (s *MemoryStore) with(id model.UserID, fn func(st *state)) {
	mustUserID(id)
	sh := &s.shards[xxhash.Sum64String(string(id))%shardCount]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	fn(sh.get(id))
}

func (s *MemoryStore) History(_ context.Context, id model.UserID) ([]model.Turn, error) {
	var out []model.Turn
	s.with(id, func(st *state) {
		out = slices.Clone(st.history)
	})
	if out == nil {
		out = []model.Turn{}
	}
	return out, nil
}

func (s *MemoryStore) AddMessage(_ context.Context, id model.UserID, role model.Role, content string) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	s.with(id, func(st *state) {
		st.history = append(st.history, model.Turn{Role: role, Content: content})
		if over := len(st.history) - s.hMax; over > 0 {
			st.history = slices.Clone(st.history[over:])
		}
		if role == model.RoleUser {
			st.stats.Add(model.StatMessages, 1)
		}
	})
	return nil
}

func (s *MemoryStore) ClearHistory(_ context.Context, id model.UserID) error {
	s.with(id, func(st *state) {
		st.history = []model.Turn{}
	})
	return nil
}

func (s *MemoryStore) Mode(_ context.Context, id model.UserID) (model.Mode, error) {
	var m model.Mode
	s.with(id, func(st *state) {
		m = st.mode
	})
	return m, nil
}

func (s *MemoryStore) SetMode(_ context.Context, id model.UserID, mode model.Mode) error {
	if _, err := model.ParseMode(string(mode)); err != nil {
		return err
	}
	s.with(id, func(st *state) {
		st.mode = mode
	})
	return nil
}

func (s *MemoryStore) IncrementStat(_ context.Context, id model.UserID, key model.StatKey) error {
	if !key.Known() {
		return nil
	}
	s.with(id, func(st *state) {
		st.stats.Add(key, 1)
	})
	return nil
}

func (s *MemoryStore) Stats(_ context.Context, id model.UserID) (model.Stats, error) {
	var out model.Stats
	s.with(id, func(st *state) {
		out = st.stats
	})
	return out, nil
}
