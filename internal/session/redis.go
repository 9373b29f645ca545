package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"kb-assistant-go/internal/model"
	"kb-assistant-go/pkg/log"
)

// RedisStore 将会话保存在 Redis 中：历史为 JSON 列表，模式为字符串，统计为 hash。
type RedisStore struct {
	client *redis.Client
	hMax   int
	ttl    time.Duration
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore 创建 Redis 会话存储。ttl 为 0 表示不过期。
func NewRedisStore(client *redis.Client, hMax int, ttl time.Duration) *RedisStore {
	if hMax < 0 {
		panic(fmt.Sprintf("session: negative history max %d", hMax))
	}
	return &RedisStore{client: client, hMax: hMax, ttl: ttl, prefix: "kb:session:"}
}

// WithPrefix 修改 key 前缀，测试中用来隔离数据。
func (r *RedisStore) WithPrefix(prefix string) *RedisStore {
	r.prefix = prefix
	return r
}

func (r *RedisStore) historyKey(id model.UserID) string {
	return r.prefix + string(id) + ":history"
}

func (r *RedisStore) modeKey(id model.UserID) string {
	return r.prefix + string(id) + ":mode"
}

func (r *RedisStore) statsKey(id model.UserID) string {
	return r.prefix + string(id) + ":stats"
}

func (r *RedisStore) touch(ctx context.Context, pipe redis.Pipeliner, keys ...string) {
	if r.ttl <= 0 {
		return
	}
	for _, k := range keys {
		pipe.Expire(ctx, k, r.ttl)
	}
}

func (r *RedisStore) History(ctx context.Context, id model.UserID) ([]model.Turn, error) {
	mustUserID(id)
	items, err := r.client.LRange(ctx, r.historyKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	turns := make([]model.Turn, 0, len(items))
	for _, item := range items {
		var t model.Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			log.Warnf("[RedisStore] 跳过无法解析的历史记录, user: %s, error: %v", id, err)
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func (r *RedisStore) AddMessage(ctx context.Context, id model.UserID, role model.Role, content string) error {
	mustUserID(id)
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	data, err := json.Marshal(model.Turn{Role: role, Content: content})
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	hk, sk := r.historyKey(id), r.statsKey(id)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if r.hMax == 0 {
			pipe.Del(ctx, hk)
		} else {
			pipe.RPush(ctx, hk, data)
			pipe.LTrim(ctx, hk, int64(-r.hMax), -1)
		}
		if role == model.RoleUser {
			pipe.HIncrBy(ctx, sk, string(model.StatMessages), 1)
		}
		r.touch(ctx, pipe, hk, sk)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add message: %w", err)
	}
	return nil
}

func (r *RedisStore) ClearHistory(ctx context.Context, id model.UserID) error {
	mustUserID(id)
	if err := r.client.Del(ctx, r.historyKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

func (r *RedisStore) Mode(ctx context.Context, id model.UserID) (model.Mode, error) {
	mustUserID(id)
	val, err := r.client.Get(ctx, r.modeKey(id)).Result()
	if err == redis.Nil {
		return model.DefaultMode, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get mode: %w", err)
	}
	m, err := model.ParseMode(val)
	if err != nil {
		log.Warnf("[RedisStore] 存储的模式无效, user: %s, value: %q", id, val)
		return model.DefaultMode, nil
	}
	return m, nil
}

func (r *RedisStore) SetMode(ctx context.Context, id model.UserID, mode model.Mode) error {
	mustUserID(id)
	if _, err := model.ParseMode(string(mode)); err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.modeKey(id), string(mode), r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set mode: %w", err)
	}
	return nil
}

func (r *RedisStore) IncrementStat(ctx context.Context, id model.UserID, key model.StatKey) error {
	mustUserID(id)
	if !key.Known() {
		return nil
	}
	sk := r.statsKey(id)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, sk, string(key), 1)
		r.touch(ctx, pipe, sk)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to increment stat: %w", err)
	}
	return nil
}

func (r *RedisStore) Stats(ctx context.Context, id model.UserID) (model.Stats, error) {
	mustUserID(id)
	fields, err := r.client.HGetAll(ctx, r.statsKey(id)).Result()
	if err != nil {
		return model.Stats{}, fmt.Errorf("failed to get stats: %w", err)
	}
	var stats model.Stats
	for k, v := range fields {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		stats.Add(model.StatKey(k), n)
	}
	return stats, nil
}
