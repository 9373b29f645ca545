// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"kb-assistant-go/internal/config"
	"kb-assistant-go/internal/model"
	"kb-assistant-go/pkg/log"
	"kb-assistant-go/pkg/tasks"
)

// MaxAttempts 次失败后提交 offset，不再重试。
const MaxAttempts = 3

// DefaultRetryBackoff 是第一次重试前的等待时间，之后按失败次数线性增长。
const DefaultRetryBackoff = 2 * time.Second

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.IngestTask) (model.IngestResult, error)
}

// AttemptCounter 记录任务失败次数。
type AttemptCounter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// Producer 发送导入任务。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers(cfg.Brokers)...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// ProduceIngestTask 发送一个文档导入任务到 Kafka，以文件 MD5 作为消息 key。
func (p *Producer) ProduceIngestTask(ctx context.Context, task tasks.IngestTask) error {
	taskBytes, err := encodeTask(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.FileMD5),
		Value: taskBytes,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer 消费导入任务。
type Consumer struct {
	reader    *kafka.Reader
	processor TaskProcessor
	attempts  AttemptCounter
	backoff   time.Duration
}

// NewConsumer 创建消费者。attempts 为 nil 时使用进程内计数。
func NewConsumer(cfg config.KafkaConfig, processor TaskProcessor, attempts AttemptCounter) *Consumer {
	if attempts == nil {
		attempts = NewMemoryAttemptCounter()
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg.Brokers),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: r, processor: processor, attempts: attempts, backoff: DefaultRetryBackoff}
}

// Run 阻塞直到 ctx 取消或读取失败。
func (c *Consumer) Run(ctx context.Context) error {
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", c.reader.Config().Topic)
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			log.Error("从 Kafka 读取消息失败", err)
			return err
		}
		log.Infof("收到 Kafka 消息: offset %d", m.Offset)
		if c.handle(ctx, m.Value) {
			if err := c.reader.CommitMessages(ctx, m); err != nil {
				log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
			}
		}
	}
}

// handle 处理一条消息，返回是否应提交 offset。
// 消费组内未提交的消息不会被重新投递，后续提交会越过它，所以失败的任务在这里就地重试，
// 直到成功或累计失败 MaxAttempts 次。计数器保存在 Redis 时，进程重启后重新消费的同一任务会接着计数。
// 只有 ctx 取消时才返回 false，此时 offset 未提交，重启后从该消息继续。
func (c *Consumer) handle(ctx context.Context, value []byte) bool {
	task, err := decodeTask(value)
	if err != nil {
		// 消息格式错误，直接提交，避免阻塞队列
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(value))
		return true
	}

	log.Infof("开始处理导入任务: MD5=%s, FileName=%s", task.FileMD5, task.FileName)
	attemptsKey := fmt.Sprintf("kafka:attempts:%s", task.FileMD5)
	for local := int64(1); ; local++ {
		res, err := c.processor.Process(ctx, task)
		if err == nil {
			log.Infof("导入任务处理成功: %s", res)
			// 清理失败计数
			_ = c.attempts.Reset(ctx, attemptsKey)
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		log.Errorf("处理导入任务失败: MD5=%s, Error: %v", task.FileMD5, err)
		attempts, incErr := c.attempts.Incr(ctx, attemptsKey)
		if incErr != nil {
			log.Warnf("更新失败计数失败，使用本地计数: %v", incErr)
			attempts = local
		}
		if attempts >= MaxAttempts {
			log.Errorf("导入任务多次失败(>=%d)，提交 offset 终止重试: MD5=%s", MaxAttempts, task.FileMD5)
			_ = c.attempts.Reset(ctx, attemptsKey)
			return true
		}

		if c.backoff > 0 {
			timer := time.NewTimer(c.backoff * time.Duration(attempts))
			select {
			case <-ctx.Done():
				timer.Stop()
				return false
			case <-timer.C:
			}
		}
	}
}

func encodeTask(task tasks.IngestTask) ([]byte, error) {
	return json.Marshal(task)
}

func decodeTask(value []byte) (tasks.IngestTask, error) {
	var task tasks.IngestTask
	if err := json.Unmarshal(value, &task); err != nil {
		return task, err
	}
	if task.ObjectKey == "" || task.FileName == "" {
		return task, errors.New("task is missing object key or file name")
	}
	return task, nil
}

func brokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

type redisAttemptCounter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisAttemptCounter 使用 Redis 计数，多个消费者实例共享。
func NewRedisAttemptCounter(rdb *redis.Client) AttemptCounter {
	return &redisAttemptCounter{rdb: rdb, ttl: 24 * time.Hour}
}

func (r *redisAttemptCounter) Incr(ctx context.Context, key string) (int64, error) {
	n, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	_ = r.rdb.Expire(ctx, key, r.ttl).Err()
	return n, nil
}

func (r *redisAttemptCounter) Reset(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, key).Err()
}

type memoryAttemptCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewMemoryAttemptCounter 返回进程内计数器。
func NewMemoryAttemptCounter() AttemptCounter {
	return &memoryAttemptCounter{counts: make(map[string]int64)}
}

func (m *memoryAttemptCounter) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
	return m.counts[key], nil
}

func (m *memoryAttemptCounter) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counts, key)
	return nil
}
