package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	rediscommon "wisefido-bioauth/internal/common/redis"
	"wisefido-bioauth/internal/models"
)

// streamBackend 抽象的流/缓存后端（用于在单元测试中替换 Redis）
type streamBackend interface {
	PublishJSON(ctx context.Context, stream string, data interface{}) (string, error)
	SetKey(ctx context.Context, key string, value string, ttl time.Duration) error
}

// redisBackend 基于 go-redis 的实现
type redisBackend struct {
	client *redis.Client
}

func (r *redisBackend) PublishJSON(ctx context.Context, stream string, data interface{}) (string, error) {
	return rediscommon.PublishJSONToStream(ctx, r.client, stream, data)
}

func (r *redisBackend) SetKey(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// RedisPublisher 将决策发布到 Redis Streams，并缓存每个传感器的最新决策
//
// 流消息供下游消费者（通知、自动化）订阅；
// latest 键供查询端直接读取某个传感器的最近一次决策。
type RedisPublisher struct {
	backend      streamBackend
	stream       string
	latestPrefix string
	latestTTL    time.Duration
	logger       *zap.Logger
}

var _ DecisionPublisher = (*RedisPublisher)(nil)

// NewRedisPublisher 创建 Redis 发布者
func NewRedisPublisher(
	client *redis.Client,
	stream string,
	latestPrefix string,
	latestTTL time.Duration,
	logger *zap.Logger,
) *RedisPublisher {
	return &RedisPublisher{
		backend:      &redisBackend{client: client},
		stream:       stream,
		latestPrefix: latestPrefix,
		latestTTL:    latestTTL,
		logger:       logger,
	}
}

// Publish 发布决策
func (p *RedisPublisher) Publish(ctx context.Context, decision models.Decision) error {
	streamID, err := p.backend.PublishJSON(ctx, p.stream, decision)
	if err != nil {
		return fmt.Errorf("failed to publish decision to stream %s: %w", p.stream, err)
	}

	// 最新决策缓存失败不影响流发布结果，只记录
	if err := p.cacheLatest(ctx, decision); err != nil {
		p.logger.Warn("Failed to cache latest decision",
			zap.String("sensor_id", decision.SensorID),
			zap.Error(err),
		)
	}

	p.logger.Debug("Published decision",
		zap.String("decision_id", decision.DecisionID),
		zap.String("stream", p.stream),
		zap.String("stream_id", streamID),
		zap.Bool("matched", decision.Matched()),
	)

	return nil
}

func (p *RedisPublisher) cacheLatest(ctx context.Context, decision models.Decision) error {
	jsonData, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}

	key := fmt.Sprintf("%s%s:latest", p.latestPrefix, decision.SensorID)
	return p.backend.SetKey(ctx, key, string(jsonData), p.latestTTL)
}
