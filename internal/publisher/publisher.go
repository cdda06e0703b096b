// Package publisher 将认证决策转发给下游自动化/通知系统
//
// 发布是"发后不管"的：任何下游失败只记录日志并吞掉，
// 绝不让发布失败影响认证调用本身；重试属于下游边界（如 resty 的重试），
// 核心不做重试。
package publisher

import (
	"context"

	"go.uber.org/zap"

	"wisefido-bioauth/internal/models"
)

// DecisionPublisher 决策发布接口
type DecisionPublisher interface {
	Publish(ctx context.Context, decision models.Decision) error
}

// Fanout 将决策广播给一组发布者；单个发布者失败不影响其它发布者
type Fanout struct {
	targets []DecisionPublisher
	logger  *zap.Logger
}

// NewFanout 创建广播发布者
func NewFanout(logger *zap.Logger, targets ...DecisionPublisher) *Fanout {
	return &Fanout{
		targets: targets,
		logger:  logger,
	}
}

var _ DecisionPublisher = (*Fanout)(nil)

// Publish 逐个发布；失败只记录，始终返回 nil
func (f *Fanout) Publish(ctx context.Context, decision models.Decision) error {
	for _, target := range f.targets {
		if err := target.Publish(ctx, decision); err != nil {
			f.logger.Warn("Decision publish failed",
				zap.String("decision_id", decision.DecisionID),
				zap.String("sensor_id", decision.SensorID),
				zap.Error(err),
			)
		}
	}
	return nil
}
