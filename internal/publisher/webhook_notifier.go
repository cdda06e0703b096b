package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"wisefido-bioauth/internal/models"
)

// WebhookNotifier 将决策 POST 到下游自动化/通知 Webhook
//
// 短超时加有限重试；最终失败由外层 Fanout 记录并吞掉。
type WebhookNotifier struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

var _ DecisionPublisher = (*WebhookNotifier)(nil)

// NewWebhookNotifier 创建 Webhook 通知器
func NewWebhookNotifier(webhookURL string, logger *zap.Logger) *WebhookNotifier {
	client := resty.New().
		SetBaseURL(webhookURL).
		SetTimeout(5 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json")

	return &WebhookNotifier{
		httpClient: client,
		logger:     logger,
	}
}

// Publish 发送决策
func (n *WebhookNotifier) Publish(ctx context.Context, decision models.Decision) error {
	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetBody(decision).
		Post("")
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}

	n.logger.Debug("Webhook notified",
		zap.String("decision_id", decision.DecisionID),
		zap.Int("status", resp.StatusCode()),
	)
	return nil
}
