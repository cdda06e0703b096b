package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"wisefido-bioauth/internal/enrollment"
	"wisefido-bioauth/internal/matcher"
	"wisefido-bioauth/internal/models"
	"wisefido-bioauth/internal/publisher"
	"wisefido-bioauth/internal/repository"
)

// publishTimeout 异步发布单次决策的超时
const publishTimeout = 5 * time.Second

// AuthService 生物特征认证服务
//
// 组合登记器、匹配器、档案仓库与决策发布者。
// 每个决策（无论是否匹配）都异步转发给下游发布者；
// 发布失败绝不影响认证调用的返回。
type AuthService struct {
	profiles  repository.ProfileRepository
	enroller  *enrollment.Enroller
	matcher   *matcher.Matcher
	publisher publisher.DecisionPublisher
	logger    *zap.Logger
}

// NewAuthService 创建认证服务
func NewAuthService(
	profiles repository.ProfileRepository,
	enroller *enrollment.Enroller,
	m *matcher.Matcher,
	decisionPublisher publisher.DecisionPublisher,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		profiles:  profiles,
		enroller:  enroller,
		matcher:   m,
		publisher: decisionPublisher,
		logger:    logger,
	}
}

// Enroll 登记（或重新登记）一个人员
func (s *AuthService) Enroll(ctx context.Context, req enrollment.Request) (*models.Profile, error) {
	return s.enroller.Enroll(ctx, req)
}

// Authenticate 对传感器当前状态做一次身份匹配
//
// "未识别"是正常的成功响应；只有窗口为空等操作性失败才返回错误。
func (s *AuthService) Authenticate(ctx context.Context, in matcher.Input) (*models.Decision, error) {
	decision, err := s.matcher.Match(ctx, in)
	if err != nil {
		return nil, err
	}

	s.publishAsync(*decision)

	return decision, nil
}

// Profiles 全部已登记档案
func (s *AuthService) Profiles(ctx context.Context) ([]models.Profile, error) {
	return s.profiles.All(ctx)
}

// Reset 删除全部档案（管理重置流程）
func (s *AuthService) Reset(ctx context.Context) error {
	if err := s.profiles.Clear(ctx); err != nil {
		return err
	}
	s.logger.Info("All biometric profiles cleared")
	return nil
}

// publishAsync 发后不管；不挂在请求的 ctx 上，避免请求返回后发布被连带取消
func (s *AuthService) publishAsync(decision models.Decision) {
	if s.publisher == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := s.publisher.Publish(ctx, decision); err != nil {
			s.logger.Warn("Failed to publish decision",
				zap.String("decision_id", decision.DecisionID),
				zap.Error(err),
			)
		}
	}()
}
