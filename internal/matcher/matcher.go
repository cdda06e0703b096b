// Package matcher 实现身份匹配的打分与选择
//
// 打分规则是显式的加权阈值模型（不是训练出来的分类器）：
// - z = |live − baseline| / max(stddev, ε)
// - 基础置信度 = 1 − min(z / ZMax, 1)
// - 落在档案的历史区间内时置信度不低于 InRangeFloor
// - 硬件存在信号、双传感器一致各有固定加成；结果截断到 [0,1]
//
// 所有系数都是配置项，见 internal/config。
package matcher

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wisefido-bioauth/internal/models"
	"wisefido-bioauth/internal/repository"
)

// Options 匹配模型的可调参数
type Options struct {
	ZMax              float64 // 置信度降为 0 的标准差倍数
	InRangeFloor      float64 // 区间内命中的置信度下限
	PresenceBoost     float64 // 存在信号加成
	DualSensorBoost   float64 // 双传感器一致加成
	WearableTolerance float64 // 可穿戴与主读数一致的容差（bpm）
	StdDevEpsilon     float64 // 标准差下限，避免单样本档案除零
	RecentSampleCount int     // 取窗口最近 N 条读数取均值
}

// WindowProvider 提供传感器当前窗口快照（由 buffer.SampleBuffer 实现）
type WindowProvider interface {
	Window(sensorID string) []models.Reading
}

// Input 一次匹配的输入
type Input struct {
	SensorID          string
	WearableHeartRate *float64 // 认证调用随带的可穿戴读数；nil 时回退到窗口内最近的可穿戴读数
	PresenceDetected  bool     // 传感器硬件的存在信号（"有东西在" 而非 "是谁在"）
}

// Matcher 身份匹配器
type Matcher struct {
	windows  WindowProvider
	profiles repository.ProfileRepository
	opts     Options
	logger   *zap.Logger
}

// NewMatcher 创建匹配器
func NewMatcher(
	windows WindowProvider,
	profiles repository.ProfileRepository,
	opts Options,
	logger *zap.Logger,
) *Matcher {
	if opts.RecentSampleCount <= 0 {
		opts.RecentSampleCount = 1
	}
	return &Matcher{
		windows:  windows,
		profiles: profiles,
		opts:     opts,
		logger:   logger,
	}
}

// candidate 单个档案的打分结果
type candidate struct {
	profile    models.Profile
	confidence float64
	distance   float64 // |live − baseline|，用于并列时优先更接近的基线
	signals    []string
}

// Match 对传感器当前窗口与全部档案逐一打分，返回认证决策
//
// - 窗口为空返回 models.ErrNoData，不产生决策
// - 没有任何档案时返回"未识别"决策（正常结果，不是错误）
// - 最高置信度未达到该档案自身阈值、或出现完全并列时，同样返回"未识别"：
//   歧义绝不静默地偏向任何一个档案
func (m *Matcher) Match(ctx context.Context, in Input) (*models.Decision, error) {
	window := m.windows.Window(in.SensorID)
	if len(window) == 0 {
		return nil, fmt.Errorf("%w: sensor %s", models.ErrNoData, in.SensorID)
	}

	liveHR := m.recentAverage(window)
	wearable := in.WearableHeartRate
	if wearable == nil {
		wearable = latestWearable(window)
	}

	profiles, err := m.profiles.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}

	baseSignals := []string{models.SignalHeartRate}
	if in.PresenceDetected {
		baseSignals = append(baseSignals, models.SignalPresence)
	}
	if hasBreathing(window) {
		baseSignals = append(baseSignals, models.SignalBreathing)
	}

	if len(profiles) == 0 {
		return m.unrecognized(in.SensorID, 0, baseSignals), nil
	}

	candidates := make([]candidate, 0, len(profiles))
	for _, p := range profiles {
		candidates = append(candidates, m.score(p, liveHR, wearable, in.PresenceDetected, baseSignals))
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].confidence != candidates[j].confidence {
			return candidates[i].confidence > candidates[j].confidence
		}
		return candidates[i].distance < candidates[j].distance
	})

	best := candidates[0]

	m.logger.Debug("Scored profiles",
		zap.String("sensor_id", in.SensorID),
		zap.Float64("live_hr", liveHR),
		zap.Int("profile_count", len(candidates)),
		zap.String("best_person_id", best.profile.PersonID),
		zap.Float64("best_confidence", best.confidence),
	)

	// 完全并列（置信度和基线距离都相同）视为歧义，拒绝而不是任选其一
	if len(candidates) > 1 &&
		candidates[1].confidence == best.confidence &&
		candidates[1].distance == best.distance {
		m.logger.Info("Ambiguous match rejected",
			zap.String("sensor_id", in.SensorID),
			zap.String("person_a", best.profile.PersonID),
			zap.String("person_b", candidates[1].profile.PersonID),
			zap.Float64("confidence", best.confidence),
		)
		return m.unrecognized(in.SensorID, best.confidence, best.signals), nil
	}

	if best.confidence < best.profile.ConfidenceThreshold {
		return m.unrecognized(in.SensorID, best.confidence, best.signals), nil
	}

	personID := best.profile.PersonID
	return &models.Decision{
		DecisionID:          uuid.NewString(),
		SensorID:            in.SensorID,
		MatchedPersonID:     &personID,
		Confidence:          best.confidence,
		ContributingSignals: best.signals,
		Timestamp:           time.Now(),
	}, nil
}

// score 依据单个档案对当前读数打分
func (m *Matcher) score(p models.Profile, liveHR float64, wearable *float64, presence bool, baseSignals []string) candidate {
	distance := math.Abs(liveHR - p.HeartRateBaseline)

	stddev := p.HeartRateStdDev
	if stddev < m.opts.StdDevEpsilon {
		stddev = m.opts.StdDevEpsilon
	}
	z := distance / stddev

	confidence := 1 - math.Min(z/m.opts.ZMax, 1)

	// 落在历史区间内本身就是较强的证据，即便点估计偏离均值
	if liveHR >= p.HeartRateMin && liveHR <= p.HeartRateMax {
		confidence = math.Max(confidence, m.opts.InRangeFloor)
	}

	signals := make([]string, len(baseSignals))
	copy(signals, baseSignals)

	if presence {
		confidence += m.opts.PresenceBoost
	}

	// 双传感器加成：主读数与可穿戴读数在容差内一致才加成；
	// 不一致不扣分（容忍可穿戴数据的滞后），只是不给加成
	if wearable != nil && p.HasSecondarySensor &&
		math.Abs(*wearable-liveHR) <= m.opts.WearableTolerance {
		confidence += m.opts.DualSensorBoost
		signals = append(signals, models.SignalWearable)
	}

	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return candidate{
		profile:    p,
		confidence: confidence,
		distance:   distance,
		signals:    signals,
	}
}

// recentAverage 取窗口最近 N 条读数的心率均值，降低单点噪声
func (m *Matcher) recentAverage(window []models.Reading) float64 {
	n := m.opts.RecentSampleCount
	if n > len(window) {
		n = len(window)
	}
	sum := 0.0
	for _, r := range window[len(window)-n:] {
		sum += r.HeartRate
	}
	return sum / float64(n)
}

// unrecognized "未识别"决策——正常的成功响应
func (m *Matcher) unrecognized(sensorID string, confidence float64, signals []string) *models.Decision {
	return &models.Decision{
		DecisionID:          uuid.NewString(),
		SensorID:            sensorID,
		MatchedPersonID:     nil,
		Confidence:          confidence,
		ContributingSignals: signals,
		Timestamp:           time.Now(),
	}
}

// latestWearable 窗口内最近一条可穿戴读数
func latestWearable(window []models.Reading) *float64 {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].WearableHeartRate != nil {
			return window[i].WearableHeartRate
		}
	}
	return nil
}

// hasBreathing 窗口内是否有呼吸率读数
func hasBreathing(window []models.Reading) bool {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].BreathingRate != nil {
			return true
		}
	}
	return false
}
