// Package enrollment 将一次采集窗口的原始读数转换为生物特征档案
package enrollment

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wisefido-bioauth/internal/models"
	"wisefido-bioauth/internal/repository"
)

// Collector 登记期间的读数采集接口（由 buffer.SampleBuffer 实现）
type Collector interface {
	CollectFor(ctx context.Context, sensorID string, duration time.Duration) ([]models.Reading, error)
}

// Options 登记参数
type Options struct {
	DefaultDuration       time.Duration // 调用方未指定时的采集时长
	SingleSensorThreshold float64       // 单传感器档案的置信度阈值
	DualSensorThreshold   float64       // 双传感器档案的置信度阈值（第二路独立信号允许更低的阈值）
}

// Request 一次登记请求
type Request struct {
	PersonID        string
	DisplayName     string
	SensorID        string
	Duration        time.Duration // 0 表示使用默认时长
	WearableReading *float64      // 登记时提供的可穿戴心率（可选）
}

// Enroller 登记器
type Enroller struct {
	collector Collector
	profiles  repository.ProfileRepository
	opts      Options
	logger    *zap.Logger
}

// NewEnroller 创建登记器
func NewEnroller(
	collector Collector,
	profiles repository.ProfileRepository,
	opts Options,
	logger *zap.Logger,
) *Enroller {
	return &Enroller{
		collector: collector,
		profiles:  profiles,
		opts:      opts,
		logger:    logger,
	}
}

// Enroll 采集指定时长的读数并写入档案
//
// - 有效读数不足时返回 models.ErrInsufficientSamples，不写入任何档案
// - ctx 取消时立即中止，不写入任何档案
// - 对已存在的 person_id 是显式"重新登记"：整体覆盖，不与旧基线合并
func (e *Enroller) Enroll(ctx context.Context, req Request) (*models.Profile, error) {
	if req.PersonID == "" {
		return nil, fmt.Errorf("person_id is required")
	}
	if req.SensorID == "" {
		return nil, fmt.Errorf("sensor_id is required")
	}

	duration := req.Duration
	if duration <= 0 {
		duration = e.opts.DefaultDuration
	}

	e.logger.Info("Starting enrollment collection",
		zap.String("person_id", req.PersonID),
		zap.String("sensor_id", req.SensorID),
		zap.Duration("duration", duration),
	)

	readings, err := e.collector.CollectFor(ctx, req.SensorID, duration)
	if err != nil {
		return nil, fmt.Errorf("enrollment failed for %s: %w", req.PersonID, err)
	}

	// 心率样本；登记时提供的可穿戴读数作为额外样本并入同一总体
	heartRates := make([]float64, 0, len(readings)+1)
	for _, r := range readings {
		heartRates = append(heartRates, r.HeartRate)
	}
	hasSecondary := req.WearableReading != nil
	if hasSecondary {
		heartRates = append(heartRates, *req.WearableReading)
	}

	mean := meanOf(heartRates)
	stddev := populationStdDev(heartRates, mean)
	min, max := minMaxOf(heartRates)

	threshold := e.opts.SingleSensorThreshold
	if hasSecondary {
		threshold = e.opts.DualSensorThreshold
	}

	profile := models.Profile{
		PersonID:            req.PersonID,
		DisplayName:         req.DisplayName,
		HeartRateBaseline:   mean,
		HeartRateMin:        min,
		HeartRateMax:        max,
		HeartRateStdDev:     stddev,
		BreathingBaseline:   breathingBaseline(readings),
		ConfidenceThreshold: threshold,
		HasSecondarySensor:  hasSecondary,
		CreatedAt:           time.Now(),
	}

	if err := e.profiles.Put(ctx, profile); err != nil {
		return nil, fmt.Errorf("failed to store profile for %s: %w", req.PersonID, err)
	}

	e.logger.Info("Enrollment completed",
		zap.String("person_id", req.PersonID),
		zap.Int("sample_count", len(readings)),
		zap.Float64("hr_baseline", mean),
		zap.Float64("hr_stddev", stddev),
		zap.Bool("has_secondary_sensor", hasSecondary),
	)

	return &profile, nil
}

// breathingBaseline 对窗口内存在的呼吸率取均值；没有任何呼吸读数时返回 nil
func breathingBaseline(readings []models.Reading) *float64 {
	var values []float64
	for _, r := range readings {
		if r.BreathingRate != nil {
			values = append(values, *r.BreathingRate)
		}
	}
	if len(values) == 0 {
		return nil
	}
	mean := meanOf(values)
	return &mean
}
