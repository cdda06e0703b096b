// Package buffer 维护每个传感器的有界滚动读数窗口
//
// 窗口不变量：
// - 同一窗口内的读数属于同一 sensor_id，时间戳非递减
// - 只有摄入路径追加读数；超龄或超量的读数被淘汰
// - 匹配与登记只读窗口快照，不会观察到半更新状态
package buffer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"wisefido-bioauth/internal/models"
)

// Options 窗口与校验参数
type Options struct {
	HeartRateMin  float64
	HeartRateMax  float64
	BreathRateMin float64
	BreathRateMax float64

	MaxAge   time.Duration // 窗口最大时长
	MaxCount int           // 窗口最大条数

	MinCollectSamples int // CollectFor 要求的最少有效读数
}

// collectorBufferSize 采集通道缓冲大小；采集方落后太多时丢弃而不阻塞摄入
const collectorBufferSize = 64

// SampleBuffer 按 sensor_id 管理滚动窗口
//
// 每个传感器的读数经单写入方串行追加；不同传感器互不影响。
type SampleBuffer struct {
	opts   Options
	logger *zap.Logger

	mu      sync.RWMutex
	windows map[string]*sensorWindow

	metrics Metrics
}

// sensorWindow 单个传感器的窗口与正在进行的采集
type sensorWindow struct {
	mu         sync.Mutex
	readings   []models.Reading
	collectors map[chan models.Reading]struct{}
}

// NewSampleBuffer 创建 SampleBuffer
//
// 零值窗口上限会让所有读数立即过期，与 MinCollectSamples 一样回退到默认值。
func NewSampleBuffer(opts Options, logger *zap.Logger) *SampleBuffer {
	if opts.MinCollectSamples <= 0 {
		opts.MinCollectSamples = 5
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 5 * time.Minute
	}
	if opts.MaxCount <= 0 {
		opts.MaxCount = 120
	}
	return &SampleBuffer{
		opts:    opts,
		logger:  logger,
		windows: make(map[string]*sensorWindow),
	}
}

// Ingest 校验并追加一条读数
//
// 无效读数（心率超出 [HeartRateMin,HeartRateMax]，或呼吸率存在但超出范围）
// 直接丢弃并计数——传感器噪声是常态，不作为错误上抛。
// 时间戳早于窗口内最新读数的迟到读数同样丢弃，保持时间戳非递减不变量。
func (b *SampleBuffer) Ingest(r models.Reading) {
	if !b.valid(r) {
		b.metrics.incrementDroppedInvalid()
		b.logger.Debug("Dropped invalid reading",
			zap.String("sensor_id", r.SensorID),
			zap.Float64("heart_rate", r.HeartRate),
		)
		return
	}

	w := b.window(r.SensorID)

	w.mu.Lock()
	if n := len(w.readings); n > 0 && r.Timestamp.Before(w.readings[n-1].Timestamp) {
		w.mu.Unlock()
		b.metrics.incrementDroppedStale()
		b.logger.Debug("Dropped stale reading",
			zap.String("sensor_id", r.SensorID),
			zap.Time("timestamp", r.Timestamp),
		)
		return
	}

	w.readings = append(w.readings, r)
	evicted := w.evictLocked(time.Now(), b.opts.MaxAge, b.opts.MaxCount)

	// 分发给正在采集的登记流程；通道满时丢弃该采集方的这条读数
	for ch := range w.collectors {
		select {
		case ch <- r:
		default:
		}
	}
	w.mu.Unlock()

	b.metrics.incrementIngested()
	if evicted > 0 {
		b.metrics.addEvicted(evicted)
	}
}

// Window 返回传感器当前窗口的快照（按时间戳升序；未摄入或已全部过期时为空）
func (b *SampleBuffer) Window(sensorID string) []models.Reading {
	b.mu.RLock()
	w, ok := b.windows[sensorID]
	b.mu.RUnlock()
	if !ok {
		return nil
	}

	cutoff := time.Now().Add(-b.opts.MaxAge)

	w.mu.Lock()
	defer w.mu.Unlock()

	// 快照时过滤已超龄的读数；实际淘汰仍只发生在摄入路径
	start := 0
	for start < len(w.readings) && w.readings[start].Timestamp.Before(cutoff) {
		start++
	}
	if start == len(w.readings) {
		return nil
	}

	snapshot := make([]models.Reading, len(w.readings)-start)
	copy(snapshot, w.readings[start:])
	return snapshot
}

// CollectFor 在 duration 内阻塞收集一个传感器的到达读数（用于登记）
//
// - ctx 取消时立即返回 ctx.Err()，调用方不得写入任何档案
// - 时长结束后若有效读数少于 MinCollectSamples，返回 models.ErrInsufficientSamples
// - 采集期间普通匹配可以继续读取同一窗口
func (b *SampleBuffer) CollectFor(ctx context.Context, sensorID string, duration time.Duration) ([]models.Reading, error) {
	w := b.window(sensorID)

	ch := make(chan models.Reading, collectorBufferSize)
	w.mu.Lock()
	w.collectors[ch] = struct{}{}
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.collectors, ch)
		w.mu.Unlock()
	}()

	timer := time.NewTimer(duration)
	defer timer.Stop()

	var collected []models.Reading
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r := <-ch:
			collected = append(collected, r)
		case <-timer.C:
			if len(collected) < b.opts.MinCollectSamples {
				return nil, fmt.Errorf("%w: collected %d readings from sensor %s, need at least %d",
					models.ErrInsufficientSamples, len(collected), sensorID, b.opts.MinCollectSamples)
			}
			return collected, nil
		}
	}
}

// window 获取或创建传感器窗口
func (b *SampleBuffer) window(sensorID string) *sensorWindow {
	b.mu.RLock()
	w, ok := b.windows[sensorID]
	b.mu.RUnlock()
	if ok {
		return w
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if w, ok = b.windows[sensorID]; ok {
		return w
	}
	w = &sensorWindow{collectors: make(map[chan models.Reading]struct{})}
	b.windows[sensorID] = w
	return w
}

// valid 读数范围校验
func (b *SampleBuffer) valid(r models.Reading) bool {
	if r.SensorID == "" {
		return false
	}
	if r.HeartRate < b.opts.HeartRateMin || r.HeartRate > b.opts.HeartRateMax {
		return false
	}
	if r.BreathingRate != nil &&
		(*r.BreathingRate < b.opts.BreathRateMin || *r.BreathingRate > b.opts.BreathRateMax) {
		return false
	}
	return true
}

// evictLocked 淘汰超龄与超量读数，返回淘汰条数；调用方必须持有 w.mu
func (w *sensorWindow) evictLocked(now time.Time, maxAge time.Duration, maxCount int) int {
	evicted := 0

	cutoff := now.Add(-maxAge)
	start := 0
	for start < len(w.readings) && w.readings[start].Timestamp.Before(cutoff) {
		start++
	}
	if start > 0 {
		w.readings = append(w.readings[:0], w.readings[start:]...)
		evicted += start
	}

	if maxCount > 0 && len(w.readings) > maxCount {
		excess := len(w.readings) - maxCount
		w.readings = append(w.readings[:0], w.readings[excess:]...)
		evicted += excess
	}

	return evicted
}
