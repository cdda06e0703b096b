package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"wisefido-bioauth/internal/buffer"
	mqttcommon "wisefido-bioauth/internal/common/mqtt"
	"wisefido-bioauth/internal/config"
	"wisefido-bioauth/internal/models"
)

// 主题内的指标段
const (
	metricHeartRate = "heart_rate"
	metricBreath    = "breath_rate"
	metricWearable  = "wearable_heart_rate"
)

// MQTTConsumer 读数摄入消费者
//
// 订阅主题格式: {namespace}/{sensor_id}/{metric}
// 动态载荷只在这里解析为强类型 Reading，核心其余部分不接触无类型数据。
type MQTTConsumer struct {
	config     *config.Config
	mqttClient *mqttcommon.Client
	buffer     *buffer.SampleBuffer
	logger     *zap.Logger

	dispatcher *dispatcher

	// 每个传感器的旁路指标状态；只被该传感器的 worker 访问，map 本身加锁
	mu     sync.RWMutex
	states map[string]*sensorState
}

// sensorState 单个传感器最近的呼吸率/可穿戴读数（用于拼装完整 Reading）
type sensorState struct {
	breath   *metricSample
	wearable *metricSample
}

// NewMQTTConsumer 创建 MQTT 消费者
func NewMQTTConsumer(
	cfg *config.Config,
	mqttClient *mqttcommon.Client,
	sampleBuffer *buffer.SampleBuffer,
	logger *zap.Logger,
) *MQTTConsumer {
	c := &MQTTConsumer{
		config:     cfg,
		mqttClient: mqttClient,
		buffer:     sampleBuffer,
		logger:     logger,
		states:     make(map[string]*sensorState),
	}
	c.dispatcher = newDispatcher(c.process)
	return c
}

// topics 订阅的主题列表
func (c *MQTTConsumer) topics() []string {
	ns := c.config.Ingest.TopicNamespace
	return []string{
		fmt.Sprintf("%s/+/%s", ns, metricHeartRate),
		fmt.Sprintf("%s/+/%s", ns, metricBreath),
		fmt.Sprintf("%s/+/%s", ns, metricWearable),
	}
}

// Start 订阅主题并阻塞到上下文取消
func (c *MQTTConsumer) Start(ctx context.Context) error {
	for _, topic := range c.topics() {
		if err := c.mqttClient.Subscribe(topic, c.config.MQTT.QoS, c.handleMessage); err != nil {
			return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
		}
	}

	c.logger.Info("MQTT consumer started",
		zap.Strings("topics", c.topics()),
	)

	<-ctx.Done()
	return nil
}

// Stop 取消订阅并排空在途样本
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	if err := c.mqttClient.Unsubscribe(c.topics()...); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}

	c.dispatcher.stop()

	c.logger.Info("MQTT consumer stopped")
	return nil
}

// handleMessage 解析 MQTT 消息并送入对应传感器的串行队列
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	// 主题格式: {namespace}/{sensor_id}/{metric}
	parts := strings.Split(topic, "/")
	if len(parts) != 3 {
		return fmt.Errorf("invalid topic format: %s", topic)
	}
	sensorID, metric := parts[1], parts[2]
	if sensorID == "" {
		return fmt.Errorf("empty sensor id in topic: %s", topic)
	}

	switch metric {
	case metricHeartRate, metricBreath, metricWearable:
	default:
		return fmt.Errorf("unknown metric in topic: %s", topic)
	}

	value, ts, err := parsePayload(payload)
	if err != nil {
		return fmt.Errorf("failed to parse payload on %s: %w", topic, err)
	}

	if !c.dispatcher.dispatch(metricSample{
		sensorID:  sensorID,
		metric:    metric,
		value:     value,
		timestamp: ts,
	}) {
		c.logger.Warn("Dropped sample, sensor queue full",
			zap.String("sensor_id", sensorID),
			zap.String("metric", metric),
		)
	}

	return nil
}

// process 在传感器自己的 worker 中串行执行
//
// 心率样本拼装旁路的呼吸率/可穿戴状态后摄入窗口；
// 呼吸率/可穿戴样本只更新旁路状态，等待下一条心率样本。
func (c *MQTTConsumer) process(s metricSample) {
	state := c.state(s.sensorID)

	switch s.metric {
	case metricBreath:
		sample := s
		state.breath = &sample
		return
	case metricWearable:
		sample := s
		state.wearable = &sample
		return
	}

	reading := models.Reading{
		SensorID:  s.sensorID,
		HeartRate: s.value,
		Timestamp: s.timestamp,
	}

	maxAge := c.config.Ingest.WearableMaxAge
	if state.breath != nil && s.timestamp.Sub(state.breath.timestamp) <= maxAge {
		v := state.breath.value
		reading.BreathingRate = &v
	}
	if state.wearable != nil && s.timestamp.Sub(state.wearable.timestamp) <= maxAge {
		v := state.wearable.value
		reading.WearableHeartRate = &v
	}

	c.buffer.Ingest(reading)
}

// state 获取或创建传感器旁路状态
func (c *MQTTConsumer) state(sensorID string) *sensorState {
	c.mu.RLock()
	st, ok := c.states[sensorID]
	c.mu.RUnlock()
	if ok {
		return st
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok = c.states[sensorID]; ok {
		return st
	}
	st = &sensorState{}
	c.states[sensorID] = st
	return st
}

// numericPayload JSON 对象形式的载荷
type numericPayload struct {
	Value     *float64 `json:"value"`
	Timestamp *int64   `json:"timestamp"` // Unix 秒
}

// parsePayload 解析数值载荷
//
// 两种格式：
// - JSON 对象 {"value": 72.5, "timestamp": 1700000000}（timestamp 可省略）
// - 裸数值 "72.5"
func parsePayload(payload []byte) (float64, time.Time, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return 0, time.Time{}, fmt.Errorf("empty payload")
	}

	if strings.HasPrefix(trimmed, "{") {
		var p numericPayload
		if err := json.Unmarshal([]byte(trimmed), &p); err != nil {
			return 0, time.Time{}, fmt.Errorf("invalid JSON payload: %w", err)
		}
		if p.Value == nil {
			return 0, time.Time{}, fmt.Errorf("payload missing value field")
		}
		ts := time.Now()
		if p.Timestamp != nil {
			ts = time.Unix(*p.Timestamp, 0)
		}
		return *p.Value, ts, nil
	}

	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("invalid numeric payload: %w", err)
	}
	return value, time.Now(), nil
}
