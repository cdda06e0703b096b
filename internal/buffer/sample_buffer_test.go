package buffer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-bioauth/internal/models"
)

func testOptions() Options {
	return Options{
		HeartRateMin:      40,
		HeartRateMax:      180,
		BreathRateMin:     8,
		BreathRateMax:     30,
		MaxAge:            5 * time.Minute,
		MaxCount:          10,
		MinCollectSamples: 5,
	}
}

func reading(sensorID string, hr float64, ts time.Time) models.Reading {
	return models.Reading{SensorID: sensorID, HeartRate: hr, Timestamp: ts}
}

func TestIngest_ValidReading(t *testing.T) {
	b := NewSampleBuffer(testOptions(), zap.NewNop())

	b.Ingest(reading("sensor-1", 72, time.Now()))

	window := b.Window("sensor-1")
	require.Len(t, window, 1)
	assert.Equal(t, 72.0, window[0].HeartRate)
	assert.Equal(t, int64(1), b.Metrics().Ingested)
}

func TestIngest_OutOfRangeHeartRateDropped(t *testing.T) {
	b := NewSampleBuffer(testOptions(), zap.NewNop())

	// 心率超出 [40,180] 的读数不得改变窗口的可观察状态
	b.Ingest(reading("sensor-1", 39.9, time.Now()))
	b.Ingest(reading("sensor-1", 180.1, time.Now()))
	b.Ingest(reading("sensor-1", 0, time.Now()))

	assert.Empty(t, b.Window("sensor-1"))
	assert.Equal(t, int64(3), b.Metrics().DroppedInvalid)
	assert.Equal(t, int64(0), b.Metrics().Ingested)
}

func TestIngest_OutOfRangeBreathingRateDropped(t *testing.T) {
	b := NewSampleBuffer(testOptions(), zap.NewNop())

	br := 35.0
	b.Ingest(models.Reading{SensorID: "sensor-1", HeartRate: 72, BreathingRate: &br, Timestamp: time.Now()})

	assert.Empty(t, b.Window("sensor-1"))
	assert.Equal(t, int64(1), b.Metrics().DroppedInvalid)
}

func TestIngest_StaleTimestampDropped(t *testing.T) {
	b := NewSampleBuffer(testOptions(), zap.NewNop())

	now := time.Now()
	b.Ingest(reading("sensor-1", 72, now))
	b.Ingest(reading("sensor-1", 74, now.Add(-10*time.Second)))

	window := b.Window("sensor-1")
	require.Len(t, window, 1)
	assert.Equal(t, 72.0, window[0].HeartRate)
	assert.Equal(t, int64(1), b.Metrics().DroppedStale)
}

func TestIngest_CountCapEviction(t *testing.T) {
	opts := testOptions()
	opts.MaxCount = 3
	b := NewSampleBuffer(opts, zap.NewNop())

	now := time.Now()
	for i := 0; i < 5; i++ {
		b.Ingest(reading("sensor-1", 70+float64(i), now.Add(time.Duration(i)*time.Second)))
	}

	window := b.Window("sensor-1")
	require.Len(t, window, 3)
	// 保留最新的 3 条
	assert.Equal(t, 72.0, window[0].HeartRate)
	assert.Equal(t, 74.0, window[2].HeartRate)
	assert.Equal(t, int64(2), b.Metrics().Evicted)
}

func TestIngest_AgeEviction(t *testing.T) {
	opts := testOptions()
	opts.MaxAge = time.Minute
	b := NewSampleBuffer(opts, zap.NewNop())

	now := time.Now()
	b.Ingest(reading("sensor-1", 70, now.Add(-2*time.Minute)))
	b.Ingest(reading("sensor-1", 75, now))

	window := b.Window("sensor-1")
	require.Len(t, window, 1)
	assert.Equal(t, 75.0, window[0].HeartRate)
}

func TestWindow_SensorsAreIndependent(t *testing.T) {
	b := NewSampleBuffer(testOptions(), zap.NewNop())

	b.Ingest(reading("sensor-1", 72, time.Now()))
	b.Ingest(reading("sensor-2", 88, time.Now()))

	require.Len(t, b.Window("sensor-1"), 1)
	require.Len(t, b.Window("sensor-2"), 1)
	assert.Empty(t, b.Window("sensor-3"))
}

func TestWindow_ReturnsSnapshot(t *testing.T) {
	b := NewSampleBuffer(testOptions(), zap.NewNop())

	b.Ingest(reading("sensor-1", 72, time.Now()))
	window := b.Window("sensor-1")
	window[0].HeartRate = 999

	// 修改快照不影响内部窗口
	assert.Equal(t, 72.0, b.Window("sensor-1")[0].HeartRate)
}

func TestCollectFor_CollectsArrivingReadings(t *testing.T) {
	b := NewSampleBuffer(testOptions(), zap.NewNop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; i < 8; i++ {
			<-ticker.C
			b.Ingest(reading("sensor-1", 70+float64(i), time.Now()))
		}
	}()

	collected, err := b.CollectFor(context.Background(), "sensor-1", 400*time.Millisecond)
	<-done

	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(collected), 5)
}

func TestCollectFor_InsufficientSamples(t *testing.T) {
	b := NewSampleBuffer(testOptions(), zap.NewNop())

	b.Ingest(reading("sensor-1", 72, time.Now())) // 开始采集前的读数不计入

	collected, err := b.CollectFor(context.Background(), "sensor-1", 50*time.Millisecond)

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInsufficientSamples))
	assert.Nil(t, collected)
}

func TestCollectFor_Cancellation(t *testing.T) {
	b := NewSampleBuffer(testOptions(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := b.CollectFor(ctx, "sensor-1", 10*time.Second)

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Less(t, time.Since(start), time.Second)
}

func TestCollectFor_InvalidReadingsNotCollected(t *testing.T) {
	b := NewSampleBuffer(testOptions(), zap.NewNop())

	go func() {
		for i := 0; i < 10; i++ {
			b.Ingest(reading("sensor-1", 250, time.Now())) // 全部无效
			time.Sleep(10 * time.Millisecond)
		}
	}()

	_, err := b.CollectFor(context.Background(), "sensor-1", 200*time.Millisecond)
	assert.True(t, errors.Is(err, models.ErrInsufficientSamples))
}

func TestNewSampleBuffer_ZeroWindowLimitsDefaulted(t *testing.T) {
	// 零值窗口上限不得让读数立即过期
	b := NewSampleBuffer(Options{
		HeartRateMin:  40,
		HeartRateMax:  180,
		BreathRateMin: 8,
		BreathRateMax: 30,
	}, zap.NewNop())

	b.Ingest(reading("sensor-1", 72, time.Now()))
	b.Ingest(reading("sensor-1", 74, time.Now()))

	require.Len(t, b.Window("sensor-1"), 2)
	assert.Equal(t, int64(0), b.Metrics().Evicted)
}
