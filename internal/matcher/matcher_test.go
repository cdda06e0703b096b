package matcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-bioauth/internal/models"
	"wisefido-bioauth/internal/repository"
)

// fakeWindows 固定窗口内容，隔离掉时间相关的淘汰逻辑
type fakeWindows struct {
	windows map[string][]models.Reading
}

func (f *fakeWindows) Window(sensorID string) []models.Reading {
	return f.windows[sensorID]
}

func testOptions() Options {
	return Options{
		ZMax:              3.0,
		InRangeFloor:      0.5,
		PresenceBoost:     0.05,
		DualSensorBoost:   0.05,
		WearableTolerance: 8.0,
		StdDevEpsilon:     1.0,
		RecentSampleCount: 3,
	}
}

func windowOf(sensorID string, rates ...float64) map[string][]models.Reading {
	now := time.Now()
	readings := make([]models.Reading, len(rates))
	for i, hr := range rates {
		readings[i] = models.Reading{SensorID: sensorID, HeartRate: hr, Timestamp: now.Add(time.Duration(i) * time.Second)}
	}
	return map[string][]models.Reading{sensorID: readings}
}

func profileOf(personID string, baseline, min, max, stddev, threshold float64, dual bool) models.Profile {
	return models.Profile{
		PersonID:            personID,
		DisplayName:         personID,
		HeartRateBaseline:   baseline,
		HeartRateMin:        min,
		HeartRateMax:        max,
		HeartRateStdDev:     stddev,
		ConfidenceThreshold: threshold,
		HasSecondarySensor:  dual,
		CreatedAt:           time.Now(),
	}
}

func newMatcher(t *testing.T, windows map[string][]models.Reading, profiles ...models.Profile) *Matcher {
	t.Helper()
	repo := repository.NewMemoryProfileRepository()
	for _, p := range profiles {
		require.NoError(t, repo.Put(context.Background(), p))
	}
	return NewMatcher(&fakeWindows{windows: windows}, repo, testOptions(), zap.NewNop())
}

func TestMatch_EmptyWindowNoData(t *testing.T) {
	m := newMatcher(t, map[string][]models.Reading{},
		profileOf("alice", 72, 65, 80, 3, 0.85, false))

	decision, err := m.Match(context.Background(), Input{SensorID: "sensor-1"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNoData))
	assert.Nil(t, decision)
}

func TestMatch_NoProfilesUnrecognized(t *testing.T) {
	m := newMatcher(t, windowOf("sensor-1", 72))

	decision, err := m.Match(context.Background(), Input{SensorID: "sensor-1"})

	require.NoError(t, err)
	assert.False(t, decision.Matched())
	assert.Contains(t, decision.ContributingSignals, models.SignalHeartRate)
}

func TestMatch_ExactBaselineWithPresence(t *testing.T) {
	// baseline=72, range=(65,80), stddev=3, live=72, presence=true
	// 必须达到阈值并匹配到该档案
	m := newMatcher(t, windowOf("sensor-1", 72, 72, 72),
		profileOf("alice", 72, 65, 80, 3, 0.85, false))

	decision, err := m.Match(context.Background(), Input{SensorID: "sensor-1", PresenceDetected: true})

	require.NoError(t, err)
	require.True(t, decision.Matched())
	assert.Equal(t, "alice", *decision.MatchedPersonID)
	assert.GreaterOrEqual(t, decision.Confidence, 0.85)
	assert.Contains(t, decision.ContributingSignals, models.SignalPresence)
}

func TestMatch_FarReadingUnrecognized(t *testing.T) {
	// 同一档案，live=150 必须"未识别"
	m := newMatcher(t, windowOf("sensor-1", 150, 150, 150),
		profileOf("alice", 72, 65, 80, 3, 0.85, false))

	decision, err := m.Match(context.Background(), Input{SensorID: "sensor-1"})

	require.NoError(t, err)
	assert.False(t, decision.Matched())
}

func TestMatch_InRangeFloor(t *testing.T) {
	// live=79 在区间 (65,80) 内但 z=(79-72)/3≈2.33 → 基础置信度很低；
	// 区间命中把置信度抬到下限 0.5
	m := newMatcher(t, windowOf("sensor-1", 79, 79, 79),
		profileOf("alice", 72, 65, 80, 3, 0.3, false))

	decision, err := m.Match(context.Background(), Input{SensorID: "sensor-1"})

	require.NoError(t, err)
	require.True(t, decision.Matched())
	assert.GreaterOrEqual(t, decision.Confidence, 0.5)
}

func TestMatch_SelectsCloserZScore(t *testing.T) {
	// A(baseline 70, stddev 30) 与 B(baseline 90, stddev 2)，live=80：
	// z_A = 10/30 ≈ 0.33（置信度高），z_B = 10/2 = 5（置信度 0）
	m := newMatcher(t, windowOf("sensor-1", 80, 80, 80),
		profileOf("a", 70, 40, 100, 30, 0.85, false),
		profileOf("b", 90, 85, 95, 2, 0.85, false))

	decision, err := m.Match(context.Background(), Input{SensorID: "sensor-1"})

	require.NoError(t, err)
	require.True(t, decision.Matched())
	assert.Equal(t, "a", *decision.MatchedPersonID)
}

func TestMatch_ExactTieRejected(t *testing.T) {
	// 两个档案与 live=80 完全对称：置信度和基线距离都相等 → 必须"未识别"
	m := newMatcher(t, windowOf("sensor-1", 80, 80, 80),
		profileOf("a", 70, 60, 80, 3, 0.3, false),
		profileOf("b", 90, 80, 100, 3, 0.3, false))

	decision, err := m.Match(context.Background(), Input{SensorID: "sensor-1"})

	require.NoError(t, err)
	assert.False(t, decision.Matched())
}

func TestMatch_TieOnConfidenceBrokenByDistance(t *testing.T) {
	// 两个档案基础置信度都触底为 0（区间外、z 超限），
	// 但基线距离不同：不算歧义，只是都到不了阈值 → 未识别
	m := newMatcher(t, windowOf("sensor-1", 130, 130, 130),
		profileOf("a", 70, 65, 75, 1, 0.85, false),
		profileOf("b", 90, 85, 95, 1, 0.85, false))

	decision, err := m.Match(context.Background(), Input{SensorID: "sensor-1"})

	require.NoError(t, err)
	assert.False(t, decision.Matched())
}

func TestMatch_DualSensorBoost(t *testing.T) {
	profile := profileOf("alice", 70, 60, 80, 5, 0.75, true)

	// 无可穿戴读数
	m := newMatcher(t, windowOf("sensor-1", 71, 71, 71), profile)
	without, err := m.Match(context.Background(), Input{SensorID: "sensor-1"})
	require.NoError(t, err)

	// 可穿戴读数 73 与主读数 71 相差 2bpm，在 ±8 容差内
	m = newMatcher(t, windowOf("sensor-1", 71, 71, 71), profile)
	wearable := 73.0
	with, err := m.Match(context.Background(), Input{SensorID: "sensor-1", WearableHeartRate: &wearable})
	require.NoError(t, err)

	assert.InDelta(t, 0.05, with.Confidence-without.Confidence, 1e-9)
	assert.Contains(t, with.ContributingSignals, models.SignalWearable)
	assert.NotContains(t, without.ContributingSignals, models.SignalWearable)
}

func TestMatch_WearableDisagreementWithholdsBoostOnly(t *testing.T) {
	profile := profileOf("alice", 70, 60, 80, 5, 0.75, true)

	m := newMatcher(t, windowOf("sensor-1", 71, 71, 71), profile)
	baseline, err := m.Match(context.Background(), Input{SensorID: "sensor-1"})
	require.NoError(t, err)

	// 可穿戴读数偏差超过容差：不加成，也不扣分
	m = newMatcher(t, windowOf("sensor-1", 71, 71, 71), profile)
	wearable := 95.0
	disagree, err := m.Match(context.Background(), Input{SensorID: "sensor-1", WearableHeartRate: &wearable})
	require.NoError(t, err)

	assert.Equal(t, baseline.Confidence, disagree.Confidence)
	assert.NotContains(t, disagree.ContributingSignals, models.SignalWearable)
}

func TestMatch_NoDualBoostForSingleSensorProfile(t *testing.T) {
	// 档案未登记第二传感器：即使可穿戴读数一致也不加成
	profile := profileOf("alice", 70, 60, 80, 5, 0.85, false)

	m := newMatcher(t, windowOf("sensor-1", 71, 71, 71), profile)
	without, err := m.Match(context.Background(), Input{SensorID: "sensor-1"})
	require.NoError(t, err)

	m = newMatcher(t, windowOf("sensor-1", 71, 71, 71), profile)
	wearable := 71.0
	with, err := m.Match(context.Background(), Input{SensorID: "sensor-1", WearableHeartRate: &wearable})
	require.NoError(t, err)

	assert.Equal(t, without.Confidence, with.Confidence)
}

func TestMatch_DegenerateStdDevNoDivideByZero(t *testing.T) {
	// 单样本登记 stddev=0：epsilon 下限避免除零
	m := newMatcher(t, windowOf("sensor-1", 72, 72, 72),
		profileOf("alice", 72, 72, 72, 0, 0.85, false))

	decision, err := m.Match(context.Background(), Input{SensorID: "sensor-1"})

	require.NoError(t, err)
	require.True(t, decision.Matched())
	assert.Equal(t, "alice", *decision.MatchedPersonID)
}

func TestMatch_RecentSliceAveraged(t *testing.T) {
	// 窗口最近 3 条为 70,72,74 → live=72；更早的离群读数不影响
	m := newMatcher(t, windowOf("sensor-1", 150, 150, 70, 72, 74),
		profileOf("alice", 72, 65, 80, 3, 0.85, false))

	decision, err := m.Match(context.Background(), Input{SensorID: "sensor-1", PresenceDetected: true})

	require.NoError(t, err)
	require.True(t, decision.Matched())
	assert.Equal(t, "alice", *decision.MatchedPersonID)
}

func TestMatch_WearableFromWindowWhenNotSupplied(t *testing.T) {
	// 认证调用未随带可穿戴读数时，回退到窗口内最近的可穿戴读数
	profile := profileOf("alice", 70, 60, 80, 5, 0.75, true)

	windows := windowOf("sensor-1", 71, 71, 71)
	wearable := 72.0
	windows["sensor-1"][2].WearableHeartRate = &wearable

	m := newMatcher(t, windows, profile)
	decision, err := m.Match(context.Background(), Input{SensorID: "sensor-1"})

	require.NoError(t, err)
	assert.Contains(t, decision.ContributingSignals, models.SignalWearable)
}
