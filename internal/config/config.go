package config

import (
	"fmt"
	"time"

	common "wisefido-bioauth/internal/common/config"
)

// Config 生物特征认证服务配置
type Config struct {
	Database common.DatabaseConfig
	Redis    common.RedisConfig
	MQTT     common.MQTTConfig

	HTTP struct {
		Addr string // HTTP 监听地址，如 ":8086"
	}

	// 读数摄入配置
	Ingest struct {
		TopicNamespace string // MQTT 主题命名空间，如 "bioauth"（主题格式 bioauth/{sensor_id}/heart_rate）

		// 有效范围之外的读数在摄入层丢弃（只计数，不报错）
		HeartRateMin  float64 // 心率下限（bpm）
		HeartRateMax  float64 // 心率上限（bpm）
		BreathRateMin float64 // 呼吸率下限（bpm）
		BreathRateMax float64 // 呼吸率上限（bpm）

		WindowMaxAge   time.Duration // 窗口最大时长
		WindowMaxCount int           // 窗口最大读数条数
		WearableMaxAge time.Duration // 可穿戴读数视为新鲜的最大时长
	}

	// 登记配置
	Enrollment struct {
		DefaultDuration       time.Duration // 默认采集时长
		MinSamples            int           // 最少有效读数条数
		SingleSensorThreshold float64       // 单传感器档案的默认置信度阈值
		DualSensorThreshold   float64       // 双传感器档案的默认置信度阈值
	}

	// 匹配模型的可调参数（显式的加权阈值规则，不是训练模型）
	Matcher struct {
		ZMax              float64 // 置信度降为 0 的标准差倍数上限
		InRangeFloor      float64 // 落在历史区间内时的置信度下限
		PresenceBoost     float64 // 硬件存在信号的固定加成
		DualSensorBoost   float64 // 双传感器一致时的固定加成
		WearableTolerance float64 // 可穿戴与主读数的一致容差（bpm）
		StdDevEpsilon     float64 // 标准差下限，避免单样本档案除零
		RecentSampleCount int     // 取窗口最近 N 条读数取均值，降低单点噪声
	}

	// 决策下游发布配置
	Publisher struct {
		Stream          string        // Redis Streams 流名称
		LatestKeyPrefix string        // 每个传感器最新决策的缓存键前缀
		LatestTTL       time.Duration // 最新决策缓存 TTL
		WebhookURL      string        // 下游自动化/通知 Webhook（为空则禁用）
	}

	Storage struct {
		Backend string // "memory" 或 "postgres"
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置（环境变量覆盖默认值）
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database = common.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "owlrd",
		SSLMode:  "disable",
		MaxConns: 10,
		MaxIdle:  5,
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis = common.RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT = common.MQTTConfig{
		Broker:   "tcp://localhost:1883",
		ClientID: "wisefido-bioauth",
		QoS:      1,
	}
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.HTTP.Addr = common.GetEnv("HTTP_ADDR", ":8086")

	cfg.Ingest.TopicNamespace = common.GetEnv("INGEST_TOPIC_NAMESPACE", "bioauth")
	cfg.Ingest.HeartRateMin = common.GetEnvFloat("INGEST_HR_MIN", 40)
	cfg.Ingest.HeartRateMax = common.GetEnvFloat("INGEST_HR_MAX", 180)
	cfg.Ingest.BreathRateMin = common.GetEnvFloat("INGEST_BR_MIN", 8)
	cfg.Ingest.BreathRateMax = common.GetEnvFloat("INGEST_BR_MAX", 30)
	cfg.Ingest.WindowMaxAge = common.GetEnvDuration("INGEST_WINDOW_MAX_AGE", 5*time.Minute)
	cfg.Ingest.WindowMaxCount = common.GetEnvInt("INGEST_WINDOW_MAX_COUNT", 120)
	cfg.Ingest.WearableMaxAge = common.GetEnvDuration("INGEST_WEARABLE_MAX_AGE", 15*time.Second)

	cfg.Enrollment.DefaultDuration = common.GetEnvDuration("ENROLL_DEFAULT_DURATION", 30*time.Second)
	cfg.Enrollment.MinSamples = common.GetEnvInt("ENROLL_MIN_SAMPLES", 5)
	cfg.Enrollment.SingleSensorThreshold = common.GetEnvFloat("ENROLL_SINGLE_SENSOR_THRESHOLD", 0.85)
	cfg.Enrollment.DualSensorThreshold = common.GetEnvFloat("ENROLL_DUAL_SENSOR_THRESHOLD", 0.75)

	cfg.Matcher.ZMax = common.GetEnvFloat("MATCH_Z_MAX", 3.0)
	cfg.Matcher.InRangeFloor = common.GetEnvFloat("MATCH_IN_RANGE_FLOOR", 0.5)
	cfg.Matcher.PresenceBoost = common.GetEnvFloat("MATCH_PRESENCE_BOOST", 0.05)
	cfg.Matcher.DualSensorBoost = common.GetEnvFloat("MATCH_DUAL_SENSOR_BOOST", 0.05)
	cfg.Matcher.WearableTolerance = common.GetEnvFloat("MATCH_WEARABLE_TOLERANCE", 8.0)
	cfg.Matcher.StdDevEpsilon = common.GetEnvFloat("MATCH_STDDEV_EPSILON", 1.0)
	cfg.Matcher.RecentSampleCount = common.GetEnvInt("MATCH_RECENT_SAMPLE_COUNT", 3)

	cfg.Publisher.Stream = common.GetEnv("PUBLISH_STREAM", "bioauth:decision:stream")
	cfg.Publisher.LatestKeyPrefix = common.GetEnv("PUBLISH_LATEST_PREFIX", "bioauth:decision:")
	cfg.Publisher.LatestTTL = common.GetEnvDuration("PUBLISH_LATEST_TTL", 5*time.Minute)
	cfg.Publisher.WebhookURL = common.GetEnv("PUBLISH_WEBHOOK_URL", "")

	cfg.Storage.Backend = common.GetEnv("STORAGE_BACKEND", "memory")

	cfg.Log.Level = common.GetEnv("LOG_LEVEL", "info")
	cfg.Log.Format = common.GetEnv("LOG_FORMAT", "json")

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate 拒绝会破坏匹配/登记不变量的配置值
func (c *Config) validate() error {
	if c.Ingest.HeartRateMin >= c.Ingest.HeartRateMax {
		return fmt.Errorf("invalid heart rate range [%v, %v]", c.Ingest.HeartRateMin, c.Ingest.HeartRateMax)
	}
	if c.Ingest.BreathRateMin >= c.Ingest.BreathRateMax {
		return fmt.Errorf("invalid breath rate range [%v, %v]", c.Ingest.BreathRateMin, c.Ingest.BreathRateMax)
	}
	if c.Ingest.WindowMaxAge <= 0 {
		return fmt.Errorf("INGEST_WINDOW_MAX_AGE must be positive, got %v", c.Ingest.WindowMaxAge)
	}
	if c.Ingest.WindowMaxCount <= 0 {
		return fmt.Errorf("INGEST_WINDOW_MAX_COUNT must be positive, got %d", c.Ingest.WindowMaxCount)
	}
	if c.Enrollment.MinSamples <= 0 {
		return fmt.Errorf("ENROLL_MIN_SAMPLES must be positive, got %d", c.Enrollment.MinSamples)
	}
	if t := c.Enrollment.SingleSensorThreshold; t <= 0 || t >= 1 {
		return fmt.Errorf("ENROLL_SINGLE_SENSOR_THRESHOLD must be in (0,1), got %v", t)
	}
	if t := c.Enrollment.DualSensorThreshold; t <= 0 || t >= 1 {
		return fmt.Errorf("ENROLL_DUAL_SENSOR_THRESHOLD must be in (0,1), got %v", t)
	}
	if c.Matcher.ZMax <= 0 {
		return fmt.Errorf("MATCH_Z_MAX must be positive, got %v", c.Matcher.ZMax)
	}
	if c.Matcher.RecentSampleCount <= 0 {
		return fmt.Errorf("MATCH_RECENT_SAMPLE_COUNT must be positive, got %d", c.Matcher.RecentSampleCount)
	}
	return nil
}
