package models

import "time"

// Reading 一次生理读数（在消费者边界由原始 MQTT 载荷解析而来，创建后不可变）
//
// HeartRate 为主传感器（雷达/手机）心率；BreathingRate 与 WearableHeartRate
// 为可选的附加信号，缺失时为 nil。
type Reading struct {
	SensorID          string    `json:"sensor_id"`
	HeartRate         float64   `json:"heart_rate"`
	BreathingRate     *float64  `json:"breathing_rate,omitempty"`
	WearableHeartRate *float64  `json:"wearable_heart_rate,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}
