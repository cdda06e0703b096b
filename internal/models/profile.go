package models

import "time"

// Profile 已登记人员的生物特征基线
//
// 不变量：
// - HeartRateMin <= HeartRateBaseline <= HeartRateMax
// - ConfidenceThreshold ∈ (0,1)，有第二传感器时取更低的默认阈值
//
// Profile 一经创建不再原地修改；重新登记整体替换旧档案。
type Profile struct {
	PersonID            string    `json:"person_id"`
	DisplayName         string    `json:"display_name"`
	HeartRateBaseline   float64   `json:"heart_rate_baseline"`
	HeartRateMin        float64   `json:"heart_rate_min"`
	HeartRateMax        float64   `json:"heart_rate_max"`
	HeartRateStdDev     float64   `json:"heart_rate_stddev"`
	BreathingBaseline   *float64  `json:"breathing_baseline,omitempty"`
	ConfidenceThreshold float64   `json:"confidence_threshold"`
	HasSecondarySensor  bool      `json:"has_secondary_sensor"`
	CreatedAt           time.Time `json:"created_at"`
}
