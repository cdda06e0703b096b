package models

import "time"

// 参与匹配决策的信号标识
const (
	SignalHeartRate = "heart_rate"
	SignalPresence  = "presence"
	SignalWearable  = "wearable_heart_rate"
	SignalBreathing = "breathing_rate"
)

// Decision 一次认证匹配的结果
//
// MatchedPersonID 为 nil 表示"未识别"——这是正常的成功响应，不是错误。
// Decision 不做持久化，只构造后交给下游发布者。
type Decision struct {
	DecisionID          string    `json:"decision_id"`
	SensorID            string    `json:"sensor_id"`
	MatchedPersonID     *string   `json:"matched_person_id"`
	Confidence          float64   `json:"confidence"`
	ContributingSignals []string  `json:"contributing_signals"`
	Timestamp           time.Time `json:"timestamp"`
}

// Matched 是否匹配到了已登记人员
func (d *Decision) Matched() bool {
	return d.MatchedPersonID != nil
}
