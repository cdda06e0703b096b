package models

import "errors"

// 错误分类：
// - 无效读数在摄入层直接丢弃并计数，不会以错误形式出现
// - ErrInsufficientSamples / ErrNoData 以类型化错误上抛给调用方
// - 匹配歧义（并列）不是错误，解析为"未识别"决策
var (
	// ErrInsufficientSamples 登记采集窗口内有效读数不足
	ErrInsufficientSamples = errors.New("insufficient samples")

	// ErrNoData 传感器窗口为空，无法进行匹配
	ErrNoData = errors.New("no sensor data")
)
