package buffer

import "sync"

// Metrics 摄入统计（线程安全）
//
// 无效/迟到读数不上抛错误，只在这里计数供观测。
type Metrics struct {
	mu sync.RWMutex

	Ingested       int64 // 成功追加的读数
	DroppedInvalid int64 // 范围校验失败丢弃
	DroppedStale   int64 // 时间戳回退丢弃
	Evicted        int64 // 超龄/超量淘汰
}

// Snapshot 获取统计快照
func (m *Metrics) Snapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		Ingested:       m.Ingested,
		DroppedInvalid: m.DroppedInvalid,
		DroppedStale:   m.DroppedStale,
		Evicted:        m.Evicted,
	}
}

func (m *Metrics) incrementIngested() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Ingested++
}

func (m *Metrics) incrementDroppedInvalid() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DroppedInvalid++
}

func (m *Metrics) incrementDroppedStale() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DroppedStale++
}

func (m *Metrics) addEvicted(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Evicted += int64(n)
}

// Metrics 返回摄入统计快照
func (b *SampleBuffer) Metrics() Metrics {
	return b.metrics.Snapshot()
}
