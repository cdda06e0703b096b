package consumer

import (
	"sync"
	"time"
)

// metricSample 从 MQTT 载荷解析出的单条指标样本
type metricSample struct {
	sensorID  string
	metric    string // "heart_rate" / "breath_rate" / "wearable_heart_rate"
	value     float64
	timestamp time.Time
}

// dispatcher 按 sensor_id 串行分发样本
//
// 每个传感器一个 worker goroutine：同一传感器的样本按到达顺序处理，
// 不同传感器并行互不影响——保证窗口不会被并发写观察到半更新状态。
type dispatcher struct {
	mu      sync.Mutex
	workers map[string]chan metricSample
	handle  func(metricSample)
	wg      sync.WaitGroup
	closed  bool
}

// workerQueueSize 每个传感器的待处理样本队列长度
const workerQueueSize = 128

func newDispatcher(handle func(metricSample)) *dispatcher {
	return &dispatcher{
		workers: make(map[string]chan metricSample),
		handle:  handle,
	}
}

// dispatch 将样本送入对应传感器的串行队列；队列满时丢弃（摄入不背压到 MQTT 回调）
//
// 发送必须持锁进行：与 stop 里的 close 在同一把锁下串行，
// 保证 closed 置位后不会再有向已关闭通道的发送。
func (d *dispatcher) dispatch(s metricSample) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	ch, ok := d.workers[s.sensorID]
	if !ok {
		ch = make(chan metricSample, workerQueueSize)
		d.workers[s.sensorID] = ch
		d.wg.Add(1)
		go d.run(ch)
	}

	select {
	case ch <- s:
		return true
	default:
		return false
	}
}

func (d *dispatcher) run(ch chan metricSample) {
	defer d.wg.Done()
	for s := range ch {
		d.handle(s)
	}
}

// stop 关闭全部 worker 并等待在途样本处理完
func (d *dispatcher) stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, ch := range d.workers {
		close(ch)
	}
	d.mu.Unlock()

	d.wg.Wait()
}
