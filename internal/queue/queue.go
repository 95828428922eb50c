package queue

import (
	"rumcapture/pkg/model"
)

// Queue 当前会话的有序事件缓冲，非并发安全，由会话管理器加锁使用。
// 达到上限时整批交出并以空缓冲继续接收（先刷新再继续）。
type Queue struct {
	limit   int
	buf     []model.UserEvent
	last    int64
	total   int
	flushes int
}

// New 创建队列，limit <= 0 表示不按数量触发刷新
func New(limit int) *Queue {
	q := &Queue{limit: limit}
	q.buf = q.fresh()
	return q
}

// Append 追加事件；时间戳早于上一条时钳制到上一条以保持单调不减。
// 达到上限时返回需要投递的批次，否则返回 nil。
func (q *Queue) Append(ev model.UserEvent) []model.UserEvent {
	if ev.Timestamp < q.last {
		ev.Timestamp = q.last
	}
	q.last = ev.Timestamp
	q.buf = append(q.buf, ev)
	q.total++

	if q.limit > 0 && len(q.buf) >= q.limit {
		batch := q.buf
		q.buf = q.fresh()
		q.flushes++
		return batch
	}
	return nil
}

// Drain 取出剩余事件并清空缓冲
func (q *Queue) Drain() []model.UserEvent {
	out := q.buf
	q.buf = q.fresh()
	return out
}

// Snapshot 返回当前缓冲的副本
func (q *Queue) Snapshot() []model.UserEvent {
	out := make([]model.UserEvent, len(q.buf))
	copy(out, q.buf)
	return out
}

func (q *Queue) Len() int { return len(q.buf) }

// Total 会话内累计追加的事件数
func (q *Queue) Total() int { return q.total }

// Flushes 按上限触发的刷新次数
func (q *Queue) Flushes() int { return q.flushes }

func (q *Queue) fresh() []model.UserEvent {
	if q.limit > 0 {
		return make([]model.UserEvent, 0, q.limit)
	}
	return make([]model.UserEvent, 0, 64)
}
