package transport

import (
	"math/rand/v2"
	"sync"

	"rumcapture/pkg/model"
)

// Sampler 每个会话只抽样一次，结果在会话内缓存，
// 保证分批投递与最终载荷的取舍一致
type Sampler struct {
	mu      sync.Mutex
	rate    float64
	draw    func() float64
	decided map[model.SessionID]bool
}

// NewSampler 创建抽样器，draw 为空时使用 math/rand/v2
func NewSampler(rate float64, draw func() float64) *Sampler {
	if draw == nil {
		draw = rand.Float64
	}
	return &Sampler{rate: rate, draw: draw, decided: make(map[model.SessionID]bool)}
}

// Decide 返回会话是否被采样投递
func (s *Sampler) Decide(id model.SessionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.decided[id]; ok {
		return v
	}
	keep := s.drawLocked()
	s.decided[id] = keep
	return keep
}

// Draw 不关联会话的单次抽样，用于会话开始前决定是否采集
func (s *Sampler) Draw() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drawLocked()
}

// Assign 记录已做出的决定，后续 Decide 直接复用
func (s *Sampler) Assign(id model.SessionID, keep bool) {
	s.mu.Lock()
	s.decided[id] = keep
	s.mu.Unlock()
}

func (s *Sampler) drawLocked() bool {
	switch {
	case s.rate >= 1:
		return true
	case s.rate <= 0:
		return false
	default:
		return s.draw() < s.rate
	}
}

// Forget 会话结束后释放缓存
func (s *Sampler) Forget(id model.SessionID) {
	s.mu.Lock()
	delete(s.decided, id)
	s.mu.Unlock()
}

// Rate 采样率
func (s *Sampler) Rate() float64 { return s.rate }
