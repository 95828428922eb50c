package testutil

import (
	"context"
	"sync"

	"rumcapture/pkg/browser"
	"rumcapture/pkg/model"
)

// FakePage 内存实现的 EventSource 与 PerformanceSource
type FakePage struct {
	mu        sync.Mutex
	URL       string
	UA        string
	View      model.Viewport
	seq       int
	listeners map[browser.EventKind]map[int]browser.Listener
	subs      map[browser.EntryType]map[int]func(browser.PerformanceEntry)
}

// NewFakePage 创建页面
func NewFakePage(url string) *FakePage {
	return &FakePage{
		URL:       url,
		UA:        "Mozilla/5.0 (test)",
		View:      model.Viewport{Width: 1280, Height: 720},
		listeners: make(map[browser.EventKind]map[int]browser.Listener),
		subs:      make(map[browser.EntryType]map[int]func(browser.PerformanceEntry)),
	}
}

func (p *FakePage) AddListener(kind browser.EventKind, fn browser.Listener) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	id := p.seq
	if p.listeners[kind] == nil {
		p.listeners[kind] = make(map[int]browser.Listener)
	}
	p.listeners[kind][id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners[kind], id)
	}
}

func (p *FakePage) Subscribe(t browser.EntryType, fn func(browser.PerformanceEntry)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	id := p.seq
	if p.subs[t] == nil {
		p.subs[t] = make(map[int]func(browser.PerformanceEntry))
	}
	p.subs[t][id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs[t], id)
	}
}

func (p *FakePage) Location() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.URL
}

func (p *FakePage) SetLocation(url string) {
	p.mu.Lock()
	p.URL = url
	p.mu.Unlock()
}

func (p *FakePage) UserAgent() string        { return p.UA }
func (p *FakePage) Viewport() model.Viewport { return p.View }

// Dispatch 同步派发原始事件，回调执行时不持有锁
func (p *FakePage) Dispatch(ev browser.RawEvent) {
	p.mu.Lock()
	fns := make([]browser.Listener, 0, len(p.listeners[ev.Kind]))
	for _, fn := range p.listeners[ev.Kind] {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Emit 同步派发性能条目
func (p *FakePage) Emit(e browser.PerformanceEntry) {
	p.mu.Lock()
	fns := make([]func(browser.PerformanceEntry), 0, len(p.subs[e.EntryType]))
	for _, fn := range p.subs[e.EntryType] {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(e)
	}
}

// ListenerCount 某类事件的监听数
func (p *FakePage) ListenerCount(kind browser.EventKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners[kind])
}

// SubscriberCount 全部性能订阅数
func (p *FakePage) SubscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.subs {
		n += len(m)
	}
	return n
}

// Recorder 记录收到的事件
type Recorder struct {
	mu     sync.Mutex
	Events []model.UserEvent
}

func (r *Recorder) Record(ev model.UserEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, ev)
}

// OfType 按类型过滤
func (r *Recorder) OfType(t model.EventType) []model.UserEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.UserEvent
	for _, ev := range r.Events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (r *Recorder) All() []model.UserEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.UserEvent(nil), r.Events...)
}

// Sender 记录投递载荷，可注入失败
type Sender struct {
	mu       sync.Mutex
	Payloads [][]byte
	Err      error
}

func (s *Sender) Send(_ context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Payloads = append(s.Payloads, append([]byte(nil), payload...))
	return s.Err
}

func (s *Sender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Payloads)
}

func (s *Sender) Last() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Payloads) == 0 {
		return nil
	}
	return s.Payloads[len(s.Payloads)-1]
}

func (s *Sender) All() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.Payloads...)
}
