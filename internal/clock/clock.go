package clock

import (
	"sync"
	"time"

	"rumcapture/pkg/browser"

	"github.com/jonboulle/clockwork"
)

// Real 基于系统时间的 Clock
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, fn func()) browser.Timer {
	return time.AfterFunc(d, fn)
}

// Fake 基于 clockwork.FakeClock 的手动时钟。
// 与真实定时器一致，到期回调在独立 goroutine 中执行。
type Fake struct {
	fc *clockwork.FakeClock

	mu   sync.Mutex
	live map[*fakeTimer]time.Time
}

type fakeTimer struct {
	f *Fake
	t clockwork.Timer
}

// NewFake 创建起始于 start 的手动时钟
func NewFake(start time.Time) *Fake {
	return &Fake{
		fc:   clockwork.NewFakeClockAt(start),
		live: make(map[*fakeTimer]time.Time),
	}
}

func (f *Fake) Now() time.Time { return f.fc.Now() }

func (f *Fake) AfterFunc(d time.Duration, fn func()) browser.Timer {
	ft := &fakeTimer{f: f}
	f.mu.Lock()
	f.live[ft] = f.fc.Now().Add(d)
	f.mu.Unlock()
	ft.t = f.fc.AfterFunc(d, func() {
		f.forget(ft)
		fn()
	})
	return ft
}

// Advance 推进时间，到期定时器的回调异步触发
func (f *Fake) Advance(d time.Duration) { f.fc.Advance(d) }

// Pending 返回尚未到期且未取消的定时器数量
func (f *Fake) Pending() int {
	now := f.fc.Now()
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, due := range f.live {
		if due.After(now) {
			n++
		}
	}
	return n
}

func (f *Fake) forget(t *fakeTimer) {
	f.mu.Lock()
	delete(f.live, t)
	f.mu.Unlock()
}

func (t *fakeTimer) Stop() bool {
	t.f.forget(t)
	return t.t.Stop()
}
