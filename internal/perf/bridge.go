package perf

import (
	"sync"

	"rumcapture/internal/errs"
	"rumcapture/internal/logger"
	"rumcapture/pkg/browser"
	"rumcapture/pkg/model"
)

// Sink 接收规范化事件
type Sink interface {
	Record(ev model.UserEvent)
}

// Bridge 订阅绘制、输入、布局偏移与导航性能条目，输出 performance 事件
type Bridge struct {
	mu       sync.Mutex
	src      browser.PerformanceSource
	clock    browser.Clock
	sink     Sink
	location func() string
	log      logger.Logger

	running bool
	cancels []func()

	lcp        *float64
	lcpURL     string
	lcpDone    bool
	fidDone    bool
	fcpDone    bool
	navDone    bool
	cls        float64
	clsEntries int
}

// Config 构造参数
type Config struct {
	Source   browser.PerformanceSource
	Clock    browser.Clock
	Sink     Sink
	Location func() string
	Logger   logger.Logger
}

// New 创建性能桥
func New(cfg Config) *Bridge {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = func() string { return "" }
	}
	return &Bridge{
		src:      cfg.Source,
		clock:    cfg.Clock,
		sink:     cfg.Sink,
		location: cfg.Location,
		log:      cfg.Logger,
	}
}

// Start 订阅全部性能条目，重复调用无副作用
func (b *Bridge) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running || b.src == nil {
		return
	}
	b.running = true
	b.lcp, b.lcpURL = nil, ""
	b.lcpDone, b.fidDone, b.fcpDone, b.navDone = false, false, false, false
	b.cls, b.clsEntries = 0, 0

	b.cancels = append(b.cancels,
		b.src.Subscribe(browser.EntryPaint, b.guard("paint", b.onPaint)),
		b.src.Subscribe(browser.EntryLCP, b.guard("lcp", b.onLCP)),
		b.src.Subscribe(browser.EntryFirstInput, b.guard("fid", b.onFirstInput)),
		b.src.Subscribe(browser.EntryLayoutShift, b.guard("cls", b.onLayoutShift)),
		b.src.Subscribe(browser.EntryNavigation, b.guard("navigation", b.onNavigation)),
	)
	b.log.Debug("性能观测已启动")
}

// Stop 输出待定的 LCP 并取消订阅
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.emitLCPLocked()
	cancels := b.cancels
	b.cancels = nil
	b.running = false
	b.mu.Unlock()

	for _, cancel := range cancels {
		if cancel != nil {
			cancel()
		}
	}
	b.log.Debug("性能观测已停止")
}

// FinalizeLCP 首次交互或页面隐藏时确定 LCP，之后的候选条目被忽略
func (b *Bridge) FinalizeLCP() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		b.emitLCPLocked()
	}
}

// CLS 当前累计布局偏移
func (b *Bridge) CLS() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cls
}

func (b *Bridge) guard(name string, fn func(browser.PerformanceEntry)) func(browser.PerformanceEntry) {
	return func(e browser.PerformanceEntry) {
		defer func() {
			if r := recover(); r != nil {
				b.log.Err(errs.FromPanic(errs.KindCapture, "perf."+name, r), "性能回调异常")
			}
		}()
		b.mu.Lock()
		defer b.mu.Unlock()
		if !b.running {
			return
		}
		fn(e)
	}
}

func (b *Bridge) onPaint(e browser.PerformanceEntry) {
	if b.fcpDone || e.Name != "first-contentful-paint" {
		return
	}
	b.fcpDone = true
	b.emit("fcp", model.PerformanceData{FCP: model.Float(e.StartTime)}, "")
}

// onLCP 最新候选覆盖旧值，待确定后输出一次
func (b *Bridge) onLCP(e browser.PerformanceEntry) {
	if b.lcpDone {
		return
	}
	b.lcp = model.Float(e.StartTime)
	b.lcpURL = b.location()
}

func (b *Bridge) onFirstInput(e browser.PerformanceEntry) {
	if b.fidDone {
		return
	}
	b.fidDone = true
	delay := e.ProcessingStart - e.StartTime
	if delay < 0 {
		delay = 0
	}
	b.emit("fid", model.PerformanceData{FID: model.Float(delay)}, "")
	b.emitLCPLocked()
}

func (b *Bridge) onLayoutShift(e browser.PerformanceEntry) {
	if e.HadRecentInput {
		return
	}
	b.cls += e.Value
	b.clsEntries++
	b.emit("cls", model.PerformanceData{CLS: model.Float(b.cls)}, "")
}

func (b *Bridge) onNavigation(e browser.PerformanceEntry) {
	if b.navDone {
		return
	}
	b.navDone = true
	b.emit("navigation", model.PerformanceData{
		DOMContentLoaded: model.Float(e.DOMContentLoadedEventEnd - e.DOMContentLoadedEventStart),
		LoadComplete:     model.Float(e.LoadEventEnd - e.LoadEventStart),
		TTFB:             model.Float(e.ResponseStart - e.RequestStart),
	}, "")
}

func (b *Bridge) emitLCPLocked() {
	if b.lcpDone {
		return
	}
	b.lcpDone = true
	if b.lcp == nil {
		return
	}
	b.emit("lcp", model.PerformanceData{LCP: b.lcp}, b.lcpURL)
}

// emit url 为空时取当前页面地址（已脱敏）
func (b *Bridge) emit(metric string, data model.PerformanceData, url string) {
	if url == "" {
		url = b.location()
	}
	b.sink.Record(model.UserEvent{
		Timestamp:   b.clock.Now().UnixMilli(),
		Type:        model.EventPerformance,
		Data:        map[string]any{"metric": metric},
		URL:         url,
		Performance: &data,
	})
}
