package capture

import (
	"strings"
	"sync"
	"time"

	"rumcapture/internal/config"
	"rumcapture/internal/detector"
	"rumcapture/internal/errs"
	"rumcapture/internal/fingerprint"
	"rumcapture/internal/logger"
	"rumcapture/internal/privacy"
	"rumcapture/pkg/browser"
	"rumcapture/pkg/model"
)

// Sink 接收规范化事件
type Sink interface {
	Record(ev model.UserEvent)
}

// Config 构造参数
type Config struct {
	RUM           config.RUMConfig
	Source        browser.EventSource
	Clock         browser.Clock
	Sink          Sink
	Masker        *privacy.Masker
	Logger        logger.Logger
	OnInteraction func() // 首次交互确定 LCP
	OnHidden      func() // 页面隐藏
	OnUnload      func() // beforeunload
}

// Layer 事件采集层：挂载监听、转换事件、脱敏、分类后写入 Sink
type Layer struct {
	mu         sync.Mutex
	cfg        Config
	fp         *fingerprint.Fingerprinter
	classifier *detector.Classifier
	log        logger.Logger

	attached bool
	removers []func()

	scrollTimer   browser.Timer
	pendingScroll *browser.RawEvent
}

// New 创建采集层
func New(cfg Config) *Layer {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Masker == nil {
		cfg.Masker = privacy.New(cfg.RUM)
	}
	return &Layer{
		cfg:        cfg,
		fp:         fingerprint.New(cfg.Masker),
		classifier: detector.NewClassifier(cfg.RUM.Thresholds, cfg.Logger),
		log:        cfg.Logger,
	}
}

// Attach 按开关挂载监听，重复调用无副作用
func (l *Layer) Attach() {
	l.mu.Lock()
	if l.attached {
		l.mu.Unlock()
		return
	}
	l.attached = true
	l.mu.Unlock()

	rum := l.cfg.RUM
	var removers []func()
	add := func(kind browser.EventKind, fn browser.Listener) {
		removers = append(removers, l.cfg.Source.AddListener(kind, l.guard(kind, fn)))
	}
	if rum.CaptureClicks {
		add(browser.KindClick, l.locked(l.onClick))
	}
	if rum.CaptureInputs {
		add(browser.KindInput, l.locked(l.onInput))
	}
	if rum.CaptureScroll {
		add(browser.KindScroll, l.locked(l.onScroll))
	}
	if rum.CaptureErrors {
		add(browser.KindError, l.locked(l.onError))
		add(browser.KindUnhandledRejection, l.locked(l.onError))
	}
	add(browser.KindNavigation, l.locked(l.onNavigation))
	add(browser.KindVisibilityChange, l.onVisibility)
	add(browser.KindBeforeUnload, l.onBeforeUnload)

	l.mu.Lock()
	l.removers = removers
	l.mu.Unlock()
	l.log.Debug("采集监听已挂载", "listeners", len(removers))
}

// Detach 移除监听并输出尚在防抖中的滚动事件
func (l *Layer) Detach() {
	l.mu.Lock()
	if !l.attached {
		l.mu.Unlock()
		return
	}
	l.attached = false
	if l.scrollTimer != nil {
		l.scrollTimer.Stop()
		l.scrollTimer = nil
	}
	l.emitScrollLocked()
	l.classifier.Reset()
	removers := l.removers
	l.removers = nil
	l.mu.Unlock()

	for _, remove := range removers {
		if remove != nil {
			remove()
		}
	}
	l.log.Debug("采集监听已移除")
}

// guard 监听异常在此处截获，不向宿主传播
func (l *Layer) guard(kind browser.EventKind, fn browser.Listener) browser.Listener {
	return func(ev browser.RawEvent) {
		defer func() {
			if r := recover(); r != nil {
				l.log.Err(errs.FromPanic(errs.KindCapture, string(kind), r), "采集监听异常")
			}
		}()
		fn(ev)
	}
}

func (l *Layer) locked(fn browser.Listener) browser.Listener {
	return func(ev browser.RawEvent) {
		l.mu.Lock()
		defer l.mu.Unlock()
		if !l.attached {
			return
		}
		fn(ev)
	}
}

func (l *Layer) onClick(ev browser.RawEvent) {
	at := l.eventTime(ev)
	info, err := l.fp.Describe(ev.Target)
	if err != nil {
		l.log.Debug("点击目标指纹失败", "error", err)
	}
	res := l.classifier.Classify(ev.Target, info, at)
	data := res.Data
	data["x"] = ev.X
	data["y"] = ev.Y

	l.record(model.UserEvent{
		Timestamp: at.UnixMilli(),
		Type:      res.Type,
		Data:      data,
		URL:       l.url(ev),
		Element:   info,
	})
	l.interacted()
}

func (l *Layer) onInput(ev browser.RawEvent) {
	inputType := ev.InputType
	if inputType == "" && ev.Target != nil {
		inputType = ev.Target.InputType
	}
	info, _ := l.fp.Describe(ev.Target)
	l.record(model.UserEvent{
		Timestamp: l.eventTime(ev).UnixMilli(),
		Type:      model.EventInput,
		Data:      l.cfg.Masker.Input(inputType, ev.HasValue, ev.ValueLength),
		URL:       l.url(ev),
		Element:   info,
	})
	l.interacted()
}

// onScroll 尾部防抖：只保留窗口内最后一次滚动
func (l *Layer) onScroll(ev browser.RawEvent) {
	ev.Time = l.eventTime(ev)
	ev.URL = l.url(ev)
	l.pendingScroll = &ev

	wait := l.cfg.RUM.Thresholds.ScrollDebounce()
	if wait <= 0 {
		l.emitScrollLocked()
		return
	}
	if l.scrollTimer != nil {
		l.scrollTimer.Stop()
	}
	l.scrollTimer = l.cfg.Clock.AfterFunc(wait, l.guardFunc("scroll.debounce", func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if !l.attached {
			return
		}
		l.scrollTimer = nil
		l.emitScrollLocked()
	}))
}

func (l *Layer) emitScrollLocked() {
	ev := l.pendingScroll
	if ev == nil {
		return
	}
	l.pendingScroll = nil
	l.record(model.UserEvent{
		Timestamp: ev.Time.UnixMilli(),
		Type:      model.EventScroll,
		Data:      map[string]any{"scrollX": ev.ScrollX, "scrollY": ev.ScrollY},
		URL:       ev.URL,
	})
}

func (l *Layer) onError(ev browser.RawEvent) {
	data := map[string]any{
		"message": l.cfg.Masker.Text(ev.Message),
		"kind":    string(ev.Kind),
	}
	if ev.Source != "" {
		data["source"] = l.cfg.Masker.URL(ev.Source)
		data["line"] = ev.Line
		data["column"] = ev.Column
	}
	l.record(model.UserEvent{
		Timestamp: l.eventTime(ev).UnixMilli(),
		Type:      model.EventError,
		Data:      data,
		URL:       l.url(ev),
	})
}

func (l *Layer) onNavigation(ev browser.RawEvent) {
	l.record(model.UserEvent{
		Timestamp: l.eventTime(ev).UnixMilli(),
		Type:      model.EventPageView,
		Data:      map[string]any{"trigger": "navigation"},
		URL:       l.url(ev),
	})
}

func (l *Layer) onVisibility(ev browser.RawEvent) {
	state := strings.ToLower(ev.VisibilityState)
	l.locked(func(ev browser.RawEvent) {
		l.record(model.UserEvent{
			Timestamp: l.eventTime(ev).UnixMilli(),
			Type:      model.EventCustom,
			Data:      map[string]any{"name": "visibility_change", "state": state},
			URL:       l.url(ev),
		})
	})(ev)
	if state == "hidden" && l.cfg.OnHidden != nil {
		l.cfg.OnHidden()
	}
}

// onBeforeUnload 不持锁调用，结束会话时会回调 Detach
func (l *Layer) onBeforeUnload(browser.RawEvent) {
	if l.cfg.OnUnload != nil {
		l.cfg.OnUnload()
	}
}

func (l *Layer) guardFunc(op string, fn func()) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				l.log.Err(errs.FromPanic(errs.KindCapture, op, r), "采集回调异常")
			}
		}()
		fn()
	}
}

func (l *Layer) interacted() {
	if l.cfg.OnInteraction != nil {
		l.cfg.OnInteraction()
	}
}

func (l *Layer) record(ev model.UserEvent) {
	l.cfg.Sink.Record(ev)
}

func (l *Layer) eventTime(ev browser.RawEvent) time.Time {
	if ev.Time.IsZero() {
		return l.cfg.Clock.Now()
	}
	return ev.Time
}

func (l *Layer) url(ev browser.RawEvent) string {
	u := ev.URL
	if u == "" {
		u = l.cfg.Source.Location()
	}
	return l.cfg.Masker.URL(u)
}
