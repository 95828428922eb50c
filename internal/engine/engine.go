package engine

import (
	"sync"
	"time"

	"rumcapture/internal/capture"
	"rumcapture/internal/clock"
	"rumcapture/internal/config"
	"rumcapture/internal/errs"
	"rumcapture/internal/logger"
	"rumcapture/internal/perf"
	"rumcapture/internal/privacy"
	"rumcapture/internal/rules"
	"rumcapture/internal/session"
	"rumcapture/internal/transport"
	"rumcapture/pkg/browser"
	"rumcapture/pkg/model"
)

// Options 引擎依赖，端口均可替换为测试实现
type Options struct {
	Config   config.RUMConfig
	Clock    browser.Clock
	Source   browser.EventSource
	Perf     browser.PerformanceSource
	Identity browser.IdentitySource
	Sender   transport.Sender
	Beaconer transport.Beaconer
	Sampler  *transport.Sampler
	Timeout  time.Duration // 单次投递超时
	Logger   logger.Logger
	// OnEnd 会话终结后回调（无论是否被采样投递）
	OnEnd func(s model.Session)
}

// Engine 组装采集层、性能桥、会话管理与投递
type Engine struct {
	opts      Options
	rum       config.RUMConfig
	log       logger.Logger
	masker    *privacy.Masker
	excluded  *rules.Engine
	transport *transport.Transport
	manager   *session.Manager

	mu      sync.Mutex
	capture *capture.Layer
	bridge  *perf.Bridge
}

// New 创建引擎，配置在此处规范化后不再变化
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	rum := opts.Config.Normalize(opts.Logger)
	if opts.Sampler == nil {
		opts.Sampler = transport.NewSampler(rum.SampleRate, nil)
	}

	e := &Engine{
		opts:     opts,
		rum:      rum,
		log:      opts.Logger,
		masker:   privacy.New(rum),
		excluded: rules.New(rum.ExcludedURLs),
	}
	e.transport = transport.New(transport.Config{
		Sender:   opts.Sender,
		Beaconer: opts.Beaconer,
		Sampler:  opts.Sampler,
		Clock:    opts.Clock,
		Timeout:  opts.Timeout,
		Logger:   opts.Logger.With("component", "transport"),
	})
	e.manager = session.NewManager(session.Config{
		RUM:       rum,
		Clock:     opts.Clock,
		Source:    opts.Source,
		Identity:  opts.Identity,
		Transport: deliverer{e},
		Masker:    e.masker,
		Logger:    opts.Logger.With("component", "session"),
		BeforeEnd: e.teardown,
	})
	return e
}

// Start 按策略检查后开始会话并挂载采集
func (e *Engine) Start() (model.SessionID, error) {
	if !e.rum.Enabled {
		return "", errs.New(errs.KindConfig, "start", errs.ErrDisabled)
	}
	if loc := e.opts.Source.Location(); e.excluded.Match(loc) {
		e.log.Info("当前页面在排除列表中，不采集", "url", e.masker.URL(loc))
		return "", errs.New(errs.KindConfig, "start", errs.ErrExcludedURL)
	}
	if id, ok := e.manager.Active(); ok {
		_, err := e.manager.Start()
		return id, err
	}
	if e.rum.SamplingMode == config.SamplingAtStart && !e.opts.Sampler.Draw() {
		e.log.Debug("会话未被采样，跳过采集")
		return "", errs.New(errs.KindLifecycle, "start", errs.ErrNotSampled)
	}

	id, err := e.manager.Start()
	if err != nil {
		return id, err
	}
	if e.rum.SamplingMode == config.SamplingAtStart {
		e.opts.Sampler.Assign(id, true)
	}
	e.attach()
	return id, nil
}

func (e *Engine) attach() {
	location := func() string { return e.masker.URL(e.opts.Source.Location()) }

	var bridge *perf.Bridge
	if e.rum.CapturePerformance && e.opts.Perf != nil {
		bridge = perf.New(perf.Config{
			Source:   e.opts.Perf,
			Clock:    e.opts.Clock,
			Sink:     e.manager,
			Location: location,
			Logger:   e.log.With("component", "perf"),
		})
	}
	finalizeLCP := func() {
		if bridge != nil {
			bridge.FinalizeLCP()
		}
	}
	layer := capture.New(capture.Config{
		RUM:           e.rum,
		Source:        e.opts.Source,
		Clock:         e.opts.Clock,
		Sink:          e.manager,
		Masker:        e.masker,
		Logger:        e.log.With("component", "capture"),
		OnInteraction: finalizeLCP,
		OnHidden:      finalizeLCP,
		OnUnload:      func() { e.manager.End(model.EndUnload) },
	})

	e.mu.Lock()
	e.capture, e.bridge = layer, bridge
	e.mu.Unlock()

	layer.Attach()
	if bridge != nil {
		bridge.Start()
	}
}

// teardown 会话终结前调用：输出待定指标并卸载监听
func (e *Engine) teardown(model.EndReason) {
	e.mu.Lock()
	layer, bridge := e.capture, e.bridge
	e.capture, e.bridge = nil, nil
	e.mu.Unlock()

	if bridge != nil {
		bridge.Stop()
	}
	if layer != nil {
		layer.Detach()
	}
}

// End 手动结束会话，无活动会话时返回 false
func (e *Engine) End() bool {
	return e.manager.End(model.EndManual)
}

// Shutdown 结束会话并等待在途投递
func (e *Engine) Shutdown() {
	e.manager.End(model.EndShutdown)
	e.transport.Wait()
}

// Track 记录自定义事件，字符串字段经过脱敏
func (e *Engine) Track(name string, data map[string]any) error {
	if _, ok := e.manager.Active(); !ok {
		return errs.New(errs.KindLifecycle, "track", errs.ErrNoSession)
	}
	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		if s, ok := v.(string); ok {
			v = e.masker.Text(s)
		}
		payload[k] = v
	}
	payload["name"] = e.masker.Text(name)
	e.manager.Record(model.UserEvent{
		Timestamp: e.opts.Clock.Now().UnixMilli(),
		Type:      model.EventCustom,
		Data:      payload,
		URL:       e.masker.URL(e.opts.Source.Location()),
	})
	return nil
}

// Active 当前活动会话
func (e *Engine) Active() (model.SessionID, bool) { return e.manager.Active() }

// Snapshot 活动会话的副本
func (e *Engine) Snapshot() (model.Session, bool) { return e.manager.Snapshot() }

// Wait 等待在途投递完成
func (e *Engine) Wait() { e.transport.Wait() }

// Config 规范化后的采集配置
func (e *Engine) Config() config.RUMConfig { return e.rum }

type deliverer struct{ e *Engine }

func (d deliverer) DeliverBatch(id model.SessionID, seq int, events []model.UserEvent) {
	d.e.transport.DeliverBatch(id, seq, events)
}

func (d deliverer) DeliverSession(s *model.Session, unload bool) {
	d.e.transport.DeliverSession(s, unload)
	if d.e.opts.OnEnd != nil {
		d.e.opts.OnEnd(*s)
	}
}
