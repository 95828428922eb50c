package cdp

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"rumcapture/internal/config"
	"rumcapture/internal/errs"
	"rumcapture/internal/logger"
	"rumcapture/pkg/browser"
	"rumcapture/pkg/model"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/rpcc"
)

//go:embed hook.js
var hookSource string

const bindingName = "__rumEmit"

// hookScript 注入页面的采集脚本，目标文本在页面内即截断到 textMax 个字符
func hookScript(textMax int) string {
	if textMax <= 0 {
		textMax = config.DefaultThresholds().TextSnippetMax
	}
	return strings.Replace(hookSource, "__TEXT_MAX__", strconv.Itoa(textMax), 1)
}

// Options 连接参数
type Options struct {
	DevToolsURL    string // 如 http://127.0.0.1:9222
	TargetID       string // 为空时选第一个 page 类型目标
	BeaconEndpoint string // 卸载投递的端点，为空时不提供 beacon
	TextMax        int    // 元素文本片段上限，<= 0 时取默认值
	Logger         logger.Logger
}

// Page 通过 DevTools 协议附着到浏览器标签页，
// 实现 EventSource、PerformanceSource 与 beacon 投递
type Page struct {
	opts   Options
	log    logger.Logger
	conn   *rpcc.Conn
	client *cdp.Client
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.RWMutex
	env       Environment
	seq       int
	listeners map[browser.EventKind]map[int]browser.Listener
	subs      map[browser.EntryType]map[int]func(browser.PerformanceEntry)
}

// Connect 附着目标、注入采集脚本并开始接收绑定回调
func Connect(ctx context.Context, opts Options) (*Page, error) {
	target, err := selectTarget(ctx, opts.DevToolsURL, opts.TargetID)
	if err != nil {
		return nil, errs.New(errs.KindCapture, "cdp.target", err)
	}
	conn, err := rpcc.DialContext(ctx, target.WebSocketDebuggerURL)
	if err != nil {
		return nil, errs.New(errs.KindCapture, "cdp.dial", err)
	}

	p := newPage(opts, Environment{URL: target.URL})
	p.log = p.log.With("target", target.ID)
	p.conn = conn
	p.client = cdp.NewClient(conn)
	if err := p.install(ctx); err != nil {
		_ = p.Close()
		return nil, errs.New(errs.KindCapture, "cdp.install", err)
	}
	return p, nil
}

func newPage(opts Options, env Environment) *Page {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Page{
		opts:      opts,
		log:       opts.Logger,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		env:       env,
		listeners: make(map[browser.EventKind]map[int]browser.Listener),
		subs:      make(map[browser.EntryType]map[int]func(browser.PerformanceEntry)),
	}
}

func selectTarget(ctx context.Context, url, id string) (*devtool.Target, error) {
	targets, err := devtool.New(url).List(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range targets {
		if id != "" {
			if string(t.ID) == id {
				return t, nil
			}
			continue
		}
		if t.Type == devtool.Page {
			return t, nil
		}
	}
	return nil, fmt.Errorf("no page target at %s", url)
}

func (p *Page) install(ctx context.Context) error {
	c := p.client
	if err := c.Runtime.Enable(ctx); err != nil {
		return err
	}
	if err := c.Page.Enable(ctx); err != nil {
		return err
	}
	// 订阅需在注入前建立，避免丢失首批消息
	calls, err := c.Runtime.BindingCalled(p.ctx)
	if err != nil {
		return err
	}
	if err := c.Runtime.AddBinding(ctx, runtime.NewAddBindingArgs(bindingName)); err != nil {
		calls.Close()
		return err
	}
	navs, err := c.Page.FrameNavigated(p.ctx)
	if err != nil {
		calls.Close()
		return err
	}
	script := hookScript(p.opts.TextMax)
	if _, err := c.Page.AddScriptToEvaluateOnNewDocument(ctx, page.NewAddScriptToEvaluateOnNewDocumentArgs(script)); err != nil {
		calls.Close()
		navs.Close()
		return err
	}
	if _, err := p.evaluate(ctx, script); err != nil {
		calls.Close()
		navs.Close()
		return err
	}
	if raw, err := p.evaluate(ctx, envExpr); err == nil {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			p.mu.Lock()
			p.env = ToEnvironment(s)
			p.mu.Unlock()
		}
	}

	go p.watchNavigation(navs)
	go p.consume(calls)
	p.log.Info("已附着页面并注入采集脚本", "url", p.Location())
	return nil
}

// watchNavigation 跟随主框架的整页导航更新当前地址
func (p *Page) watchNavigation(navs page.FrameNavigatedClient) {
	defer navs.Close()
	for {
		ev, err := navs.Recv()
		if err != nil {
			return
		}
		if ev.Frame.ParentID != nil {
			continue
		}
		u := ev.Frame.URL
		if ev.Frame.URLFragment != nil {
			u += *ev.Frame.URLFragment
		}
		p.setURL(u)
	}
}

func (p *Page) setURL(u string) {
	if u == "" {
		return
	}
	p.mu.Lock()
	p.env.URL = u
	p.mu.Unlock()
}

func (p *Page) evaluate(ctx context.Context, expr string) (json.RawMessage, error) {
	reply, err := p.client.Runtime.Evaluate(ctx, runtime.NewEvaluateArgs(expr).SetReturnByValue(true))
	if err != nil {
		return nil, err
	}
	if reply.ExceptionDetails != nil {
		return nil, fmt.Errorf("evaluate: %s", reply.ExceptionDetails.Text)
	}
	return reply.Result.Value, nil
}

func (p *Page) consume(calls runtime.BindingCalledClient) {
	defer close(p.done)
	defer calls.Close()
	for {
		ev, err := calls.Recv()
		if err != nil {
			if p.ctx.Err() == nil {
				p.log.Err(err, "绑定回调流已中断")
			}
			return
		}
		if ev.Name != bindingName {
			continue
		}
		p.handle(ev.Payload)
	}
}

func (p *Page) handle(payload string) {
	switch ChannelOf(payload) {
	case ChannelEvent:
		ev, ok := ToRawEvent(payload)
		if !ok {
			return
		}
		p.setURL(ev.URL)
		for _, fn := range p.listenersOf(ev.Kind) {
			fn(ev)
		}
	case ChannelPerf:
		e, ok := ToPerformanceEntry(payload)
		if !ok {
			return
		}
		for _, fn := range p.subscribersOf(e.EntryType) {
			fn(e)
		}
	case ChannelEnv:
		env := ToEnvironment(payload)
		p.mu.Lock()
		if env.URL != "" {
			p.env.URL = env.URL
		}
		if env.UserAgent != "" {
			p.env.UserAgent = env.UserAgent
		}
		if env.Viewport.Width > 0 && env.Viewport.Height > 0 {
			p.env.Viewport = env.Viewport
		}
		p.mu.Unlock()
	default:
		p.log.Debug("忽略无法识别的页面消息", "bytes", len(payload))
	}
}

func (p *Page) listenersOf(kind browser.EventKind) []browser.Listener {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]browser.Listener, 0, len(p.listeners[kind]))
	for _, fn := range p.listeners[kind] {
		out = append(out, fn)
	}
	return out
}

func (p *Page) subscribersOf(t browser.EntryType) []func(browser.PerformanceEntry) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]func(browser.PerformanceEntry), 0, len(p.subs[t]))
	for _, fn := range p.subs[t] {
		out = append(out, fn)
	}
	return out
}

// AddListener 实现 browser.EventSource
func (p *Page) AddListener(kind browser.EventKind, fn browser.Listener) func() {
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
		delete(p.listeners[kind], id)
		p.mu.Unlock()
	}
}

// Subscribe 实现 browser.PerformanceSource
func (p *Page) Subscribe(t browser.EntryType, fn func(browser.PerformanceEntry)) func() {
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
		delete(p.subs[t], id)
		p.mu.Unlock()
	}
}

func (p *Page) Location() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.env.URL
}

func (p *Page) UserAgent() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.env.UserAgent
}

func (p *Page) Viewport() model.Viewport {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.env.Viewport
}

// Beacon 通过页面内的 navigator.sendBeacon 投递，页面拆除时浏览器仍会尝试发送
func (p *Page) Beacon(payload []byte) bool {
	if p.opts.BeaconEndpoint == "" {
		return false
	}
	expr, err := BeaconExpr(p.opts.BeaconEndpoint, payload)
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(p.ctx, 2*time.Second)
	defer cancel()
	raw, err := p.evaluate(ctx, expr)
	if err != nil {
		p.log.Err(err, "sendBeacon 调用失败")
		return false
	}
	var ok bool
	_ = json.Unmarshal(raw, &ok)
	return ok
}

// Done 绑定回调流结束（页面关闭或连接断开）时关闭
func (p *Page) Done() <-chan struct{} { return p.done }

// Close 断开连接
func (p *Page) Close() error {
	p.cancel()
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
