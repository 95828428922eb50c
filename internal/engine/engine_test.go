package engine

import (
	"sync"
	"testing"
	"time"

	"rumcapture/internal/clock"
	"rumcapture/internal/config"
	"rumcapture/internal/errs"
	"rumcapture/internal/testutil"
	"rumcapture/internal/transport"
	"rumcapture/pkg/browser"
	"rumcapture/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

var start = time.UnixMilli(1_700_000_000_000)

type harness struct {
	engine *Engine
	page   *testutil.FakePage
	clk    *clock.Fake
	sender *testutil.Sender

	mu    sync.Mutex
	ended []model.Session
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		page:   testutil.NewFakePage("https://shop.example.com/"),
		clk:    clock.NewFake(start),
		sender: &testutil.Sender{},
	}
	opts := Options{
		Config:   config.DefaultRUM(),
		Clock:    h.clk,
		Source:   h.page,
		Perf:     h.page,
		Identity: browser.StaticIdentity{UserID: "u-7"},
		Sender:   h.sender,
		OnEnd: func(s model.Session) {
			h.mu.Lock()
			h.ended = append(h.ended, s)
			h.mu.Unlock()
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.engine = New(opts)
	return h
}

func (h *harness) sessions() []model.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.Session(nil), h.ended...)
}

func (h *harness) click(el *browser.Element) {
	h.page.Dispatch(browser.RawEvent{Kind: browser.KindClick, Time: h.clk.Now(), Target: el})
}

func TestRageClickEndToEnd(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.engine.Start()
	require.NoError(t, err)

	btn := &browser.Element{TagName: "BUTTON", ID: "pay"}
	for _, gap := range []time.Duration{0, 400, 400, 1100} {
		h.clk.Advance(gap * time.Millisecond)
		h.click(btn)
	}
	require.True(t, h.engine.End())
	h.engine.Wait()

	body := h.sender.Last()
	require.NotNil(t, body)
	types := gjson.GetBytes(body, "events.#.type").Array()
	require.Len(t, types, 5)
	assert.Equal(t, "page_view", types[0].String())
	assert.Equal(t, "click", types[1].String())
	assert.Equal(t, "click", types[2].String())
	assert.Equal(t, "rage_click", types[3].String())
	assert.Equal(t, "click", types[4].String())
	assert.Equal(t, int64(3), gjson.GetBytes(body, "events.3.data.clickCount").Int())
	assert.Equal(t, "u-7", gjson.GetBytes(body, "userId").String())
	assert.Equal(t, int64(4), gjson.GetBytes(body, "metadata.interactions").Int())
}

func TestTimeoutEndsSession(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Config.MaxSessionDuration = 1 })
	_, err := h.engine.Start()
	require.NoError(t, err)

	h.clk.Advance(time.Minute)
	require.Eventually(t, func() bool { return len(h.sessions()) == 1 }, time.Second, 5*time.Millisecond)
	h.engine.Wait()

	ended := h.sessions()
	require.Len(t, ended, 1)
	assert.Equal(t, int64(60000), *ended[0].Duration)
	assert.Equal(t, model.EndTimeout, ended[0].EndReason)
	assert.Zero(t, h.page.ListenerCount(browser.KindClick))
	assert.Zero(t, h.page.SubscriberCount())
}

func TestPasswordNeverLeaves(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.Start()
	h.page.Dispatch(browser.RawEvent{
		Kind:        browser.KindInput,
		Target:      &browser.Element{TagName: "INPUT", InputType: "password", ID: "pw"},
		HasValue:    true,
		ValueLength: 14,
	})
	h.engine.End()
	h.engine.Wait()

	body := string(h.sender.Last())
	assert.False(t, gjson.Get(body, `events.#(type=="input").data.valueLength`).Exists())
	assert.True(t, gjson.Get(body, `events.#(type=="input").data.hasValue`).Bool())
}

func TestCapFlushSendsPartialBatch(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Config.MaxEventsPerSession = 5 })
	id, _ := h.engine.Start()
	for i := 0; i < 7; i++ {
		h.clk.Advance(2 * time.Second)
		h.click(&browser.Element{TagName: "A"})
	}
	snap, ok := h.engine.Snapshot()
	require.True(t, ok)
	assert.Len(t, snap.Events, 3)

	h.engine.End()
	h.engine.Wait()

	all := h.sender.All()
	require.Len(t, all, 2)
	var partial, final []byte
	for _, p := range all {
		if gjson.GetBytes(p, "partial").Bool() {
			partial = p
		} else {
			final = p
		}
	}
	require.NotNil(t, partial)
	require.NotNil(t, final)
	assert.Equal(t, string(id), gjson.GetBytes(partial, "sessionId").String())
	assert.Equal(t, int64(5), gjson.GetBytes(partial, "events.#").Int())
	assert.Equal(t, int64(3), gjson.GetBytes(final, "events.#").Int())
}

func TestIdempotentEnd(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.Start()
	h.clk.Advance(time.Second)
	assert.True(t, h.engine.End())
	h.clk.Advance(time.Second)
	assert.False(t, h.engine.End())
	h.engine.Wait()

	ended := h.sessions()
	require.Len(t, ended, 1)
	assert.Equal(t, start.Add(time.Second).UnixMilli(), *ended[0].EndTime)
	assert.Equal(t, 1, h.sender.Calls())
}

func TestStartGuards(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		h := newHarness(t, func(o *Options) { o.Config.Enabled = false })
		_, err := h.engine.Start()
		assert.ErrorIs(t, err, errs.ErrDisabled)
		assert.Zero(t, h.page.ListenerCount(browser.KindClick))
	})
	t.Run("excluded url", func(t *testing.T) {
		h := newHarness(t, func(o *Options) { o.Config.ExcludedURLs = []string{"https://shop.example.com/*"} })
		_, err := h.engine.Start()
		assert.ErrorIs(t, err, errs.ErrExcludedURL)
	})
	t.Run("already active", func(t *testing.T) {
		h := newHarness(t, nil)
		first, err := h.engine.Start()
		require.NoError(t, err)
		again, err := h.engine.Start()
		assert.ErrorIs(t, err, errs.ErrSessionActive)
		assert.Equal(t, first, again)
		assert.Equal(t, 1, h.page.ListenerCount(browser.KindClick))
	})
	t.Run("not sampled at start", func(t *testing.T) {
		h := newHarness(t, func(o *Options) {
			o.Config.SampleRate = 0.5
			o.Config.SamplingMode = config.SamplingAtStart
			o.Sampler = transport.NewSampler(0.5, func() float64 { return 0.99 })
		})
		_, err := h.engine.Start()
		assert.ErrorIs(t, err, errs.ErrNotSampled)
		_, active := h.engine.Active()
		assert.False(t, active)
		assert.Zero(t, h.page.ListenerCount(browser.KindClick))
	})
}

func TestSampledAtStartIsDelivered(t *testing.T) {
	draws := 0
	h := newHarness(t, func(o *Options) {
		o.Config.SampleRate = 0.5
		o.Config.SamplingMode = config.SamplingAtStart
		o.Sampler = transport.NewSampler(0.5, func() float64 { draws++; return 0.1 })
	})
	_, err := h.engine.Start()
	require.NoError(t, err)
	h.engine.End()
	h.engine.Wait()
	assert.Equal(t, 1, h.sender.Calls())
	assert.Equal(t, 1, draws)
}

func TestUnsampledSessionStillReportsOnEnd(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Config.SampleRate = 0
	})
	h.engine.Start()
	h.engine.End()
	h.engine.Wait()
	assert.Zero(t, h.sender.Calls())
	assert.Len(t, h.sessions(), 1)
}

type beaconRecorder struct {
	mu    sync.Mutex
	calls [][]byte
}

func (b *beaconRecorder) Beacon(p []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, p)
	return true
}

func TestBeforeUnloadUsesBeacon(t *testing.T) {
	beacon := &beaconRecorder{}
	h := newHarness(t, func(o *Options) { o.Beaconer = beacon })
	h.engine.Start()
	h.page.Dispatch(browser.RawEvent{Kind: browser.KindScroll, ScrollY: 300})
	h.page.Dispatch(browser.RawEvent{Kind: browser.KindBeforeUnload})
	h.engine.Wait()

	require.Len(t, beacon.calls, 1)
	assert.Zero(t, h.sender.Calls())
	body := beacon.calls[0]
	assert.Equal(t, "unload", gjson.GetBytes(body, "endReason").String())
	// 卸载时防抖中的滚动事件被输出
	assert.Equal(t, 300.0, gjson.GetBytes(body, `events.#(type=="scroll").data.scrollY`).Float())
	_, active := h.engine.Active()
	assert.False(t, active)
}

func TestPerformanceAggregates(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.Start()

	h.page.Emit(browser.PerformanceEntry{EntryType: browser.EntryPaint, Name: "first-contentful-paint", StartTime: 400})
	h.page.Emit(browser.PerformanceEntry{EntryType: browser.EntryLCP, StartTime: 1200})
	h.page.Emit(browser.PerformanceEntry{EntryType: browser.EntryLCP, StartTime: 1800})
	h.page.Emit(browser.PerformanceEntry{EntryType: browser.EntryNavigation, LoadEventStart: 2000, LoadEventEnd: 2050})
	h.page.Emit(browser.PerformanceEntry{EntryType: browser.EntryLayoutShift, Value: 0.1})
	h.page.Emit(browser.PerformanceEntry{EntryType: browser.EntryLayoutShift, Value: 0.5, HadRecentInput: true})
	h.click(&browser.Element{TagName: "BUTTON"})
	h.page.Emit(browser.PerformanceEntry{EntryType: browser.EntryLCP, StartTime: 2500})
	h.page.Emit(browser.PerformanceEntry{EntryType: browser.EntryFirstInput, StartTime: 3000, ProcessingStart: 3016})
	h.page.Dispatch(browser.RawEvent{Kind: browser.KindError, Message: "boom"})

	h.engine.End()
	h.engine.Wait()

	ended := h.sessions()
	require.Len(t, ended, 1)
	p := ended[0].Metadata.Performance
	require.NotNil(t, p)
	assert.Equal(t, 1800.0, p.AverageLCP)
	assert.Equal(t, 16.0, p.AverageFID)
	assert.InDelta(t, 0.1, p.AverageCLS, 1e-9)
	assert.Equal(t, "https://shop.example.com/", p.SlowestPage)
	assert.Equal(t, 1.0, p.ErrorRate)
	assert.Equal(t, 1, ended[0].Metadata.Errors)
}

func TestTrackCustomEvent(t *testing.T) {
	h := newHarness(t, nil)
	assert.ErrorIs(t, h.engine.Track("checkout", nil), errs.ErrNoSession)

	h.engine.Start()
	require.NoError(t, h.engine.Track("checkout", map[string]any{"email": "buyer@example.com", "items": 3}))
	h.engine.End()

	ended := h.sessions()
	require.Len(t, ended, 1)
	var custom *model.UserEvent
	for i := range ended[0].Events {
		if ended[0].Events[i].Type == model.EventCustom {
			custom = &ended[0].Events[i]
		}
	}
	require.NotNil(t, custom)
	assert.Equal(t, "checkout", custom.Data["name"])
	assert.Equal(t, 3, custom.Data["items"])
	assert.NotContains(t, custom.Data["email"], "buyer@example.com")
	assert.Zero(t, ended[0].Metadata.Interactions)
}

func TestRestartReattachesListeners(t *testing.T) {
	h := newHarness(t, nil)
	first, _ := h.engine.Start()
	h.engine.End()
	second, err := h.engine.Start()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, 1, h.page.ListenerCount(browser.KindClick))

	h.click(&browser.Element{TagName: "BUTTON"})
	snap, _ := h.engine.Snapshot()
	assert.Len(t, snap.Events, 2)
}

func TestShutdownDrainsDelivery(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.Start()
	h.engine.Shutdown()
	require.Equal(t, 1, h.sender.Calls())
	assert.Equal(t, "shutdown", gjson.GetBytes(h.sender.Last(), "endReason").String())
}
