package cdp

import (
	"strings"
	"testing"

	"rumcapture/pkg/browser"
	"rumcapture/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleTracksSPANavigation(t *testing.T) {
	p := newPage(Options{}, Environment{URL: "https://shop.example.com/"})
	defer p.Close()

	p.handle(`{"ch":"env","url":"https://shop.example.com/cart","ua":"UA/2","w":800,"h":600}`)
	assert.Equal(t, "https://shop.example.com/cart", p.Location())
	assert.Equal(t, "UA/2", p.UserAgent())
	assert.Equal(t, model.Viewport{Width: 800, Height: 600}, p.Viewport())

	// 缺失的字段不覆盖已有环境
	p.handle(`{"ch":"env","url":"https://shop.example.com/checkout"}`)
	assert.Equal(t, "https://shop.example.com/checkout", p.Location())
	assert.Equal(t, "UA/2", p.UserAgent())
	assert.Equal(t, model.Viewport{Width: 800, Height: 600}, p.Viewport())
}

func TestHandleDispatchesEventsAndUpdatesURL(t *testing.T) {
	p := newPage(Options{}, Environment{URL: "https://a/"})
	defer p.Close()

	var got []browser.RawEvent
	off := p.AddListener(browser.KindNavigation, func(ev browser.RawEvent) { got = append(got, ev) })

	p.handle(`{"ch":"event","kind":"navigation","t":1700000000000,"url":"https://a/next"}`)
	require.Len(t, got, 1)
	assert.Equal(t, "https://a/next", p.Location())

	off()
	p.handle(`{"ch":"event","kind":"navigation","url":"https://a/again"}`)
	assert.Len(t, got, 1)
	assert.Equal(t, "https://a/again", p.Location())
}

func TestHandleIgnoresUnknownChannel(t *testing.T) {
	p := newPage(Options{}, Environment{URL: "https://a/"})
	defer p.Close()
	p.handle(`{"ch":"other","url":"https://b/"}`)
	p.handle(`garbage`)
	assert.Equal(t, "https://a/", p.Location())
}

func TestHookScriptLimitsText(t *testing.T) {
	script := hookScript(42)
	assert.Contains(t, script, "var TEXT_MAX = 42;")
	assert.NotContains(t, script, "__TEXT_MAX__")
	assert.NotContains(t, script, "m.value")
	assert.Contains(t, script, "text: depth === 0 ?")

	assert.Contains(t, hookScript(0), "var TEXT_MAX = 100;")
	assert.Equal(t, 1, strings.Count(hookScript(7), "TEXT_MAX = 7"))
}
