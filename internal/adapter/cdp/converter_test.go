package cdp

import (
	"testing"
	"time"

	"rumcapture/pkg/browser"
	"rumcapture/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestToRawEventClick(t *testing.T) {
	payload := `{"ch":"event","kind":"click","t":1700000000123,"url":"https://a/b","x":12,"y":30,
		"target":{"tag":"BUTTON","id":"buy","cls":"btn primary","role":"","text":"Buy","type":"submit","handler":true,
			"rect":{"x":1,"y":2,"w":80,"h":24},
			"parent":{"tag":"FORM","id":"","cls":"checkout","rect":{}}}}`

	require.Equal(t, ChannelEvent, ChannelOf(payload))
	ev, ok := ToRawEvent(payload)
	require.True(t, ok)
	assert.Equal(t, browser.KindClick, ev.Kind)
	assert.Equal(t, time.UnixMilli(1700000000123), ev.Time)
	assert.Equal(t, 12.0, ev.X)
	require.NotNil(t, ev.Target)
	assert.Equal(t, "BUTTON", ev.Target.TagName)
	assert.True(t, ev.Target.HasClickHandler)
	assert.Equal(t, model.Rect{X: 1, Y: 2, Width: 80, Height: 24}, ev.Target.Rect)
	require.NotNil(t, ev.Target.Parent)
	assert.Equal(t, "checkout", ev.Target.Parent.ClassName)
	assert.Nil(t, ev.Target.Parent.Parent)
}

func TestToRawEventInputCarriesLengthOnly(t *testing.T) {
	ev, ok := ToRawEvent(`{"ch":"event","kind":"input","inputType":"email","has":true,"len":14,
		"target":{"tag":"INPUT","type":"email","text":"","parent":{"tag":"FORM","text":""}}}`)
	require.True(t, ok)
	assert.True(t, ev.HasValue)
	assert.Equal(t, 14, ev.ValueLength)
	assert.Equal(t, "email", ev.InputType)
	require.NotNil(t, ev.Target.Parent)
	assert.Empty(t, ev.Target.Parent.Text)
}

func TestToRawEventWithoutTarget(t *testing.T) {
	ev, ok := ToRawEvent(`{"ch":"event","kind":"error","message":"boom","source":"app.js","line":3,"col":9}`)
	require.True(t, ok)
	assert.Nil(t, ev.Target)
	assert.True(t, ev.Time.IsZero())
	assert.Equal(t, 3, ev.Line)
	assert.Equal(t, 9, ev.Column)
}

func TestMalformedPayload(t *testing.T) {
	assert.Equal(t, Channel(""), ChannelOf(`not json`))
	_, ok := ToRawEvent(`{"ch":"event"}`)
	assert.False(t, ok)
	_, ok = ToPerformanceEntry(`{"ch":"perf"}`)
	assert.False(t, ok)
}

func TestToPerformanceEntry(t *testing.T) {
	e, ok := ToPerformanceEntry(`{"ch":"perf","entryType":"first-input","startTime":100.5,"processingStart":112.5,"hadRecentInput":false}`)
	require.True(t, ok)
	assert.Equal(t, browser.EntryFirstInput, e.EntryType)
	assert.Equal(t, 12.0, e.ProcessingStart-e.StartTime)
}

func TestToEnvironment(t *testing.T) {
	payload := `{"ch":"env","url":"https://a/","ua":"UA/1","w":1440,"h":900}`
	require.Equal(t, ChannelEnv, ChannelOf(payload))
	env := ToEnvironment(payload)
	assert.Equal(t, "https://a/", env.URL)
	assert.Equal(t, model.Viewport{Width: 1440, Height: 900}, env.Viewport)
	assert.Equal(t, "UA/1", env.UserAgent)
}

func TestBeaconExprEscapesPayload(t *testing.T) {
	expr, err := BeaconExpr("https://ingest/rum", []byte(`{"msg":"it's a \"quote\"</script>"}`))
	require.NoError(t, err)
	assert.Contains(t, expr, `navigator.sendBeacon("https://ingest/rum"`)

	start := len(`navigator.sendBeacon("https://ingest/rum", new Blob([`)
	end := len(expr) - len(`], {type: 'application/json'}))`)
	lit := expr[start:end]
	assert.Equal(t, `it's a "quote"</script>`, gjson.Get(gjson.Parse(lit).String(), "msg").String())
}
