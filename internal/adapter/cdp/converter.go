package cdp

import (
	"encoding/json"
	"time"

	"rumcapture/pkg/browser"
	"rumcapture/pkg/model"

	"github.com/tidwall/gjson"
)

// Channel 注入脚本的消息通道
type Channel string

const (
	ChannelEvent Channel = "event"
	ChannelPerf  Channel = "perf"
	ChannelEnv   Channel = "env"
)

// ChannelOf 返回消息所属通道，非法载荷返回空串
func ChannelOf(payload string) Channel {
	if !gjson.Valid(payload) {
		return ""
	}
	return Channel(gjson.Get(payload, "ch").String())
}

// ToRawEvent 将事件消息转换为中立 RawEvent。输入事件只携带是否有值与长度
func ToRawEvent(payload string) (browser.RawEvent, bool) {
	r := gjson.Parse(payload)
	kind := browser.EventKind(r.Get("kind").String())
	if kind == "" {
		return browser.RawEvent{}, false
	}
	ev := browser.RawEvent{
		Kind:            kind,
		URL:             r.Get("url").String(),
		Target:          toElement(r.Get("target"), 0),
		X:               r.Get("x").Float(),
		Y:               r.Get("y").Float(),
		InputType:       r.Get("inputType").String(),
		HasValue:        r.Get("has").Bool(),
		ValueLength:     int(r.Get("len").Int()),
		ScrollX:         r.Get("sx").Float(),
		ScrollY:         r.Get("sy").Float(),
		Message:         r.Get("message").String(),
		Source:          r.Get("source").String(),
		Line:            int(r.Get("line").Int()),
		Column:          int(r.Get("col").Int()),
		VisibilityState: r.Get("state").String(),
	}
	if t := r.Get("t"); t.Exists() {
		ev.Time = time.UnixMilli(t.Int())
	}
	return ev, true
}

func toElement(r gjson.Result, depth int) *browser.Element {
	if !r.IsObject() || depth > 5 {
		return nil
	}
	rect := r.Get("rect")
	return &browser.Element{
		TagName:         r.Get("tag").String(),
		ID:              r.Get("id").String(),
		ClassName:       r.Get("cls").String(),
		Role:            r.Get("role").String(),
		Text:            r.Get("text").String(),
		InputType:       r.Get("type").String(),
		HasClickHandler: r.Get("handler").Bool(),
		Rect: model.Rect{
			X:      rect.Get("x").Float(),
			Y:      rect.Get("y").Float(),
			Width:  rect.Get("w").Float(),
			Height: rect.Get("h").Float(),
		},
		Parent: toElement(r.Get("parent"), depth+1),
	}
}

// ToPerformanceEntry 将性能消息转换为中立 PerformanceEntry
func ToPerformanceEntry(payload string) (browser.PerformanceEntry, bool) {
	r := gjson.Parse(payload)
	typ := browser.EntryType(r.Get("entryType").String())
	if typ == "" {
		return browser.PerformanceEntry{}, false
	}
	return browser.PerformanceEntry{
		EntryType:                  typ,
		Name:                       r.Get("name").String(),
		URL:                        r.Get("url").String(),
		StartTime:                  r.Get("startTime").Float(),
		Duration:                   r.Get("duration").Float(),
		ProcessingStart:            r.Get("processingStart").Float(),
		Value:                      r.Get("value").Float(),
		HadRecentInput:             r.Get("hadRecentInput").Bool(),
		DOMContentLoadedEventStart: r.Get("dclStart").Float(),
		DOMContentLoadedEventEnd:   r.Get("dclEnd").Float(),
		LoadEventStart:             r.Get("loadStart").Float(),
		LoadEventEnd:               r.Get("loadEnd").Float(),
		RequestStart:               r.Get("requestStart").Float(),
		ResponseStart:              r.Get("responseStart").Float(),
	}, true
}

// Environment 页面环境快照
type Environment struct {
	URL       string
	UserAgent string
	Viewport  model.Viewport
}

// envExpr 读取页面环境的表达式，结果为 JSON 字符串
const envExpr = `JSON.stringify({url: location.href, ua: navigator.userAgent, w: window.innerWidth, h: window.innerHeight})`

// ToEnvironment 解析 envExpr 的返回值或 env 通道消息
func ToEnvironment(payload string) Environment {
	r := gjson.Parse(payload)
	return Environment{
		URL:       r.Get("url").String(),
		UserAgent: r.Get("ua").String(),
		Viewport:  model.Viewport{Width: int(r.Get("w").Int()), Height: int(r.Get("h").Int())},
	}
}

// BeaconExpr 构造 navigator.sendBeacon 调用，载荷以 JSON 字符串字面量嵌入
func BeaconExpr(endpoint string, payload []byte) (string, error) {
	ep, err := json.Marshal(endpoint)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(string(payload))
	if err != nil {
		return "", err
	}
	return `navigator.sendBeacon(` + string(ep) + `, new Blob([` + string(body) + `], {type: 'application/json'}))`, nil
}
