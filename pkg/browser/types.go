package browser

import (
	"time"

	"rumcapture/pkg/model"
)

// EventKind 原始浏览器事件类型
type EventKind string

const (
	KindClick              EventKind = "click"
	KindInput              EventKind = "input"
	KindScroll             EventKind = "scroll"
	KindError              EventKind = "error"
	KindUnhandledRejection EventKind = "unhandledrejection"
	KindVisibilityChange   EventKind = "visibilitychange"
	KindBeforeUnload       EventKind = "beforeunload"
	KindNavigation         EventKind = "navigation"
)

// EntryType 性能条目类型
type EntryType string

const (
	EntryPaint       EntryType = "paint"
	EntryLCP         EntryType = "largest-contentful-paint"
	EntryFirstInput  EntryType = "first-input"
	EntryLayoutShift EntryType = "layout-shift"
	EntryNavigation  EntryType = "navigation"
)

// Element 中立的 DOM 节点描述
type Element struct {
	TagName         string     // 大写标签名，如 BUTTON
	ID              string     // id 属性
	ClassName       string     // class 属性
	Role            string     // ARIA role
	Text            string     // 文本片段（未脱敏），仅事件目标携带
	InputType       string     // input 元素的 type
	HasClickHandler bool       // 是否存在内联点击处理
	Rect            model.Rect // 捕获时的包围盒
	Parent          *Element   // 父节点，根节点为 nil
}

// RawEvent 中立的原始浏览器事件
type RawEvent struct {
	Kind   EventKind
	Time   time.Time
	URL    string
	Target *Element

	// click
	X, Y float64

	// input，原始值不离开页面
	InputType   string
	HasValue    bool
	ValueLength int // 按字符计

	// scroll
	ScrollX, ScrollY float64

	// error / unhandledrejection
	Message string
	Source  string
	Line    int
	Column  int

	// visibilitychange
	VisibilityState string
}

// PerformanceEntry 中立的性能条目
type PerformanceEntry struct {
	EntryType       EntryType
	Name            string
	URL             string
	StartTime       float64
	Duration        float64
	ProcessingStart float64
	Value           float64
	HadRecentInput  bool

	DOMContentLoadedEventStart float64
	DOMContentLoadedEventEnd   float64
	LoadEventStart             float64
	LoadEventEnd               float64
	RequestStart               float64
	ResponseStart              float64
}

// Listener 事件回调
type Listener func(ev RawEvent)

// EventSource 页面事件源（window/document 的抽象）
type EventSource interface {
	// AddListener 注册监听，返回的函数用于移除
	AddListener(kind EventKind, fn Listener) (remove func())
	Location() string
	UserAgent() string
	Viewport() model.Viewport
}

// PerformanceSource 性能条目订阅源
type PerformanceSource interface {
	Subscribe(entryType EntryType, fn func(PerformanceEntry)) (cancel func())
}

// Identity 外部身份信息
type Identity struct {
	UserID         string
	OrganizationID string
}

// IdentitySource 身份查询（只读、同步）
type IdentitySource interface {
	Identity() Identity
}

// Timer 可取消的定时器
type Timer interface {
	Stop() bool
}

// Clock 时间源
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// StaticIdentity 固定身份
type StaticIdentity Identity

// Identity 实现 IdentitySource
func (s StaticIdentity) Identity() Identity { return Identity(s) }
