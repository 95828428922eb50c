package model

type SessionID string

// EventType 用户事件类型（封闭集合）
type EventType string

const (
	EventPageView    EventType = "page_view"
	EventClick       EventType = "click"
	EventInput       EventType = "input"
	EventScroll      EventType = "scroll"
	EventError       EventType = "error"
	EventPerformance EventType = "performance"
	EventRageClick   EventType = "rage_click"
	EventDeadClick   EventType = "dead_click"
	EventCustom      EventType = "custom"
)

// Valid 判断事件类型是否属于封闭集合
func (t EventType) Valid() bool {
	switch t {
	case EventPageView, EventClick, EventInput, EventScroll, EventError,
		EventPerformance, EventRageClick, EventDeadClick, EventCustom:
		return true
	}
	return false
}

// IsClick 是否为单次物理点击产生的三类事件之一
func (t EventType) IsClick() bool {
	return t == EventClick || t == EventRageClick || t == EventDeadClick
}

// EndReason 会话结束原因
type EndReason string

const (
	EndTimeout  EndReason = "timeout"
	EndUnload   EndReason = "unload"
	EndManual   EndReason = "manual"
	EndShutdown EndReason = "shutdown"
)

type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ElementInfo 元素指纹及上下文
type ElementInfo struct {
	TagName   string `json:"tagName"`
	ID        string `json:"id,omitempty"`
	ClassName string `json:"className,omitempty"`
	Text      string `json:"text,omitempty"`
	Path      string `json:"path"`
	Rect      Rect   `json:"rect"`
}

// PerformanceData 单条性能观测，未观测到的指标为 nil
type PerformanceData struct {
	LCP              *float64 `json:"lcp,omitempty"`
	FID              *float64 `json:"fid,omitempty"`
	CLS              *float64 `json:"cls,omitempty"`
	FCP              *float64 `json:"fcp,omitempty"`
	TTFB             *float64 `json:"ttfb,omitempty"`
	DOMContentLoaded *float64 `json:"domContentLoaded,omitempty"`
	LoadComplete     *float64 `json:"loadComplete,omitempty"`
}

// SessionPerformance 会话级性能聚合，仅在会话结束时计算一次
type SessionPerformance struct {
	AverageLCP  float64 `json:"averageLCP"`
	AverageFID  float64 `json:"averageFID"`
	AverageCLS  float64 `json:"averageCLS"`
	SlowestPage string  `json:"slowestPage,omitempty"`
	ErrorRate   float64 `json:"errorRate"`
}

// UserEvent 规范化的用户事件
type UserEvent struct {
	Timestamp   int64            `json:"timestamp"`
	Type        EventType        `json:"type"`
	Data        map[string]any   `json:"data"`
	URL         string           `json:"url"`
	Element     *ElementInfo     `json:"element,omitempty"`
	Performance *PerformanceData `json:"performance,omitempty"`
}

type SessionMetadata struct {
	LandingPage  string              `json:"landingPage"`
	ExitPage     string              `json:"exitPage,omitempty"`
	PagesViewed  int                 `json:"pagesViewed"`
	Interactions int                 `json:"interactions"`
	Errors       int                 `json:"errors"`
	Performance  *SessionPerformance `json:"performance,omitempty"`
}

// Session 单个浏览上下文的一次观测窗口
type Session struct {
	SessionID      SessionID       `json:"sessionId"`
	UserID         string          `json:"userId,omitempty"`
	OrganizationID string          `json:"organizationId,omitempty"`
	StartTime      int64           `json:"startTime"`
	EndTime        *int64          `json:"endTime,omitempty"`
	Duration       *int64          `json:"duration,omitempty"`
	UserAgent      string          `json:"userAgent"`
	Viewport       Viewport        `json:"viewport"`
	Events         []UserEvent     `json:"events"`
	Metadata       SessionMetadata `json:"metadata"`
	EndReason      EndReason       `json:"endReason,omitempty"`
}

// Ended 会话是否已完成终结
func (s *Session) Ended() bool { return s.EndTime != nil }

// Float 返回指标指针，便于构造 PerformanceData
func Float(v float64) *float64 { return &v }
