package detector

import (
	"errors"
	"strings"
	"time"

	"rumcapture/internal/config"
	"rumcapture/internal/errs"
	"rumcapture/internal/fingerprint"
	"rumcapture/internal/logger"
	"rumcapture/pkg/browser"
	"rumcapture/pkg/model"
)

var (
	interactiveTags = map[string]bool{
		"A": true, "BUTTON": true, "INPUT": true, "SELECT": true, "TEXTAREA": true, "LABEL": true,
	}
	interactiveRoles = map[string]bool{
		"button": true, "link": true, "checkbox": true, "radio": true, "tab": true, "menuitem": true,
	}
)

type recentClick struct {
	key string
	at  time.Time
}

// RageClickDetector 基于尾部时间窗口的连击检测，非并发安全，由调用方串行化
type RageClickDetector struct {
	window time.Duration
	count  int
	recent []recentClick
}

// NewRageClickDetector 创建连击检测器
func NewRageClickDetector(window time.Duration, count int) *RageClickDetector {
	return &RageClickDetector{window: window, count: count}
}

// Observe 记录一次点击并返回窗口内同指纹点击总数（含本次）及是否达到阈值
func (d *RageClickDetector) Observe(info *model.ElementInfo, at time.Time) (total int, rage bool) {
	d.prune(at)
	key := fingerprint.Key(info)
	prior := 0
	for _, c := range d.recent {
		if c.key == key {
			prior++
		}
	}
	d.recent = append(d.recent, recentClick{key: key, at: at})
	total = prior + 1
	return total, total >= d.count
}

// prune 只保留窗口内的点击，扫描规模受窗口约束
func (d *RageClickDetector) prune(now time.Time) {
	i := 0
	for i < len(d.recent) && now.Sub(d.recent[i].at) > d.window {
		i++
	}
	if i > 0 {
		d.recent = append(d.recent[:0], d.recent[i:]...)
	}
}

// Reset 清空历史
func (d *RageClickDetector) Reset() { d.recent = d.recent[:0] }

// Window 返回窗口大小
func (d *RageClickDetector) Window() time.Duration { return d.window }

// IsDeadClick 目标标签、ARIA role 均非交互型且没有内联点击处理时为死点击
func IsDeadClick(el *browser.Element) bool {
	if el == nil {
		return false
	}
	if interactiveTags[strings.ToUpper(el.TagName)] {
		return false
	}
	if interactiveRoles[strings.ToLower(strings.TrimSpace(el.Role))] {
		return false
	}
	return !el.HasClickHandler
}

// Result 分类结果
type Result struct {
	Type model.EventType
	Data map[string]any
}

// Classifier 点击分类：先判连击，再判死点击，否则为普通点击
type Classifier struct {
	rage *RageClickDetector
	log  logger.Logger
}

// NewClassifier 按阈值配置创建分类器
func NewClassifier(t config.Thresholds, l logger.Logger) *Classifier {
	if l == nil {
		l = logger.NewNop()
	}
	return &Classifier{
		rage: NewRageClickDetector(t.RageWindow(), t.RageClickCount),
		log:  l,
	}
}

// Classify 对单次物理点击给出唯一分类；任何异常都退化为普通点击
func (c *Classifier) Classify(el *browser.Element, info *model.ElementInfo, at time.Time) (res Result) {
	res = Result{Type: model.EventClick, Data: map[string]any{}}
	defer func() {
		if r := recover(); r != nil {
			c.log.Err(errs.FromPanic(errs.KindDetector, "classify", r), "点击分类异常，退化为普通点击")
			res = Result{Type: model.EventClick, Data: map[string]any{}}
		}
	}()

	if el == nil || info == nil {
		c.log.Err(errs.New(errs.KindDetector, "classify", errors.New("malformed click target")), "点击目标无效，退化为普通点击")
		return res
	}

	if total, rage := c.rage.Observe(info, at); rage {
		return Result{
			Type: model.EventRageClick,
			Data: map[string]any{
				"clickCount": total,
				"timeWindow": c.rage.Window().Milliseconds(),
			},
		}
	}
	if IsDeadClick(el) {
		return Result{Type: model.EventDeadClick, Data: map[string]any{}}
	}
	return res
}

// Reset 会话结束时清空检测状态
func (c *Classifier) Reset() { c.rage.Reset() }
