package fingerprint

import (
	"errors"
	"strings"

	"rumcapture/internal/privacy"
	"rumcapture/pkg/browser"
	"rumcapture/pkg/model"
)

// maxPathDepth 结构路径最多保留的祖先层数
const maxPathDepth = 5

var ErrNoElement = errors.New("element is nil")

// Fingerprinter 生成元素的稳定身份描述
type Fingerprinter struct {
	masker *privacy.Masker
}

// New 创建指纹生成器，文本片段经由 masker 脱敏和截断
func New(m *privacy.Masker) *Fingerprinter {
	return &Fingerprinter{masker: m}
}

// Describe 生成 ElementInfo
func (f *Fingerprinter) Describe(el *browser.Element) (*model.ElementInfo, error) {
	if el == nil {
		return nil, ErrNoElement
	}
	if el.TagName == "" {
		return nil, errors.New("element has no tag name")
	}
	info := &model.ElementInfo{
		TagName:   strings.ToUpper(el.TagName),
		ID:        el.ID,
		ClassName: normalizeClass(el.ClassName),
		Path:      Path(el),
		Rect:      el.Rect,
	}
	// 密码框不采集任何文本
	if !strings.EqualFold(el.InputType, "password") {
		info.Text = f.masker.Text(el.Text)
	}
	return info, nil
}

// Path 从最近的祖先到目标节点的结构路径，如 "main#app > div.card > button.buy"
func Path(el *browser.Element) string {
	var segs []string
	for cur := el; cur != nil && len(segs) < maxPathDepth; cur = cur.Parent {
		segs = append(segs, segment(cur))
	}
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return strings.Join(segs, " > ")
}

func segment(el *browser.Element) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(el.TagName))
	if el.ID != "" {
		b.WriteString("#")
		b.WriteString(el.ID)
	}
	if cls := normalizeClass(el.ClassName); cls != "" {
		b.WriteString(".")
		b.WriteString(strings.ReplaceAll(cls, " ", "."))
	}
	return b.String()
}

func normalizeClass(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Equal 粗粒度比较：仅比较标签、id 和 class，忽略结构路径与坐标。
// 相同样式的两个不同元素会被视为同一个。
func Equal(a, b *model.ElementInfo) bool {
	if a == nil || b == nil {
		return false
	}
	return a.TagName == b.TagName && a.ID == b.ID && a.ClassName == b.ClassName
}

// Key 与 Equal 一致的字符串键。id 和 class 可含任意字符，以 NUL 分隔
func Key(info *model.ElementInfo) string {
	if info == nil {
		return ""
	}
	return info.TagName + "\x00" + info.ID + "\x00" + info.ClassName
}
