package rules

import (
	"net/url"
	"regexp"
	"strings"
	"sync"
)

// Mode URL 匹配方式
type Mode string

const (
	ModeGlob   Mode = "glob"
	ModePrefix Mode = "prefix"
	ModeRegex  Mode = "regex"
	ModeExact  Mode = "exact"
)

// Condition 单条 URL 条件
type Condition struct {
	Mode    Mode
	Pattern string
}

// ParseCondition 解析条件字符串：
// "re:<expr>" 为正则，"=<url>" 为精确匹配，含 * 为通配，其余为前缀
func ParseCondition(s string) Condition {
	switch {
	case strings.HasPrefix(s, "re:"):
		return Condition{Mode: ModeRegex, Pattern: strings.TrimPrefix(s, "re:")}
	case strings.HasPrefix(s, "="):
		return Condition{Mode: ModeExact, Pattern: strings.TrimPrefix(s, "=")}
	case strings.Contains(s, "*"):
		return Condition{Mode: ModeGlob, Pattern: s}
	default:
		return Condition{Mode: ModePrefix, Pattern: s}
	}
}

// Engine 按任一条件命中的 URL 匹配器
type Engine struct {
	conds []Condition
}

// New 由条件字符串列表构建匹配器，空串被忽略
func New(patterns []string) *Engine {
	e := &Engine{}
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			e.conds = append(e.conds, ParseCondition(p))
		}
	}
	return e
}

// Match 任一条件命中即返回 true
func (e *Engine) Match(rawURL string) bool {
	if e == nil {
		return false
	}
	for i := range e.conds {
		if cond(rawURL, e.conds[i]) {
			return true
		}
	}
	return false
}

// Len 条件数量
func (e *Engine) Len() int {
	if e == nil {
		return 0
	}
	return len(e.conds)
}

func cond(s string, c Condition) bool {
	switch c.Mode {
	case ModePrefix:
		return strings.HasPrefix(s, c.Pattern)
	case ModeRegex:
		return matchRegex(s, c.Pattern)
	case ModeExact:
		return s == c.Pattern
	default:
		return glob(s, c.Pattern)
	}
}

// HostAllowed 判断 URL 主机是否属于域名列表（含子域名）
func HostAllowed(rawURL string, domains []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range domains {
		d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "."))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

var regexCache sync.Map // pattern -> *regexp.Regexp

func matchRegex(s, pattern string) bool {
	if v, ok := regexCache.Load(pattern); ok {
		return v.(*regexp.Regexp).MatchString(s)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	regexCache.Store(pattern, re)
	return re.MatchString(s)
}

// glob 支持任意位置的 *，匹配任意长度字符
func glob(s, pattern string) bool {
	if pattern == "*" {
		return true
	}
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return s == pattern
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, p := range parts[1 : len(parts)-1] {
		idx := strings.Index(s, p)
		if idx < 0 {
			return false
		}
		s = s[idx+len(p):]
	}
	return strings.HasSuffix(s, last)
}
