// Package privacy 在事件离开监听器之前完成脱敏。
// 输入值永远不会被原样采集，只保留派生元数据。
package privacy

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"rumcapture/internal/config"
	"rumcapture/internal/rules"
)

type compiledPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
	validate    func(match string) bool
}

var (
	emailPattern = `[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`
	cardPattern  = `\b(?:[0-9]{4}[- ]?){3}[0-9]{1,7}\b`
	ssnPattern   = `\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`
	phonePattern = `(?:\+[0-9]{1,3}[ .\-]?)?\(?[0-9]{3}\)?[ .\-][0-9]{3}[ .\-][0-9]{4}\b`
)

// Masker 隐私脱敏器，构造后只读，可并发使用
type Masker struct {
	patterns       []compiledPattern
	maskPasswords  bool
	snippetMax     int
	allowedDomains []string
}

// New 按配置编译启用的脱敏规则
func New(cfg config.RUMConfig) *Masker {
	m := &Masker{
		maskPasswords:  cfg.Privacy.MaskPasswords,
		snippetMax:     cfg.Thresholds.TextSnippetMax,
		allowedDomains: cfg.Privacy.AllowedDomains,
	}
	if m.snippetMax <= 0 {
		m.snippetMax = config.DefaultThresholds().TextSnippetMax
	}
	if !cfg.MaskSensitiveData {
		return m
	}
	p := cfg.Privacy
	if p.MaskEmails {
		m.add("email", emailPattern, nil)
	}
	if p.MaskCreditCards {
		m.add("credit-card", cardPattern, luhnValidateMatch)
	}
	if p.MaskPersonalInfo {
		m.add("ssn", ssnPattern, nil)
		m.add("phone", phonePattern, nil)
	}
	return m
}

func (m *Masker) add(name, pattern string, validate func(string) bool) {
	m.patterns = append(m.patterns, compiledPattern{
		name:        name,
		regex:       regexp.MustCompile(pattern),
		replacement: "[REDACTED:" + name + "]",
		validate:    validate,
	})
}

// Redact 对文本应用所有启用的规则
func (m *Masker) Redact(input string) string {
	if input == "" || len(m.patterns) == 0 {
		return input
	}
	result := input
	for _, p := range m.patterns {
		if p.validate != nil {
			result = p.regex.ReplaceAllStringFunc(result, func(match string) string {
				if p.validate(match) {
					return p.replacement
				}
				return match
			})
			continue
		}
		result = p.regex.ReplaceAllString(result, p.replacement)
	}
	return result
}

// Text 先脱敏再截断，截断始终生效
func (m *Masker) Text(input string) string {
	return Truncate(m.Redact(strings.TrimSpace(input)), m.snippetMax)
}

// Input 返回输入事件可采集的元数据，不含输入值
func (m *Masker) Input(inputType string, hasValue bool, length int) map[string]any {
	inputType = strings.ToLower(inputType)
	if inputType == "" {
		inputType = "text"
	}
	data := map[string]any{
		"inputType": inputType,
		"hasValue":  hasValue,
	}
	if inputType == "password" && m.maskPasswords {
		return data
	}
	data["valueLength"] = length
	return data
}

// URL 不在 allowedDomains 中的地址去掉查询串和片段
func (m *Masker) URL(raw string) string {
	if raw == "" {
		return raw
	}
	if len(m.allowedDomains) > 0 && !rules.HostAllowed(raw, m.allowedDomains) {
		if u, err := url.Parse(raw); err == nil {
			u.RawQuery = ""
			u.Fragment = ""
			u.RawFragment = ""
			raw = u.String()
		}
	}
	return m.Redact(raw)
}

// Truncate 按字符数截断
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

func luhnValidateMatch(match string) bool {
	digits := make([]byte, 0, len(match))
	for i := 0; i < len(match); i++ {
		if match[i] >= '0' && match[i] <= '9' {
			digits = append(digits, match[i])
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	return luhnValid(string(digits))
}

func luhnValid(number string) bool {
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
