package config

import (
	"fmt"
	"strings"
	"time"

	"rumcapture/internal/logger"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	SamplingAtFlush = "flush"
	SamplingAtStart = "start"

	envPrefix = "RUM_"
)

// Config 配置文件结构体
type Config struct {
	Version   string          `koanf:"version" yaml:"version"`
	Sqlite    SqliteConfig    `koanf:"sqlite" yaml:"sqlite"`
	Log       LogConfig       `koanf:"log" yaml:"log"`
	DevTools  DevToolsConfig  `koanf:"devtools" yaml:"devtools"`
	Transport TransportConfig `koanf:"transport" yaml:"transport"`
	RUM       RUMConfig       `koanf:"rum" yaml:"rum"`
}

type SqliteConfig struct {
	Dsn    string `koanf:"dsn" yaml:"dsn"`
	Prefix string `koanf:"prefix" yaml:"prefix"`
}

type LogConfig struct {
	Level  string   `koanf:"level" yaml:"level"`
	Writer []string `koanf:"writer" yaml:"writer"`
	File   string   `koanf:"file" yaml:"file"`
}

type DevToolsConfig struct {
	URL string `koanf:"url" yaml:"url"`
}

type TransportConfig struct {
	Endpoint  string `koanf:"endpoint" yaml:"endpoint"`
	TimeoutMS int    `koanf:"timeout_ms" yaml:"timeout_ms"`
}

// RUMConfig 采集策略，构造引擎后不再修改
type RUMConfig struct {
	Enabled             bool            `koanf:"enabled" yaml:"enabled"`
	SampleRate          float64         `koanf:"sample_rate" yaml:"sample_rate"`
	SamplingMode        string          `koanf:"sampling_mode" yaml:"sampling_mode"`
	MaxSessionDuration  int             `koanf:"max_session_duration" yaml:"max_session_duration"` // 分钟，0 表示不超时
	MaxEventsPerSession int             `koanf:"max_events_per_session" yaml:"max_events_per_session"`
	CaptureClicks       bool            `koanf:"capture_clicks" yaml:"capture_clicks"`
	CaptureInputs       bool            `koanf:"capture_inputs" yaml:"capture_inputs"`
	CaptureScroll       bool            `koanf:"capture_scroll" yaml:"capture_scroll"`
	CaptureErrors       bool            `koanf:"capture_errors" yaml:"capture_errors"`
	CapturePerformance  bool            `koanf:"capture_performance" yaml:"capture_performance"`
	MaskSensitiveData   bool            `koanf:"mask_sensitive_data" yaml:"mask_sensitive_data"`
	ExcludedURLs        []string        `koanf:"excluded_urls" yaml:"excluded_urls"`
	Privacy             PrivacySettings `koanf:"privacy_settings" yaml:"privacy_settings"`
	Thresholds          Thresholds      `koanf:"thresholds" yaml:"thresholds"`
}

type PrivacySettings struct {
	MaskPasswords    bool     `koanf:"mask_passwords" yaml:"mask_passwords"`
	MaskEmails       bool     `koanf:"mask_emails" yaml:"mask_emails"`
	MaskCreditCards  bool     `koanf:"mask_credit_cards" yaml:"mask_credit_cards"`
	MaskPersonalInfo bool     `koanf:"mask_personal_info" yaml:"mask_personal_info"`
	AllowedDomains   []string `koanf:"allowed_domains" yaml:"allowed_domains"`
}

// Thresholds 启发式检测与采集节流参数
type Thresholds struct {
	// RageClickWindowMS 连击统计的尾部窗口
	RageClickWindowMS int `koanf:"rage_click_window_ms" yaml:"rage_click_window_ms"`
	// RageClickCount 窗口内达到该次数（含本次）判定为连击
	RageClickCount int `koanf:"rage_click_count" yaml:"rage_click_count"`
	// TextSnippetMax 元素文本片段最大字符数
	TextSnippetMax int `koanf:"text_snippet_max" yaml:"text_snippet_max"`
	// ScrollDebounceMS 滚动事件尾部防抖
	ScrollDebounceMS int `koanf:"scroll_debounce_ms" yaml:"scroll_debounce_ms"`
}

// DefaultThresholds 默认阈值
func DefaultThresholds() Thresholds {
	return Thresholds{
		RageClickWindowMS: 1000,
		RageClickCount:    3,
		TextSnippetMax:    100,
		ScrollDebounceMS:  100,
	}
}

// DefaultRUM 默认采集策略
func DefaultRUM() RUMConfig {
	return RUMConfig{
		Enabled:             true,
		SampleRate:          1,
		SamplingMode:        SamplingAtFlush,
		MaxSessionDuration:  30,
		MaxEventsPerSession: 1000,
		CaptureClicks:       true,
		CaptureInputs:       true,
		CaptureScroll:       true,
		CaptureErrors:       true,
		CapturePerformance:  true,
		MaskSensitiveData:   true,
		Privacy: PrivacySettings{
			MaskPasswords:    true,
			MaskEmails:       true,
			MaskCreditCards:  true,
			MaskPersonalInfo: true,
		},
		Thresholds: DefaultThresholds(),
	}
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Version: "1.0.0",
		Sqlite: SqliteConfig{
			Dsn:    "",
			Prefix: "rum_",
		},
		Log: LogConfig{
			Level:  "info",
			Writer: []string{"console"},
		},
		DevTools:  DevToolsConfig{URL: "http://127.0.0.1:9222"},
		Transport: TransportConfig{TimeoutMS: 5000},
		RUM:       DefaultRUM(),
	}
}

// Load 依次加载默认值、YAML 文件（path 为空时跳过）和 RUM_ 前缀环境变量
func Load(path string, l logger.Logger) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// RUM_RUM__SAMPLE_RATE -> rum.sample_rate
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := NewConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.RUM = cfg.RUM.Normalize(l)
	return cfg, nil
}

// Normalize 将越界值钳制到最近的合法边界，每次钳制记录一条告警
func (c RUMConfig) Normalize(l logger.Logger) RUMConfig {
	if l == nil {
		l = logger.NewNop()
	}
	clampWarn := func(field string, from, to any) {
		l.Warn("配置值越界，已钳制", "field", field, "from", from, "to", to)
	}

	if c.SampleRate < 0 {
		clampWarn("sample_rate", c.SampleRate, 0)
		c.SampleRate = 0
	} else if c.SampleRate > 1 {
		clampWarn("sample_rate", c.SampleRate, 1)
		c.SampleRate = 1
	}
	if c.MaxSessionDuration < 0 {
		clampWarn("max_session_duration", c.MaxSessionDuration, 0)
		c.MaxSessionDuration = 0
	}
	if c.MaxEventsPerSession < 0 {
		clampWarn("max_events_per_session", c.MaxEventsPerSession, 0)
		c.MaxEventsPerSession = 0
	}
	switch c.SamplingMode {
	case SamplingAtFlush, SamplingAtStart:
	case "":
		c.SamplingMode = SamplingAtFlush
	default:
		clampWarn("sampling_mode", c.SamplingMode, SamplingAtFlush)
		c.SamplingMode = SamplingAtFlush
	}

	def := DefaultThresholds()
	t := &c.Thresholds
	if t.RageClickWindowMS <= 0 {
		t.RageClickWindowMS = def.RageClickWindowMS
	}
	if t.RageClickCount < 2 {
		t.RageClickCount = def.RageClickCount
	}
	if t.TextSnippetMax <= 0 {
		t.TextSnippetMax = def.TextSnippetMax
	}
	if t.ScrollDebounceMS < 0 {
		clampWarn("thresholds.scroll_debounce_ms", t.ScrollDebounceMS, 0)
		t.ScrollDebounceMS = 0
	}

	c.ExcludedURLs = append([]string(nil), c.ExcludedURLs...)
	c.Privacy.AllowedDomains = append([]string(nil), c.Privacy.AllowedDomains...)
	return c
}

// SessionTimeout 会话最长持续时间，0 表示不限制
func (c RUMConfig) SessionTimeout() time.Duration {
	return time.Duration(c.MaxSessionDuration) * time.Minute
}

func (t Thresholds) RageWindow() time.Duration {
	return time.Duration(t.RageClickWindowMS) * time.Millisecond
}

func (t Thresholds) ScrollDebounce() time.Duration {
	return time.Duration(t.ScrollDebounceMS) * time.Millisecond
}

func (c TransportConfig) Timeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}
