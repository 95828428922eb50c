package storage

import (
	"context"
	"time"

	"rumcapture/internal/ctxkeys"
	rlog "rumcapture/internal/logger"

	"gorm.io/gorm/logger"
)

// GormLogger 将 GORM 日志桥接到结构化日志，并带上投递上下文中的会话 ID
type GormLogger struct {
	rlog.Logger
	LogLevel      logger.LogLevel
	SlowThreshold time.Duration
}

// NewGormLogger 默认只输出警告及以上
func NewGormLogger(l rlog.Logger) *GormLogger {
	return &GormLogger{
		Logger:        l,
		LogLevel:      logger.Warn,
		SlowThreshold: 500 * time.Millisecond,
	}
}

// LogMode 设置日志级别
func (l *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	n := *l
	n.LogLevel = level
	return &n
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Info {
		l.Logger.Info(msg, l.fields(ctx, "args", data)...)
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Warn {
		l.Logger.Warn(msg, l.fields(ctx, "args", data)...)
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Error {
		l.Logger.Error(msg, l.fields(ctx, "args", data)...)
	}
}

// Trace 记录 SQL，慢查询与失败分别提升级别
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := l.fields(ctx, "sql", sql, "rows", rows, "timeMs", float64(elapsed.Nanoseconds())/1e6)

	switch {
	case err != nil && l.LogLevel >= logger.Error:
		l.Logger.Err(err, "归档写入失败", fields...)
	case l.SlowThreshold > 0 && elapsed > l.SlowThreshold && l.LogLevel >= logger.Warn:
		l.Logger.Warn("归档慢查询", append(fields, "threshold", l.SlowThreshold.String())...)
	case l.LogLevel == logger.Info:
		l.Logger.Debug("SQL执行", fields...)
	}
}

func (l *GormLogger) fields(ctx context.Context, kv ...any) []any {
	return append([]any{"sessionID", ctxkeys.SessionID(ctx)}, kv...)
}
