package storage

import (
	"context"
	"time"

	"rumcapture/internal/errs"
	rlog "rumcapture/internal/logger"

	"github.com/glebarez/sqlite"
	"github.com/tidwall/gjson"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Payload 一次投递的归档记录
type Payload struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"size:64;index"`
	Partial   bool
	Sequence  int
	Body      string `gorm:"type:text"`
	CreatedAt time.Time
}

// Archive 将投递载荷写入本地 SQLite，可与 HTTP 投递并列使用
type Archive struct {
	db *gorm.DB
}

// Open 打开或创建归档库
func Open(dsn, prefix string, l rlog.Logger) (*Archive, error) {
	if l == nil {
		l = rlog.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         NewGormLogger(l.With("component", "archive")),
		NamingStrategy: schema.NamingStrategy{TablePrefix: prefix},
	})
	if err != nil {
		return nil, errs.New(errs.KindTransport, "archive.open", err)
	}
	if err := db.AutoMigrate(&Payload{}); err != nil {
		return nil, errs.New(errs.KindTransport, "archive.migrate", err)
	}
	return &Archive{db: db}, nil
}

// Send 写入一条载荷，会话 ID 与分批信息从载荷中解析
func (a *Archive) Send(ctx context.Context, payload []byte) error {
	rec := Payload{
		SessionID: gjson.GetBytes(payload, "sessionId").String(),
		Partial:   gjson.GetBytes(payload, "partial").Bool(),
		Sequence:  int(gjson.GetBytes(payload, "sequence").Int()),
		Body:      string(payload),
	}
	if err := a.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return errs.New(errs.KindTransport, "archive.send", err)
	}
	return nil
}

// BySession 按写入顺序返回会话的全部载荷
func (a *Archive) BySession(ctx context.Context, sessionID string) ([]Payload, error) {
	var out []Payload
	err := a.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id").
		Find(&out).Error
	return out, err
}

// Count 归档记录总数
func (a *Archive) Count(ctx context.Context) (int64, error) {
	var n int64
	err := a.db.WithContext(ctx).Model(&Payload{}).Count(&n).Error
	return n, err
}

// Close 关闭底层连接
func (a *Archive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
