package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"rumcapture/internal/ctxkeys"
	"rumcapture/internal/errs"
	"rumcapture/internal/logger"
	"rumcapture/pkg/browser"
	"rumcapture/pkg/model"

	"github.com/tidwall/sjson"
)

// Config 构造参数
type Config struct {
	Sender   Sender
	Beaconer Beaconer // 可选，卸载时优先使用
	Sampler  *Sampler
	Clock    browser.Clock
	Timeout  time.Duration
	Logger   logger.Logger
}

// Transport 负责抽样、序列化与投递。投递在独立 goroutine 中进行，
// 调用方不等待结果；失败只记录日志，不重试。
type Transport struct {
	cfg Config
	log logger.Logger
	wg  sync.WaitGroup
}

// New 创建 Transport
func New(cfg Config) *Transport {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Sampler == nil {
		cfg.Sampler = NewSampler(1, nil)
	}
	return &Transport{cfg: cfg, log: cfg.Logger}
}

// Sampler 返回共享的抽样器
func (t *Transport) Sampler() *Sampler { return t.cfg.Sampler }

// DeliverBatch 投递会话中途因数量上限刷新的部分批次
func (t *Transport) DeliverBatch(id model.SessionID, seq int, events []model.UserEvent) {
	if !t.cfg.Sampler.Decide(id) {
		t.log.Debug("会话未被采样，丢弃批次", "sessionID", string(id), "sequence", seq)
		return
	}
	payload, err := EncodeBatch(id, seq, events, t.now())
	if err != nil {
		t.log.Err(errs.New(errs.KindTransport, "encodeBatch", err), "批次序列化失败", "sessionID", string(id))
		return
	}
	t.send(id, payload)
}

// DeliverSession 投递已终结的会话；unload 为真时优先走 beacon
func (t *Transport) DeliverSession(s *model.Session, unload bool) {
	defer t.cfg.Sampler.Forget(s.SessionID)
	if !t.cfg.Sampler.Decide(s.SessionID) {
		t.log.Debug("会话未被采样，丢弃", "sessionID", string(s.SessionID))
		return
	}
	payload, err := json.Marshal(s)
	if err != nil {
		t.log.Err(errs.New(errs.KindTransport, "encodeSession", err), "会话序列化失败", "sessionID", string(s.SessionID))
		return
	}
	if unload && t.cfg.Beaconer != nil {
		if t.beacon(payload) {
			t.log.Debug("会话已通过 beacon 投递", "sessionID", string(s.SessionID), "bytes", len(payload))
			return
		}
		t.log.Warn("beacon 未被接受，改用普通投递", "sessionID", string(s.SessionID))
	}
	t.send(s.SessionID, payload)
}

func (t *Transport) beacon(payload []byte) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Err(errs.FromPanic(errs.KindTransport, "beacon", r), "beacon 投递异常")
			ok = false
		}
	}()
	return t.cfg.Beaconer.Beacon(payload)
}

func (t *Transport) send(id model.SessionID, payload []byte) {
	if t.cfg.Sender == nil {
		t.log.Warn("未配置投递端点，丢弃载荷", "sessionID", string(id))
		return
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				t.log.Err(errs.FromPanic(errs.KindTransport, "send", r), "投递异常")
			}
		}()

		ctx := ctxkeys.WithSessionID(context.Background(), string(id))
		if t.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
			defer cancel()
		}
		if err := t.cfg.Sender.Send(ctx, payload); err != nil {
			t.log.Err(err, "投递失败，已丢弃", "sessionID", string(id), "bytes", len(payload))
			return
		}
		t.log.Debug("投递成功", "sessionID", string(id), "bytes", len(payload))
	}()
}

// Wait 等待在途投递完成
func (t *Transport) Wait() { t.wg.Wait() }

func (t *Transport) now() time.Time {
	if t.cfg.Clock == nil {
		return time.Now()
	}
	return t.cfg.Clock.Now()
}

// EncodeBatch 部分批次载荷：携带 sessionId、partial、sequence 便于后端拼接
func EncodeBatch(id model.SessionID, seq int, events []model.UserEvent, sentAt time.Time) ([]byte, error) {
	raw, err := json.Marshal(events)
	if err != nil {
		return nil, err
	}
	out := []byte(`{}`)
	if out, err = sjson.SetBytes(out, "sessionId", string(id)); err != nil {
		return nil, err
	}
	if out, err = sjson.SetBytes(out, "partial", true); err != nil {
		return nil, err
	}
	if out, err = sjson.SetBytes(out, "sequence", seq); err != nil {
		return nil, err
	}
	if out, err = sjson.SetBytes(out, "sentAt", sentAt.UnixMilli()); err != nil {
		return nil, err
	}
	return sjson.SetRawBytes(out, "events", raw)
}
