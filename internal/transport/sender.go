package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"rumcapture/internal/ctxkeys"
	"rumcapture/internal/errs"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Sender 投递一份 JSON 载荷
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

// Beaconer 卸载时的尽力投递，返回平台是否接受了该请求
type Beaconer interface {
	Beacon(payload []byte) bool
}

// SenderFunc 函数适配
type SenderFunc func(ctx context.Context, payload []byte) error

func (f SenderFunc) Send(ctx context.Context, payload []byte) error { return f(ctx, payload) }

// HTTPSender 以 POST application/json 投递到采集端点
type HTTPSender struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSender 创建 HTTP 投递器，client 为空时使用带 otel 埋点的默认客户端
func NewHTTPSender(endpoint string, timeout time.Duration, client *http.Client) *HTTPSender {
	if client == nil {
		client = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &HTTPSender{endpoint: endpoint, client: client}
}

func (s *HTTPSender) Send(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return errs.New(errs.KindTransport, "send", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id := ctxkeys.SessionID(ctx); id != "" {
		req.Header.Set("X-RUM-Session", id)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errs.New(errs.KindTransport, "send", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errs.New(errs.KindTransport, "send", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return nil
}

// Fanout 依次投递到全部 Sender，任一失败都会返回合并后的错误
type Fanout []Sender

func (f Fanout) Send(ctx context.Context, payload []byte) error {
	var all []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, payload); err != nil {
			all = append(all, err)
		}
	}
	return errors.Join(all...)
}
