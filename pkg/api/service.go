package api

import (
	"context"
	"errors"

	cdpadapter "rumcapture/internal/adapter/cdp"
	"rumcapture/internal/config"
	"rumcapture/internal/engine"
	"rumcapture/internal/logger"
	"rumcapture/internal/storage"
	"rumcapture/internal/transport"
	"rumcapture/pkg/browser"
	"rumcapture/pkg/model"
)

// Service 会话采集服务接口
type Service interface {
	// StartSession 开始会话
	StartSession() (model.SessionID, error)

	// EndSession 结束当前会话
	EndSession() bool

	// Track 记录自定义事件
	Track(name string, data map[string]any) error

	// ActiveSession 当前会话
	ActiveSession() (model.SessionID, bool)

	// Close 结束会话、等待投递并释放连接
	Close() error
}

// Sources 浏览器侧端口
type Sources struct {
	Events   browser.EventSource
	Perf     browser.PerformanceSource
	Beaconer transport.Beaconer
	Identity browser.IdentitySource
	Clock    browser.Clock
}

// Options 可选项
type Options struct {
	Logger logger.Logger
	OnEnd  func(s model.Session)
}

type service struct {
	engine  *engine.Engine
	archive *storage.Archive
	closers []func() error
}

// NewService 通过 DevTools 附着浏览器标签页并创建服务
func NewService(ctx context.Context, cfg *config.Config, opts Options) (Service, error) {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	page, err := cdpadapter.Connect(ctx, cdpadapter.Options{
		DevToolsURL:    cfg.DevTools.URL,
		BeaconEndpoint: cfg.Transport.Endpoint,
		TextMax:        cfg.RUM.Thresholds.TextSnippetMax,
		Logger:         opts.Logger.With("component", "cdp"),
	})
	if err != nil {
		return nil, err
	}
	svc, err := NewServiceWith(cfg, Sources{Events: page, Perf: page, Beaconer: page}, opts)
	if err != nil {
		_ = page.Close()
		return nil, err
	}
	s := svc.(*service)
	s.closers = append(s.closers, page.Close)
	return s, nil
}

// NewServiceWith 使用给定端口创建服务
func NewServiceWith(cfg *config.Config, src Sources, opts Options) (Service, error) {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	s := &service{}

	var senders transport.Fanout
	if cfg.Transport.Endpoint != "" {
		senders = append(senders, transport.NewHTTPSender(cfg.Transport.Endpoint, cfg.Transport.Timeout(), nil))
	}
	if cfg.Sqlite.Dsn != "" {
		a, err := storage.Open(cfg.Sqlite.Dsn, cfg.Sqlite.Prefix, opts.Logger)
		if err != nil {
			return nil, err
		}
		s.archive = a
		s.closers = append(s.closers, a.Close)
		senders = append(senders, a)
	}
	var sender transport.Sender
	switch len(senders) {
	case 0:
		opts.Logger.Warn("未配置投递端点与归档库，会话将只记录在日志中")
	case 1:
		sender = senders[0]
	default:
		sender = senders
	}

	s.engine = engine.New(engine.Options{
		Config:   cfg.RUM,
		Clock:    src.Clock,
		Source:   src.Events,
		Perf:     src.Perf,
		Identity: src.Identity,
		Sender:   sender,
		Beaconer: src.Beaconer,
		Timeout:  cfg.Transport.Timeout(),
		Logger:   opts.Logger,
		OnEnd:    opts.OnEnd,
	})
	return s, nil
}

func (s *service) StartSession() (model.SessionID, error) { return s.engine.Start() }

func (s *service) EndSession() bool { return s.engine.End() }

func (s *service) Track(name string, data map[string]any) error { return s.engine.Track(name, data) }

func (s *service) ActiveSession() (model.SessionID, bool) { return s.engine.Active() }

func (s *service) Close() error {
	s.engine.Shutdown()
	var all []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			all = append(all, err)
		}
	}
	return errors.Join(all...)
}
