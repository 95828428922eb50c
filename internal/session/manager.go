package session

import (
	"sync"

	"rumcapture/internal/config"
	"rumcapture/internal/errs"
	"rumcapture/internal/logger"
	"rumcapture/internal/privacy"
	"rumcapture/internal/queue"
	"rumcapture/pkg/browser"
	"rumcapture/pkg/model"

	"github.com/google/uuid"
)

// Deliverer 会话与批次的投递出口
type Deliverer interface {
	DeliverBatch(id model.SessionID, seq int, events []model.UserEvent)
	DeliverSession(s *model.Session, unload bool)
}

// Config 构造参数
type Config struct {
	RUM       config.RUMConfig
	Clock     browser.Clock
	Source    browser.EventSource
	Identity  browser.IdentitySource
	Transport Deliverer
	Masker    *privacy.Masker
	Logger    logger.Logger
	// BeforeEnd 终结前调用（不持锁），用于卸载监听并输出待定指标
	BeforeEnd func(reason model.EndReason)
}

// Manager 会话生命周期管理器，同一时刻至多一个活动会话
type Manager struct {
	mu  sync.Mutex
	cfg Config
	log logger.Logger

	active *model.Session
	ending bool
	queue  *queue.Queue
	perf   *accumulator
	timer  browser.Timer
	seq    int
}

// NewManager 创建会话管理器
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Masker == nil {
		cfg.Masker = privacy.New(cfg.RUM)
	}
	return &Manager{cfg: cfg, log: cfg.Logger}
}

// Start 创建会话、记录环境快照、写入首个 page_view 并启动超时定时器。
// 已有活动会话时记录编程错误并保持现有会话不变。
func (m *Manager) Start() (model.SessionID, error) {
	m.mu.Lock()
	if m.active != nil {
		id := m.active.SessionID
		m.mu.Unlock()
		err := errs.New(errs.KindLifecycle, "start", errs.ErrSessionActive)
		m.log.Err(err, "重复启动会话，已忽略", "sessionID", string(id))
		return id, err
	}

	now := m.cfg.Clock.Now()
	landing := m.cfg.Masker.URL(m.cfg.Source.Location())
	s := &model.Session{
		SessionID: model.SessionID(uuid.NewString()),
		StartTime: now.UnixMilli(),
		UserAgent: m.cfg.Source.UserAgent(),
		Viewport:  m.cfg.Source.Viewport(),
		Events:    []model.UserEvent{},
		Metadata:  model.SessionMetadata{LandingPage: landing},
	}
	if m.cfg.Identity != nil {
		ident := m.cfg.Identity.Identity()
		s.UserID = ident.UserID
		s.OrganizationID = ident.OrganizationID
	}

	m.active = s
	m.queue = queue.New(m.cfg.RUM.MaxEventsPerSession)
	m.perf = &accumulator{}
	m.seq = 0

	batch := m.recordLocked(model.UserEvent{
		Timestamp: s.StartTime,
		Type:      model.EventPageView,
		Data:      map[string]any{"trigger": "start"},
		URL:       landing,
	})
	if timeout := m.cfg.RUM.SessionTimeout(); timeout > 0 {
		id := s.SessionID
		m.timer = m.cfg.Clock.AfterFunc(timeout, func() { m.onTimeout(id) })
	}
	id, seq := s.SessionID, m.seq
	m.mu.Unlock()

	m.deliverBatch(id, seq, batch)
	m.log.Info("会话已开始", "sessionID", string(id), "landingPage", landing)
	return id, nil
}

// onTimeout 已触发但未能取消的定时器可能在会话结束后才执行，只处理调度它的会话
func (m *Manager) onTimeout(id model.SessionID) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Err(errs.FromPanic(errs.KindLifecycle, "timeout", r), "会话超时处理异常")
		}
	}()
	if !m.end(model.EndTimeout, id) {
		m.log.Debug("忽略过期的超时回调", "sessionID", string(id))
	}
}

// Record 追加事件并更新计数；无活动会话时丢弃
func (m *Manager) Record(ev model.UserEvent) {
	m.mu.Lock()
	if m.active == nil {
		m.mu.Unlock()
		m.log.Debug("无活动会话，丢弃事件", "type", string(ev.Type))
		return
	}
	batch := m.recordLocked(ev)
	id, seq := m.active.SessionID, m.seq
	m.mu.Unlock()

	m.deliverBatch(id, seq, batch)
}

// recordLocked 返回达到上限时需要投递的批次
func (m *Manager) recordLocked(ev model.UserEvent) []model.UserEvent {
	meta := &m.active.Metadata
	switch ev.Type {
	case model.EventPageView:
		meta.PagesViewed++
	case model.EventError:
		meta.Errors++
	case model.EventPerformance:
		m.perf.add(ev)
	case model.EventCustom:
	default:
		meta.Interactions++
	}
	if ev.Data == nil {
		ev.Data = map[string]any{}
	}
	batch := m.queue.Append(ev)
	if batch != nil {
		m.seq++
	}
	return batch
}

func (m *Manager) deliverBatch(id model.SessionID, seq int, batch []model.UserEvent) {
	if batch == nil {
		return
	}
	m.log.Debug("事件数达到上限，提前投递批次", "sessionID", string(id), "sequence", seq, "size", len(batch))
	m.cfg.Transport.DeliverBatch(id, seq, batch)
}

// End 终结会话并交给 Transport；重复调用返回 false 且不产生投递
func (m *Manager) End(reason model.EndReason) bool {
	return m.end(reason, "")
}

// end only 非空时仅终结该会话
func (m *Manager) end(reason model.EndReason, only model.SessionID) bool {
	m.mu.Lock()
	if m.active == nil || m.ending || (only != "" && m.active.SessionID != only) {
		m.mu.Unlock()
		return false
	}
	m.ending = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()

	m.beforeEnd(reason)

	m.mu.Lock()
	s := m.active
	now := m.cfg.Clock.Now().UnixMilli()
	if now < s.StartTime {
		now = s.StartTime
	}
	duration := now - s.StartTime
	s.EndTime = &now
	s.Duration = &duration
	s.EndReason = reason
	s.Metadata.ExitPage = m.cfg.Masker.URL(m.cfg.Source.Location())
	total, flushes := m.queue.Total(), m.queue.Flushes()
	s.Events = m.queue.Drain()
	s.Metadata.Performance = m.perf.result(s.Metadata)

	m.active, m.queue, m.perf = nil, nil, nil
	m.ending = false
	m.mu.Unlock()

	m.log.Info("会话已结束", "sessionID", string(s.SessionID), "reason", string(reason),
		"durationMs", duration, "interactions", s.Metadata.Interactions, "errors", s.Metadata.Errors,
		"eventsTotal", total, "flushes", flushes)
	m.cfg.Transport.DeliverSession(s, reason == model.EndUnload)
	return true
}

func (m *Manager) beforeEnd(reason model.EndReason) {
	if m.cfg.BeforeEnd == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Err(errs.FromPanic(errs.KindLifecycle, "beforeEnd", r), "会话终结前处理异常")
		}
	}()
	m.cfg.BeforeEnd(reason)
}

// Active 返回活动会话 ID
func (m *Manager) Active() (model.SessionID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return "", false
	}
	return m.active.SessionID, true
}

// Snapshot 返回活动会话的副本，Events 为当前缓冲内容
func (m *Manager) Snapshot() (model.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return model.Session{}, false
	}
	s := *m.active
	s.Events = m.queue.Snapshot()
	return s, true
}
