package session

import "rumcapture/pkg/model"

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v *float64) {
	if v == nil {
		return
	}
	m.sum += *v
	m.n++
}

func (m mean) value() float64 {
	if m.n == 0 {
		return 0
	}
	return m.sum / float64(m.n)
}

// accumulator 跨批次累计 performance 事件，提前投递的批次也计入聚合
type accumulator struct {
	lcp, fid, cls mean

	slowestLoad    float64
	slowestLoadURL string
	slowestLCP     float64
	slowestLCPURL  string
}

func (a *accumulator) add(ev model.UserEvent) {
	p := ev.Performance
	if p == nil {
		return
	}
	a.lcp.add(p.LCP)
	a.fid.add(p.FID)
	a.cls.add(p.CLS)
	if p.LoadComplete != nil && (a.slowestLoadURL == "" || *p.LoadComplete > a.slowestLoad) {
		a.slowestLoad, a.slowestLoadURL = *p.LoadComplete, ev.URL
	}
	if p.LCP != nil && (a.slowestLCPURL == "" || *p.LCP > a.slowestLCP) {
		a.slowestLCP, a.slowestLCPURL = *p.LCP, ev.URL
	}
}

// result 各指标取算术平均；errorRate = errors / max(interactions, 1)
func (a *accumulator) result(meta model.SessionMetadata) *model.SessionPerformance {
	slowest := a.slowestLoadURL
	if slowest == "" {
		slowest = a.slowestLCPURL
	}
	interactions := meta.Interactions
	if interactions < 1 {
		interactions = 1
	}
	return &model.SessionPerformance{
		AverageLCP:  a.lcp.value(),
		AverageFID:  a.fid.value(),
		AverageCLS:  a.cls.value(),
		SlowestPage: slowest,
		ErrorRate:   float64(meta.Errors) / float64(interactions),
	}
}
