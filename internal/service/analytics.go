package service

import (
	"sync"

	"github.com/kursadbilgin/attendance-engine/internal/domain"
)

// Analytics keeps incremental per-event delivery counters. It is a read
// model only; entry state lives in the repositories.
type Analytics struct {
	mu     sync.RWMutex
	events map[string]*eventCounters
}

type eventCounters struct {
	registered int64
	totals     domain.Counters
	byChannel  map[domain.Channel]*domain.Counters
	byTemplate map[string]*domain.Counters
}

func NewAnalytics() *Analytics {
	return &Analytics{events: make(map[string]*eventCounters)}
}

func (a *Analytics) RecordRegistration(eventID string) {
	a.update(eventID, "", "", func(c *domain.Counters) {}, func(ec *eventCounters) { ec.registered++ })
}

func (a *Analytics) RecordSent(eventID string, ch domain.Channel, templateID string) {
	a.update(eventID, ch, templateID, func(c *domain.Counters) { c.Sent++ }, nil)
}

func (a *Analytics) RecordFailed(eventID string, ch domain.Channel, templateID string) {
	a.update(eventID, ch, templateID, func(c *domain.Counters) { c.Failed++ }, nil)
}

func (a *Analytics) RecordOpened(eventID string, ch domain.Channel, templateID string) {
	a.update(eventID, ch, templateID, func(c *domain.Counters) { c.Opened++ }, nil)
}

func (a *Analytics) RecordClicked(eventID string, ch domain.Channel, templateID string) {
	a.update(eventID, ch, templateID, func(c *domain.Counters) { c.Clicked++ }, nil)
}

func (a *Analytics) RecordAttended(eventID string, ch domain.Channel) {
	a.update(eventID, ch, "", func(c *domain.Counters) { c.Attended++ }, nil)
}

func (a *Analytics) update(eventID string, ch domain.Channel, templateID string, inc func(*domain.Counters), extra func(*eventCounters)) {
	if a == nil || eventID == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ec, ok := a.events[eventID]
	if !ok {
		ec = &eventCounters{
			byChannel:  make(map[domain.Channel]*domain.Counters),
			byTemplate: make(map[string]*domain.Counters),
		}
		a.events[eventID] = ec
	}

	inc(&ec.totals)
	if ch != "" {
		c, ok := ec.byChannel[ch]
		if !ok {
			c = &domain.Counters{}
			ec.byChannel[ch] = c
		}
		inc(c)
	}
	if templateID != "" {
		c, ok := ec.byTemplate[templateID]
		if !ok {
			c = &domain.Counters{}
			ec.byTemplate[templateID] = c
		}
		inc(c)
	}
	if extra != nil {
		extra(ec)
	}
}

// Snapshot returns a copy of the counters of one event. Unknown events yield
// an empty snapshot.
func (a *Analytics) Snapshot(eventID string) domain.CampaignMetrics {
	out := domain.CampaignMetrics{
		EventID:       eventID,
		ByChannel:     make(map[domain.Channel]domain.Counters),
		ByTemplate:    make(map[string]domain.Counters),
		ChannelRates:  make(map[domain.Channel]domain.Rates),
		TemplateRates: make(map[string]domain.Rates),
	}
	if a == nil {
		return out
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	ec, ok := a.events[eventID]
	if !ok {
		return out
	}

	out.Registered = ec.registered
	out.Totals = ec.totals
	out.TotalRates = ec.totals.Rates()
	out.AttendanceRate = domain.Ratio(ec.totals.Attended, ec.registered)
	for ch, c := range ec.byChannel {
		out.ByChannel[ch] = *c
		out.ChannelRates[ch] = c.Rates()
	}
	for id, c := range ec.byTemplate {
		out.ByTemplate[id] = *c
		out.TemplateRates[id] = c.Rates()
	}
	return out
}
