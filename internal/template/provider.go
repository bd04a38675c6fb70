// Package template serves notification templates to the planner and the
// recovery ladder. Templates are read-only to the engine.
package template

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kursadbilgin/attendance-engine/internal/domain"
)

// Filter narrows GetTemplates. Zero values match everything.
type Filter struct {
	Group domain.TemplateGroup
	IDs   []string
}

func (f Filter) matches(t *domain.Template) bool {
	if f.Group != "" && groupOf(t) != f.Group {
		return false
	}
	if len(f.IDs) == 0 {
		return true
	}
	for _, id := range f.IDs {
		if id == t.ID {
			return true
		}
	}
	return false
}

func groupOf(t *domain.Template) domain.TemplateGroup {
	if t.Group == "" {
		return domain.GroupAttendance
	}
	return t.Group
}

// Provider is the template store port.
type Provider interface {
	GetTemplates(ctx context.Context, filter Filter) ([]domain.Template, error)
}

// StaticProvider serves a fixed, validated template set.
type StaticProvider struct {
	mu        sync.RWMutex
	templates []domain.Template
}

func NewStaticProvider(templates ...domain.Template) (*StaticProvider, error) {
	p := &StaticProvider{}
	if err := p.replace(templates); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *StaticProvider) replace(templates []domain.Template) error {
	seen := make(map[string]struct{}, len(templates))
	for i := range templates {
		if err := templates[i].Validate(); err != nil {
			return err
		}
		if _, dup := seen[templates[i].ID]; dup {
			return fmt.Errorf("%w: duplicate template id %q", domain.ErrValidation, templates[i].ID)
		}
		seen[templates[i].ID] = struct{}{}
	}

	sorted := append([]domain.Template(nil), templates...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	p.mu.Lock()
	p.templates = sorted
	p.mu.Unlock()
	return nil
}

func (p *StaticProvider) GetTemplates(_ context.Context, filter Filter) ([]domain.Template, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]domain.Template, 0, len(p.templates))
	for i := range p.templates {
		if filter.matches(&p.templates[i]) {
			out = append(out, p.templates[i])
		}
	}
	return out, nil
}
