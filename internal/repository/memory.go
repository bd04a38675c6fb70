package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/attendance-engine/internal/domain"
)

// Memory repositories back STORE_DRIVER=memory and the service tests.
// Each guards its map with an RWMutex and hands out copies, so callers
// never alias stored state.

type MemoryEventRepo struct {
	mu     sync.RWMutex
	events map[string]domain.Event
}

func NewMemoryEventRepo() *MemoryEventRepo {
	return &MemoryEventRepo{events: make(map[string]domain.Event)}
}

func (r *MemoryEventRepo) Create(_ context.Context, e *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.events[e.ID]; ok {
		return domain.ErrConflict
	}
	r.events[e.ID] = *e
	return nil
}

func (r *MemoryEventRepo) GetByID(_ context.Context, id string) (*domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.events[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &e, nil
}

func (r *MemoryEventRepo) ListByStatus(_ context.Context, status domain.EventStatus) ([]domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Event, 0)
	for _, e := range r.events {
		if e.Status == status {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (r *MemoryEventRepo) Update(_ context.Context, id string, fn func(*domain.Event) error) (*domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.events[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if err := fn(&e); err != nil {
		return nil, err
	}
	e.ID = id
	r.events[id] = e
	return &e, nil
}

type MemoryRecipientRepo struct {
	mu         sync.RWMutex
	recipients map[string]domain.Recipient
}

func NewMemoryRecipientRepo() *MemoryRecipientRepo {
	return &MemoryRecipientRepo{recipients: make(map[string]domain.Recipient)}
}

func (r *MemoryRecipientRepo) Save(_ context.Context, recipient *domain.Recipient) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.recipients[recipient.ID] = *recipient
	return nil
}

func (r *MemoryRecipientRepo) GetByID(_ context.Context, id string) (*domain.Recipient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.recipients[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

type MemoryProfileRepo struct {
	mu       sync.RWMutex
	profiles map[string]*domain.EngagementProfile
	// eventID/recipientID -> profile id
	byPair map[string]string
}

func NewMemoryProfileRepo() *MemoryProfileRepo {
	return &MemoryProfileRepo{
		profiles: make(map[string]*domain.EngagementProfile),
		byPair:   make(map[string]string),
	}
}

func pairKey(eventID, recipientID string) string {
	return eventID + "/" + recipientID
}

func (r *MemoryProfileRepo) Create(_ context.Context, p *domain.EngagementProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := pairKey(p.EventID, p.RecipientID)
	if _, ok := r.profiles[p.ID]; ok {
		return domain.ErrConflict
	}
	if _, ok := r.byPair[key]; ok {
		return domain.ErrConflict
	}
	r.profiles[p.ID] = p.Clone()
	r.byPair[key] = p.ID
	return nil
}

func (r *MemoryProfileRepo) GetByID(_ context.Context, id string) (*domain.EngagementProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (r *MemoryProfileRepo) GetByEventAndRecipient(_ context.Context, eventID, recipientID string) (*domain.EngagementProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byPair[pairKey(eventID, recipientID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.profiles[id].Clone(), nil
}

func (r *MemoryProfileRepo) LatestByRecipient(_ context.Context, recipientID string) (*domain.EngagementProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *domain.EngagementProfile
	for _, p := range r.profiles {
		if p.RecipientID != recipientID {
			continue
		}
		if latest == nil || p.RegisteredAt.After(latest.RegisteredAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	return latest.Clone(), nil
}

func (r *MemoryProfileRepo) ListByEvent(_ context.Context, eventID string) ([]domain.EngagementProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.EngagementProfile, 0)
	for _, p := range r.profiles {
		if p.EventID == eventID {
			out = append(out, *p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out, nil
}

func (r *MemoryProfileRepo) Update(_ context.Context, id string, fn func(*domain.EngagementProfile) error) (*domain.EngagementProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.profiles[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	next := stored.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = id
	next.EventID = stored.EventID
	next.RecipientID = stored.RecipientID
	r.profiles[id] = next
	return next.Clone(), nil
}

type MemoryScheduleRepo struct {
	mu      sync.RWMutex
	entries map[string]*domain.ScheduleEntry
	byMsgID map[string]string
}

func NewMemoryScheduleRepo() *MemoryScheduleRepo {
	return &MemoryScheduleRepo{
		entries: make(map[string]*domain.ScheduleEntry),
		byMsgID: make(map[string]string),
	}
}

func (r *MemoryScheduleRepo) CreateBatch(_ context.Context, entries []*domain.ScheduleEntry) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	created := 0
	for _, e := range entries {
		if e == nil {
			continue
		}
		if _, ok := r.entries[e.ID]; ok {
			continue
		}
		r.store(e.Clone())
		created++
	}
	return created, nil
}

func (r *MemoryScheduleRepo) store(e *domain.ScheduleEntry) {
	r.entries[e.ID] = e
	if e.ProviderMessageID != "" {
		r.byMsgID[e.ProviderMessageID] = e.ID
	}
}

func (r *MemoryScheduleRepo) GetByID(_ context.Context, id string) (*domain.ScheduleEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return e.Clone(), nil
}

func (r *MemoryScheduleRepo) GetByProviderMessageID(_ context.Context, messageID string) (*domain.ScheduleEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byMsgID[messageID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.entries[id].Clone(), nil
}

func (r *MemoryScheduleRepo) ListDue(_ context.Context, now time.Time, eventIDs []string, limit int) ([]domain.ScheduleEntry, error) {
	events := make(map[string]struct{}, len(eventIDs))
	for _, id := range eventIDs {
		events[id] = struct{}{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := r.filter(func(e *domain.ScheduleEntry) bool {
		_, ok := events[e.EventID]
		return ok && e.Status == domain.StatusScheduled && !e.ScheduledAt.After(now)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryScheduleRepo) ListByEvent(_ context.Context, eventID string) ([]domain.ScheduleEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.filter(func(e *domain.ScheduleEntry) bool { return e.EventID == eventID }), nil
}

func (r *MemoryScheduleRepo) ListByProfile(_ context.Context, profileID string) ([]domain.ScheduleEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.filter(func(e *domain.ScheduleEntry) bool { return e.ProfileID == profileID }), nil
}

// filter must be called with r.mu held.
func (r *MemoryScheduleRepo) filter(keep func(*domain.ScheduleEntry) bool) []domain.ScheduleEntry {
	out := make([]domain.ScheduleEntry, 0)
	for _, e := range r.entries {
		if keep(e) {
			out = append(out, *e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].TemplateID < out[j].TemplateID
		}
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	return out
}

func (r *MemoryScheduleRepo) Update(_ context.Context, id string, fn func(*domain.ScheduleEntry) error) (*domain.ScheduleEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.entries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	next := stored.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = id
	if stored.ProviderMessageID != "" && stored.ProviderMessageID != next.ProviderMessageID {
		delete(r.byMsgID, stored.ProviderMessageID)
	}
	r.store(next)
	return next.Clone(), nil
}

type MemorySessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]*domain.AbandonedSession
}

func NewMemorySessionRepo() *MemorySessionRepo {
	return &MemorySessionRepo{sessions: make(map[string]*domain.AbandonedSession)}
}

func (r *MemorySessionRepo) Create(_ context.Context, s *domain.AbandonedSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.ID]; ok {
		return domain.ErrConflict
	}
	r.sessions[s.ID] = s.Clone()
	return nil
}

func (r *MemorySessionRepo) GetByID(_ context.Context, id string) (*domain.AbandonedSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.Clone(), nil
}

func (r *MemorySessionRepo) GetByAttemptMessageID(_ context.Context, messageID string) (*domain.AbandonedSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if messageID == "" {
		return nil, domain.ErrNotFound
	}
	for _, s := range r.sessions {
		for _, a := range s.Attempts {
			if a.ProviderMessageID == messageID {
				return s.Clone(), nil
			}
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MemorySessionRepo) Update(_ context.Context, id string, fn func(*domain.AbandonedSession) error) (*domain.AbandonedSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	next := stored.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = id
	r.sessions[id] = next
	return next.Clone(), nil
}

type MemoryJobRepo struct {
	mu   sync.RWMutex
	jobs map[string]domain.RecoveryJob
}

func NewMemoryJobRepo() *MemoryJobRepo {
	return &MemoryJobRepo{jobs: make(map[string]domain.RecoveryJob)}
}

func (r *MemoryJobRepo) CreateBatch(_ context.Context, jobs []*domain.RecoveryJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, j := range jobs {
		if j == nil {
			continue
		}
		if _, ok := r.jobs[j.ID]; ok {
			continue
		}
		r.jobs[j.ID] = *j
	}
	return nil
}

func (r *MemoryJobRepo) ListDue(_ context.Context, now time.Time, limit int) ([]domain.RecoveryJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.RecoveryJob, 0)
	for _, j := range r.jobs {
		if j.Status == domain.JobPending && !j.DueAt.After(now) {
			out = append(out, j)
		}
	}
	sortJobs(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryJobRepo) ListBySession(_ context.Context, sessionID string) ([]domain.RecoveryJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.RecoveryJob, 0)
	for _, j := range r.jobs {
		if j.SessionID == sessionID {
			out = append(out, j)
		}
	}
	sortJobs(out)
	return out, nil
}

func (r *MemoryJobRepo) Update(_ context.Context, id string, fn func(*domain.RecoveryJob) error) (*domain.RecoveryJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if err := fn(&j); err != nil {
		return nil, err
	}
	j.ID = id
	r.jobs[id] = j
	return &j, nil
}

func sortJobs(jobs []domain.RecoveryJob) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].DueAt.Equal(jobs[j].DueAt) {
			if jobs[i].SessionID == jobs[j].SessionID {
				return jobs[i].Rung < jobs[j].Rung
			}
			return jobs[i].SessionID < jobs[j].SessionID
		}
		return jobs[i].DueAt.Before(jobs[j].DueAt)
	})
}

var (
	_ EventRepository     = (*MemoryEventRepo)(nil)
	_ RecipientRepository = (*MemoryRecipientRepo)(nil)
	_ ProfileRepository   = (*MemoryProfileRepo)(nil)
	_ ScheduleRepository  = (*MemoryScheduleRepo)(nil)
	_ SessionRepository   = (*MemorySessionRepo)(nil)
	_ JobRepository       = (*MemoryJobRepo)(nil)

	_ EventRepository     = (*GormEventRepo)(nil)
	_ RecipientRepository = (*GormRecipientRepo)(nil)
	_ ProfileRepository   = (*GormProfileRepo)(nil)
	_ ScheduleRepository  = (*GormScheduleRepo)(nil)
	_ SessionRepository   = (*GormSessionRepo)(nil)
	_ JobRepository       = (*GormJobRepo)(nil)
)
