package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/attendance-engine/internal/domain"
	"github.com/kursadbilgin/attendance-engine/internal/provider"
	"github.com/kursadbilgin/attendance-engine/internal/queue"
	"github.com/kursadbilgin/attendance-engine/internal/repository"
	"github.com/kursadbilgin/attendance-engine/internal/scoring"
	"github.com/kursadbilgin/attendance-engine/internal/template"
	"go.uber.org/zap"
)

type fakeProvider struct {
	name    string
	channel domain.Channel
	sendFn  func(ctx context.Context, msg provider.Message) (*provider.Response, error)
	testFn  func(ctx context.Context) error

	mu   sync.Mutex
	sent []provider.Message
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Channel() domain.Channel { return f.channel }

func (f *fakeProvider) Send(ctx context.Context, msg provider.Message) (*provider.Response, error) {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()

	if f.sendFn != nil {
		return f.sendFn(ctx, msg)
	}
	return &provider.Response{StatusCode: 202, MessageID: "msg-" + msg.Reference}, nil
}

func (f *fakeProvider) TestConfiguration(ctx context.Context) error {
	if f.testFn != nil {
		return f.testFn(ctx)
	}
	return nil
}

func (f *fakeProvider) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakePublisher struct {
	publishFn func(ctx context.Context, msg queue.TransitionMessage) error

	mu   sync.Mutex
	msgs []queue.TransitionMessage
}

func (f *fakePublisher) PublishTransition(ctx context.Context, msg queue.TransitionMessage) error {
	f.mu.Lock()
	f.msgs = append(f.msgs, msg)
	f.mu.Unlock()

	if f.publishFn != nil {
		return f.publishFn(ctx, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) kinds(kind queue.TransitionKind) []queue.TransitionMessage {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]queue.TransitionMessage, 0)
	for _, m := range f.msgs {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{t: t} }

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// testEngine wires every service over memory repositories and fake providers.
type testEngine struct {
	clock        *testClock
	events       *repository.MemoryEventRepo
	recipients   *repository.MemoryRecipientRepo
	profiles     *repository.MemoryProfileRepo
	schedules    *repository.MemoryScheduleRepo
	sessions     *repository.MemorySessionRepo
	jobs         *repository.MemoryJobRepo
	providers    map[domain.Channel]*fakeProvider
	publisher    *fakePublisher
	analytics    *Analytics
	builder      *ProfileBuilder
	planner      *Planner
	dispatcher   *Dispatcher
	orchestrator *Orchestrator
	recovery     *RecoveryService
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	e := &testEngine{
		clock:      newTestClock(time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)),
		events:     repository.NewMemoryEventRepo(),
		recipients: repository.NewMemoryRecipientRepo(),
		profiles:   repository.NewMemoryProfileRepo(),
		schedules:  repository.NewMemoryScheduleRepo(),
		sessions:   repository.NewMemorySessionRepo(),
		jobs:       repository.NewMemoryJobRepo(),
		providers:  make(map[domain.Channel]*fakeProvider),
		publisher:  &fakePublisher{},
		analytics:  NewAnalytics(),
	}

	providers := make([]provider.Provider, 0, len(domain.SupportedChannels))
	for _, ch := range domain.SupportedChannels {
		p := &fakeProvider{name: "fake-" + string(ch), channel: ch}
		e.providers[ch] = p
		providers = append(providers, p)
	}

	templates, err := template.DefaultTemplates()
	if err != nil {
		t.Fatalf("DefaultTemplates() error = %v", err)
	}
	catalog, err := template.NewStaticProvider(templates...)
	if err != nil {
		t.Fatalf("NewStaticProvider() error = %v", err)
	}

	e.builder, err = NewProfileBuilder(e.profiles, scoring.DefaultWeights(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewProfileBuilder() error = %v", err)
	}
	e.builder.now = e.clock.now

	e.planner, err = NewPlanner(PriorOpenScoreHeuristic, zap.NewNop())
	if err != nil {
		t.Fatalf("NewPlanner() error = %v", err)
	}
	e.planner.now = e.clock.now

	e.dispatcher, err = NewDispatcher(providers, nil, e.schedules, e.sessions, DispatcherConfig{}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	e.dispatcher.now = e.clock.now
	e.dispatcher.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }

	e.orchestrator, err = NewOrchestrator(OrchestratorDeps{
		Events:      e.events,
		Recipients:  e.recipients,
		Profiles:    e.profiles,
		Schedules:   e.schedules,
		Templates:   catalog,
		Builder:     e.builder,
		Planner:     e.planner,
		Dispatcher:  e.dispatcher,
		Analytics:   e.analytics,
		Transitions: e.publisher,
		Weights:     scoring.DefaultWeights(),
	}, time.Minute, 0, zap.NewNop())
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	e.orchestrator.now = e.clock.now

	e.recovery, err = NewRecoveryService(RecoveryDeps{
		Sessions:    e.sessions,
		Jobs:        e.jobs,
		Recipients:  e.recipients,
		Profiles:    e.profiles,
		Templates:   catalog,
		Dispatcher:  e.dispatcher,
		Analytics:   e.analytics,
		Transitions: e.publisher,
	}, time.Minute, 0, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRecoveryService() error = %v", err)
	}
	e.recovery.now = e.clock.now
	e.orchestrator.SetAttemptFeedback(e.recovery)

	return e
}

// activeEvent creates and activates an event starting three days after the clock.
func (e *testEngine) activeEvent(t *testing.T) *domain.Event {
	t.Helper()

	ctx := context.Background()
	event, err := e.orchestrator.CreateEvent(ctx, &domain.Event{
		Title:    "Scaling Go Services",
		Host:     "Grace",
		StartsAt: e.clock.now().Add(72 * time.Hour).Add(10 * time.Hour),
		Timezone: "UTC",
		JoinURL:  "https://live.example.com/go",
		Capacity: 100,
	})
	if err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}
	if _, err := e.orchestrator.ActivateEvent(ctx, event.ID); err != nil {
		t.Fatalf("ActivateEvent() error = %v", err)
	}
	return event
}

func testRecipient(id string) domain.Recipient {
	return domain.Recipient{
		ID:                id,
		Name:              "Ada Lovelace",
		Email:             id + "@example.com",
		Phone:             "+905551112233",
		IntentScore:       90,
		EngagementMinutes: 12,
		PageViews:         8,
		Interactions:      10,
		ScrollDepth:       0.8,
	}
}

func testProfile(score int, hasPhone bool) *domain.EngagementProfile {
	return &domain.EngagementProfile{
		ID:               "profile-1",
		RecipientID:      "r1",
		EventID:          "event-1",
		AttendanceState:  domain.AttendanceRegistered,
		EngagementScore:  score,
		PreferredChannel: scoring.PreferredChannel(score, hasPhone),
		Patterns: domain.BehaviorPatterns{
			BestContactHour:          scoring.BestContactHour(score),
			AverageResponseMinutes:   scoring.AverageResponseMinutes(score),
			ChannelAffinity:          scoring.ChannelAffinity(score, hasPhone),
			HistoricalAttendanceRate: scoring.HistoricalAttendanceRate(score, 10),
			UrgencyResponsiveness:    scoring.UrgencyResponsiveness(score),
			IncentiveResponsiveness:  scoring.IncentiveResponsiveness(score),
		},
	}
}
