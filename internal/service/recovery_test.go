package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kursadbilgin/attendance-engine/internal/domain"
	"github.com/kursadbilgin/attendance-engine/internal/provider"
	"github.com/kursadbilgin/attendance-engine/internal/queue"
	"github.com/kursadbilgin/attendance-engine/internal/repository"
)

func cartData(sessionID string, value float64, at time.Time) StageData {
	return StageData{
		SessionID:   sessionID,
		EventID:     "event-9",
		Stage:       domain.StageCartAbandoned,
		AbandonedAt: at,
		TotalValue:  value,
		Currency:    "usd",
	}
}

func TestRecoveryTrackArmsRungsByValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		stage     domain.Stage
		value     float64
		wantRungs []time.Duration
	}{
		{name: "cart over both floors", stage: domain.StageCartAbandoned, value: 150, wantRungs: []time.Duration{15 * time.Minute, time.Hour, 24 * time.Hour}},
		{name: "cart between floors", stage: domain.StageCartAbandoned, value: 50, wantRungs: []time.Duration{15 * time.Minute, time.Hour}},
		{name: "cart below floors", stage: domain.StageCartAbandoned, value: 30, wantRungs: []time.Duration{15 * time.Minute}},
		{name: "checkout", stage: domain.StageCheckoutStarted, value: 120, wantRungs: []time.Duration{30 * time.Minute, 2 * time.Hour, 24 * time.Hour}},
		{name: "payment low value", stage: domain.StagePaymentFailed, value: 20, wantRungs: []time.Duration{10 * time.Minute, time.Hour}},
		{name: "registration has no floors", stage: domain.StageRegistrationIncomplete, value: 0, wantRungs: []time.Duration{time.Hour, 24 * time.Hour, 72 * time.Hour}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := newTestEngine(t)
			ctx := context.Background()
			at := e.clock.now()

			data := cartData("s1", tt.value, at)
			data.Stage = tt.stage
			session, err := e.recovery.TrackAbandonedSession(ctx, testRecipient("c1"), data)
			if err != nil {
				t.Fatalf("TrackAbandonedSession() error = %v", err)
			}
			if session.Currency != "USD" {
				t.Fatalf("currency = %q, want USD", session.Currency)
			}

			jobs, err := e.recovery.ListJobs(ctx, session.ID)
			if err != nil {
				t.Fatalf("ListJobs() error = %v", err)
			}
			if len(jobs) != len(tt.wantRungs) {
				t.Fatalf("jobs = %d, want %d", len(jobs), len(tt.wantRungs))
			}
			for i, job := range jobs {
				if !job.DueAt.Equal(at.Add(tt.wantRungs[i])) {
					t.Fatalf("job %d due %s, want abandonedAt+%s", i, job.DueAt, tt.wantRungs[i])
				}
				if job.Status != domain.JobPending {
					t.Fatalf("job %d status = %s, want PENDING", i, job.Status)
				}
			}
		})
	}
}

func TestRecoveryTrackValidation(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()

	bad := cartData("s1", 10, e.clock.now())
	bad.Stage = "BROWSING"
	if _, err := e.recovery.TrackAbandonedSession(ctx, testRecipient("c1"), bad); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("unknown stage error = %v, want ErrValidation", err)
	}
	if _, err := e.recovery.TrackAbandonedSession(ctx, testRecipient("c1"), cartData("s1", -1, e.clock.now())); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("negative value error = %v, want ErrValidation", err)
	}
	if _, err := e.recovery.TrackAbandonedSession(ctx, domain.Recipient{ID: "c1"}, cartData("s1", 10, e.clock.now())); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("contactless recipient error = %v, want ErrValidation", err)
	}
}

func TestRecoveryLadderStopsOnceRecovered(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()
	abandonedAt := e.clock.now()
	sms := e.providers[domain.ChannelSMS]

	session, err := e.recovery.TrackAbandonedSession(ctx, testRecipient("c1"), cartData("s1", 150, abandonedAt))
	if err != nil {
		t.Fatalf("TrackAbandonedSession() error = %v", err)
	}

	e.clock.advance(16 * time.Minute)
	if n, err := e.recovery.FireDue(ctx); err != nil || n != 1 {
		t.Fatalf("FireDue() at +16m = %d, %v; want 1", n, err)
	}

	e.clock.advance(45 * time.Minute)
	if n, err := e.recovery.FireDue(ctx); err != nil || n != 1 {
		t.Fatalf("FireDue() at +61m = %d, %v; want 1", n, err)
	}

	current, _ := e.recovery.GetSession(ctx, session.ID)
	if len(current.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(current.Attempts))
	}
	first, second := current.Attempts[0], current.Attempts[1]
	if first.Channel != domain.ChannelSMS || first.Incentive != nil || first.AttemptNumber != 1 {
		t.Fatalf("first attempt = %+v, want plain SMS reminder", first)
	}
	if second.Incentive == nil || second.Incentive.Percent != 10 || second.TemplateID != "recovery-cart-2" {
		t.Fatalf("second attempt = %+v, want 10%% cart offer", second)
	}
	if !strings.Contains(sms.sent[1].Content, "10% off") || !strings.Contains(sms.sent[1].Content, "150.00 USD") {
		t.Fatalf("second message = %q", sms.sent[1].Content)
	}
	if second.ProviderMessageID != "msg-"+second.ID {
		t.Fatalf("provider message id = %q, want msg-%s", second.ProviderMessageID, second.ID)
	}

	recovered, err := e.recovery.MarkAsRecovered(ctx, session.ID, nil)
	if err != nil {
		t.Fatalf("MarkAsRecovered() error = %v", err)
	}
	if !recovered.IsRecovered || recovered.RecoveredValue != 150 {
		t.Fatalf("session = %+v, want recovered with full value", recovered)
	}
	if !recovered.Attempts[1].Result.Recovered {
		t.Fatal("last attempt should be credited with the recovery")
	}

	e.clock.advance(24 * time.Hour)
	if n, err := e.recovery.FireDue(ctx); err != nil || n != 1 {
		t.Fatalf("FireDue() at +24h = %d, %v; want 1 skipped job", n, err)
	}
	if sms.sentCount() != 2 {
		t.Fatalf("sms sends = %d, want 2", sms.sentCount())
	}

	jobs, _ := e.recovery.ListJobs(ctx, session.ID)
	last := jobs[len(jobs)-1]
	if last.Status != domain.JobSkipped || last.Reason != "session recovered" {
		t.Fatalf("third job = %s/%q, want SKIPPED after recovery", last.Status, last.Reason)
	}

	if _, err := e.recovery.MarkAsRecovered(ctx, session.ID, nil); err != nil {
		t.Fatalf("MarkAsRecovered() twice error = %v", err)
	}
	stats := e.recovery.Stats()
	if stats.TotalAbandoned != 1 || stats.TotalRecovered != 1 || stats.RevenueRecovered != 150 {
		t.Fatalf("stats = %+v, want one recovery worth 150", stats)
	}
	if stats.RecoveryRate != 1 || stats.AverageRecoveryTime != 61*time.Minute {
		t.Fatalf("rate/time = %v/%s, want 1/61m", stats.RecoveryRate, stats.AverageRecoveryTime)
	}

	if got := len(e.publisher.kinds(queue.KindRecoveryAttempt)); got != 2 {
		t.Fatalf("attempt transitions = %d, want 2", got)
	}
	if got := e.analytics.Snapshot("event-9").Totals.Sent; got != 2 {
		t.Fatalf("analytics sent = %d, want 2", got)
	}
	if DefaultLadders[domain.StageCartAbandoned][1].Incentive.Percent != 10 {
		t.Fatal("ladder incentive must not be shared with attempts")
	}
}

func TestRecoveryJobFiresOnce(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.recovery.TrackAbandonedSession(ctx, testRecipient("c1"), cartData("s1", 10, e.clock.now())); err != nil {
		t.Fatalf("TrackAbandonedSession() error = %v", err)
	}
	e.clock.advance(20 * time.Minute)

	due, _ := e.jobs.ListDue(ctx, e.clock.now(), 0)
	if len(due) != 1 {
		t.Fatalf("due jobs = %d, want 1", len(due))
	}
	if err := e.recovery.fire(ctx, &due[0]); err != nil {
		t.Fatalf("fire() error = %v", err)
	}
	if err := e.recovery.fire(ctx, &due[0]); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second fire() error = %v, want ErrConflict", err)
	}
	if n := e.providers[domain.ChannelSMS].sentCount(); n != 1 {
		t.Fatalf("sends = %d, want 1", n)
	}
}

// recoverOnRead marks the session recovered right after the first read, so
// fire sees a stale snapshot.
type recoverOnRead struct {
	repository.SessionRepository
	onGet func(ctx context.Context, id string)
}

func (r *recoverOnRead) GetByID(ctx context.Context, id string) (*domain.AbandonedSession, error) {
	session, err := r.SessionRepository.GetByID(ctx, id)
	if hook := r.onGet; hook != nil {
		r.onGet = nil
		hook(ctx, id)
	}
	return session, err
}

func TestRecoveryRecoveredAfterReadIsNotSent(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.recovery.TrackAbandonedSession(ctx, testRecipient("c1"), cartData("s1", 10, e.clock.now())); err != nil {
		t.Fatalf("TrackAbandonedSession() error = %v", err)
	}
	e.recovery.sessions = &recoverOnRead{
		SessionRepository: e.sessions,
		onGet: func(ctx context.Context, id string) {
			if _, err := e.recovery.MarkAsRecovered(ctx, id, nil); err != nil {
				t.Errorf("MarkAsRecovered() error = %v", err)
			}
		},
	}
	e.clock.advance(20 * time.Minute)

	due, _ := e.jobs.ListDue(ctx, e.clock.now(), 0)
	if len(due) != 1 {
		t.Fatalf("due jobs = %d, want 1", len(due))
	}
	if err := e.recovery.fire(ctx, &due[0]); err != nil {
		t.Fatalf("fire() error = %v", err)
	}
	if n := e.providers[domain.ChannelSMS].sentCount(); n != 0 {
		t.Fatalf("sends = %d, want 0", n)
	}

	jobs, _ := e.jobs.ListBySession(ctx, "s1")
	job := jobs[0]
	if job.ID != due[0].ID || job.Status != domain.JobSkipped || job.Reason != "session recovered" {
		t.Fatalf("job = %s/%q, want SKIPPED after recovery", job.Status, job.Reason)
	}
	session, _ := e.sessions.GetByID(ctx, "s1")
	if len(session.Attempts) != 0 {
		t.Fatalf("attempts = %d, want 0", len(session.Attempts))
	}
}

func TestRecoveryTrackIsIdempotent(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()
	msg := queue.AbandonmentMessage{
		SessionID:   "s1",
		RecipientID: "c1",
		Name:        "Ada Lovelace",
		Email:       "c1@example.com",
		Stage:       "cart-abandoned",
		AbandonedAt: e.clock.now(),
		TotalValue:  75,
		Currency:    "EUR",
	}

	for i := 0; i < 2; i++ {
		if err := e.recovery.HandleAbandonment(ctx, msg); err != nil {
			t.Fatalf("HandleAbandonment() #%d error = %v", i+1, err)
		}
	}

	jobs, _ := e.recovery.ListJobs(ctx, "s1")
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(jobs))
	}
	if got := e.recovery.Stats().TotalAbandoned; got != 1 {
		t.Fatalf("TotalAbandoned = %d, want 1", got)
	}

	msg.Stage = "browsing"
	if err := e.recovery.HandleAbandonment(ctx, msg); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("HandleAbandonment(bad stage) error = %v, want ErrValidation", err)
	}
}

func TestRecoveryChooseChannel(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()

	if err := e.profiles.Create(ctx, &domain.EngagementProfile{
		ID:           "p-engaged",
		RecipientID:  "engaged",
		EventID:      "event-1",
		RegisteredAt: e.clock.now(),
		Patterns: domain.BehaviorPatterns{ChannelAffinity: map[domain.Channel]float64{
			domain.ChannelEmail:    0.2,
			domain.ChannelWhatsApp: 0.9,
			domain.ChannelPush:     0.95,
		}},
	}); err != nil {
		t.Fatalf("profiles.Create() error = %v", err)
	}

	engaged := testRecipient("engaged")
	lowIntent := testRecipient("low")
	lowIntent.IntentScore = 40
	noPhone := testRecipient("nophone")
	noPhone.Phone = ""

	tests := []struct {
		name      string
		recipient domain.Recipient
		want      domain.Channel
	}{
		{name: "strongest reachable affinity", recipient: engaged, want: domain.ChannelWhatsApp},
		{name: "high intent with phone", recipient: testRecipient("fresh"), want: domain.ChannelSMS},
		{name: "low intent falls back to email", recipient: lowIntent, want: domain.ChannelEmail},
		{name: "no phone falls back to email", recipient: noPhone, want: domain.ChannelEmail},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := e.recovery.chooseChannel(ctx, &tt.recipient); got != tt.want {
				t.Fatalf("chooseChannel() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRecoveryStatsAverageRecoveryTime(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()
	start := e.clock.now()

	for _, id := range []string{"s1", "s2", "s3"} {
		if _, err := e.recovery.TrackAbandonedSession(ctx, testRecipient("c-"+id), cartData(id, 150, start)); err != nil {
			t.Fatalf("TrackAbandonedSession(%s) error = %v", id, err)
		}
	}

	e.clock.advance(time.Hour)
	if _, err := e.recovery.MarkAsRecovered(ctx, "s1", nil); err != nil {
		t.Fatalf("MarkAsRecovered(s1) error = %v", err)
	}

	e.clock.advance(10 * time.Hour)
	value := 80.0
	if _, err := e.recovery.MarkAsRecovered(ctx, "s2", &value); err != nil {
		t.Fatalf("MarkAsRecovered(s2) error = %v", err)
	}

	negative := -1.0
	if _, err := e.recovery.MarkAsRecovered(ctx, "s3", &negative); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("MarkAsRecovered(negative) error = %v, want ErrValidation", err)
	}
	if _, err := e.recovery.MarkAsRecovered(ctx, "missing", nil); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("MarkAsRecovered(missing) error = %v, want ErrNotFound", err)
	}

	stats := e.recovery.Stats()
	if stats.TotalAbandoned != 3 || stats.TotalRecovered != 2 {
		t.Fatalf("stats = %+v, want 3 abandoned 2 recovered", stats)
	}
	if stats.RevenueRecovered != 230 {
		t.Fatalf("revenue = %v, want 230", stats.RevenueRecovered)
	}
	if stats.RecoveryRate != 2.0/3.0 {
		t.Fatalf("rate = %v, want 2/3", stats.RecoveryRate)
	}
	// 0.1*11h + 0.9*1h
	if d := stats.AverageRecoveryTime - 2*time.Hour; d < -time.Millisecond || d > time.Millisecond {
		t.Fatalf("average = %s, want 2h", stats.AverageRecoveryTime)
	}
}

func TestRecoveryAttemptFeedback(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()

	session, err := e.recovery.TrackAbandonedSession(ctx, testRecipient("c1"), cartData("s1", 10, e.clock.now()))
	if err != nil {
		t.Fatalf("TrackAbandonedSession() error = %v", err)
	}
	e.clock.advance(20 * time.Minute)
	if _, err := e.recovery.FireDue(ctx); err != nil {
		t.Fatalf("FireDue() error = %v", err)
	}
	current, _ := e.recovery.GetSession(ctx, session.ID)
	attempt := current.Attempts[0]

	payload := "MessageSid=msg-" + attempt.ID + "&MessageStatus=read"
	events, err := e.orchestrator.ApplyWebhook(ctx, provider.FormatTwilio, "sms", []byte(payload))
	if err != nil {
		t.Fatalf("ApplyWebhook() error = %v", err)
	}
	if len(events) != 1 || events[0].AttemptID != attempt.ID || events[0].SessionID != session.ID {
		t.Fatalf("events = %+v, want resolved attempt", events)
	}

	current, _ = e.recovery.GetSession(ctx, session.ID)
	if !current.Attempts[0].Result.Opened || current.Attempts[0].Result.Clicked {
		t.Fatalf("result = %+v, want opened only", current.Attempts[0].Result)
	}

	current, err = e.recovery.RecordAttemptInteraction(ctx, session.ID, attempt.ID, domain.InteractionClick)
	if err != nil {
		t.Fatalf("RecordAttemptInteraction() error = %v", err)
	}
	if !current.Attempts[0].Result.Clicked || current.Attempts[0].Result.ClickedAt == nil {
		t.Fatalf("result = %+v, want clicked", current.Attempts[0].Result)
	}

	snap := e.analytics.Snapshot("event-9")
	if snap.Totals.Opened != 1 || snap.Totals.Clicked != 1 {
		t.Fatalf("analytics = %+v, want one open and one click", snap.Totals)
	}

	if _, err := e.recovery.RecordAttemptInteraction(ctx, session.ID, attempt.ID, domain.InteractionJoin); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("RecordAttemptInteraction(join) error = %v, want ErrValidation", err)
	}
	if err := e.recovery.ApplyAttemptFeedback(ctx, session.ID, "nope", domain.StatusOpened, time.Time{}, ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ApplyAttemptFeedback(unknown attempt) error = %v, want ErrNotFound", err)
	}
}

func TestRecoveryFailedSendDoesNotCountAsAttempt(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()
	e.providers[domain.ChannelSMS].sendFn = func(ctx context.Context, msg provider.Message) (*provider.Response, error) {
		return nil, &provider.ProviderError{StatusCode: 503, Message: "carrier down", Transient: true}
	}

	session, err := e.recovery.TrackAbandonedSession(ctx, testRecipient("c1"), cartData("s1", 10, e.clock.now()))
	if err != nil {
		t.Fatalf("TrackAbandonedSession() error = %v", err)
	}
	e.clock.advance(20 * time.Minute)
	if _, err := e.recovery.FireDue(ctx); err != nil {
		t.Fatalf("FireDue() error = %v", err)
	}

	current, _ := e.recovery.GetSession(ctx, session.ID)
	if len(current.Attempts) != 1 || current.Attempts[0].Error == "" {
		t.Fatalf("attempts = %+v, want one failed attempt", current.Attempts)
	}
	if current.AttemptsForTemplate("recovery-cart-1") != 0 {
		t.Fatal("failed attempts must not count toward the template limit")
	}
	if got := e.analytics.Snapshot("event-9").Totals.Failed; got != 1 {
		t.Fatalf("analytics failed = %d, want 1", got)
	}
}
