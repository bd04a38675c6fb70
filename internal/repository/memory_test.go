package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/attendance-engine/internal/domain"
)

func TestMemoryScheduleRepoCreateBatchSkipsExisting(t *testing.T) {
	t.Parallel()

	repo := NewMemoryScheduleRepo()
	ctx := context.Background()
	at := time.Unix(1_700_000_000, 0).UTC()

	entries := []*domain.ScheduleEntry{
		{ID: "a", EventID: "ev", ProfileID: "p1", TemplateID: "t1", ScheduledAt: at, Status: domain.StatusScheduled},
		{ID: "b", EventID: "ev", ProfileID: "p1", TemplateID: "t2", ScheduledAt: at.Add(time.Hour), Status: domain.StatusScheduled},
	}

	n, err := repo.CreateBatch(ctx, entries)
	if err != nil || n != 2 {
		t.Fatalf("CreateBatch() = %d, %v, want 2, nil", n, err)
	}
	n, err = repo.CreateBatch(ctx, entries)
	if err != nil || n != 0 {
		t.Fatalf("second CreateBatch() = %d, %v, want 0, nil", n, err)
	}

	// mutating the caller's slice must not leak into the store
	entries[0].Status = domain.StatusCancelled
	got, err := repo.GetByID(ctx, "a")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != domain.StatusScheduled {
		t.Fatalf("stored status = %s, want SCHEDULED", got.Status)
	}
}

func TestMemoryScheduleRepoListDue(t *testing.T) {
	t.Parallel()

	repo := NewMemoryScheduleRepo()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()

	_, _ = repo.CreateBatch(ctx, []*domain.ScheduleEntry{
		{ID: "late", EventID: "ev1", TemplateID: "t3", ScheduledAt: now.Add(time.Minute), Status: domain.StatusScheduled},
		{ID: "due-b", EventID: "ev1", TemplateID: "t2", ScheduledAt: now, Status: domain.StatusScheduled},
		{ID: "due-a", EventID: "ev1", TemplateID: "t1", ScheduledAt: now, Status: domain.StatusScheduled},
		{ID: "sent", EventID: "ev1", TemplateID: "t0", ScheduledAt: now.Add(-time.Hour), Status: domain.StatusSent},
		{ID: "other-event", EventID: "ev2", TemplateID: "t0", ScheduledAt: now.Add(-2 * time.Hour), Status: domain.StatusScheduled},
	})

	due, err := repo.ListDue(ctx, now, []string{"ev1"}, 10)
	if err != nil {
		t.Fatalf("ListDue() error = %v", err)
	}
	if len(due) != 2 || due[0].ID != "due-a" || due[1].ID != "due-b" {
		t.Fatalf("ListDue() = %+v, want [due-a due-b]", due)
	}

	limited, _ := repo.ListDue(ctx, now, []string{"ev1"}, 1)
	if len(limited) != 1 || limited[0].ID != "due-a" {
		t.Fatalf("ListDue(limit=1) = %+v, want [due-a]", limited)
	}

	if none, _ := repo.ListDue(ctx, now, nil, 10); len(none) != 0 {
		t.Fatalf("ListDue(no events) = %+v, want empty", none)
	}
}

func TestMemoryScheduleRepoUpdateIndexesMessageID(t *testing.T) {
	t.Parallel()

	repo := NewMemoryScheduleRepo()
	ctx := context.Background()
	_, _ = repo.CreateBatch(ctx, []*domain.ScheduleEntry{{ID: "a", Status: domain.StatusScheduled}})

	_, err := repo.Update(ctx, "a", func(e *domain.ScheduleEntry) error {
		e.ProviderMessageID = "msg-1"
		e.Transition(domain.StatusSent, time.Now(), "")
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := repo.GetByProviderMessageID(ctx, "msg-1")
	if err != nil {
		t.Fatalf("GetByProviderMessageID() error = %v", err)
	}
	if got.ID != "a" || got.Status != domain.StatusSent {
		t.Fatalf("got %s/%s, want a/SENT", got.ID, got.Status)
	}

	abort := errors.New("abort")
	if _, err := repo.Update(ctx, "a", func(e *domain.ScheduleEntry) error {
		e.Status = domain.StatusCancelled
		return abort
	}); !errors.Is(err, abort) {
		t.Fatalf("Update() error = %v, want abort", err)
	}
	got, _ = repo.GetByID(ctx, "a")
	if got.Status != domain.StatusSent {
		t.Fatalf("aborted update leaked status %s", got.Status)
	}

	if _, err := repo.Update(ctx, "missing", func(*domain.ScheduleEntry) error { return nil }); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Update(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMemoryProfileRepoConflictAndLatest(t *testing.T) {
	t.Parallel()

	repo := NewMemoryProfileRepo()
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0).UTC()

	if err := repo.Create(ctx, &domain.EngagementProfile{ID: "p1", EventID: "e1", RecipientID: "r1", RegisteredAt: base}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	err := repo.Create(ctx, &domain.EngagementProfile{ID: "p2", EventID: "e1", RecipientID: "r1", RegisteredAt: base})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("duplicate Create() error = %v, want ErrConflict", err)
	}
	if err := repo.Create(ctx, &domain.EngagementProfile{ID: "p3", EventID: "e2", RecipientID: "r1", RegisteredAt: base.Add(time.Hour)}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	latest, err := repo.LatestByRecipient(ctx, "r1")
	if err != nil {
		t.Fatalf("LatestByRecipient() error = %v", err)
	}
	if latest.ID != "p3" {
		t.Fatalf("LatestByRecipient() = %s, want p3", latest.ID)
	}

	if _, err := repo.LatestByRecipient(ctx, "nobody"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("LatestByRecipient(nobody) error = %v, want ErrNotFound", err)
	}
}

func TestMemoryProfileRepoConcurrentUpdates(t *testing.T) {
	t.Parallel()

	repo := NewMemoryProfileRepo()
	ctx := context.Background()
	_ = repo.Create(ctx, &domain.EngagementProfile{ID: "p1", EventID: "e1", RecipientID: "r1"})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = repo.Update(ctx, "p1", func(p *domain.EngagementProfile) error {
				p.OpenCount++
				return nil
			})
		}()
	}
	wg.Wait()

	got, _ := repo.GetByID(ctx, "p1")
	if got.OpenCount != 50 {
		t.Fatalf("OpenCount = %d, want 50", got.OpenCount)
	}
}

func TestMemorySessionRepoGetByAttemptMessageID(t *testing.T) {
	t.Parallel()

	repo := NewMemorySessionRepo()
	ctx := context.Background()
	_ = repo.Create(ctx, &domain.AbandonedSession{
		ID:       "s1",
		Attempts: []domain.RecoveryAttempt{{ID: "a1", ProviderMessageID: "m-1"}},
	})

	got, err := repo.GetByAttemptMessageID(ctx, "m-1")
	if err != nil || got.ID != "s1" {
		t.Fatalf("GetByAttemptMessageID() = %v, %v", got, err)
	}
	if _, err := repo.GetByAttemptMessageID(ctx, ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("empty id error = %v, want ErrNotFound", err)
	}
}

func TestMemoryJobRepoListDueOrdersByRung(t *testing.T) {
	t.Parallel()

	repo := NewMemoryJobRepo()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()

	_ = repo.CreateBatch(ctx, []*domain.RecoveryJob{
		{ID: "j3", SessionID: "s1", Rung: 3, DueAt: now.Add(24 * time.Hour), Status: domain.JobPending},
		{ID: "j2", SessionID: "s1", Rung: 2, DueAt: now, Status: domain.JobPending},
		{ID: "j1", SessionID: "s1", Rung: 1, DueAt: now, Status: domain.JobPending},
		{ID: "j0", SessionID: "s0", Rung: 1, DueAt: now, Status: domain.JobFired},
	})

	due, err := repo.ListDue(ctx, now, 0)
	if err != nil {
		t.Fatalf("ListDue() error = %v", err)
	}
	if len(due) != 2 || due[0].ID != "j1" || due[1].ID != "j2" {
		t.Fatalf("ListDue() = %+v, want [j1 j2]", due)
	}

	all, _ := repo.ListBySession(ctx, "s1")
	if len(all) != 3 || all[2].Rung != 3 {
		t.Fatalf("ListBySession() = %+v", all)
	}
}
