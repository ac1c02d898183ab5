package reminders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Joseda-hg/taskwatch/internal/db"
	"github.com/Joseda-hg/taskwatch/internal/model"
)

type taskMap map[string]string

func (m taskMap) Get(ctx context.Context, id string) (model.Task, error) {
	text, ok := m[id]
	if !ok {
		return model.Task{}, db.ErrNotFound
	}
	return model.Task{ID: id, Text: text}, nil
}

type recordingNotifier struct {
	bodies []string
}

func (n *recordingNotifier) ShowNotification(title, body string) {
	n.bodies = append(n.bodies, body)
}

func newTestService(t *testing.T, now *time.Time) (*Service, *db.KVStore, *recordingNotifier, func()) {
	t.Helper()
	conn, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	kv := db.NewKVStore(conn)
	notifier := &recordingNotifier{}
	svc := NewService(kv, taskMap{"t1": "Send the report"}, notifier, 15*time.Minute)
	svc.now = func() time.Time { return *now }
	return svc, kv, notifier, func() {
		_ = conn.Close()
	}
}

func TestMutationsRequireLoad(t *testing.T) {
	now := time.Date(2024, 7, 26, 9, 0, 0, 0, time.UTC)
	svc, kv, _, cleanup := newTestService(t, &now)
	defer cleanup()
	ctx := context.Background()

	if err := kv.Set(ctx, storageKey, []model.Reminder{{ID: "keep", TaskID: "t1", Time: now, Type: model.ReminderCustom, Status: model.ReminderPending}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := svc.Add(ctx, "t1", now, model.ReminderAtDueTime); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded before load, got %v", err)
	}
	if _, err := svc.CheckDue(ctx); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded from check, got %v", err)
	}

	if err := svc.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := svc.Add(ctx, "t1", now, model.ReminderAtDueTime); err != nil {
		t.Fatalf("add: %v", err)
	}

	var stored []model.Reminder
	if _, err := kv.Get(ctx, storageKey, &stored); err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(stored) != 2 || stored[0].ID != "keep" {
		t.Fatalf("expected stored reminders to survive, got %+v", stored)
	}
}

func TestTimeFor(t *testing.T) {
	due := time.Date(2024, 7, 26, 17, 0, 0, 0, time.UTC)
	cases := map[model.ReminderType]time.Time{
		model.ReminderHourBefore: due.Add(-time.Hour),
		model.ReminderDayBefore:  due.Add(-24 * time.Hour),
		model.ReminderAtDueTime:  due,
		model.ReminderCustom:     due,
	}
	for reminderType, want := range cases {
		if got := TimeFor(due, reminderType); !got.Equal(want) {
			t.Fatalf("%s: expected %v, got %v", reminderType, want, got)
		}
	}
}

func TestSnoozeIsAdditiveAndClearsLastNotified(t *testing.T) {
	now := time.Date(2024, 7, 26, 9, 0, 0, 0, time.UTC)
	svc, _, _, cleanup := newTestService(t, &now)
	defer cleanup()
	ctx := context.Background()

	if err := svc.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	added, err := svc.Add(ctx, "t1", now, model.ReminderAtDueTime)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.Update(ctx, added.ID, func(r *model.Reminder) {
		stamp := now
		r.LastNotified = &stamp
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	first, err := svc.Snooze(ctx, added.ID)
	if err != nil {
		t.Fatalf("snooze: %v", err)
	}
	if !first.Time.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("expected time +15m, got %v", first.Time)
	}
	if first.LastNotified != nil {
		t.Fatalf("expected lastNotified to be cleared")
	}
	if first.Status != model.ReminderSnoozed || first.SnoozeUntil == nil {
		t.Fatalf("expected snoozed status with snoozeUntil, got %+v", first)
	}

	second, err := svc.Snooze(ctx, added.ID)
	if err != nil {
		t.Fatalf("snooze again: %v", err)
	}
	if !second.Time.Equal(now.Add(30 * time.Minute)) {
		t.Fatalf("expected time +30m after two snoozes, got %v", second.Time)
	}
}

func TestEligibleRespectsSnoozeUntil(t *testing.T) {
	now := time.Date(2024, 7, 26, 9, 0, 0, 0, time.UTC)
	until := now.Add(15 * time.Minute)
	r := model.Reminder{Time: now.Add(-time.Minute), Status: model.ReminderSnoozed, SnoozeUntil: &until}

	if Eligible(r, until.Add(-time.Second)) {
		t.Fatalf("expected snoozed reminder not to fire before snoozeUntil")
	}
	if !Eligible(r, until) {
		t.Fatalf("expected snoozed reminder to fire at snoozeUntil")
	}

	r.SnoozeUntil = nil
	if Eligible(r, until.Add(time.Hour)) {
		t.Fatalf("expected snoozed reminder without snoozeUntil never to fire")
	}

	dismissed := model.Reminder{Time: now, Status: model.ReminderDismissed}
	if Eligible(dismissed, now) {
		t.Fatalf("expected dismissed reminder not to fire")
	}
}

func TestCheckDueFiresOncePerDueInstant(t *testing.T) {
	now := time.Date(2024, 7, 26, 9, 0, 0, 0, time.UTC)
	svc, _, notifier, cleanup := newTestService(t, &now)
	defer cleanup()
	ctx := context.Background()

	if err := svc.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := svc.Add(ctx, "t1", now.Add(time.Minute), model.ReminderAtDueTime); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.Add(ctx, "gone", now.Add(time.Hour+time.Minute), model.ReminderHourBefore); err != nil {
		t.Fatalf("add: %v", err)
	}

	if n, err := svc.CheckDue(ctx); err != nil || n != 0 {
		t.Fatalf("expected nothing due yet, n=%d err=%v", n, err)
	}

	now = now.Add(2 * time.Minute)
	n, err := svc.CheckDue(ctx)
	if err != nil {
		t.Fatalf("check due: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 notifications, got %d", n)
	}
	if notifier.bodies[0] != `"Send the report" is due now!` {
		t.Fatalf("unexpected body %q", notifier.bodies[0])
	}
	if notifier.bodies[1] != `"Unknown task" is due soon!` {
		t.Fatalf("unexpected body %q", notifier.bodies[1])
	}

	now = now.Add(time.Minute)
	if n, err := svc.CheckDue(ctx); err != nil || n != 0 {
		t.Fatalf("expected no re-fire, n=%d err=%v", n, err)
	}
	for _, r := range svc.List() {
		if r.LastNotified == nil {
			t.Fatalf("expected lastNotified to be set on %s", r.ID)
		}
		if r.Status != model.ReminderPending {
			t.Fatalf("expected firing to leave status alone, got %q", r.Status)
		}
	}
}

func TestDismissAndRemove(t *testing.T) {
	now := time.Date(2024, 7, 26, 9, 0, 0, 0, time.UTC)
	svc, _, _, cleanup := newTestService(t, &now)
	defer cleanup()
	ctx := context.Background()

	if err := svc.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	added, err := svc.Add(ctx, "t1", now, model.ReminderCustom)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	dismissed, err := svc.Dismiss(ctx, added.ID)
	if err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if dismissed.Status != model.ReminderDismissed {
		t.Fatalf("expected dismissed, got %q", dismissed.Status)
	}

	if err := svc.Remove(ctx, added.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(svc.List()) != 0 {
		t.Fatalf("expected empty list after remove")
	}
	if err := svc.Remove(ctx, added.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
