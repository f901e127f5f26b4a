package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"signalnoise/internal/config"
	"signalnoise/internal/db"
	"signalnoise/internal/domain"
	"signalnoise/internal/engine"
	"signalnoise/internal/migrate"
	"signalnoise/internal/repo"
	"signalnoise/internal/schedule"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	now    *time.Time
}

// setNow moves the injected clock.
func (env *testEnv) setNow(t time.Time) { *env.now = t }

func (env *testEnv) advance(d time.Duration) { *env.now = env.now.Add(d) }

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// Monday
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	cfg := config.Default("default")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return now }
	return &testEnv{Engine: eng, Ctx: context.Background(), now: &now}
}

func mustCreateTask(t *testing.T, env *testEnv, title string, estimate int) domain.SignalTask {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:            title,
		EstimatedMinutes: estimate,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestStartStopAccumulates(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, "write report", 60)

	slot, err := env.Engine.SmartStart(env.Ctx, task.ID, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if slot.ActualStart == nil || slot.ActualEnd != nil {
		t.Fatalf("slot should be running: %+v", slot)
	}

	env.advance(20 * time.Minute)
	slot, err = env.Engine.StopSlot(env.Ctx, task.ID, slot.ID)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if slot.AccumulatedSeconds != 1200 {
		t.Fatalf("accumulated = %d, want 1200", slot.AccumulatedSeconds)
	}
	if slot.ActualStart == nil {
		t.Fatalf("stop must retain actual start")
	}
	if slot.ActualEnd == nil {
		t.Fatalf("stop must set actual end")
	}
}

// Pause at 09:20, resume at 09:30 (inside the merge threshold), stop at
// 09:45: one slot, 20 + 15 minutes of settled time, no double counting.
func TestSmartStartResumesWithinThreshold(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, "deep work", 120)

	first, err := env.Engine.SmartStart(env.Ctx, task.ID, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	env.setNow(time.Date(2026, 3, 2, 9, 20, 0, 0, time.UTC))
	if _, err := env.Engine.StopSlot(env.Ctx, task.ID, first.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}

	env.setNow(time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC))
	resumed, err := env.Engine.SmartStart(env.Ctx, task.ID, "")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.ID != first.ID {
		t.Fatalf("expected resume of slot %s, got new slot %s", first.ID, resumed.ID)
	}
	if resumed.AccumulatedSeconds != 1200 {
		t.Fatalf("resume must keep settled time, got %d", resumed.AccumulatedSeconds)
	}

	env.setNow(time.Date(2026, 3, 2, 9, 45, 0, 0, time.UTC))
	final, err := env.Engine.StopSlot(env.Ctx, task.ID, resumed.ID)
	if err != nil {
		t.Fatalf("final stop: %v", err)
	}
	if final.AccumulatedSeconds != 2100 {
		t.Fatalf("total = %d, want 2100", final.AccumulatedSeconds)
	}
	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Slots) != 1 {
		t.Fatalf("expected a single slot, got %d", len(got.Slots))
	}
}

func TestMergeThresholdBoundary(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, "boundary", 60)

	slot, err := env.Engine.SmartStart(env.Ctx, task.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	env.advance(10 * time.Minute)
	if _, err := env.Engine.StopSlot(env.Ctx, task.ID, slot.ID); err != nil {
		t.Fatal(err)
	}

	// exactly 15 minutes later: still a resume
	env.advance(15 * time.Minute)
	resumed, err := env.Engine.SmartStart(env.Ctx, task.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if resumed.ID != slot.ID {
		t.Fatalf("boundary start must resume, got new slot")
	}
	env.advance(time.Minute)
	if _, err := env.Engine.StopSlot(env.Ctx, task.ID, resumed.ID); err != nil {
		t.Fatal(err)
	}

	// one second past the threshold: a fresh slot
	env.advance(15*time.Minute + time.Second)
	fresh, err := env.Engine.SmartStart(env.Ctx, task.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if fresh.ID == slot.ID {
		t.Fatalf("start past threshold must open a new slot")
	}
}

func TestSmartStartPreferredSlot(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, "planned", 60)
	planned, err := env.Engine.AddSlot(env.Ctx, task.ID,
		time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC), false)
	if err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.SmartStart(env.Ctx, task.ID, planned.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != planned.ID {
		t.Fatalf("expected preferred slot %s, got %s", planned.ID, got.ID)
	}
	if !got.IsActive() {
		t.Fatalf("preferred slot should be running")
	}
}

func TestSmartStartAlreadyActive(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, "busy", 30)
	if _, err := env.Engine.SmartStart(env.Ctx, task.ID, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SmartStart(env.Ctx, task.ID, ""); !errors.Is(err, engine.ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
}

func TestStopIdempotent(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, "idem", 30)
	slot, err := env.Engine.SmartStart(env.Ctx, task.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	env.advance(5 * time.Minute)
	stopped, err := env.Engine.StopSlot(env.Ctx, task.ID, slot.ID)
	if err != nil {
		t.Fatal(err)
	}
	again, err := env.Engine.StopSlot(env.Ctx, task.ID, slot.ID)
	if !errors.Is(err, engine.ErrAlreadyStopped) {
		t.Fatalf("expected ErrAlreadyStopped, got %v", err)
	}
	if again.AccumulatedSeconds != stopped.AccumulatedSeconds {
		t.Fatalf("second stop must not change settled time")
	}
}

func TestLiveElapsed(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, "live", 120)

	first, err := env.Engine.SmartStart(env.Ctx, task.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	env.advance(10 * time.Minute)
	if _, err := env.Engine.StopSlot(env.Ctx, task.ID, first.ID); err != nil {
		t.Fatal(err)
	}

	// past the threshold so a second slot opens
	env.advance(20 * time.Minute)
	second, err := env.Engine.SmartStart(env.Ctx, task.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	env.advance(5 * time.Minute)

	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	var running domain.TimeSlot
	for _, s := range got.Slots {
		if s.ID == second.ID {
			running = s
		}
	}
	elapsed := engine.LiveElapsed(got, running, env.Engine.Now())
	if elapsed != 15*time.Minute {
		t.Fatalf("live elapsed = %s, want 15m", elapsed)
	}
	// the tick is read-only: recomputing a second later only adds a second
	later := engine.LiveElapsed(got, running, env.Engine.Now().Add(time.Second))
	if later-elapsed != time.Second {
		t.Fatalf("tick drift: %s", later-elapsed)
	}
}

func TestDiscardDeletesUntouchedSlot(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, "clean", 60)
	slot, err := env.Engine.AddSlot(env.Ctx, task.ID,
		time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC), false)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DiscardSlot(env.Ctx, task.ID, slot.ID); err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Slots) != 0 {
		t.Fatalf("untouched slot should be deleted, got %d slots", len(got.Slots))
	}
}

func TestDiscardPreservesRecordedTime(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, "history", 60)
	slot, err := env.Engine.SmartStart(env.Ctx, task.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	env.advance(10 * time.Minute)
	if err := env.Engine.DiscardSlot(env.Ctx, task.ID, slot.ID); err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Slots) != 1 {
		t.Fatalf("slot with recorded time must be kept, got %d slots", len(got.Slots))
	}
	s := got.Slots[0]
	if !s.Discarded {
		t.Fatalf("slot should be flagged discarded")
	}
	if s.AccumulatedSeconds != 600 {
		t.Fatalf("running session must be settled on discard, got %d", s.AccumulatedSeconds)
	}
	// executed time stays in the task aggregate
	if got.ActualSeconds() != 600 {
		t.Fatalf("aggregate lost discarded time: %d", got.ActualSeconds())
	}
	// but the planned schedule no longer counts it
	if got.ScheduledMinutes() != 0 {
		t.Fatalf("discarded slot must not count as scheduled")
	}
}

func TestDiscardedSlotNeverResumes(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, "no resurrection", 60)
	slot, err := env.Engine.SmartStart(env.Ctx, task.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	env.advance(5 * time.Minute)
	if err := env.Engine.DiscardSlot(env.Ctx, task.ID, slot.ID); err != nil {
		t.Fatal(err)
	}
	env.advance(time.Minute)
	fresh, err := env.Engine.SmartStart(env.Ctx, task.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if fresh.ID == slot.ID {
		t.Fatalf("discarded slot must not be resumed")
	}
}

// A discarded slot id is a stale reference: starting it must fail instead of
// reviving the slot and erasing its settled record.
func TestSmartStartRejectsDiscardedPreferredSlot(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, "stale handle", 60)
	slot, err := env.Engine.SmartStart(env.Ctx, task.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	env.advance(5 * time.Minute)
	if err := env.Engine.DiscardSlot(env.Ctx, task.ID, slot.ID); err != nil {
		t.Fatal(err)
	}

	env.advance(20 * time.Minute)
	if _, err := env.Engine.SmartStart(env.Ctx, task.ID, slot.ID); !errors.Is(err, engine.ErrSlotNotFound) {
		t.Fatalf("expected ErrSlotNotFound for discarded slot, got %v", err)
	}

	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	s := got.Slots[0]
	if !s.Discarded || s.ActualEnd == nil {
		t.Fatalf("discarded record must stay settled: %+v", s)
	}
	if s.AccumulatedSeconds != 300 {
		t.Fatalf("settled time changed: %d", s.AccumulatedSeconds)
	}
}

type recordingReminders struct {
	scheduled []string
	cancelled []string
}

func (r *recordingReminders) Schedule(slot domain.TimeSlot, title string) {
	r.scheduled = append(r.scheduled, slot.ID)
}

func (r *recordingReminders) Cancel(slotID string) {
	r.cancelled = append(r.cancelled, slotID)
}

func TestRemindersFollowSlotLifecycle(t *testing.T) {
	env := newTestEnv(t)
	rec := &recordingReminders{}
	env.Engine.Reminders = rec
	task := mustCreateTask(t, env, "reminded", 60)

	slot, err := env.Engine.AddSlot(env.Ctx, task.ID,
		time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC), false)
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.scheduled) != 1 || rec.scheduled[0] != slot.ID {
		t.Fatalf("add must schedule reminders: %v", rec.scheduled)
	}

	newStart := time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC)
	newEnd := time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC)
	if _, err := env.Engine.UpdateSlot(env.Ctx, task.ID, slot.ID, engine.SlotUpdateOptions{
		PlannedStart: &newStart,
		PlannedEnd:   &newEnd,
	}); err != nil {
		t.Fatal(err)
	}
	if len(rec.cancelled) != 1 || rec.cancelled[0] != slot.ID {
		t.Fatalf("update must cancel the old reminders first: %v", rec.cancelled)
	}
	if len(rec.scheduled) != 2 {
		t.Fatalf("update must reschedule: %v", rec.scheduled)
	}

	if err := env.Engine.DiscardSlot(env.Ctx, task.ID, slot.ID); err != nil {
		t.Fatal(err)
	}
	if len(rec.cancelled) != 2 {
		t.Fatalf("discard must cancel reminders: %v", rec.cancelled)
	}
}

func TestAddSlotRejectsBadWindow(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, "windows", 60)
	start := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	if _, err := env.Engine.AddSlot(env.Ctx, task.ID, start, start, false); !errors.Is(err, engine.ErrInvalidWindow) {
		t.Fatalf("empty window: %v", err)
	}
	if _, err := env.Engine.AddSlot(env.Ctx, task.ID, start, start.Add(-time.Hour), false); !errors.Is(err, engine.ErrInvalidWindow) {
		t.Fatalf("inverted window: %v", err)
	}
	// crossing into the next day is rejected
	if _, err := env.Engine.AddSlot(env.Ctx, task.ID, start, start.AddDate(0, 0, 1), false); !errors.Is(err, engine.ErrInvalidWindow) {
		t.Fatalf("cross-day window: %v", err)
	}
	// exactly next midnight is the end-of-day encoding and is fine
	midnight := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	if _, err := env.Engine.AddSlot(env.Ctx, task.ID, start, midnight, false); err != nil {
		t.Fatalf("midnight end: %v", err)
	}
}

func TestTaskLimit(t *testing.T) {
	env := newTestEnv(t)
	max := env.Engine.Config.Tasks.MaxPerDay
	for i := 0; i < max; i++ {
		mustCreateTask(t, env, "task", 30)
	}
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "one too many", EstimatedMinutes: 30})
	if !errors.Is(err, engine.ErrTaskLimit) {
		t.Fatalf("expected ErrTaskLimit, got %v", err)
	}
}

func TestCompleteTaskStopsRunningSlot(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, "finish", 30)
	if _, err := env.Engine.SmartStart(env.Ctx, task.ID, ""); err != nil {
		t.Fatal(err)
	}
	env.advance(10 * time.Minute)
	done, err := env.Engine.CompleteTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !done.Completed {
		t.Fatalf("task should be completed")
	}
	if done.ActiveSlot() != nil {
		t.Fatalf("completing must settle the running session")
	}
	if done.ActualSeconds() != 600 {
		t.Fatalf("settled time = %d, want 600", done.ActualSeconds())
	}
}

func TestAutoEndOverdue(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, "overrun", 60)
	slot, err := env.Engine.AddSlot(env.Ctx, task.ID,
		time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SmartStart(env.Ctx, task.ID, slot.ID); err != nil {
		t.Fatal(err)
	}

	// still inside planned end + grace: nothing to do
	env.setNow(time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC))
	stopped, err := env.Engine.AutoEndOverdue(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(stopped) != 0 {
		t.Fatalf("swept too early: %d", len(stopped))
	}

	env.setNow(time.Date(2026, 3, 2, 10, 31, 0, 0, time.UTC))
	stopped, err = env.Engine.AutoEndOverdue(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(stopped) != 1 {
		t.Fatalf("expected one auto-ended slot, got %d", len(stopped))
	}
	if stopped[0].AccumulatedSeconds != int64((time.Hour+31*time.Minute)/time.Second) {
		t.Fatalf("settled = %d", stopped[0].AccumulatedSeconds)
	}
}

func TestAutoEndSettlesAtDayCutoff(t *testing.T) {
	env := newTestEnv(t)
	env.setNow(time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC))
	task := mustCreateTask(t, env, "night owl", 60)
	if _, err := env.Engine.SmartStart(env.Ctx, task.ID, ""); err != nil {
		t.Fatal(err)
	}

	// next morning: the session is closed at yesterday's cutoff, not at now
	env.setNow(time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC))
	stopped, err := env.Engine.AutoEndOverdue(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(stopped) != 1 {
		t.Fatalf("expected one auto-ended slot, got %d", len(stopped))
	}
	s := stopped[0]
	if s.ActualEnd == nil || !s.ActualEnd.Equal(time.Date(2026, 3, 2, 23, 59, 0, 0, time.UTC)) {
		t.Fatalf("settle time = %v, want day cutoff", s.ActualEnd)
	}
	want := int64((time.Hour + 59*time.Minute) / time.Second) // 22:00 to 23:59
	if s.AccumulatedSeconds != want {
		t.Fatalf("settled = %d, want %d", s.AccumulatedSeconds, want)
	}
}

func TestWeekStatsGoldenDays(t *testing.T) {
	env := newTestEnv(t)
	resolver := schedule.Resolver{DB: env.Engine.DB, Repo: repo.Repo{DB: env.Engine.DB}, Events: env.Engine.Events, Config: env.Engine.Config, Now: env.Engine.Now}

	task := mustCreateTask(t, env, "golden", 480)
	if _, err := env.Engine.SmartStart(env.Ctx, task.ID, ""); err != nil {
		t.Fatal(err)
	}
	// work 09:00 to 16:00, ratio 7h/7h = 1.0 at 16:00
	env.setNow(time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC))
	active, _ := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if _, err := env.Engine.StopSlot(env.Ctx, task.ID, active.ActiveSlot().ID); err != nil {
		t.Fatal(err)
	}

	w, err := env.Engine.WeekStats(env.Ctx, resolver, env.Engine.Now())
	if err != nil {
		t.Fatal(err)
	}
	if w.Anchor != "2026-03-02" {
		t.Fatalf("anchor = %s, want Monday", w.Anchor)
	}
	if w.GoldenDays != 1 {
		t.Fatalf("golden days = %d, want 1", w.GoldenDays)
	}
	if w.Achieved {
		t.Fatalf("one golden day must not flip the weekly achievement")
	}
}
