package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"signalnoise/internal/domain"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingNotifier) Send(ctx context.Context, title, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, body)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestScheduleFiresStartReminder(t *testing.T) {
	n := &recordingNotifier{}
	reg := NewRegistry(n)
	defer reg.Stop()

	now := time.Now()
	slot := domain.TimeSlot{
		ID:           "s1",
		PlannedStart: now.Add(20 * time.Millisecond),
		PlannedEnd:   now.Add(40 * time.Millisecond),
	}
	reg.Schedule(slot, "deep work")

	deadline := time.Now().Add(2 * time.Second)
	for n.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("reminders fired = %d, want 2", n.count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCancelDisarms(t *testing.T) {
	n := &recordingNotifier{}
	reg := NewRegistry(n)
	defer reg.Stop()

	slot := domain.TimeSlot{
		ID:           "s1",
		PlannedStart: time.Now().Add(30 * time.Millisecond),
		PlannedEnd:   time.Now().Add(60 * time.Millisecond),
	}
	reg.Schedule(slot, "focus")
	reg.Cancel(slot.ID)

	time.Sleep(120 * time.Millisecond)
	if n.count() != 0 {
		t.Fatalf("cancelled reminders still fired: %d", n.count())
	}
}

func TestPastMomentsSkipped(t *testing.T) {
	n := &recordingNotifier{}
	reg := NewRegistry(n)
	defer reg.Stop()

	slot := domain.TimeSlot{
		ID:           "s1",
		PlannedStart: time.Now().Add(-time.Hour),
		PlannedEnd:   time.Now().Add(-30 * time.Minute),
	}
	reg.Schedule(slot, "long gone")
	time.Sleep(30 * time.Millisecond)
	if n.count() != 0 {
		t.Fatalf("past slot fired %d reminders", n.count())
	}
}

func TestRescheduleReplacesTimers(t *testing.T) {
	n := &recordingNotifier{}
	reg := NewRegistry(n)
	defer reg.Stop()

	slot := domain.TimeSlot{
		ID:           "s1",
		PlannedStart: time.Now().Add(30 * time.Millisecond),
		PlannedEnd:   time.Now().Add(50 * time.Millisecond),
	}
	reg.Schedule(slot, "v1")
	// move the slot out; the old timers must not fire
	slot.PlannedStart = time.Now().Add(time.Hour)
	slot.PlannedEnd = time.Now().Add(2 * time.Hour)
	reg.Schedule(slot, "v2")

	time.Sleep(120 * time.Millisecond)
	if n.count() != 0 {
		t.Fatalf("stale timers fired %d times after reschedule", n.count())
	}
}
