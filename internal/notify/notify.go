// Package notify schedules local reminders for planned slot windows. The
// engine cancels a slot's reminders before scheduling replacements, so a
// rescheduled slot never fires twice.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"signalnoise/internal/domain"
)

// Notifier delivers a single reminder.
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// LogNotifier writes reminders to the log. It is the default sink; OS-level
// delivery plugs in behind the same interface.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Send(ctx context.Context, title, body string) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("reminder", "title", title, "body", body)
	return nil
}

// NoOpNotifier drops reminders.
type NoOpNotifier struct{}

func (NoOpNotifier) Send(ctx context.Context, title, body string) error { return nil }

// Registry owns the pending reminder timers, keyed by slot id.
type Registry struct {
	notifier Notifier
	now      func() time.Time

	mu     sync.Mutex
	timers map[string][]*time.Timer
}

func NewRegistry(n Notifier) *Registry {
	if n == nil {
		n = NoOpNotifier{}
	}
	return &Registry{
		notifier: n,
		now:      time.Now,
		timers:   make(map[string][]*time.Timer),
	}
}

// Schedule arms start and end reminders for the slot's planned window.
// Moments already in the past are skipped. Any reminders previously armed
// for the slot are cancelled first.
func (r *Registry) Schedule(slot domain.TimeSlot, title string) {
	r.Cancel(slot.ID)
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	var timers []*time.Timer
	if slot.PlannedStart.After(now) {
		body := fmt.Sprintf("%s starts at %s", title, slot.PlannedStart.Format("15:04"))
		timers = append(timers, r.arm(slot.PlannedStart.Sub(now), title, body))
	}
	if slot.PlannedEnd.After(now) {
		body := fmt.Sprintf("%s ends at %s", title, slot.PlannedEnd.Format("15:04"))
		timers = append(timers, r.arm(slot.PlannedEnd.Sub(now), title, body))
	}
	if len(timers) > 0 {
		r.timers[slot.ID] = timers
	}
}

func (r *Registry) arm(d time.Duration, title, body string) *time.Timer {
	return time.AfterFunc(d, func() {
		_ = r.notifier.Send(context.Background(), title, body)
	})
}

// Cancel disarms all pending reminders for the slot.
func (r *Registry) Cancel(slotID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.timers[slotID] {
		t.Stop()
	}
	delete(r.timers, slotID)
}

// Stop disarms everything, used on shutdown.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ts := range r.timers {
		for _, t := range ts {
			t.Stop()
		}
		delete(r.timers, id)
	}
}
