package domain

import "time"

// SlotStatus is derived at read time, never stored.
type SlotStatus string

const (
	SlotScheduled SlotStatus = "scheduled"
	SlotActive    SlotStatus = "active"
	SlotCompleted SlotStatus = "completed"
	SlotMissed    SlotStatus = "missed"
	SlotDiscarded SlotStatus = "discarded"
)

type SignalTask struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	ScheduledDate    string     `json:"scheduled_date" format:"date"`
	EstimatedMinutes int        `json:"estimated_minutes"`
	Completed        bool       `json:"completed"`
	ExternalEventID  *string    `json:"external_event_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at" format:"date-time"`
	Slots            []TimeSlot `json:"slots,omitempty"`
}

// ScheduledMinutes is the sum of planned durations over non-discarded slots.
func (t SignalTask) ScheduledMinutes() int {
	total := 0
	for _, s := range t.Slots {
		if s.Discarded {
			continue
		}
		total += int(s.PlannedEnd.Sub(s.PlannedStart).Minutes())
	}
	return total
}

// ActualSeconds is settled work time across all slots, discarded included.
// Executed time never disappears from aggregates once recorded.
func (t SignalTask) ActualSeconds() int64 {
	var total int64
	for _, s := range t.Slots {
		total += s.AccumulatedSeconds
	}
	return total
}

func (t SignalTask) ActualMinutes() int {
	return int(t.ActualSeconds() / 60)
}

// UnscheduledMinutes is the estimate not yet covered by planned slots, floor 0.
func (t SignalTask) UnscheduledMinutes() int {
	rem := t.EstimatedMinutes - t.ScheduledMinutes()
	if rem < 0 {
		return 0
	}
	return rem
}

// ActiveSlot returns the currently running slot, if any. The engine keeps
// this to at most one per task.
func (t SignalTask) ActiveSlot() *TimeSlot {
	for i := range t.Slots {
		if t.Slots[i].IsActive() {
			return &t.Slots[i]
		}
	}
	return nil
}

type TimeSlot struct {
	ID                 string     `json:"id"`
	TaskID             string     `json:"task_id"`
	PlannedStart       time.Time  `json:"planned_start" format:"date-time"`
	PlannedEnd         time.Time  `json:"planned_end" format:"date-time"`
	ActualStart        *time.Time `json:"actual_start,omitempty" format:"date-time"`
	ActualEnd          *time.Time `json:"actual_end,omitempty" format:"date-time"`
	AccumulatedSeconds int64      `json:"accumulated_seconds"`
	AutoEnd            bool       `json:"auto_end"`
	Discarded          bool       `json:"discarded"`
	ExternalEventID    *string    `json:"external_event_id,omitempty"`
	SubtaskIDs         []string   `json:"subtask_ids,omitempty"`
	CreatedAt          time.Time  `json:"created_at" format:"date-time"`
}

// IsActive reports whether the slot has a running session: started, not
// ended, not discarded.
func (s TimeSlot) IsActive() bool {
	return s.ActualStart != nil && s.ActualEnd == nil && !s.Discarded
}

// HasRecordedTime reports whether any work was ever executed on the slot.
func (s TimeSlot) HasRecordedTime() bool {
	return s.AccumulatedSeconds > 0 || s.ActualStart != nil
}

// Status derives the slot state at the given instant.
func (s TimeSlot) Status(now time.Time) SlotStatus {
	switch {
	case s.Discarded:
		return SlotDiscarded
	case s.ActualEnd != nil:
		return SlotCompleted
	case s.ActualStart != nil:
		return SlotActive
	case now.After(s.PlannedEnd):
		return SlotMissed
	default:
		return SlotScheduled
	}
}

// PlannedMinutes is the planned window length.
func (s TimeSlot) PlannedMinutes() int {
	return int(s.PlannedEnd.Sub(s.PlannedStart).Minutes())
}

// DaySchedule is the configured focus window for one weekday. Hours are
// local wall-clock 0-23; a legacy end hour of 24 is normalized to 0 on load.
type DaySchedule struct {
	Weekday     time.Weekday `json:"weekday"`
	StartHour   int          `json:"start_hour"`
	StartMinute int          `json:"start_minute"`
	EndHour     int          `json:"end_hour"`
	EndMinute   int          `json:"end_minute"`
	Active      bool         `json:"active"`
}

// EffectiveStart records a same-day focus-window extension triggered by the
// first early start of that date.
type EffectiveStart struct {
	Date      string    `json:"date" format:"date"`
	Start     time.Time `json:"start" format:"date-time"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}

// ExternalEvent is an imported calendar entry that is not a Signal slot.
type ExternalEvent struct {
	ID         string    `json:"id"`
	CalendarID string    `json:"calendar_id,omitempty"`
	Title      string    `json:"title"`
	Start      time.Time `json:"start" format:"date-time"`
	End        time.Time `json:"end" format:"date-time"`
	CreatedAt  time.Time `json:"created_at" format:"date-time"`
}

// CalendarItemKind tags the calendar item union.
type CalendarItemKind string

const (
	CalendarItemSlot     CalendarItemKind = "slot"
	CalendarItemExternal CalendarItemKind = "external"
)

// CalendarItem is a tagged union of the two things a calendar day can show.
// Exactly one of Slot/External is set, matching Kind.
type CalendarItem struct {
	Kind     CalendarItemKind `json:"kind" enum:"slot,external"`
	Slot     *TimeSlot        `json:"slot,omitempty"`
	External *ExternalEvent   `json:"external,omitempty"`
}

// Start returns the display start time of either variant.
func (c CalendarItem) Start() time.Time {
	if c.Kind == CalendarItemExternal && c.External != nil {
		return c.External.Start
	}
	if c.Slot != nil {
		return c.Slot.PlannedStart
	}
	return time.Time{}
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

// APIKey is the stored credential record. Only the SHA-256 hash is kept;
// the hash never leaves the process in responses or logs.
type APIKey struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
