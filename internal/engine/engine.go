package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"signalnoise/internal/config"
	"signalnoise/internal/domain"
	"signalnoise/internal/events"
	"signalnoise/internal/repo"
)

// Session engine errors. AlreadyActive/AlreadyStopped signal idempotent
// no-ops the caller may ignore; the others are caller bugs or bad input.
var (
	ErrSlotNotFound   = errors.New("slot not found")
	ErrInvalidWindow  = errors.New("invalid time window")
	ErrAlreadyActive  = errors.New("slot already active")
	ErrAlreadyStopped = errors.New("slot already stopped")
	ErrTaskLimit      = errors.New("signal task limit reached for this day")
)

// ReminderScheduler is the notification collaborator. Cancel is always
// invoked before Schedule so reminders are never duplicated.
type ReminderScheduler interface {
	Schedule(slot domain.TimeSlot, title string)
	Cancel(slotID string)
}

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Reminders ReminderScheduler
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) mergeThreshold() time.Duration {
	if e.Config != nil && e.Config.Session.MergeThresholdMinutes > 0 {
		return e.Config.MergeThreshold()
	}
	return 15 * time.Minute
}

func (e Engine) scheduleReminders(slot domain.TimeSlot, title string) {
	if e.Reminders != nil {
		e.Reminders.Schedule(slot, title)
	}
}

func (e Engine) cancelReminders(slotID string) {
	if e.Reminders != nil {
		e.Reminders.Cancel(slotID)
	}
}

// TaskCreateOptions are parameters for creating a Signal task.
type TaskCreateOptions struct {
	ID               string
	Title            string
	Date             string
	EstimatedMinutes int
	ExternalEventID  string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.SignalTask, error) {
	if e.Config == nil {
		return domain.SignalTask{}, errors.New("config not loaded")
	}
	if opts.Title == "" {
		return domain.SignalTask{}, errors.New("title is required")
	}
	if opts.EstimatedMinutes <= 0 {
		return domain.SignalTask{}, errors.New("estimated minutes must be positive")
	}
	now := e.now()
	if opts.Date == "" {
		opts.Date = now.Format(time.DateOnly)
	}
	if _, err := time.Parse(time.DateOnly, opts.Date); err != nil {
		return domain.SignalTask{}, fmt.Errorf("invalid scheduled date %q", opts.Date)
	}
	count, err := e.Repo.CountTasksForDate(ctx, opts.Date)
	if err != nil {
		return domain.SignalTask{}, err
	}
	if count >= e.Config.Tasks.MaxPerDay {
		return domain.SignalTask{}, fmt.Errorf("%w (%d)", ErrTaskLimit, e.Config.Tasks.MaxPerDay)
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.Date+"|"+opts.Title+"|"+now.UTC().Format(time.RFC3339))).String()
	}
	t := domain.SignalTask{
		ID:               id,
		Title:            opts.Title,
		ScheduledDate:    opts.Date,
		EstimatedMinutes: opts.EstimatedMinutes,
		ExternalEventID:  optionalString(opts.ExternalEventID),
		CreatedAt:        now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SignalTask{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.SignalTask{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TaskCreated, "task", t.ID, events.EventPayload{
		"title": t.Title,
		"date":  t.ScheduledDate,
	}); err != nil {
		return domain.SignalTask{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SignalTask{}, err
	}
	return t, nil
}

// SmartStart resolves which slot should carry the work session starting now,
// in order of preference: resume the task's most recently stopped slot when
// it ended within the merge threshold; activate the caller-supplied
// preferred slot; otherwise open a fresh ad-hoc slot covering the task's
// unscheduled remainder. Exactly one slot is active on return.
func (e Engine) SmartStart(ctx context.Context, taskID, preferredSlotID string) (domain.TimeSlot, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.TimeSlot{}, err
	}
	if t.ActiveSlot() != nil {
		return *t.ActiveSlot(), ErrAlreadyActive
	}
	now := e.now()

	if slot := e.resumableSlot(t, now); slot != nil {
		slot.ActualStart = &now
		slot.ActualEnd = nil
		if err := e.saveSlotWithEvent(ctx, *slot, events.SlotStarted, events.EventPayload{
			"task_id": t.ID,
			"resumed": true,
			"at":      now.UTC().Format(time.RFC3339),
		}); err != nil {
			return domain.TimeSlot{}, err
		}
		e.cancelReminders(slot.ID)
		return *slot, nil
	}

	if preferredSlotID != "" {
		slot := findSlot(t, preferredSlotID)
		// a discarded slot is gone from the caller's point of view; reviving
		// it would erase its settled record
		if slot == nil || slot.Discarded {
			return domain.TimeSlot{}, fmt.Errorf("%w: %s", ErrSlotNotFound, preferredSlotID)
		}
		slot.ActualStart = &now
		slot.ActualEnd = nil
		if err := e.saveSlotWithEvent(ctx, *slot, events.SlotStarted, events.EventPayload{
			"task_id": t.ID,
			"at":      now.UTC().Format(time.RFC3339),
		}); err != nil {
			return domain.TimeSlot{}, err
		}
		e.cancelReminders(slot.ID)
		return *slot, nil
	}

	minutes := t.UnscheduledMinutes()
	if minutes <= 0 {
		minutes = t.EstimatedMinutes
	}
	slot := domain.TimeSlot{
		ID:           uuid.New().String(),
		TaskID:       t.ID,
		PlannedStart: now,
		PlannedEnd:   now.Add(time.Duration(minutes) * time.Minute),
		ActualStart:  &now,
		CreatedAt:    now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TimeSlot{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSlot(ctx, tx, slot); err != nil {
		return domain.TimeSlot{}, err
	}
	if err := e.Events.Append(ctx, tx, events.SlotAdded, "slot", slot.ID, events.EventPayload{
		"task_id": t.ID,
		"ad_hoc":  true,
	}); err != nil {
		return domain.TimeSlot{}, err
	}
	if err := e.Events.Append(ctx, tx, events.SlotStarted, "slot", slot.ID, events.EventPayload{
		"task_id": t.ID,
		"at":      now.UTC().Format(time.RFC3339),
	}); err != nil {
		return domain.TimeSlot{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TimeSlot{}, err
	}
	return slot, nil
}

// resumableSlot finds the slot whose last session ended most recently within
// the merge threshold. The boundary is inclusive: a stop exactly
// threshold-old still resumes.
func (e Engine) resumableSlot(t domain.SignalTask, now time.Time) *domain.TimeSlot {
	threshold := e.mergeThreshold()
	var best *domain.TimeSlot
	for i := range t.Slots {
		s := &t.Slots[i]
		if s.Discarded || s.ActualEnd == nil {
			continue
		}
		if now.Sub(*s.ActualEnd) > threshold {
			continue
		}
		if best == nil || s.ActualEnd.After(*best.ActualEnd) {
			best = s
		}
	}
	return best
}

// StopSlot settles the running session: the wall-clock span since
// actualStart is added to accumulatedSeconds exactly once, and actualEnd is
// set. actualStart is retained as the record of the last session start.
func (e Engine) StopSlot(ctx context.Context, taskID, slotID string) (domain.TimeSlot, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.TimeSlot{}, err
	}
	slot := findSlot(t, slotID)
	if slot == nil {
		return domain.TimeSlot{}, fmt.Errorf("%w: %s", ErrSlotNotFound, slotID)
	}
	if !slot.IsActive() {
		return *slot, ErrAlreadyStopped
	}
	now := e.now()
	session := now.Sub(*slot.ActualStart)
	if session < 0 {
		session = 0
	}
	slot.AccumulatedSeconds += int64(session / time.Second)
	slot.ActualEnd = &now
	if err := e.saveSlotWithEvent(ctx, *slot, events.SlotStopped, events.EventPayload{
		"task_id":         t.ID,
		"session_seconds": int64(session / time.Second),
		"total_seconds":   slot.AccumulatedSeconds,
	}); err != nil {
		return domain.TimeSlot{}, err
	}
	e.cancelReminders(slot.ID)
	return *slot, nil
}

// AddSlot schedules a planned window on the task. Over-scheduling past the
// estimate is permitted; the window itself must be well-formed.
func (e Engine) AddSlot(ctx context.Context, taskID string, plannedStart, plannedEnd time.Time, autoEnd bool) (domain.TimeSlot, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.TimeSlot{}, err
	}
	if err := validateWindow(plannedStart, plannedEnd); err != nil {
		return domain.TimeSlot{}, err
	}
	slot := domain.TimeSlot{
		ID:           uuid.New().String(),
		TaskID:       t.ID,
		PlannedStart: plannedStart,
		PlannedEnd:   plannedEnd,
		AutoEnd:      autoEnd,
		CreatedAt:    e.now(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TimeSlot{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSlot(ctx, tx, slot); err != nil {
		return domain.TimeSlot{}, err
	}
	if err := e.Events.Append(ctx, tx, events.SlotAdded, "slot", slot.ID, events.EventPayload{
		"task_id": t.ID,
		"start":   plannedStart.UTC().Format(time.RFC3339),
		"end":     plannedEnd.UTC().Format(time.RFC3339),
	}); err != nil {
		return domain.TimeSlot{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TimeSlot{}, err
	}
	e.scheduleReminders(slot, t.Title)
	return slot, nil
}

// SlotUpdateOptions carries the mutable planned fields; nil leaves a field
// unchanged.
type SlotUpdateOptions struct {
	PlannedStart *time.Time
	PlannedEnd   *time.Time
	AutoEnd      *bool
}

func (e Engine) UpdateSlot(ctx context.Context, taskID, slotID string, opts SlotUpdateOptions) (domain.TimeSlot, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.TimeSlot{}, err
	}
	slot := findSlot(t, slotID)
	if slot == nil {
		return domain.TimeSlot{}, fmt.Errorf("%w: %s", ErrSlotNotFound, slotID)
	}
	if opts.PlannedStart != nil {
		slot.PlannedStart = *opts.PlannedStart
	}
	if opts.PlannedEnd != nil {
		slot.PlannedEnd = *opts.PlannedEnd
	}
	if opts.AutoEnd != nil {
		slot.AutoEnd = *opts.AutoEnd
	}
	if err := validateWindow(slot.PlannedStart, slot.PlannedEnd); err != nil {
		return domain.TimeSlot{}, err
	}
	if err := e.saveSlotWithEvent(ctx, *slot, events.SlotUpdated, events.EventPayload{
		"task_id": t.ID,
		"start":   slot.PlannedStart.UTC().Format(time.RFC3339),
		"end":     slot.PlannedEnd.UTC().Format(time.RFC3339),
	}); err != nil {
		return domain.TimeSlot{}, err
	}
	// cancel-then-schedule keeps reminders single-shot across reschedules
	e.cancelReminders(slot.ID)
	e.scheduleReminders(*slot, t.Title)
	return *slot, nil
}

// DiscardSlot removes a slot from the calendar. A slot that ever recorded
// actual time is only flagged discarded so executed time stays in the
// ledger; an untouched slot is deleted outright. A running slot is settled
// first.
func (e Engine) DiscardSlot(ctx context.Context, taskID, slotID string) error {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	slot := findSlot(t, slotID)
	if slot == nil {
		return fmt.Errorf("%w: %s", ErrSlotNotFound, slotID)
	}
	now := e.now()
	if slot.IsActive() {
		session := now.Sub(*slot.ActualStart)
		if session > 0 {
			slot.AccumulatedSeconds += int64(session / time.Second)
		}
		slot.ActualEnd = &now
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if slot.HasRecordedTime() {
		slot.Discarded = true
		if err := e.Repo.UpdateSlot(ctx, tx, *slot); err != nil {
			return err
		}
		if err := e.Events.Append(ctx, tx, events.SlotDiscarded, "slot", slot.ID, events.EventPayload{
			"task_id":       t.ID,
			"total_seconds": slot.AccumulatedSeconds,
		}); err != nil {
			return err
		}
	} else {
		if err := e.Repo.DeleteSlot(ctx, tx, slot.ID); err != nil {
			return err
		}
		if err := e.Events.Append(ctx, tx, events.SlotRemoved, "slot", slot.ID, events.EventPayload{
			"task_id": t.ID,
		}); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.cancelReminders(slot.ID)
	return nil
}

// CompleteTask marks the task done, settling any running slot first.
func (e Engine) CompleteTask(ctx context.Context, taskID string) (domain.SignalTask, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	if active := t.ActiveSlot(); active != nil {
		if _, err := e.StopSlot(ctx, taskID, active.ID); err != nil && !errors.Is(err, ErrAlreadyStopped) {
			return t, err
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetTaskCompleted(ctx, tx, taskID, true); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, events.TaskCompleted, "task", taskID, events.EventPayload{}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return e.Repo.GetTask(ctx, taskID)
}

func (e Engine) DeleteTask(ctx context.Context, taskID string) error {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteTask(ctx, tx, taskID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.TaskDeleted, "task", taskID, events.EventPayload{"title": t.Title}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	for _, s := range t.Slots {
		e.cancelReminders(s.ID)
	}
	return nil
}

// AutoEndOverdue settles runaway sessions: slots still running past their
// planned end plus the overrun grace, and slots left running across the day
// cutoff, which are settled at the cutoff instant of their start day.
// Returns the slots it stopped.
func (e Engine) AutoEndOverdue(ctx context.Context) ([]domain.TimeSlot, error) {
	now := e.now()
	grace := time.Duration(0)
	if e.Config != nil {
		grace = e.Config.OverrunGrace()
	}
	slots, err := e.Repo.ListActiveSlots(ctx)
	if err != nil {
		return nil, err
	}
	var stopped []domain.TimeSlot
	for _, s := range slots {
		settleAt, ok := e.settleTime(s, now, grace)
		if !ok {
			continue
		}
		session := settleAt.Sub(*s.ActualStart)
		if session < 0 {
			session = 0
		}
		s.AccumulatedSeconds += int64(session / time.Second)
		s.ActualEnd = &settleAt
		if err := e.saveSlotWithEvent(ctx, s, events.SlotAutoEnded, events.EventPayload{
			"task_id":         s.TaskID,
			"session_seconds": int64(session / time.Second),
			"settled_at":      settleAt.UTC().Format(time.RFC3339),
		}); err != nil {
			return stopped, err
		}
		e.cancelReminders(s.ID)
		stopped = append(stopped, s)
	}
	return stopped, nil
}

// settleTime decides whether and when a running slot must be force-stopped.
// Every slot is closed at its own day's cutoff when left running overnight;
// the planned-end overrun applies only to slots marked auto-end.
func (e Engine) settleTime(s domain.TimeSlot, now time.Time, grace time.Duration) (time.Time, bool) {
	start := *s.ActualStart
	if start.Format(time.DateOnly) != now.Format(time.DateOnly) {
		return e.dayCutoff(start), true
	}
	if s.AutoEnd && now.After(s.PlannedEnd.Add(grace)) {
		return now, true
	}
	return time.Time{}, false
}

// dayCutoff returns the configured end-of-day instant for t's date.
func (e Engine) dayCutoff(t time.Time) time.Time {
	hour, minute := 23, 59
	if e.Config != nil && e.Config.Session.DayCutoff != "" {
		if h, m, err := config.ParseClock(e.Config.Session.DayCutoff); err == nil && !(h == 0 && m == 0) {
			hour, minute = h, m
		}
	}
	return time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, t.Location())
}

// LiveElapsed computes the task's running total attributed to the given
// slot's display: settled seconds of every other non-discarded slot, the
// slot's own settled seconds, and the in-flight session when active. O(1)
// beyond the slot walk; nothing is re-summed from history per tick.
func LiveElapsed(t domain.SignalTask, slot domain.TimeSlot, now time.Time) time.Duration {
	var total int64
	for _, s := range t.Slots {
		if s.ID == slot.ID || s.Discarded {
			continue
		}
		total += s.AccumulatedSeconds
	}
	total += slot.AccumulatedSeconds
	d := time.Duration(total) * time.Second
	if slot.IsActive() {
		d += now.Sub(*slot.ActualStart)
	}
	return d
}

// TaskLiveSeconds is the task's total worked time including the running
// session and discarded slots; executed time never leaves the aggregate.
func TaskLiveSeconds(t domain.SignalTask, now time.Time) int64 {
	total := t.ActualSeconds()
	if active := t.ActiveSlot(); active != nil {
		live := now.Sub(*active.ActualStart)
		if live > 0 {
			total += int64(live / time.Second)
		}
	}
	return total
}

// validateWindow rejects malformed planned windows. Windows must not cross
// the day boundary; an end of exactly next midnight is the legacy
// end-of-day encoding and is allowed.
func validateWindow(start, end time.Time) error {
	if !end.After(start) {
		return fmt.Errorf("%w: end %s not after start %s", ErrInvalidWindow, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	sameDay := start.Format(time.DateOnly) == end.Format(time.DateOnly)
	nextMidnight := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location()).AddDate(0, 0, 1)
	if !sameDay && !end.Equal(nextMidnight) {
		return fmt.Errorf("%w: window crosses the day boundary", ErrInvalidWindow)
	}
	return nil
}

func (e Engine) saveSlotWithEvent(ctx context.Context, slot domain.TimeSlot, evtType string, payload events.EventPayload) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateSlot(ctx, tx, slot); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, evtType, "slot", slot.ID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

func findSlot(t domain.SignalTask, slotID string) *domain.TimeSlot {
	for i := range t.Slots {
		if t.Slots[i].ID == slotID {
			return &t.Slots[i]
		}
	}
	return nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
