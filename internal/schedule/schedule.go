// Package schedule resolves the day's focus window: the configured
// active-hours interval the signal ratio is measured against, including the
// first-early-start-of-the-day extension.
package schedule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"signalnoise/internal/config"
	"signalnoise/internal/domain"
	"signalnoise/internal/events"
	"signalnoise/internal/repo"
)

// ErrAlreadyExtended signals that today's focus window was already extended
// by an earlier early start.
var ErrAlreadyExtended = errors.New("focus window already extended today")

// Window is the resolved focus interval for one date.
type Window struct {
	Start    time.Time
	End      time.Time
	Active   bool
	Extended bool
}

// Minutes is the full window length.
func (w Window) Minutes() float64 {
	return w.End.Sub(w.Start).Minutes()
}

// Resolver reads day schedules and effective-start overrides. It never
// mutates day-schedule configuration except through ExtendStart.
type Resolver struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func NewResolver(db *sql.DB, cfg *config.Config) Resolver {
	return Resolver{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (r Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// DayKey formats the calendar date key used across tasks and overrides.
func DayKey(t time.Time) string {
	return t.Format(time.DateOnly)
}

// WeekAnchor returns the Monday 00:00 of the week containing t.
func WeekAnchor(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
	return day.AddDate(0, 0, -offset)
}

// WindowFor resolves the focus window for the calendar day containing date.
// A stored day schedule wins over the config default for that weekday. The
// window start honors an effective-start override recorded for the date.
func (r Resolver) WindowFor(ctx context.Context, date time.Time) (Window, error) {
	day, err := r.dayScheduleFor(ctx, date)
	if err != nil {
		return Window{}, err
	}
	w := windowFromDay(day, date)
	es, err := r.Repo.GetEffectiveStart(ctx, DayKey(date))
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return Window{}, err
	}
	if err == nil && es.Start.Before(w.Start) {
		w.Start = es.Start
		w.Extended = true
	}
	return w, nil
}

func (r Resolver) dayScheduleFor(ctx context.Context, date time.Time) (domain.DaySchedule, error) {
	day, err := r.Repo.GetDaySchedule(ctx, date.Weekday())
	if err == nil {
		return day, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.DaySchedule{}, err
	}
	return defaultDay(r.Config, date.Weekday())
}

func windowFromDay(day domain.DaySchedule, date time.Time) Window {
	start := time.Date(date.Year(), date.Month(), date.Day(), day.StartHour, day.StartMinute, 0, 0, date.Location())
	end := time.Date(date.Year(), date.Month(), date.Day(), day.EndHour, day.EndMinute, 0, 0, date.Location())
	if !end.After(start) {
		// midnight end (legacy 24) spans to the next day boundary
		end = end.AddDate(0, 0, 1)
	}
	return Window{Start: start, End: end, Active: day.Active}
}

// ExtendStart records an early start for the date containing now. Only the
// first early start of a day extends the window; later calls return
// ErrAlreadyExtended. Starts at or after the configured window start are
// ignored without error.
func (r Resolver) ExtendStart(ctx context.Context, now time.Time) (Window, error) {
	day, err := r.dayScheduleFor(ctx, now)
	if err != nil {
		return Window{}, err
	}
	w := windowFromDay(day, now)
	if !now.Before(w.Start) {
		return w, nil
	}
	key := DayKey(now)
	if _, err := r.Repo.GetEffectiveStart(ctx, key); err == nil {
		return Window{}, ErrAlreadyExtended
	} else if !errors.Is(err, repo.ErrNotFound) {
		return Window{}, err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return Window{}, err
	}
	defer tx.Rollback()
	es := domain.EffectiveStart{Date: key, Start: now, CreatedAt: r.now()}
	if err := r.Repo.InsertEffectiveStart(ctx, tx, es); err != nil {
		return Window{}, err
	}
	if err := r.Events.Append(ctx, tx, events.ScheduleExtended, "schedule", key, events.EventPayload{
		"start": now.UTC().Format(time.RFC3339),
	}); err != nil {
		return Window{}, err
	}
	if err := tx.Commit(); err != nil {
		return Window{}, err
	}
	w.Start = now
	w.Extended = true
	return w, nil
}

// SetDay validates and stores the focus window for one weekday.
func (r Resolver) SetDay(ctx context.Context, d domain.DaySchedule) error {
	if d.EndHour == 24 && d.EndMinute == 0 {
		d.EndHour = 0
	}
	if d.StartHour < 0 || d.StartHour > 23 || d.StartMinute < 0 || d.StartMinute > 59 {
		return fmt.Errorf("invalid start %02d:%02d", d.StartHour, d.StartMinute)
	}
	if d.EndHour < 0 || d.EndHour > 23 || d.EndMinute < 0 || d.EndMinute > 59 {
		return fmt.Errorf("invalid end %02d:%02d", d.EndHour, d.EndMinute)
	}
	return r.Repo.UpsertDaySchedule(ctx, nil, d)
}

// defaultDay builds the weekday schedule from the YAML config defaults.
func defaultDay(cfg *config.Config, weekday time.Weekday) (domain.DaySchedule, error) {
	d := domain.DaySchedule{Weekday: weekday, StartHour: 9, EndHour: 17, Active: weekday != time.Saturday && weekday != time.Sunday}
	if cfg == nil {
		return d, nil
	}
	name := weekdayName(weekday)
	dc, ok := cfg.Schedule.Days[name]
	if !ok {
		return d, nil
	}
	var err error
	if d.StartHour, d.StartMinute, err = config.ParseClock(dc.Start); err != nil {
		return d, fmt.Errorf("default schedule %s: %w", name, err)
	}
	if d.EndHour, d.EndMinute, err = config.ParseClock(dc.End); err != nil {
		return d, fmt.Errorf("default schedule %s: %w", name, err)
	}
	d.Active = dc.Active
	return d, nil
}

func weekdayName(w time.Weekday) string {
	switch w {
	case time.Monday:
		return "monday"
	case time.Tuesday:
		return "tuesday"
	case time.Wednesday:
		return "wednesday"
	case time.Thursday:
		return "thursday"
	case time.Friday:
		return "friday"
	case time.Saturday:
		return "saturday"
	default:
		return "sunday"
	}
}
