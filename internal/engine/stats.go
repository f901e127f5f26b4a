package engine

import (
	"context"
	"time"

	"signalnoise/internal/domain"
	"signalnoise/internal/ratio"
	"signalnoise/internal/schedule"
)

// DayStats is the live signal-ratio snapshot for one calendar day.
type DayStats struct {
	Date           string              `json:"date" format:"date"`
	WindowStart    time.Time           `json:"window_start"`
	WindowEnd      time.Time           `json:"window_end"`
	WindowExtended bool                `json:"window_extended"`
	ElapsedMinutes float64             `json:"elapsed_minutes"`
	SignalMinutes  float64             `json:"signal_minutes"`
	Ratio          float64             `json:"ratio"`
	Golden         bool                `json:"golden"`
	Tasks          []domain.SignalTask `json:"tasks,omitempty"`
}

// ProjectedStats previews the day's ratio assuming every planned minute is
// worked.
type ProjectedStats struct {
	Date           string  `json:"date" format:"date"`
	WindowMinutes  float64 `json:"window_minutes"`
	PlannedMinutes float64 `json:"planned_minutes"`
	Ratio          float64 `json:"ratio"`
}

// TodayStats resolves the focus window for now's date and computes the live
// ratio over all of the day's tasks, running sessions included.
func (e Engine) TodayStats(ctx context.Context, resolver schedule.Resolver) (DayStats, error) {
	now := e.now()
	tasks, err := e.Repo.ListTasks(ctx, schedule.DayKey(now))
	if err != nil {
		return DayStats{}, err
	}
	return e.dayStats(ctx, resolver, now, now, tasks)
}

// dayStats computes stats for the day containing date over the given tasks,
// with the live clock at now. For past days now lies beyond the window so
// the full window elapses.
func (e Engine) dayStats(ctx context.Context, resolver schedule.Resolver, date, now time.Time, tasks []domain.SignalTask) (DayStats, error) {
	key := schedule.DayKey(date)
	w, err := resolver.WindowFor(ctx, date)
	if err != nil {
		return DayStats{}, err
	}
	var signalSeconds int64
	for _, t := range tasks {
		signalSeconds += TaskLiveSeconds(t, now)
	}
	st := DayStats{
		Date:           key,
		WindowStart:    w.Start,
		WindowEnd:      w.End,
		WindowExtended: w.Extended,
		SignalMinutes:  float64(signalSeconds) / 60,
		Tasks:          tasks,
	}
	if w.Active {
		st.ElapsedMinutes = ratio.ElapsedMinutes(now, w.Start, w.End)
	}
	st.Ratio = ratio.Live(st.SignalMinutes, st.ElapsedMinutes)
	if e.Config != nil {
		d := ratio.DayStat{Ratio: st.Ratio, TrackedMinutes: st.SignalMinutes}
		st.Golden = ratio.Golden(d, e.Config.Ratio.GoldenRatio, float64(e.Config.Ratio.MinTrackedMinutes))
	}
	return st, nil
}

// Projected previews the ratio for the given date from planned estimates.
func (e Engine) Projected(ctx context.Context, resolver schedule.Resolver, date time.Time) (ProjectedStats, error) {
	key := schedule.DayKey(date)
	w, err := resolver.WindowFor(ctx, date)
	if err != nil {
		return ProjectedStats{}, err
	}
	tasks, err := e.Repo.ListTasks(ctx, key)
	if err != nil {
		return ProjectedStats{}, err
	}
	var planned float64
	for _, t := range tasks {
		planned += float64(t.EstimatedMinutes)
	}
	st := ProjectedStats{Date: key, PlannedMinutes: planned}
	if w.Active {
		st.WindowMinutes = w.Minutes()
	}
	st.Ratio = ratio.Projected(planned, st.WindowMinutes)
	return st, nil
}

// WeekStats aggregates the Monday-anchored week containing date. Tasks for
// the whole week are fetched in one query and grouped per day.
func (e Engine) WeekStats(ctx context.Context, resolver schedule.Resolver, date time.Time) (ratio.WeekStats, error) {
	now := e.now()
	anchor := schedule.WeekAnchor(date)
	weekTasks, err := e.Repo.ListTasksBetween(ctx, schedule.DayKey(anchor), schedule.DayKey(anchor.AddDate(0, 0, 6)))
	if err != nil {
		return ratio.WeekStats{}, err
	}
	byDay := make(map[string][]domain.SignalTask, 7)
	for _, t := range weekTasks {
		byDay[t.ScheduledDate] = append(byDay[t.ScheduledDate], t)
	}
	days := make([]ratio.DayStat, 0, 7)
	for i := 0; i < 7; i++ {
		day := anchor.AddDate(0, 0, i)
		st, err := e.dayStats(ctx, resolver, day, now, byDay[schedule.DayKey(day)])
		if err != nil {
			return ratio.WeekStats{}, err
		}
		days = append(days, ratio.DayStat{
			Date:           st.Date,
			SignalMinutes:  st.SignalMinutes,
			TrackedMinutes: st.SignalMinutes,
			ElapsedMinutes: st.ElapsedMinutes,
		})
	}
	target, floor, goldenDays := 0.8, 60.0, 5
	if e.Config != nil {
		target = e.Config.Ratio.GoldenRatio
		floor = float64(e.Config.Ratio.MinTrackedMinutes)
		goldenDays = e.Config.Ratio.GoldenDaysTarget
	}
	return ratio.Week(schedule.DayKey(anchor), days, target, floor, goldenDays), nil
}
