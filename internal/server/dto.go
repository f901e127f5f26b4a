package server

import (
	"time"

	"signalnoise/internal/domain"
	"signalnoise/internal/engine"
	"signalnoise/internal/ratio"
	"signalnoise/internal/schedule"
)

type CreateTaskRequest struct {
	ID               *string `json:"id,omitempty"`
	Title            string  `json:"title"`
	Date             string  `json:"date,omitempty" format:"date"`
	EstimatedMinutes int     `json:"estimated_minutes" minimum:"1"`
	ExternalEventID  *string `json:"external_event_id,omitempty"`
}

type TaskResponse struct {
	domain.SignalTask
	ScheduledMinutes   int   `json:"scheduled_minutes"`
	UnscheduledMinutes int   `json:"unscheduled_minutes"`
	ActualSeconds      int64 `json:"actual_seconds"`
	LiveSeconds        int64 `json:"live_seconds"`
	Active             bool  `json:"active"`
}

func taskResponse(t domain.SignalTask, now time.Time) TaskResponse {
	return TaskResponse{
		SignalTask:         t,
		ScheduledMinutes:   t.ScheduledMinutes(),
		UnscheduledMinutes: t.UnscheduledMinutes(),
		ActualSeconds:      t.ActualSeconds(),
		LiveSeconds:        engine.TaskLiveSeconds(t, now),
		Active:             t.ActiveSlot() != nil,
	}
}

func mapTasks(items []domain.SignalTask, now time.Time) []TaskResponse {
	out := make([]TaskResponse, len(items))
	for i, t := range items {
		out[i] = taskResponse(t, now)
	}
	return out
}

type AddSlotRequest struct {
	PlannedStart time.Time `json:"planned_start" format:"date-time"`
	PlannedEnd   time.Time `json:"planned_end" format:"date-time"`
	AutoEnd      bool      `json:"auto_end,omitempty"`
}

type UpdateSlotRequest struct {
	PlannedStart *time.Time `json:"planned_start,omitempty" format:"date-time"`
	PlannedEnd   *time.Time `json:"planned_end,omitempty" format:"date-time"`
	AutoEnd      *bool      `json:"auto_end,omitempty"`
}

type SlotResponse struct {
	domain.TimeSlot
	Status domain.SlotStatus `json:"status" enum:"scheduled,active,completed,missed,discarded"`
}

func slotResponse(s domain.TimeSlot, now time.Time) SlotResponse {
	return SlotResponse{TimeSlot: s, Status: s.Status(now)}
}

// SetDayRequest sets one weekday's window. Minutes default to :00 when
// omitted.
type SetDayRequest struct {
	StartHour   int  `json:"start_hour" minimum:"0" maximum:"23"`
	StartMinute int  `json:"start_minute,omitempty" minimum:"0" maximum:"59"`
	EndHour     int  `json:"end_hour" minimum:"0" maximum:"24"`
	EndMinute   int  `json:"end_minute,omitempty" minimum:"0" maximum:"59"`
	Active      bool `json:"active"`
}

type DayScheduleResponse struct {
	Weekday     int  `json:"weekday" doc:"0=Sunday .. 6=Saturday"`
	StartHour   int  `json:"start_hour"`
	StartMinute int  `json:"start_minute"`
	EndHour     int  `json:"end_hour"`
	EndMinute   int  `json:"end_minute"`
	Active      bool `json:"active"`
}

func dayScheduleResponse(d domain.DaySchedule) DayScheduleResponse {
	return DayScheduleResponse{
		Weekday:     int(d.Weekday),
		StartHour:   d.StartHour,
		StartMinute: d.StartMinute,
		EndHour:     d.EndHour,
		EndMinute:   d.EndMinute,
		Active:      d.Active,
	}
}

type WindowResponse struct {
	Date     string    `json:"date" format:"date"`
	Start    time.Time `json:"start" format:"date-time"`
	End      time.Time `json:"end" format:"date-time"`
	Active   bool      `json:"active"`
	Extended bool      `json:"extended"`
	Minutes  float64   `json:"minutes"`
}

func windowResponse(date string, w schedule.Window) WindowResponse {
	return WindowResponse{
		Date:     date,
		Start:    w.Start,
		End:      w.End,
		Active:   w.Active,
		Extended: w.Extended,
		Minutes:  w.Minutes(),
	}
}

type WeekResponse struct {
	ratio.WeekStats
}

type ExternalEventRequest struct {
	ID         string    `json:"id,omitempty"`
	CalendarID string    `json:"calendar_id,omitempty"`
	Title      string    `json:"title"`
	Start      time.Time `json:"start" format:"date-time"`
	End        time.Time `json:"end" format:"date-time"`
}

type CreateAPIKeyResponse struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Key  string `json:"key" doc:"Plaintext key, shown only once"`
}
