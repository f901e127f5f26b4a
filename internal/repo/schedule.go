package repo

import (
	"context"
	"database/sql"
	"time"

	"signalnoise/internal/domain"
)

// UpsertDaySchedule stores the focus window for one weekday.
func (r Repo) UpsertDaySchedule(ctx context.Context, tx *sql.Tx, d domain.DaySchedule) error {
	_, err := r.exec(tx).ExecContext(ctx, `INSERT INTO day_schedules(weekday,start_hour,start_minute,end_hour,end_minute,active) VALUES (?,?,?,?,?,?)
ON CONFLICT(weekday) DO UPDATE SET start_hour=excluded.start_hour, start_minute=excluded.start_minute, end_hour=excluded.end_hour, end_minute=excluded.end_minute, active=excluded.active`,
		int(d.Weekday), d.StartHour, d.StartMinute, d.EndHour, d.EndMinute, d.Active)
	return err
}

func (r Repo) GetDaySchedule(ctx context.Context, weekday time.Weekday) (domain.DaySchedule, error) {
	var d domain.DaySchedule
	var wd int
	err := r.DB.QueryRowContext(ctx, `SELECT weekday,start_hour,start_minute,end_hour,end_minute,active FROM day_schedules WHERE weekday=?`, int(weekday)).
		Scan(&wd, &d.StartHour, &d.StartMinute, &d.EndHour, &d.EndMinute, &d.Active)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.Weekday = time.Weekday(wd)
	normalizeDay(&d)
	return d, nil
}

func (r Repo) ListDaySchedules(ctx context.Context) ([]domain.DaySchedule, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT weekday,start_hour,start_minute,end_hour,end_minute,active FROM day_schedules ORDER BY weekday`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var days []domain.DaySchedule
	for rows.Next() {
		var d domain.DaySchedule
		var wd int
		if err := rows.Scan(&wd, &d.StartHour, &d.StartMinute, &d.EndHour, &d.EndMinute, &d.Active); err != nil {
			return nil, err
		}
		d.Weekday = time.Weekday(wd)
		normalizeDay(&d)
		days = append(days, d)
	}
	return days, rows.Err()
}

// normalizeDay maps the legacy "24" end-of-day encoding to midnight.
func normalizeDay(d *domain.DaySchedule) {
	if d.EndHour == 24 {
		d.EndHour = 0
		d.EndMinute = 0
	}
	if d.StartHour == 24 {
		d.StartHour = 0
	}
}

func (r Repo) GetEffectiveStart(ctx context.Context, date string) (domain.EffectiveStart, error) {
	var es domain.EffectiveStart
	var start, created string
	err := r.DB.QueryRowContext(ctx, `SELECT date,start_ts,created_at FROM effective_starts WHERE date=?`, date).
		Scan(&es.Date, &start, &created)
	if err == sql.ErrNoRows {
		return es, ErrNotFound
	}
	if err != nil {
		return es, err
	}
	if es.Start, err = parseTS(start); err != nil {
		return es, err
	}
	es.CreatedAt, err = parseTS(created)
	return es, err
}

func (r Repo) InsertEffectiveStart(ctx context.Context, tx *sql.Tx, es domain.EffectiveStart) error {
	_, err := r.exec(tx).ExecContext(ctx, `INSERT INTO effective_starts(date,start_ts,created_at) VALUES (?,?,?)`,
		es.Date, fmtTS(es.Start), fmtTS(es.CreatedAt))
	return err
}

// --- external calendar events ---

func (r Repo) InsertExternalEvent(ctx context.Context, tx *sql.Tx, e domain.ExternalEvent) error {
	_, err := r.exec(tx).ExecContext(ctx, `INSERT INTO external_events(id,calendar_id,title,start_ts,end_ts,created_at) VALUES (?,?,?,?,?,?)`,
		e.ID, nullable(e.CalendarID), e.Title, fmtTS(e.Start), fmtTS(e.End), fmtTS(e.CreatedAt))
	return err
}

func (r Repo) ListExternalEventsBetween(ctx context.Context, from, to time.Time) ([]domain.ExternalEvent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,COALESCE(calendar_id,''),title,start_ts,end_ts,created_at FROM external_events WHERE start_ts>=? AND start_ts<? ORDER BY start_ts`, fmtTS(from), fmtTS(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.ExternalEvent
	for rows.Next() {
		var e domain.ExternalEvent
		var start, end, created string
		if err := rows.Scan(&e.ID, &e.CalendarID, &e.Title, &start, &end, &created); err != nil {
			return nil, err
		}
		if e.Start, err = parseTS(start); err != nil {
			return nil, err
		}
		if e.End, err = parseTS(end); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTS(created); err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r Repo) DeleteExternalEvent(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.exec(tx).ExecContext(ctx, `DELETE FROM external_events WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
