package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"signalnoise/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const tsLayout = time.RFC3339Nano

func fmtTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func fmtTSPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTS(*t)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		// older rows may carry second precision
		return time.Parse(time.RFC3339, s)
	}
	return t, nil
}

func parseTSNull(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTS(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullablePtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func marshalStringSlice(in []string) any {
	if len(in) == 0 {
		return nil
	}
	b, _ := json.Marshal(in)
	return string(b)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r Repo) exec(tx *sql.Tx) execer {
	if tx != nil {
		return tx
	}
	return r.DB
}

// --- tasks ---

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.SignalTask) error {
	_, err := r.exec(tx).ExecContext(ctx, `INSERT INTO tasks(id,title,scheduled_date,estimated_minutes,completed,external_event_id,created_at) VALUES (?,?,?,?,?,?,?)`,
		t.ID, t.Title, t.ScheduledDate, t.EstimatedMinutes, t.Completed, nullablePtr(t.ExternalEventID), fmtTS(t.CreatedAt))
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.SignalTask, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,title,scheduled_date,estimated_minutes,completed,external_event_id,created_at FROM tasks WHERE id=?`, id)
	t, err := scanTask(row)
	if err != nil {
		return t, err
	}
	t.Slots, err = r.listTaskSlots(ctx, t.ID)
	return t, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.SignalTask, error) {
	var t domain.SignalTask
	var extID sql.NullString
	var created string
	err := row.Scan(&t.ID, &t.Title, &t.ScheduledDate, &t.EstimatedMinutes, &t.Completed, &extID, &created)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if extID.Valid {
		t.ExternalEventID = &extID.String
	}
	t.CreatedAt, err = parseTS(created)
	return t, err
}

// ListTasks returns all tasks scheduled on the given date with their slots,
// in creation order.
func (r Repo) ListTasks(ctx context.Context, date string) ([]domain.SignalTask, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,title,scheduled_date,estimated_minutes,completed,external_event_id,created_at FROM tasks WHERE scheduled_date=? ORDER BY created_at, id`, date)
	if err != nil {
		return nil, err
	}
	return r.collectTasks(ctx, rows)
}

// ListTasksBetween returns tasks with scheduled dates in [from, to], both
// inclusive, used for weekly aggregation.
func (r Repo) ListTasksBetween(ctx context.Context, from, to string) ([]domain.SignalTask, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,title,scheduled_date,estimated_minutes,completed,external_event_id,created_at FROM tasks WHERE scheduled_date>=? AND scheduled_date<=? ORDER BY scheduled_date, created_at, id`, from, to)
	if err != nil {
		return nil, err
	}
	return r.collectTasks(ctx, rows)
}

func (r Repo) collectTasks(ctx context.Context, rows *sql.Rows) ([]domain.SignalTask, error) {
	defer rows.Close()
	var tasks []domain.SignalTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range tasks {
		slots, err := r.listTaskSlots(ctx, tasks[i].ID)
		if err != nil {
			return nil, err
		}
		tasks[i].Slots = slots
	}
	return tasks, nil
}

func (r Repo) CountTasksForDate(ctx context.Context, date string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE scheduled_date=?`, date).Scan(&n)
	return n, err
}

func (r Repo) SetTaskCompleted(ctx context.Context, tx *sql.Tx, id string, completed bool) error {
	res, err := r.exec(tx).ExecContext(ctx, `UPDATE tasks SET completed=? WHERE id=?`, completed, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.exec(tx).ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- slots ---

const slotColumns = `id,task_id,planned_start,planned_end,actual_start,actual_end,accumulated_seconds,auto_end,discarded,external_event_id,subtask_ids_json,created_at`

func (r Repo) InsertSlot(ctx context.Context, tx *sql.Tx, s domain.TimeSlot) error {
	_, err := r.exec(tx).ExecContext(ctx, `INSERT INTO slots(`+slotColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.TaskID, fmtTS(s.PlannedStart), fmtTS(s.PlannedEnd), fmtTSPtr(s.ActualStart), fmtTSPtr(s.ActualEnd),
		s.AccumulatedSeconds, s.AutoEnd, s.Discarded, nullablePtr(s.ExternalEventID), marshalStringSlice(s.SubtaskIDs), fmtTS(s.CreatedAt))
	return err
}

func (r Repo) UpdateSlot(ctx context.Context, tx *sql.Tx, s domain.TimeSlot) error {
	res, err := r.exec(tx).ExecContext(ctx, `UPDATE slots SET planned_start=?,planned_end=?,actual_start=?,actual_end=?,accumulated_seconds=?,auto_end=?,discarded=?,external_event_id=?,subtask_ids_json=? WHERE id=?`,
		fmtTS(s.PlannedStart), fmtTS(s.PlannedEnd), fmtTSPtr(s.ActualStart), fmtTSPtr(s.ActualEnd),
		s.AccumulatedSeconds, s.AutoEnd, s.Discarded, nullablePtr(s.ExternalEventID), marshalStringSlice(s.SubtaskIDs), s.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteSlot(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.exec(tx).ExecContext(ctx, `DELETE FROM slots WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) listTaskSlots(ctx context.Context, taskID string) ([]domain.TimeSlot, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+slotColumns+` FROM slots WHERE task_id=? ORDER BY created_at, id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var slots []domain.TimeSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

func scanSlot(rows rowScanner) (domain.TimeSlot, error) {
	var s domain.TimeSlot
	var plannedStart, plannedEnd, created string
	var actualStart, actualEnd, extID, subtasks sql.NullString
	err := rows.Scan(&s.ID, &s.TaskID, &plannedStart, &plannedEnd, &actualStart, &actualEnd,
		&s.AccumulatedSeconds, &s.AutoEnd, &s.Discarded, &extID, &subtasks, &created)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if s.PlannedStart, err = parseTS(plannedStart); err != nil {
		return s, fmt.Errorf("slot %s planned_start: %w", s.ID, err)
	}
	if s.PlannedEnd, err = parseTS(plannedEnd); err != nil {
		return s, fmt.Errorf("slot %s planned_end: %w", s.ID, err)
	}
	if s.ActualStart, err = parseTSNull(actualStart); err != nil {
		return s, fmt.Errorf("slot %s actual_start: %w", s.ID, err)
	}
	if s.ActualEnd, err = parseTSNull(actualEnd); err != nil {
		return s, fmt.Errorf("slot %s actual_end: %w", s.ID, err)
	}
	if extID.Valid {
		s.ExternalEventID = &extID.String
	}
	if subtasks.Valid && subtasks.String != "" {
		_ = json.Unmarshal([]byte(subtasks.String), &s.SubtaskIDs)
	}
	if s.CreatedAt, err = parseTS(created); err != nil {
		return s, fmt.Errorf("slot %s created_at: %w", s.ID, err)
	}
	return s, nil
}

// ListActiveSlots returns every running, non-discarded slot.
func (r Repo) ListActiveSlots(ctx context.Context) ([]domain.TimeSlot, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+slotColumns+` FROM slots WHERE actual_start IS NOT NULL AND actual_end IS NULL AND discarded=0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var slots []domain.TimeSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

// ListDaySlots returns non-discarded slots whose planned window starts within
// [dayStart, dayEnd), for the calendar day view.
func (r Repo) ListDaySlots(ctx context.Context, dayStart, dayEnd time.Time) ([]domain.TimeSlot, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+slotColumns+` FROM slots WHERE discarded=0 AND planned_start>=? AND planned_start<? ORDER BY planned_start`, fmtTS(dayStart), fmtTS(dayEnd))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var slots []domain.TimeSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}
