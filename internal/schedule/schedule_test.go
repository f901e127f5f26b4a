package schedule_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"signalnoise/internal/config"
	"signalnoise/internal/db"
	"signalnoise/internal/domain"
	"signalnoise/internal/migrate"
	"signalnoise/internal/schedule"
)

func newResolver(t *testing.T, now time.Time) schedule.Resolver {
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
	r := schedule.NewResolver(conn, config.Default("default"))
	r.Now = func() time.Time { return now }
	return r
}

func TestWeekAnchor(t *testing.T) {
	// Wednesday
	anchor := schedule.WeekAnchor(time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC))
	want := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if !anchor.Equal(want) {
		t.Fatalf("anchor = %v, want Monday %v", anchor, want)
	}
	// Sunday belongs to the week that started the previous Monday
	anchor = schedule.WeekAnchor(time.Date(2026, 3, 8, 1, 0, 0, 0, time.UTC))
	if !anchor.Equal(want) {
		t.Fatalf("sunday anchor = %v, want %v", anchor, want)
	}
	// Monday anchors to itself
	anchor = schedule.WeekAnchor(want.Add(5 * time.Hour))
	if !anchor.Equal(want) {
		t.Fatalf("monday anchor = %v, want %v", anchor, want)
	}
}

func TestWindowForDefaults(t *testing.T) {
	monday := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	r := newResolver(t, monday)
	w, err := r.WindowFor(context.Background(), monday)
	if err != nil {
		t.Fatal(err)
	}
	if !w.Active {
		t.Fatalf("monday should be active by default")
	}
	if w.Start.Hour() != 9 || w.End.Hour() != 17 {
		t.Fatalf("default window = %v - %v", w.Start, w.End)
	}
	if w.Minutes() != 480 {
		t.Fatalf("window minutes = %v", w.Minutes())
	}

	sunday := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)
	w, err = r.WindowFor(context.Background(), sunday)
	if err != nil {
		t.Fatal(err)
	}
	if w.Active {
		t.Fatalf("sunday should be inactive by default")
	}
}

func TestStoredDayOverridesDefault(t *testing.T) {
	monday := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	r := newResolver(t, monday)
	ctx := context.Background()
	err := r.SetDay(ctx, domain.DaySchedule{
		Weekday: time.Monday, StartHour: 7, StartMinute: 30, EndHour: 13, Active: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	w, err := r.WindowFor(ctx, monday)
	if err != nil {
		t.Fatal(err)
	}
	if w.Start.Hour() != 7 || w.Start.Minute() != 30 || w.End.Hour() != 13 {
		t.Fatalf("stored window not applied: %v - %v", w.Start, w.End)
	}
}

func TestMidnightEndSpansToNextDay(t *testing.T) {
	monday := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	r := newResolver(t, monday)
	ctx := context.Background()
	// legacy end hour 24 is stored as 0 and means next midnight
	err := r.SetDay(ctx, domain.DaySchedule{
		Weekday: time.Monday, StartHour: 18, EndHour: 24, Active: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	w, err := r.WindowFor(ctx, monday)
	if err != nil {
		t.Fatal(err)
	}
	wantEnd := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	if !w.End.Equal(wantEnd) {
		t.Fatalf("end = %v, want next midnight", w.End)
	}
	if w.Minutes() != 360 {
		t.Fatalf("minutes = %v, want 360", w.Minutes())
	}
}

func TestExtendStartFirstWinsOnly(t *testing.T) {
	early := time.Date(2026, 3, 2, 7, 45, 0, 0, time.UTC)
	r := newResolver(t, early)
	ctx := context.Background()

	w, err := r.ExtendStart(ctx, early)
	if err != nil {
		t.Fatal(err)
	}
	if !w.Extended || !w.Start.Equal(early) {
		t.Fatalf("first early start must extend: %+v", w)
	}

	// second early start the same day is rejected
	later := time.Date(2026, 3, 2, 8, 15, 0, 0, time.UTC)
	if _, err := r.ExtendStart(ctx, later); !errors.Is(err, schedule.ErrAlreadyExtended) {
		t.Fatalf("expected ErrAlreadyExtended, got %v", err)
	}

	// the window keeps the first extension
	w, err = r.WindowFor(ctx, early)
	if err != nil {
		t.Fatal(err)
	}
	if !w.Start.Equal(early) {
		t.Fatalf("window start = %v, want first early start", w.Start)
	}
}

func TestExtendStartIgnoresLateStart(t *testing.T) {
	late := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	r := newResolver(t, late)
	w, err := r.ExtendStart(context.Background(), late)
	if err != nil {
		t.Fatal(err)
	}
	if w.Extended {
		t.Fatalf("a start inside the window must not extend it")
	}
	if w.Start.Hour() != 9 {
		t.Fatalf("window start moved: %v", w.Start)
	}
}

func TestExtendStartNextDayResets(t *testing.T) {
	monday := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	r := newResolver(t, monday)
	ctx := context.Background()
	if _, err := r.ExtendStart(ctx, monday); err != nil {
		t.Fatal(err)
	}
	tuesday := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	w, err := r.ExtendStart(ctx, tuesday)
	if err != nil {
		t.Fatalf("new day should extend again: %v", err)
	}
	if !w.Start.Equal(tuesday) {
		t.Fatalf("tuesday window start = %v", w.Start)
	}
}
