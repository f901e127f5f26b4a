// Package ratio computes the Signal ratio: the fraction of elapsed
// focus-window time attributed to Signal-task work. All functions are pure;
// callers supply the resolved window and minute totals.
package ratio

import "time"

// ElapsedMinutes returns how much of the window [start, end] has passed at
// now, clamped to the window and floored at zero.
func ElapsedMinutes(now, windowStart, windowEnd time.Time) float64 {
	if !now.After(windowStart) {
		return 0
	}
	if now.After(windowEnd) {
		now = windowEnd
	}
	return now.Sub(windowStart).Minutes()
}

// Live is the live daily ratio: signal minutes over elapsed window minutes,
// clamped to [0,1]. Zero elapsed time yields 0, never a division error.
func Live(signalMinutes, elapsedMinutes float64) float64 {
	if elapsedMinutes <= 0 {
		return 0
	}
	return clamp01(signalMinutes / elapsedMinutes)
}

// Projected previews the ratio for a fully planned day: planned signal
// minutes over the full window length.
func Projected(plannedMinutes, windowMinutes float64) float64 {
	if windowMinutes <= 0 {
		return 0
	}
	return clamp01(plannedMinutes / windowMinutes)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// DayStat is one day's aggregate for weekly rollups.
type DayStat struct {
	Date           string  `json:"date" format:"date"`
	SignalMinutes  float64 `json:"signal_minutes"`
	TrackedMinutes float64 `json:"tracked_minutes"`
	ElapsedMinutes float64 `json:"elapsed_minutes"`
	Ratio          float64 `json:"ratio"`
	Golden         bool    `json:"golden"`
}

// WeekStats aggregates seven days anchored to a Monday.
type WeekStats struct {
	Anchor         string    `json:"anchor" format:"date"`
	Days           []DayStat `json:"days"`
	SignalMinutes  float64   `json:"signal_minutes"`
	TrackedMinutes float64   `json:"tracked_minutes"`
	Ratio          float64   `json:"ratio"`
	GoldenDays     int       `json:"golden_days"`
	Achieved       bool      `json:"achieved"`
}

// Golden reports whether a day hit the golden ratio: ratio at or above
// target with at least floorMinutes of tracked time.
func Golden(d DayStat, target, floorMinutes float64) bool {
	return d.Ratio >= target && d.TrackedMinutes >= floorMinutes
}

// Week rolls daily stats into the weekly aggregate. Each day's Ratio and
// Golden fields are computed here; goldenDaysTarget days at golden flips the
// weekly achievement flag.
func Week(anchor string, days []DayStat, target, floorMinutes float64, goldenDaysTarget int) WeekStats {
	w := WeekStats{Anchor: anchor, Days: make([]DayStat, len(days))}
	for i, d := range days {
		d.Ratio = Live(d.SignalMinutes, d.ElapsedMinutes)
		d.Golden = Golden(d, target, floorMinutes)
		w.Days[i] = d
		w.SignalMinutes += d.SignalMinutes
		w.TrackedMinutes += d.TrackedMinutes
		if d.Golden {
			w.GoldenDays++
		}
	}
	var elapsed float64
	for _, d := range w.Days {
		elapsed += d.ElapsedMinutes
	}
	w.Ratio = Live(w.SignalMinutes, elapsed)
	w.Achieved = goldenDaysTarget > 0 && w.GoldenDays >= goldenDaysTarget
	return w
}
